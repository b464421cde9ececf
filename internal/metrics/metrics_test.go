package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"market-sentinel/internal/alerting"
	"market-sentinel/internal/provider"
	"market-sentinel/internal/signal"
)

func TestRecorderCounts(t *testing.T) {
	r := New("test")

	r.ProviderCall("polygon", "", 20*time.Millisecond)
	r.ProviderCall("polygon", provider.KindTimeout, time.Second)
	r.Fallback("polygon", "yahoo")
	r.Dispatched(signal.Event{Level: signal.LevelCritical}, alerting.OutcomeEmitted)
	r.Dispatched(signal.Event{Level: signal.LevelCritical}, alerting.OutcomeSuppressed)
	r.Dispatched(signal.Event{Level: signal.LevelCritical}, alerting.OutcomeSuppressed)

	if got := testutil.ToFloat64(r.providerCalls.WithLabelValues("polygon", "timeout")); got != 1 {
		t.Fatalf("timeout calls = %v", got)
	}
	if got := testutil.ToFloat64(r.providerCalls.WithLabelValues("polygon", "ok")); got != 1 {
		t.Fatalf("ok calls = %v", got)
	}
	if got := testutil.ToFloat64(r.dispatches.WithLabelValues("CRITICAL", "suppressed")); got != 2 {
		t.Fatalf("suppressed = %v", got)
	}
	if got := testutil.ToFloat64(r.fallbacks.WithLabelValues("polygon", "yahoo")); got != 1 {
		t.Fatalf("fallbacks = %v", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	r := New("sentinel")
	r.SetStateRecords(4)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "sentinel_state_records 4") {
		t.Fatalf("gauge missing from exposition:\n%s", body)
	}
}
