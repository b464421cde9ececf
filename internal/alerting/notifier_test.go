package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"market-sentinel/internal/signal"
)

func sampleNote() Notification {
	return Notification{
		Key:        signal.Key{Symbol: "SPY", Indicator: "SMA200"},
		Level:      signal.LevelCritical,
		Regime:     signal.RegimeBelowSMA,
		Title:      "CRITICAL SPY/SMA200",
		Message:    "SPY closed 498.10 <= SMA200 505.00",
		Price:      decimal.RequireFromString("498.10"),
		Value:      decimal.RequireFromString("505"),
		DetectedAt: time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" || received["parse_mode"] != "HTML" {
		t.Fatalf("payload 不正确: %#v", received)
	}
	text, _ := received["text"].(string)
	if !strings.HasPrefix(text, "🚨 <b>CRITICAL SPY/SMA200</b>") {
		t.Fatalf("unexpected header: %q", text)
	}
	if !strings.Contains(text, "&lt;= SMA200") {
		t.Fatalf("message must be HTML escaped: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), sampleNote())
	if err == nil {
		t.Fatal("ok=false 应报错")
	}
	var ne *NotificationError
	if !errors.As(err, &ne) || ne.Channel != "telegram" {
		t.Fatalf("expected telegram NotificationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("description should surface: %v", err)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaNotifierPublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{writer: w, topic: "alerts", logger: testLogger()}

	if err := n.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "SPY/SMA200" {
		t.Fatalf("message key = %q", w.msgs[0].Key)
	}
	var body alertMessage
	if err := json.Unmarshal(w.msgs[0].Value, &body); err != nil {
		t.Fatalf("value is not json: %v", err)
	}
	if body.Level != "CRITICAL" || body.Price != "498.1" || body.Indicator != "SMA200" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestKafkaNotifierRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaNotifier(KafkaOptions{Topic: "alerts"}, testLogger()); err == nil {
		t.Fatal("missing brokers should fail")
	}
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, Notification) error {
	c.calls++
	return c.err
}

func TestMultiNotifierContinuesAfterFailure(t *testing.T) {
	broken := &countingNotifier{err: &NotificationError{Channel: "kafka", Err: errors.New("broker down")}}
	ok := &countingNotifier{}
	m := NewMultiNotifier(broken, nil, ok)

	err := m.Notify(context.Background(), sampleNote())
	if err == nil {
		t.Fatal("failure should be reported")
	}
	if broken.calls != 1 || ok.calls != 1 || m.Len() != 2 {
		t.Fatalf("every channel must be tried: %d %d len=%d", broken.calls, ok.calls, m.Len())
	}
	var ne *NotificationError
	if !errors.As(err, &ne) || ne.Channel != "kafka" {
		t.Fatalf("channel error lost: %v", err)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
