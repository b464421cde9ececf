package signal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-sentinel/internal/indicator"
	"market-sentinel/internal/market"
	"market-sentinel/internal/provider"
)

var (
	spy = market.Instrument{Symbol: "SPY", Class: market.ClassETF}
	btc = market.Instrument{Symbol: "BTC-USD", Class: market.ClassCrypto}
	now = time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
)

type stubProvider struct {
	name  string
	caps  map[provider.Capability]bool
	fetch func(ctx context.Context, req provider.Request) (provider.Result, error)
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Supports(_ market.Instrument, c provider.Capability) bool { return s.caps[c] }

func (s *stubProvider) Fetch(ctx context.Context, _ market.Instrument, req provider.Request) (provider.Result, error) {
	s.calls++
	return s.fetch(ctx, req)
}

type priorMap map[Key]Regime

func (p priorMap) PriorRegime(k Key) (Regime, bool) {
	r, ok := p[k]
	return r, ok
}

func seriesOf(t *testing.T, inst market.Instrument, step time.Duration, closes ...float64) market.Series {
	t.Helper()
	points := make([]market.Point, len(closes))
	start := now.Add(-step * time.Duration(len(closes)-1))
	for i, c := range closes {
		points[i] = market.Point{Time: start.Add(step * time.Duration(i)), Close: decimal.NewFromFloat(c)}
	}
	s, err := market.NewSeries(inst, points)
	if err != nil {
		t.Fatalf("build series: %v", err)
	}
	return s
}

func seriesSource(s market.Series) *stubProvider {
	return &stubProvider{
		name: "series",
		caps: map[provider.Capability]bool{provider.CapDailySeries: true, provider.CapHourlySeries: true},
		fetch: func(context.Context, provider.Request) (provider.Result, error) {
			return provider.Result{Provider: "series", Series: s}, nil
		},
	}
}

func newTestEvaluator(src provider.Provider, prior PriorLookup) *Evaluator {
	return NewEvaluator(src, prior, EvaluatorOptions{Now: func() time.Time { return now }}, zerolog.Nop())
}

func TestEvaluateSMARecoveryAfterBelow(t *testing.T) {
	closes := make([]float64, 201)
	for i := range closes[:200] {
		closes[i] = 100
	}
	closes[200] = 200
	router := provider.NewRouter(
		&stubProvider{name: "primary", caps: map[provider.Capability]bool{}},
		seriesSource(seriesOf(t, spy, 24*time.Hour, closes...)),
		provider.RouterOptions{CallTimeout: time.Second}, zerolog.Nop(),
	)

	key := NewKey("SPY", SMA200)
	ev, err := newTestEvaluator(router, priorMap{key: RegimeBelowSMA}).Evaluate(context.Background(), spy, SMA200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Level != LevelGreen || ev.Regime != RegimeAboveSMA || ev.Trigger != TriggerEdge {
		t.Fatalf("want GREEN/ABOVE_SMA/edge, got %s/%s/%s", ev.Level, ev.Regime, ev.Trigger)
	}
	if !strings.Contains(ev.Message, "recovery") {
		t.Fatalf("GREEN message must mention recovery: %q", ev.Message)
	}
	if !ev.Reading.Value.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("average = %s, want 100.5", ev.Reading.Value)
	}

	// same reading without a BELOW prior stays level-triggered INFO
	ev, err = newTestEvaluator(router, priorMap{key: RegimeAboveSMA}).Evaluate(context.Background(), spy, SMA200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Level != LevelInfo || ev.Regime != RegimeAboveSMA {
		t.Fatalf("want INFO/ABOVE_SMA while already above, got %s/%s", ev.Level, ev.Regime)
	}
}

func TestEvaluateSMAServerSideValue(t *testing.T) {
	src := &stubProvider{
		name: "polygon",
		caps: map[provider.Capability]bool{provider.CapSMA: true},
		fetch: func(context.Context, provider.Request) (provider.Result, error) {
			return provider.Result{Provider: "polygon", Value: &indicator.Value{
				Kind: indicator.KindSMA, Window: 200, Value: decimal.NewFromInt(500), Price: decimal.NewFromInt(500),
			}}, nil
		},
	}
	ev, err := newTestEvaluator(src, nil).Evaluate(context.Background(), spy, SMA200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Level != LevelCritical || ev.Regime != RegimeBelowSMA {
		t.Fatalf("price equal to average is BELOW and CRITICAL, got %s/%s", ev.Level, ev.Regime)
	}
	if ev.Key.String() != "SPY/SMA200" {
		t.Fatalf("key = %s", ev.Key)
	}
	if ev.Reading.Source != "polygon" || !ev.DetectedAt.Equal(now) {
		t.Fatalf("unexpected reading metadata %#v", ev)
	}
}

func TestEvaluatePrimaryTimeoutStillYieldsEvent(t *testing.T) {
	primary := &stubProvider{
		name: "primary",
		caps: map[provider.Capability]bool{provider.CapRSI: true},
		fetch: func(ctx context.Context, _ provider.Request) (provider.Result, error) {
			<-ctx.Done()
			return provider.Result{}, ctx.Err()
		},
	}
	rising := make([]float64, 15)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	router := provider.NewRouter(primary, seriesSource(seriesOf(t, spy, 24*time.Hour, rising...)),
		provider.RouterOptions{CallTimeout: 20 * time.Millisecond}, zerolog.Nop())

	ev, err := newTestEvaluator(router, nil).Evaluate(context.Background(), spy, RSI14)
	if err != nil {
		t.Fatalf("fallback must be transparent: %v", err)
	}
	if ev == nil || ev.Level != LevelWarning || ev.Regime != RegimeOverbought {
		t.Fatalf("all-gain RSI must be overbought WARNING, got %#v", ev)
	}
	if ev.Reading.Source != "series" {
		t.Fatalf("reading should come from the secondary, got %s", ev.Reading.Source)
	}
}

func TestEvaluateCrash(t *testing.T) {
	hourly := make([]float64, 25)
	for i := range hourly {
		hourly[i] = 100 - float64(i)*0.25
	}
	hourly[24] = 89
	// reference is exactly 24h before the last point
	hourly[0] = 100

	ev, err := newTestEvaluator(seriesSource(seriesOf(t, btc, time.Hour, hourly...)), nil).Evaluate(context.Background(), btc, Crash24H)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Level != LevelWarning || ev.Regime != RegimeCrash {
		t.Fatalf("want WARNING/CRASH, got %s/%s", ev.Level, ev.Regime)
	}
	if !ev.Reading.Value.Equal(decimal.NewFromInt(-11)) {
		t.Fatalf("change = %s, want -11", ev.Reading.Value)
	}
	if ev.Key.String() != "BTC-USD/CRASH24H" {
		t.Fatalf("key = %s", ev.Key)
	}
}

func TestEvaluateDrawdown(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	closes[10] = 110
	closes[29] = 99

	ev, err := newTestEvaluator(seriesSource(seriesOf(t, spy, 24*time.Hour, closes...)), nil).Evaluate(context.Background(), spy, HWM30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Level != LevelWarning || ev.Regime != RegimeDrawdown {
		t.Fatalf("a 10%% drawdown must warn, got %s/%s", ev.Level, ev.Regime)
	}
	if !ev.Reading.Reference.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("hwm = %s", ev.Reading.Reference)
	}
}

func TestEvaluateProviderFailure(t *testing.T) {
	down := func(name string) *stubProvider {
		return &stubProvider{
			name: name,
			caps: map[provider.Capability]bool{provider.CapSMA: true, provider.CapDailySeries: true},
			fetch: func(context.Context, provider.Request) (provider.Result, error) {
				return provider.Result{}, &provider.Error{Kind: provider.KindUnavailable, Provider: name, Err: errors.New("down")}
			},
		}
	}
	router := provider.NewRouter(down("a"), down("b"), provider.RouterOptions{CallTimeout: time.Second}, zerolog.Nop())

	ev, err := newTestEvaluator(router, nil).Evaluate(context.Background(), spy, SMA200)
	if ev != nil {
		t.Fatalf("no event expected, got %#v", ev)
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("want *EvaluationError, got %T %v", err, err)
	}
	if evalErr.Key != NewKey("SPY", SMA200) || evalErr.Insufficient() {
		t.Fatalf("unexpected evaluation error %#v", evalErr)
	}
	if provider.KindOf(err) != provider.KindUnavailable {
		t.Fatalf("provider kind should be reachable through the evaluation error")
	}
}

func TestEvaluateInsufficientHistory(t *testing.T) {
	ev, err := newTestEvaluator(seriesSource(seriesOf(t, spy, 24*time.Hour, 1, 2, 3)), nil).Evaluate(context.Background(), spy, HWM30)
	if ev != nil {
		t.Fatalf("no event expected, got %#v", ev)
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || !evalErr.Insufficient() {
		t.Fatalf("want insufficient evaluation error, got %v", err)
	}
}
