package indicator

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"market-sentinel/internal/market"
)

var day0 = time.Date(2025, 1, 2, 21, 0, 0, 0, time.UTC)

func dailySeries(t *testing.T, closes ...float64) market.Series {
	t.Helper()
	points := make([]market.Point, len(closes))
	for i, c := range closes {
		points[i] = market.Point{Time: day0.AddDate(0, 0, i), Close: decimal.NewFromFloat(c)}
	}
	s, err := market.NewSeries(market.Instrument{Symbol: "SPY", Class: market.ClassETF}, points)
	if err != nil {
		t.Fatalf("build series: %v", err)
	}
	return s
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestMovingAverageRegime(t *testing.T) {
	cases := []struct {
		name   string
		closes []float64
		window int
		want   Regime
	}{
		{"above", append(flat(4, 10), 20), 5, RegimeAbove},
		{"below", append(flat(4, 10), 5), 5, RegimeBelow},
		{"equal is below", flat(5, 10), 5, RegimeBelow},
		{"only trailing window counts", append(append(flat(10, 1000), flat(4, 10)...), 11), 5, RegimeAbove},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MovingAverageRegime(dailySeries(t, tc.closes...), tc.window)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Regime != tc.want {
				t.Fatalf("regime = %s, want %s (price %s avg %s)", got.Regime, tc.want, got.Price, got.Average)
			}
		})
	}
}

func TestMovingAverageRegimeEqualityBoundary(t *testing.T) {
	// (10+20+30)/3 == 20 exactly
	got, err := MovingAverageRegime(dailySeries(t, 10, 30, 20), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Average.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("average = %s, want 20", got.Average)
	}
	if got.Regime != RegimeBelow {
		t.Fatalf("price equal to average must be BELOW, got %s", got.Regime)
	}
	if ClassifyRegime(decimal.NewFromInt(5), decimal.NewFromInt(5)) != RegimeBelow {
		t.Fatal("ClassifyRegime equality must be BELOW")
	}
}

func TestMovingAverageRegimeRecoveryScenario(t *testing.T) {
	closes := append(flat(200, 100), 0)
	// 201st close is twice the average of the 200 closes before it
	closes[200] = 200
	got, err := MovingAverageRegime(dailySeries(t, closes...), 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Regime != RegimeAbove {
		t.Fatalf("regime = %s, want ABOVE", got.Regime)
	}
	if !got.Average.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("average = %s, want 100.5", got.Average)
	}
}

func TestMovingAverageRegimeInsufficient(t *testing.T) {
	_, err := MovingAverageRegime(dailySeries(t, flat(199, 1)...), 200)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("want ErrInsufficientData, got %v", err)
	}
	var ide *InsufficientDataError
	if !errors.As(err, &ide) || ide.Need != 200 || ide.Have != 199 {
		t.Fatalf("unexpected error detail: %#v", err)
	}
}

func TestRSI(t *testing.T) {
	rising := make([]float64, 20)
	falling := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(100 + i)
		falling[i] = float64(100 - i)
	}
	alternating := make([]float64, 15)
	for i := range alternating {
		alternating[i] = 10 + float64(i%2)
	}

	cases := []struct {
		name   string
		closes []float64
		want   decimal.Decimal
	}{
		{"all gains", rising, decimal.NewFromInt(100)},
		{"all losses", falling, decimal.Zero},
		{"balanced", alternating, decimal.NewFromInt(50)},
		{"flat", flat(15, 10), decimal.NewFromInt(50)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RSI(dailySeries(t, tc.closes...), 14)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Round(6).Equal(tc.want) {
				t.Fatalf("rsi = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRSIBounded(t *testing.T) {
	closes := []float64{44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28, 46.00, 46.03, 46.41, 46.22, 45.64}
	got, err := RSI(dailySeries(t, closes...), 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.LessThan(decimal.Zero) || got.GreaterThan(decimal.NewFromInt(100)) {
		t.Fatalf("rsi out of range: %s", got)
	}
	if got.LessThan(decimal.NewFromInt(50)) || got.GreaterThan(decimal.NewFromInt(80)) {
		t.Fatalf("rsi = %s, expected a mildly bullish reading", got)
	}
}

func TestRSIInsufficient(t *testing.T) {
	if _, err := RSI(dailySeries(t, flat(14, 1)...), 14); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("14 points for RSI(14) must fail, got %v", err)
	}
	if _, err := RSI(dailySeries(t, flat(15, 1)...), 14); err != nil {
		t.Fatalf("15 points for RSI(14) must succeed, got %v", err)
	}
}

func TestTrailingDrawdown(t *testing.T) {
	closes := append([]float64{500}, flat(28, 100)...)
	closes = append(closes, 110, 99)
	got, err := TrailingDrawdown(dailySeries(t, closes...), 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.HighWaterMark.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("hwm = %s, want 110 (500 is outside the lookback)", got.HighWaterMark)
	}
	if !got.Fraction.Equal(decimal.NewFromFloat(0.1)) {
		t.Fatalf("fraction = %s, want 0.1", got.Fraction)
	}
	if !got.Percent().Equal(decimal.NewFromInt(10)) {
		t.Fatalf("percent = %s, want 10", got.Percent())
	}
}

func TestTrailingDrawdownInsufficient(t *testing.T) {
	if _, err := TrailingDrawdown(dailySeries(t, flat(29, 1)...), 30); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("want ErrInsufficientData, got %v", err)
	}
}

func hourly(t *testing.T, now time.Time, points map[time.Duration]float64) market.Series {
	t.Helper()
	out := make([]market.Point, 0, len(points))
	for ago, c := range points {
		out = append(out, market.Point{Time: now.Add(-ago), Close: decimal.NewFromFloat(c)})
	}
	s, err := market.NewSeries(market.Instrument{Symbol: "BTC-USD", Class: market.ClassCrypto}, out)
	if err != nil {
		t.Fatalf("build series: %v", err)
	}
	return s
}

func TestShortWindowCrash(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	threshold := decimal.NewFromInt(10)

	s := hourly(t, now, map[time.Duration]float64{
		30 * time.Hour: 120,
		24 * time.Hour: 100,
		12 * time.Hour: 95,
		0:              89,
	})
	got, err := ShortWindowCrash(s, 24*time.Hour, threshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Reference.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("reference = %s, want 100", got.Reference)
	}
	if !got.ChangePct.Equal(decimal.NewFromInt(-11)) {
		t.Fatalf("change = %s, want -11", got.ChangePct)
	}
	if !got.Triggered {
		t.Fatal("an 11% drop must trigger a 10% threshold")
	}

	calm := hourly(t, now, map[time.Duration]float64{24 * time.Hour: 100, 0: 95})
	got, err = ShortWindowCrash(calm, 24*time.Hour, threshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Triggered {
		t.Fatalf("a 5%% drop must not trigger, change %s", got.ChangePct)
	}

	exact := hourly(t, now, map[time.Duration]float64{24 * time.Hour: 100, 0: 90})
	got, _ = ShortWindowCrash(exact, 24*time.Hour, threshold)
	if !got.Triggered {
		t.Fatal("a drop equal to the threshold must trigger")
	}
}

func TestShortWindowCrashInsufficientHistory(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := hourly(t, now, map[time.Duration]float64{6 * time.Hour: 100, 0: 80})
	if _, err := ShortWindowCrash(s, 24*time.Hour, decimal.NewFromInt(10)); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("series spanning 6h cannot answer a 24h window, got %v", err)
	}
}
