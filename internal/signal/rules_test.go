package signal

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRuleTable(t *testing.T) {
	th := DefaultThresholds()
	d := decimal.NewFromFloat

	cases := []struct {
		name    string
		reading Reading
		level   Level
		regime  Regime
	}{
		{"sma below", Reading{Indicator: SMA200, Price: d(90), Value: d(100)}, LevelCritical, RegimeBelowSMA},
		{"sma equal", Reading{Indicator: SMA200, Price: d(100), Value: d(100)}, LevelCritical, RegimeBelowSMA},
		{"sma cross up", Reading{Indicator: SMA200, Price: d(101), Value: d(100), Prior: RegimeBelowSMA}, LevelGreen, RegimeAboveSMA},
		{"sma stays above", Reading{Indicator: SMA200, Price: d(101), Value: d(100), Prior: RegimeAboveSMA}, LevelInfo, RegimeAboveSMA},
		{"sma above cold", Reading{Indicator: SMA200, Price: d(101), Value: d(100)}, LevelInfo, RegimeAboveSMA},
		{"rsi overbought", Reading{Indicator: RSI14, Value: d(70.5)}, LevelWarning, RegimeOverbought},
		{"rsi at 70", Reading{Indicator: RSI14, Value: d(70)}, LevelInfo, RegimeNeutral},
		{"rsi oversold", Reading{Indicator: RSI14, Value: d(29.9)}, LevelGreen, RegimeOversold},
		{"drawdown", Reading{Indicator: HWM30, Value: d(5.01)}, LevelWarning, RegimeDrawdown},
		{"within stop", Reading{Indicator: HWM30, Value: d(5)}, LevelInfo, RegimeWithinStop},
		{"crash", Reading{Indicator: Crash24H, Value: d(-10)}, LevelWarning, RegimeCrash},
		{"dip", Reading{Indicator: Crash24H, Value: d(-9.99)}, LevelInfo, RegimeStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule, ok := Match(Rules, tc.reading, th)
			if !ok {
				t.Fatal("no rule matched")
			}
			if rule.Level != tc.level || rule.Regime != tc.regime {
				t.Fatalf("got %s/%s, want %s/%s", rule.Level, rule.Regime, tc.level, tc.regime)
			}
			if msg := rule.Message("SPY", tc.reading, th); msg == "" {
				t.Fatal("empty message")
			}
		})
	}
}

func TestOnlySMARecoveryIsEdgeTriggered(t *testing.T) {
	for _, rule := range Rules {
		edge := rule.Trigger == TriggerEdge
		if edge != (rule.Level == LevelGreen && rule.Regime == RegimeAboveSMA) {
			t.Fatalf("unexpected trigger %s on %s/%s", rule.Trigger, rule.Level, rule.Regime)
		}
	}
}

func TestParseIndicator(t *testing.T) {
	for _, ind := range []Indicator{SMA200, RSI14, HWM30, Crash24H} {
		got, err := ParseIndicator(ind.Name())
		if err != nil {
			t.Fatalf("%s: %v", ind.Name(), err)
		}
		if got != ind {
			t.Fatalf("round trip of %s gave %#v", ind.Name(), got)
		}
	}
	if Crash24H.Name() != "CRASH24H" {
		t.Fatalf("crash name = %s", Crash24H.Name())
	}
	for _, bad := range []string{"", "EMA20", "SMA", "SMA-5", "CRASHXH"} {
		if _, err := ParseIndicator(bad); err == nil {
			t.Fatalf("%q should not parse", bad)
		}
	}
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("BTC-USD/CRASH24H")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.Symbol != "BTC-USD" || k.Indicator != "CRASH24H" {
		t.Fatalf("parsed %#v", k)
	}
	if _, err := ParseKey("SPY"); err == nil {
		t.Fatal("key without indicator should fail")
	}
}
