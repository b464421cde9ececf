package signal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"market-sentinel/internal/indicator"
)

// Rule maps a condition on a reading to a level and regime label.
type Rule struct {
	Kind    indicator.Kind
	Level   Level
	Regime  Regime
	Trigger Trigger
	Match   func(r Reading, t Thresholds) bool
	Message func(symbol string, r Reading, t Thresholds) string
}

// Rules is evaluated top to bottom per indicator kind; the first match wins.
var Rules = []Rule{
	{
		Kind: indicator.KindSMA, Level: LevelCritical, Regime: RegimeBelowSMA, Trigger: TriggerLevel,
		Match: func(r Reading, _ Thresholds) bool { return !r.Price.GreaterThan(r.Value) },
		Message: func(s string, r Reading, _ Thresholds) string {
			return fmt.Sprintf("%s at %s is at or below its %d-day average %s (%s%%)",
				s, r.Price.StringFixed(2), r.Indicator.Window, r.Value.StringFixed(2), signedPct(r.Price, r.Value))
		},
	},
	{
		Kind: indicator.KindSMA, Level: LevelGreen, Regime: RegimeAboveSMA, Trigger: TriggerEdge,
		Match: func(r Reading, _ Thresholds) bool { return r.Price.GreaterThan(r.Value) && r.Prior == RegimeBelowSMA },
		Message: func(s string, r Reading, _ Thresholds) string {
			return fmt.Sprintf("%s recovery: price %s crossed back above its %d-day average %s (%s%%)",
				s, r.Price.StringFixed(2), r.Indicator.Window, r.Value.StringFixed(2), signedPct(r.Price, r.Value))
		},
	},
	{
		Kind: indicator.KindSMA, Level: LevelInfo, Regime: RegimeAboveSMA, Trigger: TriggerLevel,
		Match: func(r Reading, _ Thresholds) bool { return r.Price.GreaterThan(r.Value) },
		Message: func(s string, r Reading, _ Thresholds) string {
			return fmt.Sprintf("%s at %s holds above its %d-day average %s (%s%%)",
				s, r.Price.StringFixed(2), r.Indicator.Window, r.Value.StringFixed(2), signedPct(r.Price, r.Value))
		},
	},
	{
		Kind: indicator.KindRSI, Level: LevelWarning, Regime: RegimeOverbought, Trigger: TriggerLevel,
		Match: func(r Reading, t Thresholds) bool { return r.Value.GreaterThan(t.RSIOverbought) },
		Message: func(s string, r Reading, t Thresholds) string {
			return fmt.Sprintf("%s RSI(%d) %s is overbought (above %s)", s, r.Indicator.Window, r.Value.StringFixed(1), t.RSIOverbought)
		},
	},
	{
		Kind: indicator.KindRSI, Level: LevelGreen, Regime: RegimeOversold, Trigger: TriggerLevel,
		Match: func(r Reading, t Thresholds) bool { return r.Value.LessThan(t.RSIOversold) },
		Message: func(s string, r Reading, t Thresholds) string {
			return fmt.Sprintf("%s RSI(%d) %s is oversold (below %s), possible entry", s, r.Indicator.Window, r.Value.StringFixed(1), t.RSIOversold)
		},
	},
	{
		Kind: indicator.KindRSI, Level: LevelInfo, Regime: RegimeNeutral, Trigger: TriggerLevel,
		Match: func(Reading, Thresholds) bool { return true },
		Message: func(s string, r Reading, _ Thresholds) string {
			return fmt.Sprintf("%s RSI(%d) %s is neutral", s, r.Indicator.Window, r.Value.StringFixed(1))
		},
	},
	{
		Kind: indicator.KindHighWaterMark, Level: LevelWarning, Regime: RegimeDrawdown, Trigger: TriggerLevel,
		Match: func(r Reading, t Thresholds) bool { return r.Value.GreaterThan(t.DrawdownPct) },
		Message: func(s string, r Reading, t Thresholds) string {
			return fmt.Sprintf("%s at %s is %s%% below its %d-day high %s, past the %s%% trailing stop",
				s, r.Price.StringFixed(2), r.Value.StringFixed(2), r.Indicator.Window, r.Reference.StringFixed(2), t.DrawdownPct)
		},
	},
	{
		Kind: indicator.KindHighWaterMark, Level: LevelInfo, Regime: RegimeWithinStop, Trigger: TriggerLevel,
		Match: func(Reading, Thresholds) bool { return true },
		Message: func(s string, r Reading, _ Thresholds) string {
			return fmt.Sprintf("%s is %s%% off its %d-day high %s", s, r.Value.StringFixed(2), r.Indicator.Window, r.Reference.StringFixed(2))
		},
	},
	{
		Kind: indicator.KindPercentChange, Level: LevelWarning, Regime: RegimeCrash, Trigger: TriggerLevel,
		Match: func(r Reading, t Thresholds) bool { return !r.Value.GreaterThan(t.CrashPct.Neg()) },
		Message: func(s string, r Reading, _ Thresholds) string {
			return fmt.Sprintf("%s fell %s%% in %dh (%s -> %s)",
				s, r.Value.Abs().StringFixed(2), r.Indicator.Window, r.Reference.StringFixed(2), r.Price.StringFixed(2))
		},
	},
	{
		Kind: indicator.KindPercentChange, Level: LevelInfo, Regime: RegimeStable, Trigger: TriggerLevel,
		Match: func(Reading, Thresholds) bool { return true },
		Message: func(s string, r Reading, _ Thresholds) string {
			return fmt.Sprintf("%s moved %s%% in %dh", s, r.Value.StringFixed(2), r.Indicator.Window)
		},
	},
}

// Match returns the first rule in table matching the reading.
func Match(table []Rule, r Reading, t Thresholds) (Rule, bool) {
	for _, rule := range table {
		if rule.Kind == r.Indicator.Kind && rule.Match(r, t) {
			return rule, true
		}
	}
	return Rule{}, false
}

func signedPct(price, ref decimal.Decimal) string {
	if ref.IsZero() {
		return "0.00"
	}
	pct := price.Sub(ref).Div(ref).Mul(decimal.NewFromInt(100))
	if pct.IsPositive() {
		return "+" + pct.StringFixed(2)
	}
	return pct.StringFixed(2)
}
