// Package signal turns indicator readings into candidate alert events.
package signal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market-sentinel/internal/indicator"
)

// Level is the severity of a signal event.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
	LevelGreen    Level = "GREEN"
)

// ParseLevel normalises a configured level name.
func ParseLevel(v string) (Level, error) {
	switch l := Level(strings.ToUpper(strings.TrimSpace(v))); l {
	case LevelInfo, LevelWarning, LevelCritical, LevelGreen:
		return l, nil
	default:
		return "", fmt.Errorf("unknown level %q", v)
	}
}

// Regime is the qualitative state a signal is in.
type Regime string

const (
	RegimeBelowSMA   Regime = "BELOW_SMA"
	RegimeAboveSMA   Regime = "ABOVE_SMA"
	RegimeOverbought Regime = "OVERBOUGHT"
	RegimeOversold   Regime = "OVERSOLD"
	RegimeNeutral    Regime = "NEUTRAL"
	RegimeDrawdown   Regime = "DRAWDOWN"
	RegimeWithinStop Regime = "WITHIN_STOP"
	RegimeCrash      Regime = "CRASH"
	RegimeStable     Regime = "STABLE"
)

// Trigger says whether a rule fires on every matching evaluation or only on a
// regime transition.
type Trigger string

const (
	TriggerLevel Trigger = "level"
	TriggerEdge  Trigger = "edge"
)

// Indicator is a configured computation on an instrument. Window is the period
// count for SMA and RSI, the lookback in days for HWM and the window in hours
// for PCT_CHANGE.
type Indicator struct {
	Kind   indicator.Kind
	Window int
}

var (
	SMA200   = Indicator{Kind: indicator.KindSMA, Window: 200}
	RSI14    = Indicator{Kind: indicator.KindRSI, Window: 14}
	HWM30    = Indicator{Kind: indicator.KindHighWaterMark, Window: 30}
	Crash24H = Indicator{Kind: indicator.KindPercentChange, Window: 24}
)

// Name is the stable label used in signal keys, e.g. SMA200 or CRASH24H.
func (i Indicator) Name() string {
	switch i.Kind {
	case indicator.KindPercentChange:
		return fmt.Sprintf("CRASH%dH", i.Window)
	default:
		return fmt.Sprintf("%s%d", i.Kind, i.Window)
	}
}

func (i Indicator) String() string { return i.Name() }

// ParseIndicator reverses Name.
func ParseIndicator(name string) (Indicator, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	var kind indicator.Kind
	var digits string
	switch {
	case strings.HasPrefix(n, "CRASH") && strings.HasSuffix(n, "H"):
		kind, digits = indicator.KindPercentChange, strings.TrimSuffix(strings.TrimPrefix(n, "CRASH"), "H")
	case strings.HasPrefix(n, "SMA"):
		kind, digits = indicator.KindSMA, strings.TrimPrefix(n, "SMA")
	case strings.HasPrefix(n, "RSI"):
		kind, digits = indicator.KindRSI, strings.TrimPrefix(n, "RSI")
	case strings.HasPrefix(n, "HWM"):
		kind, digits = indicator.KindHighWaterMark, strings.TrimPrefix(n, "HWM")
	default:
		return Indicator{}, fmt.Errorf("unknown indicator %q", name)
	}
	window, err := strconv.Atoi(digits)
	if err != nil || window <= 0 {
		return Indicator{}, fmt.Errorf("indicator %q: window must be a positive integer", name)
	}
	return Indicator{Kind: kind, Window: window}, nil
}

// Key identifies a signal: one indicator on one instrument. It is the dedup unit.
type Key struct {
	Symbol    string
	Indicator string
}

// NewKey builds the key for an instrument symbol and indicator.
func NewKey(symbol string, ind Indicator) Key {
	return Key{Symbol: symbol, Indicator: ind.Name()}
}

func (k Key) String() string { return k.Symbol + "/" + k.Indicator }

// ParseKey reverses Key.String.
func ParseKey(v string) (Key, error) {
	symbol, ind, ok := strings.Cut(v, "/")
	if !ok || symbol == "" || ind == "" {
		return Key{}, fmt.Errorf("malformed signal key %q", v)
	}
	return Key{Symbol: symbol, Indicator: ind}, nil
}

// Thresholds parameterise the rule table.
type Thresholds struct {
	RSIOverbought decimal.Decimal
	RSIOversold   decimal.Decimal
	// DrawdownPct and CrashPct are positive percentages, 5 meaning 5%.
	DrawdownPct decimal.Decimal
	CrashPct    decimal.Decimal
}

// DefaultThresholds returns the stock rule thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIOverbought: decimal.NewFromInt(70),
		RSIOversold:   decimal.NewFromInt(30),
		DrawdownPct:   decimal.NewFromInt(5),
		CrashPct:      decimal.NewFromInt(10),
	}
}

// Reading is the normalised output of one indicator evaluation.
type Reading struct {
	Indicator Indicator
	Price     decimal.Decimal
	// Value is the SMA average, the RSI value, the drawdown percent or the
	// percent change, depending on the indicator.
	Value decimal.Decimal
	// Reference is the high-water mark or the reference close.
	Reference decimal.Decimal
	// Prior is the last persisted regime for the key, empty when unknown.
	Prior  Regime
	Source string
}

// Event is a candidate alert produced by the evaluator.
type Event struct {
	Key        Key
	Level      Level
	Regime     Regime
	Trigger    Trigger
	Message    string
	DetectedAt time.Time
	Reading    Reading
}
