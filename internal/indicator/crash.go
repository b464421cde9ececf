package indicator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"market-sentinel/internal/market"
)

// Crash is the output of ShortWindowCrash.
type Crash struct {
	Price     decimal.Decimal
	Reference decimal.Decimal
	Window    time.Duration
	ChangePct decimal.Decimal
	Triggered bool
}

// ShortWindowCrash compares the latest close with the last close observed at or
// before window earlier. Triggered is set when the change is at or below
// -thresholdPct.
func ShortWindowCrash(series market.Series, window time.Duration, thresholdPct decimal.Decimal) (Crash, error) {
	if window <= 0 {
		return Crash{}, fmt.Errorf("crash window must be positive, got %s", window)
	}
	if series.Len() < 2 {
		return Crash{}, &InsufficientDataError{Indicator: KindPercentChange, Need: 2, Have: series.Len()}
	}

	last := series.Last()
	cutoff := last.Time.Add(-window)

	ref := -1
	for i := series.Len() - 2; i >= 0; i-- {
		if !series.Points[i].Time.After(cutoff) {
			ref = i
			break
		}
	}
	if ref < 0 {
		// nothing reaches back far enough
		return Crash{}, &InsufficientDataError{Indicator: KindPercentChange, Need: series.Len() + 1, Have: series.Len()}
	}

	reference := series.Points[ref].Close
	if !reference.IsPositive() {
		return Crash{}, fmt.Errorf("crash: non-positive reference price %s", reference)
	}

	change := last.Close.Sub(reference).Div(reference).Mul(hundred)
	return Crash{
		Price:     last.Close,
		Reference: reference,
		Window:    window,
		ChangePct: change,
		Triggered: change.LessThanOrEqual(thresholdPct.Neg()),
	}, nil
}
