package indicator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"market-sentinel/internal/market"
)

// Regime is the side of the moving average the price sits on.
type Regime string

const (
	RegimeAbove Regime = "ABOVE"
	RegimeBelow Regime = "BELOW"
)

// ClassifyRegime returns RegimeAbove only when price is strictly greater than
// average. A price equal to the average counts as RegimeBelow.
func ClassifyRegime(price, average decimal.Decimal) Regime {
	if price.GreaterThan(average) {
		return RegimeAbove
	}
	return RegimeBelow
}

// MARegime is the output of MovingAverageRegime.
type MARegime struct {
	Price   decimal.Decimal
	Average decimal.Decimal
	Window  int
	Regime  Regime
}

// MovingAverageRegime averages the trailing window closes (the latest close
// included) and classifies the latest close against that average.
func MovingAverageRegime(series market.Series, window int) (MARegime, error) {
	if window <= 0 {
		return MARegime{}, fmt.Errorf("sma window must be positive, got %d", window)
	}
	if series.Len() < window {
		return MARegime{}, &InsufficientDataError{Indicator: KindSMA, Need: window, Have: series.Len()}
	}

	sum := decimal.Zero
	for _, p := range series.Tail(window) {
		sum = sum.Add(p.Close)
	}
	average := sum.Div(decimal.NewFromInt(int64(window)))
	price := series.Last().Close

	return MARegime{
		Price:   price,
		Average: average,
		Window:  window,
		Regime:  ClassifyRegime(price, average),
	}, nil
}
