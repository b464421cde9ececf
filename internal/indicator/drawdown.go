package indicator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"market-sentinel/internal/market"
)

// Drawdown is the distance of the latest close from its trailing high.
type Drawdown struct {
	Price         decimal.Decimal
	HighWaterMark decimal.Decimal
	LookbackDays  int
	// Fraction is (HighWaterMark - Price) / HighWaterMark, 0.05 meaning 5%.
	Fraction decimal.Decimal
}

// Percent returns the drawdown scaled to percent.
func (d Drawdown) Percent() decimal.Decimal { return d.Fraction.Mul(hundred) }

// TrailingDrawdown takes the maximum close over the trailing lookbackDays
// points of a daily series as the high-water mark.
func TrailingDrawdown(series market.Series, lookbackDays int) (Drawdown, error) {
	if lookbackDays <= 0 {
		return Drawdown{}, fmt.Errorf("drawdown lookback must be positive, got %d", lookbackDays)
	}
	if series.Len() < lookbackDays {
		return Drawdown{}, &InsufficientDataError{Indicator: KindHighWaterMark, Need: lookbackDays, Have: series.Len()}
	}

	window := series.Tail(lookbackDays)
	hwm := window[0].Close
	for _, p := range window[1:] {
		if p.Close.GreaterThan(hwm) {
			hwm = p.Close
		}
	}
	if !hwm.IsPositive() {
		return Drawdown{}, fmt.Errorf("drawdown: non-positive high-water mark %s", hwm)
	}

	price := series.Last().Close
	return Drawdown{
		Price:         price,
		HighWaterMark: hwm,
		LookbackDays:  lookbackDays,
		Fraction:      hwm.Sub(price).Div(hwm),
	}, nil
}
