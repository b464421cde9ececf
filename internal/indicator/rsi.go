package indicator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"market-sentinel/internal/market"
)

// RSI computes the Relative Strength Index with Wilder's smoothing. The first
// window deltas seed the averages with a simple mean; every later delta is
// folded in as avg = (avg*(window-1) + x) / window.
func RSI(series market.Series, window int) (decimal.Decimal, error) {
	if window <= 0 {
		return decimal.Zero, fmt.Errorf("rsi window must be positive, got %d", window)
	}
	if series.Len() < window+1 {
		return decimal.Zero, &InsufficientDataError{Indicator: KindRSI, Need: window + 1, Have: series.Len()}
	}

	p := decimal.NewFromInt(int64(window))
	pMinus := decimal.NewFromInt(int64(window - 1))

	var avgGain, avgLoss decimal.Decimal
	for i := 1; i < series.Len(); i++ {
		delta := series.Points[i].Close.Sub(series.Points[i-1].Close)
		gain, loss := decimal.Zero, decimal.Zero
		if delta.IsPositive() {
			gain = delta
		} else {
			loss = delta.Neg()
		}

		if i <= window {
			avgGain = avgGain.Add(gain)
			avgLoss = avgLoss.Add(loss)
			if i == window {
				avgGain = avgGain.Div(p)
				avgLoss = avgLoss.Div(p)
			}
			continue
		}

		avgGain = avgGain.Mul(pMinus).Add(gain).Div(p)
		avgLoss = avgLoss.Mul(pMinus).Add(loss).Div(p)
	}

	if avgLoss.IsZero() {
		if avgGain.IsZero() {
			// flat series
			return decimal.NewFromInt(50), nil
		}
		return hundred, nil
	}
	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(one.Add(rs))), nil
}
