// Package indicator implements the pure technical indicators behind every
// signal: moving-average regime, RSI, trailing drawdown and the short-window
// crash detector. Functions never perform I/O and never shorten a window to
// fit the data they are given.
package indicator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind tags an indicator value.
type Kind string

const (
	KindSMA           Kind = "SMA"
	KindRSI           Kind = "RSI"
	KindHighWaterMark Kind = "HWM"
	KindPercentChange Kind = "PCT_CHANGE"
)

// Value is a self-describing indicator reading, either computed locally or
// returned by a provider that computes indicators server-side.
//
// Window is the period count for SMA/RSI, the lookback in days for HWM and the
// window in hours for PCT_CHANGE. Price is the instrument's current price when
// the source reported it alongside the value.
type Value struct {
	Kind   Kind
	Value  decimal.Decimal
	Window int
	Price  decimal.Decimal
}

// ErrInsufficientData is matched by every InsufficientDataError.
var ErrInsufficientData = errors.New("insufficient data")

// InsufficientDataError reports a series too short for the requested window.
type InsufficientDataError struct {
	Indicator Kind
	Need      int
	Have      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: need %d points, have %d", e.Indicator, e.Need, e.Have)
}

// Is lets errors.Is(err, ErrInsufficientData) match.
func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)
