package market

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass groups instruments that share a sampling cadence.
type AssetClass string

const (
	ClassEquity AssetClass = "equity"
	ClassETF    AssetClass = "etf"
	ClassCrypto AssetClass = "crypto"
)

// ParseAssetClass normalises a configured class name.
func ParseAssetClass(v string) (AssetClass, error) {
	switch c := AssetClass(strings.ToLower(strings.TrimSpace(v))); c {
	case ClassEquity, ClassETF, ClassCrypto:
		return c, nil
	default:
		return "", fmt.Errorf("unknown asset class %q", v)
	}
}

// Instrument identifies a sampled symbol.
type Instrument struct {
	Symbol string
	Class  AssetClass
}

// IsCrypto reports whether the instrument trades around the clock.
func (i Instrument) IsCrypto() bool { return i.Class == ClassCrypto }

func (i Instrument) String() string { return i.Symbol }

// Point is a single close observation.
type Point struct {
	Time  time.Time
	Close decimal.Decimal
}

// Series is an ascending, duplicate-free sequence of closes for one instrument.
type Series struct {
	Instrument Instrument
	Points     []Point
}

// NewSeries sorts points by time and rejects duplicate timestamps.
func NewSeries(inst Instrument, points []Point) (Series, error) {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Time.Equal(sorted[i-1].Time) {
			return Series{}, fmt.Errorf("series %s: duplicate timestamp %s", inst.Symbol, sorted[i].Time.UTC().Format(time.RFC3339))
		}
	}
	return Series{Instrument: inst, Points: sorted}, nil
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.Points) }

// Last returns the most recent point. The series must be non-empty.
func (s Series) Last() Point { return s.Points[len(s.Points)-1] }

// Tail returns the trailing n points (or all of them when n exceeds the length).
func (s Series) Tail(n int) []Point {
	if n >= len(s.Points) {
		return s.Points
	}
	return s.Points[len(s.Points)-n:]
}
