package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"market-sentinel/internal/indicator"
	"market-sentinel/internal/market"
)

// Capability names a kind of data a provider can serve.
type Capability string

const (
	CapDailySeries  Capability = "daily_series"
	CapHourlySeries Capability = "hourly_series"
	CapSMA          Capability = "sma"
	CapRSI          Capability = "rsi"
	CapQuote        Capability = "quote"
)

// IsSeries reports whether the capability yields a price series.
func (c Capability) IsSeries() bool { return c == CapDailySeries || c == CapHourlySeries }

// Request describes what the caller needs from a provider.
type Request struct {
	Capability Capability
	// Window is the indicator period for CapSMA and CapRSI.
	Window int
	// Points is how many trailing points a series request asks for.
	Points int
	// Min is the shortest acceptable series; Points is used when zero.
	Min int
	// Indicator names what a series request feeds, for error reporting.
	Indicator indicator.Kind
}

// MinPoints is the shortest series that can satisfy the request.
func (r Request) MinPoints() int {
	if r.Min > 0 {
		return r.Min
	}
	return r.Points
}

// AsSeries translates an indicator request into the daily series a provider
// without server-side indicators needs to compute it locally.
func (r Request) AsSeries() Request {
	switch r.Capability {
	case CapSMA:
		return Request{Capability: CapDailySeries, Window: r.Window, Points: r.Window, Min: r.Window, Indicator: indicator.KindSMA}
	case CapRSI:
		// Wilder smoothing converges with history; window+1 is only the floor.
		return Request{Capability: CapDailySeries, Window: r.Window, Points: r.Window * 5, Min: r.Window + 1, Indicator: indicator.KindRSI}
	default:
		return r
	}
}

// Result carries either a series, a provider-computed indicator value or a quote.
type Result struct {
	Provider string
	Series   market.Series
	Value    *indicator.Value
	Quote    decimal.Decimal
	AsOf     time.Time
}

// Provider fetches market data for one instrument from one upstream.
type Provider interface {
	Name() string
	Supports(inst market.Instrument, capability Capability) bool
	Fetch(ctx context.Context, inst market.Instrument, req Request) (Result, error)
}

// Observer receives call outcomes, typically a metrics recorder. kind is empty
// for a successful call.
type Observer interface {
	ProviderCall(provider string, kind Kind, elapsed time.Duration)
	Fallback(primary, secondary string)
}
