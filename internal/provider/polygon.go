package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-sentinel/internal/indicator"
	"market-sentinel/internal/market"
)

const polygonName = "polygon"

// PolygonOptions parameterise the Polygon.io client.
type PolygonOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
	// Now is overridable for tests.
	Now func() time.Time
}

// Polygon serves series, server-side SMA/RSI and quotes from Polygon.io.
type Polygon struct {
	opts    PolygonOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPolygon constructs the primary provider.
func NewPolygon(opts PolygonOptions, logger zerolog.Logger) *Polygon {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.polygon.io"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Polygon{
		opts:    opts,
		logger:  logger.With().Str("component", "polygon_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (p *Polygon) Name() string { return polygonName }

// Supports reports every capability once an API key is configured.
func (p *Polygon) Supports(_ market.Instrument, capability Capability) bool {
	if strings.TrimSpace(p.opts.APIKey) == "" {
		return false
	}
	switch capability {
	case CapDailySeries, CapHourlySeries, CapSMA, CapRSI, CapQuote:
		return true
	default:
		return false
	}
}

// Fetch dispatches the request to the matching Polygon endpoint.
func (p *Polygon) Fetch(ctx context.Context, inst market.Instrument, req Request) (Result, error) {
	if !p.Supports(inst, req.Capability) {
		return Result{}, newError(polygonName, KindNotSupported, "capability %s unavailable (api key configured: %t)", req.Capability, p.opts.APIKey != "")
	}

	switch req.Capability {
	case CapDailySeries:
		return p.fetchSeries(ctx, inst, "day", req.Points)
	case CapHourlySeries:
		return p.fetchSeries(ctx, inst, "hour", req.Points)
	case CapSMA:
		return p.fetchIndicator(ctx, inst, indicator.KindSMA, "sma", req.Window)
	case CapRSI:
		return p.fetchIndicator(ctx, inst, indicator.KindRSI, "rsi", req.Window)
	case CapQuote:
		price, err := p.latestPrice(ctx, inst)
		if err != nil {
			return Result{}, err
		}
		return Result{Provider: polygonName, Quote: price, AsOf: p.opts.Now().UTC()}, nil
	default:
		return Result{}, newError(polygonName, KindNotSupported, "capability %s", req.Capability)
	}
}

type polygonBar struct {
	T int64           `json:"t"`
	C decimal.Decimal `json:"c"`
}

type polygonAggsResponse struct {
	Status       string       `json:"status"`
	ResultsCount int          `json:"resultsCount"`
	Results      []polygonBar `json:"results"`
}

func (p *Polygon) fetchSeries(ctx context.Context, inst market.Instrument, timespan string, points int) (Result, error) {
	now := p.opts.Now().UTC()
	capability := CapDailySeries
	if timespan == "hour" {
		capability = CapHourlySeries
	}
	from := now.Add(-calendarSpan(inst, capability, points))

	endpoint := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/%s/%d/%d",
		url.PathEscape(polygonTicker(inst)), timespan, from.UnixMilli(), now.UnixMilli())
	params := url.Values{}
	params.Set("adjusted", "true")
	params.Set("sort", "asc")
	params.Set("limit", "50000")

	var payload polygonAggsResponse
	if err := p.getJSON(ctx, endpoint, params, &payload); err != nil {
		return Result{}, err
	}

	bars := make([]market.Point, 0, len(payload.Results))
	for _, bar := range payload.Results {
		bars = append(bars, market.Point{Time: time.UnixMilli(bar.T).UTC(), Close: bar.C})
	}
	series, err := market.NewSeries(inst, bars)
	if err != nil {
		return Result{}, newError(polygonName, KindUnavailable, "decode aggregates: %v", err)
	}

	p.logger.Debug().Str("symbol", inst.Symbol).Str("timespan", timespan).Int("points", series.Len()).Msg("aggregates fetched")
	return Result{Provider: polygonName, Series: series, AsOf: now}, nil
}

type polygonIndicatorResponse struct {
	Status  string `json:"status"`
	Results struct {
		Values []struct {
			Timestamp int64           `json:"timestamp"`
			Value     decimal.Decimal `json:"value"`
		} `json:"values"`
	} `json:"results"`
}

func (p *Polygon) fetchIndicator(ctx context.Context, inst market.Instrument, kind indicator.Kind, path string, window int) (Result, error) {
	if window <= 0 {
		return Result{}, newError(polygonName, KindNotSupported, "%s window must be positive", path)
	}

	params := url.Values{}
	params.Set("timespan", "day")
	params.Set("window", strconv.Itoa(window))
	params.Set("series_type", "close")
	params.Set("order", "desc")
	params.Set("limit", "1")

	var payload polygonIndicatorResponse
	endpoint := fmt.Sprintf("/v1/indicators/%s/%s", path, url.PathEscape(polygonTicker(inst)))
	if err := p.getJSON(ctx, endpoint, params, &payload); err != nil {
		return Result{}, err
	}
	if len(payload.Results.Values) == 0 {
		return Result{}, newError(polygonName, KindInsufficientData, "no %s values for %s (window %d)", path, inst.Symbol, window)
	}

	latest := payload.Results.Values[0]
	value := &indicator.Value{Kind: kind, Value: latest.Value, Window: window}

	// an SMA alone cannot be classified without the price it is compared to
	if kind == indicator.KindSMA {
		price, err := p.latestPrice(ctx, inst)
		if err != nil {
			return Result{}, err
		}
		value.Price = price
	}

	p.logger.Debug().Str("symbol", inst.Symbol).Str("indicator", string(kind)).Int("window", window).
		Str("value", latest.Value.String()).Msg("server-side indicator fetched")
	return Result{Provider: polygonName, Value: value, AsOf: time.UnixMilli(latest.Timestamp).UTC()}, nil
}

type polygonSnapshotResponse struct {
	Ticker struct {
		LastTrade struct {
			P decimal.Decimal `json:"p"`
		} `json:"lastTrade"`
		Day struct {
			C decimal.Decimal `json:"c"`
		} `json:"day"`
		PrevDay struct {
			C decimal.Decimal `json:"c"`
		} `json:"prevDay"`
	} `json:"ticker"`
}

// latestPrice prefers the real-time snapshot and falls back to the previous close.
func (p *Polygon) latestPrice(ctx context.Context, inst market.Instrument) (decimal.Decimal, error) {
	locale := "locale/us/markets/stocks"
	if inst.IsCrypto() {
		locale = "locale/global/markets/crypto"
	}

	var snap polygonSnapshotResponse
	endpoint := fmt.Sprintf("/v2/snapshot/%s/tickers/%s", locale, url.PathEscape(polygonTicker(inst)))
	if err := p.getJSON(ctx, endpoint, nil, &snap); err == nil {
		for _, candidate := range []decimal.Decimal{snap.Ticker.LastTrade.P, snap.Ticker.Day.C, snap.Ticker.PrevDay.C} {
			if candidate.IsPositive() {
				return candidate, nil
			}
		}
	} else {
		p.logger.Debug().Err(err).Str("symbol", inst.Symbol).Msg("snapshot unavailable, using previous close")
	}

	var prev polygonAggsResponse
	endpoint = fmt.Sprintf("/v2/aggs/ticker/%s/prev", url.PathEscape(polygonTicker(inst)))
	if err := p.getJSON(ctx, endpoint, url.Values{"adjusted": []string{"true"}}, &prev); err != nil {
		return decimal.Decimal{}, err
	}
	if len(prev.Results) == 0 || !prev.Results[0].C.IsPositive() {
		return decimal.Decimal{}, newError(polygonName, KindUnavailable, "no previous close for %s", inst.Symbol)
	}
	return prev.Results[0].C, nil
}

func (p *Polygon) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apiKey", p.opts.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return newError(polygonName, KindUnavailable, "create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return classify(polygonName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classify(polygonName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(polygonName, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newError(polygonName, KindUnavailable, "decode %s: %v", endpoint, err)
	}
	return nil
}

// polygonTicker maps BTC-USD style symbols onto Polygon's X:BTCUSD form.
func polygonTicker(inst market.Instrument) string {
	if inst.IsCrypto() || strings.HasSuffix(inst.Symbol, "-USD") {
		base := strings.TrimSuffix(inst.Symbol, "-USD")
		return "X:" + strings.ReplaceAll(base, "-", "") + "USD"
	}
	return inst.Symbol
}

// calendarSpan is how far back a request must reach to collect points bars,
// allowing for weekends and holidays on exchange-traded instruments.
func calendarSpan(inst market.Instrument, capability Capability, points int) time.Duration {
	if points <= 0 {
		points = 1
	}
	day := 24 * time.Hour
	if capability == CapHourlySeries {
		if inst.IsCrypto() {
			return time.Duration(points+6) * time.Hour
		}
		// roughly seven regular-session hours per trading day
		tradingDays := points/7 + 1
		return time.Duration(tradingDays*7/5+4) * day
	}
	if inst.IsCrypto() {
		return time.Duration(points+3) * day
	}
	return time.Duration(points*365/250+10) * day
}

var _ Provider = (*Polygon)(nil)
