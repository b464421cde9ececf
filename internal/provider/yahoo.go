package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"market-sentinel/internal/market"
)

const yahooName = "yahoo"

// YahooOptions parameterise the Yahoo Finance chart client.
type YahooOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Now       func() time.Time
}

// Yahoo is the keyless secondary: raw daily/hourly closes and quotes only.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewYahoo constructs the fallback provider.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; market-sentinel)"
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "yahoo_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (y *Yahoo) Name() string { return yahooName }

// Supports reports series and quotes; indicators are computed by the caller.
func (y *Yahoo) Supports(_ market.Instrument, capability Capability) bool {
	switch capability {
	case CapDailySeries, CapHourlySeries, CapQuote:
		return true
	default:
		return false
	}
}

func (y *Yahoo) Fetch(ctx context.Context, inst market.Instrument, req Request) (Result, error) {
	if !y.Supports(inst, req.Capability) {
		return Result{}, newError(yahooName, KindNotSupported, "capability %s", req.Capability)
	}

	interval := "1d"
	points := req.Points
	switch req.Capability {
	case CapHourlySeries:
		interval = "1h"
	case CapQuote:
		points = 5
	}

	now := y.opts.Now().UTC()
	from := now.Add(-calendarSpan(inst, req.Capability, points))
	body, err := y.chart(ctx, inst, interval, from, now)
	if err != nil {
		return Result{}, err
	}

	if req.Capability == CapQuote {
		price := gjson.GetBytes(body, "chart.result.0.meta.regularMarketPrice")
		if !price.Exists() {
			return Result{}, newError(yahooName, KindUnavailable, "no market price for %s", inst.Symbol)
		}
		quote, err := decimal.NewFromString(price.Raw)
		if err != nil {
			return Result{}, newError(yahooName, KindUnavailable, "decode price %q: %v", price.Raw, err)
		}
		return Result{Provider: yahooName, Quote: quote, AsOf: now}, nil
	}

	series, err := parseYahooSeries(inst, body)
	if err != nil {
		return Result{}, err
	}
	y.logger.Debug().Str("symbol", inst.Symbol).Str("interval", interval).Int("points", series.Len()).Msg("chart fetched")
	return Result{Provider: yahooName, Series: series, AsOf: now}, nil
}

func (y *Yahoo) chart(ctx context.Context, inst market.Instrument, interval string, from, to time.Time) ([]byte, error) {
	params := url.Values{}
	params.Set("interval", interval)
	params.Set("period1", strconv.FormatInt(from.Unix(), 10))
	params.Set("period2", strconv.FormatInt(to.Unix(), 10))
	params.Set("includePrePost", "false")

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(inst.Symbol), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, newError(yahooName, KindUnavailable, "create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", y.opts.UserAgent)

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, classify(yahooName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(yahooName, err)
	}
	if resp.StatusCode != http.StatusOK {
		if desc := gjson.GetBytes(body, "chart.error.description"); desc.Exists() {
			return nil, statusError(yahooName, resp.StatusCode, []byte(`{"message":`+strconv.Quote(desc.String())+`}`))
		}
		return nil, statusError(yahooName, resp.StatusCode, body)
	}
	if !gjson.ValidBytes(body) {
		return nil, newError(yahooName, KindUnavailable, "malformed chart payload")
	}
	if desc := gjson.GetBytes(body, "chart.error.description"); desc.Exists() && desc.String() != "" {
		return nil, newError(yahooName, KindUnavailable, "%s", desc.String())
	}
	return body, nil
}

// parseYahooSeries pairs chart timestamps with closes, skipping null closes.
func parseYahooSeries(inst market.Instrument, body []byte) (market.Series, error) {
	result := gjson.GetBytes(body, "chart.result.0")
	if !result.Exists() {
		return market.Series{}, newError(yahooName, KindUnavailable, "chart has no result for %s", inst.Symbol)
	}
	stamps := result.Get("timestamp").Array()
	closes := result.Get("indicators.quote.0.close").Array()

	points := make([]market.Point, 0, len(stamps))
	seen := make(map[int64]struct{}, len(stamps))
	for i, ts := range stamps {
		if i >= len(closes) || closes[i].Type != gjson.Number {
			continue
		}
		sec := ts.Int()
		if _, dup := seen[sec]; dup {
			// the live bar repeats the last timestamp intraday
			continue
		}
		seen[sec] = struct{}{}
		c, err := decimal.NewFromString(closes[i].Raw)
		if err != nil {
			continue
		}
		points = append(points, market.Point{Time: time.Unix(sec, 0).UTC(), Close: c})
	}

	series, err := market.NewSeries(inst, points)
	if err != nil {
		return market.Series{}, newError(yahooName, KindUnavailable, "decode chart: %v", err)
	}
	return series, nil
}

var _ Provider = (*Yahoo)(nil)
