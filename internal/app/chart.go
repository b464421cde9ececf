package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"market-sentinel/internal/market"
	"market-sentinel/internal/provider"
)

// chartRow is one exported day: the close and, once the window is filled, the
// trailing average.
type chartRow struct {
	Time    time.Time
	Close   decimal.Decimal
	Average decimal.Decimal
	HasAvg  bool
}

// Chart fetches a daily series and renders it with its moving average as CSV
// and/or PNG.
func (a *App) Chart(ctx context.Context, opts ChartOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Window <= 0 {
		opts.Window = 200
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	inst, err := a.lookupInstrument(opts.Symbol)
	if err != nil {
		return err
	}

	router := a.newMarketRouter(nil)
	res, err := router.Fetch(ctx, inst, provider.Request{
		Capability: provider.CapDailySeries,
		Points:     opts.MaxPoints + opts.Window - 1,
		Min:        opts.Window,
	})
	if err != nil {
		return fmt.Errorf("fetch %s daily series: %w", inst.Symbol, err)
	}

	rows := movingAverageRows(res.Series, opts.Window)
	if len(rows) > opts.MaxPoints {
		rows = rows[len(rows)-opts.MaxPoints:]
	}
	rows = downsampleRows(rows, opts.MaxPoints)
	a.Logger.Info().Str("symbol", inst.Symbol).Str("source", res.Provider).
		Int("total", res.Series.Len()).Int("exported", len(rows)).Msg("exporting chart")

	if opts.CSVPath != "" {
		if err := writeRowsCSV(opts.CSVPath, rows, opts.Window); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeRowsPNG(opts.PNGPath, inst.Symbol, rows, opts.Window); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) lookupInstrument(symbol string) (market.Instrument, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	for _, inst := range a.Config.InstrumentList() {
		if inst.Symbol == sym {
			return inst, nil
		}
	}
	if sym == "" {
		return market.Instrument{}, errors.New("symbol is required")
	}
	// 未配置的代码按普通股票处理。
	return market.Instrument{Symbol: sym, Class: market.ClassEquity}, nil
}

// movingAverageRows computes a running trailing mean over the series.
func movingAverageRows(series market.Series, window int) []chartRow {
	rows := make([]chartRow, len(series.Points))
	sum := decimal.Zero
	n := decimal.NewFromInt(int64(window))
	for i, p := range series.Points {
		sum = sum.Add(p.Close)
		if i >= window {
			sum = sum.Sub(series.Points[i-window].Close)
		}
		rows[i] = chartRow{Time: p.Time, Close: p.Close}
		if i+1 >= window {
			rows[i].Average = sum.Div(n)
			rows[i].HasAvg = true
		}
	}
	return rows
}

func downsampleRows(rows []chartRow, max int) []chartRow {
	if max <= 1 || len(rows) <= max {
		return rows
	}

	result := make([]chartRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeRowsCSV(path string, rows []chartRow, window int) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"date", "close", fmt.Sprintf("sma%d", window)}); err != nil {
		return err
	}
	for _, row := range rows {
		avg := ""
		if row.HasAvg {
			avg = row.Average.StringFixed(4)
		}
		if err := writer.Write([]string{row.Time.UTC().Format("2006-01-02"), row.Close.String(), avg}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRowsPNG(path, symbol string, rows []chartRow, window int) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(rows))
	closes := make([]float64, 0, len(rows))
	var avgX []time.Time
	var avgY []float64
	for _, row := range rows {
		x = append(x, row.Time)
		closes = append(closes, row.Close.InexactFloat64())
		if row.HasAvg {
			avgX = append(avgX, row.Time)
			avgY = append(avgY, row.Average.InexactFloat64())
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    symbol,
			XValues: x,
			YValues: closes,
		},
	}
	if len(avgX) > 1 {
		series = append(series, chart.TimeSeries{
			Name:    fmt.Sprintf("SMA%d", window),
			XValues: avgX,
			YValues: avgY,
		})
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("%s daily close", symbol),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
