package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-sentinel/internal/alerting"
	"market-sentinel/internal/config"
	"market-sentinel/internal/market"
	"market-sentinel/internal/signal"
	"market-sentinel/internal/storage"
)

func testApp(t *testing.T) *App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "state:\n  path: \"\"\nalerting:\n  channels: [log]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return NewApp(cfg, zerolog.Nop())
}

func TestSimulateAlertOutcomes(t *testing.T) {
	a := testApp(t)
	cases := []struct {
		name string
		opts SimulateOptions
		want alerting.Outcome
	}{
		{"recovery", SimulateOptions{Symbol: "SPY", Price: "510", Average: "500", Prior: "BELOW_SMA"}, alerting.OutcomeEmitted},
		{"still above", SimulateOptions{Symbol: "SPY", Price: "510", Average: "500", Prior: "ABOVE_SMA"}, alerting.OutcomeQueued},
		{"breakdown cold start", SimulateOptions{Symbol: "IVV", Price: "500", Average: "500"}, alerting.OutcomeEmitted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.SimulateAlert(context.Background(), tc.opts)
			if err != nil {
				t.Fatalf("simulate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("outcome = %s, want %s", got, tc.want)
			}
		})
	}

	if _, err := a.SimulateAlert(context.Background(), SimulateOptions{Symbol: "SPY", Price: "1", Average: "2", Prior: "OVERSOLD"}); err == nil {
		t.Fatal("unsupported prior regime should be rejected")
	}
}

func TestMovingAverageRows(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var points []market.Point
	for i, c := range []int64{10, 20, 30, 40} {
		points = append(points, market.Point{Time: start.AddDate(0, 0, i), Close: decimal.NewFromInt(c)})
	}
	series, err := market.NewSeries(market.Instrument{Symbol: "SPY"}, points)
	if err != nil {
		t.Fatalf("series: %v", err)
	}

	rows := movingAverageRows(series, 3)
	if rows[1].HasAvg {
		t.Fatal("average must wait for a full window")
	}
	if !rows[2].Average.Equal(decimal.NewFromInt(20)) || !rows[3].Average.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("unexpected averages %s %s", rows[2].Average, rows[3].Average)
	}
	if got := downsampleRows(rows, 2); len(got) != 2 || !got[1].Time.Equal(rows[3].Time) {
		t.Fatalf("downsample should keep the endpoints: %+v", got)
	}
}

func TestFilterInstruments(t *testing.T) {
	all := []market.Instrument{{Symbol: "SPY"}, {Symbol: "IVV"}, {Symbol: "BTC-USD", Class: market.ClassCrypto}}
	got := filterInstruments(all, []string{" btc-usd", "spy"})
	if len(got) != 2 || got[0].Symbol != "SPY" || got[1].Symbol != "BTC-USD" {
		t.Fatalf("unexpected filter result %v", got)
	}
	if len(filterInstruments(all, nil)) != 3 {
		t.Fatal("no filter keeps everything")
	}
}

func TestPrintState(t *testing.T) {
	var buf bytes.Buffer
	printState(&buf, []storage.Entry{{
		Key: signal.Key{Symbol: "SPY", Indicator: "SMA200"},
		Record: storage.Record{
			LastLevel:     signal.LevelCritical,
			LastEmittedAt: time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC),
			LastRegime:    signal.RegimeBelowSMA,
		},
	}})
	out := buf.String()
	if !strings.Contains(out, "SPY/SMA200") || !strings.Contains(out, "2025-06-02T14:30:00Z") || !strings.Contains(out, "CRITICAL") {
		t.Fatalf("unexpected table:\n%s", out)
	}
}
