package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"market-sentinel/internal/market"
	"market-sentinel/internal/signal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	if err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Scheduler.EquityInterval != 15*time.Minute || cfg.Scheduler.CryptoInterval != 30*time.Minute {
		t.Fatalf("unexpected cadences %s / %s", cfg.Scheduler.EquityInterval, cfg.Scheduler.CryptoInterval)
	}
	for _, d := range []time.Duration{cfg.Alerting.Cooldown.Critical, cfg.Alerting.Cooldown.Warning, cfg.Alerting.Cooldown.Green} {
		if d != 4*time.Hour {
			t.Fatalf("default cooldown = %s, want 4h", d)
		}
	}

	instruments := cfg.InstrumentList()
	want := []market.Instrument{
		{Symbol: "SPY", Class: market.ClassETF},
		{Symbol: "IVV", Class: market.ClassETF},
		{Symbol: "BTC-USD", Class: market.ClassCrypto},
	}
	if len(instruments) != len(want) {
		t.Fatalf("instruments = %v", instruments)
	}
	for i := range want {
		if instruments[i] != want[i] {
			t.Fatalf("instrument %d = %v, want %v", i, instruments[i], want[i])
		}
	}

	crypto := cfg.IndicatorsFor(true)
	if len(crypto) != 3 || crypto[2] != signal.Crash24H {
		t.Fatalf("crypto indicators = %v", crypto)
	}
	if feeds := cfg.ChainlinkFeeds(); feeds["BTC-USD"] == "" {
		t.Fatalf("feed keys should be upper-cased, got %v", feeds)
	}
	if !cfg.Thresholds().RSIOverbought.Equal(signal.DefaultThresholds().RSIOverbought) {
		t.Fatal("threshold defaults not applied")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SENTINEL_ALERTING_COOLDOWN_WARNING", "90m")
	t.Setenv("SENTINEL_INSTRUMENTS_CRYPTO", "btc-usd,eth-usd")

	cfg, err := Load(writeConfig(t, "signals:\n  crash_pct: 8\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Alerting.Cooldown.Warning != 90*time.Minute {
		t.Fatalf("env override ignored: %s", cfg.Alerting.Cooldown.Warning)
	}
	if cfg.Signals.CrashPct != 8 {
		t.Fatalf("file value ignored: %v", cfg.Signals.CrashPct)
	}
	last := cfg.InstrumentList()[len(cfg.InstrumentList())-1]
	if last.Symbol != "ETH-USD" || !last.IsCrypto() {
		t.Fatalf("comma list from env not decoded: %v", cfg.InstrumentList())
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad indicator":      "signals:\n  equity: [EMA20]\n",
		"oversold above":     "signals:\n  rsi_oversold: 80\n",
		"telegram no token":  "alerting:\n  channels: [telegram]\n",
		"kafka no brokers":   "alerting:\n  channels: [kafka]\n",
		"unknown channel":    "alerting:\n  channels: [pager]\n",
		"redis digest":       "digest:\n  backend: redis\n",
		"bad timezone":       "digest:\n  timezone: Mars/Olympus\n",
		"no instruments":     "instruments:\n  etfs: []\n  crypto: []\n",
		"zero crypto period": "scheduler:\n  crypto_interval: 0s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error for:\n%s", body)
			}
		})
	}
}

func TestValidateErrorNamesField(t *testing.T) {
	_, err := Load(writeConfig(t, "digest:\n  hour: 25\n"))
	if err == nil || !strings.Contains(err.Error(), "Hour") {
		t.Fatalf("error should name the field, got %v", err)
	}
}
