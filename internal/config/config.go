package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"market-sentinel/internal/logging"
	"market-sentinel/internal/market"
	"market-sentinel/internal/signal"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	State       StateConfig       `mapstructure:"state"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Signals     SignalsConfig     `mapstructure:"signals"`
	Instruments InstrumentsConfig `mapstructure:"instruments"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Digest      DigestConfig      `mapstructure:"digest"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment"`
}

// StateConfig locates the dedup state file. An empty path keeps state in memory.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for alert history.
type DatabaseConfig struct {
	DSN              string        `mapstructure:"dsn"`
	MaxOpenConns     int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	HistoryRetention time.Duration `mapstructure:"history_retention"`
}

// RedisConfig backs the shared digest queue.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// SchedulerConfig governs evaluation cadence per signal family.
type SchedulerConfig struct {
	EquityInterval   time.Duration `mapstructure:"equity_interval" validate:"gt=0"`
	CryptoInterval   time.Duration `mapstructure:"crypto_interval" validate:"gt=0"`
	DigestInterval   time.Duration `mapstructure:"digest_interval" validate:"gt=0"`
	AlignToBucket    bool          `mapstructure:"align_to_bucket"`
	TradingHoursOnly bool          `mapstructure:"trading_hours_only"`
	RunOnStart       bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	MaxConcurrency   int           `mapstructure:"max_concurrency" validate:"gte=1"`
}

// ProvidersConfig covers upstream market data.
type ProvidersConfig struct {
	CallTimeout time.Duration   `mapstructure:"call_timeout" validate:"gt=0"`
	Polygon     PolygonConfig   `mapstructure:"polygon"`
	Yahoo       YahooConfig     `mapstructure:"yahoo"`
	Chainlink   ChainlinkConfig `mapstructure:"chainlink"`
}

// PolygonConfig captures Polygon.io connectivity.
type PolygonConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// YahooConfig captures the Yahoo Finance chart endpoint.
type YahooConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ChainlinkConfig covers on-chain price feeds.
type ChainlinkConfig struct {
	RPCURL         string            `mapstructure:"rpc_url" validate:"omitempty,url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// SignalsConfig holds rule thresholds and the indicator set per family.
type SignalsConfig struct {
	RSIOverbought float64  `mapstructure:"rsi_overbought" validate:"gt=0,lte=100"`
	RSIOversold   float64  `mapstructure:"rsi_oversold" validate:"gt=0,lte=100,ltfield=RSIOverbought"`
	DrawdownPct   float64  `mapstructure:"drawdown_pct" validate:"gt=0,lt=100"`
	CrashPct      float64  `mapstructure:"crash_pct" validate:"gt=0,lt=100"`
	Equity        []string `mapstructure:"equity" validate:"dive,required"`
	Crypto        []string `mapstructure:"crypto" validate:"dive,required"`
}

// InstrumentsConfig lists the sampled symbols per asset class.
type InstrumentsConfig struct {
	Equities []string `mapstructure:"equities" validate:"dive,required"`
	ETFs     []string `mapstructure:"etfs" validate:"dive,required"`
	Crypto   []string `mapstructure:"crypto" validate:"dive,required"`
}

// AlertingConfig defines cooldowns and routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels" validate:"dive,oneof=telegram kafka log"`
	Cooldown CooldownConfig `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// CooldownConfig is the minimum interval between emissions of one key at one level.
type CooldownConfig struct {
	Critical time.Duration `mapstructure:"critical" validate:"gte=0"`
	Warning  time.Duration `mapstructure:"warning" validate:"gte=0"`
	Green    time.Duration `mapstructure:"green" validate:"gte=0"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base" validate:"omitempty,url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// KafkaConfig publishes alerts onto a topic.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DigestConfig schedules the daily summary of INFO readings.
type DigestConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Hour         int    `mapstructure:"hour" validate:"gte=0,lte=23"`
	Timezone     string `mapstructure:"timezone" validate:"required"`
	WeekdaysOnly bool   `mapstructure:"weekdays_only"`
	Backend      string `mapstructure:"backend" validate:"oneof=memory redis"`
	MaxEvents    int    `mapstructure:"max_events" validate:"gt=0"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr      string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Namespace string `mapstructure:"namespace" validate:"required"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int    `mapstructure:"max_data_points" validate:"gt=0"`
	OutputDir     string `mapstructure:"output_dir"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "market-sentinel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "market-sentinel")

	v.SetDefault("state.path", "data/alert_state.json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.history_retention", "2160h")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "sentinel")

	v.SetDefault("scheduler.equity_interval", "15m")
	v.SetDefault("scheduler.crypto_interval", "30m")
	v.SetDefault("scheduler.digest_interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.trading_hours_only", true)
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x53454e54))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.max_concurrency", 4)

	v.SetDefault("providers.call_timeout", "15s")
	v.SetDefault("providers.polygon.base_url", "https://api.polygon.io")
	v.SetDefault("providers.polygon.api_key", "")
	v.SetDefault("providers.polygon.request_timeout", "15s")
	v.SetDefault("providers.polygon.user_agent", "market-sentinel/1.0")
	v.SetDefault("providers.yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("providers.yahoo.request_timeout", "10s")
	v.SetDefault("providers.yahoo.user_agent", "Mozilla/5.0 (compatible; market-sentinel/1.0)")
	v.SetDefault("providers.chainlink.rpc_url", "")
	v.SetDefault("providers.chainlink.request_timeout", "10s")
	v.SetDefault("providers.chainlink.feeds", map[string]string{
		"BTC-USD": "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c",
	})

	v.SetDefault("signals.rsi_overbought", 70.0)
	v.SetDefault("signals.rsi_oversold", 30.0)
	v.SetDefault("signals.drawdown_pct", 5.0)
	v.SetDefault("signals.crash_pct", 10.0)
	v.SetDefault("signals.equity", []string{"SMA200", "RSI14", "HWM30"})
	v.SetDefault("signals.crypto", []string{"SMA200", "RSI14", "CRASH24H"})

	v.SetDefault("instruments.equities", []string{})
	v.SetDefault("instruments.etfs", []string{"SPY", "IVV"})
	v.SetDefault("instruments.crypto", []string{"BTC-USD"})

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.channels", []string{"log"})
	v.SetDefault("alerting.cooldown.critical", "4h")
	v.SetDefault("alerting.cooldown.warning", "4h")
	v.SetDefault("alerting.cooldown.green", "4h")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.kafka.topic", "market-sentinel.alerts")
	v.SetDefault("alerting.kafka.write_timeout", "10s")

	v.SetDefault("digest.enabled", true)
	v.SetDefault("digest.hour", 17)
	v.SetDefault("digest.timezone", "America/New_York")
	v.SetDefault("digest.weekdays_only", true)
	v.SetDefault("digest.backend", "memory")
	v.SetDefault("digest.max_events", 500)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.namespace", "sentinel")

	v.SetDefault("export.max_data_points", 1000)
	v.SetDefault("export.output_dir", "exports")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

var validate = validator.New()

// Validate checks struct tags first, then the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config %s failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("validate config: %w", err)
	}

	if len(c.InstrumentList()) == 0 {
		return fmt.Errorf("instruments: at least one symbol must be configured")
	}
	for _, name := range append(append([]string{}, c.Signals.Equity...), c.Signals.Crypto...) {
		if _, err := signal.ParseIndicator(name); err != nil {
			return fmt.Errorf("signals: %w", err)
		}
	}
	if c.Alerting.Enabled {
		for _, ch := range c.Alerting.Channels {
			switch ch {
			case "telegram":
				if c.Alerting.Telegram.BotToken == "" {
					return fmt.Errorf("alerting.telegram.bot_token 必须配置")
				}
				if c.Alerting.Telegram.ChatID == "" {
					return fmt.Errorf("alerting.telegram.chat_id 必须配置")
				}
			case "kafka":
				if len(c.Alerting.Kafka.Brokers) == 0 || c.Alerting.Kafka.Topic == "" {
					return fmt.Errorf("alerting.kafka.brokers and alerting.kafka.topic are required for the kafka channel")
				}
			}
		}
	}
	if c.Digest.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when digest.backend is redis")
	}
	if _, err := time.LoadLocation(c.Digest.Timezone); err != nil {
		return fmt.Errorf("digest.timezone: %w", err)
	}
	return nil
}

// InstrumentList flattens the configured symbols, de-duplicated, in class order.
func (c *Config) InstrumentList() []market.Instrument {
	seen := make(map[string]struct{})
	var out []market.Instrument
	add := func(class market.AssetClass, symbols []string) {
		for _, s := range symbols {
			sym := strings.ToUpper(strings.TrimSpace(s))
			if sym == "" {
				continue
			}
			if _, dup := seen[sym]; dup {
				continue
			}
			seen[sym] = struct{}{}
			out = append(out, market.Instrument{Symbol: sym, Class: class})
		}
	}
	add(market.ClassEquity, c.Instruments.Equities)
	add(market.ClassETF, c.Instruments.ETFs)
	add(market.ClassCrypto, c.Instruments.Crypto)
	return out
}

// IndicatorsFor returns the parsed indicator set of a family. Validate has
// already rejected unknown names.
func (c *Config) IndicatorsFor(crypto bool) []signal.Indicator {
	names := c.Signals.Equity
	if crypto {
		names = c.Signals.Crypto
	}
	out := make([]signal.Indicator, 0, len(names))
	for _, n := range names {
		if ind, err := signal.ParseIndicator(n); err == nil {
			out = append(out, ind)
		}
	}
	return out
}

// Thresholds converts the configured rule thresholds.
func (c *Config) Thresholds() signal.Thresholds {
	s := c.Signals
	return signal.ParseThresholds(s.RSIOverbought, s.RSIOversold, s.DrawdownPct, s.CrashPct)
}

// ChainlinkFeeds returns the feed map keyed by upper-case symbol; viper lowers map keys.
func (c *Config) ChainlinkFeeds() map[string]string {
	out := make(map[string]string, len(c.Providers.Chainlink.Feeds))
	for sym, addr := range c.Providers.Chainlink.Feeds {
		out[strings.ToUpper(sym)] = addr
	}
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
