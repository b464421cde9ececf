package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"market-sentinel/internal/alerting"
	"market-sentinel/internal/config"
	"market-sentinel/internal/market"
	"market-sentinel/internal/markethours"
	"market-sentinel/internal/metrics"
	"market-sentinel/internal/provider"
	"market-sentinel/internal/scheduler"
	"market-sentinel/internal/service"
	sig "market-sentinel/internal/signal"
	"market-sentinel/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newPolygon() *provider.Polygon {
	cfg := a.Config.Providers.Polygon
	return provider.NewPolygon(provider.PolygonOptions{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, a.Logger)
}

func (a *App) newYahoo() *provider.Yahoo {
	cfg := a.Config.Providers.Yahoo
	return provider.NewYahoo(provider.YahooOptions{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, a.Logger)
}

// newMarketRouter is the evaluation data source: Polygon, then Yahoo.
func (a *App) newMarketRouter(observer provider.Observer) *provider.Router {
	return provider.NewRouter(a.newPolygon(), a.newYahoo(), provider.RouterOptions{
		CallTimeout: a.Config.Providers.CallTimeout,
		Observer:    observer,
	}, a.Logger)
}

// newQuoteRouter prices the digest: Polygon, then Chainlink where a feed is
// configured, then Yahoo.
func (a *App) newQuoteRouter(observer provider.Observer) *provider.Router {
	opts := provider.RouterOptions{CallTimeout: a.Config.Providers.CallTimeout, Observer: observer}
	cl := a.Config.Providers.Chainlink
	onChain := provider.NewChainlink(provider.ChainlinkOptions{
		RPCURL:  cl.RPCURL,
		Feeds:   a.Config.ChainlinkFeeds(),
		Timeout: cl.RequestTimeout,
	}, a.Logger)
	secondary := provider.NewRouter(onChain, a.newYahoo(), opts, a.Logger)
	return provider.NewRouter(a.newPolygon(), secondary, opts, a.Logger)
}

// newNotifier builds the configured channels. It returns nil when alerting is off.
func (a *App) newNotifier() (alerting.Notifier, func(), error) {
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	var notifiers []alerting.Notifier
	var closers []func()
	for _, ch := range cfg.Channels {
		switch ch {
		case "telegram":
			notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Telegram.Timeout, a.Logger))
		case "kafka":
			kn, err := alerting.NewKafkaNotifier(alerting.KafkaOptions{
				Brokers:      cfg.Kafka.Brokers,
				Topic:        cfg.Kafka.Topic,
				WriteTimeout: cfg.Kafka.WriteTimeout,
			}, a.Logger)
			if err != nil {
				return nil, nil, err
			}
			notifiers = append(notifiers, kn)
			closers = append(closers, func() { _ = kn.Close() })
		case "log":
			notifiers = append(notifiers, alerting.NewLogNotifier(a.Logger))
		default:
			return nil, nil, fmt.Errorf("unknown alert channel %q", ch)
		}
	}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return alerting.NewMultiNotifier(notifiers...), closeAll, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) newDigestQueue(ctx context.Context) (alerting.DigestQueue, func(), error) {
	cfg := a.Config.Digest
	if cfg.Backend != "redis" {
		return alerting.NewMemoryDigest(cfg.MaxEvents), func() {}, nil
	}
	r := a.Config.Redis
	queue, err := alerting.NewRedisDigest(ctx, alerting.RedisOptions{
		Addr:       r.Addr,
		Password:   r.Password,
		DB:         r.DB,
		KeyPrefix:  r.KeyPrefix,
		MaxEntries: cfg.MaxEvents,
	})
	if err != nil {
		return nil, nil, err
	}
	return queue, func() { _ = queue.Close() }, nil
}

// engine is the fully wired evaluation pipeline.
type engine struct {
	state      *storage.StateStore
	history    *storage.Store
	router     *provider.Router
	evaluator  *sig.Evaluator
	dispatcher *alerting.Dispatcher
	service    *service.Service
	closers    []func()
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func (a *App) buildEngine(ctx context.Context, recorder *metrics.Recorder) (*engine, error) {
	e := &engine{}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert history disabled")
	} else {
		e.history = store
		e.closers = append(e.closers, closeStore)
	}

	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closeNotifier)

	queue, closeQueue, err := a.newDigestQueue(ctx)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closeQueue)

	var observer provider.Observer
	var dispatchObserver alerting.DispatchObserver
	var cycleRecorder service.Recorder
	if recorder != nil {
		observer, dispatchObserver, cycleRecorder = recorder, recorder, recorder
	}

	e.state = storage.OpenStateStore(a.Config.State.Path, a.Logger)
	e.router = a.newMarketRouter(observer)
	e.evaluator = sig.NewEvaluator(e.router, e.state, sig.EvaluatorOptions{Thresholds: a.Config.Thresholds()}, a.Logger)

	dispatchOpts := alerting.DispatcherOptions{
		Cooldowns: map[sig.Level]time.Duration{
			sig.LevelCritical: a.Config.Alerting.Cooldown.Critical,
			sig.LevelWarning:  a.Config.Alerting.Cooldown.Warning,
			sig.LevelGreen:    a.Config.Alerting.Cooldown.Green,
		},
		Channels: a.Config.Alerting.Channels,
		Digest:   queue,
		Observer: dispatchObserver,
	}
	if e.history != nil {
		dispatchOpts.History = e.history
	}
	e.dispatcher = alerting.NewDispatcher(e.state, notifier, dispatchOpts, a.Logger)

	loc, err := time.LoadLocation(a.Config.Digest.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load digest timezone: %w", err)
	}
	svcOpts := service.Options{
		MaxConcurrency: a.Config.Scheduler.MaxConcurrency,
		LockKey:        a.Config.Scheduler.AdvisoryLockKey,
		Recorder:       cycleRecorder,
		StateSize:      e.state.Len,
		Digest: service.DigestOptions{
			Enabled:      a.Config.Digest.Enabled,
			Hour:         a.Config.Digest.Hour,
			Location:     loc,
			WeekdaysOnly: a.Config.Digest.WeekdaysOnly,
			Queue:        queue,
			Notifier:     notifier,
			Quotes:       a.newQuoteRouter(observer),
			Instruments:  a.Config.InstrumentList(),
			Retention:    a.Config.Database.HistoryRetention,
		},
	}
	if e.history != nil {
		svcOpts.Locker = e.history
		svcOpts.Digest.History = e.history
	}
	e.service = service.New(e.evaluator, e.dispatcher, svcOpts, a.Logger)

	ok = true
	return e, nil
}

// family is one scheduled evaluation job.
type family struct {
	name        string
	offset      int64
	interval    time.Duration
	crypto      bool
	gate        scheduler.GateFunc
	instruments []market.Instrument
}

func (a *App) families() ([]family, error) {
	var equities, crypto []market.Instrument
	for _, inst := range a.Config.InstrumentList() {
		if inst.IsCrypto() {
			crypto = append(crypto, inst)
		} else {
			equities = append(equities, inst)
		}
	}

	var gate scheduler.GateFunc
	if a.Config.Scheduler.TradingHoursOnly {
		session, err := markethours.NYSE()
		if err != nil {
			return nil, err
		}
		gate = session.IsOpen
	}

	var out []family
	if len(equities) > 0 {
		out = append(out, family{name: "equities", offset: 0, interval: a.Config.Scheduler.EquityInterval, gate: gate, instruments: equities})
	}
	if len(crypto) > 0 {
		out = append(out, family{name: "crypto", offset: 1, interval: a.Config.Scheduler.CryptoInterval, crypto: true, instruments: crypto})
	}
	return out, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recorder := metrics.New(a.Config.Metrics.Namespace)
	eng, err := a.buildEngine(ctx, recorder)
	if err != nil {
		return err
	}
	defer eng.Close()

	families, err := a.families()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range families {
		sched := scheduler.New(scheduler.Options{
			Name:         f.name,
			Interval:     f.interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
			RunOnStart:   a.Config.Scheduler.RunOnStart,
			Gate:         f.gate,
		}, a.Logger)
		job := eng.service.Job(f.name, f.offset, f.instruments, a.Config.IndicatorsFor(f.crypto))
		g.Go(func() error { return sched.Run(gctx, job) })
	}

	if a.Config.Digest.Enabled {
		digest := scheduler.New(scheduler.Options{
			Name:         "digest",
			Interval:     a.Config.Scheduler.DigestInterval,
			AlignToStart: true,
		}, a.Logger)
		g.Go(func() error { return digest.Run(gctx, eng.service.DigestJob) })
	}

	if addr := a.Config.Metrics.Addr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(recorder), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			a.Logger.Info().Str("addr", addr).Msg("metrics listener started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.Logger.Info().Int("families", len(families)).Int("state_records", eng.state.Len()).Msg("starting monitoring service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func metricsMux(recorder *metrics.Recorder) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// EvaluateOptions configure a one-shot cycle.
type EvaluateOptions struct {
	// Symbols restricts the cycle; empty means every configured instrument.
	Symbols []string
}

// ChartOptions hold parameters for exporting a price series with its SMA.
type ChartOptions struct {
	Symbol    string
	Window    int
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit     int
	StateOnly bool
}

// SimulateOptions drive a synthetic SMA reading through the dispatcher.
type SimulateOptions struct {
	Symbol  string
	Price   string
	Average string
	// Prior seeds the state store with a regime, e.g. BELOW_SMA.
	Prior string
}
