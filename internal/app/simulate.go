package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"market-sentinel/internal/alerting"
	"market-sentinel/internal/indicator"
	"market-sentinel/internal/market"
	"market-sentinel/internal/provider"
	sig "market-sentinel/internal/signal"
	"market-sentinel/internal/storage"
)

// SimulateAlert 用给定的价格和 SMA 走一遍真实的评估、去重和通知流程。
// 状态只保存在内存中，不影响正式的状态文件。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (alerting.Outcome, error) {
	if !a.Config.Alerting.Enabled {
		return "", errors.New("alerting 未启用")
	}
	price, err := decimal.NewFromString(opts.Price)
	if err != nil {
		return "", fmt.Errorf("invalid price %q: %w", opts.Price, err)
	}
	average, err := decimal.NewFromString(opts.Average)
	if err != nil {
		return "", fmt.Errorf("invalid average %q: %w", opts.Average, err)
	}

	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		return "", err
	}
	defer closeNotifier()

	inst, err := a.lookupInstrument(opts.Symbol)
	if err != nil {
		return "", err
	}

	state := storage.OpenStateStore("", a.Logger)
	if opts.Prior != "" {
		prior := sig.Regime(opts.Prior)
		if prior != sig.RegimeBelowSMA && prior != sig.RegimeAboveSMA {
			return "", fmt.Errorf("prior must be %s or %s", sig.RegimeBelowSMA, sig.RegimeAboveSMA)
		}
		key := sig.NewKey(inst.Symbol, sig.SMA200)
		_ = state.Put(key, storage.Record{LastRegime: prior, BaselineAt: time.Now().UTC()})
	}

	source := &staticSMA{price: price, average: average}
	evaluator := sig.NewEvaluator(source, state, sig.EvaluatorOptions{Thresholds: a.Config.Thresholds()}, a.Logger)
	dispatcher := alerting.NewDispatcher(state, notifier, alerting.DispatcherOptions{
		Channels: a.Config.Alerting.Channels,
	}, a.Logger)

	ev, err := evaluator.Evaluate(ctx, inst, sig.SMA200)
	if err != nil {
		return "", err
	}
	if ev == nil {
		return "", errors.New("no rule matched the simulated reading")
	}
	return dispatcher.Dispatch(ctx, *ev)
}

// staticSMA answers SMA requests with a fixed server-side value.
type staticSMA struct {
	price   decimal.Decimal
	average decimal.Decimal
}

func (s *staticSMA) Name() string { return "simulated" }

func (s *staticSMA) Supports(_ market.Instrument, c provider.Capability) bool {
	return c == provider.CapSMA
}

func (s *staticSMA) Fetch(_ context.Context, _ market.Instrument, req provider.Request) (provider.Result, error) {
	return provider.Result{
		Provider: s.Name(),
		Value:    &indicator.Value{Kind: indicator.KindSMA, Value: s.average, Window: req.Window, Price: s.price},
		AsOf:     time.Now().UTC(),
	}, nil
}

var _ provider.Provider = (*staticSMA)(nil)
