package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-sentinel/internal/indicator"
	"market-sentinel/internal/market"
	"market-sentinel/internal/provider"
)

// PriorLookup returns the last persisted regime of a signal. The evaluator
// never derives the prior regime itself.
type PriorLookup interface {
	PriorRegime(key Key) (Regime, bool)
}

// EvaluationError reports why an instrument produced no event this cycle.
type EvaluationError struct {
	Key Key
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %s: %v", e.Key, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Insufficient reports whether the failure was too little history.
func (e *EvaluationError) Insufficient() bool {
	return errors.Is(e.Err, indicator.ErrInsufficientData) || provider.HasKind(e.Err, provider.KindInsufficientData)
}

// EvaluatorOptions parameterise the evaluator.
type EvaluatorOptions struct {
	Thresholds Thresholds
	Rules      []Rule
	Now        func() time.Time
}

// Evaluator computes one indicator for one instrument and applies the rule table.
type Evaluator struct {
	source provider.Provider
	prior  PriorLookup
	opts   EvaluatorOptions
	logger zerolog.Logger
}

// NewEvaluator wires an evaluator to a data source and the prior-regime lookup.
func NewEvaluator(source provider.Provider, prior PriorLookup, opts EvaluatorOptions, logger zerolog.Logger) *Evaluator {
	if opts.Rules == nil {
		opts.Rules = Rules
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	return &Evaluator{
		source: source,
		prior:  prior,
		opts:   opts,
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate fetches inputs, computes the reading and maps it to an event. A nil
// event with a nil error means no rule matched.
func (e *Evaluator) Evaluate(ctx context.Context, inst market.Instrument, ind Indicator) (*Event, error) {
	key := NewKey(inst.Symbol, ind)

	reading, err := e.read(ctx, inst, ind)
	if err != nil {
		return nil, &EvaluationError{Key: key, Err: err}
	}
	if e.prior != nil {
		if regime, ok := e.prior.PriorRegime(key); ok {
			reading.Prior = regime
		}
	}

	rule, ok := Match(e.opts.Rules, reading, e.opts.Thresholds)
	if !ok {
		e.logger.Debug().Str("key", key.String()).Msg("no rule matched")
		return nil, nil
	}

	event := &Event{
		Key:        key,
		Level:      rule.Level,
		Regime:     rule.Regime,
		Trigger:    rule.Trigger,
		Message:    rule.Message(inst.Symbol, reading, e.opts.Thresholds),
		DetectedAt: e.opts.Now().UTC(),
		Reading:    reading,
	}
	e.logger.Debug().Str("key", key.String()).
		Str("level", string(event.Level)).
		Str("regime", string(event.Regime)).
		Str("value", reading.Value.String()).
		Str("source", reading.Source).
		Msg("signal evaluated")
	return event, nil
}

func (e *Evaluator) read(ctx context.Context, inst market.Instrument, ind Indicator) (Reading, error) {
	if ind.Window <= 0 {
		return Reading{}, fmt.Errorf("indicator %s: window must be positive", ind.Name())
	}

	switch ind.Kind {
	case indicator.KindSMA:
		res, err := e.source.Fetch(ctx, inst, provider.Request{Capability: provider.CapSMA, Window: ind.Window})
		if err != nil {
			return Reading{}, err
		}
		if res.Value != nil {
			if !res.Value.Price.IsPositive() {
				return Reading{}, fmt.Errorf("%s returned an average without a current price", res.Provider)
			}
			return Reading{Indicator: ind, Price: res.Value.Price, Value: res.Value.Value, Source: res.Provider}, nil
		}
		ma, err := indicator.MovingAverageRegime(res.Series, ind.Window)
		if err != nil {
			return Reading{}, err
		}
		return Reading{Indicator: ind, Price: ma.Price, Value: ma.Average, Source: res.Provider}, nil

	case indicator.KindRSI:
		res, err := e.source.Fetch(ctx, inst, provider.Request{Capability: provider.CapRSI, Window: ind.Window})
		if err != nil {
			return Reading{}, err
		}
		if res.Value != nil {
			return Reading{Indicator: ind, Price: res.Value.Price, Value: res.Value.Value, Source: res.Provider}, nil
		}
		rsi, err := indicator.RSI(res.Series, ind.Window)
		if err != nil {
			return Reading{}, err
		}
		return Reading{Indicator: ind, Price: res.Series.Last().Close, Value: rsi, Source: res.Provider}, nil

	case indicator.KindHighWaterMark:
		res, err := e.source.Fetch(ctx, inst, provider.Request{
			Capability: provider.CapDailySeries,
			Points:     ind.Window,
			Indicator:  indicator.KindHighWaterMark,
		})
		if err != nil {
			return Reading{}, err
		}
		dd, err := indicator.TrailingDrawdown(res.Series, ind.Window)
		if err != nil {
			return Reading{}, err
		}
		return Reading{Indicator: ind, Price: dd.Price, Value: dd.Percent(), Reference: dd.HighWaterMark, Source: res.Provider}, nil

	case indicator.KindPercentChange:
		res, err := e.source.Fetch(ctx, inst, provider.Request{
			Capability: provider.CapHourlySeries,
			Points:     ind.Window + 1,
			Min:        2,
			Indicator:  indicator.KindPercentChange,
		})
		if err != nil {
			return Reading{}, err
		}
		crash, err := indicator.ShortWindowCrash(res.Series, time.Duration(ind.Window)*time.Hour, e.opts.Thresholds.CrashPct)
		if err != nil {
			return Reading{}, err
		}
		return Reading{Indicator: ind, Price: crash.Price, Value: crash.ChangePct, Reference: crash.Reference, Source: res.Provider}, nil

	default:
		return Reading{}, fmt.Errorf("unsupported indicator kind %q", ind.Kind)
	}
}

// ParseThresholds builds thresholds from configured floats, falling back to
// defaults for zero values.
func ParseThresholds(overbought, oversold, drawdownPct, crashPct float64) Thresholds {
	t := DefaultThresholds()
	if overbought > 0 {
		t.RSIOverbought = decimal.NewFromFloat(overbought)
	}
	if oversold > 0 {
		t.RSIOversold = decimal.NewFromFloat(oversold)
	}
	if drawdownPct > 0 {
		t.DrawdownPct = decimal.NewFromFloat(drawdownPct)
	}
	if crashPct > 0 {
		t.CrashPct = decimal.NewFromFloat(crashPct)
	}
	return t
}
