package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"market-sentinel/internal/alerting"
	"market-sentinel/internal/market"
	"market-sentinel/internal/signal"
	"market-sentinel/internal/storage"
)

// Evaluator produces a candidate event for one indicator on one instrument.
type Evaluator interface {
	Evaluate(ctx context.Context, inst market.Instrument, ind signal.Indicator) (*signal.Event, error)
}

// Dispatcher applies the dedup policy to a candidate event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev signal.Event) (alerting.Outcome, error)
}

// Recorder receives cycle metrics. All methods must be safe for concurrent use.
type Recorder interface {
	EvaluationFailed(indicator, reason string)
	ObserveCycle(job string, elapsed time.Duration)
	SetStateRecords(n int)
}

// CycleResult is the outcome of one signal key in a cycle: either an event
// with its dispatch outcome, or an error.
type CycleResult struct {
	Key     signal.Key
	Event   *signal.Event
	Outcome alerting.Outcome
	Err     error
}

// Options wire the optional collaborators.
type Options struct {
	MaxConcurrency int
	Locker         storage.AdvisoryLocker
	LockKey        int64
	Recorder       Recorder
	// StateSize reports the state store size for the gauge.
	StateSize func() int
	Digest    DigestOptions
	Now       func() time.Time
}

// Service orchestrates evaluation, dispatch and the daily digest.
type Service struct {
	evaluator  Evaluator
	dispatcher Dispatcher
	opts       Options
	logger     zerolog.Logger

	digestMu   sync.Mutex
	lastDigest string
}

// New constructs the monitoring service.
func New(evaluator Evaluator, dispatcher Dispatcher, opts Options, logger zerolog.Logger) *Service {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		evaluator:  evaluator,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// RunCycle evaluates every indicator of every instrument, one goroutine per
// instrument, and returns once all have finished. Results keep the input order.
func (s *Service) RunCycle(ctx context.Context, instruments []market.Instrument, indicators []signal.Indicator) []CycleResult {
	perInstrument := make([][]CycleResult, len(instruments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrency)
	for i, inst := range instruments {
		i, inst := i, inst
		g.Go(func() error {
			perInstrument[i] = s.evaluateInstrument(gctx, inst, indicators)
			return nil
		})
	}
	_ = g.Wait()

	var out []CycleResult
	for _, rs := range perInstrument {
		out = append(out, rs...)
	}
	if s.opts.Recorder != nil && s.opts.StateSize != nil {
		s.opts.Recorder.SetStateRecords(s.opts.StateSize())
	}
	return out
}

func (s *Service) evaluateInstrument(ctx context.Context, inst market.Instrument, indicators []signal.Indicator) []CycleResult {
	results := make([]CycleResult, 0, len(indicators))
	for _, ind := range indicators {
		key := signal.NewKey(inst.Symbol, ind)
		res := CycleResult{Key: key}

		ev, err := s.evaluator.Evaluate(ctx, inst, ind)
		switch {
		case err != nil:
			res.Err = err
			s.reportEvaluationError(key, ind, err)
		case ev != nil:
			res.Event = ev
			res.Outcome, res.Err = s.dispatcher.Dispatch(ctx, *ev)
		}
		results = append(results, res)
	}
	return results
}

func (s *Service) reportEvaluationError(key signal.Key, ind signal.Indicator, err error) {
	reason := "provider"
	var evalErr *signal.EvaluationError
	if errors.As(err, &evalErr) && evalErr.Insufficient() {
		reason = "insufficient_data"
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("not enough history, skipping signal")
	} else {
		s.logger.Error().Err(err).Str("key", key.String()).Msg("evaluation failed")
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.EvaluationFailed(ind.Name(), reason)
	}
}

// Job returns a scheduler tick that runs one cycle for a family under the
// advisory lock. offset separates the lock keys of concurrent families.
func (s *Service) Job(name string, offset int64, instruments []market.Instrument, indicators []signal.Indicator) func(context.Context, time.Time) error {
	return func(ctx context.Context, bucket time.Time) error {
		unlock, proceed, err := s.acquireLock(ctx, offset)
		if err != nil {
			return err
		}
		if !proceed {
			s.logger.Debug().Str("job", name).Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
			return nil
		}
		if unlock != nil {
			defer unlock()
		}

		start := time.Now()
		results := s.RunCycle(ctx, instruments, indicators)
		if s.opts.Recorder != nil {
			s.opts.Recorder.ObserveCycle(name, time.Since(start))
		}
		summary := Summarize(results)
		s.logger.Info().Str("job", name).Time("bucket", bucket).
			Int("emitted", summary.Emitted).
			Int("suppressed", summary.Suppressed).
			Int("queued", summary.Queued).
			Int("failed", summary.Failed).
			Msg("cycle complete")
		return nil
	}
}

// Summary counts cycle results by outcome.
type Summary struct {
	Emitted, Suppressed, Queued, Failed int
}

// Summarize tallies results. A result whose dispatch returned an error still
// counts under its outcome.
func Summarize(results []CycleResult) Summary {
	var sum Summary
	for _, r := range results {
		switch {
		case r.Event == nil && r.Err != nil:
			sum.Failed++
		case r.Outcome == alerting.OutcomeEmitted:
			sum.Emitted++
		case r.Outcome == alerting.OutcomeSuppressed:
			sum.Suppressed++
		case r.Outcome == alerting.OutcomeQueued:
			sum.Queued++
		}
	}
	return sum
}

func (s *Service) acquireLock(ctx context.Context, offset int64) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.opts.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.opts.Locker.TryAdvisoryLock(ctx, s.opts.LockKey+offset)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
