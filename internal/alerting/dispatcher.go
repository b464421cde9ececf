package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-sentinel/internal/signal"
	"market-sentinel/internal/storage"
)

// Outcome is the dispatch decision for one event.
type Outcome string

const (
	OutcomeEmitted    Outcome = "emitted"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeQueued     Outcome = "queued"
)

// StateStore is the part of the alert state store the dispatcher needs.
type StateStore interface {
	Get(key signal.Key) (storage.Record, bool)
	Put(key signal.Key, rec storage.Record) error
}

// DispatchObserver receives one call per dispatched event.
type DispatchObserver interface {
	Dispatched(ev signal.Event, outcome Outcome)
}

// DefaultCooldown applies to CRITICAL, WARNING and GREEN unless configured.
const DefaultCooldown = 4 * time.Hour

// DefaultCooldowns returns the stock per-level cooldowns.
func DefaultCooldowns() map[signal.Level]time.Duration {
	return map[signal.Level]time.Duration{
		signal.LevelCritical: DefaultCooldown,
		signal.LevelWarning:  DefaultCooldown,
		signal.LevelGreen:    DefaultCooldown,
	}
}

// DispatcherOptions tune dedup and routing.
type DispatcherOptions struct {
	// Cooldowns by level; a missing level has no cooldown.
	Cooldowns map[signal.Level]time.Duration
	Channels  []string
	// History and Digest are optional.
	History  storage.AlertStore
	Digest   DigestQueue
	Observer DispatchObserver
	Now      func() time.Time
}

// Dispatcher decides whether a candidate event is emitted, suppressed or
// queued, and records the decision in the state store.
type Dispatcher struct {
	store    StateStore
	notifier Notifier
	opts     DispatcherOptions
	logger   zerolog.Logger

	mu sync.Mutex
}

// NewDispatcher wires the state store and the outbound notifier.
func NewDispatcher(store StateStore, notifier Notifier, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	if opts.Cooldowns == nil {
		opts.Cooldowns = DefaultCooldowns()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch applies the dedup policy. A persistence fault does not change the
// outcome; an emitted alert is still delivered and the fault is returned.
// Delivery failures are logged and returned but never roll state back.
func (d *Dispatcher) Dispatch(ctx context.Context, ev signal.Event) (Outcome, error) {
	d.mu.Lock()
	now := d.opts.Now().UTC()
	outcome, putErr := d.decideLocked(ev, now)
	d.mu.Unlock()

	if putErr != nil {
		d.logger.Error().Err(putErr).Str("key", ev.Key.String()).Msg("state not persisted, keeping in-memory record")
	}
	if d.opts.Observer != nil {
		d.opts.Observer.Dispatched(ev, outcome)
	}

	log := d.logger.With().Str("key", ev.Key.String()).Str("level", string(ev.Level)).Str("outcome", string(outcome)).Logger()
	switch outcome {
	case OutcomeEmitted:
		log.Info().Str("regime", string(ev.Regime)).Msg("alert emitted")
		return outcome, errors.Join(putErr, d.emit(ctx, ev))
	case OutcomeQueued:
		log.Debug().Msg("queued for digest")
		if d.opts.Digest != nil {
			if err := d.opts.Digest.Push(ctx, DigestEntryFromEvent(ev)); err != nil {
				log.Error().Err(err).Msg("digest push failed")
				return outcome, errors.Join(putErr, fmt.Errorf("queue digest: %w", err))
			}
		}
	default:
		log.Debug().Msg("alert suppressed")
	}
	return outcome, putErr
}

func (d *Dispatcher) decideLocked(ev signal.Event, now time.Time) (Outcome, error) {
	rec, known := d.store.Get(ev.Key)
	if !known {
		rec = storage.Record{LastRegime: ev.Regime, BaselineAt: now}
		outcome := OutcomeSuppressed
		switch {
		case emitsOnColdStart(ev):
			outcome = OutcomeEmitted
			rec = rec.WithEmission(ev.Level, now)
		case ev.Level == signal.LevelInfo:
			outcome = OutcomeQueued
		}
		return outcome, d.store.Put(ev.Key, rec)
	}

	regimeChanged := rec.LastRegime != ev.Regime
	rec.LastRegime = ev.Regime

	if ev.Level == signal.LevelInfo {
		if regimeChanged {
			return OutcomeQueued, d.store.Put(ev.Key, rec)
		}
		return OutcomeQueued, nil
	}

	if d.suppressed(ev, rec, regimeChanged, now) {
		if regimeChanged {
			return OutcomeSuppressed, d.store.Put(ev.Key, rec)
		}
		return OutcomeSuppressed, nil
	}

	rec = rec.WithEmission(ev.Level, now)
	return OutcomeEmitted, d.store.Put(ev.Key, rec)
}

// suppressed applies the cooldown of the event's own level, so a key flapping
// between regimes does not repeat a level inside its cooldown. A key that never
// emitted is held to its baseline while the regime is unchanged: only CRITICAL
// or a GREEN transition may fire before the level's cooldown has elapsed since
// the key was first seen.
func (d *Dispatcher) suppressed(ev signal.Event, rec storage.Record, regimeChanged bool, now time.Time) bool {
	cooldown := d.opts.Cooldowns[ev.Level]
	if !rec.Emitted() {
		if emitsOnColdStart(ev) || regimeChanged {
			return false
		}
		return now.Sub(rec.BaselineAt) < cooldown
	}
	last := rec.EmittedAt(ev.Level)
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < cooldown
}

func emitsOnColdStart(ev signal.Event) bool {
	switch ev.Level {
	case signal.LevelCritical:
		return true
	case signal.LevelGreen:
		return ev.Trigger == signal.TriggerEdge
	default:
		return false
	}
}

func (d *Dispatcher) emit(ctx context.Context, ev signal.Event) error {
	if d.opts.History != nil {
		_, err := d.opts.History.InsertAlert(ctx, storage.AlertHistory{
			Symbol:     ev.Key.Symbol,
			Indicator:  ev.Key.Indicator,
			Level:      ev.Level,
			Regime:     ev.Regime,
			Message:    ev.Message,
			Value:      ev.Reading.Value.String(),
			Price:      ev.Reading.Price.String(),
			Source:     ev.Reading.Source,
			Channels:   d.opts.Channels,
			DetectedAt: ev.DetectedAt,
		})
		if err != nil {
			d.logger.Error().Err(err).Str("key", ev.Key.String()).Msg("failed to persist alert record")
		}
	}

	if d.notifier == nil {
		return nil
	}
	if err := d.notifier.Notify(ctx, NotificationFromEvent(ev, d.opts.Channels)); err != nil {
		d.logger.Error().Err(err).Str("key", ev.Key.String()).Msg("failed to dispatch alert")
		return err
	}
	return nil
}
