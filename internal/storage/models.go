package storage

import (
	"fmt"
	"time"

	"market-sentinel/internal/signal"
)

// Record is the dedup state of one signal key.
type Record struct {
	LastLevel     signal.Level
	LastEmittedAt time.Time
	LastRegime    signal.Regime
	// BaselineAt is when the key was first sighted without emitting.
	BaselineAt time.Time
	// EmittedByLevel holds the last emission of every level the key has fired.
	EmittedByLevel map[signal.Level]time.Time
}

// Emitted reports whether the key has ever produced an alert.
func (r Record) Emitted() bool { return !r.LastEmittedAt.IsZero() }

// EmittedAt returns when level last fired for the key, zero if never.
// Records written before per-level tracking only know their last level.
func (r Record) EmittedAt(level signal.Level) time.Time {
	if at, ok := r.EmittedByLevel[level]; ok {
		return at
	}
	if r.LastLevel == level {
		return r.LastEmittedAt
	}
	return time.Time{}
}

// WithEmission returns a copy of r with level recorded as fired at at.
func (r Record) WithEmission(level signal.Level, at time.Time) Record {
	out := r.clone()
	if out.EmittedByLevel == nil {
		out.EmittedByLevel = make(map[signal.Level]time.Time, 1)
	}
	if r.Emitted() && r.LastLevel != "" {
		if _, ok := out.EmittedByLevel[r.LastLevel]; !ok {
			out.EmittedByLevel[r.LastLevel] = r.LastEmittedAt
		}
	}
	out.EmittedByLevel[level] = at
	out.LastLevel, out.LastEmittedAt = level, at
	return out
}

func (r Record) clone() Record {
	if r.EmittedByLevel == nil {
		return r
	}
	levels := make(map[signal.Level]time.Time, len(r.EmittedByLevel))
	for l, at := range r.EmittedByLevel {
		levels[l] = at
	}
	r.EmittedByLevel = levels
	return r
}

// Entry pairs a key with its record for listings.
type Entry struct {
	Key    signal.Key
	Record Record
}

// AlertHistory captures an emitted alert for auditing.
type AlertHistory struct {
	ID         int64
	Symbol     string
	Indicator  string
	Level      signal.Level
	Regime     signal.Regime
	Message    string
	Value      string
	Price      string
	Source     string
	Channels   []string
	DetectedAt time.Time
	CreatedAt  time.Time
}

// Key returns the signal key the alert was emitted for.
func (h AlertHistory) Key() signal.Key {
	return signal.Key{Symbol: h.Symbol, Indicator: h.Indicator}
}

// PersistenceError reports an I/O fault reading or writing durable state.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("state store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
