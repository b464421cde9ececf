package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-sentinel/internal/signal"
)

const stateFileVersion = 1

type stateFile struct {
	Version   int          `json:"version"`
	UpdatedAt time.Time    `json:"updated_at"`
	Records   []stateEntry `json:"records"`
}

type stateEntry struct {
	Symbol        string        `json:"symbol"`
	Indicator     string        `json:"indicator"`
	LastLevel     signal.Level  `json:"last_level,omitempty"`
	LastEmittedAt *time.Time    `json:"last_emitted_at,omitempty"`
	LastRegime    signal.Regime `json:"last_regime"`
	BaselineAt    *time.Time    `json:"baseline_at,omitempty"`
	// EmittedByLevel is keyed by level name.
	EmittedByLevel map[string]time.Time `json:"emitted_by_level,omitempty"`
}

// StateStore maps signal keys to their dedup records. It is loaded once and
// rewritten atomically after every accepted mutation. A single mutex guards
// both the map and the file.
type StateStore struct {
	path   string
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[signal.Key]Record
}

// OpenStateStore loads the state file at path. A missing file yields an empty
// store; a malformed one is moved aside to <path>.corrupt and the store starts
// empty. An empty path keeps state in memory only.
func OpenStateStore(path string, logger zerolog.Logger) *StateStore {
	s := &StateStore{
		path:    path,
		logger:  logger.With().Str("component", "state_store").Logger(),
		now:     time.Now,
		records: make(map[signal.Key]Record),
	}
	if path == "" {
		s.logger.Info().Msg("state path empty, dedup state kept in memory")
		return s
	}

	records, err := readStateFile(path)
	switch {
	case err == nil:
		s.records = records
		s.logger.Info().Str("path", path).Int("records", len(records)).Msg("state loaded")
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info().Str("path", path).Msg("no state file, starting empty")
	default:
		s.logger.Warn().Err(err).Str("path", path).Msg("state file unreadable, starting empty")
		if rerr := os.Rename(path, path+".corrupt"); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			s.logger.Warn().Err(rerr).Str("path", path).Msg("failed to move corrupt state aside")
		}
	}
	return s
}

// Path returns the backing file, empty for memory-only stores.
func (s *StateStore) Path() string { return s.path }

// Get returns the record for key.
func (s *StateStore) Get(key signal.Key) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec.clone(), ok
}

// PriorRegime implements signal.PriorLookup.
func (s *StateStore) PriorRegime(key signal.Key) (signal.Regime, bool) {
	rec, ok := s.Get(key)
	if !ok || rec.LastRegime == "" {
		return "", false
	}
	return rec.LastRegime, true
}

// Put stores rec and persists the whole store. On a write fault the in-memory
// mutation is kept and a *PersistenceError is returned.
func (s *StateStore) Put(key signal.Key, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = normalise(rec)
	if s.path == "" {
		return nil
	}
	return s.persistLocked()
}

// Delete removes a key and persists the store.
func (s *StateStore) Delete(key signal.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return nil
	}
	delete(s.records, key)
	if s.path == "" {
		return nil
	}
	return s.persistLocked()
}

// Entries lists every record ordered by key.
func (s *StateStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.records))
	for k, r := range s.records {
		out = append(out, Entry{Key: k, Record: r.clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Len returns the number of tracked keys.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *StateStore) persistLocked() error {
	doc := stateFile{Version: stateFileVersion, UpdatedAt: s.now().UTC(), Records: make([]stateEntry, 0, len(s.records))}
	for k, r := range s.records {
		entry := stateEntry{Symbol: k.Symbol, Indicator: k.Indicator, LastLevel: r.LastLevel, LastRegime: r.LastRegime}
		if !r.LastEmittedAt.IsZero() {
			t := r.LastEmittedAt
			entry.LastEmittedAt = &t
		}
		if !r.BaselineAt.IsZero() {
			t := r.BaselineAt
			entry.BaselineAt = &t
		}
		if len(r.EmittedByLevel) > 0 {
			entry.EmittedByLevel = make(map[string]time.Time, len(r.EmittedByLevel))
			for l, at := range r.EmittedByLevel {
				entry.EmittedByLevel[string(l)] = at
			}
		}
		doc.Records = append(doc.Records, entry)
	}
	sort.Slice(doc.Records, func(i, j int) bool {
		a, b := doc.Records[i], doc.Records[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Indicator < b.Indicator
	})

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, payload); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("persist state failed")
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

// writeFileAtomic writes to a sibling temp file, syncs it and renames it over
// path so readers only ever see the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	tmpName = ""

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

func readStateFile(path string) (map[signal.Key]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc stateFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if doc.Version != stateFileVersion {
		return nil, fmt.Errorf("unsupported state version %d", doc.Version)
	}

	records := make(map[signal.Key]Record, len(doc.Records))
	for i, e := range doc.Records {
		if e.Symbol == "" || e.Indicator == "" {
			return nil, fmt.Errorf("record %d: missing symbol or indicator", i)
		}
		key := signal.Key{Symbol: e.Symbol, Indicator: e.Indicator}
		if _, dup := records[key]; dup {
			return nil, fmt.Errorf("record %d: duplicate key %s", i, key)
		}
		rec := Record{LastRegime: e.LastRegime}
		if e.LastLevel != "" {
			level, err := signal.ParseLevel(string(e.LastLevel))
			if err != nil {
				return nil, fmt.Errorf("record %s: %w", key, err)
			}
			rec.LastLevel = level
		}
		if e.LastEmittedAt != nil {
			rec.LastEmittedAt = e.LastEmittedAt.UTC()
		}
		if e.BaselineAt != nil {
			rec.BaselineAt = e.BaselineAt.UTC()
		}
		for name, at := range e.EmittedByLevel {
			level, err := signal.ParseLevel(name)
			if err != nil {
				return nil, fmt.Errorf("record %s: %w", key, err)
			}
			if rec.EmittedByLevel == nil {
				rec.EmittedByLevel = make(map[signal.Level]time.Time, len(e.EmittedByLevel))
			}
			rec.EmittedByLevel[level] = at.UTC()
		}
		records[key] = rec
	}
	return records, nil
}

func normalise(r Record) Record {
	r = r.clone()
	for l, at := range r.EmittedByLevel {
		r.EmittedByLevel[l] = at.UTC().Round(0)
	}
	if !r.LastEmittedAt.IsZero() {
		r.LastEmittedAt = r.LastEmittedAt.UTC().Round(0)
	}
	if !r.BaselineAt.IsZero() {
		r.BaselineAt = r.BaselineAt.UTC().Round(0)
	}
	return r
}
