package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"market-sentinel/internal/signal"
)

// DigestEntry is the latest INFO reading of one key awaiting the daily summary.
type DigestEntry struct {
	Key        string    `json:"key"`
	Regime     string    `json:"regime"`
	Message    string    `json:"message"`
	Price      string    `json:"price"`
	Value      string    `json:"value"`
	DetectedAt time.Time `json:"detected_at"`
}

// DigestEntryFromEvent converts a queued event.
func DigestEntryFromEvent(ev signal.Event) DigestEntry {
	return DigestEntry{
		Key:        ev.Key.String(),
		Regime:     string(ev.Regime),
		Message:    ev.Message,
		Price:      ev.Reading.Price.String(),
		Value:      ev.Reading.Value.String(),
		DetectedAt: ev.DetectedAt.UTC(),
	}
}

// DigestQueue accumulates INFO readings until the summary is flushed. A newer
// entry for a key replaces the older one.
type DigestQueue interface {
	Push(ctx context.Context, entry DigestEntry) error
	// Drain returns the queued entries sorted by key and empties the queue.
	Drain(ctx context.Context) ([]DigestEntry, error)
}

// MemoryDigest keeps the queue in process.
type MemoryDigest struct {
	mu      sync.Mutex
	max     int
	entries map[string]DigestEntry
}

// NewMemoryDigest holds at most maxEntries distinct keys; zero means no limit.
func NewMemoryDigest(maxEntries int) *MemoryDigest {
	return &MemoryDigest{max: maxEntries, entries: make(map[string]DigestEntry)}
}

// Push replaces the key's entry. New keys beyond the limit are dropped.
func (m *MemoryDigest) Push(_ context.Context, entry DigestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.Key]; !ok && m.max > 0 && len(m.entries) >= m.max {
		return nil
	}
	m.entries[entry.Key] = entry
	return nil
}

// Drain empties the queue.
func (m *MemoryDigest) Drain(_ context.Context) ([]DigestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DigestEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.entries = make(map[string]DigestEntry)
	sortEntries(out)
	return out, nil
}

// Len returns the number of queued keys.
func (m *MemoryDigest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RedisOptions configures the shared digest hash.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	MaxEntries int
}

// RedisDigest stores the queue in a Redis hash so replicas share one summary.
type RedisDigest struct {
	client *redis.Client
	key    string
	max    int
}

// NewRedisDigest connects and pings the server.
func NewRedisDigest(ctx context.Context, opts RedisOptions) (*RedisDigest, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisDigest(client, opts.KeyPrefix, opts.MaxEntries), nil
}

func newRedisDigest(client *redis.Client, prefix string, maxEntries int) *RedisDigest {
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		prefix = "sentinel"
	}
	return &RedisDigest{client: client, key: prefix + ":digest", max: maxEntries}
}

// Push replaces the key's entry. New keys beyond the limit are dropped.
func (r *RedisDigest) Push(ctx context.Context, entry DigestEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal digest entry: %w", err)
	}
	if r.max > 0 {
		exists, err := r.client.HExists(ctx, r.key, entry.Key).Result()
		if err != nil {
			return fmt.Errorf("redis hexists: %w", err)
		}
		if !exists {
			n, err := r.client.HLen(ctx, r.key).Result()
			if err != nil {
				return fmt.Errorf("redis hlen: %w", err)
			}
			if n >= int64(r.max) {
				return nil
			}
		}
	}
	if err := r.client.HSet(ctx, r.key, entry.Key, data).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Drain reads and deletes the hash in one transaction.
func (r *RedisDigest) Drain(ctx context.Context) ([]DigestEntry, error) {
	var all *redis.MapStringStringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		all = pipe.HGetAll(ctx, r.key)
		pipe.Del(ctx, r.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis drain digest: %w", err)
	}

	out := make([]DigestEntry, 0, len(all.Val()))
	for field, raw := range all.Val() {
		var e DigestEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode digest entry %s: %w", field, err)
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// Close releases the connection pool.
func (r *RedisDigest) Close() error {
	return r.client.Close()
}

func sortEntries(entries []DigestEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}

// Quote is one line of the digest price snapshot.
type Quote struct {
	Symbol string
	Price  decimal.Decimal
	Source string
}

// DigestNotification renders the daily summary.
func DigestNotification(entries []DigestEntry, quotes []Quote, at time.Time) Notification {
	var b strings.Builder
	if len(quotes) > 0 {
		b.WriteString("Prices:\n")
		for _, q := range quotes {
			fmt.Fprintf(&b, "  %s %s (%s)\n", q.Symbol, q.Price.StringFixed(2), q.Source)
		}
	}
	if len(entries) == 0 {
		b.WriteString("No informational signals since the last summary.")
	} else {
		b.WriteString("Signals:\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "  %s %s: %s\n", e.Key, e.Regime, e.Message)
		}
	}
	return Notification{
		Key:        signal.Key{Symbol: "DIGEST", Indicator: "DAILY"},
		Level:      signal.LevelInfo,
		Title:      fmt.Sprintf("Daily summary %s", at.Format("2006-01-02")),
		Message:    strings.TrimRight(b.String(), "\n"),
		DetectedAt: at,
	}
}

var (
	_ DigestQueue = (*MemoryDigest)(nil)
	_ DigestQueue = (*RedisDigest)(nil)
)
