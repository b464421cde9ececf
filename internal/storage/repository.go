package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"market-sentinel/internal/signal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createAlertsSQL = `CREATE TABLE IF NOT EXISTS signal_alerts (
        id          BIGSERIAL PRIMARY KEY,
        symbol      TEXT        NOT NULL,
        indicator   TEXT        NOT NULL,
        level       TEXT        NOT NULL,
        regime      TEXT        NOT NULL,
        message     TEXT        NOT NULL,
        value       NUMERIC,
        price       NUMERIC,
        source      TEXT        NOT NULL DEFAULT '',
        channels    TEXT[]      NOT NULL DEFAULT '{}',
        detected_at TIMESTAMPTZ NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS signal_alerts_created_at_idx ON signal_alerts (created_at DESC);`

	insertAlertSQL = `INSERT INTO signal_alerts (
        symbol,
        indicator,
        level,
        regime,
        message,
        value,
        price,
        source,
        channels,
        detected_at
    ) VALUES (
        $1,$2,$3,$4,$5,NULLIF($6,'')::numeric,NULLIF($7,'')::numeric,$8,$9,$10
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        symbol,
        indicator,
        level,
        regime,
        message,
        COALESCE(value::text, ''),
        COALESCE(price::text, ''),
        source,
        channels,
        detected_at,
        created_at
    FROM signal_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM signal_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for emitted-alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertHistory) (AlertHistory, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertHistory, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the Postgres-backed alert history.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the history table when it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createAlertsSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the session lock also drops when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertAlert persists an emitted alert.
func (s *Store) InsertAlert(ctx context.Context, alert AlertHistory) (AlertHistory, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertHistory{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Symbol,
		alert.Indicator,
		string(alert.Level),
		string(alert.Regime),
		alert.Message,
		alert.Value,
		alert.Price,
		alert.Source,
		channels,
		alert.DetectedAt,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return AlertHistory{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	alert.Channels = channels
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertHistory, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertHistory, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts and reports how many were removed.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanAlert(rows pgx.Rows) (AlertHistory, error) {
	var (
		rec    AlertHistory
		level  string
		regime string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.Symbol,
		&rec.Indicator,
		&level,
		&regime,
		&rec.Message,
		&rec.Value,
		&rec.Price,
		&rec.Source,
		&rec.Channels,
		&rec.DetectedAt,
		&rec.CreatedAt,
	); err != nil {
		return AlertHistory{}, fmt.Errorf("scan alert: %w", err)
	}
	parsed, err := signal.ParseLevel(level)
	if err != nil {
		return AlertHistory{}, fmt.Errorf("parse alert level: %w", err)
	}
	rec.Level = parsed
	rec.Regime = signal.Regime(regime)
	return rec, nil
}

var (
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
