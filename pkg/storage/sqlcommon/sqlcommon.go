// Package sqlcommon holds the pieces shared by the SQL-backed datastores:
// connection tuning, squirrel statement helpers over the checkpoints table,
// and transient-error retry.
package sqlcommon

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tradeloop/tradeloop/pkg/storage"
)

const (
	checkpointsTable = "checkpoints"

	defaultMaxRetryElapsed = 2 * time.Second
)

// Config tunes the database/sql pool for a SQL-backed datastore.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	// ExportMetrics registers a DBStats collector for the pool.
	ExportMetrics bool
}

// Apply sets the pool knobs on db.
func (c *Config) Apply(db *sql.DB) {
	if c.MaxOpenConns != 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns != 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxIdleTime != 0 {
		db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
	}
	if c.ConnMaxLifetime != 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
}

// RegisterMetrics registers a DBStats collector when cfg asks for it.
func (c *Config) RegisterMetrics(db *sql.DB, dbName string) (prometheus.Collector, error) {
	if !c.ExportMetrics {
		return nil, nil
	}
	collector := collectors.NewDBStatsCollector(db, dbName)
	if err := prometheus.Register(collector); err != nil {
		return nil, err
	}
	return collector, nil
}

// DBInfo bundles what the shared statement helpers need: the statement
// builder bound to a connection and the engine's error mapping.
type DBInfo struct {
	DB   *sql.DB
	Stbl sq.StatementBuilderType

	// HandleError maps a driver error into a storage error. It must
	// return the input unchanged when no mapping applies.
	HandleError func(error) error

	// IsRetryable reports whether the mapped error is transient
	// (lock contention, serialization failure) and worth retrying.
	IsRetryable func(error) bool
}

func NewDBInfo(db *sql.DB, stbl sq.StatementBuilderType, handleError func(error) error, isRetryable func(error) bool) *DBInfo {
	return &DBInfo{
		DB:          db,
		Stbl:        stbl,
		HandleError: handleError,
		IsRetryable: isRetryable,
	}
}

// retry runs fn under an exponential backoff, stopping early on
// non-retryable errors.
func (d *DBInfo) retry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = defaultMaxRetryElapsed

	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !d.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}

// Save upserts value under key. The ON CONFLICT form is shared by SQLite
// and Postgres.
func Save(ctx context.Context, d *DBInfo, key string, value []byte) error {
	return d.retry(ctx, func() error {
		_, err := d.Stbl.
			Insert(checkpointsTable).
			Columns("data_key", "data_value", "updated_at").
			Values(key, value, time.Now().UTC()).
			Suffix("ON CONFLICT (data_key) DO UPDATE SET data_value = excluded.data_value, updated_at = excluded.updated_at").
			ExecContext(ctx)
		return d.HandleError(err)
	})
}

// Load reads the value stored under key.
func Load(ctx context.Context, d *DBInfo, key string) ([]byte, error) {
	var value []byte
	err := d.Stbl.
		Select("data_value").
		From(checkpointsTable).
		Where(sq.Eq{"data_key": key}).
		QueryRowContext(ctx).
		Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, d.HandleError(err)
	}
	return value, nil
}

// Delete removes the value stored under key.
func Delete(ctx context.Context, d *DBInfo, key string) error {
	return d.retry(ctx, func() error {
		_, err := d.Stbl.
			Delete(checkpointsTable).
			Where(sq.Eq{"data_key": key}).
			ExecContext(ctx)
		return d.HandleError(err)
	})
}

// ListKeys returns every key with the given prefix, sorted.
func ListKeys(ctx context.Context, d *DBInfo, prefix string) ([]string, error) {
	rows, err := d.Stbl.
		Select("data_key").
		From(checkpointsTable).
		Where(sq.Like{"data_key": prefix + "%"}).
		OrderBy("data_key").
		QueryContext(ctx)
	if err != nil {
		return nil, d.HandleError(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, d.HandleError(err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, d.HandleError(err)
	}
	return keys, nil
}

// Ready pings the database.
func Ready(ctx context.Context, d *DBInfo) (storage.ReadinessStatus, error) {
	if err := d.DB.PingContext(ctx); err != nil {
		return storage.ReadinessStatus{Message: err.Error()}, nil
	}
	return storage.ReadinessStatus{IsReady: true}, nil
}
