// Package postgres provides a Postgres-backed implementation of
// [storage.Datastore] over the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradeloop/tradeloop/pkg/storage"
	"github.com/tradeloop/tradeloop/pkg/storage/sqlcommon"
)

var tracer = otel.Tracer("tradeloop/pkg/storage/postgres")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "postgres."+name)
}

// Datastore provides a Postgres-backed implementation of [storage.Datastore].
type Datastore struct {
	db               *sql.DB
	dbInfo           *sqlcommon.DBInfo
	dbStatsCollector prometheus.Collector
}

var _ storage.Datastore = (*Datastore)(nil)

// New creates a new Postgres-backed [Datastore].
func New(uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
	}
	cfg.Apply(db)

	collector, err := cfg.RegisterMetrics(db, "tradeloop")
	if err != nil {
		return nil, fmt.Errorf("initialize metrics: %w", err)
	}

	stbl := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(db)
	return &Datastore{
		db:               db,
		dbInfo:           sqlcommon.NewDBInfo(db, stbl, handleSQLError, isRetryable),
		dbStatsCollector: collector,
	}, nil
}

func handleSQLError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return storage.ErrCancelled
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure and deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// SaveData see [storage.Datastore].SaveData.
func (d *Datastore) SaveData(ctx context.Context, key string, value []byte) error {
	ctx, span := startTrace(ctx, "SaveData")
	defer span.End()

	return sqlcommon.Save(ctx, d.dbInfo, key, value)
}

// LoadData see [storage.Datastore].LoadData.
func (d *Datastore) LoadData(ctx context.Context, key string) ([]byte, error) {
	ctx, span := startTrace(ctx, "LoadData")
	defer span.End()

	return sqlcommon.Load(ctx, d.dbInfo, key)
}

// DeleteData see [storage.Datastore].DeleteData.
func (d *Datastore) DeleteData(ctx context.Context, key string) error {
	ctx, span := startTrace(ctx, "DeleteData")
	defer span.End()

	return sqlcommon.Delete(ctx, d.dbInfo, key)
}

// ListKeys see [storage.Datastore].ListKeys.
func (d *Datastore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := startTrace(ctx, "ListKeys")
	defer span.End()

	return sqlcommon.ListKeys(ctx, d.dbInfo, prefix)
}

// IsReady see [storage.Datastore].IsReady.
func (d *Datastore) IsReady(ctx context.Context) (storage.ReadinessStatus, error) {
	return sqlcommon.Ready(ctx, d.dbInfo)
}

// Close closes the datastore and cleans up any residual resources.
func (d *Datastore) Close() {
	if d.dbStatsCollector != nil {
		prometheus.Unregister(d.dbStatsCollector)
	}
	_ = d.db.Close()
}
