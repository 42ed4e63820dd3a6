// Package sqlite provides a SQLite-backed implementation of
// [storage.Datastore] using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tradeloop/tradeloop/pkg/storage"
	"github.com/tradeloop/tradeloop/pkg/storage/sqlcommon"
)

var tracer = otel.Tracer("tradeloop/pkg/storage/sqlite")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlite."+name)
}

// Datastore provides a SQLite-backed implementation of [storage.Datastore].
type Datastore struct {
	db               *sql.DB
	dbInfo           *sqlcommon.DBInfo
	dbStatsCollector prometheus.Collector
}

var _ storage.Datastore = (*Datastore)(nil)

// PrepareDSN sets defaults for journal mode and busy timeout when the DSN
// does not specify them.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}
		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}
	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	return uri + "?" + query.Encode(), nil
}

// New creates a new SQLite-backed [Datastore].
func New(uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}
	cfg.Apply(db)

	collector, err := cfg.RegisterMetrics(db, "tradeloop")
	if err != nil {
		return nil, fmt.Errorf("initialize metrics: %w", err)
	}

	stbl := sq.StatementBuilder.RunWith(db)
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
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
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
