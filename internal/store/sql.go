package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/xyfleet/internal/model"

	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Compile-time interface satisfaction check.
var _ Store = (*SQLStore)(nil)

// SQLStore implements Store on a relational database. One SQLStore is one
// registered worker.
type SQLStore struct {
	db              *sql.DB
	dialect         dialect
	logger          *slog.Logger
	tracer          trace.Tracer
	workerID        string
	hostname        string
	now             func() time.Time
	retry           retryPolicy
	staleAfter      time.Duration
	barrierInterval time.Duration
	observer        bool

	// round is the last barrier round this worker entered.
	round    atomic.Int64
	finished atomic.Bool
	closed   atomic.Bool
}

// Option configures an SQLStore.
type Option func(*SQLStore)

// WithClock replaces the wall clock used for heartbeats and staleness.
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) { s.now = now }
}

// WithRetryPolicy overrides the dialect's conflict retry budget.
func WithRetryPolicy(maxAttempts int, minDelay, maxDelay time.Duration) Option {
	return func(s *SQLStore) {
		s.retry = retryPolicy{maxAttempts: maxAttempts, minDelay: minDelay, maxDelay: maxDelay}
	}
}

// WithBarrierInterval sets how often SynchronizeWorkers polls.
func WithBarrierInterval(d time.Duration) Option {
	return func(s *SQLStore) { s.barrierInterval = d }
}

// WithStaleAfter overrides the heartbeat staleness window.
func WithStaleAfter(d time.Duration) Option {
	return func(s *SQLStore) { s.staleAfter = d }
}

// WithHostname overrides the hostname recorded for this worker.
func WithHostname(h string) Option {
	return func(s *SQLStore) { s.hostname = h }
}

// WithoutRegistration opens the store as a read-only observer: no worker
// row is written and no stale cleanup runs. An observer may call Progress
// and ListWorkers only.
func WithoutRegistration() Option {
	return func(s *SQLStore) { s.observer = true }
}

// Open connects to the database named by dsn, applies pending migrations,
// removes stale workers and registers this process as a new worker.
func Open(ctx context.Context, dsn string, logger *slog.Logger, opts ...Option) (*SQLStore, error) {
	d := dialectFor(dsn)
	if d.singleWriter {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
	}

	db, err := sql.Open(d.driver, d.dataSource(dsn))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if d.singleWriter {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	hostname, _ := os.Hostname()
	s := &SQLStore{
		db:              db,
		dialect:         d,
		logger:          logger,
		tracer:          otel.Tracer("xyfleet/store"),
		workerID:        model.NewID(),
		hostname:        hostname,
		now:             time.Now,
		retry:           d.retry,
		staleAfter:      StaleAfter,
		barrierInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if s.observer {
		s.workerID = ""
		s.logger.Debug("store opened as observer", "backend", d.name)
		return s, nil
	}
	if err := s.register(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("register worker: %w", err)
	}

	s.logger.Info("store opened", "backend", d.name, "worker_id", s.workerID, "hostname", s.hostname)
	return s, nil
}

// WorkerID returns the identifier this process holds leases under.
func (s *SQLStore) WorkerID() string { return s.workerID }

// closeTimeout bounds the deregistration Close performs before closing the
// database.
const closeTimeout = 10 * time.Second

// Close releases the leases this worker still holds, removes its worker row
// so no barrier waits on it, and closes the database. A failed
// deregistration is logged; the row then ages out through the staleness
// window. Close is idempotent.
func (s *SQLStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !s.observer {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := s.deregister(ctx); err != nil {
			s.logger.Warn("deregister worker", "worker_id", s.workerID, "error", err)
		}
		cancel()
	}
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations, path.Join(s.dialect.migrations, "*.sql"))
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	return s.inTxWith(ctx, "migrate", s.dialect.migrationTxOptions, func(tx *sql.Tx) error {
		if s.dialect.migrationLock != "" {
			if _, err := tx.ExecContext(ctx, s.dialect.migrationLock); err != nil {
				return fmt.Errorf("acquire migration lock: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at BIGINT  NOT NULL
		)`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		var current int
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
			return fmt.Errorf("get current migration version: %w", err)
		}

		for _, f := range files {
			version, err := migrationVersion(f)
			if err != nil {
				return err
			}
			if version <= current {
				continue
			}
			body, err := migrations.ReadFile(f)
			if err != nil {
				return fmt.Errorf("read migration %03d: %w", version, err)
			}
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return fmt.Errorf("execute migration %03d: %w", version, err)
			}
			if _, err := tx.ExecContext(ctx, s.q("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"), version, s.now().Unix()); err != nil {
				return fmt.Errorf("record migration %03d: %w", version, err)
			}
			s.logger.Info("applied migration", "version", version, "backend", s.dialect.name)
		}
		return nil
	})
}

// migrationVersion parses the numeric prefix of a migration file name.
func migrationVersion(name string) (int, error) {
	base := path.Base(name)
	prefix, _, ok := strings.Cut(base, "_")
	if !ok {
		return 0, fmt.Errorf("migration %q has no version prefix", base)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %q: %w", base, err)
	}
	return v, nil
}

// register removes workers whose heartbeat is stale, releasing their leases,
// and inserts this worker at the barrier round the live fleet is working on.
func (s *SQLStore) register(ctx context.Context) error {
	return s.inTx(ctx, "register", func(tx *sql.Tx) error {
		cutoff := s.cutoff()

		for _, q := range []string{
			`UPDATE configurations SET active_worker_id = NULL WHERE active_worker_id IN (
				SELECT worker_id FROM workers WHERE last_active_at < ?)`,
			`UPDATE vortex_jobs SET active_worker_id = NULL WHERE active_worker_id IN (
				SELECT worker_id FROM workers WHERE last_active_at < ?)`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(q), cutoff); err != nil {
				return fmt.Errorf("release stale leases: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, s.q("DELETE FROM workers WHERE last_active_at < ?"), cutoff)
		if err != nil {
			return fmt.Errorf("delete stale workers: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Info("removed stale workers", "count", n)
		}

		var round int64
		if err := tx.QueryRowContext(ctx, s.q(
			"SELECT COALESCE(MIN(barrier_round), 0) FROM workers WHERE finished = 0"),
		).Scan(&round); err != nil {
			return fmt.Errorf("read fleet barrier round: %w", err)
		}
		s.round.Store(round)
		return s.insertWorker(ctx, tx)
	})
}

// insertWorker writes this worker's row at its current barrier round.
func (s *SQLStore) insertWorker(ctx context.Context, tx *sql.Tx) error {
	now := s.now().Unix()
	if _, err := tx.ExecContext(ctx, s.q(
		`INSERT INTO workers (worker_id, hostname, registered_at, last_active_at, synchronize, barrier_round, finished)
		VALUES (?, ?, ?, ?, 0, ?, ?)`),
		s.workerID, s.hostname, now, now, s.round.Load(), boolInt(s.finished.Load()),
	); err != nil {
		return fmt.Errorf("insert worker: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// deregister releases this worker's leases and deletes its row.
func (s *SQLStore) deregister(ctx context.Context) error {
	return s.inTx(ctx, "deregister", func(tx *sql.Tx) error {
		for _, q := range []string{
			"UPDATE configurations SET active_worker_id = NULL WHERE active_worker_id = ?",
			"UPDATE vortex_jobs SET active_worker_id = NULL WHERE active_worker_id = ?",
			"DELETE FROM workers WHERE worker_id = ?",
		} {
			if _, err := tx.ExecContext(ctx, s.q(q), s.workerID); err != nil {
				return fmt.Errorf("deregister: %w", err)
			}
		}
		return nil
	})
}

// q rebinds a query for the active dialect.
func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

// cutoff is the unix time before which a heartbeat is stale.
func (s *SQLStore) cutoff() int64 {
	return s.now().Add(-s.staleAfter).Unix()
}

// startSpan opens a span for a storage port operation.
func (s *SQLStore) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("db.system", s.dialect.name),
		attribute.String("xyfleet.worker_id", s.workerID),
	)
	return s.tracer.Start(ctx, "store."+op, trace.WithAttributes(attrs...))
}

// endSpan records err on span, ends it and returns err unchanged. A lost
// lease is an expected outcome and is not marked as a span error.
func endSpan(span trace.Span, err error) error {
	if err != nil && !errors.Is(err, ErrLeaseLost) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	return err
}

// leaseGuard returns the condition and arguments matching a row whose lease
// holder is still the one observed at selection time.
func leaseGuard(holder sql.NullString) (string, []any) {
	if holder.Valid {
		return "active_worker_id = ?", []any{holder.String}
	}
	return "active_worker_id IS NULL", nil
}

// leaseAvailable is the claim predicate on a configuration or vortex job
// aliased as c and its holder's worker row joined as w (nullable). The lease
// is free, its holder row is gone, or its holder's heartbeat is stale.
const leaseAvailable = `(c.active_worker_id IS NULL OR w.worker_id IS NULL OR w.last_active_at < ?)`
