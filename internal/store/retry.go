package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// errClaimRaced marks a claim whose conditional lease write matched no row
// because another worker took the candidate first.
var errClaimRaced = errors.New("claim raced")

// retryPolicy bounds how often a conflicting transaction is re-run.
type retryPolicy struct {
	maxAttempts int
	minDelay    time.Duration
	maxDelay    time.Duration
}

// delay returns a uniformly jittered backoff in [minDelay, maxDelay].
func (p retryPolicy) delay() time.Duration {
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}
	return p.minDelay + rand.N(p.maxDelay-p.minDelay+1)
}

// isTransientSQLiteErr returns true if the error is a transient SQLite error
// that can be resolved by retrying:
//   - SQLITE_BUSY (5): another connection holds a lock
//   - SQLITE_LOCKED (6): table-level lock conflict
//   - SQLITE_IOERR_SHORT_READ (522): WAL contention read failure
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// inTx runs fn in a transaction and re-runs the whole transaction when the
// dialect classifies the failure as a conflict. Any other error, including
// ErrLeaseLost, rolls back and is returned as is.
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.inTxWith(ctx, op, s.dialect.txOptions, fn)
}

// inTxWith is inTx with explicit transaction options.
func (s *SQLStore) inTxWith(ctx context.Context, op string, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := s.runTx(ctx, opts, fn)
		if err == nil {
			return nil
		}
		if !s.dialect.isConflict(err) {
			return err
		}

		storeConflictsTotal.WithLabelValues(op).Inc()
		if attempt >= s.retry.maxAttempts {
			return fmt.Errorf("%s: %w after %d attempts: %v", op, ErrRetriesExhausted, attempt, err)
		}

		delay := s.retry.delay()
		s.logger.Warn("conflict, retrying", "op", op, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (s *SQLStore) runTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
