package store

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// dialect captures the differences between the SQL backends. Queries are
// written with ? placeholders and rebound for drivers that number them.
type dialect struct {
	name          string
	driver        string
	migrations    string
	numbered      bool
	lockClause    string
	migrationLock string
	singleWriter  bool
	txOptions     *sql.TxOptions
	retry         retryPolicy
	isConflict    func(error) bool

	// migrationTxOptions must let statements after migrationLock see
	// migrations committed while the lock was awaited.
	migrationTxOptions *sql.TxOptions
}

var sqliteDialect = dialect{
	name:         "sqlite",
	driver:       "sqlite",
	migrations:   "migrations/sqlite",
	singleWriter: true,
	retry:        retryPolicy{maxAttempts: 10, minDelay: 50 * time.Millisecond, maxDelay: 500 * time.Millisecond},
	isConflict:   func(err error) bool { return errors.Is(err, errClaimRaced) || isTransientSQLiteErr(err) },
}

var postgresDialect = dialect{
	name:               "postgres",
	driver:             "postgres",
	migrations:         "migrations/postgres",
	numbered:           true,
	lockClause:         " FOR UPDATE OF c",
	migrationLock:      "SELECT pg_advisory_xact_lock(781214)",
	txOptions:          &sql.TxOptions{Isolation: sql.LevelRepeatableRead},
	migrationTxOptions: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	retry:              retryPolicy{maxAttempts: 120, minDelay: time.Second, maxDelay: 3 * time.Second},
	isConflict:         func(err error) bool { return errors.Is(err, errClaimRaced) || isSerializationFailure(err) },
}

// dialectFor selects a backend from the connection string. Postgres URLs and
// keyword/value strings select Postgres; anything else is a SQLite path.
func dialectFor(dsn string) dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "dbname=") {
		return postgresDialect
	}
	return sqliteDialect
}

// dataSource returns the driver data source for dsn.
func (d dialect) dataSource(dsn string) string {
	if d.name != "sqlite" {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
}

// rebind rewrites ? placeholders to $1, $2, ... for numbered dialects.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// isSerializationFailure reports Postgres serialization and deadlock errors,
// which abort the transaction and succeed on retry.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}
