/*
Package postgres provides a PostgreSQL-backed implementation of the storage interfaces.

PURPOSE:
  Serves generic.TxStore from PostgreSQL through the shared sqlstore
  implementation. Used when several engine processes share one database.

DRIVERS:
  Both registered drivers work:
  - "pgx":      github.com/jackc/pgx/v5/stdlib (default)
  - "postgres": github.com/lib/pq

  Errors from either are classified by SQLSTATE:
  - 23505 unique_violation      -> duplicate reference / already exists
  - 40001 serialization_failure -> version conflict (retried)
  - 40P01 deadlock_detected     -> version conflict (retried)

ISOLATION:
  Transactions run SERIALIZABLE. Two workers racing on one account either
  lose the version check or are aborted by the database; both come back as
  generic.ErrVersionConflict and the ledger re-runs the unit of work.

USAGE:
  store, err := postgres.Open(ctx, postgres.Config{URL: os.Getenv("DATABASE_URL")})
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlstore: Queries and schema
  - store/sqlite: Single-node backend
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/lib/pq"
	"github.com/warp/savings-engine/store/sqlstore"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

type Config struct {
	Driver          string // "pgx" or "postgres"
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a sqlstore.Store over PostgreSQL.
type Store struct {
	*sqlstore.Store
}

// Open connects, pings and migrates.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: database URL is required")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "pgx"
	}
	db, err := sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewWithDB(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an open handle without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{Store: sqlstore.New(db, Dialect{}, sqlstore.Options{})}
}

// =============================================================================
// DIALECT
// =============================================================================

type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

// Rebind turns ? placeholders into $1, $2, ... leaving quoted text alone.
func (Dialect) Rebind(query string) string {
	var (
		b       strings.Builder
		n       int
		inQuote bool
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (Dialect) TxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

func (Dialect) IsUniqueViolation(err error) bool {
	return sqlState(err) == codeUniqueViolation
}

func (Dialect) IsSerializationFailure(err error) bool {
	switch sqlState(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

// sqlState extracts the SQLSTATE from a pgx or lib/pq error.
func sqlState(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
