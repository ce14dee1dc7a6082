/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Opens a SQLite database and serves generic.TxStore through the shared
  sqlstore implementation. Used for single-node deployments, local
  development and store tests (":memory:").

APPEND-ONLY ENFORCEMENT:
  ledger_entries is never updated or deleted. Corrections are reversal
  transfers that write new entries.

CONCURRENCY:
  SQLite allows one writer. Transactions are serialized in-process, and the
  busy timeout absorbs contention from other processes on the same file. A
  busy or locked error is classified as a version conflict so the ledger
  retries it.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

  ":memory:" is pinned to one connection; every new connection to it would
  otherwise see an empty database.

USAGE:
  store, err := sqlite.New("./data/savings.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := generic.NewLedger(store, generic.LedgerConfig{})

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/sqlstore: Queries and schema
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/savings-engine/store/sqlstore"
)

// Store is a sqlstore.Store over SQLite.
type Store struct {
	*sqlstore.Store
}

// New opens (creating if needed) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	if dbPath == ":memory:" {
		dsn = ":memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{Store: sqlstore.New(db, Dialect{}, sqlstore.Options{SerializeTx: true})}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Dialect is the SQLite flavour of sqlstore.Dialect.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string               { return "sqlite" }
func (Dialect) Rebind(query string) string { return query }
func (Dialect) TxOptions() *sql.TxOptions  { return nil }

func (Dialect) IsUniqueViolation(err error) bool {
	var e sqlite3.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.ExtendedCode == sqlite3.ErrConstraintUnique || e.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func (Dialect) IsSerializationFailure(err error) bool {
	var e sqlite3.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == sqlite3.ErrBusy || e.Code == sqlite3.ErrLocked
}
