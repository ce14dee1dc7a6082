/*
store.go - Persistence interfaces for accounts, entries and savings records

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations use SQLite, PostgreSQL, or in-memory storage.
  The engine never caches balances: every check and transfer re-reads.

KEY INTERFACES:
  AccountStore:     Ledger accounts with optimistic versioning
  EntryStore:       Append-only ledger entries
  SavingsStore:     Flexible savings records and milestones
  FixedStore:       Fixed-term deposit records
  AccrualRunStore:  The (business_date, account_id) idempotency ledger
  TxStore:          All of the above plus WithTx for atomic multi-table writes

APPEND-ONLY CONTRACT:
  Entries are written with AppendEntries and never updated or deleted.
  Corrections are reversal entries.

CONCURRENCY CONTRACT:
  UpdateBalance, UpdateSavingsAccount and UpdateFixedSavings compare the
  stored version with the expected one and fail with ErrVersionConflict if
  another writer got there first. The caller re-reads and retries.

UNIQUENESS CONTRACT:
  - entries:          (reference, direction)    -> ErrDuplicateReference
  - ledger accounts:  (owner, kind, currency) for wallet and flexible_savings
  - accrual runs:     (business_date, account_id)
  - milestones:       (account_id, key)         -> ErrAlreadyExists

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for testing and dev
  - store/sqlite: SQLite via store/sqlstore
  - store/postgres: PostgreSQL via store/sqlstore

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

type AccountStore interface {
	// CreateAccount returns ErrAlreadyExists on an ID or (owner, kind, currency) clash.
	CreateAccount(ctx context.Context, acct LedgerAccount) error
	GetAccount(ctx context.Context, id AccountID) (LedgerAccount, error)
	// FindAccount returns the owner's single account of a kind. Not meaningful
	// for fixed_savings, which has one account per deposit.
	FindAccount(ctx context.Context, owner OwnerID, kind AccountKind, currency Currency) (LedgerAccount, error)
	ListAccounts(ctx context.Context, owner OwnerID) ([]LedgerAccount, error)
	// UpdateBalance sets balance and bumps version to expectedVersion+1.
	UpdateBalance(ctx context.Context, id AccountID, balance Money, expectedVersion int64, at time.Time) error
}

type EntryStore interface {
	// AppendEntries writes all entries or none.
	AppendEntries(ctx context.Context, entries ...LedgerEntry) error
	GetEntry(ctx context.Context, id EntryID) (LedgerEntry, error)
	EntriesByReference(ctx context.Context, reference string) ([]LedgerEntry, error)
	// ListEntries returns an account's entries in Seq order.
	ListEntries(ctx context.Context, account AccountID) ([]LedgerEntry, error)
	// SumDebits totals an owner's debit entries of a movement in [from, to).
	SumDebits(ctx context.Context, owner OwnerID, movement Movement, currency Currency, from, to time.Time) (int64, error)
}

type SavingsStore interface {
	CreateSavingsAccount(ctx context.Context, acc SavingsAccount) error
	GetSavingsAccount(ctx context.Context, id string) (SavingsAccount, error)
	GetSavingsAccountByOwner(ctx context.Context, owner OwnerID) (SavingsAccount, error)
	// UpdateSavingsAccount checks acc.Version and stores acc.Version+1.
	UpdateSavingsAccount(ctx context.Context, acc SavingsAccount) error
	ListActiveSavingsAccounts(ctx context.Context) ([]SavingsAccount, error)
	RecordMilestone(ctx context.Context, m SavingsMilestone) error
	ListMilestones(ctx context.Context, accountID string) ([]SavingsMilestone, error)
}

type FixedStore interface {
	CreateFixedSavings(ctx context.Context, f FixedSavingsAccount) error
	GetFixedSavings(ctx context.Context, id string) (FixedSavingsAccount, error)
	// UpdateFixedSavings checks f.Version and stores f.Version+1.
	UpdateFixedSavings(ctx context.Context, f FixedSavingsAccount) error
	ListFixedSavings(ctx context.Context, filter FixedFilter) ([]FixedSavingsAccount, error)
}

type AccrualRunStore interface {
	GetAccrualRun(ctx context.Context, date BusinessDate, accountID string) (DailyAccrualRun, error)
	// SaveAccrualRun upserts by key but never rewrites a completed row.
	SaveAccrualRun(ctx context.Context, run DailyAccrualRun) error
	ListAccrualRuns(ctx context.Context, date BusinessDate) ([]DailyAccrualRun, error)
}

// Store is the full persistence surface the engine consumes.
type Store interface {
	AccountStore
	EntryStore
	SavingsStore
	FixedStore
	AccrualRunStore
}

// TxStore is a Store that can run a function atomically.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error, every
	// write made through the Store passed to fn is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
