/*
Package sqlstore implements generic.TxStore on database/sql.

PURPOSE:
  One implementation of the persistence interfaces, shared by the SQLite and
  PostgreSQL backends. A Dialect supplies what differs between them:
  placeholder syntax, error classification and transaction isolation.

OPTIMISTIC CONCURRENCY:
  Balances and product records carry a version column. Every update is a
  compare-and-swap:

    UPDATE ... SET version = version + 1 WHERE id = ? AND version = ?

  Zero rows affected on an existing row is generic.ErrVersionConflict, and
  generic.Ledger re-runs the unit of work.

UNIQUENESS:
  ledger_entries (reference, direction)         -> ErrDuplicateReference
  ledger_accounts (owner, kind, currency)       -> ErrAlreadyExists (wallet, flexible only)
  savings_accounts (owner_id)                   -> ErrAlreadyExists
  savings_milestones (account_id, milestone)    -> ErrAlreadyExists
  accrual_runs (business_date, account_id)      -> upsert, completed rows frozen

TIME:
  Timestamps are fixed-width UTC text so range scans compare lexically on
  every backend. Business dates are YYYY-MM-DD.

SEE ALSO:
  - schema.go: Tables and indexes
  - store/sqlite, store/postgres: Dialects and constructors
  - generic/store/memory.go: In-memory implementation with the same semantics
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/savings-engine/generic"
)

// Dialect covers the differences between SQL backends.
type Dialect interface {
	Name() string
	// Rebind rewrites ? placeholders into the driver's syntax.
	Rebind(query string) string
	IsUniqueViolation(err error) bool
	// IsSerializationFailure reports work the database aborted because of a
	// concurrent writer. It is retried like a version conflict.
	IsSerializationFailure(err error) bool
	TxOptions() *sql.TxOptions
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type Options struct {
	// SerializeTx runs one transaction at a time in this process. SQLite
	// allows a single writer, so it sets this to avoid busy errors.
	SerializeTx bool
}

// Store implements generic.TxStore. Inside WithTx the same type is bound to
// the *sql.Tx instead of the pool.
type Store struct {
	db      *sql.DB
	q       querier
	dialect Dialect
	txMu    *sync.Mutex
	inTx    bool
}

var _ generic.TxStore = (*Store)(nil)

func New(db *sql.DB, dialect Dialect, opts Options) *Store {
	s := &Store{db: db, q: db, dialect: dialect}
	if opts.SerializeTx {
		s.txMu = &sync.Mutex{}
	}
	return s
}

func (s *Store) DB() *sql.DB      { return s.db }
func (s *Store) Dialect() Dialect { return s.dialect }
func (s *Store) Close() error     { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name(), err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in a database transaction. A nested call joins the
// enclosing transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if s.txMu != nil {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}

	tx, err := s.db.BeginTx(ctx, s.dialect.TxOptions())
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx, dialect: s.dialect, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", s.classify(err))
	}
	return nil
}

func (s *Store) classify(err error) error {
	if err != nil && s.dialect.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", generic.ErrVersionConflict, err)
	}
	return err
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.q.ExecContext(ctx, s.dialect.Rebind(query), args...)
	return res, s.classify(err)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.q.QueryContext(ctx, s.dialect.Rebind(query), args...)
	return rows, s.classify(err)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

// casFailed tells a missing row from a stale version after an update
// matched nothing.
func (s *Store) casFailed(ctx context.Context, table, what, id string) error {
	var n int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("%s %s: %w", what, id, s.classify(err))
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, generic.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", what, id, generic.ErrVersionConflict)
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// =============================================================================
// ENCODING
// =============================================================================

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatDate(d generic.BusinessDate) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func parseDate(s string) (generic.BusinessDate, error) {
	if s == "" {
		return generic.BusinessDate{}, nil
	}
	return generic.ParseBusinessDate(s)
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, generic.ErrNotFound)
	}
	return fmt.Errorf("%s %v: %w", what, id, err)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, owner_id, kind, currency, balance_minor, version, created_at, updated_at`

func (s *Store) CreateAccount(ctx context.Context, a generic.LedgerAccount) error {
	_, err := s.exec(ctx,
		`INSERT INTO ledger_accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), string(a.OwnerID), string(a.Kind), string(a.Balance.Currency),
		a.Balance.Minor, a.Version, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("account %s: %w", a.ID, generic.ErrAlreadyExists)
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func scanAccount(sc scanner) (generic.LedgerAccount, error) {
	var (
		a                         generic.LedgerAccount
		id, owner, kind, currency string
		created, updated          string
		minor                     int64
	)
	if err := sc.Scan(&id, &owner, &kind, &currency, &minor, &a.Version, &created, &updated); err != nil {
		return a, err
	}
	a.ID = generic.AccountID(id)
	a.OwnerID = generic.OwnerID(owner)
	a.Kind = generic.AccountKind(kind)
	a.Balance = generic.NewMoney(minor, generic.Currency(currency))
	var err error
	if a.CreatedAt, err = parseTime(created); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return a, err
	}
	return a, nil
}

func (s *Store) GetAccount(ctx context.Context, id generic.AccountID) (generic.LedgerAccount, error) {
	a, err := scanAccount(s.queryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = ?`, string(id)))
	if err != nil {
		return generic.LedgerAccount{}, notFound(err, "account", id)
	}
	return a, nil
}

func (s *Store) FindAccount(ctx context.Context, owner generic.OwnerID, kind generic.AccountKind, c generic.Currency) (generic.LedgerAccount, error) {
	a, err := scanAccount(s.queryRow(ctx,
		`SELECT `+accountColumns+` FROM ledger_accounts WHERE owner_id = ? AND kind = ? AND currency = ? ORDER BY created_at LIMIT 1`,
		string(owner), string(kind), string(c),
	))
	if err != nil {
		return generic.LedgerAccount{}, notFound(err, "account", fmt.Sprintf("%s/%s/%s", owner, kind, c))
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, owner generic.OwnerID) ([]generic.LedgerAccount, error) {
	rows, err := s.query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE owner_id = ? ORDER BY created_at, id`, string(owner))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []generic.LedgerAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBalance(ctx context.Context, id generic.AccountID, bal generic.Money, expected int64, at time.Time) error {
	res, err := s.exec(ctx,
		`UPDATE ledger_accounts SET balance_minor = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		bal.Minor, formatTime(at), string(id), expected,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return s.casFailed(ctx, "ledger_accounts", "account", string(id))
	}
	return nil
}

// =============================================================================
// ENTRIES
// =============================================================================

const entryColumns = `id, account_id, owner_id, direction, amount_minor, currency, balance_after_minor,
	reference, kind, movement, related_entry_id, seq, memo, created_at`

func (s *Store) AppendEntries(ctx context.Context, entries ...generic.LedgerEntry) error {
	if !s.inTx && len(entries) > 1 {
		return s.WithTx(ctx, func(st generic.Store) error { return st.AppendEntries(ctx, entries...) })
	}
	for _, e := range entries {
		var related sql.NullString
		if e.RelatedEntryID != nil {
			related = sql.NullString{String: string(*e.RelatedEntryID), Valid: true}
		}
		_, err := s.exec(ctx,
			`INSERT INTO ledger_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(e.ID), string(e.AccountID), string(e.OwnerID), string(e.Direction),
			e.Amount.Minor, string(e.Amount.Currency), e.BalanceAfter.Minor,
			e.Reference, string(e.Kind), string(e.Movement), related, e.Seq, e.Memo, formatTime(e.CreatedAt),
		)
		if err != nil {
			if s.dialect.IsUniqueViolation(err) {
				return fmt.Errorf("entry %s/%s: %w", e.Reference, e.Direction, generic.ErrDuplicateReference)
			}
			return fmt.Errorf("append entry: %w", err)
		}
	}
	return nil
}

func scanEntry(sc scanner) (generic.LedgerEntry, error) {
	var (
		e                                       generic.LedgerEntry
		id, account, owner, direction, currency string
		kind, movement, created                 string
		amount, after                           int64
		related                                 sql.NullString
	)
	err := sc.Scan(&id, &account, &owner, &direction, &amount, &currency, &after,
		&e.Reference, &kind, &movement, &related, &e.Seq, &e.Memo, &created)
	if err != nil {
		return e, err
	}
	c := generic.Currency(currency)
	e.ID = generic.EntryID(id)
	e.AccountID = generic.AccountID(account)
	e.OwnerID = generic.OwnerID(owner)
	e.Direction = generic.Direction(direction)
	e.Amount = generic.NewMoney(amount, c)
	e.BalanceAfter = generic.NewMoney(after, c)
	e.Kind = generic.EntryKind(kind)
	e.Movement = generic.Movement(movement)
	if related.Valid {
		rid := generic.EntryID(related.String)
		e.RelatedEntryID = &rid
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return e, err
	}
	return e, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]generic.LedgerEntry, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []generic.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetEntry(ctx context.Context, id generic.EntryID) (generic.LedgerEntry, error) {
	e, err := scanEntry(s.queryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, string(id)))
	if err != nil {
		return generic.LedgerEntry{}, notFound(err, "entry", id)
	}
	return e, nil
}

func (s *Store) EntriesByReference(ctx context.Context, ref string) ([]generic.LedgerEntry, error) {
	return s.queryEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE reference = ? ORDER BY direction`, ref)
}

func (s *Store) ListEntries(ctx context.Context, id generic.AccountID) ([]generic.LedgerEntry, error) {
	return s.queryEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = ? ORDER BY seq`, string(id))
}

func (s *Store) SumDebits(ctx context.Context, owner generic.OwnerID, mv generic.Movement, c generic.Currency, from, to time.Time) (int64, error) {
	var total int64
	err := s.queryRow(ctx,
		`SELECT CAST(COALESCE(SUM(amount_minor), 0) AS BIGINT) FROM ledger_entries
		 WHERE owner_id = ? AND movement = ? AND direction = ? AND currency = ?
		   AND created_at >= ? AND created_at < ?`,
		string(owner), string(mv), string(generic.Debit), string(c), formatTime(from), formatTime(to),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum debits: %w", s.classify(err))
	}
	return total, nil
}

// =============================================================================
// FLEXIBLE SAVINGS
// =============================================================================

const savingsColumns = `id, owner_id, ledger_account_id, currency, is_active, savings_percentage,
	min_transaction_minor, total_saved_minor, total_interest_minor, total_transactions,
	last_accrued_on, last_auto_save_at, version, created_at, updated_at`

func (s *Store) CreateSavingsAccount(ctx context.Context, a generic.SavingsAccount) error {
	_, err := s.exec(ctx,
		`INSERT INTO savings_accounts (`+savingsColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.OwnerID), string(a.LedgerAccountID), string(a.TotalSavedFromSpending.Currency),
		a.IsActive, a.SavingsPercentage.String(), a.MinTransactionAmount.Minor,
		a.TotalSavedFromSpending.Minor, a.TotalInterestEarned.Minor, a.TotalTransactionsProcessed,
		formatDate(a.LastAccruedOn), nullTime(a.LastAutoSaveAt), a.Version,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("savings account for %s: %w", a.OwnerID, generic.ErrAlreadyExists)
		}
		return fmt.Errorf("create savings account: %w", err)
	}
	return nil
}

func scanSavings(sc scanner) (generic.SavingsAccount, error) {
	var (
		a                              generic.SavingsAccount
		owner, ledgerID, currency, pct string
		lastAccrued, created, updated  string
		minTx, saved, interest         int64
		lastSave                       sql.NullString
	)
	err := sc.Scan(&a.ID, &owner, &ledgerID, &currency, &a.IsActive, &pct,
		&minTx, &saved, &interest, &a.TotalTransactionsProcessed,
		&lastAccrued, &lastSave, &a.Version, &created, &updated)
	if err != nil {
		return a, err
	}
	c := generic.Currency(currency)
	a.OwnerID = generic.OwnerID(owner)
	a.LedgerAccountID = generic.AccountID(ledgerID)
	a.MinTransactionAmount = generic.NewMoney(minTx, c)
	a.TotalSavedFromSpending = generic.NewMoney(saved, c)
	a.TotalInterestEarned = generic.NewMoney(interest, c)
	if a.SavingsPercentage, err = decimal.NewFromString(pct); err != nil {
		return a, fmt.Errorf("savings percentage %q: %w", pct, err)
	}
	if a.LastAccruedOn, err = parseDate(lastAccrued); err != nil {
		return a, err
	}
	if a.LastAutoSaveAt, err = parseNullTime(lastSave); err != nil {
		return a, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return a, err
	}
	return a, nil
}

func (s *Store) GetSavingsAccount(ctx context.Context, id string) (generic.SavingsAccount, error) {
	a, err := scanSavings(s.queryRow(ctx, `SELECT `+savingsColumns+` FROM savings_accounts WHERE id = ?`, id))
	if err != nil {
		return generic.SavingsAccount{}, notFound(err, "savings account", id)
	}
	return a, nil
}

func (s *Store) GetSavingsAccountByOwner(ctx context.Context, owner generic.OwnerID) (generic.SavingsAccount, error) {
	a, err := scanSavings(s.queryRow(ctx, `SELECT `+savingsColumns+` FROM savings_accounts WHERE owner_id = ?`, string(owner)))
	if err != nil {
		return generic.SavingsAccount{}, notFound(err, "savings account for owner", owner)
	}
	return a, nil
}

func (s *Store) UpdateSavingsAccount(ctx context.Context, a generic.SavingsAccount) error {
	res, err := s.exec(ctx,
		`UPDATE savings_accounts SET
			is_active = ?, savings_percentage = ?, min_transaction_minor = ?,
			total_saved_minor = ?, total_interest_minor = ?, total_transactions = ?,
			last_accrued_on = ?, last_auto_save_at = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		a.IsActive, a.SavingsPercentage.String(), a.MinTransactionAmount.Minor,
		a.TotalSavedFromSpending.Minor, a.TotalInterestEarned.Minor, a.TotalTransactionsProcessed,
		formatDate(a.LastAccruedOn), nullTime(a.LastAutoSaveAt), formatTime(a.UpdatedAt),
		a.ID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("update savings account: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return s.casFailed(ctx, "savings_accounts", "savings account", a.ID)
	}
	return nil
}

func (s *Store) ListActiveSavingsAccounts(ctx context.Context) ([]generic.SavingsAccount, error) {
	rows, err := s.query(ctx, `SELECT `+savingsColumns+` FROM savings_accounts WHERE is_active = ? ORDER BY id`, true)
	if err != nil {
		return nil, fmt.Errorf("list savings accounts: %w", err)
	}
	defer rows.Close()

	var out []generic.SavingsAccount
	for rows.Next() {
		a, err := scanSavings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan savings account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) RecordMilestone(ctx context.Context, m generic.SavingsMilestone) error {
	_, err := s.exec(ctx,
		`INSERT INTO savings_milestones (account_id, milestone, threshold_minor, currency, reached_at) VALUES (?, ?, ?, ?, ?)`,
		m.AccountID, m.Key, m.Threshold.Minor, string(m.Threshold.Currency), formatTime(m.ReachedAt),
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("milestone %s/%s: %w", m.AccountID, m.Key, generic.ErrAlreadyExists)
		}
		return fmt.Errorf("record milestone: %w", err)
	}
	return nil
}

func (s *Store) ListMilestones(ctx context.Context, accountID string) ([]generic.SavingsMilestone, error) {
	rows, err := s.query(ctx,
		`SELECT account_id, milestone, threshold_minor, currency, reached_at FROM savings_milestones
		 WHERE account_id = ? ORDER BY threshold_minor`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	var out []generic.SavingsMilestone
	for rows.Next() {
		var (
			m                 generic.SavingsMilestone
			minor             int64
			currency, reached string
		)
		if err := rows.Scan(&m.AccountID, &m.Key, &minor, &currency, &reached); err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		m.Threshold = generic.NewMoney(minor, generic.Currency(currency))
		if m.ReachedAt, err = parseTime(reached); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// FIXED SAVINGS
// =============================================================================

const fixedColumns = `id, owner_id, ledger_account_id, currency, principal_minor, source,
	from_wallet_minor, from_savings_minor, purpose, purpose_description,
	start_date, payback_date, interest_rate, auto_renewal, status,
	accrued_interest_minor, last_accrued_on, matured_at, paid_out_at,
	predecessor_id, successor_id, version, created_at, updated_at`

func (s *Store) CreateFixedSavings(ctx context.Context, f generic.FixedSavingsAccount) error {
	_, err := s.exec(ctx,
		`INSERT INTO fixed_savings (`+fixedColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, string(f.OwnerID), string(f.LedgerAccountID), string(f.Principal.Currency), f.Principal.Minor, string(f.Source),
		f.SourceSplit.FromWallet.Minor, f.SourceSplit.FromSavings.Minor, string(f.Purpose), f.PurposeDescription,
		formatDate(f.Term.Start), formatDate(f.Term.Payback), f.InterestRatePercent.String(), f.AutoRenewalEnabled, string(f.Status),
		f.AccruedInterest.Minor, formatDate(f.LastAccruedOn), nullTime(f.MaturedAt), nullTime(f.PaidOutAt),
		f.PredecessorID, f.SuccessorID, f.Version, formatTime(f.CreatedAt), formatTime(f.UpdatedAt),
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("fixed savings %s: %w", f.ID, generic.ErrAlreadyExists)
		}
		return fmt.Errorf("create fixed savings: %w", err)
	}
	return nil
}

func scanFixed(sc scanner) (generic.FixedSavingsAccount, error) {
	var (
		f                                           generic.FixedSavingsAccount
		owner, ledgerID, currency, source, purpose  string
		start, payback, rate, status, lastAccrued   string
		created, updated                            string
		principal, fromWallet, fromSavings, accrued int64
		maturedAt, paidOutAt                        sql.NullString
	)
	err := sc.Scan(&f.ID, &owner, &ledgerID, &currency, &principal, &source,
		&fromWallet, &fromSavings, &purpose, &f.PurposeDescription,
		&start, &payback, &rate, &f.AutoRenewalEnabled, &status,
		&accrued, &lastAccrued, &maturedAt, &paidOutAt,
		&f.PredecessorID, &f.SuccessorID, &f.Version, &created, &updated)
	if err != nil {
		return f, err
	}
	c := generic.Currency(currency)
	f.OwnerID = generic.OwnerID(owner)
	f.LedgerAccountID = generic.AccountID(ledgerID)
	f.Principal = generic.NewMoney(principal, c)
	f.Source = generic.FundingSource(source)
	f.SourceSplit = generic.SourceSplit{FromWallet: generic.NewMoney(fromWallet, c), FromSavings: generic.NewMoney(fromSavings, c)}
	f.Purpose = generic.Purpose(purpose)
	f.Status = generic.FixedStatus(status)
	f.AccruedInterest = generic.NewMoney(accrued, c)
	if f.InterestRatePercent, err = decimal.NewFromString(rate); err != nil {
		return f, fmt.Errorf("interest rate %q: %w", rate, err)
	}
	if f.Term.Start, err = parseDate(start); err != nil {
		return f, err
	}
	if f.Term.Payback, err = parseDate(payback); err != nil {
		return f, err
	}
	if f.LastAccruedOn, err = parseDate(lastAccrued); err != nil {
		return f, err
	}
	if f.MaturedAt, err = parseNullTime(maturedAt); err != nil {
		return f, err
	}
	if f.PaidOutAt, err = parseNullTime(paidOutAt); err != nil {
		return f, err
	}
	if f.CreatedAt, err = parseTime(created); err != nil {
		return f, err
	}
	if f.UpdatedAt, err = parseTime(updated); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Store) GetFixedSavings(ctx context.Context, id string) (generic.FixedSavingsAccount, error) {
	f, err := scanFixed(s.queryRow(ctx, `SELECT `+fixedColumns+` FROM fixed_savings WHERE id = ?`, id))
	if err != nil {
		return generic.FixedSavingsAccount{}, notFound(err, "fixed savings", id)
	}
	return f, nil
}

func (s *Store) UpdateFixedSavings(ctx context.Context, f generic.FixedSavingsAccount) error {
	res, err := s.exec(ctx,
		`UPDATE fixed_savings SET
			auto_renewal = ?, status = ?, accrued_interest_minor = ?, last_accrued_on = ?,
			matured_at = ?, paid_out_at = ?, successor_id = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		f.AutoRenewalEnabled, string(f.Status), f.AccruedInterest.Minor, formatDate(f.LastAccruedOn),
		nullTime(f.MaturedAt), nullTime(f.PaidOutAt), f.SuccessorID, formatTime(f.UpdatedAt),
		f.ID, f.Version,
	)
	if err != nil {
		return fmt.Errorf("update fixed savings: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return s.casFailed(ctx, "fixed_savings", "fixed savings", f.ID)
	}
	return nil
}

func (s *Store) ListFixedSavings(ctx context.Context, filter generic.FixedFilter) ([]generic.FixedSavingsAccount, error) {
	query := `SELECT ` + fixedColumns + ` FROM fixed_savings WHERE 1 = 1`
	var args []any
	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, string(filter.OwnerID))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fixed savings: %w", err)
	}
	defer rows.Close()

	var out []generic.FixedSavingsAccount
	for rows.Next() {
		f, err := scanFixed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fixed savings: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// =============================================================================
// ACCRUAL RUNS
// =============================================================================

const runColumns = `business_date, account_id, product, status, interest_minor, currency, error, attempts, started_at, completed_at`

func scanRun(sc scanner) (generic.DailyAccrualRun, error) {
	var (
		r                               generic.DailyAccrualRun
		date, product, status, currency string
		started                         string
		interest, attempts              int64
		completed                       sql.NullString
	)
	if err := sc.Scan(&date, &r.AccountID, &product, &status, &interest, &currency, &r.Error, &attempts, &started, &completed); err != nil {
		return r, err
	}
	var err error
	if r.BusinessDate, err = parseDate(date); err != nil {
		return r, err
	}
	r.Product = generic.Product(product)
	r.Status = generic.RunStatus(status)
	if currency != "" {
		r.InterestCredited = generic.NewMoney(interest, generic.Currency(currency))
	}
	r.Attempts = int(attempts)
	if r.StartedAt, err = parseTime(started); err != nil {
		return r, err
	}
	if r.CompletedAt, err = parseNullTime(completed); err != nil {
		return r, err
	}
	return r, nil
}

func (s *Store) GetAccrualRun(ctx context.Context, d generic.BusinessDate, id string) (generic.DailyAccrualRun, error) {
	r, err := scanRun(s.queryRow(ctx,
		`SELECT `+runColumns+` FROM accrual_runs WHERE business_date = ? AND account_id = ?`, d.String(), id))
	if err != nil {
		return generic.DailyAccrualRun{}, notFound(err, "accrual run", d.String()+"/"+id)
	}
	return r, nil
}

// SaveAccrualRun upserts the run. The conflict clause leaves completed rows
// untouched.
func (s *Store) SaveAccrualRun(ctx context.Context, r generic.DailyAccrualRun) error {
	_, err := s.exec(ctx,
		`INSERT INTO accrual_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (business_date, account_id) DO UPDATE SET
			product = excluded.product,
			status = excluded.status,
			interest_minor = excluded.interest_minor,
			currency = excluded.currency,
			error = excluded.error,
			attempts = excluded.attempts,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
		 WHERE accrual_runs.status <> 'completed'`,
		r.BusinessDate.String(), r.AccountID, string(r.Product), string(r.Status),
		r.InterestCredited.Minor, string(r.InterestCredited.Currency), r.Error, int64(r.Attempts),
		formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save accrual run: %w", err)
	}
	return nil
}

func (s *Store) ListAccrualRuns(ctx context.Context, d generic.BusinessDate) ([]generic.DailyAccrualRun, error) {
	rows, err := s.query(ctx, `SELECT `+runColumns+` FROM accrual_runs WHERE business_date = ? ORDER BY account_id`, d.String())
	if err != nil {
		return nil, fmt.Errorf("list accrual runs: %w", err)
	}
	defer rows.Close()

	var out []generic.DailyAccrualRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan accrual run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
