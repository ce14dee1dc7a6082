package postgres

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/savings-engine/generic"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"none", "SELECT 1", "SELECT 1"},
		{"sequential", "UPDATE t SET a = ? WHERE id = ? AND v = ?", "UPDATE t SET a = $1 WHERE id = $2 AND v = $3"},
		{"quoted", "SELECT * FROM t WHERE a = '?' AND b = ?", "SELECT * FROM t WHERE a = '?' AND b = $1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dialect{}.Rebind(tt.in))
		})
	}
}

func TestErrorClassification(t *testing.T) {
	d := Dialect{}

	assert.True(t, d.IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, d.IsUniqueViolation(fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505"})))
	assert.False(t, d.IsUniqueViolation(&pgconn.PgError{Code: "23503"}))

	assert.True(t, d.IsSerializationFailure(&pgconn.PgError{Code: "40001"}))
	assert.True(t, d.IsSerializationFailure(&pq.Error{Code: "40P01"}))
	assert.False(t, d.IsSerializationFailure(context.Canceled))
	assert.False(t, d.IsSerializationFailure(nil))
}

func TestUpdateBalance_StaleVersion(t *testing.T) {
	// GIVEN: An account whose version moved on
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE ledger_accounts SET balance_minor = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4")).
		WithArgs(int64(500), sqlmock.AnyArg(), "acct-1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM ledger_accounts WHERE id = $1")).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	// WHEN: Updating with the old version
	err := store.UpdateBalance(ctx, "acct-1", generic.NewMoney(500, generic.NGN), 3, time.Now())

	// THEN: Version conflict
	assert.ErrorIs(t, err, generic.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBalance_MissingAccount(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE ledger_accounts SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM ledger_accounts WHERE id = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := store.UpdateBalance(ctx, "ghost", generic.NewMoney(1, generic.NGN), 0, time.Now())
	assert.ErrorIs(t, err, generic.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccount_NotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM ledger_accounts WHERE id = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "kind", "currency", "balance_minor", "version", "created_at", "updated_at"}))

	_, err := store.GetAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestAppendEntries_DuplicateReferenceRollsBack(t *testing.T) {
	// GIVEN: The credit side collides with an existing reference
	store, mock := newMock(t)
	ctx := context.Background()
	now := time.Now()

	debit := generic.LedgerEntry{
		ID: "e-1", AccountID: "a", OwnerID: "alice", Direction: generic.Debit,
		Amount: generic.NewMoney(100, generic.NGN), BalanceAfter: generic.NewMoney(0, generic.NGN),
		Reference: "ref-1", Kind: generic.EntryTransfer, Movement: generic.MovementInternal, Seq: 1, CreatedAt: now,
	}
	credit := debit
	credit.ID, credit.AccountID, credit.Direction = "e-2", "b", generic.Credit

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_entries")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_ledger_entries_reference"})
	mock.ExpectRollback()

	// WHEN: Appending both sides
	err := store.AppendEntries(ctx, debit, credit)

	// THEN: Duplicate reference, nothing committed
	assert.ErrorIs(t, err, generic.ErrDuplicateReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_SerializationFailureIsRetryable(t *testing.T) {
	// GIVEN: The database aborts the commit
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ledger_accounts SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})

	// WHEN: Running a unit of work
	err := store.WithTx(ctx, func(s generic.Store) error {
		return s.UpdateBalance(ctx, "acct-1", generic.NewMoney(1, generic.NGN), 0, time.Now())
	})

	// THEN: The ledger sees a version conflict
	assert.ErrorIs(t, err, generic.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_FnErrorRollsBack(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := fmt.Errorf("boom")
	err := store.WithTx(context.Background(), func(generic.Store) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
