package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/savings-engine/generic"
	"github.com/warp/savings-engine/savings"
	"github.com/warp/savings-engine/store/sqlite"
)

func naira(major int64) generic.Money { return generic.FromMajor(major, generic.NGN) }

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func account(owner string, kind generic.AccountKind) generic.LedgerAccount {
	return generic.LedgerAccount{
		ID:        generic.NewAccountID(),
		OwnerID:   generic.OwnerID(owner),
		Kind:      kind,
		Balance:   generic.Zero(generic.NGN),
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestAccounts_CreateFindAndUniqueness(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	w := account("alice", generic.AccountWallet)
	require.NoError(t, s.CreateAccount(ctx, w))

	got, err := s.FindAccount(ctx, "alice", generic.AccountWallet, generic.NGN)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
	assert.Equal(t, t0, got.CreatedAt)

	// A second wallet for the same owner is rejected
	err = s.CreateAccount(ctx, account("alice", generic.AccountWallet))
	assert.ErrorIs(t, err, generic.ErrAlreadyExists)

	// Fixed deposits are not unique per owner
	require.NoError(t, s.CreateAccount(ctx, account("alice", generic.AccountFixedSavings)))
	require.NoError(t, s.CreateAccount(ctx, account("alice", generic.AccountFixedSavings)))

	all, err := s.ListAccounts(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestAccounts_UpdateBalanceIsCompareAndSwap(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	w := account("alice", generic.AccountWallet)
	require.NoError(t, s.CreateAccount(ctx, w))

	require.NoError(t, s.UpdateBalance(ctx, w.ID, naira(10), 0, t0))

	// Stale version
	err := s.UpdateBalance(ctx, w.ID, naira(20), 0, t0)
	assert.ErrorIs(t, err, generic.ErrVersionConflict)

	// Missing account
	err = s.UpdateBalance(ctx, "missing", naira(20), 0, t0)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	got, err := s.GetAccount(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, naira(10), got.Balance)
	assert.Equal(t, int64(1), got.Version)
}

// =============================================================================
// ENTRIES
// =============================================================================

func entry(acct generic.LedgerAccount, dir generic.Direction, amount generic.Money, ref string, mv generic.Movement, seq int64, at time.Time) generic.LedgerEntry {
	return generic.LedgerEntry{
		ID:           generic.NewEntryID(),
		AccountID:    acct.ID,
		OwnerID:      acct.OwnerID,
		Direction:    dir,
		Amount:       amount,
		BalanceAfter: amount,
		Reference:    ref,
		Kind:         generic.EntryTransfer,
		Movement:     mv,
		Seq:          seq,
		CreatedAt:    at,
	}
}

func TestEntries_DuplicateReferenceRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := account("alice", generic.AccountWallet)
	b := account("bob", generic.AccountWallet)
	require.NoError(t, s.CreateAccount(ctx, a))
	require.NoError(t, s.CreateAccount(ctx, b))

	require.NoError(t, s.AppendEntries(ctx,
		entry(a, generic.Debit, naira(5), "ref-1", generic.MovementOutgoing, 1, t0),
		entry(b, generic.Credit, naira(5), "ref-1", generic.MovementOutgoing, 1, t0),
	))

	// A batch with a clash writes nothing
	err := s.AppendEntries(ctx,
		entry(a, generic.Debit, naira(5), "ref-2", generic.MovementOutgoing, 2, t0),
		entry(b, generic.Credit, naira(5), "ref-1", generic.MovementOutgoing, 2, t0),
	)
	assert.ErrorIs(t, err, generic.ErrDuplicateReference)

	byRef, err := s.EntriesByReference(ctx, "ref-2")
	require.NoError(t, err)
	assert.Empty(t, byRef)

	list, err := s.ListEntries(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ref-1", list[0].Reference)
}

func TestEntries_SumDebitsWindow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := account("alice", generic.AccountWallet)
	require.NoError(t, s.CreateAccount(ctx, a))

	day := generic.DateOf(t0, time.UTC)
	start, end := day.Window(time.UTC)
	require.NoError(t, s.AppendEntries(ctx,
		entry(a, generic.Debit, naira(100), "in-1", generic.MovementOutgoing, 1, start),
		entry(a, generic.Debit, naira(200), "in-2", generic.MovementOutgoing, 2, end.Add(-time.Nanosecond)),
		entry(a, generic.Debit, naira(400), "next-day", generic.MovementOutgoing, 3, end),
		entry(a, generic.Debit, naira(800), "internal", generic.MovementInternal, 4, t0),
	))

	total, err := s.SumDebits(ctx, "alice", generic.MovementOutgoing, generic.NGN, start, end)
	require.NoError(t, err)
	assert.Equal(t, naira(300).Minor, total)
}

// =============================================================================
// SAVINGS AND RUNS
// =============================================================================

func TestSavings_VersionedUpdateAndMilestones(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	flex := account("alice", generic.AccountFlexibleSavings)
	require.NoError(t, s.CreateAccount(ctx, flex))

	acc := generic.SavingsAccount{
		ID:                     "sav-1",
		OwnerID:                "alice",
		LedgerAccountID:        flex.ID,
		IsActive:               true,
		SavingsPercentage:      decimal.RequireFromString("7.5"),
		MinTransactionAmount:   naira(100),
		TotalSavedFromSpending: generic.Zero(generic.NGN),
		TotalInterestEarned:    generic.Zero(generic.NGN),
		LastAccruedOn:          generic.DateOf(t0, time.UTC),
		CreatedAt:              t0,
		UpdatedAt:              t0,
	}
	require.NoError(t, s.CreateSavingsAccount(ctx, acc))
	assert.ErrorIs(t, s.CreateSavingsAccount(ctx, acc), generic.ErrAlreadyExists)

	got, err := s.GetSavingsAccountByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.SavingsPercentage.Equal(decimal.RequireFromString("7.5")))
	assert.Equal(t, acc.LastAccruedOn, got.LastAccruedOn)
	assert.Nil(t, got.LastAutoSaveAt)

	now := t0.Add(time.Hour)
	got.IsActive = false
	got.LastAutoSaveAt = &now
	require.NoError(t, s.UpdateSavingsAccount(ctx, got))
	assert.ErrorIs(t, s.UpdateSavingsAccount(ctx, got), generic.ErrVersionConflict)

	active, err := s.ListActiveSavingsAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	m := generic.SavingsMilestone{AccountID: "sav-1", Key: "first_save", Threshold: generic.NewMoney(1, generic.NGN), ReachedAt: now}
	require.NoError(t, s.RecordMilestone(ctx, m))
	assert.ErrorIs(t, s.RecordMilestone(ctx, m), generic.ErrAlreadyExists)
}

func TestAccrualRuns_CompletedRowIsFrozen(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	day := generic.DateOf(t0, time.UTC)
	done := t0.Add(time.Minute)

	run := generic.DailyAccrualRun{
		BusinessDate: day, AccountID: "sav-1", Product: generic.ProductFlexible,
		Status: generic.RunPending, Attempts: 1, StartedAt: t0,
	}
	require.NoError(t, s.SaveAccrualRun(ctx, run))

	run.Status = generic.RunCompleted
	run.InterestCredited = generic.NewMoney(547, generic.NGN)
	run.CompletedAt = &done
	require.NoError(t, s.SaveAccrualRun(ctx, run))

	// A late failure write must not overwrite the completed row
	run.Status = generic.RunFailed
	run.Error = "late"
	require.NoError(t, s.SaveAccrualRun(ctx, run))

	got, err := s.GetAccrualRun(ctx, day, "sav-1")
	require.NoError(t, err)
	assert.Equal(t, generic.RunCompleted, got.Status)
	assert.Equal(t, generic.NewMoney(547, generic.NGN), got.InterestCredited)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, done, *got.CompletedAt)

	runs, err := s.ListAccrualRuns(ctx, day)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// =============================================================================
// END TO END
// =============================================================================

func TestSQLite_SavingsLifecycle(t *testing.T) {
	// GIVEN: The savings service running on SQLite
	s := newStore(t)
	ctx := context.Background()
	clock := generic.NewFixedClock(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), time.UTC)
	l := generic.NewLedger(s, generic.LedgerConfig{Clock: clock})
	svc, err := savings.NewService(l, savings.DefaultConfig(generic.NGN))
	require.NoError(t, err)

	funding, err := l.EnsureSettlementAccount(ctx, "funding", generic.NGN)
	require.NoError(t, err)
	wallet, err := l.EnsureAccount(ctx, "alice", generic.AccountWallet, generic.NGN)
	require.NoError(t, err)
	_, err = l.Transfer(ctx, generic.TransferRequest{
		From: funding.ID, To: wallet.ID, Amount: naira(200_000),
		Kind: generic.EntryTransfer, Reference: "fund-1", Movement: generic.MovementSystem,
	})
	require.NoError(t, err)

	// WHEN: Alice activates, spends, and locks a fixed deposit
	acc, err := svc.Activate(ctx, savings.ActivateRequest{OwnerID: "alice", SavingsPercentage: decimal.NewFromInt(5), InitialDeposit: naira(10_000)})
	require.NoError(t, err)
	res, err := svc.OnSpendingTransaction(ctx, savings.SpendingTransaction{
		ID: "tx-1", OwnerID: "alice", Amount: naira(1_000), Direction: generic.Debit, Status: savings.SpendSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, naira(50), res.Saved)

	fx, err := svc.CreateFixedSavings(ctx, savings.CreateFixedRequest{OwnerID: "alice", Principal: naira(100_000), Days: 30})
	require.NoError(t, err)

	// AND: Accrual runs twice for the same date
	date := generic.NewBusinessDate(2025, time.January, 2)
	first, err := svc.RunAccrual(ctx, date)
	require.NoError(t, err)
	second, err := svc.RunAccrual(ctx, date)
	require.NoError(t, err)

	// THEN: Both accounts are credited once
	assert.Equal(t, 2, first.Processed)
	assert.Equal(t, 2, second.Skipped)
	assert.True(t, second.Credited.IsZero())

	for _, id := range []generic.AccountID{wallet.ID, acc.LedgerAccountID, fx.LedgerAccountID} {
		_, err := l.Verify(ctx, id)
		require.NoError(t, err, "verify %s", id)
	}
}

func TestSQLite_RedundantAccrualWorkersCreditOnce(t *testing.T) {
	// GIVEN: Two engine instances, each with its own connection to one database file
	path := filepath.Join(t.TempDir(), "engine.db")
	ctx := context.Background()
	clock := generic.NewFixedClock(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), time.UTC)

	var (
		ledgers  []*generic.Ledger
		services []*savings.Service
	)
	for i := 0; i < 2; i++ {
		s, err := sqlite.New(path)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		l := generic.NewLedger(s, generic.LedgerConfig{Clock: clock, MaxAttempts: 20})
		cfg := savings.DefaultConfig(generic.NGN)
		cfg.Workers = 4
		svc, err := savings.NewService(l, cfg)
		require.NoError(t, err)
		ledgers = append(ledgers, l)
		services = append(services, svc)
	}

	l := ledgers[0]
	funding, err := l.EnsureSettlementAccount(ctx, "funding", generic.NGN)
	require.NoError(t, err)
	var accounts []generic.SavingsAccount
	for i := 0; i < 20; i++ {
		owner := generic.OwnerID(fmt.Sprintf("owner-%02d", i))
		wallet, err := l.EnsureAccount(ctx, owner, generic.AccountWallet, generic.NGN)
		require.NoError(t, err)
		_, err = l.Transfer(ctx, generic.TransferRequest{
			From: funding.ID, To: wallet.ID, Amount: naira(20_000),
			Kind: generic.EntryTransfer, Reference: "fund:" + string(owner), Movement: generic.MovementSystem,
		})
		require.NoError(t, err)
		acc, err := services[0].Activate(ctx, savings.ActivateRequest{OwnerID: owner, SavingsPercentage: decimal.NewFromInt(5), InitialDeposit: naira(10_000)})
		require.NoError(t, err)
		accounts = append(accounts, acc)
	}
	date := generic.NewBusinessDate(2025, time.January, 2)

	// WHEN: Both run accrual for the same date concurrently
	reports := make([]savings.Report, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc *savings.Service) {
			defer wg.Done()
			reports[i], errs[i] = svc.RunAccrual(ctx, date)
		}(i, svc)
	}
	wg.Wait()

	// THEN: Each account is processed by exactly one instance
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Empty(t, reports[0].Failures)
	assert.Empty(t, reports[1].Failures)
	assert.Equal(t, len(accounts), reports[0].Processed+reports[1].Processed)

	// AND: Each account has a single interest entry for the date and a consistent ledger
	for _, acc := range accounts {
		entries, err := l.Entries(ctx, acc.LedgerAccountID)
		require.NoError(t, err)
		n := 0
		for _, e := range entries {
			if e.Kind == generic.EntryInterest && e.Reference == generic.AccrualReference(date, acc.ID) {
				n++
			}
		}
		assert.Equal(t, 1, n, "account %s", acc.ID)
		_, err = l.Verify(ctx, acc.LedgerAccountID)
		require.NoError(t, err)
	}
}
