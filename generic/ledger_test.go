package generic_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/savings-engine/generic"
	"github.com/warp/savings-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger(t *testing.T, cfg generic.LedgerConfig) (*generic.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	if cfg.Clock == nil {
		cfg.Clock = generic.NewFixedClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), time.UTC)
	}
	return generic.NewLedger(mem, cfg), mem
}

// fund credits acct from the "funding" settlement account.
func fund(t *testing.T, l *generic.Ledger, acct generic.LedgerAccount, amount generic.Money, ref string) {
	t.Helper()
	src, err := l.EnsureSettlementAccount(context.Background(), "funding", amount.Currency)
	require.NoError(t, err)
	_, err = l.Transfer(context.Background(), generic.TransferRequest{
		From: src.ID, To: acct.ID, Amount: amount,
		Kind: generic.EntryTransfer, Reference: ref, Movement: generic.MovementSystem,
	})
	require.NoError(t, err)
}

func wallet(t *testing.T, l *generic.Ledger, owner string) generic.LedgerAccount {
	t.Helper()
	a, err := l.EnsureAccount(context.Background(), generic.OwnerID(owner), generic.AccountWallet, generic.NGN)
	require.NoError(t, err)
	return a
}

func balanceOf(t *testing.T, l *generic.Ledger, id generic.AccountID) generic.Money {
	t.Helper()
	a, err := l.Account(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

// =============================================================================
// TRANSFER
// =============================================================================

func TestTransfer_MovesMoneyAndWritesBothSides(t *testing.T) {
	// GIVEN: Alice has ₦1,000, Bob has nothing
	// WHEN: Alice sends ₦400 to Bob
	// THEN: Balances move by exactly 400 and both entries record balanceAfter

	l, _ := newTestLedger(t, generic.LedgerConfig{})
	ctx := context.Background()
	alice, bob := wallet(t, l, "alice"), wallet(t, l, "bob")
	fund(t, l, alice, naira(1_000), "seed-alice")

	res, err := l.Transfer(ctx, generic.TransferRequest{
		From: alice.ID, To: bob.ID, Amount: naira(400),
		Kind: generic.EntryTransfer, Reference: "tx-1", Movement: generic.MovementOutgoing,
	})
	require.NoError(t, err)

	assert.False(t, res.Replayed)
	assert.Equal(t, naira(600), res.Debit.BalanceAfter)
	assert.Equal(t, naira(400), res.Credit.BalanceAfter)
	assert.Equal(t, naira(600), balanceOf(t, l, alice.ID))
	assert.Equal(t, naira(400), balanceOf(t, l, bob.ID))
	assert.Equal(t, generic.Debit, res.Debit.Direction)
	assert.Equal(t, generic.Credit, res.Credit.Direction)
}

func TestTransfer_InsufficientFunds_NoStateChange(t *testing.T) {
	l, _ := newTestLedger(t, generic.LedgerConfig{})
	ctx := context.Background()
	alice, bob := wallet(t, l, "alice"), wallet(t, l, "bob")
	fund(t, l, alice, naira(100), "seed")

	_, err := l.Transfer(ctx, generic.TransferRequest{
		From: alice.ID, To: bob.ID, Amount: naira(101),
		Kind: generic.EntryTransfer, Reference: "tx-1", Movement: generic.MovementOutgoing,
	})

	var ife *generic.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.ErrorIs(t, err, generic.ErrInsufficientFunds)
	assert.Equal(t, naira(100), ife.Available)
	assert.Equal(t, naira(100), balanceOf(t, l, alice.ID))
	assert.True(t, balanceOf(t, l, bob.ID).IsZero())

	entries, err := l.Entries(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransfer_SameReferenceAppliesOnce(t *testing.T) {
	// GIVEN: A transfer already applied with reference "webhook-7"
	// WHEN: The webhook is redelivered
	// THEN: The prior result is returned and balances move only once

	l, _ := newTestLedger(t, generic.LedgerConfig{})
	ctx := context.Background()
	alice, bob := wallet(t, l, "alice"), wallet(t, l, "bob")
	fund(t, l, alice, naira(1_000), "seed")

	req := generic.TransferRequest{
		From: alice.ID, To: bob.ID, Amount: naira(250),
		Kind: generic.EntryTransfer, Reference: "webhook-7", Movement: generic.MovementOutgoing,
	}
	first, err := l.Transfer(ctx, req)
	require.NoError(t, err)
	second, err := l.Transfer(ctx, req)
	require.NoError(t, err)

	assert.NoError(t, first.Applied())
	assert.True(t, second.Replayed)
	assert.ErrorIs(t, second.Applied(), generic.ErrAlreadyApplied)
	assert.Equal(t, first.Debit.ID, second.Debit.ID)
	assert.Equal(t, first.Credit.ID, second.Credit.ID)
	assert.Equal(t, naira(750), balanceOf(t, l, alice.ID))
	assert.Equal(t, naira(250), balanceOf(t, l, bob.ID))
}

func TestTransfer_ReferenceReusedForDifferentTransfer_Rejected(t *testing.T) {
	l, _ := newTestLedger(t, generic.LedgerConfig{})
	ctx := context.Background()
	alice, bob := wallet(t, l, "alice"), wallet(t, l, "bob")
	fund(t, l, alice, naira(1_000), "seed")

	_, err := l.Transfer(ctx, generic.TransferRequest{
		From: alice.ID, To: bob.ID, Amount: naira(10),
		Kind: generic.EntryTransfer, Reference: "ref", Movement: generic.MovementOutgoing,
	})
	require.NoError(t, err)

	_, err = l.Transfer(ctx, generic.TransferRequest{
		From: alice.ID, To: bob.ID, Amount: naira(20),
		Kind: generic.EntryTransfer, Reference: "ref", Movement: generic.MovementOutgoing,
	})
	assert.ErrorIs(t, err, generic.ErrValidation)
	assert.Equal(t, naira(990), balanceOf(t, l, alice.ID))
}

func TestTransfer_ValidationErrors(t *testing.T) {
	l, _ := newTestLedger(t, generic.LedgerConfig{})
	ctx := context.Background()
	alice, bob := wallet(t, l, "alice"), wallet(t, l, "bob")
	usd, err := l.EnsureAccount(ctx, "carol", generic.AccountWallet, generic.USD)
	require.NoError(t, err)
	fund(t, l, alice, naira(100), "seed")

	cases := map[string]generic.TransferRequest{
		"zero amount":   {From: alice.ID, To: bob.ID, Amount: naira(0), Kind: generic.EntryTransfer, Reference: "a", Movement: generic.MovementOutgoing},
		"negative":      {From: alice.ID, To: bob.ID, Amount: kobo(-5), Kind: generic.EntryTransfer, Reference: "b", Movement: generic.MovementOutgoing},
		"no reference":  {From: alice.ID, To: bob.ID, Amount: naira(1), Kind: generic.EntryTransfer, Movement: generic.MovementOutgoing},
		"same account":  {From: alice.ID, To: alice.ID, Amount: naira(1), Kind: generic.EntryTransfer, Reference: "c", Movement: generic.MovementOutgoing},
		"currency":      {From: alice.ID, To: usd.ID, Amount: naira(1), Kind: generic.EntryTransfer, Reference: "d", Movement: generic.MovementOutgoing},
		"unknown kind":  {From: alice.ID, To: bob.ID, Amount: naira(1), Kind: "gift", Reference: "e", Movement: generic.MovementOutgoing},
		"bad movement":  {From: alice.ID, To: bob.ID, Amount: naira(1), Kind: generic.EntryTransfer, Reference: "f", Movement: "teleport"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.Transfer(ctx, req)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}

	_, err = l.Transfer(ctx, cases["currency"])
	assert.ErrorIs(t, err, generic.ErrCurrencyMismatch)
	assert.Equal(t, naira(100), balanceOf(t, l, alice.ID))
}

func TestTransfer_SettlementMayGoNegative(t *testing.T) {
	l, _ := newTestLedger(t, generic.LedgerConfig{})
	ctx := context.Background()
	alice := wallet(t, l, "alice")
	fund(t, l, alice, naira(500), "seed")

	src, err := l.EnsureSettlementAccount(ctx, "funding", generic.NGN)
	require.NoError(t, err)
	assert.Equal(t, naira(-500), src.Balance)
	assert.Equal(t, generic.SystemOwner, src.OwnerID)
}

// =============================================================================
// REVERSAL
// =============================================================================

func TestReverse_CreatesOppositeEntriesLinkedToOriginal(t *testing.T) {
	l, _ := newTestLedger(t, generic.LedgerConfig{})
	ctx := context.Background()
	alice, bob := wallet(t, l, "alice"), wallet(t, l, "bob")
	fund(t, l, alice, naira(1_000), "seed")

	orig, err := l.Transfer(ctx, generic.TransferRequest{
		From: alice.ID, To: bob.ID, Amount: naira(300),
		Kind: generic.EntryTransfer, Reference: "tx-1", Movement: generic.MovementOutgoing,
	})
	require.NoError(t, err)

	rev, err := l.Reverse(ctx, orig.Credit.ID)
	require.NoError(t, err)

	assert.Equal(t, generic.EntryReversal, rev.Debit.Kind)
	assert.Equal(t, bob.ID, rev.Debit.AccountID)
	assert.Equal(t, alice.ID, rev.Credit.AccountID)
	require.NotNil(t, rev.Debit.RelatedEntryID)
	require.NotNil(t, rev.Credit.RelatedEntryID)
	assert.Equal(t, orig.Credit.ID, *rev.Debit.RelatedEntryID)
	assert.Equal(t, orig.Debit.ID, *rev.Credit.RelatedEntryID)
	assert.Equal(t, naira(1_000), balanceOf(t, l, alice.ID))
	assert.True(t, balanceOf(t, l, bob.ID).IsZero())

	// Originals untouched.
	stored, err := l.Store().GetEntry(ctx, orig.Debit.ID)
	require.NoError(t, err)
	assert.Equal(t, orig.Debit, stored)

	// Reversing again is a replay, not a second reversal.
	again, err := l.Reverse(ctx, orig.Debit.ID)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, naira(1_000), balanceOf(t, l, alice.ID))

	// A reversal cannot itself be reversed.
	_, err = l.Reverse(ctx, rev.Debit.ID)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestReverse_FailsWhenCounterpartySpentFunds(t *testing.T) {
	l, _ := newTestLedger(t, generic.LedgerConfig{})
	ctx := context.Background()
	alice, bob, carol := wallet(t, l, "alice"), wallet(t, l, "bob"), wallet(t, l, "carol")
	fund(t, l, alice, naira(100), "seed")

	orig, err := l.Transfer(ctx, generic.TransferRequest{
		From: alice.ID, To: bob.ID, Amount: naira(100),
		Kind: generic.EntryTransfer, Reference: "tx-1", Movement: generic.MovementOutgoing,
	})
	require.NoError(t, err)
	_, err = l.Transfer(ctx, generic.TransferRequest{
		From: bob.ID, To: carol.ID, Amount: naira(60),
		Kind: generic.EntryTransfer, Reference: "tx-2", Movement: generic.MovementOutgoing,
	})
	require.NoError(t, err)

	_, err = l.Reverse(ctx, orig.Debit.ID)
	assert.ErrorIs(t, err, generic.ErrInsufficientFunds)
}

// =============================================================================
// REPLAY / VERIFY
// =============================================================================

func TestVerify_ReplayReproducesBalance(t *testing.T) {
	l, _ := newTestLedger(t, generic.LedgerConfig{})
	ctx := context.Background()
	alice, bob := wallet(t, l, "alice"), wallet(t, l, "bob")
	fund(t, l, alice, naira(1_000), "seed")

	for i, amt := range []int64{10, 250, 3, 99} {
		_, err := l.Transfer(ctx, generic.TransferRequest{
			From: alice.ID, To: bob.ID, Amount: naira(amt),
			Kind: generic.EntryTransfer, Reference: "t" + string(rune('a'+i)), Movement: generic.MovementOutgoing,
		})
		require.NoError(t, err)
	}

	res, err := l.Verify(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, naira(638), res.Balance)
	assert.Equal(t, 5, res.Entries)

	res, err = l.Verify(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, naira(362), res.Balance)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestTransfer_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	// GIVEN: Alice has ₦100
	// WHEN: Two ₦70 transfers race
	// THEN: Exactly one succeeds; the other fails with InsufficientFunds or Conflict

	l, _ := newTestLedger(t, generic.LedgerConfig{})
	ctx := context.Background()
	alice, bob := wallet(t, l, "alice"), wallet(t, l, "bob")
	fund(t, l, alice, naira(100), "seed")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Transfer(ctx, generic.TransferRequest{
				From: alice.ID, To: bob.ID, Amount: naira(70),
				Kind: generic.EntryTransfer, Reference: []string{"race-a", "race-b"}[i], Movement: generic.MovementOutgoing,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, generic.ErrInsufficientFunds) || errors.Is(err, generic.ErrConflict), "unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, naira(30), balanceOf(t, l, alice.ID))
}

// conflictingStore fails every balance update with a version conflict.
type conflictingStore struct {
	*store.Memory
	attempts int
}

func (c *conflictingStore) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return c.Memory.WithTx(ctx, func(s generic.Store) error {
		c.attempts++
		return fn(conflictingView{s})
	})
}

type conflictingView struct{ generic.Store }

func (conflictingView) UpdateBalance(context.Context, generic.AccountID, generic.Money, int64, time.Time) error {
	return generic.ErrVersionConflict
}

type retryCounter struct{ retries int }

func (r *retryCounter) TransferApplied(generic.EntryKind, generic.Money) {}
func (r *retryCounter) ConflictRetried()                                 { r.retries++ }

func TestTransfer_ConflictRetriesAreBounded(t *testing.T) {
	mem := store.NewMemory()
	cs := &conflictingStore{Memory: mem}
	obs := &retryCounter{}
	l := generic.NewLedger(cs, generic.LedgerConfig{MaxAttempts: 3, Backoff: time.Microsecond, Observer: obs})
	ctx := context.Background()

	a, err := l.EnsureAccount(ctx, "alice", generic.AccountWallet, generic.NGN)
	require.NoError(t, err)
	b, err := l.EnsureAccount(ctx, "bob", generic.AccountWallet, generic.NGN)
	require.NoError(t, err)
	require.NoError(t, mem.UpdateBalance(ctx, a.ID, naira(10), 0, time.Now()))

	_, err = l.Transfer(ctx, generic.TransferRequest{
		From: a.ID, To: b.ID, Amount: naira(1),
		Kind: generic.EntryTransfer, Reference: "x", Movement: generic.MovementOutgoing,
	})

	var ce *generic.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)
	assert.Equal(t, 3, cs.attempts)
	assert.Equal(t, 2, obs.retries)
	assert.True(t, generic.IsRetryable(err))
}

// =============================================================================
// GUARD HOOK
// =============================================================================

type denyAll struct{ calls int }

func (d *denyAll) Authorize(context.Context, generic.Store, generic.AuthorizationRequest) (generic.Decision, error) {
	d.calls++
	return generic.Decision{Allowed: false, Reason: "daily limit"}, nil
}

func TestTransfer_GuardConsultedOnlyForUserMovements(t *testing.T) {
	guard := &denyAll{}
	l, _ := newTestLedger(t, generic.LedgerConfig{Guard: guard})
	ctx := context.Background()
	alice, bob := wallet(t, l, "alice"), wallet(t, l, "bob")

	// System funding bypasses the guard.
	fund(t, l, alice, naira(100), "seed")
	assert.Equal(t, 0, guard.calls)

	_, err := l.Transfer(ctx, generic.TransferRequest{
		From: alice.ID, To: bob.ID, Amount: naira(10),
		Kind: generic.EntryTransfer, Reference: "out", Movement: generic.MovementOutgoing,
	})
	assert.ErrorIs(t, err, generic.ErrLimitExceeded)
	assert.True(t, generic.IsClientError(err))
	assert.Equal(t, 1, guard.calls)
	assert.Equal(t, naira(100), balanceOf(t, l, alice.ID))
}

// errTxAborted is what a database that aborts on unique violations returns
// for any further work in that transaction.
var errTxAborted = errors.New("current transaction is aborted")

// racingStore loses the next wallet creation to a concurrent insert. Like
// PostgreSQL, the losing transaction is unusable afterwards; the rival row
// becomes visible once it ends.
type racingStore struct {
	*store.Memory
	armed bool
	rival *generic.LedgerAccount
}

func (s *racingStore) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	err := s.Memory.WithTx(ctx, func(st generic.Store) error {
		v := &racingView{Store: st, owner: s}
		if err := fn(v); err != nil {
			return err
		}
		if v.aborted {
			return errTxAborted
		}
		return nil
	})
	if s.rival != nil {
		if cerr := s.Memory.CreateAccount(ctx, *s.rival); cerr != nil {
			return cerr
		}
		s.rival = nil
	}
	return err
}

type racingView struct {
	generic.Store
	owner   *racingStore
	aborted bool
}

func (v *racingView) FindAccount(ctx context.Context, owner generic.OwnerID, kind generic.AccountKind, c generic.Currency) (generic.LedgerAccount, error) {
	if v.aborted {
		return generic.LedgerAccount{}, errTxAborted
	}
	return v.Store.FindAccount(ctx, owner, kind, c)
}

func (v *racingView) CreateAccount(ctx context.Context, a generic.LedgerAccount) error {
	if v.aborted {
		return errTxAborted
	}
	if v.owner.armed {
		v.owner.armed = false
		rival := a
		rival.ID = generic.NewAccountID()
		v.owner.rival = &rival
		v.aborted = true
		return fmt.Errorf("account %s: %w", a.ID, generic.ErrAlreadyExists)
	}
	return v.Store.CreateAccount(ctx, a)
}

func TestEnsureAccount_LosingCreateRaceRetriesFromScratch(t *testing.T) {
	// GIVEN: A store where another writer creates alice's wallet first
	rs := &racingStore{Memory: store.NewMemory(), armed: true}
	l := generic.NewLedger(rs, generic.LedgerConfig{
		Clock: generic.NewFixedClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), time.UTC),
	})

	// WHEN: Alice's wallet is ensured
	got, err := l.EnsureAccount(context.Background(), "alice", generic.AccountWallet, generic.NGN)

	// THEN: The retry returns the winner's account instead of failing
	require.NoError(t, err)
	assert.NotEqual(t, generic.AccountID(""), got.ID)

	all, err := rs.ListAccounts(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, all[0].ID, got.ID)
}
