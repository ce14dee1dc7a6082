package savings_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/savings-engine/generic"
	"github.com/warp/savings-engine/generic/store"
	"github.com/warp/savings-engine/savings"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func naira(major int64) generic.Money { return generic.FromMajor(major, generic.NGN) }

func kobo(minor int64) generic.Money { return generic.NewMoney(minor, generic.NGN) }

func pct(p int64) decimal.Decimal { return decimal.NewFromInt(p) }

var jan1 = generic.NewBusinessDate(2025, time.January, 1)

type recorder struct {
	mu     sync.Mutex
	events []generic.EventKind
}

func (r *recorder) Notify(_ context.Context, _ generic.OwnerID, kind generic.EventKind, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
	return nil
}

func (r *recorder) count(kind generic.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.events {
		if k == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	svc    *savings.Service
	ledger *generic.Ledger
	mem    *store.Memory
	clock  *generic.FixedClock
	events *recorder
}

func newFixture(t *testing.T, mutate func(*savings.Config)) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemory(), nil, mutate)
}

func newFixtureWithStore(t *testing.T, mem *store.Memory, wrap func(*store.Memory) generic.TxStore, mutate func(*savings.Config)) *fixture {
	t.Helper()
	clock := generic.NewFixedClock(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), time.UTC)
	var txs generic.TxStore = mem
	if wrap != nil {
		txs = wrap(mem)
	}
	l := generic.NewLedger(txs, generic.LedgerConfig{Clock: clock})
	events := &recorder{}
	cfg := savings.DefaultConfig(generic.NGN)
	cfg.Notifier = events
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := savings.NewService(l, cfg)
	require.NoError(t, err)
	return &fixture{svc: svc, ledger: l, mem: mem, clock: clock, events: events}
}

// fundWallet credits owner's wallet from the "funding" settlement account.
func (f *fixture) fundWallet(t *testing.T, owner string, amount generic.Money) generic.LedgerAccount {
	t.Helper()
	ctx := context.Background()
	src, err := f.ledger.EnsureSettlementAccount(ctx, "funding", generic.NGN)
	require.NoError(t, err)
	w, err := f.ledger.EnsureAccount(ctx, generic.OwnerID(owner), generic.AccountWallet, generic.NGN)
	require.NoError(t, err)
	_, err = f.ledger.Transfer(ctx, generic.TransferRequest{
		From: src.ID, To: w.ID, Amount: amount,
		Kind: generic.EntryTransfer, Reference: "fund:" + owner + ":" + generic.NewID(), Movement: generic.MovementSystem,
	})
	require.NoError(t, err)
	return w
}

func (f *fixture) balance(t *testing.T, id generic.AccountID) generic.Money {
	t.Helper()
	a, err := f.ledger.Account(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func (f *fixture) activate(t *testing.T, owner string, percentage int64, deposit generic.Money) generic.SavingsAccount {
	t.Helper()
	acc, err := f.svc.Activate(context.Background(), savings.ActivateRequest{
		OwnerID:           generic.OwnerID(owner),
		SavingsPercentage: pct(percentage),
		InitialDeposit:    deposit,
	})
	require.NoError(t, err)
	return acc
}

func spend(id, owner string, amount generic.Money) savings.SpendingTransaction {
	return savings.SpendingTransaction{
		ID:        id,
		OwnerID:   generic.OwnerID(owner),
		Amount:    amount,
		Direction: generic.Debit,
		Status:    savings.SpendSuccess,
	}
}

// =============================================================================
// SPEND TRIGGER
// =============================================================================

func TestSpend_SavesPercentageOfDebit(t *testing.T) {
	// GIVEN: Alice has ₦10,000 in her wallet and saves 5% of every spend
	f := newFixture(t, nil)
	wallet := f.fundWallet(t, "alice", naira(10_000))
	acc := f.activate(t, "alice", 5, generic.Money{})

	// WHEN: A ₦1,000 debit is reported
	res, err := f.svc.OnSpendingTransaction(context.Background(), spend("tx-1", "alice", naira(1_000)))
	require.NoError(t, err)

	// THEN: ₦50 moves from the wallet into savings
	assert.Equal(t, naira(50), res.Saved)
	assert.Empty(t, res.SkipReason)
	assert.False(t, res.Replayed)
	assert.Equal(t, naira(9_950), f.balance(t, wallet.ID))
	assert.Equal(t, naira(50), f.balance(t, acc.LedgerAccountID))
	assert.Equal(t, 1, f.events.count(generic.EventSpendSaved))
}

func TestSpend_FloorsFractionalSave(t *testing.T) {
	f := newFixture(t, nil)
	f.fundWallet(t, "alice", naira(10_000))
	f.activate(t, "alice", 3, generic.Money{})

	// 3% of ₦333.33 is ₦9.9999, floored to ₦9.99
	res, err := f.svc.OnSpendingTransaction(context.Background(), spend("tx-1", "alice", kobo(33_333)))
	require.NoError(t, err)
	assert.Equal(t, kobo(999), res.Saved)
}

func TestSpend_RedeliveryIsReplayed(t *testing.T) {
	// GIVEN: A spend that was already saved
	f := newFixture(t, nil)
	wallet := f.fundWallet(t, "alice", naira(10_000))
	acc := f.activate(t, "alice", 10, generic.Money{})
	ctx := context.Background()

	first, err := f.svc.OnSpendingTransaction(ctx, spend("tx-1", "alice", naira(1_000)))
	require.NoError(t, err)
	require.Equal(t, naira(100), first.Saved)

	// WHEN: The same transaction is delivered again
	second, err := f.svc.OnSpendingTransaction(ctx, spend("tx-1", "alice", naira(1_000)))
	require.NoError(t, err)

	// THEN: Nothing moves a second time
	assert.True(t, second.Replayed)
	assert.Equal(t, naira(100), second.Saved)
	assert.Empty(t, second.Milestones)
	assert.Equal(t, naira(9_900), f.balance(t, wallet.ID))

	summary, err := f.svc.GetSavings(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Account.TotalTransactionsProcessed)
	assert.Equal(t, naira(100), summary.Account.TotalSavedFromSpending)
	assert.Equal(t, acc.ID, summary.Account.ID)
	assert.Equal(t, 1, f.events.count(generic.EventSpendSaved))
}

func TestSpend_MilestonesFireOnce(t *testing.T) {
	// GIVEN: Alice saves 10% of spends
	f := newFixture(t, nil)
	f.fundWallet(t, "alice", naira(100_000))
	f.activate(t, "alice", 10, generic.Money{})
	ctx := context.Background()

	// WHEN: She spends ₦500 (saves ₦50)
	res, err := f.svc.OnSpendingTransaction(ctx, spend("tx-1", "alice", naira(500)))
	require.NoError(t, err)

	// THEN: Only first_save is reached
	require.Len(t, res.Milestones, 1)
	assert.Equal(t, "first_save", res.Milestones[0].Key)

	// WHEN: She spends ₦600 more (total saved ₦110)
	res, err = f.svc.OnSpendingTransaction(ctx, spend("tx-2", "alice", naira(600)))
	require.NoError(t, err)

	// THEN: hundred_naira fires and first_save does not fire again
	require.Len(t, res.Milestones, 1)
	assert.Equal(t, "hundred_naira", res.Milestones[0].Key)

	// WHEN: A spend jumps the total past ₦1,000
	res, err = f.svc.OnSpendingTransaction(ctx, spend("tx-3", "alice", naira(9_000)))
	require.NoError(t, err)

	// THEN: Every rung crossed fires in ladder order
	keys := make([]string, 0, len(res.Milestones))
	for _, m := range res.Milestones {
		keys = append(keys, m.Key)
	}
	assert.Equal(t, []string{"five_hundred_naira", "thousand_naira"}, keys)

	summary, err := f.svc.GetSavings(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, summary.Milestones, 4)
	assert.Equal(t, 4, f.events.count(generic.EventMilestone))
}

var errTxAborted = errors.New("current transaction is aborted")

// milestoneRaceStore loses the next milestone insert to a concurrent save.
// The losing transaction cannot commit; the rival row lands once it ends.
type milestoneRaceStore struct {
	*store.Memory
	armed bool
	rival *generic.SavingsMilestone
}

func (s *milestoneRaceStore) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	err := s.Memory.WithTx(ctx, func(st generic.Store) error {
		v := &milestoneRaceView{Store: st, owner: s}
		if err := fn(v); err != nil {
			return err
		}
		if v.aborted {
			return errTxAborted
		}
		return nil
	})
	if s.rival != nil {
		if rerr := s.Memory.RecordMilestone(ctx, *s.rival); rerr != nil {
			return rerr
		}
		s.rival = nil
	}
	return err
}

type milestoneRaceView struct {
	generic.Store
	owner   *milestoneRaceStore
	aborted bool
}

func (v *milestoneRaceView) RecordMilestone(ctx context.Context, m generic.SavingsMilestone) error {
	if v.aborted {
		return errTxAborted
	}
	if v.owner.armed {
		v.owner.armed = false
		v.owner.rival = &m
		v.aborted = true
		return fmt.Errorf("milestone %s/%s: %w", m.AccountID, m.Key, generic.ErrAlreadyExists)
	}
	return v.Store.RecordMilestone(ctx, m)
}

func TestSpend_MilestoneRaceRetriesWholeSave(t *testing.T) {
	// GIVEN: Another writer records alice's first milestone concurrently
	mem := store.NewMemory()
	ms := &milestoneRaceStore{Memory: mem}
	f := newFixtureWithStore(t, mem, func(*store.Memory) generic.TxStore { return ms }, nil)
	wallet := f.fundWallet(t, "alice", naira(100_000))
	f.activate(t, "alice", 10, generic.Money{})
	ms.armed = true
	ctx := context.Background()

	// WHEN: Her spend crosses the rung
	res, err := f.svc.OnSpendingTransaction(ctx, spend("tx-1", "alice", naira(500)))

	// THEN: The save is applied once and the rung is not recorded twice
	require.NoError(t, err)
	assert.Equal(t, naira(50), res.Saved)
	assert.Empty(t, res.Milestones)
	assert.Equal(t, naira(99_950), f.balance(t, wallet.ID))

	summary, err := f.svc.GetSavings(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summary.Milestones, 1)
	assert.Equal(t, "first_save", summary.Milestones[0].Key)
	assert.Equal(t, naira(50), summary.Account.TotalSavedFromSpending)
}

func TestSpend_Skips(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		setup  func(t *testing.T, f *fixture)
		tx     savings.SpendingTransaction
		reason string
	}{
		{
			name:   "pending transaction",
			setup:  func(t *testing.T, f *fixture) { f.activate(t, "alice", 5, generic.Money{}) },
			tx:     savings.SpendingTransaction{ID: "tx", OwnerID: "alice", Amount: naira(1_000), Direction: generic.Debit, Status: savings.SpendPending},
			reason: savings.SkipNotSuccessful,
		},
		{
			name:   "credit",
			setup:  func(t *testing.T, f *fixture) { f.activate(t, "alice", 5, generic.Money{}) },
			tx:     savings.SpendingTransaction{ID: "tx", OwnerID: "alice", Amount: naira(1_000), Direction: generic.Credit, Status: savings.SpendSuccess},
			reason: savings.SkipNotDebit,
		},
		{
			name:   "no savings account",
			setup:  func(t *testing.T, f *fixture) {},
			tx:     spend("tx", "alice", naira(1_000)),
			reason: savings.SkipNoAccount,
		},
		{
			name:   "below threshold",
			setup:  func(t *testing.T, f *fixture) { f.activate(t, "alice", 5, generic.Money{}) },
			tx:     spend("tx", "alice", naira(99)),
			reason: savings.SkipBelowMinimum,
		},
		{
			name: "inactive",
			setup: func(t *testing.T, f *fixture) {
				f.activate(t, "alice", 5, generic.Money{})
				_, err := f.svc.Deactivate(ctx, "alice")
				require.NoError(t, err)
			},
			tx:     spend("tx", "alice", naira(1_000)),
			reason: savings.SkipInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			wallet := f.fundWallet(t, "alice", naira(5_000))
			tt.setup(t, f)

			res, err := f.svc.OnSpendingTransaction(ctx, tt.tx)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, res.SkipReason)
			assert.True(t, res.Saved.IsZero())
			assert.Equal(t, naira(5_000), f.balance(t, wallet.ID))
		})
	}
}

func TestSpend_ClampedToWalletBalance(t *testing.T) {
	// GIVEN: The wallet holds only ₦20 after the spend
	f := newFixture(t, nil)
	wallet := f.fundWallet(t, "alice", naira(20))
	f.activate(t, "alice", 5, generic.Money{})

	// WHEN: A ₦1,000 spend asks for ₦50
	res, err := f.svc.OnSpendingTransaction(context.Background(), spend("tx-1", "alice", naira(1_000)))
	require.NoError(t, err)

	// THEN: Only what the wallet holds is saved
	assert.Equal(t, naira(20), res.Saved)
	assert.True(t, f.balance(t, wallet.ID).IsZero())
}

// =============================================================================
// FLEXIBLE LIFECYCLE
// =============================================================================

func TestActivate_WithInitialDeposit(t *testing.T) {
	f := newFixture(t, nil)
	wallet := f.fundWallet(t, "alice", naira(5_000))

	acc := f.activate(t, "alice", 5, naira(2_000))

	assert.True(t, acc.IsActive)
	assert.Equal(t, naira(100), acc.MinTransactionAmount)
	assert.Equal(t, jan1, acc.LastAccruedOn)
	assert.Equal(t, naira(3_000), f.balance(t, wallet.ID))
	assert.Equal(t, naira(2_000), f.balance(t, acc.LedgerAccountID))
	assert.Equal(t, 1, f.events.count(generic.EventActivated))
}

func TestActivate_RejectsBadPercentage(t *testing.T) {
	f := newFixture(t, nil)
	for _, p := range []int64{0, -5, 101} {
		_, err := f.svc.Activate(context.Background(), savings.ActivateRequest{OwnerID: "alice", SavingsPercentage: pct(p)})
		assert.ErrorIs(t, err, generic.ErrValidation, "percentage %d", p)
	}
}

func TestActivate_InsufficientWalletRollsBack(t *testing.T) {
	// GIVEN: Alice has ₦100
	f := newFixture(t, nil)
	f.fundWallet(t, "alice", naira(100))

	// WHEN: She activates with a ₦1,000 initial deposit
	_, err := f.svc.Activate(context.Background(), savings.ActivateRequest{
		OwnerID: "alice", SavingsPercentage: pct(5), InitialDeposit: naira(1_000),
	})

	// THEN: Activation fails and no savings record exists
	require.ErrorIs(t, err, generic.ErrInsufficientFunds)
	_, err = f.svc.GetSavings(context.Background(), "alice")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestDeactivate_KeepsBalanceWithdrawable(t *testing.T) {
	// GIVEN: An active account holding ₦2,000
	f := newFixture(t, nil)
	wallet := f.fundWallet(t, "alice", naira(2_000))
	acc := f.activate(t, "alice", 5, naira(2_000))
	ctx := context.Background()

	// WHEN: Alice deactivates
	off, err := f.svc.Deactivate(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, off.IsActive)

	// THEN: A second deactivation is rejected
	_, err = f.svc.Deactivate(ctx, "alice")
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)

	// AND: She can still withdraw
	res, err := f.svc.Withdraw(ctx, savings.WithdrawRequest{OwnerID: "alice", Amount: naira(1_500), Reference: "w-1"})
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, res.Credit.AccountID)
	assert.Equal(t, naira(500), f.balance(t, acc.LedgerAccountID))
	assert.Equal(t, naira(1_500), f.balance(t, wallet.ID))
}

func TestWithdraw_Rules(t *testing.T) {
	f := newFixture(t, nil)
	f.fundWallet(t, "alice", naira(2_000))
	f.activate(t, "alice", 5, naira(1_000))
	ctx := context.Background()

	// More than the balance
	_, err := f.svc.Withdraw(ctx, savings.WithdrawRequest{OwnerID: "alice", Amount: naira(1_001), Reference: "w-1"})
	assert.ErrorIs(t, err, generic.ErrInsufficientFunds)

	// No reference
	_, err = f.svc.Withdraw(ctx, savings.WithdrawRequest{OwnerID: "alice", Amount: naira(1)})
	assert.ErrorIs(t, err, generic.ErrValidation)

	// Into a settlement account
	_, err = f.svc.Withdraw(ctx, savings.WithdrawRequest{
		OwnerID: "alice", Amount: naira(1), Reference: "w-2",
		Destination: generic.SettlementAccountID("funding", generic.NGN),
	})
	assert.ErrorIs(t, err, generic.ErrValidation)

	// Same reference twice moves money once
	for i := 0; i < 2; i++ {
		_, err = f.svc.Withdraw(ctx, savings.WithdrawRequest{OwnerID: "alice", Amount: naira(300), Reference: "w-3"})
		require.NoError(t, err)
	}
	summary, err := f.svc.GetSavings(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, naira(700), summary.Balance)
	assert.Equal(t, 1, f.events.count(generic.EventWithdrawal))
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t, "alice", 5, generic.Money{})
	ctx := context.Background()

	p := pct(12)
	minimum := naira(250)
	acc, err := f.svc.UpdateSettings(ctx, "alice", savings.SettingsUpdate{SavingsPercentage: &p, MinTransactionAmount: &minimum})
	require.NoError(t, err)
	assert.True(t, acc.SavingsPercentage.Equal(p))
	assert.Equal(t, naira(250), acc.MinTransactionAmount)

	bad := pct(0)
	_, err = f.svc.UpdateSettings(ctx, "alice", savings.SettingsUpdate{SavingsPercentage: &bad})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.svc.UpdateSettings(ctx, "nobody", savings.SettingsUpdate{SavingsPercentage: &p})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestDeposit_MovesWalletToSavings(t *testing.T) {
	f := newFixture(t, nil)
	wallet := f.fundWallet(t, "alice", naira(1_000))
	acc := f.activate(t, "alice", 5, generic.Money{})

	_, err := f.svc.Deposit(context.Background(), savings.DepositRequest{OwnerID: "alice", Amount: naira(400), Reference: "d-1"})
	require.NoError(t, err)

	assert.Equal(t, naira(600), f.balance(t, wallet.ID))
	assert.Equal(t, naira(400), f.balance(t, acc.LedgerAccountID))
	assert.Equal(t, 1, f.events.count(generic.EventDeposit))
}

func TestGetSavings_DailyInterestPreview(t *testing.T) {
	f := newFixture(t, nil)
	f.fundWallet(t, "alice", naira(20_000))
	f.activate(t, "alice", 5, naira(10_000))

	summary, err := f.svc.GetSavings(context.Background(), "alice")
	require.NoError(t, err)

	// ₦10,000 at 20% for one day: 1,000,000 × 20 / 36,500 = 547.9 kobo
	assert.Equal(t, kobo(547), summary.DailyInterest)
}

func TestNewService_RejectsBadTables(t *testing.T) {
	l := generic.NewLedger(store.NewMemory(), generic.LedgerConfig{})
	cfg := savings.DefaultConfig(generic.NGN)
	cfg.FlexibleRates = generic.RateTable{Name: "gap", Bands: []generic.RateBand{generic.Band(0, 100, "5"), generic.Band(200, -1, "3")}}

	_, err := savings.NewService(l, cfg)
	assert.Error(t, err)
}
