/*
ledger.go - Double-entry money movement

PURPOSE:
  The Ledger is the only code path that changes a balance. A transfer debits
  one account, credits another and appends one entry per side, all inside a
  single store transaction.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Entries are never updated or deleted
  2. NO OVERDRAFT: Only settlement accounts may go below zero
  3. ATOMIC: Both balance updates and both entries commit together or not at all
  4. IDEMPOTENT: A reference applies once; a repeat returns the prior result
  5. GUARDED: User-initiated movements pass the tier limit guard before any write

CONCURRENCY:
  Balance updates compare-and-swap on the account version. A writer that
  loses the race gets ErrVersionConflict from the store; the whole unit of
  work is re-run from fresh reads up to MaxAttempts times, then the caller
  gets a ConflictError. A duplicate-reference race is retried the same way
  and resolves into a replay of the winner's result.

CORRECTIONS:
  Reverse(entryID) moves the same amount back between the same two accounts
  with kind=reversal and RelatedEntryID pointing at each original side.
  The originals are untouched.

EXAMPLE FLOW:
  1. Wallet funded from settlement:    settlement -1000, wallet +1000
  2. Spend-save 50:                    wallet -50, savings +50
  3. Nightly interest:                 interest settlement -1, savings +1
  4. Mistaken spend-save reversed:     savings -50, wallet +50 (reversal)

SEE ALSO:
  - store.go: Low-level persistence interface
  - balance.go: Replay verification
  - kyc/guard.go: Authorizer implementation
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// =============================================================================
// AUTHORIZATION HOOK
// =============================================================================

// AuthorizationRequest is what the guard sees before a user-initiated move.
type AuthorizationRequest struct {
	OwnerID      OwnerID
	Amount       Money
	Movement     Movement
	Source       LedgerAccount
	Destination  LedgerAccount
	BusinessDate BusinessDate
}

// Decision is the guard's verdict. Reason is set when not allowed.
type Decision struct {
	Allowed   bool
	Reason    string
	Limit     Money
	Remaining Money
}

// Authorizer is consulted inside the transfer's transaction, before writes.
// It reads through the passed store so it sees the same snapshot.
type Authorizer interface {
	Authorize(ctx context.Context, store Store, req AuthorizationRequest) (Decision, error)
}

// LedgerObserver receives ledger events for metrics.
type LedgerObserver interface {
	TransferApplied(kind EntryKind, amount Money)
	ConflictRetried()
}

// =============================================================================
// TRANSFER REQUEST / RESULT
// =============================================================================

type TransferRequest struct {
	From      AccountID
	To        AccountID
	Amount    Money
	Kind      EntryKind
	Reference string
	Movement  Movement
	Memo      string

	relatedDebit  *EntryID
	relatedCredit *EntryID
}

func (r TransferRequest) validate() error {
	if r.From == "" || r.To == "" {
		return Invalid("account", "from and to are required")
	}
	if r.From == r.To {
		return Invalid("account", "cannot transfer to the same account")
	}
	if !r.Amount.IsPositive() {
		return Invalid("amount", "must be positive, got %s", r.Amount)
	}
	if r.Reference == "" {
		return Invalid("reference", "required")
	}
	if !r.Kind.Valid() {
		return Invalid("kind", "unknown entry kind %q", r.Kind)
	}
	switch r.Movement {
	case MovementSystem, MovementInternal, MovementOutgoing:
	default:
		return Invalid("movement", "unknown movement %q", r.Movement)
	}
	return nil
}

// TransferResult holds both sides. Replayed is true when the reference had
// already been applied and no new effect was produced.
type TransferResult struct {
	Debit    LedgerEntry
	Credit   LedgerEntry
	Replayed bool
}

// Applied returns ErrAlreadyApplied (wrapped with the reference) when the
// result is a replay, nil when the transfer took effect now.
func (r TransferResult) Applied() error {
	if !r.Replayed {
		return nil
	}
	return fmt.Errorf("reference %q: %w", r.Debit.Reference, ErrAlreadyApplied)
}

// =============================================================================
// LEDGER
// =============================================================================

type LedgerConfig struct {
	MaxAttempts int           // optimistic retries before ConflictError (default 5)
	Backoff     time.Duration // base delay between attempts, scaled by attempt (default 2ms)
	Clock       Clock
	Guard       Authorizer
	Observer    LedgerObserver
	Logger      *slog.Logger
}

type Ledger struct {
	store       TxStore
	maxAttempts int
	backoff     time.Duration
	clock       Clock
	guard       Authorizer
	observer    LedgerObserver
	logger      *slog.Logger
}

func NewLedger(store TxStore, cfg LedgerConfig) *Ledger {
	l := &Ledger{
		store:       store,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		clock:       cfg.Clock,
		guard:       cfg.Guard,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
	}
	if l.maxAttempts <= 0 {
		l.maxAttempts = 5
	}
	if l.backoff <= 0 {
		l.backoff = 2 * time.Millisecond
	}
	if l.clock == nil {
		l.clock = SystemClock{}
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

func (l *Ledger) Store() TxStore { return l.store }
func (l *Ledger) Clock() Clock   { return l.clock }

// Tx is a unit of work bound to one store transaction.
type Tx struct {
	store Store
	l     *Ledger
}

func (t *Tx) Store() Store { return t.store }

// Atomically runs fn in one store transaction, re-running it from scratch on
// version conflicts and reference races. label names the work in errors.
func (l *Ledger) Atomically(ctx context.Context, label string, fn func(tx *Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := l.store.WithTx(ctx, func(s Store) error {
			return fn(&Tx{store: s, l: l})
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) && !errors.Is(err, ErrDuplicateReference) {
			return err
		}
		if attempt >= l.maxAttempts {
			l.logger.Warn("ledger conflict retries exhausted", "work", label, "attempts", attempt)
			return &ConflictError{Reference: label, Attempts: attempt}
		}
		if l.observer != nil {
			l.observer.ConflictRetried()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff * time.Duration(attempt)):
		}
	}
}

// Transfer moves money between two accounts.
func (l *Ledger) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	var res TransferResult
	err := l.Atomically(ctx, req.Reference, func(tx *Tx) error {
		var err error
		res, err = tx.Transfer(ctx, req)
		return err
	})
	return res, err
}

// Reverse undoes the transfer that produced entryID.
func (l *Ledger) Reverse(ctx context.Context, entryID EntryID) (TransferResult, error) {
	var res TransferResult
	err := l.Atomically(ctx, "reverse:"+string(entryID), func(tx *Tx) error {
		var err error
		res, err = tx.Reverse(ctx, entryID)
		return err
	})
	return res, err
}

// Transfer applies req inside the current unit of work.
func (t *Tx) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if err := req.validate(); err != nil {
		return TransferResult{}, err
	}

	prior, err := t.store.EntriesByReference(ctx, req.Reference)
	if err != nil {
		return TransferResult{}, fmt.Errorf("lookup reference %q: %w", req.Reference, err)
	}
	if len(prior) > 0 {
		return replay(prior, req)
	}

	from, err := t.store.GetAccount(ctx, req.From)
	if err != nil {
		return TransferResult{}, fmt.Errorf("source account %s: %w", req.From, err)
	}
	to, err := t.store.GetAccount(ctx, req.To)
	if err != nil {
		return TransferResult{}, fmt.Errorf("destination account %s: %w", req.To, err)
	}
	if from.Currency() != req.Amount.Currency || to.Currency() != req.Amount.Currency {
		return TransferResult{}, &ValidationError{
			Field:   "currency",
			Message: fmt.Sprintf("from %s, to %s, amount %s", from.Currency(), to.Currency(), req.Amount.Currency),
			Err:     ErrCurrencyMismatch,
		}
	}

	now := t.l.clock.Now()
	if req.Movement.UserInitiated() && t.l.guard != nil {
		decision, err := t.l.guard.Authorize(ctx, t.store, AuthorizationRequest{
			OwnerID:      from.OwnerID,
			Amount:       req.Amount,
			Movement:     req.Movement,
			Source:       from,
			Destination:  to,
			BusinessDate: DateOf(now, t.l.clock.Location()),
		})
		if err != nil {
			return TransferResult{}, fmt.Errorf("authorize: %w", err)
		}
		if !decision.Allowed {
			return TransferResult{}, &LimitExceededError{OwnerID: from.OwnerID, Reason: decision.Reason, Limit: decision.Limit}
		}
	}

	if !from.Kind.AllowsOverdraft() && from.Balance.Minor < req.Amount.Minor {
		return TransferResult{}, &InsufficientFundsError{AccountID: from.ID, Available: from.Balance, Requested: req.Amount}
	}

	fromAfter := NewMoney(from.Balance.Minor-req.Amount.Minor, req.Amount.Currency)
	toAfter := NewMoney(to.Balance.Minor+req.Amount.Minor, req.Amount.Currency)

	if err := t.store.UpdateBalance(ctx, from.ID, fromAfter, from.Version, now); err != nil {
		return TransferResult{}, err
	}
	if err := t.store.UpdateBalance(ctx, to.ID, toAfter, to.Version, now); err != nil {
		return TransferResult{}, err
	}

	debit := LedgerEntry{
		ID:             NewEntryID(),
		AccountID:      from.ID,
		OwnerID:        from.OwnerID,
		Direction:      Debit,
		Amount:         req.Amount,
		BalanceAfter:   fromAfter,
		Reference:      req.Reference,
		Kind:           req.Kind,
		Movement:       req.Movement,
		RelatedEntryID: req.relatedDebit,
		Seq:            from.Version + 1,
		Memo:           req.Memo,
		CreatedAt:      now,
	}
	credit := LedgerEntry{
		ID:             NewEntryID(),
		AccountID:      to.ID,
		OwnerID:        to.OwnerID,
		Direction:      Credit,
		Amount:         req.Amount,
		BalanceAfter:   toAfter,
		Reference:      req.Reference,
		Kind:           req.Kind,
		Movement:       req.Movement,
		RelatedEntryID: req.relatedCredit,
		Seq:            to.Version + 1,
		Memo:           req.Memo,
		CreatedAt:      now,
	}
	if err := t.store.AppendEntries(ctx, debit, credit); err != nil {
		return TransferResult{}, err
	}

	if t.l.observer != nil {
		t.l.observer.TransferApplied(req.Kind, req.Amount)
	}
	return TransferResult{Debit: debit, Credit: credit}, nil
}

// Reverse applies the reversal of entryID inside the current unit of work.
// The reference is derived from the original so a reversal applies once.
func (t *Tx) Reverse(ctx context.Context, entryID EntryID) (TransferResult, error) {
	orig, err := t.store.GetEntry(ctx, entryID)
	if err != nil {
		return TransferResult{}, fmt.Errorf("entry %s: %w", entryID, err)
	}
	if orig.Kind == EntryReversal {
		return TransferResult{}, Invalid("entry", "%s is itself a reversal", entryID)
	}
	legs, err := t.store.EntriesByReference(ctx, orig.Reference)
	if err != nil {
		return TransferResult{}, err
	}
	var debitLeg, creditLeg *LedgerEntry
	for i := range legs {
		switch legs[i].Direction {
		case Debit:
			debitLeg = &legs[i]
		case Credit:
			creditLeg = &legs[i]
		}
	}
	if debitLeg == nil || creditLeg == nil {
		return TransferResult{}, fmt.Errorf("entry %s: transfer %q is missing a side", entryID, orig.Reference)
	}

	return t.Transfer(ctx, TransferRequest{
		From:          creditLeg.AccountID,
		To:            debitLeg.AccountID,
		Amount:        orig.Amount,
		Kind:          EntryReversal,
		Reference:     ReversalReference(orig.Reference),
		Movement:      MovementSystem,
		Memo:          "reversal of " + orig.Reference,
		relatedDebit:  &creditLeg.ID,
		relatedCredit: &debitLeg.ID,
	})
}

func ReversalReference(ref string) string { return "reversal:" + ref }

func replay(prior []LedgerEntry, req TransferRequest) (TransferResult, error) {
	res := TransferResult{Replayed: true}
	for _, e := range prior {
		switch e.Direction {
		case Debit:
			res.Debit = e
		case Credit:
			res.Credit = e
		}
	}
	if res.Debit.AccountID != req.From || res.Credit.AccountID != req.To || res.Debit.Amount != req.Amount {
		return TransferResult{}, Invalid("reference", "%q was already used for a different transfer", req.Reference)
	}
	return res, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// OpenAccount creates a zero-balance account.
func (l *Ledger) OpenAccount(ctx context.Context, owner OwnerID, kind AccountKind, currency Currency) (LedgerAccount, error) {
	if !kind.Valid() {
		return LedgerAccount{}, Invalid("kind", "unknown account kind %q", kind)
	}
	if owner == "" {
		return LedgerAccount{}, Invalid("owner_id", "required")
	}
	now := l.clock.Now()
	acct := LedgerAccount{
		ID:        NewAccountID(),
		OwnerID:   owner,
		Kind:      kind,
		Balance:   Zero(currency),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.CreateAccount(ctx, acct); err != nil {
		return LedgerAccount{}, err
	}
	return acct, nil
}

// EnsureAccount returns the owner's wallet or flexible savings account,
// creating it on first use.
func (l *Ledger) EnsureAccount(ctx context.Context, owner OwnerID, kind AccountKind, currency Currency) (LedgerAccount, error) {
	var acct LedgerAccount
	err := l.Atomically(ctx, "ensure:"+string(owner)+":"+string(kind), func(tx *Tx) error {
		var err error
		acct, err = tx.EnsureAccount(ctx, owner, kind, currency)
		return err
	})
	return acct, err
}

// EnsureAccount is the in-transaction variant.
func (t *Tx) EnsureAccount(ctx context.Context, owner OwnerID, kind AccountKind, currency Currency) (LedgerAccount, error) {
	return ensureAccount(ctx, t.store, t.l.clock, owner, kind, currency)
}

// OpenAccount is the in-transaction variant.
func (t *Tx) OpenAccount(ctx context.Context, owner OwnerID, kind AccountKind, currency Currency) (LedgerAccount, error) {
	now := t.l.clock.Now()
	acct := LedgerAccount{
		ID:        NewAccountID(),
		OwnerID:   owner,
		Kind:      kind,
		Balance:   Zero(currency),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.store.CreateAccount(ctx, acct); err != nil {
		return LedgerAccount{}, err
	}
	return acct, nil
}

func ensureAccount(ctx context.Context, s Store, clock Clock, owner OwnerID, kind AccountKind, currency Currency) (LedgerAccount, error) {
	if kind != AccountWallet && kind != AccountFlexibleSavings {
		return LedgerAccount{}, Invalid("kind", "%s accounts are not unique per owner", kind)
	}
	acct, err := s.FindAccount(ctx, owner, kind, currency)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return LedgerAccount{}, err
	}
	now := clock.Now()
	acct = LedgerAccount{
		ID:        NewAccountID(),
		OwnerID:   owner,
		Kind:      kind,
		Balance:   Zero(currency),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateAccount(ctx, acct); err != nil {
		// A concurrent creator won. Some databases abort the transaction on
		// a unique violation, so the unit of work starts over and finds it.
		if errors.Is(err, ErrAlreadyExists) {
			return LedgerAccount{}, fmt.Errorf("%w: %v", ErrVersionConflict, err)
		}
		return LedgerAccount{}, err
	}
	return acct, nil
}

// SettlementAccountID is the deterministic ID of a named settlement account.
func SettlementAccountID(name string, currency Currency) AccountID {
	return AccountID("settlement:" + name + ":" + string(currency))
}

// EnsureSettlementAccount returns the named settlement account, creating it
// on first use. Interest is funded from "interest"; fees land in "fees".
func (l *Ledger) EnsureSettlementAccount(ctx context.Context, name string, currency Currency) (LedgerAccount, error) {
	id := SettlementAccountID(name, currency)
	acct, err := l.store.GetAccount(ctx, id)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return LedgerAccount{}, err
	}
	now := l.clock.Now()
	acct = LedgerAccount{
		ID:        id,
		OwnerID:   SystemOwner,
		Kind:      AccountSettlement,
		Balance:   Zero(currency),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.CreateAccount(ctx, acct); err != nil && !errors.Is(err, ErrAlreadyExists) {
		return LedgerAccount{}, err
	}
	return l.store.GetAccount(ctx, id)
}

// =============================================================================
// READS
// =============================================================================

func (l *Ledger) Account(ctx context.Context, id AccountID) (LedgerAccount, error) {
	return l.store.GetAccount(ctx, id)
}

func (l *Ledger) Entries(ctx context.Context, id AccountID) ([]LedgerEntry, error) {
	return l.store.ListEntries(ctx, id)
}

// Verify replays an account's entries and compares with the stored balance.
func (l *Ledger) Verify(ctx context.Context, id AccountID) (ReplayResult, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return ReplayResult{}, err
	}
	entries, err := l.store.ListEntries(ctx, id)
	if err != nil {
		return ReplayResult{}, err
	}
	res, err := ReplayBalance(acct.Kind, acct.Currency(), entries)
	if err != nil {
		return ReplayResult{}, err
	}
	if res.Balance != acct.Balance {
		return res, fmt.Errorf("account %s: stored balance %s, replayed %s", id, acct.Balance, res.Balance)
	}
	if int64(res.Entries) != acct.Version {
		return res, fmt.Errorf("account %s: version %d, %d entries", id, acct.Version, res.Entries)
	}
	return res, nil
}
