// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/savings-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.TxStore. WithTx holds the write lock for the
// whole function and restores a snapshot on error, so transactions are
// serializable.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type ownerKindKey struct {
	Owner    generic.OwnerID
	Kind     generic.AccountKind
	Currency generic.Currency
}

type refKey struct {
	Reference string
	Direction generic.Direction
}

type runKey struct {
	Date      string
	AccountID string
}

type milestoneKey struct {
	AccountID string
	Key       string
}

type state struct {
	accounts       map[generic.AccountID]generic.LedgerAccount
	accountsByKind map[ownerKindKey]generic.AccountID
	entries        map[generic.EntryID]generic.LedgerEntry
	entriesByAcct  map[generic.AccountID][]generic.EntryID
	entriesByRef   map[refKey]generic.EntryID
	savings        map[string]generic.SavingsAccount
	savingsByOwner map[generic.OwnerID]string
	milestones     map[milestoneKey]generic.SavingsMilestone
	fixed          map[string]generic.FixedSavingsAccount
	runs           map[runKey]generic.DailyAccrualRun
}

func newState() *state {
	return &state{
		accounts:       make(map[generic.AccountID]generic.LedgerAccount),
		accountsByKind: make(map[ownerKindKey]generic.AccountID),
		entries:        make(map[generic.EntryID]generic.LedgerEntry),
		entriesByAcct:  make(map[generic.AccountID][]generic.EntryID),
		entriesByRef:   make(map[refKey]generic.EntryID),
		savings:        make(map[string]generic.SavingsAccount),
		savingsByOwner: make(map[generic.OwnerID]string),
		milestones:     make(map[milestoneKey]generic.SavingsMilestone),
		fixed:          make(map[string]generic.FixedSavingsAccount),
		runs:           make(map[runKey]generic.DailyAccrualRun),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&view{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.accountsByKind {
		c.accountsByKind[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.entriesByAcct {
		c.entriesByAcct[k] = append([]generic.EntryID(nil), v...)
	}
	for k, v := range s.entriesByRef {
		c.entriesByRef[k] = v
	}
	for k, v := range s.savings {
		c.savings[k] = v
	}
	for k, v := range s.savingsByOwner {
		c.savingsByOwner[k] = v
	}
	for k, v := range s.milestones {
		c.milestones[k] = v
	}
	for k, v := range s.fixed {
		c.fixed[k] = v
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	return c
}

// read runs fn under the read lock; write under the write lock. Single view
// methods validate before mutating, so write needs no snapshot.
func (m *Memory) read(fn func(v *view) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&view{st: m.st})
}

func (m *Memory) write(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{st: m.st})
}

// =============================================================================
// LOCKED FACADE
// =============================================================================

func (m *Memory) CreateAccount(ctx context.Context, a generic.LedgerAccount) error {
	return m.write(func(v *view) error { return v.CreateAccount(ctx, a) })
}

func (m *Memory) GetAccount(ctx context.Context, id generic.AccountID) (out generic.LedgerAccount, err error) {
	err = m.read(func(v *view) error { out, err = v.GetAccount(ctx, id); return err })
	return
}

func (m *Memory) FindAccount(ctx context.Context, owner generic.OwnerID, kind generic.AccountKind, c generic.Currency) (out generic.LedgerAccount, err error) {
	err = m.read(func(v *view) error { out, err = v.FindAccount(ctx, owner, kind, c); return err })
	return
}

func (m *Memory) ListAccounts(ctx context.Context, owner generic.OwnerID) (out []generic.LedgerAccount, err error) {
	err = m.read(func(v *view) error { out, err = v.ListAccounts(ctx, owner); return err })
	return
}

func (m *Memory) UpdateBalance(ctx context.Context, id generic.AccountID, bal generic.Money, expected int64, at time.Time) error {
	return m.write(func(v *view) error { return v.UpdateBalance(ctx, id, bal, expected, at) })
}

func (m *Memory) AppendEntries(ctx context.Context, entries ...generic.LedgerEntry) error {
	return m.write(func(v *view) error { return v.AppendEntries(ctx, entries...) })
}

func (m *Memory) GetEntry(ctx context.Context, id generic.EntryID) (out generic.LedgerEntry, err error) {
	err = m.read(func(v *view) error { out, err = v.GetEntry(ctx, id); return err })
	return
}

func (m *Memory) EntriesByReference(ctx context.Context, ref string) (out []generic.LedgerEntry, err error) {
	err = m.read(func(v *view) error { out, err = v.EntriesByReference(ctx, ref); return err })
	return
}

func (m *Memory) ListEntries(ctx context.Context, id generic.AccountID) (out []generic.LedgerEntry, err error) {
	err = m.read(func(v *view) error { out, err = v.ListEntries(ctx, id); return err })
	return
}

func (m *Memory) SumDebits(ctx context.Context, owner generic.OwnerID, mv generic.Movement, c generic.Currency, from, to time.Time) (out int64, err error) {
	err = m.read(func(v *view) error { out, err = v.SumDebits(ctx, owner, mv, c, from, to); return err })
	return
}

func (m *Memory) CreateSavingsAccount(ctx context.Context, a generic.SavingsAccount) error {
	return m.write(func(v *view) error { return v.CreateSavingsAccount(ctx, a) })
}

func (m *Memory) GetSavingsAccount(ctx context.Context, id string) (out generic.SavingsAccount, err error) {
	err = m.read(func(v *view) error { out, err = v.GetSavingsAccount(ctx, id); return err })
	return
}

func (m *Memory) GetSavingsAccountByOwner(ctx context.Context, owner generic.OwnerID) (out generic.SavingsAccount, err error) {
	err = m.read(func(v *view) error { out, err = v.GetSavingsAccountByOwner(ctx, owner); return err })
	return
}

func (m *Memory) UpdateSavingsAccount(ctx context.Context, a generic.SavingsAccount) error {
	return m.write(func(v *view) error { return v.UpdateSavingsAccount(ctx, a) })
}

func (m *Memory) ListActiveSavingsAccounts(ctx context.Context) (out []generic.SavingsAccount, err error) {
	err = m.read(func(v *view) error { out, err = v.ListActiveSavingsAccounts(ctx); return err })
	return
}

func (m *Memory) RecordMilestone(ctx context.Context, ms generic.SavingsMilestone) error {
	return m.write(func(v *view) error { return v.RecordMilestone(ctx, ms) })
}

func (m *Memory) ListMilestones(ctx context.Context, accountID string) (out []generic.SavingsMilestone, err error) {
	err = m.read(func(v *view) error { out, err = v.ListMilestones(ctx, accountID); return err })
	return
}

func (m *Memory) CreateFixedSavings(ctx context.Context, f generic.FixedSavingsAccount) error {
	return m.write(func(v *view) error { return v.CreateFixedSavings(ctx, f) })
}

func (m *Memory) GetFixedSavings(ctx context.Context, id string) (out generic.FixedSavingsAccount, err error) {
	err = m.read(func(v *view) error { out, err = v.GetFixedSavings(ctx, id); return err })
	return
}

func (m *Memory) UpdateFixedSavings(ctx context.Context, f generic.FixedSavingsAccount) error {
	return m.write(func(v *view) error { return v.UpdateFixedSavings(ctx, f) })
}

func (m *Memory) ListFixedSavings(ctx context.Context, f generic.FixedFilter) (out []generic.FixedSavingsAccount, err error) {
	err = m.read(func(v *view) error { out, err = v.ListFixedSavings(ctx, f); return err })
	return
}

func (m *Memory) GetAccrualRun(ctx context.Context, d generic.BusinessDate, id string) (out generic.DailyAccrualRun, err error) {
	err = m.read(func(v *view) error { out, err = v.GetAccrualRun(ctx, d, id); return err })
	return
}

func (m *Memory) SaveAccrualRun(ctx context.Context, r generic.DailyAccrualRun) error {
	return m.write(func(v *view) error { return v.SaveAccrualRun(ctx, r) })
}

func (m *Memory) ListAccrualRuns(ctx context.Context, d generic.BusinessDate) (out []generic.DailyAccrualRun, err error) {
	err = m.read(func(v *view) error { out, err = v.ListAccrualRuns(ctx, d); return err })
	return
}

// =============================================================================
// UNLOCKED VIEW - Caller holds the lock
// =============================================================================

type view struct {
	st *state
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, generic.ErrNotFound)
}

func (v *view) CreateAccount(_ context.Context, a generic.LedgerAccount) error {
	if _, ok := v.st.accounts[a.ID]; ok {
		return fmt.Errorf("account %s: %w", a.ID, generic.ErrAlreadyExists)
	}
	if a.Kind == generic.AccountWallet || a.Kind == generic.AccountFlexibleSavings {
		k := ownerKindKey{a.OwnerID, a.Kind, a.Currency()}
		if _, ok := v.st.accountsByKind[k]; ok {
			return fmt.Errorf("%s account for %s: %w", a.Kind, a.OwnerID, generic.ErrAlreadyExists)
		}
		v.st.accountsByKind[k] = a.ID
	}
	v.st.accounts[a.ID] = a
	return nil
}

func (v *view) GetAccount(_ context.Context, id generic.AccountID) (generic.LedgerAccount, error) {
	a, ok := v.st.accounts[id]
	if !ok {
		return generic.LedgerAccount{}, notFound("account", id)
	}
	return a, nil
}

func (v *view) FindAccount(_ context.Context, owner generic.OwnerID, kind generic.AccountKind, c generic.Currency) (generic.LedgerAccount, error) {
	id, ok := v.st.accountsByKind[ownerKindKey{owner, kind, c}]
	if !ok {
		return generic.LedgerAccount{}, notFound(string(kind)+" account for", owner)
	}
	return v.st.accounts[id], nil
}

func (v *view) ListAccounts(_ context.Context, owner generic.OwnerID) ([]generic.LedgerAccount, error) {
	var out []generic.LedgerAccount
	for _, a := range v.st.accounts {
		if a.OwnerID == owner {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *view) UpdateBalance(_ context.Context, id generic.AccountID, bal generic.Money, expected int64, at time.Time) error {
	a, ok := v.st.accounts[id]
	if !ok {
		return notFound("account", id)
	}
	if a.Version != expected {
		return fmt.Errorf("account %s at version %d, expected %d: %w", id, a.Version, expected, generic.ErrVersionConflict)
	}
	a.Balance = bal
	a.Version++
	a.UpdatedAt = at
	v.st.accounts[id] = a
	return nil
}

func (v *view) AppendEntries(_ context.Context, entries ...generic.LedgerEntry) error {
	for _, e := range entries {
		if _, ok := v.st.entriesByRef[refKey{e.Reference, e.Direction}]; ok {
			return fmt.Errorf("entry %q/%s: %w", e.Reference, e.Direction, generic.ErrDuplicateReference)
		}
	}
	for _, e := range entries {
		v.st.entries[e.ID] = e
		v.st.entriesByAcct[e.AccountID] = append(v.st.entriesByAcct[e.AccountID], e.ID)
		v.st.entriesByRef[refKey{e.Reference, e.Direction}] = e.ID
	}
	return nil
}

func (v *view) GetEntry(_ context.Context, id generic.EntryID) (generic.LedgerEntry, error) {
	e, ok := v.st.entries[id]
	if !ok {
		return generic.LedgerEntry{}, notFound("entry", id)
	}
	return e, nil
}

func (v *view) EntriesByReference(_ context.Context, ref string) ([]generic.LedgerEntry, error) {
	var out []generic.LedgerEntry
	for _, d := range []generic.Direction{generic.Debit, generic.Credit} {
		if id, ok := v.st.entriesByRef[refKey{ref, d}]; ok {
			out = append(out, v.st.entries[id])
		}
	}
	return out, nil
}

func (v *view) ListEntries(_ context.Context, id generic.AccountID) ([]generic.LedgerEntry, error) {
	ids := v.st.entriesByAcct[id]
	out := make([]generic.LedgerEntry, 0, len(ids))
	for _, eid := range ids {
		out = append(out, v.st.entries[eid])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (v *view) SumDebits(_ context.Context, owner generic.OwnerID, mv generic.Movement, c generic.Currency, from, to time.Time) (int64, error) {
	var total int64
	for _, e := range v.st.entries {
		if e.OwnerID != owner || e.Direction != generic.Debit || e.Movement != mv || e.Amount.Currency != c {
			continue
		}
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		total += e.Amount.Minor
	}
	return total, nil
}

func (v *view) CreateSavingsAccount(_ context.Context, a generic.SavingsAccount) error {
	if _, ok := v.st.savingsByOwner[a.OwnerID]; ok {
		return fmt.Errorf("savings account for %s: %w", a.OwnerID, generic.ErrAlreadyExists)
	}
	if _, ok := v.st.savings[a.ID]; ok {
		return fmt.Errorf("savings account %s: %w", a.ID, generic.ErrAlreadyExists)
	}
	v.st.savings[a.ID] = a
	v.st.savingsByOwner[a.OwnerID] = a.ID
	return nil
}

func (v *view) GetSavingsAccount(_ context.Context, id string) (generic.SavingsAccount, error) {
	a, ok := v.st.savings[id]
	if !ok {
		return generic.SavingsAccount{}, notFound("savings account", id)
	}
	return a, nil
}

func (v *view) GetSavingsAccountByOwner(_ context.Context, owner generic.OwnerID) (generic.SavingsAccount, error) {
	id, ok := v.st.savingsByOwner[owner]
	if !ok {
		return generic.SavingsAccount{}, notFound("savings account for", owner)
	}
	return v.st.savings[id], nil
}

func (v *view) UpdateSavingsAccount(_ context.Context, a generic.SavingsAccount) error {
	cur, ok := v.st.savings[a.ID]
	if !ok {
		return notFound("savings account", a.ID)
	}
	if cur.Version != a.Version {
		return fmt.Errorf("savings account %s: %w", a.ID, generic.ErrVersionConflict)
	}
	a.Version++
	v.st.savings[a.ID] = a
	return nil
}

func (v *view) ListActiveSavingsAccounts(_ context.Context) ([]generic.SavingsAccount, error) {
	var out []generic.SavingsAccount
	for _, a := range v.st.savings {
		if a.IsActive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) RecordMilestone(_ context.Context, ms generic.SavingsMilestone) error {
	k := milestoneKey{ms.AccountID, ms.Key}
	if _, ok := v.st.milestones[k]; ok {
		return fmt.Errorf("milestone %s/%s: %w", ms.AccountID, ms.Key, generic.ErrAlreadyExists)
	}
	v.st.milestones[k] = ms
	return nil
}

func (v *view) ListMilestones(_ context.Context, accountID string) ([]generic.SavingsMilestone, error) {
	var out []generic.SavingsMilestone
	for k, ms := range v.st.milestones {
		if k.AccountID == accountID {
			out = append(out, ms)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Threshold.Minor < out[j].Threshold.Minor })
	return out, nil
}

func (v *view) CreateFixedSavings(_ context.Context, f generic.FixedSavingsAccount) error {
	if _, ok := v.st.fixed[f.ID]; ok {
		return fmt.Errorf("fixed savings %s: %w", f.ID, generic.ErrAlreadyExists)
	}
	v.st.fixed[f.ID] = f
	return nil
}

func (v *view) GetFixedSavings(_ context.Context, id string) (generic.FixedSavingsAccount, error) {
	f, ok := v.st.fixed[id]
	if !ok {
		return generic.FixedSavingsAccount{}, notFound("fixed savings", id)
	}
	return f, nil
}

func (v *view) UpdateFixedSavings(_ context.Context, f generic.FixedSavingsAccount) error {
	cur, ok := v.st.fixed[f.ID]
	if !ok {
		return notFound("fixed savings", f.ID)
	}
	if cur.Version != f.Version {
		return fmt.Errorf("fixed savings %s: %w", f.ID, generic.ErrVersionConflict)
	}
	f.Version++
	v.st.fixed[f.ID] = f
	return nil
}

func (v *view) ListFixedSavings(_ context.Context, filter generic.FixedFilter) ([]generic.FixedSavingsAccount, error) {
	var out []generic.FixedSavingsAccount
	for _, f := range v.st.fixed {
		if filter.OwnerID != "" && f.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) GetAccrualRun(_ context.Context, d generic.BusinessDate, id string) (generic.DailyAccrualRun, error) {
	r, ok := v.st.runs[runKey{d.String(), id}]
	if !ok {
		return generic.DailyAccrualRun{}, notFound("accrual run", d.String()+"/"+id)
	}
	return r, nil
}

func (v *view) SaveAccrualRun(_ context.Context, r generic.DailyAccrualRun) error {
	k := runKey{r.BusinessDate.String(), r.AccountID}
	if cur, ok := v.st.runs[k]; ok && cur.Status == generic.RunCompleted {
		return nil
	}
	v.st.runs[k] = r
	return nil
}

func (v *view) ListAccrualRuns(_ context.Context, d generic.BusinessDate) ([]generic.DailyAccrualRun, error) {
	var out []generic.DailyAccrualRun
	for k, r := range v.st.runs {
		if k.Date == d.String() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}
