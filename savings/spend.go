package savings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/savings-engine/generic"
)

// =============================================================================
// SPEND TRIGGER
// =============================================================================
//
// A successful wallet debit of at least the owner's threshold moves
// floor(amount × pct / 100) from the wallet into flexible savings, clamped to
// what the wallet still holds. The save is keyed on the spending transaction
// ID, so a redelivered event is a replay: no second transfer, no counter
// bump, no repeated milestone.

type SpendStatus string

const (
	SpendSuccess SpendStatus = "success"
	SpendPending SpendStatus = "pending"
	SpendFailed  SpendStatus = "failed"
)

// SpendingTransaction is a completed (or not) wallet movement reported by
// the payments side.
type SpendingTransaction struct {
	ID         string
	OwnerID    generic.OwnerID
	Amount     generic.Money
	Direction  generic.Direction
	Status     SpendStatus
	OccurredAt time.Time
}

// Skip reasons.
const (
	SkipNotSuccessful = "not_successful"
	SkipNotDebit      = "not_debit"
	SkipNoAccount     = "no_savings_account"
	SkipInactive      = "inactive"
	SkipBelowMinimum  = "below_threshold"
	SkipNothingToSave = "nothing_to_save"
)

// SpendResult is what a spending transaction produced. Saved is zero and
// SkipReason set when nothing moved.
type SpendResult struct {
	Saved      generic.Money
	SkipReason string
	Replayed   bool
	Milestones []generic.SavingsMilestone
}

// SpendReference is the ledger reference of a spend-save.
func SpendReference(txID string) string { return "spend_save:" + txID }

// OnSpendingTransaction applies the spend-and-save rule to t.
func (s *Service) OnSpendingTransaction(ctx context.Context, t SpendingTransaction) (SpendResult, error) {
	if t.ID == "" {
		return SpendResult{}, generic.Invalid("id", "required")
	}
	if err := s.positive("amount", t.Amount); err != nil {
		return SpendResult{}, err
	}
	zero := generic.Zero(s.cfg.Currency)
	if t.Status != SpendSuccess {
		return SpendResult{Saved: zero, SkipReason: SkipNotSuccessful}, nil
	}
	if t.Direction != generic.Debit {
		return SpendResult{Saved: zero, SkipReason: SkipNotDebit}, nil
	}

	var (
		res SpendResult
		acc generic.SavingsAccount
	)
	err := s.ledger.Atomically(ctx, SpendReference(t.ID), func(tx *generic.Tx) error {
		res = SpendResult{}
		st := tx.Store()

		var err error
		acc, err = st.GetSavingsAccountByOwner(ctx, t.OwnerID)
		if isNotFound(err) {
			res.SkipReason = SkipNoAccount
			return nil
		}
		if err != nil {
			return err
		}

		ref := SpendReference(t.ID)
		prior, err := st.EntriesByReference(ctx, ref)
		if err != nil {
			return err
		}
		for _, e := range prior {
			if e.Direction == generic.Credit {
				res.Saved = e.Amount
				res.Replayed = true
				return nil
			}
		}

		if !acc.IsActive {
			res.SkipReason = SkipInactive
			return nil
		}
		if t.Amount.Minor < acc.MinTransactionAmount.Minor {
			res.SkipReason = SkipBelowMinimum
			return nil
		}

		wallet, err := tx.EnsureAccount(ctx, t.OwnerID, generic.AccountWallet, s.cfg.Currency)
		if err != nil {
			return err
		}
		saved := t.Amount.PercentFloor(acc.SavingsPercentage)
		if saved.Minor > wallet.Balance.Minor {
			saved = wallet.Balance
		}
		if !saved.IsPositive() {
			res.SkipReason = SkipNothingToSave
			return nil
		}

		if _, err := tx.Transfer(ctx, generic.TransferRequest{
			From:      wallet.ID,
			To:        acc.LedgerAccountID,
			Amount:    saved,
			Kind:      generic.EntrySpendSave,
			Reference: ref,
			Movement:  generic.MovementInternal,
			Memo:      "auto-save from " + t.ID,
		}); err != nil {
			return err
		}

		now := s.ledger.Clock().Now()
		acc.TotalSavedFromSpending, err = acc.TotalSavedFromSpending.Add(saved)
		if err != nil {
			return err
		}
		acc.TotalTransactionsProcessed++
		acc.LastAutoSaveAt = &now
		acc.UpdatedAt = now
		if err := st.UpdateSavingsAccount(ctx, acc); err != nil {
			return err
		}
		acc.Version++

		res.Saved = saved
		res.Milestones, err = s.recordMilestones(ctx, st, acc, now)
		return err
	})
	if err != nil {
		return SpendResult{}, err
	}

	out := res
	if out.Saved.Currency == "" {
		out.Saved = zero
	}
	if out.SkipReason != "" || out.Replayed {
		return out, nil
	}

	s.logger.Info("spend-save applied",
		"owner_id", t.OwnerID,
		"transaction_id", t.ID,
		"saved", out.Saved.String(),
		"total_saved", acc.TotalSavedFromSpending.String(),
	)
	s.notify(ctx, t.OwnerID, generic.EventSpendSaved, map[string]any{
		"transaction_id": t.ID,
		"spent":          t.Amount.String(),
		"saved":          out.Saved.String(),
		"total_saved":    acc.TotalSavedFromSpending.String(),
	})
	for _, m := range out.Milestones {
		s.notify(ctx, t.OwnerID, generic.EventMilestone, map[string]any{
			"milestone":   m.Key,
			"threshold":   m.Threshold.String(),
			"total_saved": acc.TotalSavedFromSpending.String(),
		})
	}
	return out, nil
}

// =============================================================================
// MILESTONES
// =============================================================================

// Milestone is a rung on the savings ladder.
type Milestone struct {
	Key       string
	Threshold generic.Money
}

// MilestoneLadder returns the rungs in ascending order. first_save fires on
// any saved amount.
func MilestoneLadder(c generic.Currency) []Milestone {
	return []Milestone{
		{Key: "first_save", Threshold: generic.NewMoney(1, c)},
		{Key: "hundred_naira", Threshold: generic.FromMajor(100, c)},
		{Key: "five_hundred_naira", Threshold: generic.FromMajor(500, c)},
		{Key: "thousand_naira", Threshold: generic.FromMajor(1_000, c)},
		{Key: "five_thousand_naira", Threshold: generic.FromMajor(5_000, c)},
		{Key: "ten_thousand_naira", Threshold: generic.FromMajor(10_000, c)},
	}
}

// recordMilestones persists every rung the total has reached and not yet
// recorded. The store's uniqueness on (account, key) makes each fire once
// even under concurrent saves: losing that race is a version conflict, and
// the retried unit of work sees the rung as already recorded.
func (s *Service) recordMilestones(ctx context.Context, st generic.Store, acc generic.SavingsAccount, at time.Time) ([]generic.SavingsMilestone, error) {
	existing, err := st.ListMilestones(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, m := range existing {
		seen[m.Key] = true
	}

	var reached []generic.SavingsMilestone
	for _, rung := range MilestoneLadder(s.cfg.Currency) {
		if seen[rung.Key] || acc.TotalSavedFromSpending.Minor < rung.Threshold.Minor {
			continue
		}
		m := generic.SavingsMilestone{AccountID: acc.ID, Key: rung.Key, Threshold: rung.Threshold, ReachedAt: at}
		if err := st.RecordMilestone(ctx, m); err != nil {
			if errors.Is(err, generic.ErrAlreadyExists) {
				return nil, fmt.Errorf("%w: %v", generic.ErrVersionConflict, err)
			}
			return nil, err
		}
		reached = append(reached, m)
	}
	return reached, nil
}
