package savings

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/savings-engine/generic"
)

// =============================================================================
// FLEXIBLE SAVINGS LIFECYCLE
// =============================================================================
//
//   uninitialized --Activate--> active <--Deactivate/Activate--> inactive
//
// An inactive account keeps its balance, receives no spend-saves and no
// interest, and can still be withdrawn from. Reactivation restarts accrual
// from the reactivation date.

type ActivateRequest struct {
	OwnerID           generic.OwnerID
	SavingsPercentage decimal.Decimal
	// MinTransactionAmount overrides the configured spend threshold.
	MinTransactionAmount *generic.Money
	// InitialDeposit is moved from the wallet when positive.
	InitialDeposit generic.Money
	Reference      string
}

// Activate creates or reactivates the owner's flexible savings account.
func (s *Service) Activate(ctx context.Context, req ActivateRequest) (generic.SavingsAccount, error) {
	if req.OwnerID == "" {
		return generic.SavingsAccount{}, generic.Invalid("owner_id", "required")
	}
	if err := generic.ValidatePercentage(req.SavingsPercentage); err != nil {
		return generic.SavingsAccount{}, err
	}
	if req.MinTransactionAmount != nil {
		if err := s.checkCurrency("min_transaction_amount", *req.MinTransactionAmount); err != nil {
			return generic.SavingsAccount{}, err
		}
		if req.MinTransactionAmount.IsNegative() {
			return generic.SavingsAccount{}, generic.Invalid("min_transaction_amount", "must not be negative")
		}
	}
	deposit := req.InitialDeposit
	if deposit.Currency == "" {
		deposit = generic.Zero(s.cfg.Currency)
	}
	if err := s.checkCurrency("initial_deposit", deposit); err != nil {
		return generic.SavingsAccount{}, err
	}
	if deposit.IsNegative() {
		return generic.SavingsAccount{}, generic.Invalid("initial_deposit", "must not be negative")
	}
	ref := req.Reference
	if ref == "" {
		ref = generic.NewID()
	}

	var acc generic.SavingsAccount
	err := s.ledger.Atomically(ctx, "activate:"+string(req.OwnerID), func(tx *generic.Tx) error {
		st := tx.Store()
		now := s.ledger.Clock().Now()
		today := s.today()

		wallet, err := tx.EnsureAccount(ctx, req.OwnerID, generic.AccountWallet, s.cfg.Currency)
		if err != nil {
			return err
		}
		flex, err := tx.EnsureAccount(ctx, req.OwnerID, generic.AccountFlexibleSavings, s.cfg.Currency)
		if err != nil {
			return err
		}

		acc, err = st.GetSavingsAccountByOwner(ctx, req.OwnerID)
		switch {
		case isNotFound(err):
			acc = generic.SavingsAccount{
				ID:                     generic.NewID(),
				OwnerID:                req.OwnerID,
				LedgerAccountID:        flex.ID,
				IsActive:               true,
				SavingsPercentage:      req.SavingsPercentage,
				MinTransactionAmount:   s.cfg.DefaultMinTransaction,
				TotalSavedFromSpending: generic.Zero(s.cfg.Currency),
				TotalInterestEarned:    generic.Zero(s.cfg.Currency),
				LastAccruedOn:          today,
				CreatedAt:              now,
				UpdatedAt:              now,
			}
			if req.MinTransactionAmount != nil {
				acc.MinTransactionAmount = *req.MinTransactionAmount
			}
			if err := st.CreateSavingsAccount(ctx, acc); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if !acc.IsActive {
				acc.LastAccruedOn = today
			}
			acc.IsActive = true
			acc.SavingsPercentage = req.SavingsPercentage
			if req.MinTransactionAmount != nil {
				acc.MinTransactionAmount = *req.MinTransactionAmount
			}
			acc.UpdatedAt = now
			if err := st.UpdateSavingsAccount(ctx, acc); err != nil {
				return err
			}
			acc.Version++
		}

		if deposit.IsPositive() {
			_, err := tx.Transfer(ctx, generic.TransferRequest{
				From:      wallet.ID,
				To:        flex.ID,
				Amount:    deposit,
				Kind:      generic.EntryTransfer,
				Reference: "savings:activate:" + ref,
				Movement:  generic.MovementInternal,
				Memo:      "initial funding",
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return generic.SavingsAccount{}, err
	}

	s.logger.Info("flexible savings activated",
		"owner_id", acc.OwnerID,
		"account_id", acc.ID,
		"savings_percentage", acc.SavingsPercentage.String(),
	)
	s.notify(ctx, acc.OwnerID, generic.EventActivated, map[string]any{
		"account_id":         acc.ID,
		"savings_percentage": acc.SavingsPercentage.String(),
		"initial_deposit":    deposit.String(),
	})
	return acc, nil
}

// Deactivate stops spend-saves and accrual. The balance stays withdrawable.
func (s *Service) Deactivate(ctx context.Context, owner generic.OwnerID) (generic.SavingsAccount, error) {
	var acc generic.SavingsAccount
	err := s.ledger.Atomically(ctx, "deactivate:"+string(owner), func(tx *generic.Tx) error {
		var err error
		acc, err = tx.Store().GetSavingsAccountByOwner(ctx, owner)
		if err != nil {
			return err
		}
		if !acc.IsActive {
			return &generic.StateTransitionError{Entity: "savings", ID: acc.ID, From: "inactive", To: "inactive"}
		}
		acc.IsActive = false
		acc.UpdatedAt = s.ledger.Clock().Now()
		if err := tx.Store().UpdateSavingsAccount(ctx, acc); err != nil {
			return err
		}
		acc.Version++
		return nil
	})
	if err != nil {
		return generic.SavingsAccount{}, err
	}

	s.logger.Info("flexible savings deactivated", "owner_id", owner, "account_id", acc.ID)
	s.notify(ctx, owner, generic.EventDeactivated, map[string]any{"account_id": acc.ID})
	return acc, nil
}

// SettingsUpdate changes the spend-save rule. Nil fields are left alone.
type SettingsUpdate struct {
	SavingsPercentage    *decimal.Decimal
	MinTransactionAmount *generic.Money
}

func (s *Service) UpdateSettings(ctx context.Context, owner generic.OwnerID, upd SettingsUpdate) (generic.SavingsAccount, error) {
	if upd.SavingsPercentage != nil {
		if err := generic.ValidatePercentage(*upd.SavingsPercentage); err != nil {
			return generic.SavingsAccount{}, err
		}
	}
	if upd.MinTransactionAmount != nil {
		if err := s.checkCurrency("min_transaction_amount", *upd.MinTransactionAmount); err != nil {
			return generic.SavingsAccount{}, err
		}
		if upd.MinTransactionAmount.IsNegative() {
			return generic.SavingsAccount{}, generic.Invalid("min_transaction_amount", "must not be negative")
		}
	}

	var acc generic.SavingsAccount
	err := s.ledger.Atomically(ctx, "settings:"+string(owner), func(tx *generic.Tx) error {
		var err error
		acc, err = tx.Store().GetSavingsAccountByOwner(ctx, owner)
		if err != nil {
			return err
		}
		if upd.SavingsPercentage != nil {
			acc.SavingsPercentage = *upd.SavingsPercentage
		}
		if upd.MinTransactionAmount != nil {
			acc.MinTransactionAmount = *upd.MinTransactionAmount
		}
		acc.UpdatedAt = s.ledger.Clock().Now()
		if err := tx.Store().UpdateSavingsAccount(ctx, acc); err != nil {
			return err
		}
		acc.Version++
		return nil
	})
	return acc, err
}

// =============================================================================
// MONEY IN AND OUT
// =============================================================================

type DepositRequest struct {
	OwnerID   generic.OwnerID
	Amount    generic.Money
	Reference string
}

// Deposit moves funds from the owner's wallet into flexible savings.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (generic.TransferResult, error) {
	if err := s.positive("amount", req.Amount); err != nil {
		return generic.TransferResult{}, err
	}
	if req.Reference == "" {
		return generic.TransferResult{}, generic.Invalid("reference", "required")
	}

	var res generic.TransferResult
	err := s.ledger.Atomically(ctx, "deposit:"+req.Reference, func(tx *generic.Tx) error {
		acc, err := tx.Store().GetSavingsAccountByOwner(ctx, req.OwnerID)
		if err != nil {
			return err
		}
		wallet, err := tx.EnsureAccount(ctx, req.OwnerID, generic.AccountWallet, s.cfg.Currency)
		if err != nil {
			return err
		}
		res, err = tx.Transfer(ctx, generic.TransferRequest{
			From:      wallet.ID,
			To:        acc.LedgerAccountID,
			Amount:    req.Amount,
			Kind:      generic.EntryTransfer,
			Reference: "savings:deposit:" + req.Reference,
			Movement:  generic.MovementInternal,
		})
		return err
	})
	if err != nil {
		return generic.TransferResult{}, err
	}
	if !res.Replayed {
		s.notify(ctx, req.OwnerID, generic.EventDeposit, map[string]any{
			"amount":        req.Amount.String(),
			"balance_after": res.Credit.BalanceAfter.String(),
		})
	}
	return res, nil
}

type WithdrawRequest struct {
	OwnerID generic.OwnerID
	Amount  generic.Money
	// Destination defaults to the owner's wallet. Another owner's account
	// makes this an outgoing movement subject to the daily limit.
	Destination generic.AccountID
	Reference   string
}

// Withdraw moves funds out of flexible savings. Allowed while inactive.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (generic.TransferResult, error) {
	if err := s.positive("amount", req.Amount); err != nil {
		return generic.TransferResult{}, err
	}
	if req.Reference == "" {
		return generic.TransferResult{}, generic.Invalid("reference", "required")
	}

	var res generic.TransferResult
	err := s.ledger.Atomically(ctx, "withdraw:"+req.Reference, func(tx *generic.Tx) error {
		acc, err := tx.Store().GetSavingsAccountByOwner(ctx, req.OwnerID)
		if err != nil {
			return err
		}
		movement := generic.MovementInternal
		dest := req.Destination
		if dest == "" {
			wallet, err := tx.EnsureAccount(ctx, req.OwnerID, generic.AccountWallet, s.cfg.Currency)
			if err != nil {
				return err
			}
			dest = wallet.ID
		} else {
			d, err := tx.Store().GetAccount(ctx, dest)
			if err != nil {
				return fmt.Errorf("destination %s: %w", dest, err)
			}
			if d.Kind == generic.AccountSettlement || d.Kind == generic.AccountFixedSavings {
				return generic.Invalid("destination", "cannot withdraw into a %s account", d.Kind)
			}
			if d.OwnerID != req.OwnerID {
				movement = generic.MovementOutgoing
			}
		}
		res, err = tx.Transfer(ctx, generic.TransferRequest{
			From:      acc.LedgerAccountID,
			To:        dest,
			Amount:    req.Amount,
			Kind:      generic.EntryTransfer,
			Reference: "savings:withdraw:" + req.Reference,
			Movement:  movement,
		})
		return err
	})
	if err != nil {
		return generic.TransferResult{}, err
	}

	if !res.Replayed {
		s.logger.Info("flexible savings withdrawal",
			"owner_id", req.OwnerID,
			"amount", req.Amount.String(),
			"destination", res.Credit.AccountID,
		)
		s.notify(ctx, req.OwnerID, generic.EventWithdrawal, map[string]any{
			"amount":        req.Amount.String(),
			"destination":   string(res.Credit.AccountID),
			"balance_after": res.Debit.BalanceAfter.String(),
		})
	}
	return res, nil
}

// =============================================================================
// READS
// =============================================================================

// Summary is the owner-facing view of a flexible savings account.
type Summary struct {
	Account       generic.SavingsAccount
	Balance       generic.Money
	DailyInterest generic.Money
	Milestones    []generic.SavingsMilestone
}

func (s *Service) GetSavings(ctx context.Context, owner generic.OwnerID) (Summary, error) {
	st := s.ledger.Store()
	acc, err := st.GetSavingsAccountByOwner(ctx, owner)
	if err != nil {
		return Summary{}, err
	}
	ledgerAcct, err := st.GetAccount(ctx, acc.LedgerAccountID)
	if err != nil {
		return Summary{}, err
	}
	daily, err := s.FlexibleDailyInterest(ledgerAcct.Balance)
	if err != nil {
		return Summary{}, err
	}
	milestones, err := st.ListMilestones(ctx, acc.ID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Account: acc, Balance: ledgerAcct.Balance, DailyInterest: daily.Total, Milestones: milestones}, nil
}
