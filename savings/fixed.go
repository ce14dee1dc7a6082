package savings

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/savings-engine/generic"
)

// =============================================================================
// FIXED-TERM LIFECYCLE
// =============================================================================
//
//   active --(payback date reached)--> matured --PayOut--> paid_out
//                                         |
//                                         +--AutoRenew--> closed  (+ successor: active)
//
// paid_out and closed are terminal. Maturity is accrual's hard stop: the
// deposit earns exactly the full-term interest at its locked rate, no more.

type CreateFixedRequest struct {
	OwnerID            generic.OwnerID
	Principal          generic.Money
	Source             generic.FundingSource
	Purpose            generic.Purpose
	PurposeDescription string
	// StartDate defaults to today. PaybackDate wins over Days when both are set.
	StartDate   generic.BusinessDate
	PaybackDate generic.BusinessDate
	Days        int
	AutoRenewal bool
	// Reference makes creation idempotent per owner.
	Reference string
}

func (s *Service) term(req CreateFixedRequest) (generic.Term, error) {
	start := req.StartDate
	today := s.today()
	if start.IsZero() {
		start = today
	}
	if start.Before(today) {
		return generic.Term{}, generic.Invalid("start_date", "%s is in the past", start)
	}
	var t generic.Term
	switch {
	case !req.PaybackDate.IsZero():
		t = generic.Term{Start: start, Payback: req.PaybackDate}
	case req.Days > 0:
		t = generic.NewTerm(start, req.Days)
	default:
		return generic.Term{}, generic.Invalid("payback_date", "payback date or days required")
	}
	return t, t.Validate()
}

// fixedID derives a stable record ID from the caller's reference.
func fixedID(owner generic.OwnerID, ref string) string {
	if ref == "" {
		return generic.NewID()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("fixed:"+string(owner)+":"+ref)).String()
}

// CreateFixedSavings locks principal from the chosen source(s) into a new
// deposit. The rate is resolved here and never again.
func (s *Service) CreateFixedSavings(ctx context.Context, req CreateFixedRequest) (generic.FixedSavingsAccount, error) {
	if req.OwnerID == "" {
		return generic.FixedSavingsAccount{}, generic.Invalid("owner_id", "required")
	}
	if err := s.positive("principal", req.Principal); err != nil {
		return generic.FixedSavingsAccount{}, err
	}
	if req.Principal.Minor < s.cfg.MinFixedPrincipal.Minor {
		return generic.FixedSavingsAccount{}, generic.Invalid("principal", "minimum is %s", s.cfg.MinFixedPrincipal)
	}
	if req.Source == "" {
		req.Source = generic.SourceWallet
	}
	if !req.Source.Valid() {
		return generic.FixedSavingsAccount{}, generic.Invalid("source", "unknown funding source %q", req.Source)
	}
	if req.Purpose == "" {
		req.Purpose = generic.PurposeOther
	}
	if !req.Purpose.Valid() {
		return generic.FixedSavingsAccount{}, generic.Invalid("purpose", "unknown purpose %q", req.Purpose)
	}
	term, err := s.term(req)
	if err != nil {
		return generic.FixedSavingsAccount{}, err
	}
	rate, err := s.cfg.FixedRates.RateFor(int64(term.Days()))
	if err != nil {
		return generic.FixedSavingsAccount{}, err
	}

	id := fixedID(req.OwnerID, req.Reference)
	var (
		f       generic.FixedSavingsAccount
		created bool
	)
	err = s.ledger.Atomically(ctx, "fixed:create:"+id, func(tx *generic.Tx) error {
		st := tx.Store()
		created = false

		existing, err := st.GetFixedSavings(ctx, id)
		if err == nil {
			f = existing
			return nil
		}
		if !isNotFound(err) {
			return err
		}

		wallet, err := tx.EnsureAccount(ctx, req.OwnerID, generic.AccountWallet, s.cfg.Currency)
		if err != nil {
			return err
		}
		var flex *generic.LedgerAccount
		if req.Source != generic.SourceWallet {
			acct, err := st.FindAccount(ctx, req.OwnerID, generic.AccountFlexibleSavings, s.cfg.Currency)
			switch {
			case err == nil:
				flex = &acct
			case !isNotFound(err):
				return err
			case req.Source == generic.SourceSavings:
				return generic.Invalid("source", "owner has no flexible savings account")
			}
		}

		split, err := splitSource(req.Source, req.Principal, wallet, flex)
		if err != nil {
			return err
		}

		acct, err := tx.OpenAccount(ctx, req.OwnerID, generic.AccountFixedSavings, s.cfg.Currency)
		if err != nil {
			return err
		}
		now := s.ledger.Clock().Now()
		f = generic.FixedSavingsAccount{
			ID:                  id,
			OwnerID:             req.OwnerID,
			LedgerAccountID:     acct.ID,
			Principal:           req.Principal,
			Source:              req.Source,
			SourceSplit:         split,
			Purpose:             req.Purpose,
			PurposeDescription:  req.PurposeDescription,
			Term:                term,
			InterestRatePercent: rate,
			AutoRenewalEnabled:  req.AutoRenewal,
			Status:              generic.FixedActive,
			AccruedInterest:     generic.Zero(s.cfg.Currency),
			LastAccruedOn:       term.Start,
			CreatedAt:           now,
			UpdatedAt:           now,
		}

		if split.FromWallet.IsPositive() {
			if _, err := tx.Transfer(ctx, generic.TransferRequest{
				From: wallet.ID, To: acct.ID, Amount: split.FromWallet,
				Kind: generic.EntryTransfer, Reference: "fixed:fund:" + id + ":wallet",
				Movement: generic.MovementInternal, Memo: "fixed savings funding",
			}); err != nil {
				return err
			}
		}
		if split.FromSavings.IsPositive() {
			if _, err := tx.Transfer(ctx, generic.TransferRequest{
				From: flex.ID, To: acct.ID, Amount: split.FromSavings,
				Kind: generic.EntryTransfer, Reference: "fixed:fund:" + id + ":savings",
				Movement: generic.MovementInternal, Memo: "fixed savings funding",
			}); err != nil {
				return err
			}
		}
		if err := st.CreateFixedSavings(ctx, f); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return generic.FixedSavingsAccount{}, err
	}
	if !created {
		return f, nil
	}

	s.logger.Info("fixed savings created",
		"owner_id", f.OwnerID,
		"fixed_id", f.ID,
		"principal", f.Principal.String(),
		"rate", f.InterestRatePercent.String(),
		"payback_date", f.Term.Payback.String(),
	)
	s.notify(ctx, f.OwnerID, generic.EventFixedCreated, map[string]any{
		"fixed_id":        f.ID,
		"principal":       f.Principal.String(),
		"interest_rate":   f.InterestRatePercent.String(),
		"payback_date":    f.Term.Payback.String(),
		"maturity_amount": f.MaturityAmount().String(),
		"source":          string(f.Source),
		"purpose":         string(f.Purpose),
	})
	return f, nil
}

// splitSource decides how much comes from each account. "both" drains the
// wallet first and takes the rest from savings.
func splitSource(src generic.FundingSource, principal generic.Money, wallet generic.LedgerAccount, flex *generic.LedgerAccount) (generic.SourceSplit, error) {
	zero := generic.Zero(principal.Currency)
	split := generic.SourceSplit{FromWallet: zero, FromSavings: zero}

	switch src {
	case generic.SourceWallet:
		if wallet.Balance.Minor < principal.Minor {
			return split, &generic.InsufficientFundsError{AccountID: wallet.ID, Available: wallet.Balance, Requested: principal}
		}
		split.FromWallet = principal
	case generic.SourceSavings:
		if flex.Balance.Minor < principal.Minor {
			return split, &generic.InsufficientFundsError{AccountID: flex.ID, Available: flex.Balance, Requested: principal}
		}
		split.FromSavings = principal
	case generic.SourceBoth:
		available := wallet.Balance.Minor
		if flex != nil {
			available += flex.Balance.Minor
		}
		if available < principal.Minor {
			return split, &generic.InsufficientFundsError{
				AccountID: wallet.ID,
				Available: generic.NewMoney(available, principal.Currency),
				Requested: principal,
			}
		}
		fromWallet := min(wallet.Balance.Minor, principal.Minor)
		split.FromWallet = generic.NewMoney(fromWallet, principal.Currency)
		split.FromSavings = generic.NewMoney(principal.Minor-fromWallet, principal.Currency)
	}
	return split, nil
}

// =============================================================================
// MATURITY
// =============================================================================

// matureInTx tops up interest to the full-term amount and marks f matured.
// ref is the reference of the top-up credit.
func (s *Service) matureInTx(ctx context.Context, tx *generic.Tx, f *generic.FixedSavingsAccount, date generic.BusinessDate, ref string) (generic.Money, error) {
	if f.Status != generic.FixedActive || !f.Term.MaturedOn(date) {
		return generic.Money{}, &generic.StateTransitionError{
			Entity: "fixed_savings", ID: f.ID, From: string(f.Status), To: string(generic.FixedMatured),
		}
	}
	credited, err := s.creditFixedInterest(ctx, tx, f, date, ref)
	if err != nil {
		return generic.Money{}, err
	}
	now := s.ledger.Clock().Now()
	f.Status = generic.FixedMatured
	f.MaturedAt = &now
	f.UpdatedAt = now
	return credited, nil
}

// creditFixedInterest brings AccruedInterest up to the cumulative figure for
// date and credits the difference.
func (s *Service) creditFixedInterest(ctx context.Context, tx *generic.Tx, f *generic.FixedSavingsAccount, date generic.BusinessDate, ref string) (generic.Money, error) {
	target := generic.AccruedThrough(f.Principal, f.InterestRatePercent, f.Term, date)
	delta := generic.NewMoney(target.Minor-f.AccruedInterest.Minor, f.Principal.Currency)
	if delta.IsPositive() {
		res, err := tx.Transfer(ctx, generic.TransferRequest{
			From:      generic.SettlementAccountID(InterestSettlement, f.Principal.Currency),
			To:        f.LedgerAccountID,
			Amount:    delta,
			Kind:      generic.EntryInterest,
			Reference: ref,
			Movement:  generic.MovementSystem,
		})
		if err != nil {
			return generic.Money{}, err
		}
		if res.Replayed {
			delta = generic.Zero(f.Principal.Currency)
		}
	} else {
		delta = generic.Zero(f.Principal.Currency)
	}
	f.AccruedInterest = target
	if date.Before(f.Term.Payback) {
		f.LastAccruedOn = date
	} else {
		f.LastAccruedOn = f.Term.Payback
	}
	return delta, nil
}

// payoutDestination is the owner's flexible savings account when one
// exists, otherwise the wallet.
func (s *Service) payoutDestination(ctx context.Context, tx *generic.Tx, owner generic.OwnerID) (generic.LedgerAccount, error) {
	acct, err := tx.Store().FindAccount(ctx, owner, generic.AccountFlexibleSavings, s.cfg.Currency)
	if err == nil {
		return acct, nil
	}
	if !isNotFound(err) {
		return generic.LedgerAccount{}, err
	}
	return tx.EnsureAccount(ctx, owner, generic.AccountWallet, s.cfg.Currency)
}

// settleable loads f and matures it if it is still active but past payback.
// It rejects terminal states.
func (s *Service) settleable(ctx context.Context, tx *generic.Tx, id, action string) (generic.FixedSavingsAccount, bool, error) {
	f, err := tx.Store().GetFixedSavings(ctx, id)
	if err != nil {
		return f, false, err
	}
	switch f.Status {
	case generic.FixedPaidOut:
		return f, false, &generic.StateTransitionError{Entity: "fixed_savings", ID: id, From: string(f.Status), To: action, Err: generic.ErrAlreadyPaidOut}
	case generic.FixedClosed:
		return f, false, &generic.StateTransitionError{Entity: "fixed_savings", ID: id, From: string(f.Status), To: action}
	case generic.FixedActive:
		if _, err := s.matureInTx(ctx, tx, &f, s.today(), "interest:maturity:"+f.ID); err != nil {
			return f, false, err
		}
		return f, true, nil
	}
	return f, false, nil
}

// =============================================================================
// PAYOUT
// =============================================================================

// PayOut moves principal plus interest to the owner. One-shot: a second call
// fails with ErrAlreadyPaidOut.
func (s *Service) PayOut(ctx context.Context, id string) (generic.FixedSavingsAccount, generic.TransferResult, error) {
	if _, err := s.ledger.EnsureSettlementAccount(ctx, InterestSettlement, s.cfg.Currency); err != nil {
		return generic.FixedSavingsAccount{}, generic.TransferResult{}, err
	}

	var (
		f          generic.FixedSavingsAccount
		res        generic.TransferResult
		destKind   generic.AccountKind
		maturedNow bool
	)
	err := s.ledger.Atomically(ctx, "fixed:payout:"+id, func(tx *generic.Tx) error {
		var err error
		f, maturedNow, err = s.settleable(ctx, tx, id, string(generic.FixedPaidOut))
		if err != nil {
			return err
		}
		acct, err := tx.Store().GetAccount(ctx, f.LedgerAccountID)
		if err != nil {
			return err
		}
		dest, err := s.payoutDestination(ctx, tx, f.OwnerID)
		if err != nil {
			return err
		}
		destKind = dest.Kind
		if acct.Balance.IsPositive() {
			res, err = tx.Transfer(ctx, generic.TransferRequest{
				From:      acct.ID,
				To:        dest.ID,
				Amount:    acct.Balance,
				Kind:      generic.EntryMaturityPayout,
				Reference: "fixed:payout:" + f.ID,
				Movement:  generic.MovementSystem,
				Memo:      "fixed savings maturity payout",
			})
			if err != nil {
				return err
			}
		}
		now := s.ledger.Clock().Now()
		f.Status = generic.FixedPaidOut
		f.PaidOutAt = &now
		f.UpdatedAt = now
		if err := tx.Store().UpdateFixedSavings(ctx, f); err != nil {
			return err
		}
		f.Version++
		return nil
	})
	if err != nil {
		return generic.FixedSavingsAccount{}, generic.TransferResult{}, err
	}

	if maturedNow {
		s.notifyMatured(ctx, f)
	}
	s.logger.Info("fixed savings paid out", "owner_id", f.OwnerID, "fixed_id", f.ID, "amount", res.Credit.Amount.String())
	s.notify(ctx, f.OwnerID, generic.EventPaidOut, map[string]any{
		"fixed_id":         f.ID,
		"amount":           res.Credit.Amount.String(),
		"interest_earned":  f.AccruedInterest.String(),
		"destination":      string(res.Credit.AccountID),
		"destination_kind": string(destKind),
	})
	return f, res, nil
}

func (s *Service) notifyMatured(ctx context.Context, f generic.FixedSavingsAccount) {
	s.notify(ctx, f.OwnerID, generic.EventMatured, map[string]any{
		"fixed_id":        f.ID,
		"principal":       f.Principal.String(),
		"interest_earned": f.AccruedInterest.String(),
		"maturity_amount": f.MaturityAmount().String(),
	})
}

// =============================================================================
// AUTO-RENEWAL
// =============================================================================

// AutoRenew closes a matured deposit and opens its successor: same duration,
// starting at the old payback date, principal = the old maturity amount, rate
// re-resolved from today's table.
func (s *Service) AutoRenew(ctx context.Context, id string) (generic.FixedSavingsAccount, error) {
	if _, err := s.ledger.EnsureSettlementAccount(ctx, InterestSettlement, s.cfg.Currency); err != nil {
		return generic.FixedSavingsAccount{}, err
	}

	var (
		old, next  generic.FixedSavingsAccount
		maturedNow bool
	)
	err := s.ledger.Atomically(ctx, "fixed:renew:"+id, func(tx *generic.Tx) error {
		st := tx.Store()
		var err error
		old, maturedNow, err = s.settleable(ctx, tx, id, string(generic.FixedClosed))
		if err != nil {
			return err
		}
		if !old.AutoRenewalEnabled {
			return &generic.StateTransitionError{Entity: "fixed_savings", ID: id, From: string(old.Status), To: "renewed (auto-renewal disabled)"}
		}

		term := old.Term.Next()
		rate, err := s.cfg.FixedRates.RateFor(int64(term.Days()))
		if err != nil {
			return err
		}
		src, err := st.GetAccount(ctx, old.LedgerAccountID)
		if err != nil {
			return err
		}
		if !src.Balance.IsPositive() {
			return fmt.Errorf("fixed savings %s: nothing to renew", id)
		}
		acct, err := tx.OpenAccount(ctx, old.OwnerID, generic.AccountFixedSavings, s.cfg.Currency)
		if err != nil {
			return err
		}
		if _, err := tx.Transfer(ctx, generic.TransferRequest{
			From:      src.ID,
			To:        acct.ID,
			Amount:    src.Balance,
			Kind:      generic.EntryTransfer,
			Reference: "fixed:renew:" + old.ID,
			Movement:  generic.MovementSystem,
			Memo:      "auto-renewal",
		}); err != nil {
			return err
		}

		now := s.ledger.Clock().Now()
		next = generic.FixedSavingsAccount{
			ID:                  generic.NewID(),
			OwnerID:             old.OwnerID,
			LedgerAccountID:     acct.ID,
			Principal:           src.Balance,
			Source:              old.Source,
			SourceSplit:         generic.SourceSplit{FromWallet: generic.Zero(s.cfg.Currency), FromSavings: generic.Zero(s.cfg.Currency)},
			Purpose:             old.Purpose,
			PurposeDescription:  old.PurposeDescription,
			Term:                term,
			InterestRatePercent: rate,
			AutoRenewalEnabled:  true,
			Status:              generic.FixedActive,
			AccruedInterest:     generic.Zero(s.cfg.Currency),
			LastAccruedOn:       term.Start,
			PredecessorID:       old.ID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := st.CreateFixedSavings(ctx, next); err != nil {
			return err
		}

		old.Status = generic.FixedClosed
		old.SuccessorID = next.ID
		old.UpdatedAt = now
		if err := st.UpdateFixedSavings(ctx, old); err != nil {
			return err
		}
		old.Version++
		return nil
	})
	if err != nil {
		return generic.FixedSavingsAccount{}, err
	}

	if maturedNow {
		s.notifyMatured(ctx, old)
	}
	s.logger.Info("fixed savings auto-renewed",
		"owner_id", next.OwnerID,
		"fixed_id", old.ID,
		"successor_id", next.ID,
		"principal", next.Principal.String(),
		"rate", next.InterestRatePercent.String(),
	)
	s.notify(ctx, next.OwnerID, generic.EventAutoRenewed, map[string]any{
		"fixed_id":      old.ID,
		"successor_id":  next.ID,
		"principal":     next.Principal.String(),
		"interest_rate": next.InterestRatePercent.String(),
		"payback_date":  next.Term.Payback.String(),
	})
	return next, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetFixed(ctx context.Context, id string) (generic.FixedSavingsAccount, error) {
	return s.ledger.Store().GetFixedSavings(ctx, id)
}

func (s *Service) ListFixed(ctx context.Context, filter generic.FixedFilter) ([]generic.FixedSavingsAccount, error) {
	return s.ledger.Store().ListFixedSavings(ctx, filter)
}
