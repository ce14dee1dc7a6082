package savings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warp/savings-engine/generic"
)

// =============================================================================
// DAILY ACCRUAL
// =============================================================================
//
// RunAccrual(date) credits one business day of interest to every eligible
// account. Each (date, account) pair is guarded twice:
//
//   1. DailyAccrualRun row: a completed row is never rewritten, so a second
//      run for the same date skips the account.
//   2. Ledger reference interest:<date>:<id>: even if the run row were lost,
//      the credit would replay instead of doubling.
//
// One account's failure is recorded on its run row and in the report; the
// batch carries on. A later run for the same date retries failed accounts.

// StatusSkipped is reported to the observer for accounts already done for the date.
const StatusSkipped generic.RunStatus = "skipped"

// Failure is one account the run could not process.
type Failure struct {
	AccountID string
	Product   generic.Product
	Stage     string // "accrue" or "settle"
	Err       error
}

// Report summarizes a run.
type Report struct {
	BusinessDate generic.BusinessDate
	Processed    int
	Skipped      int
	Credited     generic.Money
	Matured      int
	Settled      int
	Reminders    int
	Failures     []Failure
	Cancelled    bool
	Duration     time.Duration
}

type accrualJob struct {
	id      string
	product generic.Product
}

type accrualOutcome struct {
	owner    generic.OwnerID
	skipped  bool
	credited generic.Money
	matured  *generic.FixedSavingsAccount
	reminder *generic.FixedSavingsAccount
}

var errRunCompleted = errors.New("accrual run already completed")

// RunAccrual processes every active flexible and fixed account for date.
// If ctx is cancelled, no new accounts are started; accounts already in
// flight finish, and the partial report is returned with ctx.Err().
func (s *Service) RunAccrual(ctx context.Context, date generic.BusinessDate) (Report, error) {
	start := time.Now()
	report := Report{BusinessDate: date, Credited: generic.Zero(s.cfg.Currency)}

	if _, err := s.ledger.EnsureSettlementAccount(ctx, InterestSettlement, s.cfg.Currency); err != nil {
		return report, err
	}

	jobs, err := s.accrualJobs(ctx)
	if err != nil {
		return report, err
	}
	s.logger.Info("accrual run started", "business_date", date.String(), "accounts", len(jobs))

	var mu sync.Mutex
	s.fanOut(ctx, jobs, func(ctx context.Context, job accrualJob) {
		out, err := s.accrueOne(ctx, date, job)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failures = append(report.Failures, Failure{AccountID: job.id, Product: job.product, Stage: "accrue", Err: err})
			s.observe(job.product, generic.RunFailed, generic.Zero(s.cfg.Currency))
			s.logger.Error("accrual failed", "business_date", date.String(), "account_id", job.id, "product", job.product, "error", err)
			return
		}
		if out.skipped {
			report.Skipped++
			s.observe(job.product, StatusSkipped, generic.Zero(s.cfg.Currency))
			return
		}
		report.Processed++
		report.Credited.Minor += out.credited.Minor
		if out.matured != nil {
			report.Matured++
		}
		if out.reminder != nil {
			report.Reminders++
		}
		s.observe(job.product, generic.RunCompleted, out.credited)
	})

	if s.cfg.SettleMatured && ctx.Err() == nil {
		s.settleMatured(ctx, &report)
	}

	report.Cancelled = ctx.Err() != nil
	report.Duration = time.Since(start)
	s.logger.Info("accrual run finished",
		"business_date", date.String(),
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failed", len(report.Failures),
		"credited", report.Credited.String(),
		"matured", report.Matured,
		"settled", report.Settled,
		"cancelled", report.Cancelled,
		"duration", report.Duration,
	)
	if s.cfg.Observer != nil {
		s.cfg.Observer.RunFinished(report)
	}
	if report.Cancelled {
		return report, ctx.Err()
	}
	return report, nil
}

func (s *Service) observe(product generic.Product, status generic.RunStatus, interest generic.Money) {
	if s.cfg.Observer != nil {
		s.cfg.Observer.AccountAccrued(product, status, interest)
	}
}

func (s *Service) accrualJobs(ctx context.Context) ([]accrualJob, error) {
	flex, err := s.ledger.Store().ListActiveSavingsAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list savings accounts: %w", err)
	}
	fixed, err := s.ledger.Store().ListFixedSavings(ctx, generic.FixedFilter{Status: generic.FixedActive})
	if err != nil {
		return nil, fmt.Errorf("list fixed savings: %w", err)
	}
	jobs := make([]accrualJob, 0, len(flex)+len(fixed))
	for _, a := range flex {
		jobs = append(jobs, accrualJob{id: a.ID, product: generic.ProductFlexible})
	}
	for _, f := range fixed {
		jobs = append(jobs, accrualJob{id: f.ID, product: generic.ProductFixed})
	}
	return jobs, nil
}

// fanOut runs fn over jobs with at most Workers in flight. Feeding stops when
// ctx is done; started jobs run to completion on a non-cancellable context.
func (s *Service) fanOut(ctx context.Context, jobs []accrualJob, fn func(context.Context, accrualJob)) {
	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup
	work := context.WithoutCancel(ctx)

feed:
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			break feed
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)
		go func(j accrualJob) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(work, j)
		}(job)
	}
	wg.Wait()
}

// =============================================================================
// PER-ACCOUNT
// =============================================================================

func (s *Service) accrueOne(ctx context.Context, date generic.BusinessDate, job accrualJob) (accrualOutcome, error) {
	st := s.ledger.Store()
	run, err := st.GetAccrualRun(ctx, date, job.id)
	switch {
	case err == nil && run.Status == generic.RunCompleted:
		return accrualOutcome{skipped: true}, nil
	case err != nil && !isNotFound(err):
		return accrualOutcome{}, err
	}

	run = generic.DailyAccrualRun{
		BusinessDate: date,
		AccountID:    job.id,
		Product:      job.product,
		Status:       generic.RunPending,
		Attempts:     run.Attempts + 1,
		StartedAt:    s.ledger.Clock().Now(),
	}
	if err := st.SaveAccrualRun(ctx, run); err != nil {
		return accrualOutcome{}, err
	}

	var out accrualOutcome
	err = s.ledger.Atomically(ctx, generic.AccrualReference(date, job.id), func(tx *generic.Tx) error {
		out = accrualOutcome{credited: generic.Zero(s.cfg.Currency)}
		current, err := tx.Store().GetAccrualRun(ctx, date, job.id)
		if err == nil && current.Status == generic.RunCompleted {
			return errRunCompleted
		}
		if err != nil && !isNotFound(err) {
			return err
		}

		if job.product == generic.ProductFlexible {
			err = s.accrueFlexible(ctx, tx, date, job.id, &out)
		} else {
			err = s.accrueFixed(ctx, tx, date, job.id, &out)
		}
		if err != nil {
			return err
		}

		done := s.ledger.Clock().Now()
		run.Status = generic.RunCompleted
		run.InterestCredited = out.credited
		run.Error = ""
		run.CompletedAt = &done
		return tx.Store().SaveAccrualRun(ctx, run)
	})
	if errors.Is(err, errRunCompleted) {
		return accrualOutcome{skipped: true}, nil
	}
	if err != nil {
		run.Status = generic.RunFailed
		run.Error = err.Error()
		if saveErr := st.SaveAccrualRun(ctx, run); saveErr != nil {
			s.logger.Error("recording failed accrual run", "account_id", job.id, "error", saveErr)
		}
		return accrualOutcome{}, err
	}

	s.afterAccrual(ctx, date, job, out)
	return out, nil
}

func (s *Service) accrueFlexible(ctx context.Context, tx *generic.Tx, date generic.BusinessDate, id string, out *accrualOutcome) error {
	st := tx.Store()
	acc, err := st.GetSavingsAccount(ctx, id)
	if err != nil {
		return err
	}
	out.owner = acc.OwnerID
	if !acc.IsActive {
		return nil
	}
	days := generic.DaysBetween(acc.LastAccruedOn, date)
	if days <= 0 {
		return nil
	}

	ledgerAcct, err := st.GetAccount(ctx, acc.LedgerAccountID)
	if err != nil {
		return err
	}
	if ledgerAcct.Balance.IsPositive() {
		bd, err := generic.ComputeInterest(ledgerAcct.Balance, s.cfg.FlexibleRates, days)
		if err != nil {
			return err
		}
		if bd.Total.IsPositive() {
			res, err := tx.Transfer(ctx, generic.TransferRequest{
				From:      generic.SettlementAccountID(InterestSettlement, s.cfg.Currency),
				To:        acc.LedgerAccountID,
				Amount:    bd.Total,
				Kind:      generic.EntryInterest,
				Reference: generic.AccrualReference(date, acc.ID),
				Movement:  generic.MovementSystem,
			})
			if err != nil {
				return err
			}
			if !res.Replayed {
				out.credited = bd.Total
				acc.TotalInterestEarned.Minor += bd.Total.Minor
			}
		}
	}

	acc.LastAccruedOn = date
	acc.UpdatedAt = s.ledger.Clock().Now()
	return st.UpdateSavingsAccount(ctx, acc)
}

func (s *Service) accrueFixed(ctx context.Context, tx *generic.Tx, date generic.BusinessDate, id string, out *accrualOutcome) error {
	f, err := tx.Store().GetFixedSavings(ctx, id)
	if err != nil {
		return err
	}
	out.owner = f.OwnerID
	if f.Status != generic.FixedActive {
		return nil
	}

	ref := generic.AccrualReference(date, f.ID)
	if f.Term.MaturedOn(date) {
		credited, err := s.matureInTx(ctx, tx, &f, date, ref)
		if err != nil {
			return err
		}
		out.credited = credited
		matured := f
		out.matured = &matured
	} else {
		credited, err := s.creditFixedInterest(ctx, tx, &f, date, ref)
		if err != nil {
			return err
		}
		out.credited = credited
		f.UpdatedAt = s.ledger.Clock().Now()
		if f.Term.DaysUntilPayback(date) == s.cfg.ReminderDays {
			reminder := f
			out.reminder = &reminder
		}
	}
	return tx.Store().UpdateFixedSavings(ctx, f)
}

// afterAccrual sends the events of a committed account run.
func (s *Service) afterAccrual(ctx context.Context, date generic.BusinessDate, job accrualJob, out accrualOutcome) {
	if out.credited.IsPositive() {
		s.notify(ctx, out.owner, generic.EventInterestCredited, map[string]any{
			"account_id":    job.id,
			"product":       string(job.product),
			"business_date": date.String(),
			"amount":        out.credited.String(),
		})
	}
	if f := out.matured; f != nil {
		s.logger.Info("fixed savings matured", "owner_id", f.OwnerID, "fixed_id", f.ID, "interest", f.AccruedInterest.String())
		s.notifyMatured(ctx, *f)
	}
	if f := out.reminder; f != nil {
		s.notify(ctx, f.OwnerID, generic.EventMaturityReminder, map[string]any{
			"fixed_id":        f.ID,
			"payback_date":    f.Term.Payback.String(),
			"days_remaining":  s.cfg.ReminderDays,
			"maturity_amount": f.MaturityAmount().String(),
			"auto_renewal":    f.AutoRenewalEnabled,
		})
	}
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// settleMatured pays out or renews every matured deposit, including ones a
// previous run matured but failed to settle.
func (s *Service) settleMatured(ctx context.Context, report *Report) {
	matured, err := s.ledger.Store().ListFixedSavings(ctx, generic.FixedFilter{Status: generic.FixedMatured})
	if err != nil {
		report.Failures = append(report.Failures, Failure{Product: generic.ProductFixed, Stage: "settle", Err: err})
		return
	}
	jobs := make([]accrualJob, 0, len(matured))
	renew := make(map[string]bool, len(matured))
	for _, f := range matured {
		jobs = append(jobs, accrualJob{id: f.ID, product: generic.ProductFixed})
		renew[f.ID] = f.AutoRenewalEnabled
	}

	var mu sync.Mutex
	s.fanOut(ctx, jobs, func(ctx context.Context, job accrualJob) {
		var err error
		if renew[job.id] {
			_, err = s.AutoRenew(ctx, job.id)
		} else {
			_, _, err = s.PayOut(ctx, job.id)
		}

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failures = append(report.Failures, Failure{AccountID: job.id, Product: job.product, Stage: "settle", Err: err})
			s.logger.Error("settling matured deposit failed", "fixed_id", job.id, "error", err)
			return
		}
		report.Settled++
	})
}
