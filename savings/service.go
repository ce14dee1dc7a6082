/*
Package savings implements the savings products on top of the generic ledger.

PURPOSE:
  Two products share one service:
  - Flexible "spend-and-save": activated by the owner, fed by a percentage
    of every qualifying wallet spend, accrues progressive interest daily.
  - Fixed-term deposits: a locked principal at a rate fixed by duration,
    accrued daily, matured on the payback date, then paid out or renewed.

  Every balance change goes through generic.Ledger; this package owns only
  the product records and their lifecycles.

FILES:
  service.go:  Config, construction, shared helpers
  flexible.go: Activate, Deactivate, UpdateSettings, Deposit, Withdraw
  spend.go:    OnSpendingTransaction, milestone ladder
  fixed.go:    CreateFixedSavings, Mature, PayOut, AutoRenew
  accrual.go:  RunAccrual (the nightly batch)

SETTLEMENT ACCOUNTS:
  "interest" funds every interest credit. It runs negative by design and is
  netted by treasury outside this engine.

EVENTS:
  Notifications are sent after the unit of work commits. A notifier failure
  is logged and never undoes the change.

SEE ALSO:
  - generic/ledger.go: Transfers
  - kyc/guard.go: Limits applied to user-initiated moves
*/
package savings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/warp/savings-engine/generic"
)

// InterestSettlement is the settlement account that funds interest.
const InterestSettlement = "interest"

// DefaultReminderDays is how far ahead of payback the reminder goes out.
const DefaultReminderDays = 7

// AccrualObserver receives per-account accrual outcomes (metrics).
type AccrualObserver interface {
	AccountAccrued(product generic.Product, status generic.RunStatus, interest generic.Money)
	RunFinished(report Report)
}

type Config struct {
	Currency      generic.Currency
	FlexibleRates generic.RateTable
	FixedRates    generic.RateTable

	// MinFixedPrincipal rejects smaller fixed deposits. Zero allows any positive amount.
	MinFixedPrincipal generic.Money
	// DefaultMinTransaction is the spend threshold for new flexible accounts.
	DefaultMinTransaction generic.Money

	// SettleMatured pays out or renews matured deposits during RunAccrual.
	SettleMatured bool
	ReminderDays  int
	Workers       int

	Notifier generic.Notifier
	Observer AccrualObserver
	Logger   *slog.Logger
}

// DefaultConfig returns the standard product configuration for currency c.
func DefaultConfig(c generic.Currency) Config {
	return Config{
		Currency:              c,
		FlexibleRates:         generic.DefaultFlexibleRates(c),
		FixedRates:            generic.DefaultFixedDurationRates(),
		MinFixedPrincipal:     generic.FromMajor(1_000, c),
		DefaultMinTransaction: generic.FromMajor(100, c),
		SettleMatured:         true,
		ReminderDays:          DefaultReminderDays,
		Workers:               4,
	}
}

type Service struct {
	ledger *generic.Ledger
	cfg    Config
	logger *slog.Logger
}

// NewService validates the rate tables and wires the service to ledger.
func NewService(ledger *generic.Ledger, cfg Config) (*Service, error) {
	if _, err := generic.ParseCurrency(string(cfg.Currency)); err != nil {
		return nil, err
	}
	if err := cfg.FlexibleRates.ValidateProgressive(); err != nil {
		return nil, fmt.Errorf("flexible rate table: %w", err)
	}
	if err := cfg.FixedRates.Validate(); err != nil {
		return nil, fmt.Errorf("fixed rate table: %w", err)
	}
	if cfg.DefaultMinTransaction.Currency == "" {
		cfg.DefaultMinTransaction = generic.Zero(cfg.Currency)
	}
	if cfg.MinFixedPrincipal.Currency == "" {
		cfg.MinFixedPrincipal = generic.Zero(cfg.Currency)
	}
	if cfg.ReminderDays <= 0 {
		cfg.ReminderDays = DefaultReminderDays
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Notifier == nil {
		cfg.Notifier = generic.NopNotifier{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledger, cfg: cfg, logger: logger.With("component", "savings")}, nil
}

func (s *Service) Ledger() *generic.Ledger { return s.ledger }
func (s *Service) Config() Config          { return s.cfg }

func (s *Service) today() generic.BusinessDate { return generic.Today(s.ledger.Clock()) }

// notify sends an event and logs a failure.
func (s *Service) notify(ctx context.Context, owner generic.OwnerID, kind generic.EventKind, payload map[string]any) {
	if err := s.cfg.Notifier.Notify(ctx, owner, kind, payload); err != nil {
		s.logger.Warn("notification failed", "owner_id", owner, "event", kind, "error", err)
	}
}

func (s *Service) checkCurrency(field string, m generic.Money) error {
	if m.Currency != s.cfg.Currency {
		return &generic.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("expected %s, got %s", s.cfg.Currency, m.Currency),
			Err:     generic.ErrCurrencyMismatch,
		}
	}
	return nil
}

func (s *Service) positive(field string, m generic.Money) error {
	if err := s.checkCurrency(field, m); err != nil {
		return err
	}
	if !m.IsPositive() {
		return generic.Invalid(field, "must be positive, got %s", m)
	}
	return nil
}

// Quote projects a fixed deposit without creating it.
func (s *Service) Quote(principal generic.Money, term generic.Term) (generic.MaturityProjection, error) {
	if err := s.positive("principal", principal); err != nil {
		return generic.MaturityProjection{}, err
	}
	return generic.ProjectMaturity(principal, s.cfg.FixedRates, term)
}

// FlexibleDailyInterest previews one day of interest on balance.
func (s *Service) FlexibleDailyInterest(balance generic.Money) (generic.InterestBreakdown, error) {
	return generic.ComputeInterest(balance, s.cfg.FlexibleRates, 1)
}

// FixedRateFor resolves the locked rate for a duration.
func (s *Service) FixedRateFor(days int) (decimal.Decimal, error) {
	return s.cfg.FixedRates.RateFor(int64(days))
}

func isNotFound(err error) bool { return errors.Is(err, generic.ErrNotFound) }
