/*
guard.go - Tier limit guard

PURPOSE:
  Implements generic.Authorizer. The ledger calls Authorize inside the
  transfer's transaction, after reading both accounts and before writing
  anything, so a rejected movement leaves no trace.

RULES:
  1. DAILY LIMIT (outgoing only):
     sum(outgoing debits of owner in business day) + amount <= daily limit
     The business day is [00:00, 24:00) in the guard's location.
  2. BALANCE CEILING (internal and outgoing):
     destination balance + amount <= max balance of the destination owner's tier
     Only liquid balances (wallet, flexible savings) are capped; fixed
     deposits and settlement accounts are exempt.

  System movements never reach the guard.

SEE ALSO:
  - generic/ledger.go: Where Authorize is called
  - tier.go: Tier definitions
*/
package kyc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/savings-engine/generic"
)

// Rejection reasons.
const (
	ReasonDailyLimit = "daily_limit"
	ReasonMaxBalance = "max_balance"
)

// RejectionObserver is told about every rejection (metrics).
type RejectionObserver interface {
	LimitRejected(reason string)
}

type GuardConfig struct {
	Tiers    TierProvider
	Location *time.Location
	Observer RejectionObserver
	Logger   *slog.Logger
}

type Guard struct {
	tiers    TierProvider
	loc      *time.Location
	observer RejectionObserver
	logger   *slog.Logger
}

var _ generic.Authorizer = (*Guard)(nil)

func NewGuard(cfg GuardConfig) *Guard {
	g := &Guard{tiers: cfg.Tiers, loc: cfg.Location, observer: cfg.Observer, logger: cfg.Logger}
	if g.loc == nil {
		g.loc = time.UTC
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Authorize decides whether a user-initiated movement may proceed.
func (g *Guard) Authorize(ctx context.Context, store generic.Store, req generic.AuthorizationRequest) (generic.Decision, error) {
	if !req.Movement.UserInitiated() {
		return generic.Decision{Allowed: true}, nil
	}

	if req.Movement == generic.MovementOutgoing {
		tier, err := g.tiers.TierFor(ctx, req.OwnerID)
		if err != nil {
			return generic.Decision{}, fmt.Errorf("tier for %s: %w", req.OwnerID, err)
		}
		if tier.DailyTransactionLimit != nil {
			usage, err := g.dailyUsage(ctx, store, req.OwnerID, *tier.DailyTransactionLimit, req.BusinessDate)
			if err != nil {
				return generic.Decision{}, err
			}
			if usage.Spent.Minor+req.Amount.Minor > usage.Limit.Minor {
				return g.reject(req, ReasonDailyLimit, usage.Limit, usage.Remaining), nil
			}
		}
	}

	dst := req.Destination
	if dst.Kind != generic.AccountWallet && dst.Kind != generic.AccountFlexibleSavings {
		return generic.Decision{Allowed: true}, nil
	}
	tier, err := g.tiers.TierFor(ctx, dst.OwnerID)
	if err != nil {
		return generic.Decision{}, fmt.Errorf("tier for %s: %w", dst.OwnerID, err)
	}
	if ceiling := tier.MaxBalanceLimit; ceiling != nil {
		if dst.Balance.Minor+req.Amount.Minor > ceiling.Minor {
			room := ceiling.Minor - dst.Balance.Minor
			if room < 0 {
				room = 0
			}
			return g.reject(req, ReasonMaxBalance, *ceiling, generic.NewMoney(room, ceiling.Currency)), nil
		}
	}
	return generic.Decision{Allowed: true}, nil
}

func (g *Guard) reject(req generic.AuthorizationRequest, reason string, limit, remaining generic.Money) generic.Decision {
	g.logger.Info("tier limit rejected movement",
		"owner_id", req.OwnerID,
		"reason", reason,
		"amount", req.Amount.String(),
		"limit", limit.String(),
		"remaining", remaining.String(),
	)
	if g.observer != nil {
		g.observer.LimitRejected(reason)
	}
	return generic.Decision{Allowed: false, Reason: reason, Limit: limit, Remaining: remaining}
}

// =============================================================================
// USAGE
// =============================================================================

// DailyUsage is an owner's outgoing total for one business day.
type DailyUsage struct {
	BusinessDate generic.BusinessDate
	Spent        generic.Money
	Limit        generic.Money
	Remaining    generic.Money
	Unlimited    bool
}

// Usage reports how much of the daily limit owner has used on date.
func (g *Guard) Usage(ctx context.Context, store generic.Store, owner generic.OwnerID, currency generic.Currency, date generic.BusinessDate) (DailyUsage, error) {
	tier, err := g.tiers.TierFor(ctx, owner)
	if err != nil {
		return DailyUsage{}, fmt.Errorf("tier for %s: %w", owner, err)
	}
	if tier.DailyTransactionLimit == nil {
		start, end := date.Window(g.loc)
		spent, err := store.SumDebits(ctx, owner, generic.MovementOutgoing, currency, start, end)
		if err != nil {
			return DailyUsage{}, fmt.Errorf("sum outgoing for %s: %w", owner, err)
		}
		return DailyUsage{BusinessDate: date, Spent: generic.NewMoney(spent, currency), Unlimited: true}, nil
	}
	return g.dailyUsage(ctx, store, owner, *tier.DailyTransactionLimit, date)
}

func (g *Guard) dailyUsage(ctx context.Context, store generic.Store, owner generic.OwnerID, limit generic.Money, date generic.BusinessDate) (DailyUsage, error) {
	start, end := date.Window(g.loc)
	spent, err := store.SumDebits(ctx, owner, generic.MovementOutgoing, limit.Currency, start, end)
	if err != nil {
		return DailyUsage{}, fmt.Errorf("sum outgoing for %s: %w", owner, err)
	}
	remaining := limit.Minor - spent
	if remaining < 0 {
		remaining = 0
	}
	return DailyUsage{
		BusinessDate: date,
		Spent:        generic.NewMoney(spent, limit.Currency),
		Limit:        limit,
		Remaining:    generic.NewMoney(remaining, limit.Currency),
	}, nil
}
