//go:build property
// +build property

// Property-based tests for interest rounding and ledger conservation.
package generic_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/warp/savings-engine/generic"
	"github.com/warp/savings-engine/generic/store"
)

// TestInterestNeverExceedsExact verifies per-band flooring never pays more
// than the exact figure and loses less than one unit per band.
func TestInterestNeverExceedsExact(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)
	table := generic.DefaultFlexibleRates(generic.NGN)

	properties.Property("0 <= exact - total < bands", prop.ForAll(
		func(principal int64, days int) bool {
			got, err := generic.ComputeInterest(kobo(principal), table, days)
			if err != nil {
				return false
			}
			exact := decimal.Zero
			for _, b := range table.Bands {
				exact = exact.Add(decimal.NewFromInt(b.Portion(principal)).Mul(b.AnnualRatePercent).Mul(decimal.NewFromInt(int64(days))))
			}
			exact = exact.Div(decimal.NewFromInt(36500))
			diff := exact.Sub(decimal.NewFromInt(got.Total.Minor))
			return !diff.IsNegative() && diff.LessThan(decimal.NewFromInt(int64(len(table.Bands))))
		},
		gen.Int64Range(0, 1_000_000_000_00),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

// TestDailyCreditsSumToMaturity verifies cumulative fixed-term accrual lands
// exactly on the projected maturity interest for any principal and term.
func TestDailyCreditsSumToMaturity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	rates := generic.DefaultFixedDurationRates()

	properties.Property("sum of daily deltas == projection", prop.ForAll(
		func(principal int64, days int) bool {
			term := generic.NewTerm(generic.NewBusinessDate(2024, 1, 1), days)
			p, err := generic.ProjectMaturity(kobo(principal), rates, term)
			if err != nil {
				return false
			}
			var credited int64
			for d := 1; d <= days; d++ {
				target := generic.AccruedThrough(kobo(principal), p.AnnualRatePercent, term, term.Start.AddDays(d))
				if target.Minor < credited {
					return false
				}
				credited = target.Minor
			}
			return credited == p.Interest.Minor
		},
		gen.Int64Range(1, 500_000_000),
		gen.IntRange(generic.MinTermDays, 400),
	))

	properties.TestingRun(t)
}

// TestTransfersConserveMoney verifies any sequence of transfers leaves the
// sum of all balances at zero and every account replayable.
func TestTransfersConserveMoney(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("balances sum to zero and replay", prop.ForAll(
		func(amounts []int64, routes []int) bool {
			ctx := context.Background()
			l := generic.NewLedger(store.NewMemory(), generic.LedgerConfig{})
			src, err := l.EnsureSettlementAccount(ctx, "funding", generic.NGN)
			if err != nil {
				return false
			}
			ids := []generic.AccountID{src.ID}
			for _, owner := range []generic.OwnerID{"a", "b", "c"} {
				acct, err := l.EnsureAccount(ctx, owner, generic.AccountWallet, generic.NGN)
				if err != nil {
					return false
				}
				ids = append(ids, acct.ID)
			}

			for i, amt := range amounts {
				if i >= len(routes) {
					break
				}
				from := ids[routes[i]%len(ids)]
				to := ids[(routes[i]/len(ids)+1+routes[i]%len(ids))%len(ids)]
				if from == to {
					continue
				}
				// Insufficient funds is an expected outcome; anything else is not.
				_, err := l.Transfer(ctx, generic.TransferRequest{
					From: from, To: to, Amount: kobo(amt),
					Kind: generic.EntryTransfer, Reference: fmt.Sprintf("p-%d", i), Movement: generic.MovementSystem,
				})
				if err != nil && !generic.IsClientError(err) {
					return false
				}
			}

			var total int64
			for _, id := range ids {
				res, err := l.Verify(ctx, id)
				if err != nil {
					return false
				}
				total += res.Balance.Minor
			}
			return total == 0
		},
		gen.SliceOf(gen.Int64Range(1, 1_000_000)),
		gen.SliceOf(gen.IntRange(0, 15)),
	))

	properties.TestingRun(t)
}
