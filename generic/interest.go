/*
interest.go - Simple daily interest over rate tables

PURPOSE:
  Pure functions that turn (principal, table, days) into interest owed.
  No I/O and no state, so they are property-tested directly.

FORMULA:
  interest = amount × (annualRatePercent / 100) / 365 × days
           = amount × rate × days / 36500          (kept exact with decimals)

ROUNDING:
  Each band is floored to a whole minor unit. The fractional remainders are
  summed; if they add up to at least one minor unit, exactly one minor unit
  is added to the highest band that received principal. The result never
  exceeds the one-shot floor of the unrounded total, and the per-band amounts
  always sum exactly to Total.

EXAMPLE (flexible, ₦150,000 for 1 day):
  ₦10,000 @ 20%   -> 547 kobo   (rem 34500/36500)
  ₦90,000 @ 16%   -> 3945 kobo  (rem 7500/36500)
  ₦50,000 @ 8%    -> 1095 kobo  (rem 32500/36500)
  remainders = 74500/36500 >= 1 -> +1 on the 8% band -> total 5588 kobo

SEE ALSO:
  - ratetable.go: Band definitions
  - projection.go: Maturity projection for fixed deposits
*/
package generic

import (
	"github.com/shopspring/decimal"
)

const DaysPerYear = 365

var interestDenominator = decimal.NewFromInt(100 * DaysPerYear)

// InterestBreakdown is the result of an interest computation.
type InterestBreakdown struct {
	Total   Money
	PerBand []Money // aligned with the table's bands
	Days    int
}

// ComputeInterest splits principal across the table's bands bottom-up and
// sums each slice's interest.
func ComputeInterest(principal Money, table RateTable, days int) (InterestBreakdown, error) {
	if err := checkInterestInput(principal, days); err != nil {
		return InterestBreakdown{}, err
	}
	if err := table.Validate(); err != nil {
		return InterestBreakdown{}, err
	}

	c := principal.Currency
	out := InterestBreakdown{
		Total:   Zero(c),
		PerBand: make([]Money, len(table.Bands)),
		Days:    days,
	}

	remainder := decimal.Zero
	last := -1
	for i, b := range table.Bands {
		out.PerBand[i] = Zero(c)
		portion := b.Portion(principal.Minor)
		if portion <= 0 {
			continue
		}
		last = i
		q, r := exactInterest(portion, b.AnnualRatePercent, days)
		out.PerBand[i].Minor = q
		remainder = remainder.Add(r)
	}

	if last >= 0 && remainder.GreaterThanOrEqual(interestDenominator) {
		out.PerBand[last].Minor++
	}
	for _, m := range out.PerBand {
		out.Total.Minor += m.Minor
	}
	return out, nil
}

// ComputeFlatInterest resolves a single rate from durationDays and applies it
// to the whole principal for days.
func ComputeFlatInterest(principal Money, table RateTable, durationDays, days int) (InterestBreakdown, error) {
	if err := checkInterestInput(principal, days); err != nil {
		return InterestBreakdown{}, err
	}
	rate, err := table.RateFor(int64(durationDays))
	if err != nil {
		return InterestBreakdown{}, err
	}
	total := InterestAtRate(principal, rate, days)
	return InterestBreakdown{Total: total, PerBand: []Money{total}, Days: days}, nil
}

// InterestAtRate returns floor(principal × rate × days / 36500).
func InterestAtRate(principal Money, annualRatePercent decimal.Decimal, days int) Money {
	if principal.Minor <= 0 || days <= 0 {
		return Zero(principal.Currency)
	}
	q, _ := exactInterest(principal.Minor, annualRatePercent, days)
	return NewMoney(q, principal.Currency)
}

// DailyRatePercent is annual/365, for display.
func DailyRatePercent(annualRatePercent decimal.Decimal) decimal.Decimal {
	return annualRatePercent.DivRound(decimal.NewFromInt(DaysPerYear), 10)
}

// exactInterest returns the floored quotient in minor units and the exact
// remainder (in units of 1/36500 minor).
func exactInterest(amount int64, rate decimal.Decimal, days int) (int64, decimal.Decimal) {
	num := decimal.NewFromInt(amount).Mul(rate).Mul(decimal.NewFromInt(int64(days)))
	q, r := num.QuoRem(interestDenominator, 0)
	return q.IntPart(), r
}

func checkInterestInput(principal Money, days int) error {
	if days < 0 {
		return Invalid("days", "must be >= 0, got %d", days)
	}
	if principal.IsNegative() {
		return Invalid("principal", "must be >= 0, got %s", principal)
	}
	return nil
}
