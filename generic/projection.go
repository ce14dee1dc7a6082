/*
projection.go - Fixed deposit maturity projection

PURPOSE:
  Answers "what will this deposit be worth at payback?" without touching
  the ledger. Used when opening a deposit (to lock the rate and show the
  expected maturity amount) and by the quote endpoint.

KEY INSIGHT:
  The rate is resolved from the duration table ONCE, from the full term
  length. Accrual then applies that locked rate day by day; the cumulative
  accrued interest after N days is always InterestAtRate(principal, rate, N),
  so the sum of daily credits lands exactly on the projected interest.

EXAMPLE:
  100,000.00 NGN for 90 days:
    rate      = 15% (90–179 day band)
    interest  = floor(10,000,000 × 15 × 90 / 36500) = 369,863 kobo
    maturity  = 103,698.63 NGN

SEE ALSO:
  - interest.go: InterestAtRate
  - period.go: Term
  - savings/fixed.go: Locks the projected rate on creation
*/
package generic

import "github.com/shopspring/decimal"

// MaturityProjection is the expected outcome of a fixed deposit.
type MaturityProjection struct {
	Principal         Money
	Term              Term
	Days              int
	AnnualRatePercent decimal.Decimal
	DailyRatePercent  decimal.Decimal
	Interest          Money
	MaturityAmount    Money
}

// ProjectMaturity resolves the rate for the term and computes maturity.
func ProjectMaturity(principal Money, table RateTable, term Term) (MaturityProjection, error) {
	if err := term.Validate(); err != nil {
		return MaturityProjection{}, err
	}
	rate, err := table.RateFor(int64(term.Days()))
	if err != nil {
		return MaturityProjection{}, err
	}
	return ProjectAtRate(principal, rate, term)
}

// ProjectAtRate computes maturity for an already locked rate.
func ProjectAtRate(principal Money, rate decimal.Decimal, term Term) (MaturityProjection, error) {
	if !principal.IsPositive() {
		return MaturityProjection{}, Invalid("principal", "must be positive, got %s", principal)
	}
	days := term.Days()
	interest := InterestAtRate(principal, rate, days)
	maturity, err := principal.Add(interest)
	if err != nil {
		return MaturityProjection{}, err
	}
	return MaturityProjection{
		Principal:         principal,
		Term:              term,
		Days:              days,
		AnnualRatePercent: rate,
		DailyRatePercent:  DailyRatePercent(rate),
		Interest:          interest,
		MaturityAmount:    maturity,
	}, nil
}

// AccruedThrough returns cumulative interest earned by date at a locked rate.
func AccruedThrough(principal Money, rate decimal.Decimal, term Term, date BusinessDate) Money {
	return InterestAtRate(principal, rate, term.ElapsedDays(date))
}
