/*
ratetable.go - Ordered interest rate bands

PURPOSE:
  A RateTable maps a measured value to an annual rate. Two tables exist:

    Flexible (progressive): value is a balance in minor units. The balance is
    split across every band it reaches and each slice earns its own rate.

    Fixed (duration lookup): value is a term length in days. Exactly one band
    applies and its rate is locked for the life of the deposit.

BANDS:
  Bands are half-open [Lower, Upper). A nil Upper is unbounded. Tables must
  be sorted, non-overlapping and gap-free. Progressive tables must also start
  at 0 and end unbounded so they cover [0, ∞).

SEE ALSO:
  - interest.go: Uses tables to compute interest
  - factory/ratetable.go: Loads tables from JSON
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type RateBand struct {
	Lower             int64
	Upper             *int64 // exclusive; nil = unbounded
	AnnualRatePercent decimal.Decimal
}

// Contains reports whether v falls in [Lower, Upper).
func (b RateBand) Contains(v int64) bool {
	return v >= b.Lower && (b.Upper == nil || v < *b.Upper)
}

// Portion returns how much of v falls inside the band.
func (b RateBand) Portion(v int64) int64 {
	top := v
	if b.Upper != nil && *b.Upper < top {
		top = *b.Upper
	}
	if top <= b.Lower {
		return 0
	}
	return top - b.Lower
}

func (b RateBand) String() string {
	upper := "∞"
	if b.Upper != nil {
		upper = fmt.Sprint(*b.Upper)
	}
	return fmt.Sprintf("[%d, %s) @ %s%%", b.Lower, upper, b.AnnualRatePercent)
}

// RateTable is an ordered sequence of bands.
type RateTable struct {
	Name  string
	Bands []RateBand
}

// Validate checks ordering, positivity of widths, rates and contiguity.
func (t RateTable) Validate() error {
	if len(t.Bands) == 0 {
		return Invalid("rate_table", "%s: no bands", t.Name)
	}
	for i, b := range t.Bands {
		if b.AnnualRatePercent.IsNegative() {
			return Invalid("rate_table", "%s: band %d has negative rate", t.Name, i)
		}
		if b.Lower < 0 {
			return Invalid("rate_table", "%s: band %d has negative lower bound", t.Name, i)
		}
		if b.Upper != nil && *b.Upper <= b.Lower {
			return Invalid("rate_table", "%s: band %d is empty", t.Name, i)
		}
		if i == 0 {
			continue
		}
		prev := t.Bands[i-1]
		if prev.Upper == nil {
			return Invalid("rate_table", "%s: band %d follows an unbounded band", t.Name, i)
		}
		if *prev.Upper != b.Lower {
			return Invalid("rate_table", "%s: gap or overlap between band %d and %d", t.Name, i-1, i)
		}
	}
	return nil
}

// ValidateProgressive additionally requires coverage of [0, ∞).
func (t RateTable) ValidateProgressive() error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Bands[0].Lower != 0 {
		return Invalid("rate_table", "%s: must start at 0", t.Name)
	}
	if t.Bands[len(t.Bands)-1].Upper != nil {
		return Invalid("rate_table", "%s: last band must be unbounded", t.Name)
	}
	return nil
}

// Lookup returns the band containing v.
func (t RateTable) Lookup(v int64) (RateBand, error) {
	for _, b := range t.Bands {
		if b.Contains(v) {
			return b, nil
		}
	}
	return RateBand{}, Invalid("rate_table", "%s: no band contains %d", t.Name, v)
}

// RateFor is Lookup returning only the rate.
func (t RateTable) RateFor(v int64) (decimal.Decimal, error) {
	b, err := t.Lookup(v)
	if err != nil {
		return decimal.Zero, err
	}
	return b.AnnualRatePercent, nil
}

// =============================================================================
// DEFAULT TABLES
// =============================================================================

func bound(v int64) *int64 { return &v }

// Band builds a band. Pass upper < 0 for unbounded.
func Band(lower, upper int64, rate string) RateBand {
	b := RateBand{Lower: lower, AnnualRatePercent: decimal.RequireFromString(rate)}
	if upper >= 0 {
		b.Upper = bound(upper)
	}
	return b
}

// DefaultFlexibleRates: first 10,000 at 20%, 10,000–100,000 at 16%, above at 8%.
// Bounds are in minor units of c.
func DefaultFlexibleRates(c Currency) RateTable {
	ten := FromMajor(10_000, c).Minor
	hundred := FromMajor(100_000, c).Minor
	return RateTable{
		Name: "flexible",
		Bands: []RateBand{
			Band(0, ten, "20"),
			Band(ten, hundred, "16"),
			Band(hundred, -1, "8"),
		},
	}
}

// DefaultFixedDurationRates maps term length in days to a flat rate.
func DefaultFixedDurationRates() RateTable {
	return RateTable{
		Name: "fixed_duration",
		Bands: []RateBand{
			Band(7, 30, "10"),
			Band(30, 60, "10"),
			Band(60, 90, "12"),
			Band(90, 180, "15"),
			Band(180, 365, "18"),
			Band(365, 1001, "20"),
		},
	}
}
