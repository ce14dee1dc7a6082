package generic

// =============================================================================
// TERM - The lock period of a fixed-term deposit
// =============================================================================

const (
	MinTermDays = 7
	MaxTermDays = 1000
)

// Term is the [Start, Payback) span of a fixed deposit. Interest accrues for
// each whole day from Start up to Payback and stops there.
//
// Examples:
//   - 2024-01-15 -> 2024-04-15: 91 days
//   - 2024-01-01 -> 2024-01-08: 7 days (the minimum)
type Term struct {
	Start   BusinessDate
	Payback BusinessDate
}

func NewTerm(start BusinessDate, days int) Term {
	return Term{Start: start, Payback: start.AddDays(days)}
}

// Days returns the term length in whole days.
func (t Term) Days() int { return DaysBetween(t.Start, t.Payback) }

// Validate enforces the allowed duration range.
func (t Term) Validate() error {
	if t.Start.IsZero() || t.Payback.IsZero() {
		return Invalid("term", "start and payback dates are required")
	}
	d := t.Days()
	if d < MinTermDays || d > MaxTermDays {
		return Invalid("term", "duration %d days outside [%d, %d]", d, MinTermDays, MaxTermDays)
	}
	return nil
}

// ElapsedDays returns accruable days up to date, clamped to [0, Days()].
func (t Term) ElapsedDays(date BusinessDate) int {
	d := DaysBetween(t.Start, date)
	if d < 0 {
		return 0
	}
	if total := t.Days(); d > total {
		return total
	}
	return d
}

// MaturedOn reports whether date is on or after the payback date.
func (t Term) MaturedOn(date BusinessDate) bool { return !date.Before(t.Payback) }

// DaysUntilPayback is negative once matured.
func (t Term) DaysUntilPayback(date BusinessDate) int { return DaysBetween(date, t.Payback) }

// Next returns the successor term of equal length starting at Payback.
func (t Term) Next() Term { return NewTerm(t.Payback, t.Days()) }

func (t Term) String() string {
	return "[" + t.Start.String() + ", " + t.Payback.String() + ")"
}
