package generic

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// BUSINESS DATE - A civil date; the unit of accrual and daily limits
// =============================================================================

// BusinessDate is a calendar day with no time-of-day or zone. It is always
// passed explicitly so runs are deterministic and safely repeatable.
type BusinessDate struct {
	t time.Time // midnight UTC
}

const dateLayout = "2006-01-02"

func NewBusinessDate(year int, month time.Month, day int) BusinessDate {
	return BusinessDate{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the business date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) BusinessDate {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return NewBusinessDate(lt.Year(), lt.Month(), lt.Day())
}

func ParseBusinessDate(s string) (BusinessDate, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return BusinessDate{}, Invalid("date", "expected YYYY-MM-DD, got %q", s)
	}
	return BusinessDate{t: t}, nil
}

func MustParseBusinessDate(s string) BusinessDate {
	d, err := ParseBusinessDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d BusinessDate) Before(o BusinessDate) bool        { return d.t.Before(o.t) }
func (d BusinessDate) After(o BusinessDate) bool         { return d.t.After(o.t) }
func (d BusinessDate) Equal(o BusinessDate) bool         { return d.t.Equal(o.t) }
func (d BusinessDate) BeforeOrEqual(o BusinessDate) bool { return !d.t.After(o.t) }
func (d BusinessDate) IsZero() bool                      { return d.t.IsZero() }

// Arithmetic
func (d BusinessDate) AddDays(n int) BusinessDate { return BusinessDate{t: d.t.AddDate(0, 0, n)} }

// DaysBetween returns whole days from -> to (negative if to is earlier).
func DaysBetween(from, to BusinessDate) int {
	return int(to.t.Sub(from.t).Hours() / 24)
}

// Window returns [start, end) of the day in loc. Daily limits reset at
// local midnight.
func (d BusinessDate) Window(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(d.t.Year(), d.t.Month(), d.t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func (d BusinessDate) Time() time.Time { return d.t }

func (d BusinessDate) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

func (d BusinessDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *BusinessDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("business date: %w", err)
	}
	if s == "" {
		*d = BusinessDate{}
		return nil
	}
	parsed, err := ParseBusinessDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies wall time and the zone business dates are observed in.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// Today returns the current business date of c.
func Today(c Clock) BusinessDate { return DateOf(c.Now(), c.Location()) }

type SystemClock struct {
	Loc *time.Location
}

func (c SystemClock) Now() time.Time { return time.Now() }

func (c SystemClock) Location() *time.Location {
	if c.Loc == nil {
		return time.UTC
	}
	return c.Loc
}

// FixedClock is a settable clock for tests and replays.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

func NewFixedClock(now time.Time, loc *time.Location) *FixedClock {
	if loc == nil {
		loc = time.UTC
	}
	return &FixedClock{now: now, loc: loc}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Location() *time.Location { return c.loc }

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
