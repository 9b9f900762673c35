package types

import (
	"fmt"
	"strconv"
	"time"
)

// Period is a calendar month, stored as months since January of year 0.
// The zero value is 0000-01; periods compare with the usual integer operators.
type Period int

// NewPeriod returns the period for the given year and month.
func NewPeriod(year int, month time.Month) Period {
	return Period(year*12 + int(month) - 1)
}

// PeriodOf returns the UTC calendar month containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return NewPeriod(t.Year(), t.Month())
}

// ParsePeriod parses "YYYY-MM". A longer date or timestamp with a
// "YYYY-MM-" prefix (for example "2023-01-31" or "2023-01-31 00:00:00")
// maps to its month.
func ParsePeriod(s string) (Period, error) {
	if len(s) < 7 || s[4] != '-' || (len(s) > 7 && s[7] != '-') {
		return 0, fmt.Errorf("invalid period %q: want YYYY-MM", s)
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: bad year", s)
	}
	month, err := strconv.Atoi(s[5:7])
	if err != nil || month < 1 || month > 12 {
		return 0, fmt.Errorf("invalid period %q: bad month", s)
	}
	return NewPeriod(year, time.Month(month)), nil
}

// Year returns the calendar year.
func (p Period) Year() int { return int(p) / 12 }

// Month returns the calendar month.
func (p Period) Month() time.Month { return time.Month(int(p)%12 + 1) }

// Index returns the number of months since year 0.
func (p Period) Index() int { return int(p) }

// Next returns the following month.
func (p Period) Next() Period { return p + 1 }

// Prev returns the preceding month.
func (p Period) Prev() Period { return p - 1 }

// Add returns the period months later (earlier if negative).
func (p Period) Add(months int) Period { return p + Period(months) }

// Sub returns the number of months from q to p.
func (p Period) Sub(q Period) int { return int(p - q) }

// Start returns the first instant of the month in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year(), p.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the month at midnight UTC.
func (p Period) End() time.Time {
	return p.Next().Start().AddDate(0, 0, -1)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year(), int(p.Month()))
}

// MarshalText implements encoding.TextMarshaler.
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Period) UnmarshalText(b []byte) error {
	v, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// PeriodRange returns every month from first to last inclusive.
// It returns nil when last is before first.
func PeriodRange(first, last Period) []Period {
	if last < first {
		return nil
	}
	out := make([]Period, 0, last.Sub(first)+1)
	for p := first; p <= last; p++ {
		out = append(out, p)
	}
	return out
}
