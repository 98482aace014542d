package contrib

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - first-of-month calendar value
// =============================================================================

// Month identifies a contribution month. All queries and facts are keyed by
// the first day of the month; callers may pass any day and it is silently
// floored. The zero value is invalid.
type Month struct {
	Year int
	Mon  time.Month
}

// NewMonth builds a Month from a year and month.
func NewMonth(year int, mon time.Month) Month {
	return Month{Year: year, Mon: mon}
}

// MonthOf floors an arbitrary date to its month.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Mon: t.Month()}
}

// ParseMonth parses the canonical "YYYY-MM" form. Any other input is a
// validation failure; date coercion belongs to the initial-workbook parser.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("%w: invalid month %q, expected YYYY-MM", ErrValidation, s)
	}
	return MonthOf(t), nil
}

// Date returns the first day of the month in UTC.
func (m Month) Date() time.Time {
	return time.Date(m.Year, m.Mon, 1, 0, 0, 0, 0, time.UTC)
}

// String renders the canonical "YYYY-MM" form.
func (m Month) String() string {
	return m.Date().Format("2006-01")
}

// IsZero reports whether m is the zero value.
func (m Month) IsZero() bool {
	return m.Year == 0 && m.Mon == 0
}
