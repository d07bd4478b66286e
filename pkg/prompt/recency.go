package prompt

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// RecencyLabel describes how long before now ts was. Months are 30 days
// and years 365 days; twelve months already read as a year.
func RecencyLabel(ts, now time.Time) string {
	if ts.IsZero() {
		return "date unknown"
	}

	d := now.Sub(ts)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute")
	case d < day:
		return plural(int(d/time.Hour), "hour")
	case d < 2*day:
		return "yesterday"
	case d < 7*day:
		return plural(int(d/day), "day")
	case d < 30*day:
		return plural(int(d/(7*day)), "week")
	case d < 360*day:
		return plural(int(d/(30*day)), "month")
	default:
		return plural(max(1, int(d/(365*day))), "year")
	}
}
