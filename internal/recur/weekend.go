package recur

import (
	"time"

	"actualcal/internal/model"
)

// Adjust moves a weekend date to the adjacent weekday according to the
// recurrence's weekend policy. Dates are returned unchanged when skipping is
// disabled, the date is a weekday, or the solve mode is not recognised.
//
// Adjust only shifts the emitted position of a date; it must be applied to
// each resolved date independently, after expansion.
func Adjust(date time.Time, rec model.Recurrence) time.Time {
	if !rec.SkipWeekend || !IsWeekend(date) {
		return date
	}

	sat := date.Weekday() == time.Saturday

	switch rec.WeekendSolveMode {
	case model.WeekendAfter:
		if sat {
			return AddDays(date, 2)
		}
		return AddDays(date, 1)
	case model.WeekendBefore:
		if sat {
			return AddDays(date, -1)
		}
		return AddDays(date, -2)
	default:
		return date
	}
}

// IsWeekend reports whether t falls on a Saturday or Sunday (ISO days 6 and 7).
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
