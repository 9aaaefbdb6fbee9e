package recur

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	"actualcal/internal/model"
)

var (
	// ErrInvalidFrequency is returned for a frequency outside
	// yearly/monthly/weekly/daily.
	ErrInvalidFrequency = errors.New("invalid frequency")

	// ErrMalformedDescriptor is returned when the end mode and its
	// companion field disagree, or a required date is missing.
	ErrMalformedDescriptor = errors.New("malformed recurrence descriptor")
)

// Resolve validates rec and returns the lazy sequence of pattern dates it
// describes, in ascending order, at the start of each day in rec.Start's
// location.
//
// The rule runs on floating calendar days and each result is re-anchored in
// the location afterwards, so clock changes never shift or repeat a day.
//
// horizon bounds EndNever recurrences and is ignored otherwise. The returned
// sequence holds no iteration state: ranging over it twice yields the same
// dates.
func Resolve(rec model.Recurrence, horizon time.Time) (iter.Seq[time.Time], error) {
	rule, err := buildRule(rec, horizon)
	if err != nil {
		return nil, err
	}
	loc := rec.Start.Location()

	return func(yield func(time.Time) bool) {
		next := rule.Iterator()
		for {
			t, ok := next()
			if !ok {
				return
			}
			if !yield(Day(t.Year(), t.Month(), t.Day(), loc)) {
				return
			}
		}
	}, nil
}

// Dates is Resolve collected into a slice.
func Dates(rec model.Recurrence, horizon time.Time) ([]time.Time, error) {
	seq, err := Resolve(rec, horizon)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// Frequency maps a schedule frequency to its rrule period unit.
func Frequency(f model.Frequency) (rrule.Frequency, error) {
	switch f {
	case model.FrequencyYearly:
		return rrule.YEARLY, nil
	case model.FrequencyMonthly:
		return rrule.MONTHLY, nil
	case model.FrequencyWeekly:
		return rrule.WEEKLY, nil
	case model.FrequencyDaily:
		return rrule.DAILY, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidFrequency, string(f))
	}
}

func buildRule(rec model.Recurrence, horizon time.Time) (*rrule.RRule, error) {
	freq, err := Frequency(rec.Frequency)
	if err != nil {
		return nil, err
	}
	if rec.Start.IsZero() {
		return nil, fmt.Errorf("%w: missing start date", ErrMalformedDescriptor)
	}

	loc := rec.Start.Location()
	start := floating(rec.Start)

	interval := rec.Interval
	if interval < 1 {
		interval = 1
	}

	opt := rrule.ROption{
		Freq:     freq,
		Interval: interval,
		Dtstart:  start,
	}

	switch rec.EndMode {
	case model.EndOnDate:
		if rec.EndDate == nil || rec.EndDate.IsZero() {
			return nil, fmt.Errorf("%w: end mode %q requires an end date", ErrMalformedDescriptor, rec.EndMode)
		}
		opt.Until = floating(rec.EndDate.In(loc))
	case model.EndAfterNOccurrences:
		if rec.Occurrences < 1 {
			return nil, fmt.Errorf("%w: end mode %q requires a positive occurrence count", ErrMalformedDescriptor, rec.EndMode)
		}
		opt.Count = rec.Occurrences
	case model.EndNever:
		if horizon.IsZero() {
			return nil, fmt.Errorf("%w: open-ended recurrence needs a forecast horizon", ErrMalformedDescriptor)
		}
		h := horizon.In(loc)
		opt.Until = time.Date(h.Year(), h.Month(), h.Day(), h.Hour(), h.Minute(), h.Second(), h.Nanosecond(), time.UTC)
	default:
		return nil, fmt.Errorf("%w: unknown end mode %q", ErrMalformedDescriptor, rec.EndMode)
	}

	clampToMonthEnd(&opt, start)

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	return r, nil
}

// clampToMonthEnd makes month and year based rules that start late in the
// month land on the last day of shorter months instead of skipping them.
// A start on the 31st yields the 30th, 29th or 28th where the 31st does not
// exist; Feb 29 yearly yields Feb 28 outside leap years.
func clampToMonthEnd(opt *rrule.ROption, start time.Time) {
	day := start.Day()

	switch opt.Freq {
	case rrule.MONTHLY:
		if day <= 28 {
			return
		}
		opt.Bymonthday = dayRange(28, day)
		opt.Bysetpos = []int{-1}
	case rrule.YEARLY:
		if start.Month() != time.February || day != 29 {
			return
		}
		opt.Bymonth = []int{int(time.February)}
		opt.Bymonthday = []int{28, 29}
		opt.Bysetpos = []int{-1}
	}
}

func dayRange(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for d := from; d <= to; d++ {
		out = append(out, d)
	}
	return out
}

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	return Day(t.Year(), t.Month(), t.Day(), t.Location())
}

// AddDays moves t by n calendar days and returns the start of that day.
func AddDays(t time.Time, n int) time.Time {
	return Day(t.Year(), t.Month(), t.Day()+n, t.Location())
}

// Day returns the first instant of the calendar day year-month-day in loc.
// Out of range values are normalized as by time.Date. Where a clock change
// skips midnight, the result is the first wall time after the gap rather
// than the previous evening time.Date would give.
func Day(year int, month time.Month, day int, loc *time.Location) time.Time {
	y, m, d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Date()

	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	for range 4 * 24 {
		if ty, tm, td := t.Date(); ty == y && tm == m && td == d {
			return t
		}
		t = t.Add(15 * time.Minute)
	}
	return t
}

// floating drops t's location, keeping its calendar day at UTC midnight.
func floating(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
