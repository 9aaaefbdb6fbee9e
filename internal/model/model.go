package model

import "time"

// Frequency is the period unit of a recurring schedule.
type Frequency string

const (
	FrequencyYearly  Frequency = "yearly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyDaily   Frequency = "daily"
)

// EndMode selects what bounds a recurrence.
type EndMode string

const (
	EndNever             EndMode = "never"
	EndAfterNOccurrences EndMode = "after_n_occurrences"
	EndOnDate            EndMode = "on_date"
)

// WeekendSolveMode tells which direction a weekend date is moved to.
type WeekendSolveMode string

const (
	WeekendBefore WeekendSolveMode = "before"
	WeekendAfter  WeekendSolveMode = "after"
)

// Recurrence describes how a schedule repeats.
//
// Dates are calendar days; the time-of-day component is always midnight in
// the configured display location.
type Recurrence struct {
	Frequency Frequency
	// Interval is "every N periods". Values < 1 are treated as 1.
	Interval int

	Start time.Time

	EndMode EndMode
	// EndDate is only meaningful for EndOnDate.
	EndDate *time.Time
	// Occurrences is only meaningful for EndAfterNOccurrences.
	Occurrences int

	SkipWeekend      bool
	WeekendSolveMode WeekendSolveMode
}

// AmountKind tags which shape an Amount carries.
type AmountKind string

const (
	AmountFixed AmountKind = "fixed"
	AmountRange AmountKind = "range"
)

// Amount is either a single value or a low/high range. Values are in
// minor currency units (cents), as stored by the budgeting service.
type Amount struct {
	Kind  AmountKind
	Value int64
	Low   int64
	High  int64
}

// FixedAmount builds a single-value Amount.
func FixedAmount(v int64) Amount {
	return Amount{Kind: AmountFixed, Value: v}
}

// RangeAmount builds a ranged Amount.
func RangeAmount(low, high int64) Amount {
	return Amount{Kind: AmountRange, Low: low, High: high}
}

// Schedule is a single financial obligation as read from the budget.
type Schedule struct {
	ID   string
	Name string

	Amount Amount

	// NextDate is the next pending occurrence. Expanded dates before it
	// are considered already elapsed.
	NextDate time.Time

	// Recurrence is nil for one-off schedules.
	Recurrence *Recurrence

	// Invalid holds the decode error of a record that could not be read.
	// Such schedules expand to a failure.
	Invalid error
}

// IsRecurring reports whether the schedule should be expanded.
func (s Schedule) IsRecurring() bool {
	return s.Recurrence != nil && s.Recurrence.Frequency != ""
}

// Label returns the display name, falling back to the ID for unnamed
// schedules.
func (s Schedule) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Event is a single all-day calendar entry produced from a schedule.
type Event struct {
	// UID is stable across runs for the same schedule and date.
	UID        string
	ScheduleID string

	// Index is the position of this occurrence in the schedule's expansion
	// (0 for one-off schedules).
	Index int

	Summary string

	// Date is the emitted calendar day (after weekend displacement) at
	// midnight in Location.
	Date time.Time
	// PatternDate is the date the recurrence produced before displacement.
	PatternDate time.Time

	AllDay   bool
	Location *time.Location
}
