// Package feed turns schedules into calendar events and keeps the latest
// rendered feed available for serving.
package feed

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"

	"actualcal/internal/amount"
	"actualcal/internal/ics"
	appLog "actualcal/internal/log"
	"actualcal/internal/model"
	"actualcal/internal/recur"
)

const defaultMaxOccurrences = 5000

// Options carries everything expansion depends on besides the schedules
// themselves. Nothing is read from the process environment.
type Options struct {
	// Location is applied to every date and emitted event. Nil means UTC.
	Location *time.Location
	// Horizon bounds open-ended recurrences.
	Horizon time.Time
	// Formatter renders the amount part of event titles.
	Formatter amount.Formatter
	// MaxOccurrences caps emitted events per open-ended or date-bounded
	// schedule. Count-bounded schedules emit their full count. Zero uses the
	// default.
	MaxOccurrences int
}

// HorizonFrom returns now + months, the synthetic end of open-ended
// recurrences.
func HorizonFrom(now time.Time, months int) time.Time {
	return now.AddDate(0, months, 0)
}

// ScheduleResult is the outcome of expanding one schedule.
type ScheduleResult struct {
	Schedule model.Schedule
	Result   mo.Result[[]model.Event]
	// Truncated is set when MaxOccurrences cut the expansion short.
	Truncated bool
}

// Failure describes a schedule that contributed no events.
type Failure struct {
	ScheduleID string `json:"schedule_id"`
	Name       string `json:"name"`
	Reason     string `json:"reason"`
	Err        error  `json:"-"`
}

// Outcome summarises one schedule's expansion.
type Outcome struct {
	ScheduleID string `json:"schedule_id"`
	Name       string `json:"name"`
	Events     int    `json:"events"`
	Truncated  bool   `json:"truncated,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// OK reports whether the schedule expanded without error.
func (o Outcome) OK() bool {
	return o.Reason == ""
}

// Batch aggregates per-schedule results in input order.
type Batch struct {
	Results []ScheduleResult
}

// Events returns the events of all successful schedules, in order.
func (b Batch) Events() []model.Event {
	out := make([]model.Event, 0)
	for _, r := range b.Results {
		out = append(out, r.Result.OrEmpty()...)
	}
	return out
}

// Failures lists schedules whose expansion failed.
func (b Batch) Failures() []Failure {
	out := make([]Failure, 0)
	for _, r := range b.Results {
		if r.Result.IsOk() {
			continue
		}
		err := r.Result.Error()
		out = append(out, Failure{
			ScheduleID: r.Schedule.ID,
			Name:       r.Schedule.Name,
			Reason:     err.Error(),
			Err:        err,
		})
	}
	return out
}

// Outcomes returns one entry per schedule, in input order, including
// schedules that expanded to no events.
func (b Batch) Outcomes() []Outcome {
	out := make([]Outcome, 0, len(b.Results))
	for _, r := range b.Results {
		o := Outcome{
			ScheduleID: r.Schedule.ID,
			Name:       r.Schedule.Name,
			Events:     len(r.Result.OrEmpty()),
			Truncated:  r.Truncated,
		}
		if err := r.Result.Error(); err != nil {
			o.Reason = err.Error()
		}
		out = append(out, o)
	}
	return out
}

// Expand processes schedules sequentially. A failing schedule is logged and
// yields a failed result; it never stops the others.
func Expand(schedules []model.Schedule, opts Options) Batch {
	batch := Batch{Results: make([]ScheduleResult, 0, len(schedules))}

	for _, s := range schedules {
		res := ExpandSchedule(s, opts)

		if err := res.Result.Error(); err != nil {
			appLog.Error("schedule expansion failed", err,
				"schedule_id", s.ID,
				"name", s.Name,
				"invalid_frequency", errors.Is(err, recur.ErrInvalidFrequency),
			)
		} else if res.Truncated {
			appLog.Error("expand: truncated occurrences for schedule due to cap",
				errors.New("max occurrences reached"),
				"schedule_id", s.ID,
				"cap", maxOccurrences(opts),
			)
		}

		batch.Results = append(batch.Results, res)
	}

	return batch
}

// ExpandSchedule produces the events of a single schedule.
//
// One-off schedules yield exactly one event at their next date. Recurring
// schedules are resolved, dates before the next date are dropped (the next
// date itself is kept) and the weekend policy is applied to each survivor.
func ExpandSchedule(s model.Schedule, opts Options) ScheduleResult {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	label := fmt.Sprintf("%s (%s)", s.Label(), opts.Formatter.Format(s.Amount))
	res := ScheduleResult{Schedule: s}

	if s.Invalid != nil {
		res.Result = mo.Err[[]model.Event](s.Invalid)
		return res
	}

	if !s.IsRecurring() {
		if s.NextDate.IsZero() {
			res.Result = mo.Err[[]model.Event](fmt.Errorf("%w: missing next date", recur.ErrMalformedDescriptor))
			return res
		}
		date := recur.Midnight(s.NextDate.In(loc))
		res.Result = mo.Ok([]model.Event{newEvent(s, label, 0, date, date, loc)})
		return res
	}

	rec := *s.Recurrence
	if !rec.Start.IsZero() {
		rec.Start = recur.Midnight(rec.Start.In(loc))
	}

	seq, err := recur.Resolve(rec, opts.Horizon)
	if err != nil {
		res.Result = mo.Err[[]model.Event](err)
		return res
	}

	var cutoff time.Time
	if !s.NextDate.IsZero() {
		cutoff = recur.Midnight(s.NextDate.In(loc))
	}
	limit := maxOccurrences(opts)
	if rec.EndMode == model.EndAfterNOccurrences {
		limit = rec.Occurrences
	}

	events := make([]model.Event, 0)
	index := -1
	for d := range seq {
		index++
		if d.Before(cutoff) {
			continue
		}
		if len(events) >= limit {
			res.Truncated = true
			break
		}
		events = append(events, newEvent(s, label, index, d, recur.Adjust(d, rec), loc))
	}

	res.Result = mo.Ok(events)
	return res
}

func newEvent(s model.Schedule, label string, index int, pattern, date time.Time, loc *time.Location) model.Event {
	return model.Event{
		UID:         ics.EventUID(s.ID, pattern),
		ScheduleID:  s.ID,
		Index:       index,
		Summary:     label,
		Date:        date,
		PatternDate: pattern,
		AllDay:      true,
		Location:    loc,
	}
}

func maxOccurrences(opts Options) int {
	if opts.MaxOccurrences > 0 {
		return opts.MaxOccurrences
	}
	return defaultMaxOccurrences
}
