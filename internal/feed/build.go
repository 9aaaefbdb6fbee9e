package feed

import (
	"context"
	"fmt"
	"time"

	"actualcal/internal/amount"
	"actualcal/internal/ics"
	appLog "actualcal/internal/log"
	"actualcal/internal/model"
	"actualcal/internal/source"
)

// Snapshot is one fully rendered feed.
type Snapshot struct {
	GeneratedAt time.Time
	Horizon     time.Time
	Timezone    string

	// ICS is the serialized iCalendar feed.
	ICS []byte

	Events    []model.Event
	Failures  []Failure
	Schedules int

	// Outcomes has one entry per schedule, failed or not.
	Outcomes []Outcome
}

// Builder fetches schedules and renders them into a Snapshot.
type Builder struct {
	Source         source.Source
	Location       *time.Location
	ForecastMonths int
	Formatter      amount.Formatter
	MaxOccurrences int
	CalendarName   string

	// Now defaults to time.Now. The horizon and DTSTAMP derive from it.
	Now func() time.Time
}

// Build runs one fetch → expand → encode pass. Only a failing source is an
// error; per-schedule failures are reported in Snapshot.Failures.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	if b.Source == nil {
		return nil, fmt.Errorf("feed: no schedule source configured")
	}

	loc := b.Location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	generated := now().In(loc)

	started := time.Now()
	schedules, err := b.Source.Schedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schedules from %s: %w", b.Source.Name(), err)
	}
	appLog.Debug("schedules loaded", "source", b.Source.Name(), "count", len(schedules))

	opts := Options{
		Location:       loc,
		Horizon:        HorizonFrom(generated, b.ForecastMonths),
		Formatter:      b.Formatter,
		MaxOccurrences: b.MaxOccurrences,
	}
	batch := Expand(schedules, opts)
	events := batch.Events()

	cal := ics.NewCalendar(b.CalendarName, loc.String(), generated)
	for _, ev := range events {
		cal.Add(ev)
	}

	snap := &Snapshot{
		GeneratedAt: generated,
		Horizon:     opts.Horizon,
		Timezone:    loc.String(),
		ICS:         []byte(cal.Serialize()),
		Events:      events,
		Failures:    batch.Failures(),
		Schedules:   len(schedules),
		Outcomes:    batch.Outcomes(),
	}

	appLog.Info("feed built",
		"source", b.Source.Name(),
		"schedules", snap.Schedules,
		"events", len(snap.Events),
		"failures", len(snap.Failures),
		"horizon", snap.Horizon.Format("2006-01-02"),
		"elapsed", time.Since(started),
	)
	return snap, nil
}
