package ics

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"actualcal/internal/model"
	"actualcal/internal/recur"
)

const (
	DefaultCalendarName = "Actual Balance iCal"
	productID           = "-//actualcal//Actual schedules//EN"
	uidDomain           = "actualcal"
)

// uidNamespace seeds the name-based UUIDs used as event UIDs.
var uidNamespace = uuid.MustParse("6f0e2a3c-5b7d-4c1e-9a8f-2d4b6c8e0a1f")

// Sink receives one all-day event per surviving occurrence.
type Sink interface {
	Add(ev model.Event)
}

// Calendar is a Sink that builds an iCalendar feed.
type Calendar struct {
	cal   *ical.Calendar
	stamp time.Time
	count int
}

// NewCalendar returns an empty feed. stamp becomes DTSTAMP of every event,
// so passing the same value yields byte-identical output for identical input.
func NewCalendar(name, timezone string, stamp time.Time) *Calendar {
	if name == "" {
		name = DefaultCalendarName
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodRequest)
	cal.SetProductId(productID)
	cal.SetName(name)
	cal.SetXWRCalName(name)
	if timezone != "" {
		cal.SetXWRTimezone(timezone)
	}

	return &Calendar{
		cal:   cal,
		stamp: stamp.UTC(),
	}
}

// Add appends ev as an all-day VEVENT spanning one day.
func (c *Calendar) Add(ev model.Event) {
	uid := ev.UID
	if uid == "" {
		uid = EventUID(ev.ScheduleID, ev.PatternDate)
	}

	date := ev.Date
	if ev.Location != nil {
		date = date.In(ev.Location)
	}

	vev := c.cal.AddEvent(uid)
	vev.SetDtStampTime(c.stamp)
	vev.SetSummary(ev.Summary)
	vev.SetAllDayStartAt(date)
	vev.SetAllDayEndAt(recur.AddDays(date, 1))
	c.count++
}

// Len returns how many events were added.
func (c *Calendar) Len() int {
	return c.count
}

// Serialize returns the feed as iCalendar text.
func (c *Calendar) Serialize() string {
	return c.cal.Serialize()
}

// WriteTo writes the serialized feed to w.
func (c *Calendar) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, c.Serialize())
	return int64(n), err
}

// EventUID derives a stable UID from the schedule and the pattern date the
// recurrence produced, so re-runs and weekend displacement keep UIDs steady.
func EventUID(scheduleID string, patternDate time.Time) string {
	key := fmt.Sprintf("%s|%s", scheduleID, patternDate.Format("2006-01-02"))
	return uuid.NewSHA1(uidNamespace, []byte(key)).String() + "@" + uidDomain
}
