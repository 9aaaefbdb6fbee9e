package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"actualcal/internal/model"
	"actualcal/internal/recur"
)

const dateLayout = "2006-01-02"

// Record is a schedule as exported by the budgeting service API. The _date
// field is either a plain date string (one-off) or a recurrence object, and
// _amount is either a number or a {num1, num2} range.
type Record struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	NextDate  string          `json:"next_date"`
	Completed bool            `json:"completed"`
	Tombstone bool            `json:"tombstone"`
	Date      json.RawMessage `json:"_date"`
	Amount    json.RawMessage `json:"_amount"`
}

// recurConfig mirrors the service's recurrence object.
type recurConfig struct {
	Frequency        string          `json:"frequency"`
	Interval         json.RawMessage `json:"interval"`
	Start            string          `json:"start"`
	EndMode          string          `json:"endMode"`
	EndDate          string          `json:"endDate"`
	EndOccurrences   json.RawMessage `json:"endOccurrences"`
	SkipWeekend      bool            `json:"skipWeekend"`
	WeekendSolveMode string          `json:"weekendSolveMode"`
}

type amountRange struct {
	Num1 float64 `json:"num1"`
	Num2 float64 `json:"num2"`
}

// Active reports whether the record should be exported.
func (r Record) Active() bool {
	return !r.Completed && !r.Tombstone
}

// Schedule converts the record into the model, interpreting all dates as
// calendar days in loc.
//
// Unparseable dates are left zero rather than rejected so that expansion can
// report them per schedule; only structurally broken JSON fails here.
func (r Record) Schedule(loc *time.Location) (model.Schedule, error) {
	s := model.Schedule{
		ID:       r.ID,
		Name:     r.Name,
		NextDate: parseDate(r.NextDate, loc),
	}

	amount, err := decodeAmount(r.Amount)
	if err != nil {
		return s, fmt.Errorf("schedule %s: %w", r.ID, err)
	}
	s.Amount = amount

	rec, err := decodeRecurrence(r.Date, loc)
	if err != nil {
		return s, fmt.Errorf("schedule %s: %w", r.ID, err)
	}
	s.Recurrence = rec

	return s, nil
}

// DecodeRecords accepts either {"data": [...]} or a bare JSON array.
func DecodeRecords(body []byte) ([]Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty schedule payload")
	}

	if body[0] == '[' {
		var out []Record
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	var wrapped struct {
		Data []Record `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Data, nil
}

// ToSchedules filters inactive records and converts the rest. Records that
// fail to convert are reported through onError and kept with Invalid set.
func ToSchedules(records []Record, loc *time.Location, onError func(Record, error)) []model.Schedule {
	out := make([]model.Schedule, 0, len(records))
	for _, rec := range records {
		if !rec.Active() {
			continue
		}
		s, err := rec.Schedule(loc)
		if err != nil {
			if onError != nil {
				onError(rec, err)
			}
			s.Invalid = err
		}
		out = append(out, s)
	}
	return out
}

func decodeAmount(raw json.RawMessage) (model.Amount, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return model.FixedAmount(0), nil
	}

	if raw[0] == '{' {
		var rng amountRange
		if err := json.Unmarshal(raw, &rng); err != nil {
			return model.Amount{}, fmt.Errorf("decode amount range: %w", err)
		}
		return model.RangeAmount(int64(rng.Num1), int64(rng.Num2)), nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return model.Amount{}, fmt.Errorf("decode amount: %w", err)
	}
	return model.FixedAmount(int64(n)), nil
}

func decodeRecurrence(raw json.RawMessage, loc *time.Location) (*model.Recurrence, error) {
	raw = bytes.TrimSpace(raw)
	// Plain date strings and missing values are one-off schedules.
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}

	var cfg recurConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode recurrence: %w", err)
	}
	if cfg.Frequency == "" {
		return nil, nil
	}

	rec := &model.Recurrence{
		Frequency:        model.Frequency(cfg.Frequency),
		Interval:         looseInt(cfg.Interval, 1),
		Start:            parseDate(cfg.Start, loc),
		EndMode:          model.EndMode(cfg.EndMode),
		Occurrences:      looseInt(cfg.EndOccurrences, 0),
		SkipWeekend:      cfg.SkipWeekend,
		WeekendSolveMode: model.WeekendSolveMode(cfg.WeekendSolveMode),
	}
	if rec.Interval < 1 {
		rec.Interval = 1
	}
	if cfg.EndDate != "" {
		if end := parseDate(cfg.EndDate, loc); !end.IsZero() {
			rec.EndDate = &end
		}
	}
	return rec, nil
}

// looseInt reads a JSON number or numeric string, returning def for
// anything else.
func looseInt(raw json.RawMessage, def int) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return def
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v
		}
	}
	return def
}

// parseDate parses YYYY-MM-DD (optionally followed by a time part) as a
// calendar day in loc. Invalid input yields the zero time.
func parseDate(s string, loc *time.Location) time.Time {
	s = strings.TrimSpace(s)
	if len(s) < len(dateLayout) {
		return time.Time{}
	}
	t, err := time.Parse(dateLayout, s[:len(dateLayout)])
	if err != nil {
		return time.Time{}
	}
	return recur.Day(t.Year(), t.Month(), t.Day(), loc)
}

// parseDateInt parses the integer YYYYMMDD form used in the budget database.
func parseDateInt(v int64, loc *time.Location) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	t, err := time.Parse("20060102", strconv.FormatInt(v, 10))
	if err != nil {
		return time.Time{}
	}
	return recur.Day(t.Year(), t.Month(), t.Day(), loc)
}
