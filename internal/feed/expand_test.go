package feed

import (
	"bytes"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actualcal/internal/amount"
	appLog "actualcal/internal/log"
	"actualcal/internal/model"
	"actualcal/internal/recur"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func defaultOpts() Options {
	return Options{
		Location:  time.UTC,
		Horizon:   day(2024, 12, 31),
		Formatter: amount.Default(),
	}
}

func dates(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Date.Format("2006-01-02"))
	}
	return out
}

func TestExpandSchedule_MonthEndScenario(t *testing.T) {
	s := model.Schedule{
		ID:       "rent",
		Name:     "Rent",
		Amount:   model.FixedAmount(-150000),
		NextDate: day(2024, 1, 31),
		Recurrence: &model.Recurrence{
			Frequency:   model.FrequencyMonthly,
			Interval:    1,
			Start:       day(2024, 1, 31),
			EndMode:     model.EndAfterNOccurrences,
			Occurrences: 3,
		},
	}

	res := ExpandSchedule(s, defaultOpts())
	events, err := res.Result.Get()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31"}, dates(events))
	for _, ev := range events {
		assert.Equal(t, "Rent (-$1,500.00)", ev.Summary)
		assert.True(t, ev.AllDay)
		assert.Equal(t, "rent", ev.ScheduleID)
		assert.NotEmpty(t, ev.UID)
	}
}

func TestExpandSchedule_BiWeeklyMondays(t *testing.T) {
	end := day(2024, 2, 12)
	s := model.Schedule{
		ID:       "pay",
		Name:     "Paycheck",
		Amount:   model.FixedAmount(250000),
		NextDate: day(2024, 1, 1),
		Recurrence: &model.Recurrence{
			Frequency:        model.FrequencyWeekly,
			Interval:         2,
			Start:            day(2024, 1, 1),
			EndMode:          model.EndOnDate,
			EndDate:          &end,
			SkipWeekend:      true,
			WeekendSolveMode: model.WeekendAfter,
		},
	}

	events, err := ExpandSchedule(s, defaultOpts()).Result.Get()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-15", "2024-01-29", "2024-02-12"}, dates(events))
	for _, ev := range events {
		assert.Equal(t, time.Monday, ev.Date.Weekday())
		assert.True(t, ev.Date.Equal(ev.PatternDate))
	}
}

func TestExpandSchedule_OneOff(t *testing.T) {
	s := model.Schedule{
		ID:       "gift",
		Name:     "Gift",
		Amount:   model.RangeAmount(-4000, -6000),
		NextDate: day(2024, 5, 10),
	}

	for _, horizon := range []time.Time{{}, day(1990, 1, 1), day(2100, 1, 1)} {
		opts := defaultOpts()
		opts.Horizon = horizon

		events, err := ExpandSchedule(s, opts).Result.Get()
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "2024-05-10", events[0].Date.Format("2006-01-02"))
		assert.Equal(t, "Gift (-$40.00 ~ -$60.00)", events[0].Summary)
	}
}

func TestExpandSchedule_OneOffWithoutDate(t *testing.T) {
	res := ExpandSchedule(model.Schedule{ID: "x"}, defaultOpts())
	assert.True(t, res.Result.IsError())
	assert.ErrorIs(t, res.Result.Error(), recur.ErrMalformedDescriptor)
}

func TestExpandSchedule_CutoffIsInclusive(t *testing.T) {
	s := model.Schedule{
		ID:       "daily",
		Name:     "Coffee",
		NextDate: day(2024, 1, 3),
		Recurrence: &model.Recurrence{
			Frequency:   model.FrequencyDaily,
			Start:       day(2024, 1, 1),
			EndMode:     model.EndAfterNOccurrences,
			Occurrences: 5,
		},
	}

	events, err := ExpandSchedule(s, defaultOpts()).Result.Get()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-03", "2024-01-04", "2024-01-05"}, dates(events))
	assert.Equal(t, 2, events[0].Index)
}

func TestExpandSchedule_WeekendAppliedAfterFilter(t *testing.T) {
	// 2024-06-08 is a Saturday; the pattern date equals the cutoff, so the
	// occurrence is kept even though it is displayed a day earlier.
	s := model.Schedule{
		ID:       "sat",
		Name:     "Insurance",
		NextDate: day(2024, 6, 8),
		Recurrence: &model.Recurrence{
			Frequency:        model.FrequencyMonthly,
			Start:            day(2024, 6, 8),
			EndMode:          model.EndAfterNOccurrences,
			Occurrences:      2,
			SkipWeekend:      true,
			WeekendSolveMode: model.WeekendBefore,
		},
	}

	events, err := ExpandSchedule(s, defaultOpts()).Result.Get()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-07", "2024-07-08"}, dates(events))
	assert.True(t, events[0].PatternDate.Equal(day(2024, 6, 8)))
}

func TestExpandSchedule_Truncated(t *testing.T) {
	s := model.Schedule{
		ID: "many",
		Recurrence: &model.Recurrence{
			Frequency: model.FrequencyDaily,
			Start:     day(2024, 1, 1),
			EndMode:   model.EndNever,
		},
	}
	opts := defaultOpts()
	opts.MaxOccurrences = 10

	res := ExpandSchedule(s, opts)
	events, err := res.Result.Get()
	require.NoError(t, err)
	assert.Len(t, events, 10)
	assert.True(t, res.Truncated)
}

func TestExpandSchedule_Location(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	s := model.Schedule{
		ID:       "kst",
		NextDate: time.Date(2024, 3, 1, 0, 0, 0, 0, kst),
		Recurrence: &model.Recurrence{
			Frequency:   model.FrequencyWeekly,
			Start:       time.Date(2024, 3, 1, 0, 0, 0, 0, kst),
			EndMode:     model.EndAfterNOccurrences,
			Occurrences: 2,
		},
	}
	opts := defaultOpts()
	opts.Location = kst

	events, err := ExpandSchedule(s, opts).Result.Get()
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, kst, ev.Date.Location())
		assert.Equal(t, kst, ev.Location)
	}
	assert.Equal(t, []string{"2024-03-01", "2024-03-08"}, dates(events))
}

func TestExpandSchedule_ClockChanges(t *testing.T) {
	santiago, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	tests := []struct {
		name     string
		loc      *time.Location
		next     time.Time
		rec      model.Recurrence
		expected []string
		patterns []string
	}{
		{
			name: "daily",
			loc:  santiago,
			next: time.Date(2024, 9, 7, 0, 0, 0, 0, santiago),
			rec: model.Recurrence{
				Frequency:   model.FrequencyDaily,
				Start:       time.Date(2024, 9, 6, 0, 0, 0, 0, santiago),
				EndMode:     model.EndAfterNOccurrences,
				Occurrences: 4,
			},
			expected: []string{"2024-09-07", "2024-09-08", "2024-09-09"},
			patterns: []string{"2024-09-07", "2024-09-08", "2024-09-09"},
		},
		{
			name: "weekly with cutoff on the transition day",
			loc:  santiago,
			next: time.Date(2024, 9, 8, 12, 0, 0, 0, santiago),
			rec: model.Recurrence{
				Frequency:        model.FrequencyWeekly,
				Start:            time.Date(2024, 9, 1, 0, 0, 0, 0, santiago),
				EndMode:          model.EndAfterNOccurrences,
				Occurrences:      3,
				SkipWeekend:      true,
				WeekendSolveMode: model.WeekendAfter,
			},
			expected: []string{"2024-09-09", "2024-09-16"},
			patterns: []string{"2024-09-08", "2024-09-15"},
		},
		{
			name: "monthly",
			loc:  santiago,
			next: time.Date(2024, 7, 8, 0, 0, 0, 0, santiago),
			rec: model.Recurrence{
				Frequency:   model.FrequencyMonthly,
				Start:       time.Date(2024, 7, 8, 0, 0, 0, 0, santiago),
				EndMode:     model.EndAfterNOccurrences,
				Occurrences: 3,
			},
			expected: []string{"2024-07-08", "2024-08-08", "2024-09-08"},
			patterns: []string{"2024-07-08", "2024-08-08", "2024-09-08"},
		},
		{
			name: "daily across a 02:00 transition",
			loc:  berlin,
			next: time.Date(2024, 3, 30, 0, 0, 0, 0, berlin),
			rec: model.Recurrence{
				Frequency:   model.FrequencyDaily,
				Start:       time.Date(2024, 3, 30, 0, 0, 0, 0, berlin),
				EndMode:     model.EndAfterNOccurrences,
				Occurrences: 3,
			},
			expected: []string{"2024-03-30", "2024-03-31", "2024-04-01"},
			patterns: []string{"2024-03-30", "2024-03-31", "2024-04-01"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec
			s := model.Schedule{ID: "dst", Name: "DST", NextDate: tt.next, Recurrence: &rec}
			opts := defaultOpts()
			opts.Location = tt.loc

			events, err := ExpandSchedule(s, opts).Result.Get()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, dates(events))

			patterns := make([]string, 0, len(events))
			uids := make(map[string]bool)
			for _, ev := range events {
				patterns = append(patterns, ev.PatternDate.Format("2006-01-02"))
				assert.Equal(t, tt.loc, ev.Date.Location())
				uids[ev.UID] = true
			}
			assert.Equal(t, tt.patterns, patterns)
			assert.Len(t, uids, len(events))
		})
	}
}

func TestExpandSchedule_CountNotCapped(t *testing.T) {
	s := model.Schedule{
		ID: "counted",
		Recurrence: &model.Recurrence{
			Frequency:   model.FrequencyDaily,
			Start:       day(2024, 1, 1),
			EndMode:     model.EndAfterNOccurrences,
			Occurrences: 25,
		},
	}
	opts := defaultOpts()
	opts.MaxOccurrences = 10

	res := ExpandSchedule(s, opts)
	events, err := res.Result.Get()
	require.NoError(t, err)
	assert.Len(t, events, 25)
	assert.False(t, res.Truncated)
}

func TestExpandSchedule_Invalid(t *testing.T) {
	s := model.Schedule{
		ID:       "x",
		NextDate: day(2024, 1, 1),
		Invalid:  errors.New("schedule x: decode amount: bad"),
	}
	_, err := ExpandSchedule(s, defaultOpts()).Result.Get()
	assert.ErrorContains(t, err, "decode amount")
}

func TestBatch_Outcomes(t *testing.T) {
	schedules := []model.Schedule{
		{ID: "gift", Name: "Gift", NextDate: day(2024, 3, 1)},
		{
			ID:       "elapsed",
			Name:     "Elapsed",
			NextDate: day(2024, 6, 1),
			Recurrence: &model.Recurrence{
				Frequency:   model.FrequencyMonthly,
				Start:       day(2024, 1, 1),
				EndMode:     model.EndAfterNOccurrences,
				Occurrences: 2,
			},
		},
		{ID: "broken", Name: "Broken", Invalid: errors.New("decode amount: bad")},
	}

	outcomes := Expand(schedules, defaultOpts()).Outcomes()
	require.Len(t, outcomes, 3)

	assert.Equal(t, Outcome{ScheduleID: "gift", Name: "Gift", Events: 1}, outcomes[0])
	assert.Equal(t, Outcome{ScheduleID: "elapsed", Name: "Elapsed", Events: 0}, outcomes[1])
	assert.True(t, outcomes[1].OK())
	assert.Equal(t, "broken", outcomes[2].ScheduleID)
	assert.False(t, outcomes[2].OK())
	assert.Equal(t, "decode amount: bad", outcomes[2].Reason)
}

func TestExpand_IsolatesFailures(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	t.Cleanup(func() { appLog.SetOutput(nil) })

	schedules := []model.Schedule{
		{
			ID:       "ok-1",
			Name:     "First",
			NextDate: day(2024, 1, 1),
		},
		{
			ID:       "bad",
			Name:     "Broken",
			NextDate: day(2024, 1, 1),
			Recurrence: &model.Recurrence{
				Frequency:   "bogus",
				Start:       day(2024, 1, 1),
				EndMode:     model.EndAfterNOccurrences,
				Occurrences: 3,
			},
		},
		{
			ID:       "malformed",
			Name:     "No end date",
			NextDate: day(2024, 1, 1),
			Recurrence: &model.Recurrence{
				Frequency: model.FrequencyMonthly,
				Start:     day(2024, 1, 1),
				EndMode:   model.EndOnDate,
			},
		},
		{
			ID:       "ok-2",
			Name:     "Second",
			NextDate: day(2024, 1, 1),
			Recurrence: &model.Recurrence{
				Frequency:   model.FrequencyWeekly,
				Start:       day(2024, 1, 1),
				EndMode:     model.EndAfterNOccurrences,
				Occurrences: 2,
			},
		},
	}

	batch := Expand(schedules, defaultOpts())
	require.Len(t, batch.Results, 4)

	events := batch.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "ok-1", events[0].ScheduleID)
	assert.Equal(t, "ok-2", events[1].ScheduleID)
	assert.Equal(t, "ok-2", events[2].ScheduleID)

	failures := batch.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "bad", failures[0].ScheduleID)
	assert.ErrorIs(t, failures[0].Err, recur.ErrInvalidFrequency)
	assert.Equal(t, "malformed", failures[1].ScheduleID)
	assert.ErrorIs(t, failures[1].Err, recur.ErrMalformedDescriptor)

	out := buf.String()
	assert.Contains(t, out, "schedule expansion failed")
	assert.Contains(t, out, "invalid frequency")
	assert.Contains(t, out, "bad")
}

func TestExpand_Idempotent(t *testing.T) {
	s := model.Schedule{
		ID:       "rent",
		Name:     "Rent",
		NextDate: day(2024, 2, 1),
		Recurrence: &model.Recurrence{
			Frequency:        model.FrequencyMonthly,
			Start:            day(2024, 1, 31),
			EndMode:          model.EndNever,
			SkipWeekend:      true,
			WeekendSolveMode: model.WeekendAfter,
		},
	}

	a := Expand([]model.Schedule{s}, defaultOpts()).Events()
	b := Expand([]model.Schedule{s}, defaultOpts()).Events()
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestHorizonFrom(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	assert.True(t, HorizonFrom(now, 3).Equal(time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)))
}
