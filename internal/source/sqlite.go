package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	appLog "actualcal/internal/log"
	"actualcal/internal/model"
)

// schedulesQuery selects active schedules with the rule conditions that
// carry their date/amount and the precomputed next occurrence.
const schedulesQuery = `
SELECT s.id,
       COALESCE(s.name, ''),
       COALESCE(r.conditions, '[]'),
       COALESCE(nd.local_next_date, 0)
FROM schedules s
LEFT JOIN rules r ON r.id = s.rule
LEFT JOIN schedules_next_date nd ON nd.schedule_id = s.id AND COALESCE(nd.tombstone, 0) = 0
WHERE COALESCE(s.completed, 0) = 0
  AND COALESCE(s.tombstone, 0) = 0
ORDER BY s.rowid`

// SQLite reads schedules straight from a synced budget database file.
type SQLite struct {
	path string
	loc  *time.Location
}

// NewSQLite returns a Source for the budget database at path. The file is
// opened read-only on every call.
func NewSQLite(path string, loc *time.Location) *SQLite {
	return &SQLite{path: path, loc: loc}
}

func (s *SQLite) Name() string { return "sqlite:" + s.path }

// Path is the watched database location.
func (s *SQLite) Path() string { return s.path }

type ruleCondition struct {
	Field string          `json:"field"`
	Op    string          `json:"op"`
	Value json.RawMessage `json:"value"`
}

func (s *SQLite) Schedules(ctx context.Context) ([]model.Schedule, error) {
	db, err := sql.Open("sqlite", "file:"+s.path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open budget db: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, schedulesQuery)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			rec        Record
			conditions string
			nextDate   int64
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &conditions, &nextDate); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		if t := parseDateInt(nextDate, s.loc); !t.IsZero() {
			rec.NextDate = t.Format(dateLayout)
		}

		var conds []ruleCondition
		if err := json.Unmarshal([]byte(conditions), &conds); err != nil {
			appLog.Error("schedule rule conditions unreadable", err, "schedule_id", rec.ID)
			continue
		}
		for _, c := range conds {
			switch c.Field {
			case "date":
				rec.Date = c.Value
			case "amount":
				rec.Amount = c.Value
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}

	out := ToSchedules(records, s.loc, logInvalid(s.Name()))
	appLog.Debug("sqlite source loaded", "path", s.path, "active", len(out))
	return out, nil
}
