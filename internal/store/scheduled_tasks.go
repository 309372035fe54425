package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/openagentkit/ci/internal/domain"
)

// ScheduledTask is a persisted cron-scheduled dispatch record, owned by
// the scheduler/power controller and stored here alongside the rest of
// the daemon's relational state.
type ScheduledTask struct {
	ID        string
	Name      string
	CronExpr  string
	Enabled   bool
	NextRunAt *time.Time
	LastRunAt *time.Time
	CreatedAt time.Time
}

// CreateScheduledTask persists a new cron task record.
func (s *Store) CreateScheduledTask(name, cronExpr string, nextRunAt time.Time) (ScheduledTask, error) {
	t := ScheduledTask{
		ID:        domain.NewUUID(),
		Name:      name,
		CronExpr:  cronExpr,
		Enabled:   true,
		NextRunAt: &nextRunAt,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec(`
		INSERT INTO scheduled_tasks (id, name, cron_expr, enabled, next_run_at, created_at)
		VALUES (?, ?, ?, 1, ?, ?)`,
		t.ID, t.Name, t.CronExpr, formatTime(*t.NextRunAt), formatTime(t.CreatedAt))
	if err != nil {
		return ScheduledTask{}, fmt.Errorf("insert scheduled task: %w", err)
	}
	return t, nil
}

// DueScheduledTasks returns enabled tasks whose next_run_at has passed.
func (s *Store) DueScheduledTasks(now time.Time, limit int) ([]ScheduledTask, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.Query(`
		SELECT id, name, cron_expr, enabled, next_run_at, last_run_at, created_at
		FROM scheduled_tasks WHERE enabled = 1 AND next_run_at <= ? ORDER BY next_run_at LIMIT ?`,
		formatTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScheduledTasks(rows)
}

// ListScheduledTasks returns all scheduled tasks.
func (s *Store) ListScheduledTasks() ([]ScheduledTask, error) {
	rows, err := s.db.Query(`SELECT id, name, cron_expr, enabled, next_run_at, last_run_at, created_at FROM scheduled_tasks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScheduledTasks(rows)
}

// RescheduleTask records a run and advances next_run_at.
func (s *Store) RescheduleTask(id string, lastRun, nextRun time.Time) error {
	_, err := s.db.Exec(`UPDATE scheduled_tasks SET last_run_at=?, next_run_at=? WHERE id=?`,
		formatTime(lastRun), formatTime(nextRun), id)
	return err
}

// SetScheduledTaskEnabled toggles a task on or off.
func (s *Store) SetScheduledTaskEnabled(id string, enabled bool) error {
	_, err := s.db.Exec(`UPDATE scheduled_tasks SET enabled=? WHERE id=?`, boolInt(enabled), id)
	return err
}

func scanScheduledTasks(rows *sql.Rows) ([]ScheduledTask, error) {
	var out []ScheduledTask
	for rows.Next() {
		var t ScheduledTask
		var enabled int
		var nextRun, lastRun sql.NullString
		var created string
		if err := rows.Scan(&t.ID, &t.Name, &t.CronExpr, &enabled, &nextRun, &lastRun, &created); err != nil {
			return nil, err
		}
		t.Enabled = enabled != 0
		if nextRun.Valid {
			v := parseTime(nextRun.String)
			t.NextRunAt = &v
		}
		if lastRun.Valid {
			v := parseTime(lastRun.String)
			t.LastRunAt = &v
		}
		t.CreatedAt = parseTime(created)
		out = append(out, t)
	}
	return out, rows.Err()
}
