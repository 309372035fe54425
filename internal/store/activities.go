package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openagentkit/ci/internal/ciaerr"
	"github.com/openagentkit/ci/internal/domain"
)

// activityDedupKey builds the dedup key (session_id, created_at bucketed to
// ms, tool_name, tool_use_id) as a single string for the UNIQUE index.
func activityDedupKey(sessionID string, createdAt time.Time, toolName, toolUseID string) string {
	return fmt.Sprintf("%s|%d|%s|%s", sessionID, createdAt.UnixMilli(), toolName, toolUseID)
}

// AppendActivity records a tool execution. On a dedup-hash collision (the
// same session/timestamp-bucket/tool/tool_use_id tuple) it returns the
// existing row's id with no side effects.
func (s *Store) AppendActivity(a domain.Activity) (string, error) {
	if a.ID == "" {
		a.ID = domain.NewUUID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	key := activityDedupKey(a.SessionID, a.CreatedAt, a.ToolName, a.ToolUseID)

	var existingID string
	row := s.db.QueryRow(`SELECT id FROM activities WHERE dedup_key = ?`, key)
	if err := row.Scan(&existingID); err == nil {
		return existingID, nil
	} else if err != sql.ErrNoRows {
		return "", err
	}

	inputJSON, err := json.Marshal(a.ToolInput)
	if err != nil {
		return "", fmt.Errorf("marshal tool_input: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO activities (id, session_id, prompt_batch_id, tool_use_id, tool_name, tool_input_json,
			tool_output_summary, file_path, success, error_message, created_at, dedup_key)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.PromptBatchID, a.ToolUseID, a.ToolName, string(inputJSON),
		a.ToolOutputSummary, a.FilePath, boolInt(a.Success), a.ErrorMessage, formatTime(a.CreatedAt), key)
	if err != nil {
		// A UNIQUE constraint race: another writer inserted the same key
		// between our SELECT and INSERT. Resolve by reading it back.
		row := s.db.QueryRow(`SELECT id FROM activities WHERE dedup_key = ?`, key)
		if scanErr := row.Scan(&existingID); scanErr == nil {
			return existingID, nil
		}
		return "", fmt.Errorf("insert activity: %w", err)
	}
	return a.ID, nil
}

// AssociateActivity attaches an orphaned activity to a batch.
func (s *Store) AssociateActivity(activityID, batchID string) error {
	_, err := s.db.Exec(`UPDATE activities SET prompt_batch_id = ? WHERE id = ?`, batchID, activityID)
	return err
}

// OrphanActivities returns activities with no prompt_batch_id.
func (s *Store) OrphanActivities(limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, COALESCE(prompt_batch_id,''), tool_use_id, tool_name, tool_input_json,
			tool_output_summary, file_path, success, error_message, created_at
		FROM activities WHERE prompt_batch_id IS NULL ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

// NearestBatchInTime finds the batch of the same session whose time window
// is closest to t, for associating orphaned activities.
func (s *Store) NearestBatchInTime(sessionID string, t time.Time) (domain.PromptBatch, bool, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, prompt_number, user_prompt, source_type, classification, plan_file_path,
			plan_content, response_summary, started_at, ended_at, status, processed, error_annotation
		FROM prompt_batches
		WHERE session_id = ?
		ORDER BY ABS(strftime('%s', started_at) - strftime('%s', ?)) ASC
		LIMIT 1`, sessionID, formatTime(t))
	b, err := scanBatch(row)
	if err != nil {
		if ciaerr.Is(err, ciaerr.ErrNotFound) {
			return domain.PromptBatch{}, false, nil
		}
		return domain.PromptBatch{}, false, err
	}
	return b, true, nil
}

// ActivitiesForBatch returns activities belonging to a batch in arrival
// order.
func (s *Store) ActivitiesForBatch(batchID string) ([]domain.Activity, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, COALESCE(prompt_batch_id,''), tool_use_id, tool_name, tool_input_json,
			tool_output_summary, file_path, success, error_message, created_at
		FROM activities WHERE prompt_batch_id = ? ORDER BY created_at`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ActivityCountForSession returns the total activity rows linked to a
// session, directly or via its batches.
func (s *Store) ActivityCountForSession(sessionID string) (int, error) {
	var count int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM activities WHERE session_id = ?`, sessionID)
	err := row.Scan(&count)
	return count, err
}

func scanActivities(rows *sql.Rows) ([]domain.Activity, error) {
	var out []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var inputJSON, created string
		var success int
		if err := rows.Scan(&a.ID, &a.SessionID, &a.PromptBatchID, &a.ToolUseID, &a.ToolName, &inputJSON,
			&a.ToolOutputSummary, &a.FilePath, &success, &a.ErrorMessage, &created); err != nil {
			return nil, err
		}
		if inputJSON != "" {
			_ = json.Unmarshal([]byte(inputJSON), &a.ToolInput)
		}
		a.Success = success != 0
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}
