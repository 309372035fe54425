package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/openagentkit/ci/internal/ciaerr"
	"github.com/openagentkit/ci/internal/domain"
)

// BeginBatch opens a new prompt batch for a session. It fails with
// ErrConflict if another batch is already active for that session.
func (s *Store) BeginBatch(sessionID, userPrompt string, sourceType domain.BatchSourceType) (domain.PromptBatch, error) {
	var activeCount int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM prompt_batches WHERE session_id = ? AND status = ?`,
		sessionID, domain.BatchActive)
	if err := row.Scan(&activeCount); err != nil {
		return domain.PromptBatch{}, err
	}
	if activeCount > 0 {
		return domain.PromptBatch{}, fmt.Errorf("session %s already has an active batch: %w", sessionID, ciaerr.ErrConflict)
	}

	var maxNum int
	row = s.db.QueryRow(`SELECT COALESCE(MAX(prompt_number), 0) FROM prompt_batches WHERE session_id = ?`, sessionID)
	if err := row.Scan(&maxNum); err != nil {
		return domain.PromptBatch{}, err
	}

	batch := domain.PromptBatch{
		ID:           domain.NewUUID(),
		SessionID:    sessionID,
		PromptNumber: maxNum + 1,
		UserPrompt:   userPrompt,
		SourceType:   sourceType,
		StartedAt:    time.Now(),
		Status:       domain.BatchActive,
	}

	_, err := s.db.Exec(`
		INSERT INTO prompt_batches (id, session_id, prompt_number, user_prompt, source_type, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.SessionID, batch.PromptNumber, batch.UserPrompt, batch.SourceType,
		formatTime(batch.StartedAt), batch.Status)
	if err != nil {
		return domain.PromptBatch{}, fmt.Errorf("insert batch: %w", err)
	}
	return batch, nil
}

// CompleteBatch stamps a batch completed with its response summary.
// Idempotent: completing an already-completed batch just updates the
// summary if one wasn't already recorded.
func (s *Store) CompleteBatch(batchID, responseSummary string) error {
	b, err := s.GetBatch(batchID)
	if err != nil {
		return err
	}
	if b.Status == domain.BatchCompleted && b.ResponseSummary != "" {
		return nil
	}
	now := time.Now()
	summary := responseSummary
	if summary == "" {
		summary = b.ResponseSummary
	}
	_, err = s.db.Exec(`UPDATE prompt_batches SET status=?, response_summary=?, ended_at=? WHERE id=?`,
		domain.BatchCompleted, summary, formatTime(now), batchID)
	return err
}

// MarkBatchPlan records that a batch captured a plan write.
func (s *Store) MarkBatchPlan(batchID, planFilePath, planContent string) error {
	_, err := s.db.Exec(`UPDATE prompt_batches SET source_type=?, plan_file_path=?, plan_content=? WHERE id=?`,
		domain.SourcePlan, planFilePath, planContent, batchID)
	return err
}

// MarkBatchProcessed flags extraction as having run for a batch, carrying
// an error annotation when extraction failed after exhausting retries.
func (s *Store) MarkBatchProcessed(batchID, errorAnnotation string) error {
	_, err := s.db.Exec(`UPDATE prompt_batches SET processed=1, error_annotation=? WHERE id=?`, errorAnnotation, batchID)
	return err
}

// SetBatchErrorAnnotation records interim retry state on a still-unprocessed
// batch without flipping processed, so UnprocessedCompletedBatches keeps
// surfacing it on later ticks.
func (s *Store) SetBatchErrorAnnotation(batchID, errorAnnotation string) error {
	_, err := s.db.Exec(`UPDATE prompt_batches SET error_annotation=? WHERE id=?`, errorAnnotation, batchID)
	return err
}

// ResetProcessing clears processed and error_annotation on every completed
// batch, forcing the extraction pipeline to re-run against all of them on
// its next tick. Used by the devtools reset-processing endpoint to recover
// from a bad summarization/extraction model swap without reimporting data.
func (s *Store) ResetProcessing() (int64, error) {
	res, err := s.db.Exec(`UPDATE prompt_batches SET processed=0, error_annotation='' WHERE status=?`, domain.BatchCompleted)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetBatch retrieves a prompt batch by id.
func (s *Store) GetBatch(id string) (domain.PromptBatch, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, prompt_number, user_prompt, source_type, classification, plan_file_path,
			plan_content, response_summary, started_at, ended_at, status, processed, error_annotation
		FROM prompt_batches WHERE id = ?`, id)
	return scanBatch(row)
}

// ActiveBatchForSession returns the currently active batch for a session,
// if any.
func (s *Store) ActiveBatchForSession(sessionID string) (domain.PromptBatch, bool, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, prompt_number, user_prompt, source_type, classification, plan_file_path,
			plan_content, response_summary, started_at, ended_at, status, processed, error_annotation
		FROM prompt_batches WHERE session_id = ? AND status = ? LIMIT 1`, sessionID, domain.BatchActive)
	b, err := scanBatch(row)
	if err != nil {
		if ciaerr.Is(err, ciaerr.ErrNotFound) {
			return domain.PromptBatch{}, false, nil
		}
		return domain.PromptBatch{}, false, err
	}
	return b, true, nil
}

// StuckBatches returns active batches whose session has had no activity
// for at least staleDuration, candidates for auto-completion by the
// background pipeline.
func (s *Store) StuckBatches(staleDuration time.Duration) ([]domain.PromptBatch, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, prompt_number, user_prompt, source_type, classification, plan_file_path,
			plan_content, response_summary, started_at, ended_at, status, processed, error_annotation
		FROM prompt_batches WHERE status = ?`, domain.BatchActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []domain.PromptBatch
	for rows.Next() {
		b, err := scanBatchRow(rows)
		if err != nil {
			return nil, err
		}
		last, err := s.LastActivityTime(b.SessionID)
		if err != nil {
			return nil, err
		}
		if time.Since(last) >= staleDuration {
			candidates = append(candidates, b)
		}
	}
	return candidates, rows.Err()
}

// UnprocessedCompletedBatches returns completed batches not yet run through
// observation extraction.
func (s *Store) UnprocessedCompletedBatches(limit int) ([]domain.PromptBatch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, prompt_number, user_prompt, source_type, classification, plan_file_path,
			plan_content, response_summary, started_at, ended_at, status, processed, error_annotation
		FROM prompt_batches WHERE status = ? AND processed = 0 ORDER BY started_at LIMIT ?`,
		domain.BatchCompleted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PromptBatch
	for rows.Next() {
		b, err := scanBatchRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BatchesForSession returns every batch belonging to a session, in prompt
// order, used by the background pipeline to build a session summary.
func (s *Store) BatchesForSession(sessionID string) ([]domain.PromptBatch, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, prompt_number, user_prompt, source_type, classification, plan_file_path,
			plan_content, response_summary, started_at, ended_at, status, processed, error_annotation
		FROM prompt_batches WHERE session_id = ? ORDER BY prompt_number`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PromptBatch
	for rows.Next() {
		b, err := scanBatchRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBatch(row *sql.Row) (domain.PromptBatch, error) {
	var b domain.PromptBatch
	var started string
	var ended sql.NullString
	var processed int
	err := row.Scan(&b.ID, &b.SessionID, &b.PromptNumber, &b.UserPrompt, &b.SourceType, &b.Classification,
		&b.PlanFilePath, &b.PlanContent, &b.ResponseSummary, &started, &ended, &b.Status, &processed, &b.ErrorAnnotation)
	if err == sql.ErrNoRows {
		return domain.PromptBatch{}, fmt.Errorf("batch %s: %w", b.ID, ciaerr.ErrNotFound)
	}
	if err != nil {
		return domain.PromptBatch{}, err
	}
	b.StartedAt = parseTime(started)
	if ended.Valid {
		t := parseTime(ended.String)
		b.EndedAt = &t
	}
	b.Processed = processed != 0
	return b, nil
}

func scanBatchRow(rows *sql.Rows) (domain.PromptBatch, error) {
	var b domain.PromptBatch
	var started string
	var ended sql.NullString
	var processed int
	if err := rows.Scan(&b.ID, &b.SessionID, &b.PromptNumber, &b.UserPrompt, &b.SourceType, &b.Classification,
		&b.PlanFilePath, &b.PlanContent, &b.ResponseSummary, &started, &ended, &b.Status, &processed, &b.ErrorAnnotation); err != nil {
		return domain.PromptBatch{}, err
	}
	b.StartedAt = parseTime(started)
	if ended.Valid {
		t := parseTime(ended.String)
		b.EndedAt = &t
	}
	b.Processed = processed != 0
	return b, nil
}
