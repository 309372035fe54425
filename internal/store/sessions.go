package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/openagentkit/ci/internal/ciaerr"
	"github.com/openagentkit/ci/internal/domain"
)

// UpsertSession inserts a new session or merges non-empty fields onto an
// existing one. Title is never clobbered once title_manually_edited is
// true, regardless of what the incoming session carries.
func (s *Store) UpsertSession(sess domain.Session) (domain.Session, error) {
	if sess.ID == "" {
		sess.ID = domain.NewUUID()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	if sess.Status == "" {
		sess.Status = domain.SessionActive
	}

	existing, err := s.GetSession(sess.ID)
	if err != nil && !ciaerr.Is(err, ciaerr.ErrNotFound) {
		return domain.Session{}, err
	}
	if err == nil {
		merged := mergeSession(existing, sess)
		if err := s.updateSession(merged); err != nil {
			return domain.Session{}, err
		}
		return merged, nil
	}

	_, execErr := s.db.Exec(`
		INSERT INTO sessions (id, agent, source_machine_id, project_root, started_at, ended_at,
			status, summary, title, title_manually_edited, parent_session_id, parent_reason,
			transcript_path, summary_embedded, first_prompt_preview)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Agent, sess.SourceMachineID, sess.ProjectRoot, formatTime(sess.StartedAt),
		nullableTime(sess.EndedAt), sess.Status, sess.Summary, sess.Title, boolInt(sess.TitleManuallyEdited),
		sess.ParentSessionID, sess.ParentReason, sess.TranscriptPath, boolInt(sess.SummaryEmbedded),
		sess.FirstPromptPreview)
	if execErr != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", execErr)
	}
	return sess, nil
}

// mergeSession overlays non-empty fields of incoming onto existing,
// preserving the title if it has been manually edited.
func mergeSession(existing, incoming domain.Session) domain.Session {
	merged := existing
	if incoming.Agent != "" {
		merged.Agent = incoming.Agent
	}
	if incoming.SourceMachineID != "" {
		merged.SourceMachineID = incoming.SourceMachineID
	}
	if incoming.ProjectRoot != "" {
		merged.ProjectRoot = incoming.ProjectRoot
	}
	if incoming.Status != "" {
		merged.Status = incoming.Status
	}
	if incoming.EndedAt != nil {
		merged.EndedAt = incoming.EndedAt
	}
	if incoming.Summary != "" {
		merged.Summary = incoming.Summary
	}
	if !existing.TitleManuallyEdited && incoming.Title != "" {
		merged.Title = incoming.Title
	}
	if incoming.TitleManuallyEdited {
		merged.TitleManuallyEdited = true
	}
	if incoming.ParentSessionID != "" {
		merged.ParentSessionID = incoming.ParentSessionID
	}
	if incoming.ParentReason != "" {
		merged.ParentReason = incoming.ParentReason
	}
	if incoming.TranscriptPath != "" {
		merged.TranscriptPath = incoming.TranscriptPath
	}
	if incoming.SummaryEmbedded {
		merged.SummaryEmbedded = true
	}
	if incoming.FirstPromptPreview != "" {
		merged.FirstPromptPreview = incoming.FirstPromptPreview
	}
	return merged
}

func (s *Store) updateSession(sess domain.Session) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET agent=?, source_machine_id=?, project_root=?, ended_at=?, status=?,
			summary=?, title=?, title_manually_edited=?, parent_session_id=?, parent_reason=?,
			transcript_path=?, summary_embedded=?, first_prompt_preview=?
		WHERE id=?`,
		sess.Agent, sess.SourceMachineID, sess.ProjectRoot, nullableTime(sess.EndedAt), sess.Status,
		sess.Summary, sess.Title, boolInt(sess.TitleManuallyEdited), sess.ParentSessionID, sess.ParentReason,
		sess.TranscriptPath, boolInt(sess.SummaryEmbedded), sess.FirstPromptPreview, sess.ID)
	return err
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(id string) (domain.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, agent, source_machine_id, project_root, started_at, ended_at, status, summary,
			title, title_manually_edited, parent_session_id, parent_reason, transcript_path,
			summary_embedded, first_prompt_preview
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (domain.Session, error) {
	var sess domain.Session
	var started string
	var ended sql.NullString
	var titleEdited, summaryEmbedded int
	err := row.Scan(&sess.ID, &sess.Agent, &sess.SourceMachineID, &sess.ProjectRoot, &started, &ended,
		&sess.Status, &sess.Summary, &sess.Title, &titleEdited, &sess.ParentSessionID, &sess.ParentReason,
		&sess.TranscriptPath, &summaryEmbedded, &sess.FirstPromptPreview)
	if err == sql.ErrNoRows {
		return domain.Session{}, fmt.Errorf("session %s: %w", sess.ID, ciaerr.ErrNotFound)
	}
	if err != nil {
		return domain.Session{}, err
	}
	sess.StartedAt = parseTime(started)
	if ended.Valid {
		t := parseTime(ended.String)
		sess.EndedAt = &t
	}
	sess.TitleManuallyEdited = titleEdited != 0
	sess.SummaryEmbedded = summaryEmbedded != 0
	return sess, nil
}

// EndSession marks a session completed and stamps ended_at. Idempotent:
// a session already completed keeps its original ended_at.
func (s *Store) EndSession(id string) error {
	sess, err := s.GetSession(id)
	if err != nil {
		return err
	}
	if sess.Status == domain.SessionCompleted && sess.EndedAt != nil {
		return nil
	}
	now := time.Now()
	_, err = s.db.Exec(`UPDATE sessions SET status=?, ended_at=? WHERE id=?`,
		domain.SessionCompleted, formatTime(now), id)
	return err
}

// LinkParentSession sets parent_session_id after verifying the link would
// not introduce a cycle in the session lineage DAG: it walks the proposed
// parent's ancestors and rejects the link if childID already appears
// among them.
func (s *Store) LinkParentSession(childID, parentID, reason string) error {
	if childID == parentID {
		return fmt.Errorf("session %s cannot be its own parent: %w", childID, ciaerr.ErrValidation)
	}

	seen := map[string]bool{parentID: true}
	cursor := parentID
	for {
		row := s.db.QueryRow(`SELECT parent_session_id FROM sessions WHERE id = ?`, cursor)
		var next string
		if err := row.Scan(&next); err != nil {
			if err == sql.ErrNoRows {
				break
			}
			return err
		}
		if next == "" {
			break
		}
		if next == childID {
			return fmt.Errorf("linking %s under %s would create a cycle: %w", childID, parentID, ciaerr.ErrValidation)
		}
		if seen[next] {
			break // already-corrupt lineage elsewhere; don't loop forever
		}
		seen[next] = true
		cursor = next
	}

	_, err := s.db.Exec(`UPDATE sessions SET parent_session_id=?, parent_reason=? WHERE id=?`,
		parentID, reason, childID)
	return err
}

// LastActivityTime returns the time of the most recent activity for a
// session, falling back to the session's started_at if it has none.
func (s *Store) LastActivityTime(sessionID string) (time.Time, error) {
	row := s.db.QueryRow(`SELECT MAX(created_at) FROM activities WHERE session_id = ?`, sessionID)
	var last sql.NullString
	if err := row.Scan(&last); err != nil {
		return time.Time{}, err
	}
	if last.Valid && last.String != "" {
		return parseTime(last.String), nil
	}
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return time.Time{}, err
	}
	return sess.StartedAt, nil
}

// ListActiveSessions returns every session currently in status=active.
func (s *Store) ListActiveSessions() ([]domain.Session, error) {
	rows, err := s.db.Query(`
		SELECT id, agent, source_machine_id, project_root, started_at, ended_at, status, summary,
			title, title_manually_edited, parent_session_id, parent_reason, transcript_path,
			summary_embedded, first_prompt_preview
		FROM sessions WHERE status = ?`, domain.SessionActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListSessionsWithoutSummary returns completed sessions lacking a summary.
func (s *Store) ListSessionsWithoutSummary(limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, agent, source_machine_id, project_root, started_at, ended_at, status, summary,
			title, title_manually_edited, parent_session_id, parent_reason, transcript_path,
			summary_embedded, first_prompt_preview
		FROM sessions WHERE status = ? AND summary = '' ORDER BY started_at LIMIT ?`,
		domain.SessionCompleted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListSessions returns sessions for a project root, most recent first.
func (s *Store) ListSessions(projectRoot string, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, agent, source_machine_id, project_root, started_at, ended_at, status, summary,
			title, title_manually_edited, parent_session_id, parent_reason, transcript_path,
			summary_embedded, first_prompt_preview
		FROM sessions WHERE project_root = ? ORDER BY started_at DESC LIMIT ?`, projectRoot, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// DeleteSession removes a session; cascades to its batches, activities, and
// plans via ON DELETE CASCADE. Observations are owned by the store itself
// and are not deleted.
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func scanSessions(rows *sql.Rows) ([]domain.Session, error) {
	var out []domain.Session
	for rows.Next() {
		var sess domain.Session
		var started string
		var ended sql.NullString
		var titleEdited, summaryEmbedded int
		if err := rows.Scan(&sess.ID, &sess.Agent, &sess.SourceMachineID, &sess.ProjectRoot, &started, &ended,
			&sess.Status, &sess.Summary, &sess.Title, &titleEdited, &sess.ParentSessionID, &sess.ParentReason,
			&sess.TranscriptPath, &summaryEmbedded, &sess.FirstPromptPreview); err != nil {
			return nil, err
		}
		sess.StartedAt = parseTime(started)
		if ended.Valid {
			t := parseTime(ended.String)
			sess.EndedAt = &t
		}
		sess.TitleManuallyEdited = titleEdited != 0
		sess.SummaryEmbedded = summaryEmbedded != 0
		out = append(out, sess)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
