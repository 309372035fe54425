package store

import (
	"time"

	"github.com/openagentkit/ci/internal/domain"
)

// InsertGovernanceAuditEvent appends an audit row. Audit events are
// excluded from backup export unless include_audit is set (spec §4.G).
func (s *Store) InsertGovernanceAuditEvent(e domain.GovernanceAuditEvent) (string, error) {
	if e.ID == "" {
		e.ID = domain.NewUUID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO governance_audit_events (id, session_id, tool_name, rule_name, decision, mode, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.ToolName, e.RuleName, e.Decision, e.Mode, e.Message, formatTime(e.CreatedAt))
	return e.ID, err
}

// ListGovernanceAuditEvents is a paginated read for the governance API.
func (s *Store) ListGovernanceAuditEvents(limit, offset int) ([]domain.GovernanceAuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, tool_name, rule_name, decision, mode, message, created_at
		FROM governance_audit_events ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GovernanceAuditEvent
	for rows.Next() {
		var e domain.GovernanceAuditEvent
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ToolName, &e.RuleName, &e.Decision, &e.Mode, &e.Message, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneGovernanceAudit removes audit events older than retentionDays.
func (s *Store) PruneGovernanceAudit(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.db.Exec(`DELETE FROM governance_audit_events WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
