package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/openagentkit/ci/internal/ciaerr"
	"github.com/openagentkit/ci/internal/domain"
)

// ContentHash returns a stable hash of plan content, used to detect
// whether a re-read of the plan file changed anything.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// UpsertPlan inserts a plan or, if filePath matches an existing plan for
// the same session, replaces its content and updated_at in place.
func (s *Store) UpsertPlan(p domain.Plan) (domain.Plan, error) {
	p.ContentHash = ContentHash(p.Content)
	now := time.Now()

	if p.FilePath != "" {
		var existingID string
		row := s.db.QueryRow(`SELECT id FROM plans WHERE session_id = ? AND file_path = ?`, p.SessionID, p.FilePath)
		if err := row.Scan(&existingID); err == nil {
			_, err := s.db.Exec(`UPDATE plans SET title=?, content=?, content_hash=?, updated_at=? WHERE id=?`,
				p.Title, p.Content, p.ContentHash, formatTime(now), existingID)
			if err != nil {
				return domain.Plan{}, err
			}
			return s.GetPlan(existingID)
		} else if err != sql.ErrNoRows {
			return domain.Plan{}, err
		}
	}

	if p.ID == "" {
		p.ID = domain.NewUUID()
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO plans (id, session_id, title, file_path, content, content_hash, embedded, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		p.ID, p.SessionID, p.Title, p.FilePath, p.Content, p.ContentHash, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return domain.Plan{}, fmt.Errorf("insert plan: %w", err)
	}
	return p, nil
}

// MarkPlanEmbedded flags a plan as embedded into the vector index.
func (s *Store) MarkPlanEmbedded(id string) error {
	_, err := s.db.Exec(`UPDATE plans SET embedded = 1 WHERE id = ?`, id)
	return err
}

// GetPlan retrieves a plan by id.
func (s *Store) GetPlan(id string) (domain.Plan, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, title, file_path, content, content_hash, embedded, created_at, updated_at
		FROM plans WHERE id = ?`, id)
	var p domain.Plan
	var embedded int
	var created, updated string
	err := row.Scan(&p.ID, &p.SessionID, &p.Title, &p.FilePath, &p.Content, &p.ContentHash, &embedded, &created, &updated)
	if err == sql.ErrNoRows {
		return domain.Plan{}, fmt.Errorf("plan %s: %w", id, ciaerr.ErrNotFound)
	}
	if err != nil {
		return domain.Plan{}, err
	}
	p.Embedded = embedded != 0
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

// UnembeddedPlans returns plans not yet embedded into the vector index.
func (s *Store) UnembeddedPlans(limit int) ([]domain.Plan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, title, file_path, content, content_hash, embedded, created_at, updated_at
		FROM plans WHERE embedded = 0 ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Plan
	for rows.Next() {
		var p domain.Plan
		var embedded int
		var created, updated string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Title, &p.FilePath, &p.Content, &p.ContentHash, &embedded, &created, &updated); err != nil {
			return nil, err
		}
		p.Embedded = embedded != 0
		p.CreatedAt = parseTime(created)
		p.UpdatedAt = parseTime(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}
