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

// DedupHash computes the content hash identifying semantically identical
// observations across machines: sha256(observation || memory_type || context).
func DedupHash(observation string, memoryType domain.MemoryType, context string) string {
	sum := sha256.Sum256([]byte(observation + string(memoryType) + context))
	return hex.EncodeToString(sum[:])
}

// InsertObservation inserts a new observation, capping importance for
// planning/investigation origin types, and deduping by hash. Session
// summaries use a deterministic id (the session id) and upsert in place
// rather than dedupe by hash.
func (s *Store) InsertObservation(o domain.Observation) (string, error) {
	if o.Importance > o.SessionOriginType.MaxImportance() {
		o.Importance = o.SessionOriginType.MaxImportance()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	if o.MemoryType == domain.MemorySessionSummary {
		return s.upsertSessionSummary(o)
	}

	if o.ID == "" {
		o.ID = domain.NewUUID()
	}
	o.DedupHash = DedupHash(o.ObservationText, o.MemoryType, o.Context)

	var existingID string
	row := s.db.QueryRow(`SELECT id FROM observations WHERE dedup_hash = ?`, o.DedupHash)
	if err := row.Scan(&existingID); err == nil {
		return existingID, nil
	} else if err != sql.ErrNoRows {
		return "", err
	}

	_, err := s.db.Exec(`
		INSERT INTO observations (id, memory_type, observation, context, tags, source_session_id,
			source_batch_id, source_machine_id, status, superseded_by, session_origin_type, importance,
			archived, dedup_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?, ?, ?)`,
		o.ID, o.MemoryType, o.ObservationText, o.Context, o.Tags, o.SourceSessionID, o.SourceBatchID,
		o.SourceMachineID, domain.ObservationActive, o.SessionOriginType, o.Importance, boolInt(o.Archived),
		o.DedupHash, formatTime(o.CreatedAt))
	if err != nil {
		row := s.db.QueryRow(`SELECT id FROM observations WHERE dedup_hash = ?`, o.DedupHash)
		if scanErr := row.Scan(&existingID); scanErr == nil {
			return existingID, nil
		}
		return "", fmt.Errorf("insert observation: %w", err)
	}
	return o.ID, nil
}

// upsertSessionSummary inserts or replaces the deterministic
// session_summary observation keyed by session id.
func (s *Store) upsertSessionSummary(o domain.Observation) (string, error) {
	id := o.SourceSessionID
	o.DedupHash = DedupHash(o.ObservationText, o.MemoryType, id)

	var exists bool
	row := s.db.QueryRow(`SELECT 1 FROM observations WHERE id = ?`, id)
	exists = row.Scan(new(int)) == nil

	if exists {
		_, err := s.db.Exec(`
			UPDATE observations SET observation=?, context=?, tags=?, source_machine_id=?,
				session_origin_type=?, importance=?, dedup_hash=? WHERE id=?`,
			o.ObservationText, o.Context, o.Tags, o.SourceMachineID, o.SessionOriginType, o.Importance,
			o.DedupHash, id)
		return id, err
	}

	_, err := s.db.Exec(`
		INSERT INTO observations (id, memory_type, observation, context, tags, source_session_id,
			source_batch_id, source_machine_id, status, superseded_by, session_origin_type, importance,
			archived, dedup_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?, ?, '', ?, ?, 0, ?, ?)`,
		id, o.MemoryType, o.ObservationText, o.Context, o.Tags, id, o.SourceMachineID,
		domain.ObservationActive, o.SessionOriginType, o.Importance, o.DedupHash, formatTime(o.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("upsert session summary: %w", err)
	}
	return id, nil
}

// SetObservationStatus writes a new status and appends a ResolutionEvent
// atomically. Transitions from superseded back to active are rejected
// unless the action is explicitly reactivate.
func (s *Store) SetObservationStatus(id string, newStatus domain.ObservationStatus, reason, actor string, supersededBy string, action domain.ResolutionAction) error {
	obs, err := s.GetObservation(id)
	if err != nil {
		return err
	}
	if obs.Status == domain.ObservationSuperseded && newStatus == domain.ObservationActive && action != domain.ActionReactivate {
		return fmt.Errorf("observation %s is superseded, use an explicit reactivate: %w", id, ciaerr.ErrConflict)
	}
	if newStatus == domain.ObservationSuperseded && supersededBy == "" {
		return fmt.Errorf("superseded status requires superseded_by: %w", ciaerr.ErrValidation)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE observations SET status=?, superseded_by=? WHERE id=?`,
		newStatus, supersededBy, id); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO resolution_events (id, observation_id, action, reason, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		domain.NewUUID(), id, action, reason, actor, formatTime(time.Now())); err != nil {
		return fmt.Errorf("insert resolution event: %w", err)
	}

	return tx.Commit()
}

// GetObservation retrieves an observation by id.
func (s *Store) GetObservation(id string) (domain.Observation, error) {
	row := s.db.QueryRow(`
		SELECT id, memory_type, observation, context, tags, source_session_id, source_batch_id,
			source_machine_id, status, superseded_by, session_origin_type, importance, archived,
			dedup_hash, created_at
		FROM observations WHERE id = ?`, id)
	return scanObservation(row)
}

// ActiveObservationsByType returns active, non-archived observations of a
// given memory type, most recent first, for auto-resolve comparison.
func (s *Store) ActiveObservationsByType(memoryType domain.MemoryType, limit int) ([]domain.Observation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, memory_type, observation, context, tags, source_session_id, source_batch_id,
			source_machine_id, status, superseded_by, session_origin_type, importance, archived,
			dedup_hash, created_at
		FROM observations WHERE memory_type = ? AND status = ? AND archived = 0
		ORDER BY created_at DESC LIMIT ?`, memoryType, domain.ObservationActive, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

// ListObservations is a paginated, status-filtered read for the API.
func (s *Store) ListObservations(includeResolved bool, limit, offset int) ([]domain.Observation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, memory_type, observation, context, tags, source_session_id, source_batch_id,
			source_machine_id, status, superseded_by, session_origin_type, importance, archived,
			dedup_hash, created_at
		FROM observations`
	args := []any{}
	if !includeResolved {
		query += ` WHERE status = ?`
		args = append(args, domain.ObservationActive)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

func scanObservation(row *sql.Row) (domain.Observation, error) {
	var o domain.Observation
	var created string
	var archived int
	err := row.Scan(&o.ID, &o.MemoryType, &o.ObservationText, &o.Context, &o.Tags, &o.SourceSessionID,
		&o.SourceBatchID, &o.SourceMachineID, &o.Status, &o.SupersededBy, &o.SessionOriginType,
		&o.Importance, &archived, &o.DedupHash, &created)
	if err == sql.ErrNoRows {
		return domain.Observation{}, fmt.Errorf("observation %s: %w", o.ID, ciaerr.ErrNotFound)
	}
	if err != nil {
		return domain.Observation{}, err
	}
	o.Archived = archived != 0
	o.CreatedAt = parseTime(created)
	return o, nil
}

func scanObservations(rows *sql.Rows) ([]domain.Observation, error) {
	var out []domain.Observation
	for rows.Next() {
		var o domain.Observation
		var created string
		var archived int
		if err := rows.Scan(&o.ID, &o.MemoryType, &o.ObservationText, &o.Context, &o.Tags, &o.SourceSessionID,
			&o.SourceBatchID, &o.SourceMachineID, &o.Status, &o.SupersededBy, &o.SessionOriginType,
			&o.Importance, &archived, &o.DedupHash, &created); err != nil {
			return nil, err
		}
		o.Archived = archived != 0
		o.CreatedAt = parseTime(created)
		out = append(out, o)
	}
	return out, rows.Err()
}
