package store

import (
	"fmt"

	"github.com/openagentkit/ci/internal/domain"
)

// Backup is the exported bundle: every row keyed by table, restricted to
// the tables the spec names (sessions, prompt_batches, observations,
// resolution_events, plans, governance_audit_events, activities).
// Governance audit events and activities are opt-in via
// include_audit/include_activities.
type Backup struct {
	Sessions         []domain.Session              `json:"sessions"`
	PromptBatches    []domain.PromptBatch           `json:"prompt_batches"`
	Observations     []domain.Observation           `json:"observations"`
	ResolutionEvents []domain.ResolutionEvent        `json:"resolution_events"`
	Plans            []domain.Plan                  `json:"plans"`
	AuditEvents      []domain.GovernanceAuditEvent  `json:"governance_audit_events,omitempty"`
	Activities       []domain.Activity              `json:"activities,omitempty"`
}

// BackupCounts reports how many rows of each table were imported vs.
// skipped as already-present by dedup hash.
type BackupCounts struct {
	SessionsImported         int
	PromptBatchesImported    int
	ObservationsImported     int
	ObservationsSkipped      int
	ResolutionEventsImported int
	PlansImported            int
	AuditEventsImported      int
	ActivitiesImported       int
	ActivitiesSkipped        int
}

// Export produces a Backup bundle from the current store contents.
// include_audit and include_activities gate the two optional tables.
func (s *Store) Export(includeActivities, includeAudit bool) (Backup, error) {
	var b Backup
	var err error

	if b.Sessions, err = s.allSessions(); err != nil {
		return Backup{}, fmt.Errorf("export sessions: %w", err)
	}
	if b.PromptBatches, err = s.allBatches(); err != nil {
		return Backup{}, fmt.Errorf("export batches: %w", err)
	}
	if b.Observations, err = s.ListObservations(true, 1<<30, 0); err != nil {
		return Backup{}, fmt.Errorf("export observations: %w", err)
	}
	if b.ResolutionEvents, err = s.allResolutionEvents(); err != nil {
		return Backup{}, fmt.Errorf("export resolution events: %w", err)
	}
	if b.Plans, err = s.allPlans(); err != nil {
		return Backup{}, fmt.Errorf("export plans: %w", err)
	}
	if includeActivities {
		if b.Activities, err = s.allActivities(); err != nil {
			return Backup{}, fmt.Errorf("export activities: %w", err)
		}
	}
	if includeAudit {
		if b.AuditEvents, err = s.ListGovernanceAuditEvents(1<<30, 0); err != nil {
			return Backup{}, fmt.Errorf("export audit events: %w", err)
		}
	}
	return b, nil
}

// Import applies a Backup bundle, inserting rows only when their dedup
// hash (or, for tables without one, primary key) is not already present.
// Importing the same backup twice is a no-op the second time.
func (s *Store) Import(b Backup) (BackupCounts, error) {
	var counts BackupCounts

	for _, sess := range b.Sessions {
		if _, err := s.GetSession(sess.ID); err == nil {
			continue // already present
		}
		if _, err := s.UpsertSession(sess); err != nil {
			return counts, fmt.Errorf("import session %s: %w", sess.ID, err)
		}
		counts.SessionsImported++
	}

	for _, batch := range b.PromptBatches {
		if _, err := s.GetBatch(batch.ID); err == nil {
			continue
		}
		if err := s.insertBatchRow(batch); err != nil {
			return counts, fmt.Errorf("import batch %s: %w", batch.ID, err)
		}
		counts.PromptBatchesImported++
	}

	for _, obs := range b.Observations {
		if _, err := s.GetObservation(obs.ID); err == nil {
			counts.ObservationsSkipped++
			continue
		}
		id, err := s.InsertObservation(obs)
		if err != nil {
			return counts, fmt.Errorf("import observation: %w", err)
		}
		if id == obs.ID {
			counts.ObservationsImported++
		} else {
			counts.ObservationsSkipped++
		}
	}

	for _, re := range b.ResolutionEvents {
		if err := s.insertResolutionEventRow(re); err != nil {
			continue // dedup via PK conflict is expected on replay
		}
		counts.ResolutionEventsImported++
	}

	for _, p := range b.Plans {
		if _, err := s.GetPlan(p.ID); err == nil {
			continue
		}
		if err := s.insertPlanRow(p); err != nil {
			return counts, fmt.Errorf("import plan %s: %w", p.ID, err)
		}
		counts.PlansImported++
	}

	for _, a := range b.Activities {
		if s.db.QueryRow(`SELECT 1 FROM activities WHERE id = ?`, a.ID).Scan(new(int)) == nil {
			counts.ActivitiesSkipped++
			continue
		}
		id, err := s.AppendActivity(a)
		if err != nil {
			return counts, fmt.Errorf("import activity: %w", err)
		}
		if id == a.ID {
			counts.ActivitiesImported++
		} else {
			counts.ActivitiesSkipped++
		}
	}

	for _, e := range b.AuditEvents {
		if _, err := s.InsertGovernanceAuditEvent(e); err != nil {
			continue
		}
		counts.AuditEventsImported++
	}

	return counts, nil
}

func (s *Store) allSessions() ([]domain.Session, error) {
	rows, err := s.db.Query(`
		SELECT id, agent, source_machine_id, project_root, started_at, ended_at, status, summary,
			title, title_manually_edited, parent_session_id, parent_reason, transcript_path,
			summary_embedded, first_prompt_preview
		FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) allBatches() ([]domain.PromptBatch, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, prompt_number, user_prompt, source_type, classification, plan_file_path,
			plan_content, response_summary, started_at, ended_at, status, processed, error_annotation
		FROM prompt_batches`)
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

func (s *Store) insertBatchRow(b domain.PromptBatch) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO prompt_batches (id, session_id, prompt_number, user_prompt, source_type,
			classification, plan_file_path, plan_content, response_summary, started_at, ended_at, status,
			processed, error_annotation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.SessionID, b.PromptNumber, b.UserPrompt, b.SourceType, b.Classification, b.PlanFilePath,
		b.PlanContent, b.ResponseSummary, formatTime(b.StartedAt), nullableTime(b.EndedAt), b.Status,
		boolInt(b.Processed), b.ErrorAnnotation)
	return err
}

func (s *Store) allResolutionEvents() ([]domain.ResolutionEvent, error) {
	rows, err := s.db.Query(`SELECT id, observation_id, action, reason, actor, created_at FROM resolution_events`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ResolutionEvent
	for rows.Next() {
		var e domain.ResolutionEvent
		var created string
		if err := rows.Scan(&e.ID, &e.ObservationID, &e.Action, &e.Reason, &e.Actor, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) insertResolutionEventRow(e domain.ResolutionEvent) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO resolution_events (id, observation_id, action, reason, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ObservationID, e.Action, e.Reason, e.Actor, formatTime(e.CreatedAt))
	return err
}

func (s *Store) allPlans() ([]domain.Plan, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, title, file_path, content, content_hash, embedded, created_at, updated_at
		FROM plans`)
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

func (s *Store) insertPlanRow(p domain.Plan) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO plans (id, session_id, title, file_path, content, content_hash, embedded, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.Title, p.FilePath, p.Content, p.ContentHash, boolInt(p.Embedded),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	return err
}

func (s *Store) allActivities() ([]domain.Activity, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, COALESCE(prompt_batch_id,''), tool_use_id, tool_name, tool_input_json,
			tool_output_summary, file_path, success, error_message, created_at
		FROM activities`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}
