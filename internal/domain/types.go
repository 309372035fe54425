// Package domain holds the shared entity types written by the hook
// ingestion API, persisted by the activity store, and read back by the
// memory engine and governance evaluator.
package domain

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// OriginType classifies how a session's work was shaped, computed
// deterministically from its read/edit ratio.
type OriginType string

const (
	OriginPlanning       OriginType = "planning"
	OriginInvestigation  OriginType = "investigation"
	OriginImplementation OriginType = "implementation"
	OriginMixed          OriginType = "mixed"
)

// Session is one agent invocation.
type Session struct {
	ID                 string        `json:"id"`
	Agent              string        `json:"agent"`
	SourceMachineID    string        `json:"source_machine_id"`
	ProjectRoot        string        `json:"project_root"`
	StartedAt          time.Time     `json:"started_at"`
	EndedAt            *time.Time    `json:"ended_at,omitempty"`
	Status             SessionStatus `json:"status"`
	Summary            string        `json:"summary,omitempty"`
	Title              string        `json:"title,omitempty"`
	TitleManuallyEdited bool         `json:"title_manually_edited"`
	ParentSessionID    string        `json:"parent_session_id,omitempty"`
	ParentReason       string        `json:"parent_reason,omitempty"`
	TranscriptPath     string        `json:"transcript_path,omitempty"`
	SummaryEmbedded    bool          `json:"summary_embedded"`
	FirstPromptPreview string        `json:"first_prompt_preview,omitempty"`
}

// IsActive reports whether the session is still accepting activity.
func (s Session) IsActive() bool {
	return s.Status == SessionActive
}

// HasParent reports whether the session was spawned from another.
func (s Session) HasParent() bool {
	return s.ParentSessionID != ""
}

// BatchSourceType classifies what opened a PromptBatch.
type BatchSourceType string

const (
	SourceUser             BatchSourceType = "user"
	SourceAgentNotification BatchSourceType = "agent_notification"
	SourcePlan             BatchSourceType = "plan"
	SourceSystem            BatchSourceType = "system"
)

// BatchStatus is the lifecycle state of a PromptBatch.
type BatchStatus string

const (
	BatchActive    BatchStatus = "active"
	BatchCompleted BatchStatus = "completed"
)

// PromptBatch is one user prompt and everything the agent does in response,
// up to the following Stop.
type PromptBatch struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	PromptNumber    int             `json:"prompt_number"`
	UserPrompt      string          `json:"user_prompt,omitempty"`
	SourceType      BatchSourceType `json:"source_type"`
	Classification  string          `json:"classification,omitempty"`
	PlanFilePath    string          `json:"plan_file_path,omitempty"`
	PlanContent     string          `json:"plan_content,omitempty"`
	ResponseSummary string          `json:"response_summary,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	Status          BatchStatus     `json:"status"`
	Processed       bool            `json:"processed"`
	ErrorAnnotation string          `json:"error_annotation,omitempty"`
}

// IsPlanBatch reports whether this batch captures a plan write.
func (b PromptBatch) IsPlanBatch() bool {
	return b.SourceType == SourcePlan
}

// Activity is one tool execution captured from the agent.
type Activity struct {
	ID               string         `json:"id"`
	SessionID        string         `json:"session_id"`
	PromptBatchID    string         `json:"prompt_batch_id,omitempty"`
	ToolUseID        string         `json:"tool_use_id,omitempty"`
	ToolName         string         `json:"tool_name"`
	ToolInput        map[string]any `json:"tool_input,omitempty"`
	ToolOutputSummary string        `json:"tool_output_summary,omitempty"`
	FilePath         string         `json:"file_path,omitempty"`
	Success          bool           `json:"success"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// IsOrphan reports whether the activity has not yet been associated with
// a prompt batch.
func (a Activity) IsOrphan() bool {
	return a.PromptBatchID == ""
}

// MemoryType is the observation taxonomy.
type MemoryType string

const (
	MemoryGotcha         MemoryType = "gotcha"
	MemoryDecision       MemoryType = "decision"
	MemoryBugFix         MemoryType = "bug_fix"
	MemoryDiscovery      MemoryType = "discovery"
	MemoryTradeOff       MemoryType = "trade_off"
	MemorySessionSummary MemoryType = "session_summary"
)

// ObservationStatus is the lifecycle state of an Observation.
type ObservationStatus string

const (
	ObservationActive     ObservationStatus = "active"
	ObservationResolved    ObservationStatus = "resolved"
	ObservationSuperseded ObservationStatus = "superseded"
)

// Observation is a durable extracted memory row.
type Observation struct {
	ID               string            `json:"id"`
	MemoryType       MemoryType        `json:"memory_type"`
	ObservationText  string            `json:"observation"`
	Context          string            `json:"context,omitempty"`
	Tags             string            `json:"tags,omitempty"`
	SourceSessionID  string            `json:"source_session_id,omitempty"`
	SourceBatchID    string            `json:"source_batch_id,omitempty"`
	SourceMachineID  string            `json:"source_machine_id"`
	Status           ObservationStatus `json:"status"`
	SupersededBy     string            `json:"superseded_by,omitempty"`
	SessionOriginType OriginType       `json:"session_origin_type"`
	Importance       int               `json:"importance"`
	Archived         bool              `json:"archived"`
	DedupHash        string            `json:"dedup_hash"`
	CreatedAt        time.Time         `json:"created_at"`
}

// TagList returns the tags as a slice of strings, muxd-style.
func (o Observation) TagList() []string {
	if o.Tags == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(o.Tags, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// HasTag reports whether the observation carries the given tag
// (case-insensitive).
func (o Observation) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range o.TagList() {
		if strings.ToLower(t) == tag {
			return true
		}
	}
	return false
}

// IsActive reports whether the observation is still eligible for
// injection and auto-resolve comparison.
func (o Observation) IsActive() bool {
	return o.Status == ObservationActive
}

// MaxImportance caps importance for origin types that tend to produce
// noisy, low-value observations.
func (o OriginType) MaxImportance() int {
	switch o {
	case OriginPlanning, OriginInvestigation:
		return 5
	default:
		return 10
	}
}

// ResolutionAction is the kind of status transition recorded by a
// ResolutionEvent.
type ResolutionAction string

const (
	ActionResolve    ResolutionAction = "resolve"
	ActionSupersede  ResolutionAction = "supersede"
	ActionReactivate ResolutionAction = "reactivate"
)

// ResolutionEvent is an append-only audit row of an Observation status
// change.
type ResolutionEvent struct {
	ID            string           `json:"id"`
	ObservationID string           `json:"observation_id"`
	Action        ResolutionAction `json:"action"`
	Reason        string           `json:"reason,omitempty"`
	Actor         string           `json:"actor"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Plan is a captured implementation plan, typically written to a plan
// file under a configured plan directory.
type Plan struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Title       string    `json:"title"`
	FilePath    string    `json:"file_path,omitempty"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	Embedded    bool      `json:"embedded"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GovernanceDecision is the evaluator's verdict for a PreToolUse check.
type GovernanceDecision string

const (
	DecisionAllow   GovernanceDecision = "allow"
	DecisionObserve GovernanceDecision = "observe"
	DecisionWarn    GovernanceDecision = "warn"
	DecisionDeny    GovernanceDecision = "deny"
)

// GovernanceAuditEvent is an append-only record of a governance
// evaluation, excluded from backup export.
type GovernanceAuditEvent struct {
	ID         string             `json:"id"`
	SessionID  string             `json:"session_id,omitempty"`
	ToolName   string             `json:"tool_name"`
	RuleName   string             `json:"rule_name,omitempty"`
	Decision   GovernanceDecision `json:"decision"`
	Mode       string             `json:"mode"`
	Message    string             `json:"message,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// DocType classifies a code chunk for ranking purposes.
type DocType string

const (
	DocCode      DocType = "code"
	DocTests     DocType = "tests"
	DocDocs      DocType = "docs"
	DocConfig    DocType = "config"
	DocGenerated DocType = "generated"
)

// CodeChunk is a parsed, embeddable unit of source, owned by the vector
// index rather than the activity store.
type CodeChunk struct {
	ID          string    `json:"id"`
	FilePath    string    `json:"file_path"`
	StartLine   int       `json:"start_line"`
	EndLine     int       `json:"end_line"`
	ChunkType   string    `json:"chunk_type"`
	Name        string    `json:"name,omitempty"`
	ContentHash string    `json:"content_hash"`
	DocType     DocType   `json:"doc_type"`
	Language    string    `json:"language"`
	Content     string    `json:"-"`
}
