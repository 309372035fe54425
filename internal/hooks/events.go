package hooks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openagentkit/ci/internal/ciaerr"
	"github.com/openagentkit/ci/internal/domain"
)

// hookResponse is the shared response shape for every hook event:
// optional injected context text and an optional governance decision
// that may override the caller's default handling of the tool call.
type hookResponse struct {
	InjectedContext *string `json:"injected_context"`
	Decision        string  `json:"decision,omitempty"`
	Message         string  `json:"message,omitempty"`
}

func injected(text string) *string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return &text
}

func promptHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return ciaerr.ErrValidation
	}
	return nil
}

// --- SessionStart ---------------------------------------------------------

type sessionStartRequest struct {
	SessionID       string `json:"session_id"`
	Agent           string `json:"agent"`
	Source          string `json:"source"`
	ProjectRoot     string `json:"project_root"`
	TranscriptPath  string `json:"transcript_path"`
	ParentSessionID string `json:"parent_session_id"`
	ParentReason    string `json:"parent_reason"`
	TaskText        string `json:"task_text"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SessionID == "" || req.Agent == "" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}

	now := time.Now()
	if s.dedup.Seen("session_start", req.Agent+"|"+req.Source, now) {
		writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
		return
	}

	sess, err := s.store.UpsertSession(domain.Session{
		ID:              req.SessionID,
		Agent:           req.Agent,
		ProjectRoot:     req.ProjectRoot,
		TranscriptPath:  req.TranscriptPath,
		ParentSessionID: req.ParentSessionID,
		ParentReason:    req.ParentReason,
		Status:          domain.SessionActive,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if req.ParentSessionID != "" {
		if err := s.store.LinkParentSession(sess.ID, req.ParentSessionID, req.ParentReason); err != nil && !ciaerr.Is(err, ciaerr.ErrValidation) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	s.sessions.Set(sess.ID, sessionHot{LastActivity: now})

	payload, err := s.memory.ContextForTask(r.Context(), req.TaskText, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("session_start: injection build failed, failing open")
		writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
		return
	}
	writeJSON(w, http.StatusOK, hookResponse{InjectedContext: injected(payload.Text)})
}

// --- UserPromptSubmit ------------------------------------------------------

type userPromptSubmitRequest struct {
	SessionID    string `json:"session_id"`
	Prompt       string `json:"prompt"`
	GenerationID string `json:"generation_id"`
}

func (s *Server) handleUserPromptSubmit(w http.ResponseWriter, r *http.Request) {
	var req userPromptSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}

	now := time.Now()
	if s.dedup.Seen("user_prompt_submit", req.GenerationID+"|"+promptHash(req.Prompt), now) {
		writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
		return
	}

	batch, err := s.store.BeginBatch(req.SessionID, req.Prompt, domain.SourceUser)
	if err != nil && ciaerr.Is(err, ciaerr.ErrConflict) {
		// A second UserPromptSubmit arrived without an intervening Stop:
		// auto-complete the interrupted batch with a fallback summary,
		// same as spec'd for the Interrupt scenario, then open the new one.
		if active, ok, activeErr := s.store.ActiveBatchForSession(req.SessionID); activeErr == nil && ok {
			if completeErr := s.store.CompleteBatch(active.ID, "(interrupted by next prompt)"); completeErr != nil {
				writeError(w, http.StatusInternalServerError, completeErr)
				return
			}
		}
		batch, err = s.store.BeginBatch(req.SessionID, req.Prompt, domain.SourceUser)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.sessions.Set(req.SessionID, sessionHot{LastActivity: now, ActiveBatchID: batch.ID})

	payload, err := s.memory.ContextForTask(r.Context(), req.Prompt, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("user_prompt_submit: injection build failed, failing open")
		writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
		return
	}
	writeJSON(w, http.StatusOK, hookResponse{InjectedContext: injected(payload.Text)})
}

// --- PreToolUse (governance gate) ------------------------------------------

// preToolUseRequest is not part of the spec's dedup table — it is the
// synchronous governance gate the governance evaluator's own contract
// names ("called synchronously on PreToolUse"). It never dedups: a gate
// must evaluate every call, not just the first of a retried pair.
type preToolUseRequest struct {
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	FilePath  string         `json:"file_path"`
}

func (s *Server) handlePreToolUse(w http.ResponseWriter, r *http.Request) {
	var req preToolUseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}

	verdict, err := s.governance.Check(req.SessionID, req.ToolName, req.ToolInput, req.FilePath)
	if err != nil {
		// Governance is a dependency of the gate, not of the tool call
		// itself: fail open to allow rather than block all tool use.
		s.logger.Warn().Err(err).Msg("pre_tool_use: governance check failed, failing open")
		writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil, Decision: string(domain.DecisionAllow)})
		return
	}
	writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil, Decision: string(verdict.Decision), Message: verdict.Message})
}

// --- PostToolUse / PostToolUseFailure ---------------------------------------

type postToolUseRequest struct {
	SessionID         string         `json:"session_id"`
	ToolUseID         string         `json:"tool_use_id"`
	ToolName          string         `json:"tool_name"`
	ToolInput         map[string]any `json:"tool_input"`
	ToolOutputSummary string         `json:"tool_output_summary"`
	FilePath          string         `json:"file_path"`
	ErrorMessage      string         `json:"error_message"`
}

func (s *Server) handlePostToolUse(w http.ResponseWriter, r *http.Request) {
	s.recordToolUse(w, r, true)
}

func (s *Server) handlePostToolUseFailure(w http.ResponseWriter, r *http.Request) {
	s.recordToolUse(w, r, false)
}

func (s *Server) recordToolUse(w http.ResponseWriter, r *http.Request, success bool) {
	var req postToolUseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SessionID == "" || req.ToolName == "" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}

	now := time.Now()
	if s.dedup.Seen("post_tool_use", req.ToolUseID, now) {
		writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
		return
	}

	activity := domain.Activity{
		SessionID:         req.SessionID,
		ToolUseID:         req.ToolUseID,
		ToolName:          req.ToolName,
		ToolInput:         req.ToolInput,
		ToolOutputSummary: req.ToolOutputSummary,
		FilePath:          req.FilePath,
		Success:           success,
		ErrorMessage:      req.ErrorMessage,
		CreatedAt:         now,
	}
	if hot, ok := s.sessions.Get(req.SessionID); ok {
		activity.PromptBatchID = hot.ActiveBatchID
	}

	if _, err := s.store.AppendActivity(activity); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.capturePlan(req)

	var filePaths []string
	if req.FilePath != "" {
		filePaths = []string{req.FilePath}
	}
	payload, err := s.memory.ContextForTask(r.Context(), req.ToolOutputSummary, filePaths)
	if err != nil {
		s.logger.Warn().Err(err).Msg("post_tool_use: injection build failed, failing open")
		writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
		return
	}
	writeJSON(w, http.StatusOK, hookResponse{InjectedContext: injected(payload.Text)})
}

// capturePlan implements the PostToolUse-embedded plan-capture rule: a
// Write under a configured plan directory marks the active batch as a
// plan batch and persists the content; ExitPlanMode re-reads the file to
// capture whatever the agent settled on as the final version.
func (s *Server) capturePlan(req postToolUseRequest) {
	settings := s.currentSettings()

	switch req.ToolName {
	case "Write":
		path, _ := req.ToolInput["file_path"].(string)
		content, _ := req.ToolInput["content"].(string)
		if path == "" || !underPlanDirectory(path, settings.PlanDirectories) {
			return
		}
		s.persistPlan(req.SessionID, path, content)

	case "ExitPlanMode":
		hot, ok := s.sessions.Get(req.SessionID)
		if !ok || hot.ActiveBatchID == "" {
			return
		}
		batch, err := s.store.GetBatch(hot.ActiveBatchID)
		if err != nil || batch.PlanFilePath == "" {
			return
		}
		content, err := os.ReadFile(batch.PlanFilePath)
		if err != nil {
			return
		}
		s.persistPlan(req.SessionID, batch.PlanFilePath, string(content))
	}
}

func (s *Server) persistPlan(sessionID, path, content string) {
	hot, ok := s.sessions.Get(sessionID)
	if !ok || hot.ActiveBatchID == "" {
		return
	}
	if err := s.store.MarkBatchPlan(hot.ActiveBatchID, path, content); err != nil {
		s.logger.Warn().Err(err).Str("batch_id", hot.ActiveBatchID).Msg("mark batch as plan failed")
		return
	}
	title := filepath.Base(path)
	if _, err := s.store.UpsertPlan(domain.Plan{
		SessionID: sessionID,
		Title:     title,
		FilePath:  path,
		Content:   content,
	}); err != nil {
		s.logger.Warn().Err(err).Str("file_path", path).Msg("upsert plan failed")
	}
}

func underPlanDirectory(path string, planDirs []string) bool {
	for _, dir := range planDirs {
		pattern := strings.TrimSuffix(dir, "/") + "/**"
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
		if strings.HasPrefix(path, strings.TrimSuffix(dir, "/")+"/") {
			return true
		}
	}
	return false
}

// --- Stop / SessionEnd ------------------------------------------------------

type stopRequest struct {
	BatchID         string `json:"batch_id"`
	ResponseSummary string `json:"response_summary"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.BatchID == "" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}

	if s.dedup.Seen("stop", req.BatchID, time.Now()) {
		writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
		return
	}

	if err := s.store.CompleteBatch(req.BatchID, req.ResponseSummary); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// Observation extraction runs on the next pipeline tick over
	// unprocessed completed batches; nothing further to do here.
	writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
}

type sessionEndRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	var req sessionEndRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}

	if s.dedup.Seen("session_end", req.SessionID, time.Now()) {
		writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
		return
	}

	if err := s.store.EndSession(req.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.sessions.Invalidate(req.SessionID)
	// Session summary/title generation runs on the next pipeline tick.
	writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
}

// --- Subagent lifecycle / PreCompact: tracking only, no dedup key ----------

type subagentRequest struct {
	SessionID  string `json:"session_id"`
	SubagentID string `json:"subagent_id"`
}

func (s *Server) handleSubagentStart(w http.ResponseWriter, r *http.Request) {
	var req subagentRequest
	_ = decodeJSON(r, &req)
	s.logger.Info().Str("session_id", req.SessionID).Str("subagent_id", req.SubagentID).Msg("subagent start")
	writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
}

func (s *Server) handleSubagentStop(w http.ResponseWriter, r *http.Request) {
	var req subagentRequest
	_ = decodeJSON(r, &req)
	s.logger.Info().Str("session_id", req.SessionID).Str("subagent_id", req.SubagentID).Msg("subagent stop")
	writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
}

type preCompactRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (s *Server) handlePreCompact(w http.ResponseWriter, r *http.Request) {
	var req preCompactRequest
	_ = decodeJSON(r, &req)
	s.logger.Info().Str("session_id", req.SessionID).Str("reason", req.Reason).Msg("pre-compact")
	writeJSON(w, http.StatusOK, hookResponse{InjectedContext: nil})
}
