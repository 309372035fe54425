package hooks

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/openagentkit/ci/internal/ciaerr"
	"github.com/openagentkit/ci/internal/config"
	"github.com/openagentkit/ci/internal/governance"
)

func (s *Server) settingsPath() string {
	return filepath.Join(s.dataDir, "settings.yaml")
}

type governanceConfigResponse struct {
	Mode  string                   `json:"mode"`
	Rules []config.GovernanceRule `json:"rules"`
}

func (s *Server) handleGetGovernanceConfig(w http.ResponseWriter, r *http.Request) {
	settings := s.currentSettings()
	writeJSON(w, http.StatusOK, governanceConfigResponse{Mode: settings.GovernanceMode, Rules: settings.GovernanceRules})
}

func (s *Server) handleSetGovernanceConfig(w http.ResponseWriter, r *http.Request) {
	var req governanceConfigResponse
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Mode != "observe" && req.Mode != "enforce" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}

	s.settingsMu.Lock()
	s.settings.GovernanceMode = req.Mode
	s.settings.GovernanceRules = req.Rules
	updated := s.settings
	s.settingsMu.Unlock()

	if err := config.SaveSettings(s.settingsPath(), updated); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// Swap the live evaluator's rules so this takes effect on the very
	// next PreToolUse call rather than only after a daemon restart.
	s.governance.SetRules(updated.GovernanceMode, updated.GovernanceRules)
	writeJSON(w, http.StatusOK, governanceConfigResponse{Mode: updated.GovernanceMode, Rules: updated.GovernanceRules})
}

func (s *Server) handleGovernanceAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	offset := 0
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			offset = n
		}
	}

	events, err := s.store.ListGovernanceAuditEvents(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type auditPruneRequest struct {
	RetentionDays int `json:"retention_days"`
}

func (s *Server) handleGovernanceAuditPrune(w http.ResponseWriter, r *http.Request) {
	req := auditPruneRequest{RetentionDays: s.currentSettings().AuditRetentionDays}
	_ = decodeJSON(r, &req)

	removed, err := s.store.PruneGovernanceAudit(req.RetentionDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

type governanceTestRequest struct {
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	FilePath  string         `json:"file_path"`
}

// handleGovernanceTest evaluates a hypothetical tool call against the
// current rule list so an operator can check a rule change before an
// agent ever triggers it. It goes through the real evaluator — including
// its audit write — rather than a separate dry-run code path, so the
// test result always matches what a live PreToolUse call would decide.
func (s *Server) handleGovernanceTest(w http.ResponseWriter, r *http.Request) {
	var req governanceTestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}
	if req.SessionID == "" {
		req.SessionID = "governance-test"
	}

	verdict, err := s.governance.Check(req.SessionID, req.ToolName, req.ToolInput, req.FilePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, governanceVerdictResponse(verdict))
}

func governanceVerdictResponse(v governance.Verdict) map[string]string {
	return map[string]string{
		"decision":  string(v.Decision),
		"rule_name": v.RuleName,
		"message":   v.Message,
	}
}
