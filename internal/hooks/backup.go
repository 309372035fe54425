package hooks

import (
	"net/http"

	"github.com/openagentkit/ci/internal/backup"
)

type backupCreateRequest struct {
	IncludeActivities bool `json:"include_activities"`
	IncludeAudit      bool `json:"include_audit"`
}

func (s *Server) handleBackupCreate(w http.ResponseWriter, r *http.Request) {
	req := backupCreateRequest{IncludeActivities: true}
	_ = decodeJSON(r, &req) // empty body is fine, defaults above apply

	path, err := s.backup.Run(s.projectRoot, req.IncludeActivities, req.IncludeAudit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

type backupRestoreRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleBackupRestore(w http.ResponseWriter, r *http.Request) {
	var req backupRestoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		req.Name = backup.FileName(s.projectRoot)
	}

	counts, err := s.backup.Restore(req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleBackupRestoreAll(w http.ResponseWriter, r *http.Request) {
	counts, err := s.backup.RestoreAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleBackupStatus(w http.ResponseWriter, r *http.Request) {
	names, err := s.backup.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	settings := s.currentSettings()
	resp := map[string]any{
		"backups":             names,
		"auto_backup_enabled": settings.AutoBackupEnabled,
		"interval_hours":      settings.AutoBackupIntervalHours,
	}
	if len(names) == 0 {
		resp["latest"] = nil
	} else {
		resp["latest"] = names[0]
	}
	writeJSON(w, http.StatusOK, resp)
}
