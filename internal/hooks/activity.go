package hooks

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/openagentkit/ci/internal/ciaerr"
)

func (s *Server) handleListActivitySessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectRoot := q.Get("project_root")
	if projectRoot == "" {
		projectRoot = s.projectRoot
	}
	limit := 50
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	sessions, err := s.store.ListSessions(projectRoot, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

type sessionDetail struct {
	Session any `json:"session"`
	Batches any `json:"batches"`
}

func (s *Server) handleGetActivitySession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.store.GetSession(id)
	if err != nil {
		writeFetchError(w, err)
		return
	}
	batches, err := s.store.BatchesForSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionDetail{Session: sess, Batches: batches})
}

// handleCompleteActivitySession lets an operator force-end a session that
// the agent's own SessionEnd hook never fired for, rather than waiting
// for the pipeline's stale-session recovery window to elapse.
func (s *Server) handleCompleteActivitySession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}
	if err := s.store.EndSession(id); err != nil {
		writeFetchError(w, err)
		return
	}
	s.sessions.Invalidate(id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "completed"})
}
