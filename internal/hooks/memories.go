package hooks

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/openagentkit/ci/internal/ciaerr"
	"github.com/openagentkit/ci/internal/domain"
)

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeResolved := q.Get("include_resolved") == "true"
	limit := 50
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

	obs, err := s.store.ListObservations(includeResolved, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

type setMemoryStatusRequest struct {
	Status       string `json:"status"`
	Reason       string `json:"reason"`
	Actor        string `json:"actor"`
	SupersededBy string `json:"superseded_by"`
	Action       string `json:"action"`
}

func (s *Server) handleSetMemoryStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req setMemoryStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if id == "" || req.Status == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	err := s.store.SetObservationStatus(id, domain.ObservationStatus(req.Status), req.Reason, req.Actor,
		req.SupersededBy, domain.ResolutionAction(req.Action))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
	case ciaerr.Is(err, ciaerr.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case ciaerr.Is(err, ciaerr.ErrConflict):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
