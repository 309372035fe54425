package hooks

import (
	"net/http"
	"strconv"

	"github.com/openagentkit/ci/internal/ciaerr"
	"github.com/openagentkit/ci/internal/domain"
	"github.com/openagentkit/ci/internal/memory"
	"github.com/openagentkit/ci/internal/vectorindex"
)

type searchRequest struct {
	Query           string            `json:"query"`
	Type            string            `json:"type"`
	K               int               `json:"k"`
	IncludeResolved bool              `json:"include_resolved"`
	Where           map[string]string `json:"where"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req := searchRequest{Type: "all"}
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Query = q.Get("q")
		if t := q.Get("type"); t != "" {
			req.Type = t
		}
		if k := q.Get("k"); k != "" {
			req.K, _ = strconv.Atoi(k)
		}
		req.IncludeResolved = q.Get("include_resolved") == "true"
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}

	results, err := s.memory.Search(r.Context(), req.Query, memory.SearchType(req.Type), req.K, req.IncludeResolved, req.Where)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type fetchRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}

	switch vectorindex.Kind(req.Kind) {
	case vectorindex.KindObservation:
		obs, err := s.store.GetObservation(req.ID)
		if err != nil {
			writeFetchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, obs)
	case vectorindex.KindPlan:
		plan, err := s.store.GetPlan(req.ID)
		if err != nil {
			writeFetchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	case vectorindex.KindSessionSummary:
		sess, err := s.store.GetSession(req.ID)
		if err != nil {
			writeFetchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	default:
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
	}
}

func writeFetchError(w http.ResponseWriter, err error) {
	if ciaerr.Is(err, ciaerr.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

type rememberRequest struct {
	SessionID  string `json:"session_id"`
	MemoryType string `json:"memory_type"`
	Text       string `json:"observation"`
	Context    string `json:"context"`
	Tags       string `json:"tags"`
	Importance int    `json:"importance"`
}

// handleRemember lets a caller (CLI, editor command) save an observation
// directly, bypassing the extraction pipeline's own trigger — used when
// a human explicitly wants something remembered rather than waiting for
// the next batch to be summarized.
func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Text == "" || req.MemoryType == "" {
		writeError(w, http.StatusBadRequest, ciaerr.ErrValidation)
		return
	}

	id, err := s.store.InsertObservation(domain.Observation{
		MemoryType:        domain.MemoryType(req.MemoryType),
		ObservationText:   req.Text,
		Context:           req.Context,
		Tags:              req.Tags,
		SourceSessionID:   req.SessionID,
		SessionOriginType: domain.OriginMixed,
		Importance:        req.Importance,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.vindex.Upsert(r.Context(), vectorindex.KindObservation, id, req.Text, nil, map[string]string{
		"memory_type": req.MemoryType,
		"context":     req.Context,
	}); err != nil {
		s.logger.Warn().Err(err).Str("observation_id", id).Msg("remember: embed failed, row persisted without embedding")
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

type contextRequest struct {
	TaskText  string   `json:"task_text"`
	FilePaths []string `json:"file_paths"`
}

// handleContext exposes the same injection-builder hook events use, for
// callers (e.g. an editor command) that want fresh context without going
// through a full hook lifecycle event.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payload, err := s.memory.ContextForTask(r.Context(), req.TaskText, req.FilePaths)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
