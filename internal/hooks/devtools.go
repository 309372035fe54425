package hooks

import (
	"net/http"

	"github.com/openagentkit/ci/internal/vectorindex"
)

// handleRebuildIndex re-walks the project tree with the same FullScan pass
// the indexer's own startup scan runs, triggered on demand after an
// operator edits exclude patterns. New and changed files are re-chunked
// and re-embedded and deleted files' chunks are removed; files whose
// content hash is unchanged are skipped, not re-embedded.
func (s *Server) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	stats, err := s.indexer.FullScan(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleResetProcessing(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ResetProcessing()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"batches_reset": n})
}

// handleRebuildMemories re-embeds the observation, plan, and session
// summary collections from the relational store, leaving the code
// collection untouched since the store holds no source text to rebuild
// it from.
func (s *Server) handleRebuildMemories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts := map[string]int{}

	obsDocs, err := s.store.ObservationDocs(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.vindex.RebuildKind(ctx, vectorindex.KindObservation, obsDocs); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	counts["observations"] = len(obsDocs)

	planDocs, err := s.store.PlanDocs(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.vindex.RebuildKind(ctx, vectorindex.KindPlan, planDocs); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	counts["plans"] = len(planDocs)

	summaryDocs, err := s.store.SessionSummaryDocs(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.vindex.RebuildKind(ctx, vectorindex.KindSessionSummary, summaryDocs); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	counts["session_summaries"] = len(summaryDocs)

	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleCompactChromaDB(w http.ResponseWriter, r *http.Request) {
	if err := s.vindex.Compact(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "compacted"})
}
