package store

import (
	"context"

	"github.com/openagentkit/ci/internal/vectorindex"
)

// ObservationDocs returns every observation, including resolved and
// superseded ones, as vector index rebuild documents. Used only by the
// devtools rebuild-memories endpoint, the one path that intentionally
// re-embeds resolved rows; the extraction pipeline never does.
func (s *Store) ObservationDocs(ctx context.Context) ([]vectorindex.RebuildDoc, error) {
	obs, err := s.ListObservations(true, 1<<30, 0)
	if err != nil {
		return nil, err
	}
	docs := make([]vectorindex.RebuildDoc, 0, len(obs))
	for _, o := range obs {
		docs = append(docs, vectorindex.RebuildDoc{
			ID:      o.ID,
			Content: o.ObservationText,
			Metadata: map[string]string{
				"memory_type": string(o.MemoryType),
				"context":     o.Context,
				"status":      string(o.Status),
			},
		})
	}
	return docs, nil
}

// PlanDocs returns every stored plan as vector index rebuild documents.
func (s *Store) PlanDocs(ctx context.Context) ([]vectorindex.RebuildDoc, error) {
	plans, err := s.allPlans()
	if err != nil {
		return nil, err
	}
	docs := make([]vectorindex.RebuildDoc, 0, len(plans))
	for _, p := range plans {
		docs = append(docs, vectorindex.RebuildDoc{
			ID:      p.ID,
			Content: p.Content,
			Metadata: map[string]string{
				"file_path": p.FilePath,
				"title":     p.Title,
			},
		})
	}
	return docs, nil
}

// SessionSummaryDocs returns every session with a non-empty summary as
// vector index rebuild documents.
func (s *Store) SessionSummaryDocs(ctx context.Context) ([]vectorindex.RebuildDoc, error) {
	sessions, err := s.allSessions()
	if err != nil {
		return nil, err
	}
	docs := make([]vectorindex.RebuildDoc, 0, len(sessions))
	for _, sess := range sessions {
		if sess.Summary == "" {
			continue
		}
		docs = append(docs, vectorindex.RebuildDoc{
			ID:      sess.ID,
			Content: sess.Summary,
			Metadata: map[string]string{
				"title": sess.Title,
			},
		})
	}
	return docs, nil
}
