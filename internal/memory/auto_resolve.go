package memory

import (
	"context"
	"fmt"

	"github.com/openagentkit/ci/internal/domain"
	"github.com/openagentkit/ci/internal/vectorindex"
)

const (
	// sameContextThreshold applies when the candidate references the same
	// file/context as the new observation — a lower bar because the
	// shared context already makes supersession plausible.
	sameContextThreshold = 0.85
	// noSharedContextThreshold applies otherwise, requiring a much
	// stronger semantic match before treating two observations as the
	// same evolving fact.
	noSharedContextThreshold = 0.92

	autoResolveCandidateLimit = 10
)

// ResolveCandidate is one existing active observation that a new
// observation might supersede, together with the similarity score that
// qualified it.
type ResolveCandidate struct {
	Observation domain.Observation
	Score       float32
}

// AutoResolveCandidates finds active, same-type observations that newObs
// likely supersedes: it embeds newObs's text, searches the observation
// collection, and keeps hits at or above the context-aware threshold.
// Context is "shared" when both observations' Context fields are equal
// and non-empty.
func (e *Engine) AutoResolveCandidates(ctx context.Context, newObs domain.Observation) ([]ResolveCandidate, error) {
	embedding, err := e.embed(ctx, newObs.ObservationText)
	if err != nil {
		return nil, fmt.Errorf("embed observation: %w", err)
	}

	matches, err := e.index.Search(ctx, embedding, []vectorindex.Kind{vectorindex.KindObservation}, autoResolveCandidateLimit, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	var out []ResolveCandidate
	for _, m := range matches {
		if m.ID == newObs.ID {
			continue
		}
		existing, err := e.store.GetObservation(m.ID)
		if err != nil {
			continue
		}
		if !existing.IsActive() || existing.MemoryType != newObs.MemoryType {
			continue
		}

		threshold := noSharedContextThreshold
		if newObs.Context != "" && existing.Context == newObs.Context {
			threshold = sameContextThreshold
		}
		if m.Score >= float32(threshold) {
			out = append(out, ResolveCandidate{Observation: existing, Score: m.Score})
		}
	}
	return out, nil
}
