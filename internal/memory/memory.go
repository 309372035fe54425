// Package memory implements the Memory Engine: unified ranked search
// across code chunks, observations, plans, and session summaries, with
// confidence tiers, doc-type ranking weights, and auto-resolve
// supersession candidates. It sits between the vector index (raw
// similarity) and the hook ingestion API / search UI (ranked, capped,
// status-filtered results).
package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/openagentkit/ci/internal/config"
	"github.com/openagentkit/ci/internal/domain"
	"github.com/openagentkit/ci/internal/vectorindex"
)

// Confidence buckets a raw cosine similarity score for display and
// filtering; anything below low is dropped entirely.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

const (
	highThreshold   = 0.75
	mediumThreshold = 0.60
	lowThreshold    = 0.45
)

// confidenceFor classifies a raw score, returning ("", false) when the
// score falls below the lowest tier and should be dropped.
func confidenceFor(score float32) (Confidence, bool) {
	switch {
	case score >= highThreshold:
		return ConfidenceHigh, true
	case score >= mediumThreshold:
		return ConfidenceMedium, true
	case score >= lowThreshold:
		return ConfidenceLow, true
	default:
		return "", false
	}
}

// docTypeWeight applies a small multiplicative boost or penalty to code
// results so production code outranks tests/generated files of similar
// raw similarity. Only applied when settings enable it, and only to
// code-kind results — memory ranking is untouched.
func docTypeWeight(docType string) float32 {
	switch domain.DocType(docType) {
	case domain.DocTests, domain.DocGenerated:
		return 0.92
	case domain.DocCode:
		return 1.05
	default:
		return 1.0
	}
}

// Result is one ranked, confidence-tiered search hit, enriched from the
// Activity Store so callers receive more than a bare id.
type Result struct {
	Kind       vectorindex.Kind  `json:"kind"`
	ID         string            `json:"id"`
	Relevance  float32           `json:"relevance"`
	Confidence Confidence        `json:"confidence"`
	Content    string            `json:"content,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	Observation *domain.Observation `json:"observation,omitempty"`
	Plan        *domain.Plan        `json:"plan,omitempty"`
	Session     *domain.Session     `json:"session,omitempty"`
}

// SearchResults groups ranked hits by kind, the shape the hook API and
// search UI expect.
type SearchResults struct {
	Code     []Result `json:"code"`
	Memory   []Result `json:"memory"`
	Plans    []Result `json:"plans"`
	Sessions []Result `json:"sessions"`
}

// Store is the subset of the Activity Store the memory engine reads to
// enrich bare vector-index ids with full records.
type Store interface {
	GetObservation(id string) (domain.Observation, error)
	GetPlan(id string) (domain.Plan, error)
	GetSession(id string) (domain.Session, error)
	ActiveObservationsByType(memoryType domain.MemoryType, limit int) ([]domain.Observation, error)
}

// Index is the subset of the vector index the memory engine queries.
type Index interface {
	Search(ctx context.Context, queryEmbedding []float32, kinds []vectorindex.Kind, k int, where map[string]string) ([]vectorindex.Match, error)
}

// Embed produces a query embedding, implemented against the embedding
// provider.
type Embed func(ctx context.Context, text string) ([]float32, error)

// Engine is the Memory Engine component.
type Engine struct {
	store    Store
	index    Index
	embed    Embed
	settings config.Settings
}

func New(store Store, index Index, embed Embed, settings config.Settings) *Engine {
	return &Engine{store: store, index: index, embed: embed, settings: settings}
}

// SearchType scopes a query to a subset of vector index kinds.
type SearchType string

const (
	SearchAll         SearchType = "all"
	SearchCode        SearchType = "code"
	SearchMemory      SearchType = "memory"
	SearchPlans       SearchType = "plans"
	SearchSessions    SearchType = "sessions"
)

func kindsFor(t SearchType) []vectorindex.Kind {
	switch t {
	case SearchCode:
		return []vectorindex.Kind{vectorindex.KindCode}
	case SearchMemory:
		return []vectorindex.Kind{vectorindex.KindObservation}
	case SearchPlans:
		return []vectorindex.Kind{vectorindex.KindPlan}
	case SearchSessions:
		return []vectorindex.Kind{vectorindex.KindSessionSummary}
	default:
		return nil // all kinds
	}
}

// Search runs a unified ranked query across the requested kinds,
// dropping sub-low-confidence hits, applying doc-type ranking weights to
// code results when enabled, and filtering resolved observations unless
// includeResolved is set.
func (e *Engine) Search(ctx context.Context, query string, searchType SearchType, k int, includeResolved bool, where map[string]string) (SearchResults, error) {
	if k <= 0 {
		k = e.settings.Injection.MaxMemories
	}
	embedding, err := e.embed(ctx, query)
	if err != nil {
		return SearchResults{}, fmt.Errorf("embed query: %w", err)
	}

	matches, err := e.index.Search(ctx, embedding, kindsFor(searchType), k*3, where) // overfetch; filtering/weighting may reorder
	if err != nil {
		return SearchResults{}, fmt.Errorf("vector search: %w", err)
	}

	var results SearchResults
	byKind := make(map[vectorindex.Kind][]Result)
	for _, m := range matches {
		score := m.Score
		if e.settings.ApplyDocTypeWeights && m.Kind == vectorindex.KindCode {
			score *= docTypeWeight(m.Metadata["doc_type"])
		}
		conf, ok := confidenceFor(score)
		if !ok {
			continue
		}
		res := Result{Kind: m.Kind, ID: m.ID, Relevance: score, Confidence: conf, Content: m.Content, Metadata: m.Metadata}
		if enriched, skip := e.enrich(res, includeResolved); !skip {
			byKind[m.Kind] = append(byKind[m.Kind], enriched)
		}
	}

	for kind, rs := range byKind {
		sort.Slice(rs, func(i, j int) bool { return rs[i].Relevance > rs[j].Relevance })
		if len(rs) > k {
			rs = rs[:k]
		}
		switch kind {
		case vectorindex.KindCode:
			results.Code = rs
		case vectorindex.KindObservation:
			results.Memory = rs
		case vectorindex.KindPlan:
			results.Plans = rs
		case vectorindex.KindSessionSummary:
			results.Sessions = rs
		}
	}
	return results, nil
}

// enrich attaches the full store record for non-code kinds and applies
// the default active-only status filter for observations. Returns
// skip=true when the result should be dropped (e.g. a resolved
// observation with includeResolved false).
func (e *Engine) enrich(res Result, includeResolved bool) (Result, bool) {
	switch res.Kind {
	case vectorindex.KindObservation:
		obs, err := e.store.GetObservation(res.ID)
		if err != nil {
			return res, true
		}
		if !includeResolved && !obs.IsActive() {
			return res, true
		}
		res.Observation = &obs
	case vectorindex.KindPlan:
		plan, err := e.store.GetPlan(res.ID)
		if err != nil {
			return res, true
		}
		res.Plan = &plan
	case vectorindex.KindSessionSummary:
		sess, err := e.store.GetSession(res.ID)
		if err != nil {
			return res, true
		}
		res.Session = &sess
	}
	return res, false
}
