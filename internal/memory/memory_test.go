package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/openagentkit/ci/internal/config"
	"github.com/openagentkit/ci/internal/domain"
	"github.com/openagentkit/ci/internal/vectorindex"
)

type fakeStore struct {
	observations map[string]domain.Observation
	plans        map[string]domain.Plan
	sessions     map[string]domain.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		observations: make(map[string]domain.Observation),
		plans:        make(map[string]domain.Plan),
		sessions:     make(map[string]domain.Session),
	}
}

func (f *fakeStore) GetObservation(id string) (domain.Observation, error) {
	o, ok := f.observations[id]
	if !ok {
		return domain.Observation{}, errNotFound
	}
	return o, nil
}

func (f *fakeStore) GetPlan(id string) (domain.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return domain.Plan{}, errNotFound
	}
	return p, nil
}

func (f *fakeStore) GetSession(id string) (domain.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return domain.Session{}, errNotFound
	}
	return s, nil
}

func (f *fakeStore) ActiveObservationsByType(memoryType domain.MemoryType, limit int) ([]domain.Observation, error) {
	var out []domain.Observation
	for _, o := range f.observations {
		if o.MemoryType == memoryType && o.IsActive() {
			out = append(out, o)
		}
	}
	return out, nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errNotFound = errString("not found")

type fakeIndex struct {
	matches []vectorindex.Match
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, kinds []vectorindex.Kind, k int, _ map[string]string) ([]vectorindex.Match, error) {
	allowed := make(map[vectorindex.Kind]bool)
	for _, k := range kinds {
		allowed[k] = true
	}
	var out []vectorindex.Match
	for _, m := range f.matches {
		if len(kinds) > 0 && !allowed[m.Kind] {
			continue
		}
		out = append(out, m)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func fakeEmbed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func TestSearchDropsLowConfidenceAndFiltersResolved(t *testing.T) {
	store := newFakeStore()
	store.observations["o1"] = domain.Observation{ID: "o1", MemoryType: domain.MemoryGotcha, ObservationText: "watch out", Status: domain.ObservationActive}
	store.observations["o2"] = domain.Observation{ID: "o2", MemoryType: domain.MemoryGotcha, ObservationText: "old news", Status: domain.ObservationResolved}

	idx := &fakeIndex{matches: []vectorindex.Match{
		{Kind: vectorindex.KindObservation, ID: "o1", Score: 0.80},
		{Kind: vectorindex.KindObservation, ID: "o2", Score: 0.90},
		{Kind: vectorindex.KindObservation, ID: "o3-ghost", Score: 0.20}, // below low threshold
	}}

	eng := New(store, idx, fakeEmbed, config.Defaults())
	results, err := eng.Search(context.Background(), "watch out", SearchMemory, 10, false, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results.Memory) != 1 || results.Memory[0].ID != "o1" {
		t.Fatalf("expected only o1 (active, above threshold), got %+v", results.Memory)
	}
}

func TestSearchIncludeResolved(t *testing.T) {
	store := newFakeStore()
	store.observations["o2"] = domain.Observation{ID: "o2", MemoryType: domain.MemoryGotcha, Status: domain.ObservationResolved}
	idx := &fakeIndex{matches: []vectorindex.Match{
		{Kind: vectorindex.KindObservation, ID: "o2", Score: 0.90},
	}}

	eng := New(store, idx, fakeEmbed, config.Defaults())
	results, err := eng.Search(context.Background(), "q", SearchMemory, 10, true, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results.Memory) != 1 {
		t.Fatalf("expected resolved observation included, got %+v", results.Memory)
	}
}

func TestAutoResolveCandidatesThresholds(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.observations["existing-same-ctx"] = domain.Observation{
		ID: "existing-same-ctx", MemoryType: domain.MemoryGotcha, Context: "a.go",
		Status: domain.ObservationActive, CreatedAt: now,
	}
	store.observations["existing-diff-ctx"] = domain.Observation{
		ID: "existing-diff-ctx", MemoryType: domain.MemoryGotcha, Context: "b.go",
		Status: domain.ObservationActive, CreatedAt: now,
	}

	idx := &fakeIndex{matches: []vectorindex.Match{
		{Kind: vectorindex.KindObservation, ID: "existing-same-ctx", Score: 0.86}, // above 0.85 same-context bar
		{Kind: vectorindex.KindObservation, ID: "existing-diff-ctx", Score: 0.88}, // below 0.92 no-shared-context bar
	}}

	eng := New(store, idx, fakeEmbed, config.Defaults())
	newObs := domain.Observation{ID: "new", MemoryType: domain.MemoryGotcha, Context: "a.go", ObservationText: "updated fact"}
	candidates, err := eng.AutoResolveCandidates(context.Background(), newObs)
	if err != nil {
		t.Fatalf("AutoResolveCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Observation.ID != "existing-same-ctx" {
		t.Fatalf("expected only same-context candidate to qualify, got %+v", candidates)
	}
}

func TestContextForTaskRendersText(t *testing.T) {
	store := newFakeStore()
	store.observations["o1"] = domain.Observation{ID: "o1", MemoryType: domain.MemoryGotcha, ObservationText: "be careful with X", Status: domain.ObservationActive}

	idx := &fakeIndex{matches: []vectorindex.Match{
		{Kind: vectorindex.KindObservation, ID: "o1", Score: 0.80},
	}}

	eng := New(store, idx, fakeEmbed, config.Defaults())
	payload, err := eng.ContextForTask(context.Background(), "working on X", nil)
	if err != nil {
		t.Fatalf("ContextForTask: %v", err)
	}
	if payload.Text == "" {
		t.Error("expected non-empty injection text")
	}
	if len(payload.MemoryIDs) != 1 || payload.MemoryIDs[0] != "o1" {
		t.Errorf("expected memory id o1 recorded, got %v", payload.MemoryIDs)
	}
}

func TestContextForTaskTruncatesCodeChunkToMaxChunkLines(t *testing.T) {
	store := newFakeStore()
	longContent := strings.Repeat("line\n", 100)
	idx := &fakeIndex{matches: []vectorindex.Match{
		{Kind: vectorindex.KindCode, ID: "c1", Score: 0.80, Content: longContent, Metadata: map[string]string{"file_path": "a.go", "name": "Foo"}},
	}}

	settings := config.Defaults()
	settings.Injection.MaxChunkLines = 5
	eng := New(store, idx, fakeEmbed, settings)
	payload, err := eng.ContextForTask(context.Background(), "working on X", nil)
	if err != nil {
		t.Fatalf("ContextForTask: %v", err)
	}
	if strings.Count(payload.Text, "line\n") > 5 {
		t.Errorf("expected code chunk capped at 5 lines, got text %q", payload.Text)
	}
	if !strings.Contains(payload.Text, "a.go") {
		t.Errorf("expected file path rendered, got %q", payload.Text)
	}
}
