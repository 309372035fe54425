// Package vectorindex wraps chromem-go as the Vector Index: a derivative
// store of embedded chunks, observations, plans, and session summaries.
// Every id present here must also exist in the Activity Store; the store
// is the source of truth and this index must be rebuildable from it alone.
package vectorindex

import (
	"context"
	"fmt"
	"sort"

	chromem "github.com/philippgille/chromem-go"
)

// Kind is the embedded-entity category, one collection per kind.
type Kind string

const (
	KindCode           Kind = "code"
	KindObservation    Kind = "observation"
	KindPlan           Kind = "plan"
	KindSessionSummary Kind = "session_summary"
)

var allKinds = []Kind{KindCode, KindObservation, KindPlan, KindSessionSummary}

// EmbedFunc produces an embedding vector for a string, implemented by
// internal/embedclient against an OpenAI-compatible embedding provider.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Match is one ranked search result.
type Match struct {
	Kind     Kind
	ID       string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Index is the Vector Index component, one chromem-go collection per kind.
type Index struct {
	db          *chromem.DB
	embed       EmbedFunc
	collections map[Kind]*chromem.Collection
}

// Open opens (or creates) a persistent chromem-go database at dir, with one
// collection per entity kind. chromem's on-disk gob compression is always
// enabled.
func Open(dir string, embed EmbedFunc) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}

	idx := &Index{db: db, embed: embed, collections: make(map[Kind]*chromem.Collection, len(allKinds))}
	if err := idx.reopenCollections(context.Background()); err != nil {
		return nil, err
	}
	return idx, nil
}

// reopenCollections (re)creates the per-kind chromem-go collection handles,
// used both at Open and after RebuildFromStore deletes and recreates them.
func (idx *Index) reopenCollections(context.Context) error {
	chromemEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return idx.embed(ctx, text)
	}
	for _, k := range allKinds {
		col, err := idx.db.GetOrCreateCollection(string(k), nil, chromemEmbed)
		if err != nil {
			return fmt.Errorf("collection %s: %w", k, err)
		}
		idx.collections[k] = col
	}
	return nil
}

func (idx *Index) collection(k Kind) (*chromem.Collection, error) {
	col, ok := idx.collections[k]
	if !ok {
		return nil, fmt.Errorf("unknown vector index kind %q", k)
	}
	return col, nil
}

// Upsert embeds content via EmbedFunc (when embedding is nil) and stores
// the document under the given kind/id, replacing any prior entry with
// the same id.
func (idx *Index) Upsert(ctx context.Context, kind Kind, id, content string, embedding []float32, metadata map[string]string) error {
	col, err := idx.collection(kind)
	if err != nil {
		return err
	}
	doc := chromem.Document{ID: id, Content: content, Embedding: embedding, Metadata: metadata}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", kind, id, err)
	}
	return nil
}

// Delete removes a document from a kind's collection. Missing ids are not
// an error.
func (idx *Index) Delete(ctx context.Context, kind Kind, id string) error {
	col, err := idx.collection(kind)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", kind, id, err)
	}
	return nil
}

// Search runs a cosine-similarity query against query-embedding across the
// requested kinds (all kinds if empty), merging and ranking results
// descending by score, capped at k.
func (idx *Index) Search(ctx context.Context, queryEmbedding []float32, kinds []Kind, k int, where map[string]string) ([]Match, error) {
	if len(kinds) == 0 {
		kinds = allKinds
	}
	if k <= 0 {
		k = 10
	}

	var all []Match
	for _, kind := range kinds {
		col, err := idx.collection(kind)
		if err != nil {
			return nil, err
		}
		n := k
		if count := col.Count(); count < n {
			n = count
		}
		if n <= 0 {
			continue
		}
		results, err := col.QueryEmbedding(ctx, queryEmbedding, n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", kind, err)
		}
		for _, r := range results {
			all = append(all, Match{Kind: kind, ID: r.ID, Score: r.Similarity, Content: r.Content, Metadata: r.Metadata})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

// Count returns the number of documents stored under a kind, used by
// devtools status reporting.
func (idx *Index) Count(kind Kind) (int, error) {
	col, err := idx.collection(kind)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Compact is provider-specific space reclamation after deletes. chromem-go
// has no explicit compaction API beyond its own persistence; this is a
// no-op placeholder that exists so devtools/compact-chromadb has a stable
// call site regardless of the underlying vector store.
func (idx *Index) Compact(context.Context) error {
	return nil
}
