package vectorindex

import (
	"context"
	"fmt"
)

// RebuildSource supplies everything the store knows that belongs in the
// vector index, so that rebuild_from_store() can recompute the index as a
// pure derivative, honoring the "resolved observations are excluded from
// automatic re-embedding" decision (DESIGN.md): callers pass only the rows
// they want re-embedded.
type RebuildSource interface {
	CodeChunks(ctx context.Context) ([]RebuildDoc, error)
	Observations(ctx context.Context) ([]RebuildDoc, error)
	Plans(ctx context.Context) ([]RebuildDoc, error)
	SessionSummaries(ctx context.Context) ([]RebuildDoc, error)
}

// RebuildDoc is one row to re-embed and upsert during a full rebuild.
type RebuildDoc struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// RebuildFromStore wipes every collection and re-embeds everything the
// source provides. It and RebuildKind (driven by the devtools
// rebuild-memories endpoint) are the paths that re-embed
// resolved/superseded observations; the normal extraction pipeline never
// does.
func (idx *Index) RebuildFromStore(ctx context.Context, src RebuildSource) error {
	for _, k := range allKinds {
		if err := idx.db.DeleteCollection(string(k)); err != nil {
			return fmt.Errorf("delete collection %s: %w", k, err)
		}
	}
	if err := idx.reopenCollections(ctx); err != nil {
		return err
	}

	code, err := src.CodeChunks(ctx)
	if err != nil {
		return fmt.Errorf("load code chunks: %w", err)
	}
	if err := idx.bulkUpsert(ctx, KindCode, code); err != nil {
		return err
	}

	obs, err := src.Observations(ctx)
	if err != nil {
		return fmt.Errorf("load observations: %w", err)
	}
	if err := idx.bulkUpsert(ctx, KindObservation, obs); err != nil {
		return err
	}

	plans, err := src.Plans(ctx)
	if err != nil {
		return fmt.Errorf("load plans: %w", err)
	}
	if err := idx.bulkUpsert(ctx, KindPlan, plans); err != nil {
		return err
	}

	summaries, err := src.SessionSummaries(ctx)
	if err != nil {
		return fmt.Errorf("load session summaries: %w", err)
	}
	return idx.bulkUpsert(ctx, KindSessionSummary, summaries)
}

// RebuildKind wipes and re-embeds a single collection, leaving the others
// untouched. Used by devtools rebuild-memories, which only needs to
// recompute memory-owned kinds (observation, plan, session_summary) without
// disturbing the indexer-owned code collection the store has no copy of.
func (idx *Index) RebuildKind(ctx context.Context, kind Kind, docs []RebuildDoc) error {
	if err := idx.db.DeleteCollection(string(kind)); err != nil {
		return fmt.Errorf("delete collection %s: %w", kind, err)
	}
	chromemEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return idx.embed(ctx, text)
	}
	col, err := idx.db.GetOrCreateCollection(string(kind), nil, chromemEmbed)
	if err != nil {
		return fmt.Errorf("collection %s: %w", kind, err)
	}
	idx.collections[kind] = col
	return idx.bulkUpsert(ctx, kind, docs)
}

func (idx *Index) bulkUpsert(ctx context.Context, kind Kind, docs []RebuildDoc) error {
	for _, d := range docs {
		if err := idx.Upsert(ctx, kind, d.ID, d.Content, nil, d.Metadata); err != nil {
			return fmt.Errorf("rebuild upsert %s/%s: %w", kind, d.ID, err)
		}
	}
	return nil
}
