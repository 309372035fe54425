package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openagentkit/ci/internal/vectorindex"
)

// Upserter is the subset of the vector index the indexer needs, kept
// narrow so tests can substitute a fake.
type Upserter interface {
	Upsert(ctx context.Context, kind vectorindex.Kind, id, content string, embedding []float32, metadata map[string]string) error
	Delete(ctx context.Context, kind vectorindex.Kind, id string) error
}

// RunStats aggregates per-file outcomes across one full or incremental
// pass, surfaced to devtools status endpoints.
type RunStats struct {
	FilesScanned int
	ASTSuccess   int
	ASTFallback  int
	LineBased    int
	ChunksUpserted int
	ChunksDeleted  int
}

// Indexer walks a project tree, AST-chunks files, embeds and upserts them,
// and tracks per-file content hashes so unchanged files are skipped.
type Indexer struct {
	root            string
	statePath       string
	maxLines        int
	index           Upserter
	logger          zerolog.Logger
	excludePatterns []string

	mu        sync.Mutex
	excl      *ExclusionSet
	fileState map[string]fileRecord // rel path -> last indexed state
}

type fileRecord struct {
	ContentHash string   `json:"content_hash"`
	ChunkIDs    []string `json:"chunk_ids"`
}

// New builds an Indexer. statePath is where per-file hash/chunk-id state
// is persisted between restarts (under the daemon's data directory).
func New(root, statePath string, maxLines int, index Upserter, excludePatterns []string, logger zerolog.Logger) *Indexer {
	idx := &Indexer{
		root:            root,
		statePath:       statePath,
		maxLines:        maxLines,
		index:           index,
		logger:          logger,
		excludePatterns: excludePatterns,
		excl:            NewExclusionSet(root, excludePatterns),
		fileState:       make(map[string]fileRecord),
	}
	idx.loadState()
	return idx
}

func (idx *Indexer) loadState() {
	b, err := os.ReadFile(idx.statePath)
	if err != nil {
		return
	}
	var state map[string]fileRecord
	if json.Unmarshal(b, &state) == nil {
		idx.fileState = state
	}
}

func (idx *Indexer) saveState() {
	idx.mu.Lock()
	b, err := json.Marshal(idx.fileState)
	idx.mu.Unlock()
	if err != nil {
		return
	}
	if err := os.WriteFile(idx.statePath, b, 0o600); err != nil {
		idx.logger.Warn().Err(err).Msg("persist indexer state failed")
	}
}

// FullScan walks the whole tree and indexes every candidate file,
// skipping files whose content hash is unchanged since last indexed.
func (idx *Indexer) FullScan(ctx context.Context) (RunStats, error) {
	idx.mu.Lock()
	idx.excl = NewExclusionSet(idx.root, idx.excludePatterns) // re-merge .gitignore on rescan
	idx.mu.Unlock()

	rels, err := walkFiles(idx.root, idx.excl)
	if err != nil {
		return RunStats{}, fmt.Errorf("walk tree: %w", err)
	}

	var stats RunStats
	seen := make(map[string]bool, len(rels))
	for _, rel := range rels {
		seen[rel] = true
		fstats, n, err := idx.indexFile(ctx, rel)
		if err != nil {
			idx.logger.Warn().Err(err).Str("file", rel).Msg("index file failed")
			continue
		}
		stats.FilesScanned++
		stats.ChunksUpserted += n
		if fstats.ASTSuccess {
			stats.ASTSuccess++
		}
		if fstats.ASTFallback {
			stats.ASTFallback++
		}
		if fstats.LineBased {
			stats.LineBased++
		}
	}

	// Files present in state but no longer on disk (deleted/renamed) are
	// removed from the index. The file watcher's pending change set is not
	// reset here.
	idx.mu.Lock()
	var stale []string
	for rel := range idx.fileState {
		if !seen[rel] {
			stale = append(stale, rel)
		}
	}
	idx.mu.Unlock()
	for _, rel := range stale {
		n, err := idx.removeFile(ctx, rel)
		if err != nil {
			idx.logger.Warn().Err(err).Str("file", rel).Msg("remove stale file failed")
			continue
		}
		stats.ChunksDeleted += n
	}

	idx.saveState()
	return stats, nil
}

// ReindexFiles processes only the given relative paths (used by the
// debounced file watcher after computing a delta). A path that no longer
// exists on disk is treated as a deletion.
func (idx *Indexer) ReindexFiles(ctx context.Context, rels []string) (RunStats, error) {
	var stats RunStats
	for _, rel := range rels {
		path := filepath.Join(idx.root, rel)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			n, err := idx.removeFile(ctx, rel)
			if err != nil {
				idx.logger.Warn().Err(err).Str("file", rel).Msg("remove deleted file failed")
				continue
			}
			stats.ChunksDeleted += n
			continue
		}
		fstats, n, err := idx.indexFile(ctx, rel)
		if err != nil {
			idx.logger.Warn().Err(err).Str("file", rel).Msg("index file failed")
			continue
		}
		stats.FilesScanned++
		stats.ChunksUpserted += n
		if fstats.ASTSuccess {
			stats.ASTSuccess++
		} else if fstats.ASTFallback {
			stats.ASTFallback++
		} else if fstats.LineBased {
			stats.LineBased++
		}
	}
	idx.saveState()
	return stats, nil
}

func (idx *Indexer) indexFile(ctx context.Context, rel string) (FileStats, int, error) {
	content, err := readFile(idx.root, rel)
	if err != nil {
		return FileStats{}, 0, fmt.Errorf("read %s: %w", rel, err)
	}
	contentHash := hashContent(string(content))

	idx.mu.Lock()
	prev, known := idx.fileState[rel]
	idx.mu.Unlock()
	if known && prev.ContentHash == contentHash {
		return FileStats{}, 0, nil // unchanged, nothing to do
	}

	chunks, fstats := ChunkFile(ctx, rel, content, idx.maxLines)

	// Remove the file's previous chunks before upserting the new set —
	// chunk boundaries may have shifted and stale ids would linger
	// otherwise.
	if known {
		for _, id := range prev.ChunkIDs {
			_ = idx.index.Delete(ctx, vectorindex.KindCode, id)
		}
	}

	var ids []string
	for i, c := range chunks {
		id := fmt.Sprintf("%s#%d", rel, i)
		ids = append(ids, id)
		meta := map[string]string{
			"file_path":  c.FilePath,
			"chunk_type": c.ChunkType,
			"name":       c.Name,
			"doc_type":   string(c.DocType),
			"language":   c.Language,
		}
		if err := idx.index.Upsert(ctx, vectorindex.KindCode, id, c.Content, nil, meta); err != nil {
			return fstats, len(ids), fmt.Errorf("upsert chunk %s: %w", id, err)
		}
	}

	idx.mu.Lock()
	idx.fileState[rel] = fileRecord{ContentHash: contentHash, ChunkIDs: ids}
	idx.mu.Unlock()
	return fstats, len(ids), nil
}

func (idx *Indexer) removeFile(ctx context.Context, rel string) (int, error) {
	idx.mu.Lock()
	rec, ok := idx.fileState[rel]
	delete(idx.fileState, rel)
	idx.mu.Unlock()
	if !ok {
		return 0, nil
	}
	for _, id := range rec.ChunkIDs {
		if err := idx.index.Delete(ctx, vectorindex.KindCode, id); err != nil {
			return 0, err
		}
	}
	return len(rec.ChunkIDs), nil
}
