package indexer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openagentkit/ci/internal/vectorindex"
)

type fakeUpserter struct {
	docs map[string]string // id -> content
}

func newFakeUpserter() *fakeUpserter {
	return &fakeUpserter{docs: make(map[string]string)}
}

func (f *fakeUpserter) Upsert(_ context.Context, _ vectorindex.Kind, id, content string, _ []float32, _ map[string]string) error {
	f.docs[id] = content
	return nil
}

func (f *fakeUpserter) Delete(_ context.Context, _ vectorindex.Kind, id string) error {
	delete(f.docs, id)
	return nil
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestFullScanIndexesAndSkipsUnchanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n")
	writeFile(t, root, "README.md", "# hello\n")

	up := newFakeUpserter()
	statePath := filepath.Join(t.TempDir(), "state.json")
	idx := New(root, statePath, 200, up, nil, zerolog.Nop())

	stats, err := idx.FullScan(context.Background())
	if err != nil {
		t.Fatalf("FullScan: %v", err)
	}
	if stats.FilesScanned != 2 {
		t.Fatalf("FilesScanned = %d, want 2", stats.FilesScanned)
	}
	if len(up.docs) == 0 {
		t.Fatal("expected chunks upserted")
	}

	// Second scan with no changes should skip every file (no new chunks).
	before := len(up.docs)
	stats2, err := idx.FullScan(context.Background())
	if err != nil {
		t.Fatalf("FullScan 2: %v", err)
	}
	if stats2.ChunksUpserted != 0 {
		t.Errorf("unchanged rescan ChunksUpserted = %d, want 0", stats2.ChunksUpserted)
	}
	if len(up.docs) != before {
		t.Errorf("doc count changed on unchanged rescan: %d -> %d", before, len(up.docs))
	}
}

func TestFullScanRemovesDeletedFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\nfunc A() {}\n")
	writeFile(t, root, "b.go", "package a\nfunc B() {}\n")

	up := newFakeUpserter()
	statePath := filepath.Join(t.TempDir(), "state.json")
	idx := New(root, statePath, 200, up, nil, zerolog.Nop())

	if _, err := idx.FullScan(context.Background()); err != nil {
		t.Fatalf("FullScan: %v", err)
	}
	docsAfterFirst := len(up.docs)
	if docsAfterFirst == 0 {
		t.Fatal("expected chunks after first scan")
	}

	if err := os.Remove(filepath.Join(root, "b.go")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	stats, err := idx.FullScan(context.Background())
	if err != nil {
		t.Fatalf("FullScan after delete: %v", err)
	}
	if stats.ChunksDeleted == 0 {
		t.Error("expected ChunksDeleted > 0 after file removal")
	}
	for id := range up.docs {
		if strings.HasPrefix(id, "b.go") {
			t.Errorf("chunk %s from deleted file still present", id)
		}
	}
}

func TestExcludedFilesAreSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "vendor/dep/dep.go", "package dep\n")
	writeFile(t, root, "node_modules/pkg/index.js", "module.exports = {}\n")

	up := newFakeUpserter()
	statePath := filepath.Join(t.TempDir(), "state.json")
	idx := New(root, statePath, 200, up, nil, zerolog.Nop())

	stats, err := idx.FullScan(context.Background())
	if err != nil {
		t.Fatalf("FullScan: %v", err)
	}
	if stats.FilesScanned != 1 {
		t.Errorf("FilesScanned = %d, want 1 (vendor/node_modules excluded)", stats.FilesScanned)
	}
}

func TestReindexFilesHandlesDeletionAndChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\nfunc A() {}\n")

	up := newFakeUpserter()
	statePath := filepath.Join(t.TempDir(), "state.json")
	idx := New(root, statePath, 200, up, nil, zerolog.Nop())

	if _, err := idx.FullScan(context.Background()); err != nil {
		t.Fatalf("FullScan: %v", err)
	}

	writeFile(t, root, "a.go", "package a\nfunc A() {}\nfunc B() {}\n")
	stats, err := idx.ReindexFiles(context.Background(), []string{"a.go"})
	if err != nil {
		t.Fatalf("ReindexFiles: %v", err)
	}
	if stats.FilesScanned != 1 {
		t.Errorf("FilesScanned = %d, want 1", stats.FilesScanned)
	}

	if err := os.Remove(filepath.Join(root, "a.go")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	stats, err = idx.ReindexFiles(context.Background(), []string{"a.go"})
	if err != nil {
		t.Fatalf("ReindexFiles after delete: %v", err)
	}
	if stats.ChunksDeleted == 0 {
		t.Error("expected ChunksDeleted > 0 for removed file")
	}
	if len(up.docs) != 0 {
		t.Errorf("expected empty index after removing only file, got %d docs", len(up.docs))
	}
}
