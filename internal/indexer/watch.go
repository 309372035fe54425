package indexer

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounce is the quiet-window fsnotify waits for before computing a
// delta and reindexing, batching bursts of rapid saves (formatters,
// editor autosave) into one pass.
const debounce = 400 * time.Millisecond

// Watch runs until ctx is cancelled, watching root recursively and
// reindexing only the files that changed after each debounce window. It
// does not return an error on a clean ctx cancellation.
func (idx *Indexer) Watch(ctx context.Context, logger zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addDirsRecursive(watcher, idx.root, idx.excl); err != nil {
		return err
	}

	pending := make(map[string]struct{})
	var timer *time.Timer
	timerC := func() <-chan time.Time {
		if timer == nil {
			return nil
		}
		return timer.C
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		rels := make([]string, 0, len(pending))
		for rel := range pending {
			rels = append(rels, rel)
		}
		pending = make(map[string]struct{})
		if _, err := idx.ReindexFiles(ctx, rels); err != nil {
			logger.Warn().Err(err).Msg("incremental reindex failed")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			rel, relErr := filepath.Rel(idx.root, ev.Name)
			if relErr != nil {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, statErr := statIsDir(ev.Name); statErr == nil && fi {
					if !idx.excl.Excluded(rel + "/") {
						_ = watcher.Add(ev.Name)
					}
					continue
				}
			}
			if idx.excl.Excluded(rel) {
				continue
			}
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}

		case <-timerC():
			timer = nil
			flush()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

// addDirsRecursive registers every non-excluded directory under root with
// the watcher; fsnotify watches are not recursive on their own.
func addDirsRecursive(watcher *fsnotify.Watcher, root string, excl *ExclusionSet) error {
	dirs, err := listDirs(root, excl)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := watcher.Add(d); err != nil {
			return err
		}
	}
	return nil
}
