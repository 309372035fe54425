package indexer

import (
	"io/fs"
	"os"
	"path/filepath"
)

// walkFiles enumerates candidate files under root honoring the exclusion
// set, returning paths relative to root with forward slashes.
func walkFiles(root string, excl *ExclusionSet) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if excl.Excluded(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if excl.Excluded(rel) {
			return nil
		}
		if isProbablyBinary(path) {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	return out, err
}

// isProbablyBinary does a cheap extension-based check; full content
// sniffing is unnecessary for the indexer's purposes since tree-sitter
// parse failure already falls back gracefully.
func isProbablyBinary(path string) bool {
	switch filepath.Ext(path) {
	case ".png", ".jpg", ".jpeg", ".gif", ".ico", ".pdf", ".zip", ".tar", ".gz",
		".woff", ".woff2", ".ttf", ".eot", ".mp4", ".mov", ".exe", ".dll", ".so", ".dylib":
		return true
	default:
		return false
	}
}

func readFile(root, rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(root, rel))
}

// listDirs enumerates every non-excluded directory under root, including
// root itself, for registering recursive fsnotify watches.
func listDirs(root string, excl *ExclusionSet) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel != "." && excl.Excluded(rel+"/") {
			return filepath.SkipDir
		}
		out = append(out, path)
		return nil
	})
	return out, err
}

// statIsDir reports whether path currently exists and is a directory.
func statIsDir(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}
