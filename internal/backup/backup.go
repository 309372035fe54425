// Package backup wraps the Activity Store's Export/Import with filename
// policy (a privacy-preserving hash of the project path, never the raw
// path) and path restriction (reads/writes are confined to the
// configured history directory).
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"time"

	"github.com/openagentkit/ci/internal/store"
)

// Backend is the subset of *store.Store the backup subsystem needs.
type Backend interface {
	Export(includeActivities, includeAudit bool) (store.Backup, error)
	Import(b store.Backup) (store.BackupCounts, error)
}

// Manager restricts backup reads/writes to a single history directory.
type Manager struct {
	historyDir string
	store      Backend
}

func New(historyDir string, s Backend) *Manager {
	return &Manager{historyDir: historyDir, store: s}
}

// FileName derives the backup filename from the current OS user and a
// hash of the project's absolute path, so the path itself never
// appears on disk or in any synced/shared backup directory.
func FileName(projectRoot string) string {
	sum := sha256.Sum256([]byte(projectRoot))
	hash := hex.EncodeToString(sum[:])[:16]

	owner := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		owner = u.Username
	}
	return fmt.Sprintf("%s_%s.json", owner, hash)
}

// resolvePath joins name under the history directory and rejects any
// path that would escape it (e.g. via ".." segments).
func (m *Manager) resolvePath(name string) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("backup path %q escapes history directory", name)
	}
	joined := filepath.Join(m.historyDir, name)
	rel, err := filepath.Rel(m.historyDir, joined)
	if err != nil || rel == ".." || filepath.IsAbs(rel) {
		return "", fmt.Errorf("backup path %q escapes history directory", name)
	}
	return joined, nil
}

// Run exports a backup for projectRoot and writes it to the history
// directory, returning the path written.
func (m *Manager) Run(projectRoot string, includeActivities, includeAudit bool) (string, error) {
	b, err := m.store.Export(includeActivities, includeAudit)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}

	body, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}

	path, err := m.resolvePath(FileName(projectRoot))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return path, nil
}

// Restore reads a backup file by name (resolved within the history
// directory) and merges it into the store by dedup hash.
func (m *Manager) Restore(name string) (store.BackupCounts, error) {
	path, err := m.resolvePath(name)
	if err != nil {
		return store.BackupCounts{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return store.BackupCounts{}, fmt.Errorf("read backup: %w", err)
	}

	var b store.Backup
	if err := json.Unmarshal(body, &b); err != nil {
		return store.BackupCounts{}, fmt.Errorf("unmarshal backup: %w", err)
	}
	return m.store.Import(b)
}

// List returns the backup file names present in the history directory,
// newest first, for the backup status endpoint and restore-all.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.historyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history dir: %w", err)
	}
	var names []string
	modTimes := map[string]time.Time{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		names = append(names, e.Name())
		modTimes[e.Name()] = info.ModTime()
	}
	sort.SliceStable(names, func(i, j int) bool { return modTimes[names[i]].After(modTimes[names[j]]) })
	return names, nil
}

// RestoreAll merges every backup file in the history directory into the
// store in turn, for peers recovering a machine from a synced history
// folder rather than a single named snapshot.
func (m *Manager) RestoreAll() ([]store.BackupCounts, error) {
	names, err := m.List()
	if err != nil {
		return nil, err
	}
	counts := make([]store.BackupCounts, 0, len(names))
	for _, name := range names {
		c, err := m.Restore(name)
		if err != nil {
			return counts, fmt.Errorf("restore %s: %w", name, err)
		}
		counts = append(counts, c)
	}
	return counts, nil
}

// AutoBackupDue reports whether enough time has elapsed since last,
// given the configured interval, used by the pipeline's auto-backup
// tick step.
func AutoBackupDue(last time.Time, intervalHours int) bool {
	if intervalHours <= 0 {
		return false
	}
	return time.Since(last) >= time.Duration(intervalHours)*time.Hour
}
