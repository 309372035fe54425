// Package config resolves the daemon's on-disk layout, environment
// variables, and project settings, and builds the zerolog loggers every
// other package receives via constructor injection.
package config

import (
	"os"
	"path/filepath"
)

// Paths is the resolved, stable set of filesystem locations the daemon
// writes to. ProjectRoot is captured once at startup and never re-derived
// from the working directory (see the path-sensitivity design note).
type Paths struct {
	ProjectRoot string
	DataDir     string // <project_root>/.oak/ci
	HistoryDir  string // backup destination; may be overridden by OAK_CI_BACKUP_DIR

	ActivitiesDB string
	ChromaDir    string
	DaemonLog    string
	HooksLog     string
	TokenFile    string
	VersionFile  string
}

// Resolve builds a Paths from a project root, creating the directories it
// owns. projectRoot should already be absolute; callers resolve it once at
// startup (OAK_CI_PROJECT_ROOT or the daemon's working directory at launch).
func Resolve(projectRoot string) (Paths, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return Paths{}, err
	}

	dataDir := filepath.Join(root, ".oak", "ci")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return Paths{}, err
	}

	chromaDir := filepath.Join(dataDir, "chroma")
	if err := os.MkdirAll(chromaDir, 0o700); err != nil {
		return Paths{}, err
	}

	historyDir := os.Getenv("OAK_CI_BACKUP_DIR")
	if historyDir == "" {
		historyDir = filepath.Join(root, "oak", "history")
	}
	if err := os.MkdirAll(historyDir, 0o700); err != nil {
		return Paths{}, err
	}

	return Paths{
		ProjectRoot:  root,
		DataDir:      dataDir,
		HistoryDir:   historyDir,
		ActivitiesDB: filepath.Join(dataDir, "activities.db"),
		ChromaDir:    chromaDir,
		DaemonLog:    filepath.Join(dataDir, "daemon.log"),
		HooksLog:     filepath.Join(dataDir, "hooks.log"),
		TokenFile:    filepath.Join(dataDir, ".daemon_token"),
		VersionFile:  filepath.Join(dataDir, "cli_version"),
	}, nil
}

// ResolveProjectRoot determines the project root at startup: the
// OAK_CI_PROJECT_ROOT environment variable takes precedence over the
// current working directory.
func ResolveProjectRoot() (string, error) {
	if root := os.Getenv("OAK_CI_PROJECT_ROOT"); root != "" {
		return filepath.Abs(root)
	}
	return os.Getwd()
}
