// Package lockfile manages the daemon's per-project lockfile: PID, HTTP
// port, and bearer token, used to detect an already-running instance and
// avoid starting a second daemon against the same project.
package lockfile

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Data is the JSON structure stored in the lockfile.
type Data struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	Token     string    `json:"token,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Name is the lockfile's filename within the project's .oak/ci directory.
const Name = "daemon.lock"

// Path returns the lockfile path under dataDir (typically Paths.DataDir
// from internal/config).
func Path(dataDir string) string {
	return filepath.Join(dataDir, Name)
}

// Write writes the lockfile with the current PID, port, token, and
// start time.
func Write(dataDir string, port int, token string) error {
	data := Data{
		PID:       os.Getpid(),
		Port:      port,
		Token:     token,
		StartedAt: time.Now(),
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lockfile: %w", err)
	}
	return os.WriteFile(Path(dataDir), b, 0o600)
}

// Read reads and parses the lockfile. Returns an error if the file does
// not exist or cannot be parsed.
func Read(dataDir string) (Data, error) {
	b, err := os.ReadFile(Path(dataDir))
	if err != nil {
		return Data{}, fmt.Errorf("read lockfile: %w", err)
	}
	var d Data
	if err := json.Unmarshal(b, &d); err != nil {
		return Data{}, fmt.Errorf("parse lockfile: %w", err)
	}
	return d, nil
}

// Remove deletes the lockfile. Missing file is not an error.
func Remove(dataDir string) error {
	if err := os.Remove(Path(dataDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lockfile: %w", err)
	}
	return nil
}

// IsStale reports whether the lockfile refers to a dead process or an
// unresponsive daemon (PID alive but not answering its health endpoint).
func IsStale(d Data) bool {
	if !IsProcessAlive(d.PID) {
		return true
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/health", d.Port))
	if err != nil {
		return true
	}
	defer resp.Body.Close()
	return resp.StatusCode != http.StatusOK
}
