package hooks

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"
)

// execSelfRestart launches a fresh copy of the daemon binary and exits the
// current process once the replacement is spawned. The executable path is
// re-resolved on every call rather than cached at startup, so a binary
// upgraded on disk since the daemon started is picked up by the restart.
func (s *Server) execSelfRestart() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = s.projectRoot
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn replacement: %w", err)
	}

	go func() {
		time.Sleep(500 * time.Millisecond)
		os.Exit(0)
	}()
	return nil
}

// handleSelfRestart responds before tearing the process down, so the
// caller (CLI, editor command) gets a clean 200 rather than a dropped
// connection racing the exit.
func (s *Server) handleSelfRestart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarting"})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if err := s.selfRestartExec(); err != nil {
		s.logger.Error().Err(err).Msg("self-restart failed")
	}
}
