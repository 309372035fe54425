package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSettingsMissingFile(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadSettings(filepath.Join(dir, "settings.yaml"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	want := Defaults()
	if s.TickIntervalSecs != want.TickIntervalSecs {
		t.Errorf("TickIntervalSecs = %d, want %d", s.TickIntervalSecs, want.TickIntervalSecs)
	}
	if len(s.ExcludePatterns) != len(want.ExcludePatterns) {
		t.Errorf("ExcludePatterns len = %d, want %d", len(s.ExcludePatterns), len(want.ExcludePatterns))
	}
}

func TestLoadSettingsOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	yaml := []byte(`
tick_interval_secs: 120
governance_mode: enforce
exclude_patterns:
  - "**/tmp/**"
governance_rules:
  - name: deny-rm-rf
    tool_glob: "Bash"
    input_regex: "rm -rf"
    decision: deny
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.TickIntervalSecs != 120 {
		t.Errorf("TickIntervalSecs = %d, want 120", s.TickIntervalSecs)
	}
	if s.GovernanceMode != "enforce" {
		t.Errorf("GovernanceMode = %q, want enforce", s.GovernanceMode)
	}
	if len(s.ExcludePatterns) != 1 || s.ExcludePatterns[0] != "**/tmp/**" {
		t.Errorf("ExcludePatterns = %v, want [**/tmp/**]", s.ExcludePatterns)
	}
	if len(s.GovernanceRules) != 1 || s.GovernanceRules[0].Name != "deny-rm-rf" {
		t.Errorf("GovernanceRules = %v", s.GovernanceRules)
	}
	// Fields not present in the override file keep their defaults.
	if s.StaleSessionHours != Defaults().StaleSessionHours {
		t.Errorf("StaleSessionHours = %d, want default %d", s.StaleSessionHours, Defaults().StaleSessionHours)
	}
}

func TestResolvePaths(t *testing.T) {
	dir := t.TempDir()
	p, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if _, err := os.Stat(p.DataDir); err != nil {
		t.Errorf("DataDir not created: %v", err)
	}
	if _, err := os.Stat(p.ChromaDir); err != nil {
		t.Errorf("ChromaDir not created: %v", err)
	}
	if _, err := os.Stat(p.HistoryDir); err != nil {
		t.Errorf("HistoryDir not created: %v", err)
	}
	if filepath.Base(p.ActivitiesDB) != "activities.db" {
		t.Errorf("ActivitiesDB = %q", p.ActivitiesDB)
	}
}

func TestLoadOrCreateTokenPersists(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, ".daemon_token")

	tok1, err := LoadOrCreateToken(tokenFile)
	if err != nil {
		t.Fatalf("LoadOrCreateToken: %v", err)
	}
	if tok1 == "" {
		t.Fatal("expected non-empty generated token")
	}

	tok2, err := LoadOrCreateToken(tokenFile)
	if err != nil {
		t.Fatalf("LoadOrCreateToken (reload): %v", err)
	}
	if tok1 != tok2 {
		t.Errorf("token not stable across reload: %q != %q", tok1, tok2)
	}
}

func TestLoadOrCreateTokenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, ".daemon_token")
	t.Setenv("OAK_CI_TOKEN", "fixed-token-value")

	tok, err := LoadOrCreateToken(tokenFile)
	if err != nil {
		t.Fatalf("LoadOrCreateToken: %v", err)
	}
	if tok != "fixed-token-value" {
		t.Errorf("token = %q, want fixed-token-value", tok)
	}
	if _, err := os.Stat(tokenFile); err == nil {
		t.Error("expected no token file written when env override is set")
	}
}
