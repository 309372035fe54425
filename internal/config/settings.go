package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GovernanceRule is one rule in the governance rule list, authored in
// settings.yaml and evaluated in order by the governance evaluator.
type GovernanceRule struct {
	Name           string `yaml:"name"`
	ToolGlob       string `yaml:"tool_glob"`
	InputRegex     string `yaml:"input_regex,omitempty"`
	FilePathFnmatch string `yaml:"file_path_fnmatch,omitempty"`
	Decision       string `yaml:"decision"` // allow|observe|warn|deny
	LogAllowed     bool   `yaml:"log_allowed,omitempty"`
}

// PowerThresholds configures idle-duration boundaries for the power
// controller's state machine.
type PowerThresholds struct {
	IdleAfter      string `yaml:"idle_after"`      // duration strings, e.g. "10m"
	SleepAfter     string `yaml:"sleep_after"`
	DeepSleepAfter string `yaml:"deep_sleep_after"`
}

// InjectionLimits bounds what the hook ingestion API may inject into a
// single response payload.
type InjectionLimits struct {
	MaxCodeChunks     int `yaml:"max_code_chunks"`
	MaxChunkLines     int `yaml:"max_chunk_lines"`
	MaxMemories       int `yaml:"max_memories"`
	MaxSessionSummaries int `yaml:"max_session_summaries"`
}

// Settings is the project-local YAML configuration at
// .oak/ci/settings.yaml, merged over Defaults().
type Settings struct {
	ExcludePatterns   []string          `yaml:"exclude_patterns"`
	PlanDirectories   []string          `yaml:"plan_directories"`
	MaxChunkLines     int               `yaml:"max_chunk_lines"`
	TickIntervalSecs  int               `yaml:"tick_interval_secs"`
	StuckBatchMinutes int               `yaml:"stuck_batch_minutes"`
	StaleSessionHours int               `yaml:"stale_session_hours"`
	AuditRetentionDays int              `yaml:"audit_retention_days"`
	ApplyDocTypeWeights bool            `yaml:"apply_doc_type_weights"`
	AutoBackupEnabled bool              `yaml:"auto_backup_enabled"`
	AutoBackupIntervalHours int         `yaml:"auto_backup_interval_hours"`
	MaxExtractionRetries int            `yaml:"max_extraction_retries"`
	GovernanceMode    string            `yaml:"governance_mode"` // observe|enforce
	GovernanceRules   []GovernanceRule  `yaml:"governance_rules"`
	Power             PowerThresholds   `yaml:"power"`
	Injection         InjectionLimits   `yaml:"injection"`
	EmbeddingModel    string            `yaml:"embedding_model"`
	SummarizationModel string           `yaml:"summarization_model"`
}

// Defaults returns the built-in settings, merged with any user-provided
// settings.yaml by Load.
func Defaults() Settings {
	return Settings{
		ExcludePatterns: []string{
			"**/.git/**", "**/node_modules/**", "**/vendor/**",
			"**/dist/**", "**/build/**", "**/.oak/**", "**/oak/history/**",
			"**/*.min.js", "**/__pycache__/**",
		},
		PlanDirectories:         []string{".claude/plans", "oak/plans"},
		MaxChunkLines:           200,
		TickIntervalSecs:        60,
		StuckBatchMinutes:       5,
		StaleSessionHours:       1,
		AuditRetentionDays:      30,
		ApplyDocTypeWeights:     true,
		AutoBackupEnabled:       true,
		AutoBackupIntervalHours: 24,
		MaxExtractionRetries:    5,
		GovernanceMode:          "observe",
		Power: PowerThresholds{
			IdleAfter:      "10m",
			SleepAfter:     "30m",
			DeepSleepAfter: "4h",
		},
		Injection: InjectionLimits{
			MaxCodeChunks:       3,
			MaxChunkLines:       50,
			MaxMemories:         10,
			MaxSessionSummaries: 5,
		},
		EmbeddingModel:     "text-embedding-3-small",
		SummarizationModel: "gpt-4o-mini",
	}
}

// LoadSettings reads settings.yaml at path and merges it over Defaults().
// A missing file is not an error — Defaults() alone is returned.
func LoadSettings(path string) (Settings, error) {
	s := Defaults()

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, err
	}

	var override Settings
	if err := yaml.Unmarshal(b, &override); err != nil {
		return s, err
	}
	mergeSettings(&s, override)
	return s, nil
}

// SaveSettings writes settings to path as YAML, creating its parent
// directory if needed. Used by the governance config endpoint to persist
// rule changes back to settings.yaml.
func SaveSettings(path string, s Settings) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	b, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	return os.WriteFile(path, b, 0o600)
}

// mergeSettings overlays non-zero fields of override onto base, field by
// field, the way muxd's Preferences merges a saved file over defaults.
func mergeSettings(base *Settings, override Settings) {
	if len(override.ExcludePatterns) > 0 {
		base.ExcludePatterns = override.ExcludePatterns
	}
	if len(override.PlanDirectories) > 0 {
		base.PlanDirectories = override.PlanDirectories
	}
	if override.MaxChunkLines > 0 {
		base.MaxChunkLines = override.MaxChunkLines
	}
	if override.TickIntervalSecs > 0 {
		base.TickIntervalSecs = override.TickIntervalSecs
	}
	if override.StuckBatchMinutes > 0 {
		base.StuckBatchMinutes = override.StuckBatchMinutes
	}
	if override.StaleSessionHours > 0 {
		base.StaleSessionHours = override.StaleSessionHours
	}
	if override.AuditRetentionDays > 0 {
		base.AuditRetentionDays = override.AuditRetentionDays
	}
	if override.AutoBackupIntervalHours > 0 {
		base.AutoBackupIntervalHours = override.AutoBackupIntervalHours
	}
	if override.MaxExtractionRetries > 0 {
		base.MaxExtractionRetries = override.MaxExtractionRetries
	}
	if override.GovernanceMode != "" {
		base.GovernanceMode = override.GovernanceMode
	}
	if len(override.GovernanceRules) > 0 {
		base.GovernanceRules = override.GovernanceRules
	}
	if override.Power.IdleAfter != "" {
		base.Power = override.Power
	}
	if override.Injection.MaxCodeChunks > 0 {
		base.Injection = override.Injection
	}
	if override.EmbeddingModel != "" {
		base.EmbeddingModel = override.EmbeddingModel
	}
	if override.SummarizationModel != "" {
		base.SummarizationModel = override.SummarizationModel
	}
	base.ApplyDocTypeWeights = override.ApplyDocTypeWeights || base.ApplyDocTypeWeights
	base.AutoBackupEnabled = override.AutoBackupEnabled || base.AutoBackupEnabled
}
