// Package governance implements the Governance Evaluator: a synchronous
// PreToolUse check that matches a tool invocation against configured
// rules in order, logs an audit event, and returns a decision the hook
// API may use to allow, warn, or deny the call.
package governance

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openagentkit/ci/internal/config"
	"github.com/openagentkit/ci/internal/domain"
)

// ToolCategory buckets a tool name for filtering/reporting. The mapping
// is intentionally small and fixed rather than configurable.
type ToolCategory string

const (
	CategoryFilesystem ToolCategory = "filesystem"
	CategoryShell      ToolCategory = "shell"
	CategoryNetwork    ToolCategory = "network"
	CategoryAgent      ToolCategory = "agent"
	CategoryOther      ToolCategory = "other"
)

var toolCategories = map[string]ToolCategory{
	"read":      CategoryFilesystem,
	"write":     CategoryFilesystem,
	"edit":      CategoryFilesystem,
	"glob":      CategoryFilesystem,
	"grep":      CategoryFilesystem,
	"bash":      CategoryShell,
	"shell":     CategoryShell,
	"webfetch":  CategoryNetwork,
	"websearch": CategoryNetwork,
	"task":      CategoryAgent,
	"agent":     CategoryAgent,
}

// CategoryFor classifies a tool name, defaulting to "other" for unknown
// tools.
func CategoryFor(toolName string) ToolCategory {
	if cat, ok := toolCategories[strings.ToLower(toolName)]; ok {
		return cat
	}
	return CategoryOther
}

// normalizeEventName lowercases and strips "-"/"_" so rule authors and
// hook callers don't have to agree on exact casing/separators.
func normalizeEventName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// AuditRecorder persists governance audit events; satisfied by
// *store.Store.
type AuditRecorder interface {
	InsertGovernanceAuditEvent(e domain.GovernanceAuditEvent) (string, error)
}

// Evaluator evaluates tool invocations against the configured rule list.
type Evaluator struct {
	mu    sync.RWMutex
	mode  string // observe | enforce
	rules []config.GovernanceRule
	audit AuditRecorder
}

func New(settings config.Settings, audit AuditRecorder) *Evaluator {
	return &Evaluator{mode: settings.GovernanceMode, rules: settings.GovernanceRules, audit: audit}
}

// SetRules swaps the mode/rule list an already-running Evaluator checks
// against, so a governance config update takes effect on the next
// PreToolUse call instead of requiring a daemon restart.
func (e *Evaluator) SetRules(mode string, rules []config.GovernanceRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
	e.rules = rules
}

// Verdict is the outcome of evaluating one tool invocation.
type Verdict struct {
	Decision domain.GovernanceDecision
	RuleName string
	Message  string
}

// Check is the PreToolUse contract: given a tool invocation, evaluate
// the rule list in order (first match wins), record an audit event, and
// return the decision the hook response should carry. Observe mode
// downgrades warn/deny to observe; allow always bypasses further rules.
func (e *Evaluator) Check(sessionID, toolName string, toolInput map[string]any, filePath string) (Verdict, error) {
	e.mu.RLock()
	mode := e.mode
	rules := e.rules
	e.mu.RUnlock()

	normalizedTool := normalizeEventName(toolName)

	serializedInput := ""
	if toolInput != nil {
		if b, err := json.Marshal(toolInput); err == nil {
			serializedInput = string(b)
		}
	}

	verdict := Verdict{Decision: domain.DecisionAllow}
	for _, rule := range rules {
		if !e.ruleMatches(rule, normalizedTool, serializedInput, filePath) {
			continue
		}
		verdict = Verdict{Decision: domain.GovernanceDecision(rule.Decision), RuleName: rule.Name}
		break
	}

	effective := verdict.Decision
	if mode != "enforce" && effective != domain.DecisionAllow {
		effective = domain.DecisionObserve
	}

	if verdict.Decision == domain.DecisionWarn || verdict.Decision == domain.DecisionDeny {
		verdict.Message = fmt.Sprintf("governance rule %q matched: %s", verdict.RuleName, verdict.Decision)
	}

	shouldAudit := effective != domain.DecisionAllow || ruleLogsAllowed(rules, verdict.RuleName)
	if shouldAudit && e.audit != nil {
		_, err := e.audit.InsertGovernanceAuditEvent(domain.GovernanceAuditEvent{
			SessionID: sessionID,
			ToolName:  toolName,
			RuleName:  verdict.RuleName,
			Decision:  effective,
			Mode:      mode,
			Message:   verdict.Message,
		})
		if err != nil {
			return Verdict{}, fmt.Errorf("record audit event: %w", err)
		}
	}

	verdict.Decision = effective
	return verdict, nil
}

func ruleLogsAllowed(rules []config.GovernanceRule, name string) bool {
	for _, r := range rules {
		if r.Name == name {
			return r.LogAllowed
		}
	}
	return false
}

func (e *Evaluator) ruleMatches(rule config.GovernanceRule, normalizedTool, serializedInput, filePath string) bool {
	glob := rule.ToolGlob
	if glob == "" {
		glob = "*"
	}
	if ok, _ := doublestar.Match(normalizeEventName(glob), normalizedTool); !ok {
		return false
	}

	if rule.InputRegex != "" {
		re, err := regexp.Compile(rule.InputRegex)
		if err != nil || !re.MatchString(serializedInput) {
			return false
		}
	}

	if rule.FilePathFnmatch != "" {
		if filePath == "" {
			return false
		}
		if ok, _ := doublestar.Match(rule.FilePathFnmatch, filePath); !ok {
			return false
		}
	}

	return true
}
