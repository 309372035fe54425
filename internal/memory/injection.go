package memory

import (
	"context"
	"fmt"
	"strings"
)

// InjectionPayload is the text block (plus structured pieces for callers
// that want them) the hook ingestion API folds into a response's
// injected_context field.
type InjectionPayload struct {
	Text     string   `json:"text"`
	CodeIDs  []string `json:"code_ids,omitempty"`
	MemoryIDs []string `json:"memory_ids,omitempty"`
	PlanIDs  []string `json:"plan_ids,omitempty"`
}

// ContextForTask builds the injection payload for a hook event: active
// observations, relevant code chunks, and related session summaries, each
// capped by the configured injection limits and rendered as a compact
// text block a model can read directly. The search is scoped to a file
// only when exactly one path is given. Plans are not included.
func (e *Engine) ContextForTask(ctx context.Context, taskText string, filePaths []string) (InjectionPayload, error) {
	var where map[string]string
	if len(filePaths) == 1 {
		where = map[string]string{"file_path": filePaths[0]}
	}

	results, err := e.Search(ctx, taskText, SearchAll, e.settings.Injection.MaxMemories, false, where)
	if err != nil {
		return InjectionPayload{}, fmt.Errorf("context search: %w", err)
	}

	code := results.Code
	if len(code) > e.settings.Injection.MaxCodeChunks {
		code = code[:e.settings.Injection.MaxCodeChunks]
	}
	mem := results.Memory
	if len(mem) > e.settings.Injection.MaxMemories {
		mem = mem[:e.settings.Injection.MaxMemories]
	}
	sessions := results.Sessions
	if len(sessions) > e.settings.Injection.MaxSessionSummaries {
		sessions = sessions[:e.settings.Injection.MaxSessionSummaries]
	}

	var b strings.Builder
	payload := InjectionPayload{}

	if len(mem) > 0 {
		b.WriteString("Relevant prior observations:\n")
		for _, r := range mem {
			if r.Observation == nil {
				continue
			}
			fmt.Fprintf(&b, "- [%s] %s\n", r.Observation.MemoryType, truncate(r.Observation.ObservationText, 280))
			payload.MemoryIDs = append(payload.MemoryIDs, r.ID)
		}
	}

	if len(code) > 0 {
		b.WriteString("Relevant code:\n")
		for _, r := range code {
			path := r.Metadata["file_path"]
			name := r.Metadata["name"]
			fmt.Fprintf(&b, "- %s (%s)\n", path, name)
			if chunk := truncateLines(r.Content, e.settings.Injection.MaxChunkLines); chunk != "" {
				fmt.Fprintf(&b, "```\n%s\n```\n", chunk)
			}
			payload.CodeIDs = append(payload.CodeIDs, r.ID)
		}
	}

	if len(sessions) > 0 {
		b.WriteString("Related prior sessions:\n")
		for _, r := range sessions {
			if r.Session == nil {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", r.Session.Title, truncate(r.Session.Summary, 200))
		}
	}

	payload.Text = strings.TrimSpace(b.String())
	return payload, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// truncateLines caps a code chunk's content to at most maxLines lines,
// the unit spec'd injection limits for code actually bound content by
// (`Injection.MaxChunkLines`), unlike the byte-capped truncate above used
// for observation/session prose.
func truncateLines(content string, maxLines int) string {
	if content == "" || maxLines <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= maxLines {
		return content
	}
	return strings.Join(lines[:maxLines], "\n") + "\n…"
}
