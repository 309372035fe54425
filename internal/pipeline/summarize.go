package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/openagentkit/ci/internal/domain"
	"github.com/openagentkit/ci/internal/vectorindex"
)

const sessionSummarySystemPrompt = `You summarize a finished coding-agent session for future reference: what
was asked, what changed, and the overall outcome. Two to four sentences,
no preamble. Respond with JSON only: {"summary":"..."}`

// titleSystemPrompt is deliberately undemanding: a short, non-reasoning
// completion is enough for a session title and keeps this step cheap.
const titleSystemPrompt = `Give a short, five-to-eight word title for this session summary,
written as a noun phrase, no trailing punctuation. Respond with JSON
only: {"title":"..."}`

type sessionSummaryResult struct {
	Summary string `json:"summary"`
}

type sessionTitleResult struct {
	Title string `json:"title"`
}

// summarizeSessions generates a summary and title for completed sessions
// that don't yet have one, then embeds the summary into the vector index
// as a session_summary document.
func (p *Pipeline) summarizeSessions(ctx context.Context) {
	sessions, err := p.store.ListSessionsWithoutSummary(20)
	if err != nil {
		p.logger.Warn().Err(err).Msg("list sessions without summary failed")
		return
	}

	for _, sess := range sessions {
		summary, err := p.generateSessionSummary(ctx, sess)
		if err != nil {
			p.logger.Warn().Err(err).Str("session", sess.ID).Msg("summarize session failed")
			continue
		}
		title := p.generateSessionTitle(ctx, summary)

		sess.Summary = summary
		if !sess.TitleManuallyEdited && title != "" {
			sess.Title = title
		}
		updated, err := p.store.UpsertSession(sess)
		if err != nil {
			p.logger.Warn().Err(err).Str("session", sess.ID).Msg("persist session summary failed")
			continue
		}

		if _, err := p.store.InsertObservation(domain.Observation{
			MemoryType:        domain.MemorySessionSummary,
			ObservationText:   summary,
			SourceSessionID:   updated.ID,
			SourceMachineID:   p.machineID,
			SessionOriginType: domain.OriginMixed,
			Importance:        5,
		}); err != nil {
			p.logger.Warn().Err(err).Str("session", updated.ID).Msg("record session summary observation failed")
			continue
		}

		if err := p.index.Upsert(ctx, vectorindex.KindSessionSummary, updated.ID, summary, nil, map[string]string{
			"agent": updated.Agent,
		}); err != nil {
			p.logger.Warn().Err(err).Str("session", updated.ID).Msg("embed session summary failed")
			continue
		}

		updated.SummaryEmbedded = true
		if _, err := p.store.UpsertSession(updated); err != nil {
			p.logger.Warn().Err(err).Str("session", updated.ID).Msg("mark session summary embedded failed")
		}
	}
}

func (p *Pipeline) generateSessionSummary(ctx context.Context, sess domain.Session) (string, error) {
	batches, err := p.store.BatchesForSession(sess.ID)
	if err != nil {
		return "", fmt.Errorf("load batches: %w", err)
	}

	var result sessionSummaryResult
	if err := p.summarizer.CompleteJSON(ctx, sessionSummarySystemPrompt, buildSessionTranscript(sess, batches), &result); err != nil {
		return "", fmt.Errorf("summarize session: %w", err)
	}
	if strings.TrimSpace(result.Summary) == "" {
		return "", fmt.Errorf("summarization returned an empty summary")
	}
	return result.Summary, nil
}

// generateSessionTitle asks for a title, retrying once with a stricter
// reminder if the first response didn't parse or came back empty. A
// session otherwise ready to persist never blocks on a failed title —
// after two failed attempts it returns a truncated summary instead.
func (p *Pipeline) generateSessionTitle(ctx context.Context, summary string) string {
	var result sessionTitleResult
	err := p.summarizer.CompleteJSON(ctx, titleSystemPrompt, summary, &result)
	if err != nil || strings.TrimSpace(result.Title) == "" {
		err = p.summarizer.CompleteJSON(ctx, titleSystemPrompt+"\nReturn ONLY the JSON object, nothing else.", summary, &result)
	}
	if err != nil || strings.TrimSpace(result.Title) == "" {
		return truncate(summary, 60)
	}
	return strings.TrimSpace(result.Title)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}

// buildSessionTranscript renders a session's batches into the text the
// summarization system prompt reasons over.
func buildSessionTranscript(sess domain.Session, batches []domain.PromptBatch) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Agent: %s\n\n", sess.Agent)
	for _, b := range batches {
		fmt.Fprintf(&sb, "Prompt %d: %s\n", b.PromptNumber, b.UserPrompt)
		if b.ResponseSummary != "" {
			fmt.Fprintf(&sb, "Response: %s\n", b.ResponseSummary)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
