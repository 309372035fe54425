package pipeline

import (
	"context"
	"testing"

	"github.com/openagentkit/ci/internal/domain"
)

func TestSummarizeSessions_PersistsSummaryTitleAndEmbedding(t *testing.T) {
	st := newFakeStore()
	st.sessionsWithoutSummary = []domain.Session{{ID: "session-1", Agent: "claude-code"}}
	st.batchesForSession["session-1"] = []domain.PromptBatch{
		{PromptNumber: 1, UserPrompt: "add pagination", ResponseSummary: "added cursor-based pagination"},
	}
	sm := &fakeSummarizer{jsonResponses: []any{
		map[string]any{"summary": "Added cursor-based pagination to the list endpoint."},
		map[string]any{"title": "Add Cursor Pagination"},
	}}
	up := &fakeUpserter{}

	p := newTestPipeline(t, st, sm, up, &fakeAutoResolver{}, &fakeBackupRunner{}, nil)
	p.summarizeSessions(context.Background())

	sess, ok := st.upsertedSessions["session-1"]
	if !ok {
		t.Fatalf("session not upserted")
	}
	if sess.Summary == "" {
		t.Error("expected a summary to be set")
	}
	if sess.Title != "Add Cursor Pagination" {
		t.Errorf("title = %q, want generated title", sess.Title)
	}
	if !sess.SummaryEmbedded {
		t.Error("expected SummaryEmbedded to be true after embedding")
	}
	if len(up.upserts) != 1 || up.upserts[0] != "session_summary/session-1" {
		t.Errorf("upserts = %v, want [session_summary/session-1]", up.upserts)
	}
	if len(st.insertedObservations) != 1 || st.insertedObservations[0].MemoryType != domain.MemorySessionSummary {
		t.Errorf("expected a session_summary observation recorded, got %+v", st.insertedObservations)
	}
}

func TestSummarizeSessions_PreservesManuallyEditedTitle(t *testing.T) {
	st := newFakeStore()
	st.sessionsWithoutSummary = []domain.Session{{ID: "session-1", Title: "My Title", TitleManuallyEdited: true}}
	sm := &fakeSummarizer{jsonResponses: []any{
		map[string]any{"summary": "Did some work."},
		map[string]any{"title": "Generated Title"},
	}}

	p := newTestPipeline(t, st, sm, &fakeUpserter{}, &fakeAutoResolver{}, &fakeBackupRunner{}, nil)
	p.summarizeSessions(context.Background())

	if got := st.upsertedSessions["session-1"].Title; got != "My Title" {
		t.Errorf("title = %q, want manually-edited title preserved", got)
	}
}

func TestGenerateSessionTitle_FallsBackOnMalformedResponse(t *testing.T) {
	st := newFakeStore()
	sm := &fakeSummarizer{jsonResponses: []any{
		errMalformedResponse{},
		errMalformedResponse{},
	}}
	p := newTestPipeline(t, st, sm, &fakeUpserter{}, &fakeAutoResolver{}, &fakeBackupRunner{}, nil)

	title := p.generateSessionTitle(context.Background(), "a reasonably long summary that should get truncated for the fallback title")
	if title == "" {
		t.Error("expected a non-empty fallback title")
	}
	if sm.calls != 2 {
		t.Errorf("expected both the primary and retry attempts to run, calls=%d", sm.calls)
	}
}

type errMalformedResponse struct{}

func (errMalformedResponse) Error() string { return "malformed response" }
