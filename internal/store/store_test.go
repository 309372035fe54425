package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/openagentkit/ci/internal/ciaerr"
	"github.com/openagentkit/ci/internal/domain"

	_ "modernc.org/sqlite"
)

// testStore returns a Store backed by an in-memory SQLite database.
func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	s, err := NewFromDB(db)
	if err != nil {
		db.Close()
		t.Fatalf("new store from db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertSession(t *testing.T) {
	s := testStore(t)

	t.Run("inserts a new session", func(t *testing.T) {
		sess, err := s.UpsertSession(domain.Session{Agent: "claude-code", ProjectRoot: "/tmp/proj"})
		if err != nil {
			t.Fatalf("UpsertSession: %v", err)
		}
		if sess.ID == "" {
			t.Error("expected generated ID")
		}
		if sess.Status != domain.SessionActive {
			t.Errorf("Status = %q, want active", sess.Status)
		}
	})

	t.Run("never clobbers a manually edited title", func(t *testing.T) {
		sess, err := s.UpsertSession(domain.Session{Agent: "claude-code"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		sess.Title = "My Custom Title"
		sess.TitleManuallyEdited = true
		if _, err := s.UpsertSession(sess); err != nil {
			t.Fatalf("set manual title: %v", err)
		}

		updated, err := s.UpsertSession(domain.Session{ID: sess.ID, Title: "Auto Generated Title"})
		if err != nil {
			t.Fatalf("auto-update: %v", err)
		}
		if updated.Title != "My Custom Title" {
			t.Errorf("Title = %q, want preserved manual title", updated.Title)
		}
	})
}

func TestLinkParentSessionRejectsCycle(t *testing.T) {
	s := testStore(t)

	a, _ := s.UpsertSession(domain.Session{Agent: "x"})
	b, _ := s.UpsertSession(domain.Session{Agent: "x"})
	c, _ := s.UpsertSession(domain.Session{Agent: "x"})

	if err := s.LinkParentSession(b.ID, a.ID, "resume"); err != nil {
		t.Fatalf("link b->a: %v", err)
	}
	if err := s.LinkParentSession(c.ID, b.ID, "resume"); err != nil {
		t.Fatalf("link c->b: %v", err)
	}

	// a -> c would close the cycle a -> c -> b -> a.
	if err := s.LinkParentSession(a.ID, c.ID, "resume"); !ciaerr.Is(err, ciaerr.ErrValidation) {
		t.Fatalf("expected validation error for cycle, got %v", err)
	}
}

func TestBeginBatchConflict(t *testing.T) {
	s := testStore(t)
	sess, _ := s.UpsertSession(domain.Session{Agent: "x"})

	if _, err := s.BeginBatch(sess.ID, "hello", domain.SourceUser); err != nil {
		t.Fatalf("first BeginBatch: %v", err)
	}
	if _, err := s.BeginBatch(sess.ID, "again", domain.SourceUser); !ciaerr.Is(err, ciaerr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestBeginBatchPromptNumbering(t *testing.T) {
	s := testStore(t)
	sess, _ := s.UpsertSession(domain.Session{Agent: "x"})

	b1, err := s.BeginBatch(sess.ID, "first", domain.SourceUser)
	if err != nil {
		t.Fatalf("begin 1: %v", err)
	}
	if err := s.CompleteBatch(b1.ID, "ok"); err != nil {
		t.Fatalf("complete 1: %v", err)
	}
	b2, err := s.BeginBatch(sess.ID, "second", domain.SourceUser)
	if err != nil {
		t.Fatalf("begin 2: %v", err)
	}
	if b2.PromptNumber != 2 {
		t.Errorf("PromptNumber = %d, want 2", b2.PromptNumber)
	}
}

func TestBatchesForSessionAndErrorAnnotation(t *testing.T) {
	s := testStore(t)
	sess, _ := s.UpsertSession(domain.Session{Agent: "x"})

	b1, _ := s.BeginBatch(sess.ID, "first", domain.SourceUser)
	if err := s.CompleteBatch(b1.ID, "ok"); err != nil {
		t.Fatalf("complete 1: %v", err)
	}
	b2, _ := s.BeginBatch(sess.ID, "second", domain.SourceUser)
	if err := s.CompleteBatch(b2.ID, "ok"); err != nil {
		t.Fatalf("complete 2: %v", err)
	}

	batches, err := s.BatchesForSession(sess.ID)
	if err != nil {
		t.Fatalf("BatchesForSession: %v", err)
	}
	if len(batches) != 2 || batches[0].PromptNumber != 1 || batches[1].PromptNumber != 2 {
		t.Fatalf("batches = %+v, want prompt_number 1 then 2", batches)
	}

	if err := s.SetBatchErrorAnnotation(b1.ID, `{"attempt":1}`); err != nil {
		t.Fatalf("SetBatchErrorAnnotation: %v", err)
	}
	got, err := s.GetBatch(b1.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.ErrorAnnotation != `{"attempt":1}` {
		t.Errorf("ErrorAnnotation = %q, want the recorded retry state", got.ErrorAnnotation)
	}
	if got.Processed {
		t.Error("SetBatchErrorAnnotation must not flip processed")
	}
}

func TestAppendActivityDedup(t *testing.T) {
	s := testStore(t)
	sess, _ := s.UpsertSession(domain.Session{Agent: "x"})
	now := time.Now()

	a := domain.Activity{SessionID: sess.ID, ToolName: "Read", ToolUseID: "tu1", CreatedAt: now, Success: true}
	id1, err := s.AppendActivity(a)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}

	a.ID = "" // simulate a retry with a fresh generated ID but same logical identity
	id2, err := s.AppendActivity(a)
	if err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	if id1 != id2 {
		t.Errorf("dedup failed: id1=%s id2=%s", id1, id2)
	}

	count, err := s.ActivityCountForSession(sess.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("ActivityCountForSession = %d, want 1", count)
	}
}

func TestObservationDedupAndImportanceCap(t *testing.T) {
	s := testStore(t)

	obs := domain.Observation{
		MemoryType:        domain.MemoryGotcha,
		ObservationText:   "constants.ts is 800 lines",
		Context:           "src/lib/constants.ts",
		SessionOriginType: domain.OriginPlanning,
		Importance:        9,
	}
	id1, err := s.InsertObservation(obs)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.GetObservation(id1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Importance != 5 {
		t.Errorf("Importance = %d, want capped at 5 for planning origin", got.Importance)
	}

	id2, err := s.InsertObservation(obs)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected dedup hit, got different ids %s vs %s", id1, id2)
	}
}

func TestSetObservationStatusSupersede(t *testing.T) {
	s := testStore(t)

	oldID, _ := s.InsertObservation(domain.Observation{MemoryType: domain.MemoryGotcha, ObservationText: "old", Context: "a.go"})
	newID, _ := s.InsertObservation(domain.Observation{MemoryType: domain.MemoryGotcha, ObservationText: "new", Context: "a.go"})

	if err := s.SetObservationStatus(oldID, domain.ObservationSuperseded, "superseded by newer finding", "pipeline", newID, domain.ActionSupersede); err != nil {
		t.Fatalf("SetObservationStatus: %v", err)
	}

	old, err := s.GetObservation(oldID)
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if old.Status != domain.ObservationSuperseded || old.SupersededBy != newID {
		t.Errorf("old observation not superseded correctly: status=%s superseded_by=%s", old.Status, old.SupersededBy)
	}

	// Reject silent reactivation.
	if err := s.SetObservationStatus(oldID, domain.ObservationActive, "oops", "pipeline", "", domain.ActionResolve); !ciaerr.Is(err, ciaerr.ErrConflict) {
		t.Fatalf("expected conflict reactivating without explicit action, got %v", err)
	}
}

func TestOrphanActivityRecovery(t *testing.T) {
	s := testStore(t)
	sess, _ := s.UpsertSession(domain.Session{Agent: "x"})
	batch, _ := s.BeginBatch(sess.ID, "hi", domain.SourceUser)

	id, err := s.AppendActivity(domain.Activity{SessionID: sess.ID, ToolName: "Read", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	orphans, err := s.OrphanActivities(10)
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("expected 1 orphan, got %d", len(orphans))
	}

	if err := s.AssociateActivity(id, batch.ID); err != nil {
		t.Fatalf("associate: %v", err)
	}
	orphans, err = s.OrphanActivities(10)
	if err != nil {
		t.Fatalf("orphans after associate: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("expected 0 orphans after associate, got %d", len(orphans))
	}
}

func TestBackupExportImportRoundTrip(t *testing.T) {
	src := testStore(t)
	for i := 0; i < 3; i++ {
		sess, _ := src.UpsertSession(domain.Session{Agent: "x", ProjectRoot: "/p"})
		batch, _ := src.BeginBatch(sess.ID, "hello", domain.SourceUser)
		src.CompleteBatch(batch.ID, "done")
		src.InsertObservation(domain.Observation{
			MemoryType: domain.MemoryDecision, ObservationText: "decided X", SourceSessionID: sess.ID,
		})
	}

	backup, err := src.Export(false, false)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(backup.Sessions) != 3 {
		t.Fatalf("exported %d sessions, want 3", len(backup.Sessions))
	}

	dst := testStore(t)
	counts, err := dst.Import(backup)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if counts.SessionsImported != 3 {
		t.Errorf("SessionsImported = %d, want 3", counts.SessionsImported)
	}

	counts2, err := dst.Import(backup)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if counts2.SessionsImported != 0 {
		t.Errorf("re-import SessionsImported = %d, want 0 (full dedup)", counts2.SessionsImported)
	}
	if counts2.ObservationsImported != 0 || counts2.ObservationsSkipped != 1 {
		t.Errorf("re-import observations = imported:%d skipped:%d, want 0/1", counts2.ObservationsImported, counts2.ObservationsSkipped)
	}
}
