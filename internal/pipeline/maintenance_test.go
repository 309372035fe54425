package pipeline

import (
	"testing"
	"time"
)

func TestRunAutoBackup_RunsOnceIntervalElapsed(t *testing.T) {
	st := newFakeStore()
	bk := &fakeBackupRunner{path: "/history/backup.json"}
	p := newTestPipeline(t, st, &fakeSummarizer{}, &fakeUpserter{}, &fakeAutoResolver{}, bk, nil)
	p.settings.AutoBackupEnabled = true
	p.settings.AutoBackupIntervalHours = 24

	p.runAutoBackup(time.Now())
	if bk.runs != 1 {
		t.Fatalf("expected one backup run, got %d", bk.runs)
	}

	// Running again immediately should not trigger another backup.
	p.runAutoBackup(time.Now())
	if bk.runs != 1 {
		t.Errorf("expected backup to stay at 1 run before the interval elapses, got %d", bk.runs)
	}
}

func TestRunAutoBackup_SkippedWhenDisabled(t *testing.T) {
	st := newFakeStore()
	bk := &fakeBackupRunner{}
	p := newTestPipeline(t, st, &fakeSummarizer{}, &fakeUpserter{}, &fakeAutoResolver{}, bk, nil)
	p.settings.AutoBackupEnabled = false

	p.runAutoBackup(time.Now())
	if bk.runs != 0 {
		t.Errorf("expected no backup run when disabled, got %d", bk.runs)
	}
}

func TestPruneGovernanceAudit_UsesConfiguredRetention(t *testing.T) {
	st := newFakeStore()
	p := newTestPipeline(t, st, &fakeSummarizer{}, &fakeUpserter{}, &fakeAutoResolver{}, &fakeBackupRunner{}, nil)
	p.settings.AuditRetentionDays = 45

	p.pruneGovernanceAudit(time.Now())
	if st.pruneDays != 45 {
		t.Errorf("pruneDays = %d, want 45", st.pruneDays)
	}
}
