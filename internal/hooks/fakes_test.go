package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openagentkit/ci/internal/ciaerr"
	"github.com/openagentkit/ci/internal/config"
	"github.com/openagentkit/ci/internal/domain"
	"github.com/openagentkit/ci/internal/governance"
	"github.com/openagentkit/ci/internal/indexer"
	"github.com/openagentkit/ci/internal/memory"
	"github.com/openagentkit/ci/internal/scheduler"
	"github.com/openagentkit/ci/internal/store"
	"github.com/openagentkit/ci/internal/vectorindex"
)

type fakeStore struct {
	mu sync.Mutex

	sessions      map[string]domain.Session
	linkedParent  map[string]string
	endedSessions []string

	batches       map[string]domain.PromptBatch
	batchCounter  int
	plansMarked   map[string]string

	activities []domain.Activity

	plans map[string]domain.Plan

	observations       map[string]domain.Observation
	observationCounter int
	statusChanges      []string

	auditEvents []domain.GovernanceAuditEvent
	prunedDays  int
	resetCalls  int

	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:     map[string]domain.Session{},
		linkedParent: map[string]string{},
		batches:      map[string]domain.PromptBatch{},
		plansMarked:  map[string]string{},
		plans:        map[string]domain.Plan{},
		observations: map[string]domain.Observation{},
	}
}

func (f *fakeStore) UpsertSession(sess domain.Session) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeStore) GetSession(id string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return domain.Session{}, ciaerr.ErrNotFound
	}
	return sess, nil
}

func (f *fakeStore) EndSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return ciaerr.ErrNotFound
	}
	f.endedSessions = append(f.endedSessions, id)
	return nil
}

func (f *fakeStore) LinkParentSession(childID, parentID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkedParent[childID] = parentID
	return nil
}

func (f *fakeStore) ListSessions(string, int) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Session, 0, len(f.sessions))
	for _, sess := range f.sessions {
		out = append(out, sess)
	}
	return out, nil
}

func (f *fakeStore) ListActiveSessions() ([]domain.Session, error) {
	return f.ListSessions("", 0)
}

func (f *fakeStore) DeleteSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

// BeginBatch mirrors the real store's conflict semantics: it refuses to
// open a second batch while one is still active for the session, which
// is exactly what the UserPromptSubmit interrupt-handling path needs to
// exercise to be a meaningful test.
func (f *fakeStore) BeginBatch(sessionID, userPrompt string, sourceType domain.BatchSourceType) (domain.PromptBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	maxNum := 0
	for _, b := range f.batches {
		if b.SessionID != sessionID {
			continue
		}
		if b.Status == domain.BatchActive {
			return domain.PromptBatch{}, ciaerr.ErrConflict
		}
		if b.PromptNumber > maxNum {
			maxNum = b.PromptNumber
		}
	}
	f.batchCounter++
	b := domain.PromptBatch{
		ID:           fmt.Sprintf("batch-%d", f.batchCounter),
		SessionID:    sessionID,
		PromptNumber: maxNum + 1,
		UserPrompt:   userPrompt,
		SourceType:   sourceType,
		StartedAt:    time.Now(),
		Status:       domain.BatchActive,
	}
	f.batches[b.ID] = b
	return b, nil
}

func (f *fakeStore) ActiveBatchForSession(sessionID string) (domain.PromptBatch, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.batches {
		if b.SessionID == sessionID && b.Status == domain.BatchActive {
			return b, true, nil
		}
	}
	return domain.PromptBatch{}, false, nil
}

func (f *fakeStore) CompleteBatch(batchID, responseSummary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[batchID]
	if !ok {
		return ciaerr.ErrNotFound
	}
	b.Status = domain.BatchCompleted
	b.ResponseSummary = responseSummary
	f.batches[batchID] = b
	return nil
}

func (f *fakeStore) GetBatch(id string) (domain.PromptBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return domain.PromptBatch{}, ciaerr.ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) BatchesForSession(sessionID string) ([]domain.PromptBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PromptBatch
	for _, b := range f.batches {
		if b.SessionID == sessionID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkBatchPlan(batchID, planFilePath, planContent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[batchID]
	if !ok {
		return ciaerr.ErrNotFound
	}
	b.SourceType = domain.SourcePlan
	b.PlanFilePath = planFilePath
	b.PlanContent = planContent
	f.batches[batchID] = b
	f.plansMarked[batchID] = planFilePath
	return nil
}

func (f *fakeStore) AppendActivity(a domain.Activity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = fmt.Sprintf("activity-%d", len(f.activities)+1)
	f.activities = append(f.activities, a)
	return a.ID, nil
}

func (f *fakeStore) UpsertPlan(p domain.Plan) (domain.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = fmt.Sprintf("plan-%d", len(f.plans)+1)
	}
	f.plans[p.ID] = p
	return p, nil
}

func (f *fakeStore) GetPlan(id string) (domain.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[id]
	if !ok {
		return domain.Plan{}, ciaerr.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) InsertObservation(o domain.Observation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.observationCounter++
	if o.ID == "" {
		o.ID = fmt.Sprintf("obs-%d", f.observationCounter)
	}
	o.Status = domain.ObservationActive
	f.observations[o.ID] = o
	return o.ID, nil
}

func (f *fakeStore) GetObservation(id string) (domain.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.observations[id]
	if !ok {
		return domain.Observation{}, ciaerr.ErrNotFound
	}
	return o, nil
}

func (f *fakeStore) ListObservations(includeResolved bool, limit, offset int) ([]domain.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Observation
	for _, o := range f.observations {
		if !includeResolved && o.Status != domain.ObservationActive {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeStore) SetObservationStatus(id string, newStatus domain.ObservationStatus, reason, actor, supersededBy string, action domain.ResolutionAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.observations[id]
	if !ok {
		return ciaerr.ErrNotFound
	}
	o.Status = newStatus
	o.SupersededBy = supersededBy
	f.observations[id] = o
	f.statusChanges = append(f.statusChanges, fmt.Sprintf("%s:%s:%s:%s", id, newStatus, actor, action))
	return nil
}

func (f *fakeStore) ListGovernanceAuditEvents(limit, offset int) ([]domain.GovernanceAuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auditEvents, nil
}

func (f *fakeStore) PruneGovernanceAudit(retentionDays int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunedDays = retentionDays
	return int64(len(f.auditEvents)), nil
}

func (f *fakeStore) ResetProcessing() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	return 2, nil
}

func (f *fakeStore) ObservationDocs(context.Context) ([]vectorindex.RebuildDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := make([]vectorindex.RebuildDoc, 0, len(f.observations))
	for id, o := range f.observations {
		docs = append(docs, vectorindex.RebuildDoc{ID: id, Content: o.ObservationText})
	}
	return docs, nil
}

func (f *fakeStore) PlanDocs(context.Context) ([]vectorindex.RebuildDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := make([]vectorindex.RebuildDoc, 0, len(f.plans))
	for id, p := range f.plans {
		docs = append(docs, vectorindex.RebuildDoc{ID: id, Content: p.Content})
	}
	return docs, nil
}

func (f *fakeStore) SessionSummaryDocs(context.Context) ([]vectorindex.RebuildDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var docs []vectorindex.RebuildDoc
	for id, sess := range f.sessions {
		if sess.Summary == "" {
			continue
		}
		docs = append(docs, vectorindex.RebuildDoc{ID: id, Content: sess.Summary})
	}
	return docs, nil
}

// fakeMemory is a stub MemoryEngine; errOnTask lets a test force the
// fail-open path through a hook handler.
type fakeMemory struct {
	mu        sync.Mutex
	payload   memory.InjectionPayload
	errOnTask error
	calls     int
}

func (f *fakeMemory) ContextForTask(context.Context, string, []string) (memory.InjectionPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.errOnTask != nil {
		return memory.InjectionPayload{}, f.errOnTask
	}
	return f.payload, nil
}

func (f *fakeMemory) Search(context.Context, string, memory.SearchType, int, bool, map[string]string) (memory.SearchResults, error) {
	return memory.SearchResults{}, nil
}

func (f *fakeMemory) AutoResolveCandidates(context.Context, domain.Observation) ([]memory.ResolveCandidate, error) {
	return nil, nil
}

type fakeGovernance struct {
	verdict  governance.Verdict
	err      error
	calls    int
	mode     string
	rules    []config.GovernanceRule
	setCalls int
}

func (f *fakeGovernance) Check(string, string, map[string]any, string) (governance.Verdict, error) {
	f.calls++
	if f.err != nil {
		return governance.Verdict{}, f.err
	}
	return f.verdict, nil
}

func (f *fakeGovernance) SetRules(mode string, rules []config.GovernanceRule) {
	f.setCalls++
	f.mode = mode
	f.rules = rules
}

type fakePower struct {
	mu          sync.Mutex
	activityLog []time.Time
	state       scheduler.PowerState
}

func (f *fakePower) RecordActivity(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activityLog = append(f.activityLog, now)
}

func (f *fakePower) State(time.Time) scheduler.PowerState {
	if f.state == "" {
		return scheduler.StateActive
	}
	return f.state
}

type fakeBackup struct {
	runPath    string
	runErr     error
	restoreErr error
	names      []string
}

func (f *fakeBackup) Run(string, bool, bool) (string, error) {
	if f.runErr != nil {
		return "", f.runErr
	}
	return f.runPath, nil
}

func (f *fakeBackup) Restore(name string) (store.BackupCounts, error) {
	if f.restoreErr != nil {
		return store.BackupCounts{}, f.restoreErr
	}
	return store.BackupCounts{ObservationsImported: 1}, nil
}

func (f *fakeBackup) RestoreAll() ([]store.BackupCounts, error) {
	out := make([]store.BackupCounts, len(f.names))
	return out, nil
}

func (f *fakeBackup) List() ([]string, error) {
	return f.names, nil
}

type fakeScanner struct {
	stats indexer.RunStats
	err   error
}

func (f *fakeScanner) FullScan(context.Context) (indexer.RunStats, error) {
	return f.stats, f.err
}

type fakeVectorIndex struct {
	mu          sync.Mutex
	upserted    []string
	rebuiltKind map[vectorindex.Kind]int
	compacted   bool
}

func (f *fakeVectorIndex) Upsert(_ context.Context, kind vectorindex.Kind, id, _ string, _ []float32, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, string(kind)+"/"+id)
	return nil
}

func (f *fakeVectorIndex) RebuildKind(_ context.Context, kind vectorindex.Kind, docs []vectorindex.RebuildDoc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rebuiltKind == nil {
		f.rebuiltKind = map[vectorindex.Kind]int{}
	}
	f.rebuiltKind[kind] = len(docs)
	return nil
}

func (f *fakeVectorIndex) Compact(context.Context) error {
	f.compacted = true
	return nil
}

func (f *fakeVectorIndex) Count(vectorindex.Kind) (int, error) {
	return 0, nil
}
