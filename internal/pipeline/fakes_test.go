package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/openagentkit/ci/internal/domain"
	"github.com/openagentkit/ci/internal/memory"
	"github.com/openagentkit/ci/internal/vectorindex"
)

type fakeStore struct {
	mu sync.Mutex

	stuckBatches        []domain.PromptBatch
	completedBatchIDs   []string
	unprocessedBatches  []domain.PromptBatch
	processedBatchIDs   map[string]string
	annotationBatchIDs  map[string]string
	activitiesForBatch  map[string][]domain.Activity
	batchesForSession   map[string][]domain.PromptBatch
	beginBatchCalls     int
	associatedActivity  map[string]string

	activeSessions         []domain.Session
	lastActivity           map[string]time.Time
	endedSessionIDs        []string
	sessionsWithoutSummary []domain.Session
	upsertedSessions       map[string]domain.Session

	orphanActivities []domain.Activity
	nearestBatch     map[string]domain.PromptBatch

	insertedObservations []domain.Observation
	statusChanges        []string

	pruneDays int
	pruneCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		processedBatchIDs:  map[string]string{},
		annotationBatchIDs: map[string]string{},
		activitiesForBatch: map[string][]domain.Activity{},
		batchesForSession:  map[string][]domain.PromptBatch{},
		associatedActivity: map[string]string{},
		lastActivity:       map[string]time.Time{},
		upsertedSessions:   map[string]domain.Session{},
		nearestBatch:       map[string]domain.PromptBatch{},
	}
}

func (f *fakeStore) StuckBatches(time.Duration) ([]domain.PromptBatch, error) {
	return f.stuckBatches, nil
}

func (f *fakeStore) CompleteBatch(batchID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedBatchIDs = append(f.completedBatchIDs, batchID)
	return nil
}

func (f *fakeStore) UnprocessedCompletedBatches(int) ([]domain.PromptBatch, error) {
	return f.unprocessedBatches, nil
}

func (f *fakeStore) MarkBatchProcessed(batchID, errorAnnotation string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processedBatchIDs[batchID] = errorAnnotation
	return nil
}

func (f *fakeStore) SetBatchErrorAnnotation(batchID, errorAnnotation string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.annotationBatchIDs[batchID] = errorAnnotation
	return nil
}

func (f *fakeStore) ActivitiesForBatch(batchID string) ([]domain.Activity, error) {
	return f.activitiesForBatch[batchID], nil
}

func (f *fakeStore) BatchesForSession(sessionID string) ([]domain.PromptBatch, error) {
	return f.batchesForSession[sessionID], nil
}

func (f *fakeStore) BeginBatch(sessionID, _ string, sourceType domain.BatchSourceType) (domain.PromptBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginBatchCalls++
	return domain.PromptBatch{
		ID:         fmt.Sprintf("recovery-batch-%d", f.beginBatchCalls),
		SessionID:  sessionID,
		SourceType: sourceType,
		StartedAt:  time.Now(),
		Status:     domain.BatchActive,
	}, nil
}

func (f *fakeStore) AssociateActivity(activityID, batchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.associatedActivity[activityID] = batchID
	return nil
}

func (f *fakeStore) ListActiveSessions() ([]domain.Session, error) {
	return f.activeSessions, nil
}

func (f *fakeStore) LastActivityTime(sessionID string) (time.Time, error) {
	return f.lastActivity[sessionID], nil
}

func (f *fakeStore) EndSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endedSessionIDs = append(f.endedSessionIDs, id)
	return nil
}

func (f *fakeStore) ListSessionsWithoutSummary(int) ([]domain.Session, error) {
	return f.sessionsWithoutSummary, nil
}

func (f *fakeStore) UpsertSession(sess domain.Session) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertedSessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeStore) OrphanActivities(int) ([]domain.Activity, error) {
	return f.orphanActivities, nil
}

func (f *fakeStore) NearestBatchInTime(sessionID string, _ time.Time) (domain.PromptBatch, bool, error) {
	b, ok := f.nearestBatch[sessionID]
	return b, ok, nil
}

func (f *fakeStore) InsertObservation(o domain.Observation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.ID == "" {
		o.ID = fmt.Sprintf("obs-%d", len(f.insertedObservations)+1)
	}
	f.insertedObservations = append(f.insertedObservations, o)
	return o.ID, nil
}

func (f *fakeStore) SetObservationStatus(id string, newStatus domain.ObservationStatus, reason, actor, supersededBy string, action domain.ResolutionAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusChanges = append(f.statusChanges, fmt.Sprintf("%s->%s(by %s)", id, newStatus, supersededBy))
	return nil
}

func (f *fakeStore) PruneGovernanceAudit(days int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneDays = days
	f.pruneCalls++
	return 3, nil
}

// fakeSummarizer returns scripted responses in call order, so a test
// scripts extraction, summary, and title calls in the sequence the
// pipeline makes them.
type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	// jsonResponses is consulted in order for CompleteJSON; each entry is
	// either a value to marshal into v, or an error to return.
	jsonResponses []any
}

func (f *fakeSummarizer) Complete(context.Context, string, string) (string, error) {
	return "", nil
}

func (f *fakeSummarizer) CompleteJSON(_ context.Context, _ string, _ string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.jsonResponses) {
		return fmt.Errorf("fakeSummarizer: no scripted response for call %d", f.calls)
	}
	resp := f.jsonResponses[f.calls]
	f.calls++
	if err, ok := resp.(error); ok {
		return err
	}
	return remarshal(resp, v)
}

// remarshal round-trips through JSON, the simplest way to copy an any
// into an interface{} destination without reflection gymnastics.
func remarshal(src, dst interface{}) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

type fakeUpserter struct {
	mu      sync.Mutex
	upserts []string
}

func (f *fakeUpserter) Upsert(_ context.Context, kind vectorindex.Kind, id, _ string, _ []float32, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, string(kind)+"/"+id)
	return nil
}

type fakeAutoResolver struct {
	candidates []memory.ResolveCandidate
	err        error
}

func (f *fakeAutoResolver) AutoResolveCandidates(context.Context, domain.Observation) ([]memory.ResolveCandidate, error) {
	return f.candidates, f.err
}

type fakeBackupRunner struct {
	mu    sync.Mutex
	runs  int
	path  string
	err   error
}

func (f *fakeBackupRunner) Run(string, bool, bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

type fakeSessionInvalidator struct {
	mu            sync.Mutex
	invalidatedID []string
}

func (f *fakeSessionInvalidator) InvalidateSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidatedID = append(f.invalidatedID, sessionID)
}
