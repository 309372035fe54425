// Package pipeline implements the Background Pipeline: a fixed-interval
// tick loop that reconciles stuck/stale/orphaned session state, extracts
// durable observations from completed prompt batches, summarizes
// finished sessions, runs scheduled backups, and prunes governance audit
// history. Every step is gated by the scheduler's power state so it
// backs off automatically once a project goes quiet.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagentkit/ci/internal/config"
	"github.com/openagentkit/ci/internal/domain"
	"github.com/openagentkit/ci/internal/memory"
	"github.com/openagentkit/ci/internal/scheduler"
	"github.com/openagentkit/ci/internal/vectorindex"
)

// Store is the subset of the Activity Store the pipeline reads and
// writes, satisfied by *store.Store.
type Store interface {
	StuckBatches(staleDuration time.Duration) ([]domain.PromptBatch, error)
	CompleteBatch(batchID, responseSummary string) error
	UnprocessedCompletedBatches(limit int) ([]domain.PromptBatch, error)
	MarkBatchProcessed(batchID, errorAnnotation string) error
	SetBatchErrorAnnotation(batchID, errorAnnotation string) error
	ActivitiesForBatch(batchID string) ([]domain.Activity, error)
	BatchesForSession(sessionID string) ([]domain.PromptBatch, error)
	BeginBatch(sessionID, userPrompt string, sourceType domain.BatchSourceType) (domain.PromptBatch, error)
	AssociateActivity(activityID, batchID string) error

	ListActiveSessions() ([]domain.Session, error)
	LastActivityTime(sessionID string) (time.Time, error)
	EndSession(id string) error
	ListSessionsWithoutSummary(limit int) ([]domain.Session, error)
	UpsertSession(sess domain.Session) (domain.Session, error)

	OrphanActivities(limit int) ([]domain.Activity, error)
	NearestBatchInTime(sessionID string, t time.Time) (domain.PromptBatch, bool, error)

	InsertObservation(o domain.Observation) (string, error)
	SetObservationStatus(id string, newStatus domain.ObservationStatus, reason, actor, supersededBy string, action domain.ResolutionAction) error

	PruneGovernanceAudit(retentionDays int) (int64, error)
}

// Summarizer is the subset of the Embedding/Summarization client the
// pipeline calls for observation extraction and session summarization.
type Summarizer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	CompleteJSON(ctx context.Context, system, prompt string, v interface{}) error
}

// Upserter is the subset of the Vector Index the pipeline writes
// extracted observations and session summaries into.
type Upserter interface {
	Upsert(ctx context.Context, kind vectorindex.Kind, id, content string, embedding []float32, metadata map[string]string) error
}

// AutoResolver finds existing observations a newly extracted one likely
// supersedes, satisfied by *memory.Engine.
type AutoResolver interface {
	AutoResolveCandidates(ctx context.Context, newObs domain.Observation) ([]memory.ResolveCandidate, error)
}

// BackupRunner persists a project snapshot to the history directory,
// satisfied by *backup.Manager.
type BackupRunner interface {
	Run(projectRoot string, includeActivities, includeAudit bool) (string, error)
}

// SessionInvalidator lets background recovery tell the hook API's session
// cache to drop a hot entry it no longer agrees with, satisfied by
// *hooks.Server. Recovery mutates batch/session rows the cache may be
// holding stale copies of (an ActiveBatchID the cache still thinks is
// open after recovery completed it, say); every recovery step that
// touches a session must call InvalidateSession for it so the next hook
// request re-reads from the store.
type SessionInvalidator interface {
	InvalidateSession(sessionID string)
}

// Pipeline is the Background Pipeline component.
type Pipeline struct {
	store       Store
	index       Upserter
	summarizer  Summarizer
	autoResolve AutoResolver
	backup      BackupRunner
	power       *scheduler.PowerController
	settings    config.Settings
	projectRoot string
	machineID   string
	logger      zerolog.Logger

	invalidate SessionInvalidator

	lastBackup time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// SetSessionInvalidator wires the hook API's session cache into recovery.
// Optional: recovery simply skips invalidation when none is set, which is
// only safe if nothing is serving hook traffic concurrently (tests).
func (p *Pipeline) SetSessionInvalidator(inv SessionInvalidator) {
	p.invalidate = inv
}

func (p *Pipeline) invalidateSession(sessionID string) {
	if p.invalidate != nil {
		p.invalidate.InvalidateSession(sessionID)
	}
}

func New(
	store Store,
	index Upserter,
	summarizer Summarizer,
	autoResolve AutoResolver,
	backup BackupRunner,
	power *scheduler.PowerController,
	settings config.Settings,
	projectRoot, machineID string,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		store:       store,
		index:       index,
		summarizer:  summarizer,
		autoResolve: autoResolve,
		backup:      backup,
		power:       power,
		settings:    settings,
		projectRoot: projectRoot,
		machineID:   machineID,
		logger:      logger,
	}
}

// Start begins the fixed-interval tick loop.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	interval := time.Duration(p.settings.TickIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.running = true
	stop := p.stopCh
	done := p.doneCh
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		p.tick()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.tick()
			}
		}
	}()
}

// Stop stops the tick loop and waits for the in-flight tick to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stop := p.stopCh
	done := p.doneCh
	p.running = false
	p.mu.Unlock()
	close(stop)
	<-done
}

func (p *Pipeline) tick() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("pipeline tick panicked")
		}
	}()
	if err := p.RunOnce(context.Background(), time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: tick: %v\n", err)
	}
}

// RunOnce executes the seven-step reconciliation pass once, gated by the
// current power state. A DEEP_SLEEP state skips every step; SLEEP runs
// nothing but still counts as a heartbeat; IDLE runs maintenance but
// skips the embedding-heavy extraction/summarization work; ACTIVE runs
// everything.
func (p *Pipeline) RunOnce(ctx context.Context, now time.Time) error {
	steps := scheduler.PipelineSteps{Maintenance: true, EmbeddingHeavy: true, Heartbeat: true}
	if p.power != nil {
		steps = scheduler.StepsFor(p.power.State(now))
	}
	if !steps.Heartbeat {
		return nil
	}

	if steps.Maintenance {
		p.finalizeStuckBatches(now)
		p.recoverStaleSessions(now)
		p.recoverOrphanActivities(ctx)
	}

	if steps.EmbeddingHeavy {
		p.extractObservations(ctx)
		p.summarizeSessions(ctx)
	}

	if steps.Maintenance {
		p.runAutoBackup(now)
		p.pruneGovernanceAudit(now)
	}

	return nil
}
