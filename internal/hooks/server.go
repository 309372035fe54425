// Package hooks implements the Hook Ingestion API: the daemon's sole HTTP
// server, serving the nine (plus one pre-tool-use) hook events agent
// integrations call on session/prompt/tool lifecycle, the search and
// memory endpoints those agents and the CLI use to read back what was
// captured, and the backup/governance/devtools/self-restart operator
// surface.
package hooks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/openagentkit/ci/internal/config"
	"github.com/openagentkit/ci/internal/domain"
	"github.com/openagentkit/ci/internal/governance"
	"github.com/openagentkit/ci/internal/indexer"
	"github.com/openagentkit/ci/internal/lockfile"
	"github.com/openagentkit/ci/internal/memory"
	"github.com/openagentkit/ci/internal/scheduler"
	"github.com/openagentkit/ci/internal/store"
	"github.com/openagentkit/ci/internal/vectorindex"
)

// Store is the subset of the Activity Store the hook API reads and
// writes, kept narrow so handler tests can substitute a fake.
type Store interface {
	UpsertSession(domain.Session) (domain.Session, error)
	GetSession(id string) (domain.Session, error)
	EndSession(id string) error
	LinkParentSession(childID, parentID, reason string) error
	ListSessions(projectRoot string, limit int) ([]domain.Session, error)
	ListActiveSessions() ([]domain.Session, error)
	DeleteSession(id string) error

	BeginBatch(sessionID, userPrompt string, sourceType domain.BatchSourceType) (domain.PromptBatch, error)
	ActiveBatchForSession(sessionID string) (domain.PromptBatch, bool, error)
	CompleteBatch(batchID, responseSummary string) error
	GetBatch(id string) (domain.PromptBatch, error)
	BatchesForSession(sessionID string) ([]domain.PromptBatch, error)
	MarkBatchPlan(batchID, planFilePath, planContent string) error

	AppendActivity(a domain.Activity) (string, error)

	UpsertPlan(p domain.Plan) (domain.Plan, error)
	GetPlan(id string) (domain.Plan, error)

	InsertObservation(o domain.Observation) (string, error)
	GetObservation(id string) (domain.Observation, error)
	ListObservations(includeResolved bool, limit, offset int) ([]domain.Observation, error)
	SetObservationStatus(id string, newStatus domain.ObservationStatus, reason, actor, supersededBy string, action domain.ResolutionAction) error

	ListGovernanceAuditEvents(limit, offset int) ([]domain.GovernanceAuditEvent, error)
	PruneGovernanceAudit(retentionDays int) (int64, error)
	ResetProcessing() (int64, error)

	ObservationDocs(ctx context.Context) ([]vectorindex.RebuildDoc, error)
	PlanDocs(ctx context.Context) ([]vectorindex.RebuildDoc, error)
	SessionSummaryDocs(ctx context.Context) ([]vectorindex.RebuildDoc, error)
}

// MemoryEngine is the subset of *memory.Engine the hook API needs:
// injection-payload construction and unified search.
type MemoryEngine interface {
	ContextForTask(ctx context.Context, taskText string, filePaths []string) (memory.InjectionPayload, error)
	Search(ctx context.Context, query string, searchType memory.SearchType, k int, includeResolved bool, where map[string]string) (memory.SearchResults, error)
	AutoResolveCandidates(ctx context.Context, newObs domain.Observation) ([]memory.ResolveCandidate, error)
}

// GovernanceEvaluator is the subset of *governance.Evaluator the hook API
// needs for the synchronous pre-tool-use check.
type GovernanceEvaluator interface {
	Check(sessionID, toolName string, toolInput map[string]any, filePath string) (governance.Verdict, error)
	SetRules(mode string, rules []config.GovernanceRule)
}

// PowerController is the subset of *scheduler.PowerController the hook
// API needs to record that a hook fired.
type PowerController interface {
	RecordActivity(now time.Time)
	State(now time.Time) scheduler.PowerState
}

// BackupManager is the subset of *backup.Manager the backup endpoints
// need.
type BackupManager interface {
	Run(projectRoot string, includeActivities, includeAudit bool) (string, error)
	Restore(name string) (store.BackupCounts, error)
	RestoreAll() ([]store.BackupCounts, error)
	List() ([]string, error)
}

// FullScanner is the subset of *indexer.Indexer the devtools rebuild-index
// endpoint needs.
type FullScanner interface {
	FullScan(ctx context.Context) (indexer.RunStats, error)
}

// VectorIndex is the subset of *vectorindex.Index the devtools endpoints
// need directly (outside of what the memory engine already wraps).
type VectorIndex interface {
	Upsert(ctx context.Context, kind vectorindex.Kind, id, content string, embedding []float32, metadata map[string]string) error
	RebuildKind(ctx context.Context, kind vectorindex.Kind, docs []vectorindex.RebuildDoc) error
	Compact(ctx context.Context) error
	Count(kind vectorindex.Kind) (int, error)
}

// Server is the Hook Ingestion API / external interface HTTP daemon.
type Server struct {
	store      Store
	memory     MemoryEngine
	governance GovernanceEvaluator
	power      PowerController
	backup     BackupManager
	indexer    FullScanner
	vindex     VectorIndex

	projectRoot string
	dataDir     string
	token       string
	bindAddr    string
	logger      zerolog.Logger

	settingsMu sync.RWMutex
	settings   config.Settings

	dedup    *dedupCache
	sessions *sessionCache

	mu     sync.Mutex
	port   int
	ready  chan struct{}
	server *http.Server

	// selfRestartExec re-execs the daemon binary; overridable in tests.
	selfRestartExec func() error
}

// New builds a Server. dataDir is where the lockfile is written/removed
// across Start/Shutdown; projectRoot scopes session listing and backup
// file naming.
func New(
	st Store,
	mem MemoryEngine,
	gov GovernanceEvaluator,
	pow PowerController,
	bk BackupManager,
	idx FullScanner,
	vidx VectorIndex,
	settings config.Settings,
	projectRoot, dataDir, token string,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		store:       st,
		memory:      mem,
		governance:  gov,
		power:       pow,
		backup:      bk,
		indexer:     idx,
		vindex:      vidx,
		settings:    settings,
		projectRoot: projectRoot,
		dataDir:     dataDir,
		token:       token,
		logger:      logger,
		dedup:       newDedupCache(),
		sessions:    newSessionCache(),
		ready:       make(chan struct{}),
	}
	s.selfRestartExec = s.execSelfRestart
	return s
}

// SetBindAddress sets the interface to listen on; defaults to localhost.
func (s *Server) SetBindAddress(addr string) {
	s.bindAddr = addr
}

// Port returns the bound port, valid only after Start's ready signal
// fires.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Ready returns a channel closed once the listening port is assigned.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func (s *Server) currentSettings() config.Settings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

// Start begins listening on port, falling back to an OS-assigned port if
// it is taken, writes the lockfile, and serves until Shutdown or a fatal
// listener error.
func (s *Server) Start(port int) error {
	bindAddr := s.bindAddr
	if bindAddr == "" {
		bindAddr = "localhost"
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, port))
	if err != nil {
		ln, err = net.Listen("tcp", fmt.Sprintf("%s:0", bindAddr))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	s.mu.Lock()
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info().Str("bind", bindAddr).Int("port", s.port).Msg("hook ingestion API listening")

	if err := lockfile.Write(s.dataDir, s.port, s.token); err != nil {
		ln.Close()
		return fmt.Errorf("write lockfile: %w", err)
	}

	router := s.buildRouter()
	s.mu.Lock()
	s.server = &http.Server{Handler: router}
	srv := s.server
	s.mu.Unlock()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and removes the lockfile.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("hook ingestion API shutting down")
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if rmErr := lockfile.Remove(s.dataDir); rmErr != nil {
		s.logger.Warn().Err(rmErr).Msg("remove lockfile failed")
	}
	return err
}

func (s *Server) buildRouter() *mux.Router {
	root := mux.NewRouter()
	root.Use(corsMiddleware)

	root.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	api := root.PathPrefix("/api").Subrouter()
	api.Use(s.withAuth)

	// Hook ingestion events.
	api.HandleFunc("/hooks/session-start", s.handleSessionStart).Methods(http.MethodPost)
	api.HandleFunc("/hooks/user-prompt-submit", s.handleUserPromptSubmit).Methods(http.MethodPost)
	api.HandleFunc("/hooks/pre-tool-use", s.handlePreToolUse).Methods(http.MethodPost)
	api.HandleFunc("/hooks/post-tool-use", s.handlePostToolUse).Methods(http.MethodPost)
	api.HandleFunc("/hooks/post-tool-use-failure", s.handlePostToolUseFailure).Methods(http.MethodPost)
	api.HandleFunc("/hooks/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/hooks/session-end", s.handleSessionEnd).Methods(http.MethodPost)
	api.HandleFunc("/hooks/subagent-start", s.handleSubagentStart).Methods(http.MethodPost)
	api.HandleFunc("/hooks/subagent-stop", s.handleSubagentStop).Methods(http.MethodPost)
	api.HandleFunc("/hooks/pre-compact", s.handlePreCompact).Methods(http.MethodPost)

	// Search / memory surface.
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/fetch", s.handleFetch).Methods(http.MethodPost)
	api.HandleFunc("/remember", s.handleRemember).Methods(http.MethodPost)
	api.HandleFunc("/context", s.handleContext).Methods(http.MethodPost)

	api.HandleFunc("/memories", s.handleListMemories).Methods(http.MethodGet)
	api.HandleFunc("/memories/{id}/status", s.handleSetMemoryStatus).Methods(http.MethodPut)

	// Activity surface.
	api.HandleFunc("/activity/sessions", s.handleListActivitySessions).Methods(http.MethodGet)
	api.HandleFunc("/activity/sessions/{id}", s.handleGetActivitySession).Methods(http.MethodGet)
	api.HandleFunc("/activity/sessions/{id}/complete", s.handleCompleteActivitySession).Methods(http.MethodPost)

	// Backup surface.
	api.HandleFunc("/backup/create", s.handleBackupCreate).Methods(http.MethodPost)
	api.HandleFunc("/backup/restore", s.handleBackupRestore).Methods(http.MethodPost)
	api.HandleFunc("/backup/restore-all", s.handleBackupRestoreAll).Methods(http.MethodPost)
	api.HandleFunc("/backup/status", s.handleBackupStatus).Methods(http.MethodGet)

	// Governance surface.
	gov := api.PathPrefix("/governance").Subrouter()
	gov.HandleFunc("/config", s.handleGetGovernanceConfig).Methods(http.MethodGet)
	gov.HandleFunc("/config", s.handleSetGovernanceConfig).Methods(http.MethodPut)
	gov.HandleFunc("/audit", s.handleGovernanceAudit).Methods(http.MethodGet)
	gov.HandleFunc("/audit/prune", s.handleGovernanceAuditPrune).Methods(http.MethodPost)
	gov.HandleFunc("/test", s.handleGovernanceTest).Methods(http.MethodPost)

	// Devtools surface.
	dev := api.PathPrefix("/devtools").Subrouter()
	dev.HandleFunc("/rebuild-index", s.handleRebuildIndex).Methods(http.MethodPost)
	dev.HandleFunc("/reset-processing", s.handleResetProcessing).Methods(http.MethodPost)
	dev.HandleFunc("/rebuild-memories", s.handleRebuildMemories).Methods(http.MethodPost)
	dev.HandleFunc("/compact-chromadb", s.handleCompactChromaDB).Methods(http.MethodPost)

	api.HandleFunc("/self-restart", s.handleSelfRestart).Methods(http.MethodPost)

	return root
}

// withAuth rejects requests without a valid bearer token using a
// constant-time comparison, so a timing attack can't be used to guess the
// token byte by byte.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimSpace(r.Header.Get("Authorization"))
		const bearer = "Bearer "
		if strings.HasPrefix(got, bearer) {
			got = strings.TrimSpace(strings.TrimPrefix(got, bearer))
		}
		if got == "" || s.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		s.power.RecordActivity(time.Now())
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows only localhost origins, since this daemon never
// serves untrusted third-party pages — a tunneled mobile client reaches
// it through a reverse proxy that sets its own Origin handling, not
// through this server's CORS policy.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if isLocalOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLocalOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	return strings.Contains(origin, "://localhost") || strings.Contains(origin, "://127.0.0.1")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"pid":    os.Getpid(),
		"port":   s.Port(),
		"power":  s.power.State(time.Now()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "hooks: write json response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
