// ciad is the Codebase Intelligence daemon: one background process per
// project, launched by an editor/agent integration or a process
// supervisor, never interactively attached to like a TUI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/openagentkit/ci/internal/backup"
	"github.com/openagentkit/ci/internal/config"
	"github.com/openagentkit/ci/internal/embedclient"
	"github.com/openagentkit/ci/internal/governance"
	"github.com/openagentkit/ci/internal/hooks"
	"github.com/openagentkit/ci/internal/indexer"
	"github.com/openagentkit/ci/internal/memory"
	"github.com/openagentkit/ci/internal/pipeline"
	"github.com/openagentkit/ci/internal/scheduler"
	"github.com/openagentkit/ci/internal/store"
	"github.com/openagentkit/ci/internal/vectorindex"
)

var version = "dev"

func main() {
	portFlag := flag.Int("port", 4096, "Preferred HTTP port (falls back to an OS-assigned port if taken)")
	bindFlag := flag.String("bind", "", "Network interface to bind (default: localhost)")
	projectRootFlag := flag.String("project-root", "", "Project root (default: OAK_CI_PROJECT_ROOT or the working directory)")
	quietFlag := flag.Bool("quiet", false, "Suppress console logging; daemon.log still receives every line")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	embedBaseURLFlag := flag.String("embed-base-url", "https://api.openai.com/v1", "OpenAI-compatible base URL for embeddings")
	summarizeBaseURLFlag := flag.String("summarize-base-url", "https://api.openai.com/v1", "OpenAI-compatible base URL for summarization/extraction")
	apiKeyFlag := flag.String("api-key", "", "API key for the embedding/summarization provider (default: OAK_CI_API_KEY)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("ciad %s\n", version)
		return
	}

	projectRoot := *projectRootFlag
	if projectRoot == "" {
		var err error
		projectRoot, err = config.ResolveProjectRoot()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error resolving project root: %v\n", err)
			os.Exit(1)
		}
	}

	paths, err := config.Resolve(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error resolving project paths: %v\n", err)
		os.Exit(1)
	}

	daemonLogger, daemonLogFile, err := config.NewDaemonLogger(paths.DaemonLog, *quietFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening daemon log: %v\n", err)
		os.Exit(1)
	}
	defer daemonLogFile.Close()

	hooksLogger, hooksLogFile, err := config.NewHooksLogger(paths.HooksLog)
	if err != nil {
		daemonLogger.Fatal().Err(err).Msg("opening hooks log")
	}
	defer hooksLogFile.Close()

	settings, err := config.LoadSettings(settingsPath(paths))
	if err != nil {
		daemonLogger.Fatal().Err(err).Msg("loading settings.yaml")
	}

	token, err := config.LoadOrCreateToken(paths.TokenFile)
	if err != nil {
		daemonLogger.Fatal().Err(err).Msg("resolving auth token")
	}

	st, err := store.Open(paths.ActivitiesDB)
	if err != nil {
		daemonLogger.Fatal().Err(err).Msg("opening activity store")
	}
	defer st.Close()

	apiKey := *apiKeyFlag
	if apiKey == "" {
		apiKey = os.Getenv("OAK_CI_API_KEY")
	}
	embedder := embedclient.NewEmbeddingClient(*embedBaseURLFlag, apiKey, settings.EmbeddingModel)
	summarizer := embedclient.NewSummarizationClient(*summarizeBaseURLFlag, apiKey, settings.SummarizationModel)

	vindex, err := vectorindex.Open(paths.ChromaDir, embedder.Embed)
	if err != nil {
		daemonLogger.Fatal().Err(err).Msg("opening vector index")
	}

	memEngine := memory.New(st, vindex, embedder.Embed, settings)

	gov := governance.New(settings, st)

	power := scheduler.NewPowerController(settings.Power, time.Now())

	bk := backup.New(paths.HistoryDir, st)

	statePath := filepath.Join(paths.DataDir, "index_state.json")
	idx := indexer.New(projectRoot, statePath, settings.MaxChunkLines, vindex, settings.ExcludePatterns, daemonLogger)

	machineID, _ := os.Hostname()
	pl := pipeline.New(st, vindex, summarizer, memEngine, bk, power, settings, projectRoot, machineID, daemonLogger)

	cron := scheduler.New(st, power, time.Minute, func(task store.ScheduledTask) error {
		daemonLogger.Info().Str("task_id", task.ID).Str("name", task.Name).Msg("scheduled task due (dispatch is the agent runner's responsibility)")
		return nil
	})

	srv := hooks.New(st, memEngine, gov, power, bk, idx, vindex, settings, projectRoot, paths.DataDir, token, hooksLogger)
	if *bindFlag != "" {
		srv.SetBindAddress(*bindFlag)
	}
	pl.SetSessionInvalidator(srv)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	daemonLogger.Info().Str("project_root", projectRoot).Msg("running initial full index scan")
	if stats, err := idx.FullScan(ctx); err != nil {
		daemonLogger.Warn().Err(err).Msg("initial full scan failed")
	} else {
		daemonLogger.Info().Int("files_scanned", stats.FilesScanned).Int("chunks_upserted", stats.ChunksUpserted).Msg("initial full scan complete")
	}

	go func() {
		if err := idx.Watch(ctx, daemonLogger); err != nil {
			daemonLogger.Warn().Err(err).Msg("file watcher stopped")
		}
	}()

	pl.Start()
	cron.Start()

	go func() {
		<-ctx.Done()
		daemonLogger.Info().Msg("shutting down")
		pl.Stop()
		cron.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			daemonLogger.Warn().Err(err).Msg("hook ingestion API shutdown")
		}
	}()

	if err := srv.Start(*portFlag); err != nil {
		daemonLogger.Fatal().Err(err).Msg("hook ingestion API error")
	}
}

func settingsPath(paths config.Paths) string {
	return filepath.Join(paths.DataDir, "settings.yaml")
}
