package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsubclient "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docfoundry/docscraper/internal/api"
	"github.com/docfoundry/docscraper/internal/categorize"
	"github.com/docfoundry/docscraper/internal/checkpoint"
	"github.com/docfoundry/docscraper/internal/chunker"
	"github.com/docfoundry/docscraper/internal/clock/system"
	"github.com/docfoundry/docscraper/internal/crawler"
	"github.com/docfoundry/docscraper/internal/engine"
	"github.com/docfoundry/docscraper/internal/extract"
	"github.com/docfoundry/docscraper/internal/fetcher"
	"github.com/docfoundry/docscraper/internal/frontier"
	"github.com/docfoundry/docscraper/internal/hash/sha256"
	"github.com/docfoundry/docscraper/internal/id/uuid"
	"github.com/docfoundry/docscraper/internal/logging"
	"github.com/docfoundry/docscraper/internal/metrics"
	memorypublisher "github.com/docfoundry/docscraper/internal/publisher/memory"
	gcppublisher "github.com/docfoundry/docscraper/internal/publisher/pubsub"
	"github.com/docfoundry/docscraper/internal/ratelimit"
	"github.com/docfoundry/docscraper/internal/sink"
	"github.com/docfoundry/docscraper/pkg/config"
)

func newCrawlCmd() *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Starts a crawl run",
		Long: `Crawls the configured seed URLs breadth-first, writing page records and
chunks to the output directory. SIGINT triggers a final checkpoint before
exit; --resume continues from the last checkpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), resume)
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the last checkpoint")
	return cmd
}

func runCrawl(ctx context.Context, resume bool) error {
	cfg, srvCfg, logCfg, psCfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logCfg.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	eng, cleanup, err := buildEngine(ctx, cfg, psCfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	stopServer := startStatusServer(srvCfg, cfg, eng, logger)
	defer stopServer()

	report, err := eng.Run(ctx, resume)
	printReport(report)
	return err
}

// buildEngine assembles every collaborator from configuration. The cleanup
// closes external clients in reverse construction order.
func buildEngine(ctx context.Context, cfg crawler.Config, psCfg config.PubSubConfig, logger *zap.Logger) (*engine.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	limiter := ratelimit.New(cfg.RateInterval)
	policy := crawler.NewExponentialRetryPolicy(cfg.MaxRetries)
	fetch, err := fetcher.New(fetcher.Config{
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		RespectRobots:  cfg.RespectRobots,
		Concurrency:    cfg.Concurrency,
	}, limiter, policy, logger.Named("fetcher"))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init fetcher: %w", err)
	}

	deps := engine.Deps{
		Tracker: frontier.New(frontier.Config{
			IncludePatterns: cfg.IncludePatterns,
			ExcludePatterns: cfg.ExcludePatterns,
			BlockedDomains:  cfg.BlockedDomains,
		}),
		Fetcher:     fetch,
		Extractor:   extract.New(cfg.Selectors),
		Categorizer: categorize.New(cfg.Categories),
		Chunker: chunker.New(chunker.Config{
			MaxTokens:            cfg.Chunking.MaxTokens,
			OverlapRatio:         cfg.Chunking.OverlapRatio,
			PreserveCode:         cfg.Chunking.PreserveCode,
			SparseBoundaryFactor: cfg.Chunking.SparseBoundaryFactor,
		}),
		Hasher: sha256.New(),
		Clock:  system.New(),
		IDs:    uuid.New(),
		Logger: logger.Named("engine"),
	}

	if cfg.Render.Enabled {
		renderer, err := fetcher.NewChromedpRenderer(fetcher.RenderConfig{
			UserAgent:      cfg.UserAgent,
			Timeout:        cfg.Render.Timeout,
			MaxConcurrency: cfg.Render.MaxConcurrency,
			DomainQPS:      cfg.Render.DomainQPS,
		}, logger.Named("renderer"))
		switch {
		case err == nil:
			deps.Renderer = renderer
			deps.Detector = fetcher.NewHeuristicDetector(2048, nil, nil)
			closers = append(closers, func() {
				if cerr := renderer.Close(context.Background()); cerr != nil {
					logger.Warn("renderer close failed", zap.Error(cerr))
				}
			})
		case errors.Is(err, fetcher.ErrRendererDisabled):
			logger.Warn("renderer disabled despite feature flag; continuing without JS fallback")
		default:
			cleanup()
			return nil, nil, fmt.Errorf("init renderer: %w", err)
		}
	}

	fsSink, err := sink.NewFileSystemSink(cfg.OutputDir, cfg.MaxPageBytes, logger.Named("sink"))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init sink: %w", err)
	}
	deps.Sink = fsSink

	store, err := buildCheckpointStore(ctx, cfg.Checkpoint, &closers, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Checkpoints = checkpoint.NewManager(store, cfg.Checkpoint.Interval, deps.Clock, logger.Named("checkpoint"))

	if psCfg.ProjectID != "" && psCfg.TopicName != "" {
		client, err := pubsubclient.NewClient(ctx, psCfg.ProjectID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init pubsub client: %w", err)
		}
		closers = append(closers, func() {
			if cerr := client.Close(); cerr != nil {
				logger.Warn("pubsub client close failed", zap.Error(cerr))
			}
		})
		deps.Publisher = gcppublisher.New(client.Publisher(psCfg.TopicName))
	} else {
		deps.Publisher = memorypublisher.New()
	}

	eng, err := engine.New(cfg, deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}

func buildCheckpointStore(ctx context.Context, cfg crawler.CheckpointConfig, closers *[]func(), logger *zap.Logger) (crawler.CheckpointStore, error) {
	switch cfg.Backend {
	case "", "file":
		store, err := checkpoint.NewFileStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("init file checkpoint store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := checkpoint.NewPostgresStore(ctx, cfg.DSN, checkpointKey(cfg))
		if err != nil {
			return nil, fmt.Errorf("init postgres checkpoint store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		*closers = append(*closers, func() {
			if cerr := client.Close(); cerr != nil {
				logger.Warn("gcs client close failed", zap.Error(cerr))
			}
		})
		store, err := checkpoint.NewGCSStore(client, cfg.Bucket, cfg.Object)
		if err != nil {
			return nil, fmt.Errorf("init gcs checkpoint store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// checkpointKey is the stable name a resumable crawl is saved under. It
// must survive process restarts, so it cannot be the run UUID.
func checkpointKey(cfg crawler.CheckpointConfig) string {
	if cfg.Object != "" {
		return cfg.Object
	}
	return "docscraper"
}

func startStatusServer(srvCfg config.ServerConfig, cfg crawler.Config, eng *engine.Engine, logger *zap.Logger) func() {
	if !srvCfg.Enabled {
		return func() {}
	}
	statusFn := func() api.Status {
		progress := eng.Progress()
		visited, depth := eng.FrontierState()
		return api.Status{
			RunID:             eng.RunID(),
			Strategy:          string(cfg.Strategy),
			Visited:           visited,
			FrontierDepth:     depth,
			Succeeded:         progress.Succeeded,
			ExtractionSkipped: progress.ExtractionSkipped,
			FetchFailed:       progress.FetchFailed,
		}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", srvCfg.Port),
		Handler:           api.NewServer(statusFn, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server started", zap.Int("port", srvCfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown error", zap.Error(err))
		}
	}
}

func printReport(report crawler.Report) {
	fmt.Printf("run %s: %d pages succeeded, %d skipped (no content), %d fetch failures, %d chunks in %s\n",
		report.RunID,
		report.Succeeded,
		report.ExtractionSkipped,
		report.FetchFailed,
		report.ChunksProduced,
		report.Elapsed.Round(time.Millisecond),
	)
}
