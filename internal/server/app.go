// Package server builds the extractor's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/api"
	"github.com/JakeFAU/arb-appeal-extractor/internal/batch"
	"github.com/JakeFAU/arb-appeal-extractor/internal/browser"
	"github.com/JakeFAU/arb-appeal-extractor/internal/browser/cdp"
	"github.com/JakeFAU/arb-appeal-extractor/internal/browser/rodengine"
	"github.com/JakeFAU/arb-appeal-extractor/internal/clock/system"
	"github.com/JakeFAU/arb-appeal-extractor/internal/config"
	"github.com/JakeFAU/arb-appeal-extractor/internal/extract"
	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/id/uuid"
	"github.com/JakeFAU/arb-appeal-extractor/internal/ingest"
	"github.com/JakeFAU/arb-appeal-extractor/internal/interaction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/logging"
	"github.com/JakeFAU/arb-appeal-extractor/internal/output"
	"github.com/JakeFAU/arb-appeal-extractor/internal/policy/ratelimit"
	"github.com/JakeFAU/arb-appeal-extractor/internal/progress"
	progresssinks "github.com/JakeFAU/arb-appeal-extractor/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/arb-appeal-extractor/internal/publisher/pubsub"
	"github.com/JakeFAU/arb-appeal-extractor/internal/site"
	"github.com/JakeFAU/arb-appeal-extractor/internal/site/estatus"
	gcsstorage "github.com/JakeFAU/arb-appeal-extractor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/arb-appeal-extractor/internal/storage/local"
	memoryStorage "github.com/JakeFAU/arb-appeal-extractor/internal/storage/memory"
	pgstore "github.com/JakeFAU/arb-appeal-extractor/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/arb-appeal-extractor/internal/storage/sqlite"
	"github.com/JakeFAU/arb-appeal-extractor/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	manager         *batch.Manager
	progressHub     *progress.Hub
	events          *progress.Broadcaster
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	results         extraction.ResultStore
	runs            store.BatchRunRepository
	closeResults    func()
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Run serves the HTTP API and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives. On the way out it cancels the running batch, waits for it within
// the shutdown timeout and stops the listener. The caller still owns Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	// The manager goes first so open event streams see the batch end before
	// the listener closes.
	if err := a.manager.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("batch shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

// Extract runs one batch to completion without the HTTP API. Cancelling ctx
// cancels the batch; Extract still waits for the runner to release the
// browser and returns the final batch.
func (a *App) Extract(ctx context.Context, raw []string, mode ingest.Mode) (batch.Submission, extraction.Batch, error) {
	sub, err := a.manager.Submit(ctx, raw, mode)
	if err != nil {
		return sub, extraction.Batch{}, fmt.Errorf("submit batch: %w", err)
	}
	id := sub.Batch.ID
	if done := a.manager.Done(id); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			a.logger.Info("interrupt received, cancelling batch", zap.String("batch_id", id))
			if err := a.manager.Cancel(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, batch.ErrNotRunning) {
				a.logger.Warn("cancel batch failed", zap.String("batch_id", id), zap.Error(err))
			}
			<-done
		}
	}
	final, err := a.manager.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		return sub, extraction.Batch{}, fmt.Errorf("load batch: %w", err)
	}
	return sub, final, nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.manager != nil && !a.manager.ShuttingDown() {
		if err := a.manager.Shutdown(ctx); err != nil {
			a.logger.Warn("batch shutdown incomplete", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.closeResults != nil {
		a.closeResults()
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("site_url", cfg.Site.URL),
		zap.String("site_version", cfg.Site.Version),
		zap.String("browser_engine", cfg.Browser.Engine),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("database_driver", cfg.Database.Driver),
	)

	built, err := app.build(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	return built, nil
}

func (a *App) build(ctx context.Context) (*App, error) {
	reader, err := setupReader(a)
	if err != nil {
		return nil, err
	}
	if err := setupDatabase(ctx, a); err != nil {
		return nil, err
	}
	blobStore, err := setupStorage(ctx, a)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return nil, err
	}
	emitter, err := setupProgress(ctx, a)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	batches := memoryStorage.NewBatchStore()
	runner, err := batch.NewRunner(batch.Deps{
		Engine:    setupEngine(a),
		Session:   sessionConfig(a.cfg),
		Selectors: reader.Layout().FormSelectors(),
		Driver: interaction.Config{
			FieldTimeout:  time.Duration(a.cfg.Browser.FieldTimeoutSec) * time.Second,
			SearchTimeout: time.Duration(a.cfg.Browser.SearchTimeoutSec) * time.Second,
		},
		Extractor: extract.New(reader, clock, a.logger.Named("extract")),
		Results:   a.results,
		Batches:   batches,
		Output:    output.NewWriter(blobStore, a.cfg.Storage.Prefix),
		Publisher: publisher,
		Topic:     a.cfg.PubSub.TopicName,
		Reporter:  progress.NewReporter(emitter, a.logger.Named("progress")),
		Pacer: ratelimit.New(ratelimit.Config{
			SearchesPerMinute: a.cfg.Site.SearchesPerMinute,
			Burst:             a.cfg.Site.Burst,
			Site:              a.cfg.Site.URL,
		}),
		Clock:  clock,
		Logger: a.logger.Named("runner"),
	})
	if err != nil {
		return nil, fmt.Errorf("runner init failed: %w", err)
	}
	a.manager = batch.NewManager(runner, batches, uuid.NewUUIDGenerator(), clock, a.logger.Named("batch"))

	a.apiServer = api.NewServer(api.Deps{
		Batches: a.manager,
		Results: a.results,
		Runs:    a.runs,
		Events:  a.events,
		Prober:  site.NewProber(a.cfg.Site.URL, a.cfg.ProbeTimeout(), a.cfg.Browser.UserAgent),
		Logger:  a.logger,
	}, a.cfg)
	return a, nil
}

func setupReader(app *App) (site.Reader, error) {
	defaults := estatus.DefaultLayout()
	registry := site.NewRegistry(estatus.New(app.cfg.Site.Selectors.Merge(defaults)))
	reader, err := registry.Get(app.cfg.Site.Version)
	if err != nil {
		return nil, fmt.Errorf("site reader init failed: %w", err)
	}
	app.logger.Info("site reader selected",
		zap.String("version", reader.Version()),
		zap.Strings("known_versions", registry.Versions()),
	)
	return reader, nil
}

func setupEngine(app *App) browser.Engine {
	if app.cfg.Browser.Engine == config.EngineRod {
		app.logger.Info("using rod browser engine")
		return rodengine.New()
	}
	app.logger.Info("using chromedp browser engine")
	return cdp.New()
}

func sessionConfig(cfg config.Config) browser.Config {
	return browser.Config{
		URL: cfg.Site.URL,
		Launch: browser.LaunchOptions{
			Headless:         cfg.Browser.Headless,
			ExecPath:         cfg.Browser.ExecPath,
			UserAgent:        cfg.Browser.UserAgent,
			ViewportWidth:    cfg.Browser.ViewportWidth,
			ViewportHeight:   cfg.Browser.ViewportHeight,
			IgnoreCertErrors: cfg.Browser.IgnoreCertErrors,
			Timeout:          time.Duration(cfg.Browser.LaunchTimeoutSec) * time.Second,
		},
		NavigationTimeout: time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
		NavigationRetries: cfg.Browser.NavRetries,
		TitleKeywords:     cfg.Site.TitleKeywords,
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	switch app.cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := pgstore.Open(ctx, pgstore.Config{
			DSN:             app.cfg.Database.DSN,
			MaxConns:        app.cfg.Database.MaxConns,
			MinConns:        app.cfg.Database.MinConns,
			MaxConnLifetime: app.cfg.MaxConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		app.closeResults = pool.Close
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		results, err := pgstore.NewResultStore(pool)
		if err != nil {
			return fmt.Errorf("result store init failed: %w", err)
		}
		runs, err := pgstore.NewBatchRunStore(pool)
		if err != nil {
			return fmt.Errorf("batch run store init failed: %w", err)
		}
		app.results, app.runs = results, runs
		app.logger.Info("using postgres result store")
	case config.DriverSQLite:
		results, err := sqlitestore.Open(ctx, app.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
		app.closeResults = func() {
			if err := results.Close(); err != nil {
				app.logger.Warn("sqlite close failed", zap.Error(err))
			}
		}
		app.results = results
		app.runs = memoryStorage.NewBatchRunStore()
		app.logger.Info("using sqlite result store", zap.String("dsn", app.cfg.Database.DSN))
	default:
		app.logger.Warn("no database driver configured, results are kept in memory")
		app.results = memoryStorage.NewResultStore()
		app.runs = memoryStorage.NewBatchRunStore()
	}
	return nil
}

func setupStorage(ctx context.Context, app *App) (extraction.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		blobStore, client, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket}, nil)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.storage = client
		return blobStore, nil
	case config.StorageLocal:
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.BaseDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (extraction.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, result notices are disabled")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	app.events = progress.NewBroadcaster()
	sinkList := []progress.Sink{app.events}
	if app.runs != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(app.runs, app.logger.Named("progress_store")))
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.progressHub, nil
}
