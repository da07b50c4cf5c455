// Package app assembles the crawl services from configuration and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/2php/iffse/internal/api"
	"github.com/2php/iffse/internal/clock/system"
	"github.com/2php/iffse/internal/config"
	"github.com/2php/iffse/internal/crawler"
	"github.com/2php/iffse/internal/dispatcher"
	"github.com/2php/iffse/internal/hash/sha256"
	iduuid "github.com/2php/iffse/internal/id/uuid"
	"github.com/2php/iffse/internal/logging"
	"github.com/2php/iffse/internal/metrics"
	"github.com/2php/iffse/internal/model"
	"github.com/2php/iffse/internal/orchestrator"
	"github.com/2php/iffse/internal/pipeline"
	"github.com/2php/iffse/internal/policy/ratelimit"
	"github.com/2php/iffse/internal/progress"
	"github.com/2php/iffse/internal/progress/sinks"
	memorypublisher "github.com/2php/iffse/internal/publisher/memory"
	pubsubpublisher "github.com/2php/iffse/internal/publisher/pubsub"
	queuememory "github.com/2php/iffse/internal/queue/memory"
	storagememory "github.com/2php/iffse/internal/storage/memory"
	"github.com/2php/iffse/internal/storage/postgres"
	"github.com/2php/iffse/internal/store"
	"github.com/2php/iffse/internal/upstream"
	"github.com/2php/iffse/internal/worker"
)

// publisher is a crawler.Publisher that owns a connection.
type publisher interface {
	crawler.Publisher
	Close() error
}

// App holds the long-lived services of one crawler process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  uuid.UUID
	clock  crawler.Clock

	pool      *pgxpool.Pool
	cursors   crawler.CursorStore
	posts     crawler.PostStore
	runs      store.RunRepository
	publisher publisher

	queue    *queuememory.Queue
	hub      *progress.Hub
	events   *progress.Reporter
	orch     *orchestrator.Orchestrator
	dispatch *dispatcher.Dispatcher
	server   *http.Server
}

type options struct {
	registerer prometheus.Registerer
	publisher  publisher
}

// Option customizes New.
type Option func(*options)

// WithRegisterer registers the progress collectors on reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithPublisher overrides the notification publisher chosen by config.
func WithPublisher(p publisher) Option {
	return func(o *options) { o.publisher = p }
}

// New builds every service named by cfg. It fails fast when a critical
// dependency cannot be initialized; Close releases whatever was opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger = logging.OrNop(logger)
	metrics.Init()

	runID, err := iduuid.NewUUIDGenerator().NewRawID()
	if err != nil {
		return nil, fmt.Errorf("mint run id: %w", err)
	}
	a := &App{
		cfg:    cfg,
		logger: logger.With(zap.String("run_id", runID.String())),
		runID:  runID,
		clock:  system.New(),
	}
	if err := a.initStores(ctx); err != nil {
		a.closeStores()
		return nil, err
	}
	if err := a.initPublisher(ctx, o.publisher); err != nil {
		a.closeStores()
		return nil, err
	}
	if err := a.initProgress(o.registerer); err != nil {
		a.closeStores()
		a.closePublisher()
		return nil, err
	}
	if err := a.initCrawl(); err != nil {
		a.shutdownHub()
		a.closeStores()
		a.closePublisher()
		return nil, err
	}
	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	switch a.cfg.DB.Provider {
	case "postgres":
		pool, err := postgres.Open(ctx, postgres.Config{
			DSN:      a.cfg.DB.DSN,
			MaxConns: int32(a.cfg.DB.MaxOpenConns),
			MinConns: int32(a.cfg.DB.MinIdleConns),
		})
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.pool = pool
		if a.cfg.DB.Migrate {
			if err := postgres.Migrate(ctx, pool, a.cfg.Model.Dimension); err != nil {
				return fmt.Errorf("migrate schema: %w", err)
			}
		}
		cursors, err := postgres.NewCursorStore(pool)
		if err != nil {
			return err
		}
		posts, err := postgres.NewPostStore(pool)
		if err != nil {
			return err
		}
		runs, err := postgres.NewRunStore(pool)
		if err != nil {
			return err
		}
		a.cursors, a.posts, a.runs = cursors, posts, runs
		a.logger.Info("using postgres store")
	default:
		a.cursors = storagememory.NewCursorStore()
		a.posts = storagememory.NewPostStore()
		a.runs = storagememory.NewRunStore()
		a.logger.Info("using in-memory store; state is lost on exit")
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context, override publisher) error {
	switch {
	case override != nil:
		a.publisher = override
	case a.cfg.PubSub.Enabled:
		p, err := pubsubpublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName, a.logger.Named("pubsub"))
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		a.publisher = p
		a.logger.Info("publishing post notifications", zap.String("topic", a.cfg.PubSub.TopicName))
	default:
		a.publisher = memorypublisher.New()
	}
	return nil
}

func (a *App) initProgress(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.BatchSize,
		MaxBatchWait:   a.cfg.Progress.FlushInterval,
		Logger:         a.logger.Named("progress"),
	},
		sinks.NewLogSink(a.logger.Named("events")),
		promSink,
		sinks.NewStoreSink(a.runs, a.logger.Named("runs")),
		sinks.NewPublishSink(a.publisher, a.cfg.PubSub.TopicName, a.logger.Named("notify")),
	)
	a.events = progress.NewReporter(a.hub, a.runID, a.clock.Now)
	return nil
}

func (a *App) initCrawl() error {
	cfg := a.cfg
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Upstream.RequestsPerSec,
		DefaultBurst: cfg.Upstream.Burst,
	})
	client, err := upstream.New(upstream.Config{
		BaseURL:   cfg.Upstream.BaseURL,
		UserAgent: cfg.Upstream.UserAgent,
		PageSize:  cfg.Upstream.PageSize,
		Timeout:   cfg.UpstreamTimeout(),
		Resolver: upstream.BundleResolverConfig{
			BundlePattern:    cfg.Upstream.BundlePattern,
			ProtocolPatterns: cfg.Upstream.ProtocolPatterns,
		},
	}, upstream.WithLimiter(limiter), upstream.WithLogger(a.logger.Named("upstream")))
	if err != nil {
		return fmt.Errorf("init upstream client: %w", err)
	}

	remote := model.RemoteConfig{
		DetectURL: cfg.Model.DetectURL,
		EmbedURL:  cfg.Model.EmbedURL,
		Timeout:   cfg.ModelTimeout(),
	}
	pipe, err := pipeline.New(client, sha256.New(), pipeline.Model{
		Detector:  model.NewRemoteDetector(remote, a.logger.Named("detector")),
		Aligner:   model.NewTemplateAligner(cfg.Model.InputSize),
		Embedder:  model.NewRemoteEmbedder(remote, a.logger.Named("embedder")),
		Dimension: cfg.Model.Dimension,
	}, a.logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	a.queue = queuememory.NewQueue(cfg.Pipeline.QueueDepth)
	results := make(chan crawler.Result, cfg.Pipeline.ResultsBuf)
	ids := iduuid.NewUUIDGenerator()
	runners := make([]dispatcher.Runner, 0, cfg.Pipeline.Workers)
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		runners = append(runners, worker.New(
			a.queue,
			pipe,
			a.posts,
			ids,
			a.clock,
			results,
			a.events,
			worker.Config{ID: i, SkipKnown: cfg.Pipeline.SkipKnown},
			a.logger.Named("worker"),
		))
	}
	a.dispatch = dispatcher.New(a.queue, runners, results, dispatcher.Config{
		MaxStoreFailures: cfg.Pipeline.MaxStoreFailures,
	}, a.logger)

	a.orch, err = orchestrator.New(orchestrator.Deps{
		Cursors: a.cursors,
		Seeder:  client,
		Pages:   client,
		Queue:   a.queue,
		Sleeper: crawler.TimerSleeper{},
		Clock:   a.clock,
		Events:  a.events,
	}, orchestrator.Config{
		RateLimitBackoffMin:  cfg.Crawl.RateLimitBackoffMin,
		RateLimitBackoffMax:  cfg.Crawl.RateLimitBackoffMax,
		MaxReseedAttempts:    cfg.Crawl.MaxReseedAttempts,
		TransientDelay:       cfg.Crawl.TransientDelay,
		MaxTransientAttempts: cfg.Crawl.MaxTransientAttempts,
		PassJitter:           cfg.Crawl.PassJitter,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}
	for _, topic := range cfg.Crawl.Topics {
		if err := a.orch.RegisterTopic(topic); err != nil && !errors.Is(err, crawler.ErrTopicExists) {
			return fmt.Errorf("register topic %q: %w", topic, err)
		}
	}

	if cfg.Server.Enabled {
		srv := api.NewServer(a.orch, a.runs, a.ready, cfg, a.logger)
		a.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return nil
}

// Orchestrator exposes topic control.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// RunID identifies this process run in events and run statistics.
func (a *App) RunID() uuid.UUID {
	return a.runID
}

// Stats returns worker result counts so far.
func (a *App) Stats() dispatcher.Stats {
	return a.dispatch.Stats()
}

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Run crawls until ctx ends or a systemic store failure halts the process.
// Only a systemic failure is returned.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	a.events.Emit(progress.Event{Stage: progress.StageRunStart})
	a.logger.Info("crawl started",
		zap.Int("topics", len(a.orch.Topics())),
		zap.Int("workers", a.cfg.Pipeline.Workers),
	)

	if a.server != nil {
		go func() {
			a.logger.Info("http server started", zap.String("addr", a.server.Addr))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				cancel(fmt.Errorf("http server: %w", err))
			}
		}()
	}

	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- a.dispatch.Run(ctx) }()
	orchDone := make(chan error, 1)
	go func() { orchDone <- a.orch.Run(ctx) }()

	var runErr error
	for orchDone != nil || dispatchDone != nil {
		var err error
		select {
		case err = <-orchDone:
			orchDone = nil
		case err = <-dispatchDone:
			dispatchDone = nil
		}
		if err != nil && runErr == nil {
			runErr = err
		}
		// Either side returning means the crawl is over.
		cancel(runErr)
	}
	a.queue.Close()

	if a.server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		stop()
	}

	stats := a.dispatch.Stats()
	fields := []zap.Field{
		zap.Int64("created", stats.Created),
		zap.Int64("already_exists", stats.AlreadyExists),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("failed", stats.Failed),
	}
	if runErr != nil {
		a.events.Emit(progress.Event{Stage: progress.StageRunError, Note: runErr.Error()})
		a.logger.Error("crawl halted", append(fields, zap.Error(runErr))...)
		return runErr
	}
	a.events.Emit(progress.Event{Stage: progress.StageRunDone})
	a.logger.Info("crawl stopped", fields...)
	return nil
}

// Close flushes progress sinks and releases connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close progress hub: %w", err))
	}
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	a.closeStores()
	return errors.Join(errs...)
}

func (a *App) shutdownHub() {
	if a.hub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("close progress hub", zap.Error(err))
	}
}

func (a *App) closePublisher() {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("close publisher", zap.Error(err))
	}
}

func (a *App) closeStores() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
