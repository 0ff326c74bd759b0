// Command orchestrator is the long-running worker process: it claims
// pipeline tasks off the durable queue, drives them through the
// subprocess pipeline and the upload/finalize stages, mirrors status
// out to the planning DB, and serves the HTTP control surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/reelforge/orchestrator/internal/alerting"
	"github.com/reelforge/orchestrator/internal/cache"
	"github.com/reelforge/orchestrator/internal/channelreg"
	"github.com/reelforge/orchestrator/internal/config"
	"github.com/reelforge/orchestrator/internal/control"
	"github.com/reelforge/orchestrator/internal/database"
	"github.com/reelforge/orchestrator/internal/engine"
	"github.com/reelforge/orchestrator/internal/metrics"
	"github.com/reelforge/orchestrator/internal/planningdb"
	"github.com/reelforge/orchestrator/internal/queue"
	"github.com/reelforge/orchestrator/internal/ratelimit"
	"github.com/reelforge/orchestrator/internal/store"
	"github.com/reelforge/orchestrator/internal/subprocess"
	syncpkg "github.com/reelforge/orchestrator/internal/sync"
	"github.com/reelforge/orchestrator/internal/telemetry"
	"github.com/reelforge/orchestrator/internal/upload"
	"github.com/reelforge/orchestrator/internal/vault"
	"github.com/reelforge/orchestrator/internal/workspace"
	"github.com/reelforge/orchestrator/pkg/logging"

	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("ORCHESTRATOR_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup("orchestrator")
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}

	pool, err := database.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleBurst, cfg.Database.TransactionCeiling, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool.DB().DB, pool.PgxPool()); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	notifier, err := database.NewNotifier(cfg.Database.URL, "orchestrator_tasks", log)
	if err != nil {
		return fmt.Errorf("open notify listener: %w", err)
	}
	defer notifier.Close() //nolint:errcheck

	channels := store.NewChannelRepository(pool.DB())
	tasks := store.NewTaskRepository(pool.DB())
	reviews := store.NewReviewRepository(pool.DB())
	costs := store.NewCostEntryRepository(pool.DB())
	audit := store.NewAuditEntryRepository(pool.DB())
	quotas := store.NewUploadQuotaRepository(pool.DB())
	observations := store.NewSyncObservationRepository(pool.DB())

	var capacityCache channelreg.CapacityCache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		capacityCache = cache.NewRedisCapacity(redis.NewClient(opts))
	}

	registry := channelreg.New(cfg.Channels.ConfigDir, channels, v, capacityCache, log)
	if err := registry.Scan(ctx); err != nil {
		log.Warnw("initial channel config scan failed", logging.NewFields().Component("main").Error(err).Pairs()...)
	}

	// background, the errgroup's own derived context cancels alongside
	// the process-wide signal context; group.Wait() after the HTTP
	// server stops is what makes shutdown actually graceful instead of
	// just abandoning these goroutines mid-flight.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := registry.Watch(groupCtx); err != nil && groupCtx.Err() == nil {
			return fmt.Errorf("channel config watcher: %w", err)
		}
		return nil
	})

	metricsRegistry := metrics.New()

	planningLimiter := ratelimit.New(cfg.PlanningDB.RequestsPerSec)
	planningClient := planningdb.New(cfg.PlanningDB.BaseURL, planningLimiter, log)

	alerter := alerting.New(cfg.AlertWebhookURL, cfg.AlertSlackWebhookURL, log)

	uploadLimiter := ratelimit.New(cfg.Upload.RequestsPerSec)
	refresher := upload.NewOAuthRefresher(
		oauth2.Endpoint{AuthURL: cfg.Upload.AuthURL, TokenURL: cfg.Upload.TokenURL},
		cfg.UploadClientID, cfg.UploadClientSecret, log,
	)
	uploader := upload.NewUploader(cfg.Upload.BaseURL, uploadLimiter, refresher, pool, quotas, alerter, log).WithMetrics(metricsRegistry)

	supervisor := subprocess.New(cfg.Subprocess.ScriptsDir, cfg.Subprocess.DefaultTimeout, cfg.Subprocess.MaxCaptureBytes)
	layout := workspace.New(cfg.WorkspaceRoot)

	mirror := syncpkg.NewOutboundMirror(planningClient, v, 256, log)
	group.Go(func() error { mirror.Run(groupCtx); return nil })

	reconciler := syncpkg.New(planningClient, registry, tasks, observations, v, cfg.PlanningDB.PollInterval, log)
	group.Go(func() error { reconciler.Run(groupCtx); return nil })

	eng := engine.New(pool, tasks, reviews, costs, audit, supervisor, layout, uploader, planningClient, v, mirror, alerter, metricsRegistry, log)

	dispatcher := queue.New(tasks, registry, notifier, workerID(), cfg.Queue.DefaultLease, log).WithMetrics(metricsRegistry)
	group.Go(func() error { sampleRateLimiterGauges(groupCtx, metricsRegistry, planningLimiter, uploadLimiter); return nil })

	var corsOrigins []string
	if cfg.CORSOrigins != "" {
		corsOrigins = strings.Split(cfg.CORSOrigins, ",")
	}
	srv := control.NewServer(eng, tasks, channels, registry, reconciler, pool, cfg.WebhookSecret, corsOrigins, log)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.HTTPPort,
		Handler: srv,
	}

	workerCount := workerPoolSize()
	for i := 0; i < workerCount; i++ {
		group.Go(func() error { runWorker(groupCtx, dispatcher, registry, eng, log); return nil })
	}
	group.Go(func() error { runLeaseSweep(groupCtx, dispatcher, log); return nil })

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("control surface listening", logging.NewFields().Component("main").Pairs()...)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Infow("shutdown signal received", logging.NewFields().Component("main").Pairs()...)
	case err := <-serverErr:
		if err != nil {
			log.Errorw("control surface failed", logging.NewFields().Component("main").Error(err).Pairs()...)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("control surface shutdown error", logging.NewFields().Component("main").Error(err).Pairs()...)
	}

	stop() // cancel the signal context so background goroutines unwind even on a serverErr-triggered shutdown
	if err := group.Wait(); err != nil {
		log.Warnw("background goroutine exited with error", logging.NewFields().Component("main").Error(err).Pairs()...)
	}
	return nil
}

// workerID identifies this process's claims in the dispatcher's lease
// table; hostname-plus-pid is unique enough for a fleet of worker pods.
func workerID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func workerPoolSize() int {
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return 4
}

// runWorker loops claiming and driving tasks until ctx is canceled.
// Each claim blocks on the dispatcher's own poll/notify wait, so an
// idle worker does not spin. The claim's in-flight slot is held by the
// registry for the entire Process pass and must be released exactly
// once Process returns, whatever the outcome — completion, failure, a
// review gate, or a retry reschedule — or the channel's MaxConcurrent
// ceiling leaks a slot on every claim and is eventually never
// satisfiable again.
func runWorker(ctx context.Context, dispatcher *queue.Dispatcher, registry *channelreg.Registry, eng *engine.Engine, log *zap.SugaredLogger) {
	for {
		if ctx.Err() != nil {
			return
		}
		claimed, err := dispatcher.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorw("claim failed", logging.NewFields().Component("worker").Error(err).Pairs()...)
			continue
		}
		if claimed == nil {
			continue
		}
		processClaim(ctx, registry, eng, claimed, log)
	}
}

func processClaim(ctx context.Context, registry *channelreg.Registry, eng *engine.Engine, claimed *queue.Claimed, log *zap.SugaredLogger) {
	defer registry.ReleaseSlot(ctx, claimed.Channel.ChannelID)
	if err := eng.Process(ctx, claimed.Task, claimed.Channel); err != nil {
		log.Errorw("task processing failed",
			logging.NewFields().Component("worker").Task(claimed.Task.ID.String()).Channel(claimed.Channel.ChannelID).Error(err).Pairs()...)
	}
}

// sampleRateLimiterGauges periodically copies each limiter's available
// token budget into the Prometheus gauge; the limiters themselves stay
// free of any metrics dependency.
func sampleRateLimiterGauges(ctx context.Context, m *metrics.Registry, planningLimiter, uploadLimiter *ratelimit.Limiter) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RateLimiterTokens.WithLabelValues("planning_db").Set(planningLimiter.Available())
			m.RateLimiterTokens.WithLabelValues("upload").Set(uploadLimiter.Available())
		}
	}
}

func runLeaseSweep(ctx context.Context, dispatcher *queue.Dispatcher, log *zap.SugaredLogger) {
	ticker := time.NewTicker(queue.LeaseSweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := dispatcher.SweepExpiredLeases(ctx)
			if err != nil {
				log.Errorw("lease sweep failed", logging.NewFields().Component("lease_sweep").Error(err).Pairs()...)
				continue
			}
			if n > 0 {
				log.Infow("reclaimed expired leases", logging.NewFields().Component("lease_sweep").Pairs()...)
			}
		}
	}
}
