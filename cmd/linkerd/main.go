// Command linkerd serves the meeting linker API. It builds the corpus index
// from the configured source, keeps it fresh from vault change events and
// resolves transcript text into wiki-linked text on request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/api"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/linker"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/linker/cache"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/vault"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/resilience"
)

const (
	snapshotInterval  = time.Minute
	snapshotRetention = 7 * 24 * time.Hour
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting linker service",
		"port", cfg.Server.Port,
		"corpus_source", cfg.Corpus.Source,
		"kafka", cfg.Kafka.Enabled,
		"redis", cfg.Redis.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	checker := health.NewChecker()

	var pg *postgres.Client
	pg, err = postgres.New(cfg.Postgres)
	switch {
	case err != nil && cfg.Corpus.Source == config.SourcePostgres:
		slog.Error("postgres is required for the postgres corpus source", "error", err)
		os.Exit(1)
	case err != nil:
		slog.Warn("postgres unavailable, analytics history disabled", "error", err)
		pg = nil
	default:
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		checker.Register("postgres", health.PingCheck(pg, cfg.Corpus.Source == config.SourcePostgres))
		slog.Info("postgres connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	agg := analytics.NewAggregator()
	var analyticsPub kafka.Publisher = agg.Sink()
	var changePub *events.Publisher
	if cfg.Kafka.Enabled {
		linkProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.LinkEvents)
		defer linkProducer.Close()
		changeProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.VaultChanges)
		defer changeProducer.Close()
		analyticsPub = linkProducer
		changePub = events.NewPublisher(changeProducer)
	}
	collector := analytics.NewCollector(analyticsPub, 10000, 100, 2*time.Second)

	var resolveCache *cache.ResolveCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, resolve caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			resolveCache = cache.New(redisClient, cfg.Redis.CacheTTL)
			checker.Register("redis", health.PingCheck(redisClient, false))
			slog.Info("resolve cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	indexOpts := []corpus.Option{
		corpus.WithDebounce(cfg.Corpus.Debounce),
		corpus.WithLoadTimeout(cfg.Corpus.LoadTimeout),
		corpus.WithExtension(cfg.Corpus.Extension),
		corpus.WithBuildHook(func(stats corpus.BuildStats) {
			if m != nil {
				m.ObserveIndexBuild(stats.Documents, stats.ExactTerms, stats.AmbiguousTerms,
					stats.ImplicitTerms, stats.Duration.Seconds())
			}
			collector.Track(analytics.NewIndexEvent(stats))
		}),
	}

	var documents *vault.PostgresSource
	switch cfg.Corpus.Source {
	case config.SourcePostgres:
		breaker := resilience.NewCircuitBreaker("postgres-source", resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				if m != nil {
					m.CircuitBreakerState.WithLabelValues(name).Set(to.Value())
				}
			},
		})
		pgOpts := []vault.PostgresOption{vault.WithBreaker(breaker)}
		if changePub != nil {
			pgOpts = append(pgOpts, vault.WithPublisher(changePub))
		}
		documents = vault.NewPostgresSource(pg.DB, pgOpts...)
		checker.Register("postgres_source_breaker", health.BreakerCheck(breaker))
		indexOpts = append(indexOpts, corpus.WithSource(documents))
	case config.SourceFilesystem:
		fs := vault.NewFilesystemSource(cfg.Corpus.VaultDir, cfg.Corpus.Extension)
		indexOpts = append(indexOpts, corpus.WithSource(fs), corpus.WithMetadataReader(fs))
		slog.Info("indexing vault directory", "dir", fs.Root())
	}

	index := corpus.New(indexOpts...)
	defer index.Close()
	index.Configure(cfg.Corpus.ExcludedPrefixes, cfg.Corpus.GenerateImplicitAliases)
	checker.Register("corpus_index", health.ReadyCheck(func() (bool, string) {
		snap := index.Snapshot()
		if !snap.Built() {
			return false, "index not built yet"
		}
		stats := snap.Stats()
		return true, fmt.Sprintf("version %d, %d documents", stats.Version, stats.Documents)
	}))

	resolver, err := linker.New(cfg.Linker.MaxCandidatesBeforeSkip)
	if err != nil {
		slog.Error("invalid linker settings", "error", err)
		os.Exit(1)
	}

	var (
		history       analytics.History
		snapshotStore *aggregator.Store
	)
	if pg != nil {
		snapshotStore = aggregator.NewStore(pg, aggregator.WithRetention(snapshotRetention))
		history = snapshotStore
	}

	handlerOpts := []api.Option{api.WithTracker(collector)}
	if resolveCache != nil {
		handlerOpts = append(handlerOpts, api.WithCache(resolveCache))
	}
	if m != nil {
		handlerOpts = append(handlerOpts, api.WithMetrics(m))
	}
	if documents != nil {
		handlerOpts = append(handlerOpts, api.WithDocuments(documents))
	}
	h := api.New(index, resolver, api.Config{
		MaxTextBytes:   cfg.Linker.MaxTextBytes,
		RebuildTimeout: cfg.Corpus.LoadTimeout,
	}, handlerOpts...)

	corsCfg := middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins...)
	routerCfg := api.RouterConfig{
		Analytics: analytics.NewHandler(agg, history),
		Health:    checker,
		Metrics:   m,
		CORS:      &corsCfg,
		Timeout:   cfg.Server.RequestTimeout,
	}
	var limiter *middleware.Limiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window)
		routerCfg.Limiter = limiter
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(h, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		collector.Start(gctx)
		return nil
	})

	g.Go(func() error {
		err := resilience.Retry(gctx, "initial-index-build", resilience.RetryConfig{
			MaxAttempts:  10,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Retryable: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
		}, func() error {
			_, err := index.Rebuild(gctx)
			return err
		})
		if err != nil && gctx.Err() == nil {
			slog.Error("initial index build failed; waiting for change events", "error", err)
		}
		return nil
	})

	if snapshotStore != nil {
		g.Go(func() error {
			snapshotStore.Run(gctx, agg, snapshotInterval)
			return nil
		})
	}

	if m != nil {
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Port) })
	}

	if limiter != nil {
		g.Go(func() error {
			limiter.RunSweeper(gctx, 5*time.Minute)
			return nil
		})
	}

	if cfg.Kafka.Enabled {
		changes := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.VaultChanges,
			events.HandleChange(index, cfg.Corpus.Extension, m))
		g.Go(func() error { return changes.Start(gctx) })

		linkEvents := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.LinkEvents,
			analytics.HandleEvent(agg), kafka.WithGroup(cfg.Kafka.ConsumerGroup+"-analytics"))
		g.Go(func() error { return linkEvents.Start(gctx) })
		slog.Info("kafka consumers started",
			"vault_changes", cfg.Kafka.Topics.VaultChanges,
			"link_events", cfg.Kafka.Topics.LinkEvents,
		)
	}

	g.Go(func() error {
		slog.Info("linker service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("linker service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("linker service stopped", "analytics_dropped", collector.Dropped())
}
