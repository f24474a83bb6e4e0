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

	"golang.org/x/sync/errgroup"

	"news_sync/internal/cancellation"
	"news_sync/internal/config"
	"news_sync/internal/dedup"
	"news_sync/internal/domain"
	"news_sync/internal/metrics"
	"news_sync/internal/publisher"
	"news_sync/internal/rest"
	"news_sync/internal/scheduler"
	"news_sync/internal/service"
	"news_sync/internal/source/providers"
	"news_sync/internal/storage/memory"
	"news_sync/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("news syncer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("news syncer exited")
}

type stores struct {
	jobs     service.JobStore
	articles service.ArticleStore
	tags     service.TagStore
	states   service.SourceStateStore
	tx       service.TransactionManager
	close    func() error
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStores(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.close()

	cancels, closeCancels, err := openCancelRegistry(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeCancels()

	sources, err := providers.Build(cfg.Sources, logger)
	if err != nil {
		return fmt.Errorf("build sources: %w", err)
	}

	dedupCache, err := dedup.NewCache(cfg.Dedup.Cache, cfg.Dedup.BoltPath, st.articles, dedup.Options{
		TTL:             cfg.Dedup.TTL,
		CleanupInterval: cfg.Dedup.CleanupInterval,
	})
	if err != nil {
		return fmt.Errorf("open dedup cache: %w", err)
	}
	defer dedupCache.Close()

	fanout, err := buildPublishers(ctx, cfg.Publishers, logger)
	if err != nil {
		return err
	}
	defer fanout.Close()

	opts := []service.DispatcherOption{service.WithFingerprintLookup(dedupCache)}
	if fanout.Len() > 0 {
		opts = append(opts, service.WithPublisher(fanout))
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		recorder := metrics.NewRecorder()
		opts = append(opts, service.WithMetrics(recorder))
		metricsHandler = recorder.Handler()
	}

	dispatcher := service.NewDispatcher(
		st.jobs,
		st.articles,
		st.tags,
		st.states,
		st.tx,
		sources,
		cancels,
		logger,
		service.DispatcherConfig{
			MaxAttempts:    cfg.Sync.Retry.MaxAttempts,
			InitialBackoff: cfg.Sync.Retry.InitialBackoff,
			MaxBackoff:     cfg.Sync.Retry.MaxBackoff,
		},
		opts...,
	)

	controller := service.NewController(st.jobs, sources, cancels, dispatcher, logger, service.ControllerConfig{
		MaxLimit: cfg.Sync.MaxLimit,
	})

	handler := rest.NewHandler(controller, logger, cfg.HTTP.SyncTimeout)
	e := rest.NewServer(handler, metricsHandler, cfg.Metrics.Path, logger)
	e.Server.ReadTimeout = cfg.HTTP.ReadTimeout
	e.Server.WriteTimeout = cfg.HTTP.WriteTimeout

	sched, err := newScheduler(cfg.Sync.Schedule, controller, logger)
	if err != nil {
		return err
	}

	logger.Info("starting news syncer",
		"addr", cfg.HTTP.Addr,
		"sources", sources.Len(),
		"database", cfg.Database.Driver,
		"dedup_cache", cfg.Dedup.Cache,
		"publishers", fanout.Len(),
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := e.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if sched != nil {
		g.Go(func() error {
			if err := sched.Start(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		// jobs go first so requests waiting on them can answer before the
		// server drains
		jobsErr := controller.Shutdown(shutdownCtx)
		return errors.Join(jobsErr, e.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

func newScheduler(cfg config.ScheduleConfig, starter scheduler.Starter, logger *slog.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	lang, err := domain.ParseLanguage(cfg.Language)
	if err != nil {
		return nil, fmt.Errorf("schedule language: %w", err)
	}
	return scheduler.NewScheduler(starter, domain.SyncRequest{
		Categories: cfg.Categories,
		Language:   lang,
		Sources:    cfg.Sources,
		Limit:      cfg.Limit,
	}, cfg.Interval, logger), nil
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*stores, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("using in-memory storage, jobs and articles are lost on restart")
		return &stores{
			jobs:     memory.NewJobStore(),
			articles: memory.NewArticleStore(),
			tags:     memory.NewTagStore(),
			states:   memory.NewSourceStateStore(),
			tx:       memory.TransactionManager{},
			close:    func() error { return nil },
		}, nil
	}

	db, err := postgres.Connect(ctx, cfg.DSN(), postgres.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database", "host", cfg.Host, "dbname", cfg.DBName)

	return &stores{
		jobs:     postgres.NewJobStore(db),
		articles: postgres.NewArticleStore(db),
		tags:     postgres.NewTagStore(db),
		states:   postgres.NewSourceStateStore(db),
		tx:       postgres.NewTransactionManager(db),
		close:    db.Close,
	}, nil
}

func openCancelRegistry(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (service.CancelRegistry, func() error, error) {
	if cfg.URL == "" {
		return cancellation.NewMemoryRegistry(), func() error { return nil }, nil
	}

	registry, err := cancellation.NewRedisRegistry(cfg.URL, cfg.SignalTTL)
	if err != nil {
		return nil, nil, err
	}
	if err := registry.Ping(ctx); err != nil {
		_ = registry.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("cancel signals shared through redis")
	return registry, registry.Close, nil
}

func buildPublishers(ctx context.Context, cfg config.PublishersConfig, logger *slog.Logger) (*publisher.Fanout, error) {
	var sinks []publisher.Sink

	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		sinks = append(sinks, rabbitMQ)
	}

	if cfg.SQS.Enabled {
		queue, err := publisher.NewSQS(ctx, publisher.SQSConfig{
			Region:   cfg.SQS.Region,
			QueueURL: cfg.SQS.QueueURL,
		}, logger)
		if err != nil {
			_ = publisher.NewFanout(logger, sinks...).Close()
			return nil, fmt.Errorf("create sqs publisher: %w", err)
		}
		sinks = append(sinks, queue)
	}

	return publisher.NewFanout(logger, sinks...), nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
