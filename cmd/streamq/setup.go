package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Tinywan/redis-stream-sub000/internal/config"
	"github.com/Tinywan/redis-stream-sub000/internal/metrics"
	"github.com/Tinywan/redis-stream-sub000/internal/queue"
	"github.com/Tinywan/redis-stream-sub000/internal/storage"
	"github.com/Tinywan/redis-stream-sub000/internal/storage/inmemory"
	"github.com/Tinywan/redis-stream-sub000/internal/storage/mongodb"
	"github.com/Tinywan/redis-stream-sub000/internal/storage/redisstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

// runtime holds everything a command needs, built from config and flags
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	queue    *queue.Queue

	closers []func()
}

// loadConfig reads the environment, then applies explicitly set flags
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("redis-url") {
		cfg.Redis.URL = c.String("redis-url")
	}
	if c.IsSet("queue") {
		cfg.Queue.Name = c.String("queue")
	}
	if c.IsSet("group") {
		cfg.Queue.Group = c.String("group")
	}
	if c.IsSet("consumer") {
		cfg.Queue.Consumer = c.String("consumer")
	}
	if c.IsSet("retry-attempts") {
		cfg.Queue.RetryAttempts = c.Int("retry-attempts")
	}
	if c.IsSet("block-timeout") {
		cfg.Queue.BlockTimeout = c.Duration("block-timeout")
	}
	if c.IsSet("memory-limit-mb") {
		cfg.Queue.MemoryLimitMB = c.Uint64("memory-limit-mb")
	}
	if c.IsSet("mongo-uri") {
		cfg.Mongo.URI = c.String("mongo-uri")
	}
	if c.IsSet("interval") {
		cfg.Scheduler.Interval = c.Duration("interval")
	}
	if c.IsSet("batch-size") {
		cfg.Scheduler.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("metrics-addr") {
		cfg.Server.MetricsAddr = c.String("metrics-addr")
	}
	if c.IsSet("port") {
		cfg.Server.HTTPPort = c.Int("port")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes JSON logs to stderr so command output on stdout stays clean
func newLogger(level string) (*slog.Logger, error) {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// setup connects to Redis, picks the dead letter archive and opens the queue
func setup(ctx context.Context, c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	rt := &runtime{cfg: cfg, logger: logger}

	opts := cfg.QueueOptions()

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewWithLabels(rt.registry, metrics.Labels{
		Environment: cfg.Environment,
		Instance:    opts.Consumer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	store, err := redisstore.New(ctx, redisstore.Config{
		RedisURL:    cfg.Redis.URL,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close Redis client", "error", err)
		}
	})

	deadLetters, err := rt.openDeadLetters()
	if err != nil {
		rt.Close()
		return nil, err
	}

	q, err := queue.New(ctx, store, opts,
		queue.WithLogger(logger),
		queue.WithMetrics(m),
		queue.WithDeadLetters(deadLetters),
	)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}
	rt.queue = q

	return rt, nil
}

func (rt *runtime) openDeadLetters() (storage.DeadLetterRepository, error) {
	if rt.cfg.Mongo.URI == "" {
		rt.logger.Info("Using in-memory dead letter archive", "capacity", config.DefaultDeadLetterCapacity)
		return inmemory.NewDeadLetterRepository(config.DefaultDeadLetterCapacity), nil
	}

	rt.logger.Info("Using MongoDB dead letter archive",
		"database", rt.cfg.Mongo.Database,
		"collection", rt.cfg.Mongo.DeadLetterCollection,
	)
	repo, err := mongodb.NewDeadLetterRepository(rt.cfg.Mongo.URI, rt.cfg.Mongo.Database, rt.cfg.Mongo.DeadLetterCollection)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() {
		if err := repo.Close(context.Background()); err != nil {
			rt.logger.Warn("Failed to close MongoDB client", "error", err)
		}
	})
	return repo, nil
}

// Close releases connections in reverse order of opening
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// startMetrics serves /metrics and /health when an address is configured.
// The returned stop func is safe to call when nothing was started.
func (rt *runtime) startMetrics() (<-chan error, func(context.Context) error) {
	if rt.cfg.Server.MetricsAddr == "" {
		return nil, func(context.Context) error { return nil }
	}

	server := metrics.NewServer(rt.cfg.Server.MetricsAddr, rt.registry, rt.queue.Ping)
	rt.logger.Info("Metrics server listening", "addr", rt.cfg.Server.MetricsAddr)
	return server.Start(), server.Shutdown
}
