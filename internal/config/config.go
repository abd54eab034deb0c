package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/queue"
	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration
type Config struct {
	Redis     RedisConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Server    ServerConfig
	Mongo     MongoConfig

	LogLevel    string `env:"LOG_LEVEL"   envDefault:"info"`
	Environment string `env:"ENVIRONMENT"` // metrics label, optional
}

// RedisConfig holds the store connection settings
type RedisConfig struct {
	URL         string        `env:"REDIS_URL"          envDefault:"redis://localhost:6379/0"`
	PoolSize    int           `env:"REDIS_POOL_SIZE"    envDefault:"10"`
	DialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
}

// QueueConfig holds the queue identity and delivery settings
type QueueConfig struct {
	Name          string        `env:"QUEUE_NAME"      envDefault:"default"`
	Group         string        `env:"CONSUMER_GROUP"  envDefault:"default_group"`
	Consumer      string        `env:"CONSUMER_NAME"` // empty picks a random name
	RetryAttempts int           `env:"RETRY_ATTEMPTS"  envDefault:"3"`
	BlockTimeout  time.Duration `env:"BLOCK_TIMEOUT"   envDefault:"2s"`
	MemoryLimitMB uint64        `env:"MEMORY_LIMIT_MB" envDefault:"0"` // 0 disables the ceiling
	ClaimTimeout  time.Duration `env:"CLAIM_TIMEOUT"   envDefault:"5m"` // negative disables reclaiming
}

// SchedulerConfig holds the delayed task promotion settings
type SchedulerConfig struct {
	Interval  time.Duration `env:"SCHEDULER_INTERVAL"   envDefault:"1s"`
	BatchSize int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"100"`
}

// ServerConfig holds the HTTP listeners
type ServerConfig struct {
	HTTPPort    int    `env:"HTTP_PORT"    envDefault:"8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// MongoConfig holds the dead letter archive settings. An empty URI keeps
// the archive in memory.
type MongoConfig struct {
	URI                  string `env:"MONGO_URI"`
	Database             string `env:"MONGO_DATABASE"               envDefault:"streamq"`
	DeadLetterCollection string `env:"MONGO_DEAD_LETTER_COLLECTION" envDefault:"dead_letters"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("%w: redis url is required", domain.ErrInvalidConfig)
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("%w: invalid redis pool size: %d", domain.ErrInvalidConfig, c.Redis.PoolSize)
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("%w: invalid http port: %d", domain.ErrInvalidConfig, c.Server.HTTPPort)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Mongo.URI != "" && (c.Mongo.Database == "" || c.Mongo.DeadLetterCollection == "") {
		return fmt.Errorf("%w: mongo database and collection are required", domain.ErrInvalidConfig)
	}

	return c.QueueOptions().Validate()
}

// QueueOptions converts the configuration into queue options
func (c *Config) QueueOptions() queue.Options {
	return queue.Options{
		Name:          c.Queue.Name,
		Group:         c.Queue.Group,
		Consumer:      c.Queue.Consumer,
		RetryAttempts: c.Queue.RetryAttempts,
		BlockTimeout:  c.Queue.BlockTimeout,
		MaxBatchSize:  c.Scheduler.BatchSize,
		TickInterval:  c.Scheduler.Interval,
		MemoryLimit:   c.Queue.MemoryLimitMB * 1024 * 1024,
		ClaimTimeout:  c.Queue.ClaimTimeout,
	}.WithDefaults()
}

// ParseLogLevel maps debug, info, warn and error to slog levels
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", domain.ErrInvalidConfig, s)
	}
}
