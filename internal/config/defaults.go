package config

import "time"

// Default configuration values for the streamq binaries
const (
	// HTTP API defaults
	DefaultHTTPPort        = 8080
	DefaultShutdownTimeout = 30 * time.Second

	// Metrics defaults
	DefaultMetricsAddr = ":9090"

	// Redis defaults
	DefaultRedisURL = "redis://localhost:6379/0"

	// MongoDB defaults
	DefaultMongoDatabase             = "streamq"
	DefaultMongoDeadLetterCollection = "dead_letters"

	// In-memory dead letter archive size when MongoDB is not configured
	DefaultDeadLetterCapacity = 1000
)
