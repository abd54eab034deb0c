package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/google/uuid"
)

// Default option values
const (
	DefaultGroup           = "default_group"
	DefaultRetryAttempts   = 3
	DefaultBlockTimeout    = 2 * time.Second
	DefaultMaxBatchSize    = 100
	DefaultTickInterval    = time.Second
	DefaultIdleBackoff     = 50 * time.Millisecond
	DefaultErrorBackoff    = time.Second
	DefaultReplayBatchSize = 100
	DefaultClaimTimeout    = 5 * time.Minute
)

// Options configures a Queue. It is a value type: WithDefaults returns a
// filled copy and the Queue keeps its own validated copy.
type Options struct {
	// Name identifies the queue; all Redis keys derive from it
	Name string

	// Group is the consumer group reading the live queue
	Group string

	// Consumer is this process's identity inside the group
	Consumer string

	// RetryAttempts is the number of redeliveries allowed after the first
	// attempt. Zero means a nacked message is dropped immediately.
	RetryAttempts int

	// BlockTimeout bounds every blocking read
	BlockTimeout time.Duration

	// MaxBatchSize caps how many due tasks one scheduler tick promotes
	MaxBatchSize int

	// TickInterval is the pause between scheduler ticks in Run
	TickInterval time.Duration

	// IdleBackoff is the consumer loop pause when no message was available
	IdleBackoff time.Duration

	// ErrorBackoff is the consumer loop pause after a store error
	ErrorBackoff time.Duration

	// MemoryLimit stops the consumer and scheduler loops once heap usage
	// exceeds it, in bytes. Zero disables the check.
	MemoryLimit uint64

	// ReplayBatchSize is the page size of replay and audit scans
	ReplayBatchSize int

	// ClaimTimeout is how long a claimed message may stay unresolved before
	// another consumer of the group takes it over. Negative disables it.
	ClaimTimeout time.Duration
}

// DefaultOptions returns options for the named queue with every default applied
func DefaultOptions(name string) Options {
	return Options{Name: name, RetryAttempts: DefaultRetryAttempts}.WithDefaults()
}

// WithDefaults returns a copy with unset fields filled in.
// RetryAttempts and MemoryLimit are taken as given.
func (o Options) WithDefaults() Options {
	if o.Group == "" {
		o.Group = DefaultGroup
	}
	if o.Consumer == "" {
		o.Consumer = "consumer-" + uuid.NewString()[:8]
	}
	if o.BlockTimeout == 0 {
		o.BlockTimeout = DefaultBlockTimeout
	}
	if o.MaxBatchSize == 0 {
		o.MaxBatchSize = DefaultMaxBatchSize
	}
	if o.TickInterval == 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.IdleBackoff == 0 {
		o.IdleBackoff = DefaultIdleBackoff
	}
	if o.ErrorBackoff == 0 {
		o.ErrorBackoff = DefaultErrorBackoff
	}
	if o.ReplayBatchSize == 0 {
		o.ReplayBatchSize = DefaultReplayBatchSize
	}
	if o.ClaimTimeout == 0 {
		o.ClaimTimeout = DefaultClaimTimeout
	}
	return o
}

// Validate checks that the options are usable
func (o Options) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return fmt.Errorf("%w: queue name is required", domain.ErrInvalidConfig)
	}
	if strings.ContainsAny(o.Name, " \t\r\n") {
		return fmt.Errorf("%w: queue name must not contain whitespace", domain.ErrInvalidConfig)
	}
	if o.Group == "" {
		return fmt.Errorf("%w: consumer group is required", domain.ErrInvalidConfig)
	}
	if o.Consumer == "" {
		return fmt.Errorf("%w: consumer name is required", domain.ErrInvalidConfig)
	}
	if o.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry attempts must be >= 0, got %d", domain.ErrInvalidConfig, o.RetryAttempts)
	}
	if o.BlockTimeout <= 0 {
		return fmt.Errorf("%w: block timeout must be positive", domain.ErrInvalidConfig)
	}
	if o.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max batch size must be positive", domain.ErrInvalidConfig)
	}
	if o.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval must be positive", domain.ErrInvalidConfig)
	}
	if o.IdleBackoff <= 0 || o.ErrorBackoff <= 0 {
		return fmt.Errorf("%w: backoff durations must be positive", domain.ErrInvalidConfig)
	}
	if o.ReplayBatchSize <= 0 {
		return fmt.Errorf("%w: replay batch size must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

// StreamKey is the live queue stream
func (o Options) StreamKey() string {
	return "queue:" + o.Name
}

// DelayedKey is the delayed task sorted set
func (o Options) DelayedKey() string {
	return o.StreamKey() + ":delayed"
}

// MalformedKey holds delayed members that could not be decoded
func (o Options) MalformedKey() string {
	return o.DelayedKey() + ":malformed"
}

// AttemptsKey is the attempt ledger hash
func (o Options) AttemptsKey() string {
	return o.StreamKey() + ":attempts"
}

// DeadKey is the dropped message counter
func (o Options) DeadKey() string {
	return o.StreamKey() + ":dead"
}
