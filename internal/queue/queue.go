package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/metrics"
	"github.com/Tinywan/redis-stream-sub000/internal/storage"
)

// Clock returns the current time
type Clock func() time.Time

// Queue is an owned handle over one named queue. Callers that want to
// share a queue pass the same handle around.
type Queue struct {
	store       storage.Store
	opts        Options
	logger      *slog.Logger
	metrics     *metrics.Metrics
	deadLetters storage.DeadLetterRepository
	clock       Clock

	delayed   *DelayedStore
	engine    *Engine
	scheduler *Scheduler
	producer  *Producer
}

// Option customizes a Queue at construction
type Option func(*Queue)

// WithLogger sets the logger; the default is slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithMetrics records queue activity in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithDeadLetters archives dropped messages in repo
func WithDeadLetters(repo storage.DeadLetterRepository) Option {
	return func(q *Queue) {
		q.deadLetters = repo
	}
}

// WithClock replaces time.Now
func WithClock(clock Clock) Option {
	return func(q *Queue) {
		if clock != nil {
			q.clock = clock
		}
	}
}

// New validates opts, creates the consumer group and returns the queue
func New(ctx context.Context, store storage.Store, opts Options, options ...Option) (*Queue, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	q := &Queue{
		store:  store,
		opts:   opts,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range options {
		opt(q)
	}

	if err := store.EnsureGroup(ctx, opts.StreamKey(), opts.Group); err != nil {
		return nil, err
	}

	q.delayed = NewDelayedStore(store, opts.DelayedKey(), q.clock, q.logger)
	q.engine = newEngine(store, opts, q.logger, q.metrics, q.deadLetters, q.clock)
	q.scheduler = newScheduler(store, q.delayed, opts, q.logger, q.metrics, q.clock, q.Stats)
	q.producer = newProducer(store, q.delayed, opts, q.logger, q.metrics, q.clock)

	q.logger.Info("Queue initialized",
		"queue", opts.Name,
		"stream", opts.StreamKey(),
		"consumer_group", opts.Group,
		"consumer", opts.Consumer,
		"retry_attempts", opts.RetryAttempts,
	)

	return q, nil
}

// Options returns the validated options
func (q *Queue) Options() Options {
	return q.opts
}

// Delayed returns the delayed task store
func (q *Queue) Delayed() *DelayedStore {
	return q.delayed
}

// Engine returns the delivery engine
func (q *Queue) Engine() *Engine {
	return q.engine
}

// Scheduler returns the scheduler
func (q *Queue) Scheduler() *Scheduler {
	return q.scheduler
}

// NewConsumer returns a consumer loop running h
func (q *Queue) NewConsumer(h Handler, co ConsumerOptions) *Consumer {
	return newConsumer(q.engine, h, q.opts, co, q.logger)
}

// Ping checks the store connection
func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}

// Enqueue appends payload to the live queue
func (q *Queue) Enqueue(ctx context.Context, payload interface{}, metadata map[string]string) (string, error) {
	return q.producer.Enqueue(ctx, payload, metadata)
}

// Schedule delays payload, or enqueues it when delay <= 0
func (q *Queue) Schedule(ctx context.Context, payload interface{}, metadata map[string]string, delay time.Duration) (string, error) {
	return q.producer.Schedule(ctx, payload, metadata, delay)
}

// Cancel removes a waiting delayed task
func (q *Queue) Cancel(ctx context.Context, taskID string) (bool, error) {
	return q.delayed.Cancel(ctx, taskID)
}

// Tick runs one scheduler pass
func (q *Queue) Tick(ctx context.Context, maxMessages int) (int, error) {
	return q.scheduler.Tick(ctx, maxMessages)
}

// Consume claims or reads one message; see Engine.Consume
func (q *Queue) Consume(ctx context.Context, h Handler, pos Position) (*domain.Message, error) {
	return q.engine.Consume(ctx, h, pos)
}

// Ack resolves a claimed message
func (q *Queue) Ack(ctx context.Context, id string) (bool, error) {
	return q.engine.Ack(ctx, id)
}

// Nack requeues or drops a message under the retry budget
func (q *Queue) Nack(ctx context.Context, id string, retry bool) (bool, error) {
	return q.engine.Nack(ctx, id, retry)
}

// Replay reprocesses the live queue history
func (q *Queue) Replay(ctx context.Context, h Handler, maxMessages int, autoAck bool) (int, error) {
	return q.engine.Replay(ctx, h, maxMessages, autoAck)
}

// Audit observes the live queue history without writing
func (q *Queue) Audit(ctx context.Context, h Handler, maxMessages int) (int, error) {
	return q.engine.Audit(ctx, h, maxMessages)
}

// Pending lists claimed entries
func (q *Queue) Pending(ctx context.Context, count int64) ([]storage.PendingEntry, error) {
	return q.engine.Pending(ctx, count)
}

// DeadLetters returns archived dead letters, newest first.
// It returns nil when no archive is configured.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	if q.deadLetters == nil {
		return nil, nil
	}
	return q.deadLetters.List(ctx, limit)
}
