package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/metrics"
	"github.com/Tinywan/redis-stream-sub000/internal/storage"
)

// Producer appends messages to the live queue or the delayed task store
type Producer struct {
	store   storage.StreamStore
	delayed *DelayedStore
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   Clock
}

func newProducer(store storage.StreamStore, delayed *DelayedStore, opts Options, logger *slog.Logger, m *metrics.Metrics, clock Clock) *Producer {
	return &Producer{
		store:   store,
		delayed: delayed,
		opts:    opts,
		logger:  logger.With("component", "producer"),
		metrics: m,
		clock:   clock,
	}
}

// Enqueue appends payload to the live queue and returns its id
func (p *Producer) Enqueue(ctx context.Context, payload interface{}, metadata map[string]string) (string, error) {
	body, err := p.prepare(payload, metadata)
	if err != nil {
		return "", err
	}

	msg := &domain.Message{
		Payload:   body,
		Metadata:  metadata,
		Attempts:  0,
		Status:    domain.StatusPending,
		Timestamp: p.clock(),
	}

	id, err := p.store.Append(ctx, p.opts.StreamKey(), msg.Fields())
	if err != nil {
		return "", err
	}

	p.metrics.IncEnqueued(p.opts.Name)
	p.logger.Debug("Message enqueued", "message_id", id, "queue", p.opts.Name)
	return id, nil
}

// Schedule stores payload to become visible after delay.
// A delay of zero or less enqueues immediately and returns the live id,
// otherwise the delayed task id is returned.
func (p *Producer) Schedule(ctx context.Context, payload interface{}, metadata map[string]string, delay time.Duration) (string, error) {
	if delay <= 0 {
		return p.Enqueue(ctx, payload, metadata)
	}

	body, err := p.prepare(payload, metadata)
	if err != nil {
		return "", err
	}

	id, err := p.delayed.Schedule(ctx, body, metadata, delay)
	if err != nil {
		return "", err
	}

	p.metrics.IncScheduled(p.opts.Name)
	p.logger.Debug("Message scheduled", "task_id", id, "delay", delay)
	return id, nil
}

func (p *Producer) prepare(payload interface{}, metadata map[string]string) (string, error) {
	if err := domain.ValidateMetadata(metadata); err != nil {
		return "", err
	}
	return domain.EncodePayload(payload)
}
