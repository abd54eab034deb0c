package queue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
)

// ConsumerOptions configures a Consumer loop
type ConsumerOptions struct {
	// NackOnFailure nacks with retry every message whose handler failed,
	// so the retry budget applies without caller involvement
	NackOnFailure bool
}

// Consumer drives Engine.Consume in a read, handle, ack cycle
type Consumer struct {
	engine  *Engine
	handler Handler
	opts    Options
	co      ConsumerOptions
	logger  *slog.Logger

	running   atomic.Bool
	stopping  atomic.Bool
	processed atomic.Int64
	failed    atomic.Int64
}

func newConsumer(engine *Engine, handler Handler, opts Options, co ConsumerOptions, logger *slog.Logger) *Consumer {
	return &Consumer{
		engine:  engine,
		handler: handler,
		opts:    opts,
		co:      co,
		logger:  logger.With("component", "consumer", "consumer", opts.Consumer),
	}
}

// Run consumes until ctx is cancelled, Stop is called, or heap usage
// crosses Options.MemoryLimit, in which case it returns ErrMemoryLimit.
// Store errors are logged and retried after Options.ErrorBackoff.
func (c *Consumer) Run(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)

	c.logger.Info("Consumer started",
		"queue", c.opts.Name,
		"consumer_group", c.opts.Group,
	)
	defer c.logger.Info("Consumer stopped",
		"processed", c.processed.Load(),
		"failed", c.failed.Load(),
	)

	// A consume in progress completes even when ctx is cancelled
	workCtx := context.WithoutCancel(ctx)

	for {
		if c.stopping.Swap(false) || ctx.Err() != nil {
			return nil
		}

		msg, err := c.engine.Consume(workCtx, c.handler, PositionGroup)
		if err != nil {
			c.logger.Error("Consume failed", "error", err)
			sleep(ctx, c.opts.ErrorBackoff)
			continue
		}
		if msg == nil {
			sleep(ctx, c.opts.IdleBackoff)
			continue
		}

		c.processed.Add(1)
		if msg.Failure != nil {
			c.failed.Add(1)
			c.resolveFailure(workCtx, msg)
		}

		if used, over := memoryExceeded(c.opts.MemoryLimit); over {
			c.logger.Warn("Memory limit exceeded, stopping consumer", "used_bytes", used, "limit_bytes", c.opts.MemoryLimit)
			return ErrMemoryLimit
		}
	}
}

func (c *Consumer) resolveFailure(ctx context.Context, msg *domain.Message) {
	if !c.co.NackOnFailure {
		return
	}
	if _, err := c.engine.Nack(ctx, msg.ID, true); err != nil {
		c.logger.Error("Nack after handler failure failed", "message_id", msg.ID, "error", err)
	}
}

// Stop makes Run return at the next iteration boundary. A Stop that
// arrives before Run makes the next Run return without consuming.
func (c *Consumer) Stop() {
	c.stopping.Store(true)
}

// Running reports whether Run is active
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// Processed returns how many messages the loop received
func (c *Consumer) Processed() int64 {
	return c.processed.Load()
}

// Failed returns how many received messages had a handler failure
func (c *Consumer) Failed() int64 {
	return c.failed.Load()
}

// sleep pauses for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
