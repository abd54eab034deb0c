package queue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/metrics"
	"github.com/Tinywan/redis-stream-sub000/internal/storage"
)

// RunOptions configures Scheduler.Run
type RunOptions struct {
	// Interval between ticks; zero uses Options.TickInterval
	Interval time.Duration

	// MaxMessages caps promotions per tick; zero means Options.MaxBatchSize
	MaxMessages int

	// OnTick is called after every tick with the promoted count and the
	// latest stats; they are zero until a collection succeeds
	OnTick func(promoted int, stats Stats)
}

// Scheduler promotes due delayed tasks into the live queue.
// Any number of schedulers may run against the same queue.
type Scheduler struct {
	store   storage.Store
	delayed *DelayedStore
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   Clock
	stats   func(ctx context.Context) (Stats, error)

	running  atomic.Bool
	stopping atomic.Bool
	wake     chan struct{}
}

func newScheduler(store storage.Store, delayed *DelayedStore, opts Options, logger *slog.Logger, m *metrics.Metrics, clock Clock, stats func(context.Context) (Stats, error)) *Scheduler {
	return &Scheduler{
		store:   store,
		delayed: delayed,
		opts:    opts,
		logger:  logger.With("component", "scheduler"),
		metrics: m,
		clock:   clock,
		stats:   stats,
		wake:    make(chan struct{}, 1),
	}
}

// Tick runs one promotion pass and returns how many tasks it promoted.
// maxMessages of zero promotes up to Options.MaxBatchSize.
func (s *Scheduler) Tick(ctx context.Context, maxMessages int) (int, error) {
	now := s.clock()

	limit := s.opts.MaxBatchSize
	if maxMessages > 0 && maxMessages < limit {
		limit = maxMessages
	}

	tasks, skipped, err := s.delayed.dueTasks(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	for i := 0; i < skipped; i++ {
		s.metrics.IncSkippedTask(s.opts.Name)
	}

	promoted := 0
	for _, task := range tasks {
		if promoted >= limit {
			break
		}

		msg := task.Promoted(now)
		id, ok, err := s.store.Promote(ctx, s.delayed.key, task.Raw(), s.opts.StreamKey(), msg.Fields())
		if err != nil {
			s.metrics.RecordTick(s.opts.Name, promoted)
			return promoted, err
		}
		if !ok {
			s.logger.Debug("Delayed task claimed elsewhere", "task_id", task.ID)
			continue
		}

		promoted++
		s.logger.Debug("Delayed task promoted", "task_id", task.ID, "message_id", id)
	}

	s.metrics.RecordTick(s.opts.Name, promoted)
	if promoted > 0 {
		s.logger.Info("Promoted delayed tasks", "promoted", promoted, "due", len(tasks))
	}
	return promoted, nil
}

// Run ticks until ctx is cancelled, Stop is called, or heap usage crosses
// Options.MemoryLimit, in which case it returns ErrMemoryLimit.
// A tick in progress always completes. A Stop that arrives before Run
// makes the next Run return without ticking.
func (s *Scheduler) Run(ctx context.Context, ro RunOptions) error {
	interval := ro.Interval
	if interval <= 0 {
		interval = s.opts.TickInterval
	}

	s.running.Store(true)
	defer s.running.Store(false)

	s.logger.Info("Scheduler started", "queue", s.opts.Name, "interval", interval)
	defer s.logger.Info("Scheduler stopped", "queue", s.opts.Name)

	tickCtx := context.WithoutCancel(ctx)
	timer := time.NewTimer(0)
	defer timer.Stop()

	var stats Stats
	for {
		if s.stopping.Swap(false) {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			continue
		case <-timer.C:
		}

		if used, over := memoryExceeded(s.opts.MemoryLimit); over {
			s.logger.Warn("Memory limit exceeded, stopping scheduler", "used_bytes", used, "limit_bytes", s.opts.MemoryLimit)
			return ErrMemoryLimit
		}

		promoted, err := s.Tick(tickCtx, ro.MaxMessages)
		if err != nil {
			s.logger.Error("Scheduler tick failed", "error", err)
		}

		if s.stats != nil {
			fresh, err := s.stats(tickCtx)
			if err != nil {
				s.logger.Warn("Failed to collect stats", "error", err)
			} else {
				stats = fresh
				s.metrics.UpdateQueueState(s.opts.Name, stats.QueueLength, stats.Delayed, stats.DueNow, stats.Pending, stats.Dead)
			}
		}
		if ro.OnTick != nil {
			ro.OnTick(promoted, stats)
		}

		timer.Reset(interval)
	}
}

// Stop asks Run to return after the current tick
func (s *Scheduler) Stop() {
	s.stopping.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Running reports whether Run is active
func (s *Scheduler) Running() bool {
	return s.running.Load()
}
