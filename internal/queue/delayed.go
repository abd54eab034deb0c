package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/storage"
	"github.com/Tinywan/redis-stream-sub000/pkg/utils"
	"github.com/google/uuid"
)

// DelayedStore holds tasks that are not yet due, ordered by due time
type DelayedStore struct {
	store     storage.SortedSetStore
	key       string
	malformed string
	clock  Clock
	logger *slog.Logger
}

// NewDelayedStore creates a delayed task store over the sorted set at key.
// Members that fail to decode are moved to key + ":malformed".
func NewDelayedStore(store storage.SortedSetStore, key string, clock Clock, logger *slog.Logger) *DelayedStore {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &DelayedStore{
		store:     store,
		key:       key,
		malformed: key + ":malformed",
		clock:     clock,
		logger:    logger.With("component", "delayed_store"),
	}
}

// Schedule stores payload to become due after delay and returns the task id.
// The task id is not the live queue id, which is assigned at promotion.
func (d *DelayedStore) Schedule(ctx context.Context, payload string, metadata map[string]string, delay time.Duration) (string, error) {
	if delay <= 0 {
		return "", fmt.Errorf("%w: delay must be positive, got %s", domain.ErrInvalidInput, delay)
	}

	task := domain.NewDelayedTask(uuid.NewString(), payload, metadata, d.clock(), delay)
	raw, err := task.Encode()
	if err != nil {
		return "", err
	}

	if err := d.store.ZAdd(ctx, d.key, task.ExecuteTime, raw); err != nil {
		return "", err
	}

	d.logger.Debug("Delayed task scheduled",
		"task_id", task.ID,
		"execute_time", utils.FormatTimestamp(task.ExecuteAt()),
	)

	return task.ID, nil
}

// DueTasks returns tasks due at or before before, oldest first.
// A limit of zero is unbounded. Malformed members are logged and moved to
// the malformed set so they never hold up the tasks behind them.
func (d *DelayedStore) DueTasks(ctx context.Context, before time.Time, limit int) ([]*domain.DelayedTask, error) {
	tasks, _, err := d.dueTasks(ctx, before, limit)
	return tasks, err
}

func (d *DelayedStore) dueTasks(ctx context.Context, before time.Time, limit int) ([]*domain.DelayedTask, int, error) {
	if limit < 0 {
		limit = 0
	}

	// Every pass that meets a malformed member removes it, so this ends
	skipped := 0
	for {
		members, err := d.store.ZRangeByScore(ctx, d.key, utils.UnixSeconds(before), int64(limit))
		if err != nil {
			return nil, skipped, err
		}

		bad := 0
		tasks := make([]*domain.DelayedTask, 0, len(members))
		for _, m := range members {
			task, err := domain.DecodeDelayedTask(m.Member)
			if err == nil {
				tasks = append(tasks, task)
				continue
			}

			d.logger.Warn("Moving malformed delayed task aside", "error", err, "score", m.Score)
			if err := d.store.ZMove(ctx, d.key, d.malformed, m.Member, m.Score); err != nil {
				return nil, skipped, err
			}
			bad++
		}

		skipped += bad
		if bad == 0 {
			return tasks, skipped, nil
		}
	}
}

// MalformedLen returns how many undecodable members were moved aside
func (d *DelayedStore) MalformedLen(ctx context.Context) (int64, error) {
	return d.store.ZCard(ctx, d.malformed)
}

// Remove deletes the exact stored task.
// It reports false when another actor already removed it.
func (d *DelayedStore) Remove(ctx context.Context, task *domain.DelayedTask) (bool, error) {
	if task == nil || task.Raw() == "" {
		return false, fmt.Errorf("%w: task was not loaded from the store", domain.ErrInvalidInput)
	}
	return d.store.ZRem(ctx, d.key, task.Raw())
}

// Len returns the number of waiting tasks
func (d *DelayedStore) Len(ctx context.Context) (int64, error) {
	return d.store.ZCard(ctx, d.key)
}

// CountDueWithin counts tasks due within window from now
func (d *DelayedStore) CountDueWithin(ctx context.Context, window time.Duration) (int64, error) {
	return d.store.ZCount(ctx, d.key, utils.UnixSeconds(d.clock().Add(window)))
}

// Cancel removes a waiting task by id.
// It reports false when no such task is waiting.
func (d *DelayedStore) Cancel(ctx context.Context, taskID string) (bool, error) {
	if _, err := uuid.Parse(taskID); err != nil {
		return false, fmt.Errorf("%w: invalid task id %q", domain.ErrInvalidInput, taskID)
	}

	members, err := d.store.ZScan(ctx, d.key, fmt.Sprintf(`*"id":"%s"*`, taskID))
	if err != nil {
		return false, err
	}

	for _, member := range members {
		task, err := domain.DecodeDelayedTask(member)
		if err != nil || task.ID != taskID {
			continue
		}
		removed, err := d.Remove(ctx, task)
		if err != nil {
			return false, err
		}
		if removed {
			d.logger.Info("Delayed task cancelled", "task_id", taskID)
		}
		return removed, nil
	}
	return false, nil
}
