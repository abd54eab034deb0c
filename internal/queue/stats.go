package queue

import "context"

// Stats is a point-in-time view of a queue
type Stats struct {
	QueueLength int64 `json:"queue_length"`
	Delayed     int64 `json:"delayed"`
	DueNow      int64 `json:"due_now"`
	Pending     int64 `json:"pending"`
	Dead        int64 `json:"dead"`
}

// Stats collects counts from the store. Each count is read separately, so
// the snapshot is not atomic under concurrent traffic.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var (
		stats Stats
		err   error
	)

	if stats.QueueLength, err = q.store.Len(ctx, q.opts.StreamKey()); err != nil {
		return Stats{}, err
	}
	if stats.Delayed, err = q.delayed.Len(ctx); err != nil {
		return Stats{}, err
	}
	if stats.DueNow, err = q.delayed.CountDueWithin(ctx, 0); err != nil {
		return Stats{}, err
	}
	if stats.Pending, err = q.store.PendingCount(ctx, q.opts.StreamKey(), q.opts.Group); err != nil {
		return Stats{}, err
	}
	if stats.Dead, err = q.store.Counter(ctx, q.opts.DeadKey()); err != nil {
		return Stats{}, err
	}

	return stats, nil
}
