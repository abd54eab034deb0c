package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/metrics"
	"github.com/Tinywan/redis-stream-sub000/internal/storage"
)

// Position selects where Consume reads from
type Position string

const (
	// PositionGroup claims the next unclaimed entry for this consumer
	PositionGroup Position = ">"
	// PositionBeginning reads the oldest entry without claiming it
	PositionBeginning Position = "0"
	// PositionNew waits for an entry appended after the call, without claiming it
	PositionNew Position = "$"
)

// Any other Position value is taken as a stream id; the entry right after it is read without claiming.

// ParsePosition validates a consume position. Empty selects PositionGroup.
func ParsePosition(s string) (Position, error) {
	switch pos := Position(s); pos {
	case "", PositionGroup:
		return PositionGroup, nil
	case PositionBeginning, PositionNew:
		return pos, nil
	}

	ms, seq, hasSeq := strings.Cut(s, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return "", fmt.Errorf("%w: invalid position %q", domain.ErrInvalidInput, s)
	}
	if hasSeq {
		if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
			return "", fmt.Errorf("%w: invalid position %q", domain.ErrInvalidInput, s)
		}
	}
	return Position(s), nil
}

// Engine implements bounded-retry delivery over the live queue's consumer group
type Engine struct {
	store       storage.StreamStore
	opts        Options
	logger      *slog.Logger
	metrics     *metrics.Metrics
	deadLetters storage.DeadLetterRepository
	clock       Clock
}

func newEngine(store storage.StreamStore, opts Options, logger *slog.Logger, m *metrics.Metrics, deadLetters storage.DeadLetterRepository, clock Clock) *Engine {
	return &Engine{
		store:       store,
		opts:        opts,
		logger:      logger.With("component", "delivery_engine"),
		metrics:     m,
		deadLetters: deadLetters,
		clock:       clock,
	}
}

// Consume returns the next message or nil when none arrived within the block timeout.
//
// With PositionGroup (or an empty position) the message is claimed and its
// attempts incremented; entries left unresolved past Options.ClaimTimeout
// are taken over before new ones. Other positions read without claiming and never
// touch attempts. When h is given it runs synchronously: a claimed message
// whose handler succeeds is acknowledged, otherwise the failure is attached
// to the returned message and the message stays claimed.
func (e *Engine) Consume(ctx context.Context, h Handler, pos Position) (*domain.Message, error) {
	pos, err := ParsePosition(string(pos))
	if err != nil {
		return nil, err
	}
	if pos == PositionGroup {
		return e.claim(ctx, h)
	}
	return e.peek(ctx, h, pos)
}

func (e *Engine) claim(ctx context.Context, h Handler) (*domain.Message, error) {
	msg, err := e.reclaim(ctx)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		if msg, err = e.claimNew(ctx); err != nil || msg == nil {
			return nil, err
		}
	}

	msg.Attempts++
	msg.Status = domain.StatusDelivered
	if err := e.store.SetAttempts(ctx, e.opts.AttemptsKey(), msg.ID, msg.Attempts); err != nil {
		return nil, err
	}
	e.metrics.IncDelivered(e.opts.Name)

	e.logger.Debug("Message delivered",
		"message_id", msg.ID,
		"consumer", e.opts.Consumer,
		"attempts", msg.Attempts,
	)

	if h == nil {
		return msg, nil
	}

	if failure := invoke(ctx, h, msg); failure != nil {
		msg.Failure = failure
		e.metrics.IncHandlerFailure(e.opts.Name)
		e.logger.Warn("Handler failed",
			"message_id", msg.ID,
			"attempts", msg.Attempts,
			"error", failure,
		)
		return msg, nil
	}

	if _, err := e.Ack(ctx, msg.ID); err != nil {
		return nil, err
	}
	msg.Status = domain.StatusAcked
	return msg, nil
}

// claimNew reads the next never-delivered entry for this consumer
func (e *Engine) claimNew(ctx context.Context) (*domain.Message, error) {
	entries, err := e.readGroup(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	entry := entries[0]
	msg, err := domain.ParseMessage(entry.ID, entry.Fields)
	if err != nil {
		// Nothing a handler could do with it; resolve so it does not sit in pending forever
		e.logger.Warn("Acknowledging malformed entry", "message_id", entry.ID, "error", err)
		if _, ackErr := e.store.Ack(ctx, e.opts.StreamKey(), e.opts.Group, e.opts.AttemptsKey(), entry.ID); ackErr != nil {
			return nil, ackErr
		}
		return nil, nil
	}
	return msg, nil
}

// reclaim takes over one entry whose holder left it unresolved for longer
// than Options.ClaimTimeout. The previous delivery counts against the retry
// budget: an entry that already used it up is dropped instead.
func (e *Engine) reclaim(ctx context.Context) (*domain.Message, error) {
	if e.opts.ClaimTimeout <= 0 {
		return nil, nil
	}

	stream := e.opts.StreamKey()
	ledger := e.opts.AttemptsKey()

	for {
		entries, err := e.store.AutoClaim(ctx, stream, e.opts.Group, e.opts.Consumer, e.opts.ClaimTimeout, 1)
		if err != nil {
			if isNoGroup(err) {
				// readGroup recreates it
				return nil, nil
			}
			return nil, err
		}
		if len(entries) == 0 {
			return nil, nil
		}

		entry := entries[0]
		msg, err := domain.ParseMessage(entry.ID, entry.Fields)
		if err != nil {
			e.logger.Warn("Acknowledging malformed entry", "message_id", entry.ID, "error", err)
			if _, err := e.store.Ack(ctx, stream, e.opts.Group, ledger, entry.ID); err != nil {
				return nil, err
			}
			continue
		}

		if attempts, ok, err := e.store.Attempts(ctx, ledger, msg.ID); err != nil {
			return nil, err
		} else if ok {
			msg.Attempts = attempts
		}

		e.logger.Info("Reclaimed stale message",
			"message_id", msg.ID,
			"consumer", e.opts.Consumer,
			"attempts", msg.Attempts,
			"claim_timeout", e.opts.ClaimTimeout,
		)

		if msg.Attempts <= e.opts.RetryAttempts {
			return msg, nil
		}

		if _, err := e.drop(ctx, msg, domain.ReasonRetryExhausted); err != nil {
			return nil, err
		}
	}
}

func (e *Engine) readGroup(ctx context.Context) ([]storage.Entry, error) {
	stream := e.opts.StreamKey()
	entries, err := e.store.ReadGroup(ctx, stream, e.opts.Group, e.opts.Consumer, 1, e.opts.BlockTimeout)
	if err != nil && isNoGroup(err) {
		// Stream was deleted underneath us
		e.logger.Warn("Consumer group missing, recreating", "stream", stream, "consumer_group", e.opts.Group)
		if err := e.store.EnsureGroup(ctx, stream, e.opts.Group); err != nil {
			return nil, err
		}
		entries, err = e.store.ReadGroup(ctx, stream, e.opts.Group, e.opts.Consumer, 1, e.opts.BlockTimeout)
	}
	return entries, err
}

func (e *Engine) peek(ctx context.Context, h Handler, pos Position) (*domain.Message, error) {
	entries, err := e.store.Read(ctx, e.opts.StreamKey(), string(pos), 1, e.opts.BlockTimeout)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	msg, err := domain.ParseMessage(entries[0].ID, entries[0].Fields)
	if err != nil {
		e.logger.Warn("Skipping malformed entry", "message_id", entries[0].ID, "error", err)
		return nil, nil
	}

	if h != nil {
		msg.Failure = invoke(ctx, h, msg)
	}
	return msg, nil
}

// Ack resolves a claimed message. It reports false when the id was not pending.
func (e *Engine) Ack(ctx context.Context, id string) (bool, error) {
	n, err := e.store.Ack(ctx, e.opts.StreamKey(), e.opts.Group, e.opts.AttemptsKey(), id)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	e.metrics.IncAcked(e.opts.Name)
	e.logger.Debug("Message acknowledged", "message_id", id)
	return true, nil
}

// Nack resolves a claimed message negatively.
//
// With retry set and attempts within the retry budget the message is
// requeued as a fresh entry carrying its attempts. Otherwise it is deleted
// and counted as dead. It reports false and changes nothing when the id is
// no longer pending, so a nack after ack or after another nack is a no-op.
func (e *Engine) Nack(ctx context.Context, id string, retry bool) (bool, error) {
	stream := e.opts.StreamKey()
	ledger := e.opts.AttemptsKey()

	entries, err := e.store.Range(ctx, stream, id, id, 1)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		// Drop any pending record left pointing at a deleted entry
		if _, err := e.store.Ack(ctx, stream, e.opts.Group, ledger, id); err != nil {
			return false, err
		}
		return false, nil
	}

	msg, err := domain.ParseMessage(id, entries[0].Fields)
	if err != nil {
		e.logger.Warn("Discarding malformed entry", "message_id", id, "error", err)
		return e.store.Discard(ctx, stream, e.opts.Group, ledger, e.opts.DeadKey(), id)
	}

	if attempts, ok, err := e.store.Attempts(ctx, ledger, id); err != nil {
		return false, err
	} else if ok {
		msg.Attempts = attempts
	}

	if retry && msg.Attempts <= e.opts.RetryAttempts {
		msg.Status = domain.StatusPending
		newID, ok, err := e.store.Requeue(ctx, stream, e.opts.Group, ledger, id, msg.Fields())
		if err != nil || !ok {
			return false, err
		}

		e.metrics.IncRequeued(e.opts.Name)
		e.logger.Info("Message requeued",
			"message_id", id,
			"new_message_id", newID,
			"attempts", msg.Attempts,
			"retry_attempts", e.opts.RetryAttempts,
		)
		return true, nil
	}

	reason := domain.ReasonRejected
	if retry {
		reason = domain.ReasonRetryExhausted
	}
	return e.drop(ctx, msg, reason)
}

// drop deletes a pending message, counts it as dead and archives it
func (e *Engine) drop(ctx context.Context, msg *domain.Message, reason string) (bool, error) {
	ok, err := e.store.Discard(ctx, e.opts.StreamKey(), e.opts.Group, e.opts.AttemptsKey(), e.opts.DeadKey(), msg.ID)
	if err != nil || !ok {
		return false, err
	}
	msg.Status = domain.StatusDead

	e.metrics.IncDead(e.opts.Name, reason)
	e.logger.Warn("Message dropped",
		"message_id", msg.ID,
		"attempts", msg.Attempts,
		"reason", reason,
	)

	e.archive(ctx, msg, reason)
	return true, nil
}

// archive stores a dead letter; failures are logged and never undo the drop
func (e *Engine) archive(ctx context.Context, msg *domain.Message, reason string) {
	if e.deadLetters == nil {
		return
	}
	letter := domain.NewDeadLetter(e.opts.Name, msg, reason, e.clock())
	if err := e.deadLetters.Store(ctx, letter); err != nil {
		e.logger.Error("Failed to archive dead letter", "message_id", msg.ID, "error", err)
	}
}

// Replay runs h over the live queue from its start, including acknowledged
// entries, up to maxMessages (zero for all). With autoAck a successful
// handler also acknowledges the entry. It never claims anything.
func (e *Engine) Replay(ctx context.Context, h Handler, maxMessages int, autoAck bool) (int, error) {
	return e.scan(ctx, maxMessages, func(msg *domain.Message) error {
		failure := invoke(ctx, h, msg)
		if failure != nil {
			e.logger.Warn("Replay handler failed", "message_id", msg.ID, "error", failure)
			return nil
		}
		if autoAck {
			if _, err := e.Ack(ctx, msg.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Audit runs h over the live queue like Replay but never writes anything
func (e *Engine) Audit(ctx context.Context, h Handler, maxMessages int) (int, error) {
	return e.scan(ctx, maxMessages, func(msg *domain.Message) error {
		if failure := invoke(ctx, h, msg); failure != nil {
			e.logger.Warn("Audit handler failed", "message_id", msg.ID, "error", failure)
		}
		return nil
	})
}

// scan pages through the stream oldest first and calls visit per message
func (e *Engine) scan(ctx context.Context, maxMessages int, visit func(*domain.Message) error) (int, error) {
	if maxMessages < 0 {
		return 0, errors.New("max messages must be >= 0")
	}

	stream := e.opts.StreamKey()
	start := "-"
	lastID := ""
	count := 0

	for {
		// Pages after the first start at the last seen id, which is read again
		want := int64(e.opts.ReplayBatchSize)
		if lastID != "" {
			want++
		}

		entries, err := e.store.Range(ctx, stream, start, "+", want)
		if err != nil {
			return count, err
		}

		for _, entry := range entries {
			if entry.ID == lastID {
				continue
			}
			lastID = entry.ID

			msg, err := domain.ParseMessage(entry.ID, entry.Fields)
			if err != nil {
				e.logger.Warn("Skipping malformed entry", "message_id", entry.ID, "error", err)
				continue
			}

			if err := visit(msg); err != nil {
				return count, err
			}
			count++
			if maxMessages > 0 && count >= maxMessages {
				return count, nil
			}
		}

		if int64(len(entries)) < want {
			return count, nil
		}
		start = lastID
	}
}

// Pending lists up to count claimed entries of this queue's group
func (e *Engine) Pending(ctx context.Context, count int64) ([]storage.PendingEntry, error) {
	return e.store.Pending(ctx, e.opts.StreamKey(), e.opts.Group, count)
}

func isNoGroup(err error) bool {
	var storeErr *domain.StoreError
	return errors.As(err, &storeErr) && strings.Contains(storeErr.Err.Error(), "NOGROUP")
}
