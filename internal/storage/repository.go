package storage

import (
	"context"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
)

// Entry is a single record read from a stream
type Entry struct {
	ID     string
	Fields map[string]string
}

// ScoredMember is a sorted-set member with its score
type ScoredMember struct {
	Member string
	Score  float64
}

// PendingEntry is a claimed-but-unacknowledged entry in a consumer group
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// StreamStore defines the append-only log operations the queue core consumes
type StreamStore interface {
	// EnsureGroup creates the consumer group (and the stream) if missing
	EnsureGroup(ctx context.Context, stream, group string) error

	// Append adds a record and returns its store-assigned id
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)

	// ReadGroup claims up to count new entries for consumer, blocking at most block
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error)

	// Read returns entries strictly after id without claiming them, blocking at most block
	Read(ctx context.Context, stream, after string, count int64, block time.Duration) ([]Entry, error)

	// Range returns entries between start and end inclusive
	Range(ctx context.Context, stream, start, end string, count int64) ([]Entry, error)

	// Ack removes ids from the group's pending bookkeeping and the attempt ledger
	Ack(ctx context.Context, stream, group, ledger string, ids ...string) (int64, error)

	// Len returns the number of entries in the stream
	Len(ctx context.Context, stream string) (int64, error)

	// Pending lists up to count claimed entries
	Pending(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error)

	// PendingCount returns the number of claimed entries
	PendingCount(ctx context.Context, stream, group string) (int64, error)

	// SetAttempts records the attempt count of a claimed entry
	SetAttempts(ctx context.Context, ledger, id string, attempts int) error

	// Attempts returns the recorded attempt count of a claimed entry
	Attempts(ctx context.Context, ledger, id string) (int, bool, error)

	// Requeue atomically resolves id and appends fields as a new entry.
	// It reports false and changes nothing when id is not pending.
	Requeue(ctx context.Context, stream, group, ledger, id string, fields map[string]string) (string, bool, error)

	// Discard atomically resolves id, deletes it and increments the dead counter.
	// It reports false and changes nothing when id is not pending.
	Discard(ctx context.Context, stream, group, ledger, counter, id string) (bool, error)

	// AutoClaim transfers up to count entries idle for at least minIdle to consumer
	AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error)

	// Counter reads an integer counter, zero when missing
	Counter(ctx context.Context, key string) (int64, error)
}

// SortedSetStore defines the score-ordered structure used for delay scheduling
type SortedSetStore interface {
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRangeByScore returns members with score <= max, lowest first; limit 0 means unbounded
	ZRangeByScore(ctx context.Context, key string, max float64, limit int64) ([]ScoredMember, error)

	// ZRem reports whether this call removed member
	ZRem(ctx context.Context, key, member string) (bool, error)

	ZCard(ctx context.Context, key string) (int64, error)

	// ZMove moves member from src to dst with score as one unit
	ZMove(ctx context.Context, src, dst, member string, score float64) error

	// ZCount counts members with score <= max
	ZCount(ctx context.Context, key string, max float64) (int64, error)

	// ZScan returns members matching a glob pattern
	ZScan(ctx context.Context, key, match string) ([]string, error)

	// Promote removes member from key and, only if that removal succeeded,
	// appends fields to stream. Both happen as one unit.
	Promote(ctx context.Context, key, member, stream string, fields map[string]string) (string, bool, error)
}

// Store is the full message store adapter
type Store interface {
	StreamStore
	SortedSetStore

	// Ping checks connectivity
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool
	Close() error
}

// DeadLetterRepository archives messages dropped after their retry budget
type DeadLetterRepository interface {
	// Store persists a dead letter
	Store(ctx context.Context, letter *domain.DeadLetter) error

	// List returns the most recent dead letters, newest first
	List(ctx context.Context, limit int) ([]*domain.DeadLetter, error)

	// Count returns the total number of archived dead letters
	Count(ctx context.Context) (int64, error)
}
