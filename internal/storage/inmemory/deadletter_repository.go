package inmemory

import (
	"context"
	"sync"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/storage"
)

// DeadLetterRepository is an in-memory dead letter archive
// Entries are kept in insertion order, capped at capacity when set.
type DeadLetterRepository struct {
	mu       sync.RWMutex
	letters  []*domain.DeadLetter
	total    int64
	capacity int
}

var _ storage.DeadLetterRepository = (*DeadLetterRepository)(nil)

// NewDeadLetterRepository creates an archive keeping at most capacity letters.
// A capacity of zero keeps everything.
func NewDeadLetterRepository(capacity int) *DeadLetterRepository {
	return &DeadLetterRepository{
		letters:  make([]*domain.DeadLetter, 0),
		capacity: capacity,
	}
}

// Store archives a dead letter
// Thread-safe for concurrent writes
func (r *DeadLetterRepository) Store(_ context.Context, letter *domain.DeadLetter) error {
	if letter == nil || letter.MessageID == "" {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.letters = append(r.letters, letter)
	r.total++
	if r.capacity > 0 && len(r.letters) > r.capacity {
		r.letters = r.letters[len(r.letters)-r.capacity:]
	}
	return nil
}

// List returns up to limit letters, newest first
func (r *DeadLetterRepository) List(_ context.Context, limit int) ([]*domain.DeadLetter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.letters)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*domain.DeadLetter, 0, n)
	for i := len(r.letters) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.letters[i])
	}
	return out, nil
}

// Count returns how many letters were ever archived
func (r *DeadLetterRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.total, nil
}

// Clear removes all letters
// Useful for testing
func (r *DeadLetterRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.letters = make([]*domain.DeadLetter, 0)
	r.total = 0
}
