package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testStream  = "queue:test"
	testGroup   = "workers"
	testLedger  = "queue:test:attempts"
	testDelayed = "queue:test:delayed"
	testDead    = "queue:test:dead"
)

// Test helper: in-process Redis per test
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewFromClient(client)
	t.Cleanup(func() {
		store.Close()
	})

	return store, mr
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), Config{RedisURL: "invalid://url"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse Redis URL")
}

func TestNew_ConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Config{RedisURL: "redis://" + addr, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestNew_Connects(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := New(context.Background(), Config{RedisURL: "redis://" + mr.Addr(), PoolSize: 4})
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Ping(context.Background()))
}

func TestStore_EnsureGroupIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureGroup(ctx, testStream, testGroup))
	require.NoError(t, store.EnsureGroup(ctx, testStream, testGroup))
}

func TestStore_AppendReadGroupAck(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureGroup(ctx, testStream, testGroup))

	id, err := store.Append(ctx, testStream, map[string]string{"message": "hello", "attempts": "0"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := store.ReadGroup(ctx, testStream, testGroup, "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "hello", entries[0].Fields["message"])

	// Already claimed, nothing left for another consumer
	entries, err = store.ReadGroup(ctx, testStream, testGroup, "c2", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, entries)

	pending, err := store.PendingCount(ctx, testStream, testGroup)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	list, err := store.Pending(ctx, testStream, testGroup, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c1", list[0].Consumer)
	assert.Equal(t, int64(1), list[0].Deliveries)

	require.NoError(t, store.SetAttempts(ctx, testLedger, id, 1))
	n, ok, err := store.Attempts(ctx, testLedger, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, n)

	acked, err := store.Ack(ctx, testStream, testGroup, testLedger, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), acked)

	// Second ack is a no-op
	acked, err = store.Ack(ctx, testStream, testGroup, testLedger, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acked)

	_, ok, err = store.Attempts(ctx, testLedger, id)
	require.NoError(t, err)
	assert.False(t, ok)

	// Ack keeps the entry in the log
	length, err := store.Len(ctx, testStream)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestStore_RangeAndRead(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Append(ctx, testStream, map[string]string{"message": "a"})
	require.NoError(t, err)
	second, err := store.Append(ctx, testStream, map[string]string{"message": "b"})
	require.NoError(t, err)

	all, err := store.Range(ctx, testStream, "-", "+", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first, all[0].ID)

	one, err := store.Range(ctx, testStream, "-", "+", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)

	after, err := store.Read(ctx, testStream, first, 10, 0)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, second, after[0].ID)
	assert.Equal(t, "b", after[0].Fields["message"])
}

func TestStore_Requeue(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureGroup(ctx, testStream, testGroup))

	id, err := store.Append(ctx, testStream, map[string]string{"message": "retry-me", "attempts": "0"})
	require.NoError(t, err)
	_, err = store.ReadGroup(ctx, testStream, testGroup, "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, store.SetAttempts(ctx, testLedger, id, 1))

	newID, ok, err := store.Requeue(ctx, testStream, testGroup, testLedger, id, map[string]string{"message": "retry-me", "attempts": "1"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, id, newID)

	pending, err := store.PendingCount(ctx, testStream, testGroup)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)

	all, err := store.Range(ctx, testStream, "-", "+", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, newID, all[0].ID)
	assert.Equal(t, "1", all[0].Fields["attempts"])
}

func TestStore_Discard(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureGroup(ctx, testStream, testGroup))

	id, err := store.Append(ctx, testStream, map[string]string{"message": "drop-me"})
	require.NoError(t, err)
	_, err = store.ReadGroup(ctx, testStream, testGroup, "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)

	ok, err := store.Discard(ctx, testStream, testGroup, testLedger, testDead, id)
	require.NoError(t, err)
	assert.True(t, ok)

	length, err := store.Len(ctx, testStream)
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)

	dead, err := store.Counter(ctx, testDead)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)

	missing, err := store.Counter(ctx, "queue:none:dead")
	require.NoError(t, err)
	assert.Equal(t, int64(0), missing)
}

func TestStore_ResolveRequiresPending(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureGroup(ctx, testStream, testGroup))

	id, err := store.Append(ctx, testStream, map[string]string{"message": "done"})
	require.NoError(t, err)
	_, err = store.ReadGroup(ctx, testStream, testGroup, "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	acked, err := store.Ack(ctx, testStream, testGroup, testLedger, id)
	require.NoError(t, err)
	require.Equal(t, int64(1), acked)

	newID, ok, err := store.Requeue(ctx, testStream, testGroup, testLedger, id, map[string]string{"message": "done"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, newID)

	ok, err = store.Discard(ctx, testStream, testGroup, testLedger, testDead, id)
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := store.Range(ctx, testStream, "-", "+", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, id, all[0].ID)

	dead, err := store.Counter(ctx, testDead)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dead)
}

func TestStore_AutoClaim(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mr.SetTime(base)
	require.NoError(t, store.EnsureGroup(ctx, testStream, testGroup))

	id, err := store.Append(ctx, testStream, map[string]string{"message": "idle"})
	require.NoError(t, err)
	_, err = store.ReadGroup(ctx, testStream, testGroup, "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)

	claimed, err := store.AutoClaim(ctx, testStream, testGroup, "c2", time.Minute, 1)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	mr.SetTime(base.Add(2 * time.Minute))

	claimed, err = store.AutoClaim(ctx, testStream, testGroup, "c2", time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
	assert.Equal(t, "idle", claimed[0].Fields["message"])

	pending, err := store.Pending(ctx, testStream, testGroup, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c2", pending[0].Consumer)
	assert.Equal(t, int64(2), pending[0].Deliveries)
}

func TestStore_ZMove(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	aside := testDelayed + ":malformed"

	require.NoError(t, store.ZAdd(ctx, testDelayed, 42, "{broken"))
	require.NoError(t, store.ZMove(ctx, testDelayed, aside, "{broken", 42))

	card, err := store.ZCard(ctx, testDelayed)
	require.NoError(t, err)
	assert.Equal(t, int64(0), card)

	moved, err := store.ZRangeByScore(ctx, aside, 100, 0)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, "{broken", moved[0].Member)
	assert.Equal(t, float64(42), moved[0].Score)
}

func TestStore_SortedSet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ZAdd(ctx, testDelayed, 100.5, `{"id":"a"}`))
	require.NoError(t, store.ZAdd(ctx, testDelayed, 200, `{"id":"b"}`))
	require.NoError(t, store.ZAdd(ctx, testDelayed, 300, `{"id":"c"}`))

	due, err := store.ZRangeByScore(ctx, testDelayed, 250, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, `{"id":"a"}`, due[0].Member)
	assert.Equal(t, 100.5, due[0].Score)

	limited, err := store.ZRangeByScore(ctx, testDelayed, 1000, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	count, err := store.ZCount(ctx, testDelayed, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	card, err := store.ZCard(ctx, testDelayed)
	require.NoError(t, err)
	assert.Equal(t, int64(3), card)

	matches, err := store.ZScan(ctx, testDelayed, `*"id":"b"*`)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":"b"}`}, matches)

	removed, err := store.ZRem(ctx, testDelayed, `{"id":"a"}`)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.ZRem(ctx, testDelayed, `{"id":"a"}`)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestStore_PromoteClaimsOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	member := `{"id":"task-1"}`
	require.NoError(t, store.ZAdd(ctx, testDelayed, 1, member))

	var promoted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.Promote(ctx, testDelayed, member, testStream, map[string]string{"message": "X"})
			assert.NoError(t, err)
			if ok {
				promoted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), promoted.Load())

	length, err := store.Len(ctx, testStream)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	card, err := store.ZCard(ctx, testDelayed)
	require.NoError(t, err)
	assert.Equal(t, int64(0), card)
}

func TestStore_PromoteMissingMember(t *testing.T) {
	store, _ := newTestStore(t)

	id, ok, err := store.Promote(context.Background(), testDelayed, "gone", testStream, map[string]string{"message": "X"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestStore_PromoteKeepsTaskWhenAppendFails(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	member := `{"id":"task-1"}`
	require.NoError(t, store.ZAdd(ctx, testDelayed, 7, member))
	require.NoError(t, mr.Set(testStream, "not a stream"))

	_, ok, err := store.Promote(ctx, testDelayed, member, testStream, map[string]string{"message": "X"})
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "WRONGTYPE")

	due, err := store.ZRangeByScore(ctx, testDelayed, 100, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, member, due[0].Member)
	assert.Equal(t, float64(7), due[0].Score)
}

func TestStore_ErrorsAreStoreErrors(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	_, err := store.Append(context.Background(), testStream, map[string]string{"message": "x"})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = store.ZRangeByScore(context.Background(), testDelayed, 1, 0)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
