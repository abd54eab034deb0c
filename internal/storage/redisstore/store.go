package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/storage"
	"github.com/Tinywan/redis-stream-sub000/pkg/utils"
	"github.com/redis/go-redis/v9"
)

// promoteScript claims a delayed member and appends it to the live stream.
// Nothing is appended when another scheduler already removed the member.
// A failed append puts the member back with its original score.
var promoteScript = redis.NewScript(`
local kind = redis.call("type", KEYS[2])
if type(kind) == "table" then kind = kind.ok end
if kind ~= "none" and kind ~= "stream" then
	return redis.error_reply("WRONGTYPE live queue key holds a " .. kind)
end
local score = redis.call("zscore", KEYS[1], ARGV[1])
if not score then
	return false
end
redis.call("zrem", KEYS[1], ARGV[1])
local ok, res = pcall(redis.call, "xadd", KEYS[2], "*", unpack(ARGV, 2))
if not ok then
	redis.call("zadd", KEYS[1], score, ARGV[1])
	if type(res) == "table" then res = res.err end
	return redis.error_reply(tostring(res))
end
return res
`)

// requeueScript resolves a pending entry and appends its replacement.
// An id that is no longer pending is left untouched.
var requeueScript = redis.NewScript(`
if redis.call("xack", KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return false
end
redis.call("xdel", KEYS[1], ARGV[2])
redis.call("hdel", KEYS[2], ARGV[2])
return redis.call("xadd", KEYS[1], "*", unpack(ARGV, 3))
`)

// discardScript resolves a pending entry, deletes it and bumps the dead counter.
// An id that is no longer pending is left untouched.
var discardScript = redis.NewScript(`
if redis.call("xack", KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call("xdel", KEYS[1], ARGV[2])
redis.call("hdel", KEYS[2], ARGV[2])
redis.call("incr", KEYS[3])
return 1
`)

// Store implements storage.Store on Redis streams and sorted sets
type Store struct {
	client redis.UniversalClient
}

var _ storage.Store = (*Store)(nil)

// Config configures the Redis connection
type Config struct {
	RedisURL    string
	PoolSize    int
	DialTimeout time.Duration
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, config Config) (*Store, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, domain.NewStoreError("connect", fmt.Errorf("failed to connect to Redis: %w", err))
	}

	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client
func NewFromClient(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Client exposes the underlying client
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return domain.NewStoreError("ping", s.client.Ping(ctx).Err())
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// EnsureGroup creates the consumer group reading from the start of the stream
func (s *Store) EnsureGroup(ctx context.Context, stream, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return domain.NewStoreError("xgroup create", err)
	}
	return nil
}

// Append adds a record to the stream
func (s *Store) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: flatten(fields),
	}).Result()
	if err != nil {
		return "", domain.NewStoreError("xadd", err)
	}
	return id, nil
}

// ReadGroup claims new entries for a consumer
func (s *Store) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]storage.Entry, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    blockArg(block),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewStoreError("xreadgroup", err)
	}
	return firstStream(streams), nil
}

// Read returns entries after the given id without claiming them
func (s *Store) Read(ctx context.Context, stream, after string, count int64, block time.Duration) ([]storage.Entry, error) {
	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, after},
		Count:   count,
		Block:   blockArg(block),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewStoreError("xread", err)
	}
	return firstStream(streams), nil
}

// Range returns entries between start and end inclusive
func (s *Store) Range(ctx context.Context, stream, start, end string, count int64) ([]storage.Entry, error) {
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = s.client.XRangeN(ctx, stream, start, end, count).Result()
	} else {
		msgs, err = s.client.XRange(ctx, stream, start, end).Result()
	}
	if err != nil {
		return nil, domain.NewStoreError("xrange", err)
	}
	return toEntries(msgs), nil
}

// Ack acknowledges ids and clears their attempt ledger entries
func (s *Store) Ack(ctx context.Context, stream, group, ledger string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var ackCmd *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ackCmd = pipe.XAck(ctx, stream, group, ids...)
		pipe.HDel(ctx, ledger, ids...)
		return nil
	})
	if err != nil {
		return 0, domain.NewStoreError("xack", err)
	}
	return ackCmd.Val(), nil
}

// Len returns the stream length
func (s *Store) Len(ctx context.Context, stream string) (int64, error) {
	n, err := s.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, domain.NewStoreError("xlen", err)
	}
	return n, nil
}

// Pending lists claimed entries
func (s *Store) Pending(ctx context.Context, stream, group string, count int64) ([]storage.PendingEntry, error) {
	if count <= 0 {
		count = 100
	}
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, domain.NewStoreError("xpending", err)
	}

	entries := make([]storage.PendingEntry, 0, len(pending))
	for _, p := range pending {
		entries = append(entries, storage.PendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			Deliveries: p.RetryCount,
		})
	}
	return entries, nil
}

// PendingCount returns the size of the group's pending bookkeeping
func (s *Store) PendingCount(ctx context.Context, stream, group string) (int64, error) {
	summary, err := s.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, domain.NewStoreError("xpending", err)
	}
	return summary.Count, nil
}

// SetAttempts records the attempt count of a claimed entry
func (s *Store) SetAttempts(ctx context.Context, ledger, id string, attempts int) error {
	return domain.NewStoreError("hset", s.client.HSet(ctx, ledger, id, attempts).Err())
}

// Attempts returns the recorded attempt count of a claimed entry
func (s *Store) Attempts(ctx context.Context, ledger, id string) (int, bool, error) {
	val, err := s.client.HGet(ctx, ledger, id).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, domain.NewStoreError("hget", err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// Requeue resolves a pending id and appends fields as a fresh entry atomically.
// It reports false and changes nothing when id is not pending.
func (s *Store) Requeue(ctx context.Context, stream, group, ledger, id string, fields map[string]string) (string, bool, error) {
	args := make([]interface{}, 0, 2+2*len(fields))
	args = append(args, group, id)
	for _, v := range flatten(fields) {
		args = append(args, v)
	}

	newID, err := requeueScript.Run(ctx, s.client, []string{stream, ledger}, args...).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.NewStoreError("requeue", err)
	}
	return newID, true, nil
}

// Discard resolves a pending id, deletes it and bumps the dead counter atomically.
// It reports false and changes nothing when id is not pending.
func (s *Store) Discard(ctx context.Context, stream, group, ledger, counter, id string) (bool, error) {
	n, err := discardScript.Run(ctx, s.client, []string{stream, ledger, counter}, group, id).Int64()
	if err != nil {
		return false, domain.NewStoreError("discard", err)
	}
	return n == 1, nil
}

// AutoClaim takes over up to count entries that have sat unacknowledged for at least minIdle
func (s *Store) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]storage.Entry, error) {
	msgs, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, domain.NewStoreError("xautoclaim", err)
	}
	return toEntries(msgs), nil
}

// Counter reads an integer counter
func (s *Store) Counter(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.NewStoreError("get", err)
	}
	return n, nil
}

// ZAdd inserts member with score
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return domain.NewStoreError("zadd", s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

// ZRangeByScore returns members scored at or below max
func (s *Store) ZRangeByScore(ctx context.Context, key string, max float64, limit int64) ([]storage.ScoredMember, error) {
	zs, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   utils.FormatScore(max),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, domain.NewStoreError("zrangebyscore", err)
	}

	members := make([]storage.ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprint(z.Member)
		}
		members = append(members, storage.ScoredMember{Member: member, Score: z.Score})
	}
	return members, nil
}

// ZRem reports whether this call removed member
func (s *Store) ZRem(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.ZRem(ctx, key, member).Result()
	if err != nil {
		return false, domain.NewStoreError("zrem", err)
	}
	return n == 1, nil
}

// ZMove moves member from src to dst, keeping its score
func (s *Store) ZMove(ctx context.Context, src, dst, member string, score float64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, src, member)
		pipe.ZAdd(ctx, dst, redis.Z{Score: score, Member: member})
		return nil
	})
	return domain.NewStoreError("zmove", err)
}

// ZCard returns the number of members
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, domain.NewStoreError("zcard", err)
	}
	return n, nil
}

// ZCount counts members scored at or below max
func (s *Store) ZCount(ctx context.Context, key string, max float64) (int64, error) {
	n, err := s.client.ZCount(ctx, key, "-inf", utils.FormatScore(max)).Result()
	if err != nil {
		return 0, domain.NewStoreError("zcount", err)
	}
	return n, nil
}

// ZScan returns members matching a glob pattern
func (s *Store) ZScan(ctx context.Context, key, match string) ([]string, error) {
	var (
		cursor  uint64
		members []string
	)
	for {
		// ZSCAN replies alternate member, score
		kvs, next, err := s.client.ZScan(ctx, key, cursor, match, 100).Result()
		if err != nil {
			return nil, domain.NewStoreError("zscan", err)
		}
		for i := 0; i < len(kvs); i += 2 {
			members = append(members, kvs[i])
		}
		if next == 0 {
			return members, nil
		}
		cursor = next
	}
}

// Promote claims member and appends fields to stream atomically
func (s *Store) Promote(ctx context.Context, key, member, stream string, fields map[string]string) (string, bool, error) {
	args := make([]interface{}, 0, 1+2*len(fields))
	args = append(args, member)
	for _, v := range flatten(fields) {
		args = append(args, v)
	}

	id, err := promoteScript.Run(ctx, s.client, []string{key, stream}, args...).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.NewStoreError("promote", err)
	}
	return id, true, nil
}

// flatten renders fields as an ordered field/value list
func flatten(fields map[string]string) []string {
	keys := domain.SortedKeys(fields)
	out := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, fields[k])
	}
	return out
}

// blockArg maps a timeout to go-redis semantics, where 0 blocks forever
func blockArg(block time.Duration) time.Duration {
	if block <= 0 {
		return -1
	}
	if block < time.Millisecond {
		return time.Millisecond
	}
	return block
}

func firstStream(streams []redis.XStream) []storage.Entry {
	if len(streams) == 0 {
		return nil
	}
	return toEntries(streams[0].Messages)
}

func toEntries(msgs []redis.XMessage) []storage.Entry {
	entries := make([]storage.Entry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			switch val := v.(type) {
			case string:
				fields[k] = val
			default:
				fields[k] = fmt.Sprint(val)
			}
		}
		entries = append(entries, storage.Entry{ID: m.ID, Fields: fields})
	}
	return entries
}
