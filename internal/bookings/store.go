package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	draftKeyPrefix = "booking:draft:"
	awaitingKey    = "booking:draft:awaiting"
)

var (
	errDraftExists  = errors.New("bookings: draft already exists")
	errDraftMissing = errors.New("bookings: draft missing")
	errVersionStale = errors.New("bookings: draft version changed")
)

// createScript writes a draft only if the id is unused.
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "data", ARGV[1], "version", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// casScript replaces the draft only while its version still equals the one
// the caller loaded. Returns -1 when the draft is gone.
var casScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "version")
if not current then
  return -1
end
if current ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "data", ARGV[2], "version", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

// Store persists drafts in Redis under booking:draft:{id}.
type Store struct {
	redis redis.UniversalClient
}

// NewStore creates a draft store backed by Redis.
func NewStore(client redis.UniversalClient) *Store {
	if client == nil {
		panic("bookings: redis client required")
	}
	return &Store{redis: client}
}

// DraftKey returns the Redis key for a draft id.
func DraftKey(id string) string {
	return draftKeyPrefix + id
}

func (s *Store) create(ctx context.Context, d *Draft, ttl time.Duration) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("bookings: marshal draft: %w", err)
	}
	n, err := createScript.Run(ctx, s.redis, []string{DraftKey(d.ID)}, data, d.Version, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("bookings: create draft: %w", err)
	}
	if n == 0 {
		return errDraftExists
	}
	return nil
}

func (s *Store) load(ctx context.Context, id string) (*Draft, error) {
	fields, err := s.redis.HGetAll(ctx, DraftKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("bookings: load draft: %w", err)
	}
	raw, ok := fields["data"]
	if !ok {
		return nil, errDraftMissing
	}
	var d Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("bookings: decode draft: %w", err)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bookings: parse draft version: %w", err)
	}
	d.Version = version
	return &d, nil
}

// swap writes next if the stored version still equals expected. next.Version
// must already be advanced by the caller.
func (s *Store) swap(ctx context.Context, expected int64, next *Draft, ttl time.Duration) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("bookings: marshal draft: %w", err)
	}
	n, err := casScript.Run(ctx, s.redis, []string{DraftKey(next.ID)},
		strconv.FormatInt(expected, 10), data, next.Version, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("bookings: save draft: %w", err)
	}
	switch n {
	case -1:
		return errDraftMissing
	case 0:
		return errVersionStale
	}
	return nil
}

func (s *Store) delete(ctx context.Context, id string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, DraftKey(id))
	pipe.ZRem(ctx, awaitingKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bookings: delete draft: %w", err)
	}
	return nil
}

func (s *Store) indexAwaiting(ctx context.Context, id string, deadline time.Time) error {
	err := s.redis.ZAdd(ctx, awaitingKey, redis.Z{Score: float64(deadline.UnixMilli()), Member: id}).Err()
	if err != nil {
		return fmt.Errorf("bookings: index awaiting draft: %w", err)
	}
	return nil
}

func (s *Store) unindexAwaiting(ctx context.Context, id string) error {
	if err := s.redis.ZRem(ctx, awaitingKey, id).Err(); err != nil {
		return fmt.Errorf("bookings: unindex draft: %w", err)
	}
	return nil
}

// overdue returns ids of AWAITING_OTP drafts whose deadline has passed.
func (s *Store) overdue(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := s.redis.ZRangeByScore(ctx, awaitingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("bookings: list overdue drafts: %w", err)
	}
	return ids, nil
}
