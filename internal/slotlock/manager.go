// Package slotlock expresses appointment slot reservation as an owner-token
// lock in Redis. Every conditional operation is a single atomic command or
// Lua script so that any number of stateless processes can share one store.
package slotlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

var tracer = otel.Tracer("medspa.internal.slotlock")

// DefaultTTL matches the OTP challenge window so abandoned reservations self-heal.
const DefaultTTL = 600 * time.Second

const keyPrefix = "slotlock"

// SlotTimeLayout is the canonical UTC form of the slot time inside lock keys.
const SlotTimeLayout = "2006-01-02T15:04:05Z"

// ErrOwnerRequired is returned when an operation is attempted without an owner token.
var ErrOwnerRequired = errors.New("slotlock: owner token required")

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the TTL only while the caller still owns the key.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Key identifies one bookable slot: tenant, resource (practitioner) and start time.
type Key struct {
	Tenant   string
	Resource string
	Slot     time.Time
}

// String renders slotlock:{tenant}:{resourceId}:{isoSlotTime}.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, k.Tenant, k.Resource, k.Slot.UTC().Format(SlotTimeLayout))
}

func (k Key) validate() error {
	if strings.TrimSpace(k.Tenant) == "" || strings.TrimSpace(k.Resource) == "" {
		return errors.New("slotlock: tenant and resource required")
	}
	if k.Slot.IsZero() {
		return errors.New("slotlock: slot time required")
	}
	return nil
}

// Manager acquires, verifies and releases slot locks.
type Manager struct {
	redis      redis.UniversalClient
	defaultTTL time.Duration
	logger     *logging.Logger
}

// NewManager builds a lock manager. A non-positive ttl falls back to DefaultTTL.
func NewManager(client redis.UniversalClient, ttl time.Duration, logger *logging.Logger) *Manager {
	if client == nil {
		panic("slotlock: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{redis: client, defaultTTL: ttl, logger: logger}
}

// DefaultTTL returns the TTL applied when callers pass zero.
func (m *Manager) DefaultTTL() time.Duration {
	return m.defaultTTL
}

// Acquire creates the lock iff it does not exist. A false result with a nil
// error is the normal "slot taken" outcome.
func (m *Manager) Acquire(ctx context.Context, key Key, owner string, ttl time.Duration) (bool, error) {
	if err := key.validate(); err != nil {
		return false, err
	}
	if owner == "" {
		return false, ErrOwnerRequired
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	ctx, span := tracer.Start(ctx, "slotlock.acquire")
	defer span.End()
	span.SetAttributes(
		attribute.String("medspa.org_id", key.Tenant),
		attribute.String("slotlock.resource", key.Resource),
	)

	ok, err := m.redis.SetNX(ctx, key.String(), owner, ttl).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("slotlock: acquire: %w", err)
	}
	span.SetAttributes(attribute.Bool("slotlock.acquired", ok))
	if ok {
		m.logger.Debug("slot lock acquired", "key", key.String(), "ttl_ms", ttl.Milliseconds())
	} else {
		m.logger.Debug("slot lock busy", "key", key.String())
	}
	return ok, nil
}

// Verify reports whether owner currently holds the lock.
func (m *Manager) Verify(ctx context.Context, key Key, owner string) (bool, error) {
	if owner == "" {
		return false, ErrOwnerRequired
	}
	current, err := m.redis.Get(ctx, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("slotlock: verify: %w", err)
	}
	return current == owner, nil
}

// Release deletes the lock when owner holds it. A stale or foreign owner gets
// false and the key is left untouched.
func (m *Manager) Release(ctx context.Context, key Key, owner string) (bool, error) {
	if owner == "" {
		return false, ErrOwnerRequired
	}
	ctx, span := tracer.Start(ctx, "slotlock.release")
	defer span.End()

	n, err := releaseScript.Run(ctx, m.redis, []string{key.String()}, owner).Int64()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("slotlock: release: %w", err)
	}
	released := n == 1
	span.SetAttributes(attribute.Bool("slotlock.released", released))
	if !released {
		m.logger.Warn("slot lock release refused", "key", key.String())
	}
	return released, nil
}

// Extend refreshes the TTL of a lock owner still holds.
func (m *Manager) Extend(ctx context.Context, key Key, owner string, ttl time.Duration) (bool, error) {
	if owner == "" {
		return false, ErrOwnerRequired
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	n, err := extendScript.Run(ctx, m.redis, []string{key.String()}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("slotlock: extend: %w", err)
	}
	return n == 1, nil
}

// IsLocked returns the current owner token, if any.
func (m *Manager) IsLocked(ctx context.Context, key Key) (string, bool, error) {
	owner, err := m.redis.Get(ctx, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("slotlock: is locked: %w", err)
	}
	return owner, true, nil
}

// TTL returns the remaining lifetime of the lock, or zero when it is absent.
func (m *Manager) TTL(ctx context.Context, key Key) (time.Duration, error) {
	ttl, err := m.redis.PTTL(ctx, key.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("slotlock: ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
