// Package otp issues and verifies one-time codes bound to a contact
// identifier. Only an HMAC of each code is stored; challenges are consumed
// on first successful verification.
package otp

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-slot-booking/internal/bookingerr"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

var tracer = otel.Tracer("medspa.internal.otp")

// ErrAttemptsExceeded is returned when the contact has used up its verification
// attempts for the current challenge.
var ErrAttemptsExceeded = bookingerr.Newf(bookingerr.KindRateLimited, "otp.verify", "too many verification attempts")

// Config controls code length, lifetimes and limits.
type Config struct {
	// Secret keys the HMAC applied to codes before storage.
	Secret      string
	CodeLength  int
	CodeTTL     time.Duration
	MaxAttempts int
	// Max issuances per contact per RateWindow.
	RateLimit  int
	RateWindow time.Duration
}

// DefaultConfig returns the nominal limits: 6 digits, 5 minute codes,
// 5 attempts, 3 issuances per 15 minutes.
func DefaultConfig() Config {
	return Config{
		CodeLength:  6,
		CodeTTL:     300 * time.Second,
		MaxAttempts: 5,
		RateLimit:   3,
		RateWindow:  900 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CodeLength <= 0 {
		c.CodeLength = def.CodeLength
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = def.CodeTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RateLimit <= 0 {
		c.RateLimit = def.RateLimit
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	return c
}

// Payload is bound to a challenge at issuance and returned on verification.
type Payload struct {
	DraftID string
}

// Challenge is the result of Issue. Code is the plaintext, handed to the
// delivery channel once and never stored.
type Challenge struct {
	ID        string
	Code      string
	ExpiresAt time.Time
	// Issued is the issuance count within the current rate window.
	Issued int
}

// Result is the outcome of a successful Verify.
type Result struct {
	ChallengeID string
	Payload     Payload
}

// ChallengeState describes a contact's challenge for diagnostics.
type ChallengeState string

const (
	StatePending ChallengeState = "PENDING"
	// StateAbsent covers both consumed and expired challenges; the store keeps no tombstone.
	StateAbsent ChallengeState = "ABSENT"
)

// Status summarizes a contact's current challenge.
type Status struct {
	State             ChallengeState
	ChallengeID       string
	TTL               time.Duration
	RemainingAttempts int
}

// rateScript increments the issuance counter, setting the window TTL only on
// the first hit so later hits never extend the window.
var rateScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// rollbackRateScript undoes a rejected issuance so it does not count.
var rollbackRateScript = redis.NewScript(`
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
if n > 0 then
  return redis.call("DECR", KEYS[1])
end
return 0
`)

// storeScript writes the challenge hash and resets the attempts counter.
var storeScript = redis.NewScript(`
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "hash", ARGV[1], "challenge_id", ARGV[2], "draft_id", ARGV[3], "issued_at", ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
redis.call("DEL", KEYS[2])
return 1
`)

// consumeScript deletes the challenge only if it still carries the verified
// hash, so exactly one concurrent verifier succeeds.
var consumeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "hash") == ARGV[1] then
  redis.call("DEL", KEYS[1])
  redis.call("DEL", KEYS[2])
  return 1
end
return 0
`)

// failScript counts a wrong guess; the counter lives as long as the challenge.
var failScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  local ttl = redis.call("PTTL", KEYS[2])
  if ttl <= 0 then
    ttl = tonumber(ARGV[1])
  end
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return n
`)

// Service manages challenge secrets in Redis. Delivery is the caller's concern.
type Service struct {
	redis  redis.UniversalClient
	cfg    Config
	logger *logging.Logger
	now    func() time.Time
}

// NewService constructs an OTP service.
func NewService(client redis.UniversalClient, cfg Config, logger *logging.Logger) *Service {
	if client == nil {
		panic("otp: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{redis: client, cfg: cfg.withDefaults(), logger: logger, now: time.Now}
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

func challengeKey(contact string) string { return "otp:code:" + contact }
func attemptsKey(contact string) string  { return "otp:attempts:" + contact }
func rateKey(contact string) string      { return "otp:rate:" + contact }

// Issue generates and stores a new code for contact, replacing any pending one.
func (s *Service) Issue(ctx context.Context, contact string, payload Payload) (*Challenge, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return nil, errors.New("otp: contact required")
	}

	ctx, span := tracer.Start(ctx, "otp.issue")
	defer span.End()

	issued, err := rateScript.Run(ctx, s.redis, []string{rateKey(contact)}, s.cfg.RateWindow.Milliseconds()).Int()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("otp: rate limit: %w", err)
	}
	span.SetAttributes(attribute.Int("otp.issued_in_window", issued))
	if issued > s.cfg.RateLimit {
		s.logger.Warn("otp issuance rate limited",
			"contact", logging.MaskContact(contact),
			"count", issued,
			"max", s.cfg.RateLimit,
		)
		return nil, bookingerr.Newf(bookingerr.KindRateLimited, "otp.issue",
			"exceeded %d codes in %s", s.cfg.RateLimit, s.cfg.RateWindow)
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		s.rollbackRate(ctx, contact)
		return nil, fmt.Errorf("otp: generate code: %w", err)
	}

	now := s.now().UTC()
	challengeID := uuid.NewString()
	_, err = storeScript.Run(ctx, s.redis,
		[]string{challengeKey(contact), attemptsKey(contact)},
		s.hash(contact, code),
		challengeID,
		payload.DraftID,
		now.Format(time.RFC3339Nano),
		s.cfg.CodeTTL.Milliseconds(),
	).Result()
	if err != nil {
		span.RecordError(err)
		s.rollbackRate(ctx, contact)
		return nil, fmt.Errorf("otp: store challenge: %w", err)
	}

	s.logger.Info("otp issued",
		"challenge_id", challengeID,
		"contact", logging.MaskContact(contact),
		"draft_id", payload.DraftID,
	)
	return &Challenge{
		ID:        challengeID,
		Code:      code,
		ExpiresAt: now.Add(s.cfg.CodeTTL),
		Issued:    issued,
	}, nil
}

// Verify checks code against the contact's pending challenge and consumes it
// on success. A missing challenge is NotFound: expired, consumed or never issued.
func (s *Service) Verify(ctx context.Context, contact, code string) (*Result, error) {
	contact = strings.TrimSpace(contact)
	code = strings.TrimSpace(code)

	ctx, span := tracer.Start(ctx, "otp.verify")
	defer span.End()

	fields, err := s.redis.HGetAll(ctx, challengeKey(contact)).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("otp: load challenge: %w", err)
	}
	stored := fields["hash"]
	if stored == "" {
		return nil, bookingerr.Newf(bookingerr.KindNotFound, "otp.verify", "no pending challenge")
	}

	attempts, err := s.attempts(ctx, contact)
	if err != nil {
		return nil, err
	}
	if attempts >= s.cfg.MaxAttempts {
		s.logger.Warn("otp verification locked out",
			"challenge_id", fields["challenge_id"],
			"contact", logging.MaskContact(contact),
		)
		return nil, ErrAttemptsExceeded
	}

	submitted := s.hash(contact, code)
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) != 1 {
		n, err := failScript.Run(ctx, s.redis,
			[]string{attemptsKey(contact), challengeKey(contact)},
			s.cfg.CodeTTL.Milliseconds(),
		).Int()
		if err != nil {
			return nil, fmt.Errorf("otp: record attempt: %w", err)
		}
		s.logger.Info("otp mismatch",
			"challenge_id", fields["challenge_id"],
			"contact", logging.MaskContact(contact),
			"attempts", n,
		)
		return nil, bookingerr.Newf(bookingerr.KindCodeInvalid, "otp.verify",
			"code mismatch (%d of %d attempts)", n, s.cfg.MaxAttempts)
	}

	consumed, err := consumeScript.Run(ctx, s.redis,
		[]string{challengeKey(contact), attemptsKey(contact)},
		stored,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("otp: consume challenge: %w", err)
	}
	if consumed != 1 {
		// Another verifier consumed it between our read and delete.
		return nil, bookingerr.Newf(bookingerr.KindNotFound, "otp.verify", "challenge already consumed")
	}

	s.logger.Info("otp verified",
		"challenge_id", fields["challenge_id"],
		"contact", logging.MaskContact(contact),
	)
	return &Result{
		ChallengeID: fields["challenge_id"],
		Payload:     Payload{DraftID: fields["draft_id"]},
	}, nil
}

// Status reports whether contact has a pending challenge.
func (s *Service) Status(ctx context.Context, contact string) (*Status, error) {
	contact = strings.TrimSpace(contact)
	id, err := s.redis.HGet(ctx, challengeKey(contact), "challenge_id").Result()
	if errors.Is(err, redis.Nil) {
		return &Status{State: StateAbsent}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("otp: status: %w", err)
	}
	ttl, err := s.redis.PTTL(ctx, challengeKey(contact)).Result()
	if err != nil {
		return nil, fmt.Errorf("otp: status ttl: %w", err)
	}
	attempts, err := s.attempts(ctx, contact)
	if err != nil {
		return nil, err
	}
	remaining := s.cfg.MaxAttempts - attempts
	if remaining < 0 {
		remaining = 0
	}
	return &Status{State: StatePending, ChallengeID: id, TTL: ttl, RemainingAttempts: remaining}, nil
}

func (s *Service) attempts(ctx context.Context, contact string) (int, error) {
	raw, err := s.redis.Get(ctx, attemptsKey(contact)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("otp: load attempts: %w", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("otp: parse attempts: %w", err)
	}
	return n, nil
}

func (s *Service) rollbackRate(ctx context.Context, contact string) {
	if err := rollbackRateScript.Run(ctx, s.redis, []string{rateKey(contact)}).Err(); err != nil {
		s.logger.Error("otp rate rollback failed", "error", err, "contact", logging.MaskContact(contact))
	}
}

// hash binds the code to its contact so equal codes for different contacts
// produce different stored values.
func (s *Service) hash(contact, code string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.Secret))
	mac.Write([]byte(contact))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func generateCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
