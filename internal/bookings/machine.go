// Package bookings owns the booking lifecycle: the transition table, the
// Redis-backed draft store, the expiry sweep and the durable repository.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-slot-booking/internal/audit"
	"github.com/wolfman30/medspa-slot-booking/internal/bookingerr"
	"github.com/wolfman30/medspa-slot-booking/internal/tenancy"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

var bookingsTracer = otel.Tracer("medspa.internal.bookings")

// Auditor receives lifecycle audit events.
type Auditor interface {
	Record(ctx context.Context, event audit.Event)
}

// TransitionObserver is notified of every transition attempt.
type TransitionObserver interface {
	ObserveTransition(from, to, outcome string)
}

// MachineConfig sets draft lifetimes.
type MachineConfig struct {
	// DraftTTL is refreshed on every write.
	DraftTTL time.Duration
	// AwaitingTimeout bounds how long after creation a draft may still be in
	// AWAITING_OTP. The slot lock is taken just before the draft is created,
	// so this should match the slot lock TTL.
	AwaitingTimeout time.Duration
}

// DefaultMachineConfig keeps drafts for 30 minutes and expires unconfirmed
// ones after the 10 minute lock window.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		DraftTTL:        30 * time.Minute,
		AwaitingTimeout: 600 * time.Second,
	}
}

// Machine validates and applies lifecycle transitions.
type Machine struct {
	store    *Store
	auditor  Auditor
	observer TransitionObserver
	cfg      MachineConfig
	logger   *logging.Logger
	now      func() time.Time
}

// NewMachine constructs the lifecycle state machine.
func NewMachine(store *Store, auditor Auditor, cfg MachineConfig, logger *logging.Logger) *Machine {
	if store == nil {
		panic("bookings: store required")
	}
	def := DefaultMachineConfig()
	if cfg.DraftTTL <= 0 {
		cfg.DraftTTL = def.DraftTTL
	}
	if cfg.AwaitingTimeout <= 0 {
		cfg.AwaitingTimeout = def.AwaitingTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Machine{store: store, auditor: auditor, cfg: cfg, logger: logger, now: time.Now}
}

// WithObserver attaches a transition observer such as booking metrics.
func (m *Machine) WithObserver(o TransitionObserver) *Machine {
	m.observer = o
	return m
}

// Create allocates a draft in INITIATED.
func (m *Machine) Create(ctx context.Context, in NewDraft) (*Draft, error) {
	if strings.TrimSpace(in.TenantID) == "" || strings.TrimSpace(in.ResourceID) == "" {
		return nil, errors.New("bookings: tenant and resource required")
	}
	if in.SlotTime.IsZero() {
		return nil, errors.New("bookings: slot time required")
	}
	if in.Contact.Identifier() == "" {
		return nil, errors.New("bookings: contact phone or email required")
	}

	ctx, span := bookingsTracer.Start(ctx, "bookings.create")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.org_id", in.TenantID))

	now := m.now().UTC()
	d := &Draft{
		ID:         uuid.NewString(),
		TenantID:   in.TenantID,
		ResourceID: in.ResourceID,
		SlotTime:   in.SlotTime.UTC(),
		Contact:    in.Contact,
		LockOwner:  in.LockOwner,
		State:      StateInitiated,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	d.merge(Updates(in.Updates))

	if err := m.store.create(ctx, d, m.cfg.DraftTTL); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("medspa.booking_id", d.ID))

	m.record(ctx, d, audit.Event{
		Action: audit.ActionBookingCreated,
		To:     string(StateInitiated),
	})
	m.observe("", StateInitiated, "ok")
	m.logger.Info("booking draft created",
		"draft_id", d.ID,
		"tenant", d.TenantID,
		"resource", d.ResourceID,
		"contact", logging.MaskContact(d.Contact.Identifier()),
	)
	return d.clone(), nil
}

// Get loads a draft.
func (m *Machine) Get(ctx context.Context, id string) (*Draft, error) {
	d, err := m.store.load(ctx, id)
	if errors.Is(err, errDraftMissing) {
		return nil, bookingerr.Newf(bookingerr.KindNotFound, "bookings.get", "draft %s", id)
	}
	return d, err
}

// Transition moves a draft to the target state if the table allows it,
// merging updates. The write is a version compare-and-swap: a concurrent
// transition on the same draft yields a Conflict error instead of a lost update.
func (m *Machine) Transition(ctx context.Context, id string, to State, updates Updates) (*Draft, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("medspa.booking_id", id),
		attribute.String("bookings.to", string(to)),
	)

	current, err := m.store.load(ctx, id)
	if errors.Is(err, errDraftMissing) {
		m.observe("", to, "not_found")
		return nil, bookingerr.Newf(bookingerr.KindNotFound, "bookings.transition", "draft %s", id)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	from := current.State
	span.SetAttributes(attribute.String("bookings.from", string(from)))

	if !CanTransition(from, to) {
		m.record(ctx, current, audit.Event{
			Action:  audit.ActionTransitionRejected,
			From:    string(from),
			To:      string(to),
			Details: audit.Details(map[string]any{"reason": "transition not allowed"}),
		})
		m.observe(from, to, "rejected")
		m.logger.Warn("booking transition rejected",
			"draft_id", id,
			"from", from,
			"to", to,
		)
		return nil, bookingerr.Newf(bookingerr.KindInvalidTransition, "bookings.transition", "%s -> %s", from, to)
	}

	now := m.now().UTC()
	next := current.clone()
	next.PreviousState = from
	next.State = to
	next.UpdatedAt = now
	next.stamp(to, now)
	next.merge(updates)
	next.Version = current.Version + 1

	if err := m.store.swap(ctx, current.Version, next, m.cfg.DraftTTL); err != nil {
		switch {
		case errors.Is(err, errDraftMissing):
			m.observe(from, to, "not_found")
			return nil, bookingerr.Newf(bookingerr.KindNotFound, "bookings.transition", "draft %s", id)
		case errors.Is(err, errVersionStale):
			m.observe(from, to, "conflict")
			m.logger.Warn("booking transition lost race", "draft_id", id, "from", from, "to", to)
			return nil, bookingerr.New(bookingerr.KindConflict, "bookings.transition", err)
		}
		span.RecordError(err)
		return nil, err
	}

	m.syncAwaitingIndex(ctx, next, now)
	m.record(ctx, next, audit.Event{
		Action: audit.ActionBookingStateChanged,
		From:   string(from),
		To:     string(to),
	})
	m.observe(from, to, "ok")
	m.logger.Info("booking transitioned", "draft_id", id, "from", from, "to", to)
	return next.clone(), nil
}

// Annotate merges updates into a draft without changing its state, using the
// same version check as Transition.
func (m *Machine) Annotate(ctx context.Context, id string, updates Updates) (*Draft, error) {
	current, err := m.store.load(ctx, id)
	if errors.Is(err, errDraftMissing) {
		return nil, bookingerr.Newf(bookingerr.KindNotFound, "bookings.annotate", "draft %s", id)
	}
	if err != nil {
		return nil, err
	}
	next := current.clone()
	next.UpdatedAt = m.now().UTC()
	next.merge(updates)
	next.Version = current.Version + 1

	if err := m.store.swap(ctx, current.Version, next, m.cfg.DraftTTL); err != nil {
		switch {
		case errors.Is(err, errDraftMissing):
			return nil, bookingerr.Newf(bookingerr.KindNotFound, "bookings.annotate", "draft %s", id)
		case errors.Is(err, errVersionStale):
			return nil, bookingerr.New(bookingerr.KindConflict, "bookings.annotate", err)
		}
		return nil, err
	}
	return next.clone(), nil
}

// SendOTP records that a verification code went out: INITIATED → AWAITING_OTP.
func (m *Machine) SendOTP(ctx context.Context, id string) (*Draft, error) {
	return m.Transition(ctx, id, StateAwaitingOTP, nil)
}

// Confirm moves AWAITING_OTP → CONFIRMED.
func (m *Machine) Confirm(ctx context.Context, id string, updates Updates) (*Draft, error) {
	return m.Transition(ctx, id, StateConfirmed, updates)
}

// CheckIn moves CONFIRMED → CHECKED_IN, recording the staff actor.
func (m *Machine) CheckIn(ctx context.Context, id, actor string) (*Draft, error) {
	return m.Transition(tenancy.WithActor(ctx, actor), id, StateCheckedIn, Updates{UpdateCheckedInBy: actor})
}

// Cancel moves any non-terminal draft to CANCELLED.
func (m *Machine) Cancel(ctx context.Context, id, reason string) (*Draft, error) {
	return m.Transition(ctx, id, StateCancelled, Updates{UpdateCancelReason: reason})
}

// Expire moves AWAITING_OTP → EXPIRED.
func (m *Machine) Expire(ctx context.Context, id string) (*Draft, error) {
	return m.Transition(tenancy.WithActor(ctx, "system:expiry"), id, StateExpired, nil)
}

// Delete removes the transient record once it has been migrated to durable
// storage or reached EXPIRED/CANCELLED without one.
func (m *Machine) Delete(ctx context.Context, id string) error {
	if err := m.store.delete(ctx, id); err != nil {
		return err
	}
	m.logger.Debug("booking draft deleted", "draft_id", id)
	return nil
}

// AwaitingTimeout exposes the configured AWAITING_OTP deadline.
func (m *Machine) AwaitingTimeout() time.Duration {
	return m.cfg.AwaitingTimeout
}

func (m *Machine) syncAwaitingIndex(ctx context.Context, d *Draft, now time.Time) {
	var err error
	if d.State == StateAwaitingOTP {
		err = m.store.indexAwaiting(ctx, d.ID, awaitingDeadline(d, now, m.cfg.AwaitingTimeout))
	} else if d.PreviousState == StateAwaitingOTP {
		err = m.store.unindexAwaiting(ctx, d.ID)
	}
	if err != nil {
		// The sweeper tolerates stale index entries; a missing one only skips the audit expiry.
		m.logger.Error("awaiting index update failed", "error", err, "draft_id", d.ID)
	}
}

// awaitingDeadline is when the draft's slot lock lapses: creation plus the
// lock window, regardless of when the code was sent.
func awaitingDeadline(d *Draft, now time.Time, timeout time.Duration) time.Time {
	if d.CreatedAt.IsZero() {
		return now.Add(timeout)
	}
	return d.CreatedAt.Add(timeout)
}

func (m *Machine) record(ctx context.Context, d *Draft, e audit.Event) {
	if m.auditor == nil {
		return
	}
	e.Tenant = d.TenantID
	e.SubjectID = d.ID
	e.Contact = d.Contact.Identifier()
	if actor, ok := tenancy.ActorFromContext(ctx); ok {
		e.Actor = actor
	}
	m.auditor.Record(ctx, e)
}

func (m *Machine) observe(from, to State, outcome string) {
	if m.observer == nil {
		return
	}
	m.observer.ObserveTransition(string(from), string(to), outcome)
}

// String renders a compact description for logs.
func (d *Draft) String() string {
	return fmt.Sprintf("draft %s [%s]", d.ID, d.State)
}
