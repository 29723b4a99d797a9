// Package reservation sequences the slot lock, the verification code and the
// booking lifecycle into the reserve → request code → confirm protocol.
package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-slot-booking/internal/audit"
	"github.com/wolfman30/medspa-slot-booking/internal/bookingerr"
	"github.com/wolfman30/medspa-slot-booking/internal/bookings"
	"github.com/wolfman30/medspa-slot-booking/internal/otp"
	"github.com/wolfman30/medspa-slot-booking/internal/slotlock"
	"github.com/wolfman30/medspa-slot-booking/internal/tenancy"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

var tracer = otel.Tracer("medspa.internal.reservation")

// ResourceDirectory answers whether a tenant's resource exists and is
// bookable at the requested time.
type ResourceDirectory interface {
	Validate(ctx context.Context, tenantID, resourceID string, slot time.Time) error
}

// Deliverer sends a plaintext code to the contact. It never stores it.
type Deliverer interface {
	Deliver(ctx context.Context, contact bookings.Contact, code string) error
}

// Persister is the durable persistence boundary.
type Persister interface {
	Persist(ctx context.Context, d *bookings.Draft) (string, error)
}

// Ledger is the durable store: it accepts confirmed drafts and mirrors later
// lifecycle moves once the draft itself is gone.
type Ledger interface {
	Persister
	GetByDraft(ctx context.Context, tenantID, draftID string) (*bookings.Record, error)
	SlotTaken(ctx context.Context, tenantID, resourceID string, slot time.Time) (bool, error)
	MarkCheckedIn(ctx context.Context, tenantID, bookingID string, at time.Time) error
	MarkCancelled(ctx context.Context, tenantID, bookingID string, at time.Time) error
}

// Metrics receives orchestrator outcomes. *metrics.BookingMetrics satisfies it.
type Metrics interface {
	ObserveLock(op, outcome string)
	ObserveCode(op, outcome string)
	ObserveDelivery(channel string, delivered bool)
	ObserveConfirmLatency(seconds float64)
}

// ReserveRequest asks for one slot.
type ReserveRequest struct {
	TenantID   string
	ResourceID string
	SlotTime   time.Time
	Contact    bookings.Contact
	Updates    map[string]any
}

// Reservation is the caller-facing view of a draft or durable booking.
type Reservation struct {
	DraftID       string
	TenantID      string
	ResourceID    string
	SlotTime      time.Time
	State         bookings.State
	Contact       bookings.Contact
	LockExpiresAt time.Time
	BookingID     string
	// CodeAttemptsLeft is set while a code is pending for an AWAITING_OTP draft.
	CodeAttemptsLeft *int
}

// CodeRequest reports an issued code without the code itself.
type CodeRequest struct {
	DraftID     string
	ChallengeID string
	ExpiresAt   time.Time
	State       bookings.State
	Delivered   bool
}

// Service is the booking orchestrator.
type Service struct {
	locks     *slotlock.Manager
	codes     *otp.Service
	machine   *bookings.Machine
	directory ResourceDirectory
	deliverer Deliverer
	ledger    Ledger
	auditor   bookings.Auditor
	metrics   Metrics
	logger    *logging.Logger
	now       func() time.Time
}

// Deps groups the orchestrator collaborators.
type Deps struct {
	Locks     *slotlock.Manager
	Codes     *otp.Service
	Machine   *bookings.Machine
	Directory ResourceDirectory
	Deliverer Deliverer
	Ledger    Ledger
	Auditor   bookings.Auditor
	Metrics   Metrics
	Logger    *logging.Logger
}

// NewService wires the orchestrator. Directory, auditor and metrics are optional.
func NewService(deps Deps) *Service {
	if deps.Locks == nil || deps.Codes == nil || deps.Machine == nil {
		panic("reservation: lock manager, otp service and state machine required")
	}
	if deps.Deliverer == nil {
		panic("reservation: deliverer required")
	}
	if deps.Ledger == nil {
		panic("reservation: ledger required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	return &Service{
		locks:     deps.Locks,
		codes:     deps.Codes,
		machine:   deps.Machine,
		directory: deps.Directory,
		deliverer: deps.Deliverer,
		ledger:    deps.Ledger,
		auditor:   deps.Auditor,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// Reserve validates the slot, takes the lock with a fresh owner token and
// creates an INITIATED draft. A slot that already has a live durable booking
// is unavailable even though its lock is free. The lock is given back if the
// draft cannot be created.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	const op = "reservation.reserve"
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	if req.TenantID == "" || req.ResourceID == "" || req.SlotTime.IsZero() {
		return nil, bookingerr.Newf(bookingerr.KindInvalidResource, op, "tenant, resource and slot time required")
	}
	if req.Contact.Identifier() == "" {
		return nil, bookingerr.Newf(bookingerr.KindInvalidResource, op, "contact phone or email required")
	}

	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(
		attribute.String("medspa.org_id", req.TenantID),
		attribute.String("reservation.resource", req.ResourceID),
	)

	if s.directory != nil {
		if err := s.directory.Validate(ctx, req.TenantID, req.ResourceID, req.SlotTime); err != nil {
			span.RecordError(err)
			if bookingerr.KindOf(err) == bookingerr.KindInternal {
				return nil, err
			}
			return nil, bookingerr.New(bookingerr.KindInvalidResource, op, err)
		}
	}

	key := slotlock.Key{Tenant: req.TenantID, Resource: req.ResourceID, Slot: req.SlotTime}
	owner := uuid.NewString()
	acquired, err := s.locks.Acquire(ctx, key, owner, 0)
	if err != nil {
		s.observeLock("acquire", "error")
		span.RecordError(err)
		return nil, err
	}
	if !acquired {
		s.observeLock("acquire", "busy")
		s.logger.Info("slot unavailable", "tenant", req.TenantID, "key", key.String())
		return nil, bookingerr.Newf(bookingerr.KindSlotUnavailable, op, "%s", key.String())
	}
	s.observeLock("acquire", "acquired")

	// Checked under the lock: a confirm persists before it releases.
	taken, err := s.ledger.SlotTaken(ctx, req.TenantID, req.ResourceID, req.SlotTime)
	if err != nil {
		span.RecordError(err)
		s.releaseLock(ctx, key, owner, "", "ledger_check_failed")
		return nil, bookingerr.New(bookingerr.KindInternal, op, err)
	}
	if taken {
		s.releaseLock(ctx, key, owner, "", "already_booked")
		s.logger.Info("slot already booked", "tenant", req.TenantID, "key", key.String())
		return nil, bookingerr.Newf(bookingerr.KindSlotUnavailable, op, "%s already booked", key.String())
	}

	draft, err := s.machine.Create(ctx, bookings.NewDraft{
		TenantID:   req.TenantID,
		ResourceID: req.ResourceID,
		SlotTime:   req.SlotTime,
		Contact:    req.Contact,
		LockOwner:  owner,
		Updates:    req.Updates,
	})
	if err != nil {
		span.RecordError(err)
		s.releaseLock(ctx, key, owner, "", "draft_create_failed")
		return nil, err
	}

	return &Reservation{
		DraftID:       draft.ID,
		TenantID:      draft.TenantID,
		ResourceID:    draft.ResourceID,
		SlotTime:      draft.SlotTime,
		State:         draft.State,
		Contact:       draft.Contact,
		LockExpiresAt: s.now().UTC().Add(s.locks.DefaultTTL()),
	}, nil
}

// RequestCode issues and delivers a verification code for the draft's contact
// and moves INITIATED → AWAITING_OTP. Repeating it while AWAITING_OTP issues a
// fresh code without a transition. Delivery failures are logged, not rolled back.
func (s *Service) RequestCode(ctx context.Context, draftID string) (*CodeRequest, error) {
	const op = "reservation.request_code"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("medspa.booking_id", draftID))

	draft, err := s.loadDraft(ctx, op, draftID)
	if err != nil {
		return nil, err
	}
	if draft.State != bookings.StateInitiated && draft.State != bookings.StateAwaitingOTP {
		return nil, bookingerr.Newf(bookingerr.KindInvalidTransition, op, "code not available in %s", draft.State)
	}
	if err := s.verifyLock(ctx, op, draft); err != nil {
		return nil, err
	}

	contact := draft.Contact.Identifier()
	challenge, err := s.codes.Issue(ctx, contact, otp.Payload{DraftID: draft.ID})
	if err != nil {
		s.observeCode("issue", outcomeOf(err))
		span.RecordError(err)
		return nil, err
	}
	s.observeCode("issue", "ok")

	channel := channelOf(draft.Contact)
	delivered := true
	if err := s.deliverer.Deliver(ctx, draft.Contact, challenge.Code); err != nil {
		delivered = false
		s.logger.Error("code delivery failed",
			"draft_id", draft.ID,
			"channel", channel,
			"contact", logging.MaskContact(contact),
			"error", err,
		)
	}
	if s.metrics != nil {
		s.metrics.ObserveDelivery(channel, delivered)
	}
	s.record(ctx, draft, audit.Event{
		Action: audit.ActionCodeIssued,
		Details: audit.Details(map[string]any{
			"challenge_id": challenge.ID,
			"channel":      channel,
			"delivered":    delivered,
		}),
	})

	state := draft.State
	if draft.State == bookings.StateInitiated {
		moved, err := s.machine.SendOTP(ctx, draft.ID)
		switch {
		case err == nil:
			state = moved.State
		case bookingerr.Is(err, bookingerr.KindConflict):
			// A concurrent request already moved it; the fresh code is still valid.
			state = bookings.StateAwaitingOTP
		default:
			span.RecordError(err)
			return nil, err
		}
	}

	return &CodeRequest{
		DraftID:     draft.ID,
		ChallengeID: challenge.ID,
		ExpiresAt:   challenge.ExpiresAt,
		State:       state,
		Delivered:   delivered,
	}, nil
}

// ConfirmWithCode checks lock ownership, consumes the code, confirms the draft,
// hands it to the durable store once, then releases the lock and drops the draft.
// A CONFIRMED draft without a durable id (a failed earlier persist) skips the
// code check and retries the persist.
func (s *Service) ConfirmWithCode(ctx context.Context, draftID, code string) (*Reservation, error) {
	const op = "reservation.confirm"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("medspa.booking_id", draftID))

	draft, err := s.loadDraft(ctx, op, draftID)
	if err != nil {
		return nil, err
	}
	retry := draft.State == bookings.StateConfirmed && draft.BookingID == ""
	if draft.State != bookings.StateAwaitingOTP && !retry {
		return nil, bookingerr.Newf(bookingerr.KindInvalidTransition, op, "cannot confirm from %s", draft.State)
	}
	if err := s.verifyLock(ctx, op, draft); err != nil {
		return nil, err
	}

	if !retry {
		result, err := s.codes.Verify(ctx, draft.Contact.Identifier(), code)
		if err != nil {
			err = codeError(op, err)
			s.observeCode("verify", outcomeOf(err))
			s.record(ctx, draft, audit.Event{
				Action:  audit.ActionCodeRejected,
				Details: audit.Details(map[string]any{"reason": bookingerr.KindOf(err).String()}),
			})
			return nil, err
		}
		if result.Payload.DraftID != draft.ID {
			s.observeCode("verify", "invalid")
			s.record(ctx, draft, audit.Event{
				Action:  audit.ActionCodeRejected,
				Details: audit.Details(map[string]any{"reason": "code bound to another draft"}),
			})
			return nil, bookingerr.Newf(bookingerr.KindCodeInvalid, op, "code bound to another draft")
		}
		s.observeCode("verify", "ok")

		if err := s.holdForConfirm(ctx, op, draft); err != nil {
			span.RecordError(err)
			return nil, err
		}
		draft, err = s.machine.Confirm(ctx, draft.ID, bookings.Updates{"challenge_id": result.ChallengeID})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if retry {
		if err := s.holdForConfirm(ctx, op, draft); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	bookingID, err := s.ledger.Persist(ctx, draft)
	if bookingerr.Is(err, bookingerr.KindSlotUnavailable) {
		span.RecordError(err)
		s.logger.Warn("slot booked by another draft", "draft_id", draft.ID, "error", err)
		s.abandonTaken(ctx, draft)
		return nil, bookingerr.New(bookingerr.KindSlotUnavailable, op, err)
	}
	if err != nil {
		span.RecordError(err)
		s.logger.Error("booking persist failed", "draft_id", draft.ID, "error", err)
		return nil, bookingerr.New(bookingerr.KindInternal, op, err)
	}
	s.record(ctx, draft, audit.Event{
		Action:  audit.ActionBookingPersisted,
		Details: audit.Details(map[string]any{"booking_id": bookingID}),
	})
	if s.metrics != nil {
		s.metrics.ObserveConfirmLatency(s.now().Sub(draft.CreatedAt).Seconds())
	}

	if stamped, err := s.machine.Annotate(ctx, draft.ID, bookings.Updates{bookings.UpdateBookingID: bookingID}); err != nil {
		s.logger.Warn("booking id stamp failed", "draft_id", draft.ID, "error", err)
	} else {
		draft = stamped
	}
	s.releaseLock(ctx, lockKey(draft), draft.LockOwner, draft.ID, "confirmed")
	if err := s.machine.Delete(ctx, draft.ID); err != nil {
		s.logger.Warn("draft delete failed", "draft_id", draft.ID, "error", err)
	}

	s.logger.Info("booking confirmed",
		"draft_id", draft.ID,
		"booking_id", bookingID,
		"tenant", draft.TenantID,
	)
	res := toReservation(draft)
	res.BookingID = bookingID
	return res, nil
}

// Cancel moves a non-terminal booking to CANCELLED. Drafts give their slot
// back; durable bookings are updated in place.
func (s *Service) Cancel(ctx context.Context, draftID, reason string) (*Reservation, error) {
	const op = "reservation.cancel"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("medspa.booking_id", draftID))

	draft, err := s.loadDraft(ctx, op, draftID)
	if bookingerr.Is(err, bookingerr.KindNotFound) {
		return s.moveDurable(ctx, op, draftID, bookings.StateCancelled, audit.Details(map[string]any{"reason": reason}))
	}
	if err != nil {
		return nil, err
	}

	cancelled, err := s.machine.Cancel(ctx, draft.ID, reason)
	if err != nil {
		return nil, err
	}
	if cancelled.BookingID != "" {
		if err := s.ledger.MarkCancelled(ctx, cancelled.TenantID, cancelled.BookingID, s.now().UTC()); err != nil {
			s.logger.Error("durable cancel failed", "draft_id", draft.ID, "booking_id", cancelled.BookingID, "error", err)
		}
	}
	s.releaseLock(ctx, lockKey(cancelled), cancelled.LockOwner, cancelled.ID, "cancelled")
	if err := s.machine.Delete(ctx, cancelled.ID); err != nil {
		s.logger.Warn("draft delete failed", "draft_id", cancelled.ID, "error", err)
	}
	return toReservation(cancelled), nil
}

// CheckIn moves a CONFIRMED booking to CHECKED_IN on behalf of staffActor.
func (s *Service) CheckIn(ctx context.Context, draftID, staffActor string) (*Reservation, error) {
	const op = "reservation.check_in"
	if strings.TrimSpace(staffActor) == "" {
		return nil, errors.New("reservation: staff actor required")
	}
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("medspa.booking_id", draftID))
	ctx = tenancy.WithActor(ctx, staffActor)

	draft, err := s.loadDraft(ctx, op, draftID)
	if bookingerr.Is(err, bookingerr.KindNotFound) {
		return s.moveDurable(ctx, op, draftID, bookings.StateCheckedIn, audit.Details(map[string]any{"checked_in_by": staffActor}))
	}
	if err != nil {
		return nil, err
	}

	checked, err := s.machine.CheckIn(ctx, draft.ID, staffActor)
	if err != nil {
		return nil, err
	}
	if checked.BookingID != "" {
		if err := s.ledger.MarkCheckedIn(ctx, checked.TenantID, checked.BookingID, s.now().UTC()); err != nil {
			s.logger.Error("durable check-in failed", "draft_id", draft.ID, "booking_id", checked.BookingID, "error", err)
		}
	}
	return toReservation(checked), nil
}

// Get returns the draft, or the durable booking once the draft is gone. An
// AWAITING_OTP draft also reports the attempts left on its pending code.
func (s *Service) Get(ctx context.Context, draftID string) (*Reservation, error) {
	const op = "reservation.get"
	draft, err := s.loadDraft(ctx, op, draftID)
	if err == nil {
		res := toReservation(draft)
		if ttl, err := s.locks.TTL(ctx, lockKey(draft)); err == nil && ttl > 0 {
			res.LockExpiresAt = s.now().UTC().Add(ttl)
		}
		if draft.State == bookings.StateAwaitingOTP {
			status, err := s.codes.Status(ctx, draft.Contact.Identifier())
			switch {
			case err != nil:
				s.logger.Warn("code status lookup failed", "draft_id", draft.ID, "error", err)
			case status.State == otp.StatePending:
				left := status.RemainingAttempts
				res.CodeAttemptsLeft = &left
			}
		}
		return res, nil
	}
	if !bookingerr.Is(err, bookingerr.KindNotFound) {
		return nil, err
	}
	rec, err := s.durable(ctx, op, draftID)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// moveDurable applies a lifecycle move to a booking that only exists in the
// durable store. The transition table still decides what is allowed.
func (s *Service) moveDurable(ctx context.Context, op, draftID string, to bookings.State, details json.RawMessage) (*Reservation, error) {
	rec, err := s.durable(ctx, op, draftID)
	if err != nil {
		return nil, err
	}
	event := audit.Event{
		Tenant:    rec.TenantID,
		SubjectID: draftID,
		Contact:   contactOf(rec).Identifier(),
		From:      string(rec.Status),
		To:        string(to),
		Details:   details,
	}
	if actor, ok := tenancy.ActorFromContext(ctx); ok {
		event.Actor = actor
	}
	if !bookings.CanTransition(rec.Status, to) {
		event.Action = audit.ActionTransitionRejected
		s.audit(ctx, event)
		return nil, bookingerr.Newf(bookingerr.KindInvalidTransition, op, "%s -> %s", rec.Status, to)
	}

	at := s.now().UTC()
	switch to {
	case bookings.StateCheckedIn:
		err = s.ledger.MarkCheckedIn(ctx, rec.TenantID, rec.ID.String(), at)
		rec.CheckedInAt = &at
	case bookings.StateCancelled:
		err = s.ledger.MarkCancelled(ctx, rec.TenantID, rec.ID.String(), at)
		rec.CancelledAt = &at
	}
	if errors.Is(err, bookings.ErrNotConfirmed) {
		return nil, bookingerr.New(bookingerr.KindConflict, op, err)
	}
	if err != nil {
		return nil, bookingerr.New(bookingerr.KindInternal, op, err)
	}
	rec.Status = to
	event.Action = audit.ActionBookingStateChanged
	s.audit(ctx, event)
	return fromRecord(rec), nil
}

func (s *Service) durable(ctx context.Context, op, draftID string) (*bookings.Record, error) {
	tenantID, ok := tenancy.TenantIDFromContext(ctx)
	if !ok {
		return nil, bookingerr.Newf(bookingerr.KindNotFound, op, "draft %s", draftID)
	}
	rec, err := s.ledger.GetByDraft(ctx, tenantID, draftID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bookingerr.Newf(bookingerr.KindNotFound, op, "booking for draft %s", draftID)
	}
	if err != nil {
		return nil, bookingerr.New(bookingerr.KindInternal, op, err)
	}
	return rec, nil
}

// loadDraft fetches a draft, hiding drafts of other tenants when the request
// is tenant scoped.
func (s *Service) loadDraft(ctx context.Context, op, draftID string) (*bookings.Draft, error) {
	draft, err := s.machine.Get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if tenantID, ok := tenancy.TenantIDFromContext(ctx); ok && tenantID != draft.TenantID {
		return nil, bookingerr.Newf(bookingerr.KindNotFound, op, "draft %s", draftID)
	}
	return draft, nil
}

func (s *Service) verifyLock(ctx context.Context, op string, d *bookings.Draft) error {
	owned, err := s.locks.Verify(ctx, lockKey(d), d.LockOwner)
	if err != nil {
		return err
	}
	if !owned {
		s.observeLock("verify", "expired")
		return bookingerr.Newf(bookingerr.KindLockExpired, op, "slot hold for draft %s lapsed", d.ID)
	}
	return nil
}

// holdForConfirm extends the slot lock as the last atomic ownership check
// before the draft is confirmed or persisted, and keeps the slot held until
// the durable row lands. A lost hold is LockExpired.
// abandonTaken cancels a confirmed draft whose slot the ledger already holds
// for another booking, then gives back its lock and drops it.
func (s *Service) abandonTaken(ctx context.Context, d *bookings.Draft) {
	if cancelled, err := s.machine.Cancel(ctx, d.ID, "slot already booked"); err != nil {
		s.logger.Warn("draft cancel failed", "draft_id", d.ID, "error", err)
	} else {
		d = cancelled
	}
	s.releaseLock(ctx, lockKey(d), d.LockOwner, d.ID, "already_booked")
	if err := s.machine.Delete(ctx, d.ID); err != nil {
		s.logger.Warn("draft delete failed", "draft_id", d.ID, "error", err)
	}
}

func (s *Service) holdForConfirm(ctx context.Context, op string, d *bookings.Draft) error {
	extended, err := s.locks.Extend(ctx, lockKey(d), d.LockOwner, 0)
	if err != nil {
		s.observeLock("extend", "error")
		return err
	}
	if !extended {
		s.observeLock("extend", "expired")
		s.record(ctx, d, audit.Event{
			Action:  audit.ActionTransitionRejected,
			From:    string(d.State),
			To:      string(bookings.StateConfirmed),
			Details: audit.Details(map[string]any{"reason": "slot hold lapsed"}),
		})
		return bookingerr.Newf(bookingerr.KindLockExpired, op, "slot hold for draft %s lapsed", d.ID)
	}
	s.observeLock("extend", "extended")
	return nil
}

func (s *Service) releaseLock(ctx context.Context, key slotlock.Key, owner, draftID, reason string) {
	released, err := s.locks.Release(ctx, key, owner)
	if err != nil {
		s.observeLock("release", "error")
		s.logger.Warn("slot lock release failed", "key", key.String(), "error", err)
		return
	}
	if !released {
		s.observeLock("release", "not_owner")
		return
	}
	s.observeLock("release", "released")
	if draftID != "" {
		s.audit(ctx, audit.Event{
			Action:    audit.ActionSlotLockReleased,
			Tenant:    key.Tenant,
			SubjectID: draftID,
			Details:   audit.Details(map[string]any{"reason": reason, "key": key.String()}),
		})
	}
}

func (s *Service) record(ctx context.Context, d *bookings.Draft, e audit.Event) {
	e.Tenant = d.TenantID
	e.SubjectID = d.ID
	e.Contact = d.Contact.Identifier()
	if e.From == "" && e.To == "" {
		e.From = string(d.State)
	}
	if actor, ok := tenancy.ActorFromContext(ctx); ok {
		e.Actor = actor
	}
	s.audit(ctx, e)
}

func (s *Service) audit(ctx context.Context, e audit.Event) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, e)
}

func (s *Service) observeLock(op, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveLock(op, outcome)
	}
}

func (s *Service) observeCode(op, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveCode(op, outcome)
	}
}

// codeError maps an OTP failure to the caller-facing kind: a missing
// challenge means the code expired or was already used.
func codeError(op string, err error) error {
	if bookingerr.Is(err, bookingerr.KindNotFound) {
		return bookingerr.New(bookingerr.KindCodeExpired, op, err)
	}
	return err
}

func outcomeOf(err error) string {
	switch bookingerr.KindOf(err) {
	case bookingerr.KindRateLimited:
		return "rate_limited"
	case bookingerr.KindCodeInvalid:
		return "invalid"
	case bookingerr.KindCodeExpired:
		return "expired"
	default:
		return "error"
	}
}

func channelOf(c bookings.Contact) string {
	if strings.TrimSpace(c.Phone) != "" {
		return "sms"
	}
	return "email"
}

func lockKey(d *bookings.Draft) slotlock.Key {
	return slotlock.Key{Tenant: d.TenantID, Resource: d.ResourceID, Slot: d.SlotTime}
}

func toReservation(d *bookings.Draft) *Reservation {
	return &Reservation{
		DraftID:    d.ID,
		TenantID:   d.TenantID,
		ResourceID: d.ResourceID,
		SlotTime:   d.SlotTime,
		State:      d.State,
		Contact:    d.Contact,
		BookingID:  d.BookingID,
	}
}

func contactOf(rec *bookings.Record) bookings.Contact {
	return bookings.Contact{Name: rec.ContactName, Phone: rec.Phone, Email: rec.Email}
}

func fromRecord(rec *bookings.Record) *Reservation {
	return &Reservation{
		DraftID:    rec.DraftID,
		TenantID:   rec.TenantID,
		ResourceID: rec.ResourceID,
		SlotTime:   rec.SlotTime,
		State:      rec.Status,
		Contact:    contactOf(rec),
		BookingID:  rec.ID.String(),
	}
}
