// Package audit records append-only booking lifecycle events. Events never
// carry raw contact identifiers; the Recorder masks them before any sink sees them.
package audit

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

// Action names the kind of audited event.
type Action string

const (
	// ActionBookingCreated is recorded when a draft enters INITIATED.
	ActionBookingCreated Action = "BOOKING_CREATED"
	// ActionBookingStateChanged is recorded on every accepted transition.
	ActionBookingStateChanged Action = "BOOKING_STATE_CHANGED"
	// ActionTransitionRejected is recorded when the lifecycle table refuses a move.
	ActionTransitionRejected Action = "BOOKING_TRANSITION_REJECTED"
	// ActionBookingPersisted is recorded when a confirmed draft reaches durable storage.
	ActionBookingPersisted Action = "BOOKING_PERSISTED"
	// ActionSlotLockReleased is recorded when the orchestrator gives a slot back.
	ActionSlotLockReleased Action = "SLOT_LOCK_RELEASED"
	// ActionCodeIssued is recorded when a verification code is issued.
	ActionCodeIssued Action = "OTP_ISSUED"
	// ActionCodeRejected is recorded when a submitted code fails verification.
	ActionCodeRejected Action = "OTP_REJECTED"
)

// Event is an immutable audit record.
type Event struct {
	ID        string          `json:"id"`
	Action    Action          `json:"action"`
	Tenant    string          `json:"tenant"`
	Actor     string          `json:"actor,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	SubjectID string          `json:"subject_id,omitempty"`
	Contact   string          `json:"contact,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Details builds a JSON details payload, dropping it on marshal failure.
func Details(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// redact masks the contact unless it is already masked.
func redact(e Event) Event {
	if e.Contact != "" && !strings.HasPrefix(e.Contact, "***") {
		e.Contact = logging.MaskContact(e.Contact)
	}
	return e
}
