package bookings

import (
	"strings"
	"time"
)

// Contact holds the patient's reachable identifiers. Phone takes priority
// over Email as the verification identifier.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Identifier returns the value OTP challenges are keyed by.
func (c Contact) Identifier() string {
	if p := strings.TrimSpace(c.Phone); p != "" {
		return p
	}
	return strings.ToLower(strings.TrimSpace(c.Email))
}

// Draft is the transient, pre-durable representation of a booking.
type Draft struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	ResourceID    string         `json:"resource_id"`
	SlotTime      time.Time      `json:"slot_time"`
	Contact       Contact        `json:"contact"`
	LockOwner     string         `json:"lock_owner"`
	State         State          `json:"state"`
	PreviousState State          `json:"previous_state,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	OTPSentAt     *time.Time     `json:"otp_sent_at,omitempty"`
	ConfirmedAt   *time.Time     `json:"confirmed_at,omitempty"`
	CheckedInAt   *time.Time     `json:"checked_in_at,omitempty"`
	CheckedInBy   string         `json:"checked_in_by,omitempty"`
	CancelledAt   *time.Time     `json:"cancelled_at,omitempty"`
	CancelReason  string         `json:"cancel_reason,omitempty"`
	ExpiredAt     *time.Time     `json:"expired_at,omitempty"`
	BookingID     string         `json:"booking_id,omitempty"`
	Updates       map[string]any `json:"updates,omitempty"`
	Version       int64          `json:"version"`
}

// NewDraft is the input to Machine.Create.
type NewDraft struct {
	TenantID   string
	ResourceID string
	SlotTime   time.Time
	Contact    Contact
	LockOwner  string
	Updates    map[string]any
}

// Updates are merged into a draft on transition. Known keys also set the
// matching typed field.
type Updates map[string]any

const (
	UpdateCancelReason = "cancel_reason"
	UpdateCheckedInBy  = "checked_in_by"
	UpdateBookingID    = "booking_id"
)

func (d *Draft) merge(u Updates) {
	if len(u) == 0 {
		return
	}
	if d.Updates == nil {
		d.Updates = make(map[string]any, len(u))
	}
	for k, v := range u {
		d.Updates[k] = v
		s, _ := v.(string)
		switch k {
		case UpdateCancelReason:
			d.CancelReason = s
		case UpdateCheckedInBy:
			d.CheckedInBy = s
		case UpdateBookingID:
			d.BookingID = s
		}
	}
}

// stamp records the per-transition timestamp for the state just entered.
func (d *Draft) stamp(s State, at time.Time) {
	t := at
	switch s {
	case StateAwaitingOTP:
		d.OTPSentAt = &t
	case StateConfirmed:
		d.ConfirmedAt = &t
	case StateCheckedIn:
		d.CheckedInAt = &t
	case StateCancelled:
		d.CancelledAt = &t
	case StateExpired:
		d.ExpiredAt = &t
	}
}

func (d *Draft) clone() *Draft {
	cp := *d
	if d.Updates != nil {
		cp.Updates = make(map[string]any, len(d.Updates))
		for k, v := range d.Updates {
			cp.Updates[k] = v
		}
	}
	return &cp
}
