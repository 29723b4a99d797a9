// Package bookingerr defines the closed set of error kinds returned by the
// slot booking core. Callers branch on Kind rather than matching strings.
package bookingerr

import (
	"errors"
	"fmt"
)

// Kind classifies a booking core failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindSlotUnavailable
	KindInvalidResource
	KindInvalidTransition
	KindNotFound
	KindRateLimited
	KindCodeInvalid
	KindCodeExpired
	KindLockExpired
	KindConflict
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindSlotUnavailable:   "slot_unavailable",
	KindInvalidResource:   "invalid_resource",
	KindInvalidTransition: "invalid_transition",
	KindNotFound:          "not_found",
	KindRateLimited:       "rate_limited",
	KindCodeInvalid:       "code_invalid",
	KindCodeExpired:       "code_expired",
	KindLockExpired:       "lock_expired",
	KindConflict:          "conflict",
	KindInternal:          "internal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

var (
	// ErrSlotUnavailable means the slot is held or already booked. Try another slot.
	ErrSlotUnavailable = &Error{Kind: KindSlotUnavailable, Msg: "slot unavailable"}
	// ErrInvalidResource means the tenant, practitioner or slot window is not bookable.
	ErrInvalidResource = &Error{Kind: KindInvalidResource, Msg: "invalid resource"}
	// ErrInvalidTransition means the lifecycle table forbids the requested move.
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Msg: "invalid state transition"}
	// ErrNotFound means the draft or challenge expired or never existed.
	ErrNotFound = &Error{Kind: KindNotFound, Msg: "not found"}
	// ErrRateLimited means the caller must wait before trying again.
	ErrRateLimited = &Error{Kind: KindRateLimited, Msg: "rate limited"}
	// ErrCodeInvalid means the submitted code did not match.
	ErrCodeInvalid = &Error{Kind: KindCodeInvalid, Msg: "code invalid"}
	// ErrCodeExpired means no live challenge exists for the contact.
	ErrCodeExpired = &Error{Kind: KindCodeExpired, Msg: "code expired"}
	// ErrLockExpired means the slot lock lapsed or changed owner before confirmation.
	ErrLockExpired = &Error{Kind: KindLockExpired, Msg: "lock expired"}
	// ErrConflict means a concurrent writer changed the record first.
	ErrConflict = &Error{Kind: KindConflict, Msg: "concurrent update"}
)

// Error is a kinded failure. Two *Error values match under errors.Is when
// their kinds are equal, so wrapped detail errors still match the sentinels.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality with another *Error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a kinded error for op with an optional cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Newf builds a kinded error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err. Unkinded non-nil errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
