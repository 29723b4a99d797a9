package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/medspa-slot-booking/internal/bookings"
	"github.com/wolfman30/medspa-slot-booking/internal/reservation"
	"github.com/wolfman30/medspa-slot-booking/internal/tenancy"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

const maxBodyBytes = 16 << 10

// ReservationService is the orchestrator surface the HTTP layer drives.
type ReservationService interface {
	Reserve(ctx context.Context, req reservation.ReserveRequest) (*reservation.Reservation, error)
	RequestCode(ctx context.Context, draftID string) (*reservation.CodeRequest, error)
	ConfirmWithCode(ctx context.Context, draftID, code string) (*reservation.Reservation, error)
	Cancel(ctx context.Context, draftID, reason string) (*reservation.Reservation, error)
	CheckIn(ctx context.Context, draftID, staffActor string) (*reservation.Reservation, error)
	Get(ctx context.Context, draftID string) (*reservation.Reservation, error)
}

// ReservationHandler exposes reserve, verify and lifecycle endpoints.
type ReservationHandler struct {
	svc      ReservationService
	validate *validator.Validate
	logger   *logging.Logger
}

func NewReservationHandler(svc ReservationService, logger *logging.Logger) *ReservationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReservationHandler{
		svc:      svc,
		validate: newValidator(),
		logger:   logger,
	}
}

// ContactBody is the patient's contact as submitted. One of phone or email is required.
type ContactBody struct {
	Name  string `json:"name" validate:"max=120"`
	Phone string `json:"phone" validate:"required_without=Email,omitempty,e164"`
	Email string `json:"email" validate:"required_without=Phone,omitempty,email,max=254"`
}

// ReserveBody is the body of POST /reservations.
type ReserveBody struct {
	ResourceID string            `json:"resource_id" validate:"required,max=64"`
	SlotTime   time.Time         `json:"slot_time" validate:"required"`
	Contact    ContactBody       `json:"contact" validate:"required"`
	Metadata   map[string]string `json:"metadata" validate:"omitempty,max=10,dive,keys,min=1,max=40,endkeys,max=200"`
}

// ConfirmBody carries the verification code. An empty code is accepted only
// to retry persistence of an already verified booking.
type ConfirmBody struct {
	Code string `json:"code" validate:"omitempty,numeric,min=4,max=10"`
}

// CancelBody optionally explains a cancellation.
type CancelBody struct {
	Reason string `json:"reason" validate:"max=200"`
}

// ContactView shows only the last four characters of phone and email.
type ContactView struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// ReservationResponse is the JSON view of a reservation.
type ReservationResponse struct {
	DraftID       string         `json:"draft_id"`
	TenantID      string         `json:"tenant_id"`
	ResourceID    string         `json:"resource_id"`
	SlotTime      time.Time      `json:"slot_time"`
	State         bookings.State `json:"state"`
	Contact       ContactView    `json:"contact"`
	LockExpiresAt *time.Time     `json:"lock_expires_at,omitempty"`
	BookingID     string         `json:"booking_id,omitempty"`
	AttemptsLeft  *int           `json:"code_attempts_left,omitempty"`
}

// CodeResponse reports that a code was issued. The code itself is never returned.
type CodeResponse struct {
	DraftID     string         `json:"draft_id"`
	ChallengeID string         `json:"challenge_id"`
	ExpiresAt   time.Time      `json:"expires_at"`
	State       bookings.State `json:"state"`
	Delivered   bool           `json:"delivered"`
}

// Reserve handles POST /v1/tenants/{tenantID}/reservations.
func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		jsonError(w, "tenant id required", http.StatusBadRequest)
		return
	}
	var body ReserveBody
	if !h.decode(w, r, &body, false) {
		return
	}

	var updates map[string]any
	if len(body.Metadata) > 0 {
		updates = make(map[string]any, len(body.Metadata))
		for k, v := range body.Metadata {
			updates[k] = v
		}
	}
	res, err := h.svc.Reserve(r.Context(), reservation.ReserveRequest{
		TenantID:   tenantID,
		ResourceID: strings.TrimSpace(body.ResourceID),
		SlotTime:   body.SlotTime,
		Contact: bookings.Contact{
			Name:  strings.TrimSpace(body.Contact.Name),
			Phone: strings.TrimSpace(body.Contact.Phone),
			Email: strings.ToLower(strings.TrimSpace(body.Contact.Email)),
		},
		Updates: updates,
	})
	if err != nil {
		writeError(w, h.logger, "reserve", err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(res))
}

// RequestCode handles POST .../reservations/{draftID}/code.
func (h *ReservationHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	cr, err := h.svc.RequestCode(r.Context(), chi.URLParam(r, "draftID"))
	if err != nil {
		writeError(w, h.logger, "request_code", err)
		return
	}
	writeJSON(w, http.StatusAccepted, CodeResponse{
		DraftID:     cr.DraftID,
		ChallengeID: cr.ChallengeID,
		ExpiresAt:   cr.ExpiresAt,
		State:       cr.State,
		Delivered:   cr.Delivered,
	})
}

// Confirm handles POST .../reservations/{draftID}/confirm.
func (h *ReservationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var body ConfirmBody
	if !h.decode(w, r, &body, false) {
		return
	}
	res, err := h.svc.ConfirmWithCode(r.Context(), chi.URLParam(r, "draftID"), body.Code)
	if err != nil {
		writeError(w, h.logger, "confirm", err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

// Get handles GET .../reservations/{draftID}.
func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Get(r.Context(), chi.URLParam(r, "draftID"))
	if err != nil {
		writeError(w, h.logger, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

// Cancel handles POST .../reservations/{draftID}/cancel. The body is optional.
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var body CancelBody
	if !h.decode(w, r, &body, true) {
		return
	}
	res, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "draftID"), strings.TrimSpace(body.Reason))
	if err != nil {
		writeError(w, h.logger, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

// CheckIn handles POST /v1/staff/tenants/{tenantID}/reservations/{draftID}/check-in.
// The staff actor comes from the authenticated token.
func (h *ReservationHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	actor, ok := tenancy.ActorFromContext(r.Context())
	if !ok {
		jsonError(w, "staff identity required", http.StatusUnauthorized)
		return
	}
	res, err := h.svc.CheckIn(r.Context(), chi.URLParam(r, "draftID"), actor)
	if err != nil {
		writeError(w, h.logger, "check_in", err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

// decode reads and validates a JSON body. When optional is set an empty body
// is accepted as the zero value.
func (h *ReservationHandler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				jsonError(w, "request body too large", http.StatusRequestEntityTooLarge)
				return false
			}
			jsonError(w, "invalid JSON body", http.StatusBadRequest)
			return false
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidation(w, err)
		return false
	}
	return true
}

func toResponse(res *reservation.Reservation) ReservationResponse {
	out := ReservationResponse{
		DraftID:      res.DraftID,
		TenantID:     res.TenantID,
		ResourceID:   res.ResourceID,
		SlotTime:     res.SlotTime.UTC(),
		State:        res.State,
		Contact:      maskContact(res.Contact),
		BookingID:    res.BookingID,
		AttemptsLeft: res.CodeAttemptsLeft,
	}
	if !res.LockExpiresAt.IsZero() {
		t := res.LockExpiresAt.UTC()
		out.LockExpiresAt = &t
	}
	return out
}

func maskContact(c bookings.Contact) ContactView {
	view := ContactView{Name: c.Name}
	if c.Phone != "" {
		view.Phone = logging.MaskContact(c.Phone)
	}
	if c.Email != "" {
		view.Email = logging.MaskContact(c.Email)
	}
	return view
}
