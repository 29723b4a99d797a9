package clinic

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

type configStore interface {
	GetOrDefault(ctx context.Context, tenantID string) (*Config, error)
	Set(ctx context.Context, cfg *Config) error
}

// Handler provides staff HTTP endpoints for clinic configuration.
type Handler struct {
	store    configStore
	validate *validator.Validate
	logger   *logging.Logger
}

// NewHandler creates a new clinic config HTTP handler.
func NewHandler(store *Store, logger *logging.Logger) *Handler {
	return newHandler(store, logger)
}

func newHandler(store configStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Routes returns a chi router with clinic config routes, mounted under a
// path that carries {tenantID}.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetConfig)
	r.Put("/", h.UpdateConfig)
	return r
}

// GetConfig returns the clinic configuration for a tenant.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		http.Error(w, `{"error": "tenant_id required"}`, http.StatusBadRequest)
		return
	}

	cfg, err := h.store.GetOrDefault(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "tenant", tenantID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		h.logger.Error("failed to encode clinic config", "tenant", tenantID, "error", err)
	}
}

// PractitionerInput is one practitioner in an update.
type PractitionerInput struct {
	ID     string `json:"id" validate:"required,max=64"`
	Name   string `json:"name" validate:"required,max=128"`
	Active *bool  `json:"active,omitempty"`
}

// UpdateConfigRequest is the request body for updating clinic config.
type UpdateConfigRequest struct {
	Name           string              `json:"name,omitempty" validate:"omitempty,max=128"`
	Timezone       string              `json:"timezone,omitempty" validate:"omitempty,timezone"`
	BusinessHours  *BusinessHours      `json:"business_hours,omitempty"`
	Practitioners  []PractitionerInput `json:"practitioners,omitempty" validate:"omitempty,dive"`
	SlotMinutes    *int                `json:"slot_minutes,omitempty" validate:"omitempty,min=5,max=480"`
	MaxAdvanceDays *int                `json:"max_advance_days,omitempty" validate:"omitempty,min=0,max=730"`
}

// UpdateConfig creates or updates the clinic configuration for a tenant.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		http.Error(w, `{"error": "tenant_id required"}`, http.StatusBadRequest)
		return
	}

	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, `{"error": "invalid clinic config"}`, http.StatusBadRequest)
		return
	}
	if req.BusinessHours != nil && !validHours(req.BusinessHours) {
		http.Error(w, `{"error": "business hours must be HH:MM with open before close"}`, http.StatusBadRequest)
		return
	}

	cfg, err := h.store.GetOrDefault(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "tenant", tenantID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	// Partial update.
	cfg.TenantID = tenantID
	if req.Name != "" {
		cfg.Name = req.Name
	}
	if req.Timezone != "" {
		cfg.Timezone = req.Timezone
	}
	if req.BusinessHours != nil {
		cfg.BusinessHours = *req.BusinessHours
	}
	if req.Practitioners != nil {
		cfg.Practitioners = make([]Practitioner, 0, len(req.Practitioners))
		for _, p := range req.Practitioners {
			active := true
			if p.Active != nil {
				active = *p.Active
			}
			cfg.Practitioners = append(cfg.Practitioners, Practitioner{ID: p.ID, Name: p.Name, Active: active})
		}
	}
	if req.SlotMinutes != nil {
		cfg.SlotMinutes = *req.SlotMinutes
	}
	if req.MaxAdvanceDays != nil {
		cfg.MaxAdvanceDays = *req.MaxAdvanceDays
	}

	if err := h.store.Set(r.Context(), cfg); err != nil {
		h.logger.Error("failed to save clinic config", "tenant", tenantID, "error", err)
		http.Error(w, `{"error": "failed to save config"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("clinic config updated", "tenant", tenantID, "practitioners", len(cfg.Practitioners))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		h.logger.Error("failed to encode clinic config", "tenant", tenantID, "error", err)
	}
}

func validHours(b *BusinessHours) bool {
	for _, d := range []*DayHours{b.Monday, b.Tuesday, b.Wednesday, b.Thursday, b.Friday, b.Saturday, b.Sunday} {
		if d == nil {
			continue
		}
		open, err := time.Parse("15:04", d.Open)
		if err != nil {
			return false
		}
		closing, err := time.Parse("15:04", d.Close)
		if err != nil {
			return false
		}
		if !open.Before(closing) {
			return false
		}
	}
	return true
}
