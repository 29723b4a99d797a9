package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/medspa-slot-booking/internal/clinic"
	"github.com/wolfman30/medspa-slot-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/medspa-slot-booking/internal/http/middleware"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Reservations       *handlers.ReservationHandler
	ClinicHandler      *clinic.Handler
	Health             http.Handler
	MetricsHandler     http.Handler
	StaffAuthSecret    string
	CORSAllowedOrigins []string
	// RateLimiter throttles the patient-facing reservation routes per client IP.
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil)
	}
	r.Method(http.MethodGet, "/health", health)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		// Patient-facing booking flow. Possession of the draft id plus the
		// verification code is the credential here.
		if cfg.Reservations != nil {
			v1.Route("/tenants/{tenantID}/reservations", func(res chi.Router) {
				res.Use(httpmiddleware.TenantFromURL)
				if cfg.RateLimiter != nil {
					res.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
				}
				res.Post("/", cfg.Reservations.Reserve)
				res.Get("/{draftID}", cfg.Reservations.Get)
				res.Post("/{draftID}/code", cfg.Reservations.RequestCode)
				res.Post("/{draftID}/confirm", cfg.Reservations.Confirm)
				res.Post("/{draftID}/cancel", cfg.Reservations.Cancel)
			})
		}

		// Staff routes (HMAC JWT, subject becomes the audit actor).
		if cfg.StaffAuthSecret != "" {
			v1.Route("/staff/tenants/{tenantID}", func(staff chi.Router) {
				staff.Use(httpmiddleware.AdminJWT(cfg.StaffAuthSecret))
				staff.Use(httpmiddleware.TenantFromURL)
				staff.Use(httpmiddleware.RequireStaffTenant)
				if cfg.Reservations != nil {
					staff.Get("/reservations/{draftID}", cfg.Reservations.Get)
					staff.Post("/reservations/{draftID}/check-in", cfg.Reservations.CheckIn)
					staff.Post("/reservations/{draftID}/cancel", cfg.Reservations.Cancel)
				}
				if cfg.ClinicHandler != nil {
					staff.Mount("/clinic", cfg.ClinicHandler.Routes())
				}
			})
		}
	})

	return r
}
