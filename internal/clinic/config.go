// Package clinic holds per-tenant clinic configuration: practitioners,
// business hours and slot rules. It answers whether a slot is bookable.
package clinic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DayHours represents the opening hours for a single day.
// Nil means the clinic is closed that day.
type DayHours struct {
	Open  string `json:"open"`  // "09:00" in 24-hour format
	Close string `json:"close"` // "18:00" in 24-hour format
}

// BusinessHours maps day names to their hours.
type BusinessHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// Practitioner is a bookable resource.
type Practitioner struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Config holds clinic-specific booking configuration.
type Config struct {
	TenantID      string         `json:"tenant_id"`
	Name          string         `json:"name"`
	Timezone      string         `json:"timezone"` // e.g., "America/New_York"
	BusinessHours BusinessHours  `json:"business_hours"`
	Practitioners []Practitioner `json:"practitioners"`
	// SlotMinutes is the appointment grid; slot start times must align to it.
	SlotMinutes int `json:"slot_minutes"`
	// MaxAdvanceDays caps how far ahead a slot may be reserved. Zero means no cap.
	MaxAdvanceDays int `json:"max_advance_days,omitempty"`
}

// DefaultConfig returns a weekday 9-6 clinic on a 30 minute grid with no practitioners.
func DefaultConfig(tenantID string) *Config {
	weekday := &DayHours{Open: "09:00", Close: "18:00"}
	return &Config{
		TenantID: tenantID,
		Timezone: "America/New_York",
		BusinessHours: BusinessHours{
			Monday:    weekday,
			Tuesday:   weekday,
			Wednesday: weekday,
			Thursday:  weekday,
			Friday:    weekday,
		},
		SlotMinutes:    30,
		MaxAdvanceDays: 90,
	}
}

// GetHoursForDay returns the hours for a given weekday (0=Sunday, 6=Saturday).
func (b *BusinessHours) GetHoursForDay(weekday time.Weekday) *DayHours {
	switch weekday {
	case time.Sunday:
		return b.Sunday
	case time.Monday:
		return b.Monday
	case time.Tuesday:
		return b.Tuesday
	case time.Wednesday:
		return b.Wednesday
	case time.Thursday:
		return b.Thursday
	case time.Friday:
		return b.Friday
	case time.Saturday:
		return b.Saturday
	default:
		return nil
	}
}

// HasAnyHours returns true if at least one day has business hours configured.
func (b *BusinessHours) HasAnyHours() bool {
	return b.Sunday != nil || b.Monday != nil || b.Tuesday != nil ||
		b.Wednesday != nil || b.Thursday != nil || b.Friday != nil || b.Saturday != nil
}

// Location resolves the clinic timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FitsHours reports whether an appointment of the clinic's slot length that
// starts at t lies entirely inside that day's opening hours. With no hours
// configured at all the clinic is appointment-only and every time fits.
func (c *Config) FitsHours(t time.Time) bool {
	local := t.In(c.Location())

	hours := c.BusinessHours.GetHoursForDay(local.Weekday())
	if hours == nil {
		return !c.BusinessHours.HasAnyHours()
	}

	openTime, err := time.Parse("15:04", hours.Open)
	if err != nil {
		return false
	}
	closeTime, err := time.Parse("15:04", hours.Close)
	if err != nil {
		return false
	}

	start := local.Hour()*60 + local.Minute()
	openMinutes := openTime.Hour()*60 + openTime.Minute()
	closeMinutes := closeTime.Hour()*60 + closeTime.Minute()

	return start >= openMinutes && start+c.slotMinutes() <= closeMinutes
}

// Aligned reports whether t sits on the clinic's slot grid.
func (c *Config) Aligned(t time.Time) bool {
	local := t.In(c.Location())
	if local.Second() != 0 || local.Nanosecond() != 0 {
		return false
	}
	return (local.Hour()*60+local.Minute())%c.slotMinutes() == 0
}

// Practitioner returns the practitioner with id, matched case-insensitively.
func (c *Config) Practitioner(id string) (Practitioner, bool) {
	id = strings.TrimSpace(id)
	for _, p := range c.Practitioners {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return Practitioner{}, false
}

func (c *Config) slotMinutes() int {
	if c.SlotMinutes <= 0 {
		return 30
	}
	return c.SlotMinutes
}

// Store provides persistence for clinic configurations.
type Store struct {
	redis redis.UniversalClient
}

// NewStore creates a new clinic config store.
func NewStore(redisClient redis.UniversalClient) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) key(tenantID string) string {
	return fmt.Sprintf("clinic:config:%s", tenantID)
}

// Get retrieves clinic config. ok is false when the tenant has none.
func (s *Store) Get(ctx context.Context, tenantID string) (cfg *Config, ok bool, err error) {
	data, err := s.redis.Get(ctx, s.key(tenantID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("clinic: get config: %w", err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false, fmt.Errorf("clinic: unmarshal config: %w", err)
	}
	return &c, true, nil
}

// GetOrDefault returns the stored config or DefaultConfig.
func (s *Store) GetOrDefault(ctx context.Context, tenantID string) (*Config, error) {
	cfg, ok, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return DefaultConfig(tenantID), nil
	}
	return cfg, nil
}

// Set saves clinic config.
func (s *Store) Set(ctx context.Context, cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clinic: marshal config: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(cfg.TenantID), data, 0).Err(); err != nil {
		return fmt.Errorf("clinic: set config: %w", err)
	}

	return nil
}
