package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/medspa-slot-booking/internal/bookingerr"
)

// ErrNotConfirmed is returned when a status update finds no confirmed row to move.
var ErrNotConfirmed = errors.New("bookings: booking not in confirmed state")

const (
	uniqueViolation    = "23505"
	liveSlotConstraint = "bookings_live_slot_key"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Record is a durable booking row.
type Record struct {
	ID          uuid.UUID
	DraftID     string
	TenantID    string
	ResourceID  string
	SlotTime    time.Time
	Status      State
	ContactName string
	Phone       string
	Email       string
	ConfirmedAt time.Time
	CheckedInAt *time.Time
	CancelledAt *time.Time
}

// Repository is the durable persistence boundary for confirmed bookings.
type Repository struct {
	pool rowQuerier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithQuerier(q rowQuerier) *Repository {
	if q == nil {
		panic("bookings: querier required")
	}
	return &Repository{pool: q}
}

// Persist writes a confirmed draft and returns the durable booking id. The
// insert is keyed by draft id, so a repeated call returns the existing row's
// id instead of creating a second booking. A different draft holding a live
// booking at the same slot yields a KindSlotUnavailable error.
func (r *Repository) Persist(ctx context.Context, d *Draft) (string, error) {
	if d == nil {
		return "", errors.New("bookings: draft required")
	}
	if d.State != StateConfirmed {
		return "", fmt.Errorf("bookings: persist requires %s draft, got %s", StateConfirmed, d.State)
	}
	updates, err := json.Marshal(d.Updates)
	if err != nil {
		return "", fmt.Errorf("bookings: marshal updates: %w", err)
	}
	confirmedAt := time.Now().UTC()
	if d.ConfirmedAt != nil {
		confirmedAt = *d.ConfirmedAt
	}

	query := `
		INSERT INTO bookings (
			id, draft_id, tenant_id, resource_id, slot_time, status,
			contact_name, contact_phone, contact_email, confirmed_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (draft_id) DO UPDATE SET draft_id = EXCLUDED.draft_id
		RETURNING id
	`
	var id pgtype.UUID
	err = r.pool.QueryRow(ctx, query,
		uuid.New(),
		d.ID,
		d.TenantID,
		d.ResourceID,
		d.SlotTime,
		string(StateConfirmed),
		d.Contact.Name,
		d.Contact.Phone,
		d.Contact.Email,
		confirmedAt,
		updates,
	).Scan(&id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == liveSlotConstraint {
		return "", bookingerr.Newf(bookingerr.KindSlotUnavailable, "bookings.persist",
			"%s/%s at %s already booked", d.TenantID, d.ResourceID, d.SlotTime.UTC().Format(time.RFC3339))
	}
	if err != nil {
		return "", fmt.Errorf("bookings: insert confirmed: %w", err)
	}
	if !id.Valid {
		return "", errors.New("bookings: insert confirmed: empty id")
	}
	return uuid.UUID(id.Bytes).String(), nil
}

// MarkCheckedIn updates the durable status after check-in.
func (r *Repository) MarkCheckedIn(ctx context.Context, tenantID, bookingID string, at time.Time) error {
	return r.updateStatus(ctx, tenantID, bookingID, StateCheckedIn, "checked_in_at", at)
}

// MarkCancelled updates the durable status after a confirmed booking is cancelled.
func (r *Repository) MarkCancelled(ctx context.Context, tenantID, bookingID string, at time.Time) error {
	return r.updateStatus(ctx, tenantID, bookingID, StateCancelled, "cancelled_at", at)
}

func (r *Repository) updateStatus(ctx context.Context, tenantID, bookingID string, status State, column string, at time.Time) error {
	id, err := uuid.Parse(bookingID)
	if err != nil {
		return fmt.Errorf("bookings: parse booking id: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE bookings
		SET status = $1, %s = $2
		WHERE id = $3 AND tenant_id = $4 AND status = $5
	`, column)
	ct, err := r.pool.Exec(ctx, query, string(status), at.UTC(), id, tenantID, string(StateConfirmed))
	if err != nil {
		return fmt.Errorf("bookings: update status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", bookingID, ErrNotConfirmed)
	}
	return nil
}

const selectRecord = `
	SELECT id, draft_id, tenant_id, resource_id, slot_time, status,
		contact_name, contact_phone, contact_email, confirmed_at, checked_in_at, cancelled_at
	FROM bookings
`

// SlotTaken reports whether a live (not cancelled) booking holds the slot.
func (r *Repository) SlotTaken(ctx context.Context, tenantID, resourceID string, slot time.Time) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE tenant_id = $1 AND resource_id = $2 AND slot_time = $3 AND status <> $4
		)
	`, tenantID, resourceID, slot.UTC(), string(StateCancelled)).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("bookings: check slot: %w", err)
	}
	return taken, nil
}

// GetByDraft returns the durable booking created from a draft, scoped to the tenant.
func (r *Repository) GetByDraft(ctx context.Context, tenantID, draftID string) (*Record, error) {
	return r.scanRecord(r.pool.QueryRow(ctx, selectRecord+" WHERE draft_id = $1 AND tenant_id = $2", draftID, tenantID), draftID)
}

func (r *Repository) scanRecord(row pgx.Row, ref string) (*Record, error) {
	var rec Record
	var status string
	var checkedIn, cancelled pgtype.Timestamptz
	err := row.Scan(
		&rec.ID, &rec.DraftID, &rec.TenantID, &rec.ResourceID, &rec.SlotTime, &status,
		&rec.ContactName, &rec.Phone, &rec.Email, &rec.ConfirmedAt, &checkedIn, &cancelled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bookings: booking %s: %w", ref, pgx.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: load booking: %w", err)
	}
	rec.Status = State(status)
	rec.CheckedInAt = fromPGTime(checkedIn)
	rec.CancelledAt = fromPGTime(cancelled)
	return &rec, nil
}

func fromPGTime(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
