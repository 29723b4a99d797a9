package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLSink appends events to the booking_audit_events table.
type SQLSink struct {
	db *sql.DB
}

// NewSQLSink creates a Postgres-backed sink.
func NewSQLSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db}
}

// Record inserts one event row.
func (s *SQLSink) Record(ctx context.Context, e Event) error {
	query := `
		INSERT INTO booking_audit_events (
			id, action, tenant_id, actor, from_state, to_state,
			subject_id, contact_masked, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Action,
		e.Tenant,
		nullString(e.Actor),
		nullString(e.From),
		nullString(e.To),
		nullString(e.SubjectID),
		nullString(e.Contact),
		nullBytes(e.Details),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Filter specifies criteria for querying audit events.
type Filter struct {
	Tenant    string
	SubjectID string
	Action    Action
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Query returns a tenant's events, newest first.
func (s *SQLSink) Query(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, action, tenant_id, actor, from_state, to_state,
			   subject_id, contact_masked, details, created_at
		FROM booking_audit_events
		WHERE tenant_id = $1
	`
	args := []any{filter.Tenant}
	argIdx := 2

	if filter.SubjectID != "" {
		query += fmt.Sprintf(" AND subject_id = $%d", argIdx)
		args = append(args, filter.SubjectID)
		argIdx++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.Until)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var actor, from, to, subject, contact sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.Tenant, &actor, &from, &to,
			&subject, &contact, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Actor = actor.String
		e.From = from.String
		e.To = to.String
		e.SubjectID = subject.String
		e.Contact = contact.String
		if len(details) > 0 {
			e.Details = details
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
