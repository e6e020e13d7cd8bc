package callevents

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo persists call events to the call_events table.
//
// The table is INSERT-only; retention is handled by ops tooling, never by this
// process. See migrations/ for the schema.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) (*PostgresRepo, error) {
	if db == nil {
		return nil, errors.New("callevents: db is nil")
	}
	return &PostgresRepo{db: db}, nil
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	if e.ID == "" || e.BookingID == "" || !e.Kind.Valid() {
		return errors.New("callevents: invalid event")
	}

	const q = `
INSERT INTO call_events (id, booking_id, event, metadata, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5)
`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.BookingID, string(e.Kind), e.Metadata, e.CreatedAt)
	return err
}

// ListByBooking returns a booking's events in insertion order.
// Read path exists for the session summary view only; events are never read
// back by the state machine.
func (r *PostgresRepo) ListByBooking(ctx context.Context, bookingID string) ([]Event, error) {
	if bookingID == "" {
		return nil, errors.New("callevents: booking id is required")
	}

	const q = `
SELECT id, booking_id, event, COALESCE(metadata, ''), created_at
FROM call_events
WHERE booking_id = $1
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&e.ID, &e.BookingID, &kind, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
