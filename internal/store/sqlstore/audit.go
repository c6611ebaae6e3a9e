package sqlstore

import (
	"context"
	"time"

	"tenantauth.org/internal/audit"
)

var _ audit.Sink = (*Store)(nil)

// Append inserts e into audit_events and sets its ID.
func (s *Store) Append(ctx context.Context, e *audit.Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return s.db.QueryRowContext(ctx, `
		insert into audit_events (username, event, occurred_at, details)
		values ($1, $2, $3, $4)
		returning id
	`, nullIfEmpty(e.Username), e.Event, e.Timestamp, e.Details).Scan(&e.ID)
}

// Events returns the most recent audit events for username, newest first.
// An empty username matches every event.
func (s *Store) Events(ctx context.Context, username string, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `
		select id, coalesce(username, ''), event, occurred_at, coalesce(details, '')
		from audit_events
		where username = $1
		order by id desc
		limit $2
	`
	args := []any{username, limit}
	if username == "" {
		query = `
			select id, coalesce(username, ''), event, occurred_at, coalesce(details, '')
			from audit_events
			order by id desc
			limit $1
		`
		args = []any{limit}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []audit.Event
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(&e.ID, &e.Username, &e.Event, &e.Timestamp, &e.Details); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
