package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the requested event does not exist.
var ErrNotFound = errors.New("event not found")

// Repository persists events in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, title, organizer_id, max_participants, current_participants,
	registration_start, registration_end, registration_fee, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.Title, &e.OrganizerID, &e.MaxParticipants, &e.CurrentParticipants,
		&e.RegistrationStart, &e.RegistrationEnd, &e.RegistrationFee, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts a new event with a zero participant counter.
func (r *Repository) Create(ctx context.Context, p CreateParams) (*Event, error) {
	e := &Event{
		ID:                uuid.NewString(),
		Title:             p.Title,
		OrganizerID:       p.OrganizerID,
		MaxParticipants:   p.MaxParticipants,
		RegistrationStart: p.RegistrationStart,
		RegistrationEnd:   p.RegistrationEnd,
		RegistrationFee:   p.RegistrationFee,
		CreatedAt:         time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (id, title, organizer_id, max_participants, current_participants,
			registration_start, registration_end, registration_fee, created_at)
		VALUES ($1,$2,$3,$4,0,$5,$6,$7,$8)
	`, e.ID, e.Title, e.OrganizerID, e.MaxParticipants,
		e.RegistrationStart, e.RegistrationEnd, e.RegistrationFee, e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// Get returns a single event or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// SetCurrentParticipants overwrites the cached counter. The value is always a
// full recount from the registrations table, never an increment.
func (r *Repository) SetCurrentParticipants(ctx context.Context, id string, n int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE events SET current_participants = $2 WHERE id = $1`, id, n)
	if err != nil {
		return fmt.Errorf("set participant counter: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDrifted returns ids of events whose cached counter disagrees with the
// live confirmed+attended registration count. Feeds the worker's repair sweep.
func (r *Repository) ListDrifted(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id
		FROM events e
		LEFT JOIN (
			SELECT event_id, COUNT(*) AS live
			FROM registrations
			WHERE status IN ('confirmed', 'attended')
			GROUP BY event_id
		) c ON c.event_id = e.id
		WHERE e.current_participants <> COALESCE(c.live, 0)
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list drifted events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
