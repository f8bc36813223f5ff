package rsvp

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists registrations in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const regColumns = `id, event_id, user_id, status,
	contact_email, contact_phone, emergency_contact,
	additional, payment_amount, payment_status, payment_txn_id,
	check_in_code, registered_at, confirmed_at, cancelled_at, attended_at, admin_notes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (*Registration, error) {
	var (
		r          Registration
		phone      sql.NullString
		emergency  sql.NullString
		txnID      sql.NullString
		additional []byte
		notes      []byte
	)
	err := row.Scan(&r.ID, &r.EventID, &r.UserID, &r.Status,
		&r.Contact.Email, &phone, &emergency,
		&additional, &r.Payment.Amount, &r.Payment.Status, &txnID,
		&r.CheckInCode, &r.RegisteredAt, &r.ConfirmedAt, &r.CancelledAt, &r.AttendedAt, &notes)
	if err != nil {
		return nil, err
	}
	r.Contact.Phone = phone.String
	r.Contact.EmergencyContact = emergency.String
	r.Payment.TransactionID = txnID.String
	if len(additional) > 0 {
		if err := json.Unmarshal(additional, &r.Additional); err != nil {
			return nil, fmt.Errorf("decode additional info: %w", err)
		}
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &r.AdminNotes); err != nil {
			return nil, fmt.Errorf("decode admin notes: %w", err)
		}
	}
	return &r, nil
}

// retryAttempts bounds retries on lock conflicts before surfacing an error.
const retryAttempts = 3

// isRetryable matches serialization failures and deadlocks.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

// withRetry re-runs fn on transient lock conflicts with a short backoff.
// fn must be a complete transaction so re-running it is safe.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil || !isRetryable(err) {
			return err
		}
		select {
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Admit performs the whole admission inside one transaction.
//
// The event row is locked FOR UPDATE so concurrent admissions for the same
// event serialize: the live confirmed+attended count each one reads is exact,
// and an event with capacity N can never end up with more than N occupied
// slots. The (event_id, user_id) unique index backs the duplicate check for
// anything that slips past the in-transaction read.
func (r *Repository) Admit(ctx context.Context, eventID, userID string, in RegisterInput) (*Registration, error) {
	var created *Registration
	err := withRetry(ctx, func() error {
		reg, err := r.admitOnce(ctx, eventID, userID, in)
		if err != nil {
			return err
		}
		created = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *Repository) admitOnce(ctx context.Context, eventID, userID string, in RegisterInput) (_ *Registration, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin admission: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		maxParticipants sql.NullInt64
		start, end      time.Time
		fee             int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT max_participants, registration_start, registration_end, registration_fee
		FROM events
		WHERE id = $1
		FOR UPDATE
	`, eventID).Scan(&maxParticipants, &start, &end, &fee)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("lock event row: %w", err)
	}

	now := time.Now().UTC()
	if now.Before(start) {
		return nil, ErrRegistrationNotStarted
	}
	if now.After(end) {
		return nil, ErrRegistrationEnded
	}

	var dup int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND user_id = $2`,
		eventID, userID,
	).Scan(&dup)
	if err != nil {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	if dup > 0 {
		return nil, ErrAlreadyRegistered
	}

	// Live count, never the cached counter.
	var live int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM registrations
		WHERE event_id = $1 AND status IN ('confirmed', 'attended')
	`, eventID).Scan(&live)
	if err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}

	var available *int
	if maxParticipants.Valid {
		n := int(maxParticipants.Int64) - live
		available = &n
	}
	status := Decide(available, fee)

	reg := &Registration{
		ID:           uuid.NewString(),
		EventID:      eventID,
		UserID:       userID,
		Status:       status,
		Contact:      in.Contact,
		Additional:   in.Additional,
		Payment:      Payment{Amount: fee, Status: PaymentPending},
		RegisteredAt: now,
	}
	if status == StatusConfirmed {
		reg.ConfirmedAt = &now
		if fee == 0 {
			reg.Payment.Status = PaymentCompleted
		}
	}

	additional, err := json.Marshal(reg.Additional)
	if err != nil {
		return nil, fmt.Errorf("encode additional info: %w", err)
	}

	// Retry code generation on the rare global-uniqueness collision.
	for attempt := 0; ; attempt++ {
		reg.CheckInCode, err = NewCheckInCode()
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO registrations (id, event_id, user_id, status,
				contact_email, contact_phone, emergency_contact,
				additional, payment_amount, payment_status,
				check_in_code, registered_at, confirmed_at, admin_notes)
			VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),$8,$9,$10,$11,$12,$13,'[]'::jsonb)
		`, reg.ID, reg.EventID, reg.UserID, reg.Status,
			reg.Contact.Email, reg.Contact.Phone, reg.Contact.EmergencyContact,
			additional, reg.Payment.Amount, reg.Payment.Status,
			reg.CheckInCode, reg.RegisteredAt, reg.ConfirmedAt)
		if err == nil {
			break
		}
		if isUniqueViolation(err, "registrations_event_user_key") {
			return nil, ErrAlreadyRegistered
		}
		if isUniqueViolation(err, "registrations_check_in_code_key") && attempt < 3 {
			continue
		}
		return nil, fmt.Errorf("insert registration: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit admission: %w", err)
	}
	return reg, nil
}

// GetByID returns a single registration or ErrRegistrationNotFound.
func (r *Repository) GetByID(ctx context.Context, id string) (*Registration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+regColumns+` FROM registrations WHERE id = $1`, id)
	reg, err := scanRegistration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// GetByCode resolves a check-in code to its registration.
func (r *Repository) GetByCode(ctx context.Context, code string) (*Registration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+regColumns+` FROM registrations WHERE check_in_code = $1`, code)
	reg, err := scanRegistration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("get registration by code: %w", err)
	}
	return reg, nil
}

// ListByUser returns the user's registrations, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]Registration, int, error) {
	return r.list(ctx, "user_id", userID, opts)
}

// ListByEvent returns an event's registrations, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID string, opts ListOptions) ([]Registration, int, error) {
	return r.list(ctx, "event_id", eventID, opts)
}

func (r *Repository) list(ctx context.Context, keyCol, keyVal string, opts ListOptions) ([]Registration, int, error) {
	where := fmt.Sprintf("WHERE %s = $1", keyCol)
	args := []any{keyVal}
	if opts.Status != "" {
		where += " AND status = $2"
		args = append(args, opts.Status)
	}

	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}

	query := `SELECT ` + regColumns + ` FROM registrations ` + where + ` ORDER BY registered_at DESC`
	if !opts.Export {
		limit, offset := opts.limitOffset()
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, total, rows.Err()
}

// UpdateInfo edits contact/additional info; status and timestamps are untouched.
func (r *Repository) UpdateInfo(ctx context.Context, id string, in UpdateInput) (*Registration, error) {
	reg, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Contact != nil {
		reg.Contact = *in.Contact
	}
	if in.Additional != nil {
		reg.Additional = *in.Additional
	}
	additional, err := json.Marshal(reg.Additional)
	if err != nil {
		return nil, fmt.Errorf("encode additional info: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE registrations
		SET contact_email = $2, contact_phone = NULLIF($3,''), emergency_contact = NULLIF($4,''), additional = $5
		WHERE id = $1
	`, id, reg.Contact.Email, reg.Contact.Phone, reg.Contact.EmergencyContact, additional)
	if err != nil {
		return nil, fmt.Errorf("update registration info: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Cancel transitions pending/confirmed/waitlist to cancelled. The second
// return value reports whether a confirmed slot was freed, which is what
// drives waitlist promotion.
func (r *Repository) Cancel(ctx context.Context, id string) (*Registration, bool, error) {
	var (
		reg   *Registration
		freed bool
	)
	err := withRetry(ctx, func() error {
		var err error
		reg, freed, err = r.cancelOnce(ctx, id)
		return err
	})
	return reg, freed, err
}

func (r *Repository) cancelOnce(ctx context.Context, id string) (_ *Registration, _ bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin cancel: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var prior Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM registrations WHERE id = $1 FOR UPDATE`, id,
	).Scan(&prior)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrRegistrationNotFound
		}
		return nil, false, fmt.Errorf("lock registration: %w", err)
	}
	if prior.Terminal() {
		return nil, false, fmt.Errorf("%w: cannot cancel a %s registration", ErrInvalidTransition, prior)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE registrations
		SET status = 'cancelled', cancelled_at = COALESCE(cancelled_at, NOW())
		WHERE id = $1
		RETURNING `+regColumns, id)
	reg, err := scanRegistration(row)
	if err != nil {
		return nil, false, fmt.Errorf("cancel registration: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit cancel: %w", err)
	}
	return reg, prior == StatusConfirmed, nil
}

// CheckIn applies confirmed→attended under a row lock, so two concurrent
// scans of the same code yield exactly one success. The guard and the write
// share one transaction, which makes the error report exact: the status that
// rejected the attempt is the status the loser is told about.
func (r *Repository) CheckIn(ctx context.Context, id string) (*Registration, error) {
	var reg *Registration
	err := withRetry(ctx, func() error {
		var err error
		reg, err = r.checkInOnce(ctx, id)
		return err
	})
	return reg, err
}

func (r *Repository) checkInOnce(ctx context.Context, id string) (_ *Registration, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin check-in: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM registrations WHERE id = $1 FOR UPDATE`, id,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("lock registration: %w", err)
	}
	switch current {
	case StatusConfirmed:
	case StatusAttended:
		return nil, ErrAlreadyCheckedIn
	default:
		return nil, ErrNotConfirmed
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE registrations
		SET status = 'attended', attended_at = COALESCE(attended_at, NOW())
		WHERE id = $1
		RETURNING `+regColumns, id)
	var updated *Registration
	updated, err = scanRegistration(row)
	if err != nil {
		return nil, fmt.Errorf("check in: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit check-in: %w", err)
	}
	return updated, nil
}

// ConfirmPending applies pending→confirmed after payment completion.
func (r *Repository) ConfirmPending(ctx context.Context, id string) (*Registration, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE registrations
		SET status = 'confirmed',
			confirmed_at = COALESCE(confirmed_at, NOW()),
			payment_status = 'completed'
		WHERE id = $1 AND status = 'pending'
		RETURNING `+regColumns, id)
	reg, err := scanRegistration(row)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("confirm registration: %w", err)
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: cannot confirm a %s registration", ErrInvalidTransition, current.Status)
}

// MarkNoShow applies confirmed→no-show.
func (r *Repository) MarkNoShow(ctx context.Context, id string) (*Registration, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE registrations
		SET status = 'no-show'
		WHERE id = $1 AND status = 'confirmed'
		RETURNING `+regColumns, id)
	reg, err := scanRegistration(row)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mark no-show: %w", err)
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: cannot mark a %s registration as no-show", ErrInvalidTransition, current.Status)
}

// PromoteEarliestWaitlisted confirms the earliest-registered waitlisted
// registration for the event. The promotion runs in its own transaction after
// the cancellation committed, so capacity is re-checked under the event row
// lock: if a concurrent admission took the freed slot in between, the
// promotion is a no-op. SKIP LOCKED keeps two concurrent cancellations from
// fighting over the same row; each promotes a distinct registration.
func (r *Repository) PromoteEarliestWaitlisted(ctx context.Context, eventID string) (*Registration, error) {
	var promoted *Registration
	err := withRetry(ctx, func() error {
		reg, err := r.promoteOnce(ctx, eventID)
		if err != nil {
			return err
		}
		promoted = reg
		return nil
	})
	return promoted, err
}

func (r *Repository) promoteOnce(ctx context.Context, eventID string) (_ *Registration, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin promotion: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Lock the event row and recount, exactly as admission does. The freed
	// slot may already be gone.
	var maxParticipants sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT max_participants FROM events WHERE id = $1 FOR UPDATE`, eventID,
	).Scan(&maxParticipants)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return nil, nil
		}
		return nil, fmt.Errorf("lock event row: %w", err)
	}
	if maxParticipants.Valid {
		var live int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM registrations
			WHERE event_id = $1 AND status IN ('confirmed', 'attended')
		`, eventID).Scan(&live)
		if err != nil {
			return nil, fmt.Errorf("count active: %w", err)
		}
		if live >= int(maxParticipants.Int64) {
			_ = tx.Rollback()
			return nil, nil
		}
	}

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM registrations
		WHERE event_id = $1 AND status = 'waitlist'
		ORDER BY registered_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, eventID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return nil, nil
		}
		return nil, fmt.Errorf("find waitlisted registration: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE registrations
		SET status = 'confirmed', confirmed_at = COALESCE(confirmed_at, NOW())
		WHERE id = $1 AND status = 'waitlist'
		RETURNING `+regColumns, id)
	reg, err := scanRegistration(row)
	if err != nil {
		return nil, fmt.Errorf("promote registration: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit promotion: %w", err)
	}
	return reg, nil
}

// CountActive returns the live confirmed+attended count for the event.
func (r *Repository) CountActive(ctx context.Context, eventID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM registrations
		WHERE event_id = $1 AND status IN ('confirmed', 'attended')
	`, eventID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active registrations: %w", err)
	}
	return n, nil
}

// AppendAdminNote appends to the registration's note list.
func (r *Repository) AppendAdminNote(ctx context.Context, id string, note AdminNote) error {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encode admin note: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET admin_notes = admin_notes || $2::jsonb
		WHERE id = $1
	`, id, encoded)
	if err != nil {
		return fmt.Errorf("append admin note: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrRegistrationNotFound
	}
	return nil
}
