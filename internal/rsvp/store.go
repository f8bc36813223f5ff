package rsvp

import (
	"context"

	"clubhub/internal/event"
)

// Store is the registration store contract. Every method that performs a
// read-then-write (admission, transitions, promotion) must be atomic with
// respect to concurrent callers; the Postgres implementation uses row-level
// locks and conditional updates, the test fake a mutex.
type Store interface {
	// Admit runs the full admission decision atomically: event lookup with a
	// capacity lock, registration-window check, duplicate check, live
	// confirmed+attended count, status decision and insert. Returns the
	// created registration or one of ErrEventNotFound,
	// ErrRegistrationNotStarted, ErrRegistrationEnded, ErrAlreadyRegistered.
	Admit(ctx context.Context, eventID, userID string, in RegisterInput) (*Registration, error)

	GetByID(ctx context.Context, id string) (*Registration, error)
	GetByCode(ctx context.Context, code string) (*Registration, error)

	// ListByUser and ListByEvent return a page of registrations plus the
	// total row count for the filter. Export mode ignores pagination.
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]Registration, int, error)
	ListByEvent(ctx context.Context, eventID string, opts ListOptions) ([]Registration, int, error)

	// UpdateInfo edits contact/additional info without touching status.
	UpdateInfo(ctx context.Context, id string, in UpdateInput) (*Registration, error)

	// Cancel transitions pending/confirmed/waitlist to cancelled and reports
	// whether a confirmed capacity slot was freed.
	Cancel(ctx context.Context, id string) (*Registration, bool, error)

	// CheckIn transitions confirmed to attended. Exactly one of two
	// concurrent attempts succeeds; the loser gets ErrAlreadyCheckedIn.
	CheckIn(ctx context.Context, id string) (*Registration, error)

	// ConfirmPending transitions pending to confirmed (payment completed).
	ConfirmPending(ctx context.Context, id string) (*Registration, error)

	// MarkNoShow transitions confirmed to no-show.
	MarkNoShow(ctx context.Context, id string) (*Registration, error)

	// PromoteEarliestWaitlisted confirms the earliest-registered waitlisted
	// registration for the event, FIFO. Capacity is re-checked at promotion
	// time; when the freed slot has already been taken by a concurrent
	// admission, or no waitlisted registration exists, it returns nil.
	PromoteEarliestWaitlisted(ctx context.Context, eventID string) (*Registration, error)

	// CountActive returns the live confirmed+attended count for the event.
	CountActive(ctx context.Context, eventID string) (int, error)

	AppendAdminNote(ctx context.Context, id string, note AdminNote) error
}

// Catalog is the slice of the event catalog the registration core consumes:
// event definitions in, cached participant counter out.
type Catalog interface {
	Get(ctx context.Context, id string) (*event.Event, error)
	SetCurrentParticipants(ctx context.Context, id string, n int) error
}
