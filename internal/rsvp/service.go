package rsvp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clubhub/internal/event"
	"clubhub/internal/metrics"
	"clubhub/internal/queue"
)

// Service orchestrates admission, lifecycle transitions, check-in, waitlist
// promotion and counter reconciliation on top of a Store and the event catalog.
type Service struct {
	store   Store
	catalog Catalog
	queue   queue.Queue
	log     *slog.Logger
}

// NewService creates a service.
func NewService(store Store, catalog Catalog, q queue.Queue, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, catalog: catalog, queue: q, log: log}
}

// Register admits a user to an event. Waitlisting is a success outcome, not
// an error: inspect the returned registration's status.
func (s *Service) Register(ctx context.Context, eventID, userID string, in RegisterInput) (*Registration, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	reg, err := s.store.Admit(ctx, eventID, userID, in)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	metrics.RegistrationsTotal.WithLabelValues(string(reg.Status)).Inc()

	if reg.Status.OccupiesSlot() {
		s.reconcileOrQueue(ctx, eventID)
	}
	return reg, nil
}

// Get returns a registration by id.
func (s *Service) Get(ctx context.Context, id string) (*Registration, error) {
	return s.store.GetByID(ctx, id)
}

// Event returns the catalog entry, mapping the catalog's not-found error into
// the core taxonomy.
func (s *Service) Event(ctx context.Context, id string) (*event.Event, error) {
	ev, err := s.catalog.Get(ctx, id)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return ev, nil
}

// MyRegistrations lists the caller's registrations.
func (s *Service) MyRegistrations(ctx context.Context, userID string, opts ListOptions) ([]Registration, int, error) {
	return s.store.ListByUser(ctx, userID, opts)
}

// EventRegistrations lists an event's registrations together with the status
// breakdown across all of them (not just the returned page).
func (s *Service) EventRegistrations(ctx context.Context, eventID string, opts ListOptions) ([]Registration, int, StatusCounts, error) {
	regs, total, err := s.store.ListByEvent(ctx, eventID, opts)
	if err != nil {
		return nil, 0, StatusCounts{}, err
	}
	all, _, err := s.store.ListByEvent(ctx, eventID, ListOptions{Export: true})
	if err != nil {
		return nil, 0, StatusCounts{}, err
	}
	return regs, total, Breakdown(all), nil
}

// UpdateInfo edits contact/additional info.
func (s *Service) UpdateInfo(ctx context.Context, id string, in UpdateInput) (*Registration, error) {
	if in.Contact != nil {
		if err := in.Contact.Validate(); err != nil {
			return nil, err
		}
	}
	return s.store.UpdateInfo(ctx, id, in)
}

// Cancel transitions the registration to cancelled and, when a confirmed
// slot was freed, promotes the earliest waitlisted registration (FIFO, one
// slot, one promotion). Returns the cancelled registration and the promoted
// one, if any.
func (s *Service) Cancel(ctx context.Context, id, actor, note string) (*Registration, *Registration, error) {
	cancelled, freed, err := s.store.Cancel(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	metrics.CancellationsTotal.Inc()
	if note != "" {
		if err := s.store.AppendAdminNote(ctx, id, AdminNote{Note: note, Author: actor, CreatedAt: time.Now().UTC()}); err != nil {
			s.log.Warn("append cancellation note failed", "registration", id, "err", err)
		}
	}

	var promoted *Registration
	if freed {
		promoted, err = s.store.PromoteEarliestWaitlisted(ctx, cancelled.EventID)
		if err != nil {
			// The cancellation stands; promotion is retried implicitly the
			// next time a slot frees. Surface nothing to the caller.
			s.log.Error("waitlist promotion failed", "event", cancelled.EventID, "err", err)
		} else if promoted != nil {
			metrics.PromotionsTotal.Inc()
			// TODO: notify the promoted user once the notification service lands.
		}
	}

	s.reconcileOrQueue(ctx, cancelled.EventID)
	return cancelled, promoted, nil
}

// CheckInReceipt is what the scanning operator sees after a check-in.
type CheckInReceipt struct {
	Registration *Registration `json:"registration"`
	EventTitle   string        `json:"event_title"`
	CheckedInAt  time.Time     `json:"checked_in_at"`
}

// CheckIn resolves the registration (by code when one is presented, else by
// id) and applies the one-time confirmed→attended transition.
func (s *Service) CheckIn(ctx context.Context, id, code string) (*CheckInReceipt, error) {
	if code != "" {
		byCode, err := s.store.GetByCode(ctx, code)
		if err != nil {
			metrics.CheckinsTotal.WithLabelValues("not_found").Inc()
			return nil, err
		}
		if id != "" && byCode.ID != id {
			metrics.CheckinsTotal.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("%w: code does not match registration", ErrRegistrationNotFound)
		}
		id = byCode.ID
	}

	reg, err := s.store.CheckIn(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyCheckedIn):
			metrics.CheckinsTotal.WithLabelValues("already").Inc()
		case errors.Is(err, ErrNotConfirmed):
			metrics.CheckinsTotal.WithLabelValues("not_confirmed").Inc()
		default:
			metrics.CheckinsTotal.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}
	metrics.CheckinsTotal.WithLabelValues("ok").Inc()

	receipt := &CheckInReceipt{Registration: reg}
	if reg.AttendedAt != nil {
		receipt.CheckedInAt = *reg.AttendedAt
	}
	if ev, err := s.catalog.Get(ctx, reg.EventID); err == nil {
		receipt.EventTitle = ev.Title
	}
	return receipt, nil
}

// ConfirmPayment applies pending→confirmed after the payment collaborator
// reports completion (or an admin forces it).
func (s *Service) ConfirmPayment(ctx context.Context, id string) (*Registration, error) {
	reg, err := s.store.ConfirmPending(ctx, id)
	if err != nil {
		return nil, err
	}
	s.reconcileOrQueue(ctx, reg.EventID)
	return reg, nil
}

// MarkNoShow applies confirmed→no-show, an admin-only post-event action.
func (s *Service) MarkNoShow(ctx context.Context, id string) (*Registration, error) {
	reg, err := s.store.MarkNoShow(ctx, id)
	if err != nil {
		return nil, err
	}
	s.reconcileOrQueue(ctx, reg.EventID)
	return reg, nil
}

// AddAdminNote appends an administrative note to the registration.
func (s *Service) AddAdminNote(ctx context.Context, id, author, note string) error {
	return s.store.AppendAdminNote(ctx, id, AdminNote{Note: note, Author: author, CreatedAt: time.Now().UTC()})
}

// EventStats is the organizer dashboard payload for one event.
type EventStats struct {
	EventID             string       `json:"event_id"`
	Breakdown           StatusCounts `json:"breakdown"`
	MaxParticipants     *int         `json:"max_participants"`
	CurrentParticipants int          `json:"current_participants"`
	Available           *int         `json:"available"` // nil when unlimited
	Trend               []TrendPoint `json:"trend"`
}

// Stats aggregates the status breakdown, availability and the 30-day daily
// registration trend for an event.
func (s *Service) Stats(ctx context.Context, eventID string) (*EventStats, error) {
	ev, err := s.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	all, _, err := s.store.ListByEvent(ctx, eventID, ListOptions{Export: true})
	if err != nil {
		return nil, err
	}
	breakdown := Breakdown(all)
	return &EventStats{
		EventID:             eventID,
		Breakdown:           breakdown,
		MaxParticipants:     ev.MaxParticipants,
		CurrentParticipants: ev.CurrentParticipants,
		Available:           ev.Available(breakdown.Active()),
		Trend:               DailyTrend(all, 30, time.Now()),
	}, nil
}

// Reconcile recounts the event's live confirmed+attended registrations and
// overwrites the cached counter. It never increments: a full recount makes
// the operation idempotent and self-healing from any prior drift.
func (s *Service) Reconcile(ctx context.Context, eventID string) error {
	n, err := s.store.CountActive(ctx, eventID)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", eventID, err)
	}
	if err := s.catalog.SetCurrentParticipants(ctx, eventID, n); err != nil {
		return fmt.Errorf("reconcile %s: %w", eventID, err)
	}
	return nil
}

// reconcileOrQueue runs reconciliation inline; on failure the event id goes
// to the worker queue. The registration change has already committed, and
// the cached counter is derived state, so a failed write here is non-fatal.
func (s *Service) reconcileOrQueue(ctx context.Context, eventID string) {
	if err := s.Reconcile(ctx, eventID); err != nil {
		metrics.ReconcileFailures.Inc()
		s.log.Warn("inline reconciliation failed, queueing retry", "event", eventID, "err", err)
		if s.queue != nil {
			if qErr := s.queue.Publish(ctx, queue.Message{Type: queue.TypeReconcile, Body: []byte(eventID)}); qErr != nil {
				s.log.Error("queue reconcile retry failed", "event", eventID, "err", qErr)
			}
		}
	}
}
