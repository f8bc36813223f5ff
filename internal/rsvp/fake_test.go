package rsvp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"clubhub/internal/event"
	"clubhub/internal/queue"
)

// fakeBackend implements Store and Catalog in memory with the same atomicity
// contract as the Postgres repository: every read-then-write happens under
// one lock, so concurrent service calls exercise the real guard semantics.
type fakeBackend struct {
	mu     sync.Mutex
	events map[string]*event.Event
	regs   map[string]*Registration
	clock  time.Time

	// setCounterErrs injects failures into SetCurrentParticipants.
	setCounterErrs int
}

var _ Store = (*fakeBackend)(nil)
var _ Catalog = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		events: make(map[string]*event.Event),
		regs:   make(map[string]*Registration),
		clock:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeBackend) addEvent(id string, capacity *int, fee int64) *event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := &event.Event{
		ID:                id,
		Title:             "Event " + id,
		OrganizerID:       "organizer-1",
		MaxParticipants:   capacity,
		RegistrationStart: f.clock.Add(-24 * time.Hour),
		RegistrationEnd:   f.clock.Add(24 * time.Hour),
		RegistrationFee:   fee,
	}
	f.events[id] = ev
	return ev
}

// tick returns a strictly increasing timestamp so FIFO ordering is deterministic.
func (f *fakeBackend) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeBackend) liveCount(eventID string) int {
	n := 0
	for _, r := range f.regs {
		if r.EventID == eventID && r.Status.OccupiesSlot() {
			n++
		}
	}
	return n
}

func (f *fakeBackend) Admit(_ context.Context, eventID, userID string, in RegisterInput) (*Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ev, ok := f.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	now := f.tick()
	if now.Before(ev.RegistrationStart) {
		return nil, ErrRegistrationNotStarted
	}
	if now.After(ev.RegistrationEnd) {
		return nil, ErrRegistrationEnded
	}
	for _, r := range f.regs {
		if r.EventID == eventID && r.UserID == userID {
			return nil, ErrAlreadyRegistered
		}
	}

	available := ev.Available(f.liveCount(eventID))
	status := Decide(available, ev.RegistrationFee)

	code, err := NewCheckInCode()
	if err != nil {
		return nil, err
	}
	reg := &Registration{
		ID:           uuid.NewString(),
		EventID:      eventID,
		UserID:       userID,
		Status:       status,
		Contact:      in.Contact,
		Additional:   in.Additional,
		Payment:      Payment{Amount: ev.RegistrationFee, Status: PaymentPending},
		CheckInCode:  code,
		RegisteredAt: now,
	}
	if status == StatusConfirmed {
		reg.ConfirmedAt = &now
		if ev.RegistrationFee == 0 {
			reg.Payment.Status = PaymentCompleted
		}
	}
	f.regs[reg.ID] = reg
	out := *reg
	return &out, nil
}

func (f *fakeBackend) GetByID(_ context.Context, id string) (*Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	out := *reg
	return &out, nil
}

func (f *fakeBackend) GetByCode(_ context.Context, code string) (*Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.regs {
		if r.CheckInCode == code {
			out := *r
			return &out, nil
		}
	}
	return nil, ErrRegistrationNotFound
}

func (f *fakeBackend) list(match func(*Registration) bool, opts ListOptions) ([]Registration, int) {
	var all []Registration
	for _, r := range f.regs {
		if !match(r) {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		all = append(all, *r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RegisteredAt.After(all[j].RegisteredAt) })
	total := len(all)
	if opts.Export {
		return all, total
	}
	limit, offset := opts.limitOffset()
	if offset >= len(all) {
		return nil, total
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total
}

func (f *fakeBackend) ListByUser(_ context.Context, userID string, opts ListOptions) ([]Registration, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	regs, total := f.list(func(r *Registration) bool { return r.UserID == userID }, opts)
	return regs, total, nil
}

func (f *fakeBackend) ListByEvent(_ context.Context, eventID string, opts ListOptions) ([]Registration, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	regs, total := f.list(func(r *Registration) bool { return r.EventID == eventID }, opts)
	return regs, total, nil
}

func (f *fakeBackend) UpdateInfo(_ context.Context, id string, in UpdateInput) (*Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	if in.Contact != nil {
		reg.Contact = *in.Contact
	}
	if in.Additional != nil {
		reg.Additional = *in.Additional
	}
	out := *reg
	return &out, nil
}

func (f *fakeBackend) Cancel(_ context.Context, id string) (*Registration, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return nil, false, ErrRegistrationNotFound
	}
	if reg.Status.Terminal() {
		return nil, false, fmt.Errorf("%w: cannot cancel a %s registration", ErrInvalidTransition, reg.Status)
	}
	freed := reg.Status == StatusConfirmed
	now := f.tick()
	reg.Status = StatusCancelled
	if reg.CancelledAt == nil {
		reg.CancelledAt = &now
	}
	out := *reg
	return &out, freed, nil
}

func (f *fakeBackend) CheckIn(_ context.Context, id string) (*Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	switch reg.Status {
	case StatusConfirmed:
		now := f.tick()
		reg.Status = StatusAttended
		if reg.AttendedAt == nil {
			reg.AttendedAt = &now
		}
		out := *reg
		return &out, nil
	case StatusAttended:
		return nil, ErrAlreadyCheckedIn
	default:
		return nil, ErrNotConfirmed
	}
}

func (f *fakeBackend) ConfirmPending(_ context.Context, id string) (*Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	if reg.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot confirm a %s registration", ErrInvalidTransition, reg.Status)
	}
	now := f.tick()
	reg.Status = StatusConfirmed
	if reg.ConfirmedAt == nil {
		reg.ConfirmedAt = &now
	}
	reg.Payment.Status = PaymentCompleted
	out := *reg
	return &out, nil
}

func (f *fakeBackend) MarkNoShow(_ context.Context, id string) (*Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	if reg.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot mark a %s registration as no-show", ErrInvalidTransition, reg.Status)
	}
	reg.Status = StatusNoShow
	out := *reg
	return &out, nil
}

func (f *fakeBackend) PromoteEarliestWaitlisted(_ context.Context, eventID string) (*Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventID]
	if !ok {
		return nil, nil
	}
	// Capacity is re-checked at promotion time: the freed slot may already
	// have been taken by a concurrent admission.
	if avail := ev.Available(f.liveCount(eventID)); avail != nil && *avail <= 0 {
		return nil, nil
	}
	var earliest *Registration
	for _, r := range f.regs {
		if r.EventID != eventID || r.Status != StatusWaitlist {
			continue
		}
		if earliest == nil || r.RegisteredAt.Before(earliest.RegisteredAt) {
			earliest = r
		}
	}
	if earliest == nil {
		return nil, nil
	}
	now := f.tick()
	earliest.Status = StatusConfirmed
	if earliest.ConfirmedAt == nil {
		earliest.ConfirmedAt = &now
	}
	out := *earliest
	return &out, nil
}

func (f *fakeBackend) CountActive(_ context.Context, eventID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveCount(eventID), nil
}

func (f *fakeBackend) AppendAdminNote(_ context.Context, id string, note AdminNote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return ErrRegistrationNotFound
	}
	reg.AdminNotes = append(reg.AdminNotes, note)
	return nil
}

// ---------- Catalog ----------

func (f *fakeBackend) Get(_ context.Context, id string) (*event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return nil, event.ErrNotFound
	}
	out := *ev
	return &out, nil
}

func (f *fakeBackend) SetCurrentParticipants(_ context.Context, id string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setCounterErrs > 0 {
		f.setCounterErrs--
		return errors.New("catalog write failed")
	}
	ev, ok := f.events[id]
	if !ok {
		return event.ErrNotFound
	}
	ev.CurrentParticipants = n
	return nil
}

// counter reads the cached participant counter directly.
func (f *fakeBackend) counter(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id].CurrentParticipants
}

// corruptCounter simulates cache drift.
func (f *fakeBackend) corruptCounter(id string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id].CurrentParticipants = n
}

// capturingQueue records published messages for assertions.
type capturingQueue struct {
	mu       sync.Mutex
	messages []queue.Message
}

var _ queue.Queue = (*capturingQueue)(nil)

func (q *capturingQueue) Publish(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

func (q *capturingQueue) Consume(_ context.Context) (<-chan queue.Message, error) {
	ch := make(chan queue.Message)
	close(ch)
	return ch, nil
}

func (q *capturingQueue) published() []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.Message, len(q.messages))
	copy(out, q.messages)
	return out
}
