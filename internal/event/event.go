// Package event is the boundary to the event catalog: the RSVP core reads
// capacity, fee and registration window from it and writes back the cached
// participant counter.
package event

import "time"

// Event describes a club event as the registration core sees it.
type Event struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	OrganizerID         string    `json:"organizer_id"`
	MaxParticipants     *int      `json:"max_participants"` // nil means unlimited
	CurrentParticipants int       `json:"current_participants"`
	RegistrationStart   time.Time `json:"registration_start"`
	RegistrationEnd     time.Time `json:"registration_end"`
	RegistrationFee     int64     `json:"registration_fee"` // minor currency units
	CreatedAt           time.Time `json:"created_at"`
}

// RegistrationOpenAt reports whether the registration window covers t.
func (e *Event) RegistrationOpenAt(t time.Time) bool {
	return !t.Before(e.RegistrationStart) && !t.After(e.RegistrationEnd)
}

// Available returns the remaining capacity given a live confirmed+attended
// count, or nil when the event is unlimited. The cached counter is never an
// input here; admission decisions are made from the live count only.
func (e *Event) Available(liveCount int) *int {
	if e.MaxParticipants == nil {
		return nil
	}
	n := *e.MaxParticipants - liveCount
	return &n
}

// CreateParams is the payload for creating a new event.
type CreateParams struct {
	Title             string    `json:"title" binding:"required"`
	OrganizerID       string    `json:"organizer_id" binding:"required"`
	MaxParticipants   *int      `json:"max_participants"`
	RegistrationStart time.Time `json:"registration_start" binding:"required"`
	RegistrationEnd   time.Time `json:"registration_end" binding:"required"`
	RegistrationFee   int64     `json:"registration_fee"`
}
