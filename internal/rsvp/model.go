// Package rsvp implements the registration core: admission control, the
// registration state machine, check-in and waitlist promotion.
package rsvp

import (
	"fmt"
	"net/mail"
	"time"
)

// Status is the registration lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusWaitlist  Status = "waitlist"
	StatusAttended  Status = "attended"
	StatusNoShow    Status = "no-show"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusWaitlist, StatusAttended, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no further user-initiated transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusAttended || s == StatusNoShow
}

// OccupiesSlot reports whether the status consumes a capacity slot.
// Pending and waitlisted registrations never hold a slot.
func (s Status) OccupiesSlot() bool {
	return s == StatusConfirmed || s == StatusAttended
}

// PaymentStatus tracks the external payment collaborator's view.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// ContactInfo carries the registrant's contact details.
type ContactInfo struct {
	Email            string `json:"email"`
	Phone            string `json:"phone,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"`
}

// Validate checks email format and the 10-digit phone rule.
func (c *ContactInfo) Validate() error {
	if c.Email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("%w: email is not a valid address", ErrValidation)
	}
	if c.Phone != "" {
		if len(c.Phone) != 10 {
			return fmt.Errorf("%w: phone must be exactly 10 digits", ErrValidation)
		}
		for _, r := range c.Phone {
			if r < '0' || r > '9' {
				return fmt.Errorf("%w: phone must be exactly 10 digits", ErrValidation)
			}
		}
	}
	return nil
}

// AdditionalInfo carries event-specific registration details. Custom is the
// only open-ended extension point; everything else is explicitly typed.
type AdditionalInfo struct {
	TeamName     string            `json:"team_name,omitempty"`
	TeamMembers  []string          `json:"team_members,omitempty"`
	SpecialNeeds string            `json:"special_needs,omitempty"`
	Custom       map[string]string `json:"custom,omitempty"`
}

// Payment mirrors the external payment collaborator's state for this registration.
type Payment struct {
	Amount        int64         `json:"amount"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transaction_id,omitempty"`
}

// AdminNote is an append-only administrative annotation.
type AdminNote struct {
	Note      string    `json:"note"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Registration is a user's RSVP for an event. At most one exists per
// (user, event) pair; cancellation is a status transition, never a delete.
type Registration struct {
	ID          string         `json:"id"`
	EventID     string         `json:"event_id"`
	UserID      string         `json:"user_id"`
	Status      Status         `json:"status"`
	Contact     ContactInfo    `json:"contact_info"`
	Additional  AdditionalInfo `json:"additional_info"`
	Payment     Payment        `json:"payment"`
	CheckInCode string         `json:"check_in_code,omitempty"`

	RegisteredAt time.Time  `json:"registered_at"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	AttendedAt   *time.Time `json:"attended_at,omitempty"`

	AdminNotes []AdminNote `json:"admin_notes,omitempty"`
}

// Decide returns the initial status for an admitted registration.
// available is the remaining capacity computed from the live count, nil when
// the event is unlimited. Full events waitlist; free events confirm
// immediately; paid events stay pending until payment completes.
func Decide(available *int, fee int64) Status {
	if available != nil && *available <= 0 {
		return StatusWaitlist
	}
	if fee == 0 {
		return StatusConfirmed
	}
	return StatusPending
}

// RegisterInput is the payload for creating a registration.
type RegisterInput struct {
	Contact    ContactInfo
	Additional AdditionalInfo
}

// Validate checks the payload before admission.
func (in *RegisterInput) Validate() error {
	return in.Contact.Validate()
}

// UpdateInput carries contact/additional edits. Nil fields are left unchanged.
type UpdateInput struct {
	Contact    *ContactInfo
	Additional *AdditionalInfo
}

// ListOptions controls pagination and filtering of registration listings.
type ListOptions struct {
	Status  Status // empty means all
	Page    int    // 1-based
	PerPage int
	Export  bool // unpaginated flat list
}

func (o ListOptions) limitOffset() (int, int) {
	page := o.Page
	if page < 1 {
		page = 1
	}
	per := o.PerPage
	if per <= 0 || per > 200 {
		per = 20
	}
	return per, (page - 1) * per
}
