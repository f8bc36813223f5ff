package rsvp

import "errors"

var (
	// ErrEventNotFound is returned when the target event does not exist.
	ErrEventNotFound = errors.New("event not found")
	// ErrRegistrationNotFound is returned when no registration matches the id or code.
	ErrRegistrationNotFound = errors.New("registration not found")
	// ErrRegistrationNotStarted is returned when the registration window has not opened yet.
	ErrRegistrationNotStarted = errors.New("registration has not started")
	// ErrRegistrationEnded is returned when the registration window has closed.
	ErrRegistrationEnded = errors.New("registration has ended")
	// ErrAlreadyRegistered is returned when the user already holds a registration for the event.
	ErrAlreadyRegistered = errors.New("already registered for this event")
	// ErrForbidden is returned when the caller lacks ownership or role.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition is returned when a state machine guard rejects a transition.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyCheckedIn is returned on repeat check-in attempts.
	ErrAlreadyCheckedIn = errors.New("already checked in")
	// ErrNotConfirmed is returned when checking in a registration that is not confirmed.
	ErrNotConfirmed = errors.New("registration is not confirmed")
	// ErrValidation is wrapped around malformed contact or additional info.
	ErrValidation = errors.New("validation failed")
)
