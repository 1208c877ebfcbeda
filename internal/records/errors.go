package records

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrForbidden is returned when a user touches another user's record
	ErrForbidden = errors.New("record belongs to another user")

	// ErrNoMedications is returned when a report has no named medication
	ErrNoMedications = errors.New("at least one medication name is required")

	// ErrMissingField is returned when a required field is empty
	ErrMissingField = errors.New("required field is missing")

	// ErrInvalidTransition is returned for appointment status changes other
	// than pending -> confirmed or pending -> cancelled
	ErrInvalidTransition = errors.New("invalid appointment status transition")
)
