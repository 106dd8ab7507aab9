package alerts

import "errors"

var (
	// ErrNotFound indicates a missing alert record.
	ErrNotFound = errors.New("alert: not found")
	// ErrValidation indicates rejected input such as a missing resolution reason.
	ErrValidation = errors.New("alert: validation failed")
	// ErrConflict indicates a state conflict, e.g. resolving a resolved alert
	// or creating a second open alert for the same cold cell and type.
	ErrConflict = errors.New("alert: conflict")
)
