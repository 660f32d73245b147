// Package apperr is the error taxonomy shared by every scheduling operation.
// Callers classify failures with errors.Is against the sentinels or with KindOf.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuthorization
	KindNotFound
	KindInvalidTransition
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindBusy:
		return "busy"
	default:
		return "internal"
	}
}

// Error is a classified failure. Code is stable and safe to send to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrInvalidInput        = &Error{KindValidation, "invalid_input", "invalid input"}
	ErrInvalidRange        = &Error{KindValidation, "invalid_range", "invalid range"}
	ErrPastDate            = &Error{KindValidation, "past_date", "appointment must be in the future"}
	ErrOutsideAvailability = &Error{KindValidation, "outside_availability", "time is outside the provider's availability"}
	ErrOverlappingWindow   = &Error{KindConflict, "overlapping_window", "window overlaps an existing window"}
	ErrWindowInUse         = &Error{KindConflict, "window_in_use", "change would orphan booked appointments"}
	ErrSlotTaken           = &Error{KindConflict, "slot_taken", "slot is already taken"}
	ErrUnauthorized        = &Error{KindAuthorization, "unauthorized", "actor is not allowed to perform this action"}
	ErrNotFound            = &Error{KindNotFound, "not_found", "not found"}
	ErrInvalidTransition   = &Error{KindInvalidTransition, "invalid_transition", "appointment is not pending"}
	ErrBusy                = &Error{KindBusy, "busy", "slot is being booked by another request, retry shortly"}
	ErrInternal            = &Error{KindInternal, "internal", "internal error"}
)

// Wrap annotates a sentinel with detail while keeping errors.Is working.
func Wrap(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Internal classifies an unexpected failure. Errors that already carry a
// kind pass through untouched; the cause stays reachable for logging.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInternal, err)
}

// As returns the classified error in err's chain, or ErrInternal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal
}

func KindOf(err error) Kind {
	return As(err).Kind
}

// Public returns the message safe to expose: the full annotated message for
// classified errors, a generic one for internal failures.
func Public(err error) string {
	e := As(err)
	if e.Kind == KindInternal {
		return ErrInternal.Message
	}
	return err.Error()
}
