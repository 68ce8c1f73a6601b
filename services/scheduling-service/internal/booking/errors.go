package booking

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindNotFound
	KindStateConflict
	KindBookingConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindBookingConflict:
		return "booking_conflict"
	}
	return "unknown"
}

// Error is an expected workflow failure. Message is safe to return to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrValidation) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation      = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrAuthorization   = &Error{Kind: KindAuthorization, Message: "not authorized"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrStateConflict   = &Error{Kind: KindStateConflict, Message: "application state does not allow this action"}
	ErrBookingConflict = &Error{Kind: KindBookingConflict, Message: "requested time overlaps an existing booking"}
)

func validationErr(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func authorizationErr(msg string, err error) error {
	return &Error{Kind: KindAuthorization, Message: msg, Err: err}
}

func notFoundErr(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func stateConflictErr(msg string, err error) error {
	return &Error{Kind: KindStateConflict, Message: msg, Err: err}
}

func bookingConflictErr(msg string, err error) error {
	return &Error{Kind: KindBookingConflict, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// outcome is the metrics label for err.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}
