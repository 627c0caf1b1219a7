package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrCarNotFound      = errors.New("car not found or not approved")
	ErrPastDate         = errors.New("date is in the past")
	ErrSlotNotFound     = errors.New("time slot does not exist")
	ErrSlotUnavailable  = errors.New("time slot is not available")
	ErrForbidden        = errors.New("not allowed to access this inspection")
	ErrAlreadyCompleted = errors.New("inspection is already completed")
	ErrInvalidState     = errors.New("invalid inspection status for this action")
	ErrInvalidInspector = errors.New("inspector must be an admin")
	ErrRateLimited      = errors.New("too many booking attempts")
	ErrInvalidPeriod    = errors.New("unknown period")
	ErrInvalidDate      = errors.New("invalid date")
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a *ValidationError.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// InvalidPeriod reports a period outside morning, afternoon and night.
func InvalidPeriod(period string) error {
	return &ValidationError{Field: "period", Message: fmt.Sprintf("unknown period %q", period), Err: ErrInvalidPeriod}
}

// InvalidDate reports a missing or malformed date field.
func InvalidDate(field, value string) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", value), Err: ErrInvalidDate}
}
