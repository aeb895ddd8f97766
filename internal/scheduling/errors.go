package scheduling

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Match with errors.Is; the more specific
// not-found errors wrap ErrNotFound.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrPastDateRejected    = errors.New("cannot book an appointment in the past")
	ErrDoctorSlotConflict  = errors.New("doctor already has an appointment at this time")
	ErrPatientSlotConflict = errors.New("patient already has an appointment at this time")
	ErrStoreUnavailable    = errors.New("store unavailable")

	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

var (
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
)

// Retryable reports whether the caller may retry the failed operation.
// Only StoreUnavailable qualifies, and only for idempotent operations.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// unavailable wraps transient failures so they surface as ErrStoreUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// storeErr passes domain errors through and classifies everything else.
// Deadline and cancellation failures become ErrStoreUnavailable.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDoctorSlotConflict),
		errors.Is(err, ErrPatientSlotConflict),
		errors.Is(err, ErrInvalidStatusTransition),
		errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
