package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/clock"
)

type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      string // YYYY-MM-DD
	Time      string // HH:MM
	Reason    string
}

// BookingGuard validates a booking and commits it against the ledger.
//
// The conflict lookups before the insert only give fast feedback. Two requests
// can both pass them; the ledger's uniqueness guarantee decides which one
// commits, and the loser gets the same conflict error the pre-check would
// have returned.
type BookingGuard struct {
	directory Directory
	ledger    AppointmentLedger
	clock     clock.Clock
	timeout   time.Duration
	log       zerolog.Logger
}

func NewBookingGuard(directory Directory, ledger AppointmentLedger, clk clock.Clock, timeout time.Duration, log zerolog.Logger) *BookingGuard {
	return &BookingGuard{
		directory: directory,
		ledger:    ledger,
		clock:     clk,
		timeout:   timeout,
		log:       log.With().Str("component", "booking_guard").Logger(),
	}
}

// Book must not be retried blindly: on ErrStoreUnavailable the commit may have succeeded.
func (g *BookingGuard) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := g.checkDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}

	date, err := ParseDate(req.Date)
	if err != nil {
		return nil, err
	}
	at, err := ParseTimeOfDay(req.Time)
	if err != nil {
		return nil, err
	}

	now := g.clock.Now()
	if !date.At(at, now.Location()).After(now) {
		return nil, ErrPastDateRejected
	}

	if err := g.precheck(ctx, req.PatientID, req.DoctorID, date, at); err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:        uuid.New(),
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Date:      date,
		Time:      at,
		Status:    StatusBooked,
		Reason:    req.Reason,
	}

	storeCtx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.ledger.CreateAppointment(storeCtx, appt); err != nil {
		if errors.Is(err, ErrDoctorSlotConflict) || errors.Is(err, ErrPatientSlotConflict) {
			g.log.Info().
				Str("doctor_id", req.DoctorID.String()).
				Str("date", date.String()).
				Str("time", at.String()).
				Err(err).
				Msg("booking lost race at commit")
		}
		return nil, storeErr("create appointment", err)
	}

	return appt, nil
}

func (g *BookingGuard) checkDoctor(ctx context.Context, doctorID uuid.UUID) error {
	storeCtx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	if _, err := g.directory.GetDoctorByID(storeCtx, doctorID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrDoctorNotFound
		}
		return storeErr("load doctor", err)
	}
	return nil
}

func (g *BookingGuard) precheck(ctx context.Context, patientID, doctorID uuid.UUID, date Date, at TimeOfDay) error {
	storeCtx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.ledger.FindActiveByDoctor(storeCtx, doctorID, date, at)
	switch {
	case err == nil:
		return ErrDoctorSlotConflict
	case !errors.Is(err, ErrAppointmentNotFound):
		return storeErr("check doctor slot", err)
	}

	_, err = g.ledger.FindActiveByPatient(storeCtx, patientID, date, at)
	switch {
	case err == nil:
		return ErrPatientSlotConflict
	case !errors.Is(err, ErrAppointmentNotFound):
		return storeErr("check patient slot", err)
	}

	return nil
}
