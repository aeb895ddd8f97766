package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentBooked    = "appointment.booked"
	EventAppointmentCompleted = "appointment.completed"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentReminder  = "appointment.reminder"
	EventAvailabilityUpdated  = "availability.updated"
	EventDoctorMonthlyReport  = "doctor.monthly_report"
)

// Service is the entry point used by the HTTP layer and the notify worker.
type Service struct {
	store      Store
	reconciler *Reconciler
	resolver   *Resolver
	guard      *BookingGuard
	publisher  notify.Publisher
	clock      clock.Clock
	timeout    time.Duration
	log        zerolog.Logger
}

func NewService(store Store, locker redisclient.Locker, pub notify.Publisher, clk clock.Clock, cfg config.Config, log zerolog.Logger) *Service {
	if pub == nil {
		pub = notify.Nop{}
	}
	return &Service{
		store:      store,
		reconciler: NewReconciler(store, locker, cfg.StoreTimeout, log),
		resolver:   NewResolver(store, clk, cfg.StoreTimeout),
		guard:      NewBookingGuard(store, store, clk, cfg.StoreTimeout, log),
		publisher:  pub,
		clock:      clk,
		timeout:    cfg.StoreTimeout,
		log:        log,
	}
}

// Now exposes the service clock so callers format "today" consistently.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Reconcile publishes a doctor's availability for one date.
func (s *Service) Reconcile(ctx context.Context, doctorID uuid.UUID, date Date, slots []string) (*ReconcileResult, error) {
	res, err := s.reconciler.Reconcile(ctx, doctorID, date, slots)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, nil, EventAvailabilityUpdated, map[string]any{
		"doctor_id": doctorID.String(),
		"date":      date.String(),
		"created":   formatTimes(res.Created),
		"removed":   formatTimes(res.Removed),
		"retained":  formatTimes(res.Retained),
	})
	return res, nil
}

func (s *Service) Resolve(ctx context.Context, doctorID uuid.UUID, date Date) (DaySlots, error) {
	return s.resolver.Resolve(ctx, doctorID, date)
}

func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	appt, err := s.guard.Book(ctx, req)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, &appt.ID, EventAppointmentBooked, appointmentPayload(appt))
	return appt, nil
}

// UpdateStatus completes or cancels a BOOKED appointment. Cancelling frees the
// slot for other patients; the slot row itself is kept.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	appt, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == to {
		return appt, nil
	}
	if !canTransition(appt.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
	}

	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	updated, err := s.store.UpdateAppointmentStatus(storeCtx, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// status moved underneath us
			return nil, fmt.Errorf("%w: appointment is no longer %s", ErrInvalidStatusTransition, appt.Status)
		}
		return nil, storeErr("update appointment status", err)
	}

	event := EventAppointmentCompleted
	if to == StatusCancelled {
		event = EventAppointmentCancelled
	}
	s.emit(ctx, &updated.ID, event, appointmentPayload(updated))

	return updated, nil
}

func canTransition(from, to AppointmentStatus) bool {
	switch from {
	case StatusBooked:
		return to == StatusCompleted || to == StatusCancelled
	case StatusCompleted, StatusCancelled:
		return false
	}
	return false
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	appt, err := s.store.GetAppointmentByID(storeCtx, id)
	if err != nil {
		return nil, storeErr("get appointment", err)
	}
	return appt, nil
}

func (s *Service) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)

	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	appts, err := s.store.ListAppointmentsByDoctor(storeCtx, doctorID, limit, offset)
	if err != nil {
		return nil, storeErr("list appointments by doctor", err)
	}
	return appts, nil
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)

	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	appts, err := s.store.ListAppointmentsByPatient(storeCtx, patientID, limit, offset)
	if err != nil {
		return nil, storeErr("list appointments by patient", err)
	}
	return appts, nil
}

// UpcomingAvailability lists the doctor's declared slots from today on.
func (s *Service) UpcomingAvailability(ctx context.Context, doctorID uuid.UUID) ([]AvailabilitySlot, error) {
	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	slots, err := s.store.ListUpcomingSlots(storeCtx, doctorID, DateOf(s.clock.Now()))
	if err != nil {
		return nil, storeErr("list upcoming slots", err)
	}
	return slots, nil
}

// SendDailyReminders publishes a reminder for every BOOKED appointment today.
func (s *Service) SendDailyReminders(ctx context.Context) (int, error) {
	today := DateOf(s.clock.Now())

	appts, err := s.store.ListAppointmentsForDate(ctx, today, StatusBooked)
	if err != nil {
		return 0, storeErr("list today's appointments", err)
	}

	sent := 0
	for i := range appts {
		appt := &appts[i]
		payload := appointmentPayload(appt)
		if doc, err := s.store.GetDoctorByID(ctx, appt.DoctorID); err == nil {
			payload["doctor_name"] = doc.Name
		}
		if p, err := s.store.GetPatientByID(ctx, appt.PatientID); err == nil {
			payload["patient_name"] = p.Name
		}

		if err := s.publisher.Publish(ctx, EventAppointmentReminder, payload); err != nil {
			s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to publish reminder")
			continue
		}
		sent++
	}
	return sent, nil
}

// SendMonthlyReports publishes per-doctor totals since the first day of last month.
func (s *Service) SendMonthlyReports(ctx context.Context) (int, error) {
	since := startOfPreviousMonth(DateOf(s.clock.Now()))

	reports, err := s.store.DoctorReports(ctx, since)
	if err != nil {
		return 0, storeErr("build doctor reports", err)
	}

	sent := 0
	for _, r := range reports {
		err := s.publisher.Publish(ctx, EventDoctorMonthlyReport, map[string]any{
			"doctor_id":   r.DoctorID.String(),
			"doctor_name": r.DoctorName,
			"since":       since.String(),
			"total":       r.Total,
			"completed":   r.Completed,
			"cancelled":   r.Cancelled,
		})
		if err != nil {
			s.log.Error().Err(err).Str("doctor_id", r.DoctorID.String()).Msg("failed to publish monthly report")
			continue
		}
		sent++
	}
	return sent, nil
}

func startOfPreviousMonth(d Date) Date {
	first := Date{Year: d.Year, Month: d.Month, Day: 1}
	return DateOf(first.Time().AddDate(0, -1, 0))
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// emit records the event in the audit log and publishes it. Failures are logged
// and never fail the request.
func (s *Service) emit(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	ctx = context.WithoutCancel(ctx)

	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.store.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to insert event log")
	}

	if err := s.publisher.Publish(ctx, eventType, payload); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func appointmentPayload(a *Appointment) map[string]any {
	return map[string]any{
		"appointment_id": a.ID.String(),
		"patient_id":     a.PatientID.String(),
		"doctor_id":      a.DoctorID.String(),
		"date":           a.Date.String(),
		"time":           a.Time.String(),
		"status":         string(a.Status),
	}
}

func formatTimes(ts []TimeOfDay) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}
