package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// PlanFunc decides the changes for one doctor-day given its current state.
// It runs inside the store's transaction and must not perform I/O.
type PlanFunc func(day DayState) (SlotChanges, error)

// AvailabilityStore persists declared slots per (doctor, date).
type AvailabilityStore interface {
	ListSlots(ctx context.Context, doctorID uuid.UUID, date Date) ([]AvailabilitySlot, error)
	ListUpcomingSlots(ctx context.Context, doctorID uuid.UUID, from Date) ([]AvailabilitySlot, error)

	// UpdateDay loads the day and applies plan's changes as one atomic unit.
	UpdateDay(ctx context.Context, doctorID uuid.UUID, date Date, plan PlanFunc) (SlotChanges, error)
}

// AppointmentLedger is the source of truth for occupancy. Implementations enforce
// at most one active appointment per (doctor, date, time) and per
// (patient, date, time), even when callers race past the pre-checks.
type AppointmentLedger interface {
	// Pre-checks; ErrAppointmentNotFound when the time is free.
	FindActiveByDoctor(ctx context.Context, doctorID uuid.UUID, date Date, t TimeOfDay) (*Appointment, error)
	FindActiveByPatient(ctx context.Context, patientID uuid.UUID, date Date, t TimeOfDay) (*Appointment, error)

	// CreateAppointment inserts a BOOKED appointment and marks the matching slot
	// booked in one transaction. Uniqueness violations come back as
	// ErrDoctorSlotConflict or ErrPatientSlotConflict.
	CreateAppointment(ctx context.Context, a *Appointment) error

	// UpdateAppointmentStatus moves id from one status to another and resyncs the
	// slot's booked flag. ErrAppointmentNotFound when id is not in status from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsForDate(ctx context.Context, date Date, status AppointmentStatus) ([]Appointment, error)
	DoctorReports(ctx context.Context, since Date) ([]DoctorReport, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// DayReader returns a doctor-day from one consistent snapshot.
type DayReader interface {
	ReadDay(ctx context.Context, doctorID uuid.UUID, date Date) (DayState, error)
}

// Directory answers identity lookups owned by the surrounding CRUD layer.
type Directory interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}

// Store is the full persistence surface; PgStore and MemoryStore implement it.
type Store interface {
	AvailabilityStore
	AppointmentLedger
	DayReader
	Directory
}
