package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	// SlotDuration is the fixed length of every bookable slot.
	SlotDuration = time.Hour

	minutesPerDay = 24 * 60
)

// Default working day used when a doctor has not published availability.
var (
	DefaultDayStart = NewTimeOfDay(9, 0)
	DefaultDayEnd   = NewTimeOfDay(17, 0)
)

type AppointmentStatus string

const (
	StatusBooked    AppointmentStatus = "BOOKED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

// Active reports whether the appointment occupies its slot.
func (s AppointmentStatus) Active() bool {
	return s == StatusBooked || s == StatusCompleted
}

func ParseStatus(raw string) (AppointmentStatus, error) {
	switch s := AppointmentStatus(raw); s {
	case StatusBooked, StatusCompleted, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
}

// Date is a calendar day without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(raw string) (Date, error) {
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, raw)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// Time returns midnight UTC, the representation used for DATE columns.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// At combines the date with a time of day in loc.
func (d Date) At(t TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour(), t.Minute(), 0, 0, loc)
}

func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// TimeOfDay is a wall-clock time at minute resolution, stored as minutes since midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	t, err := time.Parse(TimeLayout, raw)
	if err != nil {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidInput, raw)
	}
	return TimeOfDayOf(t), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Add moves the time forward, wrapping past midnight.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	m := (int(t) + int(d/time.Minute)) % minutesPerDay
	if m < 0 {
		m += minutesPerDay
	}
	return TimeOfDay(m)
}

// AvailabilitySlot is one declared hour of a doctor's day. Booked mirrors the
// ledger and only protects the slot from removal.
type AvailabilitySlot struct {
	DoctorID  uuid.UUID
	Date      Date
	StartTime TimeOfDay
	EndTime   TimeOfDay
	Booked    bool
}

func NewSlot(doctorID uuid.UUID, date Date, start TimeOfDay) AvailabilitySlot {
	return AvailabilitySlot{
		DoctorID:  doctorID,
		Date:      date,
		StartTime: start,
		EndTime:   start.Add(SlotDuration),
	}
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      Date
	Time      TimeOfDay
	Status    AppointmentStatus
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID           uuid.UUID
	Name         string
	DepartmentID *uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlotView is one entry of a resolved day.
type SlotView struct {
	Time      TimeOfDay
	Available bool
}

// DayState is everything known about one doctor-day, read at a single point in time.
// Appointments holds active appointments only.
type DayState struct {
	Slots        []AvailabilitySlot
	Appointments []Appointment
}

func (d DayState) Occupied() map[TimeOfDay]bool {
	occupied := make(map[TimeOfDay]bool, len(d.Appointments))
	for _, a := range d.Appointments {
		if a.Status.Active() {
			occupied[a.Time] = true
		}
	}
	return occupied
}

// SlotChanges is the write set of one reconciliation.
type SlotChanges struct {
	Remove    []TimeOfDay
	Add       []AvailabilitySlot
	SetBooked map[TimeOfDay]bool
}

func (c SlotChanges) Empty() bool {
	return len(c.Remove) == 0 && len(c.Add) == 0 && len(c.SetBooked) == 0
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// DoctorReport aggregates a doctor's appointments over a period.
type DoctorReport struct {
	DoctorID   uuid.UUID
	DoctorName string
	Total      int
	Completed  int
	Cancelled  int
}
