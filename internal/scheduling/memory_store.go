package scheduling

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type dayKey struct {
	doctorID uuid.UUID
	date     Date
}

type timeKey struct {
	ownerID uuid.UUID
	date    Date
	time    TimeOfDay
}

// MemoryStore is an in-process Store. A single mutex makes every method
// atomic; the active-appointment indexes play the role of the unique indexes.
type MemoryStore struct {
	mu sync.RWMutex

	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	slots        map[dayKey]map[TimeOfDay]AvailabilitySlot
	appointments map[uuid.UUID]Appointment
	byDoctor     map[timeKey]uuid.UUID
	byPatient    map[timeKey]uuid.UUID
	events       []EventLog

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		slots:        make(map[dayKey]map[TimeOfDay]AvailabilitySlot),
		appointments: make(map[uuid.UUID]Appointment),
		byDoctor:     make(map[timeKey]uuid.UUID),
		byPatient:    make(map[timeKey]uuid.UUID),
		now:          time.Now,
	}
}

func (m *MemoryStore) AddDoctor(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

func (m *MemoryStore) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

// Events returns a copy of the audit log.
func (m *MemoryStore) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

// Directory

func (m *MemoryStore) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryStore) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

// AvailabilityStore

func (m *MemoryStore) ListSlots(ctx context.Context, doctorID uuid.UUID, date Date) ([]AvailabilitySlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slotsLocked(doctorID, date), nil
}

func (m *MemoryStore) ListUpcomingSlots(ctx context.Context, doctorID uuid.UUID, from Date) ([]AvailabilitySlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []AvailabilitySlot
	for k := range m.slots {
		if k.doctorID != doctorID || k.date.Before(from) {
			continue
		}
		out = append(out, m.slotsLocked(doctorID, k.date)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (m *MemoryStore) UpdateDay(ctx context.Context, doctorID uuid.UUID, date Date, plan PlanFunc) (SlotChanges, error) {
	if err := ctx.Err(); err != nil {
		return SlotChanges{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	day := DayState{
		Slots:        m.slotsLocked(doctorID, date),
		Appointments: m.activeForDayLocked(doctorID, date),
	}
	changes, err := plan(day)
	if err != nil {
		return SlotChanges{}, err
	}

	key := dayKey{doctorID: doctorID, date: date}
	slots := m.slots[key]
	if slots == nil {
		slots = make(map[TimeOfDay]AvailabilitySlot)
		m.slots[key] = slots
	}
	for t, booked := range changes.SetBooked {
		if s, ok := slots[t]; ok {
			s.Booked = booked
			slots[t] = s
		}
	}
	for _, t := range changes.Remove {
		if s, ok := slots[t]; ok && !s.Booked {
			delete(slots, t)
		}
	}
	for _, s := range changes.Add {
		if _, ok := slots[s.StartTime]; !ok {
			slots[s.StartTime] = s
		}
	}
	if len(slots) == 0 {
		delete(m.slots, key)
	}
	return changes, nil
}

// DayReader

func (m *MemoryStore) ReadDay(ctx context.Context, doctorID uuid.UUID, date Date) (DayState, error) {
	if err := ctx.Err(); err != nil {
		return DayState{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return DayState{
		Slots:        m.slotsLocked(doctorID, date),
		Appointments: m.activeForDayLocked(doctorID, date),
	}, nil
}

// AppointmentLedger

func (m *MemoryStore) FindActiveByDoctor(ctx context.Context, doctorID uuid.UUID, date Date, t TimeOfDay) (*Appointment, error) {
	return m.findActive(ctx, m.byDoctor, timeKey{ownerID: doctorID, date: date, time: t})
}

func (m *MemoryStore) FindActiveByPatient(ctx context.Context, patientID uuid.UUID, date Date, t TimeOfDay) (*Appointment, error) {
	return m.findActive(ctx, m.byPatient, timeKey{ownerID: patientID, date: date, time: t})
}

func (m *MemoryStore) findActive(ctx context.Context, index map[timeKey]uuid.UUID, key timeKey) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := index[key]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a := m.appointments[id]
	return &a, nil
}

func (m *MemoryStore) CreateAppointment(ctx context.Context, a *Appointment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.doctors[a.DoctorID]; !ok {
		return ErrDoctorNotFound
	}
	if _, ok := m.patients[a.PatientID]; !ok {
		return ErrPatientNotFound
	}

	dk := timeKey{ownerID: a.DoctorID, date: a.Date, time: a.Time}
	pk := timeKey{ownerID: a.PatientID, date: a.Date, time: a.Time}
	if _, taken := m.byDoctor[dk]; taken {
		return ErrDoctorSlotConflict
	}
	if _, taken := m.byPatient[pk]; taken {
		return ErrPatientSlotConflict
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusBooked
	}
	now := m.now()
	a.CreatedAt, a.UpdatedAt = now, now

	m.appointments[a.ID] = *a
	m.byDoctor[dk] = a.ID
	m.byPatient[pk] = a.ID
	m.setSlotBookedLocked(a.DoctorID, a.Date, a.Time, true)
	return nil
}

func (m *MemoryStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	dk := timeKey{ownerID: a.DoctorID, date: a.Date, time: a.Time}
	pk := timeKey{ownerID: a.PatientID, date: a.Date, time: a.Time}

	if to.Active() && !from.Active() {
		if _, taken := m.byDoctor[dk]; taken {
			return nil, ErrDoctorSlotConflict
		}
		if _, taken := m.byPatient[pk]; taken {
			return nil, ErrPatientSlotConflict
		}
		m.byDoctor[dk] = a.ID
		m.byPatient[pk] = a.ID
	}
	if !to.Active() && from.Active() {
		delete(m.byDoctor, dk)
		delete(m.byPatient, pk)
	}

	a.Status = to
	a.UpdatedAt = m.now()
	m.appointments[id] = a
	m.setSlotBookedLocked(a.DoctorID, a.Date, a.Time, to.Active())
	return &a, nil
}

func (m *MemoryStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryStore) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return m.listWhere(ctx, limit, offset, func(a Appointment) bool { return a.DoctorID == doctorID })
}

func (m *MemoryStore) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return m.listWhere(ctx, limit, offset, func(a Appointment) bool { return a.PatientID == patientID })
}

// listWhere returns matches newest first, like the Postgres store.
func (m *MemoryStore) listWhere(ctx context.Context, limit, offset int, match func(Appointment) bool) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Appointment
	for _, a := range m.appointments {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[j].Date.Before(out[i].Date)
		}
		return out[i].Time > out[j].Time
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListAppointmentsForDate(ctx context.Context, date Date, status AppointmentStatus) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Appointment
	for _, a := range m.appointments {
		if a.Date == date && a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (m *MemoryStore) DoctorReports(ctx context.Context, since Date) ([]DoctorReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	byDoctor := make(map[uuid.UUID]*DoctorReport, len(m.doctors))
	for id, d := range m.doctors {
		byDoctor[id] = &DoctorReport{DoctorID: id, DoctorName: d.Name}
	}
	for _, a := range m.appointments {
		r, ok := byDoctor[a.DoctorID]
		if !ok || a.Date.Before(since) {
			continue
		}
		r.Total++
		switch a.Status {
		case StatusCompleted:
			r.Completed++
		case StatusCancelled:
			r.Cancelled++
		case StatusBooked:
		}
	}

	out := make([]DoctorReport, 0, len(byDoctor))
	for _, r := range byDoctor {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DoctorName < out[j].DoctorName })
	return out, nil
}

func (m *MemoryStore) InsertEvent(ctx context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = int64(len(m.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.now()
	}
	m.events = append(m.events, ev)
	return nil
}

// helpers, callers hold m.mu

func (m *MemoryStore) slotsLocked(doctorID uuid.UUID, date Date) []AvailabilitySlot {
	day := m.slots[dayKey{doctorID: doctorID, date: date}]
	out := make([]AvailabilitySlot, 0, len(day))
	for _, s := range day {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func (m *MemoryStore) activeForDayLocked(doctorID uuid.UUID, date Date) []Appointment {
	var out []Appointment
	for k, id := range m.byDoctor {
		if k.ownerID == doctorID && k.date == date {
			out = append(out, m.appointments[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

func (m *MemoryStore) setSlotBookedLocked(doctorID uuid.UUID, date Date, t TimeOfDay, booked bool) {
	day := m.slots[dayKey{doctorID: doctorID, date: date}]
	if s, ok := day[t]; ok {
		s.Booked = booked
		day[t] = s
	}
}
