package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// 2025-03-10 10:30 UTC
var testNow = time.Date(2025, time.March, 10, 10, 30, 0, 0, time.UTC)

var (
	today    = DateOf(testNow)
	tomorrow = today.AddDays(1)
)

type fixture struct {
	store   *MemoryStore
	pub     *notify.Recorder
	locker  *redisclient.LocalLocker
	clock   clock.Clock
	svc     *Service
	doctor  Doctor
	patient Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := NewMemoryStore()
	store.now = func() time.Time { return testNow }

	f := &fixture{
		store:   store,
		pub:     &notify.Recorder{},
		locker:  redisclient.NewLocalLocker(),
		clock:   clock.Fixed(testNow),
		doctor:  Doctor{ID: uuid.New(), Name: "Dr. Meera Rao"},
		patient: Patient{ID: uuid.New(), Name: "Arjun Patel"},
	}
	store.AddDoctor(f.doctor)
	store.AddPatient(f.patient)

	cfg := config.Config{StoreTimeout: time.Second}
	f.svc = NewService(store, f.locker, f.pub, f.clock, cfg, zerolog.Nop())
	return f
}

func (f *fixture) addPatient(name string) Patient {
	p := Patient{ID: uuid.New(), Name: name}
	f.store.AddPatient(p)
	return p
}

func (f *fixture) addDoctor(name string) Doctor {
	d := Doctor{ID: uuid.New(), Name: name}
	f.store.AddDoctor(d)
	return d
}

// declare writes slots directly, bypassing reconciliation.
func (f *fixture) declare(t *testing.T, doctorID uuid.UUID, date Date, slots ...AvailabilitySlot) {
	t.Helper()
	_, err := f.store.UpdateDay(context.Background(), doctorID, date, func(DayState) (SlotChanges, error) {
		return SlotChanges{Add: slots}, nil
	})
	require.NoError(t, err)
}

// seedAppointment inserts straight into the ledger, ignoring the clock.
func (f *fixture) seedAppointment(t *testing.T, patientID, doctorID uuid.UUID, date Date, at TimeOfDay) *Appointment {
	t.Helper()
	a := &Appointment{PatientID: patientID, DoctorID: doctorID, Date: date, Time: at, Status: StatusBooked}
	require.NoError(t, f.store.CreateAppointment(context.Background(), a))
	return a
}

func hm(hour, minute int) TimeOfDay {
	return NewTimeOfDay(hour, minute)
}

func slotTimes(slots []AvailabilitySlot) []TimeOfDay {
	out := make([]TimeOfDay, len(slots))
	for i, s := range slots {
		out[i] = s.StartTime
	}
	return out
}

func views(d DaySlots) []SlotView {
	var out []SlotView
	for v := range d.All() {
		out = append(out, v)
	}
	return out
}
