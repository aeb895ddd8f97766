package scheduling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_BookEmitsEvent(t *testing.T) {
	f := newFixture(t)

	appt, err := f.svc.Book(context.Background(), bookingFor(f, "2025-03-11", "10:00"))
	require.NoError(t, err)

	assert.Equal(t, []string{EventAppointmentBooked}, f.pub.Keys())

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentBooked, events[0].EventType)
	require.NotNil(t, events[0].AppointmentID)
	assert.Equal(t, appt.ID, *events[0].AppointmentID)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "2025-03-11", payload["date"])
	assert.Equal(t, "10:00", payload["time"])
	assert.Equal(t, "BOOKED", payload["status"])
}

func TestService_FailedBookEmitsNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), bookingFor(f, "2025-03-09", "10:00"))
	require.ErrorIs(t, err, ErrPastDateRejected)
	assert.Empty(t, f.pub.Keys())
	assert.Empty(t, f.store.Events())
}

func TestService_ReconcileEmitsEvent(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Reconcile(context.Background(), f.doctor.ID, tomorrow, []string{"09:00"})
	require.NoError(t, err)
	assert.Len(t, res.Created, 1)
	assert.Equal(t, []string{EventAvailabilityUpdated}, f.pub.Keys())
}

func TestService_CancelFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Reconcile(ctx, f.doctor.ID, tomorrow, []string{"10:00"})
	require.NoError(t, err)

	appt, err := f.svc.Book(ctx, bookingFor(f, "2025-03-11", "10:00"))
	require.NoError(t, err)

	cancelled, err := f.svc.UpdateStatus(ctx, appt.ID, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	slots, err := f.store.ListSlots(ctx, f.doctor.ID, tomorrow)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.False(t, slots[0].Booked)

	day, err := f.svc.Resolve(ctx, f.doctor.ID, tomorrow)
	require.NoError(t, err)
	assert.Equal(t, []SlotView{{Time: hm(10, 0), Available: true}}, views(day))

	other := f.addPatient("Kavya Iyer")
	req := bookingFor(f, "2025-03-11", "10:00")
	req.PatientID = other.ID
	_, err = f.svc.Book(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, []string{
		EventAvailabilityUpdated,
		EventAppointmentBooked,
		EventAppointmentCancelled,
		EventAppointmentBooked,
	}, f.pub.Keys())
}

func TestService_UpdateStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		steps   []AppointmentStatus
		wantErr error
	}{
		{name: "complete", steps: []AppointmentStatus{StatusCompleted}},
		{name: "cancel", steps: []AppointmentStatus{StatusCancelled}},
		{name: "same status is a no-op", steps: []AppointmentStatus{StatusBooked}},
		{name: "cancel completed", steps: []AppointmentStatus{StatusCompleted, StatusCancelled}, wantErr: ErrInvalidStatusTransition},
		{name: "reopen cancelled", steps: []AppointmentStatus{StatusCancelled, StatusBooked}, wantErr: ErrInvalidStatusTransition},
		{name: "complete cancelled", steps: []AppointmentStatus{StatusCancelled, StatusCompleted}, wantErr: ErrInvalidStatusTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			appt, err := f.svc.Book(ctx, bookingFor(f, "2025-03-11", "10:00"))
			require.NoError(t, err)

			for i, to := range tt.steps {
				_, err = f.svc.UpdateStatus(ctx, appt.ID, to)
				if i < len(tt.steps)-1 {
					require.NoError(t, err)
				}
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			got, err := f.svc.GetAppointment(ctx, appt.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.steps[len(tt.steps)-1], got.Status)
		})
	}
}

func TestService_CompletedKeepsSlotBooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Reconcile(ctx, f.doctor.ID, tomorrow, []string{"10:00"})
	require.NoError(t, err)
	appt, err := f.svc.Book(ctx, bookingFor(f, "2025-03-11", "10:00"))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, appt.ID, StatusCompleted)
	require.NoError(t, err)

	res, err := f.svc.Reconcile(ctx, f.doctor.ID, tomorrow, nil)
	require.NoError(t, err)
	assert.Equal(t, []TimeOfDay{hm(10, 0)}, res.Retained)
}

func TestService_UpdateStatusUnknownAppointment(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpdateStatus(context.Background(), uuid.New(), StatusCancelled)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListAppointmentsPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for h := 9; h < 14; h++ {
		f.seedAppointment(t, f.patient.ID, f.doctor.ID, tomorrow, hm(h, 0))
	}

	page, err := f.svc.ListAppointmentsByPatient(ctx, f.patient.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, hm(13, 0), page[0].Time, "newest first")

	page, err = f.svc.ListAppointmentsByDoctor(ctx, f.doctor.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, hm(9, 0), page[0].Time)

	page, err = f.svc.ListAppointmentsByDoctor(ctx, uuid.New(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 20, 0},
		{-5, -1, 20, 0},
		{50, 10, 50, 10},
		{500, 0, 100, 0},
	}
	for _, tt := range tests {
		l, o := clampPage(tt.limit, tt.offset)
		assert.Equal(t, tt.wantLimit, l)
		assert.Equal(t, tt.wantOffset, o)
	}
}

func TestService_UpcomingAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	yesterday := today.AddDays(-1)
	f.declare(t, f.doctor.ID, yesterday, NewSlot(f.doctor.ID, yesterday, hm(9, 0)))
	f.declare(t, f.doctor.ID, tomorrow, NewSlot(f.doctor.ID, tomorrow, hm(15, 0)))
	f.declare(t, f.doctor.ID, today, NewSlot(f.doctor.ID, today, hm(16, 0)))

	slots, err := f.svc.UpcomingAvailability(ctx, f.doctor.ID)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, today, slots[0].Date)
	assert.Equal(t, tomorrow, slots[1].Date)
}

func TestService_SendDailyReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.addPatient("Kavya Iyer")

	f.seedAppointment(t, f.patient.ID, f.doctor.ID, today, hm(12, 0))
	f.seedAppointment(t, other.ID, f.doctor.ID, today, hm(14, 0))
	cancelled := f.seedAppointment(t, other.ID, f.doctor.ID, today, hm(15, 0))
	_, err := f.store.UpdateAppointmentStatus(ctx, cancelled.ID, StatusBooked, StatusCancelled)
	require.NoError(t, err)
	f.seedAppointment(t, f.patient.ID, f.doctor.ID, tomorrow, hm(12, 0))

	sent, err := f.svc.SendDailyReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	require.Len(t, f.pub.Events, 2)

	payload, ok := f.pub.Events[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, EventAppointmentReminder, f.pub.Events[0].RoutingKey)
	assert.Equal(t, "12:00", payload["time"])
	assert.Equal(t, f.doctor.Name, payload["doctor_name"])
	assert.Equal(t, f.patient.Name, payload["patient_name"])
}

func TestService_SendMonthlyReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	idle := f.addDoctor("Dr. Aditi Verma")

	jan := Date{Year: 2025, Month: time.January, Day: 31}
	feb := Date{Year: 2025, Month: time.February, Day: 15}
	f.seedAppointment(t, f.patient.ID, f.doctor.ID, jan, hm(9, 0))
	done := f.seedAppointment(t, f.patient.ID, f.doctor.ID, feb, hm(9, 0))
	_, err := f.store.UpdateAppointmentStatus(ctx, done.ID, StatusBooked, StatusCompleted)
	require.NoError(t, err)
	gone := f.seedAppointment(t, f.patient.ID, f.doctor.ID, tomorrow, hm(9, 0))
	_, err = f.store.UpdateAppointmentStatus(ctx, gone.ID, StatusBooked, StatusCancelled)
	require.NoError(t, err)
	f.seedAppointment(t, f.patient.ID, f.doctor.ID, tomorrow, hm(10, 0))

	sent, err := f.svc.SendMonthlyReports(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	reports := map[string]map[string]any{}
	for _, e := range f.pub.Events {
		assert.Equal(t, EventDoctorMonthlyReport, e.RoutingKey)
		p := e.Payload.(map[string]any)
		reports[p["doctor_id"].(string)] = p
	}

	mine := reports[f.doctor.ID.String()]
	assert.Equal(t, "2025-02-01", mine["since"])
	assert.Equal(t, 3, mine["total"])
	assert.Equal(t, 1, mine["completed"])
	assert.Equal(t, 1, mine["cancelled"])

	assert.Equal(t, 0, reports[idle.ID.String()]["total"])
}

func TestStartOfPreviousMonth(t *testing.T) {
	assert.Equal(t, Date{Year: 2025, Month: time.February, Day: 1}, startOfPreviousMonth(today))
	assert.Equal(t, Date{Year: 2024, Month: time.December, Day: 1},
		startOfPreviousMonth(Date{Year: 2025, Month: time.January, Day: 20}))
}
