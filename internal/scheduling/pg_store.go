package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Partial unique indexes over non-cancelled appointments, see migrations.
const (
	doctorActiveIndex  = "appointments_doctor_active_uq"
	patientActiveIndex = "appointments_patient_active_uq"
)

const (
	slotCols = `doctor_id, date, start_time, end_time, booked`
	apptCols = `id, patient_id, doctor_id, date, time, status, COALESCE(reason, ''), created_at, updated_at`
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

const microsPerMinute = int64(time.Minute / time.Microsecond)

func pgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * microsPerMinute, Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / microsPerMinute)
}

func scanSlot(row pgx.Row) (AvailabilitySlot, error) {
	var (
		s          AvailabilitySlot
		date       time.Time
		start, end pgtype.Time
	)
	if err := row.Scan(&s.DoctorID, &date, &start, &end, &s.Booked); err != nil {
		return AvailabilitySlot{}, err
	}
	s.Date = DateOf(date)
	s.StartTime = fromPgTime(start)
	s.EndTime = fromPgTime(end)
	return s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a    Appointment
		date time.Time
		at   pgtype.Time
	)
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&date,
		&at,
		&a.Status,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.Date = DateOf(date)
	a.Time = fromPgTime(at)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectSlots(rows pgx.Rows) ([]AvailabilitySlot, error) {
	defer rows.Close()

	var result []AvailabilitySlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// mapPgErr translates driver failures into the package's error kinds.
func mapPgErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			switch pgErr.ConstraintName {
			case doctorActiveIndex:
				return ErrDoctorSlotConflict
			case patientActiveIndex:
				return ErrPatientSlotConflict
			}
		case "23503": // foreign_key_violation
			switch {
			case strings.Contains(pgErr.ConstraintName, "patient"):
				return ErrPatientNotFound
			case strings.Contains(pgErr.ConstraintName, "doctor"):
				return ErrDoctorNotFound
			}
		case "40001", "40P01", "55P03", "57014", "57P01":
			// serialization failure, deadlock, lock timeout, statement timeout, admin shutdown
			return unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func advisoryLock(ctx context.Context, tx pgx.Tx, key string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	return err
}

// Directory

func (s *PgStore) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, department_id, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.DepartmentID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, mapPgErr("get doctor", err)
	}
	return &d, nil
}

func (s *PgStore) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, mapPgErr("get patient", err)
	}
	return &p, nil
}

// AvailabilityStore

func (s *PgStore) ListSlots(ctx context.Context, doctorID uuid.UUID, date Date) ([]AvailabilitySlot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotCols+`
		FROM availability_slots
		WHERE doctor_id = $1 AND date = $2
		ORDER BY start_time
	`, doctorID, date.Time())
	if err != nil {
		return nil, mapPgErr("list slots", err)
	}
	slots, err := collectSlots(rows)
	return slots, mapPgErr("list slots", err)
}

func (s *PgStore) ListUpcomingSlots(ctx context.Context, doctorID uuid.UUID, from Date) ([]AvailabilitySlot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotCols+`
		FROM availability_slots
		WHERE doctor_id = $1 AND date >= $2
		ORDER BY date, start_time
	`, doctorID, from.Time())
	if err != nil {
		return nil, mapPgErr("list upcoming slots", err)
	}
	slots, err := collectSlots(rows)
	return slots, mapPgErr("list upcoming slots", err)
}

// UpdateDay serialises writers of one doctor-day with a transaction-scoped
// advisory lock, then locks the existing rows before planning.
func (s *PgStore) UpdateDay(ctx context.Context, doctorID uuid.UUID, date Date, plan PlanFunc) (SlotChanges, error) {
	var changes SlotChanges

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := advisoryLock(ctx, tx, fmt.Sprintf("availability:%s:%s", doctorID, date)); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			SELECT `+slotCols+`
			FROM availability_slots
			WHERE doctor_id = $1 AND date = $2
			ORDER BY start_time
			FOR UPDATE
		`, doctorID, date.Time())
		if err != nil {
			return err
		}
		slots, err := collectSlots(rows)
		if err != nil {
			return err
		}

		appts, err := activeForDay(ctx, tx, doctorID, date)
		if err != nil {
			return err
		}

		changes, err = plan(DayState{Slots: slots, Appointments: appts})
		if err != nil {
			return err
		}
		if changes.Empty() {
			return nil
		}

		batch := &pgx.Batch{}
		for t, booked := range changes.SetBooked {
			batch.Queue(`
				UPDATE availability_slots
				SET booked = $4, updated_at = now()
				WHERE doctor_id = $1 AND date = $2 AND start_time = $3
			`, doctorID, date.Time(), pgTime(t), booked)
		}
		for _, t := range changes.Remove {
			batch.Queue(`
				DELETE FROM availability_slots
				WHERE doctor_id = $1 AND date = $2 AND start_time = $3 AND booked = false
			`, doctorID, date.Time(), pgTime(t))
		}
		for _, slot := range changes.Add {
			batch.Queue(`
				INSERT INTO availability_slots (doctor_id, date, start_time, end_time, booked)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (doctor_id, date, start_time) DO NOTHING
			`, doctorID, date.Time(), pgTime(slot.StartTime), pgTime(slot.EndTime), slot.Booked)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return SlotChanges{}, mapPgErr("update day", err)
	}
	return changes, nil
}

func activeForDay(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, doctorID uuid.UUID, date Date) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND status <> 'CANCELLED'
		ORDER BY time
	`, doctorID, date.Time())
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// DayReader

// ReadDay reads slots and appointments inside one REPEATABLE READ snapshot.
func (s *PgStore) ReadDay(ctx context.Context, doctorID uuid.UUID, date Date) (DayState, error) {
	var day DayState

	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+slotCols+`
			FROM availability_slots
			WHERE doctor_id = $1 AND date = $2
			ORDER BY start_time
		`, doctorID, date.Time())
		if err != nil {
			return err
		}
		if day.Slots, err = collectSlots(rows); err != nil {
			return err
		}
		day.Appointments, err = activeForDay(ctx, tx, doctorID, date)
		return err
	})
	if err != nil {
		return DayState{}, mapPgErr("read day", err)
	}
	return day, nil
}

// AppointmentLedger

func (s *PgStore) FindActiveByDoctor(ctx context.Context, doctorID uuid.UUID, date Date, t TimeOfDay) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND time = $3 AND status <> 'CANCELLED'
	`, doctorID, date.Time(), pgTime(t))
	a, err := scanAppointment(row)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return nil, mapPgErr("find doctor appointment", err)
	}
	return a, err
}

func (s *PgStore) FindActiveByPatient(ctx context.Context, patientID uuid.UUID, date Date, t TimeOfDay) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE patient_id = $1 AND date = $2 AND time = $3 AND status <> 'CANCELLED'
	`, patientID, date.Time(), pgTime(t))
	a, err := scanAppointment(row)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return nil, mapPgErr("find patient appointment", err)
	}
	return a, err
}

// CreateAppointment re-checks both keys under a per-slot advisory lock, inserts,
// and marks the declared slot booked. The partial unique indexes still reject a
// racing patient booking another doctor at the same time.
func (s *PgStore) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusBooked
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := advisoryLock(ctx, tx, fmt.Sprintf("slot:%s:%s:%s", a.DoctorID, a.Date, a.Time)); err != nil {
			return err
		}

		// Lock the declared slot row first so a concurrent reconcile either
		// sees this appointment or has already finished with the row.
		_, err := tx.Exec(ctx, `
			SELECT 1 FROM availability_slots
			WHERE doctor_id = $1 AND date = $2 AND start_time = $3
			FOR UPDATE
		`, a.DoctorID, a.Date.Time(), pgTime(a.Time))
		if err != nil {
			return err
		}

		var doctorTaken bool
		err = tx.QueryRow(ctx, `
			SELECT doctor_id = $1
			FROM appointments
			WHERE date = $3 AND time = $4 AND status <> 'CANCELLED'
			  AND (doctor_id = $1 OR patient_id = $2)
			ORDER BY doctor_id = $1 DESC
			LIMIT 1
		`, a.DoctorID, a.PatientID, a.Date.Time(), pgTime(a.Time)).Scan(&doctorTaken)
		switch {
		case err == nil && doctorTaken:
			return ErrDoctorSlotConflict
		case err == nil:
			return ErrPatientSlotConflict
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO appointments (id, patient_id, doctor_id, date, time, status, reason, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), now(), now())
			RETURNING created_at, updated_at
		`, a.ID, a.PatientID, a.DoctorID, a.Date.Time(), pgTime(a.Time), a.Status, a.Reason).
			Scan(&a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE availability_slots
			SET booked = true, updated_at = now()
			WHERE doctor_id = $1 AND date = $2 AND start_time = $3
		`, a.DoctorID, a.Date.Time(), pgTime(a.Time))
		return err
	})
	return mapPgErr("create appointment", err)
}

func (s *PgStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	var updated *Appointment

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2,
			    updated_at = now()
			WHERE id = $1
			  AND status = $3
			RETURNING `+apptCols+`
		`, id, to, from)
		a, err := scanAppointment(row)
		if err != nil {
			return err
		}
		updated = a

		// the cached flag follows the ledger
		_, err = tx.Exec(ctx, `
			UPDATE availability_slots
			SET booked = EXISTS (
			        SELECT 1 FROM appointments
			        WHERE doctor_id = $1 AND date = $2 AND time = $3 AND status <> 'CANCELLED'
			    ),
			    updated_at = now()
			WHERE doctor_id = $1 AND date = $2 AND start_time = $3
		`, a.DoctorID, a.Date.Time(), pgTime(a.Time))
		return err
	})
	if err != nil {
		return nil, mapPgErr("update appointment status", err)
	}
	return updated, nil
}

func (s *PgStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	a, err := scanAppointment(row)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return nil, mapPgErr("get appointment", err)
	}
	return a, err
}

func (s *PgStore) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY date DESC, time DESC
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, mapPgErr("list appointments by doctor", err)
	}
	appts, err := collectAppointments(rows)
	return appts, mapPgErr("list appointments by doctor", err)
}

func (s *PgStore) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, mapPgErr("list appointments by patient", err)
	}
	appts, err := collectAppointments(rows)
	return appts, mapPgErr("list appointments by patient", err)
}

func (s *PgStore) ListAppointmentsForDate(ctx context.Context, date Date, status AppointmentStatus) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE date = $1 AND status = $2
		ORDER BY time
	`, date.Time(), status)
	if err != nil {
		return nil, mapPgErr("list appointments for date", err)
	}
	appts, err := collectAppointments(rows)
	return appts, mapPgErr("list appointments for date", err)
}

func (s *PgStore) DoctorReports(ctx context.Context, since Date) ([]DoctorReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.name,
		       COUNT(a.id),
		       COUNT(a.id) FILTER (WHERE a.status = 'COMPLETED'),
		       COUNT(a.id) FILTER (WHERE a.status = 'CANCELLED')
		FROM doctors d
		LEFT JOIN appointments a ON a.doctor_id = d.id AND a.date >= $1
		GROUP BY d.id, d.name
		ORDER BY d.name
	`, since.Time())
	if err != nil {
		return nil, mapPgErr("doctor reports", err)
	}
	defer rows.Close()

	var reports []DoctorReport
	for rows.Next() {
		var r DoctorReport
		if err := rows.Scan(&r.DoctorID, &r.DoctorName, &r.Total, &r.Completed, &r.Cancelled); err != nil {
			return nil, mapPgErr("doctor reports", err)
		}
		reports = append(reports, r)
	}
	return reports, mapPgErr("doctor reports", rows.Err())
}

func (s *PgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
