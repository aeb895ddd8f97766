package scheduling

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// ReconcileResult describes what one Reconcile call changed.
type ReconcileResult struct {
	DoctorID uuid.UUID
	Date     Date
	Created  []TimeOfDay
	Removed  []TimeOfDay
	// Retained lists booked slots kept although the request no longer declares them.
	Retained []TimeOfDay
	// Dropped lists request entries that were not valid HH:MM times.
	Dropped []string
}

// Reconciler replaces a doctor's declared availability for one date without
// ever removing a booked slot.
type Reconciler struct {
	store   AvailabilityStore
	locker  redisclient.Locker
	timeout time.Duration
	log     zerolog.Logger
}

func NewReconciler(store AvailabilityStore, locker redisclient.Locker, timeout time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		locker:  locker,
		timeout: timeout,
		log:     log.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile makes requested the complete set of free slot starts for (doctorID, date).
// It is declarative and idempotent, so callers may retry it on ErrStoreUnavailable.
func (r *Reconciler) Reconcile(ctx context.Context, doctorID uuid.UUID, date Date, requested []string) (*ReconcileResult, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}

	wanted, dropped := parseStartTimes(requested)
	if len(dropped) > 0 {
		r.log.Warn().
			Str("doctor_id", doctorID.String()).
			Str("date", date.String()).
			Strs("dropped", dropped).
			Msg("ignoring invalid slot times")
	}

	var (
		result *ReconcileResult
		locked bool
	)

	key := fmt.Sprintf("availability:%s:%s", doctorID, date)
	err := r.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		locked = true
		storeCtx, cancel := withTimeout(lockCtx, r.timeout)
		defer cancel()

		_, err := r.store.UpdateDay(storeCtx, doctorID, date, func(day DayState) (SlotChanges, error) {
			changes, res := planReconcile(doctorID, date, wanted, day)
			res.Dropped = dropped
			result = res
			return changes, nil
		})
		return err
	})
	if err != nil {
		// Any failure before the critical section ran is a lock backend problem.
		if !locked || errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, unavailable("reconcile availability", err)
		}
		return nil, storeErr("reconcile availability", err)
	}

	r.log.Info().
		Str("doctor_id", doctorID.String()).
		Str("date", date.String()).
		Int("created", len(result.Created)).
		Int("removed", len(result.Removed)).
		Int("retained", len(result.Retained)).
		Msg("availability reconciled")

	return result, nil
}

// parseStartTimes returns the unique valid times in ascending order and the
// raw entries that failed to parse.
func parseStartTimes(raw []string) ([]TimeOfDay, []string) {
	seen := make(map[TimeOfDay]bool, len(raw))
	var (
		times   []TimeOfDay
		dropped []string
	)
	for _, s := range raw {
		t, err := ParseTimeOfDay(s)
		if err != nil {
			dropped = append(dropped, s)
			continue
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		times = append(times, t)
	}
	slices.Sort(times)
	return times, dropped
}

func planReconcile(doctorID uuid.UUID, date Date, wanted []TimeOfDay, day DayState) (SlotChanges, *ReconcileResult) {
	res := &ReconcileResult{DoctorID: doctorID, Date: date}
	changes := SlotChanges{SetBooked: make(map[TimeOfDay]bool)}

	wantedSet := make(map[TimeOfDay]bool, len(wanted))
	for _, t := range wanted {
		wantedSet[t] = true
	}

	// The ledger decides occupancy; the cached flag only gets repaired here.
	occupied := day.Occupied()
	existing := make(map[TimeOfDay]bool, len(day.Slots))

	for _, slot := range day.Slots {
		existing[slot.StartTime] = true

		booked := occupied[slot.StartTime]
		if booked != slot.Booked {
			changes.SetBooked[slot.StartTime] = booked
		}

		if wantedSet[slot.StartTime] {
			continue
		}
		if booked {
			res.Retained = append(res.Retained, slot.StartTime)
			continue
		}
		changes.Remove = append(changes.Remove, slot.StartTime)
		res.Removed = append(res.Removed, slot.StartTime)
	}

	for _, t := range wanted {
		if existing[t] {
			continue
		}
		slot := NewSlot(doctorID, date, t)
		slot.Booked = occupied[t]
		changes.Add = append(changes.Add, slot)
		res.Created = append(res.Created, t)
	}

	slices.Sort(changes.Remove)
	slices.Sort(res.Removed)
	slices.Sort(res.Retained)

	return changes, res
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
