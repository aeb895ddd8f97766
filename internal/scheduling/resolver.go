package scheduling

import (
	"context"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/clock"
)

// DaySlots is the resolved, ordered list of bookable times for one doctor-day.
type DaySlots struct {
	DoctorID uuid.UUID
	Date     Date
	// Declared is false when the default working-day grid was used.
	Declared bool
	slots    []SlotView
}

// All yields the slots in ascending time order. It can be ranged over any number of times.
func (d DaySlots) All() iter.Seq[SlotView] {
	return func(yield func(SlotView) bool) {
		for _, s := range d.slots {
			if !yield(s) {
				return
			}
		}
	}
}

func (d DaySlots) Len() int {
	return len(d.slots)
}

// Resolver derives bookable times from declared availability, the ledger and the clock.
type Resolver struct {
	days    DayReader
	clock   clock.Clock
	timeout time.Duration
}

func NewResolver(days DayReader, clk clock.Clock, timeout time.Duration) *Resolver {
	return &Resolver{days: days, clock: clk, timeout: timeout}
}

// Resolve is read-only and safe to retry on ErrStoreUnavailable.
func (r *Resolver) Resolve(ctx context.Context, doctorID uuid.UUID, date Date) (DaySlots, error) {
	storeCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	day, err := r.days.ReadDay(storeCtx, doctorID, date)
	if err != nil {
		return DaySlots{}, storeErr("read day", err)
	}

	return resolveDay(doctorID, date, day, r.clock.Now()), nil
}

func resolveDay(doctorID uuid.UUID, date Date, day DayState, now time.Time) DaySlots {
	out := DaySlots{DoctorID: doctorID, Date: date, Declared: len(day.Slots) > 0}

	var candidates []TimeOfDay
	if out.Declared {
		for _, s := range day.Slots {
			candidates = append(candidates, s.StartTime)
		}
	} else {
		candidates = defaultGrid()
	}
	slices.Sort(candidates)
	candidates = slices.Compact(candidates)

	// Recomputed from the ledger; the slots' cached booked flag is not consulted.
	occupied := day.Occupied()

	cutoff := TimeOfDay(-1)
	if DateOf(now) == date {
		cutoff = TimeOfDayOf(now)
	}

	out.slots = make([]SlotView, 0, len(candidates))
	for _, t := range candidates {
		if t <= cutoff {
			continue
		}
		out.slots = append(out.slots, SlotView{Time: t, Available: !occupied[t]})
	}
	return out
}

func defaultGrid() []TimeOfDay {
	var grid []TimeOfDay
	for t := DefaultDayStart; t < DefaultDayEnd; t += TimeOfDay(SlotDuration / time.Minute) {
		grid = append(grid, t)
	}
	return grid
}
