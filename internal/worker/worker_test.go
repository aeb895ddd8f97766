package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeJobs struct {
	now       time.Time
	reminders int
	reports   int
	fail      bool
}

func (f *fakeJobs) Now() time.Time { return f.now }

func (f *fakeJobs) SendDailyReminders(context.Context) (int, error) {
	if f.fail {
		return 0, errors.New("store down")
	}
	f.reminders++
	return 1, nil
}

func (f *fakeJobs) SendMonthlyReports(context.Context) (int, error) {
	if f.fail {
		return 0, errors.New("store down")
	}
	f.reports++
	return 1, nil
}

func TestRunner_RemindersOncePerDay(t *testing.T) {
	jobs := &fakeJobs{now: time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)}
	r := NewRunner(jobs, time.Second, zerolog.Nop())
	ctx := context.Background()

	r.RunOnce(ctx)
	r.RunOnce(ctx)
	assert.Equal(t, 1, jobs.reminders)
	assert.Equal(t, 0, jobs.reports)

	jobs.now = jobs.now.AddDate(0, 0, 1)
	r.RunOnce(ctx)
	assert.Equal(t, 2, jobs.reminders)
}

func TestRunner_ReportsOnFirstOfMonth(t *testing.T) {
	jobs := &fakeJobs{now: time.Date(2025, time.April, 1, 6, 0, 0, 0, time.UTC)}
	r := NewRunner(jobs, time.Second, zerolog.Nop())
	ctx := context.Background()

	r.RunOnce(ctx)
	jobs.now = jobs.now.Add(3 * time.Hour)
	r.RunOnce(ctx)
	assert.Equal(t, 1, jobs.reports)

	jobs.now = time.Date(2025, time.May, 1, 6, 0, 0, 0, time.UTC)
	r.RunOnce(ctx)
	assert.Equal(t, 2, jobs.reports)
}

func TestRunner_RetriesAfterFailure(t *testing.T) {
	jobs := &fakeJobs{now: time.Date(2025, time.April, 1, 6, 0, 0, 0, time.UTC), fail: true}
	r := NewRunner(jobs, time.Second, zerolog.Nop())
	ctx := context.Background()

	r.RunOnce(ctx)
	assert.Equal(t, 0, jobs.reminders)

	jobs.fail = false
	r.RunOnce(ctx)
	assert.Equal(t, 1, jobs.reminders)
	assert.Equal(t, 1, jobs.reports)
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	jobs := &fakeJobs{now: time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)}
	r := NewRunner(jobs, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, 1, jobs.reminders)
}
