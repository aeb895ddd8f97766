package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Jobs is the part of the scheduling service the worker drives.
type Jobs interface {
	Now() time.Time
	SendDailyReminders(ctx context.Context) (int, error)
	SendMonthlyReports(ctx context.Context) (int, error)
}

// Runner sends reminders once per clinic day and reports on the first day of
// each month. State is in memory, so a restart on the same day resends.
type Runner struct {
	jobs    Jobs
	timeout time.Duration
	log     zerolog.Logger

	lastReminder string // YYYY-MM-DD
	lastReport   string // YYYY-MM
}

func NewRunner(jobs Jobs, timeout time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		jobs:    jobs,
		timeout: timeout,
		log:     log.With().Str("component", "notify_worker").Logger(),
	}
}

// Run ticks once immediately and then every interval until ctx is done.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	r.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("shutdown signal received, stopping notify worker")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

func (r *Runner) RunOnce(ctx context.Context) {
	now := r.jobs.Now()

	if day := now.Format("2006-01-02"); day != r.lastReminder {
		if r.run(ctx, "daily reminders", r.jobs.SendDailyReminders) {
			r.lastReminder = day
		}
	}

	if month := now.Format("2006-01"); now.Day() == 1 && month != r.lastReport {
		if r.run(ctx, "monthly reports", r.jobs.SendMonthlyReports) {
			r.lastReport = month
		}
	}
}

func (r *Runner) run(ctx context.Context, name string, job func(context.Context) (int, error)) bool {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	sent, err := job(runCtx)
	if err != nil {
		r.log.Error().Err(err).Str("job", name).Msg("job failed")
		return false
	}
	r.log.Info().
		Str("job", name).
		Int("sent", sent).
		Dur("took", time.Since(start)).
		Msg("job complete")
	return true
}
