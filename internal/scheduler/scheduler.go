// Package scheduler provides scheduling logic for CoachPipe.
//
// It runs recurring maintenance jobs (such as pausing stale threads)
// using cron expressions.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coachpipe/coachpipe/internal/store"
)

// DefaultStaleThreadWindow is how long a thread may sit idle before the
// sweep pauses it.
const DefaultStaleThreadWindow = 24 * time.Hour

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// StaleThreadSweep returns a job that pauses threads idle longer than
// idleFor.
func StaleThreadSweep(st store.Store, idleFor time.Duration) func() {
	if idleFor <= 0 {
		idleFor = DefaultStaleThreadWindow
	}
	return func() {
		n, err := st.PauseStaleThreads(idleFor)
		if err != nil {
			slog.Error("scheduler.StaleThreadSweep: sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("scheduler.StaleThreadSweep: threads paused", "count", n, "idleFor", idleFor)
		}
	}
}
