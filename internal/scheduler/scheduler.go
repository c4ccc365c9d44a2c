// Package scheduler runs the daemon's housekeeping jobs on a wall-clock
// schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/energizer-project/lockstep/internal/util"
)

var logger = util.ComponentLogger("scheduler")

// Job is one housekeeping task.
type Job func(ctx context.Context) error

type entry struct {
	name string
	next func(now time.Time) time.Time
	job  Job
}

// Scheduler runs registered jobs until its context ends.
type Scheduler struct {
	mu   sync.Mutex
	jobs []entry
	now  func() time.Time
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{now: time.Now}
}

// Daily runs job every day at hh:mm local time.
func (s *Scheduler) Daily(name, at string, job Job) error {
	hour, minute, err := parseClock(at)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.add(entry{name: name, job: job, next: func(now time.Time) time.Time {
		return nextDaily(now, hour, minute)
	}})
	return nil
}

// Every runs job once per interval, starting one interval from now.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) {
	s.add(entry{name: name, job: job, next: func(now time.Time) time.Time {
		return now.Add(interval)
	}})
}

func (s *Scheduler) add(e entry) {
	s.mu.Lock()
	s.jobs = append(s.jobs, e)
	s.mu.Unlock()
}

// Start runs every job in its own goroutine and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]entry(nil), s.jobs...)
	s.mu.Unlock()

	logger.Info().Int("jobs", len(jobs)).Msg("scheduler started")

	var wg sync.WaitGroup
	for _, e := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, e)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	for {
		next := e.next(s.now())
		logger.Debug().Str("job", e.name).Time("next_run", next).Msg("job scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		start := s.now()
		if err := e.job(ctx); err != nil {
			logger.Warn().Err(err).Str("job", e.name).Msg("job failed")
			continue
		}
		logger.Info().Str("job", e.name).Dur("took", s.now().Sub(start)).Msg("job completed")
	}
}

func parseClock(at string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q", at)
	}
	return t.Hour(), t.Minute(), nil
}

// nextDaily returns the first hh:mm strictly after now.
func nextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
