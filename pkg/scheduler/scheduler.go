// Package scheduler runs the agent's recurring jobs on one goroutine,
// soonest deadline first, so action cycles, reflection cycles, and
// fine-tuning checks never overlap.
package scheduler

import (
	"context"
	"time"

	"github.com/keplerlab/kepler/pkg/errors"
	"github.com/keplerlab/kepler/pkg/logging"
)

// Job is one recurring unit of work. Immediate jobs run once at startup
// before their first interval elapses.
type Job struct {
	Name      string
	Every     time.Duration
	Immediate bool
	Run       func(ctx context.Context) error
}

// Scheduler executes registered jobs strictly sequentially. A job's next
// deadline is set after it finishes, so a slow job delays its own cadence
// rather than stacking runs.
type Scheduler struct {
	jobs   []Job
	logger *logging.Logger
	clock  func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithClock overrides the time source used for deadlines.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: logging.GetLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers jobs. Validation happens in Run.
func (s *Scheduler) Add(jobs ...Job) {
	s.jobs = append(s.jobs, jobs...)
}

// Run executes the job loop until ctx is cancelled. Job errors are logged
// and the loop continues; only an empty or invalid job set is an error.
// The context passed to each job is the loop context, so work a job spawns
// in the background outlives the job's own tick.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return errors.New(errors.ValidationFailed, "no jobs scheduled")
	}
	for _, job := range s.jobs {
		if job.Run == nil {
			return errors.WithFields(
				errors.New(errors.ValidationFailed, "job has no run function"),
				errors.Fields{"job": job.Name})
		}
		if job.Every <= 0 {
			return errors.WithFields(
				errors.New(errors.ValidationFailed, "job interval must be positive"),
				errors.Fields{"job": job.Name, "every": job.Every})
		}
	}

	now := s.clock()
	deadlines := make([]time.Time, len(s.jobs))
	for i, job := range s.jobs {
		if job.Immediate {
			deadlines[i] = now
		} else {
			deadlines[i] = now.Add(job.Every)
		}
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		next := 0
		for i := 1; i < len(deadlines); i++ {
			if deadlines[i].Before(deadlines[next]) {
				next = i
			}
		}

		wait := deadlines[next].Sub(s.clock())
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.runJob(ctx, s.jobs[next])
		deadlines[next] = s.clock().Add(s.jobs[next].Every)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	s.logger.Debug(ctx, "running job: %s", job.Name)
	start := s.clock()
	if err := job.Run(ctx); err != nil {
		s.logger.Error(ctx, "job %s failed: %v", job.Name, err)
		return
	}
	s.logger.Debug(ctx, "job %s finished in %s", job.Name, s.clock().Sub(start).Round(time.Millisecond))
}
