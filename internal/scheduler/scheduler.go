package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// DefaultRunTimeout bounds a single run when a Job sets no Timeout.
const DefaultRunTimeout = 30 * time.Second

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs housekeeping jobs. Each job fires once at start and then on
// every interval; a run still in progress makes the next tick skip.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      []Job
	log       zerolog.Logger
}

// New creates a new Scheduler.
func New(log zerolog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		jobs:      jobs,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

// Start schedules every job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.jobs) == 0 {
		s.log.Info().Msg("no jobs configured; nothing to schedule")
		return nil
	}

	for _, job := range s.jobs {
		if job.Name == "" || job.Run == nil {
			return errors.New("scheduler: job needs a name and a run function")
		}
		if job.Interval <= 0 {
			return fmt.Errorf("scheduler: job %s: interval must be positive", job.Name)
		}
		job := job
		if _, err := s.scheduler.Every(job.Interval).SingletonMode().Tag(job.Name).Do(s.run, job); err != nil {
			return fmt.Errorf("scheduler: job %s: %w", job.Name, err)
		}
		s.log.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("job scheduled")
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) run(job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	started := time.Now()
	if err := job.Run(ctx); err != nil {
		s.log.Error().Err(err).Str("job", job.Name).Msg("job failed")
		return
	}
	s.log.Debug().Str("job", job.Name).Dur("took", time.Since(started)).Msg("job completed")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
