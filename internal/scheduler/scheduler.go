package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"memepulse/internal/logging"
	"memepulse/internal/metrics"
)

// JobFunc is invoked on every tick of a job.
type JobFunc func(ctx context.Context) error

// Job is a named periodic task.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        JobFunc
}

// Scheduler drives periodic jobs on a cron runner. A job never overlaps itself;
// different jobs may run concurrently.
type Scheduler struct {
	logger zerolog.Logger

	mu       sync.Mutex
	jobs     []Job
	cron     *cron.Cron
	ctx      context.Context
	running  bool
	startups *sync.WaitGroup // per run
}

// New constructs a Scheduler instance.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With().Str("component", "scheduler").Logger()}
}

// Register adds a job. Jobs registered while running are scheduled immediately.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return errors.New("scheduler: job name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("scheduler: job %s interval must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s has no run func", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.Name == job.Name {
			return fmt.Errorf("scheduler: job %s already registered", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	if s.running {
		s.schedule(job)
	}
	return nil
}

// Start begins ticking every registered job. It returns false when already running.
// Job contexts keep ctx values but not its cancellation; use Stop to end ticking.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}

	cl := logging.CronLogger(s.logger)
	s.cron = cron.New(cron.WithLogger(cl))
	s.ctx = context.WithoutCancel(ctx)
	s.startups = &sync.WaitGroup{}
	s.running = true
	for _, job := range s.jobs {
		s.schedule(job)
	}
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
	return true
}

// schedule must be called with mu held.
func (s *Scheduler) schedule(job Job) {
	cl := logging.CronLogger(s.logger)
	wrapped := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(s.runner(job))
	s.cron.Schedule(cron.Every(job.Interval), wrapped)

	if job.RunOnStart {
		startups := s.startups
		startups.Add(1)
		go func() {
			defer startups.Done()
			wrapped.Run()
		}()
	}
}

func (s *Scheduler) runner(job Job) cron.Job {
	ctx := s.ctx
	logger := s.logger.With().Str("job", job.Name).Logger()
	return cron.FuncJob(func() {
		start := time.Now()
		err := job.Run(ctx)
		took := time.Since(start)
		metrics.ObserveJob(job.Name, took, err)
		if err != nil {
			logger.Error().Err(err).Dur("took", took).Msg("job execution failed")
			return
		}
		logger.Debug().Dur("took", took).Msg("job executed")
	})
}

// Stop prevents future ticks. The returned channel closes after in-flight runs finish.
// Stopping a stopped scheduler returns an already closed channel.
func (s *Scheduler) Stop() <-chan struct{} {
	done := make(chan struct{})

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		close(done)
		return done
	}
	s.running = false
	cronDone := s.cron.Stop()
	startups := s.startups
	s.mu.Unlock()

	go func() {
		<-cronDone.Done()
		startups.Wait()
		s.logger.Info().Msg("scheduler stopped")
		close(done)
	}()
	return done
}

// Running reports whether the scheduler is ticking.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
