// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"time"

	"github.com/aristath/frontier/internal/events"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// EventEmitter publishes job lifecycle events
type EventEmitter interface {
	EmitTyped(module string, data events.EventData)
}

// Scheduler manages background jobs
type Scheduler struct {
	cron   *cron.Cron
	events EventEmitter
	log    zerolog.Logger
}

// New creates a new scheduler. A run that is still in progress when its
// next tick fires makes that tick a no-op. emitter may be nil.
func New(emitter EventEmitter, log zerolog.Logger) *Scheduler {
	l := log.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: l})),
		),
		events: emitter,
		log:    l,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "0 30 22 * * MON-FRI" - 22:30 on weekdays
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.execute(job)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return s.execute(job)
}

// Entries returns the number of registered jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) execute(job Job) error {
	started := time.Now()
	s.emit(&events.JobStatusData{JobType: job.Name(), Status: "started", Timestamp: started.UTC()})
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	err := job.Run()
	duration := time.Since(started)

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Dur("duration", duration).
			Msg("Job failed")
		s.emit(&events.JobStatusData{
			JobType:   job.Name(),
			Status:    "failed",
			Error:     err.Error(),
			Duration:  duration.Seconds(),
			Timestamp: time.Now().UTC(),
		})
		return err
	}

	s.log.Debug().Str("job", job.Name()).Dur("duration", duration).Msg("Job completed")
	s.emit(&events.JobStatusData{
		JobType:   job.Name(),
		Status:    "completed",
		Duration:  duration.Seconds(),
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (s *Scheduler) emit(data events.EventData) {
	if s.events != nil {
		s.events.EmitTyped("scheduler", data)
	}
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
