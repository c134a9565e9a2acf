// Package scheduler fires the popularity pipeline on a daily schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/thebtf/lesson-popularity/internal/config"
	"github.com/thebtf/lesson-popularity/internal/scoring"
)

// Trigger names recorded on each run.
const (
	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
)

// Runner is the subset of the pipeline the scheduler drives.
type Runner interface {
	Run(ctx context.Context, trigger string) (scoring.RunResult, error)
}

// Config contains the schedule parameters.
type Config struct {
	// Location is the timezone TimeOfDay is interpreted in (default UTC).
	Location *time.Location
	// TimeOfDay is the daily fire time as HH:MM.
	TimeOfDay string
	// RunOnStartup fires one run as soon as the scheduler starts.
	RunOnStartup bool
}

// Scheduler runs the pipeline once a day. A tick that arrives while the previous
// run is still executing is skipped.
type Scheduler struct {
	runCtx   context.Context
	runner   Runner
	cron     *cron.Cron
	schedule cron.Schedule
	job      cron.Job
	location *time.Location
	now      func() time.Time
	log      zerolog.Logger
	spec     string
	config   Config
	mu       sync.Mutex
}

// New creates a new daily scheduler.
func New(runner Runner, cfg Config, log zerolog.Logger) (*Scheduler, error) {
	hour, minute, err := config.ParseScheduleTime(cfg.TimeOfDay)
	if err != nil {
		return nil, err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}

	s := &Scheduler{
		runner:   runner,
		schedule: schedule,
		location: loc,
		spec:     spec,
		config:   cfg,
		now:      time.Now,
		runCtx:   context.Background(),
		log:      log.With().Str("component", "scheduler").Logger(),
	}

	cronLog := cronLogger{log: s.log}
	s.job = cron.NewChain(
		cron.Recover(cronLog),
		cron.SkipIfStillRunning(cronLog),
	).Then(cron.FuncJob(func() { s.runJob(TriggerSchedule) }))

	s.cron = cron.New(cron.WithLocation(loc), cron.WithLogger(cronLog))
	s.cron.Schedule(schedule, s.job)

	return s, nil
}

// Serve implements suture.Service. It starts the cron loop, optionally fires
// a startup run, and blocks until ctx is canceled. In-flight runs are waited for.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().
		Str("time", s.config.TimeOfDay).
		Str("cron", s.spec).
		Str("timezone", s.location.String()).
		Time("next_run", s.NextRun()).
		Msg("popularity schedule started")

	var startup sync.WaitGroup
	if s.config.RunOnStartup {
		startup.Add(1)
		go func() {
			defer startup.Done()
			s.runJob(TriggerStartup)
		}()
	}

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	startup.Wait()

	s.log.Info().Msg("popularity schedule stopped")
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *Scheduler) String() string {
	return "popularity-scheduler"
}

// NextRun returns the next scheduled fire time in the configured location.
func (s *Scheduler) NextRun() time.Time {
	return s.schedule.Next(s.now().In(s.location))
}

// runJob executes one pipeline run and logs its outcome. Errors are not retried.
func (s *Scheduler) runJob(trigger string) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	result, err := s.runner.Run(ctx, trigger)
	if err != nil {
		s.log.Error().Err(err).
			Str("trigger", trigger).
			Str("run_id", result.RunID).
			Msg("scheduled popularity run failed, will retry at next tick")
		return
	}
	s.log.Info().
		Str("trigger", trigger).
		Str("run_id", result.RunID).
		Time("next_run", s.NextRun()).
		Msg("scheduled popularity run finished")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
