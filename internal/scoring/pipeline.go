package scoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/lesson-popularity/internal/db"
	"github.com/thebtf/lesson-popularity/internal/metrics"
	"github.com/thebtf/lesson-popularity/pkg/models"
)

// Phase names one committed unit of work inside a run.
type Phase string

const (
	PhaseReset   Phase = "reset"
	PhaseStaging Phase = "staging"
	PhasePublish Phase = "publish"
)

// State is the pipeline position. A run moves Idle → Reset → Staging → Published → Idle.
type State string

const (
	StateIdle      State = "idle"
	StateReset     State = "reset"
	StateStaging   State = "staging"
	StatePublished State = "published"
)

const runKey = "popularity-run"

// PhaseResult describes a single executed phase.
type PhaseResult struct {
	Phase    Phase         `json:"phase"`
	Duration time.Duration `json:"duration_ns"`
	Rows     int           `json:"rows"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// RunResult describes one full Reset → Staging → Publish sequence.
type RunResult struct {
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	RunID           string        `json:"run_id"`
	Trigger         string        `json:"trigger"`
	FinalState      State         `json:"final_state"`
	Error           string        `json:"error,omitempty"`
	Phases          []PhaseResult `json:"phases"`
	LessonsScored   int           `json:"lessons_scored"`
	ScoresPublished int           `json:"scores_published"`
}

// Succeeded reports whether every phase committed.
func (r RunResult) Succeeded() bool {
	return r.Error == ""
}

// PipelineOptions tunes a Pipeline. Zero values fall back to defaults.
type PipelineOptions struct {
	// Now supplies the run clock. Defaults to time.Now.
	Now func() time.Time
	// PhaseTimeout bounds each phase's unit of work. Zero means no bound.
	PhaseTimeout time.Duration
}

// Pipeline sequences the three popularity phases, each in its own transaction.
// At most one run executes at a time; concurrent callers share the in-flight run.
type Pipeline struct {
	uow          db.UnitOfWork
	calculator   *Calculator
	now          func() time.Time
	lastResult   *RunResult
	log          zerolog.Logger
	group        singleflight.Group
	state        State
	phaseTimeout time.Duration
	runs         int64
	mu           sync.RWMutex
	running      atomic.Bool
}

// NewPipeline creates a popularity pipeline over the given unit of work.
func NewPipeline(uow db.UnitOfWork, calc *Calculator, log zerolog.Logger, opts PipelineOptions) *Pipeline {
	if calc == nil {
		calc = NewCalculator(nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		uow:          uow,
		calculator:   calc,
		now:          now,
		phaseTimeout: opts.PhaseTimeout,
		state:        StateIdle,
		log:          log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes Reset, Compute-and-Stage and Publish in order.
// A phase failure rolls back that phase only and stops the run; earlier phases stay committed.
// If a run is already in flight the caller waits for it and receives its result.
func (p *Pipeline) Run(ctx context.Context, trigger string) (RunResult, error) {
	v, err, shared := p.group.Do(runKey, func() (interface{}, error) {
		return p.execute(ctx, trigger)
	})
	if shared {
		p.log.Debug().Str("trigger", trigger).Msg("joined in-flight popularity run")
	}
	result, _ := v.(RunResult)
	return result, err
}

// TryStart launches a run in the background unless one is already in flight.
// It returns false when a run is already executing.
func (p *Pipeline) TryStart(ctx context.Context, trigger string) bool {
	if !p.running.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		if _, err := p.Run(context.WithoutCancel(ctx), trigger); err != nil {
			p.log.Warn().Err(err).Str("trigger", trigger).Msg("background popularity run failed")
		}
	}()
	return true
}

// Running reports whether a run is executing.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

func (p *Pipeline) execute(ctx context.Context, trigger string) (RunResult, error) {
	p.running.Store(true)
	defer p.running.Store(false)

	startedAt := p.now()
	result := RunResult{
		RunID:     uuid.New().String(),
		Trigger:   trigger,
		StartedAt: startedAt,
	}
	log := p.log.With().Str("run_id", result.RunID).Str("trigger", trigger).Logger()
	log.Info().Msg("popularity run started")

	err := p.runPhases(ctx, startedAt, &result)

	result.FinishedAt = p.now()
	if err != nil {
		result.Error = err.Error()
	}
	result.FinalState = p.State()
	p.setState(StateIdle)

	metrics.RecordRun(result.FinishedAt, err)

	p.mu.Lock()
	p.runs++
	last := result
	p.lastResult = &last
	p.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("state", string(result.FinalState)).Msg("popularity run aborted")
		return result, err
	}

	log.Info().
		Int("lessons_scored", result.LessonsScored).
		Int("scores_published", result.ScoresPublished).
		Dur("elapsed", result.FinishedAt.Sub(startedAt)).
		Msg("popularity run completed")
	return result, nil
}

func (p *Pipeline) runPhases(ctx context.Context, now time.Time, result *RunResult) error {
	steps := []struct {
		fn    func(context.Context, time.Time) (int, bool, error)
		phase Phase
		state State
	}{
		{phase: PhaseReset, state: StateReset, fn: func(ctx context.Context, _ time.Time) (int, bool, error) {
			return 0, false, p.Reset(ctx)
		}},
		{phase: PhaseStaging, state: StateStaging, fn: p.computeAndStage},
		{phase: PhasePublish, state: StatePublished, fn: func(ctx context.Context, _ time.Time) (int, bool, error) {
			n, err := p.Publish(ctx)
			return n, n == 0 && err == nil, err
		}},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s phase: %w", step.phase, err)
		}

		start := time.Now()
		rows, skipped, err := p.withTimeout(ctx, now, step.fn)
		elapsed := time.Since(start)
		metrics.RecordPhase(string(step.phase), elapsed, err)

		pr := PhaseResult{Phase: step.phase, Duration: elapsed, Rows: rows, Skipped: skipped}
		if err != nil {
			pr.Error = err.Error()
			result.Phases = append(result.Phases, pr)
			return fmt.Errorf("%s phase: %w", step.phase, err)
		}
		result.Phases = append(result.Phases, pr)
		p.setState(step.state)

		switch step.phase {
		case PhaseStaging:
			result.LessonsScored = rows
		case PhasePublish:
			result.ScoresPublished = rows
		}
	}
	return nil
}

func (p *Pipeline) withTimeout(ctx context.Context, now time.Time, fn func(context.Context, time.Time) (int, bool, error)) (int, bool, error) {
	if p.phaseTimeout <= 0 {
		return fn(ctx, now)
	}
	ctx, cancel := context.WithTimeout(ctx, p.phaseTimeout)
	defer cancel()
	return fn(ctx, now)
}

// Reset sets every active lesson's live score to the baseline in one transaction.
func (p *Pipeline) Reset(ctx context.Context) error {
	return p.uow.InTransaction(ctx, func(repo db.PopularityRepository) error {
		return repo.ResetPopularityScores(ctx)
	})
}

// ComputeAndStage reads all signals, scores every active lesson and replaces the
// staging set, in one transaction. It returns the number of staged rows.
// With no active lessons it writes nothing.
func (p *Pipeline) ComputeAndStage(ctx context.Context, now time.Time) (int, error) {
	n, _, err := p.computeAndStage(ctx, now)
	return n, err
}

func (p *Pipeline) computeAndStage(ctx context.Context, now time.Time) (int, bool, error) {
	var staged int
	var skipped bool

	err := p.uow.InTransaction(ctx, func(repo db.PopularityRepository) error {
		lessonIDs, err := repo.ListActiveLessonIDs(ctx)
		if err != nil {
			return fmt.Errorf("list active lessons: %w", err)
		}
		if len(lessonIDs) == 0 {
			skipped = true
			p.log.Info().Msg("no active lessons, skipping staging")
			return nil
		}

		since := now.AddDate(0, 0, -p.calculator.GetConfig().RecentWindowDays)
		recent, err := repo.CountRecentApplications(ctx, since)
		if err != nil {
			return fmt.Errorf("count recent applications: %w", err)
		}
		statusCounts, err := repo.CountApplicationsByStatus(ctx)
		if err != nil {
			return fmt.Errorf("count applications by status: %w", err)
		}
		reviews, err := repo.ListReviewsForRanking(ctx)
		if err != nil {
			return fmt.Errorf("list reviews: %w", err)
		}

		components := p.calculator.ComputeComponents(Signals{
			LessonIDs:    lessonIDs,
			RecentDemand: recent,
			StatusCounts: statusCounts,
			Reviews:      reviews,
		}, now)

		rows := make([]models.StagedScore, 0, len(components))
		for id, comp := range components {
			rows = append(rows, models.StagedScore{LessonID: id, Score: comp.FinalScore})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].LessonID < rows[j].LessonID })

		if p.log.GetLevel() <= zerolog.DebugLevel && zerolog.GlobalLevel() <= zerolog.DebugLevel {
			for _, row := range rows {
				comp := components[row.LessonID]
				p.log.Debug().
					Str("lesson_id", row.LessonID).
					Int64("recent_demand", comp.RecentDemand).
					Int64("review_count", comp.ReviewCount).
					Float64("bayesian_average", comp.BayesianAverage).
					Float64("cancellation_rate", comp.CancellationRate).
					Float64("score", comp.FinalScore).
					Msg("lesson scored")
			}
		}

		if err := repo.ClearStaging(ctx); err != nil {
			return fmt.Errorf("clear staging: %w", err)
		}
		if err := repo.InsertStaging(ctx, rows); err != nil {
			return fmt.Errorf("insert staging: %w", err)
		}
		staged = len(rows)
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	if !skipped {
		metrics.LessonsScored.Set(float64(staged))
	}
	return staged, skipped, nil
}

// Publish applies every staged score to its live lesson in one transaction.
// It returns the number of applied scores; an empty staging set is a no-op.
func (p *Pipeline) Publish(ctx context.Context) (int, error) {
	var published int
	err := p.uow.InTransaction(ctx, func(repo db.PopularityRepository) error {
		staged, err := repo.ListStaging(ctx)
		if err != nil {
			return fmt.Errorf("list staging: %w", err)
		}
		if len(staged) == 0 {
			p.log.Info().Msg("staging is empty, nothing to publish")
			return nil
		}
		if err := repo.ApplyPopularityScores(ctx, staged); err != nil {
			return fmt.Errorf("apply scores: %w", err)
		}
		published = len(staged)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}

// State returns the last committed phase of the current run, or idle.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Stats returns statistics about the pipeline.
type Stats struct {
	LastRun *RunResult               `json:"last_run,omitempty"`
	Config  *models.PopularityConfig `json:"config"`
	State   State                    `json:"state"`
	Runs    int64                    `json:"runs"`
	Running bool                     `json:"running"`
}

// GetStats returns current pipeline statistics.
func (p *Pipeline) GetStats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var last *RunResult
	if p.lastResult != nil {
		r := *p.lastResult
		last = &r
	}

	return Stats{
		State:   p.state,
		Running: p.running.Load(),
		Runs:    p.runs,
		LastRun: last,
		Config:  p.calculator.GetConfig(),
	}
}
