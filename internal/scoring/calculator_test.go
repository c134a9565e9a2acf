// Package scoring computes and publishes lesson popularity scores.
package scoring

import (
	"math"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/lesson-popularity/pkg/models"
)

// CalculatorSuite is a test suite for the Calculator.
type CalculatorSuite struct {
	suite.Suite
	calc   *Calculator
	config *models.PopularityConfig
	now    time.Time
}

func (s *CalculatorSuite) SetupTest() {
	s.config = models.DefaultPopularityConfig()
	s.calc = NewCalculator(s.config)
	s.now = time.Date(2025, 1, 15, 1, 0, 0, 0, time.UTC)
}

func TestCalculatorSuite(t *testing.T) {
	suite.Run(t, new(CalculatorSuite))
}

func (s *CalculatorSuite) reviews(lessonID string, scores ...float64) []models.ReviewSignal {
	out := make([]models.ReviewSignal, 0, len(scores))
	for _, score := range scores {
		out = append(out, models.ReviewSignal{LessonID: lessonID, Score: score, CreatedAt: s.now})
	}
	return out
}

// scenarioSignals builds the worked example: lesson A with v=10, R=4.5, a global prior of 4.0,
// full recent demand and a 10% cancellation rate.
func (s *CalculatorSuite) scenarioSignals() Signals {
	var reviews []models.ReviewSignal
	reviews = append(reviews, s.reviews("A", 5, 5, 5, 5, 5, 4, 4, 4, 4, 4)...)
	reviews = append(reviews, s.reviews("B", 3.5, 3.5, 3.5, 3.5, 3.5, 3.5, 3.5, 3.5, 3.5, 3.5)...)

	return Signals{
		LessonIDs:    []string{"A", "B", "C"},
		RecentDemand: map[string]int64{"A": 5},
		StatusCounts: []models.StatusCount{
			{LessonID: "A", Status: models.StatusCanceled, Count: 2},
			{LessonID: "A", Status: models.StatusApproved, Count: 8},
			{LessonID: "A", Status: models.StatusCompleted, Count: 8},
			{LessonID: "A", Status: models.StatusApprovalPending, Count: 2},
			{LessonID: "A", Status: models.StatusPaymentPending, Count: 7},
		},
		Reviews: reviews,
	}
}

// =============================================================================
// GOOD SCENARIOS - Expected normal operations
// =============================================================================

func (s *CalculatorSuite) TestCompute_WorkedExample() {
	comps := s.calc.ComputeComponents(s.scenarioSignals(), s.now)

	a := comps["A"]
	s.Equal(int64(10), a.ReviewCount)
	s.InDelta(4.5, a.WeightedAverage, 1e-12)
	s.InDelta(4.0, a.GlobalPrior, 1e-12)
	s.InDelta(4.3333, a.BayesianAverage, 1e-4)
	s.InDelta(1.0, a.NormRecent, 1e-12)
	s.InDelta(1.0, a.NormReviewCount, 1e-12)
	s.InDelta(0.9733, a.BaseScore, 1e-4)
	s.InDelta(0.1, a.CancellationRate, 1e-12)
	s.InDelta(87.60, a.FinalScore, 1e-9)
}

func (s *CalculatorSuite) TestCompute_SecondaryLessonInExample() {
	scores := s.calc.Compute(s.scenarioSignals(), s.now)

	// bayes = (10/15)*3.5 + (5/15)*4.0 = 3.6667; base = 0.2 + 0.2*0.73333 = 0.34667
	s.InDelta(34.67, scores["B"], 1e-9)
}

func (s *CalculatorSuite) TestCompute_LessonWithoutSignalsUsesPrior() {
	scores := s.calc.Compute(s.scenarioSignals(), s.now)

	// No reviews, no bookings: score = round(0.2 * (C/5) * 100, 2) with C = 4.0
	expected := RoundHalfUp(0.2*(4.0/5.0)*100, 2)
	s.InDelta(expected, scores["C"], 1e-9)
	s.InDelta(16.0, scores["C"], 1e-9)
}

func (s *CalculatorSuite) TestCompute_ScoresOnlyRequestedLessons() {
	signals := s.scenarioSignals()
	signals.LessonIDs = []string{"A"}

	scores := s.calc.Compute(signals, s.now)

	s.Len(scores, 1)
	s.Contains(scores, "A")
}

func (s *CalculatorSuite) TestCompute_PaymentPendingNeverAffectsScore() {
	base := s.calc.Compute(s.scenarioSignals(), s.now)["A"]

	for _, pending := range []int64{0, 1, 50, 10_000} {
		signals := s.scenarioSignals()
		signals.StatusCounts = append(signals.StatusCounts,
			models.StatusCount{LessonID: "A", Status: models.StatusPaymentPending, Count: pending})

		s.Equal(base, s.calc.Compute(signals, s.now)["A"], "pending=%d", pending)
	}

	// Only payment-pending bookings: no cancellation penalty at all.
	signals := Signals{
		LessonIDs:    []string{"X"},
		RecentDemand: map[string]int64{"X": 3},
		StatusCounts: []models.StatusCount{{LessonID: "X", Status: models.StatusPaymentPending, Count: 40}},
	}
	comp := s.calc.ComputeComponents(signals, s.now)["X"]
	s.Zero(comp.CancellationRate)
}

func (s *CalculatorSuite) TestCompute_MonotonicInRecentDemand() {
	prev := -1.0
	for demand := int64(0); demand <= 10; demand++ {
		signals := Signals{
			LessonIDs:    []string{"leader", "probe"},
			RecentDemand: map[string]int64{"leader": 10, "probe": demand},
			Reviews:      s.reviews("leader", 4, 5),
		}
		base := s.calc.ComputeComponents(signals, s.now)["probe"].BaseScore
		s.GreaterOrEqual(base, prev, "demand=%d", demand)
		prev = base
	}
}

func (s *CalculatorSuite) TestCompute_FullyCanceledLessonScoresZero() {
	signals := Signals{
		LessonIDs:    []string{"A"},
		RecentDemand: map[string]int64{"A": 9},
		StatusCounts: []models.StatusCount{{LessonID: "A", Status: models.StatusCanceled, Count: 9}},
		Reviews:      s.reviews("A", 5),
	}

	s.Zero(s.calc.Compute(signals, s.now)["A"])
}

func (s *CalculatorSuite) TestCompute_DeterministicForSameInputs() {
	first := s.calc.Compute(s.scenarioSignals(), s.now)
	second := s.calc.Compute(s.scenarioSignals(), s.now)

	s.Equal(first, second)
}

func (s *CalculatorSuite) TestCompute_MaximaIncludeLessonsOutsideActiveSet() {
	signals := Signals{
		LessonIDs:    []string{"active"},
		RecentDemand: map[string]int64{"active": 2, "deleted": 4},
	}

	comp := s.calc.ComputeComponents(signals, s.now)["active"]
	s.InDelta(0.5, comp.NormRecent, 1e-12)
}

// =============================================================================
// EDGE CASES
// =============================================================================

func (s *CalculatorSuite) TestCompute_EmptyLessonSet() {
	signals := s.scenarioSignals()
	signals.LessonIDs = nil

	scores := s.calc.Compute(signals, s.now)

	s.NotNil(scores)
	s.Empty(scores)
}

func (s *CalculatorSuite) TestCompute_NoReviewsAnywhere() {
	signals := Signals{LessonIDs: []string{"A", "B"}, RecentDemand: map[string]int64{"B": 1}}

	scores := s.calc.Compute(signals, s.now)

	s.Zero(scores["A"])
	s.InDelta(60.0, scores["B"], 1e-9)
}

func (s *CalculatorSuite) TestCompute_InvalidReviewScoresIgnored() {
	signals := Signals{
		LessonIDs: []string{"A"},
		Reviews: []models.ReviewSignal{
			{LessonID: "A", Score: 4, CreatedAt: s.now},
			{LessonID: "A", Score: 9, CreatedAt: s.now},
			{LessonID: "A", Score: -1, CreatedAt: s.now},
			{LessonID: "A", Score: math.NaN(), CreatedAt: s.now},
		},
	}

	comp := s.calc.ComputeComponents(signals, s.now)["A"]
	s.Equal(int64(1), comp.ReviewCount)
	s.InDelta(4.0, comp.WeightedAverage, 1e-12)
}

func (s *CalculatorSuite) TestCompute_ZeroPriorWithNoReviews() {
	cfg := models.DefaultPopularityConfig()
	cfg.BayesianPrior = 0
	calc := NewCalculator(cfg)

	comp := calc.ComputeComponents(Signals{LessonIDs: []string{"A"}}, s.now)["A"]
	s.Zero(comp.BayesianAverage)
}

func (s *CalculatorSuite) TestCompute_ScoresBoundedAndRounded() {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 25; round++ {
		signals := Signals{RecentDemand: map[string]int64{}}
		for i := 0; i < 40; i++ {
			id := "lesson-" + strconv.Itoa(i)
			signals.LessonIDs = append(signals.LessonIDs, id)
			signals.RecentDemand[id] = rng.Int63n(50)
			for _, status := range models.AllScheduleStatuses {
				signals.StatusCounts = append(signals.StatusCounts,
					models.StatusCount{LessonID: id, Status: status, Count: rng.Int63n(20)})
			}
			for r := rng.Intn(15); r > 0; r-- {
				signals.Reviews = append(signals.Reviews, models.ReviewSignal{
					LessonID:  id,
					Score:     float64(rng.Intn(11)) / 2,
					CreatedAt: s.now.Add(-time.Duration(rng.Intn(2000)) * 24 * time.Hour),
				})
			}
		}

		for id, score := range s.calc.Compute(signals, s.now) {
			s.GreaterOrEqual(score, 0.0, id)
			s.LessOrEqual(score, 100.0, id)
			cents := score * 100
			s.InDelta(math.Round(cents), cents, 1e-6, "score %v of %s has more than 2 decimals", score, id)
		}
	}
}

// =============================================================================
// DECAY AND ROUNDING HELPERS
// =============================================================================

func TestDecayWeight(t *testing.T) {
	assert.Equal(t, 1.0, DecayWeight(0, 365))
	assert.Equal(t, 0.5, DecayWeight(365, 365))
	assert.Equal(t, 0.25, DecayWeight(730, 365))
	assert.InDelta(t, math.Pow(0.5, 100.0/365.0), DecayWeight(100, 365), 1e-15)
}

func TestDaysBetween(t *testing.T) {
	now := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(0), DaysBetween(now, now))
	assert.Equal(t, int64(0), DaysBetween(now.Add(-23*time.Hour), now))
	assert.Equal(t, int64(1), DaysBetween(now.Add(-25*time.Hour), now))
	assert.Equal(t, int64(365), DaysBetween(now.Add(-365*24*time.Hour), now))
	assert.Equal(t, int64(0), DaysBetween(now.Add(48*time.Hour), now), "future reviews count as fresh")
}

func TestAggregateReviews_DecayHalvesYearOldReviews(t *testing.T) {
	now := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	reviews := []models.ReviewSignal{
		{LessonID: "A", Score: 5, CreatedAt: now},
		{LessonID: "A", Score: 2, CreatedAt: now.Add(-365 * 24 * time.Hour)},
	}

	aggs, prior := AggregateReviews(reviews, now, 365, 5)

	require.Contains(t, aggs, "A")
	// (5*1 + 2*0.5) / 1.5 = 4.0
	assert.InDelta(t, 4.0, aggs["A"].WeightedAverage, 1e-12)
	assert.Equal(t, int64(2), aggs["A"].Count)
	assert.InDelta(t, 4.0, prior, 1e-12)
}

func TestAggregateReviews_Empty(t *testing.T) {
	aggs, prior := AggregateReviews(nil, time.Now(), 365, 5)

	assert.Empty(t, aggs)
	assert.Zero(t, prior)
}

func TestRoundHalfUp(t *testing.T) {
	assert.Equal(t, 87.6, RoundHalfUp(87.6, 2))
	assert.Equal(t, 0.13, RoundHalfUp(0.125, 2))
	assert.Equal(t, 3.0, RoundHalfUp(2.5, 0))
	assert.Equal(t, 34.67, RoundHalfUp(34.666666, 2))
	assert.Equal(t, 0.0, RoundHalfUp(0.004, 2))
}

func TestNewCalculator_DefaultConfig(t *testing.T) {
	calc := NewCalculator(nil)

	require.NotNil(t, calc.GetConfig())
	assert.Equal(t, models.DefaultPopularityConfig(), calc.GetConfig())
}
