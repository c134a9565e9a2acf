// Package scoring computes and publishes lesson popularity scores.
package scoring

import (
	"math"
	"time"

	"github.com/thebtf/lesson-popularity/pkg/models"
)

// Signals are the raw aggregates one run reads from storage.
type Signals struct {
	// RecentDemand maps lesson ID to applications created inside the recent window.
	RecentDemand map[string]int64
	// LessonIDs are the active (not soft-deleted) lessons to score.
	LessonIDs []string
	// StatusCounts are application counts grouped by lesson and status, over all time.
	StatusCounts []models.StatusCount
	// Reviews are every review row used for ranking.
	Reviews []models.ReviewSignal
}

// Calculator computes popularity scores for lessons.
// It holds no state between calls.
type Calculator struct {
	config *models.PopularityConfig
}

// NewCalculator creates a new popularity calculator.
// If config is nil, uses the default configuration.
func NewCalculator(config *models.PopularityConfig) *Calculator {
	if config == nil {
		config = models.DefaultPopularityConfig()
	}
	return &Calculator{config: config}
}

// Compute returns the popularity score of every lesson in signals.LessonIDs.
//
// The scoring formula:
//
//	BaseScore  = RecentWeight × normRecent + ReviewCountWeight × normReviewCount + RatingWeight × normRating
//	FinalScore = round(BaseScore × (1 − CancellationRate) × 100, 2)
//
// Where:
//   - normRecent = recent applications / max recent applications
//   - normReviewCount = review count / max review count
//   - normRating = bayesian average / max rating
//   - bayesian average = v/(v+M) × R + M/(v+M) × C, with R the lesson's decayed average and C the global one
//   - CancellationRate = canceled / (canceled + approved + completed + approval pending)
func (c *Calculator) Compute(signals Signals, now time.Time) map[string]float64 {
	components := c.ComputeComponents(signals, now)
	scores := make(map[string]float64, len(components))
	for id, comp := range components {
		scores[id] = comp.FinalScore
	}
	return scores
}

// ComputeComponents returns the full score breakdown for every lesson.
// This is the core calculation method - Compute() delegates to this.
func (c *Calculator) ComputeComponents(signals Signals, now time.Time) map[string]ScoreComponents {
	if len(signals.LessonIDs) == 0 {
		return map[string]ScoreComponents{}
	}

	// 1. Review aggregation with time decay, per lesson and global
	reviews, globalPrior := AggregateReviews(signals.Reviews, now, c.config.ReviewHalfLifeDays, c.config.MaxRating)

	// 2. Normalization denominators
	var maxRecent, maxReviewCount int64
	for _, n := range signals.RecentDemand {
		if n > maxRecent {
			maxRecent = n
		}
	}
	for _, agg := range reviews {
		if agg.Count > maxReviewCount {
			maxReviewCount = agg.Count
		}
	}

	// 3. Cancellation inputs
	applications := models.GroupStatusCounts(signals.StatusCounts)

	result := make(map[string]ScoreComponents, len(signals.LessonIDs))
	for _, id := range signals.LessonIDs {
		recent := signals.RecentDemand[id] // zero when absent
		agg := reviews[id]                 // zero value when the lesson has no reviews

		comp := ScoreComponents{
			RecentDemand:    recent,
			ReviewCount:     agg.Count,
			WeightedAverage: agg.WeightedAverage,
			GlobalPrior:     globalPrior,
		}

		comp.BayesianAverage = c.bayesianAverage(agg, globalPrior)

		if maxRecent > 0 {
			comp.NormRecent = float64(recent) / float64(maxRecent)
		}
		if maxReviewCount > 0 {
			comp.NormReviewCount = float64(agg.Count) / float64(maxReviewCount)
		}
		comp.NormRating = comp.BayesianAverage / c.config.MaxRating

		comp.BaseScore = comp.NormRecent*c.config.RecentDemandWeight +
			comp.NormReviewCount*c.config.ReviewCountWeight +
			comp.NormRating*c.config.RatingWeight

		comp.CancellationRate = applications[id].CancellationRate()

		final := comp.BaseScore * (1.0 - comp.CancellationRate) * models.MaxPopularityScore
		comp.FinalScore = clampScore(RoundHalfUp(final, 2))

		result[id] = comp
	}

	return result
}

// bayesianAverage shrinks the lesson's own average toward the global prior.
func (c *Calculator) bayesianAverage(agg models.ReviewAggregate, prior float64) float64 {
	v := float64(agg.Count)
	m := c.config.BayesianPrior
	if v+m <= 0 {
		return 0
	}
	return (v/(v+m))*agg.WeightedAverage + (m/(v+m))*prior
}

// ScoreComponents contains the breakdown of a popularity score calculation.
// Useful for debugging and explaining scores.
type ScoreComponents struct {
	RecentDemand     int64   `json:"recent_demand"`
	ReviewCount      int64   `json:"review_count"`
	WeightedAverage  float64 `json:"weighted_average"`
	GlobalPrior      float64 `json:"global_prior"`
	BayesianAverage  float64 `json:"bayesian_average"`
	NormRecent       float64 `json:"norm_recent"`
	NormReviewCount  float64 `json:"norm_review_count"`
	NormRating       float64 `json:"norm_rating"`
	BaseScore        float64 `json:"base_score"`
	CancellationRate float64 `json:"cancellation_rate"`
	FinalScore       float64 `json:"final_score"`
}

// reviewAccumulator collects running sums for one lesson during a single aggregation pass.
type reviewAccumulator struct {
	weightedScoreSum float64
	weightSum        float64
	count            int64
}

// AggregateReviews folds review rows into per-lesson aggregates and the global prior C.
// Reviews with a NaN score or one outside [0, maxRating] are ignored.
func AggregateReviews(reviews []models.ReviewSignal, now time.Time, halfLifeDays, maxRating float64) (map[string]models.ReviewAggregate, float64) {
	acc := make(map[string]*reviewAccumulator)
	var globalWeighted, globalWeight float64

	for _, r := range reviews {
		if math.IsNaN(r.Score) || r.Score < 0 || r.Score > maxRating {
			continue
		}

		w := DecayWeight(DaysBetween(r.CreatedAt, now), halfLifeDays)

		a, ok := acc[r.LessonID]
		if !ok {
			a = &reviewAccumulator{}
			acc[r.LessonID] = a
		}
		a.weightedScoreSum += r.Score * w
		a.weightSum += w
		a.count++

		globalWeighted += r.Score * w
		globalWeight += w
	}

	aggregates := make(map[string]models.ReviewAggregate, len(acc))
	for id, a := range acc {
		avg := 0.0
		if a.weightSum > 0 {
			avg = a.weightedScoreSum / a.weightSum
		}
		aggregates[id] = models.ReviewAggregate{Count: a.count, WeightedAverage: avg}
	}

	prior := 0.0
	if globalWeight > 0 {
		prior = globalWeighted / globalWeight
	}

	return aggregates, prior
}

// DecayWeight returns 0.5^(daysSince / halfLifeDays).
func DecayWeight(daysSince int64, halfLifeDays float64) float64 {
	return math.Pow(0.5, float64(daysSince)/halfLifeDays)
}

// DaysBetween returns the number of whole days elapsed from t to now.
// Future timestamps count as zero days.
func DaysBetween(t, now time.Time) int64 {
	d := now.Sub(t)
	if d <= 0 {
		return 0
	}
	return int64(d / (24 * time.Hour))
}

// RoundHalfUp rounds x to the given number of decimal places, with halves rounded up.
func RoundHalfUp(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Floor(x*p+0.5) / p
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > models.MaxPopularityScore {
		return models.MaxPopularityScore
	}
	return score
}

// GetConfig returns the current popularity configuration.
func (c *Calculator) GetConfig() *models.PopularityConfig {
	return c.config
}
