// Package models contains domain models for the lesson popularity worker.
package models

import (
	"errors"
	"fmt"
	"math"
)

// Default policy constants for the popularity score.
const (
	// DefaultRecentDemandWeight is the share of the base score driven by recent applications.
	DefaultRecentDemandWeight = 0.6
	// DefaultReviewCountWeight is the share driven by review volume.
	DefaultReviewCountWeight = 0.2
	// DefaultRatingWeight is the share driven by the Bayesian-shrunk rating.
	DefaultRatingWeight = 0.2

	// DefaultBayesianPrior is M: the number of reviews' worth of confidence given to the global mean.
	DefaultBayesianPrior = 5

	// DefaultReviewHalfLifeDays halves a review's weight every year.
	DefaultReviewHalfLifeDays = 365.0

	// DefaultMaxRating is the upper bound of the review scale.
	DefaultMaxRating = 5.0

	// DefaultRecentWindowDays is the trailing window for recent demand.
	DefaultRecentWindowDays = 7
)

// MaxPopularityScore is the upper bound of a published score.
const MaxPopularityScore = 100.0

// PopularityConfig contains all popularity weights and parameters.
type PopularityConfig struct {
	// RecentDemandWeight scales the normalized recent application count.
	RecentDemandWeight float64 `yaml:"recent_demand_weight" json:"recent_demand_weight"`

	// ReviewCountWeight scales the normalized review count.
	ReviewCountWeight float64 `yaml:"review_count_weight" json:"review_count_weight"`

	// RatingWeight scales the normalized Bayesian rating.
	RatingWeight float64 `yaml:"rating_weight" json:"rating_weight"`

	// BayesianPrior is the shrinkage constant M.
	// With 5, a lesson with 5 reviews sits halfway between its own average and the global mean.
	BayesianPrior float64 `yaml:"bayesian_prior" json:"bayesian_prior"`

	// ReviewHalfLifeDays is the number of days for a review's weight to halve.
	ReviewHalfLifeDays float64 `yaml:"review_half_life_days" json:"review_half_life_days"`

	// MaxRating is the top of the review scale used to normalize ratings.
	MaxRating float64 `yaml:"max_rating" json:"max_rating"`

	// RecentWindowDays is the trailing window counted as recent demand.
	RecentWindowDays int `yaml:"recent_window_days" json:"recent_window_days"`
}

// DefaultPopularityConfig returns the default popularity configuration.
func DefaultPopularityConfig() *PopularityConfig {
	return &PopularityConfig{
		RecentDemandWeight: DefaultRecentDemandWeight,
		ReviewCountWeight:  DefaultReviewCountWeight,
		RatingWeight:       DefaultRatingWeight,
		BayesianPrior:      DefaultBayesianPrior,
		ReviewHalfLifeDays: DefaultReviewHalfLifeDays,
		MaxRating:          DefaultMaxRating,
		RecentWindowDays:   DefaultRecentWindowDays,
	}
}

// weightSumTolerance absorbs float noise when checking that weights sum to 1.
const weightSumTolerance = 1e-9

// Validate reports whether the configuration keeps the base score inside [0,1].
func (c *PopularityConfig) Validate() error {
	if c == nil {
		return errors.New("popularity config is nil")
	}

	weights := []float64{c.RecentDemandWeight, c.ReviewCountWeight, c.RatingWeight}
	sum := 0.0
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("weights must be non-negative, got %v", weights)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("weights must sum to 1, got %.6f", sum)
	}

	if c.BayesianPrior < 0 {
		return fmt.Errorf("bayesian prior must be non-negative, got %v", c.BayesianPrior)
	}
	if c.ReviewHalfLifeDays <= 0 {
		return fmt.Errorf("review half-life must be positive, got %v", c.ReviewHalfLifeDays)
	}
	if c.MaxRating <= 0 {
		return fmt.Errorf("max rating must be positive, got %v", c.MaxRating)
	}
	if c.RecentWindowDays <= 0 {
		return fmt.Errorf("recent window must be positive, got %d", c.RecentWindowDays)
	}

	return nil
}
