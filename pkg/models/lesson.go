// Package models contains domain models for the lesson popularity worker.
package models

import "time"

// ReviewSignal is one review row as seen by the ranking job.
type ReviewSignal struct {
	CreatedAt time.Time `json:"created_at"`
	LessonID  string    `json:"lesson_id"`
	Score     float64   `json:"score"`
}

// ReviewAggregate is the per-lesson review summary built once per run.
// Count is the number of reviews; WeightedAverage is the decay-weighted mean score.
type ReviewAggregate struct {
	Count           int64   `json:"count"`
	WeightedAverage float64 `json:"weighted_average"`
}

// StagedScore is a computed score waiting to be published onto its lesson.
type StagedScore struct {
	LessonID string  `json:"lesson_id"`
	Score    float64 `json:"score"`
}

// LessonPopularity is a live lesson record as exposed by the ranking endpoints.
type LessonPopularity struct {
	UpdatedAt       time.Time `json:"updated_at"`
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	PopularityScore float64   `json:"popularity_score"`
}
