// Package db defines database interfaces for the lesson popularity stores.
package db

import (
	"context"
	"time"

	"github.com/thebtf/lesson-popularity/pkg/models"
)

// SignalReader defines the read-only aggregate queries a scoring run consumes.
type SignalReader interface {
	ListActiveLessonIDs(ctx context.Context) ([]string, error)
	CountRecentApplications(ctx context.Context, since time.Time) (map[string]int64, error)
	CountApplicationsByStatus(ctx context.Context) ([]models.StatusCount, error)
	ListReviewsForRanking(ctx context.Context) ([]models.ReviewSignal, error)
}

// StagingStore defines operations on the per-run staging buffer.
type StagingStore interface {
	ClearStaging(ctx context.Context) error
	InsertStaging(ctx context.Context, scores []models.StagedScore) error
	ListStaging(ctx context.Context) ([]models.StagedScore, error)
}

// PopularityWriter defines write operations on live lesson scores.
type PopularityWriter interface {
	ResetPopularityScores(ctx context.Context) error
	ApplyPopularityScores(ctx context.Context, scores []models.StagedScore) error
}

// PopularityRepository combines everything a scoring phase may touch.
type PopularityRepository interface {
	SignalReader
	StagingStore
	PopularityWriter
}

// UnitOfWork runs fn inside one atomically committed transaction.
// The repository passed to fn is only valid for the duration of the call.
type UnitOfWork interface {
	InTransaction(ctx context.Context, fn func(repo PopularityRepository) error) error
}

// LessonReader defines read operations on live lesson rankings.
type LessonReader interface {
	GetTopLessons(ctx context.Context, limit int) ([]*models.LessonPopularity, error)
}
