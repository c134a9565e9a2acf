package gorm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/lesson-popularity/internal/db"
	"github.com/thebtf/lesson-popularity/pkg/models"
)

// PopularityStore provides the transactional storage used by the ranking pipeline.
type PopularityStore struct {
	store     *Store
	now       func() time.Time
	batchSize int
}

// NewPopularityStore creates a new popularity store. batchSize bounds rows per statement.
func NewPopularityStore(store *Store, batchSize int) *PopularityStore {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &PopularityStore{
		store:     store,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// InTransaction runs fn against a repository bound to one database transaction.
func (s *PopularityStore) InTransaction(ctx context.Context, fn func(repo db.PopularityRepository) error) error {
	return s.store.Transaction(ctx, "popularity_phase", func(tx *gorm.DB) error {
		return fn(&popularityRepo{db: tx, batchSize: s.batchSize, now: s.now})
	})
}

// GetTopLessons returns active lessons ordered by popularity, highest first.
func (s *PopularityStore) GetTopLessons(ctx context.Context, limit int) ([]*models.LessonPopularity, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var rows []Lesson
	err := s.store.DB.WithContext(ctx).
		Order("popularity_score DESC").
		Order("lesson_id").
		Limit(clampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get top lessons: %w", err)
	}

	out := make([]*models.LessonPopularity, len(rows))
	for i := range rows {
		out[i] = rows[i].ToModel()
	}
	return out, nil
}

// popularityRepo implements db.PopularityRepository on a single transaction.
type popularityRepo struct {
	db        *gorm.DB
	now       func() time.Time
	batchSize int
}

// ListActiveLessonIDs returns IDs of lessons that are not soft-deleted.
func (r *popularityRepo) ListActiveLessonIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&Lesson{}).
		Order("lesson_id").
		Pluck("lesson_id", &ids).Error
	return ids, err
}

// CountRecentApplications counts applications created strictly after since, per lesson.
func (r *popularityRepo) CountRecentApplications(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []struct {
		LessonID string
		Count    int64
	}
	err := r.db.WithContext(ctx).
		Model(&Schedule{}).
		Select("lesson_id, COUNT(*) AS count").
		Where("created_at > ?", since).
		Group("lesson_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.LessonID] = row.Count
	}
	return counts, nil
}

// CountApplicationsByStatus counts all applications grouped by lesson and status.
func (r *popularityRepo) CountApplicationsByStatus(ctx context.Context) ([]models.StatusCount, error) {
	var rows []struct {
		LessonID string
		Status   string
		Count    int64
	}
	err := r.db.WithContext(ctx).
		Model(&Schedule{}).
		Select("lesson_id, status, COUNT(*) AS count").
		Group("lesson_id, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.StatusCount, len(rows))
	for i, row := range rows {
		out[i] = models.StatusCount{
			LessonID: row.LessonID,
			Status:   models.ScheduleStatus(row.Status),
			Count:    row.Count,
		}
	}
	return out, nil
}

// ListReviewsForRanking returns every review's lesson, score and creation time.
func (r *popularityRepo) ListReviewsForRanking(ctx context.Context) ([]models.ReviewSignal, error) {
	var rows []Review
	err := r.db.WithContext(ctx).
		Select("lesson_id", "score", "created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.ReviewSignal, len(rows))
	for i, row := range rows {
		out[i] = models.ReviewSignal{
			LessonID:  row.LessonID,
			Score:     row.Score,
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}

// ClearStaging deletes every staged row.
func (r *popularityRepo) ClearStaging(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&LessonTemp{}).Error
}

// InsertStaging bulk inserts staged scores in batches.
func (r *popularityRepo) InsertStaging(ctx context.Context, scores []models.StagedScore) error {
	if len(scores) == 0 {
		return nil
	}

	rows := make([]LessonTemp, len(scores))
	for i, s := range scores {
		rows[i] = LessonTemp{LessonID: s.LessonID, PopularityScore: s.Score}
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, r.batchSize).Error
}

// ListStaging returns all staged scores.
func (r *popularityRepo) ListStaging(ctx context.Context) ([]models.StagedScore, error) {
	var rows []LessonTemp
	if err := r.db.WithContext(ctx).Order("lesson_id").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]models.StagedScore, len(rows))
	for i, row := range rows {
		out[i] = models.StagedScore{LessonID: row.LessonID, Score: row.PopularityScore}
	}
	return out, nil
}

// ResetPopularityScores sets every active lesson's score to the baseline.
func (r *popularityRepo) ResetPopularityScores(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Model(&Lesson{}).
		Where("1 = 1").
		Updates(map[string]interface{}{
			"popularity_score": 0,
			"updated_at":       r.now(),
		}).Error
}

// ApplyPopularityScores writes staged scores onto their live lessons.
// Uses one CASE/WHEN statement per batch.
func (r *popularityRepo) ApplyPopularityScores(ctx context.Context, scores []models.StagedScore) error {
	now := r.now()
	for _, batch := range chunk(scores, r.batchSize) {
		query, args := buildApplyScoresQuery(batch, now)
		if err := r.db.WithContext(ctx).Exec(query, args...).Error; err != nil {
			return err
		}
	}
	return nil
}

// buildApplyScoresQuery renders
//
//	UPDATE lessons SET popularity_score = CASE lesson_id WHEN ? THEN ? ... END, updated_at = ?
//	WHERE lesson_id IN ? AND deleted_at IS NULL
func buildApplyScoresQuery(batch []models.StagedScore, now time.Time) (string, []interface{}) {
	ids := make([]string, len(batch))
	args := make([]interface{}, 0, len(batch)*2+2)

	var sb strings.Builder
	sb.WriteString("UPDATE lessons SET popularity_score = CASE lesson_id ")
	for i, s := range batch {
		ids[i] = s.LessonID
		sb.WriteString("WHEN ? THEN CAST(? AS DOUBLE PRECISION) ")
		args = append(args, s.LessonID, s.Score)
	}
	sb.WriteString("ELSE popularity_score END, updated_at = ? WHERE lesson_id IN ? AND deleted_at IS NULL")
	args = append(args, now, ids)

	return sb.String(), args
}

// Ensure PopularityStore satisfies the interfaces
var (
	_ db.UnitOfWork   = (*PopularityStore)(nil)
	_ db.LessonReader = (*PopularityStore)(nil)
)
