package gorm

import (
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/lesson-popularity/pkg/models"
)

// Lesson is the live catalog record. Only popularity_score is written by this worker.
type Lesson struct {
	CreatedAt       time.Time      `gorm:"not null"`
	UpdatedAt       time.Time      `gorm:"not null"`
	DeletedAt       gorm.DeletedAt `gorm:"index"`
	LessonID        string         `gorm:"column:lesson_id;primaryKey;type:varchar(64)"`
	Title           string         `gorm:"type:varchar(255);not null;default:''"`
	MentorID        string         `gorm:"column:mentor_id;type:varchar(64);index"`
	PopularityScore float64        `gorm:"column:popularity_score;not null;default:0;index:idx_lessons_popularity,sort:desc"`
}

// TableName specifies the table name for Lesson.
func (Lesson) TableName() string { return "lessons" }

// ToModel converts the row to its API representation.
func (l *Lesson) ToModel() *models.LessonPopularity {
	return &models.LessonPopularity{
		ID:              l.LessonID,
		Title:           l.Title,
		PopularityScore: l.PopularityScore,
		UpdatedAt:       l.UpdatedAt,
	}
}

// Schedule is one application (booking) for a lesson.
type Schedule struct {
	CreatedAt  time.Time `gorm:"not null;index:idx_schedules_created"`
	ScheduleID string    `gorm:"column:schedule_id;primaryKey;type:varchar(64)"`
	LessonID   string    `gorm:"column:lesson_id;type:varchar(64);not null;index:idx_schedules_lesson_status,priority:1"`
	Status     string    `gorm:"type:varchar(32);not null;index:idx_schedules_lesson_status,priority:2"`
}

// TableName specifies the table name for Schedule.
func (Schedule) TableName() string { return "schedules" }

// Review is a learner's rating of a lesson.
type Review struct {
	CreatedAt time.Time `gorm:"not null"`
	ReviewID  string    `gorm:"column:review_id;primaryKey;type:varchar(64)"`
	LessonID  string    `gorm:"column:lesson_id;type:varchar(64);not null;index"`
	Score     float64   `gorm:"not null"`
}

// TableName specifies the table name for Review.
func (Review) TableName() string { return "reviews" }

// LessonTemp is the staging row holding a computed score until it is published.
type LessonTemp struct {
	LessonID        string  `gorm:"column:lesson_id;primaryKey;type:varchar(64)"`
	PopularityScore float64 `gorm:"column:popularity_score;not null"`
}

// TableName specifies the table name for LessonTemp.
func (LessonTemp) TableName() string { return "lesson_temp" }
