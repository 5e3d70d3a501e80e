package memory

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hitlai/missionrunner/testrun"
)

// Memory lesson errors
var (
	ErrLessonNotFound  = errors.New("lesson not found")
	ErrInvalidInsight  = errors.New("lesson insight is required")
	ErrInvalidPlatform = errors.New("invalid platform")
)

// Lesson is one reusable insight distilled from a past run, e.g. "the cookie
// banner on this domain blocks the first click". Retrieved by keyword match
// against the incoming mission.
type Lesson struct {
	ID              uuid.UUID        `json:"id" gorm:"type:char(36);primaryKey"`
	Platform        testrun.Platform `json:"platform" gorm:"type:varchar(20);not null;index:idx_memory_lessons_platform"`
	Domain          string           `json:"domain" gorm:"type:varchar(255);index:idx_memory_lessons_domain"`
	Mission         string           `json:"mission" gorm:"type:text"`
	Insight         string           `json:"insight" gorm:"type:text;not null"`
	SourceTestRunID uuid.UUID        `json:"source_test_run_id" gorm:"type:char(36)"`
	CreatedAt       time.Time        `json:"created_at"`
}

// BeforeCreate hook to generate UUID before creating a new lesson
func (l *Lesson) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// Validate checks if the lesson data is valid
func (l *Lesson) Validate() error {
	if l.Insight == "" {
		return ErrInvalidInsight
	}
	if !l.Platform.IsValid() {
		return ErrInvalidPlatform
	}
	return nil
}
