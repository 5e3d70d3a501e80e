package memory

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/testrun"
)

// minKeywordLength filters stopword-sized tokens out of retrieval queries.
const minKeywordLength = 4

// MySQLStore implements Store using GORM and MySQL.
type MySQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLStore creates a new MySQL-backed lesson store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

// Record saves a lesson.
func (s *MySQLStore) Record(ctx context.Context, lesson *Lesson) error {
	if err := lesson.Validate(); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(lesson).Error; err != nil {
		s.logger.Error(ctx, "failed to record lesson", logger.Fields{
			"error": err.Error(),
		})
		return err
	}

	s.logger.Debug(ctx, "lesson recorded", logger.Fields{
		"lesson_id": lesson.ID.String(),
		"platform":  string(lesson.Platform),
	})

	return nil
}

// Retrieve returns up to topK recent lessons for the platform matching any
// query keyword. Keyword matching over mission and insight text; no
// embeddings involved.
func (s *MySQLStore) Retrieve(ctx context.Context, query string, platform testrun.Platform, topK int) ([]*Lesson, error) {
	if topK <= 0 {
		return nil, nil
	}

	keywords := extractKeywords(query)

	tx := s.db.WithContext(ctx).Where("platform = ?", platform)
	if len(keywords) > 0 {
		match := s.db
		for i, kw := range keywords {
			pattern := "%" + kw + "%"
			if i == 0 {
				match = match.Where("mission LIKE ? OR insight LIKE ?", pattern, pattern)
			} else {
				match = match.Or("mission LIKE ? OR insight LIKE ?", pattern, pattern)
			}
		}
		tx = tx.Where(match)
	}

	var lessons []*Lesson
	err := tx.Order("created_at DESC").Limit(topK).Find(&lessons).Error
	if err != nil {
		s.logger.Error(ctx, "failed to retrieve lessons", logger.Fields{
			"error":    err.Error(),
			"platform": string(platform),
		})
		return nil, err
	}

	return lessons, nil
}

// extractKeywords lowercases and splits the query, dropping short tokens.
func extractKeywords(query string) []string {
	var keywords []string
	for _, field := range strings.Fields(strings.ToLower(query)) {
		token := strings.Trim(field, ".,;:!?\"'()")
		if len(token) >= minKeywordLength {
			keywords = append(keywords, token)
		}
	}
	return keywords
}
