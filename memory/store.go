package memory

import (
	"context"

	"github.com/hitlai/missionrunner/testrun"
)

// Store persists and retrieves lessons. Retrieval is advisory: the pipeline
// proceeds with no lessons when it fails.
type Store interface {
	// Record saves a lesson.
	Record(ctx context.Context, lesson *Lesson) error

	// Retrieve returns up to topK lessons for the platform whose mission or
	// insight shares keywords with the query, most recent first.
	Retrieve(ctx context.Context, query string, platform testrun.Platform, topK int) ([]*Lesson, error)
}
