package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/testrun"
	"github.com/hitlai/missionrunner/testutil"
)

func setupLessonStore(t *testing.T) Store {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &Lesson{})
	return NewMySQLStore(db, logger.NewTestLogger())
}

func TestMySQLStore_Record(t *testing.T) {
	store := setupLessonStore(t)
	ctx := context.Background()

	t.Run("records valid lesson", func(t *testing.T) {
		lesson := &Lesson{
			Platform: testrun.PlatformWeb,
			Mission:  "Buy running shoes",
			Insight:  "Cookie banner must be dismissed before any click lands",
		}
		require.NoError(t, store.Record(ctx, lesson))
		assert.NotEqual(t, "", lesson.ID.String())
	})

	t.Run("rejects empty insight", func(t *testing.T) {
		lesson := &Lesson{Platform: testrun.PlatformWeb}
		assert.ErrorIs(t, store.Record(ctx, lesson), ErrInvalidInsight)
	})

	t.Run("rejects invalid platform", func(t *testing.T) {
		lesson := &Lesson{Platform: testrun.Platform("desktop"), Insight: "x"}
		assert.ErrorIs(t, store.Record(ctx, lesson), ErrInvalidPlatform)
	})
}

func TestMySQLStore_Retrieve(t *testing.T) {
	store := setupLessonStore(t)
	ctx := context.Background()

	seed := []*Lesson{
		{Platform: testrun.PlatformWeb, Mission: "Buy running shoes", Insight: "Size selector is hidden behind a modal"},
		{Platform: testrun.PlatformWeb, Mission: "Sign up for newsletter", Insight: "Email field rejects plus addressing"},
		{Platform: testrun.PlatformMobile, Mission: "Buy running shoes", Insight: "Checkout button off-screen on small viewports"},
	}
	for _, l := range seed {
		require.NoError(t, store.Record(ctx, l))
	}

	t.Run("matches keywords on the right platform", func(t *testing.T) {
		lessons, err := store.Retrieve(ctx, "buy some running shoes today", testrun.PlatformWeb, 5)
		require.NoError(t, err)
		require.Len(t, lessons, 1)
		assert.Equal(t, "Size selector is hidden behind a modal", lessons[0].Insight)
	})

	t.Run("matches insight text too", func(t *testing.T) {
		lessons, err := store.Retrieve(ctx, "anything about modal dialogs", testrun.PlatformWeb, 5)
		require.NoError(t, err)
		require.Len(t, lessons, 1)
	})

	t.Run("respects topK", func(t *testing.T) {
		lessons, err := store.Retrieve(ctx, "shoes newsletter", testrun.PlatformWeb, 1)
		require.NoError(t, err)
		assert.Len(t, lessons, 1)
	})

	t.Run("no matches yields empty result", func(t *testing.T) {
		lessons, err := store.Retrieve(ctx, "completely unrelated gardening topic", testrun.PlatformWeb, 5)
		require.NoError(t, err)
		assert.Empty(t, lessons)
	})

	t.Run("zero topK yields nothing", func(t *testing.T) {
		lessons, err := store.Retrieve(ctx, "shoes", testrun.PlatformWeb, 0)
		require.NoError(t, err)
		assert.Empty(t, lessons)
	})
}
