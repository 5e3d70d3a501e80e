package testrun

import (
	"testing"

	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/testutil"
	"gorm.io/gorm"
)

// setupTestStore creates a test database and test run store for testing.
func setupTestStore(t *testing.T) (*gorm.DB, Store) {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &TestRun{}, &ActionAttempt{}, &FrictionPoint{})

	log := logger.NewTestLogger()
	store := NewMySQLStore(db, log)

	return db, store
}

// loggerForTest returns a capturing logger for store tests.
func loggerForTest() logger.Logger {
	return logger.NewTestLogger()
}

// validTestRun returns a valid test run for use in tests.
func validTestRun() *TestRun {
	return &TestRun{
		URL:      "https://example.com/checkout",
		Mission:  "Purchase a pair of shoes as a first-time visitor",
		Persona:  "Margaret",
		Platform: PlatformWeb,
	}
}
