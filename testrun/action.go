package testrun

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidActionTestRunID = errors.New("test_run_id is required for action attempt")
	ErrInvalidActionType      = errors.New("action_type is required")
)

// ActionAttempt records one attempt at executing a planned step against the page.
// Recent attempts feed the context pruner's sliding action window.
type ActionAttempt struct {
	ID           uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	TestRunID    uuid.UUID `json:"test_run_id" gorm:"type:char(36);not null;index:idx_action_attempts_test_run_id"`
	StepIndex    int       `json:"step_index" gorm:"not null"`
	ActionType   string    `json:"action_type" gorm:"type:varchar(255);not null"`
	Success      bool      `json:"success" gorm:"not null"`
	ErrorMessage string    `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
}

// BeforeCreate hook to generate UUID before creating a new action attempt
func (a *ActionAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Validate checks if the action attempt has valid required fields.
func (a *ActionAttempt) Validate() error {
	if a.TestRunID == uuid.Nil {
		return ErrInvalidActionTestRunID
	}
	if a.ActionType == "" {
		return ErrInvalidActionType
	}
	return nil
}
