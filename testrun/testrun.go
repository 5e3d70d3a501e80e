package testrun

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrTestRunNotFound       = errors.New("test run not found")
	ErrInvalidURL            = errors.New("url is required")
	ErrInvalidMission        = errors.New("mission is required")
	ErrInvalidPersona        = errors.New("persona is required")
	ErrInvalidPlatform       = errors.New("invalid platform")
	ErrInvalidStatus         = errors.New("invalid test run status")
	ErrTestRunAlreadyStarted = errors.New("test run already started")
	ErrTestRunNotRunning     = errors.New("test run is not running")
)

// Status represents the lifecycle status of a test run.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusHITLPaused Status = "hitl_paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusHITLPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal checks if the status is terminal. hitl_paused is not terminal:
// a human operator may resume or archive the run out of band.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Platform identifies the target platform of a test run.
type Platform string

const (
	PlatformWeb    Platform = "web"
	PlatformMobile Platform = "mobile"
)

// IsValid checks if the platform is valid.
func (p Platform) IsValid() bool {
	return p == PlatformWeb || p == PlatformMobile
}

// JSONMap is a custom type for JSON columns.
type JSONMap map[string]interface{}

func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(j)
}

func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONMap)
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to scan JSONMap: not a byte slice")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*j = m
	return nil
}

// TestRun represents one end-to-end execution of the test pipeline
// against a single URL, mission and persona combination.
type TestRun struct {
	ID               uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	URL              string     `json:"url" gorm:"type:varchar(2048);not null"`
	Mission          string     `json:"mission" gorm:"type:text;not null"`
	Persona          string     `json:"persona" gorm:"type:varchar(255);not null"`
	Platform         Platform   `json:"platform" gorm:"type:varchar(20);not null;default:'web'"`
	Status           Status     `json:"status" gorm:"type:varchar(20);not null;default:'queued';index:idx_test_runs_status"`
	CurrentStepIndex int        `json:"current_step_index" gorm:"not null;default:0"`
	TotalSteps       int        `json:"total_steps" gorm:"not null;default:0"`
	FailureCount     int        `json:"failure_count" gorm:"not null;default:0"`
	TotalCost        float64    `json:"total_cost" gorm:"not null;default:0"`
	SentimentScore   *float64   `json:"sentiment_score,omitempty"`
	CrawlExcerpt     string     `json:"crawl_excerpt,omitempty" gorm:"type:text"`
	Report           string     `json:"report,omitempty" gorm:"type:text"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating a new test run
func (tr *TestRun) BeforeCreate(tx *gorm.DB) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	return nil
}

// Validate checks if the test run has valid required fields.
func (tr *TestRun) Validate() error {
	if tr.URL == "" {
		return ErrInvalidURL
	}
	if tr.Mission == "" {
		return ErrInvalidMission
	}
	if tr.Persona == "" {
		return ErrInvalidPersona
	}
	if !tr.Platform.IsValid() {
		return ErrInvalidPlatform
	}
	if !tr.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

// Start marks the test run as running.
func (tr *TestRun) Start() error {
	if tr.Status != StatusQueued {
		return ErrTestRunAlreadyStarted
	}
	now := time.Now()
	tr.Status = StatusRunning
	tr.StartedAt = &now
	return nil
}

// Complete marks the test run as finished with the given terminal status.
func (tr *TestRun) Complete(status Status) error {
	if tr.Status != StatusRunning && tr.Status != StatusHITLPaused {
		return ErrTestRunNotRunning
	}
	if !status.IsTerminal() {
		return ErrInvalidStatus
	}
	now := time.Now()
	tr.Status = status
	tr.CompletedAt = &now
	return nil
}
