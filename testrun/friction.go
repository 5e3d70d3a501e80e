package testrun

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidFrictionTestRunID = errors.New("test_run_id is required for friction point")
	ErrInvalidFrictionElement   = errors.New("element is required")
	ErrInvalidSeverity          = errors.New("invalid severity")
)

// Severity grades the impact of a friction point on the tested persona.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// IsUrgent reports whether the severity warrants inclusion in pruned
// prompt context and report highlights.
func (s Severity) IsUrgent() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// FrictionPoint is a UX issue discovered during the audit stage.
type FrictionPoint struct {
	ID                uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	TestRunID         uuid.UUID `json:"test_run_id" gorm:"type:char(36);not null;index:idx_friction_points_test_run_id"`
	Element           string    `json:"element" gorm:"type:varchar(512);not null"`
	IssueType         string    `json:"issue_type" gorm:"type:varchar(100)"`
	Severity          Severity  `json:"severity" gorm:"type:varchar(20);not null;index:idx_friction_points_severity"`
	PersonaImpact     string    `json:"persona_impact" gorm:"type:text"`
	GuidelineCitation string    `json:"guideline_citation" gorm:"type:varchar(100)"`
	Resolution        string    `json:"resolution" gorm:"type:text"`
	Platform          Platform  `json:"platform" gorm:"type:varchar(20);not null;default:'web'"`
	CreatedAt         time.Time `json:"created_at"`
}

// BeforeCreate hook to generate UUID before creating a new friction point
func (fp *FrictionPoint) BeforeCreate(tx *gorm.DB) error {
	if fp.ID == uuid.Nil {
		fp.ID = uuid.New()
	}
	return nil
}

// Validate checks if the friction point has valid required fields.
func (fp *FrictionPoint) Validate() error {
	if fp.TestRunID == uuid.Nil {
		return ErrInvalidFrictionTestRunID
	}
	if fp.Element == "" {
		return ErrInvalidFrictionElement
	}
	if !fp.Severity.IsValid() {
		return ErrInvalidSeverity
	}
	return nil
}
