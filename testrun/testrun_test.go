package testrun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_IsValid(t *testing.T) {
	valid := []Status{StatusQueued, StatusRunning, StatusHITLPaused, StatusCompleted, StatusFailed}
	for _, s := range valid {
		assert.True(t, s.IsValid(), "expected %s to be valid", s)
	}
	assert.False(t, Status("paused").IsValid())
	assert.False(t, Status("").IsValid())
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusHITLPaused.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
}

func TestTestRun_Validate(t *testing.T) {
	t.Run("valid test run", func(t *testing.T) {
		tr := validTestRun()
		tr.Status = StatusQueued
		assert.NoError(t, tr.Validate())
	})

	t.Run("missing url", func(t *testing.T) {
		tr := validTestRun()
		tr.Status = StatusQueued
		tr.URL = ""
		assert.ErrorIs(t, tr.Validate(), ErrInvalidURL)
	})

	t.Run("missing mission", func(t *testing.T) {
		tr := validTestRun()
		tr.Status = StatusQueued
		tr.Mission = ""
		assert.ErrorIs(t, tr.Validate(), ErrInvalidMission)
	})

	t.Run("invalid platform", func(t *testing.T) {
		tr := validTestRun()
		tr.Status = StatusQueued
		tr.Platform = Platform("desktop")
		assert.ErrorIs(t, tr.Validate(), ErrInvalidPlatform)
	})
}

func TestTestRun_Start(t *testing.T) {
	t.Run("queued run starts", func(t *testing.T) {
		tr := validTestRun()
		tr.Status = StatusQueued

		require.NoError(t, tr.Start())
		assert.Equal(t, StatusRunning, tr.Status)
		assert.NotNil(t, tr.StartedAt)
	})

	t.Run("running run cannot start again", func(t *testing.T) {
		tr := validTestRun()
		tr.Status = StatusRunning
		assert.ErrorIs(t, tr.Start(), ErrTestRunAlreadyStarted)
	})
}

func TestTestRun_Complete(t *testing.T) {
	t.Run("running run completes", func(t *testing.T) {
		tr := validTestRun()
		tr.Status = StatusRunning

		require.NoError(t, tr.Complete(StatusCompleted))
		assert.Equal(t, StatusCompleted, tr.Status)
		assert.NotNil(t, tr.CompletedAt)
	})

	t.Run("hitl paused run can be failed by operator", func(t *testing.T) {
		tr := validTestRun()
		tr.Status = StatusHITLPaused

		require.NoError(t, tr.Complete(StatusFailed))
		assert.Equal(t, StatusFailed, tr.Status)
	})

	t.Run("non-terminal target status rejected", func(t *testing.T) {
		tr := validTestRun()
		tr.Status = StatusRunning
		assert.ErrorIs(t, tr.Complete(StatusRunning), ErrInvalidStatus)
	})

	t.Run("queued run cannot complete", func(t *testing.T) {
		tr := validTestRun()
		tr.Status = StatusQueued
		assert.ErrorIs(t, tr.Complete(StatusFailed), ErrTestRunNotRunning)
	})
}

func TestSeverity(t *testing.T) {
	assert.True(t, SeverityCritical.IsValid())
	assert.False(t, Severity("blocker").IsValid())

	assert.True(t, SeverityHigh.IsUrgent())
	assert.True(t, SeverityCritical.IsUrgent())
	assert.False(t, SeverityMedium.IsUrgent())
	assert.False(t, SeverityLow.IsUrgent())
}
