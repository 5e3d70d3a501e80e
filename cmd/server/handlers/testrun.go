package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/monitor"
	"github.com/hitlai/missionrunner/testrun"
)

// Launcher starts the pipeline for a created run, asynchronously.
type Launcher func(runID uuid.UUID)

// TestRunHandler handles test run requests.
type TestRunHandler struct {
	runs      testrun.Store
	frictions testrun.FrictionStore
	logs      monitor.LogStore
	launch    Launcher
	logger    logger.Logger
}

// NewTestRunHandler creates a new test run handler.
func NewTestRunHandler(runs testrun.Store, frictions testrun.FrictionStore, logs monitor.LogStore, launch Launcher, log logger.Logger) *TestRunHandler {
	return &TestRunHandler{
		runs:      runs,
		frictions: frictions,
		logs:      logs,
		launch:    launch,
		logger:    log,
	}
}

// CreateTestRunRequest represents a test run creation request.
type CreateTestRunRequest struct {
	URL      string           `json:"url"`
	Mission  string           `json:"mission"`
	Persona  string           `json:"persona"`
	Platform testrun.Platform `json:"platform"`
}

// Create handles creating and launching a new test run.
func (h *TestRunHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTestRunRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Platform == "" {
		req.Platform = testrun.PlatformWeb
	}

	tr := &testrun.TestRun{
		URL:      req.URL,
		Mission:  req.Mission,
		Persona:  req.Persona,
		Platform: req.Platform,
	}

	if err := h.runs.Create(r.Context(), tr); err != nil {
		switch {
		case errors.Is(err, testrun.ErrInvalidURL),
			errors.Is(err, testrun.ErrInvalidMission),
			errors.Is(err, testrun.ErrInvalidPersona),
			errors.Is(err, testrun.ErrInvalidPlatform):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "failed to create test run")
		}
		return
	}

	h.launch(tr.ID)

	h.logger.Info(r.Context(), "test run created and launched", logger.Fields{
		"test_run_id": tr.ID.String(),
		"url":         tr.URL,
	})

	respondJSON(w, http.StatusCreated, tr)
}

// List handles listing test runs with optional status filter.
func (h *TestRunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	var (
		runs []*testrun.TestRun
		err  error
	)
	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		status := testrun.Status(statusParam)
		if !status.IsValid() {
			respondError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		runs, err = h.runs.ListByStatus(r.Context(), status, limit, offset)
	} else {
		runs, err = h.runs.List(r.Context(), limit, offset)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list test runs")
		return
	}

	respondJSON(w, http.StatusOK, NewPaginatedResponse(runs, len(runs), limit, offset))
}

// GetByID handles retrieving a single test run.
func (h *TestRunHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "id", "test run")
	if !ok {
		return
	}

	tr, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, testrun.ErrTestRunNotFound) {
			respondError(w, http.StatusNotFound, "test run not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to retrieve test run")
		return
	}

	respondJSON(w, http.StatusOK, tr)
}

// ReportResponse carries a run's rendered report.
type ReportResponse struct {
	TestRunID uuid.UUID      `json:"test_run_id"`
	Status    testrun.Status `json:"status"`
	Report    string         `json:"report"`
}

// GetReport handles retrieving a run's final report.
func (h *TestRunHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "id", "test run")
	if !ok {
		return
	}

	tr, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, testrun.ErrTestRunNotFound) {
			respondError(w, http.StatusNotFound, "test run not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to retrieve test run")
		return
	}

	if tr.Report == "" {
		respondError(w, http.StatusConflict, "report not available yet")
		return
	}

	respondJSON(w, http.StatusOK, ReportResponse{TestRunID: tr.ID, Status: tr.Status, Report: tr.Report})
}

// ListFrictions handles listing a run's friction points.
func (h *TestRunHandler) ListFrictions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "id", "test run")
	if !ok {
		return
	}

	points, err := h.frictions.ListByTestRun(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list friction points")
		return
	}

	respondJSON(w, http.StatusOK, NewPaginatedResponse(points, len(points), len(points), 0))
}

// ListExecutionLogs handles listing a run's agent execution history.
func (h *TestRunHandler) ListExecutionLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "id", "test run")
	if !ok {
		return
	}

	logs, err := h.logs.ListByTestRun(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list execution logs")
		return
	}

	respondJSON(w, http.StatusOK, NewPaginatedResponse(logs, len(logs), len(logs), 0))
}
