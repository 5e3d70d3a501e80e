package handlers

import (
	"net/http"

	"github.com/hitlai/missionrunner/costledger"
	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/monitor"
)

// MonitoringHandler exposes live execution and cost state for operators.
type MonitoringHandler struct {
	monitor *monitor.Monitor
	ledger  *costledger.Ledger
	costs   costledger.Store
	logger  logger.Logger
}

// NewMonitoringHandler creates a new monitoring handler.
func NewMonitoringHandler(mon *monitor.Monitor, ledger *costledger.Ledger, costs costledger.Store, log logger.Logger) *MonitoringHandler {
	return &MonitoringHandler{
		monitor: mon,
		ledger:  ledger,
		costs:   costs,
		logger:  log,
	}
}

// ActiveExecutions handles listing all in-flight agent executions.
func (h *MonitoringHandler) ActiveExecutions(w http.ResponseWriter, r *http.Request) {
	snapshots := h.monitor.GetActiveExecutions()
	respondJSON(w, http.StatusOK, NewPaginatedResponse(snapshots, len(snapshots), len(snapshots), 0))
}

// DailyCosts handles retrieving the current daily spend summary.
func (h *MonitoringHandler) DailyCosts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.ledger.GetDailySummary())
}

// RunCosts handles retrieving one run's cost breakdown. Falls back to the
// durable call log when the run's in-memory accumulator is gone.
func (h *MonitoringHandler) RunCosts(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "id", "test run")
	if !ok {
		return
	}

	if breakdown, live := h.ledger.GetCostBreakdown(id); live {
		respondJSON(w, http.StatusOK, breakdown)
		return
	}

	calls, err := h.costs.ListCallsByTestRun(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load cost records")
		return
	}

	breakdown := costledger.Breakdown{
		TestRunID: id,
		ByModel:   make(map[string]float64),
		ByAgent:   make(map[string]float64),
	}
	for _, call := range calls {
		breakdown.TotalCost += call.Cost
		breakdown.CallCount++
		breakdown.ByModel[call.Model] += call.Cost
		breakdown.ByAgent[call.AgentName] += call.Cost
	}

	respondJSON(w, http.StatusOK, breakdown)
}

// KillRun handles operator termination of a run's executions.
func (h *MonitoringHandler) KillRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "id", "test run")
	if !ok {
		return
	}

	h.monitor.KillRun(r.Context(), id, "operator requested")
	respondSuccess(w, "test run killed")
}

// ResetDailyLimit handles operator reset of the daily cost window.
func (h *MonitoringHandler) ResetDailyLimit(w http.ResponseWriter, r *http.Request) {
	h.ledger.ResetDailyLimit()
	h.logger.Warn(r.Context(), "daily cost limit reset by operator", nil)
	respondSuccess(w, "daily cost limit reset")
}
