package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/hitlai/missionrunner/agents"
	"github.com/hitlai/missionrunner/cmd/server/handlers"
	"github.com/hitlai/missionrunner/costledger"
	"github.com/hitlai/missionrunner/database"
	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/memory"
	"github.com/hitlai/missionrunner/monitor"
	"github.com/hitlai/missionrunner/orchestrator"
	"github.com/hitlai/missionrunner/pruner"
	"github.com/hitlai/missionrunner/scout"
	"github.com/hitlai/missionrunner/testrun"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServer,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.AddCommand(serveCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Load configuration
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log := logger.NewLogrusLogger(cfg.Log.Level)
	log.Info(ctx, "starting server", logger.Fields{
		"version": Version,
		"commit":  Commit,
		"date":    BuildDate,
	})

	// Connect to database
	db, err := database.Connect(database.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	defer sqlDB.Close()

	log.Info(ctx, "database connected", logger.Fields{
		"host":     cfg.Database.Host,
		"port":     cfg.Database.Port,
		"database": cfg.Database.Database,
	})

	// Initialize stores
	runStore := testrun.NewMySQLStore(db, log)
	actionStore := testrun.NewMySQLActionStore(db, log)
	frictionStore := testrun.NewMySQLFrictionStore(db, log)
	lessonStore := memory.NewMySQLStore(db, log)
	executionLogStore := monitor.NewMySQLLogStore(db, log)
	costStore := costledger.NewMySQLStore(db, log)

	// Execution monitor with background sweep
	mon := monitor.NewMonitor(monitor.Config{
		SweepInterval:       cfg.Monitor.SweepInterval,
		HeartbeatStaleAfter: cfg.Monitor.HeartbeatStaleAfter,
	}, runStore, executionLogStore, log)
	mon.Start()
	defer mon.Stop()

	// Cost ledger
	ledger := costledger.NewLedger(costledger.Config{
		PerRunLimit:  cfg.Costs.PerRunLimit,
		DailyLimit:   cfg.Costs.DailyLimit,
		DefaultModel: cfg.Costs.DefaultModel,
		Pricing:      cfg.Costs.Pricing,
	}, costStore, runStore, costledger.NewLogAlerter(log), log)

	// LLM client
	llm, err := agents.NewBedrockClient(cfg.LLM.BedrockRegion, cfg.LLM.BedrockModel, cfg.LLM.MaxTokens)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	// Pipeline collaborators
	prn := pruner.NewPruner(pruner.Config{}, log)
	fetcher := scout.NewHTTPFetcher(scout.Config{
		MaxBodyBytes: cfg.Scout.MaxBodyBytes,
		UserAgent:    cfg.Scout.UserAgent,
	}, nil, log)

	coordinator := orchestrator.NewCoordinator(orchestrator.Config{
		ScoutTimeout:     cfg.Pipeline.ScoutTimeout,
		MapTimeout:       cfg.Pipeline.MapTimeout,
		PlanTimeout:      cfg.Pipeline.PlanTimeout,
		AuditTimeout:     cfg.Pipeline.AuditTimeout,
		ScriptGenTimeout: cfg.Pipeline.ScriptGenTimeout,
		StepTimeout:      cfg.Pipeline.StepTimeout,
		MaxAgentRetries:  cfg.Pipeline.MaxAgentRetries,
		MaxStepFailures:  cfg.Pipeline.MaxStepFailures,
		MemoryTopK:       cfg.Pipeline.MemoryTopK,
		AgentTokenBudget: cfg.Pipeline.AgentTokenBudget,
	}, orchestrator.Deps{
		Runs:      runStore,
		Actions:   actionStore,
		Frictions: frictionStore,
		Lessons:   lessonStore,
		Fetcher:   fetcher,
		Mapper:    orchestrator.NewStaticMapper(prn),
		Runner:    orchestrator.NewNoopRunner(log),
		LLM:       llm,
		Pruner:    prn,
		Monitor:   mon,
		Ledger:    ledger,
		Logger:    log,
	})

	launch := func(runID uuid.UUID) {
		go func() {
			result := coordinator.ExecuteTest(context.Background(), runID)
			if !result.Success {
				log.Warn(context.Background(), "pipeline finished unsuccessfully", logger.Fields{
					"test_run_id": runID.String(),
					"status":      string(result.Status),
					"error":       result.Err,
				})
			}
		}()
	}

	// Setup router
	router := mux.NewRouter()
	router.Use(handlers.NewRequestLogger(log).Handler)

	router.HandleFunc("/health", handlers.HealthHandler).Methods("GET")

	runHandler := handlers.NewTestRunHandler(runStore, frictionStore, executionLogStore, launch, log)
	monitoringHandler := handlers.NewMonitoringHandler(mon, ledger, costStore, log)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/test-runs", runHandler.Create).Methods("POST")
	api.HandleFunc("/test-runs", runHandler.List).Methods("GET")
	api.HandleFunc("/test-runs/{id}", runHandler.GetByID).Methods("GET")
	api.HandleFunc("/test-runs/{id}/report", runHandler.GetReport).Methods("GET")
	api.HandleFunc("/test-runs/{id}/frictions", runHandler.ListFrictions).Methods("GET")
	api.HandleFunc("/test-runs/{id}/executions", runHandler.ListExecutionLogs).Methods("GET")
	api.HandleFunc("/test-runs/{id}/costs", monitoringHandler.RunCosts).Methods("GET")
	api.HandleFunc("/test-runs/{id}/kill", monitoringHandler.KillRun).Methods("POST")

	api.HandleFunc("/monitoring/executions", monitoringHandler.ActiveExecutions).Methods("GET")
	api.HandleFunc("/monitoring/costs/daily", monitoringHandler.DailyCosts).Methods("GET")
	api.HandleFunc("/monitoring/costs/daily/reset", monitoringHandler.ResetDailyLimit).Methods("POST")

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info(ctx, "server listening", logger.Fields{
			"address": addr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "server error", logger.Fields{
				"error": err.Error(),
			})
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "shutting down server", nil)

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info(ctx, "server stopped", nil)
	return nil
}
