package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hitlai/missionrunner/costledger"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Log      LogConfig
	LLM      LLMConfig
	Costs    CostsConfig
	Monitor  MonitorConfig
	Pipeline PipelineConfig
	Scout    ScoutConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	BedrockRegion string
	BedrockModel  string
	MaxTokens     int
}

// CostsConfig holds cost circuit breaker configuration.
type CostsConfig struct {
	PerRunLimit  float64
	DailyLimit   float64
	DefaultModel string
	Pricing      map[string]costledger.ModelPricing
}

// MonitorConfig holds execution monitor configuration.
type MonitorConfig struct {
	SweepInterval       time.Duration
	HeartbeatStaleAfter time.Duration
}

// PipelineConfig holds pipeline stage timeouts and budgets.
type PipelineConfig struct {
	ScoutTimeout     time.Duration
	MapTimeout       time.Duration
	PlanTimeout      time.Duration
	AuditTimeout     time.Duration
	ScriptGenTimeout time.Duration
	StepTimeout      time.Duration
	MaxAgentRetries  int
	MaxStepFailures  int
	MemoryTopK       int
	AgentTokenBudget int
}

// ScoutConfig holds scout fetcher configuration.
type ScoutConfig struct {
	MaxBodyBytes int64
	UserAgent    string
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "missionrunner")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("log.level", "info")

	v.SetDefault("llm.bedrock_region", "us-east-1")
	v.SetDefault("llm.bedrock_model", "anthropic.claude-sonnet-4-6")
	v.SetDefault("llm.max_tokens", 4096)

	v.SetDefault("costs.per_run_limit", 5.0)
	v.SetDefault("costs.daily_limit", 1000.0)
	v.SetDefault("costs.default_model", "gpt-4o")

	v.SetDefault("monitor.sweep_interval", "5s")
	v.SetDefault("monitor.heartbeat_stale_after", "30s")

	v.SetDefault("pipeline.scout_timeout", "30s")
	v.SetDefault("pipeline.map_timeout", "60s")
	v.SetDefault("pipeline.plan_timeout", "60s")
	v.SetDefault("pipeline.audit_timeout", "90s")
	v.SetDefault("pipeline.script_gen_timeout", "60s")
	v.SetDefault("pipeline.step_timeout", "120s")
	v.SetDefault("pipeline.max_agent_retries", 2)
	v.SetDefault("pipeline.max_step_failures", 3)
	v.SetDefault("pipeline.memory_top_k", 3)
	v.SetDefault("pipeline.agent_token_budget", 4000)

	v.SetDefault("scout.max_body_bytes", 2<<20)
	v.SetDefault("scout.user_agent", "missionrunner-scout/1.0")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults
	}

	// Parse configuration
	var config Config

	config.Server.Host = v.GetString("server.host")
	config.Server.Port = v.GetInt("server.port")
	config.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	config.Server.WriteTimeout = v.GetDuration("server.write_timeout")

	config.Database.Host = v.GetString("database.host")
	config.Database.Port = v.GetInt("database.port")
	config.Database.User = v.GetString("database.user")
	config.Database.Password = v.GetString("database.password")
	config.Database.Database = v.GetString("database.database")
	config.Database.MaxOpenConns = v.GetInt("database.max_open_conns")
	config.Database.MaxIdleConns = v.GetInt("database.max_idle_conns")

	config.Log.Level = v.GetString("log.level")

	config.LLM.BedrockRegion = v.GetString("llm.bedrock_region")
	config.LLM.BedrockModel = v.GetString("llm.bedrock_model")
	config.LLM.MaxTokens = v.GetInt("llm.max_tokens")

	config.Costs.PerRunLimit = v.GetFloat64("costs.per_run_limit")
	config.Costs.DailyLimit = v.GetFloat64("costs.daily_limit")
	config.Costs.DefaultModel = v.GetString("costs.default_model")
	if err := v.UnmarshalKey("costs.pricing", &config.Costs.Pricing); err != nil {
		return nil, fmt.Errorf("failed to parse pricing table: %w", err)
	}

	config.Monitor.SweepInterval = v.GetDuration("monitor.sweep_interval")
	config.Monitor.HeartbeatStaleAfter = v.GetDuration("monitor.heartbeat_stale_after")

	config.Pipeline.ScoutTimeout = v.GetDuration("pipeline.scout_timeout")
	config.Pipeline.MapTimeout = v.GetDuration("pipeline.map_timeout")
	config.Pipeline.PlanTimeout = v.GetDuration("pipeline.plan_timeout")
	config.Pipeline.AuditTimeout = v.GetDuration("pipeline.audit_timeout")
	config.Pipeline.ScriptGenTimeout = v.GetDuration("pipeline.script_gen_timeout")
	config.Pipeline.StepTimeout = v.GetDuration("pipeline.step_timeout")
	config.Pipeline.MaxAgentRetries = v.GetInt("pipeline.max_agent_retries")
	config.Pipeline.MaxStepFailures = v.GetInt("pipeline.max_step_failures")
	config.Pipeline.MemoryTopK = v.GetInt("pipeline.memory_top_k")
	config.Pipeline.AgentTokenBudget = v.GetInt("pipeline.agent_token_budget")

	config.Scout.MaxBodyBytes = v.GetInt64("scout.max_body_bytes")
	config.Scout.UserAgent = v.GetString("scout.user_agent")

	return &config, nil
}
