package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds runner configuration.
// Priority: flags > env vars > .env file > defaults.
type Config struct {
	LogLevel    string
	Concurrency int
	FlowMode    string
	TracePath   string
	MockOnly    bool
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		FlowMode: "default",
	}
}

func loadConfig() Config {
	// Provider API keys usually live in a local .env; missing is fine.
	_ = godotenv.Load()

	cfg := defaultConfig()
	if v := os.Getenv("AGENTFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AGENTFLOW_FLOW_MODE"); v != "" {
		cfg.FlowMode = v
	}
	if v := os.Getenv("AGENTFLOW_TRACE_PATH"); v != "" {
		cfg.TracePath = v
	}
	if v := os.Getenv("AGENTFLOW_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("AGENTFLOW_MOCK"); v != "" {
		cfg.MockOnly = v == "true" || v == "1"
	}
	return cfg
}
