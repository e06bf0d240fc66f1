package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all chatflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr      string `json:"listen_addr"`
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	Locale          string `json:"locale"`
	ScenarioDir     string `json:"scenario_dir"`
	APITimeoutSec   int    `json:"api_timeout_sec"`
	LLMTimeoutSec   int    `json:"llm_timeout_sec"`
	LLMModel        string `json:"llm_model"`
	LLMBaseURL      string `json:"llm_base_url"`
	CleanupSchedule string `json:"cleanup_schedule"`
	SessionTTLHours int    `json:"session_ttl_hours"`

	// Memory-only settings, never persisted.
	LLMAPIKey       string `json:"-"`
	VaultPassphrase string `json:"-"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:      ":4200",
		DBPath:          filepath.Join(chatflowDir(), "chatflow.db"),
		LogLevel:        "info",
		Locale:          "en",
		APITimeoutSec:   10,
		LLMTimeoutSec:   30,
		CleanupSchedule: "0 * * * *",
		SessionTTLHours: 24,
	}
}

func chatflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatflow"
	}
	return filepath.Join(home, ".chatflow")
}

func settingsPath() string {
	return filepath.Join(chatflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CHATFLOW_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CHATFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CHATFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHATFLOW_LOCALE"); v != "" {
		cfg.Locale = v
	}
	if v := os.Getenv("CHATFLOW_SCENARIO_DIR"); v != "" {
		cfg.ScenarioDir = v
	}
	if v := os.Getenv("CHATFLOW_API_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.APITimeoutSec = n
		}
	}
	if v := os.Getenv("CHATFLOW_LLM_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLMTimeoutSec = n
		}
	}
	if v := os.Getenv("CHATFLOW_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("CHATFLOW_LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("CHATFLOW_CLEANUP_SCHEDULE"); v != "" {
		cfg.CleanupSchedule = v
	}
	if v := os.Getenv("CHATFLOW_SESSION_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLHours = n
		}
	}

	cfg.LLMAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.VaultPassphrase = os.Getenv("CHATFLOW_VAULT_PASSPHRASE")

	return cfg
}

func (c Config) apiTimeout() time.Duration { return time.Duration(c.APITimeoutSec) * time.Second }
func (c Config) llmTimeout() time.Duration { return time.Duration(c.LLMTimeoutSec) * time.Second }
func (c Config) sessionTTL() time.Duration { return time.Duration(c.SessionTTLHours) * time.Hour }
