package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all cascade configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	WorkflowsDir   string `json:"workflows_dir"`
	LogLevel       string `json:"log_level"`
	AccountID      string `json:"account_id"`
	VaultPassword  string `json:"vault_password"`
	VaultSalt      string `json:"vault_salt"`
	AgentTextLabel string `json:"agent_text_label"`
}

func defaultConfig() Config {
	return Config{
		DBPath:       filepath.Join(cascadeDir(), "cascade.db"),
		WorkflowsDir: filepath.Join(cascadeDir(), "workflows"),
		LogLevel:     "info",
		AccountID:    "default",
	}
}

func cascadeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cascade"
	}
	return filepath.Join(home, ".cascade")
}

func settingsPath() string {
	return filepath.Join(cascadeDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CASCADE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CASCADE_WORKFLOWS_DIR"); v != "" {
		cfg.WorkflowsDir = v
	}
	if v := os.Getenv("CASCADE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CASCADE_ACCOUNT_ID"); v != "" {
		cfg.AccountID = v
	}
	if v := os.Getenv("CASCADE_VAULT_PASSWORD"); v != "" {
		cfg.VaultPassword = v
	}
	if v := os.Getenv("CASCADE_VAULT_SALT"); v != "" {
		cfg.VaultSalt = v
	}

	return cfg
}
