// Package config loads the bot configuration from the taskbot home
// directory, with environment overrides on top of the YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelegramConfig struct {
	Token string `yaml:"token"`

	// AllowedChatIDs restricts which chats the bot answers. Empty means open.
	AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	// PageSize is the task-listing page length.
	PageSize int `yaml:"page_size"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	Telegram TelegramConfig `yaml:"telegram"`
}

// HomeDir resolves the taskbot data directory: TASKBOT_HOME or ~/.taskbot.
func HomeDir() string {
	if dir := strings.TrimSpace(os.Getenv("TASKBOT_HOME")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskbot")
}

// Path returns the config file location under the taskbot home.
func Path(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the taskbot home (a missing file is fine),
// applies env overrides, and fills in defaults.
func Load() (Config, error) {
	cfg := Config{HomeDir: HomeDir()}

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create taskbot home: %w", err)
	}

	data, err := os.ReadFile(Path(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TASKBOT_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TASKBOT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TASKBOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TASKBOT_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PageSize = n
		}
	}
}

func normalize(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "taskbot.db")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
}
