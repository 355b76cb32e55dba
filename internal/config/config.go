package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the system-wide settings tree. Precedence when loading:
// file > environment > defaults.
type Config struct {
	Store   *StoreConfig   `json:"store"`
	HTTP    *HTTPConfig    `json:"http"`
	Session *SessionConfig `json:"session"`
}

type StoreConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	CORSOrigins  []string      `json:"cors_origins"`
}

type SessionConfig struct {
	IdleThreshold    time.Duration `json:"idle_threshold"`
	TutorPassword    string        `json:"tutor_password"`
	LearnerPassword  string        `json:"learner_password"`
	AlertFeedSize    int           `json:"alert_feed_size"`
	ActivityFeedSize int           `json:"activity_feed_size"`
}

// DefaultConfig mirrors the reference deployment: 30s idle threshold,
// live feeds of 10 alerts and 20 activities, SQLite next to the binary.
func DefaultConfig() *Config {
	return &Config{
		Store: &StoreConfig{
			Path:    "./classpulse.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			CORSOrigins:  []string{"*"},
		},
		Session: &SessionConfig{
			IdleThreshold:    30 * time.Second,
			TutorPassword:    "admin123",
			LearnerPassword:  "pass123",
			AlertFeedSize:    10,
			ActivityFeedSize: 20,
		},
	}
}

func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path cannot be empty")
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	if c.Session.IdleThreshold <= 0 {
		return fmt.Errorf("idle threshold must be positive")
	}
	if c.Session.TutorPassword == "" || c.Session.LearnerPassword == "" {
		return fmt.Errorf("role passwords cannot be empty")
	}
	if c.Session.AlertFeedSize <= 0 {
		return fmt.Errorf("alert feed size must be positive")
	}
	if c.Session.ActivityFeedSize <= 0 {
		return fmt.Errorf("activity feed size must be positive")
	}

	return nil
}

// LoadFromEnv overlays CLASSPULSE_* environment variables on the
// defaults. Unparseable values fall back silently.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString("CLASSPULSE_STORE_PATH", &cfg.Store.Path)
	setDuration("CLASSPULSE_STORE_TIMEOUT", &cfg.Store.Timeout)

	setString("CLASSPULSE_HTTP_HOST", &cfg.HTTP.Host)
	setInt("CLASSPULSE_HTTP_PORT", &cfg.HTTP.Port)
	setDuration("CLASSPULSE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	setDuration("CLASSPULSE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	if v := os.Getenv("CLASSPULSE_CORS_ORIGINS"); v != "" {
		cfg.HTTP.CORSOrigins = splitCSV(v)
	}

	setDuration("CLASSPULSE_IDLE_THRESHOLD", &cfg.Session.IdleThreshold)
	setString("CLASSPULSE_TUTOR_PASSWORD", &cfg.Session.TutorPassword)
	setString("CLASSPULSE_LEARNER_PASSWORD", &cfg.Session.LearnerPassword)
	setInt("CLASSPULSE_ALERT_FEED_SIZE", &cfg.Session.AlertFeedSize)
	setInt("CLASSPULSE_ACTIVITY_FEED_SIZE", &cfg.Session.ActivityFeedSize)

	return cfg
}

// configFile is the JSON shape; durations are strings ("30s").
type configFile struct {
	Store *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"store"`
	HTTP *struct {
		Host         string   `json:"host"`
		Port         int      `json:"port"`
		ReadTimeout  string   `json:"read_timeout"`
		WriteTimeout string   `json:"write_timeout"`
		CORSOrigins  []string `json:"cors_origins"`
	} `json:"http"`
	Session *struct {
		IdleThreshold    string `json:"idle_threshold"`
		TutorPassword    string `json:"tutor_password"`
		LearnerPassword  string `json:"learner_password"`
		AlertFeedSize    int    `json:"alert_feed_size"`
		ActivityFeedSize int    `json:"activity_feed_size"`
	} `json:"session"`
}

// LoadFromFile overlays a JSON file on the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if file.Store != nil {
		if file.Store.Path != "" {
			cfg.Store.Path = file.Store.Path
		}
		overlayDuration(file.Store.Timeout, &cfg.Store.Timeout)
	}
	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			cfg.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			cfg.HTTP.Port = file.HTTP.Port
		}
		overlayDuration(file.HTTP.ReadTimeout, &cfg.HTTP.ReadTimeout)
		overlayDuration(file.HTTP.WriteTimeout, &cfg.HTTP.WriteTimeout)
		if len(file.HTTP.CORSOrigins) > 0 {
			cfg.HTTP.CORSOrigins = file.HTTP.CORSOrigins
		}
	}
	if file.Session != nil {
		overlayDuration(file.Session.IdleThreshold, &cfg.Session.IdleThreshold)
		if file.Session.TutorPassword != "" {
			cfg.Session.TutorPassword = file.Session.TutorPassword
		}
		if file.Session.LearnerPassword != "" {
			cfg.Session.LearnerPassword = file.Session.LearnerPassword
		}
		if file.Session.AlertFeedSize > 0 {
			cfg.Session.AlertFeedSize = file.Session.AlertFeedSize
		}
		if file.Session.ActivityFeedSize > 0 {
			cfg.Session.ActivityFeedSize = file.Session.ActivityFeedSize
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Load resolves configuration with precedence: file > env > defaults.
// File errors degrade to the env/default config.
func Load(path string) *Config {
	cfg := LoadFromEnv()

	if path != "" {
		if fileCfg, err := LoadFromFile(path); err == nil {
			cfg = fileCfg
		}
	}
	return cfg
}

func overlayDuration(raw string, dst *time.Duration) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
