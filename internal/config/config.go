// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// ControlPort is the local HTTP port for the control API.
	ControlPort string

	// APIURL is the base URL of the remote memory backend.
	APIURL string

	// DBPath locates the local SQLite settings database.
	DBPath string

	// BrowserURL, when set, points at an already-running DevTools
	// endpoint and disables Docker provisioning.
	BrowserURL string

	// BrowserImage is the headless Chrome image to provision.
	BrowserImage string

	// AllowedOrigins restricts control API CORS.
	AllowedOrigins []string

	PollInterval      time.Duration
	PollTimeout       time.Duration
	CaptureRetryDelay time.Duration
	PasteSettleDelay  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ControlPort:       getEnv("CONTROL_PORT", "8787"),
		APIURL:            getEnv("API_URL", "https://web-production-7e6a8.up.railway.app/api"),
		DBPath:            getEnv("DB_PATH", "./data/agent.db"),
		BrowserURL:        getEnv("BROWSER_URL", ""),
		BrowserImage:      getEnv("BROWSER_IMAGE", "chromedp/headless-shell:latest"),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "*")),
		PollInterval:      getEnvDuration("POLL_INTERVAL_MS", 500*time.Millisecond),
		PollTimeout:       getEnvDuration("POLL_TIMEOUT_MS", 120*time.Second),
		CaptureRetryDelay: getEnvDuration("CAPTURE_RETRY_MS", 500*time.Millisecond),
		PasteSettleDelay:  getEnvDuration("PASTE_SETTLE_MS", 10*time.Millisecond),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.ControlPort == "" {
		return fmt.Errorf("CONTROL_PORT cannot be empty")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API_URL cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.BrowserURL == "" && c.BrowserImage == "" {
		return fmt.Errorf("either BROWSER_URL or BROWSER_IMAGE must be set")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be > 0")
	}
	if c.PollTimeout <= c.PollInterval {
		return fmt.Errorf("POLL_TIMEOUT_MS must exceed POLL_INTERVAL_MS")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
