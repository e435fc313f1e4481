// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	DBPath        string
	SessionsDir   string
	ScreenshotDir string
	CredentialKey string // 32-byte key for AES-GCM credential encryption

	MarketplaceURL string // listing-creation page
	LoginURL       string

	Headless bool // submission flow visibility; login is always visible

	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	Timing TimingProfile
}

// TimingProfile groups every wait and poll tolerance used by the browser
// flows. These are tolerances for asynchronous UI updates, not protocol
// requirements, so they are configuration surface rather than constants.
type TimingProfile struct {
	FormUpdateWait   time.Duration // after image upload / field fill
	DropdownOpenWait time.Duration // after clicking a categorical control
	PreClickWait     time.Duration // before clicking publish-type controls
	PageSettleWait   time.Duration // after navigation / step transitions
	ActionTimeout    time.Duration // per element lookup / click
	NavTimeout       time.Duration // per page navigation

	LoginPollInterval   time.Duration // page-phase poll while logging in
	CheckpointCeiling   time.Duration // 2FA / device-approval window
	ManualLoginCeiling  time.Duration // credential-less manual login window
	LoginResponseSettle time.Duration // after submitting credentials
}

// DefaultTiming is the conservative profile used for batch runs.
func DefaultTiming() TimingProfile {
	return TimingProfile{
		FormUpdateWait:      2 * time.Second,
		DropdownOpenWait:    2 * time.Second,
		PreClickWait:        1 * time.Second,
		PageSettleWait:      3 * time.Second,
		ActionTimeout:       15 * time.Second,
		NavTimeout:          60 * time.Second,
		LoginPollInterval:   5 * time.Second,
		CheckpointCeiling:   5 * time.Minute,
		ManualLoginCeiling:  90 * time.Second,
		LoginResponseSettle: 5 * time.Second,
	}
}

// FastTiming trades robustness for speed on low-latency connections.
func FastTiming() TimingProfile {
	return TimingProfile{
		FormUpdateWait:      500 * time.Millisecond,
		DropdownOpenWait:    750 * time.Millisecond,
		PreClickWait:        250 * time.Millisecond,
		PageSettleWait:      time.Second,
		ActionTimeout:       8 * time.Second,
		NavTimeout:          30 * time.Second,
		LoginPollInterval:   3 * time.Second,
		CheckpointCeiling:   5 * time.Minute,
		ManualLoginCeiling:  60 * time.Second,
		LoginResponseSettle: 2 * time.Second,
	}
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	timing := DefaultTiming()
	if strings.EqualFold(getEnv("TIMING_PROFILE", "default"), "fast") {
		timing = FastTiming()
	}
	timing.LoginPollInterval = getEnvDuration("LOGIN_POLL_INTERVAL", timing.LoginPollInterval)
	timing.CheckpointCeiling = getEnvDuration("LOGIN_CHECKPOINT_CEILING", timing.CheckpointCeiling)
	timing.ManualLoginCeiling = getEnvDuration("LOGIN_MANUAL_CEILING", timing.ManualLoginCeiling)
	timing.PageSettleWait = getEnvDuration("PAGE_SETTLE_WAIT", timing.PageSettleWait)

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		FrontendURL:       getEnv("FRONTEND_URL", ""),
		DBPath:            getEnv("DB_PATH", "./data/marketpost.db"),
		SessionsDir:       getEnv("SESSIONS_DIR", "./data/sessions"),
		ScreenshotDir:     getEnv("SCREENSHOT_DIR", "./data/screenshots"),
		CredentialKey:     getEnv("CREDENTIAL_KEY", ""),
		MarketplaceURL:    getEnv("MARKETPLACE_CREATE_URL", "https://www.facebook.com/marketplace/create/item"),
		LoginURL:          getEnv("MARKETPLACE_LOGIN_URL", "https://www.facebook.com/login"),
		Headless:          getEnvBool("AUTOMATION_HEADLESS", true),
		SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", false),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", 10*time.Minute),
		Timing:            timing,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionsDir == "" {
		return fmt.Errorf("SESSIONS_DIR cannot be empty")
	}
	if c.ScreenshotDir == "" {
		return fmt.Errorf("SCREENSHOT_DIR cannot be empty")
	}
	if c.CredentialKey != "" && len(c.CredentialKey) != 32 {
		return fmt.Errorf("CREDENTIAL_KEY must be exactly 32 bytes, got %d", len(c.CredentialKey))
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
