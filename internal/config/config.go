package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the overlay agent.
type Config struct {
	// CDP connection settings
	CDPAddress     string
	CDPPort        int
	EvalTimeoutMS  int
	LaunchBrowser  bool
	ProfileDir     string
	StartURL       string
	EnableCrashLog bool

	// HTTP surface
	BindAddr     string
	BindFallback bool
	LogLevel     string
	LogFile      string

	// Overlay payload
	BundleDir     string
	Origin        string
	SidebarAppURL string
	SitesFile     string

	// Badge counts
	BadgeAPI string
	BadgeRPS float64

	// Permissions granted to the add-on
	FileAccess bool
	AutoGrant  bool

	// Persistence
	StateFile     string
	ReportFile    string
	ReportMaxMB   int
	ReportMaxDays int
	ReportBufSize int
	ReportWebhook string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:     getEnvOrDefault("OVERLAY_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:        getEnvIntOrDefault("OVERLAY_CDP_PORT", 9222),
		EvalTimeoutMS:  getEnvIntOrDefault("OVERLAY_EVAL_TIMEOUT_MS", 5000),
		LaunchBrowser:  getEnvBoolOrDefault("OVERLAY_LAUNCH_BROWSER", false),
		ProfileDir:     getEnvOrDefault("OVERLAY_PROFILE_DIR", "./data/profile"),
		StartURL:       getEnvOrDefault("OVERLAY_START_URL", "about:blank"),
		EnableCrashLog: getEnvBoolOrDefault("OVERLAY_CRASH_REPORTER", false),
		BindAddr:       getEnvOrDefault("OVERLAY_BIND_ADDR", "127.0.0.1:8190"),
		BindFallback:   getEnvBoolOrDefault("OVERLAY_BIND_FALLBACK", true),
		LogLevel:       strings.ToLower(getEnvOrDefault("OVERLAY_LOG_LEVEL", "info")),
		LogFile:        getEnvOrDefault("OVERLAY_LOG_FILE", "logs/overlay_agent.log"),
		BundleDir:      getEnvOrDefault("OVERLAY_BUNDLE_DIR", "./bundle"),
		Origin:         strings.TrimRight(os.Getenv("OVERLAY_ORIGIN"), "/"),
		SidebarAppURL:  getEnvOrDefault("OVERLAY_SIDEBAR_APP_URL", "https://hypothes.is/app.html"),
		SitesFile:      os.Getenv("OVERLAY_SITES_FILE"),
		BadgeAPI:       getEnvOrDefault("OVERLAY_BADGE_API", "https://hypothes.is/api/badge"),
		BadgeRPS:       getEnvFloatOrDefault("OVERLAY_BADGE_RPS", 5),
		FileAccess:     getEnvBoolOrDefault("OVERLAY_FILE_ACCESS", false),
		AutoGrant:      getEnvBoolOrDefault("OVERLAY_AUTO_GRANT", true),
		StateFile:      getEnvOrDefault("OVERLAY_STATE_FILE", "./data/tab_state.json"),
		ReportFile:     getEnvOrDefault("OVERLAY_REPORT_FILE", "logs/error_reports.jsonl"),
		ReportMaxMB:    getEnvIntOrDefault("OVERLAY_REPORT_MAX_MB", 50),
		ReportMaxDays:  getEnvIntOrDefault("OVERLAY_REPORT_MAX_DAYS", 30),
		ReportBufSize:  getEnvIntOrDefault("OVERLAY_REPORT_BUFFER_SIZE", 256),
		ReportWebhook:  os.Getenv("OVERLAY_REPORT_WEBHOOK"),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.CDPPort <= 0 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("invalid OVERLAY_CDP_PORT: %d", cfg.CDPPort)
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint of the browser.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// EvalTimeout returns the per-script evaluation timeout.
func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

// OriginFor returns the add-on origin, defaulting to the static bundle
// served on bindAddr.
func (c *Config) OriginFor(bindAddr string) string {
	if c.Origin != "" {
		return c.Origin
	}
	return "http://" + bindAddr + "/ext"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
