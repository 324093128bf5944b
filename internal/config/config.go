package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for a monitoring session.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Session behavior
	Mode        string // "launch" or "attach"
	ProjectID   string
	BrowserPath string
	StartPort   int

	// Output settings
	OutputDir    string
	OutputMode   string // "buffered" or "immediate"
	HTMLMaxBytes int
	LogMaxSizeMB int

	// Capture behavior
	IgnorePatterns    []string
	HotReloadPatterns []string

	// Control plane
	ControlBindAddr string
	HardTimeoutSec  int
	ExitMode        string // "disconnect" or "close"

	// Connect retry policy
	RetryAttempts int
	RetryDelayMS  int

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("BROWSERTAP_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("BROWSERTAP_CDP_PORT", 9222),
		Mode:              strings.ToLower(getEnvOrDefault("BROWSERTAP_MODE", "attach")),
		ProjectID:         getEnvOrDefault("BROWSERTAP_PROJECT_ID", defaultProjectID()),
		BrowserPath:       getEnvOrDefault("BROWSERTAP_BROWSER_PATH", ""),
		StartPort:         getEnvIntOrDefault("BROWSERTAP_START_PORT", 9222),
		OutputDir:         getEnvOrDefault("BROWSERTAP_OUTPUT_DIR", "./monitor_output"),
		OutputMode:        strings.ToLower(getEnvOrDefault("BROWSERTAP_OUTPUT_MODE", "buffered")),
		HTMLMaxBytes:      getEnvIntOrDefault("BROWSERTAP_HTML_MAX_BYTES", 2*1024*1024),
		LogMaxSizeMB:      getEnvIntOrDefault("BROWSERTAP_LOG_MAX_SIZE_MB", 50),
		IgnorePatterns:    splitPatterns(os.Getenv("BROWSERTAP_IGNORE_PATTERNS")),
		HotReloadPatterns: splitPatterns(getEnvOrDefault("BROWSERTAP_HOT_RELOAD_PATTERNS", "[vite] hot updated,[vite] connecting,[HMR],webpack-dev-server")),
		ControlBindAddr:   getEnvOrDefault("BROWSERTAP_CONTROL_ADDR", "127.0.0.1:60001"),
		HardTimeoutSec:    getEnvIntOrDefault("BROWSERTAP_HARD_TIMEOUT_SEC", 0),
		ExitMode:          strings.ToLower(getEnvOrDefault("BROWSERTAP_EXIT_MODE", "disconnect")),
		RetryAttempts:     getEnvIntOrDefault("BROWSERTAP_RETRY_ATTEMPTS", 5),
		RetryDelayMS:      getEnvIntOrDefault("BROWSERTAP_RETRY_DELAY_MS", 1500),
		LogLevel:          strings.ToLower(getEnvOrDefault("BROWSERTAP_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("BROWSERTAP_LOG_FILE", "logs/browsertap.log"),
	}

	if cfg.Mode != "launch" && cfg.Mode != "attach" {
		return nil, fmt.Errorf("invalid BROWSERTAP_MODE %q (want launch or attach)", cfg.Mode)
	}
	if cfg.OutputMode != "buffered" && cfg.OutputMode != "immediate" {
		return nil, fmt.Errorf("invalid BROWSERTAP_OUTPUT_MODE %q (want buffered or immediate)", cfg.OutputMode)
	}
	if cfg.ExitMode != "disconnect" && cfg.ExitMode != "close" {
		return nil, fmt.Errorf("invalid BROWSERTAP_EXIT_MODE %q (want disconnect or close)", cfg.ExitMode)
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used by the remote allocator.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// defaultProjectID derives a project identifier from the working directory name.
func defaultProjectID() string {
	wd, err := os.Getwd()
	if err != nil {
		return "default"
	}
	parts := strings.Split(strings.TrimRight(wd, "/"), "/")
	name := parts[len(parts)-1]
	if name == "" {
		return "default"
	}
	return name
}

func splitPatterns(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
