// Package config handles environment-based configuration loading and runtime config models.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CFBestIPFeedURLDefault is the documented placeholder for the online
// Cloudflare-best-IP feed (spec §9 ambiguity (a)): the real
// www.cloudflare.com/ips-v4 endpoint is a CIDR ownership list, not a
// "best IP" ranking, so this module does not guess an undocumented
// third-party endpoint and instead exposes a configuration-overridable
// constant that operators are expected to point at a feed they trust.
const CFBestIPFeedURLDefault = "https://example-cf-best-ip-feed.invalid/ips"

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	StateDir string
	LogDir   string

	// Network
	ListenAddress string
	APIPort       int

	// Stations
	StationsFile string // optional YAML station list, ANYFAST_STATIONS_FILE

	// Core thresholds (spec §4.6 "Defensive clamps")
	CheckInterval    time.Duration
	SlowThresholdPct int
	FailureThreshold int
	MedianN          int

	// Candidate sourcing
	CFBestIPFeedURL string

	// Auth
	AdminToken string

	// GeoIP
	GeoIPDBPath          string
	GeoIPUpdateSchedule  string

	// History
	HistoryDBPath string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.StateDir = envStr("ANYFAST_STATE_DIR", "/var/lib/anyfast")
	cfg.LogDir = envStr("ANYFAST_LOG_DIR", "/var/log/anyfast")
	cfg.ListenAddress = strings.TrimSpace(envStr("ANYFAST_LISTEN_ADDRESS", "127.0.0.1"))
	cfg.APIPort = envInt("ANYFAST_API_PORT", 8765, &errs)

	cfg.StationsFile = envStr("ANYFAST_STATIONS_FILE", "")

	cfg.CheckInterval = envDuration("ANYFAST_CHECK_INTERVAL", 5*time.Minute, &errs)
	cfg.SlowThresholdPct = envInt("ANYFAST_SLOW_THRESHOLD_PCT", 150, &errs)
	cfg.FailureThreshold = envInt("ANYFAST_FAILURE_THRESHOLD", 3, &errs)
	cfg.MedianN = envInt("ANYFAST_MEDIAN_N", 3, &errs)

	cfg.CFBestIPFeedURL = envStr("ANYFAST_CF_BEST_IP_FEED_URL", CFBestIPFeedURLDefault)

	adminToken, hasAdminToken := os.LookupEnv("ANYFAST_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	cfg.GeoIPDBPath = envStr("ANYFAST_GEOIP_DB_PATH", "")
	cfg.GeoIPUpdateSchedule = envStr("ANYFAST_GEOIP_UPDATE_SCHEDULE", "0 7 * * *")

	cfg.HistoryDBPath = envStr("ANYFAST_HISTORY_DB_PATH", "/var/lib/anyfast/history.db")

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "ANYFAST_ADMIN_TOKEN must be defined (can be empty)")
	} else if IsWeakToken(cfg.AdminToken) {
		errs = append(errs, "ANYFAST_ADMIN_TOKEN: too weak, choose a stronger token")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "ANYFAST_LISTEN_ADDRESS must not be empty")
	}
	validatePort("ANYFAST_API_PORT", cfg.APIPort, &errs)

	// Defensive floors mirror healthcheck's own clamping so misconfiguration
	// is surfaced at startup rather than silently clamped at runtime.
	if cfg.CheckInterval < 60*time.Second {
		errs = append(errs, "ANYFAST_CHECK_INTERVAL: must be at least 60s")
	}
	if cfg.SlowThresholdPct < 100 {
		errs = append(errs, "ANYFAST_SLOW_THRESHOLD_PCT: must be at least 100")
	}
	if cfg.FailureThreshold < 3 {
		errs = append(errs, "ANYFAST_FAILURE_THRESHOLD: must be at least 3")
	}
	validatePositive("ANYFAST_MEDIAN_N", cfg.MedianN, &errs)
	if cfg.MedianN > 5 {
		errs = append(errs, "ANYFAST_MEDIAN_N: must be at most 5")
	}
	if cfg.HistoryDBPath == "" {
		errs = append(errs, "ANYFAST_HISTORY_DB_PATH must not be empty")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envStringSlice(key string, defaultVal []string, errs *[]string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid JSON string array %q", key, v))
		return defaultVal
	}
	if out == nil {
		return []string{}
	}
	return out
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
