package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"optionsim/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// HTTP server
	ListenAddr string

	// Upstream feed
	FeedAPIBase string
	AccessToken string

	// Instrument catalog
	CatalogPath       string
	DefaultUnderlying string

	// Feed session parameters
	StrikeWindow      int
	BroadcastInterval time.Duration
	QuoteTTL          time.Duration
	ResetCooldown     time.Duration
	ResetTimeout      time.Duration

	// Market hours
	MarketTZ        string
	ForceMarketOpen bool

	// Execution
	MonitorInterval time.Duration
	LockTTL         time.Duration
	StartingBalance float64

	// Greeks
	RiskFreeRate  float64
	GreeksWorkers int

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.ListenAddr = getEnv("LISTEN_ADDR", ":8080")

	// Upstream feed
	cfg.FeedAPIBase = getEnv("FEED_API_BASE", "https://api.upstox.com/v3")
	if cfg.FeedAPIBase == "" {
		errs = append(errs, "FEED_API_BASE must be set")
	}
	cfg.AccessToken = getEnv("ACCESS_TOKEN", "")
	if cfg.AccessToken == "" {
		errs = append(errs, "ACCESS_TOKEN must be set")
	}

	// Instrument catalog
	cfg.CatalogPath = getEnv("CATALOG_PATH", "./data/instruments.csv")
	if cfg.CatalogPath == "" {
		errs = append(errs, "CATALOG_PATH must be set")
	}
	cfg.DefaultUnderlying = getEnv("DEFAULT_UNDERLYING", "NIFTY")

	// Feed session parameters
	cfg.StrikeWindow, err = getEnvAsIntRequired("STRIKE_WINDOW", 8)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STRIKE_WINDOW: %v", err))
	} else if cfg.StrikeWindow <= 0 {
		errs = append(errs, "STRIKE_WINDOW must be positive")
	}

	broadcastMs := getEnvAsInt("BROADCAST_INTERVAL_MS", 50)
	if broadcastMs <= 0 {
		errs = append(errs, "BROADCAST_INTERVAL_MS must be positive")
	}
	cfg.BroadcastInterval = time.Duration(broadcastMs) * time.Millisecond

	quoteTTLSeconds := getEnvAsInt("QUOTE_TTL_SECONDS", 10)
	if quoteTTLSeconds <= 0 {
		errs = append(errs, "QUOTE_TTL_SECONDS must be positive")
	}
	cfg.QuoteTTL = time.Duration(quoteTTLSeconds) * time.Second

	resetCooldownSeconds := getEnvAsInt("RESET_COOLDOWN_SECONDS", 5)
	if resetCooldownSeconds <= 0 {
		errs = append(errs, "RESET_COOLDOWN_SECONDS must be positive")
	}
	cfg.ResetCooldown = time.Duration(resetCooldownSeconds) * time.Second

	resetTimeoutSeconds := getEnvAsInt("RESET_TIMEOUT_SECONDS", 10)
	if resetTimeoutSeconds <= 0 {
		errs = append(errs, "RESET_TIMEOUT_SECONDS must be positive")
	}
	cfg.ResetTimeout = time.Duration(resetTimeoutSeconds) * time.Second

	// Market hours
	cfg.MarketTZ = getEnv("MARKET_TZ", "Asia/Kolkata")
	if _, tzErr := time.LoadLocation(cfg.MarketTZ); tzErr != nil {
		errs = append(errs, fmt.Sprintf("invalid MARKET_TZ %q: %v", cfg.MarketTZ, tzErr))
	}
	cfg.ForceMarketOpen = getEnvAsBool("FORCE_MARKET_OPEN", false)

	// Execution
	monitorMs := getEnvAsInt("MONITOR_INTERVAL_MS", 1000)
	if monitorMs <= 0 {
		errs = append(errs, "MONITOR_INTERVAL_MS must be positive")
	}
	cfg.MonitorInterval = time.Duration(monitorMs) * time.Millisecond

	lockMs := getEnvAsInt("LOCK_TTL_MS", 1000)
	if lockMs <= 0 {
		errs = append(errs, "LOCK_TTL_MS must be positive")
	}
	cfg.LockTTL = time.Duration(lockMs) * time.Millisecond

	cfg.StartingBalance, err = getEnvAsFloatRequired("STARTING_BALANCE", 50000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STARTING_BALANCE: %v", err))
	} else if cfg.StartingBalance <= 0 {
		errs = append(errs, "STARTING_BALANCE must be positive")
	}

	// Greeks
	cfg.RiskFreeRate, err = getEnvAsFloatRequired("RISK_FREE_RATE", 0.06)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_FREE_RATE: %v", err))
	} else if cfg.RiskFreeRate < 0 || cfg.RiskFreeRate >= 1.0 {
		errs = append(errs, "RISK_FREE_RATE must be between 0.0 and 1.0")
	}

	cfg.GreeksWorkers = getEnvAsInt("GREEKS_WORKERS", 4)
	if cfg.GreeksWorkers <= 0 {
		errs = append(errs, "GREEKS_WORKERS must be positive")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/optionsim.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// MarketLocation returns the configured exchange time zone. LoadConfig has
// already validated it, so a parse failure here falls back to UTC.
func (c *Config) MarketLocation() *time.Location {
	loc, err := time.LoadLocation(c.MarketTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
