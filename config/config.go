package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"futuresDesk/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Exchange
	IsTestnet     bool
	RESTRateLimit float64 // requests per second per account client

	// Accounts
	AccountsFile string

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel
	LogJSON  bool

	// Scheduling
	ListenerStartInterval time.Duration
	SessionKeepAlive      time.Duration
	WatchdogAuditInterval time.Duration

	// Event handling
	DedupTTL           time.Duration
	TradeLookupTimeout time.Duration // negative means a single lookup
	UpdateRetries      int
	StopLossMoveDelay  time.Duration

	// Risk
	DefaultTradeBudget     decimal.Decimal
	BudgetTolerancePercent decimal.Decimal
	MaxLeverage            int
	MaxPositionNotional    decimal.Decimal

	// Notifications
	TelegramBotToken string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	cfg.RESTRateLimit, err = getEnvAsFloatRequired("REST_RATE_LIMIT_PER_SECOND", 10)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.RESTRateLimit <= 0 {
		errs = append(errs, "REST_RATE_LIMIT_PER_SECOND must be positive")
	}

	cfg.AccountsFile = getEnv("ACCOUNTS_FILE", "./accounts.yaml")
	cfg.DBPath = getEnv("DB_PATH", "./data/futures_desk.db")

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogJSON = strings.EqualFold(getEnv("LOG_FORMAT", "text"), "json")

	cfg.ListenerStartInterval = positiveDuration(&errs, "LISTENER_START_INTERVAL_SECONDS", 60, time.Second)
	cfg.SessionKeepAlive = positiveDuration(&errs, "SESSION_KEEPALIVE_MINUTES", 30, time.Minute)
	if cfg.SessionKeepAlive >= time.Hour {
		errs = append(errs, "SESSION_KEEPALIVE_MINUTES must be below 60, session keys expire after an hour")
	}
	cfg.WatchdogAuditInterval = positiveDuration(&errs, "WATCHDOG_AUDIT_INTERVAL_SECONDS", 60, time.Second)
	cfg.DedupTTL = positiveDuration(&errs, "DEDUP_TTL_MINUTES", 60, time.Minute)

	lookupMs, err := getEnvAsIntRequired("TRADE_LOOKUP_DEADLINE_MS", 2000)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.TradeLookupTimeout = time.Duration(lookupMs) * time.Millisecond
	if lookupMs == 0 {
		cfg.TradeLookupTimeout = -1 // zero asks for a single lookup
	}

	cfg.UpdateRetries, err = getEnvAsIntRequired("UPDATE_RETRY_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.UpdateRetries < 0 {
		errs = append(errs, "UPDATE_RETRY_ATTEMPTS cannot be negative")
	}

	moveMs, err := getEnvAsIntRequired("STOP_LOSS_MOVE_DELAY_MS", 500)
	if err != nil {
		errs = append(errs, err.Error())
	} else if moveMs < 0 {
		errs = append(errs, "STOP_LOSS_MOVE_DELAY_MS cannot be negative")
	}
	cfg.StopLossMoveDelay = time.Duration(moveMs) * time.Millisecond

	cfg.DefaultTradeBudget, err = getEnvAsDecimalRequired("DEFAULT_TRADE_BUDGET_USDT", "50")
	if err != nil {
		errs = append(errs, err.Error())
	} else if !cfg.DefaultTradeBudget.IsPositive() {
		errs = append(errs, "DEFAULT_TRADE_BUDGET_USDT must be positive")
	}

	cfg.BudgetTolerancePercent, err = getEnvAsDecimalRequired("BUDGET_TOLERANCE_PERCENT", "10")
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.BudgetTolerancePercent.IsNegative() {
		errs = append(errs, "BUDGET_TOLERANCE_PERCENT cannot be negative")
	}

	cfg.MaxLeverage, err = getEnvAsIntRequired("MAX_LEVERAGE", 20)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.MaxLeverage <= 0 || cfg.MaxLeverage > 125 {
		errs = append(errs, "MAX_LEVERAGE must be between 1 and 125")
	}

	cfg.MaxPositionNotional, err = getEnvAsDecimalRequired("MAX_POSITION_NOTIONAL_USDT", "0")
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.MaxPositionNotional.IsNegative() {
		errs = append(errs, "MAX_POSITION_NOTIONAL_USDT cannot be negative")
	}

	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
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
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
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
	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimalRequired(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := getEnv(key, defaultValue)
	value, err := decimal.NewFromString(strings.TrimSpace(valueStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
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

// positiveDuration reads key as a count of unit, recording a problem in errs when it is not positive.
func positiveDuration(errs *[]string, key string, defaultValue int, unit time.Duration) time.Duration {
	n, err := getEnvAsIntRequired(key, defaultValue)
	if err != nil {
		*errs = append(*errs, err.Error())
		return time.Duration(defaultValue) * unit
	}
	if n <= 0 {
		*errs = append(*errs, key+" must be positive")
		return time.Duration(defaultValue) * unit
	}
	return time.Duration(n) * unit
}
