package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
)

// Config holds environment-driven settings for the strategy engine.
type Config struct {
	Port string

	// Strategies
	StrategyConfigPath string
	Symbols            []string

	// Database (current-state journal)
	DBPath string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Boundary calls into the matching service
	ServiceTimeout   time.Duration
	ServiceRateLimit float64 // calls per second, 0 disables limiting
	ServiceRateBurst int

	// Mock feed + paper venue
	FeedInterval     time.Duration
	FeedStartPrice   float64
	FeedStep         float64
	PaperDepthLevels int
	PaperDepthSpread float64
	StatusInterval   time.Duration

	// Reporting API
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		StrategyConfigPath: getEnv("STRATEGY_CONFIG", "./strategies.yaml"),
		Symbols:            splitAndTrim(getEnv("SYMBOLS", "AAPL,GOOGL,MSFT")),
		DBPath:             getEnv("DB_PATH", "./data/strategy.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFile:            os.Getenv("LOG_FILE"),
		LogJSON:            getEnv("LOG_JSON", "false") == "true",
		ServiceTimeout:     time.Duration(getEnvInt("SERVICE_TIMEOUT_MS", 250)) * time.Millisecond,
		ServiceRateLimit:   getEnvFloat("SERVICE_RATE_LIMIT", 0),
		ServiceRateBurst:   getEnvInt("SERVICE_RATE_BURST", 50),
		FeedInterval:       time.Duration(getEnvInt("FEED_INTERVAL_MS", 500)) * time.Millisecond,
		FeedStartPrice:     getEnvFloat("FEED_START_PRICE", 100),
		FeedStep:           getEnvFloat("FEED_STEP", 0.05),
		PaperDepthLevels:   getEnvInt("PAPER_DEPTH_LEVELS", 5),
		PaperDepthSpread:   getEnvFloat("PAPER_DEPTH_SPREAD", 0.03),
		StatusInterval:     time.Duration(getEnvInt("STATUS_INTERVAL_S", 10)) * time.Second,
		JWTSecret:          os.Getenv("JWT_SECRET"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot start with.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return errors.Wrap(exception.ErrEmptySymbolSet, "SYMBOLS")
	}
	if c.ServiceTimeout <= 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "SERVICE_TIMEOUT_MS must be positive")
	}
	if c.ServiceRateLimit < 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "SERVICE_RATE_LIMIT must not be negative")
	}
	if c.FeedInterval <= 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "FEED_INTERVAL_MS must be positive")
	}
	if c.PaperDepthLevels <= 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "PAPER_DEPTH_LEVELS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
