package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// ExchangeKeys is one API key pair.
type ExchangeKeys struct {
	APIKey    string
	APISecret string
}

// Config holds environment-driven settings for the trading core.
type Config struct {
	HTTPAddr string

	// Binance
	BinanceTestnet       bool
	EnableBinanceSpot    bool
	BinanceSpot          ExchangeKeys
	EnableBinanceFutures bool
	BinanceFutures       ExchangeKeys
	BinanceSymbols       []string

	// BitMEX
	EnableBitmex  bool
	BitmexTestnet bool
	Bitmex        ExchangeKeys

	// Order fill polling
	OrderPollInterval    time.Duration
	OrderPollMaxAttempts int

	// Database and strategy bootstrap
	DBPath         string
	StrategiesFile string

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogConsole    bool

	// Auth
	JWTSecret   string
	APIPassword string
	TokenTTL    time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/workspace.db")
	}

	cfg := &Config{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		BinanceTestnet:       getEnvBool("BINANCE_TESTNET", true),
		EnableBinanceSpot:    getEnvBool("BINANCE_SPOT_ENABLED", false),
		BinanceSpot:          ExchangeKeys{os.Getenv("BINANCE_SPOT_API_KEY"), os.Getenv("BINANCE_SPOT_API_SECRET")},
		EnableBinanceFutures: getEnvBool("BINANCE_FUTURES_ENABLED", false),
		BinanceFutures:       ExchangeKeys{os.Getenv("BINANCE_FUTURES_API_KEY"), os.Getenv("BINANCE_FUTURES_API_SECRET")},
		BinanceSymbols:       splitAndTrim(getEnv("BINANCE_SYMBOLS", "BTCUSDT,ETHUSDT")),
		EnableBitmex:         getEnvBool("BITMEX_ENABLED", false),
		BitmexTestnet:        getEnvBool("BITMEX_TESTNET", true),
		Bitmex:               ExchangeKeys{os.Getenv("BITMEX_API_KEY"), os.Getenv("BITMEX_API_SECRET")},
		OrderPollInterval:    getEnvDuration("ORDER_POLL_INTERVAL", 2*time.Second),
		OrderPollMaxAttempts: getEnvInt("ORDER_POLL_MAX_ATTEMPTS", 150),
		DBPath:               dbPath,
		StrategiesFile:       getEnv("STRATEGIES_FILE", ""),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:              getEnv("LOG_FILE", "./logs/trader.log"),
		LogMaxSizeMB:         getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups:        getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays:        getEnvInt("LOG_MAX_AGE_DAYS", 30),
		LogConsole:           getEnvBool("LOG_CONSOLE", true),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		APIPassword:          os.Getenv("API_PASSWORD"),
		TokenTTL:             getEnvDuration("TOKEN_TTL", 24*time.Hour),
	}
	return cfg, cfg.Validate()
}

// Validate reports settings the process cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.EnableBinanceSpot && (c.BinanceSpot.APIKey == "" || c.BinanceSpot.APISecret == "") {
		errs = append(errs, errors.New("binance spot enabled without BINANCE_SPOT_API_KEY/BINANCE_SPOT_API_SECRET"))
	}
	if c.EnableBinanceFutures && (c.BinanceFutures.APIKey == "" || c.BinanceFutures.APISecret == "") {
		errs = append(errs, errors.New("binance futures enabled without BINANCE_FUTURES_API_KEY/BINANCE_FUTURES_API_SECRET"))
	}
	if c.EnableBitmex && (c.Bitmex.APIKey == "" || c.Bitmex.APISecret == "") {
		errs = append(errs, errors.New("bitmex enabled without BITMEX_API_KEY/BITMEX_API_SECRET"))
	}
	if c.OrderPollInterval <= 0 {
		errs = append(errs, errors.New("ORDER_POLL_INTERVAL must be positive"))
	}
	return multierr.Combine(errs...)
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

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
