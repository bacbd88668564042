package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port     string
	GRPCPort string

	// Logging
	LogLevel  string
	LogPretty bool

	// Database
	DBPath string

	// Auth
	JWTSecret string

	// Binance
	BinanceTestnet bool

	// Execution
	DryRun                bool
	DryRunFeeRate         float64 // decimal (e.g. 0.001 = 10 bps)
	DryRunSlippageBps     float64
	// DryRunStartingBalance is the simulated USDT cash of each paper account.
	DryRunStartingBalance float64

	// Candle cache (Redis optional; in-memory fallback when empty)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	CandleCacheTTL time.Duration

	// Strategies
	StrategyConfigPath string
	DefaultTradeAmount float64

	// Scheduler timings
	PollInterval    time.Duration
	RetryDelay      time.Duration
	OrderRetryDelay time.Duration
	CandleBuffer    int
	ResumeRuns      bool

	// Ledger
	LedgerFeeRate float64

	// Credentials. Index i holds key version i+1; the last non-empty entry
	// seals new values.
	MasterEncryptionKeys []string

	// Manual trades
	ManualPollInterval time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                  getEnv("PORT", "8080"),
		GRPCPort:              getEnv("GRPC_PORT", "9090"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogPretty:             getEnv("LOG_PRETTY", "false") == "true",
		DBPath:                getEnv("DB_PATH", "./data/tradex.db"),
		JWTSecret:             getEnv("JWT_SECRET", "dev-secret"),
		BinanceTestnet:        getEnv("BINANCE_TESTNET", "false") == "true",
		DryRun:                getEnv("DRY_RUN", "true") == "true",
		DryRunFeeRate:         getEnvFloat("DRY_RUN_FEE_RATE", 0.001),
		DryRunSlippageBps:     getEnvFloat("DRY_RUN_SLIPPAGE_BPS", 2),
		DryRunStartingBalance: getEnvFloat("DRY_RUN_STARTING_BALANCE", 10000),
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		CandleCacheTTL:        getEnvDuration("CANDLE_CACHE_TTL", 60*time.Second),
		StrategyConfigPath:    getEnv("STRATEGY_CONFIG_PATH", ""),
		DefaultTradeAmount:    getEnvFloat("DEFAULT_TRADE_AMOUNT", 10),
		PollInterval:          getEnvDuration("POLL_INTERVAL", 5*time.Second),
		RetryDelay:            getEnvDuration("RETRY_DELAY", 10*time.Second),
		OrderRetryDelay:       getEnvDuration("ORDER_RETRY_DELAY", 5*time.Second),
		CandleBuffer:          getEnvInt("CANDLE_BUFFER", 50),
		ResumeRuns:            getEnv("RESUME_RUNS", "true") == "true",
		LedgerFeeRate:         getEnvFloat("LEDGER_FEE_RATE", 0.001),
		MasterEncryptionKeys:  encryptionKeys("MASTER_ENCRYPTION_KEY", 10),
		ManualPollInterval:    getEnvDuration("MANUAL_POLL_INTERVAL", 5*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// encryptionKeys reads NAME, NAME_V2 .. NAME_V<versions>, trimming trailing blanks.
func encryptionKeys(name string, versions int) []string {
	keys := []string{os.Getenv(name)}
	for v := 2; v <= versions; v++ {
		keys = append(keys, os.Getenv(fmt.Sprintf("%s_V%d", name, v)))
	}
	for len(keys) > 0 && keys[len(keys)-1] == "" {
		keys = keys[:len(keys)-1]
	}
	return keys
}

// SplitAndTrim splits a comma separated list, dropping blanks.
func SplitAndTrim(val string) []string {
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

// getEnvDuration accepts Go duration strings ("5s") or bare seconds ("5").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
