package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	RPCEndpoint     string
	ContractAddress string
	ChainID         int64
	PrivateKey      string

	CacheTTL      time.Duration
	LiveInterval  time.Duration
	InitTimeout   time.Duration
	ActivityLimit int

	ReadMaxAttempts int
	ReadBaseDelay   time.Duration
	ReadMaxDelay    time.Duration

	RedisAddr     string
	SessionFile   string
	SessionSecret string
	JournalDir    string

	Port      int
	LogLevel  string
	LogPretty bool
}

// Load reads configuration from the environment, after an optional .env file
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		RPCEndpoint:     getEnv("RPC_ENDPOINT", "https://bsc-dataseed.binance.org"),
		ContractAddress: getEnv("CONTRACT_ADDRESS", ""),
		ChainID:         int64(getEnvAsInt("CHAIN_ID", 56)),
		PrivateKey:      getEnv("PRIVATE_KEY", ""),

		CacheTTL:      getEnvAsDuration("CACHE_TTL", 30*time.Second),
		LiveInterval:  getEnvAsDuration("LIVE_INTERVAL", 30*time.Second),
		InitTimeout:   getEnvAsDuration("INIT_TIMEOUT", 10*time.Second),
		ActivityLimit: getEnvAsInt("ACTIVITY_LIMIT", 10),

		ReadMaxAttempts: getEnvAsInt("READ_MAX_ATTEMPTS", 3),
		ReadBaseDelay:   getEnvAsDuration("READ_BASE_DELAY", time.Second),
		ReadMaxDelay:    getEnvAsDuration("READ_MAX_DELAY", 5*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		SessionFile:   getEnv("SESSION_FILE", ".ledgerview-session"),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		JournalDir:    getEnv("JOURNAL_DIR", ""),

		Port:      getEnvAsInt("HTTP_PORT", 8080),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and ranges
func (c *Config) Validate() error {
	if c.RPCEndpoint == "" {
		return fmt.Errorf("RPC_ENDPOINT is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("CONTRACT_ADDRESS must be a hex address, got %q", c.ContractAddress)
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}
	if c.CacheTTL <= 0 || c.LiveInterval <= 0 || c.InitTimeout <= 0 {
		return fmt.Errorf("CACHE_TTL, LIVE_INTERVAL and INIT_TIMEOUT must be positive")
	}
	if c.ReadMaxAttempts < 1 {
		return fmt.Errorf("READ_MAX_ATTEMPTS must be at least 1")
	}
	if c.ActivityLimit < 1 {
		return fmt.Errorf("ACTIVITY_LIMIT must be at least 1")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.Port)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
