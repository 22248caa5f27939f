// Package config provides configuration management for the mint scanner.
// It loads configuration from environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// DefaultDeployBlock is the block at which the NFT contract was deployed on BSC.
const DefaultDeployBlock uint64 = 79785738

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Chain      ChainConfig
	Scanner    ScannerConfig
	Worker     WorkerConfig
	Commission CommissionConfig
	RateLimit  RateLimitConfig
	RPCBudget  RPCBudgetConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MigrationsPath string
}

// URL returns the connection string used by pgx and golang-migrate.
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration. The mint audit log is
// optional; when disabled the scanner runs without it.
type ClickHouseConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MigrationsPath string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainConfig holds the blockchain RPC and contract configuration
type ChainConfig struct {
	RPCURL            string
	RPCFallbackURL    string
	RPCAPIKey         string // sent as X-API-Key
	ContractAddress   string
	DeployBlock       uint64
	RPCTimeout        time.Duration
	RequestsPerSecond float64
	RequestBurst      int
	MaxRetries        int
}

// ScannerConfig holds wallet scan tuning
type ScannerConfig struct {
	BatchSize        uint64        // blocks per eth_getLogs call
	BatchConcurrency int           // concurrent batch fetches within one wallet
	BatchDelay       time.Duration // pause between batch fetches
	FreshnessWindow  time.Duration // cheap-skip window for non-forced syncs
	WalletPauseEvery int           // pause after this many wallets in a sync-all run
	WalletPause      time.Duration
	LockTTL          time.Duration // distributed per-wallet scan lock
}

// WorkerConfig holds background sync worker configuration
type WorkerConfig struct {
	Interval time.Duration
}

// CommissionConfig holds commission snapshot settings
type CommissionConfig struct {
	CacheTTL time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// RPCBudgetConfig holds the shared compute-unit budget for RPC calls.
// Only used when Redis is enabled.
type RPCBudgetConfig struct {
	Enabled     bool
	CUPerSecond int
	ReservedCU  int
	MaxWait     time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "mint_scanner"),
				User:           getEnv("POSTGRES_USER", "scanner"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
				MigrationsPath: getEnv("POSTGRES_MIGRATIONS_PATH", "migrations/postgres"),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:        getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:           getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:           getEnv("CLICKHOUSE_PORT", "9000"),
				Database:       getEnv("CLICKHOUSE_DB", "mint_scanner"),
				User:           getEnv("CLICKHOUSE_USER", "default"),
				Password:       getEnv("CLICKHOUSE_PASSWORD", ""),
				MigrationsPath: getEnv("CLICKHOUSE_MIGRATIONS_PATH", "migrations/clickhouse"),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", true),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Chain: ChainConfig{
			RPCURL:            getEnv("RPC_URL", "https://bsc-dataseed.bnbchain.org"),
			RPCFallbackURL:    getEnv("RPC_FALLBACK_URL", ""),
			RPCAPIKey:         getEnv("RPC_API_KEY", ""),
			ContractAddress:   getEnv("CONTRACT_ADDRESS", "0x3c117d186C5055071EfF91d87f2600eaF88D591D"),
			DeployBlock:       getEnvAsUint64("DEPLOY_BLOCK", DefaultDeployBlock),
			RPCTimeout:        getEnvAsDuration("RPC_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsFloat("RPC_REQUESTS_PER_SECOND", 10),
			RequestBurst:      getEnvAsInt("RPC_REQUEST_BURST", 5),
			MaxRetries:        getEnvAsInt("RPC_MAX_RETRIES", 3),
		},
		Scanner: ScannerConfig{
			BatchSize:        getEnvAsUint64("SCAN_BATCH_SIZE", 2000),
			BatchConcurrency: getEnvAsInt("SCAN_BATCH_CONCURRENCY", 1),
			BatchDelay:       getEnvAsDuration("SCAN_BATCH_DELAY", 200*time.Millisecond),
			FreshnessWindow:  getEnvAsDuration("SCAN_FRESHNESS_WINDOW", time.Minute),
			WalletPauseEvery: getEnvAsInt("SCAN_WALLET_PAUSE_EVERY", 5),
			WalletPause:      getEnvAsDuration("SCAN_WALLET_PAUSE", time.Second),
			LockTTL:          getEnvAsDuration("SCAN_LOCK_TTL", 10*time.Minute),
		},
		Worker: WorkerConfig{
			Interval: getEnvAsDuration("WORKER_INTERVAL", 10*time.Minute),
		},
		Commission: CommissionConfig{
			CacheTTL: getEnvAsDuration("COMMISSION_CACHE_TTL", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("API_RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("API_RATE_LIMIT_BURST", 40),
		},
		RPCBudget: RPCBudgetConfig{
			Enabled:     getEnvAsBool("RPC_BUDGET_ENABLED", false),
			CUPerSecond: getEnvAsInt("RPC_CU_PER_SECOND", 500),
			ReservedCU:  getEnvAsInt("RPC_RESERVED_CU", 300),
			MaxWait:     getEnvAsDuration("RPC_BUDGET_MAX_WAIT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate checks the settings the scanner cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		errs = append(errs, fmt.Errorf("CONTRACT_ADDRESS %q is not a hex address", c.Chain.ContractAddress))
	}
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		errs = append(errs, errors.New("RPC_URL is required"))
	}
	if c.Scanner.BatchSize == 0 {
		errs = append(errs, errors.New("SCAN_BATCH_SIZE must be positive"))
	}
	if c.Scanner.BatchConcurrency < 1 {
		errs = append(errs, errors.New("SCAN_BATCH_CONCURRENCY must be at least 1"))
	}
	if c.RPCBudget.Enabled && c.RPCBudget.ReservedCU > c.RPCBudget.CUPerSecond {
		errs = append(errs, fmt.Errorf("RPC_RESERVED_CU (%d) exceeds RPC_CU_PER_SECOND (%d)",
			c.RPCBudget.ReservedCU, c.RPCBudget.CUPerSecond))
	}
	return errors.Join(errs...)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
