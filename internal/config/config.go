// Package config provides configuration management for the holdings tracker.
// It loads configuration from environment variables and .env files, and the
// per-chain token alias map from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/holdings-tracker/internal/types"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// DefaultChains lists the chains valued when ENABLED_CHAINS is unset
const DefaultChains = "ethereum,polygon-pos,arbitrum-one,optimistic-ethereum,binance-smart-chain,avalanche,fantom"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chains    ChainsConfig
	Cache     CacheConfig
	Pipeline  PipelineConfig
	Providers ProvidersConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
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

// ChainsConfig holds chain configuration
type ChainsConfig struct {
	Enabled []types.ChainID
	Chains  map[types.ChainID]ChainConfig
}

// ChainConfig holds configuration for a specific chain
type ChainConfig struct {
	RPCURL         string
	DuneQueryID    int
	PricePlatform  string
	Aliases        []types.TokenAlias
	ExtraContracts []string
}

// CacheConfig holds price cache configuration
type CacheConfig struct {
	PriceTTL time.Duration
}

// PipelineConfig holds the valuation batch configuration
type PipelineConfig struct {
	InputDir          string
	OutputDir         string
	Workers           int
	PreActivity       types.PreActivityPolicy
	Schedule          string
	RunTimeout        time.Duration
	AliasFile         string
	SpamTickerPattern string
	SpamTokenPattern  string
}

// ProvidersConfig holds external data provider configuration
type ProvidersConfig struct {
	TrackedAddress string
	Dune           DuneConfig
	CoinGecko      CoinGeckoConfig
	Retry          RetryConfig
}

// DuneConfig holds Dune query API configuration
type DuneConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	PageSize     int
}

// CoinGeckoConfig holds market data API configuration
type CoinGeckoConfig struct {
	APIKey            string
	BaseURL           string
	RequestsPerMinute int
	Days              string
}

// RetryConfig holds provider retry configuration
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	policy, ok := types.ParsePreActivityPolicy(getEnv("PRE_ACTIVITY_FILL", string(types.PreActivityAbsent)))
	if !ok {
		return nil, fmt.Errorf("invalid PRE_ACTIVITY_FILL %q: want absent or zero", os.Getenv("PRE_ACTIVITY_FILL"))
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Enabled:        getEnvAsBool("POSTGRES_ENABLED", false),
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "holdings_tracker"),
				User:           getEnv("POSTGRES_USER", "tracker"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "holdings_tracker"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", false),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Cache: CacheConfig{
			PriceTTL: getEnvAsDuration("PRICE_CACHE_TTL", 24*time.Hour),
		},
		Pipeline: PipelineConfig{
			InputDir:          getEnv("DATA_DIR", "data/feeds"),
			OutputDir:         getEnv("OUTPUT_DIR", "data/output"),
			Workers:           getEnvAsInt("PIPELINE_WORKERS", 4),
			PreActivity:       policy,
			Schedule:          getEnv("VALUATION_SCHEDULE", "0 0 3 1 * *"),
			RunTimeout:        getEnvAsDuration("RUN_TIMEOUT", 30*time.Minute),
			AliasFile:         getEnv("ALIAS_FILE", "configs/aliases.yaml"),
			SpamTickerPattern: getEnv("SPAM_TICKER_PATTERN", `N/A|Visit|\.com|\.fi|\.io|\.xyz|\.site|\.exchange|\.pro|\.net`),
			SpamTokenPattern:  getEnv("SPAM_TOKEN_PATTERN", `\.org|\.com|\.fi|\.io|\.xyz|\.site|\.exchange|\.pro|\.net`),
		},
		Providers: ProvidersConfig{
			TrackedAddress: strings.ToLower(getEnv("TRACKED_ADDRESS", "")),
			Dune: DuneConfig{
				APIKey:       getEnv("DUNE_API_KEY", ""),
				BaseURL:      getEnv("DUNE_BASE_URL", "https://api.dune.com/api/v1"),
				PollInterval: getEnvAsDuration("DUNE_POLL_INTERVAL", 5*time.Second),
				PageSize:     getEnvAsInt("DUNE_PAGE_SIZE", 1000),
			},
			CoinGecko: CoinGeckoConfig{
				APIKey:            getEnv("COINGECKO_API_KEY", ""),
				BaseURL:           getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
				RequestsPerMinute: getEnvAsInt("COINGECKO_REQUESTS_PER_MINUTE", 8),
				Days:              getEnv("COINGECKO_DAYS", "max"),
			},
			Retry: RetryConfig{
				MaxAttempts:    getEnvAsInt("PROVIDER_RETRY_ATTEMPTS", 4),
				InitialBackoff: getEnvAsDuration("PROVIDER_RETRY_BACKOFF", 2*time.Second),
				MaxBackoff:     getEnvAsDuration("PROVIDER_RETRY_MAX_BACKOFF", 60*time.Second),
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("API_RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("API_RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Chains = loadChainConfigs()

	aliases, err := LoadAliases(config.Pipeline.AliasFile)
	if err != nil {
		return nil, err
	}
	config.Chains.ApplyAliases(aliases)

	return config, nil
}

// Validate reports configuration the pipeline cannot run with
func (c *Config) Validate() error {
	if len(c.Chains.Enabled) == 0 {
		return fmt.Errorf("no chains enabled")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.InputDir == "" || c.Pipeline.OutputDir == "" {
		return fmt.Errorf("DATA_DIR and OUTPUT_DIR must be set")
	}
	if _, err := ScheduleParser().Parse(c.Pipeline.Schedule); err != nil {
		return fmt.Errorf("invalid VALUATION_SCHEDULE %q: %w", c.Pipeline.Schedule, err)
	}
	return nil
}

// ScheduleParser parses cron specs with an optional leading seconds field
func ScheduleParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// loadChainConfigs loads chain-specific configurations
func loadChainConfigs() ChainsConfig {
	var enabled []types.ChainID
	chains := make(map[types.ChainID]ChainConfig)
	for _, name := range strings.Split(getEnv("ENABLED_CHAINS", DefaultChains), ",") {
		chain := types.NormalizeChainID(name)
		if chain == "" {
			continue
		}
		if _, dup := chains[chain]; dup {
			continue
		}

		prefix := chain.EnvPrefix()
		chains[chain] = ChainConfig{
			RPCURL:        getEnv(prefix+"_RPC_URL", ""),
			DuneQueryID:   getEnvAsInt(prefix+"_DUNE_QUERY_ID", 0),
			PricePlatform: getEnv(prefix+"_PRICE_PLATFORM", string(chain)),
		}
		enabled = append(enabled, chain)
	}

	return ChainsConfig{
		Enabled: enabled,
		Chains:  chains,
	}
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

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
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
