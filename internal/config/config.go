// Package config provides configuration management for the confluence
// pipeline. It loads configuration from environment variables and .env
// files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Chains     ChainsConfig
	Upstream   UpstreamConfig
	Intervals  JobIntervalsConfig
	Safety     SafetyGateConfig
	Confluence ConfluenceConfig
	Watchlist  WatchlistConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	Scheduler  SchedulerConfig
	HTTP       HTTPConfig
}

// ChainsConfig enumerates enabled chains and per-chain RPC/transfer
// settings.
type ChainsConfig struct {
	Enabled []string
	Chains  map[string]ChainConfig
}

// ChainConfig holds per-chain adapter settings.
type ChainConfig struct {
	RPCPrimary         string
	RPCSecondary       string
	TransferBlockRange int
}

// UpstreamConfig holds per-provider keys and rate limits for C1 adapters.
type UpstreamConfig struct {
	EtherscanAPIKey   string
	BirdeyeAPIKey     string
	DexScreenerAPIKey string
	HeliusAPIKey      string
	MinCallSpacing    time.Duration // minimum inter-call spacing per provider
	MaxConcurrent     int           // per-provider concurrency cap
	PriceCacheTTL     time.Duration
}

// JobIntervalsConfig holds the cooperative scheduler's per-job intervals.
type JobIntervalsConfig struct {
	Ingest                 time.Duration // T_ingest, default 5m
	Discover               time.Duration // T_discover, default 5-10m
	Monitor                time.Duration // T_monitor, default 2m
	Stats                  time.Duration // T_stats, default 15m
	WatchlistAt            string        // wall-clock HH:MM for the daily watchlist run
	DiscoveryLookbackHours int
}

// SafetyGateConfig holds C2's token safety gate thresholds.
type SafetyGateConfig struct {
	MinLiquidityUSD      float64
	MinVolume24hUSD      float64
	MaxTaxPct            float64
	PoolSendThreshold    int
	StablecoinExclusions []string
}

// IsExcluded reports whether token is in the stablecoin/wrapped-native
// exclusion list.
func (s SafetyGateConfig) IsExcluded(token string) bool {
	token = strings.ToLower(token)
	for _, addr := range s.StablecoinExclusions {
		if strings.ToLower(addr) == token {
			return true
		}
	}
	return false
}

// ConfluenceConfig holds C9's sliding-window parameters.
type ConfluenceConfig struct {
	Window        time.Duration
	MinConfluence int
}

// WatchlistConfig holds C7's ranking parameters.
type WatchlistConfig struct {
	TopN                   int
	Weights                WatchlistWeights
	AddMinTrades           int
	AddMinMultiple         float64
	RemoveNegPnLThreshold  float64
	RemoveMinEarlyMedian   float64
	RemoveMinMultiple      float64
	AdaptiveWeightsEnabled bool
}

// WatchlistWeights are the composite-score weights; must sum to 1.
type WatchlistWeights struct {
	PnL      float64
	Activity float64
	Early    float64
}

// DatabaseConfig groups the three storage backends, same shape as the
// teacher's.
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// SchedulerConfig holds the bounded-worker-pool defaults for fan-out work
// inside each scheduled job.
type SchedulerConfig struct {
	WorkerPoolSize int
}

// HTTPConfig holds the debug/health HTTP surface's listen address, used
// only by the all-in-one binary.
type HTTPConfig struct {
	Host string
	Port string
}

// LoadConfig loads configuration from .env file and environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	weights := getEnvAsFloatSlice("WEIGHTS", []float64{0.30, 0.30, 0.40})
	if len(weights) != 3 {
		weights = []float64{0.30, 0.30, 0.40}
	}

	cfg := &Config{
		Upstream: UpstreamConfig{
			EtherscanAPIKey:   getEnv("ETHERSCAN_API_KEY", ""),
			BirdeyeAPIKey:     getEnv("BIRDEYE_API_KEY", ""),
			DexScreenerAPIKey: getEnv("DEXSCREENER_API_KEY", ""),
			HeliusAPIKey:      getEnv("HELIUS_API_KEY", ""),
			MinCallSpacing:    getEnvAsDuration("UPSTREAM_MIN_CALL_SPACING", 2500*time.Millisecond),
			MaxConcurrent:     getEnvAsInt("UPSTREAM_MAX_CONCURRENT", 4),
			PriceCacheTTL:     getEnvAsDuration("PRICE_CACHE_TTL", 60*time.Second),
		},
		Intervals: JobIntervalsConfig{
			Ingest:                 getEnvAsDuration("T_INGEST", 5*time.Minute),
			Discover:               getEnvAsDuration("T_DISCOVER", 7*time.Minute),
			Monitor:                getEnvAsDuration("T_MONITOR", 2*time.Minute),
			Stats:                  getEnvAsDuration("T_STATS", 15*time.Minute),
			WatchlistAt:            getEnv("WATCHLIST_RUN_AT", "02:00"),
			DiscoveryLookbackHours: getEnvAsInt("DISCOVERY_LOOKBACK_HOURS", 3),
		},
		Safety: SafetyGateConfig{
			MinLiquidityUSD:      getEnvAsFloat("MIN_LIQUIDITY_USD", 50000),
			MinVolume24hUSD:      getEnvAsFloat("MIN_VOLUME_24H_USD", 50000),
			MaxTaxPct:            getEnvAsFloat("MAX_TAX_PCT", 10),
			PoolSendThreshold:    getEnvAsInt("POOL_SEND_THRESHOLD", 2),
			StablecoinExclusions: getEnvAsStringSlice("STABLECOIN_EXCLUSIONS", nil),
		},
		Confluence: ConfluenceConfig{
			Window:        getEnvAsDuration("CONFLUENCE_WINDOW", 30*time.Minute),
			MinConfluence: getEnvAsInt("MIN_CONFLUENCE", 2),
		},
		Watchlist: WatchlistConfig{
			TopN: getEnvAsInt("WATCHLIST_TOP_N", 30),
			Weights: WatchlistWeights{
				PnL:      weights[0],
				Activity: weights[1],
				Early:    weights[2],
			},
			AddMinTrades:           getEnvAsInt("WATCHLIST_ADD_MIN_TRADES", 1),
			AddMinMultiple:         getEnvAsFloat("WATCHLIST_ADD_MIN_MULTIPLE", 1.0),
			RemoveNegPnLThreshold:  getEnvAsFloat("WATCHLIST_REMOVE_NEG_PNL_THRESHOLD", 0),
			RemoveMinEarlyMedian:   getEnvAsFloat("WATCHLIST_REMOVE_MIN_EARLY_MEDIAN", 20),
			RemoveMinMultiple:      getEnvAsFloat("WATCHLIST_REMOVE_MIN_MULTIPLE", 2.0),
			AdaptiveWeightsEnabled: getEnvAsBool("WATCHLIST_ADAPTIVE_WEIGHTS", false),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "confluence_watch"),
				User:           getEnv("POSTGRES_USER", "confluence"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "confluence_watch"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Scheduler: SchedulerConfig{
			WorkerPoolSize: getEnvAsInt("SCHEDULER_WORKER_POOL_SIZE", 12),
		},
		HTTP: HTTPConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8090"),
		},
	}

	cfg.Chains = loadChainConfigs()

	return cfg, nil
}

// loadChainConfigs loads chain-specific configurations.
func loadChainConfigs() ChainsConfig {
	enabledChains := strings.Split(getEnv("CHAINS", "eth,base,arbitrum,solana"), ",")

	chains := make(map[string]ChainConfig)
	for _, chain := range enabledChains {
		chain = strings.TrimSpace(chain)
		if chain == "" {
			continue
		}

		prefix := strings.ToUpper(chain)
		chains[chain] = ChainConfig{
			RPCPrimary:         getEnv(prefix+"_RPC_PRIMARY", ""),
			RPCSecondary:       getEnv(prefix+"_RPC_SECONDARY", ""),
			TransferBlockRange: getEnvAsInt(prefix+"_TRANSFER_BLOCK_RANGE", 2000),
		}
	}

	return ChainsConfig{
		Enabled: enabledChains,
		Chains:  chains,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

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

// getEnvAsStringSlice parses a comma-separated list; returns defaultValue
// (which may be nil) if unset.
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// getEnvAsFloatSlice parses a comma-separated list of floats, e.g.
// WEIGHTS="0.30,0.30,0.40".
func getEnvAsFloatSlice(key string, defaultValue []float64) []float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return defaultValue
		}
		result = append(result, v)
	}
	return result
}
