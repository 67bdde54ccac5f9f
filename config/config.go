package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MaFin   AppConfig     `yaml:"mafin"`
	Binance BinanceConfig `yaml:"binance"`
	Storage StorageConfig `yaml:"storage"`
	Refresh RefreshConfig `yaml:"refresh"`
	Reader  ReaderConfig  `yaml:"reader"`
	Orders  OrdersConfig  `yaml:"orders"`
	Archive ArchiveConfig `yaml:"archive"`
	Logging LoggingConfig `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// BinanceConfig names the feeds the cache maintains: spot pairs (each
// pair gets candle, trade and order feeds), futures pairs, candle
// timeframes and the assets whose balances are tracked.
type BinanceConfig struct {
	APIKey          string   `yaml:"api_key"`
	SecretKey       string   `yaml:"secret_key"`
	Pairs           []string `yaml:"pairs"`
	FuturesPairs    []string `yaml:"futures_pairs"`
	Timeframes      []string `yaml:"timeframes"`
	BalanceAssets   []string `yaml:"balance_assets"`
	TradesStartTime int64    `yaml:"trades_start_time"`
}

type StorageConfig struct {
	Root string `yaml:"root"`
}

// RefreshConfig sets the timer cadence per feed family. Candle feeds
// ignore these and wait until their kline closes instead.
type RefreshConfig struct {
	Trades     time.Duration `yaml:"trades"`
	Orders     time.Duration `yaml:"orders"`
	OpenOrders time.Duration `yaml:"open_orders"`
	Balance    time.Duration `yaml:"balance"`
	Rules      time.Duration `yaml:"rules"`
}

type ReaderConfig struct {
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// OrdersConfig tunes the smart order tracker: MinDeltaPercent is the
// price drift (in percent of the reference price) that triggers a
// cancel and replace, PollInterval the drift check cadence.
type OrdersConfig struct {
	MinDeltaPercent float64       `yaml:"min_delta_percent"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Prefix          string        `yaml:"prefix"`
	Interval        time.Duration `yaml:"interval"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	CloudWatch    bool   `yaml:"cloudwatch"`
	DashboardName string `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Binance: BinanceConfig{
			Timeframes: []string{"1h"},
		},
		Refresh: RefreshConfig{
			Trades:     time.Hour,
			Orders:     time.Hour,
			OpenOrders: time.Hour,
			Balance:    time.Hour,
			Rules:      time.Hour,
		},
		Reader: ReaderConfig{
			Timeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				BurstSize:         20,
			},
			Retry: RetryConfig{
				MaxAttempts:       6,
				BaseDelay:         500 * time.Millisecond,
				MaxDelay:          500 * time.Millisecond,
				BackoffMultiplier: 1,
			},
		},
		Orders: OrdersConfig{
			MinDeltaPercent: 0.05,
			PollInterval:    10 * time.Second,
		},
		Archive: ArchiveConfig{
			Interval: 15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Credentials come from the environment when present
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		config.Binance.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		config.Binance.SecretKey = strings.TrimSpace(v)
	}
	if config.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Archive.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Archive.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Archive.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Archive.Bucket = strings.TrimSpace(v)
		}
	}
	config.Archive.Bucket = strings.TrimSpace(config.Archive.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.MaFin.Name == "" {
		return fmt.Errorf("mafin.name is required")
	}
	if cfg.MaFin.Version == "" {
		return fmt.Errorf("mafin.version is required")
	}
	if cfg.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if len(cfg.Binance.Pairs) == 0 {
		return fmt.Errorf("binance.pairs must name at least one pair")
	}
	if len(cfg.Binance.Timeframes) == 0 {
		return fmt.Errorf("binance.timeframes must name at least one timeframe")
	}
	if cfg.Reader.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("reader.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Reader.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("reader.retry.max_attempts must be greater than 0")
	}
	if cfg.Orders.MinDeltaPercent <= 0 {
		return fmt.Errorf("orders.min_delta_percent must be greater than 0")
	}
	if cfg.Orders.PollInterval <= 0 {
		return fmt.Errorf("orders.poll_interval must be greater than 0")
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when the archive is enabled")
		}
		if cfg.Archive.Region == "" {
			return fmt.Errorf("archive.region is required when the archive is enabled")
		}
		if !isValidS3Bucket(cfg.Archive.Bucket) {
			return fmt.Errorf("archive.bucket '%s' is invalid", cfg.Archive.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
