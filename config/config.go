// Package config defines all process configuration for the execution engine.
// Config is loaded from a YAML file (default: configs/engine.yaml) with
// sensitive fields overridable via AMZF_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	// DryRun routes every EXEC user-broker through the paper adapter
	// regardless of its configured broker.
	DryRun bool `mapstructure:"dry_run"`

	Angel     AngelConfig     `mapstructure:"angel"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AngelConfig holds Angel One SmartAPI credentials for the DATA user-broker.
// EXEC user-broker credentials live in the user_brokers table, not here.
type AngelConfig struct {
	APIKey     string `mapstructure:"api_key"`
	ClientCode string `mapstructure:"client_code"`
	Password   string `mapstructure:"password"`
	TOTPSecret string `mapstructure:"totp_secret"`
}

// StoreConfig sets the sqlite database location.
type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// RedisConfig points at the hot-side Redis. Empty Addr disables the
// publisher entirely; the core never depends on it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FeedConfig tunes the tick ingress path.
//
//   - Symbols: watchlist override; empty means "read watchlist tables".
//   - RingSize: SPSC ring between the websocket reader and the fan-out.
//   - BusBuffer: per-subscriber channel depth on the tick/candle buses.
type FeedConfig struct {
	Symbols   []string `mapstructure:"symbols"`
	RingSize  int      `mapstructure:"ring_size"`
	BusBuffer int      `mapstructure:"bus_buffer"`
}

// AnalysisConfig tunes signal emission.
type AnalysisConfig struct {
	Window         int           `mapstructure:"window"`          // candles per TF fed to analysis
	MinStrength    string        `mapstructure:"min_strength"`    // default emission floor
	SignalTTL      time.Duration `mapstructure:"signal_ttl"`      // default signal TTL
	ExpiryInterval time.Duration `mapstructure:"expiry_interval"` // TTL sweep period
}

// ExecutionConfig tunes the orchestrator and the trade actor.
type ExecutionConfig struct {
	Workers           int           `mapstructure:"workers"` // 0 = NumCPU
	Partitions        int           `mapstructure:"partitions"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	StopLossPct       float64       `mapstructure:"stop_loss_pct"`
	TargetR           float64       `mapstructure:"target_r"`
	MaxHoldingPeriod  time.Duration `mapstructure:"max_holding_period"`
	MaxPlaceAttempts  int           `mapstructure:"max_place_attempts"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	WatchdogInterval  time.Duration `mapstructure:"watchdog_interval"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
}

// MetricsConfig controls the /metrics + /healthz server.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: AMZF_ANGEL_API_KEY, AMZF_ANGEL_CLIENT_CODE,
// AMZF_ANGEL_PASSWORD, AMZF_ANGEL_TOTP_SECRET, AMZF_REDIS_PASSWORD.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("AMZF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("AMZF_ANGEL_API_KEY"); key != "" {
		cfg.Angel.APIKey = key
	}
	if code := os.Getenv("AMZF_ANGEL_CLIENT_CODE"); code != "" {
		cfg.Angel.ClientCode = code
	}
	if pass := os.Getenv("AMZF_ANGEL_PASSWORD"); pass != "" {
		cfg.Angel.Password = pass
	}
	if secret := os.Getenv("AMZF_ANGEL_TOTP_SECRET"); secret != "" {
		cfg.Angel.TOTPSecret = secret
	}
	if pass := os.Getenv("AMZF_REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}
	if os.Getenv("AMZF_DRY_RUN") == "true" || os.Getenv("AMZF_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.sqlite_path", "data/engine.db")
	v.SetDefault("feed.ring_size", 4096)
	v.SetDefault("feed.bus_buffer", 1024)
	v.SetDefault("analysis.window", 50)
	v.SetDefault("analysis.min_strength", "MODERATE")
	v.SetDefault("analysis.signal_ttl", 5*time.Minute)
	v.SetDefault("analysis.expiry_interval", 10*time.Second)
	v.SetDefault("execution.partitions", 8)
	v.SetDefault("execution.queue_depth", 256)
	v.SetDefault("execution.stop_loss_pct", 2.0)
	v.SetDefault("execution.target_r", 2.0)
	v.SetDefault("execution.max_place_attempts", 3)
	v.SetDefault("execution.retry_backoff", 200*time.Millisecond)
	v.SetDefault("execution.reconcile_interval", 30*time.Second)
	v.SetDefault("execution.watchdog_interval", 30*time.Second)
	v.SetDefault("execution.drain_timeout", 10*time.Second)
	v.SetDefault("metrics.addr", ":9090")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if !c.DryRun {
		if c.Angel.APIKey == "" {
			return fmt.Errorf("angel.api_key is required (set AMZF_ANGEL_API_KEY)")
		}
		if c.Angel.ClientCode == "" {
			return fmt.Errorf("angel.client_code is required (set AMZF_ANGEL_CLIENT_CODE)")
		}
		if c.Angel.Password == "" {
			return fmt.Errorf("angel.password is required (set AMZF_ANGEL_PASSWORD)")
		}
		if c.Angel.TOTPSecret == "" {
			return fmt.Errorf("angel.totp_secret is required (set AMZF_ANGEL_TOTP_SECRET)")
		}
	}
	if c.Store.SQLitePath == "" {
		return fmt.Errorf("store.sqlite_path is required")
	}
	if c.Execution.Partitions <= 0 {
		return fmt.Errorf("execution.partitions must be > 0")
	}
	if c.Execution.StopLossPct <= 0 || c.Execution.StopLossPct >= 100 {
		return fmt.Errorf("execution.stop_loss_pct must be in (0,100)")
	}
	if c.Execution.TargetR <= 0 {
		return fmt.Errorf("execution.target_r must be > 0")
	}
	switch c.Analysis.MinStrength {
	case "NONE", "WEAK", "MODERATE", "STRONG", "VERY_STRONG":
	default:
		return fmt.Errorf("analysis.min_strength must be one of NONE, WEAK, MODERATE, STRONG, VERY_STRONG")
	}
	return nil
}
