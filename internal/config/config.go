package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Collector CollectorConfig `mapstructure:"collector"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig defines local listener addresses
type ServerConfig struct {
	BridgePort  int    `mapstructure:"bridge_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// CollectorConfig defines the remote telemetry collector endpoints
type CollectorConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	VisitPath      string `mapstructure:"visit_path"`
	SubmitPath     string `mapstructure:"submit_path"`
	PingPath       string `mapstructure:"ping_path"`
	RequestTimeout string `mapstructure:"request_timeout"`
	PingTimeout    string `mapstructure:"ping_timeout"`
}

// TrackingConfig defines session counting behavior
type TrackingConfig struct {
	IdleCutoff      string `mapstructure:"idle_cutoff"`
	DedupeWindow    string `mapstructure:"dedupe_window"`
	MinSendDelta    string `mapstructure:"min_send_delta"`
	FlushEvery      string `mapstructure:"flush_every"`
	KeepAliveEvery  string `mapstructure:"keepalive_every"`
	SubmitDedupe    string `mapstructure:"submit_dedupe"`
	MaxQueueRetries int    `mapstructure:"max_queue_retries"`
}

// PolicyConfig defines the trackability policy engine
type PolicyConfig struct {
	PolicyDir string `mapstructure:"policy_dir"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// RetentionConfig defines how long accumulated totals are kept
type RetentionConfig struct {
	TotalsDays int    `mapstructure:"totals_days"`
	SweepTime  string `mapstructure:"sweep_time"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SITEPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file; a missing file is fine, defaults and env cover it
	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bridge_port", 8132)
	v.SetDefault("server.metrics_port", 9132)
	v.SetDefault("server.bind_address", "127.0.0.1")

	// Collector defaults
	v.SetDefault("collector.base_url", "http://localhost:3000")
	v.SetDefault("collector.visit_path", "/api/track/visit")
	v.SetDefault("collector.submit_path", "/api/track/submit")
	v.SetDefault("collector.ping_path", "/api/track/ping")
	v.SetDefault("collector.request_timeout", "15s")
	v.SetDefault("collector.ping_timeout", "3s")

	// Tracking defaults
	v.SetDefault("tracking.idle_cutoff", "10m")
	v.SetDefault("tracking.dedupe_window", "30m")
	v.SetDefault("tracking.min_send_delta", "3s")
	v.SetDefault("tracking.flush_every", "1m")
	v.SetDefault("tracking.keepalive_every", "5m")
	v.SetDefault("tracking.submit_dedupe", "5s")
	v.SetDefault("tracking.max_queue_retries", 3)

	// Policy defaults
	v.SetDefault("policy.policy_dir", "")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/sitepulse/sitepulse.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 5)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Retention defaults
	v.SetDefault("retention.totals_days", 90)
	v.SetDefault("retention.sweep_time", "03:30")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.BridgePort <= 0 || cfg.Server.BridgePort > 65535 {
		return fmt.Errorf("invalid bridge port: %d", cfg.Server.BridgePort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Collector.BaseURL == "" {
		return fmt.Errorf("collector base_url is required")
	}

	if cfg.Tracking.MaxQueueRetries < 0 {
		return fmt.Errorf("invalid max_queue_retries: %d", cfg.Tracking.MaxQueueRetries)
	}

	if cfg.Retention.TotalsDays <= 0 {
		return fmt.Errorf("invalid retention totals_days: %d", cfg.Retention.TotalsDays)
	}

	switch cfg.Storage.Type {
	case "", "bolt":
		cfg.Storage.Type = "bolt"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}

	return nil
}
