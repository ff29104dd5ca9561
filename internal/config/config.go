package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"deribit-client/internal/logger"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Deribit DeribitConfig `mapstructure:"deribit"`
	Stream  StreamConfig  `mapstructure:"stream"`
}

type AppConfig struct {
	LogLevel      string `mapstructure:"log_level"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`
	LogCompress   bool   `mapstructure:"log_compress"`
}

type DeribitConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Scope        string `mapstructure:"scope"`
	Currency     string `mapstructure:"currency"`
	Instrument   string `mapstructure:"instrument"`
	Depth        int    `mapstructure:"depth"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
}

type StreamConfig struct {
	Scheme             string `mapstructure:"scheme"`
	Host               string `mapstructure:"host"`
	Port               string `mapstructure:"port"`
	Path               string `mapstructure:"path"`
	BookInterval       string `mapstructure:"book_interval"`
	OrdersInterval     string `mapstructure:"orders_interval"`
	HeartbeatSec       int    `mapstructure:"heartbeat_sec"`
	HandshakeTimeoutMs int    `mapstructure:"handshake_timeout_ms"`
}

// Timeout is the per-request deadline for HTTP calls.
func (c DeribitConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c StreamConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

func (c StreamConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSec) * time.Second
}

// Logger converts the app section into logger settings.
func (c AppConfig) Logger() *logger.Config {
	return &logger.Config{
		Level:      c.LogLevel,
		File:       c.LogFile,
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAgeDays: c.LogMaxAgeDays,
		Compress:   c.LogCompress,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")

	v.SetDefault("deribit.base_url", "https://test.deribit.com/api/v2")
	v.SetDefault("deribit.scope", "trade:read_write")
	v.SetDefault("deribit.currency", "BTC")
	v.SetDefault("deribit.instrument", "BTC-PERPETUAL")
	v.SetDefault("deribit.depth", 10)
	v.SetDefault("deribit.timeout_ms", 10000)
	// registered so AutomaticEnv can resolve them during Unmarshal
	v.SetDefault("deribit.client_id", "")
	v.SetDefault("deribit.client_secret", "")

	v.SetDefault("stream.scheme", "wss")
	v.SetDefault("stream.host", "test.deribit.com")
	v.SetDefault("stream.port", "443")
	v.SetDefault("stream.path", "/ws/api/v2")
	v.SetDefault("stream.book_interval", "100ms")
	v.SetDefault("stream.orders_interval", "raw")
	v.SetDefault("stream.heartbeat_sec", 0)
	v.SetDefault("stream.handshake_timeout_ms", 10000)
}

// Default returns the built-in configuration without reading files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults only, cannot fail to decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// LoadConfig reads config.yaml from path, overlays environment variables
// (deribit.client_id -> DERIBIT_CLIENT_ID) and validates the result.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Deribit.BaseURL == "" {
		return errors.New("deribit.base_url is required")
	}
	if c.Deribit.Depth < 1 {
		return errors.Errorf("deribit.depth must be positive, got %d", c.Deribit.Depth)
	}
	if c.Deribit.TimeoutMs <= 0 {
		return errors.Errorf("deribit.timeout_ms must be positive, got %d", c.Deribit.TimeoutMs)
	}
	if c.Deribit.Currency == "" {
		return errors.New("deribit.currency is required")
	}
	if c.Stream.Host == "" {
		return errors.New("stream.host is required")
	}
	switch c.Stream.Scheme {
	case "ws", "wss":
	default:
		return errors.Errorf("stream.scheme must be ws or wss, got %q", c.Stream.Scheme)
	}
	return nil
}
