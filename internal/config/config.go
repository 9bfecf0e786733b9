package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Appraisal AppraisalConfig `yaml:"appraisal" mapstructure:"appraisal"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	ReadTimeoutSecs     int      `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs    int      `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	// TrustedProxies lists the CIDRs (or bare IPs) whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means clients are keyed on the
	// socket address only.
	TrustedProxies []string `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Rate limiter strategies.
const (
	RateLimitMemory      = "memory"
	RateLimitTokenBucket = "token_bucket"
	RateLimitRedis       = "redis"
)

// RateLimitConfig configures the detailed price-guide limiter.
type RateLimitConfig struct {
	Strategy         string `yaml:"strategy" mapstructure:"strategy"`
	Requests         int    `yaml:"requests" mapstructure:"requests"`
	WindowSecs       int    `yaml:"window_secs" mapstructure:"window_secs"`
	SweepSecs        int    `yaml:"sweep_secs" mapstructure:"sweep_secs"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Window returns the limiter window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSecs) * time.Second
}

// RedisConfig configures the shared rate-limit backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// AuthConfig holds the static API credentials for the detailed price guide.
// Tokens is a list rather than a map because viper lower-cases map keys.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens" mapstructure:"tokens"`
	APIKey string        `yaml:"api_key" mapstructure:"api_key"`
}

// TokenConfig is one accepted credential.
type TokenConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	Subject string `yaml:"subject" mapstructure:"subject"`
}

// AllTokens returns token -> subject for Tokens plus the single APIKey,
// which is easier to supply from the environment.
func (c AuthConfig) AllTokens() map[string]string {
	out := make(map[string]string, len(c.Tokens)+1)
	for _, t := range c.Tokens {
		out[t.Token] = t.Subject
	}
	if k := strings.TrimSpace(c.APIKey); k != "" {
		if _, ok := out[k]; !ok {
			out[k] = "default"
		}
	}
	return out
}

// AppraisalConfig selects reference data and quality-score composition.
type AppraisalConfig struct {
	ReferenceData   string `yaml:"reference_data" mapstructure:"reference_data"`
	BasicQuality    string `yaml:"basic_quality" mapstructure:"basic_quality"`
	DetailedQuality string `yaml:"detailed_quality" mapstructure:"detailed_quality"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// BatchConfig configures `appraise batch`.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OWNEREXIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "ownerexit.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_secs", 10)
	v.SetDefault("server.write_timeout_secs", 15)
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("rate_limit.strategy", RateLimitMemory)
	v.SetDefault("rate_limit.requests", 10)
	v.SetDefault("rate_limit.window_secs", 60)
	v.SetDefault("rate_limit.sweep_secs", 60)
	v.SetDefault("rate_limit.breaker_threshold", 5)
	v.SetDefault("rate_limit.breaker_reset_secs", 30)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("appraisal.reference_data", "")
	v.SetDefault("appraisal.basic_quality", "mean")
	v.SetDefault("appraisal.detailed_quality", "product")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("batch.concurrency", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are "serve",
// "store" (commands that need a database) and "cli".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		for _, p := range c.Server.TrustedProxies {
			if !validProxy(p) {
				errs = append(errs, fmt.Sprintf("server.trusted_proxies: %q is not an IP or CIDR", p))
			}
		}
		errs = append(errs, c.validateRateLimit()...)
	case "store":
		errs = append(errs, c.validateStore()...)
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if f := c.Log.Format; f != "" && f != "json" && f != "console" {
		errs = append(errs, fmt.Sprintf("log.format must be json or console, got %q", f))
	}
	for key, val := range map[string]string{
		"appraisal.basic_quality":    c.Appraisal.BasicQuality,
		"appraisal.detailed_quality": c.Appraisal.DetailedQuality,
	} {
		if val != "" && val != "mean" && val != "product" {
			errs = append(errs, fmt.Sprintf("%s must be mean or product, got %q", key, val))
		}
	}
	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 64 {
		errs = append(errs, "batch.concurrency must be between 1 and 64")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if _, _, err := net.ParseCIDR(s); err == nil {
		return true
	}
	return net.ParseIP(s) != nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateRateLimit() []string {
	var errs []string
	rl := c.RateLimit
	switch rl.Strategy {
	case RateLimitMemory, RateLimitTokenBucket:
	case RateLimitRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for rate_limit.strategy redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("rate_limit.strategy must be memory, token_bucket or redis, got %q", rl.Strategy))
	}
	if rl.Requests <= 0 {
		errs = append(errs, "rate_limit.requests must be > 0")
	}
	if rl.WindowSecs <= 0 {
		errs = append(errs, "rate_limit.window_secs must be > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
