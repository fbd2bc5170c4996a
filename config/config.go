// Package config loads framebridge settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"framebridge/codec"
	"framebridge/loadbalance"
	"framebridge/security"
)

// EnvPrefix prefixes every environment override; FRAMEBRIDGE_RPC_CALL_TIMEOUT_MS sets
// rpc.call_timeout_ms. FRAMEBRIDGE_CONFIG names the config file.
const EnvPrefix = "FRAMEBRIDGE"

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	RPC      RPCConfig      `mapstructure:"rpc"`
	Health   HealthConfig   `mapstructure:"health"`
	Server   ServerConfig   `mapstructure:"server"`
	Registry RegistryConfig `mapstructure:"registry"`
}

type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig governs the receive-boundary checks of every endpoint.
type SecurityConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	EnableRateLimit  bool     `mapstructure:"enable_rate_limit"`
	MaxRequests      int      `mapstructure:"max_requests"`
	TimeWindowMS     int      `mapstructure:"time_window_ms"`
	ValidateMessages bool     `mapstructure:"validate_messages"`
}

type RPCConfig struct {
	CallTimeoutMS  int    `mapstructure:"call_timeout_ms"`
	SetupTimeoutMS int    `mapstructure:"setup_timeout_ms"`
	Codec          string `mapstructure:"codec"`
}

type HealthConfig struct {
	Enable       bool `mapstructure:"enable"`
	IntervalMS   int  `mapstructure:"interval_ms"`
	TimeoutMS    int  `mapstructure:"timeout_ms"`
	MaxRetries   int  `mapstructure:"max_retries"`
	RetryDelayMS int  `mapstructure:"retry_delay_ms"`
	GraceMS      int  `mapstructure:"grace_ms"`
}

// ServerConfig configures the bridge host.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	// Origin presented in the Origin header when dialing bridge hosts.
	Origin            string  `mapstructure:"origin"`
	AdvertiseAddr     string  `mapstructure:"advertise_addr"`
	ShutdownTimeoutMS int     `mapstructure:"shutdown_timeout_ms"`
	HandlerRate       float64 `mapstructure:"handler_rate"` // requests/s across all connections, 0 = unlimited
	HandlerBurst      int     `mapstructure:"handler_burst"`
}

type RegistryConfig struct {
	Enable    bool     `mapstructure:"enable"`
	Endpoints []string `mapstructure:"endpoints"`
	Service   string   `mapstructure:"service"`
	TTL       int64    `mapstructure:"ttl"`
	Balancer  string   `mapstructure:"balancer"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/framebridge.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Security: SecurityConfig{
			AllowedOrigins:   []string{security.Wildcard},
			MaxRequests:      security.DefaultMaxRequests,
			TimeWindowMS:     int(security.DefaultTimeWindow / time.Millisecond),
			ValidateMessages: true,
		},
		RPC: RPCConfig{
			CallTimeoutMS:  10000,
			SetupTimeoutMS: 5000,
			Codec:          "json",
		},
		Health: HealthConfig{
			IntervalMS:   5000,
			TimeoutMS:    2000,
			MaxRetries:   3,
			RetryDelayMS: 1000,
			GraceMS:      1000,
		},
		Server: ServerConfig{
			Listen:            ":8080",
			ShutdownTimeoutMS: 5000,
			HandlerBurst:      100,
		},
		Registry: RegistryConfig{
			Endpoints: []string{"localhost:2379"},
			Service:   "framebridge",
			TTL:       10,
			Balancer:  "consistent_hash",
		},
	}
}

// Load reads the file at path, or framebridge.yaml from the usual locations when path is
// empty, then applies FRAMEBRIDGE_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("framebridge")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".framebridge"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper so env-only configs work.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("security.allowed_origins", cfg.Security.AllowedOrigins)
	v.SetDefault("security.enable_rate_limit", cfg.Security.EnableRateLimit)
	v.SetDefault("security.max_requests", cfg.Security.MaxRequests)
	v.SetDefault("security.time_window_ms", cfg.Security.TimeWindowMS)
	v.SetDefault("security.validate_messages", cfg.Security.ValidateMessages)

	v.SetDefault("rpc.call_timeout_ms", cfg.RPC.CallTimeoutMS)
	v.SetDefault("rpc.setup_timeout_ms", cfg.RPC.SetupTimeoutMS)
	v.SetDefault("rpc.codec", cfg.RPC.Codec)

	v.SetDefault("health.enable", cfg.Health.Enable)
	v.SetDefault("health.interval_ms", cfg.Health.IntervalMS)
	v.SetDefault("health.timeout_ms", cfg.Health.TimeoutMS)
	v.SetDefault("health.max_retries", cfg.Health.MaxRetries)
	v.SetDefault("health.retry_delay_ms", cfg.Health.RetryDelayMS)
	v.SetDefault("health.grace_ms", cfg.Health.GraceMS)

	v.SetDefault("server.listen", cfg.Server.Listen)
	v.SetDefault("server.origin", cfg.Server.Origin)
	v.SetDefault("server.advertise_addr", cfg.Server.AdvertiseAddr)
	v.SetDefault("server.shutdown_timeout_ms", cfg.Server.ShutdownTimeoutMS)
	v.SetDefault("server.handler_rate", cfg.Server.HandlerRate)
	v.SetDefault("server.handler_burst", cfg.Server.HandlerBurst)

	v.SetDefault("registry.enable", cfg.Registry.Enable)
	v.SetDefault("registry.endpoints", cfg.Registry.Endpoints)
	v.SetDefault("registry.service", cfg.Registry.Service)
	v.SetDefault("registry.ttl", cfg.Registry.TTL)
	v.SetDefault("registry.balancer", cfg.Registry.Balancer)
}

// Validate checks values that would otherwise fail late, normalising a few on the way.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if len(c.Security.AllowedOrigins) == 0 {
		c.Security.AllowedOrigins = []string{security.Wildcard}
	}
	if c.Security.EnableRateLimit {
		if c.Security.MaxRequests <= 0 {
			return fmt.Errorf("invalid security.max_requests: %d", c.Security.MaxRequests)
		}
		if c.Security.TimeWindowMS <= 0 {
			return fmt.Errorf("invalid security.time_window_ms: %d", c.Security.TimeWindowMS)
		}
	}

	if c.RPC.CallTimeoutMS <= 0 {
		return fmt.Errorf("invalid rpc.call_timeout_ms: %d", c.RPC.CallTimeoutMS)
	}
	if c.RPC.SetupTimeoutMS < 0 {
		return fmt.Errorf("invalid rpc.setup_timeout_ms: %d", c.RPC.SetupTimeoutMS)
	}
	if _, err := codec.ParseCodecType(c.RPC.Codec); err != nil {
		return fmt.Errorf("invalid rpc.codec: %w", err)
	}

	if c.Health.IntervalMS <= 0 || c.Health.TimeoutMS <= 0 {
		return errors.New("health.interval_ms and health.timeout_ms must be positive")
	}

	if c.Server.HandlerRate < 0 {
		return fmt.Errorf("invalid server.handler_rate: %v", c.Server.HandlerRate)
	}

	if _, err := loadbalance.ByName(c.Registry.Balancer); err != nil {
		return fmt.Errorf("invalid registry.balancer: %w", err)
	}
	if c.Registry.Enable && len(c.Registry.Endpoints) == 0 {
		return errors.New("registry.endpoints must not be empty when the registry is enabled")
	}
	return nil
}

// Guard converts the security section for security.NewGuard and endpoint.WithSecurity.
func (s SecurityConfig) Guard() security.GuardConfig {
	return security.GuardConfig{
		AllowedOrigins:   s.AllowedOrigins,
		EnableRateLimit:  s.EnableRateLimit,
		MaxRequests:      s.MaxRequests,
		TimeWindow:       ms(s.TimeWindowMS),
		ValidateMessages: s.ValidateMessages,
	}
}

func (r RPCConfig) CallTimeout() time.Duration  { return ms(r.CallTimeoutMS) }
func (r RPCConfig) SetupTimeout() time.Duration { return ms(r.SetupTimeoutMS) }

// CodecType returns the parsed codec; Validate has already rejected unknown names.
func (r RPCConfig) CodecType() codec.CodecType {
	t, _ := codec.ParseCodecType(r.Codec)
	return t
}

func (h HealthConfig) Interval() time.Duration   { return ms(h.IntervalMS) }
func (h HealthConfig) Timeout() time.Duration    { return ms(h.TimeoutMS) }
func (h HealthConfig) RetryDelay() time.Duration { return ms(h.RetryDelayMS) }
func (h HealthConfig) Grace() time.Duration      { return ms(h.GraceMS) }

// Retries maps max_retries onto health.Config.MaxRetries, where zero means the default and
// a negative value means none.
func (h HealthConfig) Retries() int {
	if h.MaxRetries <= 0 {
		return -1
	}
	return h.MaxRetries
}

func (s ServerConfig) ShutdownTimeout() time.Duration { return ms(s.ShutdownTimeoutMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
