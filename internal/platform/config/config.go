// Package config loads process configuration from environment variables and an
// optional config file through viper.
//
// Keys are nested; the environment form upper-cases the key, replaces dots with
// underscores and adds the MEDGATE_ prefix (gateway.max_body_bytes becomes
// MEDGATE_GATEWAY_MAX_BODY_BYTES).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"medgate/pkg/platform/middleware/metadata"
	strutil "medgate/pkg/platform/strings"
)

const envPrefix = "MEDGATE"

// Config is the full process configuration.
type Config struct {
	Env       string          `mapstructure:"env"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Authz     AuthzConfig     `mapstructure:"authz"`
	Security  SecurityConfig  `mapstructure:"security"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ServiceName     string        `mapstructure:"service_name"`
	Version         string        `mapstructure:"version"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RedisConfig configures the shared counter store and cache.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig configures the relational database used for the activity log
// and the database health check.
type DatabaseConfig struct {
	URL         string `mapstructure:"url"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
	ActivityLog bool   `mapstructure:"activity_log"`
}

// KafkaConfig configures the structured audit channel.
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	AuditTopic    string   `mapstructure:"audit_topic"`
	SecurityTopic string   `mapstructure:"security_topic"`
	Partitions    int32    `mapstructure:"partitions"`
	Replication   int16    `mapstructure:"replication"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	JWTIssuer     string `mapstructure:"jwt_issuer"`
}

// GatewayConfig tunes the request-processing stages.
type GatewayConfig struct {
	MaxBodyBytes         int64         `mapstructure:"max_body_bytes"`
	AuditBodyCap         int           `mapstructure:"audit_body_cap"`
	AllowedOrigins       []string      `mapstructure:"allowed_origins"`
	Product              string        `mapstructure:"product"`
	SlowRequestThreshold time.Duration `mapstructure:"slow_request_threshold"`
	AuthFailureThreshold int           `mapstructure:"auth_failure_threshold"`
	AuthFailureWindow    time.Duration `mapstructure:"auth_failure_window"`
	// TrustedProxies are CIDR ranges whose X-Forwarded-For and X-Real-IP
	// headers are honoured. Empty means the socket peer is the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	// JanitorInterval is how often expired in-memory counters are evicted.
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// RateLimitConfig configures the limiter. Quotas live in SecurityConfig.
type RateLimitConfig struct {
	Disabled  bool              `mapstructure:"disabled"`
	KeyPrefix string            `mapstructure:"key_prefix"`
	FailModes map[string]string `mapstructure:"fail_modes"`
}

// AuthzConfig configures the permission matrix source.
type AuthzConfig struct {
	PolicyFile string        `mapstructure:"policy_file"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// Quota is a configured attempts-per-window pair. Anonymous falls back to
// Authenticated when zero.
type Quota struct {
	Authenticated int           `mapstructure:"authenticated"`
	Anonymous     int           `mapstructure:"anonymous"`
	Window        time.Duration `mapstructure:"window"`
}

// SecurityConfig is the source of truth for the cached security snapshot.
type SecurityConfig struct {
	Quotas          map[string]Quota `mapstructure:"quotas"`
	AccessTokenTTL  time.Duration    `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration    `mapstructure:"refresh_token_ttl"`
	Password        PasswordConfig   `mapstructure:"password"`
}

// PasswordConfig holds password policy constants.
type PasswordConfig struct {
	MinLength        int           `mapstructure:"min_length"`
	RequireMixedCase bool          `mapstructure:"require_mixed_case"`
	RequireDigit     bool          `mapstructure:"require_digit"`
	RequireSymbol    bool          `mapstructure:"require_symbol"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// HealthConfig tunes HealthProbe thresholds.
type HealthConfig struct {
	DiskPath          string        `mapstructure:"disk_path"`
	MemoryLimitBytes  uint64        `mapstructure:"memory_limit_bytes"`
	DBLatencyWarning  time.Duration `mapstructure:"db_latency_warning"`
	CheckTimeout      time.Duration `mapstructure:"check_timeout"`
	ErrorRateWarning  int           `mapstructure:"error_rate_warning"`
	ErrorRateCritical int           `mapstructure:"error_rate_critical"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.service_name", "medgate")
	v.SetDefault("server.version", "dev")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 2*time.Second)
	v.SetDefault("redis.read_timeout", 500*time.Millisecond)
	v.SetDefault("redis.write_timeout", 500*time.Millisecond)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.activity_log", false)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.audit_topic", "medgate.audit")
	v.SetDefault("kafka.security_topic", "medgate.security")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication", 1)

	v.SetDefault("auth.jwt_signing_key", "dev-secret-key-change-in-production")
	v.SetDefault("auth.jwt_issuer", "medgate")

	v.SetDefault("gateway.max_body_bytes", 10<<20)
	v.SetDefault("gateway.audit_body_cap", 64<<10)
	v.SetDefault("gateway.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("gateway.product", "emr")
	v.SetDefault("gateway.slow_request_threshold", 5*time.Second)
	v.SetDefault("gateway.auth_failure_threshold", 10)
	v.SetDefault("gateway.auth_failure_window", 5*time.Minute)
	v.SetDefault("gateway.trusted_proxies", []string{})
	v.SetDefault("gateway.janitor_interval", time.Minute)

	v.SetDefault("ratelimit.disabled", false)
	v.SetDefault("ratelimit.key_prefix", "rl")
	v.SetDefault("ratelimit.fail_modes", map[string]string{})

	v.SetDefault("authz.policy_file", "")
	v.SetDefault("authz.cache_ttl", 10*time.Minute)

	v.SetDefault("security.quotas", map[string]any{})
	v.SetDefault("security.access_token_ttl", 15*time.Minute)
	v.SetDefault("security.refresh_token_ttl", 30*24*time.Hour)
	v.SetDefault("security.password.min_length", 12)
	v.SetDefault("security.password.require_mixed_case", true)
	v.SetDefault("security.password.require_digit", true)
	v.SetDefault("security.password.require_symbol", true)
	v.SetDefault("security.password.max_age", 90*24*time.Hour)

	v.SetDefault("health.disk_path", "/")
	v.SetDefault("health.memory_limit_bytes", uint64(1<<30))
	v.SetDefault("health.db_latency_warning", time.Second)
	v.SetDefault("health.check_timeout", 3*time.Second)
	v.SetDefault("health.error_rate_warning", 50)
	v.SetDefault("health.error_rate_critical", 100)
}

// Load reads configuration from the environment and, when path is non-empty,
// from that file. Environment values win over file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = strutil.SplitList(cfg.Kafka.Brokers)
	cfg.Gateway.AllowedOrigins = strutil.SplitList(cfg.Gateway.AllowedOrigins)
	cfg.Gateway.TrustedProxies = strutil.SplitList(cfg.Gateway.TrustedProxies)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDev reports whether the process runs in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rejects configurations that cannot run safely.
func (c *Config) Validate() error {
	if c.Gateway.MaxBodyBytes <= 0 {
		return fmt.Errorf("gateway.max_body_bytes must be positive")
	}
	if c.Gateway.AuditBodyCap <= 0 {
		return fmt.Errorf("gateway.audit_body_cap must be positive")
	}
	if c.Gateway.Product == "" {
		return fmt.Errorf("gateway.product is required")
	}
	if c.Gateway.JanitorInterval <= 0 {
		return fmt.Errorf("gateway.janitor_interval must be positive")
	}
	if _, err := metadata.ParseTrustedProxies(c.Gateway.TrustedProxies); err != nil {
		return fmt.Errorf("gateway.trusted_proxies: %w", err)
	}
	if !c.IsDev() && c.Auth.JWTSigningKey == "dev-secret-key-change-in-production" {
		return fmt.Errorf("auth.jwt_signing_key must be set outside development")
	}
	for bucket, mode := range c.RateLimit.FailModes {
		switch mode {
		case "open", "closed", "local":
		default:
			return fmt.Errorf("ratelimit.fail_modes.%s: unknown mode %q", bucket, mode)
		}
	}
	if c.Health.ErrorRateWarning >= c.Health.ErrorRateCritical {
		return fmt.Errorf("health.error_rate_warning must be below health.error_rate_critical")
	}
	return nil
}
