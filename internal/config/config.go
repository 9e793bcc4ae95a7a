package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the store seeder.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
	LogLevel     string `mapstructure:"log_level"`
}

// BootstrapConfig controls the one-shot sample data seeding and the
// dependencies it talks to.
type BootstrapConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// RunOnStart makes the server subcommand seed once before serving.
	RunOnStart bool `mapstructure:"run_on_start"`
	// FailOnError aborts server startup when the startup bootstrap returns an error.
	FailOnError bool `mapstructure:"fail_on_error"`

	Lock     LockConfig     `mapstructure:"lock"`
	Sample   SampleConfig   `mapstructure:"sample"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Project  ServiceConfig  `mapstructure:"project"`
	Store    ServiceConfig  `mapstructure:"store"`
}

// Lock backends.
const (
	LockBackendRedis  = "redis"
	LockBackendMemory = "memory"
)

type LockConfig struct {
	// Backend is "redis" or "memory". The memory backend only excludes
	// bootstraps within one process.
	Backend string        `mapstructure:"backend"`
	Key     string        `mapstructure:"key"`
	Lease   time.Duration `mapstructure:"lease"`
}

type SampleConfig struct {
	ProjectCode string `mapstructure:"project_code"`
	UserID      string `mapstructure:"user_id"`
	ImageCode   string `mapstructure:"image_code"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	// URL may be empty to disable lifecycle event publishing.
	URL     string `mapstructure:"url"`
	Stream  string `mapstructure:"stream"`
	Subject string `mapstructure:"subject"`
}

// ServiceConfig addresses one platform HTTP service.
type ServiceConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the SEEDER_ prefix (e.g. SEEDER_SERVER_PORT).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SEEDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings the bootstrap cannot run without.
func (c *Config) Validate() error {
	b := c.Bootstrap
	switch b.Lock.Backend {
	case LockBackendRedis, LockBackendMemory:
	default:
		return fmt.Errorf("bootstrap.lock.backend must be redis or memory, got %q", b.Lock.Backend)
	}
	if strings.TrimSpace(b.Lock.Key) == "" {
		return fmt.Errorf("bootstrap.lock.key cannot be empty")
	}
	if b.Lock.Lease <= 0 {
		return fmt.Errorf("bootstrap.lock.lease must be positive")
	}
	if b.Sample.ProjectCode == "" || b.Sample.UserID == "" || b.Sample.ImageCode == "" {
		return fmt.Errorf("bootstrap.sample project_code, user_id and image_code are required")
	}
	if b.Project.URL == "" {
		return fmt.Errorf("bootstrap.project.url cannot be empty")
	}
	if b.Store.URL == "" {
		return fmt.Errorf("bootstrap.store.url cannot be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "store-seeder")
	v.SetDefault("telemetry.log_level", "info")

	v.SetDefault("bootstrap.timeout", 5*time.Minute)
	v.SetDefault("bootstrap.run_on_start", true)
	v.SetDefault("bootstrap.fail_on_error", true)

	v.SetDefault("bootstrap.lock.backend", LockBackendRedis)
	v.SetDefault("bootstrap.lock.key", "IMAGE_INIT_LOCK")
	v.SetDefault("bootstrap.lock.lease", 60*time.Second)

	v.SetDefault("bootstrap.sample.project_code", "demo")
	v.SetDefault("bootstrap.sample.user_id", "admin")
	v.SetDefault("bootstrap.sample.image_code", "tlinux_ci")

	v.SetDefault("bootstrap.postgres.host", "bk-ci-postgres")
	v.SetDefault("bootstrap.postgres.port", 5432)
	v.SetDefault("bootstrap.postgres.user", "devops")
	v.SetDefault("bootstrap.postgres.password", "")
	v.SetDefault("bootstrap.postgres.db", "devops_ci_store")
	v.SetDefault("bootstrap.postgres.ssl_mode", "disable")
	v.SetDefault("bootstrap.postgres.max_conns", 4)

	v.SetDefault("bootstrap.redis.host", "bk-ci-redis")
	v.SetDefault("bootstrap.redis.port", 6379)
	v.SetDefault("bootstrap.redis.password", "")
	v.SetDefault("bootstrap.redis.db", 0)

	v.SetDefault("bootstrap.nats.url", "")
	v.SetDefault("bootstrap.nats.stream", "STORE_SEED")
	v.SetDefault("bootstrap.nats.subject", "store.seed.image")

	v.SetDefault("bootstrap.project.url", "http://bk-ci-project:80")
	v.SetDefault("bootstrap.project.timeout", 10*time.Second)
	v.SetDefault("bootstrap.store.url", "http://bk-ci-store:80")
	v.SetDefault("bootstrap.store.timeout", 30*time.Second)
}
