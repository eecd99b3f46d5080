package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config represents the runtime configuration shared by every StudyHub service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Broker        BrokerConfig        `mapstructure:"broker"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Port overrides the listen port of the service. Zero keeps the service default.
	Port         int           `mapstructure:"port"`
	LogLevel     string        `mapstructure:"log_level"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// CORSOrigins limits browser origins on the gateway. Empty allows any origin.
	CORSOrigins []string `mapstructure:"cors_origins"`
	RateLimit   int      `mapstructure:"rate_limit"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// BrokerConfig selects and configures the event bus.
type BrokerConfig struct {
	Driver         string        `mapstructure:"driver"`
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	MaxDeliver     int           `mapstructure:"max_deliver"`
}

// AuthConfig captures authentication settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// GatewayConfig lists the subgraphs behind the gateway as name=url pairs.
type GatewayConfig struct {
	Subgraphs      []string      `mapstructure:"subgraphs"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// NotificationsConfig configures the consumer, live push and retention.
type NotificationsConfig struct {
	Queue                string        `mapstructure:"queue"`
	PushBuffer           int           `mapstructure:"push_buffer"`
	SlowSubscriberPolicy string        `mapstructure:"slow_subscriber_policy"`
	Retention            time.Duration `mapstructure:"retention"`
	CleanupSchedule      string        `mapstructure:"cleanup_schedule"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoadConfig reads config.yaml from ./config, . and any extra paths, applies
// STUDYHUB_ environment overrides and validates the result.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("STUDYHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error

	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "sqlite", "postgres", "postgresql", "mysql", "mariadb":
	default:
		errs = multierr.Append(errs, fmt.Errorf("config: unsupported database driver %q", c.Database.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(c.Broker.Driver)) {
	case BrokerNATS, BrokerMemory:
	default:
		errs = multierr.Append(errs, fmt.Errorf("config: unsupported broker driver %q", c.Broker.Driver))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("config: server.port %d is out of range", c.Server.Port))
	}

	if _, err := c.Gateway.Services(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if c.Notifications.PushBuffer <= 0 {
		errs = multierr.Append(errs, errors.New("config: notifications.push_buffer must be positive"))
	}
	switch c.Notifications.SlowSubscriberPolicy {
	case "drop_oldest", "close":
	default:
		errs = multierr.Append(errs, fmt.Errorf("config: unknown notifications.slow_subscriber_policy %q", c.Notifications.SlowSubscriberPolicy))
	}
	if strings.TrimSpace(c.Notifications.Queue) == "" {
		errs = multierr.Append(errs, errors.New("config: notifications.queue is required"))
	}

	return errs
}

// Broker drivers.
const (
	BrokerNATS   = "nats"
	BrokerMemory = "memory"
)

// Subgraph is one name=url entry of gateway.subgraphs.
type Subgraph struct {
	Name string
	URL  string
}

// Services parses the subgraph list. An empty list is valid here; the gateway
// command rejects it when it starts.
func (g GatewayConfig) Services() ([]Subgraph, error) {
	out := make([]Subgraph, 0, len(g.Subgraphs))
	seen := make(map[string]bool, len(g.Subgraphs))
	for _, entry := range g.Subgraphs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, url, ok := strings.Cut(entry, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("config: gateway subgraph %q must look like name=url", entry)
		}
		if seen[name] {
			return nil, fmt.Errorf("config: gateway subgraph %q listed twice", name)
		}
		seen[name] = true
		out = append(out, Subgraph{Name: name, URL: strings.TrimRight(url, "/")})
	}
	return out, nil
}

func setDefaults(v *viper.Viper) {
	// 0 lets every service listen on its own well-known port.
	v.SetDefault("server.port", 0)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit", 300)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/studyhub.sqlite")

	v.SetDefault("broker.driver", BrokerNATS)
	v.SetDefault("broker.url", "nats://127.0.0.1:4222")
	v.SetDefault("broker.name", "studyhub")
	v.SetDefault("broker.connect_timeout", "5s")
	v.SetDefault("broker.ack_wait", "30s")
	v.SetDefault("broker.max_deliver", 5)

	v.SetDefault("auth.jwt.issuer", "studyhub")
	v.SetDefault("auth.jwt.access_token_ttl", "24h")

	v.SetDefault("gateway.subgraphs", []string{
		"users=http://localhost:4001",
		"posts=http://localhost:4002",
		"messages=http://localhost:4003",
		"notifications=http://localhost:4004",
		"reports=http://localhost:4005",
	})
	v.SetDefault("gateway.startup_timeout", "1m")
	v.SetDefault("gateway.poll_interval", "1s")
	v.SetDefault("gateway.request_timeout", "30s")

	v.SetDefault("notifications.queue", "notification_created_queue")
	v.SetDefault("notifications.push_buffer", 16)
	v.SetDefault("notifications.slow_subscriber_policy", "drop_oldest")
	v.SetDefault("notifications.retention", "720h")
	v.SetDefault("notifications.cleanup_schedule", "@daily")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.health_check.timeout", "5s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
