// Package config loads livedoc settings from defaults, an optional
// livedoc.yaml, LIVEDOC_* environment variables (and a .env file), and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. LIVEDOC_SERVER_ADDR.
const EnvPrefix = "LIVEDOC"

// Config is the full configuration of both binaries.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Relay     Relay     `mapstructure:"relay"`
	Redis     Redis     `mapstructure:"redis"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Tracing   Tracing   `mapstructure:"tracing"`
	Discovery Discovery `mapstructure:"discovery"`
	Peer      Peer      `mapstructure:"peer"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// Relay configures message delivery.
type Relay struct {
	// MaxDelay and DropRate inject network faults; zero means none.
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	DropRate   float64       `mapstructure:"drop_rate"`
	Keeper     bool          `mapstructure:"keeper"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

// Redis configures the multi-node bridge. An empty Addr disables it.
type Redis struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// Kafka configures the activity feed. No brokers disables it.
type Kafka struct {
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	QueueSize int      `mapstructure:"queue_size"`
	Workers   int      `mapstructure:"workers"`
	MaxRetry  int      `mapstructure:"max_retry"`
}

// Tracing configures the Jaeger exporter. An empty endpoint disables it.
type Tracing struct {
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

// Discovery configures LAN announcement and lookup of relays.
type Discovery struct {
	Enabled  bool   `mapstructure:"enabled"`
	Service  string `mapstructure:"service"`
	Instance string `mapstructure:"instance"`
}

// Peer configures the terminal participant.
type Peer struct {
	URL        string        `mapstructure:"url"`
	Document   string        `mapstructure:"document"`
	Name       string        `mapstructure:"name"`
	SetupDelay time.Duration `mapstructure:"setup_delay"`
	Demo       bool          `mapstructure:"demo"`
	// Interval between simulated cursor moves in demo mode.
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("relay.max_delay", time.Duration(0))
	v.SetDefault("relay.drop_rate", 0.0)
	v.SetDefault("relay.keeper", true)
	v.SetDefault("relay.send_buffer", 256)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.channel_prefix", "livedoc")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "livedoc.activity")
	v.SetDefault("kafka.queue_size", 10_000)
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("kafka.max_retry", 3)

	v.SetDefault("tracing.jaeger_endpoint", "")
	v.SetDefault("tracing.service_name", "livedoc")

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.service", "_livedoc._tcp")
	v.SetDefault("discovery.instance", "livedoc")

	v.SetDefault("peer.url", "")
	v.SetDefault("peer.document", "default")
	v.SetDefault("peer.name", "")
	v.SetDefault("peer.setup_delay", 500*time.Millisecond)
	v.SetDefault("peer.demo", false)
	v.SetDefault("peer.interval", 2*time.Second)
}

// Load reads the configuration. flags may be nil; only flags named in
// ServerFlags or PeerFlags are bound.
func Load(flags *pflag.FlagSet) (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("livedoc")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Relay.DropRate < 0 || c.Relay.DropRate > 1 {
		return fmt.Errorf("relay.drop_rate must be within [0, 1], got %v", c.Relay.DropRate)
	}

	if c.Relay.MaxDelay < 0 {
		return fmt.Errorf("relay.max_delay must not be negative, got %v", c.Relay.MaxDelay)
	}

	return nil
}
