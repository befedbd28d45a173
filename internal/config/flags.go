package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"addr":        "server.addr",
	"max-delay":   "relay.max_delay",
	"drop-rate":   "relay.drop_rate",
	"keeper":      "relay.keeper",
	"redis":       "redis.addr",
	"kafka":       "kafka.brokers",
	"jaeger":      "tracing.jaeger_endpoint",
	"announce":    "discovery.enabled",
	"service":     "discovery.service",
	"url":         "peer.url",
	"doc":         "peer.document",
	"name":        "peer.name",
	"demo":        "peer.demo",
	"discover":    "discovery.enabled",
	"setup-delay": "peer.setup_delay",
}

// ServerFlags defines the relay server's flags on fs.
func ServerFlags(fs *pflag.FlagSet) {
	fs.String("addr", ":8080", "HTTP listen address")
	fs.Duration("max-delay", 0, "maximum injected delivery delay")
	fs.Float64("drop-rate", 0, "probability of dropping a delivery")
	fs.Bool("keeper", true, "answer document requests from the relay")
	fs.String("redis", "", "Redis address for joining relay nodes")
	fs.StringSlice("kafka", nil, "Kafka brokers for the activity feed")
	fs.String("jaeger", "", "Jaeger collector endpoint")
	fs.Bool("announce", false, "announce the relay on the local network")
	fs.String("service", "_livedoc._tcp", "zeroconf service type")
}

// PeerFlags defines the terminal participant's flags on fs.
func PeerFlags(fs *pflag.FlagSet) {
	fs.String("url", "", "relay websocket URL, e.g. ws://localhost:8080/ws")
	fs.String("doc", "default", "document to join")
	fs.String("name", "", "display name")
	fs.Bool("demo", false, "run against an in-process relay with simulated participants")
	fs.Bool("discover", false, "find a relay on the local network")
	fs.String("service", "_livedoc._tcp", "zeroconf service type")
	fs.Duration("setup-delay", 500*time.Millisecond, "connection setup delay in demo mode")
	fs.Duration("max-delay", 0, "maximum injected delivery delay in demo mode")
	fs.Float64("drop-rate", 0, "probability of dropping a delivery in demo mode")
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error

	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}

		// Unchanged flags must not shadow the file and environment.
		if !f.Changed {
			return
		}

		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("bind flag %s: %w", f.Name, bindErr)
		}
	})

	return err
}
