// Package env provides the common command line and environment
// configuration of the chainbus executables.
package env

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/denisbrodbeck/machineid"

	"github.com/robotalks/chainbus/pkg/bus/link"
	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/node"
	"github.com/robotalks/chainbus/pkg/tunnel"
)

// Config provides common options.
type Config struct {
	// ID identifies this instance on the broker, defaults to the machine ID.
	ID string
	// MQTTBrokerURL specifies the MQTT broker, e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// ListenAddr serves websocket radio and metrics, disabled if empty.
	ListenAddr string
	// Last is the location of the last node.
	Last int

	HandshakeSpins int
	PollInterval   time.Duration
	FlushDelay     time.Duration
}

var defaultConfig = Config{
	MQTTBrokerURL:  "mqtt://localhost:1883/chainbus/",
	ListenAddr:     ":8090",
	Last:           int(packet.LocNode2),
	HandshakeSpins: link.DefaultHandshakeSpins,
	PollInterval:   link.DefaultPollInterval,
	FlushDelay:     tunnel.DefaultFlushDelay,
}

func init() {
	loadEnv(&defaultConfig, os.Getenv)
	if defaultConfig.ID == "" {
		defaultConfig.ID = MachineID()
	}
}

func loadEnv(c *Config, getenv func(string) string) {
	if val := getenv("CHAINBUS_ID"); val != "" {
		c.ID = val
	}
	if val := getenv("CHAINBUS_MQTT_URL"); val != "" {
		c.MQTTBrokerURL = val
	}
	if val := getenv("CHAINBUS_LISTEN"); val != "" {
		c.ListenAddr = val
	}
	if n, err := strconv.Atoi(getenv("CHAINBUS_LAST")); err == nil {
		c.Last = n
	}
	if n, err := strconv.Atoi(getenv("CHAINBUS_HANDSHAKE_SPINS")); err == nil {
		c.HandshakeSpins = n
	}
	if d, err := time.ParseDuration(getenv("CHAINBUS_POLL_INTERVAL")); err == nil {
		c.PollInterval = d
	}
	if d, err := time.ParseDuration(getenv("CHAINBUS_FLUSH_DELAY")); err == nil {
		c.FlushDelay = d
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "Instance ID")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL, empty to disable")
	flag.StringVar(&defaultConfig.ListenAddr, "listen", defaultConfig.ListenAddr, "HTTP listen address, empty to disable")
	flag.IntVar(&defaultConfig.Last, "last", defaultConfig.Last, "Location of the last node")
	flag.IntVar(&defaultConfig.HandshakeSpins, "handshake-spins", defaultConfig.HandshakeSpins, "Handshake busy-wait iterations")
	flag.DurationVar(&defaultConfig.PollInterval, "poll", defaultConfig.PollInterval, "Link poll interval")
	flag.DurationVar(&defaultConfig.FlushDelay, "flush", defaultConfig.FlushDelay, "Serial flush delay")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.Last < int(packet.LocRadio) || c.Last > int(packet.LocMax) {
		return fmt.Errorf("last node %d out of range 0..%d", c.Last, packet.LocMax)
	}
	if c.HandshakeSpins <= 0 {
		return fmt.Errorf("handshake spins must be positive")
	}
	return nil
}

// NodeConfig creates the config of the node at loc.
func (c *Config) NodeConfig(loc packet.Location) node.Config {
	conf := node.DefaultConfig(loc, packet.Location(c.Last))
	conf.HandshakeSpins = c.HandshakeSpins
	conf.PollInterval = c.PollInterval
	conf.FlushDelay = c.FlushDelay
	return conf
}

// MachineID retrieves the unique ID identifying the machine, or the
// host name if it is not available.
func MachineID() string {
	if id, err := machineid.ProtectedID("chainbus"); err == nil {
		return id[:12]
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "chainbus"
}
