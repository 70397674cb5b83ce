package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/robertof/go-heartrate-monitor/ble"
	"github.com/robertof/go-heartrate-monitor/collector"
	"github.com/robertof/go-heartrate-monitor/hub"
	"github.com/robertof/go-heartrate-monitor/sink"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
  backendHCI   = "hci"
  backendBlueZ = "bluez"

  backoffConstant    = "constant"
  backoffExponential = "exponential"
)

type config struct {
  ConfigFile string `yaml:"-"`

  Debug    bool   `yaml:"debug"`
  Trace    bool   `yaml:"trace"`
  LogLevel string `yaml:"log_level"`

  Backend             string         `yaml:"backend" default:"hci"`
  BluetoothDeviceId   int            `yaml:"bluetooth_device"`
  BluetoothConnParams ble.ConnParams `yaml:"bluetooth_connection_params" default:"default"`
  ActiveScan          bool           `yaml:"active_scan" default:"true"`
  DeviceAddress       string         `yaml:"device_address"`

  BufferSize      uint32        `yaml:"buffer_size" default:"100"`
  Backoff         time.Duration `yaml:"backoff" default:"5s"`
  BackoffStrategy string        `yaml:"backoff_strategy" default:"constant"`
  MaxBackoff      time.Duration `yaml:"max_backoff" default:"5m"`

  BindAddress string     `yaml:"bind" default:"localhost:9103"`
  CORSOrigins stringList `yaml:"cors_origins"`

  DiscoverDevices  bool          `yaml:"discover"`
  DiscoverDuration time.Duration `yaml:"discover_duration" default:"10s"`

  MQTT  sink.MQTTConfig  `yaml:"mqtt"`
  Kafka sink.KafkaConfig `yaml:"kafka"`
  Redis sink.RedisConfig `yaml:"redis"`
}

// stringList is a comma separated flag.Value. Setting it replaces the whole list.
type stringList []string

func (l *stringList) String() string {
  return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
  *l = nil

  for _, item := range strings.Split(v, ",") {
    if item = strings.TrimSpace(item); item != "" {
      *l = append(*l, item)
    }
  }

  return nil
}

func (c config) backoff() collector.Backoff {
  if c.BackoffStrategy == backoffExponential {
    return collector.ExponentialBackoff{
      Factor: c.Backoff,
      Max:    c.MaxBackoff,
    }
  }

  return collector.ConstantBackoff(c.Backoff)
}

// logLevel picks the most verbose of the flags, the environment and the configured level.
func (c config) logLevel() zerolog.Level {
  switch {
  case c.Trace || os.Getenv("TRACE") != "":
    return zerolog.TraceLevel
  case c.Debug || os.Getenv("DEBUG") != "":
    return zerolog.DebugLevel
  }

  if c.LogLevel != "" {
    if level, err := zerolog.ParseLevel(c.LogLevel); err == nil {
      return level
    }
  }

  return zerolog.InfoLevel
}

func (c config) validate() error {
  switch c.Backend {
  case backendHCI, backendBlueZ:
  default:
    return fmt.Errorf("backend must be %q or %q, got %q", backendHCI, backendBlueZ, c.Backend)
  }

  switch c.BackoffStrategy {
  case backoffConstant, backoffExponential:
  default:
    return fmt.Errorf("backoff_strategy must be %q or %q, got %q",
      backoffConstant, backoffExponential, c.BackoffStrategy)
  }

  if c.Backoff <= 0 {
    return errors.New("backoff must be > 0")
  }

  if c.BufferSize == 0 || c.BufferSize > hub.MaxCapacity {
    return fmt.Errorf("buffer_size must be between 1 and %d", hub.MaxCapacity)
  }

  if c.LogLevel != "" {
    if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
      return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
    }
  }

  // CoreBluetooth identifies peripherals by UUID, only HCI addresses are MACs.
  if c.DeviceAddress != "" && c.Backend == backendHCI {
    if _, err := net.ParseMAC(c.DeviceAddress); err != nil {
      return fmt.Errorf("invalid device_address %q: %w", c.DeviceAddress, err)
    }
  }

  var params ble.ConnParams
  if err := params.Set(string(c.BluetoothConnParams)); err != nil {
    return err
  }

  if c.MQTT.QoS > 2 {
    return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
  }

  if c.DiscoverDuration <= 0 {
    return errors.New("discover_duration must be > 0")
  }

  return nil
}

func loadConfigFile(path string, cfg *config) error {
  data, err := os.ReadFile(path)

  if err != nil {
    return fmt.Errorf("reading config file: %w", err)
  }

  if err := yaml.Unmarshal(data, cfg); err != nil {
    return fmt.Errorf("parsing config file: %w", err)
  }

  return nil
}

func registerFlags(fs *flag.FlagSet, cfg *config) {
  fs.StringVar(&cfg.ConfigFile, "config", "", "Optional YAML configuration file. Flags set explicitly take precedence")
  fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Bluetooth backend: 'hci' (raw HCI socket) or 'bluez' (BlueZ/CoreBluetooth)")
  fs.IntVar(&cfg.BluetoothDeviceId, "bluetooth-device", cfg.BluetoothDeviceId, "Bluetooth (HCI) device ID")
  fs.Var(&cfg.BluetoothConnParams, "bluetooth-connection-params", "Bluetooth connection parameters (one of 'default' or 'power-saving')")
  fs.BoolVar(&cfg.ActiveScan, "active-scan", cfg.ActiveScan, "Run active scans (HCI backend)")
  fs.StringVar(&cfg.DeviceAddress, "device-address", cfg.DeviceAddress, "Only connect to the heart rate sensor with this address")
  fs.Var(uint32Value{&cfg.BufferSize}, "buffer-size", "Readings buffered per consumer before the oldest ones are dropped")
  fs.DurationVar(&cfg.Backoff, "backoff", cfg.Backoff, "Delay between reconnection attempts (factor for the exponential strategy)")
  fs.StringVar(&cfg.BackoffStrategy, "backoff-strategy", cfg.BackoffStrategy, "Retry delay strategy: 'constant' or 'exponential'")
  fs.DurationVar(&cfg.MaxBackoff, "max-backoff", cfg.MaxBackoff, "Upper bound for the exponential strategy")
  fs.StringVar(&cfg.BindAddress, "bind", cfg.BindAddress, "Where the HTTP server will bind to")
  fs.Var(&cfg.CORSOrigins, "cors-origins", "Comma separated list of origins allowed to use the HTTP API ('*' for any)")
  fs.BoolVar(&cfg.DiscoverDevices, "discover", cfg.DiscoverDevices, "Discover heart rate sensors nearby and quit")
  fs.DurationVar(&cfg.DiscoverDuration, "discover-duration", cfg.DiscoverDuration, "How long discovery mode scans for")
  fs.StringVar(&cfg.MQTT.Broker, "mqtt-broker", cfg.MQTT.Broker, "MQTT broker URL, e.g. tcp://localhost:1883. Empty disables the MQTT sink")
  fs.StringVar(&cfg.MQTT.Topic, "mqtt-topic", cfg.MQTT.Topic, "MQTT topic readings are published to")
  fs.Var((*stringList)(&cfg.Kafka.Brokers), "kafka-brokers", "Comma separated Kafka brokers. Empty disables the Kafka sink")
  fs.StringVar(&cfg.Kafka.Topic, "kafka-topic", cfg.Kafka.Topic, "Kafka topic readings are written to")
  fs.StringVar(&cfg.Redis.Addr, "redis-addr", cfg.Redis.Addr, "Redis address, e.g. localhost:6379. Empty disables the Redis sink")
  fs.StringVar(&cfg.Redis.Channel, "redis-channel", cfg.Redis.Channel, "Redis channel readings are published on")
  fs.StringVar(&cfg.Redis.Key, "redis-key", cfg.Redis.Key, "Redis key holding the latest reading")
  fs.DurationVar(&cfg.Redis.TTL, "redis-ttl", cfg.Redis.TTL, "Expiry of the latest reading key")
  fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
  fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logs")
  fs.BoolVar(&cfg.Trace, "trace", cfg.Trace, "Enable trace logs")
}

type uint32Value struct {
  p *uint32
}

func (v uint32Value) String() string {
  if v.p == nil {
    return ""
  }

  return fmt.Sprint(*v.p)
}

func (v uint32Value) Set(s string) error {
  var n uint32

  if _, err := fmt.Sscan(s, &n); err != nil {
    return fmt.Errorf("invalid value %q: %w", s, err)
  }

  *v.p = n

  return nil
}

// parseConfig layers the configuration: defaults, then the YAML file, then the flags that
// were set explicitly on the command line.
func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
  var cfg config

  defaults.SetDefaults(&cfg)
  registerFlags(fs, &cfg)

  if err := fs.Parse(args); err != nil {
    return cfg, err
  }

  if cfg.ConfigFile != "" {
    explicit := make(map[string]string)

    fs.Visit(func(f *flag.Flag) {
      explicit[f.Name] = f.Value.String()
    })

    if err := loadConfigFile(cfg.ConfigFile, &cfg); err != nil {
      return cfg, err
    }

    for name, value := range explicit {
      if err := fs.Set(name, value); err != nil {
        return cfg, fmt.Errorf("re-applying flag -%s: %w", name, err)
      }
    }
  }

  return cfg, cfg.validate()
}

func ParseArgs() config {
  cfg, err := parseConfig(flag.CommandLine, os.Args[1:])

  if err != nil {
    fmt.Fprintf(os.Stderr, "Error: %v\n", err)
    flag.Usage()
    os.Exit(1)
  }

  return cfg
}
