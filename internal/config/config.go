// Package config loads chamtool configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/cham"
)

// Config is the complete chamtool configuration.
type Config struct {
	Interrupts InterruptsConfig `yaml:"interrupts"`
	Logging    LoggingConfig    `yaml:"logging"`
	Bus        BusConfig        `yaml:"bus"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// InterruptsConfig holds the interrupt source option. It is read once at
// startup.
type InterruptsConfig struct {
	// UseBusIRQ gives every unit the controller's bus interrupt instead of
	// the per-unit value from the table.
	UseBusIRQ bool `yaml:"use_bus_irq"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type BusConfig struct {
	SysfsRoot string `yaml:"sysfs_root"`
	// TablesDir holds one <address>.cham description per controller.
	TablesDir string `yaml:"tables_dir"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type MQTTConfig struct {
	Enabled bool             `yaml:"enabled"`
	Broker  MQTTBrokerConfig `yaml:"broker"`
	Auth    MQTTAuthConfig   `yaml:"auth"`
	QoS     int              `yaml:"qos"`
	// TopicPrefix is prepended to every event topic.
	TopicPrefix string `yaml:"topic_prefix"`
	// ConnectTimeout is in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SimulationConfig describes simulated controllers and drivers.
type SimulationConfig struct {
	Controllers []ControllerConfig `yaml:"controllers"`
	Drivers     []DriverConfig     `yaml:"drivers"`
}

type ControllerConfig struct {
	Address string      `yaml:"address"`
	Vendor  uint16      `yaml:"vendor"`
	Device  uint16      `yaml:"device"`
	IRQ     int         `yaml:"irq"`
	BARs    []BARConfig `yaml:"bars"`
	// Table is the .cham description file. Relative paths are resolved
	// against the config file's directory.
	Table string `yaml:"table"`
}

type BARConfig struct {
	Index int    `yaml:"index"`
	IO    bool   `yaml:"io"`
	Base  uint64 `yaml:"base"`
	Size  uint64 `yaml:"size"`
}

type DriverConfig struct {
	Name  string   `yaml:"name"`
	Space string   `yaml:"space"`
	IDs   []uint16 `yaml:"ids"`
	// RefuseInstances makes the probe decline units with these instance
	// numbers.
	RefuseInstances []uint8 `yaml:"refuse_instances"`
}

// Load reads path, applies environment overrides and validates the result.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Interrupts: InterruptsConfig{UseBusIRQ: true},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Bus: BusConfig{
			SysfsRoot: bus.DefaultSysfsRoot,
			TablesDir: "/etc/chamtool/tables",
		},
		Metrics: MetricsConfig{
			Listen: ":9479",
			Path:   "/metrics",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "chamtool",
			},
			QoS:            1,
			TopicPrefix:    "chameleon",
			ConnectTimeout: 10,
		},
	}
}

func (c *Config) resolvePaths(dir string) {
	for i := range c.Simulation.Controllers {
		t := c.Simulation.Controllers[i].Table
		if t != "" && !filepath.IsAbs(t) {
			c.Simulation.Controllers[i].Table = filepath.Join(dir, t)
		}
	}
	if c.Bus.TablesDir != "" && !filepath.IsAbs(c.Bus.TablesDir) {
		c.Bus.TablesDir = filepath.Join(dir, c.Bus.TablesDir)
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CHAM_USE_BUS_IRQ"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHAM_USE_BUS_IRQ: %w", err)
		}
		cfg.Interrupts.UseBusIRQ = b
	}
	if v := os.Getenv("CHAM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHAM_SYSFS_ROOT"); v != "" {
		cfg.Bus.SysfsRoot = v
	}
	if v := os.Getenv("CHAM_TABLES_DIR"); v != "" {
		cfg.Bus.TablesDir = v
	}
	if v := os.Getenv("CHAM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CHAM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	seen := map[string]bool{}
	for i, ctl := range c.Simulation.Controllers {
		addr, err := bus.ParseAddress(ctl.Address)
		if err != nil {
			errs = append(errs, fmt.Sprintf("simulation.controllers[%d].address: %v", i, err))
		} else if seen[addr.String()] {
			errs = append(errs, fmt.Sprintf("simulation.controllers[%d].address %s is duplicated", i, addr))
		} else {
			seen[addr.String()] = true
		}
		if ctl.Table == "" {
			errs = append(errs, fmt.Sprintf("simulation.controllers[%d].table is required", i))
		}
		for _, b := range ctl.BARs {
			if b.Index < 0 || b.Index >= bus.NumBARs {
				errs = append(errs, fmt.Sprintf("simulation.controllers[%d] bar index %d out of range", i, b.Index))
			}
		}
	}

	names := map[string]bool{}
	for i, d := range c.Simulation.Drivers {
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("simulation.drivers[%d].name is required", i))
		} else if names[d.Name] {
			errs = append(errs, fmt.Sprintf("simulation.drivers[%d].name %q is duplicated", i, d.Name))
		}
		names[d.Name] = true
		if _, err := cham.ParseSpace(d.Space); err != nil {
			errs = append(errs, fmt.Sprintf("simulation.drivers[%d].space: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IRQPolicy returns the registry policy selected by Interrupts.UseBusIRQ.
func (c *Config) IRQPolicy() cham.IRQPolicy {
	return cham.PolicyFromFlag(c.Interrupts.UseBusIRQ)
}
