// Package config loads serialdispatch settings from a YAML file, .env files
// and SERIALD_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/luhtfiimanal/go-serial-dispatch/input"
)

// EnvPrefix prefixes every environment override, e.g. SERIALD_HTTP_ADDR.
const EnvPrefix = "SERIALD"

// TransportConfig describes one serial port or the console.
type TransportConfig struct {
	Name        string        `mapstructure:"name" yaml:"name"`
	Device      string        `mapstructure:"device" yaml:"device,omitempty"`
	BaudRate    int           `mapstructure:"baudRate" yaml:"baudRate,omitempty"`
	Console     bool          `mapstructure:"console" yaml:"console,omitempty"`
	Selector    string        `mapstructure:"selector" yaml:"selector,omitempty"`
	ReadTimeout time.Duration `mapstructure:"readTimeout" yaml:"readTimeout,omitempty"`
	MaxChunk    int           `mapstructure:"maxChunk" yaml:"maxChunk,omitempty"`
	MaxCapacity int           `mapstructure:"maxCapacity" yaml:"maxCapacity,omitempty"`
}

// BridgeConfig sizes the producer to consumer hand-off.
type BridgeConfig struct {
	QueueSize      int           `mapstructure:"queueSize" yaml:"queueSize"`
	HandoffTimeout time.Duration `mapstructure:"handoffTimeout" yaml:"handoffTimeout"`
}

// EngineConfig holds dispatch settings.
type EngineConfig struct {
	MaxRecordSize int          `mapstructure:"maxRecordSize" yaml:"maxRecordSize"`
	Interactive   bool         `mapstructure:"interactive" yaml:"interactive"`
	Bridge        BridgeConfig `mapstructure:"bridge" yaml:"bridge"`
}

// LumberjackConfig configures log file rotation.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize" yaml:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge" yaml:"maxAge"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// LoggingConfig selects level, encoding and optional file output.
type LoggingConfig struct {
	Level  string           `mapstructure:"level" yaml:"level"`
	Format string           `mapstructure:"format" yaml:"format"`
	File   LumberjackConfig `mapstructure:"file" yaml:"file"`
}

// HTTPConfig configures the control surface.
type HTTPConfig struct {
	Enable       bool          `mapstructure:"enable" yaml:"enable"`
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout" yaml:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout"`
}

// MetricsConfig configures Prometheus exposition on the HTTP surface.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable" yaml:"enable"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// Config is the top-level configuration.
type Config struct {
	Transports []TransportConfig `mapstructure:"transports" yaml:"transports"`
	Engine     EngineConfig      `mapstructure:"engine" yaml:"engine"`
	Logging    LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	HTTP       HTTPConfig        `mapstructure:"http" yaml:"http"`
	Metrics    MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// LoadDotEnv loads .env and .env.local from the working directory if they
// exist. Variables already set in the environment win.
func LoadDotEnv() error {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// Load reads configuration into v and returns it. If path is empty,
// SERIALD_CONFIG is consulted, then ./serialdispatch.yaml and
// ./configs/serialdispatch.yaml. A missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("serialdispatch")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.maxRecordSize", input.DefaultMaxCapacity)
	v.SetDefault("engine.interactive", true)
	v.SetDefault("engine.bridge.queueSize", 64)
	v.SetDefault("engine.bridge.handoffTimeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("http.enable", false)
	v.SetDefault("http.addr", "127.0.0.1:8089")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the transport list: unique names, a device for every
// serial port, at most one console and parseable selectors.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Transports))
	consoles := 0
	for i, t := range c.Transports {
		if t.Name == "" {
			return fmt.Errorf("transports[%d]: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("transports[%d]: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true
		if t.Console {
			consoles++
		} else if t.Device == "" {
			return fmt.Errorf("transport %q: device is required", t.Name)
		}
		if _, err := input.ParseSelector(t.Selector); err != nil {
			return fmt.Errorf("transport %q: %w", t.Name, err)
		}
	}
	if consoles > 1 {
		return fmt.Errorf("at most one console transport, got %d", consoles)
	}
	return nil
}
