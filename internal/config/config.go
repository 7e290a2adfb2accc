// Package config loads daemon settings from flags, environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Backends understood by the daemon.
const (
	BackendOfono = "ofono"
	BackendAT    = "at"
	BackendMock  = "mock"
)

// EnvPrefix prefixes environment overrides, e.g. SIMCONTACTS_ADDR.
const EnvPrefix = "SIMCONTACTS"

// Config holds every daemon setting.
type Config struct {
	Backend  string   `mapstructure:"backend"`   // ofono, at, mock
	Addr     string   `mapstructure:"addr"`      // HTTP listen address
	DataDir  string   `mapstructure:"data_dir"`  // directory of the transient vCard file
	LogLevel string   `mapstructure:"log_level"` // debug, info, warn, error
	KeysDir  string   `mapstructure:"keys_dir"`  // API-key directory, empty for open mode
	Zeroconf bool     `mapstructure:"zeroconf"`  // advertise over mDNS
	Name     string   `mapstructure:"name"`      // mDNS instance name
	AT       ATConfig `mapstructure:"at"`
	Mock     Mock     `mapstructure:"mock"`

	ConfigFile string `mapstructure:"-"`
}

// ATConfig configures the serial AT-command backend.
type ATConfig struct {
	Ports        []string      `mapstructure:"ports"`
	BaudRate     int           `mapstructure:"baud_rate"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Rate         float64       `mapstructure:"rate"` // commands per second
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Mock configures the simulated backend.
type Mock struct {
	Modems int `mapstructure:"modems"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendOfono)
	v.SetDefault("addr", ":8080")
	v.SetDefault("data_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("keys_dir", "")
	v.SetDefault("zeroconf", true)
	v.SetDefault("name", "SIM Contacts")
	v.SetDefault("at.ports", []string{"/dev/ttyUSB2"})
	v.SetDefault("at.baud_rate", 115200)
	v.SetDefault("at.poll_interval", 5*time.Second)
	v.SetDefault("at.rate", 20.0)
	v.SetDefault("at.timeout", 10*time.Second)
	v.SetDefault("mock.modems", 2)
}

// Load parses args (without the program name) and merges them over the
// environment, the config file and the defaults, in that priority.
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("simcontactsd", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Configuration file path (yaml, json or toml).")
	fs.StringP("backend", "b", v.GetString("backend"), "Modem backend: ofono, at or mock.")
	fs.StringP("addr", "a", v.GetString("addr"), "HTTP listen address.")
	fs.String("data-dir", v.GetString("data_dir"), "Directory for the aggregated vCard file (default: OS temp dir).")
	fs.StringP("log-level", "v", v.GetString("log_level"), "Log verbosity level (debug, info, warn, error).")
	fs.String("keys-dir", v.GetString("keys_dir"), "Directory holding keys.json (empty disables authentication).")
	fs.Bool("zeroconf", v.GetBool("zeroconf"), "Advertise the HTTP API over mDNS.")
	fs.String("name", v.GetString("name"), "mDNS instance name.")
	fs.StringSlice("at-ports", v.GetStringSlice("at.ports"), "Serial ports to probe with the at backend.")
	fs.Int("at-baud-rate", v.GetInt("at.baud_rate"), "Serial port speed.")
	fs.Duration("at-poll-interval", v.GetDuration("at.poll_interval"), "Interval between port presence checks.")
	fs.Float64("at-rate", v.GetFloat64("at.rate"), "Maximum AT commands per second.")
	fs.Duration("at-timeout", v.GetDuration("at.timeout"), "Response wait time per AT command.")
	fs.Int("mock-modems", v.GetInt("mock.modems"), "Number of simulated modems for the mock backend.")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for key, flag := range map[string]string{
		"backend":          "backend",
		"addr":             "addr",
		"data_dir":         "data-dir",
		"log_level":        "log-level",
		"keys_dir":         "keys-dir",
		"zeroconf":         "zeroconf",
		"name":             "name",
		"at.ports":         "at-ports",
		"at.baud_rate":     "at-baud-rate",
		"at.poll_interval": "at-poll-interval",
		"at.rate":          "at-rate",
		"at.timeout":       "at-timeout",
		"mock.modems":      "mock-modems",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("config: bind flag %s: %w", flag, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile, _ := fs.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.ConfigFile = configFile

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendOfono, BackendAT, BackendMock:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Backend == BackendAT {
		if len(c.AT.Ports) == 0 {
			errs = append(errs, errors.New("at.ports must list at least one port"))
		}
		if c.AT.BaudRate <= 0 {
			errs = append(errs, fmt.Errorf("at.baud_rate must be positive, got %d", c.AT.BaudRate))
		}
		if c.AT.Rate <= 0 {
			errs = append(errs, fmt.Errorf("at.rate must be positive, got %g", c.AT.Rate))
		}
	}
	if c.Backend == BackendMock && c.Mock.Modems < 0 {
		errs = append(errs, fmt.Errorf("mock.modems must not be negative, got %d", c.Mock.Modems))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return l, nil
}
