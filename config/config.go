package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

// EnvPath names the config file when no --config flag is given.
const EnvPath = "SONAR_CONFIG"

const (
	DefaultBaudRate        = 9600
	DefaultPollInterval    = 2 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultReadTimeout     = time.Second
	DefaultDelimiter       = "\n"
)

// Device identifies one sensor by the serial number its USB interface
// reports. It is never mutated after loading.
type Device struct {
	SerialNumber string `yaml:"serial_number"`
	BaudRate     int    `yaml:"baud_rate,omitempty"`
	Name         string `yaml:"name,omitempty"`
}

type Config struct {
	PollInterval    time.Duration `yaml:"poll_interval,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty"`
	Delimiter       string        `yaml:"delimiter,omitempty"`
	Devices         []Device      `yaml:"devices"`
}

// Default returns the two step sensors of the reference installation.
func Default() *Config {
	cfg := &Config{
		Devices: []Device{
			{SerialNumber: "74134373633351D09221", BaudRate: 9600, Name: "Step1"},
			{SerialNumber: "D2CC78A7249375CD4E42", BaudRate: 9600, Name: "Step2"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// ResolvePath returns flag, or the EnvPath variable when flag is empty. It
// is read at call time so a .env loaded after flag parsing still applies.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(EnvPath)
}

// Load reads a YAML config file. A missing path yields Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(b)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if len(cfg.Devices) == 0 {
		cfg.Devices = Default().Devices
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Delimiter == "" {
		c.Delimiter = DefaultDelimiter
	}
	for i := range c.Devices {
		if c.Devices[i].BaudRate == 0 {
			c.Devices[i].BaudRate = DefaultBaudRate
		}
	}
}

// Validate rejects empty or duplicate serial numbers and negative baud rates.
func (c *Config) Validate() error {
	seen := make(map[string]int, len(c.Devices))
	for i, d := range c.Devices {
		if d.SerialNumber == "" {
			return fmt.Errorf("%w: device %d has no serial_number", ErrInvalid, i)
		}
		if prev, dup := seen[d.SerialNumber]; dup {
			return fmt.Errorf("%w: devices %d and %d share serial_number %s", ErrInvalid, prev, i, d.SerialNumber)
		}
		seen[d.SerialNumber] = i
		if d.BaudRate < 0 {
			return fmt.Errorf("%w: device %d has baud_rate %d", ErrInvalid, i, d.BaudRate)
		}
	}
	return nil
}

// Label is a human readable name: the configured name, or "#index".
func (d Device) Label(index int) string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("#%d", index)
}
