// Package config loads the composite device configuration: bus speed,
// the function slot layout and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/device/class/cdc"
	"github.com/ardnew/compusb/device/composite"
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Slot layouts.
const (
	LayoutDualCDC = "dual-cdc"
	LayoutMSCCDC  = "msc-cdc"
	LayoutCustom  = "custom"
)

// Config is the device configuration.
type Config struct {
	Speed        string       `mapstructure:"speed" yaml:"speed"`
	Layout       string       `mapstructure:"layout" yaml:"layout"`
	DefaultSlot  int          `mapstructure:"default_slot" yaml:"default_slot"`
	MaxInstances int          `mapstructure:"max_instances" yaml:"max_instances"`
	Log          LogConfig    `mapstructure:"log" yaml:"log"`
	MSC          MSCConfig    `mapstructure:"msc" yaml:"msc"`
	Slots        []SlotConfig `mapstructure:"slots" yaml:"slots"`
}

// LogConfig selects the logger level and format.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MSCConfig describes the disk behind a mass-storage slot.
type MSCConfig struct {
	Image    string `mapstructure:"image" yaml:"image"`
	Blocks   uint64 `mapstructure:"blocks" yaml:"blocks"`
	ReadOnly bool   `mapstructure:"read_only" yaml:"read_only"`
	Vendor   string `mapstructure:"vendor" yaml:"vendor"`
	Product  string `mapstructure:"product" yaml:"product"`
}

// SlotConfig is one function slot of a custom layout.
type SlotConfig struct {
	ID         int              `mapstructure:"id" yaml:"id"`
	Name       string           `mapstructure:"name" yaml:"name"`
	Kind       string           `mapstructure:"kind" yaml:"kind"`
	Interfaces InterfaceConfig  `mapstructure:"interfaces" yaml:"interfaces"`
	Endpoints  []EndpointConfig `mapstructure:"endpoints" yaml:"endpoints"`
}

// InterfaceConfig is a contiguous interface-number range.
type InterfaceConfig struct {
	First int `mapstructure:"first" yaml:"first"`
	Count int `mapstructure:"count" yaml:"count"`
}

// EndpointConfig is an endpoint claimed by a slot.
type EndpointConfig struct {
	Address int    `mapstructure:"address" yaml:"address"`
	Kind    string `mapstructure:"kind" yaml:"kind"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Speed:        "full",
		Layout:       LayoutDualCDC,
		DefaultSlot:  -1,
		MaxInstances: cdc.DefaultPoolCapacity,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		MSC: MSCConfig{
			Blocks:  2048,
			Vendor:  "compusb",
			Product: "RAM Disk",
		},
	}
}

// Load loads configuration from file and the environment.
// Priority: environment variables > config file > defaults.
// Environment variables carry the COMPUSB_ prefix, with nested keys
// joined by underscores (COMPUSB_LOG_LEVEL).
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(expandPath(configPath))
	} else {
		v.SetConfigName(".compusb")
		v.SetConfigType("yaml")

		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(homeDir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("COMPUSB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if cfg.MSC.Image != "" {
		cfg.MSC.Image = expandPath(cfg.MSC.Image)
	}

	pkg.LogDebug(pkg.ComponentConfig, "configuration loaded",
		"file", v.ConfigFileUsed(),
		"layout", cfg.Layout,
		"speed", cfg.Speed)

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("speed", d.Speed)
	v.SetDefault("layout", d.Layout)
	v.SetDefault("default_slot", d.DefaultSlot)
	v.SetDefault("max_instances", d.MaxInstances)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("msc.blocks", d.MSC.Blocks)
	v.SetDefault("msc.read_only", d.MSC.ReadOnly)
	v.SetDefault("msc.vendor", d.MSC.Vendor)
	v.SetDefault("msc.product", d.MSC.Product)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[1:])
		}
	}
	return path
}

// Validate checks every field that does not need the slot table built.
func (c *Config) Validate() error {
	if _, ok := device.ParseSpeed(c.Speed); !ok {
		return errors.Wrapf(pkg.ErrInvalidParameter, "speed %q (must be full or high)", c.Speed)
	}

	switch c.Layout {
	case LayoutDualCDC, LayoutMSCCDC:
	case LayoutCustom:
		if len(c.Slots) == 0 {
			return errors.Wrap(pkg.ErrInvalidParameter, "custom layout without slots")
		}
	default:
		return errors.Wrapf(pkg.ErrInvalidParameter, "layout %q", c.Layout)
	}

	if c.DefaultSlot < -1 || c.DefaultSlot > 255 {
		return errors.Wrapf(pkg.ErrInvalidParameter, "default_slot %d", c.DefaultSlot)
	}
	if c.MaxInstances < 1 || c.MaxInstances > 255 {
		return errors.Wrapf(pkg.ErrInvalidParameter, "max_instances %d", c.MaxInstances)
	}

	if _, err := pkg.ParseLogLevel(c.Log.Level); err != nil {
		return errors.Wrapf(pkg.ErrInvalidParameter, "log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Wrapf(pkg.ErrInvalidParameter, "log format %q (must be text or json)", c.Log.Format)
	}

	for i, s := range c.Slots {
		if err := s.validate(); err != nil {
			return errors.Wrapf(err, "slot #%d", i)
		}
	}
	return nil
}

func (s *SlotConfig) validate() error {
	if s.ID < 0 || s.ID > 255 {
		return errors.Wrapf(pkg.ErrInvalidParameter, "id %d", s.ID)
	}
	if _, ok := composite.ParseHandlerKind(s.Kind); !ok {
		return errors.Wrapf(pkg.ErrInvalidParameter, "kind %q", s.Kind)
	}
	if s.Interfaces.First < 0 || s.Interfaces.Count < 1 || s.Interfaces.First+s.Interfaces.Count > device.MaxInterfaces {
		return errors.Wrapf(pkg.ErrInvalidParameter, "interfaces %d+%d", s.Interfaces.First, s.Interfaces.Count)
	}
	for _, ep := range s.Endpoints {
		if ep.Address < 0 || ep.Address > 0xFF {
			return errors.Wrapf(pkg.ErrInvalidParameter, "endpoint address %d", ep.Address)
		}
		if _, ok := device.ParseEndpointKind(ep.Kind); !ok {
			return errors.Wrapf(pkg.ErrInvalidParameter, "endpoint kind %q", ep.Kind)
		}
	}
	return nil
}

// DeviceSpeed returns the configured bus speed.
func (c *Config) DeviceSpeed() device.Speed {
	speed, _ := device.ParseSpeed(c.Speed)
	return speed
}

// Table builds the slot table of the configured layout.
func (c *Config) Table() (*composite.SlotTable, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var opts []composite.Option
	if c.DefaultSlot >= 0 {
		opts = append(opts, composite.WithDefaultSlot(uint8(c.DefaultSlot)))
	}

	switch c.Layout {
	case LayoutDualCDC:
		return composite.DualCDC(opts...)
	case LayoutMSCCDC:
		return composite.MSCCDC(opts...)
	}

	slots := make([]composite.FunctionSlot, len(c.Slots))
	for i, s := range c.Slots {
		kind, _ := composite.ParseHandlerKind(s.Kind)
		slots[i] = composite.FunctionSlot{
			ID:   uint8(s.ID),
			Name: s.Name,
			Interfaces: composite.InterfaceRange{
				First: uint8(s.Interfaces.First),
				Count: uint8(s.Interfaces.Count),
			},
			Kind: kind,
		}
		if slots[i].Name == "" {
			slots[i].Name = fmt.Sprintf("%s%d", kind, s.ID)
		}
		for _, ep := range s.Endpoints {
			epKind, _ := device.ParseEndpointKind(ep.Kind)
			slots[i].Endpoints = append(slots[i].Endpoints, device.OwnedEndpoint{
				Address: uint8(ep.Address),
				Kind:    epKind,
			})
		}
	}
	return composite.NewSlotTable(slots, opts...)
}

// ApplyLogging configures the default logger.
func (c *Config) ApplyLogging() error {
	level, err := pkg.ParseLogLevel(c.Log.Level)
	if err != nil {
		return errors.Wrapf(pkg.ErrInvalidParameter, "log level %q", c.Log.Level)
	}
	pkg.SetLogLevel(level)
	if c.Log.Format == "json" {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	} else {
		pkg.SetLogFormat(pkg.LogFormatText)
	}
	return nil
}
