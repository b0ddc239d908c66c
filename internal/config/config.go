// Package config loads the wakering YAML configuration: device selection,
// characteristic UUIDs, pacing, and the captured vendor command payloads.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/SeamusWaldron/wakering/internal/alarm"
	"github.com/SeamusWaldron/wakering/internal/ble"
	"github.com/SeamusWaldron/wakering/internal/measure"
	"github.com/SeamusWaldron/wakering/internal/protocol"
)

// ErrMissingCommand is returned when a vendor payload the caller needs is
// not configured.
var ErrMissingCommand = errors.New("config: command payload not configured")

// Config holds all application configuration.
type Config struct {
	Device          DeviceConfig          `yaml:"device"`
	Characteristics CharacteristicsConfig `yaml:"characteristics"`
	Timing          TimingConfig          `yaml:"timing"`
	Commands        CommandsConfig        `yaml:"commands"`
	Database        string                `yaml:"database"`
	LogLevel        string                `yaml:"log_level"`
}

// DeviceConfig selects the ring to connect to.
type DeviceConfig struct {
	Address     string        `yaml:"address"`    // MAC, or CoreBluetooth UUID on macOS
	NameHints   []string      `yaml:"name_hints"` // advertised-name substrings that identify a ring
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// CharacteristicsConfig holds the GATT characteristic UUIDs.
type CharacteristicsConfig struct {
	Write   string `yaml:"write"`
	Notify  string `yaml:"notify"`
	Measure string `yaml:"measure"`
}

// TimingConfig holds pacing of the protocol.
type TimingConfig struct {
	WriteSettle     time.Duration `yaml:"write_settle"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	AuthGap         time.Duration `yaml:"auth_gap"`
	UnbindSettle    time.Duration `yaml:"unbind_settle"`
	StepTimeout     time.Duration `yaml:"step_timeout"`
	MeasureDuration time.Duration `yaml:"measure_duration"`
	Alarm           AlarmTiming   `yaml:"alarm"`
}

// AlarmTiming holds the quiet period after each alarm transaction phase.
type AlarmTiming struct {
	Init      time.Duration `yaml:"init"`
	Configure time.Duration `yaml:"configure"`
	Finalize  time.Duration `yaml:"finalize"`
	Close     time.Duration `yaml:"close"`
}

// CommandsConfig holds vendor payloads as hex strings, e.g. "00 0A 83 40".
type CommandsConfig struct {
	Auth       []string                 `yaml:"auth"`
	Unbind     string                   `yaml:"unbind"`
	Measure    map[string]MeasureConfig `yaml:"measure"` // keyed by kind: heartrate, o2, temperature, steps
	Vibrations map[string]VibrationSpec `yaml:"vibrations"`

	// AlarmVibration is the vibration pattern key played by the alarm watcher.
	AlarmVibration string `yaml:"alarm_vibration"`
}

// MeasureConfig holds the start and optional stop payload of one kind.
type MeasureConfig struct {
	Start string `yaml:"start"`
	Stop  string `yaml:"stop"`
}

// VibrationSpec is one named vibration pattern.
type VibrationSpec struct {
	Name string `yaml:"name"`
	Data string `yaml:"data"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "wakering")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values. Vendor payloads are
// empty: they come from captured traffic of the user's ring.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Device: DeviceConfig{
			NameHints:   []string{"aizo", "ring"},
			ScanTimeout: 10 * time.Second,
		},
		Characteristics: CharacteristicsConfig{
			Write: protocol.CommandCharUUID,
		},
		Timing: TimingConfig{
			WriteSettle:     500 * time.Millisecond,
			WriteTimeout:    5 * time.Second,
			AuthGap:         800 * time.Millisecond,
			UnbindSettle:    3 * time.Second,
			StepTimeout:     measure.DefaultStepTimeout,
			MeasureDuration: measure.DefaultDuration,
			Alarm: AlarmTiming{
				Init:      1 * time.Second,
				Configure: 2 * time.Second,
				Finalize:  1 * time.Second,
				Close:     2 * time.Second,
			},
		},
		Commands: CommandsConfig{
			Measure:    map[string]MeasureConfig{},
			Vibrations:     map[string]VibrationSpec{},
			AlarmVibration: "3",
		},
		Database: filepath.Join(home, ".local", "share", "wakering", "wakering.db"),
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in database is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Database = expandTilde(cfg.Database)
	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// WriteDefault writes the default config to DefaultConfigPath. It returns
// ("", nil) without touching anything if the file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	header := "# wakering configuration\n" +
		"# Fill commands.* with hex payloads captured from the vendor app.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Characteristics.Write == "" {
		return fmt.Errorf("characteristics.write must not be empty")
	}
	for name, id := range map[string]string{
		"write":   c.Characteristics.Write,
		"notify":  c.Characteristics.Notify,
		"measure": c.Characteristics.Measure,
	} {
		if id == "" {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("characteristics.%s: invalid UUID %q: %w", name, id, err)
		}
	}

	if c.Device.ScanTimeout <= 0 {
		return fmt.Errorf("device.scan_timeout must be > 0")
	}
	if c.Timing.WriteTimeout <= 0 {
		return fmt.Errorf("timing.write_timeout must be > 0")
	}
	if c.Timing.StepTimeout <= 0 {
		return fmt.Errorf("timing.step_timeout must be > 0")
	}
	if c.Timing.MeasureDuration <= 0 {
		return fmt.Errorf("timing.measure_duration must be > 0")
	}
	for name, d := range map[string]time.Duration{
		"write_settle":    c.Timing.WriteSettle,
		"auth_gap":        c.Timing.AuthGap,
		"unbind_settle":   c.Timing.UnbindSettle,
		"alarm.init":      c.Timing.Alarm.Init,
		"alarm.configure": c.Timing.Alarm.Configure,
		"alarm.finalize":  c.Timing.Alarm.Finalize,
		"alarm.close":     c.Timing.Alarm.Close,
	} {
		if d < 0 {
			return fmt.Errorf("timing.%s must not be negative", name)
		}
	}

	for i, p := range c.Commands.Auth {
		if _, err := protocol.ParseHex(p); err != nil {
			return fmt.Errorf("commands.auth[%d]: %w", i, err)
		}
	}
	if c.Commands.Unbind != "" {
		if _, err := protocol.ParseHex(c.Commands.Unbind); err != nil {
			return fmt.Errorf("commands.unbind: %w", err)
		}
	}
	for key, m := range c.Commands.Measure {
		if _, err := protocol.ParseKind(key); err != nil {
			return fmt.Errorf("commands.measure: %w", err)
		}
		if _, err := protocol.ParseHex(m.Start); err != nil {
			return fmt.Errorf("commands.measure.%s.start: %w", key, err)
		}
		if m.Stop != "" {
			if _, err := protocol.ParseHex(m.Stop); err != nil {
				return fmt.Errorf("commands.measure.%s.stop: %w", key, err)
			}
		}
	}
	for key, v := range c.Commands.Vibrations {
		if _, err := protocol.ParseHex(v.Data); err != nil {
			return fmt.Errorf("commands.vibrations.%s: %w", key, err)
		}
	}
	if c.Commands.AlarmVibration == "" {
		return fmt.Errorf("commands.alarm_vibration must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AuthPackets decodes the authentication sequence.
func (c *Config) AuthPackets() ([][]byte, error) {
	if len(c.Commands.Auth) == 0 {
		return nil, fmt.Errorf("%w: auth", ErrMissingCommand)
	}
	out := make([][]byte, 0, len(c.Commands.Auth))
	for i, p := range c.Commands.Auth {
		b, err := protocol.ParseHex(p)
		if err != nil {
			return nil, fmt.Errorf("commands.auth[%d]: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// UnbindPacket decodes the unbind command.
func (c *Config) UnbindPacket() ([]byte, error) {
	if c.Commands.Unbind == "" {
		return nil, fmt.Errorf("%w: unbind", ErrMissingCommand)
	}
	return protocol.ParseHex(c.Commands.Unbind)
}

// Vibrations decodes the vibration patterns keyed by their config key.
func (c *Config) Vibrations() (map[string][]byte, error) {
	out := make(map[string][]byte, len(c.Commands.Vibrations))
	for key, v := range c.Commands.Vibrations {
		b, err := protocol.ParseHex(v.Data)
		if err != nil {
			return nil, fmt.Errorf("commands.vibrations.%s: %w", key, err)
		}
		out[key] = b
	}
	return out, nil
}

// VibrationNames returns the configured pattern keys in order.
func (c *Config) VibrationNames() []string {
	names := make([]string, 0, len(c.Commands.Vibrations))
	for key := range c.Commands.Vibrations {
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

// MeasureCommands decodes the measurement payloads. Heart rate, oxygen and
// temperature start on the measurement characteristic; step count and every
// stop command go to the write characteristic.
func (c *Config) MeasureCommands() (map[protocol.Kind]measure.Command, error) {
	out := make(map[protocol.Kind]measure.Command, len(c.Commands.Measure))
	for key, m := range c.Commands.Measure {
		kind, err := protocol.ParseKind(key)
		if err != nil {
			return nil, fmt.Errorf("commands.measure: %w", err)
		}
		start, err := protocol.ParseHex(m.Start)
		if err != nil {
			return nil, fmt.Errorf("commands.measure.%s.start: %w", key, err)
		}
		cmd := measure.Command{Start: start, StopTarget: c.Characteristics.Write}
		if kind.Continuous() && c.Characteristics.Measure != "" {
			cmd.Target = c.Characteristics.Measure
		} else {
			cmd.Target = c.Characteristics.Write
		}
		if m.Stop != "" {
			if cmd.Stop, err = protocol.ParseHex(m.Stop); err != nil {
				return nil, fmt.Errorf("commands.measure.%s.stop: %w", key, err)
			}
		}
		out[kind] = cmd
	}
	return out, nil
}

// AlarmDelays returns the alarm phase pacing.
func (c *Config) AlarmDelays() alarm.Delays {
	return alarm.Delays{
		Init:      c.Timing.Alarm.Init,
		Configure: c.Timing.Alarm.Configure,
		Finalize:  c.Timing.Alarm.Finalize,
		Close:     c.Timing.Alarm.Close,
	}
}

// LinkOptions returns the write path settings.
func (c *Config) LinkOptions() ble.LinkOptions {
	return ble.LinkOptions{
		DefaultTarget: c.Characteristics.Write,
		WriteSettle:   c.Timing.WriteSettle,
		WriteTimeout:  c.Timing.WriteTimeout,
	}
}

// MatchesDevice reports whether a discovered peripheral is the configured
// ring: its address equals device.address, or its name contains one of
// device.name_hints.
func (c *Config) MatchesDevice(name, address string) bool {
	if c.Device.Address != "" && strings.EqualFold(address, c.Device.Address) {
		return true
	}
	lower := strings.ToLower(name)
	if lower == "" {
		return false
	}
	for _, hint := range c.Device.NameHints {
		if hint != "" && strings.Contains(lower, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
