package wakering

import (
	"time"

	"github.com/SeamusWaldron/wakering/internal/ble"
	"github.com/SeamusWaldron/wakering/internal/config"
	"github.com/SeamusWaldron/wakering/internal/measure"
	"github.com/SeamusWaldron/wakering/internal/protocol"
)

// Config is the ring configuration: device discovery, characteristic
// UUIDs, protocol timing and the captured vendor payloads.
type Config = config.Config

// DefaultConfig returns the configuration defaults. Vendor payloads are
// empty and must be filled from captured traffic.
func DefaultConfig() *Config {
	return config.Default()
}

// DefaultConfigPath returns ~/.config/wakering/config.yaml.
func DefaultConfigPath() string {
	return config.DefaultConfigPath()
}

// LoadConfig reads the YAML config at path. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	return config.LoadOrDefault(path)
}

// Adapter is the Bluetooth adapter a Ring scans and connects with.
type Adapter = ble.Adapter

// NewAdapter returns the system Bluetooth adapter.
func NewAdapter() Adapter {
	return ble.NewTinyGoAdapter()
}

// Kind is a measurement category.
type Kind = protocol.Kind

// Measurement kinds.
const (
	KindNone         = protocol.KindNone
	HeartRate        = protocol.HeartRate
	OxygenSaturation = protocol.OxygenSaturation
	Temperature      = protocol.Temperature
	StepCount        = protocol.StepCount
)

// Kinds lists every measurable kind.
func Kinds() []Kind {
	return protocol.Kinds()
}

// ParseKind parses a kind name such as "heartrate" or "o2".
func ParseKind(s string) (Kind, error) {
	return protocol.ParseKind(s)
}

// Reading is one accepted sensor value.
type Reading = protocol.Reading

// Value is a reading value kept as a raw integer and a decimal divisor.
type Value = protocol.Value

// Diagnostic classifies the outcome of decoding one frame.
type Diagnostic = protocol.Diagnostic

// Decode diagnostics.
const (
	Accepted      = protocol.Accepted
	NoActiveKind  = protocol.NoActiveKind
	ShapeMismatch = protocol.ShapeMismatch
	OutOfRange    = protocol.OutOfRange
)

// Decode interprets a notification frame as a reading of kind. Frames of
// another shape or out of range yield no reading and a diagnostic.
func Decode(frame []byte, kind Kind, at time.Time) (Reading, Diagnostic) {
	return protocol.Decode(frame, kind, at)
}

// Archive receives every frame of every measurement session.
type Archive = measure.Archive

// Measurement and payload errors.
var (
	ErrNoReading     = measure.ErrNoReading
	ErrSessionActive = measure.ErrSessionActive
	ErrNoCommand     = measure.ErrNoCommand
	ErrWriteTimeout  = ble.ErrWriteTimeout

	// ErrMissingCommand is returned when a vendor payload an operation
	// needs is not configured.
	ErrMissingCommand = config.ErrMissingCommand
)

// FormatHex renders b as space-separated upper-case hex pairs.
func FormatHex(b []byte) string {
	return protocol.FormatHex(b)
}

// ParseHex parses hex pairs, with or without separators.
func ParseHex(s string) ([]byte, error) {
	return protocol.ParseHex(s)
}
