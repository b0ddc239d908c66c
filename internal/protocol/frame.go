package protocol

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Kind is a measurement category carried on the shared notification channel.
type Kind int

const (
	KindNone Kind = iota
	HeartRate
	OxygenSaturation
	Temperature
	StepCount
)

// Kinds lists every measurable kind.
func Kinds() []Kind {
	return []Kind{HeartRate, OxygenSaturation, Temperature, StepCount}
}

// String returns the short key of the kind.
func (k Kind) String() string {
	switch k {
	case HeartRate:
		return "heartrate"
	case OxygenSaturation:
		return "o2"
	case Temperature:
		return "temperature"
	case StepCount:
		return "steps"
	case KindNone:
		return "none"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DisplayName returns a human-readable name.
func (k Kind) DisplayName() string {
	switch k {
	case HeartRate:
		return "Heart rate"
	case OxygenSaturation:
		return "Blood oxygen"
	case Temperature:
		return "Skin temperature"
	case StepCount:
		return "Steps"
	default:
		return k.String()
	}
}

// Unit returns the display unit of readings of this kind.
func (k Kind) Unit() string {
	switch k {
	case HeartRate:
		return "bpm"
	case OxygenSaturation:
		return "%"
	case Temperature:
		return "°C"
	case StepCount:
		return "steps"
	default:
		return ""
	}
}

// Continuous reports whether the ring streams readings of this kind for
// the whole measurement window. Step count is answered once.
func (k Kind) Continuous() bool {
	return k == HeartRate || k == OxygenSaturation || k == Temperature
}

// ParseKind parses a kind name as typed on the command line.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heartrate", "heart_rate", "heart-rate", "hr", "bpm":
		return HeartRate, nil
	case "o2", "spo2", "oxygen":
		return OxygenSaturation, nil
	case "temperature", "temp":
		return Temperature, nil
	case "steps", "step", "stepcount":
		return StepCount, nil
	}
	return KindNone, fmt.Errorf("protocol: unknown measurement kind %q", s)
}

// GuardByte is a fixed byte a frame must carry besides its header.
type GuardByte struct {
	Offset int
	Value  byte
}

// FrameSpec describes the fixed layout of one kind's notification frame.
// Min and Max bound the raw integer before scaling.
type FrameSpec struct {
	Kind        Kind
	Length      int
	Header      [4]byte
	Guards      []GuardByte
	ValueOffset int
	ValueWidth  int // 1, or 2 for a big-endian u16
	Scale       int // divisor applied to the raw value
	Min, Max    int
}

var dateGuards = []GuardByte{{Offset: 8, Value: 0x19}, {Offset: 9, Value: 0x06}}

var frameSpecs = map[Kind]FrameSpec{
	HeartRate: {
		Kind:        HeartRate,
		Length:      17,
		Header:      [4]byte{0x00, 0x0B, 0x21, 0x40},
		Guards:      dateGuards,
		ValueOffset: 14,
		ValueWidth:  1,
		Scale:       1,
		Min:         40,
		Max:         200,
	},
	OxygenSaturation: {
		Kind:        OxygenSaturation,
		Length:      17,
		Header:      [4]byte{0x00, 0x0B, 0x21, 0x40},
		Guards:      dateGuards,
		ValueOffset: 14,
		ValueWidth:  1,
		Scale:       1,
		Min:         80,
		Max:         100,
	},
	Temperature: {
		Kind:        Temperature,
		Length:      20,
		Header:      [4]byte{0x00, 0x0E, 0x21, 0x40},
		Guards:      dateGuards,
		ValueOffset: 14,
		ValueWidth:  2,
		Scale:       10,
		Min:         300,
		Max:         450,
	},
	StepCount: {
		Kind:        StepCount,
		Length:      28,
		Header:      [4]byte{0x00, 0x16, 0x21, 0x40},
		ValueOffset: 16,
		ValueWidth:  2,
		Scale:       1,
		Min:         0,
		Max:         65535,
	},
}

// SpecFor returns the frame layout for kind.
func SpecFor(kind Kind) (FrameSpec, bool) {
	s, ok := frameSpecs[kind]
	return s, ok
}

// Matches reports whether frame has the length, header and guard bytes of s.
func (s FrameSpec) Matches(frame []byte) bool {
	if len(frame) != s.Length {
		return false
	}
	if !bytes.Equal(frame[:4], s.Header[:]) {
		return false
	}
	for _, g := range s.Guards {
		if frame[g.Offset] != g.Value {
			return false
		}
	}
	return true
}

// raw extracts the unscaled value. The caller must have checked Matches.
func (s FrameSpec) raw(frame []byte) int {
	if s.ValueWidth == 2 {
		return int(frame[s.ValueOffset])<<8 | int(frame[s.ValueOffset+1])
	}
	return int(frame[s.ValueOffset])
}

// Value is a reading value kept as a raw integer and a decimal divisor, so
// 29.9 and 30.0 compare exactly.
type Value struct {
	Raw   int
	Scale int
}

// Float returns the scaled value.
func (v Value) Float() float64 {
	if v.Scale <= 1 {
		return float64(v.Raw)
	}
	return float64(v.Raw) / float64(v.Scale)
}

// String formats the value with one decimal for scaled values.
func (v Value) String() string {
	if v.Scale <= 1 {
		return fmt.Sprintf("%d", v.Raw)
	}
	return fmt.Sprintf("%.1f", v.Float())
}

// Reading is an accepted, range-checked sensor value.
type Reading struct {
	Kind       Kind
	Value      Value
	CapturedAt time.Time
}

// String returns e.g. "72 bpm" or "36.5 °C".
func (r Reading) String() string {
	return r.Value.String() + " " + r.Kind.Unit()
}

// LogValue implements slog.LogValuer.
func (r Reading) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", r.Kind.String()),
		slog.String("value", r.Value.String()),
		slog.Time("captured_at", r.CapturedAt),
	)
}

// Diagnostic classifies the outcome of decoding one frame.
type Diagnostic int

const (
	Accepted Diagnostic = iota
	NoActiveKind
	ShapeMismatch
	OutOfRange
)

// String returns the diagnostic tag.
func (d Diagnostic) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case NoActiveKind:
		return "no_active_kind"
	case ShapeMismatch:
		return "shape_mismatch"
	case OutOfRange:
		return "out_of_range"
	default:
		return fmt.Sprintf("diagnostic(%d)", int(d))
	}
}

// Decode interprets frame as a reading of kind. A frame that is not shaped
// like kind's frame, or whose value falls outside the accepted range, yields
// no reading; the diagnostic says which. Neither case is an error: the ring
// sends unrelated traffic on the same channel.
func Decode(frame []byte, kind Kind, at time.Time) (Reading, Diagnostic) {
	spec, ok := frameSpecs[kind]
	if !ok {
		return Reading{}, NoActiveKind
	}
	if !spec.Matches(frame) {
		return Reading{}, ShapeMismatch
	}
	raw := spec.raw(frame)
	if raw < spec.Min || raw > spec.Max {
		return Reading{}, OutOfRange
	}
	return Reading{
		Kind:       kind,
		Value:      Value{Raw: raw, Scale: spec.Scale},
		CapturedAt: at,
	}, Accepted
}
