package alarm

import (
	"fmt"
	"log/slog"

	"github.com/SeamusWaldron/wakering/internal/protocol"
)

// Slot bounds of the ring's alarm pool.
const (
	MinSlot = 1
	MaxSlot = 5
)

// Descriptor is one alarm as stored on the ring.
type Descriptor struct {
	Slot    int
	Name    string
	Hour    int
	Minute  int
	DayMask uint8
	Enabled bool
}

// New builds a descriptor from user input. Weekday names the codec does not
// recognize are dropped from the mask and logged.
func New(name string, hour, minute int, days protocol.DaySpec, enabled bool) Descriptor {
	warnUnknownDays(days)
	return Descriptor{
		Name:    name,
		Hour:    hour,
		Minute:  minute,
		DayMask: protocol.EncodeDayMask(days),
		Enabled: enabled,
	}
}

func warnUnknownDays(days protocol.DaySpec) {
	if unknown := protocol.UnknownDays(days); len(unknown) > 0 {
		slog.Warn("[ALARM] ignoring unknown day names", "days", unknown)
	}
}

// Validate checks the time, day mask and name fields. The slot is checked
// only when set, since Create assigns it.
func (d Descriptor) Validate() error {
	if d.Slot != 0 && (d.Slot < MinSlot || d.Slot > MaxSlot) {
		return fmt.Errorf("%w: slot %d outside %d..%d", ErrInvalidDescriptor, d.Slot, MinSlot, MaxSlot)
	}
	if d.Hour < 0 || d.Hour > 23 {
		return fmt.Errorf("%w: hour %d outside 0..23", ErrInvalidDescriptor, d.Hour)
	}
	if d.Minute < 0 || d.Minute > 59 {
		return fmt.Errorf("%w: minute %d outside 0..59", ErrInvalidDescriptor, d.Minute)
	}
	if d.DayMask&^protocol.EveryDay != 0 {
		return fmt.Errorf("%w: day mask 0x%02X has bits above Sunday", ErrInvalidDescriptor, d.DayMask)
	}
	if n := protocol.NameUnits(d.Name); n > protocol.MaxNameUnits {
		return fmt.Errorf("%w: name is %d code units, max %d", ErrInvalidDescriptor, n, protocol.MaxNameUnits)
	}
	return nil
}

// normalized returns d with its name cut to what the ring stores.
func (d Descriptor) normalized() Descriptor {
	if t := protocol.TruncateName(d.Name); t != d.Name {
		slog.Warn("[ALARM] truncating alarm name", "name", d.Name, "stored", t)
		d.Name = t
	}
	return d
}

func (d Descriptor) fields() protocol.AlarmFields {
	return protocol.AlarmFields{
		Name:    d.Name,
		Hour:    uint8(d.Hour),
		Minute:  uint8(d.Minute),
		DayMask: d.DayMask,
		Enabled: d.Enabled,
	}
}

// Time returns the alarm time as "HH:MM".
func (d Descriptor) Time() string {
	return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
}

func (d Descriptor) String() string {
	state := "off"
	if d.Enabled {
		state = "on"
	}
	return fmt.Sprintf("#%d %s %q %s (%s)", d.Slot, d.Time(), d.Name, protocol.DescribeDays(d.DayMask), state)
}

// LogValue implements slog.LogValuer.
func (d Descriptor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("slot", d.Slot),
		slog.String("name", d.Name),
		slog.String("time", d.Time()),
		slog.String("days", protocol.DescribeDays(d.DayMask)),
		slog.Bool("enabled", d.Enabled),
	)
}

// Patch holds the fields a Modify changes. Nil fields keep their value.
type Patch struct {
	Name    *string
	Hour    *int
	Minute  *int
	Days    *protocol.DaySpec
	Enabled *bool
}

// Apply returns d with the patch applied.
func (p Patch) Apply(d Descriptor) Descriptor {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Hour != nil {
		d.Hour = *p.Hour
	}
	if p.Minute != nil {
		d.Minute = *p.Minute
	}
	if p.Days != nil {
		warnUnknownDays(*p.Days)
		d.DayMask = protocol.EncodeDayMask(*p.Days)
	}
	if p.Enabled != nil {
		d.Enabled = *p.Enabled
	}
	return d
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Hour == nil && p.Minute == nil && p.Days == nil && p.Enabled == nil
}
