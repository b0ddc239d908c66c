package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Weekday bits of an alarm day mask.
const (
	Monday uint8 = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	EveryDay uint8 = 0x7F
)

var dayBits = map[string]uint8{
	"monday":    Monday,
	"tuesday":   Tuesday,
	"wednesday": Wednesday,
	"thursday":  Thursday,
	"friday":    Friday,
	"saturday":  Saturday,
	"sunday":    Sunday,
	"mon":       Monday,
	"tue":       Tuesday,
	"wed":       Wednesday,
	"thu":       Thursday,
	"fri":       Friday,
	"sat":       Saturday,
	"sun":       Sunday,
}

var dayAbbrev = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func isDailySentinel(s string) bool {
	switch s {
	case "daily", "everyday", "every day":
		return true
	}
	return false
}

// DaySpec selects the days an alarm rings on. It is either an explicit
// mask, the every-day sentinel, or a set of weekday names.
type DaySpec struct {
	mask     uint8
	explicit bool
	daily    bool
	names    []string
}

// MaskDays returns a DaySpec for an explicit bit mask. Bits above bit 6 are
// dropped.
func MaskDays(mask uint8) DaySpec {
	return DaySpec{mask: mask, explicit: true}
}

// Daily returns the every-day DaySpec (mask 0x7F).
func Daily() DaySpec {
	return DaySpec{daily: true}
}

// NamedDays returns a DaySpec folding the given weekday names.
func NamedDays(names ...string) DaySpec {
	return DaySpec{names: append([]string(nil), names...)}
}

// EncodeDayMask folds spec into the 7-bit mask sent on the wire.
// Unrecognized weekday names contribute nothing.
func EncodeDayMask(spec DaySpec) uint8 {
	switch {
	case spec.explicit:
		return spec.mask & EveryDay
	case spec.daily:
		return EveryDay
	}
	var mask uint8
	for _, name := range spec.names {
		n := strings.ToLower(strings.TrimSpace(name))
		if isDailySentinel(n) {
			mask |= EveryDay
			continue
		}
		mask |= dayBits[n]
	}
	return mask
}

// UnknownDays returns the weekday names in spec that EncodeDayMask ignored.
func UnknownDays(spec DaySpec) []string {
	var unknown []string
	for _, name := range spec.names {
		n := strings.ToLower(strings.TrimSpace(name))
		if isDailySentinel(n) {
			continue
		}
		if _, ok := dayBits[n]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ParseDaySpec parses command-line day input: "daily", a decimal or 0x-hex
// mask, or a comma-separated list of weekday names.
func ParseDaySpec(s string) (DaySpec, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DaySpec{}, fmt.Errorf("protocol: empty day specification")
	}
	if isDailySentinel(s) {
		return Daily(), nil
	}
	if v, err := strconv.ParseUint(s, 0, 8); err == nil {
		return MaskDays(uint8(v)), nil
	}
	return NamedDays(strings.Split(s, ",")...), nil
}

// DescribeDays renders a day mask for display, e.g. "daily" or "Mon,Fri".
func DescribeDays(mask uint8) string {
	mask &= EveryDay
	switch mask {
	case EveryDay:
		return "daily"
	case 0:
		return "never"
	}
	var parts []string
	for i, name := range dayAbbrev {
		if mask&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ",")
}
