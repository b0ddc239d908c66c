package wakering

import (
	"time"

	"github.com/SeamusWaldron/wakering/internal/alarm"
	"github.com/SeamusWaldron/wakering/internal/protocol"
)

// Alarm is one alarm as stored on the ring.
type Alarm = alarm.Descriptor

// AlarmPatch is a partial alarm change for AlarmManager.Modify. Nil fields
// are left unchanged.
type AlarmPatch = alarm.Patch

// AlarmManager runs alarm transactions and owns the committed alarm set.
type AlarmManager = alarm.Manager

// AlarmStore persists committed alarms.
type AlarmStore = alarm.Store

// AlarmTransport delivers one whole packet to a characteristic of the ring.
type AlarmTransport = alarm.Transport

// AlarmDelays is the quiet period after each transaction phase.
type AlarmDelays = alarm.Delays

// AlarmTrigger reports one alarm going off in the watcher.
type AlarmTrigger = alarm.Trigger

// PhaseError reports the phase at which an alarm transaction failed.
type PhaseError = alarm.PhaseError

// Alarm errors.
var (
	ErrSlotPoolExhausted = alarm.ErrSlotPoolExhausted
	ErrAlarmNotFound     = alarm.ErrAlarmNotFound
	ErrInvalidAlarm      = alarm.ErrInvalidDescriptor
	ErrPersist           = alarm.ErrPersist
	ErrWatching          = alarm.ErrWatching
)

// DaySpec selects the days an alarm rings on.
type DaySpec = protocol.DaySpec

// Daily is the every-day DaySpec.
func Daily() DaySpec {
	return protocol.Daily()
}

// Days builds a DaySpec from weekday names such as "mon" or "friday".
func Days(names ...string) DaySpec {
	return protocol.NamedDays(names...)
}

// ParseDays parses "daily", a numeric mask or a comma-separated list of
// weekday names.
func ParseDays(s string) (DaySpec, error) {
	return protocol.ParseDaySpec(s)
}

// NewAlarm builds an alarm for AlarmManager.Create.
func NewAlarm(name string, hour, minute int, days DaySpec, enabled bool) Alarm {
	return alarm.New(name, hour, minute, days, enabled)
}

// AlarmInOneMinute returns an enabled daily alarm for the minute after now.
func AlarmInOneMinute(name string, now time.Time) Alarm {
	return alarm.InOneMinute(name, now)
}

// NewAlarmManager returns a manager writing alarm packets through tr, for
// driving the alarm protocol without a Ring, e.g. against a recorder.
func NewAlarmManager(tr AlarmTransport, delays AlarmDelays) *AlarmManager {
	opts := alarm.DefaultOptions()
	opts.Delays = delays
	return alarm.NewManager(tr, nil, opts)
}

// NextOccurrence returns the first time strictly after now at which a
// rings.
func NextOccurrence(a Alarm, now time.Time) (time.Time, bool) {
	return alarm.NextOccurrence(a, now)
}
