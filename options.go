package wakering

import (
	"github.com/SeamusWaldron/wakering/internal/alarm"
)

// Option configures Ring behavior.
type Option func(*options)

type options struct {
	alarmStore AlarmStore
	archive    Archive
	seed       uint8
	loadAlarms bool
}

func defaultOptions() *options {
	return &options{
		seed:       alarm.DefaultSeed,
		loadAlarms: true,
	}
}

// AlarmLister is implemented by alarm stores that can return the alarms
// they hold, such as AlarmRepository.
type AlarmLister interface {
	List() ([]Alarm, error)
}

// WithAlarmStore persists every committed alarm change to store. When the
// store also implements AlarmLister, its alarms seed the Ring's alarm set on
// connect.
func WithAlarmStore(store AlarmStore) Option {
	return func(o *options) {
		o.alarmStore = store
	}
}

// WithArchive records every measurement frame to a.
func WithArchive(a Archive) Option {
	return func(o *options) {
		o.archive = a
	}
}

// WithTransactionSeed sets the first alarm transaction id of a connection.
func WithTransactionSeed(seed uint8) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithAlarmLoad enables or disables seeding the alarm set from the store.
// Enabled by default.
func WithAlarmLoad(enabled bool) Option {
	return func(o *options) {
		o.loadAlarms = enabled
	}
}
