package wakering

import (
	"github.com/SeamusWaldron/wakering/internal/storage"
)

// DB is the local SQLite database of alarms and measurement sessions.
type DB = storage.DB

// OpenDB opens (or creates) the database at path and applies migrations.
func OpenDB(path string) (*DB, error) {
	return storage.Open(path)
}

// AlarmRepository stores the alarms of one ring. Pass it to WithAlarmStore.
type AlarmRepository = storage.AlarmRepository

// NewAlarmRepository returns the alarm store of the ring at address.
func NewAlarmRepository(db *DB, address string) *AlarmRepository {
	return storage.NewAlarmRepository(db, address)
}

// MeasurementRepository archives the measurement sessions of one ring.
// Pass it to WithArchive.
type MeasurementRepository = storage.MeasurementRepository

// StoredSession is one archived measurement session.
type StoredSession = storage.Session

// StoredFrame is one archived notification.
type StoredFrame = storage.Frame

// NewMeasurementRepository returns the session archive of the ring at
// address.
func NewMeasurementRepository(db *DB, address string) *MeasurementRepository {
	return storage.NewMeasurementRepository(db, address)
}
