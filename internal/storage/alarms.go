package storage

import (
	"fmt"
	"time"

	"github.com/SeamusWaldron/wakering/internal/alarm"
)

// AlarmRepository persists the alarms committed to one ring. It implements
// alarm.Store.
type AlarmRepository struct {
	db     *DB
	device string
}

// NewAlarmRepository creates a repository scoped to the ring at device.
func NewAlarmRepository(db *DB, device string) *AlarmRepository {
	return &AlarmRepository{db: db, device: device}
}

var _ alarm.Store = (*AlarmRepository)(nil)

// SaveAlarm inserts or replaces the alarm in d.Slot.
func (r *AlarmRepository) SaveAlarm(d alarm.Descriptor) error {
	_, err := r.db.Exec(`
		INSERT INTO alarms (device, slot, name, hour, minute, day_mask, enabled, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device, slot) DO UPDATE SET
			name = excluded.name,
			hour = excluded.hour,
			minute = excluded.minute,
			day_mask = excluded.day_mask,
			enabled = excluded.enabled,
			updated_at_ms = excluded.updated_at_ms
	`, r.device, d.Slot, d.Name, d.Hour, d.Minute, int(d.DayMask), d.Enabled, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save alarm %d: %w", d.Slot, err)
	}
	return nil
}

// DeleteAlarm removes the alarm in slot. Deleting an empty slot is not an
// error.
func (r *AlarmRepository) DeleteAlarm(slot int) error {
	_, err := r.db.Exec(`DELETE FROM alarms WHERE device = ? AND slot = ?`, r.device, slot)
	if err != nil {
		return fmt.Errorf("failed to delete alarm %d: %w", slot, err)
	}
	return nil
}

// List returns the stored alarms ordered by slot.
func (r *AlarmRepository) List() ([]alarm.Descriptor, error) {
	rows, err := r.db.Query(`
		SELECT slot, name, hour, minute, day_mask, enabled
		FROM alarms
		WHERE device = ?
		ORDER BY slot
	`, r.device)
	if err != nil {
		return nil, fmt.Errorf("failed to list alarms: %w", err)
	}
	defer rows.Close()

	var out []alarm.Descriptor
	for rows.Next() {
		var d alarm.Descriptor
		var mask int
		if err := rows.Scan(&d.Slot, &d.Name, &d.Hour, &d.Minute, &mask, &d.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan alarm: %w", err)
		}
		d.DayMask = uint8(mask)
		out = append(out, d)
	}
	return out, rows.Err()
}
