package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SeamusWaldron/wakering/internal/protocol"
)

// Store persists committed alarms.
type Store interface {
	SaveAlarm(d Descriptor) error
	DeleteAlarm(slot int) error
}

// Options configures a Manager.
type Options struct {
	Target string // characteristic that receives alarm packets
	Delays Delays
	Store  Store // optional
}

// DefaultOptions returns options writing to the command characteristic
// with the default pacing.
func DefaultOptions() Options {
	return Options{
		Target: protocol.CommandCharUUID,
		Delays: DefaultDelays(),
	}
}

// Manager owns the set of alarms committed to the ring and runs every
// change through an alarm transaction. Operations are serialized by the
// Sequencer.
type Manager struct {
	tr   Transport
	seq  *Sequencer
	opts Options

	mu       sync.RWMutex
	alarms   map[int]Descriptor
	onResult []func(Result)
}

// NewManager creates a manager writing through tr. If seq is nil a new
// sequencer at DefaultSeed is used.
func NewManager(tr Transport, seq *Sequencer, opts Options) *Manager {
	if seq == nil {
		seq = NewSequencer(DefaultSeed)
	}
	if opts.Target == "" {
		opts.Target = protocol.CommandCharUUID
	}
	return &Manager{
		tr:     tr,
		seq:    seq,
		opts:   opts,
		alarms: make(map[int]Descriptor),
	}
}

// OnResult registers a callback for every finished operation.
func (m *Manager) OnResult(cb func(Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResult = append(m.onResult, cb)
}

// Create writes d to the lowest free slot and commits it once the ring
// has accepted the whole transaction. d.Slot is ignored.
func (m *Manager) Create(ctx context.Context, d Descriptor) (Descriptor, error) {
	d.Slot = 0
	d = d.normalized()
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}

	release, err := m.seq.Acquire(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	defer release()

	slot, ok := m.freeSlot()
	if !ok {
		return Descriptor{}, ErrSlotPoolExhausted
	}
	d.Slot = slot
	return d, m.run(ctx, Create, d)
}

// Modify applies p to the alarm in slot and rewrites it.
func (m *Manager) Modify(ctx context.Context, slot int, p Patch) (Descriptor, error) {
	release, err := m.seq.Acquire(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	defer release()

	cur, ok := m.Get(slot)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %d", ErrAlarmNotFound, slot)
	}
	d := p.Apply(cur).normalized()
	d.Slot = slot
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, m.run(ctx, Modify, d)
}

// Toggle flips the enabled flag of the alarm in slot.
func (m *Manager) Toggle(ctx context.Context, slot int) (Descriptor, error) {
	cur, ok := m.Get(slot)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %d", ErrAlarmNotFound, slot)
	}
	enabled := !cur.Enabled
	return m.Modify(ctx, slot, Patch{Enabled: &enabled})
}

// Delete disables the alarm on the ring and then drops it from the set.
func (m *Manager) Delete(ctx context.Context, slot int) error {
	release, err := m.seq.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	d, ok := m.Get(slot)
	if !ok {
		return fmt.Errorf("%w: %d", ErrAlarmNotFound, slot)
	}
	return m.run(ctx, Delete, d)
}

// run executes one transaction. The caller owns the sequencer.
func (m *Manager) run(ctx context.Context, kind Kind, d Descriptor) error {
	slog.Info("[ALARM] starting operation", "op", kind.String(), "alarm", d)
	op := NewOperation(kind, d, m.seq, m.tr, m.opts.Target, m.opts.Delays)
	runErr := op.Run(ctx)
	res := op.Result()

	var err error
	if res.Phase == PhaseDone {
		err = m.commit(kind, d)
	} else {
		err = runErr
	}

	m.mu.RLock()
	listeners := append([]func(Result){}, m.onResult...)
	m.mu.RUnlock()
	for _, cb := range listeners {
		cb(res)
	}
	return err
}

func (m *Manager) commit(kind Kind, d Descriptor) error {
	m.mu.Lock()
	if kind == Delete {
		delete(m.alarms, d.Slot)
	} else {
		m.alarms[d.Slot] = d
	}
	m.mu.Unlock()

	if m.opts.Store == nil {
		return nil
	}
	var err error
	if kind == Delete {
		err = m.opts.Store.DeleteAlarm(d.Slot)
	} else {
		err = m.opts.Store.SaveAlarm(d)
	}
	if err != nil {
		slog.Error("[ALARM] failed to persist alarm", "op", kind.String(), "slot", d.Slot, "error", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

func (m *Manager) freeSlot() (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for slot := MinSlot; slot <= MaxSlot; slot++ {
		if _, used := m.alarms[slot]; !used {
			return slot, true
		}
	}
	return 0, false
}

// Get returns the committed alarm in slot.
func (m *Manager) Get(slot int) (Descriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.alarms[slot]
	return d, ok
}

// Snapshot returns a copy of the committed slot to alarm mapping.
func (m *Manager) Snapshot() map[int]Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]Descriptor, len(m.alarms))
	for k, v := range m.alarms {
		out[k] = v
	}
	return out
}

// List returns the committed alarms ordered by slot.
func (m *Manager) List() []Descriptor {
	m.mu.RLock()
	out := make([]Descriptor, 0, len(m.alarms))
	for _, d := range m.alarms {
		out = append(out, d)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Load replaces the committed set with previously persisted alarms without
// talking to the ring. Invalid or duplicate records are skipped with a
// warning. It returns the number of alarms loaded.
func (m *Manager) Load(descs []Descriptor) int {
	loaded := make(map[int]Descriptor, len(descs))
	for _, d := range descs {
		if d.Slot == 0 {
			slog.Warn("[ALARM] skipping stored alarm without slot", "alarm", d)
			continue
		}
		if err := d.Validate(); err != nil {
			slog.Warn("[ALARM] skipping invalid stored alarm", "alarm", d, "error", err)
			continue
		}
		if _, dup := loaded[d.Slot]; dup {
			slog.Warn("[ALARM] skipping duplicate stored alarm", "slot", d.Slot)
			continue
		}
		loaded[d.Slot] = d
	}

	m.mu.Lock()
	m.alarms = loaded
	m.mu.Unlock()
	return len(loaded)
}

// Next returns the enabled alarm that rings soonest after now, and when.
func (m *Manager) Next(now time.Time) (Descriptor, time.Time, bool) {
	var (
		best   Descriptor
		bestAt time.Time
		found  bool
	)
	for _, d := range m.List() {
		at, ok := NextOccurrence(d, now)
		if !ok {
			continue
		}
		if !found || at.Before(bestAt) {
			best, bestAt, found = d, at, true
		}
	}
	return best, bestAt, found
}

// NextOccurrence returns the first time strictly after now at which d
// rings. Disabled alarms and alarms with an empty day mask never ring.
func NextOccurrence(d Descriptor, now time.Time) (time.Time, bool) {
	if !d.Enabled || d.DayMask&protocol.EveryDay == 0 {
		return time.Time{}, false
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), d.Hour, d.Minute, 0, 0, now.Location())
	for i := 0; i < 8; i++ {
		at := day.AddDate(0, 0, i)
		if !at.After(now) {
			continue
		}
		// bit 0 is Monday; time.Weekday counts from Sunday
		bit := uint8(1) << ((int(at.Weekday()) + 6) % 7)
		if d.DayMask&bit != 0 {
			return at, true
		}
	}
	return time.Time{}, false
}

// IsPhaseError reports whether err is an alarm transaction failure and
// returns it.
func IsPhaseError(err error) (*PhaseError, bool) {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
