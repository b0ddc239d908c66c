package alarm

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/SeamusWaldron/wakering/internal/protocol"
)

// ErrWatching is returned by Watcher.Run when the watcher is already running.
var ErrWatching = errors.New("alarm: watcher already running")

// Clock is the time source of a Watcher.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Trigger reports one alarm going off.
type Trigger struct {
	Alarm Descriptor
	At    time.Time // scheduled time
	Err   error     // error from the ring func, if any
}

// WatchOptions configures a Watcher.
type WatchOptions struct {
	Clock     Clock         // defaults to the system clock
	Recheck   time.Duration // longest sleep before the alarm set is read again
	MaxLate   time.Duration // triggers later than this after their time are skipped
	OnTrigger func(Trigger)
}

// DefaultWatchOptions returns options that pick up alarm changes within a
// minute and skip triggers missed by more than a minute.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		Recheck: time.Minute,
		MaxLate: time.Minute,
	}
}

// Watcher fires a host-side action at each enabled alarm's time. The ring
// keeps its own alarms; the watcher is for rings that only vibrate on
// command.
type Watcher struct {
	m       *Manager
	ring    func(ctx context.Context, d Descriptor) error
	opts    WatchOptions
	running atomic.Bool
}

// NewWatcher creates a watcher over the alarms committed in m. ring is
// called once for every alarm when its time arrives.
func NewWatcher(m *Manager, ring func(ctx context.Context, d Descriptor) error, opts WatchOptions) *Watcher {
	def := DefaultWatchOptions()
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Recheck <= 0 {
		opts.Recheck = def.Recheck
	}
	if opts.MaxLate <= 0 {
		opts.MaxLate = def.MaxLate
	}
	return &Watcher{m: m, ring: ring, opts: opts}
}

// Running reports whether Run is active.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// Run waits for alarm times and fires them until ctx is done. Alarms
// created, changed or deleted while it runs are picked up at the next
// recheck. It returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrWatching
	}
	defer w.running.Store(false)

	clock := w.opts.Clock
	cursor := clock.Now()
	slog.Info("[ALARM] watching", "alarms", len(w.m.List()))

	for {
		from := clock.Now()
		if from.Before(cursor) {
			from = cursor
		}
		_, at, ok := w.m.Next(from)

		wait := w.opts.Recheck
		if ok {
			if d := at.Sub(clock.Now()); d < wait {
				wait = max(d, 0)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(wait):
		}

		now := clock.Now()
		if !ok || now.Before(at) {
			continue
		}
		cursor = at
		if late := now.Sub(at); late > w.opts.MaxLate {
			slog.Warn("[ALARM] skipping missed alarm time", "at", at.Format(time.DateTime), "late", late)
			continue
		}
		for _, d := range w.due(at) {
			w.fire(ctx, d, at)
		}
	}
}

// due returns the alarms that ring at exactly at.
func (w *Watcher) due(at time.Time) []Descriptor {
	var out []Descriptor
	for _, d := range w.m.List() {
		if next, ok := NextOccurrence(d, at.Add(-time.Nanosecond)); ok && next.Equal(at) {
			out = append(out, d)
		}
	}
	return out
}

func (w *Watcher) fire(ctx context.Context, d Descriptor, at time.Time) {
	err := w.ring(ctx, d)
	if err != nil {
		slog.Error("[ALARM] alarm action failed", "alarm", d, "error", err)
	} else {
		slog.Info("[ALARM] alarm fired", "alarm", d)
	}
	if w.opts.OnTrigger != nil {
		w.opts.OnTrigger(Trigger{Alarm: d, At: at, Err: err})
	}
}

// InOneMinute returns an enabled daily alarm for the minute after now,
// for checking that a watcher and the ring react.
func InOneMinute(name string, now time.Time) Descriptor {
	at := now.Add(time.Minute)
	return New(name, at.Hour(), at.Minute(), protocol.Daily(), true)
}
