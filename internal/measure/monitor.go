// Package measure runs sensor measurements on the ring: it sends the start
// and stop commands, decodes the notification frames of the active kind and
// keeps the latest accepted reading per kind.
package measure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SeamusWaldron/wakering/internal/protocol"
)

// Sentinel errors for the measure package.
var (
	ErrNoReading     = errors.New("measure: no reading received")
	ErrSessionActive = errors.New("measure: a measurement is already running")
	ErrNoCommand     = errors.New("measure: no start command configured")
)

// DefaultStepTimeout bounds how long a step count request waits for its
// answer.
const DefaultStepTimeout = 3 * time.Second

// DefaultDuration is how long continuous kinds are measured when the caller
// gives no duration.
const DefaultDuration = 20 * time.Second

// Transport delivers one whole packet to a characteristic of the ring.
type Transport interface {
	Write(ctx context.Context, data []byte, target string) error
}

// ArchivedFrame is one notification received while a kind was active.
type ArchivedFrame struct {
	Kind       protocol.Kind
	Raw        []byte
	CapturedAt time.Time
	Diagnostic protocol.Diagnostic
}

// Archive receives every archived frame of a session.
type Archive interface {
	AppendFrame(sessionID string, f ArchivedFrame) error
}

// Outcome is how a session ended. Reading is nil when nothing was accepted.
type Outcome struct {
	EndedAt time.Time
	Reading *protocol.Reading
	Err     error
}

// SessionArchive is an Archive that also records session boundaries.
// Monitor uses it when the configured Archive implements it.
type SessionArchive interface {
	Archive
	BeginSession(sessionID string, kind protocol.Kind, at time.Time) error
	EndSession(sessionID string, out Outcome) error
}

// Command holds the vendor payloads that start and stop one kind. Stop may
// be nil. An empty target means the transport's default characteristic.
type Command struct {
	Start      []byte
	Target     string
	Stop       []byte
	StopTarget string
}

// Options configures a Monitor.
type Options struct {
	Commands    map[protocol.Kind]Command
	StepTimeout time.Duration
	Archive     Archive          // optional
	Now         func() time.Time // clock for capture times; defaults to time.Now
}

// Monitor tracks the active measurement kind and its readings. HandleFrame
// may be called from the BLE stack's goroutine. Safe for concurrent use.
type Monitor struct {
	tr   Transport
	opts Options

	mu          sync.Mutex
	active      protocol.Kind
	session     string
	lastSession string
	accepted    chan struct{}
	latest      map[protocol.Kind]protocol.Reading
	frames      map[protocol.Kind][]ArchivedFrame
	listeners   []func(protocol.Reading)
}

// NewMonitor creates a monitor that writes commands through tr.
func NewMonitor(tr Transport, opts Options) *Monitor {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Commands == nil {
		opts.Commands = make(map[protocol.Kind]Command)
	}
	return &Monitor{
		tr:     tr,
		opts:   opts,
		latest: make(map[protocol.Kind]protocol.Reading),
		frames: make(map[protocol.Kind][]ArchivedFrame),
	}
}

// OnReading registers a callback for every accepted reading.
func (m *Monitor) OnReading(cb func(protocol.Reading)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, cb)
}

// Start makes kind the active kind, clearing its previous reading and
// archive. It returns the new session id.
func (m *Monitor) Start(kind protocol.Kind) (string, error) {
	if _, ok := protocol.SpecFor(kind); !ok {
		return "", fmt.Errorf("measure: unsupported kind %s", kind)
	}
	at := m.opts.Now()
	m.mu.Lock()
	if m.active != protocol.KindNone {
		active := m.active
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrSessionActive, active)
	}
	m.active = kind
	m.session = uuid.NewString()
	m.accepted = make(chan struct{})
	delete(m.latest, kind)
	m.frames[kind] = nil
	session := m.session
	m.mu.Unlock()

	slog.Info("[MEASURE] started", "kind", kind.String(), "session", session)
	if sa, ok := m.opts.Archive.(SessionArchive); ok {
		if err := sa.BeginSession(session, kind, at); err != nil {
			slog.Warn("[MEASURE] failed to record session start", "session", session, "error", err)
		}
	}
	return session, nil
}

// Stop deactivates the current kind. Everything recorded is kept.
func (m *Monitor) Stop() {
	m.stop(nil)
}

func (m *Monitor) stop(cause error) {
	m.mu.Lock()
	kind := m.active
	if kind == protocol.KindNone {
		m.mu.Unlock()
		return
	}
	session := m.session
	frames := len(m.frames[kind])
	out := Outcome{EndedAt: m.opts.Now(), Err: cause}
	if r, ok := m.latest[kind]; ok {
		out.Reading = &r
	}
	m.active = protocol.KindNone
	m.session = ""
	m.accepted = nil
	m.lastSession = session
	m.mu.Unlock()

	slog.Info("[MEASURE] stopped", "kind", kind.String(), "session", session, "frames", frames)
	if sa, ok := m.opts.Archive.(SessionArchive); ok {
		if err := sa.EndSession(session, out); err != nil {
			slog.Warn("[MEASURE] failed to record session end", "session", session, "error", err)
		}
	}
}

// LastSession returns the id of the most recently stopped session.
func (m *Monitor) LastSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSession
}

// Active returns the active kind, or KindNone.
func (m *Monitor) Active() protocol.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// HandleFrame processes one notification. With no active kind the frame is
// ignored; otherwise it is archived for the active kind and, if it decodes
// to an in-range value, becomes that kind's latest reading.
func (m *Monitor) HandleFrame(raw []byte) protocol.Diagnostic {
	at := m.opts.Now()

	m.mu.Lock()
	kind := m.active
	if kind == protocol.KindNone {
		m.mu.Unlock()
		slog.Debug("[MEASURE] frame with no active kind", "data", protocol.FormatHex(raw))
		return protocol.NoActiveKind
	}
	reading, diag := protocol.Decode(raw, kind, at)
	frame := ArchivedFrame{
		Kind:       kind,
		Raw:        append([]byte(nil), raw...),
		CapturedAt: at,
		Diagnostic: diag,
	}
	m.frames[kind] = append(m.frames[kind], frame)
	session := m.session

	var listeners []func(protocol.Reading)
	if diag == protocol.Accepted {
		m.latest[kind] = reading
		if m.accepted != nil {
			select {
			case <-m.accepted:
			default:
				close(m.accepted)
			}
		}
		listeners = append(listeners, m.listeners...)
	}
	m.mu.Unlock()

	slog.Debug("[MEASURE] frame", "kind", kind.String(), "diagnostic", diag.String(), "data", protocol.FormatHex(raw))
	if m.opts.Archive != nil {
		if err := m.opts.Archive.AppendFrame(session, frame); err != nil {
			slog.Warn("[MEASURE] failed to archive frame", "session", session, "error", err)
		}
	}
	if diag == protocol.Accepted {
		slog.Info("[MEASURE] reading", "reading", reading)
		for _, cb := range listeners {
			cb(reading)
		}
	}
	return diag
}

// Latest returns the most recent accepted reading of kind.
func (m *Monitor) Latest(kind protocol.Kind) (protocol.Reading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.latest[kind]
	return r, ok
}

// Frames returns the frames archived for kind by its last session.
func (m *Monitor) Frames(kind protocol.Kind) []ArchivedFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ArchivedFrame(nil), m.frames[kind]...)
}

// Run performs one measurement of kind. Continuous kinds are measured for
// duration (DefaultDuration if zero); step count waits for the first
// accepted reading or the step timeout. The configured stop command is sent
// afterwards. Cancelling ctx ends the measurement early and returns
// ctx.Err(); readings already taken are kept.
func (m *Monitor) Run(ctx context.Context, kind protocol.Kind, duration time.Duration) (_ protocol.Reading, err error) {
	cmd, ok := m.opts.Commands[kind]
	if !ok || len(cmd.Start) == 0 {
		return protocol.Reading{}, fmt.Errorf("%w: %s", ErrNoCommand, kind)
	}
	if duration <= 0 {
		duration = DefaultDuration
	}

	if _, err := m.Start(kind); err != nil {
		return protocol.Reading{}, err
	}
	defer func() { m.stop(err) }()

	m.mu.Lock()
	accepted := m.accepted
	m.mu.Unlock()

	if err := m.tr.Write(ctx, cmd.Start, cmd.Target); err != nil {
		return protocol.Reading{}, fmt.Errorf("measure: start %s: %w", kind, err)
	}

	wait := duration
	if !kind.Continuous() {
		wait = m.opts.StepTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var waitErr error
	if kind.Continuous() {
		select {
		case <-timer.C:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	} else {
		select {
		case <-accepted:
		case <-timer.C:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	}

	if len(cmd.Stop) > 0 {
		if err := m.tr.Write(context.WithoutCancel(ctx), cmd.Stop, cmd.StopTarget); err != nil {
			slog.Warn("[MEASURE] failed to send stop command", "kind", kind.String(), "error", err)
		}
	}
	if waitErr != nil {
		return protocol.Reading{}, waitErr
	}

	r, ok := m.Latest(kind)
	if !ok {
		return protocol.Reading{}, fmt.Errorf("%w: %s", ErrNoReading, kind)
	}
	return r, nil
}
