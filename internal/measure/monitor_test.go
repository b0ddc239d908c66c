package measure

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SeamusWaldron/wakering/internal/protocol"
)

const measureChar = "measure-char"

type mockTransport struct {
	mu      sync.Mutex
	writes  [][]byte
	target  []string
	err     error
	onWrite func(data []byte)
}

func (t *mockTransport) Write(_ context.Context, data []byte, target string) error {
	t.mu.Lock()
	if t.err != nil {
		t.mu.Unlock()
		return t.err
	}
	t.writes = append(t.writes, append([]byte(nil), data...))
	t.target = append(t.target, target)
	cb := t.onWrite
	t.mu.Unlock()
	if cb != nil {
		cb(data)
	}
	return nil
}

type memArchive struct {
	mu     sync.Mutex
	frames map[string][]ArchivedFrame
	begun  []string
	ended  map[string]Outcome
}

func (a *memArchive) BeginSession(sessionID string, _ protocol.Kind, _ time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.begun = append(a.begun, sessionID)
	return nil
}

func (a *memArchive) EndSession(sessionID string, out Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended == nil {
		a.ended = make(map[string]Outcome)
	}
	a.ended[sessionID] = out
	return nil
}

func (a *memArchive) AppendFrame(sessionID string, f ArchivedFrame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frames == nil {
		a.frames = make(map[string][]ArchivedFrame)
	}
	a.frames[sessionID] = append(a.frames[sessionID], f)
	return nil
}

func heartFrame(bpm byte) []byte {
	f := make([]byte, 17)
	copy(f, []byte{0x00, 0x0B, 0x21, 0x40})
	f[8], f[9] = 0x19, 0x06
	f[14] = bpm
	return f
}

func stepFrame(hi, lo byte) []byte {
	f := make([]byte, 28)
	copy(f, []byte{0x00, 0x16, 0x21, 0x40})
	f[16], f[17] = hi, lo
	return f
}

func testCommands() map[protocol.Kind]Command {
	return map[protocol.Kind]Command{
		protocol.HeartRate: {Start: []byte{0xA1}, Target: measureChar, Stop: []byte{0xA0}},
		protocol.StepCount: {Start: []byte{0xB1}},
	}
}

func TestMonitorIgnoresFramesWithoutActiveKind(t *testing.T) {
	m := NewMonitor(&mockTransport{}, Options{})
	if diag := m.HandleFrame(heartFrame(72)); diag != protocol.NoActiveKind {
		t.Errorf("diag = %v, want no_active_kind", diag)
	}
	if _, ok := m.Latest(protocol.HeartRate); ok {
		t.Error("reading recorded with no active kind")
	}
	if len(m.Frames(protocol.HeartRate)) != 0 {
		t.Error("frame archived with no active kind")
	}
}

func TestMonitorLatestOverwrites(t *testing.T) {
	archive := &memArchive{}
	m := NewMonitor(&mockTransport{}, Options{Archive: archive})
	session, err := m.Start(protocol.HeartRate)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var got []protocol.Reading
	m.OnReading(func(r protocol.Reading) { got = append(got, r) })

	m.HandleFrame(heartFrame(72))
	m.HandleFrame(heartFrame(10)) // out of range
	m.HandleFrame([]byte{1, 2, 3})
	m.HandleFrame(heartFrame(75))

	r, ok := m.Latest(protocol.HeartRate)
	if !ok || r.Value.Raw != 75 {
		t.Errorf("Latest() = %+v, %v; want 75", r, ok)
	}
	if len(got) != 2 {
		t.Errorf("listener got %d readings, want 2", len(got))
	}

	frames := m.Frames(protocol.HeartRate)
	if len(frames) != 4 {
		t.Fatalf("archived %d frames, want 4", len(frames))
	}
	wantDiag := []protocol.Diagnostic{protocol.Accepted, protocol.OutOfRange, protocol.ShapeMismatch, protocol.Accepted}
	for i, f := range frames {
		if f.Diagnostic != wantDiag[i] {
			t.Errorf("frame %d diag = %v, want %v", i, f.Diagnostic, wantDiag[i])
		}
	}
	if len(archive.frames[session]) != 4 {
		t.Errorf("archive got %d frames for session, want 4", len(archive.frames[session]))
	}
}

func TestMonitorStartClearsKind(t *testing.T) {
	m := NewMonitor(&mockTransport{}, Options{})
	m.Start(protocol.HeartRate)
	m.HandleFrame(heartFrame(72))
	m.Stop()

	if _, ok := m.Latest(protocol.HeartRate); !ok {
		t.Fatal("Stop() discarded the reading")
	}
	m.Start(protocol.HeartRate)
	if _, ok := m.Latest(protocol.HeartRate); ok {
		t.Error("Start() kept the previous reading")
	}
	if len(m.Frames(protocol.HeartRate)) != 0 {
		t.Error("Start() kept the previous frames")
	}
}

func TestMonitorStartWhileActive(t *testing.T) {
	m := NewMonitor(&mockTransport{}, Options{})
	if _, err := m.Start(protocol.Temperature); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := m.Start(protocol.HeartRate); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Start() error = %v, want ErrSessionActive", err)
	}
	if _, err := m.Start(protocol.KindNone); err == nil {
		t.Error("Start(KindNone) should fail")
	}
}

func TestMonitorRunContinuous(t *testing.T) {
	tr := &mockTransport{}
	m := NewMonitor(tr, Options{Commands: testCommands()})
	tr.onWrite = func(data []byte) {
		if data[0] == 0xA1 {
			m.HandleFrame(heartFrame(64))
		}
	}

	r, err := m.Run(context.Background(), protocol.HeartRate, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if r.Value.Raw != 64 {
		t.Errorf("reading = %d, want 64", r.Value.Raw)
	}
	if len(tr.writes) != 2 || tr.writes[1][0] != 0xA0 {
		t.Errorf("writes = %v, want start then stop", tr.writes)
	}
	if tr.target[0] != measureChar || tr.target[1] != "" {
		t.Errorf("targets = %q, want start on measure char and stop on default", tr.target)
	}
	if m.Active() != protocol.KindNone {
		t.Error("kind still active after Run")
	}
}

func TestMonitorRunStepsEndsOnFirstReading(t *testing.T) {
	tr := &mockTransport{}
	m := NewMonitor(tr, Options{Commands: testCommands(), StepTimeout: 5 * time.Second})
	tr.onWrite = func([]byte) {
		go m.HandleFrame(stepFrame(2, 10))
	}

	start := time.Now()
	r, err := m.Run(context.Background(), protocol.StepCount, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if r.Value.Raw != 522 {
		t.Errorf("steps = %d, want 522", r.Value.Raw)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Run() waited for the step timeout instead of the first reading")
	}
}

func TestMonitorRunNoReading(t *testing.T) {
	m := NewMonitor(&mockTransport{}, Options{Commands: testCommands(), StepTimeout: 10 * time.Millisecond})
	if _, err := m.Run(context.Background(), protocol.StepCount, 0); !errors.Is(err, ErrNoReading) {
		t.Errorf("Run() error = %v, want ErrNoReading", err)
	}
}

func TestMonitorRunNoCommand(t *testing.T) {
	tr := &mockTransport{}
	m := NewMonitor(tr, Options{Commands: testCommands()})
	if _, err := m.Run(context.Background(), protocol.Temperature, time.Millisecond); !errors.Is(err, ErrNoCommand) {
		t.Errorf("Run() error = %v, want ErrNoCommand", err)
	}
	if len(tr.writes) != 0 {
		t.Errorf("writes = %d, want 0", len(tr.writes))
	}
}

func TestMonitorRunStartWriteFails(t *testing.T) {
	radio := errors.New("radio")
	m := NewMonitor(&mockTransport{err: radio}, Options{Commands: testCommands()})
	if _, err := m.Run(context.Background(), protocol.HeartRate, time.Millisecond); !errors.Is(err, radio) {
		t.Errorf("Run() error = %v, want radio error", err)
	}
	if m.Active() != protocol.KindNone {
		t.Error("kind left active after failed start")
	}
}

func TestMonitorRunCancelled(t *testing.T) {
	tr := &mockTransport{}
	m := NewMonitor(tr, Options{Commands: testCommands()})
	ctx, cancel := context.WithCancel(context.Background())
	tr.onWrite = func(data []byte) {
		if data[0] == 0xA1 {
			m.HandleFrame(heartFrame(80))
			cancel()
		}
	}

	_, err := m.Run(ctx, protocol.HeartRate, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if m.Active() != protocol.KindNone {
		t.Error("kind left active after cancel")
	}
	if r, ok := m.Latest(protocol.HeartRate); !ok || r.Value.Raw != 80 {
		t.Errorf("Latest() = %+v, %v; want the reading taken before cancel", r, ok)
	}
	if len(tr.writes) != 2 {
		t.Errorf("writes = %d, want start and stop", len(tr.writes))
	}
}

func TestMonitorRecordsSessionBoundaries(t *testing.T) {
	archive := &memArchive{}
	tr := &mockTransport{}
	m := NewMonitor(tr, Options{Commands: testCommands(), Archive: archive, StepTimeout: 10 * time.Millisecond})

	tr.onWrite = func([]byte) { m.HandleFrame(stepFrame(0, 42)) }
	if _, err := m.Run(context.Background(), protocol.StepCount, 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	tr.onWrite = nil
	if _, err := m.Run(context.Background(), protocol.StepCount, 0); !errors.Is(err, ErrNoReading) {
		t.Fatalf("second Run() error = %v, want ErrNoReading", err)
	}

	if len(archive.begun) != 2 {
		t.Fatalf("sessions begun = %d, want 2", len(archive.begun))
	}
	first := archive.ended[archive.begun[0]]
	if first.Reading == nil || first.Reading.Value.Raw != 42 || first.Err != nil {
		t.Errorf("first outcome = %+v", first)
	}
	second := archive.ended[archive.begun[1]]
	if second.Reading != nil || !errors.Is(second.Err, ErrNoReading) {
		t.Errorf("second outcome = %+v", second)
	}
	if m.LastSession() != archive.begun[1] {
		t.Errorf("LastSession() = %q, want %q", m.LastSession(), archive.begun[1])
	}
}
