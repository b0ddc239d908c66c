package wakering

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SeamusWaldron/wakering/internal/alarm"
	"github.com/SeamusWaldron/wakering/internal/ble"
	"github.com/SeamusWaldron/wakering/internal/config"
	"github.com/SeamusWaldron/wakering/internal/protocol"
)

const (
	writeChar   = "00000101-0000-1000-8000-00805f9b34fb"
	notifyChar  = "00000102-0000-1000-8000-00805f9b34fb"
	measureChar = "00000103-0000-1000-8000-00805f9b34fb"
)

type mockCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	callback func([]byte)
	failOn   []byte
	onWrite  func([]byte)
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	if c.failOn != nil && bytes.Equal(data, c.failOn) {
		c.mu.Unlock()
		return errors.New("radio busy")
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		hook(data)
	}
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

func (c *mockCharacteristic) notify(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

type mockConnection struct {
	mu           sync.Mutex
	chars        map[string]*mockCharacteristic
	disconnectCb func()
	disconnected bool
}

func (c *mockConnection) DiscoverCharacteristic(uuid string) (ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chars[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ble.ErrUnknownCharacteristic, uuid)
	}
	return ch, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *mockConnection) drop() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type mockAdapter struct {
	devices   []ble.Device
	conn      *mockConnection
	connected []string
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context, match func(ble.Device) bool) ([]ble.Device, error) {
	var out []ble.Device
	for _, d := range a.devices {
		if match == nil || match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (a *mockAdapter) Connect(_ context.Context, address string) (ble.Connection, error) {
	a.connected = append(a.connected, address)
	return a.conn, nil
}

func newMockRing() (*mockAdapter, *mockConnection) {
	conn := &mockConnection{chars: map[string]*mockCharacteristic{
		writeChar:   {},
		notifyChar:  {},
		measureChar: {},
	}}
	return &mockAdapter{conn: conn}, conn
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Characteristics = config.CharacteristicsConfig{
		Write:   writeChar,
		Notify:  notifyChar,
		Measure: measureChar,
	}
	cfg.Timing.WriteSettle = 0
	cfg.Timing.AuthGap = 0
	cfg.Timing.UnbindSettle = 0
	cfg.Timing.StepTimeout = 200 * time.Millisecond
	cfg.Timing.MeasureDuration = 30 * time.Millisecond
	cfg.Timing.Alarm = config.AlarmTiming{}
	cfg.Commands = config.CommandsConfig{
		Auth:   []string{"01 02", "03 04"},
		Unbind: "AA BB",
		Measure: map[string]config.MeasureConfig{
			"heartrate": {Start: "A1", Stop: "A0"},
			"steps":     {Start: "B1"},
		},
		Vibrations: map[string]config.VibrationSpec{
			"pulse": {Name: "Pulse", Data: "C1 C2"},
		},
		AlarmVibration: "pulse",
	}
	return cfg
}

func connectTest(t *testing.T, opts ...Option) (*Ring, *mockConnection) {
	t.Helper()
	adapter, conn := newMockRing()
	r, err := Connect(context.Background(), adapter, "AA:BB:CC:DD:EE:FF", testConfig(), opts...)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return r, conn
}

func heartFrame(bpm byte) []byte {
	f := make([]byte, 17)
	copy(f, []byte{0x00, 0x0B, 0x21, 0x40})
	f[8], f[9] = 0x19, 0x06
	f[14] = bpm
	return f
}

func TestScanFiltersAndSorts(t *testing.T) {
	adapter, _ := newMockRing()
	adapter.devices = []ble.Device{
		{Name: "Phone", Address: "11", RSSI: -40},
		{Name: "AIZO RING", Address: "22", RSSI: -80},
		{Name: "Smart Ring", Address: "33", RSSI: -55},
		{Name: "", Address: "44", RSSI: -30},
	}
	cfg := testConfig()
	cfg.Device.Address = "44"

	devices, err := Scan(context.Background(), adapter, cfg, time.Second)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	var got []string
	for _, d := range devices {
		got = append(got, d.Address)
	}
	want := []string{"44", "33", "22"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Scan() addresses = %v, want %v", got, want)
	}
}

func TestConnectFirstNoDevice(t *testing.T) {
	adapter, _ := newMockRing()
	adapter.devices = []ble.Device{{Name: "Phone", Address: "11"}}

	_, err := ConnectFirst(context.Background(), adapter, testConfig())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("ConnectFirst() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestConnectFirstPicksStrongest(t *testing.T) {
	adapter, _ := newMockRing()
	adapter.devices = []ble.Device{
		{Name: "ring-a", Address: "22", RSSI: -80},
		{Name: "ring-b", Address: "33", RSSI: -50},
	}

	r, err := ConnectFirst(context.Background(), adapter, testConfig())
	if err != nil {
		t.Fatalf("ConnectFirst() error = %v", err)
	}
	defer r.Close()
	if r.Device().Name != "ring-b" {
		t.Errorf("Device() = %+v, want ring-b", r.Device())
	}
	if len(adapter.connected) != 1 || adapter.connected[0] != "33" {
		t.Errorf("connected to %v, want [33]", adapter.connected)
	}
}

func TestConnectFirstUsesConfiguredAddress(t *testing.T) {
	adapter, _ := newMockRing()
	cfg := testConfig()
	cfg.Device.Address = "AA:BB"

	r, err := ConnectFirst(context.Background(), adapter, cfg)
	if err != nil {
		t.Fatalf("ConnectFirst() error = %v", err)
	}
	defer r.Close()
	if len(adapter.connected) != 1 || adapter.connected[0] != "AA:BB" {
		t.Errorf("connected to %v, want [AA:BB]", adapter.connected)
	}
}

func TestConnectMissingWriteCharacteristic(t *testing.T) {
	adapter, conn := newMockRing()
	delete(conn.chars, writeChar)

	_, err := Connect(context.Background(), adapter, "AA", testConfig())
	if !errors.Is(err, ble.ErrUnknownCharacteristic) {
		t.Errorf("Connect() error = %v, want ErrUnknownCharacteristic", err)
	}
	if !conn.disconnected {
		t.Error("connection left open after failed connect")
	}
}

func TestAuthenticate(t *testing.T) {
	r, conn := connectTest(t)
	defer r.Close()

	if err := r.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !r.IsAuthenticated() {
		t.Error("IsAuthenticated() = false after success")
	}
	got := conn.chars[writeChar].written()
	if len(got) != 2 || !bytes.Equal(got[0], []byte{0x01, 0x02}) || !bytes.Equal(got[1], []byte{0x03, 0x04}) {
		t.Errorf("auth writes = %X", got)
	}
}

func TestAuthenticateFailsOnAnyWrite(t *testing.T) {
	r, conn := connectTest(t)
	defer r.Close()
	conn.chars[writeChar].failOn = []byte{0x03, 0x04}

	err := r.Authenticate(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Authenticate() error = %v, want ErrAuthFailed", err)
	}
	if r.IsAuthenticated() {
		t.Error("IsAuthenticated() = true after a failed packet")
	}
}

func TestAuthenticateMissingPayload(t *testing.T) {
	adapter, _ := newMockRing()
	cfg := testConfig()
	cfg.Commands.Auth = nil
	r, err := Connect(context.Background(), adapter, "AA", cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer r.Close()

	if err := r.Authenticate(context.Background()); !errors.Is(err, config.ErrMissingCommand) {
		t.Errorf("Authenticate() error = %v, want ErrMissingCommand", err)
	}
}

func TestVibrate(t *testing.T) {
	r, conn := connectTest(t)
	defer r.Close()

	if err := r.Vibrate(context.Background(), "pulse"); err != nil {
		t.Fatalf("Vibrate() error = %v", err)
	}
	got := conn.chars[writeChar].written()
	if len(got) != 1 || !bytes.Equal(got[0], []byte{0xC1, 0xC2}) {
		t.Errorf("vibrate writes = %X", got)
	}

	if err := r.Vibrate(context.Background(), "buzz"); !errors.Is(err, ErrUnknownPattern) {
		t.Errorf("Vibrate(buzz) error = %v, want ErrUnknownPattern", err)
	}

	patterns := r.VibrationPatterns()
	if len(patterns) != 1 || patterns[0].Key != "pulse" || patterns[0].Name != "Pulse" {
		t.Errorf("VibrationPatterns() = %+v", patterns)
	}
}

func TestUnbindClearsAuthentication(t *testing.T) {
	r, conn := connectTest(t)
	defer r.Close()
	if err := r.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := r.Unbind(context.Background()); err != nil {
		t.Fatalf("Unbind() error = %v", err)
	}
	got := conn.chars[writeChar].written()
	if !bytes.Equal(got[len(got)-1], []byte{0xAA, 0xBB}) {
		t.Errorf("last write = %X, want AA BB", got[len(got)-1])
	}
	if r.IsAuthenticated() {
		t.Error("still authenticated after unbind")
	}
}

func TestMeasureHeartRate(t *testing.T) {
	r, conn := connectTest(t)
	defer r.Close()

	conn.chars[measureChar].onWrite = func(data []byte) {
		conn.chars[notifyChar].notify(heartFrame(68))
		conn.chars[notifyChar].notify(heartFrame(72))
	}

	var seen []protocol.Reading
	var mu sync.Mutex
	r.OnReading(func(rd protocol.Reading) {
		mu.Lock()
		seen = append(seen, rd)
		mu.Unlock()
	})

	reading, err := r.Measure(context.Background(), protocol.HeartRate, 0)
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if reading.Value.Raw != 72 {
		t.Errorf("reading = %v, want 72 bpm", reading)
	}
	mu.Lock()
	if len(seen) != 2 {
		t.Errorf("OnReading saw %d readings, want 2", len(seen))
	}
	mu.Unlock()

	// start on the measurement characteristic, stop on the write one
	if got := conn.chars[measureChar].written(); len(got) != 1 || got[0][0] != 0xA1 {
		t.Errorf("measure char writes = %X", got)
	}
	if got := conn.chars[writeChar].written(); len(got) != 1 || got[0][0] != 0xA0 {
		t.Errorf("write char writes = %X", got)
	}
	if r.LastSession() == "" {
		t.Error("LastSession() empty after a measurement")
	}

	st := r.Status()
	if l, ok := st.Latest[protocol.HeartRate]; !ok || l.Value.Raw != 72 {
		t.Errorf("Status().Latest = %+v", st.Latest)
	}
}

func TestMeasureStepsUsesWriteCharacteristic(t *testing.T) {
	r, conn := connectTest(t)
	defer r.Close()

	conn.chars[writeChar].onWrite = func(data []byte) {
		f := make([]byte, 28)
		copy(f, []byte{0x00, 0x16, 0x21, 0x40})
		f[16], f[17] = 0x01, 0x00
		conn.chars[notifyChar].notify(f)
	}

	reading, err := r.Measure(context.Background(), protocol.StepCount, 0)
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if reading.Value.Raw != 256 {
		t.Errorf("steps = %d, want 256", reading.Value.Raw)
	}
	if n := len(conn.chars[measureChar].written()); n != 0 {
		t.Errorf("measure char got %d writes, want 0", n)
	}
}

func TestAlarmsBoundToWriteCharacteristic(t *testing.T) {
	r, conn := connectTest(t)
	defer r.Close()

	d, err := r.Alarms().Create(context.Background(), alarm.New("Wake", 7, 0, protocol.Daily(), true))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d.Slot != 1 {
		t.Errorf("slot = %d, want 1", d.Slot)
	}
	got := conn.chars[writeChar].written()
	if len(got) != 4 {
		t.Fatalf("got %d writes, want 4", len(got))
	}
	if got[0][5] != alarm.DefaultSeed {
		t.Errorf("first transaction id = %#x, want %#x", got[0][5], alarm.DefaultSeed)
	}
	if st := r.Status(); len(st.Alarms) != 1 {
		t.Errorf("Status().Alarms = %v", st.Alarms)
	}
}

type listStore struct {
	descs []alarm.Descriptor
	saved []alarm.Descriptor
}

func (s *listStore) SaveAlarm(d alarm.Descriptor) error {
	s.saved = append(s.saved, d)
	return nil
}

func (s *listStore) DeleteAlarm(int) error { return nil }

func (s *listStore) List() ([]alarm.Descriptor, error) { return s.descs, nil }

func TestConnectLoadsStoredAlarms(t *testing.T) {
	store := &listStore{descs: []alarm.Descriptor{
		{Slot: 2, Name: "Gym", Hour: 6, Minute: 0, DayMask: 0x11, Enabled: true},
	}}
	r, _ := connectTest(t, WithAlarmStore(store))
	defer r.Close()

	if _, ok := r.Alarms().Get(2); !ok {
		t.Fatal("stored alarm not loaded")
	}
	d, err := r.Alarms().Create(context.Background(), alarm.New("Nap", 14, 30, protocol.Daily(), true))
	if err != nil {
		t.Fatal(err)
	}
	if d.Slot != 1 {
		t.Errorf("slot = %d, want 1", d.Slot)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d alarms, want 1", len(store.saved))
	}
}

func TestConnectSkipsLoadWhenDisabled(t *testing.T) {
	store := &listStore{descs: []alarm.Descriptor{{Slot: 2, Name: "Gym", Hour: 6, DayMask: 0x11}}}
	r, _ := connectTest(t, WithAlarmStore(store), WithAlarmLoad(false))
	defer r.Close()

	if _, ok := r.Alarms().Get(2); ok {
		t.Error("alarm loaded with WithAlarmLoad(false)")
	}
}

func TestDisconnect(t *testing.T) {
	r, conn := connectTest(t)
	if err := r.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{})
	r.OnDisconnect(func() { close(fired) })
	conn.drop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("OnDisconnect callback not called")
	}
	if r.IsConnected() || r.IsAuthenticated() {
		t.Error("ring still connected or authenticated after drop")
	}
	if err := r.Vibrate(context.Background(), "pulse"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Vibrate() error = %v, want ErrNotConnected", err)
	}
	if _, err := r.Measure(context.Background(), protocol.HeartRate, 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Measure() error = %v, want ErrNotConnected", err)
	}
}

func TestClose(t *testing.T) {
	r, conn := connectTest(t)
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !conn.disconnected {
		t.Error("connection not closed")
	}
	if r.Status().Connected {
		t.Error("Status().Connected = true after Close")
	}
}

// stepClock jumps straight to the end of every wait until frozen.
type stepClock struct {
	mu     sync.Mutex
	now    time.Time
	frozen bool
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if !c.frozen {
		c.now = c.now.Add(d)
		ch <- c.now
	}
	return ch
}

func (c *stepClock) freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

func TestWatchAlarmsVibrates(t *testing.T) {
	r, conn := connectTest(t)
	defer r.Close()

	wake := alarm.New("Wake", 7, 0, protocol.Daily(), true)
	wake.Slot = 1
	r.Alarms().Load([]alarm.Descriptor{wake})

	clock := &stepClock{now: time.Date(2024, 1, 1, 6, 59, 30, 0, time.Local)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var triggers []AlarmTrigger
	var during Status
	var again error
	opts := alarm.WatchOptions{
		Clock: clock,
		OnTrigger: func(tr AlarmTrigger) {
			triggers = append(triggers, tr)
			during = r.Status()
			again = r.WatchAlarms(ctx, nil)
			clock.freeze()
			cancel()
		},
	}

	if err := r.watchAlarms(ctx, opts); !errors.Is(err, context.Canceled) {
		t.Fatalf("watchAlarms() = %v, want context.Canceled", err)
	}
	if len(triggers) != 1 || triggers[0].Alarm.Slot != 1 || triggers[0].Err != nil {
		t.Fatalf("triggers = %+v", triggers)
	}
	got := conn.chars[writeChar].written()
	if len(got) != 1 || !bytes.Equal(got[0], []byte{0xC1, 0xC2}) {
		t.Errorf("alarm writes = %X, want the pulse pattern", got)
	}
	if !during.Watching || during.NextAlarm == nil || during.NextAlarm.Slot != 1 {
		t.Errorf("Status() while watching = %+v", during)
	}
	if !errors.Is(again, ErrWatching) {
		t.Errorf("second WatchAlarms() = %v, want ErrWatching", again)
	}
	if r.Status().Watching {
		t.Error("Status().Watching = true after the watcher stopped")
	}
}

func TestWatchAlarmsReportsVibrationFailure(t *testing.T) {
	r, conn := connectTest(t)
	defer r.Close()
	conn.chars[writeChar].failOn = []byte{0xC1, 0xC2}

	wake := alarm.New("Wake", 7, 0, protocol.Daily(), true)
	wake.Slot = 1
	r.Alarms().Load([]alarm.Descriptor{wake})

	clock := &stepClock{now: time.Date(2024, 1, 1, 6, 59, 0, 0, time.Local)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var trig AlarmTrigger
	opts := alarm.WatchOptions{Clock: clock, OnTrigger: func(tr AlarmTrigger) {
		trig = tr
		clock.freeze()
		cancel()
	}}
	r.watchAlarms(ctx, opts)

	if trig.Err == nil {
		t.Error("trigger should carry the failed vibration")
	}
}
