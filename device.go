package wakering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SeamusWaldron/wakering/internal/alarm"
	"github.com/SeamusWaldron/wakering/internal/ble"
	"github.com/SeamusWaldron/wakering/internal/measure"
	"github.com/SeamusWaldron/wakering/internal/protocol"
)

// Device represents a discovered ring.
// Devices are returned by the Scan function and their address can be
// passed to Connect.
type Device struct {
	Name    string // Advertised name (e.g., "AIZO RING")
	Address string // MAC, or CoreBluetooth UUID on macOS
	RSSI    int    // Signal strength in dBm
}

// Ring represents a connected smart ring.
// It owns the BLE link and the alarm and measurement engines bound to it.
//
// Create a Ring using Connect or ConnectFirst:
//
//	ring, err := wakering.ConnectFirst(ctx, wakering.NewAdapter(), cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ring.Close()
//
// Each connection starts a fresh transaction id sequence.
type Ring struct {
	cfg     *Config
	link    *ble.Link
	alarms  *alarm.Manager
	monitor *measure.Monitor

	mu            sync.RWMutex
	device        Device
	authenticated bool
	connectedAt   time.Time
	watching      bool

	// Callbacks
	onDisconnect func()
}

// Status is a snapshot of the ring connection.
type Status struct {
	Device        Device
	Connected     bool
	Authenticated bool
	ConnectedAt   time.Time
	Alarms        []Alarm
	Latest        map[Kind]Reading

	Watching    bool      // the alarm watcher is running
	NextAlarm   *Alarm    // enabled alarm that rings soonest, if any
	NextAlarmAt time.Time // when NextAlarm rings
}

// VibrationPattern is a named vibration payload from the configuration.
type VibrationPattern struct {
	Key  string
	Name string
}

// Scan discovers nearby rings via Bluetooth Low Energy. A peripheral is a
// ring when its address is the configured one or its name contains one of
// the configured name hints. Returns every ring found within the timeout,
// strongest signal first.
//
// Typical usage:
//
//	devices, err := wakering.Scan(ctx, adapter, cfg, 10*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range devices {
//	    fmt.Printf("Found: %s (%s, RSSI: %d)\n", d.Name, d.Address, d.RSSI)
//	}
//
// Note: make sure the ring is not connected to the phone app, it stops
// advertising while connected.
func Scan(ctx context.Context, adapter Adapter, cfg *Config, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Info("[BLE] scanning for rings", "timeout", timeout)
	results, err := adapter.Scan(scanCtx, func(d ble.Device) bool {
		return cfg.MatchesDevice(d.Name, d.Address)
	})
	if err != nil {
		return nil, err
	}

	devices := make([]Device, len(results))
	for i, r := range results {
		devices[i] = Device{Name: r.Name, Address: r.Address, RSSI: r.RSSI}
	}
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].RSSI > devices[j].RSSI
	})
	return devices, nil
}

// Connect connects to the ring at address and wires notifications from
// the notify characteristic into the measurement monitor.
func Connect(ctx context.Context, adapter Adapter, address string, cfg *Config, opts ...Option) (*Ring, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	commands, err := cfg.MeasureCommands()
	if err != nil {
		return nil, err
	}

	if err := adapter.Enable(); err != nil {
		return nil, err
	}
	conn, err := adapter.Connect(ctx, address)
	if err != nil {
		return nil, err
	}

	link := ble.NewLink(conn, cfg.LinkOptions())
	r := &Ring{
		cfg:         cfg,
		link:        link,
		device:      Device{Address: address},
		connectedAt: time.Now(),
	}

	// The write characteristic is required; discover it up front so a
	// wrong UUID fails here rather than mid-transaction.
	if _, err := link.Characteristic(cfg.Characteristics.Write); err != nil {
		link.Close()
		return nil, err
	}

	r.monitor = measure.NewMonitor(link, measure.Options{
		Commands:    commands,
		StepTimeout: cfg.Timing.StepTimeout,
		Archive:     o.archive,
	})
	r.alarms = alarm.NewManager(link, alarm.NewSequencer(o.seed), alarm.Options{
		Target: cfg.Characteristics.Write,
		Delays: cfg.AlarmDelays(),
		Store:  o.alarmStore,
	})

	if cfg.Characteristics.Notify != "" {
		if err := link.Subscribe(cfg.Characteristics.Notify, func(data []byte) {
			r.monitor.HandleFrame(data)
		}); err != nil {
			link.Close()
			return nil, err
		}
	} else {
		slog.Warn("[BLE] no notify characteristic configured, measurements will not receive readings")
	}

	if lister, ok := o.alarmStore.(AlarmLister); ok && o.loadAlarms {
		descs, err := lister.List()
		if err != nil {
			slog.Warn("[ALARM] failed to load stored alarms", "error", err)
		} else {
			n := r.alarms.Load(descs)
			slog.Debug("[ALARM] loaded stored alarms", "count", n)
		}
	}

	link.OnDisconnect(r.handleDisconnect)
	return r, nil
}

// ConnectFirst scans and connects to the strongest ring found within the
// configured scan timeout. When a device address is configured it connects
// to it without scanning.
//
// Example:
//
//	ring, err := wakering.ConnectFirst(ctx, wakering.NewAdapter(), cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ring.Close()
func ConnectFirst(ctx context.Context, adapter Adapter, cfg *Config, opts ...Option) (*Ring, error) {
	if cfg.Device.Address != "" {
		return Connect(ctx, adapter, cfg.Device.Address, cfg, opts...)
	}

	devices, err := Scan(ctx, adapter, cfg, cfg.Device.ScanTimeout)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrDeviceNotFound
	}

	r, err := Connect(ctx, adapter, devices[0].Address, cfg, opts...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.device = devices[0]
	r.mu.Unlock()
	return r, nil
}

// Close disconnects from the ring. A measurement still running is stopped.
func (r *Ring) Close() error {
	r.monitor.Stop()
	r.mu.Lock()
	r.authenticated = false
	r.mu.Unlock()
	return r.link.Close()
}

// IsConnected returns true if still connected to the ring.
func (r *Ring) IsConnected() bool {
	return r.link.Connected()
}

// Device returns the connected device.
func (r *Ring) Device() Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.device
}

// IsAuthenticated reports whether the last authentication succeeded on
// this connection.
func (r *Ring) IsAuthenticated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.authenticated
}

// Alarms returns the alarm manager bound to this connection.
func (r *Ring) Alarms() *AlarmManager {
	return r.alarms
}

// Event callbacks

// OnDisconnect sets a callback that fires when the connection drops.
func (r *Ring) OnDisconnect(cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = cb
}

// OnReading sets a callback for every accepted sensor reading.
func (r *Ring) OnReading(cb func(Reading)) {
	r.monitor.OnReading(cb)
}

func (r *Ring) handleDisconnect() {
	r.mu.Lock()
	r.authenticated = false
	cb := r.onDisconnect
	r.mu.Unlock()

	r.monitor.Stop()
	if cb != nil {
		cb()
	}
}

// Commands

// Authenticate writes the configured authentication sequence, pausing
// AuthGap after each packet. The ring counts as authenticated only when
// every packet was written.
func (r *Ring) Authenticate(ctx context.Context) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}
	packets, err := r.cfg.AuthPackets()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.authenticated = false
	r.mu.Unlock()

	sent := 0
	var firstErr error
	for i, pkt := range packets {
		if err := r.link.Write(ctx, pkt, ""); err != nil {
			slog.Warn("[BLE] auth packet failed", "index", i, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
		} else {
			sent++
		}
		if err := sleep(ctx, r.cfg.Timing.AuthGap); err != nil {
			break
		}
	}

	if sent != len(packets) {
		if firstErr == nil {
			firstErr = ctx.Err()
		}
		return fmt.Errorf("%w: %d of %d packets sent: %w", ErrAuthFailed, sent, len(packets), firstErr)
	}

	r.mu.Lock()
	r.authenticated = true
	r.mu.Unlock()
	slog.Info("[BLE] authenticated", "packets", sent)
	return nil
}

// VibrationPatterns lists the configured vibration patterns.
func (r *Ring) VibrationPatterns() []VibrationPattern {
	keys := r.cfg.VibrationNames()
	out := make([]VibrationPattern, len(keys))
	for i, k := range keys {
		name := r.cfg.Commands.Vibrations[k].Name
		if name == "" {
			name = k
		}
		out[i] = VibrationPattern{Key: k, Name: name}
	}
	return out
}

// Vibrate writes the vibration payload configured under pattern.
func (r *Ring) Vibrate(ctx context.Context, pattern string) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}
	patterns, err := r.cfg.Vibrations()
	if err != nil {
		return err
	}
	data, ok := patterns[pattern]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPattern, pattern)
	}
	if err := r.link.Write(ctx, data, ""); err != nil {
		return fmt.Errorf("vibrate %s: %w", pattern, err)
	}
	slog.Info("[BLE] vibration sent", "pattern", pattern)
	return nil
}

// Unbind writes the unbind command and waits UnbindSettle for the ring to
// drop the pairing. The ring must be paired again with the vendor app
// afterwards.
func (r *Ring) Unbind(ctx context.Context) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}
	data, err := r.cfg.UnbindPacket()
	if err != nil {
		return err
	}
	if err := r.link.Write(ctx, data, ""); err != nil {
		return fmt.Errorf("unbind: %w", err)
	}
	r.mu.Lock()
	r.authenticated = false
	r.mu.Unlock()
	slog.Warn("[BLE] unbind sent")
	return sleep(ctx, r.cfg.Timing.UnbindSettle)
}

// Measure runs one measurement of kind and returns its latest accepted
// reading. A zero duration uses the configured measurement duration.
func (r *Ring) Measure(ctx context.Context, kind Kind, duration time.Duration) (Reading, error) {
	if !r.IsConnected() {
		return Reading{}, ErrNotConnected
	}
	if duration <= 0 {
		duration = r.cfg.Timing.MeasureDuration
	}
	reading, err := r.monitor.Run(ctx, kind, duration)
	if err != nil && errors.Is(err, ble.ErrNotConnected) {
		return reading, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return reading, err
}

// LastSession returns the session id of the most recent measurement.
func (r *Ring) LastSession() string {
	return r.monitor.LastSession()
}

// Latest returns the latest accepted reading of kind on this connection.
func (r *Ring) Latest(kind Kind) (Reading, bool) {
	return r.monitor.Latest(kind)
}

// Status returns a snapshot of the connection, the alarm set and the
// latest reading of each kind.
func (r *Ring) Status() Status {
	r.mu.RLock()
	s := Status{
		Device:        r.device,
		Authenticated: r.authenticated,
		ConnectedAt:   r.connectedAt,
		Watching:      r.watching,
	}
	r.mu.RUnlock()

	s.Connected = r.link.Connected()
	s.Alarms = r.alarms.List()
	s.Latest = make(map[Kind]Reading)
	for _, k := range protocol.Kinds() {
		if reading, ok := r.monitor.Latest(k); ok {
			s.Latest[k] = reading
		}
	}
	if next, at, ok := r.alarms.Next(time.Now()); ok {
		s.NextAlarm, s.NextAlarmAt = &next, at
	}
	return s
}

// WatchAlarms plays the configured alarm vibration on the ring at each
// enabled alarm's time until ctx is done. onTrigger, if not nil, is called
// for every alarm that goes off. It returns ctx.Err(), or ErrWatching if a
// watch is already running on this connection.
func (r *Ring) WatchAlarms(ctx context.Context, onTrigger func(AlarmTrigger)) error {
	opts := alarm.DefaultWatchOptions()
	opts.OnTrigger = onTrigger
	return r.watchAlarms(ctx, opts)
}

func (r *Ring) watchAlarms(ctx context.Context, opts alarm.WatchOptions) error {
	r.mu.Lock()
	if r.watching {
		r.mu.Unlock()
		return ErrWatching
	}
	r.watching = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.watching = false
		r.mu.Unlock()
	}()
	return alarm.NewWatcher(r.alarms, r.ringAlarm, opts).Run(ctx)
}

func (r *Ring) ringAlarm(ctx context.Context, a Alarm) error {
	return r.Vibrate(ctx, r.cfg.Commands.AlarmVibration)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
