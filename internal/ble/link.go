package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SeamusWaldron/wakering/internal/protocol"
)

// LinkOptions configures a Link.
type LinkOptions struct {
	DefaultTarget string        // characteristic used when Write gets an empty target
	WriteSettle   time.Duration // pause after every write before the next may start
	WriteTimeout  time.Duration // bound on a single characteristic write
}

// DefaultLinkOptions returns the pacing the ring tolerates.
func DefaultLinkOptions() LinkOptions {
	return LinkOptions{
		DefaultTarget: protocol.CommandCharUUID,
		WriteSettle:   500 * time.Millisecond,
		WriteTimeout:  5 * time.Second,
	}
}

// Link is the write path over one connection. Whole packets are written one
// at a time, each followed by the settle delay. Safe for concurrent use.
type Link struct {
	conn Connection
	opts LinkOptions

	// one token; held from the start of a stack write until it returns
	writeSlot chan struct{}

	mu           sync.Mutex
	chars        map[string]Characteristic
	connected    bool
	onDisconnect []func()
}

// NewLink wraps an established connection.
func NewLink(conn Connection, opts LinkOptions) *Link {
	if opts.DefaultTarget == "" {
		opts.DefaultTarget = protocol.CommandCharUUID
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	l := &Link{
		conn:      conn,
		opts:      opts,
		writeSlot: make(chan struct{}, 1),
		chars:     make(map[string]Characteristic),
		connected: true,
	}
	conn.OnDisconnect(l.handleDisconnect)
	return l
}

func (l *Link) handleDisconnect() {
	l.mu.Lock()
	l.connected = false
	l.chars = make(map[string]Characteristic)
	cbs := append([]func(){}, l.onDisconnect...)
	l.mu.Unlock()

	slog.Warn("[BLE] link lost")
	for _, cb := range cbs {
		cb()
	}
}

// OnDisconnect registers a callback for when the connection drops.
func (l *Link) OnDisconnect(cb func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDisconnect = append(l.onDisconnect, cb)
}

// Connected reports whether the connection is still up.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Characteristic returns the characteristic with the given UUID,
// discovering it on first use.
func (l *Link) Characteristic(uuid string) (Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil, ErrNotConnected
	}
	if ch, ok := l.chars[uuid]; ok {
		return ch, nil
	}
	ch, err := l.conn.DiscoverCharacteristic(uuid)
	if err != nil {
		return nil, fmt.Errorf("ble: discover %s: %w", uuid, err)
	}
	l.chars[uuid] = ch
	return ch, nil
}

// Write sends data to the characteristic target (or the default one) and
// then waits the settle delay. It fails with ErrWriteTimeout if the stack
// does not complete the write within WriteTimeout. A write abandoned on
// timeout or cancellation keeps the link busy until the stack returns, so
// the next packet never overlaps it.
func (l *Link) Write(ctx context.Context, data []byte, target string) error {
	if target == "" {
		target = l.opts.DefaultTarget
	}

	select {
	case l.writeSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	release := true
	defer func() {
		if release {
			<-l.writeSlot
		}
	}()

	ch, err := l.Characteristic(target)
	if err != nil {
		return err
	}

	slog.Debug("[BLE] write", "target", target, "data", protocol.FormatHex(data))

	done := make(chan error, 1)
	go func() { done <- ch.Write(data) }()

	timer := time.NewTimer(l.opts.WriteTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ble: write %s: %w", target, err)
		}
	case <-timer.C:
		release = false
		go l.drain(target, done)
		return fmt.Errorf("%w: %s after %v", ErrWriteTimeout, target, l.opts.WriteTimeout)
	case <-ctx.Done():
		release = false
		go l.drain(target, done)
		return ctx.Err()
	}

	if l.opts.WriteSettle > 0 {
		settle := time.NewTimer(l.opts.WriteSettle)
		defer settle.Stop()
		select {
		case <-settle.C:
		case <-ctx.Done():
		}
	}
	return nil
}

// drain waits for an abandoned stack write and then frees the link.
func (l *Link) drain(target string, done <-chan error) {
	err := <-done
	slog.Debug("[BLE] abandoned write finished", "target", target, "error", err)
	<-l.writeSlot
}

// Subscribe delivers notifications of characteristic uuid to cb. The slice
// passed to cb is a copy owned by the callee.
func (l *Link) Subscribe(uuid string, cb func([]byte)) error {
	ch, err := l.Characteristic(uuid)
	if err != nil {
		return err
	}
	return ch.Subscribe(func(data []byte) {
		buf := make([]byte, len(data))
		copy(buf, data)
		slog.Debug("[BLE] notify", "source", uuid, "data", protocol.FormatHex(buf))
		cb(buf)
	})
}

// Close disconnects the underlying connection.
func (l *Link) Close() error {
	l.mu.Lock()
	was := l.connected
	l.connected = false
	l.mu.Unlock()
	if !was {
		return nil
	}
	return l.conn.Disconnect()
}
