package ble

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SeamusWaldron/wakering/internal/protocol"
)

const (
	measureUUID = "de5bf72a-d711-4e47-af26-65e3012a5dc7"
	notifyUUID  = "de5bf729-d711-4e47-af26-65e3012a5dc7"
)

func fastOptions() LinkOptions {
	return LinkOptions{WriteTimeout: time.Second}
}

func TestLinkWriteDefaultTarget(t *testing.T) {
	conn := newMockConnection(protocol.CommandCharUUID, measureUUID)
	link := NewLink(conn, fastOptions())

	if err := link.Write(context.Background(), []byte{1, 2, 3}, ""); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := link.Write(context.Background(), []byte{4}, measureUUID); err != nil {
		t.Fatalf("Write(measure) error = %v", err)
	}

	cmd := conn.chars[protocol.CommandCharUUID].written()
	if len(cmd) != 1 || !bytes.Equal(cmd[0], []byte{1, 2, 3}) {
		t.Errorf("command writes = %v", cmd)
	}
	if m := conn.chars[measureUUID].written(); len(m) != 1 {
		t.Errorf("measure writes = %d, want 1", len(m))
	}
}

func TestLinkCachesDiscovery(t *testing.T) {
	conn := newMockConnection(protocol.CommandCharUUID)
	link := NewLink(conn, fastOptions())
	for i := 0; i < 3; i++ {
		if err := link.Write(context.Background(), []byte{byte(i)}, ""); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if conn.discoveries != 1 {
		t.Errorf("discoveries = %d, want 1", conn.discoveries)
	}
}

func TestLinkUnknownCharacteristic(t *testing.T) {
	link := NewLink(newMockConnection(), fastOptions())
	err := link.Write(context.Background(), []byte{1}, "")
	if !errors.Is(err, ErrUnknownCharacteristic) {
		t.Errorf("Write() error = %v, want ErrUnknownCharacteristic", err)
	}
}

func TestLinkWriteError(t *testing.T) {
	conn := newMockConnection(protocol.CommandCharUUID)
	radio := errors.New("att error")
	conn.chars[protocol.CommandCharUUID].err = radio
	link := NewLink(conn, fastOptions())
	if err := link.Write(context.Background(), []byte{1}, ""); !errors.Is(err, radio) {
		t.Errorf("Write() error = %v, want wrapped att error", err)
	}
}

func TestLinkWriteTimeout(t *testing.T) {
	conn := newMockConnection(protocol.CommandCharUUID)
	conn.chars[protocol.CommandCharUUID].delay = 200 * time.Millisecond
	link := NewLink(conn, LinkOptions{WriteTimeout: 20 * time.Millisecond})
	if err := link.Write(context.Background(), []byte{1}, ""); !errors.Is(err, ErrWriteTimeout) {
		t.Errorf("Write() error = %v, want ErrWriteTimeout", err)
	}
}

func waitFinished(t *testing.T, c *mockCharacteristic, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.finished.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("stack writes finished = %d, want %d", c.finished.Load(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLinkTimedOutWriteBlocksNext(t *testing.T) {
	conn := newMockConnection(protocol.CommandCharUUID)
	char := conn.chars[protocol.CommandCharUUID]
	char.delay = 200 * time.Millisecond
	link := NewLink(conn, LinkOptions{WriteTimeout: 50 * time.Millisecond})

	start := time.Now()
	if err := link.Write(context.Background(), []byte{0xA0}, ""); !errors.Is(err, ErrWriteTimeout) {
		t.Fatalf("first Write() error = %v, want ErrWriteTimeout", err)
	}
	if err := link.Write(context.Background(), []byte{0xB0}, ""); !errors.Is(err, ErrWriteTimeout) {
		t.Fatalf("second Write() error = %v, want ErrWriteTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("second write returned after %v, before the first left the stack", elapsed)
	}

	waitFinished(t, char, 2)
	if n := char.maxInFlight.Load(); n != 1 {
		t.Errorf("concurrent stack writes = %d, want 1", n)
	}
	got := char.written()
	if len(got) != 2 || got[0][0] != 0xA0 || got[1][0] != 0xB0 {
		t.Errorf("writes = % X, want A0 then B0", got)
	}
}

func TestLinkWaitingWriteHonorsContext(t *testing.T) {
	conn := newMockConnection(protocol.CommandCharUUID)
	char := conn.chars[protocol.CommandCharUUID]
	char.delay = 200 * time.Millisecond
	link := NewLink(conn, LinkOptions{WriteTimeout: 20 * time.Millisecond})

	if err := link.Write(context.Background(), []byte{0xA0}, ""); !errors.Is(err, ErrWriteTimeout) {
		t.Fatalf("first Write() error = %v, want ErrWriteTimeout", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := link.Write(ctx, []byte{0xB0}, ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("waiting Write() error = %v, want context.DeadlineExceeded", err)
	}

	waitFinished(t, char, 1)
	if got := char.written(); len(got) != 1 {
		t.Errorf("writes = %d, want only the first packet", len(got))
	}

	// the link is free again once the stack returns
	char.delay = 0
	if err := link.Write(context.Background(), []byte{0xC0}, ""); err != nil {
		t.Errorf("Write() after drain error = %v", err)
	}
}

func TestLinkSettleSerializesWrites(t *testing.T) {
	conn := newMockConnection(protocol.CommandCharUUID)
	link := NewLink(conn, LinkOptions{WriteSettle: 20 * time.Millisecond, WriteTimeout: time.Second})

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			link.Write(context.Background(), []byte{0xAA}, "")
		}()
	}
	wg.Wait()
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("three writes took %v, want at least 60ms with settle", elapsed)
	}
	if n := len(conn.chars[protocol.CommandCharUUID].written()); n != 3 {
		t.Errorf("writes = %d, want 3", n)
	}
}

func TestLinkSubscribeCopiesData(t *testing.T) {
	conn := newMockConnection(notifyUUID)
	link := NewLink(conn, fastOptions())

	var got []byte
	if err := link.Subscribe(notifyUUID, func(b []byte) { got = b }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	buf := []byte{0x00, 0x0B, 0x21, 0x40}
	conn.chars[notifyUUID].SimulateNotification(buf)
	buf[0] = 0xFF
	if got == nil || got[0] != 0x00 {
		t.Errorf("notification = % X, want a copy starting 00", got)
	}
}

func TestLinkDisconnect(t *testing.T) {
	conn := newMockConnection(protocol.CommandCharUUID)
	link := NewLink(conn, fastOptions())

	var fired bool
	link.OnDisconnect(func() { fired = true })
	conn.SimulateDisconnect()

	if !fired {
		t.Error("OnDisconnect callback not fired")
	}
	if link.Connected() {
		t.Error("Connected() = true after disconnect")
	}
	if err := link.Write(context.Background(), []byte{1}, ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write() after disconnect error = %v, want ErrNotConnected", err)
	}
}

func TestLinkClose(t *testing.T) {
	conn := newMockConnection(protocol.CommandCharUUID)
	link := NewLink(conn, fastOptions())
	if err := link.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !conn.disconnected {
		t.Error("Close() did not disconnect")
	}
	if err := link.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
