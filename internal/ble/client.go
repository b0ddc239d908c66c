package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter implements Adapter on tinygo.org/x/bluetooth (CoreBluetooth
// on macOS, WinRT on Windows). tinygo bluetooth v0.13.0 only provides
// DeviceCharacteristic.Write on darwin and windows, so this adapter does not
// build against BlueZ on Linux. On macOS the address is the CoreBluetooth
// peripheral UUID rather than a MAC.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	mu          sync.Mutex
	connections map[string]*tinyGoConnection
}

// NewTinyGoAdapter returns an adapter over the system default BLE adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[addr]
		delete(a.connections, addr)
		a.mu.Unlock()
		if ok {
			slog.Warn("[BLE] peripheral disconnected", "address", addr)
			conn.fireDisconnect()
		}
	})
	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, match func(Device) bool) ([]Device, error) {
	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		dev := Device{
			Name:    result.LocalName(),
			Address: result.Address.String(),
			RSSI:    int(result.RSSI),
		}
		mu.Lock()
		defer mu.Unlock()
		if seen[dev.Address] {
			return
		}
		seen[dev.Address] = true
		if match != nil && !match(dev) {
			return
		}
		slog.Debug("[BLE] found device", "name", dev.Name, "address", dev.Address, "rssi", dev.RSSI)
		devices = append(devices, dev)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo's Connect blocks with its own timeout and cannot be cancelled.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &tinyGoConnection{device: result.device}
		a.mu.Lock()
		a.connections[result.device.Address.String()] = conn
		a.mu.Unlock()
		slog.Info("[BLE] connected", "address", address)
		return conn, nil
	}
}

type tinyGoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	services     []bluetooth.DeviceService
	disconnectCb func()
}

// DiscoverCharacteristic looks for charUUID in every primary service. The
// ring spreads its characteristics over several vendor services.
func (c *tinyGoConnection) DiscoverCharacteristic(charUUID string) (Characteristic, error) {
	uuid, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.services == nil {
		svcs, err := c.device.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("ble: discover services: %w", err)
		}
		c.services = svcs
	}

	for _, svc := range c.services {
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{uuid})
		if err != nil || len(chars) == 0 {
			continue
		}
		return &tinyGoCharacteristic{char: chars[0]}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCharacteristic, charUUID)
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

// Write uses write-with-response, falling back to write-without-response
// for characteristics that only allow the latter.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	if _, err := c.char.Write(data); err != nil {
		if _, err2 := c.char.WriteWithoutResponse(data); err2 != nil {
			return err
		}
	}
	return nil
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
