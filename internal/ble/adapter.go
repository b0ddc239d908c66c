// Package ble provides the Bluetooth Low Energy transport for the ring: an
// adapter abstraction over tinygo bluetooth and a serialized write path.
package ble

import (
	"context"
	"errors"
)

// Errors
var (
	ErrNotConnected          = errors.New("ble: not connected to device")
	ErrUnknownCharacteristic = errors.New("ble: characteristic not found")
	ErrWriteTimeout          = errors.New("ble: write timed out")
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID in any service.
	DiscoverCharacteristic(charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports advertising peripherals accepted by match until ctx is
	// done. A nil match accepts every peripheral.
	Scan(ctx context.Context, match func(Device) bool) ([]Device, error)
	// Connect establishes a connection to the device at address.
	Connect(ctx context.Context, address string) (Connection, error)
}
