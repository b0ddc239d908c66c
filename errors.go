package wakering

import "errors"

// Sentinel errors for the wakering package.
var (
	// Connection errors
	ErrNotConnected   = errors.New("wakering: not connected to device")
	ErrDeviceNotFound = errors.New("wakering: device not found")

	// Command errors
	ErrAuthFailed     = errors.New("wakering: authentication failed")
	ErrUnknownPattern = errors.New("wakering: unknown vibration pattern")
)
