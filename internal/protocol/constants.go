// Package protocol implements the wake ring BLE wire format: outbound
// command packets with their additive checksum, and the fixed-layout sensor
// notification frames the ring emits while a measurement is running.
package protocol

// Default GATT characteristic for alarm and command writes.
const CommandCharUUID = "00000101-0000-1000-8000-00805f9b34fb"

// Packet header constants
const (
	PacketTypeHi byte = 0x83
	PacketTypeLo byte = 0x40
	Reserved     byte = 0x00
	CommandGroup byte = 0x34 // first command byte for alarm transactions
)

// Alarm transaction command variants (second command byte)
const (
	VariantConfigure byte = 0x34 // create or modify
	VariantDelete    byte = 0x35
	VariantControl   byte = 0x35 // init and finalize packets
)

// Trailing flags of the 16-byte control packets
const (
	FlagInit     byte = 0x21
	FlagFinalize byte = 0x38
)

// Close packet command bytes
const (
	CloseCmdHi byte = 0x81
	CloseCmdLo byte = 0x17
)

// TimestampPattern is the date-like constant the vendor app embeds after the
// command code. It is replayed byte-for-byte from the capture and does not
// track the clock.
var TimestampPattern = [5]byte{0x19, 0x06, 0x0B, 0x04, 0x19}

// Packet sizes
const (
	AlarmPacketSize   = 55
	ControlPacketSize = 16
	ClosePacketSize   = 10
	ChecksumSize      = 2
)

// Alarm configuration packet offsets
const (
	offPayloadLen = 0
	offTypeHi     = 2
	offTypeLo     = 3
	offReserved   = 4
	offTxID       = 5
	offCmd        = 6
	offVariant    = 7
	offPattern    = 8
	offMarker     = 13 // 0x38 marker after the pattern
	offConstant   = 14 // always 0x01
	offAlarmType  = 15 // always 0x05
	offDayMask    = 16
	offHour       = 17
	offMinute     = 18
	offEnabled    = 19
	offName       = 48
	offChecksum   = 53
)

const (
	alarmMarker    byte = 0x38
	alarmConstant  byte = 0x01
	alarmTypeClock byte = 0x05
)

// MaxNameUnits is the number of UTF-16 code units kept from an alarm name.
const MaxNameUnits = 10
