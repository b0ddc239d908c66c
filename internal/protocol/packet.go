package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// AlarmFields are the descriptor values carried by an alarm configuration
// packet. The packet has no slot byte.
type AlarmFields struct {
	Name    string
	Hour    uint8
	Minute  uint8
	DayMask uint8
	Enabled bool
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Checksum returns the additive checksum of b, modulo 65536.
func Checksum(b []byte) uint16 {
	var sum uint16
	for _, v := range b {
		sum += uint16(v)
	}
	return sum
}

// VerifyChecksum reports whether the trailing two bytes of pkt hold the
// little-endian checksum of every byte before them.
func VerifyChecksum(pkt []byte) bool {
	if len(pkt) < ChecksumSize {
		return false
	}
	n := len(pkt) - ChecksumSize
	return binary.LittleEndian.Uint16(pkt[n:]) == Checksum(pkt[:n])
}

// putChecksum writes the checksum of buf[:len(buf)-2] into the last two bytes.
func putChecksum(buf []byte) {
	n := len(buf) - ChecksumSize
	binary.LittleEndian.PutUint16(buf[n:], Checksum(buf[:n]))
}

// putHeader writes the length prefix, type tag, reserved byte and
// transaction id. The length field counts the bytes after the type tag,
// excluding the checksum.
func putHeader(buf []byte, txID uint8) {
	binary.BigEndian.PutUint16(buf[offPayloadLen:], uint16(len(buf)-4-ChecksumSize))
	buf[offTypeHi] = PacketTypeHi
	buf[offTypeLo] = PacketTypeLo
	buf[offReserved] = Reserved
	buf[offTxID] = txID
}

// EncodeName encodes an alarm name as UTF-16 little-endian, keeping at most
// the first MaxNameUnits code units. A surrogate pair that would straddle
// the limit is dropped whole.
func EncodeName(name string) []byte {
	b := encodeUTF16(name)
	if len(b) > MaxNameUnits*2 {
		b = b[:MaxNameUnits*2]
		if last := binary.LittleEndian.Uint16(b[len(b)-2:]); last >= 0xD800 && last <= 0xDBFF {
			b = b[:len(b)-2]
		}
	}
	return b
}

// TruncateName returns name cut to its first MaxNameUnits code units, as
// the ring will store it.
func TruncateName(name string) string {
	if NameUnits(name) <= MaxNameUnits {
		return name
	}
	s, err := utf16le.NewDecoder().Bytes(EncodeName(name))
	if err != nil {
		return name
	}
	return string(s)
}

// NameUnits returns the length of name in UTF-16 code units.
func NameUnits(name string) int {
	return len(encodeUTF16(name)) / 2
}

func encodeUTF16(name string) []byte {
	b, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil
	}
	return b
}

// BuildAlarmConfigPacket builds the 55-byte alarm configuration packet.
// variant is VariantConfigure for create/modify and VariantDelete for delete.
func BuildAlarmConfigPacket(txID uint8, a AlarmFields, variant byte) []byte {
	buf := make([]byte, AlarmPacketSize)
	putHeader(buf, txID)
	buf[offCmd] = CommandGroup
	buf[offVariant] = variant
	copy(buf[offPattern:], TimestampPattern[:])
	buf[offMarker] = alarmMarker
	buf[offConstant] = alarmConstant
	buf[offAlarmType] = alarmTypeClock
	buf[offDayMask] = a.DayMask & EveryDay
	buf[offHour] = a.Hour
	buf[offMinute] = a.Minute
	if a.Enabled {
		buf[offEnabled] = 0x01
	}
	// bytes 20..47 stay zero; the name window is only five bytes wide
	copy(buf[offName:offChecksum], EncodeName(a.Name))
	putChecksum(buf)
	return buf
}

// BuildInitPacket builds the 16-byte packet that opens an alarm transaction.
func BuildInitPacket(txID uint8) []byte {
	return buildControlPacket(txID, FlagInit)
}

// BuildFinalizePacket builds the 16-byte packet that commits an alarm
// configuration.
func BuildFinalizePacket(txID uint8) []byte {
	return buildControlPacket(txID, FlagFinalize)
}

func buildControlPacket(txID uint8, flag byte) []byte {
	buf := make([]byte, ControlPacketSize)
	putHeader(buf, txID)
	buf[offCmd] = CommandGroup
	buf[offVariant] = VariantControl
	copy(buf[offPattern:], TimestampPattern[:])
	buf[offMarker] = flag
	putChecksum(buf)
	return buf
}

// BuildClosePacket builds the 10-byte packet that ends an alarm transaction.
func BuildClosePacket(txID uint8) []byte {
	buf := make([]byte, ClosePacketSize)
	putHeader(buf, txID)
	buf[offCmd] = CloseCmdHi
	buf[offVariant] = CloseCmdLo
	putChecksum(buf)
	return buf
}

// FormatHex renders b as space-separated upper-case hex pairs.
func FormatHex(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}

// ParseHex parses a hex byte string. Spaces, colons and dashes between
// pairs are ignored, so captured dumps like "00 0A 83 40" paste directly.
func ParseHex(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', ':', '-', '\t', '\n':
			return -1
		}
		return r
	}, s)
	out, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("protocol: invalid hex %q: %w", s, err)
	}
	return out, nil
}
