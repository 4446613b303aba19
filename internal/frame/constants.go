// Package frame implements the wire format spoken between the node and its
// companion radio: a 32-byte header, the payload, a 16-byte checksummed
// footer, all byte-stuffed so a single 0x00 delimits frames on the stream.
package frame

// Layout:
//
//	Header(32) | Payload(0..PayloadMax) | Footer(16)
//
// Header fields are little-endian:
//
//	0  magic       u16
//	2  version     u8
//	3  flags       u8   reserved
//	4  status      u16
//	6  command     u16
//	8  keyID       u32  reserved for authentication
//	12 length      u32  payload byte count
//	16 nonce       [12] bytes 4..12 carry the u64 send sequence
//	28 headerCRC   u16  CRC-16/MODBUS over bytes 0..28
//	30 padding     u16
//
// The footer starts with a CRC-32/ISO-HDLC over header+payload followed by 12
// zero bytes.
const (
	Magic   uint16 = 0x5759
	Version uint8  = 0x01

	HeaderSize = 32
	FooterSize = 16

	// HeaderCRCSpan is the number of leading header bytes covered by headerCRC.
	HeaderCRCSpan = 28

	// MaxSamples is the number of samples one metric report can carry. Every
	// buffer size below derives from it.
	MaxSamples = 64

	// ReportHeaderSize is timestamp(8) + interval(4) + type(1) + count(4).
	ReportHeaderSize = 17

	// PayloadMax is the largest payload the node ever encodes.
	PayloadMax = ReportHeaderSize + MaxSamples*4

	// FrameBufSize bounds the encoded (stuffed) size of any frame, with 32
	// bytes of slack for stuffing overhead and the delimiter.
	FrameBufSize = HeaderSize + PayloadMax + FooterSize + 32

	// Delimiter terminates every stuffed frame and doubles as the wake pulse.
	Delimiter byte = 0x00
)

// Command identifiers carried in the header.
const (
	CmdMetricsReport uint16 = 0x0101
	CmdHeartbeat     uint16 = 0x0104
	CmdTimeSync      uint16 = 0x0204
)

// MaxStuffedLen returns the worst-case stuffed size of n raw bytes including
// the trailing delimiter.
func MaxStuffedLen(n int) int {
	return n + n/254 + 2
}
