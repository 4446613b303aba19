package frame

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/sigurn/crc16"
)

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// checksum16 is CRC-16/MODBUS (poly 0x8005 reflected, init 0xFFFF).
func checksum16(b []byte) uint16 {
	return crc16.Checksum(b, modbusTable)
}

// checksum32 is CRC-32/ISO-HDLC, the Ethernet/zip polynomial.
func checksum32(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// Header is the fixed 32-byte frame header.
type Header struct {
	Magic     uint16
	Version   uint8
	Flags     uint8
	Status    uint16
	Command   uint16
	KeyID     uint32
	Length    uint32
	Nonce     [12]byte
	HeaderCRC uint16
	Padding   uint16
}

// NewHeader returns a header with the protocol constants filled in.
func NewHeader(cmd uint16, length int, seq uint64) Header {
	h := Header{
		Magic:   Magic,
		Version: Version,
		Command: cmd,
		Length:  uint32(length),
	}
	h.SetSequence(seq)
	return h
}

// SetSequence stores seq in nonce bytes 4..12.
func (h *Header) SetSequence(seq uint64) {
	binary.LittleEndian.PutUint64(h.Nonce[4:12], seq)
}

// Sequence returns the send sequence carried in the nonce.
func (h *Header) Sequence() uint64 {
	return binary.LittleEndian.Uint64(h.Nonce[4:12])
}

// MarshalTo writes the header into b[0:32]. b must hold at least HeaderSize bytes.
func (h *Header) MarshalTo(b []byte) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint16(b[0:2], h.Magic)
	b[2] = h.Version
	b[3] = h.Flags
	binary.LittleEndian.PutUint16(b[4:6], h.Status)
	binary.LittleEndian.PutUint16(b[6:8], h.Command)
	binary.LittleEndian.PutUint32(b[8:12], h.KeyID)
	binary.LittleEndian.PutUint32(b[12:16], h.Length)
	copy(b[16:28], h.Nonce[:])
	binary.LittleEndian.PutUint16(b[28:30], h.HeaderCRC)
	binary.LittleEndian.PutUint16(b[30:32], h.Padding)
}

// Seal computes HeaderCRC over the first 28 serialized bytes. The CRC field
// itself is outside the covered span, so sealing twice yields the same value.
func (h *Header) Seal() {
	var tmp [HeaderSize]byte
	h.MarshalTo(tmp[:])
	h.HeaderCRC = HeaderChecksum(tmp[:])
}

// HeaderChecksum returns the CRC-16 of the first HeaderCRCSpan bytes of a
// serialized header.
func HeaderChecksum(b []byte) uint16 {
	return checksum16(b[:HeaderCRCSpan])
}

// ParseHeader reads a header from the first 32 bytes of b. No checksum is
// verified here.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("parse header: %d bytes: %w", len(b), ErrShortFrame)
	}
	var h Header
	h.Magic = binary.LittleEndian.Uint16(b[0:2])
	h.Version = b[2]
	h.Flags = b[3]
	h.Status = binary.LittleEndian.Uint16(b[4:6])
	h.Command = binary.LittleEndian.Uint16(b[6:8])
	h.KeyID = binary.LittleEndian.Uint32(b[8:12])
	h.Length = binary.LittleEndian.Uint32(b[12:16])
	copy(h.Nonce[:], b[16:28])
	h.HeaderCRC = binary.LittleEndian.Uint16(b[28:30])
	h.Padding = binary.LittleEndian.Uint16(b[30:32])
	return h, nil
}
