package frame

import (
	"bytes"
	"encoding/binary"
)

// Encoder builds stuffed frames in a fixed scratch buffer. It holds no state
// between calls besides that buffer, so one Encoder per sender is enough and
// encoding never allocates.
type Encoder struct {
	scratch [HeaderSize + PayloadMax + FooterSize]byte
}

// Encode frames payload under cmd with sequence seq and writes the stuffed,
// delimited bytes into dst. It returns the number of bytes written. If the
// payload does not fit the scratch buffer or dst is smaller than the
// worst-case stuffed size, ErrCapacity is returned before dst is touched.
func (e *Encoder) Encode(dst []byte, cmd uint16, payload []byte, seq uint64) (int, error) {
	if len(payload) > PayloadMax {
		return 0, ErrCapacity
	}
	total := HeaderSize + len(payload) + FooterSize
	if len(dst) < MaxStuffedLen(total) {
		return 0, ErrCapacity
	}

	copy(e.scratch[HeaderSize:], payload)

	h := NewHeader(cmd, len(payload), seq)
	h.Seal()
	h.MarshalTo(e.scratch[:HeaderSize])

	body := HeaderSize + len(payload)
	footer := e.scratch[body:total]
	binary.LittleEndian.PutUint32(footer[0:4], checksum32(e.scratch[:body]))
	clear(footer[4:])

	return Stuff(dst, e.scratch[:total])
}

// EncodeAvoiding encodes like Encode but advances the sequence, at most tries
// times, until the stuffed frame carries no byte equal to avoid. Only the
// nonce bytes and the checksums move with the sequence, so a payload that
// itself holds avoid can never be cleared. It returns the bytes written and
// the sequence the frame was built with; when no candidate is clean the last
// one is left in dst.
func (e *Encoder) EncodeAvoiding(dst []byte, cmd uint16, payload []byte, seq uint64, avoid byte, tries int) (int, uint64, error) {
	if tries < 1 {
		tries = 1
	}
	var (
		n   int
		err error
	)
	for i := 0; i < tries; i++ {
		n, err = e.Encode(dst, cmd, payload, seq)
		if err != nil {
			return 0, seq, err
		}
		if bytes.IndexByte(dst[:n], avoid) < 0 || i == tries-1 {
			break
		}
		seq++
	}
	return n, seq, nil
}

// Verify checks an unstuffed frame the way the receiving radio does: size,
// magic, header CRC-16, length field and body CRC-32. It returns the header
// and the payload slice (aliasing b).
//
// The node's own receive path does not call Verify; inbound control frames
// are accepted on stuffing integrity and command/length checks alone.
func Verify(b []byte) (Header, []byte, error) {
	if len(b) < HeaderSize+FooterSize {
		return Header{}, nil, ErrShortFrame
	}
	h, err := ParseHeader(b)
	if err != nil {
		return Header{}, nil, err
	}
	if h.Magic != Magic {
		return h, nil, ErrBadMagic
	}
	if h.HeaderCRC != HeaderChecksum(b) {
		return h, nil, ErrHeaderCRC
	}
	if uint64(len(b)) != uint64(HeaderSize)+uint64(h.Length)+FooterSize {
		return h, nil, ErrLength
	}
	body := HeaderSize + int(h.Length)
	if binary.LittleEndian.Uint32(b[body:body+4]) != checksum32(b[:body]) {
		return h, nil, ErrBodyCRC
	}
	return h, b[HeaderSize:body], nil
}
