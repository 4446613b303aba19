package link

import (
	"encoding/binary"
	"errors"

	"github.com/banshee-data/envnode/internal/frame"
	"github.com/banshee-data/envnode/internal/uart"
)

// timeSyncLen is the smallest decoded frame that carries a time-sync
// timestamp: header plus a u64.
const timeSyncLen = frame.HeaderSize + 8

// Poll reads at most one byte from the port and reports what it completed.
//
// A handshake byte always marks the link Ready, wherever it falls; any
// partial frame buffered before it is discarded, since the radio sends the
// byte on its own between frames. A 0x00 ends the buffered frame, which is
// unstuffed and inspected for a time-sync or heartbeat command. Checksums are not verified on this path. Bytes beyond RxBufSize
// are dropped until the next delimiter.
func (b *Bridge) Poll() Event {
	c, err := b.port.ReadByte()
	if err != nil {
		b.readError(err)
		return Event{}
	}

	switch {
	case c == HandshakeByte:
		b.rxIdx = 0
		b.stats.Handshakes.Add(1)
		b.transition(Ready, "handshake")
		return Event{Kind: EventPeerReady}
	case c == frame.Delimiter:
		ev := b.decode()
		b.rxIdx = 0
		return ev
	}

	if b.rxIdx < len(b.rx) {
		b.rx[b.rxIdx] = c
		b.rxIdx++
	} else {
		b.stats.RxOverflowBytes.Add(1)
	}
	return Event{}
}

func (b *Bridge) readError(err error) {
	if errors.Is(err, uart.ErrWouldBlock) {
		return
	}
	if _, ok := uart.IsHardware(err); ok {
		b.stats.Overruns.Add(1)
		b.port.ClearError()
		return
	}
	logf("read: %v", err)
}

func (b *Bridge) decode() Event {
	if b.rxIdx == 0 {
		return Event{}
	}
	n, err := frame.Unstuff(b.decoded[:], b.rx[:b.rxIdx])
	if err != nil {
		b.stats.DecodeErrors.Add(1)
		logf("dropped inbound frame: %v", err)
		return Event{}
	}
	if n < frame.HeaderSize {
		return Event{}
	}

	switch cmd := binary.LittleEndian.Uint16(b.decoded[6:8]); cmd {
	case frame.CmdTimeSync:
		if n < timeSyncLen {
			return Event{}
		}
		ms := binary.LittleEndian.Uint64(b.decoded[frame.HeaderSize:timeSyncLen])
		b.stats.TimeSyncs.Add(1)
		b.transition(Ready, "time-sync")
		return Event{Kind: EventTimeSync, EpochMs: ms}
	case frame.CmdHeartbeat:
		b.stats.Heartbeats.Add(1)
		return Event{Kind: EventHeartbeat}
	default:
		logf("ignored inbound command %#06x", cmd)
		return Event{}
	}
}
