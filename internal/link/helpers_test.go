package link

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/banshee-data/envnode/internal/frame"
	"github.com/banshee-data/envnode/internal/monitoring"
	"github.com/banshee-data/envnode/internal/report"
	"github.com/banshee-data/envnode/internal/timeutil"
	"github.com/banshee-data/envnode/internal/uart"
)

type sentFrame struct {
	Header  frame.Header
	Payload []byte
}

// parseWritten splits a transmit log on delimiters and validates every
// non-empty segment as a frame. Lone zero bytes are wake pulses.
func parseWritten(t *testing.T, w []byte) (frames []sentFrame, pulses int) {
	t.Helper()
	if len(w) == 0 {
		return nil, 0
	}
	for _, seg := range bytes.Split(w, []byte{frame.Delimiter}) {
		if len(seg) == 0 {
			pulses++
			continue
		}
		raw := make([]byte, frame.FrameBufSize)
		n, err := frame.Unstuff(raw, seg)
		if err != nil {
			t.Fatalf("Unstuff() error = %v", err)
		}
		h, payload, err := frame.Verify(raw[:n])
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		frames = append(frames, sentFrame{Header: h, Payload: append([]byte(nil), payload...)})
	}
	// bytes.Split yields one trailing empty segment after the final delimiter.
	if w[len(w)-1] == frame.Delimiter {
		pulses--
	}
	return frames, pulses
}

func encodeControl(t *testing.T, cmd uint16, payload []byte) []byte {
	t.Helper()
	var enc frame.Encoder
	buf := make([]byte, frame.FrameBufSize)
	// As the radio does, pick a sequence whose frame has no handshake byte.
	n, _, err := enc.EncodeAvoiding(buf, cmd, payload, 0, HandshakeByte, 64)
	if err != nil {
		t.Fatalf("EncodeAvoiding() error = %v", err)
	}
	return buf[:n]
}

func timeSyncFrame(t *testing.T, epochMs uint64) []byte {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], epochMs)
	return encodeControl(t, frame.CmdTimeSync, p[:])
}

func testBatch(count int) report.Batch {
	var b report.Batch
	for ch := range b.Reports {
		r := &b.Reports[ch]
		r.StartTimestampMs = 100000
		r.SampleIntervalMs = 1000
		r.Type = report.ChannelTypes[ch]
		r.Count = uint32(count)
		for i := 0; i < count; i++ {
			r.Data[i] = float32(ch*100 + i)
		}
	}
	return b
}

type fixture struct {
	port   *uart.MockPort
	clock  *timeutil.MockClock
	stats  *monitoring.LinkStats
	bridge *Bridge
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	f := &fixture{
		port:  uart.NewMockPort(),
		clock: timeutil.NewMockClock(time.Unix(0, 0)),
		stats: &monitoring.LinkStats{},
	}
	all := append([]Option{WithClock(f.clock), WithStats(f.stats)}, opts...)
	f.bridge = New(f.port, all...)
	return f
}

// pollAll polls until the port is drained and returns the last non-empty event.
func (f *fixture) pollAll() Event {
	var last Event
	for f.port.Pending() > 0 {
		if ev := f.bridge.Poll(); ev.Kind != EventNone {
			last = ev
		}
	}
	return last
}
