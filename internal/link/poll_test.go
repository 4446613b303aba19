package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/envnode/internal/frame"
	"github.com/banshee-data/envnode/internal/uart"
)

func TestPoll_HandshakeFromNotReady(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, NotReady, f.bridge.State())

	f.port.Feed(HandshakeByte)
	ev := f.bridge.Poll()

	assert.Equal(t, EventPeerReady, ev.Kind)
	assert.Equal(t, Ready, f.bridge.State())
	assert.True(t, f.bridge.Ready())
	assert.Equal(t, uint64(1), f.stats.Handshakes.Load())
}

func TestPoll_NothingPending(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, Event{}, f.bridge.Poll())
	assert.Equal(t, NotReady, f.bridge.State())
}

func TestPoll_HandshakeAfterLineNoise(t *testing.T) {
	f := newFixture(t)
	f.bridge.Wakeup()
	require.Equal(t, AwaitingReady, f.bridge.State())

	// A stray byte leaves a partial frame buffered ahead of the handshake.
	f.port.Feed(0x33)
	assert.Equal(t, EventNone, f.bridge.Poll().Kind)
	f.port.Feed(HandshakeByte)
	assert.Equal(t, EventPeerReady, f.bridge.Poll().Kind)
	assert.Equal(t, Ready, f.bridge.State())
	assert.Equal(t, uint64(1), f.stats.Handshakes.Load())
}

func TestPoll_HandshakeDiscardsPartialFrame(t *testing.T) {
	f := newFixture(t)
	f.port.Feed(0x03, 0x11, HandshakeByte)
	f.pollAll()
	require.Equal(t, Ready, f.bridge.State())

	// The noise is gone, so the next frame decodes cleanly.
	f.port.Feed(timeSyncFrame(t, 42)...)
	ev := f.pollAll()
	assert.Equal(t, Event{Kind: EventTimeSync, EpochMs: 42}, ev)
	assert.Zero(t, f.stats.DecodeErrors.Load())
}

func TestPoll_TimeSync(t *testing.T) {
	f := newFixture(t)
	f.port.Feed(timeSyncFrame(t, 1_760_000_000_123)...)

	ev := f.pollAll()
	assert.Equal(t, EventTimeSync, ev.Kind)
	assert.Equal(t, uint64(1_760_000_000_123), ev.EpochMs)
	assert.Equal(t, Ready, f.bridge.State(), "time-sync implies the radio is awake")
	assert.Equal(t, uint64(1), f.stats.TimeSyncs.Load())
}

func TestPoll_ShortTimeSyncIgnored(t *testing.T) {
	f := newFixture(t)
	f.port.Feed(encodeControl(t, frame.CmdTimeSync, []byte{1, 2, 3})...)
	assert.Equal(t, EventNone, f.pollAll().Kind)
	assert.Equal(t, NotReady, f.bridge.State())
}

func TestPoll_HeartbeatDoesNotGrantReady(t *testing.T) {
	f := newFixture(t)
	f.port.Feed(encodeControl(t, frame.CmdHeartbeat, nil)...)
	assert.Equal(t, EventHeartbeat, f.pollAll().Kind)
	assert.Equal(t, NotReady, f.bridge.State())
	assert.Equal(t, uint64(1), f.stats.Heartbeats.Load())
}

func TestPoll_UnknownCommandIgnored(t *testing.T) {
	f := newFixture(t)
	f.port.Feed(encodeControl(t, frame.CmdMetricsReport, []byte{1})...)
	assert.Equal(t, EventNone, f.pollAll().Kind)
}

func TestPoll_DecodeErrorDroppedThenRecovers(t *testing.T) {
	f := newFixture(t)
	f.port.Feed(0x05, 0x11, frame.Delimiter) // block promises four bytes
	f.port.Feed(timeSyncFrame(t, 42)...)

	ev := f.pollAll()
	assert.Equal(t, uint64(1), f.stats.DecodeErrors.Load())
	assert.Equal(t, EventTimeSync, ev.Kind)
	assert.Equal(t, uint64(42), ev.EpochMs)
}

func TestPoll_HardwareFaultCleared(t *testing.T) {
	f := newFixture(t)
	f.port.InjectFault(uart.FaultOverrun)
	f.port.Feed(HandshakeByte)

	assert.Equal(t, EventNone, f.bridge.Poll().Kind)
	assert.Equal(t, 1, f.port.Clears())
	assert.Equal(t, uint64(1), f.stats.Overruns.Load())

	assert.Equal(t, EventPeerReady, f.bridge.Poll().Kind)
}

func TestPoll_OverflowTruncates(t *testing.T) {
	f := newFixture(t)
	junk := make([]byte, RxBufSize+72)
	for i := range junk {
		junk[i] = 0x01
	}
	f.port.Feed(junk...)
	f.port.Feed(frame.Delimiter)

	assert.NotPanics(t, func() { f.pollAll() })
	assert.Equal(t, uint64(72), f.stats.RxOverflowBytes.Load())

	// The buffer is reset after the delimiter.
	f.port.Feed(HandshakeByte)
	assert.Equal(t, EventPeerReady, f.bridge.Poll().Kind)
}

func TestWakeup(t *testing.T) {
	f := newFixture(t)
	f.port.Feed(0x33, 0x44, 0x55)

	f.bridge.Wakeup()
	assert.Equal(t, AwaitingReady, f.bridge.State())
	assert.Zero(t, f.port.Pending(), "stale bytes flushed")
	assert.Equal(t, []byte{frame.Delimiter}, f.port.Written())

	f.bridge.Wakeup()
	assert.Equal(t, AwaitingReady, f.bridge.State())
	assert.Equal(t, []byte{0, 0}, f.port.Written())
	assert.Equal(t, uint64(2), f.stats.WakePulses.Load())

	f.port.Feed(HandshakeByte)
	f.bridge.Poll()
	f.port.ResetWritten()
	f.bridge.Wakeup()
	assert.Empty(t, f.port.Written(), "no pulse once ready")
	assert.Equal(t, Ready, f.bridge.State())
}

func TestWakeup_ResetsPartialFrame(t *testing.T) {
	f := newFixture(t)
	f.port.Feed(0x07, 0x01)
	f.pollAll()

	f.bridge.Wakeup()
	f.port.Feed(HandshakeByte)
	assert.Equal(t, EventPeerReady, f.bridge.Poll().Kind)
}
