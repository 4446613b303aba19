// Package link drives the serial link to the companion radio. The radio
// sleeps between batches, so every batch starts with a wake pulse and waits
// for the radio's handshake byte before any frame is written.
package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/envnode/internal/frame"
	"github.com/banshee-data/envnode/internal/monitoring"
	"github.com/banshee-data/envnode/internal/timeutil"
	"github.com/banshee-data/envnode/internal/uart"
)

var logf = monitoring.Prefixed("link")

const (
	// HandshakeByte is sent by the radio once it is awake and listening.
	HandshakeByte byte = 0x52

	// RxBufSize bounds an inbound control frame on the wire.
	RxBufSize = 128

	DefaultHandshakeSteps = 5000
	DefaultResendEvery    = 500
	DefaultStepDelay      = time.Millisecond
	DefaultPaceBytes      = 64
	DefaultPaceDelay      = time.Millisecond
	DefaultReportGap      = 50 * time.Millisecond

	// maxFlush bounds the receive flush done before each wake pulse.
	maxFlush = 1024
)

var (
	// ErrNotReady is returned by a cooperative SendBatch before the
	// handshake completed. The caller keeps polling and retries.
	ErrNotReady = errors.New("link not ready")

	// ErrLinkTimeout means the radio never answered the wake pulse within
	// the handshake bound. The batch is abandoned.
	ErrLinkTimeout = errors.New("link handshake timed out")
)

// State is the readiness of the radio as seen by the node.
type State int

const (
	NotReady State = iota
	AwaitingReady
	Ready
)

func (s State) String() string {
	switch s {
	case NotReady:
		return "not-ready"
	case AwaitingReady:
		return "awaiting-ready"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Strategy selects how SendBatch behaves when the radio is not ready.
type Strategy int

const (
	// Cooperative returns ErrNotReady immediately.
	Cooperative Strategy = iota
	// BoundedWait wakes the radio and busy-polls for the handshake.
	BoundedWait
)

func (s Strategy) String() string {
	switch s {
	case Cooperative:
		return "cooperative"
	case BoundedWait:
		return "bounded-wait"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a config string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "cooperative":
		return Cooperative, nil
	case "bounded-wait", "bounded":
		return BoundedWait, nil
	default:
		return 0, fmt.Errorf("unknown link strategy %q", s)
	}
}

// EventKind identifies what Poll observed.
type EventKind int

const (
	EventNone EventKind = iota
	EventPeerReady
	EventTimeSync
	EventHeartbeat
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventPeerReady:
		return "peer-ready"
	case EventTimeSync:
		return "time-sync"
	case EventHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is the result of one Poll. EpochMs is set for EventTimeSync.
type Event struct {
	Kind    EventKind
	EpochMs uint64
}

// Bridge owns the port and every buffer used on it. It is not safe for
// concurrent use; the supervisor loop is its only caller.
type Bridge struct {
	port  uart.Port
	clock timeutil.Clock
	stats *monitoring.LinkStats

	onEvent func(Event)

	handshakeSteps int
	resendEvery    int
	stepDelay      time.Duration
	paceBytes      int
	paceDelay      time.Duration
	reportGap      time.Duration

	state State
	seq   uint64

	rx    [RxBufSize]byte
	rxIdx int
	torn  bool

	enc     frame.Encoder
	tx      [frame.FrameBufSize]byte
	payload [frame.PayloadMax]byte
	decoded [RxBufSize]byte
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock sets the clock used for step, pacing and gap delays.
func WithClock(c timeutil.Clock) Option {
	return func(b *Bridge) { b.clock = c }
}

// WithStats routes link counters into s.
func WithStats(s *monitoring.LinkStats) Option {
	return func(b *Bridge) { b.stats = s }
}

// WithEventHandler receives events that arrive while SendBatch is waiting
// for the handshake, which the caller's own Poll would otherwise miss.
func WithEventHandler(fn func(Event)) Option {
	return func(b *Bridge) { b.onEvent = fn }
}

// WithHandshake overrides the bounded-wait step count, the wake pulse
// resend interval (in steps) and the per-step delay.
func WithHandshake(steps, resendEvery int, stepDelay time.Duration) Option {
	return func(b *Bridge) {
		if steps > 0 {
			b.handshakeSteps = steps
		}
		if resendEvery > 0 {
			b.resendEvery = resendEvery
		}
		if stepDelay >= 0 {
			b.stepDelay = stepDelay
		}
	}
}

// WithPacing sets the bounded-wait write pacing: delay after every n bytes.
func WithPacing(n int, delay time.Duration) Option {
	return func(b *Bridge) {
		b.paceBytes = n
		b.paceDelay = delay
	}
}

// WithReportGap sets the pause between the frames of one batch.
func WithReportGap(d time.Duration) Option {
	return func(b *Bridge) { b.reportGap = d }
}

// New returns a Bridge on port in the NotReady state.
func New(port uart.Port, opts ...Option) *Bridge {
	b := &Bridge{
		port:           port,
		clock:          timeutil.RealClock{},
		handshakeSteps: DefaultHandshakeSteps,
		resendEvery:    DefaultResendEvery,
		stepDelay:      DefaultStepDelay,
		paceBytes:      DefaultPaceBytes,
		paceDelay:      DefaultPaceDelay,
		reportGap:      DefaultReportGap,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.stats == nil {
		b.stats = &monitoring.LinkStats{}
	}
	return b
}

// SetEventHandler replaces the handler installed by WithEventHandler.
func (b *Bridge) SetEventHandler(fn func(Event)) { b.onEvent = fn }

// State returns the current link state.
func (b *Bridge) State() State { return b.state }

// Ready reports whether the radio has granted a send.
func (b *Bridge) Ready() bool { return b.state == Ready }

// Sequence returns the sequence number the next frame will carry.
func (b *Bridge) Sequence() uint64 { return b.seq }

// SetSequence restores the sequence counter, e.g. from persisted state.
func (b *Bridge) SetSequence(seq uint64) { b.seq = seq }

// Stats returns the counters the bridge updates.
func (b *Bridge) Stats() *monitoring.LinkStats { return b.stats }

// transition is the only place the link state changes.
func (b *Bridge) transition(to State, why string) {
	if b.state == to {
		return
	}
	logf("%s -> %s (%s)", b.state, to, why)
	b.state = to
}

// Wakeup flushes stale receive bytes and sends one wake pulse. It does
// nothing once the link is Ready and is safe to call repeatedly.
func (b *Bridge) Wakeup() {
	if b.state == Ready {
		return
	}
	b.flush()
	b.pulse()
	if b.state == NotReady {
		b.transition(AwaitingReady, "wake pulse sent")
	}
}

func (b *Bridge) flush() {
	for i := 0; i < maxFlush; i++ {
		_, err := b.port.ReadByte()
		if err == nil {
			continue
		}
		if _, ok := uart.IsHardware(err); ok {
			b.stats.Overruns.Add(1)
			b.port.ClearError()
			continue
		}
		break
	}
	b.rxIdx = 0
}

func (b *Bridge) pulse() {
	if err := b.port.WriteByte(frame.Delimiter); err != nil {
		logf("wake pulse: %v", err)
		return
	}
	b.stats.WakePulses.Add(1)
}
