// Package peer simulates the companion radio on the other end of the serial
// link: it sleeps until woken by zero-byte pulses, answers with the
// handshake byte, validates every frame the node sends and can push
// time-sync and heartbeat frames back.
package peer

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/banshee-data/envnode/internal/frame"
	"github.com/banshee-data/envnode/internal/monitoring"
	"github.com/banshee-data/envnode/internal/report"
	"github.com/banshee-data/envnode/internal/timeutil"
)

var logf = monitoring.Prefixed("peer")

// HandshakeByte is the companion's ready signal.
const HandshakeByte byte = 0x52

// handshakeFreeTries bounds the sequence numbers tried per outbound frame
// when looking for an encoding without HandshakeByte.
const handshakeFreeTries = 64

// DefaultIdleTimeout is how long the companion stays awake without traffic.
const DefaultIdleTimeout = 10 * time.Second

// Received is one frame taken off the wire. Err is set when the frame failed
// validation; Report is set for metrics-report frames.
type Received struct {
	Header frame.Header
	Report *report.Report
	Err    error
}

// Stats counts companion activity.
type Stats struct {
	WakePulses     int
	Wakeups        int
	Handshakes     int
	FramesAccepted int
	FramesRejected int
	TimeSyncsSent  int
}

// Companion is safe for concurrent use. Outbound bytes are delivered through
// the send function given to New, never while the companion's lock is held.
type Companion struct {
	mu sync.Mutex

	send  func([]byte)
	clock timeutil.Clock

	pulsesToWake int
	idleTimeout  time.Duration
	syncSource   func() uint64
	muted        bool

	awake        bool
	pulses       int
	lastActivity time.Time

	rx       []byte
	overflow bool
	decoded  [frame.FrameBufSize]byte

	enc      frame.Encoder
	seq      uint64
	received []Received
	stats    Stats
}

// Option configures a Companion.
type Option func(*Companion)

// WithClock sets the clock used for the idle timeout.
func WithClock(c timeutil.Clock) Option {
	return func(p *Companion) { p.clock = c }
}

// WithPulsesToWake sets how many wake pulses a sleeping companion needs
// before it answers.
func WithPulsesToWake(n int) Option {
	return func(p *Companion) {
		if n > 0 {
			p.pulsesToWake = n
		}
	}
}

// WithIdleTimeout sets how long the companion stays awake without traffic.
// Zero keeps it awake forever once woken.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Companion) { p.idleTimeout = d }
}

// WithTimeSyncOnWake makes the companion follow every handshake with a
// time-sync frame carrying now().
func WithTimeSyncOnWake(now func() uint64) Option {
	return func(p *Companion) { p.syncSource = now }
}

// New returns a sleeping companion that writes to the node through send.
func New(send func([]byte), opts ...Option) *Companion {
	p := &Companion{
		send:         send,
		clock:        timeutil.RealClock{},
		pulsesToWake: 1,
		idleTimeout:  DefaultIdleTimeout,
		rx:           make([]byte, 0, frame.FrameBufSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetMuted stops (or resumes) answering wake pulses, simulating a radio
// that never wakes.
func (p *Companion) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

// Awake reports whether the companion is currently awake.
func (p *Companion) Awake() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked()
	return p.awake
}

// Feed consumes bytes written by the node.
func (p *Companion) Feed(b []byte) {
	var out []byte
	p.mu.Lock()
	for _, c := range b {
		if c != frame.Delimiter {
			if len(p.rx) < cap(p.rx) {
				p.rx = append(p.rx, c)
			} else {
				p.overflow = true
			}
			continue
		}
		if len(p.rx) == 0 && !p.overflow {
			out = append(out, p.pulseLocked()...)
			continue
		}
		p.frameLocked()
		p.rx = p.rx[:0]
		p.overflow = false
	}
	p.mu.Unlock()

	if len(out) > 0 {
		p.send(out)
	}
}

func (p *Companion) expireLocked() {
	if p.awake && p.idleTimeout > 0 && p.clock.Now().Sub(p.lastActivity) > p.idleTimeout {
		p.awake = false
		p.pulses = 0
		logf("idle for %s, sleeping", p.idleTimeout)
	}
}

func (p *Companion) pulseLocked() []byte {
	p.expireLocked()
	p.stats.WakePulses++
	if p.muted {
		return nil
	}
	if !p.awake {
		p.pulses++
		if p.pulses < p.pulsesToWake {
			return nil
		}
		p.awake = true
		p.stats.Wakeups++
		logf("woken after %d pulse(s)", p.pulses)
	}
	p.lastActivity = p.clock.Now()
	p.stats.Handshakes++

	out := []byte{HandshakeByte}
	if p.syncSource != nil {
		if f, err := p.timeSyncLocked(p.syncSource()); err == nil {
			out = append(out, f...)
		}
	}
	return out
}

func (p *Companion) frameLocked() {
	if p.overflow {
		p.reject(frame.Header{}, frame.ErrOutputFull)
		return
	}
	n, err := frame.Unstuff(p.decoded[:], p.rx)
	if err != nil {
		p.reject(frame.Header{}, err)
		return
	}
	h, payload, err := frame.Verify(p.decoded[:n])
	if err != nil {
		p.reject(h, err)
		return
	}

	p.lastActivity = p.clock.Now()
	rec := Received{Header: h}
	if h.Command == frame.CmdMetricsReport {
		r, _, err := report.Unmarshal(payload)
		if err != nil {
			p.reject(h, err)
			return
		}
		rec.Report = &r
		logf("accepted %s report seq=%d samples=%d", r.Type, h.Sequence(), r.Count)
	}
	p.stats.FramesAccepted++
	p.received = append(p.received, rec)
}

func (p *Companion) reject(h frame.Header, err error) {
	p.stats.FramesRejected++
	p.received = append(p.received, Received{Header: h, Err: err})
	logf("rejected frame: %v", err)
}

func (p *Companion) timeSyncLocked(epochMs uint64) ([]byte, error) {
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], epochMs)
	return p.encodeLocked(frame.CmdTimeSync, payload[:])
}

func (p *Companion) encodeLocked(cmd uint16, payload []byte) ([]byte, error) {
	buf := make([]byte, frame.FrameBufSize)
	// The node reads a handshake byte anywhere in its input as a handshake.
	n, seq, err := p.enc.EncodeAvoiding(buf, cmd, payload, p.seq, HandshakeByte, handshakeFreeTries)
	if err != nil {
		return nil, err
	}
	p.seq = seq + 1
	if cmd == frame.CmdTimeSync {
		p.stats.TimeSyncsSent++
	}
	return buf[:n], nil
}

// SendTimeSync pushes an unsolicited time-sync frame to the node.
func (p *Companion) SendTimeSync(epochMs uint64) error {
	p.mu.Lock()
	f, err := p.timeSyncLocked(epochMs)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.send(f)
	return nil
}

// SendHeartbeat pushes an empty heartbeat frame to the node.
func (p *Companion) SendHeartbeat() error {
	p.mu.Lock()
	f, err := p.encodeLocked(frame.CmdHeartbeat, nil)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.send(f)
	return nil
}

// Received returns a copy of every frame seen so far.
func (p *Companion) Received() []Received {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Received(nil), p.received...)
}

// Reports returns the successfully decoded metric reports in arrival order.
func (p *Companion) Reports() []report.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []report.Report
	for _, r := range p.received {
		if r.Report != nil {
			out = append(out, *r.Report)
		}
	}
	return out
}

// Stats returns a copy of the counters.
func (p *Companion) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
