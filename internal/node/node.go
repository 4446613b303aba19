// Package node runs the sensor node's superloop: it polls the link,
// samples on a timer, drains full buffers into batches and hands them to
// the bridge, retrying or archiving according to the send strategy.
package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/envnode/internal/frame"
	"github.com/banshee-data/envnode/internal/link"
	"github.com/banshee-data/envnode/internal/monitoring"
	"github.com/banshee-data/envnode/internal/report"
	"github.com/banshee-data/envnode/internal/sensor"
	"github.com/banshee-data/envnode/internal/store"
	"github.com/banshee-data/envnode/internal/timeutil"
)

var logf = monitoring.Prefixed("node")

// Store is the persisted state the supervisor uses. *store.Store satisfies it.
type Store interface {
	SetUint64(ctx context.Context, key store.Key, v uint64) error
	GetUint64(ctx context.Context, key store.Key) (uint64, error)
	Push(ctx context.Context, value []byte) error
	Pop(ctx context.Context) ([]byte, error)
	RecordBatch(ctx context.Context, rec store.BatchRecord) error
}

// Config holds the supervisor's tunables.
type Config struct {
	Strategy       link.Strategy
	SampleInterval time.Duration

	// WakeRetryIterations is how many unready send attempts pass between
	// wake pulses under the cooperative strategy.
	WakeRetryIterations int

	// IdleSleep is the pause between Run iterations.
	IdleSleep time.Duration

	// HeartbeatInterval, when positive, sends a heartbeat while the link is
	// Ready and idle.
	HeartbeatInterval time.Duration

	// ReplayBacklog re-sends archived batches after a successful delivery.
	ReplayBacklog bool
}

const (
	DefaultSampleInterval      = time.Second
	DefaultWakeRetryIterations = 1000
	DefaultIdleSleep           = time.Millisecond
)

// Status is a point-in-time view of the supervisor, safe to read from other
// goroutines.
type Status struct {
	State          string `json:"state"`
	Sequence       uint64 `json:"sequence"`
	Buffered       int    `json:"buffered"`
	Capacity       int    `json:"capacity"`
	Pending        bool   `json:"pending"`
	RTCMillis      uint64 `json:"rtc_ms"`
	ReadFailures   uint64 `json:"read_failures"`
	SamplesDropped uint64 `json:"samples_dropped"`
	BatchesSent    uint64 `json:"batches_sent"`
	BatchesLost    uint64 `json:"batches_lost"`
}

// Node owns the bridge and the sensor manager. Step and Run must be called
// from a single goroutine; Status and LastBatch may be called from any.
type Node struct {
	cfg     Config
	bridge  *link.Bridge
	sensors *sensor.Manager
	rtc     *timeutil.RTC
	clock   timeutil.Clock
	store   Store

	ticker timeutil.Ticker
	ctx    context.Context

	pending       *report.Batch
	pendingOrigin store.Outcome
	resume        int
	firstSeq      uint64
	wakeCount     int
	replayDue     bool
	persistedSeq  uint64
	lastHeartbeat time.Time

	mu        sync.Mutex
	status    Status
	lastBatch report.Batch
	hasLast   bool
}

// Option configures a Node.
type Option func(*Node)

// WithClock sets the clock for the sample ticker, idle sleep and RTC.
func WithClock(c timeutil.Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithStore enables persistence of the sequence number, time-sync and the
// backlog. Without it nothing survives a restart.
func WithStore(s Store) Option {
	return func(n *Node) { n.store = s }
}

// WithRTC supplies the wall clock; by default one is created on the node's
// clock, starting at zero.
func WithRTC(r *timeutil.RTC) Option {
	return func(n *Node) { n.rtc = r }
}

// New wires a supervisor around bridge and sensors and installs its event
// handler on the bridge.
func New(cfg Config, bridge *link.Bridge, sensors *sensor.Manager, opts ...Option) *Node {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.WakeRetryIterations <= 0 {
		cfg.WakeRetryIterations = DefaultWakeRetryIterations
	}
	if cfg.IdleSleep < 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}
	n := &Node{
		cfg:     cfg,
		bridge:  bridge,
		sensors: sensors,
		clock:   timeutil.RealClock{},
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.rtc == nil {
		n.rtc = timeutil.NewRTC(n.clock)
	}
	n.ticker = n.clock.NewTicker(cfg.SampleInterval)
	n.lastHeartbeat = n.clock.Now()
	bridge.SetEventHandler(n.handleEvent)
	n.persistedSeq = bridge.Sequence()
	n.publish()
	return n
}

// Restore loads the persisted sequence number and last time-sync into the
// bridge and RTC. Missing keys leave the defaults alone.
func (n *Node) Restore(ctx context.Context) error {
	if n.store == nil {
		return nil
	}
	seq, err := n.store.GetUint64(ctx, store.KeySequence)
	switch {
	case err == nil:
		n.bridge.SetSequence(seq)
		n.persistedSeq = seq
		logf("restored sequence %d", seq)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	ms, err := n.store.GetUint64(ctx, store.KeyLastTimeSync)
	switch {
	case err == nil:
		n.rtc.Set(ms)
		logf("restored clock from last time-sync %d", ms)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	n.publish()
	return nil
}

// Close stops the sample ticker.
func (n *Node) Close() {
	n.ticker.Stop()
}

// RTC returns the node's wall clock.
func (n *Node) RTC() *timeutil.RTC { return n.rtc }

// Run calls Step until ctx is cancelled, sleeping IdleSleep between
// iterations. It returns nil on cancellation.
func (n *Node) Run(ctx context.Context) error {
	logf("running: strategy=%s interval=%s capacity=%d", n.cfg.Strategy, n.cfg.SampleInterval, n.sensors.Capacity())
	for {
		select {
		case <-ctx.Done():
			logf("stopping: %v", ctx.Err())
			return nil
		default:
		}
		n.Step(ctx)
		if n.cfg.IdleSleep > 0 {
			n.clock.Sleep(n.cfg.IdleSleep)
		}
	}
}

// Step runs one superloop iteration: poll the link, progress any pending
// batch, then sample if the timer has fired.
func (n *Node) Step(ctx context.Context) {
	n.ctx = ctx
	defer func() { n.ctx = context.Background() }()

	n.handleEvent(n.bridge.Poll())

	if n.pending != nil {
		n.trySend(ctx)
	} else {
		n.idle(ctx)
	}

	select {
	case <-n.ticker.C():
		n.sample()
	default:
	}
	n.publish()
}

func (n *Node) handleEvent(ev link.Event) {
	switch ev.Kind {
	case link.EventTimeSync:
		n.rtc.Set(ev.EpochMs)
		logf("clock set to %d ms", ev.EpochMs)
		n.persist(n.ctx, store.KeyLastTimeSync, ev.EpochMs)
	case link.EventPeerReady:
		logf("peer ready")
	case link.EventHeartbeat:
		logf("peer heartbeat")
	}
}

func (n *Node) sample() {
	n.sensors.Sample(n.rtc.Seconds())
	if n.pending != nil || !n.sensors.AlmostFull() {
		return
	}
	b := n.sensors.Drain(uint32(n.cfg.SampleInterval / time.Millisecond))
	for _, s := range sensor.Summarize(&b) {
		if s.Count > 0 {
			logf("drained %s", s)
		}
	}
	n.pending = &b
	n.pendingOrigin = store.OutcomeSent
	n.resume = 0
	n.wakeCount = 0
	n.bridge.Wakeup()
}

func (n *Node) trySend(ctx context.Context) {
	b := n.pending
	if n.resume == 0 {
		n.firstSeq = n.bridge.Sequence()
	}
	err := n.bridge.SendBatchFrom(b, n.cfg.Strategy, n.resume)
	n.persistSequence(ctx)

	var sendErr *link.SendError
	if errors.As(err, &sendErr) {
		n.resume = sendErr.Resume
	}

	switch {
	case err == nil:
		firstSeq := n.firstSeq
		n.wakeCount = 0
		n.pending = nil
		n.resume = 0
		n.replayDue = n.cfg.ReplayBacklog
		n.record(ctx, b, &firstSeq, n.pendingOrigin, "")
		n.mu.Lock()
		n.lastBatch = *b
		n.hasLast = true
		n.mu.Unlock()

	case errors.Is(err, link.ErrNotReady):
		n.wakeCount++
		if n.wakeCount >= n.cfg.WakeRetryIterations {
			n.wakeCount = 0
			n.bridge.Wakeup()
		}

	case errors.Is(err, frame.ErrCapacity):
		logf("dropping batch: %v", err)
		n.pending = nil
		n.resume = 0
		n.bridge.Stats().BatchesDropped.Add(1)
		n.record(ctx, b, nil, store.OutcomeDropped, err.Error())

	case errors.Is(err, link.ErrLinkTimeout) || n.cfg.Strategy == link.BoundedWait:
		logf("abandoning batch: %v", err)
		rest := undelivered(b, n.resume)
		n.pending = nil
		n.resume = 0
		n.replayDue = false
		n.bridge.Stats().BatchesDropped.Add(1)
		n.archive(ctx, &rest)
		n.record(ctx, b, nil, store.OutcomeAbandoned, err.Error())

	default:
		// Cooperative keeps the batch and resumes at the failed report next
		// iteration.
		logf("send failed, will retry: %v", err)
	}
}

// idle runs when no batch is pending: backlog replay, then heartbeat.
func (n *Node) idle(ctx context.Context) {
	if n.replayDue && n.store != nil {
		n.replay(ctx)
		if n.pending != nil {
			return
		}
	}
	if n.cfg.HeartbeatInterval <= 0 || !n.bridge.Ready() {
		return
	}
	if n.clock.Now().Sub(n.lastHeartbeat) < n.cfg.HeartbeatInterval {
		return
	}
	n.lastHeartbeat = n.clock.Now()
	if err := n.bridge.SendHeartbeat(); err != nil {
		logf("heartbeat: %v", err)
		return
	}
	n.persistSequence(ctx)
}

func (n *Node) replay(ctx context.Context) {
	data, err := n.store.Pop(ctx)
	if errors.Is(err, store.ErrEmpty) {
		n.replayDue = false
		return
	}
	if err != nil {
		logf("backlog pop: %v", err)
		n.replayDue = false
		return
	}
	b, err := report.UnmarshalBatch(data)
	if err != nil {
		logf("discarding unreadable backlog entry: %v", err)
		return
	}
	logf("replaying archived batch of %d samples", b.Count())
	n.pending = &b
	n.pendingOrigin = store.OutcomeReplayed
	n.resume = 0
	n.bridge.Wakeup()
}

// undelivered copies b with the reports before slot from emptied, leaving
// only what the radio has not received.
func undelivered(b *report.Batch, from int) report.Batch {
	rest := *b
	for i := 0; i < from && i < len(rest.Reports); i++ {
		rest.Reports[i].Count = 0
	}
	return rest
}

func (n *Node) archive(ctx context.Context, b *report.Batch) {
	if n.store == nil {
		return
	}
	data, err := report.MarshalBatch(b)
	if err != nil {
		logf("archive batch: %v", err)
		return
	}
	if err := n.store.Push(ctx, data); err != nil {
		logf("archive batch: %v", err)
	}
}

func (n *Node) record(ctx context.Context, b *report.Batch, firstSeq *uint64, outcome store.Outcome, detail string) {
	if n.store == nil {
		return
	}
	var start uint64
	var interval uint32
	for _, r := range b.Reports {
		if r.Count > 0 {
			start, interval = r.StartTimestampMs, r.SampleIntervalMs
			break
		}
	}
	rec := store.BatchRecord{
		StartMs:    start,
		IntervalMs: interval,
		Samples:    int(b.Count()),
		FirstSeq:   firstSeq,
		Outcome:    outcome,
		Detail:     detail,
	}
	if err := n.store.RecordBatch(ctx, rec); err != nil {
		logf("batch log: %v", err)
	}
}

func (n *Node) persistSequence(ctx context.Context) {
	seq := n.bridge.Sequence()
	if seq == n.persistedSeq {
		return
	}
	n.persistedSeq = seq
	n.persist(ctx, store.KeySequence, seq)
}

func (n *Node) persist(ctx context.Context, key store.Key, v uint64) {
	if n.store == nil {
		return
	}
	if err := n.store.SetUint64(ctx, key, v); err != nil {
		logf("persist %s: %v", key, err)
	}
}

func (n *Node) publish() {
	stats := n.bridge.Stats()
	failures, dropped := n.sensors.Stats()
	st := Status{
		State:          n.bridge.State().String(),
		Sequence:       n.bridge.Sequence(),
		Buffered:       n.sensors.Len(),
		Capacity:       n.sensors.Capacity(),
		Pending:        n.pending != nil,
		RTCMillis:      n.rtc.UnixMilli(),
		ReadFailures:   failures,
		SamplesDropped: dropped,
		BatchesSent:    stats.BatchesSent.Load(),
		BatchesLost:    stats.BatchesDropped.Load(),
	}
	n.mu.Lock()
	n.status = st
	n.mu.Unlock()
}

// Status returns the state published at the end of the last Step.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// LastBatch returns the most recently delivered batch.
func (n *Node) LastBatch() (report.Batch, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastBatch, n.hasLast
}
