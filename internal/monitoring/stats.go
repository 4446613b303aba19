package monitoring

import "sync/atomic"

// LinkStats counts link-level activity. All fields are safe to read from other
// goroutines (admin routes) while the superloop updates them.
type LinkStats struct {
	FramesSent      atomic.Uint64
	BytesSent       atomic.Uint64
	WakePulses      atomic.Uint64
	Handshakes      atomic.Uint64
	TimeSyncs       atomic.Uint64
	Heartbeats      atomic.Uint64
	DecodeErrors    atomic.Uint64
	Overruns        atomic.Uint64
	RxOverflowBytes atomic.Uint64
	LinkTimeouts    atomic.Uint64
	BatchesSent     atomic.Uint64
	BatchesDropped  atomic.Uint64
}

// Snapshot is a plain copy of LinkStats suitable for logging or JSON output.
type Snapshot struct {
	FramesSent      uint64 `json:"frames_sent"`
	BytesSent       uint64 `json:"bytes_sent"`
	WakePulses      uint64 `json:"wake_pulses"`
	Handshakes      uint64 `json:"handshakes"`
	TimeSyncs       uint64 `json:"time_syncs"`
	Heartbeats      uint64 `json:"heartbeats"`
	DecodeErrors    uint64 `json:"decode_errors"`
	Overruns        uint64 `json:"overruns"`
	RxOverflowBytes uint64 `json:"rx_overflow_bytes"`
	LinkTimeouts    uint64 `json:"link_timeouts"`
	BatchesSent     uint64 `json:"batches_sent"`
	BatchesDropped  uint64 `json:"batches_dropped"`
}

// Snapshot copies the current counter values.
func (s *LinkStats) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		FramesSent:      s.FramesSent.Load(),
		BytesSent:       s.BytesSent.Load(),
		WakePulses:      s.WakePulses.Load(),
		Handshakes:      s.Handshakes.Load(),
		TimeSyncs:       s.TimeSyncs.Load(),
		Heartbeats:      s.Heartbeats.Load(),
		DecodeErrors:    s.DecodeErrors.Load(),
		Overruns:        s.Overruns.Load(),
		RxOverflowBytes: s.RxOverflowBytes.Load(),
		LinkTimeouts:    s.LinkTimeouts.Load(),
		BatchesSent:     s.BatchesSent.Load(),
		BatchesDropped:  s.BatchesDropped.Load(),
	}
}
