package timeutil

import (
	"sync"
	"time"
)

// RTC is the node's wall clock. It counts from the moment it was created (or
// last set) using the underlying Clock, the way a battery-backed RTC counts
// from zero until a time-sync arrives.
type RTC struct {
	mu    sync.Mutex
	clock Clock
	base  time.Time // clock reading at the last Set
	epoch uint64    // epoch milliseconds at the last Set
}

// NewRTC returns an RTC reading zero seconds now.
func NewRTC(clock Clock) *RTC {
	if clock == nil {
		clock = RealClock{}
	}
	return &RTC{clock: clock, base: clock.Now()}
}

// Set moves the RTC to the given epoch milliseconds.
func (r *RTC) Set(epochMs uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.base = r.clock.Now()
	r.epoch = epochMs
}

// UnixMilli returns the current RTC reading in epoch milliseconds.
func (r *RTC) UnixMilli() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := r.clock.Now().Sub(r.base)
	if elapsed < 0 {
		elapsed = 0
	}
	return r.epoch + uint64(elapsed/time.Millisecond)
}

// Seconds returns the RTC reading truncated to whole seconds, which is the
// resolution the sampler timestamps batches with.
func (r *RTC) Seconds() uint32 {
	return uint32(r.UnixMilli() / 1000)
}
