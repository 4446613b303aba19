// Package sensor accumulates readings from the node's three environmental
// sensors into lock-step buffers and hands them out as report batches.
package sensor

import (
	"errors"
	"fmt"

	"github.com/banshee-data/envnode/internal/frame"
	"github.com/banshee-data/envnode/internal/monitoring"
	"github.com/banshee-data/envnode/internal/report"
)

var logf = monitoring.Prefixed("sensor")

// Reader returns one physical reading per call.
type Reader interface {
	Read() (float32, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func() (float32, error)

func (f ReaderFunc) Read() (float32, error) { return f() }

// Sensors groups the collaborators sampled on every tick. A nil Reader is
// treated as a failed read.
type Sensors struct {
	Temperature Reader
	Humidity    Reader
	Illuminance Reader
}

func (s Sensors) byChannel() [report.NumChannels]Reader {
	return [report.NumChannels]Reader{s.Temperature, s.Humidity, s.Illuminance}
}

// ErrCapacityRange is returned by NewManager for a capacity outside
// 1..frame.MaxSamples.
var ErrCapacityRange = errors.New("sensor capacity out of range")

// Manager owns the three channel buffers. They always hold the same number of
// samples: Sample appends to all of them or to none, and Drain empties all of
// them. Not safe for concurrent use; the superloop is the only caller.
type Manager struct {
	readers  [report.NumChannels]Reader
	capacity int

	n       int
	startMs uint64
	bufs    [report.NumChannels][frame.MaxSamples]float32

	readFailures uint64
	dropped      uint64
}

// NewManager returns a Manager holding up to capacity samples per channel.
// A capacity of 0 selects frame.MaxSamples.
func NewManager(sensors Sensors, capacity int) (*Manager, error) {
	if capacity == 0 {
		capacity = frame.MaxSamples
	}
	if capacity < 1 || capacity > frame.MaxSamples {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrCapacityRange, capacity, frame.MaxSamples)
	}
	return &Manager{readers: sensors.byChannel(), capacity: capacity}, nil
}

// Capacity returns the per-channel sample limit.
func (m *Manager) Capacity() int { return m.capacity }

// Len returns the number of samples held in each channel.
func (m *Manager) Len() int { return m.n }

// AlmostFull reports whether the buffers have reached three quarters of
// capacity, the point at which a batch should be drained.
func (m *Manager) AlmostFull() bool {
	threshold := m.capacity * 3 / 4
	if threshold < 1 {
		threshold = 1
	}
	return m.n >= threshold
}

// Full reports whether another Sample would be dropped.
func (m *Manager) Full() bool { return m.n >= m.capacity }

// Sample reads every sensor once and appends the readings. The first sample
// after a drain fixes the batch start time at clockSeconds*1000. Once full,
// samples are dropped until the next Drain; Sample reports whether it
// appended.
func (m *Manager) Sample(clockSeconds uint32) bool {
	if m.Full() {
		m.dropped++
		return false
	}
	if m.n == 0 {
		m.startMs = uint64(clockSeconds) * 1000
	}
	for ch, r := range m.readers {
		m.bufs[ch][m.n] = m.read(ch, r)
	}
	m.n++
	return true
}

func (m *Manager) read(ch int, r Reader) float32 {
	if r == nil {
		return 0
	}
	v, err := r.Read()
	if err != nil {
		m.readFailures++
		logf("%s read failed: %v", report.ChannelTypes[ch], err)
		return 0
	}
	return v
}

// Drain copies the buffered samples into a batch of three reports stamped
// with the recorded start time and intervalMs, then empties the buffers.
func (m *Manager) Drain(intervalMs uint32) report.Batch {
	var b report.Batch
	for ch := range b.Reports {
		r := &b.Reports[ch]
		r.StartTimestampMs = m.startMs
		r.SampleIntervalMs = intervalMs
		r.Type = report.ChannelTypes[ch]
		r.Count = uint32(m.n)
		copy(r.Data[:m.n], m.bufs[ch][:m.n])
	}
	m.n = 0
	m.startMs = 0
	return b
}

// Stats returns the number of failed sensor reads and dropped samples since
// the Manager was created.
func (m *Manager) Stats() (readFailures, dropped uint64) {
	return m.readFailures, m.dropped
}
