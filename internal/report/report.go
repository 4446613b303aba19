// Package report defines the metric report carried in a metrics-report frame
// and the three-channel batch a drain produces.
package report

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/envnode/internal/frame"
)

// DataType tags the physical quantity a report carries.
type DataType uint8

const (
	Temperature DataType = 0x01
	Humidity    DataType = 0x02
	Particulate DataType = 0x03
	Illuminance DataType = 0x04
)

func (d DataType) String() string {
	switch d {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	case Particulate:
		return "particulate"
	case Illuminance:
		return "illuminance"
	default:
		return fmt.Sprintf("datatype(%#04x)", uint8(d))
	}
}

var (
	ErrShortPayload = errors.New("report payload too short")
	ErrCountRange   = errors.New("report sample count out of range")
)

// Report is one channel's samples over a batch window. Data is a fixed array;
// only the first Count entries are meaningful.
type Report struct {
	StartTimestampMs uint64
	SampleIntervalMs uint32
	Type             DataType
	Count            uint32
	Data             [frame.MaxSamples]float32
}

// Samples returns the valid prefix of Data.
func (r *Report) Samples() []float32 {
	n := r.Count
	if n > frame.MaxSamples {
		n = frame.MaxSamples
	}
	return r.Data[:n]
}

// Size returns the encoded payload size: ReportHeaderSize + 4*Count.
func (r *Report) Size() int {
	return frame.ReportHeaderSize + 4*int(r.Count)
}

// MarshalTo writes the report into b as
//
//	ts u64 | interval u32 | type u8 | count u32 | count x f32
//
// all little-endian, and returns the bytes written.
func (r *Report) MarshalTo(b []byte) (int, error) {
	if r.Count > frame.MaxSamples {
		return 0, fmt.Errorf("marshal %s report: count %d: %w", r.Type, r.Count, frame.ErrCapacity)
	}
	n := r.Size()
	if len(b) < n {
		return 0, fmt.Errorf("marshal %s report: need %d bytes, have %d: %w", r.Type, n, len(b), frame.ErrCapacity)
	}
	binary.LittleEndian.PutUint64(b[0:8], r.StartTimestampMs)
	binary.LittleEndian.PutUint32(b[8:12], r.SampleIntervalMs)
	b[12] = byte(r.Type)
	binary.LittleEndian.PutUint32(b[13:17], r.Count)
	off := frame.ReportHeaderSize
	for _, v := range r.Data[:r.Count] {
		binary.LittleEndian.PutUint32(b[off:off+4], math.Float32bits(v))
		off += 4
	}
	return n, nil
}

// Unmarshal parses one report from the front of b and returns it with the
// number of bytes consumed.
func Unmarshal(b []byte) (Report, int, error) {
	var r Report
	if len(b) < frame.ReportHeaderSize {
		return r, 0, ErrShortPayload
	}
	r.StartTimestampMs = binary.LittleEndian.Uint64(b[0:8])
	r.SampleIntervalMs = binary.LittleEndian.Uint32(b[8:12])
	r.Type = DataType(b[12])
	r.Count = binary.LittleEndian.Uint32(b[13:17])
	if r.Count > frame.MaxSamples {
		return r, 0, fmt.Errorf("%w: %d", ErrCountRange, r.Count)
	}
	n := r.Size()
	if len(b) < n {
		return r, 0, ErrShortPayload
	}
	off := frame.ReportHeaderSize
	for i := uint32(0); i < r.Count; i++ {
		r.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
	}
	return r, n, nil
}
