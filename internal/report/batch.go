package report

import (
	"errors"
	"fmt"

	"github.com/banshee-data/envnode/internal/frame"
)

// Channel order inside a Batch. Reports are always sent in this order.
const (
	ChanTemperature = iota
	ChanHumidity
	ChanIlluminance
	NumChannels
)

// ChannelTypes maps a batch slot to the data type its report carries.
var ChannelTypes = [NumChannels]DataType{Temperature, Humidity, Illuminance}

// Batch is the three-report bundle produced by one drain. It is a plain value;
// copying it copies every sample.
type Batch struct {
	Reports [NumChannels]Report
}

// Count returns the shared sample count. Drained batches are lock-step so the
// first report is representative.
func (b *Batch) Count() uint32 {
	return b.Reports[ChanTemperature].Count
}

// Empty reports whether no report carries samples.
func (b *Batch) Empty() bool {
	for i := range b.Reports {
		if b.Reports[i].Count > 0 {
			return false
		}
	}
	return true
}

// MaxBatchSize is the largest MarshalBatch output.
const MaxBatchSize = NumChannels * frame.PayloadMax

var ErrBatchTrailing = errors.New("trailing bytes after batch")

// MarshalBatch concatenates the three report payloads. The result is the
// archive form used for the backlog queue.
func MarshalBatch(b *Batch) ([]byte, error) {
	size := 0
	for i := range b.Reports {
		r := &b.Reports[i]
		if r.Count > frame.MaxSamples {
			return nil, fmt.Errorf("marshal batch %s report: count %d: %w", r.Type, r.Count, frame.ErrCapacity)
		}
		size += r.Size()
	}
	out := make([]byte, size)
	off := 0
	for i := range b.Reports {
		n, err := b.Reports[i].MarshalTo(out[off:])
		if err != nil {
			return nil, err
		}
		off += n
	}
	return out, nil
}

// UnmarshalBatch reverses MarshalBatch.
func UnmarshalBatch(data []byte) (Batch, error) {
	var b Batch
	off := 0
	for i := range b.Reports {
		r, n, err := Unmarshal(data[off:])
		if err != nil {
			return Batch{}, fmt.Errorf("unmarshal batch report %d: %w", i, err)
		}
		b.Reports[i] = r
		off += n
	}
	if off != len(data) {
		return Batch{}, fmt.Errorf("%w: %d", ErrBatchTrailing, len(data)-off)
	}
	return b, nil
}
