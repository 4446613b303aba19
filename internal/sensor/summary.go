package sensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/envnode/internal/frame"
	"github.com/banshee-data/envnode/internal/report"
)

// Summary describes one channel of a drained batch.
type Summary struct {
	Type   report.DataType
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

func (s Summary) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("%s n=0", s.Type)
	}
	return fmt.Sprintf("%s n=%d mean=%.2f sd=%.2f min=%.2f max=%.2f",
		s.Type, s.Count, s.Mean, s.StdDev, s.Min, s.Max)
}

// Summarize computes per-channel statistics for b.
func Summarize(b *report.Batch) [report.NumChannels]Summary {
	var out [report.NumChannels]Summary
	var xs [frame.MaxSamples]float64
	for ch := range b.Reports {
		r := &b.Reports[ch]
		samples := r.Samples()
		s := Summary{Type: r.Type, Count: len(samples)}
		if len(samples) > 0 {
			v := xs[:len(samples)]
			for i, x := range samples {
				v[i] = float64(x)
			}
			s.Mean, s.StdDev = stat.MeanStdDev(v, nil)
			if len(v) == 1 {
				s.StdDev = 0
			}
			s.Min = floats.Min(v)
			s.Max = floats.Max(v)
		}
		out[ch] = s
	}
	return out
}
