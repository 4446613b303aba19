package sensor

import (
	"math"
	"testing"

	"github.com/banshee-data/envnode/internal/report"
)

func TestSummarize(t *testing.T) {
	var b report.Batch
	for ch := range b.Reports {
		b.Reports[ch].Type = report.ChannelTypes[ch]
	}
	temp := &b.Reports[report.ChanTemperature]
	temp.Count = 4
	copy(temp.Data[:], []float32{2, 4, 4, 6})

	hum := &b.Reports[report.ChanHumidity]
	hum.Count = 1
	hum.Data[0] = 40

	got := Summarize(&b)

	ts := got[report.ChanTemperature]
	if ts.Count != 4 || ts.Mean != 4 || ts.Min != 2 || ts.Max != 6 {
		t.Errorf("temperature summary = %+v", ts)
	}
	if want := math.Sqrt(8.0 / 3.0); math.Abs(ts.StdDev-want) > 1e-9 {
		t.Errorf("temperature stddev = %v, want %v", ts.StdDev, want)
	}

	hs := got[report.ChanHumidity]
	if hs.Count != 1 || hs.Mean != 40 || hs.StdDev != 0 {
		t.Errorf("humidity summary = %+v", hs)
	}

	ls := got[report.ChanIlluminance]
	if ls.Count != 0 || ls.String() != "illuminance n=0" {
		t.Errorf("illuminance summary = %+v (%s)", ls, ls.String())
	}
}
