package admin

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/envnode/internal/report"
	"github.com/banshee-data/envnode/internal/sensor"
)

var channelColors = [report.NumChannels]color.RGBA{
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
}

// sampleOffsets returns the seconds since batch start of each sample.
func sampleOffsets(r *report.Report) []float64 {
	out := make([]float64, r.Count)
	for i := range out {
		out[i] = float64(i) * float64(r.SampleIntervalMs) / 1000
	}
	return out
}

func batchTitle(b *report.Batch) string {
	r := &b.Reports[report.ChanTemperature]
	start := time.UnixMilli(int64(r.StartTimestampMs)).UTC().Format(time.RFC3339)
	return fmt.Sprintf("start=%s samples=%d interval=%dms", start, r.Count, r.SampleIntervalMs)
}

func (h *handlers) lastBatchChart(w http.ResponseWriter, r *http.Request) {
	b, ok := h.opts.Node.LastBatch()
	if !ok {
		http.Error(w, "No batch delivered yet", http.StatusNotFound)
		return
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Last batch", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: "Last delivered batch", Subtitle: batchTitle(&b)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
	)

	x := sampleOffsets(&b.Reports[report.ChanTemperature])
	labels := make([]string, len(x))
	for i, v := range x {
		labels[i] = fmt.Sprintf("%g", v)
	}
	line.SetXAxis(labels)

	summaries := sensor.Summarize(&b)
	for ch := range b.Reports {
		rep := &b.Reports[ch]
		if rep.Count == 0 {
			continue
		}
		data := make([]opts.LineData, 0, rep.Count)
		for _, v := range rep.Samples() {
			data = append(data, opts.LineData{Value: v})
		}
		line.AddSeries(summaries[ch].String(), data)
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (h *handlers) lastBatchPlot(w http.ResponseWriter, r *http.Request) {
	b, ok := h.opts.Node.LastBatch()
	if !ok {
		http.Error(w, "No batch delivered yet", http.StatusNotFound)
		return
	}

	p, err := plotBatch(&b)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to plot batch: %v", err), http.StatusInternalServerError)
		return
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to render plot: %v", err), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render plot: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// plotBatch draws one line per non-empty channel against seconds since the
// batch start.
func plotBatch(b *report.Batch) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Last batch: " + batchTitle(b)
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "Reading"

	for ch := range b.Reports {
		rep := &b.Reports[ch]
		if rep.Count == 0 {
			continue
		}
		x := sampleOffsets(rep)
		pts := make(plotter.XYs, rep.Count)
		for i, v := range rep.Samples() {
			pts[i] = plotter.XY{X: x[i], Y: float64(v)}
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		l.Color = channelColors[ch]
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add(rep.Type.String(), l)
	}
	return p, nil
}
