package sensor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Fixed is a Reader that always returns the same value.
type Fixed float32

func (f Fixed) Read() (float32, error) { return float32(f), nil }

// FileReader reads a single number from a text file, the way Linux hwmon
// and IIO drivers expose readings (temp1_input in millidegrees,
// in_illuminance_raw, humidity1_input). The value is returned as
// raw*Scale + Offset; a zero Scale means 1.
type FileReader struct {
	Path   string
	Scale  float64
	Offset float64
}

func (f FileReader) Read() (float32, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, fmt.Errorf("read sensor %s: %w", f.Path, err)
	}
	raw, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse sensor %s: %w", f.Path, err)
	}
	scale := f.Scale
	if scale == 0 {
		scale = 1
	}
	return float32(raw*scale + f.Offset), nil
}
