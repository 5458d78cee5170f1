package session

import (
	"strconv"

	"github.com/srg/blelog/internal/device"
)

// DefaultPlaceholder fills a column whose characteristic has not produced a value yet.
const DefaultPlaceholder = "N/A"

// SampleSink persists log rows. Calls arrive from a single goroutine in sample arrival order.
type SampleSink interface {
	WriteHeader(headers []string) error
	WriteRow(values []string) error
	Close() error
}

// SinkFactory opens a sink for a connected peripheral when its first logging session starts.
type SinkFactory func(p device.Peripheral) (SampleSink, error)

// rowEmitter aligns live values to a header list frozen when logging started.
type rowEmitter struct {
	headers     []string
	placeholder string
}

func newRowEmitter(headers []string, placeholder string) *rowEmitter {
	return &rowEmitter{
		headers:     append([]string(nil), headers...),
		placeholder: placeholder,
	}
}

// Headers returns a copy of the frozen header list.
func (r *rowEmitter) Headers() []string {
	return append([]string(nil), r.headers...)
}

// Row renders one value per header, never omitting or reordering columns.
func (r *rowEmitter) Row(live map[string]float32) []string {
	row := make([]string, len(r.headers))
	for i, h := range r.headers {
		if v, ok := live[h]; ok {
			row[i] = FormatSample(v)
		} else {
			row[i] = r.placeholder
		}
	}
	return row
}

// FormatSample renders a sample with the fewest digits that round-trip a float32 (1.0 → "1").
func FormatSample(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}
