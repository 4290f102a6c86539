package series

import (
	"time"

	"github.com/shopspring/decimal"
)

// mockQuotes is the synthetic NAV/price table served in mock mode.
var mockQuotes = [Capacity][2]string{
	{"500.12", "499.87"},
	{"500.18", "499.95"},
	{"500.25", "500.31"},
	{"500.31", "500.02"},
	{"500.27", "500.40"},
	{"500.40", "500.11"},
	{"500.46", "500.46"},
	{"500.52", "500.19"},
	{"500.49", "500.73"},
	{"500.58", "500.27"},
	{"500.63", "500.60"},
	{"500.71", "500.35"},
	{"500.66", "500.91"},
	{"500.74", "500.48"},
	{"500.81", "500.57"},
	{"500.88", "501.02"},
	{"500.93", "500.66"},
	{"501.01", "500.79"},
	{"500.97", "501.15"},
	{"501.06", "500.84"},
}

// MockSequence returns the fixed synthetic series ending at end, one sample per step.
func MockSequence(end time.Time, step time.Duration) []Sample {
	if step <= 0 {
		step = time.Second
	}

	out := make([]Sample, 0, len(mockQuotes))
	start := end.Add(-time.Duration(len(mockQuotes)-1) * step)
	for i, q := range mockQuotes {
		ts := start.Add(time.Duration(i) * step)
		out = append(out, newMockSample(ts, decimal.RequireFromString(q[0]), decimal.RequireFromString(q[1])))
	}
	return out
}
