package series

import (
	"time"

	"github.com/shopspring/decimal"
)

// DifferencePlaces is the number of decimal places kept on the derived difference.
const DifferencePlaces = 2

// Source tells where a sample came from.
type Source string

const (
	SourceLive Source = "live"
	SourceMock Source = "mock"
)

// Sample is one point of the NAV/price series. The zero value is not a valid sample;
// use NewSample so Difference always matches NAV and Price.
type Sample struct {
	timestamp  time.Time
	nav        decimal.Decimal
	price      decimal.Decimal
	difference decimal.Decimal
	source     Source
}

// NewSample builds an immutable sample and derives its difference.
func NewSample(ts time.Time, nav, price decimal.Decimal) Sample {
	return Sample{
		timestamp:  ts,
		nav:        nav,
		price:      price,
		difference: Difference(nav, price),
		source:     SourceLive,
	}
}

func newMockSample(ts time.Time, nav, price decimal.Decimal) Sample {
	return Restore(ts, nav, price, SourceMock)
}

// Restore rebuilds a sample read back from storage. Unknown sources are treated as live.
func Restore(ts time.Time, nav, price decimal.Decimal, source Source) Sample {
	s := NewSample(ts, nav, price)
	if source == SourceMock {
		s.source = SourceMock
	}
	return s
}

// Difference returns nav - price rounded half away from zero to two places.
func Difference(nav, price decimal.Decimal) decimal.Decimal {
	return nav.Sub(price).Round(DifferencePlaces)
}

// Timestamp is the capture time.
func (s Sample) Timestamp() time.Time { return s.timestamp }

// NAV is the fund's net asset value.
func (s Sample) NAV() decimal.Decimal { return s.nav }

// Price is the tracked instrument's market price.
func (s Sample) Price() decimal.Decimal { return s.price }

// Difference is NAV minus Price, rounded to DifferencePlaces.
func (s Sample) Difference() decimal.Decimal { return s.difference }

// Source reports whether the sample is live or synthetic.
func (s Sample) Source() Source { return s.source }

// IsMock reports whether the sample came from the synthetic sequence.
func (s Sample) IsMock() bool { return s.source == SourceMock }
