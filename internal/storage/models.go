package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"spy-nav-tracker/internal/series"
)

// SampleRecord is a persisted NAV/price observation.
type SampleRecord struct {
	CapturedAt time.Time
	NAV        decimal.Decimal
	Price      decimal.Decimal
	Difference decimal.Decimal
	Source     string
	CreatedAt  time.Time
}

// FailureRecord is a persisted failed collection cycle.
type FailureRecord struct {
	ID         int64
	OccurredAt time.Time
	Legs       []string
	Message    string
	Suppressed bool
	CreatedAt  time.Time
}

// AlertRecord captures an emitted alert for de-duplication/auditing.
type AlertRecord struct {
	ID         int64
	SampleTS   time.Time
	Difference decimal.Decimal
	Threshold  decimal.Decimal
	Direction  string
	Channels   []string
	CreatedAt  time.Time
}

// RecordFromSample maps a window sample onto its persisted form.
func RecordFromSample(s series.Sample) SampleRecord {
	return SampleRecord{
		CapturedAt: s.Timestamp(),
		NAV:        s.NAV(),
		Price:      s.Price(),
		Difference: s.Difference(),
		Source:     string(s.Source()),
	}
}

// Sample rebuilds the series sample. Difference is re-derived rather than trusted.
func (r SampleRecord) Sample() series.Sample {
	return series.Restore(r.CapturedAt, r.NAV, r.Price, series.Source(r.Source))
}

// SamplesFromRecords converts records preserving order.
func SamplesFromRecords(records []SampleRecord) []series.Sample {
	out := make([]series.Sample, 0, len(records))
	for _, r := range records {
		out = append(out, r.Sample())
	}
	return out
}
