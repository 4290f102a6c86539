package alerting

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spy-nav-tracker/internal/series"
)

const (
	// DirectionDiscount means the price trades below NAV.
	DirectionDiscount = "discount"
	// DirectionPremium means the price trades above NAV.
	DirectionPremium = "premium"
	DirectionFlat    = "flat"
)

// Classify maps a difference (nav - price) onto a direction.
func Classify(difference decimal.Decimal) string {
	switch difference.Sign() {
	case 1:
		return DirectionDiscount
	case -1:
		return DirectionPremium
	default:
		return DirectionFlat
	}
}

// Policy decides when a sample warrants an alert. A direction that fired
// stays quiet until the cooldown has elapsed.
type Policy struct {
	threshold decimal.Decimal
	cooldown  time.Duration
	channels  []string

	mu   sync.Mutex
	last map[string]time.Time
}

// NewPolicy builds a policy. A zero threshold disables alerting.
func NewPolicy(threshold decimal.Decimal, cooldown time.Duration, channels []string) *Policy {
	return &Policy{
		threshold: threshold.Abs(),
		cooldown:  cooldown,
		channels:  channels,
		last:      make(map[string]time.Time),
	}
}

// Threshold returns the absolute difference that triggers an alert.
func (p *Policy) Threshold() decimal.Decimal { return p.threshold }

// Evaluate returns a notification when |difference| exceeds the threshold and the
// direction is out of cooldown. Mock samples never alert. A returned notification
// starts the cooldown for its direction.
func (p *Policy) Evaluate(s series.Sample) (Notification, bool) {
	if p == nil || p.threshold.IsZero() || s.IsMock() {
		return Notification{}, false
	}
	diff := s.Difference()
	if !diff.Abs().GreaterThan(p.threshold) {
		return Notification{}, false
	}

	direction := Classify(diff)
	at := s.Timestamp()

	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.last[direction]; ok && p.cooldown > 0 && at.Sub(prev) < p.cooldown {
		return Notification{}, false
	}
	p.last[direction] = at

	return Notification{
		SampleTS:   at,
		NAV:        s.NAV(),
		Price:      s.Price(),
		Difference: diff,
		Threshold:  p.threshold,
		Direction:  direction,
		Channels:   p.channels,
	}, true
}
