package series

import (
	"errors"
	"sync"
)

// Capacity is the maximum number of samples kept in a Window.
const Capacity = 20

// ErrOutOfOrder is returned when a sample is older than the current tail.
var ErrOutOfOrder = errors.New("series: sample timestamp precedes window tail")

// Window is a bounded, insertion-ordered sequence of the most recent samples.
// It is safe for concurrent use; writers are serialised by an internal mutex.
type Window struct {
	mu      sync.RWMutex
	samples []Sample
}

// NewWindow returns an empty window.
func NewWindow() *Window {
	return &Window{samples: make([]Sample, 0, Capacity)}
}

// Append inserts s at the tail and evicts from the head once Capacity is exceeded.
// Equal timestamps are accepted; older ones are rejected with ErrOutOfOrder.
func (w *Window) Append(s Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.samples); n > 0 && s.Timestamp().Before(w.samples[n-1].Timestamp()) {
		return ErrOutOfOrder
	}

	w.samples = append(w.samples, s)
	if over := len(w.samples) - Capacity; over > 0 {
		// shift in place so the backing array never grows past Capacity+1
		copy(w.samples, w.samples[over:])
		w.samples = w.samples[:Capacity]
	}
	return nil
}

// Replace swaps the whole content, keeping only the last Capacity samples.
func (w *Window) Replace(samples []Sample) {
	if len(samples) > Capacity {
		samples = samples[len(samples)-Capacity:]
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(make([]Sample, 0, Capacity), samples...)
}

// Snapshot returns a copy of the current content, oldest first.
func (w *Window) Snapshot() []Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Len returns the number of stored samples.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.samples)
}

// Latest returns the newest sample, if any.
func (w *Window) Latest() (Sample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.samples) == 0 {
		return Sample{}, false
	}
	return w.samples[len(w.samples)-1], true
}
