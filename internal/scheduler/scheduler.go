package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// OverlapSkip drops a tick while the previous cycle is still running.
	OverlapSkip = "skip"
	// OverlapQueue remembers at most one tick and runs it once the running cycle ends.
	OverlapQueue = "queue"
)

// ErrStopped is returned by Trigger after Stop.
var ErrStopped = errors.New("scheduler: stopped")

// Reason tells why a tick fired.
type Reason string

const (
	ReasonStart    Reason = "start"
	ReasonInterval Reason = "interval"
	ReasonManual   Reason = "manual"
	ReasonQueued   Reason = "queued"
)

type reasonKey struct{}

// ReasonFrom returns the tick reason stored in ctx.
func ReasonFrom(ctx context.Context) Reason {
	if r, ok := ctx.Value(reasonKey{}).(Reason); ok {
		return r
	}
	return ReasonInterval
}

// TickFunc is invoked on every interval, on start and on manual triggers.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	Overlap      string
}

// Scheduler drives periodic execution of sampling cycles.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Overlap == "" {
		opts.Overlap = OverlapSkip
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Handle controls a started scheduler.
type Handle struct {
	cancel   context.CancelFunc
	trigger  chan struct{}
	loopDone chan struct{}
	cycles   sync.WaitGroup
	stopOnce sync.Once

	busy    atomic.Bool
	pending atomic.Bool
	stopped atomic.Bool
	skipped atomic.Uint64
}

// Trigger requests an immediate cycle. Requests arriving while one is already
// waiting are coalesced.
func (h *Handle) Trigger() error {
	if h.stopped.Load() {
		return ErrStopped
	}
	select {
	case <-h.loopDone:
		return ErrStopped
	default:
	}
	select {
	case h.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Stop prevents any further tick. A cycle already running is not interrupted;
// use Wait to let it finish.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		h.cancel()
	})
	<-h.loopDone
}

// Wait blocks until in-flight cycles return or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.cycles.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Busy reports whether a cycle is running.
func (h *Handle) Busy() bool { return h.busy.Load() }

// Skipped counts ticks dropped because a cycle was still running.
func (h *Handle) Skipped() uint64 { return h.skipped.Load() }

// Start fires tick once immediately (after StartupDelay) and then every Interval
// until Stop is called or ctx ends. Cycles never overlap.
func (s *Scheduler) Start(ctx context.Context, tick TickFunc) *Handle {
	loopCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel:   cancel,
		trigger:  make(chan struct{}, 1),
		loopDone: make(chan struct{}),
	}
	go s.loop(loopCtx, h, tick)
	return h
}

func (s *Scheduler) loop(ctx context.Context, h *Handle, tick TickFunc) {
	defer close(h.loopDone)
	// in-flight cycles outlive Stop; the per-attempt timeouts bound them
	cycleCtx := context.WithoutCancel(ctx)

	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	s.dispatch(cycleCtx, h, tick, s.bucketStart(time.Now().UTC()), ReasonStart)

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-h.trigger:
			timer.Stop()
			s.dispatch(cycleCtx, h, tick, time.Now().UTC(), ReasonManual)
			continue
		case <-timer.C:
		}

		s.dispatch(cycleCtx, h, tick, s.bucketStart(next), ReasonInterval)
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, h *Handle, tick TickFunc, bucket time.Time, reason Reason) {
	if !h.busy.CompareAndSwap(false, true) {
		if s.opts.Overlap == OverlapQueue {
			h.pending.Store(true)
			s.logger.Debug().Time("bucket", bucket).Str("reason", string(reason)).Msg("cycle in flight, tick queued")
			return
		}
		h.skipped.Add(1)
		s.logger.Warn().Time("bucket", bucket).Str("reason", string(reason)).Msg("cycle in flight, tick skipped")
		return
	}

	h.cycles.Add(1)
	go func() {
		defer h.cycles.Done()
		for {
			s.execute(ctx, h, tick, bucket, reason)

			if h.stopped.Load() {
				h.pending.Store(false)
				h.busy.Store(false)
				return
			}
			if h.pending.CompareAndSwap(true, false) {
				bucket, reason = time.Now().UTC(), ReasonQueued
				continue
			}

			h.busy.Store(false)
			// a tick may have been queued between the check above and the release
			if !h.pending.Load() || !h.busy.CompareAndSwap(false, true) {
				return
			}
			h.pending.Store(false)
			bucket, reason = time.Now().UTC(), ReasonQueued
		}
	}()
}

func (s *Scheduler) execute(ctx context.Context, h *Handle, tick TickFunc, bucket time.Time, reason Reason) {
	if h.stopped.Load() {
		return
	}

	s.logger.Debug().Time("bucket", bucket).Str("reason", string(reason)).Msg("executing scheduled tick")
	if err := tick(context.WithValue(ctx, reasonKey{}, reason), bucket); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
