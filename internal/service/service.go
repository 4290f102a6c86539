package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"spy-nav-tracker/internal/alerting"
	"spy-nav-tracker/internal/collector"
	"spy-nav-tracker/internal/metrics"
	"spy-nav-tracker/internal/scheduler"
	"spy-nav-tracker/internal/series"
	"spy-nav-tracker/internal/session"
	"spy-nav-tracker/internal/storage"
)

var (
	// ErrMockActive is returned by Retry once mock data has been enabled.
	ErrMockActive = errors.New("service: mock data active")
	// ErrNotRunning is returned by Retry before Start or after Stop.
	ErrNotRunning = errors.New("service: not running")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("service: already started")
)

var allStatuses = []string{
	string(session.StatusIdle),
	string(session.StatusLoading),
	string(session.StatusReady),
	string(session.StatusError),
	string(session.StatusMock),
}

// Deps groups the collaborators of a Service. Only Collector is required.
type Deps struct {
	Collector collector.SampleCollector
	Samples   storage.SampleStore
	Failures  storage.FailureStore
	Alerts    storage.AlertStore
	Locker    storage.AdvisoryLocker
	Notifier  alerting.Notifier
	Policy    *alerting.Policy
	Metrics   *metrics.Recorder
}

// Options tunes the service.
type Options struct {
	Scheduler scheduler.Options
	LockKey   int64
	Now       func() time.Time
}

// Service orchestrates sampling cycles, the session state and their side effects.
// RunCycle is the only place the session is mutated by a cycle.
type Service struct {
	collector collector.SampleCollector
	state     *session.State
	sched     *scheduler.Scheduler

	samples  storage.SampleStore
	failures storage.FailureStore
	alerts   storage.AlertStore
	locker   storage.AdvisoryLocker
	lockKey  int64

	notifier alerting.Notifier
	policy   *alerting.Policy
	metrics  *metrics.Recorder
	tracer   trace.Tracer
	logger   zerolog.Logger

	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	handle      *scheduler.Handle
	lastSkipped uint64
}

// New constructs the sampling service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	if deps.Collector == nil {
		panic("service: collector is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Service{
		collector: deps.Collector,
		state:     session.New(),
		sched:     scheduler.New(opts.Scheduler, logger),
		samples:   deps.Samples,
		failures:  deps.Failures,
		alerts:    deps.Alerts,
		locker:    deps.Locker,
		lockKey:   opts.LockKey,
		notifier:  deps.Notifier,
		policy:    deps.Policy,
		metrics:   deps.Metrics,
		tracer:    otel.Tracer("spy-nav-tracker/internal/service"),
		logger:    logger.With().Str("component", "service").Logger(),
		interval:  opts.Scheduler.Interval,
		now:       opts.Now,
	}
	s.metrics.SetStatus(string(session.StatusIdle), allStatuses)
	return s
}

// Start begins polling in the background. The first cycle runs immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return ErrAlreadyStarted
	}
	if s.state.Closed() {
		return ErrNotRunning
	}
	s.handle = s.sched.Start(ctx, s.RunCycle)
	s.logger.Info().Dur("interval", s.interval).Msg("sampling started")
	return nil
}

// Stop halts polling. Cycles still in flight finish on their own but their
// results are dropped. Safe to call more than once.
func (s *Service) Stop() {
	s.state.Close()

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h != nil {
		h.Stop()
		s.syncSkipped(h)
	}
	s.logger.Info().Msg("sampling stopped")
}

// Wait blocks until cycles that were in flight at Stop have returned.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Wait(ctx)
}

// Run starts polling and blocks until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Retry forces an immediate cycle. It is coalesced with a cycle already in flight.
func (s *Service) Retry() error {
	if s.state.UsingMockData() {
		return ErrMockActive
	}

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil || s.state.Closed() {
		return ErrNotRunning
	}
	if err := h.Trigger(); err != nil {
		return ErrNotRunning
	}
	s.logger.Info().Msg("manual retry requested")
	return nil
}

// EnableMockData switches to the synthetic series for the rest of the run.
// It reports false when mock data was already active or the service is stopped.
func (s *Service) EnableMockData() bool {
	samples := series.MockSequence(s.now(), s.interval)
	if !s.state.EnableMock(samples) {
		return false
	}
	s.logger.Info().Int("samples", len(samples)).Msg("mock data enabled, live polling suspended")
	s.publishMetrics()
	return true
}

// Busy reports whether a cycle is in flight.
func (s *Service) Busy() bool {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	return h != nil && h.Busy()
}

// View returns the current snapshot for renderers.
func (s *Service) View() session.View { return s.state.View() }

// Subscribe streams a view after each transition. See session.State.Subscribe.
func (s *Service) Subscribe() (<-chan session.View, func()) { return s.state.Subscribe() }

// RunCycle performs one sampling cycle and applies its result.
func (s *Service) RunCycle(ctx context.Context, bucket time.Time) error {
	if s.state.UsingMockData() {
		s.logger.Debug().Time("bucket", bucket).Msg("mock data active, skipping fetch")
		return nil
	}

	cycle, ok := s.state.Begin()
	if !ok {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "service.cycle", trace.WithAttributes(
		attribute.Int64("cycle", int64(cycle)),
		attribute.String("reason", string(scheduler.ReasonFrom(ctx))),
	))
	defer span.End()

	s.publishMetrics()
	started := time.Now()
	sample, collectErr := s.collector.Collect(ctx)

	var outcome string
	if collectErr != nil {
		outcome = s.applyFailure(ctx, cycle, collectErr)
		span.RecordError(collectErr)
		span.SetStatus(codes.Error, "collection failed")
	} else {
		outcome = s.applySample(ctx, cycle, sample)
		span.SetStatus(codes.Ok, "sample collected")
	}
	span.SetAttributes(attribute.String("outcome", outcome))

	s.metrics.ObserveCycle(outcome, time.Since(started))
	s.publishMetrics()
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h != nil {
		s.syncSkipped(h)
	}
	return nil
}

func (s *Service) applySample(ctx context.Context, cycle session.Cycle, sample series.Sample) string {
	outcome, err := s.state.Succeed(cycle, sample)
	if err != nil {
		s.logger.Warn().Err(err).Uint64("cycle", uint64(cycle)).Msg("sample rejected by window")
		return "discarded"
	}
	if outcome == session.Discarded {
		s.logger.Debug().Uint64("cycle", uint64(cycle)).Msg("dropping sample from superseded or stopped cycle")
		return "discarded"
	}

	s.logger.Info().
		Time("ts", sample.Timestamp()).
		Str("nav", sample.NAV().String()).
		Str("price", sample.Price().String()).
		Str("difference", sample.Difference().StringFixed(series.DifferencePlaces)).
		Msg("sample recorded")

	s.withLock(ctx, func() {
		if s.samples != nil {
			if err := s.samples.UpsertSample(ctx, storage.RecordFromSample(sample)); err != nil {
				s.logger.Error().Err(err).Time("ts", sample.Timestamp()).Msg("failed to upsert sample")
			}
		}
		s.maybeAlert(ctx, sample)
	})
	return "ok"
}

func (s *Service) applyFailure(ctx context.Context, cycle session.Cycle, err error) string {
	message := collector.UserMessage(err)
	outcome := s.state.Fail(cycle, err, message)

	switch outcome {
	case session.Discarded:
		s.logger.Debug().Err(err).Uint64("cycle", uint64(cycle)).Msg("dropping failure from superseded or stopped cycle")
		return "discarded"
	case session.Suppressed:
		s.logger.Warn().Err(err).Str("message", message).Msg("collection failed, keeping previous samples")
	default:
		s.logger.Error().Err(err).Str("message", message).Msg("collection failed")
	}

	if s.failures != nil {
		record := storage.FailureRecord{
			OccurredAt: s.now().UTC(),
			Legs:       failedLegs(err),
			Message:    message,
			Suppressed: outcome == session.Suppressed,
		}
		s.withLock(ctx, func() {
			if _, err := s.failures.InsertFailure(ctx, record); err != nil {
				s.logger.Error().Err(err).Msg("failed to persist collection failure")
			}
		})
	}

	if outcome == session.Suppressed {
		return "suppressed"
	}
	return "error"
}

func (s *Service) maybeAlert(ctx context.Context, sample series.Sample) {
	note, ok := s.policy.Evaluate(sample)
	if !ok {
		return
	}
	s.metrics.ObserveAlert(note.Direction)

	if s.alerts != nil {
		record := storage.AlertRecord{
			SampleTS:   note.SampleTS,
			Difference: note.Difference,
			Threshold:  note.Threshold,
			Direction:  note.Direction,
			Channels:   note.Channels,
		}
		if _, err := s.alerts.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Time("ts", note.SampleTS).Msg("failed to persist alert record")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Time("ts", note.SampleTS).Msg("failed to dispatch alert")
		}
	}
}

// withLock runs the persistence and alert side effects of an applied result.
// The in-memory window is per-process and never waits on the lock. When the
// lock is held by another instance the side effects are skipped; when it
// cannot be checked at all they run anyway.
func (s *Service) withLock(ctx context.Context, fn func()) {
	if s.lockKey == 0 || s.locker == nil {
		fn()
		return
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		s.logger.Warn().Err(err).Int64("lock_key", s.lockKey).Msg("advisory lock unavailable, writing without coordination")
		fn()
		return
	}
	if !acquired {
		s.logger.Debug().Int64("lock_key", s.lockKey).Msg("advisory lock held elsewhere, skipping persistence and alerts")
		return
	}
	if unlock != nil {
		defer unlock()
	}
	fn()
}

func (s *Service) publishMetrics() {
	if s.metrics == nil {
		return
	}
	view := s.state.View()
	s.metrics.SetStatus(string(view.Status), allStatuses)
	if n := len(view.Samples); n > 0 {
		last := view.Samples[n-1]
		s.metrics.SetWindow(n, last.NAV().InexactFloat64(), last.Price().InexactFloat64(), last.Difference().InexactFloat64())
		return
	}
	s.metrics.SetWindow(0, 0, 0, 0)
}

func (s *Service) syncSkipped(h *scheduler.Handle) {
	total := h.Skipped()
	s.mu.Lock()
	delta := total - s.lastSkipped
	s.lastSkipped = total
	s.mu.Unlock()
	s.metrics.AddSkipped(delta)
}

func failedLegs(err error) []string {
	var failure *collector.CollectionFailure
	if !errors.As(err, &failure) {
		return nil
	}
	legs := make([]string, 0, 2)
	for _, legErr := range failure.Failed() {
		legs = append(legs, string(legErr.Leg))
	}
	return legs
}
