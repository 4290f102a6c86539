package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"spy-nav-tracker/internal/render"
	"spy-nav-tracker/internal/series"
	"spy-nav-tracker/internal/service"
	"spy-nav-tracker/internal/session"
	"spy-nav-tracker/internal/telemetry"
)

// Controller is the slice of the service the HTTP layer needs.
type Controller interface {
	View() session.View
	Retry() error
	EnableMockData() bool
	Busy() bool
}

var _ Controller = (*service.Service)(nil)

// Options configures the HTTP server.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	ChartTitle      string
}

// Server exposes the session snapshot and the manual controls over HTTP.
type Server struct {
	opts    Options
	ctrl    Controller
	metrics http.Handler
	logger  zerolog.Logger
}

// New builds a server. metricsHandler may be nil.
func New(opts Options, ctrl Controller, metricsHandler http.Handler, logger zerolog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		opts:    opts,
		ctrl:    ctrl,
		metrics: metricsHandler,
		logger:  logger.With().Str("component", "http").Logger(),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	traceMode := telemetry.TraceMode()
	router.Method(http.MethodGet, "/api/state", wrapHTTPHandler(traceMode, "state", http.HandlerFunc(s.handleState)))
	router.Method(http.MethodGet, "/chart.png", wrapHTTPHandler(traceMode, "chart", http.HandlerFunc(s.handleChart)))
	router.Method(http.MethodPost, "/api/retry", wrapHTTPHandler(traceMode, "retry", http.HandlerFunc(s.handleRetry)))
	router.Method(http.MethodPost, "/api/mock", wrapHTTPHandler(traceMode, "mock", http.HandlerFunc(s.handleMock)))
	router.Get("/livez", handleLive)
	router.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics)
	}
	return router
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

type sampleJSON struct {
	Timestamp  time.Time   `json:"timestamp"`
	NAV        json.Number `json:"nav"`
	Price      json.Number `json:"price"`
	Difference json.Number `json:"difference"`
	Source     string      `json:"source"`
}

type stateJSON struct {
	Status        session.Status `json:"status"`
	LastError     *string        `json:"lastError"`
	UsingMockData bool           `json:"usingMockData"`
	Cycle         uint64         `json:"cycle"`
	Refreshing    bool           `json:"refreshing"`
	UpdatedAt     *time.Time     `json:"updatedAt,omitempty"`
	Capacity      int            `json:"capacity"`
	Samples       []sampleJSON   `json:"samples"`
}

func toStateJSON(v session.View, busy bool) stateJSON {
	out := stateJSON{
		Status:        v.Status,
		UsingMockData: v.UsingMockData,
		Cycle:         uint64(v.Cycle),
		Refreshing:    busy && !v.UsingMockData,
		Capacity:      series.Capacity,
		Samples:       make([]sampleJSON, 0, len(v.Samples)),
	}
	if v.LastError != "" {
		msg := v.LastError
		out.LastError = &msg
	}
	if !v.UpdatedAt.IsZero() {
		ts := v.UpdatedAt.UTC()
		out.UpdatedAt = &ts
	}
	for _, sm := range v.Samples {
		out.Samples = append(out.Samples, sampleJSON{
			Timestamp:  sm.Timestamp().UTC(),
			NAV:        json.Number(sm.NAV().String()),
			Price:      json.Number(sm.Price().String()),
			Difference: json.Number(sm.Difference().StringFixed(series.DifferencePlaces)),
			Source:     string(sm.Source()),
		})
	}
	return out
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStateJSON(s.ctrl.View(), s.ctrl.Busy()))
}

func (s *Server) handleChart(w http.ResponseWriter, _ *http.Request) {
	view := s.ctrl.View()
	var buf bytes.Buffer
	if err := render.WritePNG(&buf, view.Samples, s.opts.ChartTitle); err != nil {
		if errors.Is(err, render.ErrTooFewSamples) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Error().Err(err).Msg("render chart")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "render chart failed"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleRetry(w http.ResponseWriter, _ *http.Request) {
	switch err := s.ctrl.Retry(); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "retry scheduled"})
	case errors.Is(err, service.ErrMockActive):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "mock data active"})
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
}

func (s *Server) handleMock(w http.ResponseWriter, _ *http.Request) {
	if !s.ctrl.EnableMockData() {
		writeJSON(w, http.StatusConflict, toStateJSON(s.ctrl.View(), s.ctrl.Busy()))
		return
	}
	s.logger.Info().Msg("mock data enabled via http")
	writeJSON(w, http.StatusOK, toStateJSON(s.ctrl.View(), s.ctrl.Busy()))
}

func handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	switch s.ctrl.View().Status {
	case session.StatusReady, session.StatusMock:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func wrapHTTPHandler(traceMode, route string, handler http.Handler) http.Handler {
	if strings.EqualFold(strings.TrimSpace(traceMode), "off") {
		return handler
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("spy-nav-tracker/internal/server").Start(
			r.Context(),
			"http.server."+route,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		recorder := &statusCapturingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(recorder, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		if recorder.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
			return
		}
		span.SetStatus(codes.Ok, "request completed")
	})
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingResponseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
