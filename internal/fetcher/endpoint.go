package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"spy-nav-tracker/internal/version"
)

const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"

	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	maxBackoffDelay    = 30 * time.Second
	maxBodyBytes       = 1 << 20
)

// EndpointOptions parameterise the retrying GET.
type EndpointOptions struct {
	// Timeout bounds each attempt independently.
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     string
	UserAgent   string
	AuthToken   string
	Headers     map[string]string
	Client      *http.Client

	// OnAttempt is called after every attempt with its error (nil on success).
	OnAttempt func(url string, attempt int, err error)
	// OnRetry is called before each delay between attempts.
	OnRetry func(url string, attempt int, delay time.Duration, err error)
}

// Endpoint is the retrying HTTP GET fetcher.
type Endpoint struct {
	opts   EndpointOptions
	logger zerolog.Logger
	client *http.Client
	tracer trace.Tracer
}

// NewEndpoint builds an endpoint fetcher, filling unset options with defaults.
func NewEndpoint(opts EndpointOptions, logger zerolog.Logger) *Endpoint {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.Backoff == "" {
		opts.Backoff = BackoffFixed
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	return &Endpoint{
		opts:   opts,
		logger: logger.With().Str("component", "endpoint_fetcher").Logger(),
		client: client,
		tracer: otel.Tracer("spy-nav-tracker/internal/fetcher"),
	}
}

// Fetch GETs url up to MaxAttempts times, waiting BaseDelay (or a growing delay) between attempts.
// Any failure is returned as *FetchFailure.
func (e *Endpoint) Fetch(ctx context.Context, url string) (Response, error) {
	ctx, span := e.tracer.Start(ctx, "fetcher.get", trace.WithAttributes(attribute.String("http.url", url)))
	defer span.End()

	var (
		attempts int
		lastErr  error
		resp     Response
	)

	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		return 0, true
	})
	if e.opts.MaxAttempts > 1 {
		inner := e.newBackoff()
		backoff = func() (time.Duration, bool) {
			delay, stop := inner.Next()
			if stop {
				return 0, true
			}
			e.logger.Warn().Err(lastErr).
				Str("url", url).
				Int("attempt", attempts).
				Int("max_attempts", e.opts.MaxAttempts).
				Dur("delay", delay).
				Msg("retrying request")
			if e.opts.OnRetry != nil {
				e.opts.OnRetry(url, attempts, delay, lastErr)
			}
			return delay, false
		}
	}

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		r, err := e.attempt(ctx, url)
		if e.opts.OnAttempt != nil {
			e.opts.OnAttempt(url, attempts, err)
		}
		if err != nil {
			lastErr = err
			return retry.RetryableError(err)
		}
		resp = r
		return nil
	})

	span.SetAttributes(attribute.Int("fetch.attempts", attempts))
	if err != nil {
		failure, ok := AsFetchFailure(err)
		if !ok {
			// the parent context ended between attempts
			failure = &FetchFailure{Kind: classify(err), URL: url, Err: err}
		}
		failure.Attempts = attempts
		span.RecordError(failure)
		span.SetStatus(codes.Error, string(failure.Kind))
		return Response{}, failure
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

// MaxDuration is the longest a single Fetch can take when every attempt runs
// to its timeout: MaxAttempts timeouts plus the delays between them.
func (e *Endpoint) MaxDuration() time.Duration {
	total := time.Duration(e.opts.MaxAttempts) * e.opts.Timeout
	b := e.newBackoff()
	for i := 1; i < e.opts.MaxAttempts; i++ {
		delay, stop := b.Next()
		if stop {
			break
		}
		total += delay
	}
	return total
}

func (e *Endpoint) newBackoff() retry.Backoff {
	var b retry.Backoff
	switch e.opts.Backoff {
	case BackoffExponential:
		b = retry.WithCappedDuration(maxBackoffDelay, retry.NewExponential(e.opts.BaseDelay))
	default:
		b = retry.NewConstant(e.opts.BaseDelay)
	}
	return retry.WithMaxRetries(uint64(e.opts.MaxAttempts-1), b)
}

func (e *Endpoint) attempt(ctx context.Context, url string) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, &FetchFailure{Kind: KindNetwork, URL: url, Err: err}
	}
	e.decorate(req)

	res, err := e.client.Do(req)
	if err != nil {
		return Response{}, &FetchFailure{Kind: classify(err), URL: url, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return Response{}, &FetchFailure{Kind: classify(err), URL: url, StatusCode: res.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Response{}, &FetchFailure{
			Kind:       KindHTTPStatus,
			StatusCode: res.StatusCode,
			URL:        url,
			Detail:     parseErrorDetail(body),
			Err:        fmt.Errorf("unexpected status %s", res.Status),
		}
	}

	return Response{URL: url, StatusCode: res.StatusCode, Header: res.Header, Body: body}, nil
}

func (e *Endpoint) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	ua := strings.TrimSpace(e.opts.UserAgent)
	if ua == "" {
		ua = version.UserAgent()
	}
	req.Header.Set("User-Agent", ua)
	if token := strings.TrimSpace(e.opts.AuthToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range e.opts.Headers {
		req.Header.Set(k, v)
	}
}

var _ EndpointFetcher = (*Endpoint)(nil)
