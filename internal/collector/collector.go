package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spy-nav-tracker/internal/fetcher"
	"spy-nav-tracker/internal/series"
)

const (
	NAVPath   = "/api/spy-nav"
	PricePath = "/api/spy-price"

	defaultNAVField   = "nav"
	defaultPriceField = "price"
)

// SampleCollector produces one sample per call.
type SampleCollector interface {
	Collect(ctx context.Context) (series.Sample, error)
}

// Options parameterise the dual-sample collector.
type Options struct {
	BaseURL    string
	NAVField   string
	PriceField string
	// Concurrent fetches both legs in parallel; otherwise NAV is fetched before price.
	Concurrent bool
	Now        func() time.Time
}

// Collector fetches NAV and price for one cycle and validates both replies.
type Collector struct {
	opts     Options
	fetcher  fetcher.EndpointFetcher
	logger   zerolog.Logger
	navURL   string
	priceURL string
}

// NormalizeBaseURL strips surrounding whitespace and trailing slashes.
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// EndpointURLs composes the NAV and price endpoint URLs from a base URL.
func EndpointURLs(baseURL string) (navURL, priceURL string) {
	base := NormalizeBaseURL(baseURL)
	return base + NAVPath, base + PricePath
}

// New constructs a collector on top of an endpoint fetcher.
func New(opts Options, f fetcher.EndpointFetcher, logger zerolog.Logger) *Collector {
	if opts.NAVField == "" {
		opts.NAVField = defaultNAVField
	}
	if opts.PriceField == "" {
		opts.PriceField = defaultPriceField
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	navURL, priceURL := EndpointURLs(opts.BaseURL)
	return &Collector{
		opts:     opts,
		fetcher:  f,
		logger:   logger.With().Str("component", "collector").Logger(),
		navURL:   navURL,
		priceURL: priceURL,
	}
}

// URLs returns the composed endpoint URLs.
func (c *Collector) URLs() (navURL, priceURL string) {
	return c.navURL, c.priceURL
}

// Collect runs one sampling cycle. On failure the error is a *CollectionFailure.
func (c *Collector) Collect(ctx context.Context) (series.Sample, error) {
	var (
		nav, price       decimal.Decimal
		navErr, priceErr *LegError
	)

	if c.opts.Concurrent {
		var g errgroup.Group
		g.Go(func() error {
			nav, navErr = c.fetchLeg(ctx, LegNAV, c.navURL, c.opts.NAVField)
			return asError(navErr)
		})
		g.Go(func() error {
			price, priceErr = c.fetchLeg(ctx, LegPrice, c.priceURL, c.opts.PriceField)
			return asError(priceErr)
		})
		// both legs are inspected below, the first error alone is not enough
		_ = g.Wait()
	} else {
		nav, navErr = c.fetchLeg(ctx, LegNAV, c.navURL, c.opts.NAVField)
		price, priceErr = c.fetchLeg(ctx, LegPrice, c.priceURL, c.opts.PriceField)
	}

	if navErr != nil || priceErr != nil {
		return series.Sample{}, &CollectionFailure{
			NAV:   LegOutcome{Leg: LegNAV, URL: c.navURL, Err: navErr},
			Price: LegOutcome{Leg: LegPrice, URL: c.priceURL, Err: priceErr},
		}
	}

	return series.NewSample(c.opts.Now(), nav, price), nil
}

func (c *Collector) fetchLeg(ctx context.Context, leg Leg, url, field string) (decimal.Decimal, *LegError) {
	c.logger.Debug().Str("leg", string(leg)).Str("url", url).Msg("fetching")

	resp, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return decimal.Decimal{}, legErrorFrom(leg, url, err)
	}

	value, err := extractNumber(resp.Body, field)
	if err != nil {
		return decimal.Decimal{}, &LegError{Leg: leg, Kind: KindInvalidPayload, StatusCode: resp.StatusCode, URL: url, Err: err}
	}
	return value, nil
}

// extractNumber requires field to be present and a JSON number. Zero is a valid value.
func extractNumber(body []byte, field string) (decimal.Decimal, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode payload: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return decimal.Decimal{}, errors.New("trailing data after JSON payload")
	}
	if payload == nil {
		return decimal.Decimal{}, errors.New("payload is not a JSON object")
	}

	raw, ok := payload[field]
	if !ok || raw == nil {
		return decimal.Decimal{}, fmt.Errorf("field %q missing", field)
	}
	num, ok := raw.(json.Number)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("field %q is %T, want number", field, raw)
	}

	value, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("field %q: %w", field, err)
	}
	return value, nil
}

func asError(e *LegError) error {
	if e == nil {
		return nil
	}
	return e
}

var _ SampleCollector = (*Collector)(nil)
