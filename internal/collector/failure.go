package collector

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"spy-nav-tracker/internal/fetcher"
)

// Leg names one of the two endpoints fetched per cycle.
type Leg string

const (
	LegNAV   Leg = "nav"
	LegPrice Leg = "price"
)

// KindInvalidPayload marks a reachable endpoint whose body did not carry a usable number.
const KindInvalidPayload fetcher.Kind = "invalid_payload"

// LegError is the classified failure of a single leg.
type LegError struct {
	Leg        Leg
	Kind       fetcher.Kind
	StatusCode int
	URL        string
	Detail     string
	Err        error
}

func (e *LegError) Error() string {
	msg := fmt.Sprintf("%s leg: %s", e.Leg, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LegError) Unwrap() error { return e.Err }

func legErrorFrom(leg Leg, url string, err error) *LegError {
	if ff, ok := fetcher.AsFetchFailure(err); ok {
		return &LegError{Leg: leg, Kind: ff.Kind, StatusCode: ff.StatusCode, URL: url, Detail: ff.Detail, Err: err}
	}
	return &LegError{Leg: leg, Kind: fetcher.KindNetwork, URL: url, Err: err}
}

// LegOutcome records how one leg of a cycle ended. Err is nil on success.
type LegOutcome struct {
	Leg Leg
	URL string
	Err *LegError
}

// OK reports whether the leg produced a valid value.
func (o LegOutcome) OK() bool { return o.Err == nil }

// CollectionFailure describes a failed cycle. Both legs are always present.
type CollectionFailure struct {
	NAV   LegOutcome
	Price LegOutcome
}

// Failed lists the legs that did not succeed.
func (f *CollectionFailure) Failed() []*LegError {
	var out []*LegError
	if f.NAV.Err != nil {
		out = append(out, f.NAV.Err)
	}
	if f.Price.Err != nil {
		out = append(out, f.Price.Err)
	}
	return out
}

func (f *CollectionFailure) Error() string {
	failed := f.Failed()
	parts := make([]string, 0, len(failed))
	for _, legErr := range failed {
		parts = append(parts, legErr.Error())
	}
	return "collect sample: " + strings.Join(parts, "; ")
}

// Unwrap exposes the per-leg errors to errors.Is / errors.As.
func (f *CollectionFailure) Unwrap() []error {
	failed := f.Failed()
	out := make([]error, 0, len(failed))
	for _, legErr := range failed {
		out = append(out, legErr)
	}
	return out
}

// UserMessage turns a cycle error into text fit for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var cf *CollectionFailure
	if errors.As(err, &cf) {
		failed := cf.Failed()
		if len(failed) == 0 {
			return "Failed to fetch data"
		}
		// the first failing leg decides the headline, NAV before price
		return describeLeg(failed[0])
	}
	var legErr *LegError
	if errors.As(err, &legErr) {
		return describeLeg(legErr)
	}
	if ff, ok := fetcher.AsFetchFailure(err); ok {
		return describeKind(ff.Kind, ff.StatusCode, ff.Detail, "")
	}
	return "Failed to fetch data"
}

func describeLeg(e *LegError) string {
	return describeKind(e.Kind, e.StatusCode, e.Detail, string(e.Leg))
}

func describeKind(kind fetcher.Kind, status int, detail, leg string) string {
	what := "data"
	switch Leg(leg) {
	case LegNAV:
		what = "NAV data"
	case LegPrice:
		what = "price data"
	}

	var msg string
	switch kind {
	case fetcher.KindTimeout:
		msg = fmt.Sprintf("Request for %s timed out", what)
	case fetcher.KindNetwork:
		msg = fmt.Sprintf("Network error while fetching %s; check the API address and your connection", what)
	case KindInvalidPayload:
		msg = fmt.Sprintf("Invalid %s structure", what)
	case fetcher.KindHTTPStatus:
		switch {
		case status == http.StatusUnauthorized:
			msg = fmt.Sprintf("Not authorized to fetch %s (401)", what)
		case status == http.StatusForbidden:
			msg = fmt.Sprintf("Access to %s is forbidden (403)", what)
		case status == http.StatusNotFound:
			msg = fmt.Sprintf("%s endpoint not found (404)", capitalize(what))
		case status >= 500:
			msg = fmt.Sprintf("Server error while fetching %s (%d)", what, status)
		default:
			msg = fmt.Sprintf("Request for %s failed with status %d", what, status)
		}
	default:
		msg = "Failed to fetch data"
	}

	if detail != "" {
		msg += ": " + detail
	}
	return msg
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
