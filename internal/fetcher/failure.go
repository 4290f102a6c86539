package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies why an endpoint fetch failed.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindTimeout    Kind = "timeout"
	KindHTTPStatus Kind = "http_status"
)

// FetchFailure is returned once every attempt against an endpoint has failed.
type FetchFailure struct {
	Kind       Kind
	StatusCode int
	URL        string
	Attempts   int
	// Detail carries the server supplied explanation from an error body, if any.
	Detail string
	Err    error
}

func (f *FetchFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch %s failed after %d attempt(s): %s", f.URL, f.Attempts, f.Kind)
	if f.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", f.StatusCode)
	}
	if f.Detail != "" {
		fmt.Fprintf(&b, ": %s", f.Detail)
	} else if f.Err != nil {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	return b.String()
}

func (f *FetchFailure) Unwrap() error { return f.Err }

// AsFetchFailure extracts a FetchFailure from err.
func AsFetchFailure(err error) (*FetchFailure, bool) {
	var ff *FetchFailure
	if errors.As(err, &ff) {
		return ff, true
	}
	return nil, false
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

type errorBody struct {
	Details string `json:"details"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseErrorDetail(payload []byte) string {
	var body errorBody
	if err := json.Unmarshal(payload, &body); err == nil {
		switch {
		case body.Details != "":
			return body.Details
		case body.Error != "":
			return body.Error
		case body.Message != "":
			return body.Message
		}
	}
	return ""
}
