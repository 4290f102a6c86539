package fetcher

import (
	"context"
	"net/http"
)

// Response is a successful (2xx) endpoint reply.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// EndpointFetcher performs one logical GET against an endpoint, retrying internally.
type EndpointFetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}
