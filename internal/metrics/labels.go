package metrics

import "net/url"

// EndpointLabel reduces a request URL to its path to keep label cardinality bounded.
func EndpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "unknown"
	}
	return u.Path
}
