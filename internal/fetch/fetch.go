// Package fetch provides the two HTTP transports the scraper alternates
// between: a plain client with a realistic browser header set, and a
// browser-impersonating client able to pass the embed host's TLS
// fingerprinting on its own. A call site picks one transport per logical
// request and never mixes them.
package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Response is the uniform result both transports return. Redirects are
// surfaced as data (status + Location header) when NoRedirect is set, never
// as errors.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       string
}

// Options adjusts a single request.
type Options struct {
	// Cookie header value, usually the session manager's bundle.
	Cookie string
	// Referer to present; defaults to the transport's configured home URL.
	Referer string
	// Extra headers merged over the transport's base set.
	Headers map[string]string
	// NoRedirect stops the client at the first 3xx.
	NoRedirect bool
}

// Transport is the common surface of the plain and challenge-aware clients.
type Transport interface {
	Get(ctx context.Context, rawURL string, opts Options) (*Response, error)
	Post(ctx context.Context, rawURL string, form url.Values, opts Options) (*Response, error)
}

// blocked reports whether a response body looks like an anti-bot block page.
// The marker phrases are configuration data; the check is case-insensitive.
func blocked(body string, phrases []string) bool {
	lower := strings.ToLower(body)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
