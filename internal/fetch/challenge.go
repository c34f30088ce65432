package fetch

import (
	"context"
	"net/http"
	"net/url"

	"github.com/enetx/g"
	"github.com/enetx/surf"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/config"
)

// Challenge is the cookie-jar transport built on surf's browser
// impersonation. Its TLS/JA3 fingerprint matches a real Chrome, which lets
// it pass the embed host's passive challenge without a headless browser.
// Used as a fallback for the main site and as the first attempt on the
// embed-page path.
type Challenge struct {
	cfg *config.Config
	cli *surf.Client
}

// NewChallenge builds the impersonating client with a persistent cookie
// session so clearance cookies earned on one request carry to the next.
func NewChallenge(cfg *config.Config) (*Challenge, error) {
	builder := surf.NewClient().
		Builder().
		Impersonate().Chrome().
		Session()
	if cfg.ProxyEnabled {
		if proxy := cfg.RandomProxy(); proxy != "" {
			builder = builder.Proxy(g.String(proxy))
		}
	}
	built := builder.Build()
	if built.IsErr() {
		return nil, apperr.Wrap(built.Err(), 503, "failed to build impersonating client")
	}
	return &Challenge{cfg: cfg, cli: built.Ok()}, nil
}

// Get fetches rawURL through the impersonating client.
func (c *Challenge) Get(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	req := c.cli.Get(g.String(rawURL)).WithContext(ctx)
	req.AddHeaders(c.headers(opts))

	result := req.Do()
	if result.IsErr() {
		return nil, apperr.Wrap(result.Err(), 503, "challenge transport request failed")
	}
	return c.convert(result.Ok())
}

// Post submits a form through the impersonating client. The body setter
// recognizes the form encoding and sets the content type itself.
func (c *Challenge) Post(ctx context.Context, rawURL string, form url.Values, opts Options) (*Response, error) {
	req := c.cli.Post(g.String(rawURL)).Body(form.Encode()).WithContext(ctx)
	req.AddHeaders(c.headers(opts))

	result := req.Do()
	if result.IsErr() {
		return nil, apperr.Wrap(result.Err(), 503, "challenge transport request failed")
	}
	return c.convert(result.Ok())
}

func (c *Challenge) headers(opts Options) map[string]string {
	referer := opts.Referer
	if referer == "" {
		referer = c.cfg.HomeURL()
	}
	headers := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Cache-Control":   "no-cache",
		"Referer":         referer,
	}
	if opts.Cookie != "" {
		headers["Cookie"] = opts.Cookie
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	return headers
}

func (c *Challenge) convert(resp *surf.Response) (*Response, error) {
	body := resp.Body.String()
	if body.IsErr() {
		return nil, apperr.Wrap(body.Err(), 503, "failed to read challenge transport body")
	}

	out := &Response{
		StatusCode: int(resp.StatusCode),
		Headers:    http.Header(resp.Headers),
		Body:       body.Ok().Std(),
	}

	// The impersonating client should clear the interstitial itself; a
	// marker body here means the host wants a full JS run.
	if blocked(out.Body, c.cfg.Markers.BodyPhrases) {
		return out, apperr.Blocked("challenge transport still blocked")
	}
	return out, nil
}
