package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/config"
	"github.com/ElijahCodes12345/animepahe-api/internal/util"
)

// Plain issues cookie-authenticated requests with a realistic browser header
// set. It cannot solve a challenge itself; when the target serves a block
// page it raises a 403-coded error so the caller can refresh credentials.
type Plain struct {
	cfg    *config.Config
	client *http.Client
	// noRedirectClient shares the transport but stops at the first 3xx.
	noRedirectClient *http.Client
}

// NewPlain builds the plain transport on the shared pooled client.
func NewPlain(cfg *config.Config) *Plain {
	return newPlain(cfg, util.GetSharedClient())
}

// NewFastPlain builds the plain transport on the short-timeout client, for
// the per-resolution embed fetches where a stall should fail over to the
// next strategy quickly.
func NewFastPlain(cfg *config.Config) *Plain {
	return newPlain(cfg, util.GetFastClient())
}

func newPlain(cfg *config.Config, base *http.Client) *Plain {
	noRedirect := &http.Client{
		Transport: base.Transport,
		Timeout:   base.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Plain{cfg: cfg, client: base, noRedirectClient: noRedirect}
}

// Get fetches rawURL. A 401/403 status or a guard-marker body raises a
// 403-coded error distinct from generic network failures.
func (p *Plain) Get(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	return p.do(ctx, http.MethodGet, rawURL, nil, opts)
}

// Post submits a form. With opts.NoRedirect the 3xx response itself is
// returned so the caller can read the Location header.
func (p *Plain) Post(ctx context.Context, rawURL string, form url.Values, opts Options) (*Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	if opts.Headers == nil {
		opts.Headers = map[string]string{}
	}
	if _, ok := opts.Headers["Content-Type"]; !ok {
		opts.Headers["Content-Type"] = "application/x-www-form-urlencoded"
	}
	return p.do(ctx, http.MethodPost, rawURL, body, opts)
}

func (p *Plain) do(ctx context.Context, method, rawURL string, body io.Reader, opts Options) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, apperr.Wrap(err, 503, "invalid upstream request")
	}

	p.applyHeaders(req, opts)

	client := p.client
	if opts.NoRedirect {
		client = p.noRedirectClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, 503, "upstream request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, 503, "failed to read upstream response")
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       string(raw),
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		blocked(out.Body, p.cfg.Markers.BodyPhrases) {
		return out, apperr.Blocked("DDoS-Guard authentication required, valid cookies required")
	}

	return out, nil
}

func (p *Plain) applyHeaders(req *http.Request, opts Options) {
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("sec-ch-ua", `"Not A(Brand";v="99", "Microsoft Edge";v="121", "Chromium";v="121"`)
	req.Header.Set("sec-ch-ua-mobile", "?0")
	req.Header.Set("sec-ch-ua-platform", `"Windows"`)
	req.Header.Set("sec-fetch-dest", "document")
	req.Header.Set("sec-fetch-mode", "navigate")
	req.Header.Set("sec-fetch-site", "same-origin")

	referer := opts.Referer
	if referer == "" {
		referer = p.cfg.HomeURL()
	}
	req.Header.Set("Referer", referer)

	if opts.Cookie != "" {
		req.Header.Set("Cookie", opts.Cookie)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
}
