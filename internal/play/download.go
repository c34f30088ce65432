package play

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/config"
	"github.com/ElijahCodes12345/animepahe-api/internal/fetch"
	"github.com/ElijahCodes12345/animepahe-api/internal/models"
	"github.com/ElijahCodes12345/animepahe-api/internal/sandbox"
	"github.com/ElijahCodes12345/animepahe-api/internal/util"
)

var (
	hrefPropRe    = regexp.MustCompile(`(?i)href\s*:\s*["']([^"']+)["']`)
	metaRefreshRe = regexp.MustCompile(`(?i)<meta[^>]*http-equiv=["']refresh["'][^>]*content=["'][^"]*url=([^"']+)["']`)
	jsLocationRe  = regexp.MustCompile(`(?i)window\.location(?:\.href)?\s*=\s*["']([^"']+)["']`)
)

// DownloadResolver turns one download-button URL into the final direct file
// URL by walking the interstitial redirect page and submitting the media
// host's token-protected form.
//
// Page fetches go through the challenge-aware transport since both hosts sit
// behind anti-bot layers; the form POST goes through the plain transport,
// which can stop at the redirect and expose its Location header.
type DownloadResolver struct {
	cfg  *config.Config
	get  fetch.Transport
	post fetch.Transport
	eval *sandbox.Evaluator

	// submitDelay mimics a human pausing on the form page before submitting.
	// The host rejects tokens that come back too fast.
	submitDelay time.Duration
}

// NewDownloadResolver builds a resolver over the two transports.
func NewDownloadResolver(cfg *config.Config, get, post fetch.Transport, eval *sandbox.Evaluator) *DownloadResolver {
	return &DownloadResolver{
		cfg:         cfg,
		get:         get,
		post:        post,
		eval:        eval,
		submitDelay: 2 * time.Second,
	}
}

// Resolve follows one download-button URL to the direct file URL. The button
// usually points at an interstitial page redirecting to the media host; when
// no redirect target is found the original URL is treated as the form page
// itself.
func (d *DownloadResolver) Resolve(ctx context.Context, pageURL string) (*models.DirectDownload, error) {
	if pageURL == "" {
		return nil, apperr.BadRequest("URL is required")
	}

	// A URL already on the media host is the form page itself; only
	// interstitial hosts need the redirect-target scan.
	target := ""
	if u, err := url.Parse(pageURL); err != nil || !strings.Contains(u.Host, d.cfg.KwikHost) {
		target = d.extractRedirectTarget(ctx, pageURL)
	}

	result := &models.DirectDownload{Type: "direct_download"}
	if target != "" && target != pageURL {
		util.Debugf("interstitial resolved to %s", target)
		result.Type = "redirected_download"
		result.OriginalURL = pageURL
	} else {
		target = pageURL
	}

	direct, err := d.submitDownloadForm(ctx, target)
	if err != nil {
		return nil, err
	}
	result.DownloadURL = direct
	return result, nil
}

// extractRedirectTarget fetches the interstitial page and scans it for a
// media-host URL. All failures degrade to "" so the caller can fall back to
// the original URL.
func (d *DownloadResolver) extractRedirectTarget(ctx context.Context, pageURL string) string {
	resp, err := d.get.Get(ctx, pageURL, fetch.Options{Referer: d.cfg.HomeURL()})
	if err != nil {
		util.Warnf("interstitial fetch failed: %v", err)
		return ""
	}

	host := regexp.QuoteMeta(d.cfg.KwikHost)

	for _, m := range hrefPropRe.FindAllStringSubmatch(resp.Body, -1) {
		if strings.Contains(m[1], d.cfg.KwikHost) {
			return d.absolutize(m[1], pageURL)
		}
	}

	if m := regexp.MustCompile(`["'](https?://[^"']*` + host + `[^"']*)["']`).FindStringSubmatch(resp.Body); m != nil {
		return m[1]
	}

	if m := regexp.MustCompile(`(?i)href\s*=\s*["']([^"']*` + host + `[^"']*)["']`).FindStringSubmatch(resp.Body); m != nil {
		return d.absolutize(m[1], pageURL)
	}

	return ""
}

func (d *DownloadResolver) absolutize(raw, base string) string {
	if strings.HasPrefix(raw, "http") {
		return raw
	}
	if strings.HasPrefix(raw, "/") {
		if u, err := url.Parse(base); err == nil {
			return u.Scheme + "://" + u.Host + raw
		}
	}
	return "https://" + d.cfg.KwikHost + "/" + strings.TrimPrefix(raw, "/")
}

// submitDownloadForm fetches the form page, recovers the script-injected
// action URL and CSRF token, waits briefly, and submits the form without
// following the redirect so the Location header can be read directly.
func (d *DownloadResolver) submitDownloadForm(ctx context.Context, formPageURL string) (string, error) {
	resp, err := d.get.Get(ctx, formPageURL, fetch.Options{Referer: d.cfg.HomeURL()})
	if err != nil {
		return "", err
	}

	cookies := joinSetCookies(resp.Headers)

	form := d.eval.ExtractDownloadForm(resp.Body)
	if form == nil || form.Action == "" || form.Token == "" {
		return "", apperr.Unavailable("could not extract download form from page")
	}
	util.Debugf("extracted download form action %s", form.Action)

	select {
	case <-time.After(d.submitDelay):
	case <-ctx.Done():
		return "", apperr.Wrap(ctx.Err(), 503, "download resolution cancelled")
	}

	post, err := d.post.Post(ctx, form.Action, url.Values{"_token": []string{form.Token}}, fetch.Options{
		Cookie:     cookies,
		Referer:    formPageURL,
		NoRedirect: true,
		Headers: map[string]string{
			"Origin": "https://" + d.cfg.KwikHost,
		},
	})
	if err != nil {
		return "", err
	}

	switch post.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound:
		if loc := post.Headers.Get("Location"); loc != "" {
			return loc, nil
		}
	case http.StatusOK:
		if m := metaRefreshRe.FindStringSubmatch(post.Body); m != nil {
			return m[1], nil
		}
		if m := jsLocationRe.FindStringSubmatch(post.Body); m != nil {
			return m[1], nil
		}
	}

	return "", apperr.Unavailable("could not extract download URL from form response")
}

// joinSetCookies collapses the response's Set-Cookie headers into a request
// Cookie header value.
func joinSetCookies(h http.Header) string {
	var pairs []string
	for _, sc := range h.Values("Set-Cookie") {
		if pair, _, ok := strings.Cut(sc, ";"); ok {
			pairs = append(pairs, strings.TrimSpace(pair))
		} else if sc != "" {
			pairs = append(pairs, strings.TrimSpace(sc))
		}
	}
	return strings.Join(pairs, "; ")
}
