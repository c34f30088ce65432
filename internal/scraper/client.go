// Package scraper implements the animepahe client: page fetching with
// credential retry, the embed-page strategy chain, and the pure HTML parsers.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/browser"
	"github.com/ElijahCodes12345/animepahe-api/internal/config"
	"github.com/ElijahCodes12345/animepahe-api/internal/fetch"
	"github.com/ElijahCodes12345/animepahe-api/internal/models"
	"github.com/ElijahCodes12345/animepahe-api/internal/session"
	"github.com/ElijahCodes12345/animepahe-api/internal/util"
)

// minValidPage filters out challenge splash fragments and empty responses.
const minValidPage = 100

// embedCookieTTL bounds reuse of cookies captured from a successful
// browser-based embed fetch.
const embedCookieTTL = 30 * time.Minute

// Renderer is the slice of the browser driver the client needs.
type Renderer interface {
	FetchRenderedHTML(rawURL string, wait browser.WaitMode) (string, []models.Cookie, error)
}

// Client talks to animepahe and the embed host through the session manager
// and the two HTTP transports, falling back to the headless browser when
// both are blocked.
type Client struct {
	cfg       *config.Config
	session   *session.Manager
	plain     fetch.Transport
	fastPlain fetch.Transport
	challenge fetch.Transport
	renderer  Renderer

	// Short-lived cookies captured opportunistically from a browser-based
	// embed fetch; lets later same-episode fetches skip the browser.
	embedMu        sync.Mutex
	embedCookie    string
	embedCookieAge time.Time
}

// NewClient wires the scraper's collaborators together. The fastPlain
// transport serves the cached-cookie embed fetches; site pages go through
// plain.
func NewClient(cfg *config.Config, sess *session.Manager, plain, fastPlain, challenge fetch.Transport, renderer Renderer) *Client {
	return &Client{
		cfg:       cfg,
		session:   sess,
		plain:     plain,
		fastPlain: fastPlain,
		challenge: challenge,
		renderer:  renderer,
	}
}

// FetchAPI proxies one upstream JSON API call (airing, search, queue,
// release). A blocked response triggers exactly one forced credential
// refresh and retry; user-provided cookies disable the retry.
func (c *Client) FetchAPI(ctx context.Context, params url.Values, overrideCookies string) (json.RawMessage, error) {
	cookie, err := c.session.EnsureFresh(overrideCookies)
	if err != nil {
		return nil, err
	}

	apiURL := c.cfg.APIURL() + "?" + params.Encode()
	opts := fetch.Options{
		Cookie: cookie,
		Headers: map[string]string{
			"Accept":           "application/json, text/javascript, */*; q=0.01",
			"X-Requested-With": "XMLHttpRequest",
			"sec-fetch-dest":   "empty",
			"sec-fetch-mode":   "cors",
		},
	}

	resp, err := c.plain.Get(ctx, apiURL, opts)
	if err != nil && apperr.IsStatus(err, http.StatusForbidden) && overrideCookies == "" {
		util.Warn("API request blocked, forcing cookie refresh")
		if rerr := c.session.ForceRefresh(); rerr != nil {
			return nil, rerr
		}
		if opts.Cookie, err = c.session.EnsureFresh(""); err != nil {
			return nil, err
		}
		resp, err = c.plain.Get(ctx, apiURL, opts)
		if err != nil && apperr.IsStatus(err, http.StatusForbidden) {
			err = apperr.Wrap(err, 503, "Failed to fetch API data after cookie refresh")
		}
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.NotFound("Resource not found")
	}
	if !json.Valid([]byte(resp.Body)) {
		return nil, apperr.Unavailable("upstream API returned malformed payload")
	}
	return json.RawMessage(resp.Body), nil
}

// Airing fetches the airing listing page.
func (c *Client) Airing(ctx context.Context, page int, cookies string) (json.RawMessage, error) {
	return c.FetchAPI(ctx, apiParams("airing", map[string]string{"page": strconv.Itoa(page)}), cookies)
}

// Search queries the upstream search API.
func (c *Client) Search(ctx context.Context, query string, page int, cookies string) (json.RawMessage, error) {
	if query == "" {
		return nil, apperr.BadRequest("Search query is required")
	}
	return c.FetchAPI(ctx, apiParams("search", map[string]string{"q": query, "page": strconv.Itoa(page)}), cookies)
}

// Queue fetches the encode queue.
func (c *Client) Queue(ctx context.Context, cookies string) (json.RawMessage, error) {
	return c.FetchAPI(ctx, apiParams("queue", nil), cookies)
}

// Releases fetches the episode list for one anime.
func (c *Client) Releases(ctx context.Context, id, sort string, page int, cookies string) (json.RawMessage, error) {
	if id == "" {
		return nil, apperr.BadRequest("Anime ID is required")
	}
	return c.FetchAPI(ctx, apiParams("release", map[string]string{
		"id":   id,
		"sort": sort,
		"page": strconv.Itoa(page),
	}), cookies)
}

func apiParams(m string, extra map[string]string) url.Values {
	params := url.Values{"m": []string{m}}
	for k, v := range extra {
		if v != "" {
			params.Set(k, v)
		}
	}
	return params
}

// PlayPage fetches one episode page. A guard block forces one credential
// refresh and retry; a 404 is terminal.
func (c *Client) PlayPage(ctx context.Context, id, episodeID, overrideCookies string) (string, error) {
	if id == "" || episodeID == "" {
		return "", apperr.BadRequest("Both ID and episode ID are required")
	}
	return c.fetchSitePage(ctx, c.cfg.PlayURL(id, episodeID), overrideCookies, "Anime or episode not found")
}

// AnimeInfo fetches the anime detail page HTML.
func (c *Client) AnimeInfo(ctx context.Context, id, overrideCookies string) (string, error) {
	if id == "" {
		return "", apperr.BadRequest("Anime ID is required")
	}
	return c.fetchSitePage(ctx, c.cfg.AnimeInfoURL(id), overrideCookies, "Anime not found")
}

// AnimeList fetches the A-Z index page HTML.
func (c *Client) AnimeList(ctx context.Context, tag1, tag2, overrideCookies string) (string, error) {
	return c.fetchSitePage(ctx, c.cfg.AnimeListURL(tag1, tag2), overrideCookies, "Anime list not found")
}

func (c *Client) fetchSitePage(ctx context.Context, pageURL, overrideCookies, notFoundMsg string) (string, error) {
	cookie, err := c.session.EnsureFresh(overrideCookies)
	if err != nil {
		return "", err
	}

	resp, err := c.plain.Get(ctx, pageURL, fetch.Options{Cookie: cookie})
	if err != nil && apperr.IsStatus(err, http.StatusForbidden) && overrideCookies == "" {
		util.Warn("page fetch blocked, forcing cookie refresh", "url", pageURL)
		if rerr := c.session.ForceRefresh(); rerr != nil {
			return "", rerr
		}
		cookie, err = c.session.EnsureFresh("")
		if err != nil {
			return "", err
		}
		resp, err = c.plain.Get(ctx, pageURL, fetch.Options{Cookie: cookie})
		if err != nil && apperr.IsStatus(err, http.StatusForbidden) {
			err = apperr.Wrap(err, 503, "Failed to fetch page after cookie refresh")
		}
	}
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", apperr.NotFound(notFoundMsg)
	}
	if len(resp.Body) < minValidPage {
		return "", apperr.Unavailable("upstream returned an empty page")
	}
	return resp.Body, nil
}

// embedStrategy is one way of obtaining embed-page HTML. Strategies are
// tried in order; the first one returning plausible content wins.
type embedStrategy struct {
	name string
	run  func(ctx context.Context, embedURL string) (string, error)
}

// EmbedPage fetches the embed (kwik) page hosting the obfuscated player
// script. The media host sits behind its own anti-bot layer, so the chain
// runs: cached-cookie plain fetch, impersonating client, headless browser.
func (c *Client) EmbedPage(ctx context.Context, embedURL string) (string, error) {
	if embedURL == "" {
		return "", apperr.BadRequest("URL is required")
	}

	strategies := []embedStrategy{
		{name: "cached-cookies", run: c.embedWithCachedCookies},
		{name: "impersonate", run: c.embedWithChallengeTransport},
		{name: "browser", run: c.embedWithBrowser},
	}

	var lastErr error
	for i, s := range strategies {
		html, err := s.run(ctx, embedURL)
		if err == nil && len(html) > minValidPage {
			util.Debugf("embed strategy %q succeeded for %s", s.name, embedURL)
			return html, nil
		}
		if err != nil {
			util.Warnf("embed strategy %q failed: %v", s.name, err)
			lastErr = err
		} else {
			lastErr = apperr.Unavailable("embed strategy returned truncated content")
		}
		if i < len(strategies)-1 {
			select {
			case <-time.After(c.cfg.BatchDelay):
			case <-ctx.Done():
				return "", apperr.Wrap(ctx.Err(), 503, "embed fetch cancelled")
			}
		}
	}

	if lastErr != nil {
		return "", apperr.Wrap(lastErr, 503, "all embed fetching strategies failed")
	}
	return "", apperr.Unavailable("all embed fetching strategies failed")
}

func (c *Client) embedWithCachedCookies(ctx context.Context, embedURL string) (string, error) {
	cookie := c.cachedEmbedCookie()
	if cookie == "" {
		return "", fmt.Errorf("no cached embed cookies")
	}
	resp, err := c.fastPlain.Get(ctx, embedURL, fetch.Options{Cookie: cookie})
	if err != nil {
		return "", err
	}
	return resp.Body, nil
}

func (c *Client) embedWithChallengeTransport(ctx context.Context, embedURL string) (string, error) {
	resp, err := c.challenge.Get(ctx, embedURL, fetch.Options{})
	if err != nil {
		return "", err
	}
	return resp.Body, nil
}

func (c *Client) embedWithBrowser(ctx context.Context, embedURL string) (string, error) {
	if c.renderer == nil {
		return "", fmt.Errorf("browser driver unavailable")
	}
	html, cookies, err := c.renderer.FetchRenderedHTML(embedURL, browser.WaitNone)
	if err != nil {
		return "", err
	}
	if len(cookies) > 0 {
		header := ""
		for i, ck := range cookies {
			if i > 0 {
				header += "; "
			}
			header += ck.Name + "=" + ck.Value
		}
		c.storeEmbedCookie(header)
	}
	return html, nil
}

func (c *Client) cachedEmbedCookie() string {
	c.embedMu.Lock()
	defer c.embedMu.Unlock()
	if c.embedCookie == "" || time.Since(c.embedCookieAge) > embedCookieTTL {
		c.embedCookie = ""
		return ""
	}
	return c.embedCookie
}

func (c *Client) storeEmbedCookie(header string) {
	c.embedMu.Lock()
	defer c.embedMu.Unlock()
	c.embedCookie = header
	c.embedCookieAge = time.Now()
	util.Debug("captured embed-host cookies from browser fetch")
}
