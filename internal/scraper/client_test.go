package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/browser"
	"github.com/ElijahCodes12345/animepahe-api/internal/config"
	"github.com/ElijahCodes12345/animepahe-api/internal/fetch"
	"github.com/ElijahCodes12345/animepahe-api/internal/models"
	"github.com/ElijahCodes12345/animepahe-api/internal/session"
)

type transportReply struct {
	resp *fetch.Response
	err  error
}

// fakeTransport replays a scripted reply queue; the last reply sticks so a
// single entry models a transport that always behaves the same way.
type fakeTransport struct {
	mu    sync.Mutex
	urls  []string
	opts  []fetch.Options
	queue []transportReply
}

func (f *fakeTransport) next(rawURL string, opts fetch.Options) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, rawURL)
	f.opts = append(f.opts, opts)
	if len(f.queue) == 0 {
		return &fetch.Response{StatusCode: http.StatusOK, Body: strings.Repeat("x", 200)}, nil
	}
	r := f.queue[0]
	if len(f.queue) > 1 {
		f.queue = f.queue[1:]
	}
	return r.resp, r.err
}

func (f *fakeTransport) Get(_ context.Context, rawURL string, opts fetch.Options) (*fetch.Response, error) {
	return f.next(rawURL, opts)
}

func (f *fakeTransport) Post(_ context.Context, rawURL string, _ url.Values, opts fetch.Options) (*fetch.Response, error) {
	return f.next(rawURL, opts)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

func (f *fakeTransport) lastOpts() fetch.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts[len(f.opts)-1]
}

type fakeHarvester struct {
	mu      sync.Mutex
	calls   int
	cookies []models.Cookie
	err     error
}

func (f *fakeHarvester) HarvestCookies() ([]models.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.cookies, f.err
}

func (f *fakeHarvester) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRenderer struct {
	mu      sync.Mutex
	calls   int
	html    string
	cookies []models.Cookie
	err     error
}

func (f *fakeRenderer) FetchRenderedHTML(string, browser.WaitMode) (string, []models.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.html, f.cookies, f.err
}

func (f *fakeRenderer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func clientConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		BaseURL:         "https://example.test",
		CookiesPath:     filepath.Join(t.TempDir(), "cookies.json"),
		RefreshInterval: 14 * 24 * time.Hour,
		RefreshMargin:   24 * time.Hour,
		BatchDelay:      time.Millisecond,
		Markers:         config.DefaultMarkers(),
	}
}

func seedBundle(t *testing.T, path string) {
	t.Helper()
	bundle := models.CookieBundle{
		Timestamp: time.Now().Add(-time.Hour).UnixMilli(),
		Cookies:   []models.Cookie{{Name: "__ddg1_", Value: "stored"}},
	}
	raw, err := json.Marshal(bundle)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

type clientFixture struct {
	client    *Client
	plain     *fakeTransport
	fastPlain *fakeTransport
	challenge *fakeTransport
	harvester *fakeHarvester
	renderer  *fakeRenderer
}

func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()
	cfg := clientConfig(t)
	seedBundle(t, cfg.CookiesPath)
	f := &clientFixture{
		plain:     &fakeTransport{},
		fastPlain: &fakeTransport{},
		challenge: &fakeTransport{},
		harvester: &fakeHarvester{cookies: []models.Cookie{{Name: "__ddg1_", Value: "refreshed"}}},
		renderer:  &fakeRenderer{},
	}
	sess := session.NewManager(cfg, f.harvester)
	f.client = NewClient(cfg, sess, f.plain, f.fastPlain, f.challenge, f.renderer)
	return f
}

func blockedReply() transportReply {
	return transportReply{
		resp: &fetch.Response{StatusCode: http.StatusForbidden, Body: "ddos-guard"},
		err:  apperr.Blocked("DDoS-Guard authentication required, valid cookies required"),
	}
}

func TestFetchAPIBlockedRefreshesAndRecovers(t *testing.T) {
	f := newClientFixture(t)
	f.plain.queue = []transportReply{
		blockedReply(),
		{resp: &fetch.Response{StatusCode: http.StatusOK, Body: `{"data":[]}`}},
	}

	raw, err := f.client.Airing(context.Background(), 1, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[]}`, string(raw))
	assert.Equal(t, 2, f.plain.callCount())
	assert.Equal(t, 1, f.harvester.callCount())
	// The retry went out with the refreshed bundle.
	assert.Equal(t, "__ddg1_=refreshed", f.plain.lastOpts().Cookie)
}

func TestFetchAPIStillBlockedAfterRefreshIs503(t *testing.T) {
	f := newClientFixture(t)
	f.plain.queue = []transportReply{blockedReply()}

	_, err := f.client.Airing(context.Background(), 1, "")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, apperr.StatusOf(err))
	assert.Equal(t, 2, f.plain.callCount())
	assert.Equal(t, 1, f.harvester.callCount())
}

func TestFetchAPIOverrideCookiesNeverRetries(t *testing.T) {
	f := newClientFixture(t)
	f.plain.queue = []transportReply{blockedReply()}

	_, err := f.client.Airing(context.Background(), 1, "__ddg1_=mine")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, apperr.StatusOf(err))
	assert.Equal(t, 1, f.plain.callCount())
	assert.Equal(t, 0, f.harvester.callCount())
}

func TestFetchAPIMalformedPayloadIs503(t *testing.T) {
	f := newClientFixture(t)
	f.plain.queue = []transportReply{
		{resp: &fetch.Response{StatusCode: http.StatusOK, Body: "<html>not json</html>"}},
	}

	_, err := f.client.Queue(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, apperr.StatusOf(err))
}

func TestPlayPageStillBlockedAfterRefreshIs503(t *testing.T) {
	f := newClientFixture(t)
	f.plain.queue = []transportReply{blockedReply()}

	_, err := f.client.PlayPage(context.Background(), "5200", "ep-1", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, apperr.StatusOf(err))
	assert.Equal(t, 2, f.plain.callCount())
}

func TestPlayPageNotFoundIsTerminal(t *testing.T) {
	f := newClientFixture(t)
	f.plain.queue = []transportReply{
		{resp: &fetch.Response{StatusCode: http.StatusNotFound, Body: "gone"}},
	}

	_, err := f.client.PlayPage(context.Background(), "5200", "ep-1", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
	assert.Equal(t, 1, f.plain.callCount())
	assert.Equal(t, 0, f.harvester.callCount())
}

func TestEmbedPageUsesChallengeTransportFirst(t *testing.T) {
	f := newClientFixture(t)
	embedHTML := strings.Repeat("<p>player</p>", 20)
	f.challenge.queue = []transportReply{
		{resp: &fetch.Response{StatusCode: http.StatusOK, Body: embedHTML}},
	}

	html, err := f.client.EmbedPage(context.Background(), "https://kwik.si/e/abc")
	require.NoError(t, err)
	assert.Equal(t, embedHTML, html)
	// No cached cookies yet, so the fast transport never fires and the
	// browser is never needed.
	assert.Equal(t, 0, f.fastPlain.callCount())
	assert.Equal(t, 1, f.challenge.callCount())
	assert.Equal(t, 0, f.renderer.callCount())
}

func TestEmbedPageFallsBackToBrowserAndCachesCookies(t *testing.T) {
	f := newClientFixture(t)
	embedHTML := strings.Repeat("<p>player</p>", 20)
	f.challenge.queue = []transportReply{
		{err: apperr.Blocked("challenge transport still blocked")},
	}
	f.renderer.html = embedHTML
	f.renderer.cookies = []models.Cookie{{Name: "cf_clearance", Value: "tok"}}

	html, err := f.client.EmbedPage(context.Background(), "https://kwik.si/e/abc")
	require.NoError(t, err)
	assert.Equal(t, embedHTML, html)
	assert.Equal(t, 1, f.renderer.callCount())

	// The captured cookies now serve the next fetch without the browser.
	f.fastPlain.queue = []transportReply{
		{resp: &fetch.Response{StatusCode: http.StatusOK, Body: embedHTML}},
	}
	html, err = f.client.EmbedPage(context.Background(), "https://kwik.si/e/def")
	require.NoError(t, err)
	assert.Equal(t, embedHTML, html)
	assert.Equal(t, 1, f.fastPlain.callCount())
	assert.Equal(t, "cf_clearance=tok", f.fastPlain.lastOpts().Cookie)
	assert.Equal(t, 1, f.challenge.callCount())
	assert.Equal(t, 1, f.renderer.callCount())
}

func TestEmbedPageCachedCookiesExpire(t *testing.T) {
	f := newClientFixture(t)
	embedHTML := strings.Repeat("<p>player</p>", 20)
	f.client.embedCookie = "cf_clearance=stale"
	f.client.embedCookieAge = time.Now().Add(-embedCookieTTL - time.Minute)
	f.challenge.queue = []transportReply{
		{resp: &fetch.Response{StatusCode: http.StatusOK, Body: embedHTML}},
	}

	html, err := f.client.EmbedPage(context.Background(), "https://kwik.si/e/abc")
	require.NoError(t, err)
	assert.Equal(t, embedHTML, html)
	assert.Equal(t, 0, f.fastPlain.callCount())
	assert.Equal(t, 1, f.challenge.callCount())
}

func TestEmbedPageAllStrategiesFail(t *testing.T) {
	f := newClientFixture(t)
	f.challenge.queue = []transportReply{
		{err: apperr.Blocked("challenge transport still blocked")},
	}
	f.renderer.err = apperr.Unavailable("browser launch failed")

	_, err := f.client.EmbedPage(context.Background(), "https://kwik.si/e/abc")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, apperr.StatusOf(err))
}
