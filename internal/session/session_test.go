package session

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/config"
	"github.com/ElijahCodes12345/animepahe-api/internal/models"
)

type fakeHarvester struct {
	calls   atomic.Int64
	cookies []models.Cookie
	err     error
	block   chan struct{}
}

func (f *fakeHarvester) HarvestCookies() ([]models.Cookie, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.cookies, f.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		CookiesPath:     filepath.Join(t.TempDir(), "cookies.json"),
		RefreshInterval: 14 * 24 * time.Hour,
		RefreshMargin:   24 * time.Hour,
	}
}

func writeBundle(t *testing.T, path string, age time.Duration, now time.Time) {
	t.Helper()
	bundle := models.CookieBundle{
		Timestamp: now.Add(-age).UnixMilli(),
		Cookies:   []models.Cookie{{Name: "__ddg1_", Value: "stored"}},
	}
	raw, err := json.Marshal(bundle)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func TestEnsureFreshYoungBundleSkipsRefresh(t *testing.T) {
	cfg := testConfig(t)
	now := time.Now()
	writeBundle(t, cfg.CookiesPath, 2*24*time.Hour, now)

	h := &fakeHarvester{}
	m := NewManager(cfg, h)
	m.now = func() time.Time { return now }

	header, err := m.EnsureFresh("")
	require.NoError(t, err)
	assert.Equal(t, "__ddg1_=stored", header)
	assert.EqualValues(t, 0, h.calls.Load())
}

func TestEnsureFreshAgingBundleSchedulesOneBackgroundRefresh(t *testing.T) {
	cfg := testConfig(t)
	now := time.Now()
	// Inside the [interval-margin, interval) window.
	writeBundle(t, cfg.CookiesPath, 13*24*time.Hour+time.Hour, now)

	h := &fakeHarvester{cookies: []models.Cookie{{Name: "__ddg1_", Value: "fresh"}}}
	m := NewManager(cfg, h)
	m.now = func() time.Time { return now }

	header, err := m.EnsureFresh("")
	require.NoError(t, err)
	// The stale-but-valid bundle is served immediately.
	assert.Equal(t, "__ddg1_=stored", header)

	require.Eventually(t, func() bool { return h.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestEnsureFreshExpiredBundleBlocksOnRefresh(t *testing.T) {
	cfg := testConfig(t)
	now := time.Now()
	writeBundle(t, cfg.CookiesPath, 15*24*time.Hour, now)

	h := &fakeHarvester{cookies: []models.Cookie{{Name: "cf_clearance", Value: "new"}}}
	m := NewManager(cfg, h)
	m.now = func() time.Time { return now }

	header, err := m.EnsureFresh("")
	require.NoError(t, err)
	assert.Equal(t, "cf_clearance=new", header)
	assert.EqualValues(t, 1, h.calls.Load())
}

func TestEnsureFreshMissingBundleBlocksOnRefresh(t *testing.T) {
	cfg := testConfig(t)
	h := &fakeHarvester{cookies: []models.Cookie{
		{Name: "__ddg1_", Value: "a"},
		{Name: "__ddg2_", Value: "b"},
	}}
	m := NewManager(cfg, h)

	header, err := m.EnsureFresh("")
	require.NoError(t, err)
	assert.Equal(t, "__ddg1_=a; __ddg2_=b", header)
	assert.EqualValues(t, 1, h.calls.Load())

	// The bundle is persisted for the next call.
	_, err = os.Stat(cfg.CookiesPath)
	require.NoError(t, err)
}

func TestRefreshZeroCookiesIsAnError(t *testing.T) {
	cfg := testConfig(t)
	h := &fakeHarvester{cookies: nil}
	m := NewManager(cfg, h)

	_, err := m.EnsureFresh("")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, apperr.StatusOf(err))
}

func TestEnsureFreshOverrideBypassesStore(t *testing.T) {
	cfg := testConfig(t)
	h := &fakeHarvester{}
	m := NewManager(cfg, h)

	header, err := m.EnsureFresh("__ddg1_=manual; srv=s0")
	require.NoError(t, err)
	assert.Equal(t, "__ddg1_=manual; srv=s0", header)
	assert.EqualValues(t, 0, h.calls.Load())

	// Nothing was persisted.
	_, err = os.Stat(cfg.CookiesPath)
	assert.True(t, os.IsNotExist(err))
}

func TestEnsureFreshOverrideInvalidFormat(t *testing.T) {
	m := NewManager(testConfig(t), &fakeHarvester{})

	_, err := m.EnsureFresh("not a cookie header")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))
}

func TestRefreshSingleFlight(t *testing.T) {
	cfg := testConfig(t)
	h := &fakeHarvester{
		cookies: []models.Cookie{{Name: "k", Value: "v"}},
		block:   make(chan struct{}),
	}
	m := NewManager(cfg, h)

	done := make(chan error, 1)
	go func() { done <- m.Refresh() }()

	require.Eventually(t, func() bool { return h.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// A second caller while the first is in flight returns immediately
	// without starting another harvest.
	require.NoError(t, m.Refresh())
	assert.EqualValues(t, 1, h.calls.Load())

	close(h.block)
	require.NoError(t, <-done)
}
