// Package session owns the anti-bot credential bundle: a single set of
// clearance cookies harvested by the headless browser, persisted to one JSON
// slot and refreshed proactively before it expires.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/config"
	"github.com/ElijahCodes12345/animepahe-api/internal/models"
	"github.com/ElijahCodes12345/animepahe-api/internal/util"
)

// Harvester solves the site's challenge and returns the resulting cookies.
// The browser driver implements it; tests substitute a fake.
type Harvester interface {
	HarvestCookies() ([]models.Cookie, error)
}

// Manager caches and refreshes the credential bundle. At most one refresh
// runs process-wide at a time; late arrivals on the background path return
// without waiting, while the blocking path always waits a full refresh out.
type Manager struct {
	cfg       *config.Config
	harvester Harvester

	// refreshMu serializes browser-based refreshes.
	refreshMu sync.Mutex

	now func() time.Time
}

// NewManager builds a manager around the given harvester.
func NewManager(cfg *config.Config, harvester Harvester) *Manager {
	return &Manager{cfg: cfg, harvester: harvester, now: time.Now}
}

// EnsureFresh returns a usable cookie header. An override string bypasses the
// stored bundle entirely for this call and is never persisted. With no usable
// bundle on disk the call blocks on a full refresh; a bundle inside the
// refresh margin is returned immediately while one background refresh is
// kicked off.
func (m *Manager) EnsureFresh(override string) (string, error) {
	if override != "" {
		trimmed := strings.TrimSpace(override)
		if !strings.Contains(trimmed, "=") {
			return "", apperr.BadRequest("invalid user-provided cookies format")
		}
		util.Debug("using caller-provided cookies")
		return trimmed, nil
	}
	if m.cfg.Cookies != "" {
		return m.cfg.Cookies, nil
	}

	bundle, err := m.load()
	age := time.Duration(0)
	if err == nil {
		age = bundle.Age(m.now())
	}

	if err != nil || age >= m.cfg.RefreshInterval {
		if err := m.blockingRefresh(); err != nil {
			return "", err
		}
		bundle, err = m.load()
		if err != nil {
			return "", apperr.Wrap(err, 503, "cookie bundle unreadable after refresh")
		}
		return bundle.Header(), nil
	}

	if age >= m.cfg.RefreshInterval-m.cfg.RefreshMargin {
		go func() {
			if err := m.Refresh(); err != nil {
				util.Errorf("background cookie refresh failed: %v", err)
			}
		}()
	}

	return bundle.Header(), nil
}

// Refresh performs one browser-based refresh unless another is already in
// flight, in which case it returns immediately.
func (m *Manager) Refresh() error {
	if !m.refreshMu.TryLock() {
		return nil
	}
	defer m.refreshMu.Unlock()
	return m.refresh()
}

// ForceRefresh waits for any in-flight refresh and guarantees the bundle was
// refreshed at most a moment ago when it returns. Used after a 401/403 from
// the target site.
func (m *Manager) ForceRefresh() error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	return m.refresh()
}

// blockingRefresh waits for any in-flight refresh, then refreshes only if the
// winner did not already produce a usable bundle.
func (m *Manager) blockingRefresh() error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	if bundle, err := m.load(); err == nil && bundle.Age(m.now()) < m.cfg.RefreshInterval {
		return nil
	}
	return m.refresh()
}

// refresh harvests cookies and overwrites the slot. Callers hold refreshMu.
func (m *Manager) refresh() error {
	util.Info("refreshing clearance cookies")

	cookies, err := m.harvester.HarvestCookies()
	if err != nil {
		return apperr.Wrap(err, 503, "failed to refresh cookies")
	}
	if len(cookies) == 0 {
		return apperr.Unavailable("no cookies found after page load")
	}

	bundle := models.CookieBundle{
		Timestamp: m.now().UnixMilli(),
		Cookies:   cookies,
	}
	if err := m.store(&bundle); err != nil {
		return apperr.Wrap(err, 503, "failed to persist cookie bundle")
	}

	util.Info("clearance cookies refreshed", "count", len(cookies))
	return nil
}

func (m *Manager) load() (*models.CookieBundle, error) {
	raw, err := os.ReadFile(m.cfg.CookiesPath)
	if err != nil {
		return nil, err
	}
	var bundle models.CookieBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, err
	}
	if bundle.Timestamp == 0 || len(bundle.Cookies) == 0 {
		return nil, apperr.Unavailable("cookie bundle is empty")
	}
	return &bundle, nil
}

func (m *Manager) store(bundle *models.CookieBundle) error {
	if err := os.MkdirAll(filepath.Dir(m.cfg.CookiesPath), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.cfg.CookiesPath, raw, 0o644)
}
