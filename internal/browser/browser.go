// Package browser drives a headless Chromium through playwright for the
// cases plain HTTP cannot handle: harvesting anti-bot clearance cookies and
// rendering pages behind an active JS challenge. It is the slowest strategy
// and always runs last.
package browser

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/playwright-community/playwright-go"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/config"
	"github.com/ElijahCodes12345/animepahe-api/internal/models"
	"github.com/ElijahCodes12345/animepahe-api/internal/util"
)

// WaitMode selects the readiness condition FetchRenderedHTML waits for after
// navigation.
type WaitMode int

const (
	// WaitDocument waits for the episode page's content containers.
	WaitDocument WaitMode = iota
	// WaitJSONShape waits for brace characters, for JSON served as a page.
	WaitJSONShape
	// WaitNone returns as soon as the challenge check settles.
	WaitNone
)

// stealthScript masks the obvious automation fingerprints before any page
// script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3] });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
window.chrome = { runtime: {}, loadTimes: function() {}, csi: function() {}, app: {} };
const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) =>
    parameters.name === 'notifications'
        ? Promise.resolve({ state: Notification.permission })
        : originalQuery(parameters);
`

var baseArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-blink-features=AutomationControlled",
	"--disable-gpu",
	"--disable-background-networking",
	"--disable-default-apps",
	"--disable-extensions",
	"--disable-infobars",
	"--disable-notifications",
	"--disable-sync",
	"--disable-translate",
	"--no-first-run",
	"--no-zygote",
}

var serverlessArgs = []string{
	"--single-process",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-ipc-flooding-protection",
	"--disable-hang-monitor",
	"--disable-domain-reliability",
	"--memory-pressure-off",
}

// Driver owns the playwright runtime. Create one with New, Start it once at
// boot and Stop it on shutdown; each operation launches and tears down its
// own browser process.
type Driver struct {
	cfg *config.Config
	pw  *playwright.Playwright
}

// New returns an unstarted driver.
func New(cfg *config.Config) *Driver {
	return &Driver{cfg: cfg}
}

// Start boots the playwright runtime.
func (d *Driver) Start() error {
	pw, err := playwright.Run()
	if err != nil {
		return errors.Wrap(err, "failed to start playwright")
	}
	d.pw = pw
	return nil
}

// Stop shuts the playwright runtime down.
func (d *Driver) Stop() error {
	if d.pw == nil {
		return nil
	}
	return d.pw.Stop()
}

func (d *Driver) launch() (playwright.Browser, error) {
	if d.pw == nil {
		return nil, errors.New("browser driver not started")
	}

	args := append([]string{}, baseArgs...)
	if d.cfg.Serverless {
		args = append(args, serverlessArgs...)
	}
	args = append(args, "--user-agent="+d.cfg.UserAgent)

	browser, err := d.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     args,
		Timeout:  playwright.Float(float64(d.cfg.NavigateTimeout.Milliseconds())),
	})
	if err != nil {
		// Retry once with the minimal flag set; some environments reject
		// individual optimization flags.
		util.Warnf("browser launch failed, retrying with minimal flags: %v", err)
		browser, err = d.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(true),
			Args:     []string{"--no-sandbox", "--disable-setuid-sandbox", "--disable-dev-shm-usage"},
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to launch browser")
		}
	}
	return browser, nil
}

func (d *Driver) newPage(browser playwright.Browser) (playwright.Page, error) {
	opts := playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(d.cfg.UserAgent),
		Viewport:          &playwright.Size{Width: 1920, Height: 1080},
		IgnoreHttpsErrors: playwright.Bool(true),
		BypassCSP:         playwright.Bool(true),
	}
	if d.cfg.ProxyEnabled {
		if proxy := d.cfg.RandomProxy(); proxy != "" {
			opts.Proxy = &playwright.Proxy{Server: proxy}
		}
	}

	context, err := browser.NewContext(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create browser context")
	}
	if err := context.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		return nil, errors.Wrap(err, "failed to add stealth script")
	}

	page, err := context.NewPage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open page")
	}
	if err := page.SetExtraHTTPHeaders(map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Cache-Control":   "no-cache",
		"Referer":         d.cfg.HomeURL(),
	}); err != nil {
		return nil, errors.Wrap(err, "failed to set headers")
	}
	return page, nil
}

// HarvestCookies navigates to the site home, waits for the guard interstitial
// to clear and returns every cookie from the context. Zero cookies is an
// error, never success.
func (d *Driver) HarvestCookies() ([]models.Cookie, error) {
	browser, err := d.launch()
	if err != nil {
		return nil, apperr.Wrap(err, 503, "failed to launch browser")
	}
	defer func() {
		if cerr := browser.Close(); cerr != nil {
			util.Errorf("failed to close browser: %v", cerr)
		}
	}()

	page, err := d.newPage(browser)
	if err != nil {
		return nil, apperr.Wrap(err, 503, "failed to prepare browser page")
	}

	if _, err := page.Goto(d.cfg.HomeURL(), playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(d.cfg.NavigateTimeout.Milliseconds())),
	}); err != nil {
		return nil, apperr.Wrap(err, 503, "failed to load site home")
	}

	page.WaitForTimeout(2000)

	// Wait for the guard cookie element to disappear if the challenge is up.
	if visible, _ := page.Locator(d.cfg.Markers.Selector).IsVisible(); visible {
		util.Info("challenge interstitial detected, waiting for clearance")
		if err := page.Locator(d.cfg.Markers.Selector).WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateHidden,
			Timeout: playwright.Float(float64(d.cfg.ChallengeTimeout.Milliseconds())),
		}); err != nil {
			util.Warnf("challenge wait timed out: %v", err)
		}
	}

	raw, err := page.Context().Cookies()
	if err != nil {
		return nil, apperr.Wrap(err, 503, "failed to read cookies")
	}
	if len(raw) == 0 {
		return nil, apperr.Unavailable("no cookies found after page load")
	}

	cookies := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, models.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain})
	}
	return cookies, nil
}

// FetchRenderedHTML navigates to rawURL, rides out any challenge and returns
// the rendered document. The browser process is torn down on every path. A
// challenge that never clears within the bounded wait still returns content;
// downstream extraction decides whether the page is usable.
func (d *Driver) FetchRenderedHTML(rawURL string, wait WaitMode) (string, []models.Cookie, error) {
	browser, err := d.launch()
	if err != nil {
		return "", nil, apperr.Wrap(err, 503, "failed to launch browser")
	}
	defer func() {
		if cerr := browser.Close(); cerr != nil {
			util.Errorf("failed to close browser: %v", cerr)
		}
	}()

	page, err := d.newPage(browser)
	if err != nil {
		return "", nil, apperr.Wrap(err, 503, "failed to prepare browser page")
	}

	resp, err := page.Goto(rawURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(d.cfg.NavigateTimeout.Milliseconds())),
	})
	if err != nil {
		return "", nil, apperr.Wrap(err, 503, "navigation failed")
	}
	if resp != nil && resp.Status() >= 400 {
		return "", nil, apperr.Unavailable(fmt.Sprintf("browser navigation returned HTTP %d", resp.Status()))
	}

	d.rideOutChallenge(page)

	switch wait {
	case WaitDocument:
		if _, err := page.WaitForSelector(".episode-wrap, .episode-list", playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(float64(d.cfg.ChallengeTimeout.Milliseconds())),
		}); err != nil {
			util.Debugf("document selector wait elapsed: %v", err)
		}
	case WaitJSONShape:
		if _, err := page.WaitForFunction(
			`() => { const t = document.body.textContent; return t.includes('{') && t.includes('}'); }`,
			nil,
			playwright.PageWaitForFunctionOptions{Timeout: playwright.Float(float64(d.cfg.ChallengeTimeout.Milliseconds()))},
		); err != nil {
			util.Debugf("content shape wait elapsed: %v", err)
		}
	}

	html, err := page.Content()
	if err != nil {
		return "", nil, apperr.Wrap(err, 503, "failed to read page content")
	}

	var cookies []models.Cookie
	if raw, cerr := page.Context().Cookies(); cerr == nil {
		for _, c := range raw {
			cookies = append(cookies, models.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain})
		}
	}

	return html, cookies, nil
}

// rideOutChallenge polls for challenge markers and, when present, waits
// bounded for them to clear. A timeout is not fatal; the caller inspects the
// content it gets.
func (d *Driver) rideOutChallenge(page playwright.Page) {
	page.WaitForTimeout(3000)

	title, _ := page.Title()
	titleLower := strings.ToLower(title)
	active := false
	for _, phrase := range d.cfg.Markers.TitlePhrases {
		if strings.Contains(titleLower, phrase) {
			active = true
			break
		}
	}
	if !active {
		if bodyText, err := page.Evaluate(`() => document.body.textContent.toLowerCase()`); err == nil {
			if text, ok := bodyText.(string); ok {
				for _, phrase := range d.cfg.Markers.BodyPhrases {
					if strings.Contains(text, phrase) {
						active = true
						break
					}
				}
			}
		}
	}
	if !active {
		return
	}

	util.Info("challenge detected, waiting for resolution", "timeout", d.cfg.ChallengeTimeout)
	expr := fmt.Sprintf(
		`() => { const t = document.body.textContent.toLowerCase(); const ti = document.title.toLowerCase(); return %s; }`,
		markersGone(d.cfg.Markers),
	)
	if _, err := page.WaitForFunction(expr, nil, playwright.PageWaitForFunctionOptions{
		Timeout: playwright.Float(float64(d.cfg.ChallengeTimeout.Milliseconds())),
	}); err != nil {
		util.Warn("challenge wait timed out, inspecting content anyway")
		return
	}
	util.Debug("challenge resolved")
	// Let the post-challenge redirect settle.
	page.WaitForTimeout(1000)
}

// markersGone renders the negated marker checks as a JS expression.
func markersGone(m config.ChallengeMarkers) string {
	var conds []string
	for _, p := range m.BodyPhrases {
		conds = append(conds, fmt.Sprintf("!t.includes(%q)", p))
	}
	for _, p := range m.TitlePhrases {
		conds = append(conds, fmt.Sprintf("!ti.includes(%q)", p))
	}
	return strings.Join(conds, " && ")
}
