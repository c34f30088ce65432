// Package config holds the environment-driven service configuration.
package config

import (
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ChallengeMarkers is the site-specific data the anti-bot handling keys on.
// It lives in configuration rather than the control flow so the strings can
// be updated when the guard service changes without touching the scraper.
type ChallengeMarkers struct {
	// Selector that is present while the challenge interstitial runs.
	Selector string
	// Phrases found in the body or title of a block page, lower-cased.
	BodyPhrases  []string
	TitlePhrases []string
}

// DefaultMarkers matches the DDoS-Guard interstitial animepahe fronts with
// and the Cloudflare wait page on the embed host.
func DefaultMarkers() ChallengeMarkers {
	return ChallengeMarkers{
		Selector: "#ddg-cookie",
		BodyPhrases: []string{
			"ddos-guard",
			"checking your browser",
			"just a moment",
		},
		TitlePhrases: []string{
			"please wait",
			"just a moment",
		},
	}
}

// Config is the full service configuration, loaded once at startup.
type Config struct {
	BaseURL   string
	KwikHost  string
	UserAgent string
	Port      string

	// Manual cookie override. When set it bypasses the stored bundle.
	Cookies string

	CookiesPath     string
	RefreshInterval time.Duration
	// Bundles older than RefreshInterval-RefreshMargin trigger a background
	// refresh while the current bundle is still served.
	RefreshMargin time.Duration

	Proxies      []string
	ProxyEnabled bool

	AllowedOrigins []string

	RateLimitMax    int
	RateLimitWindow time.Duration
	RateLimitSecret string

	// Serverless deployments get shorter timeouts and narrower fan-out.
	Serverless       bool
	RequestTimeout   time.Duration
	ChallengeTimeout time.Duration
	NavigateTimeout  time.Duration
	BatchSize        int
	BatchDelay       time.Duration

	Markers ChallengeMarkers
}

// Default returns the built-in configuration for a local deployment, before
// any environment overrides.
func Default() *Config {
	cfg := &Config{
		BaseURL:         "https://animepahe.si",
		KwikHost:        "kwik.si",
		UserAgent:       defaultUserAgent,
		Port:            "3000",
		CookiesPath:     filepath.Join(os.TempDir(), "cookies.json"),
		RefreshInterval: 14 * 24 * time.Hour,
		RefreshMargin:   24 * time.Hour,
		AllowedOrigins:  []string{"*"},
		RateLimitMax:    100,
		RateLimitWindow: 15 * time.Minute,
		Markers:         DefaultMarkers(),
	}
	cfg.applyProfile()
	return cfg
}

// applyProfile sets the timeout and fan-out knobs for the current
// deployment profile.
func (c *Config) applyProfile() {
	if c.Serverless {
		c.RequestTimeout = 10 * time.Second
		c.ChallengeTimeout = 10 * time.Second
		c.NavigateTimeout = 30 * time.Second
		c.BatchSize = 1
		c.BatchDelay = 2 * time.Second
	} else {
		c.RequestTimeout = 30 * time.Second
		c.ChallengeTimeout = 30 * time.Second
		c.NavigateTimeout = 60 * time.Second
		c.BatchSize = 3
		c.BatchDelay = 500 * time.Millisecond
	}
}

// Load builds the configuration from the process environment.
func Load() (*Config, error) {
	cfg := Default()

	cfg.Serverless = os.Getenv("VERCEL") != "" ||
		os.Getenv("NETLIFY") != "" ||
		os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
	cfg.applyProfile()

	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("KWIK_HOST"); v != "" {
		cfg.KwikHost = v
	}
	if v := os.Getenv("USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("COOKIES"); v != "" {
		cfg.Cookies = strings.TrimSpace(v)
	}
	if v := os.Getenv("COOKIES_PATH"); v != "" {
		cfg.CookiesPath = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitTrim(v)
	}
	if v := os.Getenv("RATE_LIMIT_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_MAX %q: %w", v, err)
		}
		cfg.RateLimitMax = n
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW %q: %w", v, err)
		}
		cfg.RateLimitWindow = time.Duration(secs) * time.Second
	}
	cfg.RateLimitSecret = os.Getenv("RATE_LIMIT_SECRET")

	if v := os.Getenv("PROXIES"); v != "" {
		for _, p := range splitTrim(v) {
			if validProxy(p) {
				cfg.Proxies = append(cfg.Proxies, p)
			}
		}
	}
	cfg.ProxyEnabled = os.Getenv("USE_PROXY") == "true" && len(cfg.Proxies) > 0

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent is required")
	}
	return nil
}

// HomeURL returns the site root.
func (c *Config) HomeURL() string { return c.BaseURL + "/" }

// APIURL returns the upstream JSON API endpoint.
func (c *Config) APIURL() string { return c.BaseURL + "/api" }

// PlayURL returns the episode page URL for an anime/episode pair.
func (c *Config) PlayURL(id, episodeID string) string {
	return fmt.Sprintf("%s/play/%s/%s", c.BaseURL, id, episodeID)
}

// AnimeInfoURL returns the anime detail page URL.
func (c *Config) AnimeInfoURL(id string) string {
	return c.BaseURL + "/anime/" + id
}

// AnimeListURL returns the A-Z index page, optionally filtered by tags.
func (c *Config) AnimeListURL(tag1, tag2 string) string {
	switch {
	case tag1 != "" && tag2 != "":
		return fmt.Sprintf("%s/anime/%s/%s", c.BaseURL, tag1, tag2)
	case tag1 != "":
		return c.BaseURL + "/anime/" + tag1
	default:
		return c.BaseURL + "/anime"
	}
}

// RandomProxy picks one proxy from the pool, or "" when none are configured.
func (c *Config) RandomProxy() string {
	if len(c.Proxies) == 0 {
		return ""
	}
	return c.Proxies[rand.Intn(len(c.Proxies))]
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func validProxy(p string) bool {
	if !strings.HasPrefix(p, "http") {
		p = "http://" + p
	}
	u, err := url.Parse(p)
	return err == nil && u.Hostname() != ""
}
