package server

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ElijahCodes12345/animepahe-api/internal/config"
	"github.com/ElijahCodes12345/animepahe-api/internal/util"
)

// cached serves and stores JSON responses keyed by normalized path plus
// sorted query string. Only 200 responses are stored.
func (s *Server) cached(ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.URL.Path
			if enc := r.URL.Query().Encode(); enc != "" {
				key += "?" + enc
			}

			if body, ok := s.cache.Get(key); ok {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				if _, err := w.Write(body); err != nil {
					util.Debugf("cache write failed: %v", err)
				}
				return
			}

			rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status == http.StatusOK && rec.buf.Len() > 0 {
				s.cache.Set(key, rec.buf.Bytes(), ttl)
			}
		})
	}
}

// captureWriter tees the response body so a successful payload can be cached
// after it has been sent.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == http.StatusOK {
		c.buf.Write(p)
	}
	return c.ResponseWriter.Write(p)
}

// corsMiddleware applies the configured origin allow-list. A "*" entry
// allows every origin; a request from a disallowed origin is rejected
// outright.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !originAllowed(origin, s.cfg.AllowedOrigins) {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "Not allowed by CORS"})
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// rateLimiter is a fixed-window per-IP counter. It only engages when the
// deployment sets a rate-limit secret; without one every request passes.
type rateLimiter struct {
	cfg *config.Config

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	started time.Time
}

func newRateLimiter(cfg *config.Config) *rateLimiter {
	return &rateLimiter{cfg: cfg, windows: make(map[string]*window)}
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.cfg.RateLimitSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if ip == "" {
			util.Warn("could not determine client IP, skipping rate limit")
			next.ServeHTTP(w, r)
			return
		}

		remaining, reset, ok := rl.take(ip)
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.cfg.RateLimitMax))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", reset.UTC().Format(time.RFC3339))

		if !ok {
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":      "Rate limit exceeded. Please try again later.",
				"message":    fmt.Sprintf("Too many requests from this IP. Limit is %d requests per %s.", rl.cfg.RateLimitMax, rl.cfg.RateLimitWindow),
				"retryAfter": int(time.Until(reset).Seconds()),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// take consumes one slot for the IP, rolling the window when it has lapsed.
func (rl *rateLimiter) take(ip string) (remaining int, reset time.Time, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	win := rl.windows[ip]
	if win == nil || now.Sub(win.started) >= rl.cfg.RateLimitWindow {
		win = &window{started: now}
		rl.windows[ip] = win
		rl.prune(now)
	}
	reset = win.started.Add(rl.cfg.RateLimitWindow)

	if win.count >= rl.cfg.RateLimitMax {
		return 0, reset, false
	}
	win.count++
	return rl.cfg.RateLimitMax - win.count, reset, true
}

// prune drops lapsed windows; called with the lock held.
func (rl *rateLimiter) prune(now time.Time) {
	for ip, win := range rl.windows {
		if now.Sub(win.started) >= rl.cfg.RateLimitWindow {
			delete(rl.windows, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	// middleware.RealIP has already folded X-Forwarded-For / X-Real-IP into
	// RemoteAddr.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
