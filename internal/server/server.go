// Package server exposes the HTTP API: thin route handlers over the scraper
// client and play resolver, with response caching, CORS, and optional
// IP rate limiting.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/config"
	"github.com/ElijahCodes12345/animepahe-api/internal/util"
)

// Route cache TTLs. Listings churn fast, static metadata barely moves.
const (
	cacheTTLAiring    = 60 * time.Second
	cacheTTLSearch    = 60 * time.Second
	cacheTTLQueue     = 30 * time.Second
	cacheTTLReleases  = time.Hour
	cacheTTLAnimeInfo = 24 * time.Hour
	cacheTTLAnimeList = 5 * time.Hour
	cacheTTLPlay      = time.Hour
)

// Server wires the route handlers to their collaborators.
type Server struct {
	cfg       *config.Config
	api       APIClient
	pages     PageClient
	resolver  StreamResolver
	downloads DownloadLinkResolver

	cache   *util.ResponseCache
	limiter *rateLimiter
}

// New builds a Server. The cache is shared across all routes; each route
// picks its own TTL.
func New(cfg *config.Config, api APIClient, pages PageClient, resolver StreamResolver, downloads DownloadLinkResolver) *Server {
	return &Server{
		cfg:       cfg,
		api:       api,
		pages:     pages,
		resolver:  resolver,
		downloads: downloads,
		cache:     util.NewResponseCache(512),
		limiter:   newRateLimiter(cfg),
	}
}

// Router assembles the chi router with the shared middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(s.corsMiddleware)
	r.Use(s.limiter.middleware)

	r.Route("/api", func(r chi.Router) {
		r.With(s.cached(cacheTTLAiring)).Get("/airing", s.handleAiring)
		r.With(s.cached(cacheTTLSearch)).Get("/search", s.handleSearch)
		r.With(s.cached(cacheTTLQueue)).Get("/queue", s.handleQueue)
		r.With(s.cached(cacheTTLReleases)).Get("/releases/{id}", s.handleReleases)
		r.With(s.cached(cacheTTLAnimeInfo)).Get("/anime/{id}", s.handleAnimeInfo)
		r.With(s.cached(cacheTTLAnimeList)).Get("/anime-list", s.handleAnimeList)

		// download-links is registered before the id route so the literal
		// path segment is not captured as an id.
		r.Get("/play/download-links", s.handleDownloadLinks)
		r.With(s.cached(cacheTTLPlay)).Get("/play/{id}", s.handlePlay)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, apperr.NotFound("Route not found. Please check the API documentation at https://github.com/ElijahCodes12345/animepahe-api"))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Errorf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	writeJSON(w, status, map[string]interface{}{
		"error":  err.Error(),
		"status": status,
	})
}
