package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ElijahCodes12345/animepahe-api/internal/models"
	"github.com/ElijahCodes12345/animepahe-api/internal/scraper"
)

// APIClient covers the upstream JSON passthrough endpoints.
type APIClient interface {
	Airing(ctx context.Context, page int, cookies string) (json.RawMessage, error)
	Search(ctx context.Context, query string, page int, cookies string) (json.RawMessage, error)
	Queue(ctx context.Context, cookies string) (json.RawMessage, error)
	Releases(ctx context.Context, id, sort string, page int, cookies string) (json.RawMessage, error)
}

// PageClient covers the HTML pages that are parsed server-side.
type PageClient interface {
	AnimeInfo(ctx context.Context, id, cookies string) (string, error)
	AnimeList(ctx context.Context, tag1, tag2, cookies string) (string, error)
}

// StreamResolver resolves one episode into its aggregated play response.
type StreamResolver interface {
	StreamingInfo(ctx context.Context, id, episodeID, cookies string, includeDownloads bool) (*models.PlayInfo, error)
}

// DownloadLinkResolver resolves one download-button URL to a direct link.
type DownloadLinkResolver interface {
	Resolve(ctx context.Context, pageURL string) (*models.DirectDownload, error)
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// cookiesParam is the optional manual credential override a caller can send
// instead of relying on the server's stored bundle.
func cookiesParam(r *http.Request) string {
	return r.URL.Query().Get("cookies")
}

func (s *Server) handleAiring(w http.ResponseWriter, r *http.Request) {
	data, err := s.api.Airing(r.Context(), pageParam(r), cookiesParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	data, err := s.api.Search(r.Context(), r.URL.Query().Get("q"), pageParam(r), cookiesParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	data, err := s.api.Queue(r.Context(), cookiesParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleReleases(w http.ResponseWriter, r *http.Request) {
	sort := r.URL.Query().Get("sort")
	if sort == "" {
		sort = "episode_desc"
	}
	data, err := s.api.Releases(r.Context(), chi.URLParam(r, "id"), sort, pageParam(r), cookiesParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleAnimeInfo(w http.ResponseWriter, r *http.Request) {
	html, err := s.pages.AnimeInfo(r.Context(), chi.URLParam(r, "id"), cookiesParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := scraper.ParseAnimeInfo(html)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAnimeList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	html, err := s.pages.AnimeList(r.Context(), q.Get("tag1"), q.Get("tag2"), cookiesParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := scraper.ParseAnimeList(html)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// downloads defaults to true; ?downloads=false or ?downloads=0 skips
	// the download list.
	downloads := q.Get("downloads")
	includeDownloads := downloads == "" || downloads == "true" || downloads == "1"

	info, err := s.resolver.StreamingInfo(r.Context(), chi.URLParam(r, "id"), q.Get("episodeId"), cookiesParam(r), includeDownloads)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDownloadLinks(w http.ResponseWriter, r *http.Request) {
	result, err := s.downloads.Resolve(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
