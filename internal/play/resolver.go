// Package play turns one episode page into an aggregated streaming response:
// metadata, per-resolution manifest sources, and hydrated download links.
package play

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ElijahCodes12345/animepahe-api/internal/config"
	"github.com/ElijahCodes12345/animepahe-api/internal/models"
	"github.com/ElijahCodes12345/animepahe-api/internal/sandbox"
	"github.com/ElijahCodes12345/animepahe-api/internal/scraper"
	"github.com/ElijahCodes12345/animepahe-api/internal/urlconv"
	"github.com/ElijahCodes12345/animepahe-api/internal/util"
)

// Fetcher is the slice of the scraper client the resolver depends on.
type Fetcher interface {
	PlayPage(ctx context.Context, id, episodeID, overrideCookies string) (string, error)
	EmbedPage(ctx context.Context, embedURL string) (string, error)
}

// Resolver drives the per-episode pipeline: fetch page, parse, fan out over
// the deduplicated resolutions, hydrate download links.
type Resolver struct {
	cfg     *config.Config
	fetcher Fetcher
	eval    *sandbox.Evaluator
}

// NewResolver builds a Resolver on top of the given fetcher.
func NewResolver(cfg *config.Config, fetcher Fetcher, eval *sandbox.Evaluator) *Resolver {
	return &Resolver{cfg: cfg, fetcher: fetcher, eval: eval}
}

// StreamingInfo resolves every playable source for one episode. Page fetch
// and parse failures are terminal; everything after that degrades to partial
// results, never an error.
func (r *Resolver) StreamingInfo(ctx context.Context, id, episodeID, overrideCookies string, includeDownloads bool) (*models.PlayInfo, error) {
	html, err := r.fetcher.PlayPage(ctx, id, episodeID, overrideCookies)
	if err != nil {
		return nil, err
	}

	data, err := scraper.ParsePlayPage(html)
	if err != nil {
		return nil, err
	}

	info := &models.PlayInfo{
		IDs:      data.IDs,
		Session:  data.Session,
		Provider: data.Provider,
		Episode:  data.Episode,
		Sources:  []models.Source{},
	}

	info.Sources = r.resolveSources(ctx, data.Title, data.Episode, data.Resolutions)

	if includeDownloads {
		info.DownloadLinks = hydrateDownloads(data.Downloads, info.Sources)
	} else {
		info.DownloadLinks = []models.DownloadLink{}
	}

	return info, nil
}

// resolveSources fans out over the resolution descriptors in fixed-size
// batches. Duplicate embed URLs are dropped up front so each unique embed
// page is fetched exactly once; a failed item contributes nothing rather
// than failing the batch.
func (r *Resolver) resolveSources(ctx context.Context, title, episode string, resolutions []models.Resolution) []models.Source {
	unique := dedupe(resolutions)
	if len(unique) == 0 {
		return []models.Source{}
	}

	batchSize := r.cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	results := make([]*models.Source, len(unique))
	for start := 0; start < len(unique); start += batchSize {
		end := start + batchSize
		if end > len(unique) {
			end = len(unique)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = r.resolveOne(ctx, title, episode, unique[idx])
			}(i)
		}
		wg.Wait()

		if end < len(unique) {
			select {
			case <-time.After(r.cfg.BatchDelay):
			case <-ctx.Done():
				return collect(results)
			}
		}
	}

	return collect(results)
}

func (r *Resolver) resolveOne(ctx context.Context, title, episode string, res models.Resolution) *models.Source {
	html, err := r.fetcher.EmbedPage(ctx, res.URL)
	if err != nil {
		util.Warnf("embed fetch failed for %s (%s): %v", res.Resolution, res.URL, err)
		return nil
	}

	extracted := r.eval.ExtractManifest(html)
	if extracted == nil {
		util.Warnf("no manifest found in embed page for %s", res.Resolution)
		return nil
	}

	src := &models.Source{
		URL:        extracted.URL,
		IsM3U8:     extracted.IsM3U8,
		Resolution: res.Resolution,
		IsDub:      res.IsDub,
		FanSub:     res.FanSub,
	}
	src.DownloadURL = urlconv.BuildDownloadURL(extracted.URL, r.cfg.KwikHost, urlconv.FilenameMeta{
		AnimeTitle: title,
		Episode:    episode,
		Resolution: res.Resolution,
		Fansub:     res.FanSub,
		IsDub:      res.IsDub,
	})
	return src
}

func dedupe(resolutions []models.Resolution) []models.Resolution {
	seen := make(map[string]bool, len(resolutions))
	out := make([]models.Resolution, 0, len(resolutions))
	for _, res := range resolutions {
		if res.URL == "" || seen[res.URL] {
			continue
		}
		seen[res.URL] = true
		out = append(out, res)
	}
	return out
}

func collect(results []*models.Source) []models.Source {
	out := make([]models.Source, 0, len(results))
	for _, s := range results {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// hydrateDownloads fills each download entry's direct URL from the resolved
// source that shares its resolution, fansub, and dub flag. Entries with no
// matching source keep an empty direct URL; no extra fetches happen here.
func hydrateDownloads(downloads []models.DownloadLink, sources []models.Source) []models.DownloadLink {
	if downloads == nil {
		return []models.DownloadLink{}
	}

	byKey := make(map[string]string, len(sources))
	for _, src := range sources {
		if src.DownloadURL == "" {
			continue
		}
		byKey[sourceKey(src.Resolution, src.FanSub, src.IsDub)] = src.DownloadURL
	}

	out := make([]models.DownloadLink, len(downloads))
	for i, dl := range downloads {
		out[i] = dl
		out[i].DirectURL = byKey[sourceKey(dl.Quality, dl.Fansub, dl.IsDub)]
	}
	return out
}

func sourceKey(resolution, fansub string, isDub bool) string {
	key := strings.TrimSuffix(strings.ToLower(resolution), "p") + "|" + strings.ToLower(fansub)
	if isDub {
		return key + "|dub"
	}
	return key + "|sub"
}
