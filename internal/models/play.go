// Package models contains animepahe-specific data structures
package models

import "time"

// Cookie is a single browser cookie harvested after a solved challenge.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
}

// CookieBundle is the persisted credential blob. A single bundle exists at a
// time; the capture timestamp decides whether it is still usable.
type CookieBundle struct {
	Timestamp int64    `json:"timestamp"`
	Cookies   []Cookie `json:"cookies"`
}

// CapturedAt returns the time the bundle was harvested.
func (b *CookieBundle) CapturedAt() time.Time {
	return time.UnixMilli(b.Timestamp)
}

// Age reports how old the bundle is relative to now.
func (b *CookieBundle) Age(now time.Time) time.Duration {
	return now.Sub(b.CapturedAt())
}

// Header renders the bundle as a Cookie request header value.
func (b *CookieBundle) Header() string {
	out := ""
	for i, c := range b.Cookies {
		if i > 0 {
			out += "; "
		}
		out += c.Name + "=" + c.Value
	}
	return out
}

// Resolution is one selectable quality/audio option on an episode page, each
// pointing at its own embed page.
type Resolution struct {
	URL        string `json:"url"`
	Resolution string `json:"resolution"`
	IsDub      bool   `json:"isDub"`
	FanSub     string `json:"fanSub,omitempty"`
}

// Source is a resolved streaming source for one resolution.
type Source struct {
	URL         string `json:"url"`
	IsM3U8      bool   `json:"isM3U8"`
	Resolution  string `json:"resolution"`
	IsDub       bool   `json:"isDub"`
	FanSub      string `json:"fanSub,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// DownloadLink is one entry from the episode page's download-button list.
// DirectURL is hydrated from an already-resolved Source when the composite
// key (resolution, fansub, dub) matches; it is never fetched independently.
type DownloadLink struct {
	URL       string `json:"url"`
	Fansub    string `json:"fansub,omitempty"`
	Quality   string `json:"quality"`
	Filesize  string `json:"filesize,omitempty"`
	IsDub     bool   `json:"isDub"`
	DirectURL string `json:"directUrl,omitempty"`
}

// ExternalIDs carries the cross-reference identifiers found in the episode
// page's meta tags. Each field is independently optional.
type ExternalIDs struct {
	AnimepaheID int    `json:"animepahe_id,omitempty"`
	MALID       int    `json:"mal_id,omitempty"`
	AniListID   int    `json:"anilist_id,omitempty"`
	AnimePlanet string `json:"anime_planet,omitempty"`
	ANN         string `json:"ann,omitempty"`
	Kitsu       string `json:"kitsu,omitempty"`
	MyAnimeList string `json:"myanimelist,omitempty"`
	AniList     string `json:"anilist,omitempty"`
}

// PlayInfo is the aggregated response for one episode: page metadata plus the
// flattened source list and the download list.
type PlayInfo struct {
	IDs           ExternalIDs    `json:"ids"`
	Session       string         `json:"session"`
	Provider      string         `json:"provider"`
	Episode       string         `json:"episode"`
	Sources       []Source       `json:"sources"`
	DownloadLinks []DownloadLink `json:"downloadLinks"`
}

// DirectDownload is the result of resolving a single download-page URL.
type DirectDownload struct {
	DownloadURL string `json:"downloadUrl"`
	Type        string `json:"type"`
	OriginalURL string `json:"originalUrl,omitempty"`
}
