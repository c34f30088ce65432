package scraper

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/models"
)

var (
	nonDigitRe      = regexp.MustCompile(`\D`)
	downloadTrailRe = regexp.MustCompile(`(?i)(\d+p?)\s*\((\d+(?:\.\d+)?\s?(?:MB|GB))\)(?:\s*(eng))?`)
)

// ExtractJSVariable pulls the value of an inline script assignment like
//
//	let session = "abc123";
//
// from raw page HTML. Returns "" when the variable is absent.
func ExtractJSVariable(html, name string) string {
	re := regexp.MustCompile(`(?:let|var|const)\s+` + regexp.QuoteMeta(name) + `\s*=\s*["']([^"']*)["']`)
	if m := re.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

// PlayPageData is the parsed view of one episode page.
type PlayPageData struct {
	IDs         models.ExternalIDs
	Session     string
	Provider    string
	Episode     string
	Title       string
	Resolutions []models.Resolution
	Downloads   []models.DownloadLink
}

// ParsePlayPage extracts everything the resolver needs from an episode page.
// A page missing the session or provider token does not represent a valid
// episode and yields a 404-coded error.
func ParsePlayPage(html string) (*PlayPageData, error) {
	session := ExtractJSVariable(html, "session")
	provider := ExtractJSVariable(html, "provider")
	if session == "" || provider == "" {
		return nil, apperr.NotFound("Episode not found")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperr.Wrap(err, 503, "failed to parse play page")
	}

	data := &PlayPageData{
		IDs:         parseMetaIDs(doc),
		Session:     session,
		Provider:    provider,
		Episode:     nonDigitRe.ReplaceAllString(doc.Find(".episode-menu #episodeMenu").Text(), ""),
		Title:       strings.TrimSpace(doc.Find(".theatre-info h1 a").First().Text()),
		Resolutions: ParseResolutions(doc),
		Downloads:   ParseDownloadLinks(doc),
	}
	return data, nil
}

// ParseResolutions reads the resolution-picker buttons. Buttons without an
// embed link are skipped.
func ParseResolutions(doc *goquery.Document) []models.Resolution {
	var resolutions []models.Resolution

	doc.Find("#resolutionMenu button").Each(func(_ int, s *goquery.Selection) {
		link, ok := s.Attr("data-src")
		if !ok || link == "" {
			return
		}
		audio, _ := s.Attr("data-audio")
		fansub, _ := s.Attr("data-fansub")
		resolution, _ := s.Attr("data-resolution")

		resolutions = append(resolutions, models.Resolution{
			URL:        link,
			Resolution: resolution,
			IsDub:      strings.EqualFold(audio, "eng"),
			FanSub:     fansub,
		})
	})

	return resolutions
}

// ParseDownloadLinks reads the download-button anchors. Display text follows
// the pattern "Fansub · 1080p (350MB) eng" where the fansub segment and the
// trailing size/eng markers are each optional. When structured parsing fails
// the verbatim text is kept as the quality label.
func ParseDownloadLinks(doc *goquery.Document) []models.DownloadLink {
	var links []models.DownloadLink

	doc.Find("#pickDownload a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		fullText := strings.TrimSpace(s.Text())

		entry := models.DownloadLink{
			URL:     href,
			Quality: fullText,
		}

		rest := fullText
		if before, after, found := strings.Cut(fullText, "·"); found {
			entry.Fansub = strings.TrimSpace(before)
			rest = strings.TrimSpace(after)
		}

		if m := downloadTrailRe.FindStringSubmatch(rest); m != nil {
			entry.Quality = m[1]
			entry.Filesize = strings.ReplaceAll(m[2], " ", "")
			entry.IsDub = m[3] != ""
		}

		links = append(links, entry)
	})

	return links
}

// parseMetaIDs collects the external database IDs from the page's meta tags.
// Every field is independently optional.
func parseMetaIDs(doc *goquery.Document) models.ExternalIDs {
	metaContent := func(name string) string {
		v, _ := doc.Find(`meta[name="` + name + `"]`).Attr("content")
		return v
	}
	metaInt := func(name string) int {
		n, err := strconv.Atoi(metaContent(name))
		if err != nil {
			return 0
		}
		return n
	}

	return models.ExternalIDs{
		AnimepaheID: metaInt("id"),
		MALID:       metaInt("myanimelist"),
		AniListID:   metaInt("anilist"),
		AnimePlanet: metaContent("anime-planet"),
		ANN:         metaContent("ann"),
		Kitsu:       metaContent("kitsu"),
		MyAnimeList: metaContent("myanimelist"),
		AniList:     metaContent("anilist"),
	}
}
