package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/models"
)

// ParseAnimeInfo extracts the series detail block from an anime page.
func ParseAnimeInfo(html string) (*models.AnimeInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperr.Wrap(err, 503, "failed to parse anime page")
	}

	info := &models.AnimeInfo{
		Title:    strings.TrimSpace(doc.Find(".title-wrapper h1 span").First().Text()),
		Synopsis: strings.TrimSpace(doc.Find(".anime-synopsis").First().Text()),
		External: parseMetaIDs(doc),
	}
	if info.Title == "" {
		info.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if info.Title == "" {
		return nil, apperr.NotFound("Anime not found")
	}

	if poster, ok := doc.Find(".anime-poster img").First().Attr("data-src"); ok {
		info.Poster = poster
	} else if poster, ok := doc.Find(".anime-poster img").First().Attr("src"); ok {
		info.Poster = poster
	}

	doc.Find(".anime-info p").Each(func(_ int, p *goquery.Selection) {
		label := strings.TrimSpace(p.Find("strong").First().Text())
		value := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p.Text()), label))
		value = strings.TrimSpace(strings.TrimPrefix(value, ":"))
		switch strings.TrimSuffix(strings.ToLower(label), ":") {
		case "type":
			info.Type = value
		case "episodes":
			info.Episodes = value
		case "status":
			info.Status = value
		case "duration":
			info.Duration = value
		case "aired":
			info.Aired = value
		case "season":
			info.Season = value
		case "studio":
			info.Studio = value
		case "themes":
			info.Themes = splitLinkList(p)
		}
	})

	doc.Find(".anime-genre ul li a").Each(func(_ int, a *goquery.Selection) {
		if g := strings.TrimSpace(a.Text()); g != "" {
			info.Genres = append(info.Genres, g)
		}
	})

	doc.Find(".anime-relation .col-12").Each(func(_ int, rel *goquery.Selection) {
		card := models.AnimeCard{
			Title: strings.TrimSpace(rel.Find("h5 a").First().Text()),
		}
		if href, ok := rel.Find("h5 a").First().Attr("href"); ok {
			card.Session = strings.TrimPrefix(href, "/anime/")
		}
		if img, ok := rel.Find("img").First().Attr("data-src"); ok {
			card.Poster = img
		}
		if card.Title != "" {
			info.Relations = append(info.Relations, card)
		}
	})

	return info, nil
}

func splitLinkList(p *goquery.Selection) []string {
	var out []string
	p.Find("a").Each(func(_ int, a *goquery.Selection) {
		if v := strings.TrimSpace(a.Text()); v != "" {
			out = append(out, v)
		}
	})
	return out
}

// ParseAnimeList extracts every series from the A-Z index page.
func ParseAnimeList(html string) ([]models.AnimeListEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperr.Wrap(err, 503, "failed to parse anime list page")
	}

	var entries []models.AnimeListEntry
	doc.Find(".tab-content [data-letter], .tab-content .col-12").Each(func(_ int, row *goquery.Selection) {
		a := row.Find("a").First()
		if a.Length() == 0 {
			if goquery.NodeName(row) == "a" {
				a = row
			} else {
				return
			}
		}
		title := strings.TrimSpace(a.Text())
		if t, ok := a.Attr("title"); ok && t != "" {
			title = strings.TrimSpace(t)
		}
		href, _ := a.Attr("href")
		if title == "" || !strings.Contains(href, "/anime/") {
			return
		}
		entry := models.AnimeListEntry{
			Title:   title,
			Session: href[strings.LastIndex(href, "/")+1:],
		}
		if letter, ok := row.Attr("data-letter"); ok {
			entry.Letter = letter
		}
		entries = append(entries, entry)
	})

	if len(entries) == 0 {
		return nil, apperr.NotFound("Anime list not found")
	}
	return entries, nil
}
