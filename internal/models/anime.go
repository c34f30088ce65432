package models

// AnimeInfo is the scraped detail page for one series.
type AnimeInfo struct {
	Title     string       `json:"title"`
	Poster    string       `json:"poster"`
	Synopsis  string       `json:"synopsis"`
	Type      string       `json:"type,omitempty"`
	Episodes  string       `json:"episodes,omitempty"`
	Status    string       `json:"status,omitempty"`
	Duration  string       `json:"duration,omitempty"`
	Aired     string       `json:"aired,omitempty"`
	Season    string       `json:"season,omitempty"`
	Studio    string       `json:"studio,omitempty"`
	Themes    []string     `json:"themes,omitempty"`
	Genres    []string     `json:"genres,omitempty"`
	External  ExternalIDs  `json:"externalLinks"`
	Relations []AnimeCard  `json:"relations,omitempty"`
}

// AnimeCard is one entry in a relations or recommendations strip.
type AnimeCard struct {
	Title   string `json:"title"`
	Session string `json:"session,omitempty"`
	Poster  string `json:"poster,omitempty"`
}

// AnimeListEntry is one row of the A-Z index. The index markup carries only
// the title anchor and the letter grouping.
type AnimeListEntry struct {
	Title   string `json:"title"`
	Session string `json:"session"`
	Letter  string `json:"letter,omitempty"`
}
