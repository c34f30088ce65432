package play

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/config"
	"github.com/ElijahCodes12345/animepahe-api/internal/models"
	"github.com/ElijahCodes12345/animepahe-api/internal/sandbox"
)

const episodeHTML = `<html><head>
<meta name="id" content="5200">
<meta name="myanimelist" content="40748">
</head><body>
<div class="theatre-info"><h1><a href="/anime/x">Great Show</a></h1></div>
<div class="episode-menu"><button id="episodeMenu">Episode 3</button></div>
<div id="resolutionMenu">
<button data-src="https://kwik.si/e/aaa720" data-resolution="720" data-audio="jpn" data-fansub="SubsPlease">720p</button>
<button data-src="https://kwik.si/e/bbb1080" data-resolution="1080" data-audio="jpn" data-fansub="SubsPlease">1080p</button>
<button data-src="https://kwik.si/e/bbb1080" data-resolution="1080" data-audio="jpn" data-fansub="SubsPlease">1080p again</button>
</div>
<div id="pickDownload">
<a href="https://pahe.win/dl1080">SubsPlease &middot; 1080p (350MB)</a>
<a href="https://pahe.win/dl480">480p (120MB)</a>
</div>
<script>let session = "sess-123";
let provider = "kwik";</script>
</body></html>`

type fakeFetcher struct {
	mu         sync.Mutex
	playHTML   string
	playErr    error
	embeds     map[string]string
	embedErrs  map[string]error
	embedCalls []string
}

func (f *fakeFetcher) PlayPage(ctx context.Context, id, episodeID, cookies string) (string, error) {
	return f.playHTML, f.playErr
}

func (f *fakeFetcher) EmbedPage(ctx context.Context, embedURL string) (string, error) {
	f.mu.Lock()
	f.embedCalls = append(f.embedCalls, embedURL)
	f.mu.Unlock()
	if err, ok := f.embedErrs[embedURL]; ok {
		return "", err
	}
	return f.embeds[embedURL], nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.BatchSize = 3
	cfg.BatchDelay = time.Millisecond
	return cfg
}

func embedBody(hash string) string {
	return `<html><script>const source = "https://eu-11.files.example/stream/14/04/` + hash + `/uwu.m3u8";</script></html>`
}

func TestStreamingInfoResolvesUniqueEmbedsOnce(t *testing.T) {
	fetcher := &fakeFetcher{
		playHTML: episodeHTML,
		embeds: map[string]string{
			"https://kwik.si/e/aaa720":  embedBody("HASH720"),
			"https://kwik.si/e/bbb1080": embedBody("HASH1080"),
		},
	}
	r := NewResolver(testConfig(), fetcher, sandbox.New(0))

	info, err := r.StreamingInfo(context.Background(), "anime-1", "ep-1", "", true)
	require.NoError(t, err)

	// Three descriptors share two embed URLs; each is fetched exactly once.
	assert.Len(t, fetcher.embedCalls, 2)
	require.Len(t, info.Sources, 2)

	assert.Equal(t, "sess-123", info.Session)
	assert.Equal(t, "kwik", info.Provider)
	assert.Equal(t, "3", info.Episode)
	assert.Equal(t, 5200, info.IDs.AnimepaheID)

	for _, src := range info.Sources {
		assert.True(t, src.IsM3U8)
		assert.Contains(t, src.URL, ".m3u8")
		assert.Contains(t, src.DownloadURL, "https://kwik.si/mp4/14/04/")
		assert.Contains(t, src.DownloadURL, "?file=AnimePahe_Great_Show_-_3_")
	}
}

func TestStreamingInfoPartialFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		playHTML: episodeHTML,
		embeds: map[string]string{
			"https://kwik.si/e/aaa720": embedBody("HASH720"),
		},
		embedErrs: map[string]error{
			"https://kwik.si/e/bbb1080": errors.New("all embed fetching strategies failed"),
		},
	}
	r := NewResolver(testConfig(), fetcher, sandbox.New(0))

	info, err := r.StreamingInfo(context.Background(), "anime-1", "ep-1", "", false)
	require.NoError(t, err)

	require.Len(t, info.Sources, 1)
	assert.Equal(t, "720", info.Sources[0].Resolution)
	assert.Empty(t, info.DownloadLinks)
}

func TestStreamingInfoHydratesDownloads(t *testing.T) {
	fetcher := &fakeFetcher{
		playHTML: episodeHTML,
		embeds: map[string]string{
			"https://kwik.si/e/aaa720":  embedBody("HASH720"),
			"https://kwik.si/e/bbb1080": embedBody("HASH1080"),
		},
	}
	r := NewResolver(testConfig(), fetcher, sandbox.New(0))

	info, err := r.StreamingInfo(context.Background(), "anime-1", "ep-1", "", true)
	require.NoError(t, err)
	require.Len(t, info.DownloadLinks, 2)

	var matched *models.Source
	for i := range info.Sources {
		if info.Sources[i].Resolution == "1080" {
			matched = &info.Sources[i]
		}
	}
	require.NotNil(t, matched)

	// 1080p SubsPlease entry picks up the matching source's download URL.
	assert.Equal(t, matched.DownloadURL, info.DownloadLinks[0].DirectURL)
	// The 480p entry has no resolved source and stays unhydrated.
	assert.Empty(t, info.DownloadLinks[1].DirectURL)
}

func TestStreamingInfoPageFetchFailureIsTerminal(t *testing.T) {
	fetcher := &fakeFetcher{playErr: apperr.NotFound("Anime or episode not found")}
	r := NewResolver(testConfig(), fetcher, sandbox.New(0))

	_, err := r.StreamingInfo(context.Background(), "anime-1", "missing", "", false)
	require.Error(t, err)
	assert.True(t, apperr.IsStatus(err, 404))
}

func TestStreamingInfoMissingTokensIsTerminal(t *testing.T) {
	fetcher := &fakeFetcher{playHTML: `<html><body>no player here</body></html>`}
	r := NewResolver(testConfig(), fetcher, sandbox.New(0))

	_, err := r.StreamingInfo(context.Background(), "anime-1", "ep-1", "", false)
	require.Error(t, err)
	assert.True(t, apperr.IsStatus(err, 404))
}

func TestDedupeFirstOccurrenceWins(t *testing.T) {
	in := []models.Resolution{
		{URL: "u1", Resolution: "360"},
		{URL: "u2", Resolution: "720"},
		{URL: "u1", Resolution: "360", IsDub: true},
		{URL: "u3", Resolution: "1080"},
		{URL: "u2", Resolution: "720", FanSub: "Other"},
	}

	out := dedupe(in)
	require.Len(t, out, 3)
	assert.Equal(t, "u1", out[0].URL)
	assert.False(t, out[0].IsDub)
	assert.Equal(t, "u2", out[1].URL)
	assert.Empty(t, out[1].FanSub)
	assert.Equal(t, "u3", out[2].URL)
}
