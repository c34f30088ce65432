package urlconv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMP4URL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		kwikHost string
		expected string
	}{
		{
			name:     "stream url with uwu manifest",
			input:    "https://host1.example/stream/14/04/HASH/uwu.m3u8",
			kwikHost: "host2.example",
			expected: "https://host2.example/mp4/14/04/HASH",
		},
		{
			name:     "vault shard prefix is preserved",
			input:    "https://vault-01.host1.example/stream/14/04/HASH/uwu.m3u8",
			kwikHost: "kwik.si",
			expected: "https://vault-01.kwik.si/mp4/14/04/HASH",
		},
		{
			name:     "plain m3u8 suffix",
			input:    "https://host1.example/stream/07/11/HASH/index.m3u8",
			kwikHost: "kwik.si",
			expected: "https://kwik.si/mp4/07/11/HASH/index",
		},
		{
			name:     "non-stream url returns empty",
			input:    "https://host1.example/video/14/04/HASH/uwu.m3u8",
			kwikHost: "kwik.si",
			expected: "",
		},
		{
			name:     "empty input",
			input:    "",
			kwikHost: "kwik.si",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MP4URL(tt.input, tt.kwikHost))
		})
	}
}

func TestFilename(t *testing.T) {
	t.Run("collapses non-alphanumeric runs in the title", func(t *testing.T) {
		got := Filename(FilenameMeta{
			AnimeTitle: "Re:ZERO -Starting Life-",
			Episode:    "12",
			Resolution: "1080",
			Fansub:     "SubsPlease",
		})
		assert.Equal(t, "AnimePahe_Re_ZERO_Starting_Life_-_12_1080p_SubsPlease.mp4", got)
	})

	t.Run("dub and BD markers", func(t *testing.T) {
		got := Filename(FilenameMeta{
			AnimeTitle: "Naruto",
			Episode:    "1",
			Resolution: "720p",
			IsDub:      true,
			IsBD:       true,
		})
		assert.Equal(t, "AnimePahe_Naruto_Eng_Dub_-_1_BD_720p.mp4", got)
	})

	t.Run("missing title falls back to video.mp4", func(t *testing.T) {
		assert.Equal(t, "video.mp4", Filename(FilenameMeta{}))
	})

	t.Run("missing episode becomes zero", func(t *testing.T) {
		got := Filename(FilenameMeta{AnimeTitle: "Bleach"})
		assert.Equal(t, "AnimePahe_Bleach_-_0.mp4", got)
	})
}

func TestBuildDownloadURL(t *testing.T) {
	got := BuildDownloadURL(
		"https://vault-01.host1.example/stream/14/04/HASH/uwu.m3u8",
		"kwik.si",
		FilenameMeta{AnimeTitle: "One Piece", Episode: "1000", Resolution: "1080"},
	)
	assert.Equal(t, "https://vault-01.kwik.si/mp4/14/04/HASH?file=AnimePahe_One_Piece_-_1000_1080p.mp4", got)

	assert.Empty(t, BuildDownloadURL("https://x.example/other/path.m3u8", "kwik.si", FilenameMeta{}))
}
