// Package urlconv rewrites kwik stream manifest URLs into direct mp4
// download URLs and synthesizes descriptive filenames for them.
package urlconv

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// MP4URL converts a stream m3u8 URL to a direct mp4 download URL.
//
//	https://host.example/stream/14/04/{hash}/uwu.m3u8 -> https://kwik.si/mp4/14/04/{hash}
//
// The kwik host replaces the stream host, except that a "vault-" shard prefix
// on the original host is kept as a subdomain. Any input not matching the
// /stream/ convention returns "".
func MP4URL(m3u8URL, kwikHost string) string {
	if m3u8URL == "" || !strings.Contains(m3u8URL, "/stream/") {
		return ""
	}

	u, err := url.Parse(m3u8URL)
	if err != nil {
		return ""
	}

	hostParts := strings.Split(u.Hostname(), ".")
	if strings.HasPrefix(hostParts[0], "vault-") {
		u.Host = hostParts[0] + "." + kwikHost
	} else {
		u.Host = kwikHost
	}

	u.Path = strings.Replace(u.Path, "/stream/", "/mp4/", 1)

	if strings.HasSuffix(u.Path, "/uwu.m3u8") {
		u.Path = strings.TrimSuffix(u.Path, "/uwu.m3u8")
	} else if strings.HasSuffix(u.Path, ".m3u8") {
		u.Path = strings.TrimSuffix(u.Path, ".m3u8")
	}

	return u.String()
}

// FilenameMeta describes the episode a download URL belongs to.
type FilenameMeta struct {
	AnimeTitle string
	Episode    string
	Resolution string
	Fansub     string
	IsDub      bool
	IsBD       bool
}

// Filename builds a filesystem-safe name for a download:
//
//	AnimePahe_{Title}{_Eng_Dub}_-_{Episode}{_BD}_{Resolution}p_{Fansub}.mp4
//
// Runs of non-alphanumeric characters in the title collapse to a single
// underscore.
func Filename(meta FilenameMeta) string {
	if meta.AnimeTitle == "" {
		return "video.mp4"
	}

	safeTitle := strings.Trim(nonAlnum.ReplaceAllString(meta.AnimeTitle, "_"), "_")
	dubStr := ""
	if meta.IsDub {
		dubStr = "_Eng_Dub"
	}
	bdStr := ""
	if meta.IsBD {
		bdStr = "_BD"
	}
	resStr := ""
	if meta.Resolution != "" {
		resStr = "_" + strings.TrimSuffix(meta.Resolution, "p") + "p"
	}
	fansubStr := ""
	if meta.Fansub != "" {
		fansubStr = "_" + meta.Fansub
	}
	ep := meta.Episode
	if ep == "" {
		ep = "0"
	}

	return fmt.Sprintf("AnimePahe_%s%s_-_%s%s%s%s.mp4", safeTitle, dubStr, ep, bdStr, resStr, fansubStr)
}

// BuildDownloadURL converts the manifest URL and appends the synthesized
// filename as a query parameter. Returns "" when the manifest URL does not
// match the stream convention.
func BuildDownloadURL(m3u8URL, kwikHost string, meta FilenameMeta) string {
	mp4 := MP4URL(m3u8URL, kwikHost)
	if mp4 == "" {
		return ""
	}
	return mp4 + "?file=" + Filename(meta)
}
