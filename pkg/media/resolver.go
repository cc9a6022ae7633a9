// Package media classifies embedded video references by hosting platform and
// rewrites player URLs into the canonical form external downloaders accept.
package media

import (
	"regexp"
	"strings"

	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
)

// Platform tags. Tags read from a tree are lower-cased but otherwise kept
// as written, so values outside this list are possible.
const (
	PlatformMux     = "mux"
	PlatformLoom    = "loom"
	PlatformVimeo   = "vimeo"
	PlatformYouTube = "youtube"
	PlatformWistia  = "wistia"
	PlatformIframe  = "iframe"
	PlatformNative  = "native"
	PlatformUnknown = "unknown"
)

// Resolved is a video reference reduced to what the download phase needs.
type Resolved struct {
	URL      string
	Platform string
}

var vimeoPlayerID = regexp.MustCompile(`video/(\d+)`)

// Resolve returns the canonical URL and platform for v. It reports false
// when v carries no URL.
func Resolve(v classroom.VideoRef) (Resolved, bool) {
	if v.URL == "" {
		return Resolved{}, false
	}
	return Resolved{
		URL:      CanonicalURL(v.URL),
		Platform: NormalizePlatform(v.Platform),
	}, true
}

// CanonicalURL rewrites Loom embed URLs to their share form and Vimeo player
// URLs to the public video page. Any other URL is returned unchanged, as is
// a Vimeo player URL without a numeric id.
func CanonicalURL(raw string) string {
	switch {
	case strings.Contains(raw, "loom.com/embed/"):
		return strings.Replace(raw, "/embed/", "/share/", 1)
	case strings.Contains(raw, "player.vimeo.com/video/"):
		if m := vimeoPlayerID.FindStringSubmatch(raw); m != nil {
			return "https://vimeo.com/" + m[1]
		}
	}
	return raw
}

// NormalizePlatform lower-cases a declared platform tag, defaulting to
// "unknown".
func NormalizePlatform(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return PlatformUnknown
	}
	return p
}
