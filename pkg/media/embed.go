package media

import "strings"

// iframes from these hosts never carry lesson video.
var skippedEmbedHosts = []string{"stripe.com", "google"}

var embedPlatforms = []struct {
	markers  []string
	platform string
}{
	{[]string{"loom.com"}, PlatformLoom},
	{[]string{"vimeo.com"}, PlatformVimeo},
	{[]string{"youtube.com", "youtu.be"}, PlatformYouTube},
	{[]string{"wistia"}, PlatformWistia},
}

// ClassifyEmbed tags an iframe source by substring match against the known
// players. Unrecognised sources are tagged "iframe" so the general-purpose
// downloader can still try them. It reports false for empty sources and for
// hosts on the skip list.
func ClassifyEmbed(src string) (string, bool) {
	if src == "" {
		return "", false
	}
	for _, skip := range skippedEmbedHosts {
		if strings.Contains(src, skip) {
			return "", false
		}
	}
	for _, p := range embedPlatforms {
		for _, m := range p.markers {
			if strings.Contains(src, m) {
				return p.platform, true
			}
		}
	}
	return PlatformIframe, true
}
