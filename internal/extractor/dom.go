package extractor

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
	"github.com/Caia-Tech/classroom-archive/pkg/media"
)

const (
	contentAreaSelector    = ".ql-editor, article, main"
	richTextSelector       = ".ql-editor"
	contentWrapperSelector = `[class*="styled__Content"], [class*="ContentWrapper"], [class*="lesson-body"]`
	mainSelector           = "main"

	platformDomain = "skool.com"

	// text found in a container must be longer than this to count
	containerMinText = 20
	mainMinText      = 100
)

var excludedImageMarkers = []string{"avatar", "favicon", "emoji"}

// page is a parsed snapshot. Relative references resolve against its URL.
type page struct {
	doc  *goquery.Document
	base *url.URL
}

func parsePage(rawURL, html string) (*page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		base = &url.URL{}
	}
	return &page{doc: doc, base: base}, nil
}

// resolve makes ref absolute. Unparseable references are returned as is.
func (p *page) resolve(ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return p.base.ResolveReference(u).String()
}

// isLoginWall reports whether the snapshot asks for credentials instead of
// showing the classroom.
func (p *page) isLoginWall() bool {
	return isLoginText(p.visibleText())
}

// visibleText is the body text without script and style contents, close to
// what the browser renders.
func (p *page) visibleText() string {
	body := p.doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return body.Text()
}

func isLoginText(text string) bool {
	return strings.Contains(text, "Log in") &&
		strings.Contains(text, "Sign up") &&
		!strings.Contains(text, "Classroom")
}

type sidebarLesson struct {
	Title    string
	URL      string
	LessonID string
}

// sidebarLessons lists the course's lesson links in page order. Lesson
// links point into the community classroom and carry the lesson id in the
// md query parameter.
func (p *page) sidebarLessons(community string) []sidebarLesson {
	marker := "/" + community + "/classroom/"
	seen := make(map[string]bool)
	var out []sidebarLesson
	p.doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		raw, _ := a.Attr("href")
		href := p.resolve(raw)
		if !strings.Contains(href, marker) || !strings.Contains(href, "md=") || seen[href] {
			return
		}
		seen[href] = true
		var id string
		if u, err := url.Parse(href); err == nil {
			id = u.Query().Get("md")
		}
		out = append(out, sidebarLesson{
			Title:    strings.TrimSpace(a.Text()),
			URL:      href,
			LessonID: id,
		})
	})
	return out
}

// embeddedVideos finds players and native video elements, de-duplicated by
// URL.
func (p *page) embeddedVideos() []classroom.VideoRef {
	seen := make(map[string]bool)
	var out []classroom.VideoRef
	add := func(src, platform string) {
		if src == "" || seen[src] {
			return
		}
		seen[src] = true
		out = append(out, classroom.VideoRef{URL: src, Platform: platform})
	}

	p.doc.Find("iframe").Each(func(_ int, f *goquery.Selection) {
		raw, _ := f.Attr("src")
		if strings.TrimSpace(raw) == "" {
			return
		}
		src := p.resolve(raw)
		if platform, ok := media.ClassifyEmbed(src); ok {
			add(src, platform)
		}
	})
	p.doc.Find("video").Each(func(_ int, v *goquery.Selection) {
		if raw, _ := v.Attr("src"); strings.TrimSpace(raw) != "" {
			add(p.resolve(raw), media.PlatformNative)
		}
	})
	return out
}

// attachments scans the lesson content area for resource links and images.
// Links back into the platform only count when they point at a file or
// download endpoint; avatars, favicons and emoji are not lesson images.
func (p *page) attachments() ([]classroom.ResourceRef, []classroom.ImageRef) {
	resources := []classroom.ResourceRef{}
	images := []classroom.ImageRef{}
	area := p.doc.Find(contentAreaSelector).First()
	if area.Length() == 0 {
		return resources, images
	}

	seen := make(map[string]bool)
	area.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		raw, _ := a.Attr("href")
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(strings.ToLower(raw), "javascript:") {
			return
		}
		href := p.resolve(raw)
		if seen[href] || isInternal(href) {
			return
		}
		seen[href] = true
		text := strings.TrimSpace(a.Text())
		if text == "" {
			text = href
		}
		_, download := a.Attr("download")
		resources = append(resources, classroom.ResourceRef{Href: href, Text: text, IsDownload: download})
	})

	area.Find("img").Each(func(_ int, img *goquery.Selection) {
		raw, _ := img.Attr("src")
		if strings.TrimSpace(raw) == "" {
			return
		}
		src := p.resolve(raw)
		if seen[src] || containsAny(src, excludedImageMarkers) {
			return
		}
		seen[src] = true
		alt, _ := img.Attr("alt")
		images = append(images, classroom.ImageRef{Src: src, Alt: alt})
	})
	return resources, images
}

// onPlatform reports whether u points at the community platform itself,
// including its subdomains.
func onPlatform(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Hostname() == "" {
		return strings.Contains(u, platformDomain)
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(parsed.Hostname())
	if err != nil {
		return false
	}
	return domain == platformDomain
}

// isInternal reports whether href is a platform page rather than a file.
func isInternal(href string) bool {
	return onPlatform(href) &&
		!strings.Contains(href, "/download") &&
		!strings.Contains(href, "/file")
}

// fallbackText extracts lesson text from the rendered page: the rich-text
// editor first, then any generic content wrapper, then the whole main
// region. It returns "" when none holds enough text.
func (p *page) fallbackText() string {
	if t := strings.TrimSpace(p.doc.Find(richTextSelector).First().Text()); textLen(t) > containerMinText {
		return t
	}
	var found string
	p.doc.Find(contentWrapperSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := strings.TrimSpace(s.Text()); textLen(t) > containerMinText {
			found = t
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	if t := strings.TrimSpace(p.doc.Find(mainSelector).First().Text()); textLen(t) > mainMinText {
		return t
	}
	return ""
}

func textLen(s string) int {
	return utf8.RuneCountInString(s)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
