// Package extractor crawls a community classroom through an authenticated
// browser page and builds the classroom tree. The course list comes from the
// classroom root's page state; each course page contributes lesson order and
// titles from its sidebar and lesson bodies from its page state; each lesson
// page contributes video references, attachments and, when the body is still
// missing, fallback text.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Caia-Tech/classroom-archive/internal/browser"
	"github.com/Caia-Tech/classroom-archive/internal/config"
	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
	"github.com/Caia-Tech/classroom-archive/pkg/logging"
	"github.com/Caia-Tech/classroom-archive/pkg/richtext"
)

// ErrNotAuthenticated is returned when the classroom shows a login wall.
var ErrNotAuthenticated = errors.New("not authenticated: re-export the session cookies")

// minContent is the length below which lesson content is treated as
// missing.
const minContent = 20

// Extractor builds classroom trees.
type Extractor struct {
	page    browser.Page
	baseURL string
	course  time.Duration
	lesson  time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an extractor crawling through page.
func New(page browser.Page, cfg config.BrowserConfig) *Extractor {
	return &Extractor{
		page:    page,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		course:  cfg.CourseSettle,
		lesson:  cfg.LessonSettle,
		now:     time.Now,
		sleep:   sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CommunitySlug returns the community slug from a community URL such as
// https://www.skool.com/acme/about, or from a bare slug.
func CommunitySlug(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if !strings.Contains(ref, "://") {
		ref = "https://www.skool.com/" + strings.TrimPrefix(ref, "/")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid community URL %q: %w", ref, err)
	}
	slug, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if slug == "" {
		return "", fmt.Errorf("could not parse community slug from %q", ref)
	}
	return slug, nil
}

// Extract crawls one community. Course and lesson failures are recorded on
// the affected node and the crawl continues; only a login wall, a classroom
// root that cannot be loaded, or cancellation abort it.
func (e *Extractor) Extract(ctx context.Context, community string) (*classroom.Tree, error) {
	logger := logging.GetPhaseLogger(community, "scrape")
	tree := &classroom.Tree{
		Community:    community,
		ClassroomURL: fmt.Sprintf("%s/%s/classroom", e.baseURL, community),
		ScrapedAt:    e.now().UTC(),
		Modules:      []classroom.Module{},
	}

	root, err := e.visit(ctx, tree.ClassroomURL, e.course)
	if err != nil {
		return nil, fmt.Errorf("failed to load classroom: %w", err)
	}
	if e.loginWall(ctx, root, logger) {
		return nil, ErrNotAuthenticated
	}
	courses := readPageState(root.doc).Props.PageProps.AllCourses
	logger.Info().Int("courses", len(courses)).Msg("Authenticated, course list loaded")

	for i, c := range courses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		title := firstNonEmpty(c.Metadata.Title, c.Name, fmt.Sprintf("Course %d", i+1))
		log := logger.With().Str("module", title).Logger()
		log.Info().Str("progress", fmt.Sprintf("%d/%d", i+1, len(courses))).Msg("Extracting course")

		mod := e.extractCourse(ctx, community, c, title, log)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tree.Modules = append(tree.Modules, mod)
	}

	logSummary(logger, tree)
	return tree, nil
}

func (e *Extractor) extractCourse(ctx context.Context, community string, c courseInfo, title string, log zerolog.Logger) classroom.Module {
	mod := classroom.Module{
		Title:      title,
		CourseID:   c.ID,
		CourseSlug: c.Name,
		Lessons:    []classroom.Lesson{},
	}
	courseURL := fmt.Sprintf("%s/%s/classroom/%s", e.baseURL, community, c.Name)
	p, err := e.visit(ctx, courseURL, e.course)
	if err != nil {
		log.Warn().Err(err).Str("url", courseURL).Msg("Failed to load course")
		mod.CourseSlug = ""
		mod.Error = err.Error()
		return mod
	}

	sidebar := p.sidebarLessons(community)
	index := readPageState(p.doc).Props.PageProps.Course.lessonIndex()
	log.Info().Int("sidebar_lessons", len(sidebar)).Int("lesson_metadata", len(index)).Msg("Course structure loaded")

	for _, sl := range sidebar {
		meta := index[sl.LessonID]
		content := richtext.ParseDesc(meta.Desc)
		mod.Lessons = append(mod.Lessons, classroom.Lesson{
			Title:        sl.Title,
			URL:          sl.URL,
			LessonID:     sl.LessonID,
			Module:       title,
			SectionTitle: meta.SectionTitle,
			Content:      classroom.Content{Markdown: content},
			Videos:       []classroom.VideoRef{},
			Images:       []classroom.ImageRef{},
			Resources:    resourcesFromText(content),
		})
	}

	for i := range mod.Lessons {
		if ctx.Err() != nil {
			return mod
		}
		l := &mod.Lessons[i]
		llog := log.With().Str("lesson", l.Title).Logger()
		if err := e.extractLesson(ctx, l); err != nil {
			llog.Warn().Err(err).Str("url", l.URL).Msg("Failed to extract lesson")
			l.Error = err.Error()
			continue
		}
		ev := llog.Info().
			Str("progress", fmt.Sprintf("%d/%d", i+1, len(mod.Lessons))).
			Int("content_chars", len(l.Content.Markdown)).
			Int("videos", len(l.Videos)).
			Int("resources", len(l.Resources))
		if len(l.Videos) > 0 && l.Videos[0].Duration > 0 {
			ev = ev.Dur("duration", l.Videos[0].DurationValue())
		}
		ev.Msg("Lesson extracted")
	}
	return mod
}

// extractLesson visits the lesson page and fills in videos, attachments and
// missing content.
func (e *Extractor) extractLesson(ctx context.Context, l *classroom.Lesson) error {
	p, err := e.visit(ctx, l.URL, e.lesson)
	if err != nil {
		return err
	}
	state := readPageState(p.doc)

	if v, ok := muxVideoRef(state.Props.PageProps.Video); ok {
		l.Videos = append(l.Videos, v)
	}
	for _, v := range p.embeddedVideos() {
		if !hasVideo(l.Videos, v.URL) {
			l.Videos = append(l.Videos, v)
		}
	}

	resources, images := p.attachments()
	for _, r := range resources {
		if !hasResource(l.Resources, r.Href) {
			l.Resources = append(l.Resources, r)
		}
	}
	l.Images = images

	// Lesson pages carry the full body of the current lesson even when the
	// course page did not.
	if isTrivial(l.Content.Markdown) {
		if meta, ok := state.Props.PageProps.Course.lessonIndex()[l.LessonID]; ok && meta.Desc != "" {
			replaceIfLonger(&l.Content, richtext.ParseDesc(meta.Desc))
		}
	}
	if isTrivial(l.Content.Markdown) {
		replaceIfLonger(&l.Content, p.fallbackText())
	}
	return nil
}

const renderedTextScript = `document.body ? document.body.innerText : ""`

// loginWall checks the rendered text of the current page. When the script
// cannot run it falls back to the snapshot.
func (e *Extractor) loginWall(ctx context.Context, snapshot *page, log zerolog.Logger) bool {
	var text string
	if err := e.page.Evaluate(ctx, renderedTextScript, &text); err != nil {
		log.Debug().Err(err).Msg("Rendered text unavailable, using snapshot")
		return snapshot.isLoginWall()
	}
	return isLoginText(text)
}

// visit navigates to target, waits for the page to settle and parses the
// rendered document.
func (e *Extractor) visit(ctx context.Context, target string, settle time.Duration) (*page, error) {
	if err := e.page.Navigate(ctx, target); err != nil {
		return nil, err
	}
	if err := e.sleep(ctx, settle); err != nil {
		return nil, err
	}
	snap, err := e.page.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.URL == "" {
		snap.URL = target
	}
	p, err := parsePage(snap.URL, snap.HTML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", target, err)
	}
	return p, nil
}

func isTrivial(s string) bool {
	return textLen(strings.TrimSpace(s)) < minContent
}

func replaceIfLonger(c *classroom.Content, candidate string) {
	if textLen(candidate) > textLen(c.Markdown) {
		c.Markdown = candidate
	}
}

var bodyURL = regexp.MustCompile(`https?://[^\s"'<>)]+`)

// resourcesFromText turns external links mentioned in a lesson body into
// resources.
func resourcesFromText(text string) []classroom.ResourceRef {
	out := []classroom.ResourceRef{}
	seen := make(map[string]bool)
	for _, u := range bodyURL.FindAllString(text, -1) {
		if seen[u] || onPlatform(u) {
			continue
		}
		seen[u] = true
		out = append(out, classroom.ResourceRef{Href: u, Text: u})
	}
	return out
}

func hasVideo(videos []classroom.VideoRef, u string) bool {
	for _, v := range videos {
		if v.URL == u {
			return true
		}
	}
	return false
}

func hasResource(resources []classroom.ResourceRef, href string) bool {
	for _, r := range resources {
		if r.Href == href {
			return true
		}
	}
	return false
}

func logSummary(logger zerolog.Logger, tree *classroom.Tree) {
	s := tree.Stats()
	logger.Info().
		Int("courses", s.Modules).
		Int("lessons", s.Lessons).
		Int("videos", s.Videos).
		Int("video_minutes", int(math.Round(s.Duration.Minutes()))).
		Msg("Scrape summary")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
