package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/classroom-archive/internal/browser"
	"github.com/Caia-Tech/classroom-archive/internal/config"
	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
	"github.com/Caia-Tech/classroom-archive/pkg/media"
)

// fakePage serves canned HTML per URL. Evaluate returns the visible text
// of the current page unless rendered overrides it.
type fakePage struct {
	pages    map[string]string
	fail     map[string]error
	rendered map[string]string
	evalErr  error
	current  string
	visited  []string
	evals    int
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.visited = append(f.visited, url)
	if err := f.fail[url]; err != nil {
		return err
	}
	f.current = url
	return nil
}

func (f *fakePage) Snapshot(ctx context.Context) (browser.Snapshot, error) {
	return browser.Snapshot{URL: f.current, HTML: f.pages[f.current]}, nil
}

func (f *fakePage) Evaluate(ctx context.Context, expr string, res any) error {
	f.evals++
	if f.evalErr != nil {
		return f.evalErr
	}
	out, ok := res.(*string)
	if !ok {
		return fmt.Errorf("unsupported result type %T", res)
	}
	if text, ok := f.rendered[f.current]; ok {
		*out = text
		return nil
	}
	p, err := parsePage(f.current, f.pages[f.current])
	if err != nil {
		return err
	}
	*out = p.visibleText()
	return nil
}

func nextData(t *testing.T, pageProps map[string]any) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{"props": map[string]any{"pageProps": pageProps}})
	require.NoError(t, err)
	return `<script id="__NEXT_DATA__" type="application/json">` + string(data) + `</script>`
}

func course(id, title, desc string, children ...map[string]any) map[string]any {
	meta := map[string]any{"title": title}
	if desc != "" {
		meta["desc"] = desc
	}
	return map[string]any{"course": map[string]any{"id": id, "metadata": meta}, "children": children}
}

const (
	base        = "https://www.skool.com"
	rootURL     = base + "/acme/classroom"
	introURL    = rootURL + "/intro"
	brokenURL   = rootURL + "/broken"
	welcomeURL  = introURL + "?md=l1"
	setupURL    = introURL + "?md=l2"
	notesURL    = introURL + "?md=l3"
	timeoutURL  = introURL + "?md=l4"
	welcomeDesc = `[v2][{"type":"paragraph","content":[{"type":"text","text":"Hello, see https://example.com/guide.pdf for details"}]}]`
	setupBody   = "Setup instructions are long enough to count."
	notesBody   = "This lesson body is rendered only in the DOM editor."
)

func classroomFixture(t *testing.T) *fakePage {
	courseState := map[string]any{
		"course": map[string]any{"children": []any{
			course("s1", "Basics", "",
				course("l1", "Welcome", welcomeDesc),
				course("l2", "Setup", ""),
			),
		}},
	}
	sidebar := `<nav>
		<a href="/acme/classroom/intro?md=l1">Welcome</a>
		<a href="/acme/classroom/intro?md=l2">Setup</a>
		<a href="/acme/classroom/intro?md=l3">Notes</a>
		<a href="/acme/classroom/intro?md=l4">Timeout</a>
		<a href="/acme/community">Community</a>
	</nav>`

	return &fakePage{
		pages: map[string]string{
			rootURL: `<html><body><h1>Classroom</h1>` + nextData(t, map[string]any{
				"allCourses": []any{
					map[string]any{"id": "c1", "name": "intro", "metadata": map[string]any{"title": "Intro"}},
					map[string]any{"id": "c2", "name": "broken", "metadata": "unexpected"},
				},
			}) + `</body></html>`,
			introURL: `<html><body>` + sidebar + nextData(t, courseState) + `</body></html>`,
			welcomeURL: `<html><body>` + sidebar + nextData(t, map[string]any{
				"video": map[string]any{
					"playbackId":     "pb1",
					"playbackToken":  "tok",
					"duration":       125000,
					"aspectRatio":    1.78,
					"thumbnailToken": "th",
				},
			}) + `<div class="ql-editor">
				<p>Hello</p>
				<a href="https://example.com/guide.pdf">Guide</a>
				<a href="https://drive.example.com/x">Drive</a>
				<a href="/acme/community">Back</a>
				<img src="/img/a.png" alt="diagram">
				<img src="https://cdn.example.com/avatar.png">
				<iframe src="https://www.loom.com/embed/abc"></iframe>
			</div></body></html>`,
			setupURL: `<html><body>` + nextData(t, map[string]any{
				"course": map[string]any{"children": []any{
					course("s1", "", "", course("l2", "Setup", setupBody)),
				}},
			}) + `<div class="ql-editor">short</div></body></html>`,
			notesURL: `<html><body><div class="ql-editor">` + notesBody + `</div></body></html>`,
		},
		fail: map[string]error{
			brokenURL:  errors.New("net::ERR_CONNECTION_RESET"),
			timeoutURL: errors.New("net::ERR_TIMED_OUT"),
		},
	}
}

func newTestExtractor(page browser.Page) *Extractor {
	e := New(page, config.BrowserConfig{BaseURL: base + "/"})
	e.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return e
}

func TestExtract(t *testing.T) {
	page := classroomFixture(t)
	tree, err := newTestExtractor(page).Extract(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, "acme", tree.Community)
	assert.Equal(t, rootURL, tree.ClassroomURL)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), tree.ScrapedAt)
	require.Len(t, tree.Modules, 2)

	intro := tree.Modules[0]
	assert.Equal(t, "Intro", intro.Title)
	assert.Equal(t, "c1", intro.CourseID)
	assert.Equal(t, "intro", intro.CourseSlug)
	assert.Empty(t, intro.Error)
	require.Len(t, intro.Lessons, 4)

	t.Run("lesson with hosted video and attachments", func(t *testing.T) {
		l := intro.Lessons[0]
		assert.Equal(t, "Welcome", l.Title)
		assert.Equal(t, welcomeURL, l.URL)
		assert.Equal(t, "l1", l.LessonID)
		assert.Equal(t, "Intro", l.Module)
		assert.Equal(t, "Basics", l.SectionTitle)
		assert.Equal(t, "Hello, see https://example.com/guide.pdf for details\n\n", l.Content.Markdown)
		assert.Empty(t, l.Error)

		require.Len(t, l.Videos, 2)
		assert.Equal(t, "https://stream.mux.com/pb1.m3u8?token=tok", l.Videos[0].URL)
		assert.Equal(t, media.PlatformMux, l.Videos[0].Platform)
		assert.Equal(t, float64(125000), l.Videos[0].Duration)
		assert.Equal(t, "1.78", l.Videos[0].AspectRatio)
		assert.Equal(t, "https://image.mux.com/pb1/thumbnail.jpg?token=th", l.Videos[0].ThumbnailURL)
		assert.Equal(t, classroom.VideoRef{URL: "https://www.loom.com/embed/abc", Platform: media.PlatformLoom}, l.Videos[1])

		assert.Equal(t, []classroom.ResourceRef{
			{Href: "https://example.com/guide.pdf", Text: "https://example.com/guide.pdf"},
			{Href: "https://drive.example.com/x", Text: "Drive"},
		}, l.Resources)
		assert.Equal(t, []classroom.ImageRef{{Src: base + "/img/a.png", Alt: "diagram"}}, l.Images)
	})

	t.Run("content recovered from lesson page state", func(t *testing.T) {
		l := intro.Lessons[1]
		assert.Equal(t, setupBody, l.Content.Markdown)
		assert.Equal(t, "Basics", l.SectionTitle)
		assert.Empty(t, l.Videos)
		assert.NotNil(t, l.Videos)
		assert.Empty(t, l.Resources)
	})

	t.Run("content recovered from rendered text", func(t *testing.T) {
		l := intro.Lessons[2]
		assert.Equal(t, notesBody, l.Content.Markdown)
		assert.Empty(t, l.SectionTitle)
	})

	t.Run("lesson failure recorded on the lesson", func(t *testing.T) {
		l := intro.Lessons[3]
		assert.Equal(t, "net::ERR_TIMED_OUT", l.Error)
		assert.Empty(t, l.Content.Markdown)
		assert.Empty(t, l.Videos)
	})

	t.Run("course failure recorded on the module", func(t *testing.T) {
		m := tree.Modules[1]
		assert.Equal(t, "broken", m.Title)
		assert.Equal(t, "c2", m.CourseID)
		assert.Equal(t, "net::ERR_CONNECTION_RESET", m.Error)
		assert.NotNil(t, m.Lessons)
		assert.Empty(t, m.Lessons)
	})

	assert.Equal(t, []string{rootURL, introURL, welcomeURL, setupURL, notesURL, timeoutURL, brokenURL}, page.visited)

	stats := tree.Stats()
	assert.Equal(t, 2, stats.Modules)
	assert.Equal(t, 4, stats.Lessons)
	assert.Equal(t, 2, stats.Videos)
	assert.Equal(t, 125*time.Second, stats.Duration)
}

func TestExtract_CourseTitleFallback(t *testing.T) {
	page := &fakePage{pages: map[string]string{
		rootURL: `<body>Classroom` + nextData(t, map[string]any{
			"allCourses": []any{map[string]any{"id": "c1"}},
		}) + `</body>`,
	}}
	tree, err := newTestExtractor(page).Extract(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, tree.Modules, 1)
	assert.Equal(t, "Course 1", tree.Modules[0].Title)
	assert.Empty(t, tree.Modules[0].Lessons)
}

func TestExtract_LoginWall(t *testing.T) {
	page := &fakePage{pages: map[string]string{
		rootURL: `<html><body><button>Log in</button><button>Sign up</button></body></html>`,
	}}
	_, err := newTestExtractor(page).Extract(context.Background(), "acme")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, 1, page.evals)
}

func TestExtract_LoginWallUsesRenderedText(t *testing.T) {
	// the serialised page state mentions the classroom even when the
	// visible page is a login form
	html := `<html><body><button>Log in</button><button>Sign up</button>` +
		`<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"title":"Classroom"}}}</script></body></html>`

	tests := []struct {
		name     string
		rendered map[string]string
		evalErr  error
	}{
		{name: "rendered text", rendered: map[string]string{rootURL: "Log in\nSign up"}},
		{name: "snapshot fallback", evalErr: errors.New("execution context was destroyed")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &fakePage{pages: map[string]string{rootURL: html}, rendered: tt.rendered, evalErr: tt.evalErr}
			_, err := newTestExtractor(page).Extract(context.Background(), "acme")
			assert.ErrorIs(t, err, ErrNotAuthenticated)
		})
	}

	page := &fakePage{
		pages:    map[string]string{rootURL: `<html><body><button>Log in</button><button>Sign up</button></body></html>`},
		rendered: map[string]string{rootURL: "Classroom\nLog in\nSign up"},
	}
	_, err := newTestExtractor(page).Extract(context.Background(), "acme")
	assert.NotErrorIs(t, err, ErrNotAuthenticated, "rendered text wins over the snapshot")
}

func TestExtract_ClassroomUnavailable(t *testing.T) {
	page := &fakePage{fail: map[string]error{rootURL: errors.New("net::ERR_NAME_NOT_RESOLVED")}}
	_, err := newTestExtractor(page).Extract(context.Background(), "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load classroom")
}

func TestExtract_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestExtractor(classroomFixture(t)).Extract(ctx, "acme")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommunitySlug(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://www.skool.com/acme/about", "acme", false},
		{"https://www.skool.com/acme", "acme", false},
		{"https://www.skool.com/acme/classroom/intro?md=1", "acme", false},
		{"acme", "acme", false},
		{" /acme/ ", "acme", false},
		{"https://www.skool.com/", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CommunitySlug(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResourcesFromText(t *testing.T) {
	text := `Read https://example.com/a.pdf, then (https://example.com/b) and https://example.com/a.pdf again.
Join us at https://www.skool.com/acme/community or "http://plain.example.org/x".`
	got := resourcesFromText(text)
	assert.Equal(t, []classroom.ResourceRef{
		{Href: "https://example.com/a.pdf,", Text: "https://example.com/a.pdf,"},
		{Href: "https://example.com/b", Text: "https://example.com/b"},
		{Href: "https://example.com/a.pdf", Text: "https://example.com/a.pdf"},
		{Href: "http://plain.example.org/x", Text: "http://plain.example.org/x"},
	}, got)

	assert.NotNil(t, resourcesFromText(""))
	assert.Empty(t, resourcesFromText(""))
}
