package extractor

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
	"github.com/Caia-Tech/classroom-archive/pkg/media"
)

const maxSlugLen = 80

var (
	slugDrop   = regexp.MustCompile(`[^\w\s-]`)
	slugSpaces = regexp.MustCompile(`[\s_]+`)
	slugDashes = regexp.MustCompile(`-+`)
)

// Slugify turns a title into a lower-case, dash-separated file name stem of
// at most 80 characters.
func Slugify(text string) string {
	s := strings.ToLower(text)
	s = slugDrop.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	s = strings.TrimPrefix(strings.TrimSuffix(s, "-"), "-")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// LessonFilename names the Markdown file of the lesson at 0-based index i.
func LessonFilename(i int, title string) string {
	return fmt.Sprintf("%02d-%s.md", i+1, Slugify(title))
}

// RenderLesson projects a lesson into Markdown: header, optional error
// callout, then videos, content, images and resources.
func RenderLesson(moduleTitle string, l *classroom.Lesson) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", l.Title)
	fmt.Fprintf(&sb, "**Module:** %s\n", moduleTitle)
	fmt.Fprintf(&sb, "**URL:** %s\n\n", l.URL)

	if l.Error != "" {
		fmt.Fprintf(&sb, "> **Error:** %s\n\n", l.Error)
	}

	if len(l.Videos) > 0 {
		sb.WriteString("## Videos\n\n")
		for _, v := range l.Videos {
			platform := media.NormalizePlatform(v.Platform)
			if platform == media.PlatformMux {
				fmt.Fprintf(&sb, "- Mux Video (%ds): `%s`\n", int64(math.Round(v.Duration/1000)), v.PlaybackID)
				fmt.Fprintf(&sb, "  Stream: %s\n", v.URL)
				if v.ThumbnailURL != "" {
					fmt.Fprintf(&sb, "  Thumbnail: %s\n", v.ThumbnailURL)
				}
				continue
			}
			fmt.Fprintf(&sb, "- [%s](%s)\n", platform, v.URL)
		}
		sb.WriteString("\n")
	}

	if l.Content.Markdown != "" {
		fmt.Fprintf(&sb, "## Content\n\n%s\n\n", l.Content.Markdown)
	}

	if len(l.Images) > 0 {
		sb.WriteString("## Images\n\n")
		for _, img := range l.Images {
			fmt.Fprintf(&sb, "![%s](%s)\n\n", img.Alt, img.Src)
		}
	}

	if len(l.Resources) > 0 {
		sb.WriteString("## Resources\n\n")
		for _, r := range l.Resources {
			fmt.Fprintf(&sb, "- [%s](%s)\n", r.Text, r.Href)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// PersistResult locates what Persist wrote.
type PersistResult struct {
	TreePath    string
	ModulesDir  string
	LessonFiles int
}

// Persist writes the tree and one Markdown file per lesson under
// outputDir/<community>.
func Persist(tree *classroom.Tree, outputDir string) (*PersistResult, error) {
	res := &PersistResult{
		TreePath:   classroom.TreePath(outputDir, tree.Community),
		ModulesDir: filepath.Join(outputDir, tree.Community, "modules"),
	}
	if err := tree.Save(res.TreePath); err != nil {
		return nil, err
	}

	for _, m := range tree.Modules {
		dir := filepath.Join(res.ModulesDir, Slugify(m.Title))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return res, fmt.Errorf("failed to create module directory: %w", err)
		}
		for i := range m.Lessons {
			l := &m.Lessons[i]
			path := filepath.Join(dir, LessonFilename(i, l.Title))
			if err := os.WriteFile(path, []byte(RenderLesson(m.Title, l)), 0644); err != nil {
				return res, fmt.Errorf("failed to write lesson %s: %w", l.Title, err)
			}
			res.LessonFiles++
		}
	}
	return res, nil
}
