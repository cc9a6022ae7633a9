package download

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
	"github.com/Caia-Tech/classroom-archive/pkg/media"
)

// Kind tells which phase and directory an item belongs to.
type Kind string

const (
	KindVideo    Kind = "video"
	KindResource Kind = "resource"
	KindImage    Kind = "image"
)

// Item is one unit of download work.
type Item struct {
	Kind     Kind
	Module   string // sanitised module directory name
	Lesson   string // lesson directory name, disambiguated
	URL      string
	Platform string // videos only
	Dest     string
}

// Layout locates a community's artifacts under the output root.
type Layout struct {
	Root      string
	Community string
}

func (l Layout) Dir() string { return filepath.Join(l.Root, l.Community) }
func (l Layout) VideosDir() string { return filepath.Join(l.Dir(), "videos") }
func (l Layout) ResourcesDir() string { return filepath.Join(l.Dir(), "resources") }
func (l Layout) ImagesDir() string { return filepath.Join(l.Dir(), "images") }
func (l Layout) ManifestPath() string { return filepath.Join(l.Dir(), "downloaded-videos-manifest.txt") }
func (l Layout) TreePath() string { return classroom.TreePath(l.Root, l.Community) }
func (l Layout) ReportPath(p Phase) string {
	if p == PhaseResources {
		return filepath.Join(l.Dir(), "resources-report.json")
	}
	return filepath.Join(l.Dir(), "download-report.json")
}

const maxNameLen = 200

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Sanitize makes name safe as a single path element: reserved and control
// characters are removed, whitespace collapsed, and the result trimmed to 200
// characters. An empty result is replaced by fallback.
func Sanitize(name, fallback string) string {
	s := unsafeChars.ReplaceAllString(name, "")
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	if r := []rune(s); len(r) > maxNameLen {
		s = strings.TrimSpace(string(r[:maxNameLen]))
	}
	if s == "" || s == "." || s == ".." {
		return fallback
	}
	return s
}

// filenameFromURL returns the decoded last path segment of raw, or "".
func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return Sanitize(base, "")
}

// lessonDirs names every lesson directory in tree order. Two lessons whose
// sanitised module and lesson titles coincide would share a directory, so
// the later one gets " [<lessonId>]" appended, or " [<n>]" without an id.
// The mapping covers the whole tree so filtering never changes a name.
func lessonDirs(tree *classroom.Tree) [][]string {
	used := make(map[string]bool)
	dirs := make([][]string, len(tree.Modules))
	for mi, m := range tree.Modules {
		mod := Sanitize(m.Title, "Untitled Module")
		dirs[mi] = make([]string, len(m.Lessons))
		for li, l := range m.Lessons {
			base := Sanitize(l.Title, "Untitled Lesson")
			name := base
			if used[filepath.Join(mod, name)] && l.LessonID != "" {
				name = fmt.Sprintf("%s [%s]", base, Sanitize(l.LessonID, ""))
			}
			for n := 2; used[filepath.Join(mod, name)]; n++ {
				name = fmt.Sprintf("%s [%d]", base, n)
			}
			used[filepath.Join(mod, name)] = true
			dirs[mi][li] = name
		}
	}
	return dirs
}

// CollectVideos flattens the tree into video work. When moduleFilter is set
// only the module with exactly that title contributes.
func CollectVideos(tree *classroom.Tree, layout Layout, moduleFilter string) []Item {
	dirs := lessonDirs(tree)
	var items []Item
	for mi, m := range tree.Modules {
		if moduleFilter != "" && m.Title != moduleFilter {
			continue
		}
		mod := Sanitize(m.Title, "Untitled Module")
		for li, l := range m.Lessons {
			lesson := dirs[mi][li]
			for vi, v := range l.Videos {
				r, ok := media.Resolve(v)
				if !ok {
					continue
				}
				name := "video.mp4"
				if len(l.Videos) > 1 {
					name = fmt.Sprintf("video-%d.mp4", vi+1)
				}
				items = append(items, Item{
					Kind:     KindVideo,
					Module:   mod,
					Lesson:   lesson,
					URL:      r.URL,
					Platform: r.Platform,
					Dest:     filepath.Join(layout.VideosDir(), mod, lesson, name),
				})
			}
		}
	}
	return items
}

// CollectResources flattens the tree into resource work followed by image
// work.
func CollectResources(tree *classroom.Tree, layout Layout) []Item {
	dirs := lessonDirs(tree)
	var resources, images []Item
	used := make(map[string]bool)
	for mi, m := range tree.Modules {
		mod := Sanitize(m.Title, "Untitled Module")
		for li, l := range m.Lessons {
			lesson := dirs[mi][li]
			for _, r := range l.Resources {
				if r.Href == "" {
					continue
				}
				dest := uniquePath(used, filepath.Join(layout.ResourcesDir(), mod, lesson), resourceFilename(r))
				resources = append(resources, Item{Kind: KindResource, Module: mod, Lesson: lesson, URL: r.Href, Dest: dest})
			}
			for i, img := range l.Images {
				if img.Src == "" {
					continue
				}
				name := filenameFromURL(img.Src)
				if name == "" {
					name = fmt.Sprintf("image-%d.jpg", i+1)
				}
				dest := uniquePath(used, filepath.Join(layout.ImagesDir(), mod, lesson), name)
				images = append(images, Item{Kind: KindImage, Module: mod, Lesson: lesson, URL: img.Src, Dest: dest})
			}
		}
	}
	return append(resources, images...)
}

func resourceFilename(r classroom.ResourceRef) string {
	name := r.Text
	if name == "" {
		name = filenameFromURL(r.Href)
	}
	name = Sanitize(name, "resource")
	if r.Type == "" {
		return name
	}
	ext := "." + r.Type
	if strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
		return name
	}
	return name + ext
}

// uniquePath joins dir and name, inserting " [n]" before the extension when
// an earlier item already claimed the same path.
func uniquePath(used map[string]bool, dir, name string) string {
	p := filepath.Join(dir, name)
	if !used[p] {
		used[p] = true
		return p
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		p = filepath.Join(dir, fmt.Sprintf("%s [%d]%s", stem, n, ext))
		if !used[p] {
			used[p] = true
			return p
		}
	}
}
