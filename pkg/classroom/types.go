// Package classroom defines the persisted classroom tree: one crawl snapshot
// of a community's modules, lessons and the media referenced by each lesson.
package classroom

import (
	"fmt"
	"time"
)

// Tree is the root record of a crawl. It is written once per extraction
// run and replaced wholesale; it is never merged with a previous snapshot.
type Tree struct {
	Community    string    `json:"community"`
	ClassroomURL string    `json:"classroomUrl,omitempty"`
	ScrapedAt    time.Time `json:"scrapedAt"`
	Modules      []Module  `json:"modules"`
}

// Module is one course of the classroom. A module carrying an Error has no
// lessons.
type Module struct {
	Title      string   `json:"title"`
	CourseID   string   `json:"courseId"`
	CourseSlug string   `json:"courseSlug,omitempty"`
	Lessons    []Lesson `json:"lessons"`
	Error      string   `json:"error,omitempty"`
}

// Lesson is a single classroom page.
type Lesson struct {
	Title        string        `json:"title"`
	URL          string        `json:"url"`
	LessonID     string        `json:"lessonId"`
	Module       string        `json:"module"`
	SectionTitle string        `json:"sectionTitle"`
	Content      Content       `json:"content"`
	Videos       []VideoRef    `json:"videos"`
	Images       []ImageRef    `json:"images"`
	Resources    []ResourceRef `json:"resources"`
	Error        string        `json:"error,omitempty"`
}

// Content holds the lesson body.
type Content struct {
	Markdown string `json:"markdown"`
}

// Stats summarises a tree.
type Stats struct {
	Modules  int
	Lessons  int
	Videos   int
	Duration time.Duration
}

// Stats counts modules, lessons and videos and sums the known video
// durations.
func (t *Tree) Stats() Stats {
	s := Stats{Modules: len(t.Modules)}
	for _, m := range t.Modules {
		s.Lessons += len(m.Lessons)
		for _, l := range m.Lessons {
			s.Videos += len(l.Videos)
			for _, v := range l.Videos {
				s.Duration += v.DurationValue()
			}
		}
	}
	return s
}

// Validate checks the fields every consumer relies on.
func (t *Tree) Validate() error {
	if t.Community == "" {
		return fmt.Errorf("classroom tree has no community")
	}
	return nil
}
