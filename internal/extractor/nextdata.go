package extractor

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
	"github.com/Caia-Tech/classroom-archive/pkg/media"
)

// pageState is the subset of the server-rendered page state the crawl
// reads. Every page type carries a different part of it.
type pageState struct {
	Props struct {
		PageProps struct {
			// classroom root
			AllCourses []courseInfo `json:"allCourses"`
			// course and lesson pages
			Course *courseTree `json:"course"`
			// lesson pages
			Video json.RawMessage `json:"video"`
		} `json:"pageProps"`
	} `json:"props"`
}

type courseInfo struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Metadata courseMeta `json:"metadata"`
}

// courseMeta decodes leniently: the platform sometimes sends metadata as a
// non-object, and desc is only used when it is a string.
type courseMeta struct {
	Title string
	Desc  string
}

func (m *courseMeta) UnmarshalJSON(data []byte) error {
	*m = courseMeta{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	json.Unmarshal(raw["title"], &m.Title)
	json.Unmarshal(raw["desc"], &m.Desc)
	return nil
}

type courseTree struct {
	Children []struct {
		Course   courseInfo `json:"course"`
		Children []struct {
			Course courseInfo `json:"course"`
		} `json:"children"`
	} `json:"children"`
}

type muxVideo struct {
	PlaybackID     string          `json:"playbackId"`
	PlaybackToken  string          `json:"playbackToken"`
	Duration       float64         `json:"duration"`
	AspectRatio    json.RawMessage `json:"aspectRatio"`
	ThumbnailToken string          `json:"thumbnailToken"`
}

// lessonMeta is what the course tree knows about one lesson.
type lessonMeta struct {
	Title        string
	Desc         string
	SectionTitle string
}

// readPageState extracts the embedded page state. A page without it, or
// with state that does not decode, yields an empty state.
func readPageState(doc *goquery.Document) *pageState {
	var ps pageState
	raw := doc.Find("script#__NEXT_DATA__").First().Text()
	if raw == "" {
		return &ps
	}
	if err := json.Unmarshal([]byte(raw), &ps); err != nil {
		return &pageState{}
	}
	return &ps
}

// lessonIndex maps lesson ids to their metadata.
func (t *courseTree) lessonIndex() map[string]lessonMeta {
	index := make(map[string]lessonMeta)
	if t == nil {
		return index
	}
	for _, section := range t.Children {
		sectionTitle := section.Course.Metadata.Title
		if sectionTitle == "" {
			sectionTitle = "Section"
		}
		for _, item := range section.Children {
			index[item.Course.ID] = lessonMeta{
				Title:        item.Course.Metadata.Title,
				Desc:         item.Course.Metadata.Desc,
				SectionTitle: sectionTitle,
			}
		}
	}
	return index
}

// muxVideoRef rebuilds the stream reference for a lesson's hosted video.
func muxVideoRef(raw json.RawMessage) (classroom.VideoRef, bool) {
	var v muxVideo
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil || v.PlaybackID == "" {
		return classroom.VideoRef{}, false
	}
	ref := classroom.VideoRef{
		URL:         fmt.Sprintf("https://stream.mux.com/%s.m3u8", v.PlaybackID),
		Platform:    media.PlatformMux,
		Duration:    v.Duration,
		PlaybackID:  v.PlaybackID,
		AspectRatio: scalarString(v.AspectRatio),
	}
	if v.PlaybackToken != "" {
		ref.URL += "?token=" + url.QueryEscape(v.PlaybackToken)
	}
	if v.ThumbnailToken != "" {
		ref.ThumbnailURL = fmt.Sprintf("https://image.mux.com/%s/thumbnail.jpg?token=%s",
			v.PlaybackID, url.QueryEscape(v.ThumbnailToken))
	}
	return ref, true
}

func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}
