package classroom

import (
	"encoding/json"
	"time"
)

// Trees written by different extractor versions name the same fields
// differently. Every reference type below accepts all known variants when
// decoded and is normalised once, at ingestion, into a single shape. The
// variants are tried in a fixed order and the first non-empty one wins.

// VideoRef is a video embedded in a lesson.
type VideoRef struct {
	// URL is the raw, uncanonicalised location (url, src or embedUrl).
	URL string
	// Platform is the declared hosting platform (platform or type), as
	// written. It may be empty.
	Platform string
	// Duration is in milliseconds.
	Duration     float64
	PlaybackID   string
	AspectRatio  string
	ThumbnailURL string
}

type videoWire struct {
	URL          string          `json:"url,omitempty"`
	Src          string          `json:"src,omitempty"`
	EmbedURL     string          `json:"embedUrl,omitempty"`
	Platform     string          `json:"platform,omitempty"`
	Type         string          `json:"type,omitempty"`
	Duration     float64         `json:"duration,omitempty"`
	PlaybackID   string          `json:"playbackId,omitempty"`
	AspectRatio  json.RawMessage `json:"aspectRatio,omitempty"`
	ThumbnailURL string          `json:"thumbnailUrl,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *VideoRef) UnmarshalJSON(data []byte) error {
	var w videoWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*v = VideoRef{
		URL:          firstNonEmpty(w.URL, w.Src, w.EmbedURL),
		Platform:     firstNonEmpty(w.Platform, w.Type),
		Duration:     w.Duration,
		PlaybackID:   w.PlaybackID,
		AspectRatio:  rawScalar(w.AspectRatio),
		ThumbnailURL: w.ThumbnailURL,
	}
	return nil
}

// MarshalJSON implements json.Marshaler using the current extractor shape
// ({src, type, ...}).
func (v VideoRef) MarshalJSON() ([]byte, error) {
	w := videoWire{
		Src:          v.URL,
		Type:         v.Platform,
		Duration:     v.Duration,
		PlaybackID:   v.PlaybackID,
		ThumbnailURL: v.ThumbnailURL,
	}
	if v.AspectRatio != "" {
		w.AspectRatio, _ = json.Marshal(v.AspectRatio)
	}
	return json.Marshal(w)
}

// DurationValue returns the duration as a time.Duration.
func (v VideoRef) DurationValue() time.Duration {
	return time.Duration(v.Duration * float64(time.Millisecond))
}

// ImageRef is an image shown in a lesson. It may be stored either as a bare
// URL string or as an object.
type ImageRef struct {
	Src string
	Alt string
}

type imageWire struct {
	Src string `json:"src,omitempty"`
	URL string `json:"url,omitempty"`
	Alt string `json:"alt"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *ImageRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*i = ImageRef{Src: s}
		return nil
	}
	var w imageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*i = ImageRef{Src: firstNonEmpty(w.Src, w.URL), Alt: w.Alt}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (i ImageRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(imageWire{Src: i.Src, Alt: i.Alt})
}

// ResourceRef is a link or downloadable file attached to a lesson.
type ResourceRef struct {
	Href       string
	Text       string
	IsDownload bool
	// Type is a declared file extension without the dot, e.g. "pdf".
	Type string
}

type resourceWire struct {
	URL        string `json:"url,omitempty"`
	Href       string `json:"href,omitempty"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text,omitempty"`
	IsDownload bool   `json:"isDownload"`
	Type       string `json:"type,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ResourceRef) UnmarshalJSON(data []byte) error {
	var w resourceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = ResourceRef{
		Href:       firstNonEmpty(w.URL, w.Href),
		Text:       firstNonEmpty(w.Title, w.Text),
		IsDownload: w.IsDownload,
		Type:       w.Type,
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r ResourceRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(resourceWire{
		Href:       r.Href,
		Text:       r.Text,
		IsDownload: r.IsDownload,
		Type:       r.Type,
	})
}

// UnmarshalJSON implements json.Unmarshaler. References without a usable
// URL are dropped from the lesson without error.
func (l *Lesson) UnmarshalJSON(data []byte) error {
	type plain Lesson
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = Lesson(p)
	l.Videos = keep(l.Videos, func(v VideoRef) bool { return v.URL != "" })
	l.Images = keep(l.Images, func(i ImageRef) bool { return i.Src != "" })
	l.Resources = keep(l.Resources, func(r ResourceRef) bool { return r.Href != "" })
	return nil
}

func keep[T any](in []T, ok func(T) bool) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if ok(v) {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// rawScalar renders a JSON string or number as text; anything else is
// discarded.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
