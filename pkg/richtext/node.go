// Package richtext converts lesson bodies stored as a ProseMirror-style
// document (a JSON array of typed block and inline nodes) into Markdown.
package richtext

import (
	"encoding/json"
	"strconv"
)

// Kind identifies a node type. Types this package does not know decode as
// KindUnknown and keep their children, so newer documents still render.
type Kind int

const (
	KindUnknown Kind = iota
	KindParagraph
	KindHeading
	KindBulletList
	KindOrderedList
	KindListItem
	KindBlockquote
	KindCodeBlock
	KindHorizontalRule
	KindImage
	KindEmbed
	KindText
	KindHardBreak
)

var kindNames = map[string]Kind{
	"paragraph":      KindParagraph,
	"heading":        KindHeading,
	"bulletList":     KindBulletList,
	"orderedList":    KindOrderedList,
	"listItem":       KindListItem,
	"blockquote":     KindBlockquote,
	"codeBlock":      KindCodeBlock,
	"horizontalRule": KindHorizontalRule,
	"image":          KindImage,
	"embed":          KindEmbed,
	"text":           KindText,
	"hardBreak":      KindHardBreak,
}

// MarkKind identifies an inline style.
type MarkKind int

const (
	MarkUnknown MarkKind = iota
	MarkBold
	MarkItalic
	MarkCode
	MarkLink
)

var markNames = map[string]MarkKind{
	"bold":   MarkBold,
	"italic": MarkItalic,
	"code":   MarkCode,
	"link":   MarkLink,
}

// Mark is an inline style applied to a text run.
type Mark struct {
	Kind MarkKind
	Href string
}

// Attrs holds the node attributes the converter reads.
type Attrs struct {
	Level int
	Src   string
	Alt   string
}

// Node is one element of a document.
type Node struct {
	Kind Kind
	// Type is the type name as written in the document.
	Type    string
	Text    string
	Marks   []Mark
	Attrs   Attrs
	Content []Node
}

type nodeWire struct {
	Type    string                     `json:"type"`
	Text    json.RawMessage            `json:"text"`
	Marks   []json.RawMessage          `json:"marks"`
	Attrs   map[string]json.RawMessage `json:"attrs"`
	Content json.RawMessage            `json:"content"`
}

type markWire struct {
	Type  string                     `json:"type"`
	Attrs map[string]json.RawMessage `json:"attrs"`
}

// UnmarshalJSON implements json.Unmarshaler. It never fails: a malformed
// node decodes as an empty KindUnknown node and renders as nothing.
func (n *Node) UnmarshalJSON(data []byte) error {
	*n = Node{}
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil
	}
	n.Type = w.Type
	n.Kind = kindNames[w.Type]
	n.Text = stringValue(w.Text)
	for _, raw := range w.Marks {
		var mw markWire
		if err := json.Unmarshal(raw, &mw); err != nil {
			continue
		}
		n.Marks = append(n.Marks, Mark{
			Kind: markNames[mw.Type],
			Href: stringValue(mw.Attrs["href"]),
		})
	}
	n.Attrs = Attrs{
		Level: intValue(w.Attrs["level"]),
		Src:   stringValue(w.Attrs["src"]),
		Alt:   stringValue(w.Attrs["alt"]),
	}
	n.Content = decodeContent(w.Content)
	return nil
}

// decodeContent accepts the usual node array and also a single node object
// in place of the array.
func decodeContent(raw json.RawMessage) []Node {
	if len(raw) == 0 {
		return nil
	}
	var nodes []Node
	if err := json.Unmarshal(raw, &nodes); err == nil {
		return nodes
	}
	var single Node
	if err := json.Unmarshal(raw, &single); err == nil && single.Type != "" {
		return []Node{single}
	}
	return nil
}

func stringValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func intValue(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	if i, err := strconv.Atoi(stringValue(raw)); err == nil {
		return i
	}
	return 0
}
