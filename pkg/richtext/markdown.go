package richtext

import (
	"encoding/json"
	"strconv"
	"strings"
)

// VersionMarker prefixes lesson bodies stored in the structured format.
const VersionMarker = "[v2]"

// ParseDesc renders a lesson body. Bodies that start with VersionMarker and
// hold a JSON node array are converted to Markdown. Bodies without the marker
// are returned verbatim; if the marker is present but the remainder is not a
// node array, the remainder is returned verbatim.
func ParseDesc(desc string) string {
	rest, ok := strings.CutPrefix(desc, VersionMarker)
	if !ok {
		return desc
	}
	var nodes []Node
	if err := json.Unmarshal([]byte(rest), &nodes); err != nil {
		return rest
	}
	return ToMarkdown(nodes)
}

// ToMarkdown renders a list of block nodes.
func ToMarkdown(nodes []Node) string {
	var sb strings.Builder
	writeBlocks(&sb, nodes)
	return sb.String()
}

func writeBlocks(sb *strings.Builder, nodes []Node) {
	for i := range nodes {
		writeBlock(sb, &nodes[i])
	}
}

func writeBlock(sb *strings.Builder, n *Node) {
	switch n.Kind {
	case KindParagraph:
		sb.WriteString(inline(n.Content))
		sb.WriteString("\n\n")
	case KindHeading:
		sb.WriteString(strings.Repeat("#", headingLevel(n.Attrs.Level)))
		sb.WriteString(" ")
		sb.WriteString(inline(n.Content))
		sb.WriteString("\n\n")
	case KindBulletList:
		sb.WriteString(listItems(n.Content, false))
		sb.WriteString("\n\n")
	case KindOrderedList:
		sb.WriteString(listItems(n.Content, true))
		sb.WriteString("\n\n")
	case KindListItem:
		sb.WriteString(inline(n.Content))
	case KindBlockquote:
		lines := strings.Split(ToMarkdown(n.Content), "\n")
		for i, l := range lines {
			lines[i] = "> " + l
		}
		sb.WriteString(strings.Join(lines, "\n"))
		sb.WriteString("\n\n")
	case KindCodeBlock:
		sb.WriteString("```\n")
		sb.WriteString(inline(n.Content))
		sb.WriteString("\n```\n\n")
	case KindHorizontalRule:
		sb.WriteString("---\n\n")
	case KindImage:
		sb.WriteString(image(n.Attrs))
		sb.WriteString("\n\n")
	case KindEmbed:
		if n.Attrs.Src != "" {
			sb.WriteString("[Embed](" + n.Attrs.Src + ")\n\n")
		}
	default:
		writeBlocks(sb, n.Content)
	}
}

func headingLevel(l int) int {
	switch {
	case l < 1:
		return 1
	case l > 6:
		return 6
	}
	return l
}

func listItems(items []Node, ordered bool) string {
	lines := make([]string, len(items))
	for i, item := range items {
		prefix := "- "
		if ordered {
			prefix = strconv.Itoa(i+1) + ". "
		}
		lines[i] = prefix + inline(item.Content)
	}
	return strings.Join(lines, "\n")
}

func inline(nodes []Node) string {
	var sb strings.Builder
	for i := range nodes {
		n := &nodes[i]
		switch n.Kind {
		case KindText:
			sb.WriteString(applyMarks(n.Text, n.Marks))
		case KindHardBreak:
			sb.WriteString("\n")
		case KindImage:
			sb.WriteString(image(n.Attrs))
		default:
			sb.WriteString(inline(n.Content))
		}
	}
	return sb.String()
}

// applyMarks wraps text once per mark, in list order, so the first mark ends
// up innermost.
func applyMarks(text string, marks []Mark) string {
	for _, m := range marks {
		switch m.Kind {
		case MarkBold:
			text = "**" + text + "**"
		case MarkItalic:
			text = "*" + text + "*"
		case MarkCode:
			text = "`" + text + "`"
		case MarkLink:
			text = "[" + text + "](" + m.Href + ")"
		}
	}
	return text
}

func image(a Attrs) string {
	return "![" + a.Alt + "](" + a.Src + ")"
}
