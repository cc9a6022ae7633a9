package richtext

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, doc string) string {
	t.Helper()
	var nodes []Node
	require.NoError(t, json.Unmarshal([]byte(doc), &nodes))
	return ToMarkdown(nodes)
}

func TestToMarkdown(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "heading and bold paragraph",
			doc: `[{"type":"heading","attrs":{"level":2},"content":[{"type":"text","text":"Hi"}]},
				{"type":"paragraph","content":[{"type":"text","text":"a","marks":[{"type":"bold"}]}]}]`,
			want: "## Hi\n\n**a**\n\n",
		},
		{
			name: "heading defaults to level one",
			doc:  `[{"type":"heading","content":[{"type":"text","text":"Top"}]}]`,
			want: "# Top\n\n",
		},
		{
			name: "heading level as string",
			doc:  `[{"type":"heading","attrs":{"level":"3"},"content":[{"type":"text","text":"x"}]}]`,
			want: "### x\n\n",
		},
		{
			name: "ordered list",
			doc: `[{"type":"orderedList","content":[
				{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"first"}]}]},
				{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"second"}]}]}]}]`,
			want: "1. first\n2. second\n\n",
		},
		{
			name: "bullet list",
			doc: `[{"type":"bulletList","content":[
				{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"a"}]}]},
				{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"b"}]}]}]}]`,
			want: "- a\n- b\n\n",
		},
		{
			name: "marks apply in order",
			doc: `[{"type":"paragraph","content":[{"type":"text","text":"go","marks":[
				{"type":"bold"},{"type":"italic"},{"type":"link","attrs":{"href":"https://go.dev"}}]}]}]`,
			want: "[***go***](https://go.dev)\n\n",
		},
		{
			name: "inline code and hard break",
			doc: `[{"type":"paragraph","content":[{"type":"text","text":"x","marks":[{"type":"code"}]},
				{"type":"hardBreak"},{"type":"text","text":"y"}]}]`,
			want: "`x`\ny\n\n",
		},
		{
			name: "blockquote prefixes every line",
			doc:  `[{"type":"blockquote","content":[{"type":"paragraph","content":[{"type":"text","text":"q"}]}]}]`,
			want: "> q\n> \n> \n\n",
		},
		{
			name: "code block",
			doc:  `[{"type":"codeBlock","content":[{"type":"text","text":"fmt.Println()"}]}]`,
			want: "```\nfmt.Println()\n```\n\n",
		},
		{
			name: "rule image and embed",
			doc: `[{"type":"horizontalRule"},{"type":"image","attrs":{"src":"https://i/x.png","alt":"X"}},
				{"type":"embed","attrs":{"src":"https://e/1"}},{"type":"embed"}]`,
			want: "---\n\n![X](https://i/x.png)\n\n[Embed](https://e/1)\n\n",
		},
		{
			name: "unknown node renders children",
			doc:  `[{"type":"callout","content":[{"type":"paragraph","content":[{"type":"text","text":"inside"}]}]}]`,
			want: "inside\n\n",
		},
		{
			name: "malformed nodes contribute nothing",
			doc:  `[42, "str", null, {"type":"paragraph","content":{"type":"text","text":"solo"}}, {"type":"paragraph","content":7}]`,
			want: "solo\n\n\n\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, tt.doc))
		})
	}
}

func TestParseDesc(t *testing.T) {
	tests := []struct {
		name string
		desc string
		want string
	}{
		{"plain text passes through", "just words", "just words"},
		{"empty", "", ""},
		{"structured", `[v2][{"type":"paragraph","content":[{"type":"text","text":"hello"}]}]`, "hello\n\n"},
		{"invalid json degrades to remainder", "[v2]{not json", "{not json"},
		{"object instead of array degrades", `[v2]{"type":"paragraph"}`, `{"type":"paragraph"}`},
		{"empty array", "[v2][]", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDesc(tt.desc))
		})
	}
}
