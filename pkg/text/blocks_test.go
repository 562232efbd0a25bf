package text

import (
	"encoding/json"
	"testing"
)

func decodeBlocks(t *testing.T, raw string) []Block {
	t.Helper()
	var blocks []Block
	if err := json.Unmarshal([]byte(raw), &blocks); err != nil {
		t.Fatalf("decoding fixture: %v", err)
	}
	return blocks
}

func TestBlocksToText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "empty",
			raw:  `[]`,
			want: "",
		},
		{
			name: "section with fields",
			raw: `[{"type":"section","text":{"type":"mrkdwn","text":"Deploy status"},
				"fields":[{"type":"mrkdwn","text":"prod"},{"type":"mrkdwn","text":"ok"}]}]`,
			want: ". Deploy status | prod | ok",
		},
		{
			name: "header",
			raw:  `[{"type":"header","text":{"type":"plain_text","text":"Release notes"}}]`,
			want: ". Release notes",
		},
		{
			name: "context elements",
			raw: `[{"type":"context","elements":[
				{"type":"plain_text","text":"by alice"},
				{"type":"mrkdwn","text":"*2 min ago*"},
				{"type":"image","image_url":"https://x/y.png"}]}]`,
			want: ". by alice *2 min ago*",
		},
		{
			name: "rich text leaves",
			raw: `[{"type":"rich_text","elements":[{"type":"rich_text_section","elements":[
				{"type":"text","text":"ping "},
				{"type":"user","user_id":"U123"},
				{"type":"text","text":" see "},
				{"type":"link","url":"https://example.com","text":"docs"},
				{"type":"emoji","name":"tada"},
				{"type":"channel","channel_id":"C456"},
				{"type":"broadcast"}]}]}]`,
			want: ". ping <@U123> see docs:tada:<#C456>@everyone",
		},
		{
			name: "link falls back to url",
			raw: `[{"type":"rich_text","elements":[{"type":"rich_text_section","elements":[
				{"type":"link","url":"https://example.com"}]}]}]`,
			want: ". https://example.com",
		},
		{
			name: "rich text list",
			raw: `[{"type":"rich_text","elements":[
				{"type":"rich_text_section","elements":[{"type":"text","text":"todo:"}]},
				{"type":"rich_text_list","elements":[
					{"type":"rich_text_section","elements":[{"type":"text","text":"one"}]},
					{"type":"rich_text_section","elements":[{"type":"text","text":"two"}]}]}]}]`,
			want: ". todo:\n- one\n- two",
		},
		{
			name: "table rows",
			raw: `[{"type":"table","rows":[
				[{"type":"raw_text","text":"name"},{"type":"raw_text","text":"count"}],
				[{"type":"rich_text","elements":[{"type":"rich_text_section","elements":[
					{"type":"text","text":"alpha"}]}]},{"type":"raw_text","text":"3"}]]}]`,
			want: ". name | count\nalpha | 3",
		},
		{
			name: "unknown block types contribute nothing",
			raw: `[{"type":"divider"},{"type":"image"},
				{"type":"section","text":{"type":"mrkdwn","text":"kept"}}]`,
			want: ". kept",
		},
		{
			name: "only empty blocks",
			raw:  `[{"type":"divider"},{"type":"section"}]`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BlocksToText(decodeBlocks(t, tt.raw))
			if got != tt.want {
				t.Errorf("BlocksToText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapSlackContent(t *testing.T) {
	if got := WrapSlackContent(""); got != "" {
		t.Errorf("WrapSlackContent(\"\") = %q, want \"\"", got)
	}
	if got := WrapSlackContent("hello"); got != "[SLACK_CONTENT]hello[/SLACK_CONTENT]" {
		t.Errorf("WrapSlackContent(\"hello\") = %q", got)
	}
}
