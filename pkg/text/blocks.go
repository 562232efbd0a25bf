package text

import (
	"encoding/json"
	"strings"

	"github.com/slack-go/slack"
)

// Block is a minimal JSON view of a Block Kit block, just deep enough to
// pull human readable text out of layout blocks, rich text and tables.
type Block struct {
	Type     string       `json:"type"`
	Text     *TextObject  `json:"text,omitempty"`
	Fields   []TextObject `json:"fields,omitempty"`
	Elements []RichNode   `json:"elements,omitempty"`
	Rows     [][]RichNode `json:"rows,omitempty"`
}

// TextObject is a Block Kit composition text object.
type TextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// RichNode is a rich text element at any nesting level. Leaf and container
// fields share the struct; which ones are set depends on Type.
type RichNode struct {
	Type      string     `json:"type"`
	Text      string     `json:"text,omitempty"`
	URL       string     `json:"url,omitempty"`
	Name      string     `json:"name,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	ChannelID string     `json:"channel_id,omitempty"`
	Range     string     `json:"range,omitempty"`
	Elements  []RichNode `json:"elements,omitempty"`
}

// MessageBlocksToText renders the blocks attached to a Slack message. The
// typed block values round-trip through JSON into the local Block model so
// one renderer serves both API messages and raw block payloads.
func MessageBlocksToText(blocks slack.Blocks) string {
	if len(blocks.BlockSet) == 0 {
		return ""
	}

	raw, err := json.Marshal(blocks)
	if err != nil {
		return ""
	}
	var nodes []Block
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return ""
	}
	return BlocksToText(nodes)
}

// BlocksToText extracts text from Block Kit blocks as a single string,
// prefixed with ". " so it can be appended to the message body. Blocks that
// carry no text contribute nothing.
func BlocksToText(blocks []Block) string {
	if len(blocks) == 0 {
		return ""
	}

	var parts []string
	for _, block := range blocks {
		if text := blockToText(block); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return ". " + strings.Join(parts, " | ")
}

func blockToText(block Block) string {
	switch block.Type {
	case "section", "header":
		var parts []string
		if block.Text != nil && block.Text.Text != "" {
			parts = append(parts, block.Text.Text)
		}
		for _, field := range block.Fields {
			if field.Text != "" {
				parts = append(parts, field.Text)
			}
		}
		return strings.Join(parts, " | ")

	case "rich_text":
		return richTextToText(block.Elements)

	case "context":
		var texts []string
		for _, el := range block.Elements {
			if (el.Type == "plain_text" || el.Type == "mrkdwn") && el.Text != "" {
				texts = append(texts, el.Text)
			}
		}
		return strings.Join(texts, " ")

	case "table":
		var rowTexts []string
		for _, row := range block.Rows {
			var cellTexts []string
			for _, cell := range row {
				switch cell.Type {
				case "raw_text":
					cellTexts = append(cellTexts, cell.Text)
				case "rich_text":
					cellTexts = append(cellTexts, richTextToText(cell.Elements))
				}
			}
			rowTexts = append(rowTexts, strings.Join(cellTexts, " | "))
		}
		return strings.Join(rowTexts, "\n")
	}

	return ""
}

func richTextToText(elements []RichNode) string {
	var parts []string
	for _, el := range elements {
		switch el.Type {
		case "rich_text_section", "rich_text_preformatted", "rich_text_quote":
			if text := richLeavesToText(el.Elements); text != "" {
				parts = append(parts, text)
			}
		case "rich_text_list":
			for _, item := range el.Elements {
				if text := richLeavesToText(item.Elements); text != "" {
					parts = append(parts, "- "+text)
				}
			}
		}
	}
	return strings.Join(parts, "\n")
}

func richLeavesToText(elements []RichNode) string {
	var sb strings.Builder
	for _, el := range elements {
		switch el.Type {
		case "text":
			sb.WriteString(el.Text)
		case "link":
			if el.Text != "" {
				sb.WriteString(el.Text)
			} else {
				sb.WriteString(el.URL)
			}
		case "emoji":
			sb.WriteString(":" + el.Name + ":")
		case "user":
			sb.WriteString("<@" + el.UserID + ">")
		case "channel":
			sb.WriteString("<#" + el.ChannelID + ">")
		case "broadcast":
			r := el.Range
			if r == "" {
				r = "everyone"
			}
			sb.WriteString("@" + r)
		}
	}
	return sb.String()
}
