package mcp

import (
	"encoding/json"
	"strings"
)

// EmptyResultText is returned by Text when the result has nothing to show.
const EmptyResultText = "Tool executed successfully"

const imagePreviewLen = 50

// Text reduces the result to a single string for the conversation history.
//
// Text fragments are used as is, images are replaced with a short placeholder,
// and every other fragment is rendered as JSON. Fragments are joined by newlines.
func (r *ToolResult) Text() string {
	if r == nil {
		return EmptyResultText
	}

	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		switch c.Type {
		case ContentText:
			parts = append(parts, c.Text)
		case ContentImage:
			data := c.Data
			if len(data) > imagePreviewLen {
				data = data[:imagePreviewLen]
			}
			parts = append(parts, "[Image: "+data+"...]")
		default:
			var v any = c
			if c.Resource != nil {
				v = c.Resource
			}
			js, _ := json.Marshal(v)
			parts = append(parts, "[Resource: "+string(js)+"]")
		}
	}

	text := strings.Join(parts, "\n")
	if text == "" {
		return EmptyResultText
	}
	return text
}

// TextResult returns a result with a single text fragment.
func TextResult(text string) *ToolResult {
	return &ToolResult{
		Content: []Content{{Type: ContentText, Text: text}},
	}
}

// ErrorResult returns a result flagged as error, with a single text fragment.
func ErrorResult(text string) *ToolResult {
	return &ToolResult{
		Content: []Content{{Type: ContentText, Text: text}},
		IsError: true,
	}
}
