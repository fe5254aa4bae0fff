package llms

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ContentPartJSON represents the JSON structure for content parts
type ContentPartJSON struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	ToolCall     *ToolCall         `json:"tool_call,omitempty"`
	ToolResponse *ToolCallResponse `json:"tool_response,omitempty"`
}

type messageJSON struct {
	Role  Role              `json:"role"`
	Parts []ContentPartJSON `json:"parts"`
}

// MarshalJSON implements json.Marshaler for Message
func (m Message) MarshalJSON() ([]byte, error) {
	res := messageJSON{
		Role:  m.Role,
		Parts: make([]ContentPartJSON, 0, len(m.Parts)),
	}
	for _, p := range m.Parts {
		switch pp := p.(type) {
		case TextContent:
			res.Parts = append(res.Parts, ContentPartJSON{Type: "text", Text: pp.Text})
		case ToolCall:
			tc := pp
			res.Parts = append(res.Parts, ContentPartJSON{Type: "tool_call", ToolCall: &tc})
		case ToolCallResponse:
			tr := pp
			res.Parts = append(res.Parts, ContentPartJSON{Type: "tool_response", ToolResponse: &tr})
		default:
			return nil, errors.Newf("unsupported content part: %T", p)
		}
	}
	return json.Marshal(res)
}

// UnmarshalJSON implements json.Unmarshaler for Message
func (m *Message) UnmarshalJSON(data []byte) error {
	var msg messageJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return errors.WithStack(err)
	}

	m.Role = msg.Role
	m.Parts = make([]ContentPart, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case "text", "":
			m.Parts = append(m.Parts, TextContent{Text: p.Text})
		case "tool_call":
			if p.ToolCall == nil {
				return errors.New("tool_call field is required for tool_call type")
			}
			m.Parts = append(m.Parts, *p.ToolCall)
		case "tool_response":
			if p.ToolResponse == nil {
				return errors.New("tool_response field is required for tool_response type")
			}
			m.Parts = append(m.Parts, *p.ToolResponse)
		default:
			return errors.Newf("unknown content part type: %s", p.Type)
		}
	}
	return nil
}
