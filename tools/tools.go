package tools

import (
	"github.com/effective-security/mcpagent/catalog"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llmutils"
)

// ToolTypeFunction is the only tool type supported by the completion services
const ToolTypeFunction = "function"

// Parameters returns the input schema of the tool,
// or an empty object schema when the server did not provide one.
func Parameters(t mcp.Tool) map[string]any {
	if len(t.InputSchema) == 0 {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return t.InputSchema
}

// FunctionName returns the name the model sees for the tool
func FunctionName(t mcp.Tool, qualified bool) string {
	if qualified && t.Server != "" {
		return catalog.QualifiedName(t.Server, t.Name)
	}
	return t.Name
}

// ToLLMTools translates catalog tools to function-calling tools.
// With qualified set, functions are named `server__tool`.
func ToLLMTools(list []mcp.Tool, qualified bool) []llms.Tool {
	res := make([]llms.Tool, 0, len(list))
	for _, t := range list {
		res = append(res, llms.Tool{
			Type: ToolTypeFunction,
			Function: &llms.FunctionDefinition{
				Name:        FunctionName(t, qualified),
				Description: t.Description,
				Parameters:  Parameters(t),
			},
		})
	}
	return res
}

type toolDescription struct {
	Name        string `json:"Name" yaml:"Name"`
	Server      string `json:"Server,omitempty" yaml:"Server,omitempty"`
	Description string `json:"Description" yaml:"Description"`
}

type toolsDescription struct {
	Tools []toolDescription `json:"Tools" yaml:"Tools"`
}

// GetDescriptions returns a JSON block with the qualified name and description of each tool,
// to be used in prompts.
func GetDescriptions(list ...mcp.Tool) string {
	var d toolsDescription
	for _, tool := range list {
		d.Tools = append(d.Tools, toolDescription{
			Name:        FunctionName(tool, true),
			Server:      tool.Server,
			Description: tool.Description,
		})
	}
	return llmutils.BackticksJSON(llmutils.ToJSONIndent(d))
}
