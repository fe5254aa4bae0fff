package assistants

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "assistants")

//go:generate mockgen -destination=../mocks/mockllms/llm_mock.gen.go -package mockllms github.com/effective-security/mcpagent/pkg/llms Model

var (
	// ErrEmptyResponse is returned when the model returned no choices
	ErrEmptyResponse = errors.New("empty response from the model")
	// ErrMaxIterations is returned when the turn did not finish within the iteration cap
	ErrMaxIterations = errors.New("max iterations reached")
	// ErrStreamConsumed is returned when a stream is ranged more than once
	ErrStreamConsumed = errors.New("stream already consumed")
)

// ErrorPrefix is prepended to the text of a failed tool call
const ErrorPrefix = "Error: "

// Catalog is the tool surface the Assistant exposes to the model.
// It is implemented by catalog.Manager.
type Catalog interface {
	// ListAllTools returns the tools currently available
	ListAllTools() []mcp.Tool
	// Call routes the call to the server owning the tool
	Call(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error)
}

// Callback observes the conversation loop.
type Callback interface {
	OnChatStart(ctx context.Context, input string)
	OnChatEnd(ctx context.Context, input string, output string)
	OnChatError(ctx context.Context, input string, err error)

	OnLLMCallStart(ctx context.Context, llm llms.Model, payload []llms.Message)
	OnLLMCallEnd(ctx context.Context, llm llms.Model, resp *llms.ContentResponse)

	OnToolStart(ctx context.Context, tool string, input string)
	OnToolEnd(ctx context.Context, tool string, input string, output string)
	OnToolError(ctx context.Context, tool string, input string, err error)
	OnToolNotFound(ctx context.Context, tool string)
}
