package tools

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/localtransport"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/effective-security/mcpagent/pkg/schema"
)

// ContentProvider is implemented by tool outputs that render themselves
type ContentProvider interface {
	GetContent() string
}

// Func is a typed tool implementation
type Func[I any, O any] func(ctx context.Context, in *I) (*O, error)

// Register adds a typed tool to the in-process server.
// The parameters schema is reflected from I, and the output is rendered
// with GetContent when O implements ContentProvider, or as JSON otherwise.
// Errors returned by fn are reported as tool results flagged as error.
func Register[I any, O any](srv *localtransport.Server, name, description string, fn Func[I, O]) error {
	sc, err := schema.For[I]()
	if err != nil {
		return errors.Wrapf(err, "failed to create schema for tool %q", name)
	}

	srv.RegisterTool(mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: sc.Parameters,
	}, func(ctx context.Context, args map[string]any) (*mcp.ToolResult, error) {
		js, err := json.Marshal(args)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		in := new(I)
		if err = json.Unmarshal(js, in); err != nil {
			return mcp.ErrorResult("invalid arguments: " + err.Error()), nil
		}

		out, err := fn(ctx, in)
		if err != nil {
			return mcp.ErrorResult(err.Error()), nil
		}
		if out == nil {
			return &mcp.ToolResult{}, nil
		}
		return mcp.TextResult(render(out)), nil
	})
	return nil
}

func render(out any) string {
	switch v := out.(type) {
	case ContentProvider:
		return v.GetContent()
	case *string:
		return *v
	}
	return llmutils.ToJSON(out)
}
