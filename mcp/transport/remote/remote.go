// Package remote adapts a protocol client to mcp.Session.
// It is shared by the stdio and sse transports.
package remote

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// ClientName and ClientVersion are reported to servers during the handshake
var (
	ClientName    = "mcpagent"
	ClientVersion = "0.1.0"
)

// Session is a live connection served by a protocol client
type Session struct {
	name    string
	client  *mcpclient.Client
	onClose []func()
}

// NewSession returns a Session for the server name over the started client
func NewSession(name string, client *mcpclient.Client) *Session {
	return &Session{
		name:   name,
		client: client,
	}
}

// OnClose adds a function called after the client is closed
func (s *Session) OnClose(fn func()) *Session {
	s.onClose = append(s.onClose, fn)
	return s
}

// Name returns the server name
func (s *Session) Name() string {
	return s.name
}

// Initialize implements mcp.Session
func (s *Session) Initialize(ctx context.Context) (*mcp.ServerInfo, error) {
	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpgo.Implementation{
		Name:    ClientName,
		Version: ClientVersion,
	}

	res, err := s.client.Initialize(ctx, req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &mcp.ServerInfo{
		Name:            res.ServerInfo.Name,
		Version:         res.ServerInfo.Version,
		ProtocolVersion: res.ProtocolVersion,
	}, nil
}

// ListTools implements mcp.Session
func (s *Session) ListTools(ctx context.Context, cursor string) ([]mcp.Tool, string, error) {
	req := mcpgo.ListToolsRequest{}
	req.Params.Cursor = mcpgo.Cursor(cursor)

	res, err := s.client.ListToolsByPage(ctx, req)
	if err != nil {
		return nil, "", errors.WithStack(err)
	}

	tools, err := ToTools(res.Tools)
	if err != nil {
		return nil, "", err
	}
	return tools, string(res.NextCursor), nil
}

// ToTools maps tools through their JSON form,
// which carries the input schema whether it was typed or raw.
func ToTools(list []mcpgo.Tool) ([]mcp.Tool, error) {
	tools := make([]mcp.Tool, 0, len(list))
	for _, t := range list {
		js, err := json.Marshal(t)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to encode tool %q", t.Name)
		}
		var tool mcp.Tool
		if err = json.Unmarshal(js, &tool); err != nil {
			return nil, errors.Wrapf(err, "unable to decode tool %q", t.Name)
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// CallTool implements mcp.Session
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ToResult(res)
}

// ToResult converts a call result, the error flag is preserved
func ToResult(res *mcpgo.CallToolResult) (*mcp.ToolResult, error) {
	if res == nil {
		return &mcp.ToolResult{}, nil
	}

	result := &mcp.ToolResult{
		Content: make([]mcp.Content, 0, len(res.Content)),
		IsError: res.IsError,
	}
	for _, c := range res.Content {
		js, err := json.Marshal(c)
		if err != nil {
			return nil, errors.Wrap(err, "unable to encode content")
		}
		var item mcp.Content
		if err = json.Unmarshal(js, &item); err != nil {
			return nil, errors.Wrap(err, "unable to decode content")
		}
		result.Content = append(result.Content, item)
	}
	return result, nil
}

// Close implements mcp.Session
func (s *Session) Close() error {
	err := s.client.Close()
	for _, fn := range s.onClose {
		fn()
	}
	return errors.WithStack(err)
}
