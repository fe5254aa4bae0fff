// Package mcp provides the client side of a single tool server:
// the descriptor it is launched from, the tool and result types,
// the Session boundary implemented by transports, and Connection,
// which owns the lifecycle of one server.
package mcp

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "mcp")

// Transport kinds
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportLocal = "local"
)

var (
	// ErrConnection is returned when the transport cannot be established,
	// or the handshake is rejected.
	ErrConnection = errors.New("connection error")
	// ErrNotConnected is returned when an operation requires a live connection.
	ErrNotConnected = errors.New("not connected")
)

// ConnectionError is returned by Connect.
// It matches ErrConnection with errors.Is, and unwraps to the cause.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string { return e.Err.Error() }

// Unwrap returns the cause
func (e *ConnectionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConnection
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ServerDescriptor is the static configuration of one tool server.
type ServerDescriptor struct {
	// Name is the unique server name chosen by the operator,
	// it is the key of the servers map in the configuration.
	Name string `json:"-" yaml:"-" toml:"-"`
	// Type is the transport kind: stdio, sse or local.
	Type string `json:"type,omitempty" yaml:"type,omitempty" toml:"type" validate:"required,oneof=stdio sse local" jsonschema:"enum=stdio,enum=sse,enum=local,default=stdio"`
	// Command is the launch command for stdio servers.
	Command string `json:"command,omitempty" yaml:"command,omitempty" toml:"command" validate:"required_if=Type stdio"`
	// Args are the command arguments.
	Args []string `json:"args,omitempty" yaml:"args,omitempty" toml:"args"`
	// Env is merged over the parent process environment.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env"`
	// URL is the endpoint of sse servers.
	URL string `json:"url,omitempty" yaml:"url,omitempty" toml:"url" validate:"required_if=Type sse"`
	// Headers are sent with every request to sse servers.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers"`
	// Disabled servers are skipped on initialization.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled"`
}

// ServerInfo is the identity reported by the server during the handshake.
type ServerInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
}

// Tool describes a callable tool exposed by a server.
type Tool struct {
	// Server is the name of the owning server.
	Server string `json:"server,omitempty" yaml:"server,omitempty"`
	// Name is the tool name as reported by the server.
	Name string `json:"name" yaml:"name"`
	// Description is optional.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// InputSchema is the JSON schema of the arguments,
	// passed through to the completion service.
	InputSchema map[string]any `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
}

// Content types
const (
	ContentText     = "text"
	ContentImage    = "image"
	ContentResource = "resource"
)

// Content is one fragment of a tool result.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Resource any    `json:"resource,omitempty"`
}

// ToolResult is the raw result of a tool call.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Session is a live channel to one tool server,
// created by a Dialer and implemented by transports.
type Session interface {
	// Initialize performs the protocol handshake.
	Initialize(ctx context.Context) (*ServerInfo, error)
	// ListTools returns one page of tools,
	// empty nextCursor indicates the last page.
	ListTools(ctx context.Context, cursor string) (tools []Tool, nextCursor string, err error)
	// CallTool invokes a tool with opaque arguments.
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	// Close closes the channel and releases its resources.
	Close() error
}

// CloseNotifier is implemented by sessions that can report
// that the remote side went away.
type CloseNotifier interface {
	SetCloseHandler(handler func())
}

// Dialer starts the transport for a server.
type Dialer interface {
	Dial(ctx context.Context, desc ServerDescriptor) (Session, error)
}

// DialerFunc is an adapter to use functions as Dialer.
type DialerFunc func(ctx context.Context, desc ServerDescriptor) (Session, error)

// Dial implements Dialer
func (f DialerFunc) Dial(ctx context.Context, desc ServerDescriptor) (Session, error) {
	return f(ctx, desc)
}
