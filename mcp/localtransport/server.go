// Package localtransport provides an in-process tool server and the Session
// that talks to it. It is used to embed tools in the agent without a
// subprocess, and as a deterministic server in tests.
package localtransport

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ProtocolVersion reported by the local server
const ProtocolVersion = "2024-11-05"

// HandlerFunc executes a tool call
type HandlerFunc func(ctx context.Context, args map[string]any) (*mcp.ToolResult, error)

// Call records a tool invocation received by the server
type Call struct {
	Tool string
	Args map[string]any
}

type registeredTool struct {
	tool    mcp.Tool
	handler HandlerFunc
}

// Server is an in-process tool server.
// Tools are listed in registration order.
type Server struct {
	name    string
	version string

	lock         sync.RWMutex
	tools        *orderedmap.OrderedMap[string, *registeredTool]
	pageSize     int
	onInitialize func(ctx context.Context) error
	onListTools  func(ctx context.Context) error
	onClose      func() error
	calls        []Call
}

// NewServer returns a server with no tools
func NewServer(name, version string) *Server {
	return &Server{
		name:    name,
		version: version,
		tools:   orderedmap.New[string, *registeredTool](),
	}
}

// Name returns the server name reported in the handshake
func (s *Server) Name() string {
	return s.name
}

// RegisterTool adds or replaces a tool
func (s *Server) RegisterTool(tool mcp.Tool, handler HandlerFunc) *Server {
	s.lock.Lock()
	defer s.lock.Unlock()
	tool.Server = ""
	s.tools.Set(tool.Name, &registeredTool{tool: tool, handler: handler})
	return s
}

// DeregisterTool removes a tool
func (s *Server) DeregisterTool(name string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tools.Delete(name)
}

// WithPageSize splits tool listings into pages of n tools,
// 0 returns all tools in one page.
func (s *Server) WithPageSize(n int) *Server {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pageSize = n
	return s
}

// OnInitialize sets a hook invoked on handshake,
// returning an error rejects the handshake.
func (s *Server) OnInitialize(hook func(ctx context.Context) error) *Server {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onInitialize = hook
	return s
}

// OnListTools sets a hook invoked on every tool listing,
// returning an error fails the listing.
func (s *Server) OnListTools(hook func(ctx context.Context) error) *Server {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onListTools = hook
	return s
}

// OnClose sets a hook invoked when a session is closed
func (s *Server) OnClose(hook func() error) *Server {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onClose = hook
	return s
}

// Calls returns the tool calls received so far
func (s *Server) Calls() []Call {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]Call(nil), s.calls...)
}

func (s *Server) initialize(ctx context.Context) (*mcp.ServerInfo, error) {
	s.lock.RLock()
	hook := s.onInitialize
	s.lock.RUnlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	return &mcp.ServerInfo{
		Name:            s.name,
		Version:         s.version,
		ProtocolVersion: ProtocolVersion,
	}, nil
}

func (s *Server) listTools(ctx context.Context, offset int) ([]mcp.Tool, int, error) {
	s.lock.RLock()
	hook := s.onListTools
	pageSize := s.pageSize
	all := make([]mcp.Tool, 0, s.tools.Len())
	for pair := s.tools.Oldest(); pair != nil; pair = pair.Next() {
		all = append(all, pair.Value.tool)
	}
	s.lock.RUnlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, 0, err
		}
	}

	if offset < 0 || offset > len(all) {
		return nil, 0, errors.Newf("invalid cursor: %d", offset)
	}
	if pageSize <= 0 {
		return all[offset:], 0, nil
	}

	end := min(offset+pageSize, len(all))
	next := 0
	if end < len(all) {
		next = end
	}
	return all[offset:end], next, nil
}

func (s *Server) callTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	s.lock.Lock()
	s.calls = append(s.calls, Call{Tool: name, Args: args})
	rt, ok := s.tools.Get(name)
	s.lock.Unlock()

	if !ok {
		return nil, errors.Newf("tool %q not found", name)
	}
	if rt.handler == nil {
		return &mcp.ToolResult{}, nil
	}
	return rt.handler(ctx, args)
}

func (s *Server) close() error {
	s.lock.RLock()
	hook := s.onClose
	s.lock.RUnlock()

	if hook != nil {
		return hook()
	}
	return nil
}
