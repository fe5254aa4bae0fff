// Package catalog aggregates the tools of many servers into one callable surface.
//
// A Manager owns one Connection per configured server. After initialization,
// every discovered tool is reachable by its qualified name `server__tool`,
// and by its bare name. When several servers expose the same bare name,
// the bare entry routes to the server loaded last, in declaration order.
package catalog

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "catalog")

// Separator between server and tool names in qualified names
const Separator = "__"

// DefaultShutdownTimeout bounds the disconnect of one server
const DefaultShutdownTimeout = 5 * time.Second

// DefaultConnectTimeout bounds the transport start and handshake of one server
const DefaultConnectTimeout = 30 * time.Second

var (
	// ErrUnknownTool is returned when a name has no routing entry
	ErrUnknownTool = errors.New("unknown tool")
	// ErrUnknownServer is returned when the routed server has no live connection
	ErrUnknownServer = errors.New("unknown server")
)

// NotFoundError is returned when a tool has no routing entry,
// or a server has no live connection.
// It matches ErrUnknownTool or ErrUnknownServer with errors.Is.
type NotFoundError struct {
	// Tool is the requested tool name, empty when the server is missing
	Tool   string
	Server string
}

func (e *NotFoundError) Error() string {
	if e.Tool != "" && e.Server == "" {
		return fmt.Sprintf("tool %q not found in any server", e.Tool)
	}
	return fmt.Sprintf("server %q not found", e.Server)
}

// Is reports whether target is the sentinel of this error
func (e *NotFoundError) Is(target error) bool {
	if e.Tool != "" && e.Server == "" {
		return target == ErrUnknownTool
	}
	return target == ErrUnknownServer
}

// QualifiedName returns the `server__tool` form
func QualifiedName(server, tool string) string {
	return server + Separator + tool
}

// Option configures the Manager
type Option func(*Manager)

// WithShutdownTimeout sets the per-server disconnect timeout
func WithShutdownTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.shutdownTimeout = d
		}
	}
}

// WithConnectTimeout bounds the connect and handshake of each server,
// a server that does not answer in time is reported as failed.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// WithConcurrency limits the number of servers connected in parallel,
// 0 means no limit.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		m.concurrency = n
	}
}

// InitResult reports the outcome of Initialize
type InitResult struct {
	// Total is the number of servers attempted
	Total int
	// Connected is the number of live servers
	Connected int
	// Failed maps server names to connection errors
	Failed map[string]error
	// Skipped lists disabled and duplicate servers
	Skipped []string
}

// Stats is a summary of the catalog
type Stats struct {
	// Servers are the connected server names, in declaration order
	Servers []string `json:"servers" yaml:"servers"`
	// TotalServers is the number of initialized servers
	TotalServers int `json:"total_servers" yaml:"total_servers"`
	// Tools is the number of loaded tools
	Tools int `json:"tools" yaml:"tools"`
}

// ConnectionInfo is a snapshot of one connection
type ConnectionInfo struct {
	Name       string          `json:"name" yaml:"name"`
	Type       string          `json:"type" yaml:"type"`
	State      string          `json:"state" yaml:"state"`
	ServerInfo *mcp.ServerInfo `json:"server_info,omitempty" yaml:"server_info,omitempty"`
	Tools      int             `json:"tools" yaml:"tools"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
}
