package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/xlog"
	"golang.org/x/sync/errgroup"
)

type route struct {
	server string
	tool   string
}

// Manager owns the connections to all configured servers,
// and routes tool calls to them.
type Manager struct {
	dialer          mcp.Dialer
	shutdownTimeout time.Duration
	connectTimeout  time.Duration
	concurrency     int

	// lifecycle serializes Initialize and ShutdownAll
	lifecycle sync.Mutex

	lock      sync.RWMutex
	order     []string
	conns     map[string]*mcp.Connection
	tools     []mcp.Tool
	qualified map[string]route
	bare      map[string]route
	counts    map[string]int
}

// New returns a Manager that uses dialer to reach servers
func New(dialer mcp.Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:          dialer,
		shutdownTimeout: DefaultShutdownTimeout,
		connectTimeout:  DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.reset()
	return m
}

func (m *Manager) reset() {
	m.order = nil
	m.conns = map[string]*mcp.Connection{}
	m.tools = nil
	m.qualified = map[string]route{}
	m.bare = map[string]route{}
	m.counts = map[string]int{}
}

// Initialize connects to the servers and builds the catalog.
// Any previous state is shut down first.
// Failures of individual servers are logged and reported in the result.
func (m *Manager) Initialize(ctx context.Context, descriptors []mcp.ServerDescriptor) *InitResult {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.shutdown(ctx)

	result := &InitResult{
		Failed: map[string]error{},
	}

	var conns []*mcp.Connection
	seen := map[string]bool{}
	for _, desc := range descriptors {
		switch {
		case desc.Disabled:
			logger.ContextKV(ctx, xlog.INFO, "status", "skipped", "server", desc.Name, "reason", "disabled")
			result.Skipped = append(result.Skipped, desc.Name)
			continue
		case seen[desc.Name]:
			logger.ContextKV(ctx, xlog.WARNING, "status", "skipped", "server", desc.Name, "reason", "duplicate")
			result.Skipped = append(result.Skipped, desc.Name)
			continue
		}
		seen[desc.Name] = true
		conns = append(conns, mcp.NewConnection(desc, m.dialer))
	}
	result.Total = len(conns)

	g := new(errgroup.Group)
	if m.concurrency > 0 {
		g.SetLimit(m.concurrency)
	}
	errs := make([]error, len(conns))
	for i, c := range conns {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
			defer cancel()
			errs[i] = c.Connect(cctx)
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range conns {
		if errs[i] != nil {
			result.Failed[c.Name()] = errs[i]
			continue
		}
		result.Connected++
	}

	// discovery runs concurrently, the merge follows declaration order
	lists := make([][]mcp.Tool, len(conns))
	g = new(errgroup.Group)
	for i, c := range conns {
		if errs[i] != nil {
			continue
		}
		g.Go(func() error {
			tools, err := c.ListTools(ctx)
			if err != nil {
				logger.ContextKV(ctx, xlog.WARNING,
					"status", "list_tools_failed",
					"server", c.Name(),
					"err", err.Error(),
				)
			}
			lists[i] = tools
			return nil
		})
	}
	_ = g.Wait()

	m.lock.Lock()
	for i, c := range conns {
		name := c.Name()
		m.order = append(m.order, name)
		m.conns[name] = c
		for _, t := range lists[i] {
			r := route{server: name, tool: t.Name}
			m.tools = append(m.tools, t)
			m.qualified[QualifiedName(name, t.Name)] = r
			if prev, ok := m.bare[t.Name]; ok && prev.server != name {
				logger.ContextKV(ctx, xlog.DEBUG,
					"status", "bare_name_collision",
					"tool", t.Name,
					"previous", prev.server,
					"server", name,
				)
			}
			m.bare[t.Name] = r
		}
		m.counts[name] = len(lists[i])
	}
	toolsCount := len(m.tools)
	m.lock.Unlock()

	logger.ContextKV(ctx, xlog.INFO,
		"status", "initialized",
		"total", result.Total,
		"connected", result.Connected,
		"failed", len(result.Failed),
		"tools", toolsCount,
	)
	return result
}

// ListAllTools returns a copy of the merged tool list
func (m *Manager) ListAllTools() []mcp.Tool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return append([]mcp.Tool{}, m.tools...)
}

// resolve returns the route for the name.
// The caller must hold the lock.
func (m *Manager) resolve(name string) (route, bool) {
	if server, _, ok := strings.Cut(name, Separator); ok {
		if _, known := m.conns[server]; known {
			if r, ok := m.qualified[name]; ok {
				return r, true
			}
		}
	}
	r, ok := m.bare[name]
	return r, ok
}

// Call resolves the name to a server and invokes the tool.
func (m *Manager) Call(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	m.lock.RLock()
	r, ok := m.resolve(name)
	conn := m.conns[r.server]
	m.lock.RUnlock()

	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		return nil, errors.WithStack(&NotFoundError{Tool: name})
	}
	if conn == nil || !conn.IsConnected() {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		return nil, errors.WithStack(&NotFoundError{Tool: name, Server: r.server})
	}

	started := time.Now()
	res, err := conn.CallTool(ctx, r.tool, args)
	metricskey.PerfToolCall.MeasureSince(started, r.tool)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, r.tool)
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "call_failed",
			"server", r.server,
			"tool", r.tool,
			"err", err.Error(),
		)
		return nil, err
	}
	metricskey.StatsToolCallsSucceeded.IncrCounter(1, r.tool)
	return res, nil
}

// DisconnectServer disconnects one server.
// Its routing entries are kept, so later calls fail with ErrUnknownServer.
func (m *Manager) DisconnectServer(ctx context.Context, name string) error {
	m.lock.RLock()
	conn := m.conns[name]
	m.lock.RUnlock()

	if conn == nil {
		return errors.WithStack(&NotFoundError{Server: name})
	}

	dctx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
	defer cancel()
	return conn.Disconnect(dctx)
}

// ShutdownAll disconnects every server, then clears the catalog.
// It is safe to call before Initialize, and more than once.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.shutdown(ctx)
}

func (m *Manager) shutdown(ctx context.Context) {
	m.lock.RLock()
	conns := make([]*mcp.Connection, 0, len(m.order))
	for _, name := range m.order {
		conns = append(conns, m.conns[name])
	}
	m.lock.RUnlock()

	if len(conns) > 0 {
		var g errgroup.Group
		for _, c := range conns {
			g.Go(func() error {
				dctx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
				defer cancel()
				if err := c.Disconnect(dctx); err != nil {
					logger.ContextKV(ctx, xlog.WARNING,
						"status", "disconnect_failed",
						"server", c.Name(),
						"err", err.Error(),
					)
				}
				return nil
			})
		}
		_ = g.Wait()

		logger.ContextKV(ctx, xlog.INFO,
			"status", "shutdown",
			"servers", len(conns),
		)
	}

	m.lock.Lock()
	m.reset()
	m.lock.Unlock()
}

// Stats returns a summary of the catalog
func (m *Manager) Stats() Stats {
	m.lock.RLock()
	defer m.lock.RUnlock()

	st := Stats{
		Servers:      []string{},
		TotalServers: len(m.order),
		Tools:        len(m.tools),
	}
	for _, name := range m.order {
		if m.conns[name].IsConnected() {
			st.Servers = append(st.Servers, name)
		}
	}
	return st
}

// DisplayStats writes the catalog summary
func (m *Manager) DisplayStats(w io.Writer) {
	st := m.Stats()
	_, _ = fmt.Fprintf(w, "\nMCP Manager Statistics:\n")
	_, _ = fmt.Fprintf(w, "   - Connected Servers: %d/%d\n", len(st.Servers), st.TotalServers)
	_, _ = fmt.Fprintf(w, "   - Loaded Tools: %d\n", st.Tools)
	_, _ = fmt.Fprintf(w, "   - Server List: %s\n", strings.Join(st.Servers, ", "))
}

// Connections returns a snapshot of the connections, in declaration order
func (m *Manager) Connections() []ConnectionInfo {
	m.lock.RLock()
	defer m.lock.RUnlock()

	list := make([]ConnectionInfo, 0, len(m.order))
	for _, name := range m.order {
		c := m.conns[name]
		ci := ConnectionInfo{
			Name:       name,
			Type:       c.Descriptor().Type,
			State:      c.State().String(),
			ServerInfo: c.ServerInfo(),
			Tools:      m.counts[name],
		}
		if err := c.Err(); err != nil {
			ci.Error = err.Error()
		}
		list = append(list, ci)
	}
	return list
}

// Fingerprint returns a digest of the qualified tool names and schemas.
// It changes when the set of tools changes.
func (m *Manager) Fingerprint() string {
	m.lock.RLock()
	defer m.lock.RUnlock()

	d := xxhash.New()
	for _, t := range m.tools {
		_, _ = d.WriteString(QualifiedName(t.Server, t.Name))
		_, _ = d.WriteString("\n")
		_, _ = d.WriteString(t.Description)
		_, _ = d.WriteString("\n")
		if len(t.InputSchema) > 0 {
			js, _ := json.Marshal(t.InputSchema)
			_, _ = d.Write(js)
		}
		_, _ = d.WriteString("\n")
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
