package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// State is the lifecycle state of a Connection
type State int32

// Connection states
const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateDisconnected: "disconnected",
	StateFailed:       "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// maxToolPages limits the number of pages requested by ListTools,
// in case a server keeps returning new cursors.
const maxToolPages = 100

// Connection owns the lifecycle of one tool server.
// A Connection is single use: once Disconnected or Failed,
// a new instance must be created to connect again.
type Connection struct {
	desc   ServerDescriptor
	dialer Dialer

	// lifecycle serializes Connect and Disconnect
	lifecycle sync.Mutex

	lock    sync.RWMutex
	state   State
	session Session
	info    *ServerInfo
	err     error
}

// NewConnection returns a Connection in Idle state
func NewConnection(desc ServerDescriptor, dialer Dialer) *Connection {
	return &Connection{
		desc:   desc,
		dialer: dialer,
		state:  StateIdle,
	}
}

// Name returns the server name
func (c *Connection) Name() string {
	return c.desc.Name
}

// Descriptor returns the server descriptor
func (c *Connection) Descriptor() ServerDescriptor {
	return c.desc
}

// State returns the current state
func (c *Connection) State() State {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.state
}

// IsConnected returns true if the connection is live
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// ServerInfo returns the identity negotiated during the handshake,
// or nil if the connection was never established.
func (c *Connection) ServerInfo() *ServerInfo {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.info == nil {
		return nil
	}
	info := *c.info
	return &info
}

// Err returns the error that moved the connection to Failed state
func (c *Connection) Err() error {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.err
}

// Connect starts the transport and performs the handshake.
// Connect on a live connection is a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	switch state := c.State(); state {
	case StateConnected:
		return nil
	case StateFailed, StateDisconnected:
		return &ConnectionError{
			Server: c.desc.Name,
			Err:    errors.Newf("server %q: unable to connect in %s state", c.desc.Name, state),
		}
	}

	c.setState(StateConnecting)

	started := time.Now()
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "connecting",
		"server", c.desc.Name,
		"type", c.desc.Type,
	)

	session, err := c.dialer.Dial(ctx, c.desc)
	if err != nil {
		return c.fail(ctx, errors.Wrapf(err, "failed to start transport for server %q", c.desc.Name))
	}

	info, err := session.Initialize(ctx)
	if err != nil {
		_ = session.Close()
		return c.fail(ctx, errors.Wrapf(err, "handshake failed with server %q", c.desc.Name))
	}
	if info == nil {
		info = &ServerInfo{}
	}
	if info.Name == "" {
		info.Name = c.desc.Name
	}

	c.lock.Lock()
	c.state = StateConnected
	c.session = session
	c.info = info
	c.lock.Unlock()

	if cn, ok := session.(CloseNotifier); ok {
		cn.SetCloseHandler(func() {
			c.onClosed(session)
		})
	}

	metricskey.PerfServerConnect.MeasureSince(started, c.desc.Name)
	metricskey.StatsServerConnectSucceeded.IncrCounter(1, c.desc.Name)

	logger.ContextKV(ctx, xlog.INFO,
		"status", "connected",
		"server", c.desc.Name,
		"remote", info.Name,
		"version", info.Version,
		"protocol", info.ProtocolVersion,
		"elapsed", time.Since(started).String(),
	)
	return nil
}

func (c *Connection) fail(ctx context.Context, err error) error {
	err = &ConnectionError{Server: c.desc.Name, Err: err}

	c.lock.Lock()
	c.state = StateFailed
	c.err = err
	c.lock.Unlock()

	metricskey.StatsServerConnectFailed.IncrCounter(1, c.desc.Name)
	logger.ContextKV(ctx, xlog.ERROR,
		"status", "connect_failed",
		"server", c.desc.Name,
		"err", err.Error(),
	)
	return err
}

func (c *Connection) setState(state State) {
	c.lock.Lock()
	c.state = state
	c.lock.Unlock()
}

// liveSession returns the session if the connection is live
func (c *Connection) liveSession() (Session, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.state != StateConnected || c.session == nil {
		return nil, errors.Wrapf(ErrNotConnected, "server %q is %s", c.desc.Name, c.state)
	}
	return c.session, nil
}

// onClosed is invoked when the remote side goes away
func (c *Connection) onClosed(session Session) {
	c.lock.Lock()
	if c.session != session {
		// already disconnected
		c.lock.Unlock()
		return
	}
	c.session = nil
	c.state = StateDisconnected
	c.lock.Unlock()

	metricskey.StatsServerDisconnected.IncrCounter(1, c.desc.Name)
	logger.KV(xlog.WARNING,
		"status", "server_closed",
		"server", c.desc.Name,
	)
	go func() {
		_ = session.Close()
	}()
}

// ListTools returns the tools currently exposed by the server.
// Remote failures are logged and reported as an empty list.
func (c *Connection) ListTools(ctx context.Context) ([]Tool, error) {
	session, err := c.liveSession()
	if err != nil {
		return nil, err
	}

	var (
		list   []Tool
		cursor string
		seen   = map[string]bool{}
	)
	for page := 0; page < maxToolPages; page++ {
		tools, next, err := session.ListTools(ctx, cursor)
		if err != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "list_tools_failed",
				"server", c.desc.Name,
				"err", err.Error(),
			)
			return []Tool{}, nil
		}
		for _, t := range tools {
			t.Server = c.desc.Name
			list = append(list, t)
		}
		if next == "" || seen[next] {
			break
		}
		seen[next] = true
		cursor = next
	}

	if list == nil {
		list = []Tool{}
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "tools_listed",
		"server", c.desc.Name,
		"count", len(list),
	)
	return list, nil
}

// CallTool invokes the named tool on the server
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	session, err := c.liveSession()
	if err != nil {
		return nil, err
	}

	res, err := session.CallTool(ctx, name, args)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call tool %q on server %q", name, c.desc.Name)
	}
	if res == nil {
		res = &ToolResult{}
	}
	return res, nil
}

// Disconnect closes the transport.
// It is safe to call multiple times and on a connection that was never established.
// Close is bounded by ctx.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.lock.Lock()
	session := c.session
	c.session = nil
	if c.state != StateFailed {
		c.state = StateDisconnected
	}
	c.lock.Unlock()

	if session == nil {
		return nil
	}

	metricskey.StatsServerDisconnected.IncrCounter(1, c.desc.Name)

	done := make(chan error, 1)
	go func() {
		done <- session.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "close_failed",
				"server", c.desc.Name,
				"err", err.Error(),
			)
			return errors.Wrapf(err, "failed to close server %q", c.desc.Name)
		}
	case <-ctx.Done():
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "close_timeout",
			"server", c.desc.Name,
		)
		return errors.Wrapf(ctx.Err(), "timed out closing server %q", c.desc.Name)
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "disconnected",
		"server", c.desc.Name,
	)
	return nil
}
