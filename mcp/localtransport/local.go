package localtransport

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
)

// ErrClosed is returned by a closed transport
var ErrClosed = errors.New("transport closed")

// Transport is a Session connected to an in-process Server
type Transport struct {
	server *Server

	lock         sync.RWMutex
	closed       bool
	closeHandler func()
}

// New returns a transport connected to the server
func New(server *Server) *Transport {
	return &Transport{
		server: server,
	}
}

// Initialize implements mcp.Session
func (s *Transport) Initialize(ctx context.Context) (*mcp.ServerInfo, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.server.initialize(ctx)
}

// ListTools implements mcp.Session.
// The cursor is the offset of the first tool in the page.
func (s *Transport) ListTools(ctx context.Context, cursor string) ([]mcp.Tool, string, error) {
	if s.isClosed() {
		return nil, "", ErrClosed
	}

	offset := 0
	if cursor != "" {
		var err error
		offset, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, "", errors.Wrapf(err, "invalid cursor")
		}
	}

	tools, next, err := s.server.listTools(ctx, offset)
	if err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if next > 0 {
		nextCursor = strconv.Itoa(next)
	}
	return tools, nextCursor, nil
}

// CallTool implements mcp.Session.
// Arguments are passed through JSON as they would be on the wire.
func (s *Transport) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	js, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to encode arguments")
	}
	var decoded map[string]any
	if err = json.Unmarshal(js, &decoded); err != nil {
		return nil, errors.Wrapf(err, "unable to decode arguments")
	}
	if decoded == nil {
		decoded = map[string]any{}
	}

	return s.server.callTool(ctx, name, decoded)
}

// Close closes the transport, and invokes the close handler on the first call.
func (s *Transport) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	handler := s.closeHandler
	s.lock.Unlock()

	err := s.server.close()
	if handler != nil {
		handler()
	}
	return err
}

// SetCloseHandler sets the callback for when the connection is closed for any reason.
// It is invoked when Close() is called as well.
func (s *Transport) SetCloseHandler(handler func()) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closeHandler = handler
}

// IsClosed returns true if the transport was closed
func (s *Transport) IsClosed() bool {
	return s.isClosed()
}

func (s *Transport) isClosed() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.closed
}

// Dialer dials in-process servers registered by name
type Dialer struct {
	lock       sync.RWMutex
	servers    map[string]*Server
	transports map[string][]*Transport
}

// NewDialer returns an empty dialer
func NewDialer() *Dialer {
	return &Dialer{
		servers:    map[string]*Server{},
		transports: map[string][]*Transport{},
	}
}

// Register makes the server available under the descriptor name
func (d *Dialer) Register(name string, server *Server) *Dialer {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.servers[name] = server
	return d
}

// Dial implements mcp.Dialer
func (d *Dialer) Dial(ctx context.Context, desc mcp.ServerDescriptor) (mcp.Session, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	server, ok := d.servers[desc.Name]
	if !ok {
		return nil, errors.Newf("local server %q is not registered", desc.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	t := New(server)
	d.transports[desc.Name] = append(d.transports[desc.Name], t)
	return t, nil
}

// Transports returns the transports dialed for the server name
func (d *Dialer) Transports(name string) []*Transport {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return append([]*Transport(nil), d.transports[name]...)
}
