// Package transport selects the Dialer for a server by its transport kind.
package transport

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/transport/sse"
	"github.com/effective-security/mcpagent/mcp/transport/stdio"
)

// Dialer dispatches to the Dialer registered for the descriptor type
type Dialer struct {
	lock    sync.RWMutex
	dialers map[string]mcp.Dialer
}

// New returns a Dialer with stdio and sse transports registered
func New() *Dialer {
	return NewEmpty().
		Register(mcp.TransportStdio, stdio.NewDialer()).
		Register(mcp.TransportSSE, sse.NewDialer())
}

// NewEmpty returns a Dialer with no transports
func NewEmpty() *Dialer {
	return &Dialer{
		dialers: map[string]mcp.Dialer{},
	}
}

// Register adds or replaces the Dialer for the transport kind
func (d *Dialer) Register(kind string, dialer mcp.Dialer) *Dialer {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.dialers[kind] = dialer
	return d
}

// Kinds returns the registered transport kinds
func (d *Dialer) Kinds() []string {
	d.lock.RLock()
	defer d.lock.RUnlock()

	kinds := make([]string, 0, len(d.dialers))
	for k := range d.dialers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Dial implements mcp.Dialer.
// Empty type is treated as stdio.
func (d *Dialer) Dial(ctx context.Context, desc mcp.ServerDescriptor) (mcp.Session, error) {
	kind := desc.Type
	if kind == "" {
		kind = mcp.TransportStdio
	}

	d.lock.RLock()
	dialer, ok := d.dialers[kind]
	d.lock.RUnlock()

	if !ok {
		return nil, errors.Newf("unsupported transport %q for server %q", kind, desc.Name)
	}
	return dialer.Dial(ctx, desc)
}
