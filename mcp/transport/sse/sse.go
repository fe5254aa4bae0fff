// Package sse implements a Session to a tool server reachable over
// HTTP with server-sent events.
package sse

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/transport/remote"
	"github.com/effective-security/xlog"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/mcp/transport", "sse")

// Dialer connects to SSE servers
type Dialer struct{}

// NewDialer returns a Dialer
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial implements mcp.Dialer
func (d *Dialer) Dial(ctx context.Context, desc mcp.ServerDescriptor) (mcp.Session, error) {
	if desc.URL == "" {
		return nil, errors.Newf("url is required for sse server %q", desc.Name)
	}

	var opts []mcptransport.ClientOption
	if len(desc.Headers) > 0 {
		opts = append(opts, mcptransport.WithHeaders(desc.Headers))
	}

	client, err := mcpclient.NewSSEMCPClient(desc.URL, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create client for %q", desc.URL)
	}
	// the event stream outlives the dial context,
	// which only bounds the wait for the endpoint
	stream, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	err = client.Start(stream)
	stop()
	if err != nil {
		_ = client.Close()
		cancel()
		return nil, errors.Wrapf(err, "unable to connect to %q", desc.URL)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "started",
		"server", desc.Name,
		"url", desc.URL,
	)

	return remote.NewSession(desc.Name, client).OnClose(cancel), nil
}
