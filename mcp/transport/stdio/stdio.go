// Package stdio implements a Session to a tool server launched as
// a child process, speaking the protocol over its stdin and stdout.
package stdio

import (
	"bufio"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/transport/remote"
	"github.com/effective-security/xlog"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/mcp/transport", "stdio")

// DefaultCloseTimeout is the time given to a child process to exit
// after its stdin is closed, before it is killed.
const DefaultCloseTimeout = 2 * time.Second

// Dialer launches stdio servers
type Dialer struct {
	CloseTimeout time.Duration
}

// NewDialer returns a Dialer with default settings
func NewDialer() *Dialer {
	return &Dialer{
		CloseTimeout: DefaultCloseTimeout,
	}
}

// Dial implements mcp.Dialer
func (d *Dialer) Dial(ctx context.Context, desc mcp.ServerDescriptor) (mcp.Session, error) {
	if desc.Command == "" {
		return nil, errors.Newf("command is required for stdio server %q", desc.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	// the process lives until Close, cancel kills it
	procCtx, kill := context.WithCancel(context.WithoutCancel(ctx))

	tr := mcptransport.NewStdio(desc.Command, envList(desc.Env), desc.Args...)
	if err := tr.Start(procCtx); err != nil {
		kill()
		return nil, errors.Wrapf(err, "unable to start %q", desc.Command)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "started",
		"server", desc.Name,
		"command", desc.Command,
	)

	s := &Session{
		Session:      remote.NewSession(desc.Name, mcpclient.NewClient(tr)),
		name:         desc.Name,
		kill:         kill,
		closeTimeout: d.CloseTimeout,
	}
	if s.closeTimeout <= 0 {
		s.closeTimeout = DefaultCloseTimeout
	}

	go s.forwardStderr(tr.Stderr())

	return s, nil
}

// envList returns the overrides as KEY=VALUE in key order.
// They are appended to the parent environment, the last value of a key wins.
func envList(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return nil
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

// Session is a live stdio connection to a child process
type Session struct {
	*remote.Session

	name         string
	kill         context.CancelFunc
	closeTimeout time.Duration

	closeOnce sync.Once

	lock         sync.RWMutex
	closeHandler func()
}

// forwardStderr logs the server output until the process exits,
// then notifies the close handler.
func (s *Session) forwardStderr(r io.Reader) {
	if r != nil {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			logger.KV(xlog.DEBUG,
				"server", s.name,
				"stderr", scanner.Text(),
			)
		}
	}

	logger.KV(xlog.DEBUG,
		"status", "exited",
		"server", s.name,
	)

	s.lock.RLock()
	handler := s.closeHandler
	s.lock.RUnlock()
	if handler != nil {
		handler()
	}
}

// SetCloseHandler implements mcp.CloseNotifier,
// the handler is invoked when the child process exits.
func (s *Session) SetCloseHandler(handler func()) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closeHandler = handler
}

// Close closes stdin and waits for the process to exit.
// The process is killed if it does not exit in time.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		closed := make(chan struct{})
		go func() {
			_ = s.Session.Close()
			close(closed)
		}()

		select {
		case <-closed:
		case <-time.After(s.closeTimeout):
			logger.KV(xlog.WARNING,
				"status", "killing",
				"server", s.name,
			)
			s.kill()
			<-closed
		}
		s.kill()
	})
	return nil
}
