package localtransport_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/localtransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer() *localtransport.Server {
	return localtransport.NewServer("echo", "1.0.0").
		RegisterTool(mcp.Tool{Name: "echo", Description: "echoes text"}, func(_ context.Context, args map[string]any) (*mcp.ToolResult, error) {
			s, _ := args["text"].(string)
			return mcp.TextResult(s), nil
		}).
		RegisterTool(mcp.Tool{Name: "noop"}, nil).
		RegisterTool(mcp.Tool{Name: "fail"}, func(_ context.Context, _ map[string]any) (*mcp.ToolResult, error) {
			return nil, errors.New("boom")
		})
}

func TestTransport_Initialize(t *testing.T) {
	ctx := context.Background()
	tr := localtransport.New(echoServer())

	info, err := tr.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "echo", info.Name)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, localtransport.ProtocolVersion, info.ProtocolVersion)

	rejected := localtransport.NewServer("x", "1").OnInitialize(func(context.Context) error {
		return errors.New("rejected")
	})
	_, err = localtransport.New(rejected).Initialize(ctx)
	assert.EqualError(t, err, "rejected")
}

func TestTransport_ListTools(t *testing.T) {
	ctx := context.Background()

	t.Run("single page", func(t *testing.T) {
		tools, next, err := localtransport.New(echoServer()).ListTools(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, next)
		require.Len(t, tools, 3)
		assert.Equal(t, "echo", tools[0].Name)
		assert.Equal(t, "noop", tools[1].Name)
		assert.Equal(t, "fail", tools[2].Name)
	})

	t.Run("pages", func(t *testing.T) {
		tr := localtransport.New(echoServer().WithPageSize(2))
		tools, next, err := tr.ListTools(ctx, "")
		require.NoError(t, err)
		assert.Len(t, tools, 2)
		assert.Equal(t, "2", next)

		tools, next, err = tr.ListTools(ctx, next)
		require.NoError(t, err)
		require.Len(t, tools, 1)
		assert.Equal(t, "fail", tools[0].Name)
		assert.Empty(t, next)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		tr := localtransport.New(echoServer())
		_, _, err := tr.ListTools(ctx, "abc")
		assert.Error(t, err)
		_, _, err = tr.ListTools(ctx, "10")
		assert.EqualError(t, err, "invalid cursor: 10")
	})

	t.Run("deregister", func(t *testing.T) {
		srv := echoServer()
		srv.DeregisterTool("noop")
		tools, _, err := localtransport.New(srv).ListTools(ctx, "")
		require.NoError(t, err)
		assert.Len(t, tools, 2)
	})
}

func TestTransport_CallTool(t *testing.T) {
	ctx := context.Background()
	srv := echoServer()
	tr := localtransport.New(srv)

	res, err := tr.CallTool(ctx, "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text())

	res, err = tr.CallTool(ctx, "noop", nil)
	require.NoError(t, err)
	assert.Equal(t, mcp.EmptyResultText, res.Text())

	_, err = tr.CallTool(ctx, "fail", nil)
	assert.EqualError(t, err, "boom")

	_, err = tr.CallTool(ctx, "missing", nil)
	assert.EqualError(t, err, `tool "missing" not found`)

	calls := srv.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "echo", calls[0].Tool)
	assert.Equal(t, map[string]any{"text": "hello"}, calls[0].Args)
	assert.Equal(t, map[string]any{}, calls[1].Args)
}

func TestTransport_Close(t *testing.T) {
	ctx := context.Background()

	t.Run("close with handler", func(t *testing.T) {
		tr := localtransport.New(echoServer())
		closeCount := 0
		tr.SetCloseHandler(func() {
			closeCount++
		})

		require.NoError(t, tr.Close())
		assert.Equal(t, 1, closeCount)
		assert.True(t, tr.IsClosed())

		// idempotent
		require.NoError(t, tr.Close())
		assert.Equal(t, 1, closeCount)

		_, err := tr.Initialize(ctx)
		assert.ErrorIs(t, err, localtransport.ErrClosed)
		_, _, err = tr.ListTools(ctx, "")
		assert.ErrorIs(t, err, localtransport.ErrClosed)
		_, err = tr.CallTool(ctx, "echo", nil)
		assert.ErrorIs(t, err, localtransport.ErrClosed)
	})

	t.Run("close without handler", func(t *testing.T) {
		tr := localtransport.New(echoServer())
		assert.NoError(t, tr.Close())
	})

	t.Run("close hook error", func(t *testing.T) {
		tr := localtransport.New(echoServer().OnClose(func() error {
			return errors.New("close failed")
		}))
		assert.EqualError(t, tr.Close(), "close failed")
	})
}

func TestDialer(t *testing.T) {
	ctx := context.Background()
	d := localtransport.NewDialer().Register("echo", echoServer())

	s, err := d.Dial(ctx, mcp.ServerDescriptor{Name: "echo", Type: mcp.TransportLocal})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Len(t, d.Transports("echo"), 1)

	_, err = d.Dial(ctx, mcp.ServerDescriptor{Name: "missing"})
	assert.EqualError(t, err, `local server "missing" is not registered`)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = d.Dial(cctx, mcp.ServerDescriptor{Name: "echo"})
	assert.ErrorIs(t, err, context.Canceled)
}
