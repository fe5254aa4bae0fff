package catalog_test

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/catalog"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/localtransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolServer(name string, tools ...string) *localtransport.Server {
	srv := localtransport.NewServer(name, "1.0")
	for _, tn := range tools {
		srv.RegisterTool(mcp.Tool{Name: tn, InputSchema: map[string]any{"type": "object"}},
			func(_ context.Context, _ map[string]any) (*mcp.ToolResult, error) {
				return mcp.TextResult(name + ":" + tn), nil
			})
	}
	return srv
}

func descriptors(names ...string) []mcp.ServerDescriptor {
	list := make([]mcp.ServerDescriptor, 0, len(names))
	for _, n := range names {
		list = append(list, mcp.ServerDescriptor{Name: n, Type: mcp.TransportLocal})
	}
	return list
}

func toolNames(tools []mcp.Tool) []string {
	var names []string
	for _, t := range tools {
		names = append(names, t.Server+"/"+t.Name)
	}
	return names
}

func TestInitialize_DeclarationOrder(t *testing.T) {
	ctx := context.Background()
	dialer := localtransport.NewDialer().
		Register("c", toolServer("c", "c1")).
		Register("a", toolServer("a", "a1", "a2")).
		Register("b", toolServer("b", "b1").OnInitialize(func(context.Context) error {
			return errors.New("refused")
		})).
		Register("d", toolServer("d", "d1", "d2"))

	m := catalog.New(dialer, catalog.WithConcurrency(2))
	res := m.Initialize(ctx, descriptors("d", "b", "a", "missing", "c"))

	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 3, res.Connected)
	require.Len(t, res.Failed, 2)
	assert.ErrorIs(t, res.Failed["b"], mcp.ErrConnection)
	assert.ErrorIs(t, res.Failed["missing"], mcp.ErrConnection)

	assert.Equal(t, []string{"d/d1", "d/d2", "a/a1", "a/a2", "c/c1"}, toolNames(m.ListAllTools()))

	st := m.Stats()
	assert.Equal(t, []string{"d", "a", "c"}, st.Servers)
	assert.Equal(t, 5, st.TotalServers)
	assert.Equal(t, 5, st.Tools)

	conns := m.Connections()
	require.Len(t, conns, 5)
	assert.Equal(t, "d", conns[0].Name)
	assert.Equal(t, "connected", conns[0].State)
	assert.Equal(t, 2, conns[0].Tools)
	assert.Equal(t, "b", conns[1].Name)
	assert.Equal(t, "failed", conns[1].State)
	assert.Contains(t, conns[1].Error, "refused")
	assert.Nil(t, conns[1].ServerInfo)

	m.ShutdownAll(ctx)
}

func TestInitialize_SkipsDisabledAndDuplicates(t *testing.T) {
	ctx := context.Background()
	dialer := localtransport.NewDialer().
		Register("a", toolServer("a", "x")).
		Register("b", toolServer("b", "y"))

	descs := descriptors("a", "b", "a")
	descs[1].Disabled = true

	m := catalog.New(dialer)
	res := m.Initialize(ctx, descs)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Connected)
	assert.Equal(t, []string{"b", "a"}, res.Skipped)
	assert.Len(t, dialer.Transports("a"), 1)
	assert.Empty(t, dialer.Transports("b"))
}

func TestInitialize_NoServers(t *testing.T) {
	m := catalog.New(localtransport.NewDialer())
	res := m.Initialize(context.Background(), nil)
	assert.Equal(t, 0, res.Total)
	assert.Equal(t, 0, res.Connected)
	assert.Empty(t, res.Failed)
	assert.Empty(t, m.ListAllTools())
}

func TestCall_Routing(t *testing.T) {
	ctx := context.Background()
	a := toolServer("a", "ping", "only_a")
	b := toolServer("b", "ping")
	dialer := localtransport.NewDialer().Register("a", a).Register("b", b)

	m := catalog.New(dialer)
	m.Initialize(ctx, descriptors("a", "b"))
	defer m.ShutdownAll(ctx)

	res, err := m.Call(ctx, "a__ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "a:ping", res.Text())

	// bare name goes to the last loaded server
	res, err = m.Call(ctx, "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "b:ping", res.Text())

	res, err = m.Call(ctx, "only_a", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, "a:only_a", res.Text())

	require.Len(t, a.Calls(), 2)
	assert.Equal(t, "ping", a.Calls()[0].Tool)
	assert.Equal(t, map[string]any{"n": float64(1)}, a.Calls()[1].Args)
	require.Len(t, b.Calls(), 1)

	_, err = m.Call(ctx, "nonexistent", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrUnknownTool)
	assert.Equal(t, `tool "nonexistent" not found in any server`, err.Error())

	// unknown server prefix falls back to bare name lookup
	_, err = m.Call(ctx, "zzz__ping", nil)
	assert.ErrorIs(t, err, catalog.ErrUnknownTool)

	// known server, unknown tool
	_, err = m.Call(ctx, "b__only_a", nil)
	assert.ErrorIs(t, err, catalog.ErrUnknownTool)

	assert.Len(t, a.Calls(), 2)
	assert.Len(t, b.Calls(), 1)
}

func TestInitialize_ConnectTimeout(t *testing.T) {
	ctx := context.Background()
	silent := toolServer("silent", "s1").OnInitialize(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	dialer := localtransport.NewDialer().
		Register("a", toolServer("a", "a1")).
		Register("silent", silent).
		Register("b", toolServer("b", "b1"))

	m := catalog.New(dialer, catalog.WithConnectTimeout(200*time.Millisecond))
	defer m.ShutdownAll(ctx)

	started := time.Now()
	res := m.Initialize(ctx, descriptors("a", "silent", "b"))
	assert.Less(t, time.Since(started), 5*time.Second)

	assert.Equal(t, 2, res.Connected)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed["silent"], mcp.ErrConnection)
	assert.ErrorIs(t, res.Failed["silent"], context.DeadlineExceeded)
	assert.Equal(t, []string{"a/a1", "b/b1"}, toolNames(m.ListAllTools()))

	// the timeout bounds the connect only
	res2, err := m.Call(ctx, "a1", nil)
	require.NoError(t, err)
	assert.Equal(t, "a:a1", res2.Text())
}

func TestCall_SeparatorInToolName(t *testing.T) {
	ctx := context.Background()
	srv := toolServer("fs", "read__file", "x")
	m := catalog.New(localtransport.NewDialer().Register("fs", srv))
	m.Initialize(ctx, descriptors("fs"))
	defer m.ShutdownAll(ctx)

	res, err := m.Call(ctx, "fs__read__file", nil)
	require.NoError(t, err)
	assert.Equal(t, "fs:read__file", res.Text())

	res, err = m.Call(ctx, "read__file", nil)
	require.NoError(t, err)
	assert.Equal(t, "fs:read__file", res.Text())

	require.Len(t, srv.Calls(), 2)
	assert.Equal(t, "read__file", srv.Calls()[0].Tool)
}

func TestCall_UnknownServer(t *testing.T) {
	ctx := context.Background()
	srv := toolServer("a", "ping")
	dialer := localtransport.NewDialer().Register("a", srv)
	m := catalog.New(dialer)
	m.Initialize(ctx, descriptors("a"))
	defer m.ShutdownAll(ctx)

	require.NoError(t, m.DisconnectServer(ctx, "a"))

	_, err := m.Call(ctx, "ping", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrUnknownServer)
	assert.Equal(t, `server "a" not found`, err.Error())

	_, err = m.Call(ctx, "a__ping", nil)
	assert.ErrorIs(t, err, catalog.ErrUnknownServer)
	assert.Empty(t, srv.Calls())

	var nf *catalog.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "a", nf.Server)
	assert.Equal(t, "a__ping", nf.Tool)

	err = m.DisconnectServer(ctx, "zzz")
	assert.ErrorIs(t, err, catalog.ErrUnknownServer)
	assert.False(t, errors.Is(err, catalog.ErrUnknownTool))

	assert.Empty(t, m.Stats().Servers)
	assert.Equal(t, 1, m.Stats().Tools)
}

func TestCall_RemoteError(t *testing.T) {
	ctx := context.Background()
	srv := localtransport.NewServer("a", "1").RegisterTool(mcp.Tool{Name: "fail"},
		func(context.Context, map[string]any) (*mcp.ToolResult, error) {
			return nil, errors.New("disk full")
		})
	m := catalog.New(localtransport.NewDialer().Register("a", srv))
	m.Initialize(ctx, descriptors("a"))
	defer m.ShutdownAll(ctx)

	_, err := m.Call(ctx, "fail", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, errors.Is(err, catalog.ErrUnknownTool))
}

func TestShutdownAll(t *testing.T) {
	ctx := context.Background()

	t.Run("before initialize", func(t *testing.T) {
		m := catalog.New(localtransport.NewDialer())
		m.ShutdownAll(ctx)
		m.ShutdownAll(ctx)
		assert.Empty(t, m.ListAllTools())
	})

	t.Run("twice", func(t *testing.T) {
		dialer := localtransport.NewDialer().Register("a", toolServer("a", "x")).Register("b", toolServer("b", "y"))
		m := catalog.New(dialer)
		m.Initialize(ctx, descriptors("a", "b"))
		require.Len(t, m.ListAllTools(), 2)

		m.ShutdownAll(ctx)
		assert.Empty(t, m.ListAllTools())
		assert.True(t, dialer.Transports("a")[0].IsClosed())
		assert.True(t, dialer.Transports("b")[0].IsClosed())

		m.ShutdownAll(ctx)
		assert.Empty(t, m.ListAllTools())
		assert.Empty(t, m.Connections())
		assert.Equal(t, catalog.Stats{Servers: []string{}}, m.Stats())

		_, err := m.Call(ctx, "x", nil)
		assert.ErrorIs(t, err, catalog.ErrUnknownTool)
	})

	t.Run("hung server", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		var closed atomic.Int32
		slow := toolServer("slow", "x").OnClose(func() error {
			<-release
			return nil
		})
		fast := toolServer("fast", "y").OnClose(func() error {
			closed.Add(1)
			return nil
		})
		dialer := localtransport.NewDialer().Register("slow", slow).Register("fast", fast)

		m := catalog.New(dialer, catalog.WithShutdownTimeout(50*time.Millisecond))
		m.Initialize(ctx, descriptors("slow", "fast"))

		started := time.Now()
		m.ShutdownAll(ctx)
		assert.Less(t, time.Since(started), 2*time.Second)
		assert.Equal(t, int32(1), closed.Load())
		assert.Empty(t, m.ListAllTools())
	})
}

func TestReinitialize(t *testing.T) {
	ctx := context.Background()
	dialer := localtransport.NewDialer().Register("a", toolServer("a", "x")).Register("b", toolServer("b", "y", "z"))
	m := catalog.New(dialer)

	m.Initialize(ctx, descriptors("a"))
	fp1 := m.Fingerprint()
	assert.NotEmpty(t, fp1)
	assert.Equal(t, fp1, m.Fingerprint())

	m.Initialize(ctx, descriptors("b"))
	assert.True(t, dialer.Transports("a")[0].IsClosed())
	assert.Equal(t, []string{"b/y", "b/z"}, toolNames(m.ListAllTools()))
	assert.NotEqual(t, fp1, m.Fingerprint())

	_, err := m.Call(ctx, "x", nil)
	assert.ErrorIs(t, err, catalog.ErrUnknownTool)

	m.ShutdownAll(ctx)
}

func TestListAllTools_Copy(t *testing.T) {
	ctx := context.Background()
	m := catalog.New(localtransport.NewDialer().Register("a", toolServer("a", "x")))
	m.Initialize(ctx, descriptors("a"))
	defer m.ShutdownAll(ctx)

	tools := m.ListAllTools()
	tools[0].Name = "changed"
	assert.Equal(t, "x", m.ListAllTools()[0].Name)
}

func TestDisplayStats(t *testing.T) {
	ctx := context.Background()
	dialer := localtransport.NewDialer().Register("a", toolServer("a", "x")).Register("b", toolServer("b", "y", "z"))
	m := catalog.New(dialer)
	m.Initialize(ctx, descriptors("a", "b", "c"))
	defer m.ShutdownAll(ctx)

	var buf bytes.Buffer
	m.DisplayStats(&buf)
	assert.Equal(t, "\nMCP Manager Statistics:\n"+
		"   - Connected Servers: 2/3\n"+
		"   - Loaded Tools: 3\n"+
		"   - Server List: a, b\n", buf.String())
}

func TestQualifiedName(t *testing.T) {
	assert.Equal(t, "fs__read", catalog.QualifiedName("fs", "read"))
}
