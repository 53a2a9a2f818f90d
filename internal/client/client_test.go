package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cmdsense/suggestd/internal/config"
	"github.com/cmdsense/suggestd/internal/daemon"
	"github.com/cmdsense/suggestd/internal/protocol"
	"github.com/cmdsense/suggestd/internal/store"
	"github.com/cmdsense/suggestd/internal/suggest"
)

func newTestDaemon(t *testing.T) *config.Paths {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine := suggest.New(st, nil, nil, suggest.DefaultConfig())
	paths := &config.Paths{BaseDir: t.TempDir()}

	srv, err := daemon.New(daemon.Config{Store: st, Engine: engine, Paths: paths})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() { srv.Shutdown(5 * time.Second) })
	return paths
}

func TestPingAndStatusRoundTrip(t *testing.T) {
	paths := newTestDaemon(t)

	c, err := Dial(paths.SocketPath())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, st.UptimeS, 0.0)
}

func TestLogAndSuggestRoundTrip(t *testing.T) {
	paths := newTestDaemon(t)

	c, err := Dial(paths.SocketPath())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Log(ctx, protocol.LogRequest{SessionID: "sess-1", Command: "git status", CWD: "/tmp"})
	require.NoError(t, err)
}
