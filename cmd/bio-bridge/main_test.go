package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/biosdk/pkg/bio"
	"github.com/rexliu/biosdk/pkg/host"
	"github.com/rexliu/biosdk/pkg/ipc"
	"github.com/rexliu/biosdk/pkg/logging"
	"github.com/rexliu/biosdk/pkg/window"
)

// A provider on the browser side of the bridge reaches the host through it.
func TestPumpBridgesProviderToHost(t *testing.T) {
	s := host.NewServer(host.WithLogger(logging.Nop()))
	s.Register("bio_ping", func(context.Context, *host.Request) (any, *bio.ProviderError) { return "pong", nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostSide, bridgeHost := net.Pipe()
	go func() { _ = s.Serve(ctx, ipc.NewFramedConn(hostSide), "chrome-extension://abc") }()

	browserSide, bridgeBrowser := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- pump(ctx, ipc.NewFramedConn(bridgeBrowser), ipc.NewFramedConn(bridgeHost)) }()

	remote := window.NewRemote(ipc.NewFramedConn(browserSide), "chrome-extension://abc", "")
	go func() { _ = remote.Run(ctx) }()
	p, err := bio.NewProvider(remote, bio.WithLogger(logging.Nop()))
	require.NoError(t, err)
	require.Eventually(t, p.IsConnected, 2*time.Second, 5*time.Millisecond)

	result, err := p.Request(bio.RequestArgs{Method: "bio_ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", result)

	require.NoError(t, remote.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop when the browser side closed")
	}
	require.Eventually(t, func() bool { return s.SessionCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPumpStopsOnContext(t *testing.T) {
	a, _ := net.Pipe()
	b, _ := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pump(ctx, ipc.NewFramedConn(a), ipc.NewFramedConn(b)) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pump ignored cancellation")
	}
}
