package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
	"github.com/tejasdessai01/agentwatch-app/internal/hub"
	"github.com/tejasdessai01/agentwatch-app/internal/protocol"
	"github.com/tejasdessai01/agentwatch-app/internal/registry"
	"github.com/tejasdessai01/agentwatch-app/internal/relay"
)

func startTestServer(t *testing.T) (*relay.Relay, *hub.Hub, string) {
	t.Helper()
	h := hub.NewHub(16, nil)
	r := relay.New(registry.New(), h, nil, nil)

	srv, err := NewServer(r, "secret", nil)
	require.NoError(t, err)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	go srv.Serve()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return r, h, srv.Addr().String()
}

func TestListAndGetAgents(t *testing.T) {
	r, _, addr := startTestServer(t)
	r.Register(protocol.NewRegister("a1", "Support", ""))

	client := NewClient(addr, "secret")
	ctx := context.Background()

	agents, err := client.ListAgents(ctx)
	require.NoError(t, err)
	require.Contains(t, agents, "a1")
	assert.Equal(t, "Support", agents["a1"].Name)

	rec, err := client.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusIdle, rec.Status)

	_, err = client.GetAgent(ctx, "ghost")
	assert.True(t, errors.Is(err, domain.ErrAgentNotFound), "got %v", err)
}

func TestKillBroadcasts(t *testing.T) {
	r, h, addr := startTestServer(t)
	r.Register(protocol.NewRegister("a1", "", ""))

	viewer := h.NewConnection(nil)
	require.NoError(t, r.Attach(viewer))
	<-viewer.Send // initial_state

	client := NewClient("tcp://"+addr, "secret")
	require.NoError(t, client.Kill(context.Background(), "a1"))

	msg, err := protocol.DecodeOutbound(<-viewer.Send)
	require.NoError(t, err)
	sig, ok := msg.(*protocol.KillSignalMessage)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "a1", sig.TargetID)

	rec, _ := r.Registry().Get("a1")
	assert.Equal(t, domain.AgentStatusKilled, rec.Status)
}

func TestRejectsWrongKey(t *testing.T) {
	_, _, addr := startTestServer(t)

	_, err := NewClient(addr, "wrong").ListAgents(context.Background())
	assert.True(t, errors.Is(err, domain.ErrUnauthorized), "got %v", err)
}

func TestResolveRPCAddr(t *testing.T) {
	assert.Equal(t, "", resolveRPCAddr("  "))
	assert.Equal(t, "localhost:9000", resolveRPCAddr("localhost:9000"))
	assert.Equal(t, "relay:9000", resolveRPCAddr("tcp://relay:9000"))
}
