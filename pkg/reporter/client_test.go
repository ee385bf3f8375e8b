package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejasdessai01/agentwatch-app/internal/config"
	"github.com/tejasdessai01/agentwatch-app/internal/domain"
	"github.com/tejasdessai01/agentwatch-app/internal/hub"
	"github.com/tejasdessai01/agentwatch-app/internal/protocol"
	"github.com/tejasdessai01/agentwatch-app/internal/registry"
	"github.com/tejasdessai01/agentwatch-app/internal/relay"
	"github.com/tejasdessai01/agentwatch-app/internal/ws"
)

func fastRetry() *RetryPolicy {
	return &RetryPolicy{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond}
}

func startRelay(t *testing.T) (*relay.Relay, *hub.Hub, string) {
	t.Helper()
	cfg := config.Default()
	cfg.APIKey = "secret"
	h := hub.NewHub(cfg.SendBuffer, nil)
	r := relay.New(registry.New(), h, nil, nil)

	e := echo.New()
	e.GET("/ws", ws.NewServer(cfg, h, r, nil).HandleWebSocket)
	ts := httptest.NewServer(e)
	t.Cleanup(func() {
		h.CloseAll()
		ts.Close()
	})
	return r, h, ts.URL
}

func newStarted(t *testing.T, serverURL string, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{ServerURL: serverURL, APIKey: "secret", AgentID: "a1", Name: "Support", Retry: fastRetry()}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewValidatesURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{ServerURL: "ftp://relay"})
	assert.Error(t, err)

	c, err := New(Config{ServerURL: "https://relay.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com/ws", c.url)
	assert.True(t, strings.HasPrefix(c.ID(), "agent-"))
	assert.Len(t, c.ID(), len("agent-")+8)
}

func TestStartRegistersAndReports(t *testing.T) {
	r, _, url := startRelay(t)
	c := newStarted(t, url, nil)

	require.Eventually(t, func() bool {
		_, ok := r.Registry().Get("a1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	rec, _ := r.Registry().Get("a1")
	assert.Equal(t, "Support", rec.Name)

	require.NoError(t, c.Log("Fetching market data...", StatusWorking))
	require.NoError(t, c.Tokens(100, 0.25))
	require.NoError(t, c.Tokens(50, 0.25))
	require.NoError(t, c.Progress(140))

	require.Eventually(t, func() bool {
		rec, _ := r.Registry().Get("a1")
		return rec.Metrics[domain.MetricProgress] == float64(100)
	}, 2*time.Second, 10*time.Millisecond)

	rec, _ = r.Registry().Get("a1")
	assert.Equal(t, domain.AgentStatusWorking, rec.Status)
	require.Len(t, rec.Logs, 1)
	assert.Equal(t, "Fetching market data...", rec.Logs[0].Message)
	assert.Equal(t, float64(150), rec.Metrics[domain.MetricTokens])
	assert.Equal(t, 0.5, rec.Metrics[domain.MetricCost])
}

func TestStartUnauthorizedIsPermanent(t *testing.T) {
	_, _, url := startRelay(t)
	c, err := New(Config{ServerURL: url, APIKey: "wrong", Retry: fastRetry()})
	require.NoError(t, err)

	err = c.Start(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthorized), "got %v", err)
	<-c.Done()
}

func TestKillSignalSendsFinalReportAndExits(t *testing.T) {
	r, _, url := startRelay(t)

	exited := make(chan int, 1)
	c, err := New(Config{ServerURL: url, APIKey: "secret", AgentID: "a1", Retry: fastRetry()})
	require.NoError(t, err)
	c.exit = func(code int) { exited <- code }
	c.flushWait = 0
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool {
		_, ok := r.Registry().Get("a1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// A kill for someone else is ignored.
	require.NoError(t, r.Kill(context.Background(), "other", "test"))
	require.NoError(t, r.Kill(context.Background(), "a1", "test"))

	select {
	case code := <-exited:
		assert.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not exit")
	}

	require.Eventually(t, func() bool {
		rec, _ := r.Registry().Get("a1")
		n := len(rec.Logs)
		return n > 0 && rec.Logs[n-1].Message == KillMessage
	}, 2*time.Second, 10*time.Millisecond)
	rec, _ := r.Registry().Get("a1")
	assert.Equal(t, domain.AgentStatusKilled, rec.Status)

	<-c.Done()
	assert.ErrorIs(t, c.Log("after kill", ""), ErrClosed)
}

// flakyServer accepts websocket connections, records every register, and
// drops the first connection right after its register arrives.
type flakyServer struct {
	mu        sync.Mutex
	registers []protocol.RegisterMessage
	conns     int
}

func (s *flakyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.conns++
	first := s.conns == 1
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg protocol.RegisterMessage
		if json.Unmarshal(data, &msg) == nil && msg.Type == protocol.TypeRegister {
			s.mu.Lock()
			s.registers = append(s.registers, msg)
			s.mu.Unlock()
			if first {
				return
			}
		}
	}
}

func (s *flakyServer) registerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registers)
}

func TestReRegistersAfterReconnect(t *testing.T) {
	srv := &flakyServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	newStarted(t, ts.URL+"/ws", nil)

	require.Eventually(t, func() bool { return srv.registerCount() >= 2 }, 3*time.Second, 10*time.Millisecond)
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, reg := range srv.registers {
		assert.Equal(t, "a1", reg.ID)
		assert.Equal(t, "Support", reg.Name)
	}
}

func TestQueueOverflowDropsNewest(t *testing.T) {
	c, err := New(Config{ServerURL: "ws://127.0.0.1:1/ws", AgentID: "a1", BufferSize: 2})
	require.NoError(t, err)

	require.NoError(t, c.Log("one", ""))
	require.NoError(t, c.Log("two", ""))
	assert.ErrorIs(t, c.Log("three", ""), ErrQueueFull)

	var got []string
	for len(c.queue) > 0 {
		var msg protocol.ReportMessage
		require.NoError(t, json.Unmarshal(<-c.queue, &msg))
		got = append(got, *msg.Message)
	}
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestHelpersProduceOneReportEach(t *testing.T) {
	c, err := New(Config{ServerURL: "ws://127.0.0.1:1/ws", AgentID: "a1"})
	require.NoError(t, err)

	require.NoError(t, c.Fail(errors.New("API timeout")))
	require.NoError(t, c.End(""))
	require.NoError(t, c.Progress(-5))
	require.NoError(t, c.Metric("uptime", 12))
	require.Len(t, c.queue, 4)

	decode := func() protocol.ReportMessage {
		var msg protocol.ReportMessage
		require.NoError(t, json.Unmarshal(<-c.queue, &msg))
		assert.Equal(t, protocol.TypeReport, msg.Type)
		assert.Equal(t, "a1", msg.ID)
		return msg
	}

	fail := decode()
	assert.Equal(t, "Error: API timeout", *fail.Message)
	assert.Equal(t, StatusError, fail.Status)

	end := decode()
	assert.Nil(t, end.Message)
	assert.Equal(t, StatusSuccess, end.Status)

	progress := decode()
	assert.Equal(t, float64(0), progress.Metrics[domain.MetricProgress])

	metric := decode()
	assert.Equal(t, float64(12), metric.Metrics["uptime"])
}

func TestRetryPolicy(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.NextDelay(1))
	assert.Equal(t, 200*time.Millisecond, p.NextDelay(2))
	assert.Equal(t, 300*time.Millisecond, p.NextDelay(3))

	transient := errors.New("dial tcp: connection refused")
	assert.True(t, p.ShouldRetry(transient, 1))
	assert.False(t, p.ShouldRetry(transient, 3))
	assert.False(t, p.ShouldRetry(ErrUnauthorized, 1))
	assert.False(t, p.ShouldRetry(fmt.Errorf("dial: %w", ErrForbidden), 1))
	assert.True(t, p.ShouldRetry(errors.New("upstream said forbidden"), 1), "only the 403 sentinel is permanent")

	def := DefaultRetryPolicy()
	assert.Equal(t, 5, def.MaxAttempts)
	assert.True(t, def.ShouldRetry(transient, 4))
	assert.False(t, def.ShouldRetry(transient, 5))

	unlimited := &RetryPolicy{InitialDelay: time.Millisecond, Multiplier: 2}
	assert.True(t, unlimited.ShouldRetry(transient, 1000))
}

func TestStartForbiddenIsPermanent(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	c, err := New(Config{ServerURL: ts.URL, APIKey: "secret", Retry: fastRetry()})
	require.NoError(t, err)

	err = c.Start(context.Background())
	assert.ErrorIs(t, err, ErrForbidden)
	<-c.Done()
	assert.Equal(t, int32(1), hits.Load())
}

func TestSupervisorGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	retry := fastRetry()
	retry.MaxAttempts = 3
	c, err := New(Config{ServerURL: ts.URL, APIKey: "secret", Retry: retry})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()), "a transient failure is retried in the background")

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor kept retrying past MaxAttempts")
	}
	// The initial dial plus MaxAttempts reconnects.
	assert.Equal(t, int32(1+retry.MaxAttempts), hits.Load())
	assert.ErrorIs(t, c.Log("late", ""), ErrClosed)
}

func TestCloseWithoutStart(t *testing.T) {
	c, err := New(Config{ServerURL: "ws://127.0.0.1:1/ws"})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
}
