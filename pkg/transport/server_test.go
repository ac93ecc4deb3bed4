package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/subalive/pkg/heartbeat"
)

// stubHandler records counters and can pretend to be shutting down.
type stubHandler struct {
	mu       sync.Mutex
	counters []int
	closing  bool
}

func (h *stubHandler) Alive(counter int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return heartbeat.Ack, heartbeat.ErrShuttingDown
	}
	h.counters = append(h.counters, counter)
	return heartbeat.Ack, nil
}

func (h *stubHandler) Status() heartbeat.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := heartbeat.Status{State: "running"}
	if n := len(h.counters); n > 0 {
		c := h.counters[n-1]
		st.LastCounter = &c
	}
	return st
}

func (h *stubHandler) setClosing() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
}

func newTestServer(t *testing.T, h Handler) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, h, zaptest.NewLogger(t))
	require.NoError(t, err)
	return srv
}

func postAlive(t *testing.T, srv *Server, counter int) (*http.Response, StdResponse[AliveResponse]) {
	t.Helper()
	body, err := sonic.Marshal(AliveRequest{Counter: counter})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, AlivePath, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.App.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out StdResponse[AliveResponse]
	require.NoError(t, sonic.Unmarshal(raw, &out))
	return resp, out
}

func TestServerAlive(t *testing.T) {
	h := &stubHandler{}
	srv := newTestServer(t, h)
	defer srv.ln.Close()

	resp, out := postAlive(t, srv, 3)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, out.Body.Result)
	assert.Nil(t, out.Error)
	assert.Equal(t, []int{3}, h.counters)
}

func TestServerAliveWhileShuttingDown(t *testing.T) {
	h := &stubHandler{}
	h.setClosing()
	srv := newTestServer(t, h)
	defer srv.ln.Close()

	resp, out := postAlive(t, srv, 1)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.NotNil(t, out.Error)
	assert.Contains(t, *out.Error, "shutting down")
}

func TestServerRejectsGarbage(t *testing.T) {
	srv := newTestServer(t, &stubHandler{})
	defer srv.ln.Close()

	req := httptest.NewRequest(http.MethodPost, AlivePath, bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerHealthzAndInfo(t *testing.T) {
	h := &stubHandler{}
	srv := newTestServer(t, h)
	defer srv.ln.Close()
	_, _ = h.Alive(9)

	resp, err := srv.App.Test(httptest.NewRequest(http.MethodGet, HealthzPath, nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	resp, err = srv.App.Test(httptest.NewRequest(http.MethodGet, InfoPath, nil))
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	var st heartbeat.Status
	require.NoError(t, sonic.Unmarshal(raw, &st))
	require.NotNil(t, st.LastCounter)
	assert.Equal(t, 9, *st.LastCounter)
}

func TestServerMetrics(t *testing.T) {
	srv := newTestServer(t, &stubHandler{})
	defer srv.ln.Close()

	resp, err := srv.App.Test(httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(raw), "subalive_uptime_seconds")
}

func TestServerShutdownStopsServe(t *testing.T) {
	srv := newTestServer(t, &stubHandler{})
	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	require.NoError(t, WaitReady(context.Background(), srv.Addr(), ReadyConfig{Attempts: 10, WaitMin: 10 * time.Millisecond}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
