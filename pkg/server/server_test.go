package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/agentcore/internal/tracing"
	"github.com/harun/agentcore/pkg/dispatcher"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler answers with the resolved message and remembers the context.
type echoHandler struct {
	mu        sync.Mutex
	requestID string
	messages  []string
	panics    bool
}

func (h *echoHandler) Handle(ctx context.Context, req dispatcher.Request) dispatcher.Response {
	if h.panics {
		panic("handler exploded")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requestID = tracing.GetRequestID(ctx)
	h.messages = append(h.messages, req.Message)
	return dispatcher.Response{Result: "echo: " + req.Message}
}

func newTestServer(t *testing.T, h Handler, opts Options) *httptest.Server {
	t.Helper()
	s, err := New(opts, h, zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, s.Stop(context.Background()))
	})
	return ts
}

func post(t *testing.T, url, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(url+"/invocations", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(Options{}, nil, zerolog.Nop())
	assert.EqualError(t, err, "server: handler is required")
}

func TestInvocations(t *testing.T) {
	h := &echoHandler{}
	ts := newTestServer(t, h, Options{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantKey    string
		wantValue  string
	}{
		{"message", `{"message": "2+2?"}`, http.StatusOK, "result", "echo: 2+2?"},
		{"prompt fallback", `{"prompt": "hi"}`, http.StatusOK, "result", "echo: hi"},
		{"empty object", `{}`, http.StatusOK, "result", "echo: Hello!"},
		{"empty body", ``, http.StatusOK, "result", "echo: Hello!"},
		{"invalid json", `{"message": `, http.StatusBadRequest, "error", "Error processing request: invalid payload"},
		{"array", `[1, 2]`, http.StatusBadRequest, "error", "Error processing request: invalid payload"},
		{"null", `null`, http.StatusBadRequest, "error", "Error processing request: invalid payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, envelope := post(t, ts.URL, tt.body)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			require.Len(t, envelope, 1)
			assert.True(t, strings.HasPrefix(envelope[tt.wantKey], tt.wantValue), envelope[tt.wantKey])
		})
	}
}

func TestInvocations_BodyLimit(t *testing.T) {
	ts := newTestServer(t, &echoHandler{}, Options{MaxBodyBytes: 64})

	body := `{"message": "` + strings.Repeat("x", 128) + `"}`
	resp, envelope := post(t, ts.URL, body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, envelope["error"], "body exceeds 64 bytes")
}

func TestInvocations_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, &echoHandler{}, Options{})

	resp, err := http.Get(ts.URL + "/invocations")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestInvocations_HandlerPanic(t *testing.T) {
	ts := newTestServer(t, &echoHandler{panics: true}, Options{})

	resp, envelope := post(t, ts.URL, `{}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Error processing request: internal error", envelope["error"])
}

func TestRequestID(t *testing.T) {
	h := &echoHandler{}
	ts := newTestServer(t, h, Options{})

	resp, _ := post(t, ts.URL, `{}`)
	generated := resp.Header.Get(RequestIDHeader)
	assert.Len(t, generated, 21)
	assert.Equal(t, generated, h.requestID)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/invocations", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "caller-id")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()

	assert.Equal(t, "caller-id", resp2.Header.Get(RequestIDHeader))
	assert.Equal(t, "caller-id", h.requestID)
}

func TestPing(t *testing.T) {
	ts := newTestServer(t, &echoHandler{}, Options{})

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status": "Healthy"}`, string(body))
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, &echoHandler{}, Options{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "agentcore_usage_queue_depth")
}

func TestRateLimitMiddleware(t *testing.T) {
	ts := newTestServer(t, &echoHandler{}, Options{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		resp, _ := post(t, ts.URL, `{}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, envelope := post(t, ts.URL, `{}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "Error processing request: rate limit exceeded", envelope["error"])

	// Health checks are never limited.
	ping, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	ping.Body.Close()
	assert.Equal(t, http.StatusOK, ping.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	s, err := New(Options{Host: "127.0.0.1"}, &echoHandler{}, zerolog.Nop())
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(listener) }()

	url := "http://" + listener.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/ping")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.NoError(t, <-errCh)
}

func TestServer_Addr(t *testing.T) {
	s, err := New(Options{Port: 8080}, &echoHandler{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", s.Addr())
}
