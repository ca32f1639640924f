package adapter

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"mcpgateway/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseBackend is a minimal hand-rolled MCP-over-SSE server: GET / opens the
// stream and immediately announces a message endpoint, POST /message
// echoes the request body back down the open stream tagged as "message".
func sseBackend(t *testing.T) *httptest.Server {
	var mu sync.Mutex
	flushers := map[chan []byte]struct{}{}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		ch := make(chan []byte, 8)
		mu.Lock()
		flushers[ch] = struct{}{}
		mu.Unlock()
		defer func() {
			mu.Lock()
			delete(flushers, ch)
			mu.Unlock()
		}()

		fmt.Fprintf(w, "event: endpoint\ndata: {\"endpoint\":\"/message\",\"sessionId\":\"sess-1\"}\n\n")
		flusher.Flush()

		for {
			select {
			case data := <-ch:
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		buf := make([]byte, 0, 4096)
		scanner := bufio.NewScanner(r.Body)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			buf = append(buf, scanner.Bytes()...)
		}
		mu.Lock()
		for ch := range flushers {
			ch <- append([]byte{}, buf...)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSSETransport_StartDiscoversEndpoint(t *testing.T) {
	srv := sseBackend(t)
	tr := NewSSETransport("remote", config.EventStreamConfig{BaseURL: srv.URL})

	err := tr.Start(context.Background(), func([]byte) {}, func(error) {})
	require.NoError(t, err)
	defer tr.Stop(context.Background())

	assert.True(t, tr.IsConnected())
	assert.Equal(t, srv.URL+"/message", tr.messageURL)
}

func TestSSETransport_SendRawRoundTripsOverStream(t *testing.T) {
	srv := sseBackend(t)
	tr := NewSSETransport("remote", config.EventStreamConfig{BaseURL: srv.URL})

	received := make(chan []byte, 1)
	require.NoError(t, tr.Start(context.Background(), func(line []byte) {
		received <- line
	}, func(error) {}))
	defer tr.Stop(context.Background())

	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.NoError(t, tr.SendRaw(context.Background(), payload))

	select {
	case line := <-received:
		assert.Contains(t, string(line), `"method":"ping"`)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive echoed message over stream")
	}
}

func TestSSETransport_StopClosesStream(t *testing.T) {
	srv := sseBackend(t)
	tr := NewSSETransport("remote", config.EventStreamConfig{BaseURL: srv.URL})
	require.NoError(t, tr.Start(context.Background(), func([]byte) {}, func(error) {}))

	require.NoError(t, tr.Stop(context.Background()))
	assert.False(t, tr.IsConnected())
}

func TestSSETransport_SendRawBeforeEndpointErrors(t *testing.T) {
	tr := NewSSETransport("remote", config.EventStreamConfig{BaseURL: "http://127.0.0.1:1"})
	err := tr.SendRaw(context.Background(), []byte("{}"))
	assert.Error(t, err)
}

func TestResolveEndpoint_RelativeAndAbsolute(t *testing.T) {
	assert.Equal(t, "https://host/msg", resolveEndpoint("https://host/sse", "/msg"))
	assert.Equal(t, "https://other/msg", resolveEndpoint("https://host/sse", "https://other/msg"))
}
