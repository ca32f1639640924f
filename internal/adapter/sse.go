package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"mcpgateway/internal/config"
	"mcpgateway/pkg/logging"
)

// SSETransport opens an event stream against a remote MCP backend,
// discovers its message-POST endpoint from the stream's first "endpoint"
// event, and carries outbound requests as HTTP POSTs while inbound
// replies/notifications arrive as "message" events on the stream.
type SSETransport struct {
	backendID string
	cfg       config.EventStreamConfig
	tokens    *tokenSource

	httpClient *http.Client

	mu           sync.Mutex
	messageURL   string
	sseSessionID string
	cancelStream context.CancelFunc
	connected    bool
}

// NewSSETransport constructs an event-stream transport for the given
// backend. cfg.TokenURL may be empty, in which case requests are sent
// without an Authorization header.
func NewSSETransport(backendID string, cfg config.EventStreamConfig) *SSETransport {
	t := &SSETransport{
		backendID:  backendID,
		cfg:        cfg,
		httpClient: &http.Client{},
	}
	if cfg.TokenURL != "" {
		t.tokens = newTokenSource(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.RefreshWindow)
	}
	return t
}

func (t *SSETransport) Start(ctx context.Context, onMessage func([]byte), onLost func(error)) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.cfg.BaseURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if err := t.authorize(ctx, req); err != nil {
		cancel()
		return err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	ready := make(chan error, 1)
	t.mu.Lock()
	t.cancelStream = cancel
	t.mu.Unlock()

	go t.pump(resp.Body, onMessage, onLost, ready)

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return err
		}
	case <-time.After(30 * time.Second):
		cancel()
		return fmt.Errorf("timed out waiting for endpoint event from %s", t.backendID)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

// pump reads Server-Sent Events frames off the stream. The first
// "endpoint" event resolves ready; everything after is handed to
// onMessage when tagged "message".
func (t *SSETransport) pump(body io.ReadCloser, onMessage func([]byte), onLost func(error), ready chan<- error) {
	defer body.Close()
	reader := bufio.NewReader(body)

	var event string
	var dataBuf bytes.Buffer
	gotEndpoint := false

	flush := func() {
		if dataBuf.Len() == 0 {
			return
		}
		data := dataBuf.Bytes()
		dataBuf.Reset()

		switch event {
		case "endpoint":
			var payload struct {
				Endpoint  string `json:"endpoint"`
				SessionID string `json:"sessionId"`
			}
			if err := json.Unmarshal(data, &payload); err == nil {
				t.mu.Lock()
				t.messageURL = resolveEndpoint(t.cfg.BaseURL, payload.Endpoint)
				t.sseSessionID = payload.SessionID
				t.mu.Unlock()
			}
			if !gotEndpoint {
				gotEndpoint = true
				ready <- nil
			}
		case "message", "":
			onMessage(append([]byte{}, data...))
		}
		event = ""
	}

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(trimmed, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
		case strings.HasPrefix(trimmed, "data:"):
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, ":"):
			// comment / heartbeat line, ignore
		}

		if err != nil {
			if !gotEndpoint {
				ready <- fmt.Errorf("event stream for %s closed before endpoint event: %w", t.backendID, err)
			}
			t.mu.Lock()
			t.connected = false
			t.mu.Unlock()
			if onLost != nil {
				onLost(fmt.Errorf("event stream closed: %w", err))
			}
			return
		}
	}
}

func resolveEndpoint(base, endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	idx := strings.Index(base, "://")
	if idx < 0 {
		return endpoint
	}
	schemeHost := base[:idx+3]
	slash := strings.Index(base[idx+3:], "/")
	if slash < 0 {
		return schemeHost + base[idx+3:] + endpoint
	}
	origin := schemeHost + base[idx+3:idx+3+slash]
	if !strings.HasPrefix(endpoint, "/") {
		origin += "/"
	}
	return origin + endpoint
}

func (t *SSETransport) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancelStream
	t.connected = false
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (t *SSETransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *SSETransport) SendRaw(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	url := t.messageURL
	sessionID := t.sseSessionID
	t.mu.Unlock()
	if url == "" {
		return fmt.Errorf("backend %s: no message endpoint discovered yet", t.backendID)
	}

	do := func(retryOnAuth bool) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if sessionID != "" {
			req.Header.Set("X-Session-ID", sessionID)
		}
		if err := t.authorize(ctx, req); err != nil {
			return nil, err
		}
		resp, err := t.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && retryOnAuth && t.tokens != nil {
			resp.Body.Close()
			if _, err := t.tokens.Token(ctx, true); err != nil {
				return nil, err
			}
			return do(false)
		}
		return resp, nil
	}

	resp, err := do(true)
	if err != nil {
		return fmt.Errorf("post to %s: %w", t.backendID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend %s message endpoint returned status %d", t.backendID, resp.StatusCode)
	}
	return nil
}

func (t *SSETransport) authorize(ctx context.Context, req *http.Request) error {
	if t.tokens == nil {
		return nil
	}
	tok, err := t.tokens.Token(ctx, false)
	if err != nil {
		logging.Warn("adapter", "backend %s: token acquisition failed: %v", t.backendID, err)
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}
