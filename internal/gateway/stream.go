package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mcpgateway/pkg/logging"
)

const heartbeatInterval = 30 * time.Second

// clientStream is one open event-stream connection paired to a session.
// It owns the http.Flusher and serializes every write onto it, since the
// heartbeat goroutine and message delivery can race otherwise.
type clientStream struct {
	sessionID string
	w         http.ResponseWriter
	flusher   http.Flusher

	mu    sync.Mutex
	alive bool
}

func newClientStream(sessionID string, w http.ResponseWriter) (*clientStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &clientStream{sessionID: sessionID, w: w, flusher: flusher, alive: true}, nil
}

func (c *clientStream) writeEndpointEvent(endpoint string) error {
	payload, _ := json.Marshal(map[string]string{"endpoint": endpoint, "sessionId": c.sessionID})
	return c.writeFrame("endpoint", payload)
}

func (c *clientStream) writeMessageEvent(payload json.RawMessage) error {
	return c.writeFrame("message", payload)
}

func (c *clientStream) writeFrame(event string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive {
		return fmt.Errorf("stream for session %s is closed", c.sessionID)
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		c.alive = false
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *clientStream) writeHeartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive {
		return fmt.Errorf("stream for session %s is closed", c.sessionID)
	}
	if _, err := fmt.Fprint(c.w, ": ping\n\n"); err != nil {
		c.alive = false
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *clientStream) close() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()
}

// streamHub tracks every open client stream by session id so that a reply
// produced on behalf of a session can additionally be fanned out onto that
// session's event stream, per §4.6's "emitted onto the stream as message
// events" rule.
type streamHub struct {
	mu      sync.RWMutex
	streams map[string]*clientStream
}

func newStreamHub() *streamHub {
	return &streamHub{streams: make(map[string]*clientStream)}
}

func (h *streamHub) register(s *clientStream) {
	h.mu.Lock()
	h.streams[s.sessionID] = s
	h.mu.Unlock()
}

func (h *streamHub) unregister(sessionID string) {
	h.mu.Lock()
	delete(h.streams, sessionID)
	h.mu.Unlock()
}

// deliver pushes payload as a message event onto sessionID's stream, if
// one is currently open. Delivery to a dead or absent stream silently
// no-ops, per the cancellation rules in §5.
func (h *streamHub) deliver(sessionID string, payload json.RawMessage) {
	h.mu.RLock()
	s, ok := h.streams[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.writeMessageEvent(payload); err != nil {
		logging.Debug("gateway", "session %s: message delivery failed: %v", logging.TruncateSessionID(sessionID), err)
	}
}

// runHeartbeat writes a comment-line heartbeat every 30s until the stream
// is no longer writable or stop fires, then tears the stream down and
// removes its session.
func (h *streamHub) runHeartbeat(s *clientStream, stop <-chan struct{}, onDone func()) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	defer func() {
		s.close()
		h.unregister(s.sessionID)
		if onDone != nil {
			onDone()
		}
	}()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.writeHeartbeat(); err != nil {
				return
			}
		}
	}
}
