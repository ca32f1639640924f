package gateway

import (
	"encoding/json"
	"net/http"

	"mcpgateway/internal/gatewayerr"
	"mcpgateway/internal/jsonrpc"
	"mcpgateway/pkg/logging"
)

// sessionHeader is the header a client attaches to a message-endpoint POST
// to bind the call to an already-open event-stream session.
const sessionHeader = "X-Session-ID"

// Handler returns an http.Handler exposing the three client-facing
// endpoints described in §7.2: the event-stream endpoint, the
// session-bound message endpoint, and the stateless RPC endpoint.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", g.handleEventStream)
	mux.HandleFunc("/message", g.handleMessage)
	mux.HandleFunc("/rpc", g.handleStatelessRPC)
	return mux
}

// handleEventStream opens a long-lived text/event-stream connection,
// creates a session, announces the paired message endpoint, and runs the
// heartbeat until the client disconnects.
func (g *Gateway) handleEventStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	stream, err := newClientStream("", w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	session := g.CreateSession()
	stream.sessionID = session.ID
	g.RegisterStream(stream)

	if err := stream.writeEndpointEvent("/message"); err != nil {
		g.RemoveSession(session.ID)
		return
	}

	logging.Info("gateway", "session %s: event stream opened", logging.TruncateSessionID(session.ID))
	g.RunStreamHeartbeat(stream, r.Context().Done())
	logging.Info("gateway", "session %s: event stream closed", logging.TruncateSessionID(session.ID))
}

// handleMessage accepts a JSON-RPC request, optionally bound to a session
// via the X-Session-ID header, dispatches it, and returns the reply both
// synchronously and (if bound) as a message event on the session's stream.
func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	sessionID := r.Header.Get(sessionHeader)
	resp := g.HandleRequestAndPush(r.Context(), req, sessionID)
	writeResponse(w, resp)
}

// handleStatelessRPC accepts a JSON-RPC request with no session binding;
// the reply is returned only in the HTTP response.
func (g *Gateway) handleStatelessRPC(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	resp := g.HandleRequest(r.Context(), req, "")
	writeResponse(w, resp)
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (*jsonrpc.Request, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	defer r.Body.Close()
	var req jsonrpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp := jsonrpc.NewErrorResponse(req.ResponseID(), gatewayerr.CodeInvalidRequest, "malformed JSON-RPC request", nil)
		writeResponse(w, resp)
		return nil, false
	}
	return &req, true
}

func writeResponse(w http.ResponseWriter, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
