// Package gateway implements the MCP-facing facade: the dispatch table
// that turns an inbound JSON-RPC request into a registry/router call, the
// session store that binds a client's event-stream to its message-endpoint
// POSTs, and the client-side SSE multiplexer that fans routed replies back
// onto an open stream.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mcpgateway/internal/gatewayerr"
	"mcpgateway/internal/jsonrpc"
	"mcpgateway/internal/registry"
	"mcpgateway/internal/router"
	"mcpgateway/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

const gatewayName = "mcp-gateway"
const gatewayVersion = "1.0.0"

// Registry is the subset of registry.Registry the gateway needs: the
// merged catalog and the list of known backend identifiers for the
// initialize instructions string.
type Registry interface {
	GetMergedCapabilities() registry.MergedCapabilities
	BackendIDs() []string
}

// Router is the subset of router.Router the gateway needs to forward a
// parsed tool/resource/prompt call.
type Router interface {
	RouteToolCall(ctx context.Context, namespacedName string, arguments json.RawMessage) (*jsonrpc.Response, error)
	RouteResourceRead(ctx context.Context, namespacedURI string) (*jsonrpc.Response, error)
	RoutePromptGet(ctx context.Context, namespacedName string, arguments json.RawMessage) (*jsonrpc.Response, error)
}

type handlerFunc func(g *Gateway, ctx context.Context, id json.RawMessage, params json.RawMessage, sessionID string) *jsonrpc.Response

// Gateway is the composition root's MCP-facing facade.
type Gateway struct {
	registry Registry
	router   Router

	sessions *sessionStore
	hub      *streamHub

	dispatch map[string]handlerFunc
}

// New constructs a Gateway over the given registry and router.
func New(reg Registry, rt Router, sessionTimeout time.Duration) *Gateway {
	g := &Gateway{
		registry: reg,
		router:   rt,
		hub:      newStreamHub(),
	}
	g.sessions = newSessionStore(sessionTimeout, g.hub.unregister)
	g.dispatch = map[string]handlerFunc{
		"initialize":                (*Gateway).handleInitialize,
		"ping":                      (*Gateway).handlePing,
		"tools/list":                (*Gateway).handleToolsList,
		"tools/call":                (*Gateway).handleToolsCall,
		"resources/list":            (*Gateway).handleResourcesList,
		"resources/read":            (*Gateway).handleResourcesRead,
		"resources/templates/list":  (*Gateway).handleResourceTemplatesList,
		"prompts/list":              (*Gateway).handlePromptsList,
		"prompts/get":               (*Gateway).handlePromptsGet,
		"notifications/initialized": (*Gateway).handleAckNotification,
		"notifications/cancelled":   (*Gateway).handleAckNotification,
	}
	return g
}

// StartSessionSweep runs the periodic eviction sweep at
// min(sessionTimeout/2, 60s) until ctx is cancelled.
func (g *Gateway) StartSessionSweep(ctx context.Context) {
	interval := g.sessions.sweepInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.sessions.sweep()
			}
		}
	}()
}

// HandleRequest dispatches one JSON-RPC request by method, refreshing
// sessionID's last-activity if it names an existing session. The returned
// response always echoes req.ResponseID().
func (g *Gateway) HandleRequest(ctx context.Context, req *jsonrpc.Request, sessionID string) *jsonrpc.Response {
	if sessionID != "" {
		g.sessions.touch(sessionID)
	}

	handler, ok := g.dispatch[req.Method]
	if !ok {
		return jsonrpc.NewErrorResponse(req.ResponseID(), gatewayerr.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
	return handler(g, ctx, req.ResponseID(), req.Params, sessionID)
}

// HandleRequestAndPush is the message-endpoint entry point: it dispatches
// the request and, if sessionID names an open stream, additionally pushes
// the same reply onto that stream as a message event.
func (g *Gateway) HandleRequestAndPush(ctx context.Context, req *jsonrpc.Request, sessionID string) *jsonrpc.Response {
	resp := g.HandleRequest(ctx, req, sessionID)
	if sessionID != "" && resp != nil {
		if raw, err := json.Marshal(resp); err == nil {
			g.hub.deliver(sessionID, raw)
		}
	}
	return resp
}

func (g *Gateway) handleInitialize(ctx context.Context, id json.RawMessage, _ json.RawMessage, _ string) *jsonrpc.Response {
	merged := g.registry.GetMergedCapabilities()
	caps := mcp.ServerCapabilities{}
	if len(merged.Tools) > 0 {
		caps.Tools = &mcp.ToolsCapability{}
	}
	if len(merged.Resources) > 0 {
		caps.Resources = &mcp.ResourcesCapability{}
	}
	if len(merged.Prompts) > 0 {
		caps.Prompts = &mcp.PromptsCapability{}
	}

	result := mcp.InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities:    caps,
		ServerInfo:      mcp.Implementation{Name: gatewayName, Version: gatewayVersion},
		Instructions:    buildInstructions(g.registry.BackendIDs()),
	}
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, gatewayerr.CodeInternal, err.Error(), nil)
	}
	return resp
}

func buildInstructions(backendIDs []string) string {
	if len(backendIDs) == 0 {
		return "No backends are currently registered."
	}
	var b strings.Builder
	b.WriteString("Federated backends: ")
	b.WriteString(strings.Join(backendIDs, ", "))
	b.WriteString(". Tools and prompts are namespaced as <backendId>__<name>; resources as <backendId>://<uri>.")
	return b.String()
}

func (g *Gateway) handlePing(_ context.Context, id json.RawMessage, _ json.RawMessage, _ string) *jsonrpc.Response {
	resp, _ := jsonrpc.NewResultResponse(id, struct{}{})
	return resp
}

func (g *Gateway) handleAckNotification(_ context.Context, id json.RawMessage, _ json.RawMessage, _ string) *jsonrpc.Response {
	resp, _ := jsonrpc.NewResultResponse(id, struct{}{})
	return resp
}

func (g *Gateway) handleToolsList(_ context.Context, id json.RawMessage, _ json.RawMessage, _ string) *jsonrpc.Response {
	merged := g.registry.GetMergedCapabilities()
	tools := make([]mcp.Tool, 0, len(merged.Tools))
	for _, nt := range merged.Tools {
		t := nt.Tool
		t.Name = router.EncodeName(nt.BackendID, nt.Tool.Name)
		tools = append(tools, t)
	}
	resp, _ := jsonrpc.NewResultResponse(id, mcp.ListToolsResult{Tools: tools})
	return resp
}

func (g *Gateway) handleResourcesList(_ context.Context, id json.RawMessage, _ json.RawMessage, _ string) *jsonrpc.Response {
	merged := g.registry.GetMergedCapabilities()
	resources := make([]mcp.Resource, 0, len(merged.Resources))
	for _, nr := range merged.Resources {
		r := nr.Resource
		r.URI = router.EncodeURI(nr.BackendID, nr.Resource.URI)
		resources = append(resources, r)
	}
	resp, _ := jsonrpc.NewResultResponse(id, mcp.ListResourcesResult{Resources: resources})
	return resp
}

func (g *Gateway) handleResourceTemplatesList(_ context.Context, id json.RawMessage, _ json.RawMessage, _ string) *jsonrpc.Response {
	resp, _ := jsonrpc.NewResultResponse(id, mcp.ListResourceTemplatesResult{ResourceTemplates: []mcp.ResourceTemplate{}})
	return resp
}

func (g *Gateway) handlePromptsList(_ context.Context, id json.RawMessage, _ json.RawMessage, _ string) *jsonrpc.Response {
	merged := g.registry.GetMergedCapabilities()
	prompts := make([]mcp.Prompt, 0, len(merged.Prompts))
	for _, np := range merged.Prompts {
		p := np.Prompt
		p.Name = router.EncodeName(np.BackendID, np.Prompt.Name)
		prompts = append(prompts, p)
	}
	resp, _ := jsonrpc.NewResultResponse(id, mcp.ListPromptsResult{Prompts: prompts})
	return resp
}

func (g *Gateway) handleToolsCall(ctx context.Context, id json.RawMessage, params json.RawMessage, _ string) *jsonrpc.Response {
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return jsonrpc.NewErrorResponse(id, gatewayerr.CodeInvalidParams, "tools/call requires \"name\"", nil)
	}
	backendResp, err := g.router.RouteToolCall(ctx, p.Name, p.Arguments)
	return g.relay(id, backendResp, err)
}

func (g *Gateway) handleResourcesRead(ctx context.Context, id json.RawMessage, params json.RawMessage, _ string) *jsonrpc.Response {
	var p struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.URI == "" {
		return jsonrpc.NewErrorResponse(id, gatewayerr.CodeInvalidParams, "resources/read requires \"uri\"", nil)
	}
	backendResp, err := g.router.RouteResourceRead(ctx, p.URI)
	return g.relay(id, backendResp, err)
}

func (g *Gateway) handlePromptsGet(ctx context.Context, id json.RawMessage, params json.RawMessage, _ string) *jsonrpc.Response {
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return jsonrpc.NewErrorResponse(id, gatewayerr.CodeInvalidParams, "prompts/get requires \"name\"", nil)
	}
	backendResp, err := g.router.RoutePromptGet(ctx, p.Name, p.Arguments)
	return g.relay(id, backendResp, err)
}

// relay restores the client-supplied request id onto whatever the router
// produced: a verbatim backend reply, or a synthesized error when routing
// itself failed before reaching a backend. An unparseable key is reported
// as −32602; a tripped circuit breaker as −32603 with data.reason =
// "circuit open"; every other refusal (backend not healthy,
// transport/timeout failure) as −32000.
func (g *Gateway) relay(id json.RawMessage, backendResp *jsonrpc.Response, err error) *jsonrpc.Response {
	if err != nil {
		logging.Debug("gateway", "routing failed: %v", err)
		switch e := err.(type) {
		case *gatewayerr.ProtocolError:
			return jsonrpc.NewErrorResponse(id, gatewayerr.CodeInvalidParams, e.Message, nil)
		case *gatewayerr.PolicyError:
			if e.Reason == "circuit open" {
				return jsonrpc.NewErrorResponse(id, gatewayerr.CodeInternal, e.Error(), map[string]string{"reason": "circuit open"})
			}
			return jsonrpc.NewErrorResponse(id, gatewayerr.CodeBackendNotReady, e.Error(), nil)
		default:
			return jsonrpc.NewErrorResponse(id, gatewayerr.CodeBackendNotReady, err.Error(), nil)
		}
	}
	backendResp.ID = id
	return backendResp
}

// CreateSession mints a new client session.
func (g *Gateway) CreateSession() *Session {
	return g.sessions.create()
}

// RemoveSession evicts a session, e.g. on client disconnect.
func (g *Gateway) RemoveSession(id string) {
	g.sessions.remove(id)
	g.hub.unregister(id)
}

// RegisterStream binds an open client event-stream to its session in the
// hub so routed replies made on behalf of that session can be fanned out.
func (g *Gateway) RegisterStream(s *clientStream) {
	g.hub.register(s)
}

// RunStreamHeartbeat blocks, writing heartbeats on s every 30s until the
// stream dies or stop fires, then tears the session down.
func (g *Gateway) RunStreamHeartbeat(s *clientStream, stop <-chan struct{}) {
	g.hub.runHeartbeat(s, stop, func() { g.sessions.remove(s.sessionID) })
}
