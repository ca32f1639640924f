package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mcpgateway/internal/gatewayerr"
	"mcpgateway/internal/jsonrpc"
	"mcpgateway/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

const handshakeProtocolVersion = "2024-11-05"

// ownImplementation identifies this gateway to every backend during the
// initialize handshake.
var ownImplementation = mcp.Implementation{Name: "mcp-gateway", Version: "1.0.0"}

// pendingRequest is one entry of the in-flight request table: the
// invariant is exactly one awaiter and one timer per outstanding id.
type pendingRequest struct {
	resultCh chan pendingResult
	timer    *time.Timer
	start    time.Time
}

type pendingResult struct {
	resp *jsonrpc.Response
	err  error
}

// NotificationHandler receives inbound messages with a method but no
// matching pending id: server-pushed notifications.
type NotificationHandler func(method string, params json.RawMessage)

// Events is the small, fixed fan-out of lifecycle callbacks a registry
// wires up when it constructs an adapter. Any slot left nil is skipped.
type Events struct {
	OnConnect      func()
	OnError        func(err error)
	OnUnhealthy    func()
	OnNotification NotificationHandler
}

// BaseAdapter is the transport-agnostic JSON-RPC client shared by every
// backend: request/reply correlation, the MCP handshake, the retry
// supervisor, and the circuit breaker. It is driven by a Transport and
// knows nothing about stdio pipes or SSE framing.
type BaseAdapter struct {
	backendID      string
	transport      Transport
	requestTimeout time.Duration
	events         Events

	breaker *CircuitBreaker
	retry   *retrySupervisor
	stats   statsTracker

	mu           sync.RWMutex
	health       Health
	capabilities *Capabilities
	nextID       int64

	pendingMu sync.Mutex
	pending   map[int64]*pendingRequest

	stopped atomic.Bool
}

// Config bundles the tunables a registry supplies when constructing an
// adapter for one backend.
type Config struct {
	BackendID      string
	RequestTimeout time.Duration
	MaxRetries     int
	Breaker        BreakerConfig
	Events         Events
}

// New constructs a BaseAdapter over the given transport. The adapter
// starts in HealthStopped; call Start to spawn/connect and run the
// handshake.
func New(transport Transport, cfg Config) *BaseAdapter {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	retryCfg := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}
	return &BaseAdapter{
		backendID:      cfg.BackendID,
		transport:      transport,
		requestTimeout: cfg.RequestTimeout,
		events:         cfg.Events,
		breaker:        NewCircuitBreaker(cfg.Breaker),
		retry:          newRetrySupervisor(retryCfg),
		pending:        make(map[int64]*pendingRequest),
		health:         HealthStopped,
	}
}

// BackendID returns the identifier this adapter was constructed for.
func (a *BaseAdapter) BackendID() string { return a.backendID }

// Health returns the adapter's current connection state.
func (a *BaseAdapter) Health() Health {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.health
}

func (a *BaseAdapter) setHealth(h Health) {
	a.mu.Lock()
	a.health = h
	a.mu.Unlock()
}

// Capabilities returns the last cached handshake result, or nil if the
// adapter has never completed a handshake.
func (a *BaseAdapter) Capabilities() *Capabilities {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.capabilities
}

// Breaker exposes the breaker for status reporting.
func (a *BaseAdapter) Breaker() *CircuitBreaker { return a.breaker }

// Stats returns a snapshot of rolling statistics.
func (a *BaseAdapter) Stats() Stats { return a.stats.snapshot() }

// IsConnected reports whether the transport and handshake are both up.
func (a *BaseAdapter) IsConnected() bool {
	return a.Health() == HealthHealthy && a.transport.IsConnected()
}

// Start spawns/connects the transport and runs the MCP handshake. On
// success the adapter is HealthHealthy. On failure it is HealthUnhealthy
// and the retry supervisor is not engaged — Start is a direct user
// action, not a transport-loss recovery.
func (a *BaseAdapter) Start(ctx context.Context) error {
	a.stopped.Store(false)
	a.setHealth(HealthStarting)

	if err := a.transport.Start(ctx, a.handleInbound, a.handleTransportLost); err != nil {
		a.setHealth(HealthUnhealthy)
		return &gatewayerr.TransportError{BackendID: a.backendID, Op: "spawn", Err: err}
	}

	if err := a.handshake(ctx); err != nil {
		a.setHealth(HealthUnhealthy)
		return err
	}

	a.setHealth(HealthHealthy)
	a.retry.reset()
	if a.events.OnConnect != nil {
		a.events.OnConnect()
	}
	logging.Info("adapter", "backend %s connected", a.backendID)
	return nil
}

// Stop cancels all in-flight awaiters and tears the transport down. Safe
// to call from any state.
func (a *BaseAdapter) Stop(ctx context.Context) error {
	a.stopped.Store(true)
	a.cancelAllPending(fmt.Errorf("adapter stopping"))
	err := a.transport.Stop(ctx)
	a.setHealth(HealthStopped)
	return err
}

// handshake runs initialize / notifications/initialized / the three list
// calls, per §4.3. Failures in the list calls are tolerated: the backend
// is still healthy with a partial capability set.
func (a *BaseAdapter) handshake(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	initParams := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: handshakeProtocolVersion,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo:      ownImplementation,
		},
	}

	resp, err := a.sendRequestRaw(hctx, "initialize", initParams.Params)
	if err != nil {
		return &gatewayerr.TimeoutError{BackendID: a.backendID, Op: "handshake"}
	}
	if resp.Error != nil {
		return &gatewayerr.BackendError{BackendID: a.backendID, Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
	}

	var initResult mcp.InitializeResult
	caps := &Capabilities{}
	if resp.Result != nil {
		if err := json.Unmarshal(resp.Result, &initResult); err == nil {
			si := initResult.ServerInfo
			caps.ServerInfo = &si
		}
	}

	if err := a.sendNotification(ctx, "notifications/initialized", nil); err != nil {
		logging.Warn("adapter", "backend %s: notifications/initialized failed: %v", a.backendID, err)
	}

	// List calls are best-effort; a failure leaves that slice empty but
	// does not fail the handshake.
	if tr, err := a.sendRequestRaw(hctx, "tools/list", nil); err == nil && tr.Error == nil {
		var r mcp.ListToolsResult
		if json.Unmarshal(tr.Result, &r) == nil {
			caps.Tools = r.Tools
		}
	} else {
		logging.Debug("adapter", "backend %s: tools/list unavailable", a.backendID)
	}
	if rr, err := a.sendRequestRaw(hctx, "resources/list", nil); err == nil && rr.Error == nil {
		var r mcp.ListResourcesResult
		if json.Unmarshal(rr.Result, &r) == nil {
			caps.Resources = r.Resources
		}
	} else {
		logging.Debug("adapter", "backend %s: resources/list unavailable", a.backendID)
	}
	if pr, err := a.sendRequestRaw(hctx, "prompts/list", nil); err == nil && pr.Error == nil {
		var r mcp.ListPromptsResult
		if json.Unmarshal(pr.Result, &r) == nil {
			caps.Prompts = r.Prompts
		}
	} else {
		logging.Debug("adapter", "backend %s: prompts/list unavailable", a.backendID)
	}

	a.mu.Lock()
	a.capabilities = caps
	a.mu.Unlock()
	return nil
}

// SendRequest issues a method call to the backend and waits for its
// reply, subject to the circuit breaker and the per-request deadline.
func (a *BaseAdapter) SendRequest(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	if !a.breaker.Allow() {
		return nil, &gatewayerr.PolicyError{BackendID: a.backendID, Reason: "circuit open"}
	}
	resp, err := a.sendRequestRaw(ctx, method, params)
	if err != nil {
		a.breaker.RecordFailure()
		a.stats.recordFailure(err.Error())
		return nil, err
	}
	if resp.Error != nil {
		a.breaker.RecordFailure()
		a.stats.recordFailure(resp.Error.Message)
	} else {
		a.breaker.RecordSuccess()
	}
	return resp, nil
}

// sendRequestRaw performs the correlation dance without touching the
// breaker; used directly by the handshake, which must run before the
// breaker should see any traffic.
func (a *BaseAdapter) sendRequestRaw(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	id := atomic.AddInt64(&a.nextID, 1)
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	pr := &pendingRequest{resultCh: make(chan pendingResult, 1), start: time.Now()}
	pr.timer = time.AfterFunc(a.requestTimeout, func() { a.evictPending(id, &gatewayerr.TimeoutError{BackendID: a.backendID, Op: "request", RequestID: id}) })

	a.pendingMu.Lock()
	a.pending[id] = pr
	a.pendingMu.Unlock()

	if err := a.transport.SendRaw(ctx, append(payload, '\n')); err != nil {
		a.evictPending(id, &gatewayerr.TransportError{BackendID: a.backendID, Op: "write", Err: err})
	}

	select {
	case res := <-pr.resultCh:
		latency := time.Since(pr.start)
		if res.err == nil {
			a.stats.recordSuccess(latency)
		}
		return res.resp, res.err
	case <-ctx.Done():
		a.evictPending(id, ctx.Err())
		return nil, ctx.Err()
	}
}

// SendNotification writes a fire-and-forget method call; it never waits
// for a reply.
func (a *BaseAdapter) SendNotification(ctx context.Context, method string, params any) error {
	return a.sendNotification(ctx, method, params)
}

func (a *BaseAdapter) sendNotification(ctx context.Context, method string, params any) error {
	req, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return a.transport.SendRaw(ctx, append(payload, '\n'))
}

// evictPending resolves and removes a pending entry exactly once; it is
// the single cancellation point for timeouts, write failures, and
// transport loss, guaranteeing at-most-one reply per request.
func (a *BaseAdapter) evictPending(id int64, err error) {
	a.pendingMu.Lock()
	pr, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.pendingMu.Unlock()
	if !ok {
		return
	}
	pr.timer.Stop()
	select {
	case pr.resultCh <- pendingResult{err: err}:
	default:
	}
}

func (a *BaseAdapter) cancelAllPending(reason error) {
	a.pendingMu.Lock()
	ids := make([]int64, 0, len(a.pending))
	for id := range a.pending {
		ids = append(ids, id)
	}
	a.pendingMu.Unlock()
	for _, id := range ids {
		a.evictPending(id, reason)
	}
}

// handleInbound is the transport's callback for one decoded line. It
// dispatches to the pending table on a matching id, or to the
// notification handler when the message carries a method but no known id.
func (a *BaseAdapter) handleInbound(line []byte) {
	req, resp, err := jsonrpc.Decode(line)
	if err != nil {
		logging.Debug("adapter", "backend %s: dropping unparseable line: %v", a.backendID, err)
		return
	}

	if resp != nil {
		id, ok := decodeNumericID(resp.ID)
		if !ok {
			return
		}
		a.pendingMu.Lock()
		pr, found := a.pending[id]
		if found {
			delete(a.pending, id)
		}
		a.pendingMu.Unlock()
		if !found {
			return
		}
		pr.timer.Stop()
		select {
		case pr.resultCh <- pendingResult{resp: resp}:
		default:
		}
		return
	}

	if req != nil {
		if req.IsNotification() {
			if a.events.OnNotification != nil {
				a.events.OnNotification(req.Method, req.Params)
			}
			return
		}
		// A request arriving on the backend channel with an id is not part
		// of this protocol direction; surface it as a notification too so
		// nothing is silently dropped.
		if a.events.OnNotification != nil {
			a.events.OnNotification(req.Method, req.Params)
		}
	}
}

func decodeNumericID(raw json.RawMessage) (int64, bool) {
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return id, true
}

// handleTransportLost is the transport's callback for an unexpected
// termination. If the adapter was healthy, it engages the retry
// supervisor; repeated failures beyond MaxRetries mark it terminally
// unhealthy.
func (a *BaseAdapter) handleTransportLost(err error) {
	if a.stopped.Load() {
		return
	}
	wasHealthy := a.Health() == HealthHealthy
	a.setHealth(HealthUnhealthy)
	a.cancelAllPending(&gatewayerr.TransportError{BackendID: a.backendID, Op: "read", Err: fmt.Errorf("transport lost")})

	if a.events.OnError != nil {
		a.events.OnError(err)
	}
	if !wasHealthy {
		return
	}
	go a.recover()
}

func (a *BaseAdapter) recover() {
	for !a.retry.exhausted() {
		delay := a.retry.next()
		logging.Warn("adapter", "backend %s: reconnecting in %s (attempt %d/%d)", a.backendID, delay, a.retry.attempt, a.retry.cfg.MaxRetries)
		time.Sleep(delay)
		if a.stopped.Load() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.requestTimeout)
		err := a.Start(ctx)
		cancel()
		if err == nil {
			return
		}
		logging.Warn("adapter", "backend %s: reconnect attempt failed: %v", a.backendID, err)
	}
	a.setHealth(HealthUnhealthy)
	logging.Error("adapter", fmt.Errorf("retries exhausted"), "backend %s: terminally unhealthy", a.backendID)
	if a.events.OnUnhealthy != nil {
		a.events.OnUnhealthy()
	}
}

// MarkUnhealthy flips the adapter's observed health to HealthUnhealthy and
// fires OnUnhealthy if it was previously healthy. It is the registry
// health sweep's way of acting on a failed ping or a disconnected
// transport without going through the transport-loss retry path — the
// sweep only observes, it does not own reconnection.
func (a *BaseAdapter) MarkUnhealthy() {
	wasHealthy := a.Health() == HealthHealthy
	a.setHealth(HealthUnhealthy)
	if wasHealthy && a.events.OnUnhealthy != nil {
		a.events.OnUnhealthy()
	}
}

// Ping issues the MCP liveness probe used by the registry's periodic
// health sweep.
func (a *BaseAdapter) Ping(ctx context.Context) error {
	resp, err := a.sendRequestRaw(ctx, "ping", nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return &gatewayerr.BackendError{BackendID: a.backendID, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return nil
}
