// Package registry owns the set of backend adapters: constructing one per
// configured backend, tracking health, merging capabilities from the
// healthy subset, and running the periodic liveness sweep. It is the
// control plane the router and gateway facade query; nothing outside this
// package ever touches an adapter directly.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mcpgateway/internal/adapter"
	"mcpgateway/internal/config"
	"mcpgateway/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

const maxTransitionHistory = 100

// HealthTransition records one health change for a backend, kept in a
// capped ring buffer for diagnostics.
type HealthTransition struct {
	From, To adapter.Health
	At       time.Time
}

// entry is the registry's private bookkeeping for one backend.
type entry struct {
	id          string
	cfg         config.BackendConfig
	adapter     *adapter.BaseAdapter
	registered  time.Time
	transitions []HealthTransition
}

// NamedTool, NamedResource, and NamedPrompt annotate a capability item with
// the backend identifier it originated from, so the router can namespace it
// and the caller can trace it back.
type NamedTool struct {
	BackendID string
	Tool      mcp.Tool
}

type NamedResource struct {
	BackendID string
	Resource  mcp.Resource
}

type NamedPrompt struct {
	BackendID string
	Prompt    mcp.Prompt
}

// MergedCapabilities is the deterministic, ordered catalog produced by
// GetMergedCapabilities: registration order across backends, each
// backend's own item order preserved within it.
type MergedCapabilities struct {
	Tools     []NamedTool
	Resources []NamedResource
	Prompts   []NamedPrompt
}

// Registry owns every registered backend's adapter and lifecycle.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	healthCheckCancel context.CancelFunc
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// RegisterServer constructs the adapter appropriate to cfg.Transport,
// wires lifecycle notifications, and inserts it into the registry. Unless
// cfg.LazyStart is set, it attempts a synchronous start; a failed start is
// logged but does not prevent registration — the adapter stays present
// and unhealthy, and GetAdapterEnsureStarted starts it again on the next
// routed call. The health sweep does not restart it.
func (r *Registry) RegisterServer(ctx context.Context, cfg config.BackendConfig) error {
	r.mu.Lock()
	if _, exists := r.entries[cfg.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("backend %q already registered", cfg.ID)
	}
	r.mu.Unlock()

	e := &entry{id: cfg.ID, cfg: cfg, registered: time.Now()}

	transport, err := buildTransport(cfg)
	if err != nil {
		return fmt.Errorf("backend %q: %w", cfg.ID, err)
	}

	e.adapter = adapter.New(transport, adapter.Config{
		BackendID:      cfg.ID,
		RequestTimeout: cfg.EffectiveRequestTimeout(),
		MaxRetries:     cfg.EffectiveMaxRetries(),
		Events: adapter.Events{
			OnConnect:      func() { r.recordTransition(cfg.ID, adapter.HealthHealthy) },
			OnUnhealthy:    func() { r.recordTransition(cfg.ID, adapter.HealthUnhealthy) },
			OnError:        func(err error) { logging.Warn("registry", "backend %s: %v", cfg.ID, err) },
			OnNotification: func(method string, _ json.RawMessage) { logging.Debug("registry", "backend %s: notification %s", cfg.ID, method) },
		},
	})

	r.mu.Lock()
	r.entries[cfg.ID] = e
	r.order = append(r.order, cfg.ID)
	r.mu.Unlock()

	if cfg.LazyStart {
		logging.Info("registry", "backend %s registered (lazy start)", cfg.ID)
		return nil
	}

	if err := e.adapter.Start(ctx); err != nil {
		logging.Warn("registry", "backend %s: initial start failed, remaining unhealthy: %v", cfg.ID, err)
	}
	return nil
}

func buildTransport(cfg config.BackendConfig) (adapter.Transport, error) {
	switch cfg.Transport {
	case config.TransportChildProcess:
		if cfg.ChildProcess == nil {
			return nil, fmt.Errorf("child-process transport requires childProcess config")
		}
		return adapter.NewStdioTransport(cfg.ID, *cfg.ChildProcess), nil
	case config.TransportEventStream:
		if cfg.EventStream == nil {
			return nil, fmt.Errorf("event-stream transport requires eventStream config")
		}
		return adapter.NewSSETransport(cfg.ID, *cfg.EventStream), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// UnregisterServer stops the adapter and removes it from the registry.
func (r *Registry) UnregisterServer(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("backend %q not registered", id)
	}
	return e.adapter.Stop(ctx)
}

// GetAdapterEnsureStarted is the lazy-start hot path: if the backend's
// adapter is not currently connected, it is started first.
func (r *Registry) GetAdapterEnsureStarted(ctx context.Context, id string) (*adapter.BaseAdapter, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend %q not registered", id)
	}
	if !e.adapter.IsConnected() {
		if err := e.adapter.Start(ctx); err != nil {
			return nil, err
		}
	}
	return e.adapter, nil
}

// GetServerInfo returns the adapter for id without attempting to start it.
func (r *Registry) GetServerInfo(id string) (*adapter.BaseAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.adapter, true
}

// BackendIDs returns every registered backend identifier in registration
// order.
func (r *Registry) BackendIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// GetMergedCapabilities walks every adapter currently in healthy state and
// returns the ordered, origin-annotated catalog: registration order across
// backends, each backend's own order preserved within it.
func (r *Registry) GetMergedCapabilities() MergedCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var merged MergedCapabilities
	for _, id := range r.order {
		e := r.entries[id]
		if e.adapter.Health() != adapter.HealthHealthy {
			continue
		}
		caps := e.adapter.Capabilities()
		if caps == nil {
			continue
		}
		for _, t := range caps.Tools {
			merged.Tools = append(merged.Tools, NamedTool{BackendID: id, Tool: t})
		}
		for _, res := range caps.Resources {
			merged.Resources = append(merged.Resources, NamedResource{BackendID: id, Resource: res})
		}
		for _, p := range caps.Prompts {
			merged.Prompts = append(merged.Prompts, NamedPrompt{BackendID: id, Prompt: p})
		}
	}
	return merged
}

// StartHealthChecks installs a periodic probe: for every non-stopped
// adapter, it checks IsConnected and, if connected, sends a ping; any
// error, disconnection, or error reply flips the cached health to
// unhealthy and records the transition. Cancel ctx or call
// StopHealthChecks to halt the sweep.
func (r *Registry) StartHealthChecks(ctx context.Context, interval time.Duration) {
	sweepCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.healthCheckCancel = cancel
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				r.sweepOnce(sweepCtx)
			}
		}
	}()
}

// StopHealthChecks halts the periodic probe started by StartHealthChecks.
func (r *Registry) StopHealthChecks() {
	r.mu.Lock()
	cancel := r.healthCheckCancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Registry) sweepOnce(ctx context.Context) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		if e.adapter.Health() == adapter.HealthStopped {
			continue
		}
		if !e.adapter.IsConnected() {
			e.adapter.MarkUnhealthy()
			r.recordTransition(e.id, adapter.HealthUnhealthy)
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := e.adapter.Ping(pingCtx)
		cancel()
		if err != nil {
			logging.Warn("registry", "backend %s: health ping failed: %v", e.id, err)
			e.adapter.MarkUnhealthy()
			r.recordTransition(e.id, adapter.HealthUnhealthy)
		}
	}
}

// recordTransition appends to the capped transition history for id when
// the new state differs from the last recorded one.
func (r *Registry) recordTransition(id string, to adapter.Health) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	from := adapter.HealthStopped
	if len(e.transitions) > 0 {
		from = e.transitions[len(e.transitions)-1].To
	}
	if from == to {
		return
	}
	e.transitions = append(e.transitions, HealthTransition{From: from, To: to, At: time.Now()})
	if len(e.transitions) > maxTransitionHistory {
		e.transitions = e.transitions[len(e.transitions)-maxTransitionHistory:]
	}
	logging.Info("registry", "backend %s: health %s -> %s", id, from, to)
}

// Transitions returns a copy of the recorded health-transition history for
// id, oldest first.
func (r *Registry) Transitions(id string) []HealthTransition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	out := make([]HealthTransition, len(e.transitions))
	copy(out, e.transitions)
	return out
}

// Shutdown fans Stop out to every adapter concurrently, awaits all
// completions, then clears the registry.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.StopHealthChecks()

	r.mu.Lock()
	adapters := make([]*adapter.BaseAdapter, 0, len(r.entries))
	for _, e := range r.entries {
		adapters = append(adapters, e.adapter)
	}
	r.entries = make(map[string]*entry)
	r.order = nil
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			return a.Stop(gctx)
		})
	}
	return g.Wait()
}
