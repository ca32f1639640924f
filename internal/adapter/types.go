// Package adapter implements the federation engine's per-backend adapter:
// a transport-agnostic JSON-RPC client (request/reply correlation, retry
// supervisor, circuit breaker, MCP handshake) driven by one of two
// transports, child-process stdio or event-stream SSE.
package adapter

import (
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Health is the adapter's externally observable connection state.
type Health int

const (
	HealthStopped Health = iota
	HealthStarting
	HealthHealthy
	HealthUnhealthy
)

func (h Health) String() string {
	switch h {
	case HealthStopped:
		return "stopped"
	case HealthStarting:
		return "starting"
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Capabilities is the cached result of the MCP initialize handshake plus
// the three list calls.
type Capabilities struct {
	ServerInfo *mcp.Implementation
	Tools      []mcp.Tool
	Resources  []mcp.Resource
	Prompts    []mcp.Prompt
}

// Stats are the rolling statistics the registry and admin surfaces report
// for a single backend.
type Stats struct {
	TotalRequests   uint64
	TotalErrors     uint64
	LastRequestTime time.Time
	LastErrorTime   time.Time
	LastError       string
	AvgLatency      time.Duration
	StartedAt       time.Time
}

// statsTracker accumulates Stats under a mutex; adapters embed it rather
// than duplicating the bookkeeping in each transport.
type statsTracker struct {
	mu    sync.Mutex
	stats Stats
}

func (t *statsTracker) recordSuccess(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.TotalRequests++
	t.stats.LastRequestTime = time.Now()
	if t.stats.AvgLatency == 0 {
		t.stats.AvgLatency = latency
	} else {
		// Exponential moving average, alpha = 0.2.
		t.stats.AvgLatency = t.stats.AvgLatency + (latency-t.stats.AvgLatency)/5
	}
}

func (t *statsTracker) recordFailure(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.TotalRequests++
	t.stats.TotalErrors++
	t.stats.LastErrorTime = time.Now()
	t.stats.LastError = reason
}

func (t *statsTracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
