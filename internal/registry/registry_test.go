package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"mcpgateway/internal/adapter"
	"mcpgateway/internal/config"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The registry's own test suite can't construct a *BaseAdapter from a fake
// transport without going through a real backend config, since adapter
// construction is internal to RegisterServer. Instead these tests drive the
// registry against "cat", exercising the full stdio transport the same way
// the adapter package's own tests do, keeping registry tests focused on
// registry behavior layered on top of a real (if trivial) adapter.

func catBackend(id string) config.BackendConfig {
	return config.BackendConfig{
		ID:             id,
		Transport:      config.TransportChildProcess,
		RequestTimeout: 150 * time.Millisecond,
		ChildProcess:   &config.ChildProcessConfig{Command: "cat"},
	}
}

func TestRegistry_RegisterServerStartsEagerly(t *testing.T) {
	r := New()
	err := r.RegisterServer(context.Background(), catBackend("fs"))
	require.NoError(t, err)

	a, ok := r.GetServerInfo("fs")
	require.True(t, ok)
	// cat never replies to a handshake, so the synchronous start fails and
	// the adapter stays registered but unhealthy — it must not be absent.
	assert.NotNil(t, a)
	assert.Equal(t, adapter.HealthUnhealthy, a.Health(), "a start must have been attempted at registration")
}

func TestRegistry_LazyStartDoesNotConnectImmediately(t *testing.T) {
	r := New()
	cfg := catBackend("fs")
	cfg.LazyStart = true
	require.NoError(t, r.RegisterServer(context.Background(), cfg))

	a, ok := r.GetServerInfo("fs")
	require.True(t, ok)
	assert.Equal(t, adapter.HealthStopped, a.Health())
}

func TestRegistry_DuplicateRegistrationRejected(t *testing.T) {
	r := New()
	cfg := catBackend("fs")
	cfg.LazyStart = true
	require.NoError(t, r.RegisterServer(context.Background(), cfg))
	err := r.RegisterServer(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRegistry_UnregisterRemovesBackend(t *testing.T) {
	r := New()
	cfg := catBackend("fs")
	cfg.LazyStart = true
	require.NoError(t, r.RegisterServer(context.Background(), cfg))

	require.NoError(t, r.UnregisterServer(context.Background(), "fs"))
	_, ok := r.GetServerInfo("fs")
	assert.False(t, ok)
}

func TestRegistry_MergedCapabilitiesSkipUnhealthy(t *testing.T) {
	r := New()
	cfg := catBackend("fs")
	cfg.LazyStart = true
	require.NoError(t, r.RegisterServer(context.Background(), cfg))

	merged := r.GetMergedCapabilities()
	assert.Empty(t, merged.Tools, "an adapter that never completed a handshake contributes nothing")
}

func TestRegistry_BackendIDsPreserveRegistrationOrder(t *testing.T) {
	r := New()
	for _, id := range []string{"alpha", "beta", "gamma"} {
		cfg := catBackend(id)
		cfg.LazyStart = true
		require.NoError(t, r.RegisterServer(context.Background(), cfg))
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, r.BackendIDs())
}

func TestRegistry_ShutdownStopsAllConcurrently(t *testing.T) {
	r := New()
	for _, id := range []string{"one", "two", "three"} {
		cfg := catBackend(id)
		require.NoError(t, r.RegisterServer(context.Background(), cfg))
	}

	require.NoError(t, r.Shutdown(context.Background()))
	assert.Empty(t, r.BackendIDs())
}

func TestRegistry_HealthSweepFlipsDisconnectedToUnhealthy(t *testing.T) {
	r := New()
	// Eager start: cat fails the handshake, leaving a non-stopped,
	// disconnected adapter. The sweep skips stopped (never-started) ones.
	cfg := catBackend("fs")
	require.NoError(t, r.RegisterServer(context.Background(), cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartHealthChecks(ctx, 10*time.Millisecond)
	defer r.StopHealthChecks()

	time.Sleep(50 * time.Millisecond)

	a, ok := r.GetServerInfo("fs")
	require.True(t, ok)
	assert.Equal(t, adapter.HealthUnhealthy, a.Health(), "sweepOnce must call MarkUnhealthy, not just log, for a disconnected adapter")

	transitions := r.Transitions("fs")
	require.NotEmpty(t, transitions, "the sweep must record the transition")
	for _, tr := range transitions {
		assert.Equal(t, adapter.HealthUnhealthy, tr.To)
	}
}

func TestRegistry_GetAdapterEnsureStartedLazyStarts(t *testing.T) {
	r := New()
	cfg := catBackend("fs")
	cfg.LazyStart = true
	cfg.RequestTimeout = 200 * time.Millisecond
	require.NoError(t, r.RegisterServer(context.Background(), cfg))

	before, _ := r.GetServerInfo("fs")
	assert.Equal(t, adapter.HealthStopped, before.Health())

	// cat cannot answer the MCP handshake, so this returns an error, but
	// the important property under test is that a Start attempt is made
	// rather than the call being served from a never-started adapter.
	_, err := r.GetAdapterEnsureStarted(context.Background(), "fs")
	assert.Error(t, err)
}

func TestRegistry_NamedCapabilityShapes(t *testing.T) {
	// Exercises the annotation types directly since a healthy merged
	// result requires a full handshake partner; this documents and locks
	// the shape the router depends on.
	nt := NamedTool{BackendID: "fs", Tool: mcp.Tool{Name: "read_file"}}
	assert.Equal(t, "fs", nt.BackendID)
	assert.Equal(t, "read_file", nt.Tool.Name)
}

func TestRegistry_UnregisterUnknownBackendErrors(t *testing.T) {
	r := New()
	err := r.UnregisterServer(context.Background(), "missing")
	assert.Error(t, err)
}

func TestRegistry_ConcurrentRegisterIsSafe(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg := catBackend(idFor(i))
			cfg.LazyStart = true
			_ = r.RegisterServer(context.Background(), cfg)
		}()
	}
	wg.Wait()
	assert.Len(t, r.BackendIDs(), 10)
}

func idFor(i int) string {
	return fmt.Sprintf("backend-%d", i)
}
