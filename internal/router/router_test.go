package router

import (
	"context"
	"testing"

	"mcpgateway/internal/adapter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeName_RoundTrips(t *testing.T) {
	key := EncodeName("fs", "read_file")
	assert.Equal(t, "fs__read_file", key)

	id, name, err := DecodeName(key)
	require.NoError(t, err)
	assert.Equal(t, "fs", id)
	assert.Equal(t, "read_file", name)
}

func TestDecodeName_RejectsUnparseable(t *testing.T) {
	cases := []string{"", "noseparator", "__onlyname", "backend__", "__"}
	for _, c := range cases {
		_, _, err := DecodeName(c)
		assert.ErrorIs(t, err, ErrUnparseable, "input %q", c)
	}
}

func TestEncodeDecodeURI_RoundTrips(t *testing.T) {
	key := EncodeURI("fs", "file:///tmp/a.txt")
	assert.Equal(t, "fs://file:///tmp/a.txt", key)

	id, uri, err := DecodeURI(key)
	require.NoError(t, err)
	assert.Equal(t, "fs", id)
	assert.Equal(t, "file:///tmp/a.txt", uri)
}

func TestDecodeURI_RejectsUnparseable(t *testing.T) {
	cases := []string{"", "nope", "fs://", "://missing-id"}
	for _, c := range cases {
		_, _, err := DecodeURI(c)
		assert.ErrorIs(t, err, ErrUnparseable, "input %q", c)
	}
}

// fakeRegistry implements router.Registry for tests without pulling in the
// full registry package (which would require a real or stdio-backed
// adapter); it hands back adapters constructed directly over a no-op
// transport the test controls.
type fakeRegistry struct {
	adapters map[string]*adapter.BaseAdapter
	err      error
}

func (f *fakeRegistry) GetAdapterEnsureStarted(ctx context.Context, backendID string) (*adapter.BaseAdapter, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.adapters[backendID]
	if !ok {
		return nil, assertUnknownBackend(backendID)
	}
	return a, nil
}

func assertUnknownBackend(id string) error {
	return &unknownBackendErr{id: id}
}

type unknownBackendErr struct{ id string }

func (e *unknownBackendErr) Error() string { return "unknown backend " + e.id }

func TestRouteToolCall_UnparseableNameRejected(t *testing.T) {
	rt := New(&fakeRegistry{adapters: map[string]*adapter.BaseAdapter{}})
	_, err := rt.RouteToolCall(context.Background(), "not-namespaced", nil)
	assert.Error(t, err)
}

func TestRouteToolCall_UnknownBackendIsPolicyError(t *testing.T) {
	rt := New(&fakeRegistry{adapters: map[string]*adapter.BaseAdapter{}})
	_, err := rt.RouteToolCall(context.Background(), "missing__x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not healthy")
}

func TestRouteResourceRead_UnparseableURIRejected(t *testing.T) {
	rt := New(&fakeRegistry{})
	_, err := rt.RouteResourceRead(context.Background(), "not-a-uri")
	assert.Error(t, err)
}

func TestRoutePromptGet_UnparseableNameRejected(t *testing.T) {
	rt := New(&fakeRegistry{})
	_, err := rt.RoutePromptGet(context.Background(), "nosep", nil)
	assert.Error(t, err)
}
