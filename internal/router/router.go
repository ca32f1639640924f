// Package router implements the gateway's namespacing convention: encoding
// a backend identifier together with a tool/prompt name or resource URI
// into one opaque catalog key, decoding that key back into its parts, and
// dispatching a parsed call to the backend's adapter through the registry.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"mcpgateway/internal/adapter"
	"mcpgateway/internal/gatewayerr"
	"mcpgateway/internal/jsonrpc"
)

// nameSeparator joins a backend id to an opaque tool/prompt name. Two
// underscores are reserved by this convention and must never appear inside
// a backend identifier — config.ValidateBackendConfig rejects any id
// containing "__" or ending in "_" at admission time, which is what makes
// DecodeName's first-match split unambiguous.
const nameSeparator = "__"

var uriPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*)://(.+)$`)

// ErrUnparseable is returned when a namespaced key does not match either
// encoding scheme.
var ErrUnparseable = fmt.Errorf("unparseable namespaced identifier")

// EncodeName builds the namespaced key for a tool or prompt.
func EncodeName(backendID, name string) string {
	return backendID + nameSeparator + name
}

// DecodeName splits a namespaced tool/prompt key back into backend id and
// original name. Both halves must be non-empty.
func DecodeName(namespaced string) (backendID, name string, err error) {
	idx := strings.Index(namespaced, nameSeparator)
	if idx <= 0 || idx+len(nameSeparator) >= len(namespaced) {
		return "", "", ErrUnparseable
	}
	return namespaced[:idx], namespaced[idx+len(nameSeparator):], nil
}

// EncodeURI builds the namespaced key for a resource, preserving the
// backend's original URI verbatim after the scheme-style prefix.
func EncodeURI(backendID, uri string) string {
	return backendID + "://" + uri
}

// DecodeURI splits a namespaced resource URI back into backend id and
// original URI. Both halves must be non-empty.
func DecodeURI(namespaced string) (backendID, uri string, err error) {
	m := uriPattern.FindStringSubmatch(namespaced)
	if m == nil {
		return "", "", ErrUnparseable
	}
	return m[1], m[2], nil
}

// Registry is the subset of registry.Registry the router needs: resolving
// a backend id to its adapter, lazy-starting it if necessary.
type Registry interface {
	GetAdapterEnsureStarted(ctx context.Context, backendID string) (*adapter.BaseAdapter, error)
}

// Router parses namespaced catalog keys and forwards the unprefixed call to
// the owning backend's adapter.
type Router struct {
	registry Registry
}

// New constructs a Router over the given registry.
func New(reg Registry) *Router {
	return &Router{registry: reg}
}

// RouteToolCall parses a namespaced tool name, resolves its backend
// (lazy-starting if needed), and forwards "tools/call" with the original
// unprefixed name and the caller's arguments. The backend's reply is
// returned verbatim.
func (rt *Router) RouteToolCall(ctx context.Context, namespacedName string, arguments json.RawMessage) (*jsonrpc.Response, error) {
	backendID, name, err := DecodeName(namespacedName)
	if err != nil {
		return nil, &gatewayerr.ProtocolError{Code: gatewayerr.CodeInvalidParams, Message: fmt.Sprintf("tool name %q is unparseable", namespacedName)}
	}
	a, err := rt.resolve(ctx, backendID)
	if err != nil {
		return nil, err
	}
	return a.SendRequest(ctx, "tools/call", toolCallParams{Name: name, Arguments: arguments})
}

// RouteResourceRead parses a namespaced resource URI and forwards
// "resources/read" with the original unprefixed URI.
func (rt *Router) RouteResourceRead(ctx context.Context, namespacedURI string) (*jsonrpc.Response, error) {
	backendID, uri, err := DecodeURI(namespacedURI)
	if err != nil {
		return nil, &gatewayerr.ProtocolError{Code: gatewayerr.CodeInvalidParams, Message: fmt.Sprintf("resource uri %q is unparseable", namespacedURI)}
	}
	a, err := rt.resolve(ctx, backendID)
	if err != nil {
		return nil, err
	}
	return a.SendRequest(ctx, "resources/read", resourceReadParams{URI: uri})
}

// RoutePromptGet parses a namespaced prompt name and forwards
// "prompts/get" with the original unprefixed name and the caller's
// arguments.
func (rt *Router) RoutePromptGet(ctx context.Context, namespacedName string, arguments json.RawMessage) (*jsonrpc.Response, error) {
	backendID, name, err := DecodeName(namespacedName)
	if err != nil {
		return nil, &gatewayerr.ProtocolError{Code: gatewayerr.CodeInvalidParams, Message: fmt.Sprintf("prompt name %q is unparseable", namespacedName)}
	}
	a, err := rt.resolve(ctx, backendID)
	if err != nil {
		return nil, err
	}
	return a.SendRequest(ctx, "prompts/get", promptGetParams{Name: name, Arguments: arguments})
}

func (rt *Router) resolve(ctx context.Context, backendID string) (*adapter.BaseAdapter, error) {
	a, err := rt.registry.GetAdapterEnsureStarted(ctx, backendID)
	if err != nil {
		return nil, &gatewayerr.PolicyError{BackendID: backendID, Reason: "server not healthy"}
	}
	if a.Health() != adapter.HealthHealthy {
		return nil, &gatewayerr.PolicyError{BackendID: backendID, Reason: "server not healthy"}
	}
	return a, nil
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

type promptGetParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
