package adapter

import "context"

// Transport is the capability the base adapter needs from either
// implementation (child-process stdio or event-stream SSE): start the
// underlying connection, stop it, report whether it is currently usable,
// and write one framed outbound message. No dispatch beyond these four
// methods is needed — the base adapter owns everything above the wire.
type Transport interface {
	// Start establishes the connection (spawns the process, or opens the
	// event stream) and begins delivering inbound frames to onMessage.
	// It returns once the transport is ready to carry traffic, before the
	// MCP handshake runs.
	Start(ctx context.Context, onMessage func(line []byte), onLost func(err error)) error

	// Stop tears the connection down. It must be safe to call from any
	// state, including before Start or after the transport already died.
	Stop(ctx context.Context) error

	// IsConnected reports whether SendRaw would currently have a chance of
	// succeeding.
	IsConnected() bool

	// SendRaw writes one already-framed outbound message. Implementations
	// serialize concurrent callers themselves; the base adapter may call
	// SendRaw from multiple goroutines.
	SendRaw(ctx context.Context, payload []byte) error
}
