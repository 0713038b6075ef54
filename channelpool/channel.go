package channelpool

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// Channel is the external collaborator a ChannelRef wraps. Dialing, TLS
// negotiation and HTTP/2 framing are out of this package's scope — a
// Channel is whatever the ChannelBuilder hands back, and the pool only
// ever calls the methods below on it.
type Channel interface {
	// Conn exposes the invocation surface RPC call mechanics use. It is
	// typed as grpc.ClientConnInterface so generated service clients accept
	// it directly wherever a *grpc.ClientConn would otherwise be required.
	Conn() grpc.ClientConnInterface

	// State reports connectivity in grpc's own vocabulary; requestConnection
	// asks the channel to try connecting if it is currently Idle.
	State(requestConnection bool) connectivity.State

	// WaitForStateChange blocks until State() differs from sourceState or ctx
	// is done, returning false in the latter case.
	WaitForStateChange(ctx context.Context, sourceState connectivity.State) bool

	// Shutdown and ShutdownNow both release the channel; ShutdownNow is for
	// callers that don't want to wait out any graceful-drain behavior the
	// concrete Channel implementation might otherwise attempt. Both must be
	// idempotent.
	Shutdown() error
	ShutdownNow() error

	// IsShutdown reports whether Shutdown or ShutdownNow has been called.
	IsShutdown() bool
	// IsTerminated reports whether the channel has fully released its
	// resources (its connectivity state is Shutdown).
	IsTerminated() bool

	// Target returns the dial target, surfaced by ChannelPool.Authority.
	Target() string
}

// ChannelBuilder constructs a new Channel on demand. The pool calls Build
// lazily, never more than max_size times, and assumes it is non-blocking
// for initial construction — it dials, it does not wait for the connection
// to become ready.
type ChannelBuilder interface {
	Build(ctx context.Context) (Channel, error)
}

// ChannelBuilderFunc adapts a function to a ChannelBuilder.
type ChannelBuilderFunc func(ctx context.Context) (Channel, error)

func (f ChannelBuilderFunc) Build(ctx context.Context) (Channel, error) { return f(ctx) }
