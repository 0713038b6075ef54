package channelpool

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// grpcChannel is the default Channel implementation, backed by a real
// *grpc.ClientConn. Dialing/TLS/HTTP2 framing is entirely grpc.NewClient's
// concern; this type only adapts its lifecycle surface to the Channel
// interface the pool depends on.
type grpcChannel struct {
	target string
	cc     *grpc.ClientConn

	shutdownCalled atomic.Bool
}

var _ Channel = (*grpcChannel)(nil)

// DialBuilder returns a ChannelBuilder that dials target with opts on every
// Build call, plus an otelgrpc stats handler so every channel the pool
// grows into is traced/metriced the same way out of the box. Callers that
// need a custom transport (TLS creds, interceptors, a different stats
// handler) should pass their own grpc.DialOption values; this builder never
// overrides an explicit grpc.WithStatsHandler.
func DialBuilder(target string, opts ...grpc.DialOption) ChannelBuilder {
	return ChannelBuilderFunc(func(ctx context.Context) (Channel, error) {
		dialOpts := append([]grpc.DialOption{grpc.WithStatsHandler(otelgrpc.NewClientHandler())}, opts...)
		cc, err := grpc.NewClient(target, dialOpts...)
		if err != nil {
			return nil, err
		}
		return &grpcChannel{target: target, cc: cc}, nil
	})
}

// WrapClientConn adapts an already-dialed *grpc.ClientConn into a Channel,
// for callers that manage dial options themselves but still want the
// affinity pool's selection and bookkeeping.
func WrapClientConn(target string, cc *grpc.ClientConn) Channel {
	return &grpcChannel{target: target, cc: cc}
}

func (c *grpcChannel) Conn() grpc.ClientConnInterface { return c.cc }

func (c *grpcChannel) State(requestConnection bool) connectivity.State {
	state := c.cc.GetState()
	if requestConnection && state == connectivity.Idle {
		c.cc.Connect()
	}
	return state
}

func (c *grpcChannel) WaitForStateChange(ctx context.Context, sourceState connectivity.State) bool {
	return c.cc.WaitForStateChange(ctx, sourceState)
}

func (c *grpcChannel) Shutdown() error {
	c.shutdownCalled.Store(true)
	return c.cc.Close()
}

func (c *grpcChannel) ShutdownNow() error {
	c.shutdownCalled.Store(true)
	return c.cc.Close()
}

func (c *grpcChannel) Target() string { return c.target }

func (c *grpcChannel) IsShutdown() bool { return c.shutdownCalled.Load() }

func (c *grpcChannel) IsTerminated() bool {
	return c.shutdownCalled.Load() && c.cc.GetState() == connectivity.Shutdown
}
