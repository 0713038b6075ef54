package channelpool

import (
	"context"
	"sync/atomic"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/metadata"
)

// fakeChannel is a Channel that never dials anything; tests drive its state
// and counters directly instead of exercising a real transport.
type fakeChannel struct {
	target string
	state  connectivity.State
	conn   grpc.ClientConnInterface

	shutdown   atomic.Bool
	terminated atomic.Bool
}

var _ Channel = (*fakeChannel)(nil)

func newFakeChannel(target string) *fakeChannel {
	return &fakeChannel{target: target, state: connectivity.Idle, conn: &fakeConn{}}
}

func (c *fakeChannel) Conn() grpc.ClientConnInterface { return c.conn }

func (c *fakeChannel) State(requestConnection bool) connectivity.State { return c.state }

func (c *fakeChannel) WaitForStateChange(ctx context.Context, sourceState connectivity.State) bool {
	return false
}

func (c *fakeChannel) Shutdown() error {
	c.shutdown.Store(true)
	c.terminated.Store(true)
	return nil
}

func (c *fakeChannel) ShutdownNow() error { return c.Shutdown() }

func (c *fakeChannel) IsShutdown() bool { return c.shutdown.Load() }

func (c *fakeChannel) IsTerminated() bool { return c.terminated.Load() }

func (c *fakeChannel) Target() string { return c.target }

// fakeConn is a minimal grpc.ClientConnInterface stand-in so call.go's
// Invoke/NewStream can be exercised without a real transport.
type fakeConn struct {
	invoke    func(ctx context.Context, method string, args, reply any) error
	newStream func(ctx context.Context, method string) (grpc.ClientStream, error)
}

var _ grpc.ClientConnInterface = (*fakeConn)(nil)

func (c *fakeConn) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	if c.invoke == nil {
		return nil
	}
	return c.invoke(ctx, method, args, reply)
}

func (c *fakeConn) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	if c.newStream == nil {
		return &fakeClientStream{}, nil
	}
	return c.newStream(ctx, method)
}

// fakeClientStream is a no-op grpc.ClientStream; tests that need to observe
// sent/received messages set sendFn/recvFn directly.
type fakeClientStream struct {
	sendFn func(m any) error
	recvFn func(m any) error
}

var _ grpc.ClientStream = (*fakeClientStream)(nil)

func (s *fakeClientStream) Header() (metadata.MD, error) { return nil, nil }
func (s *fakeClientStream) Trailer() metadata.MD         { return nil }
func (s *fakeClientStream) CloseSend() error             { return nil }
func (s *fakeClientStream) Context() context.Context     { return context.Background() }
func (s *fakeClientStream) SendMsg(m any) error {
	if s.sendFn == nil {
		return nil
	}
	return s.sendFn(m)
}
func (s *fakeClientStream) RecvMsg(m any) error {
	if s.recvFn == nil {
		return nil
	}
	return s.recvFn(m)
}

// fakeBuilder counts how many channels it has built, so tests can assert on
// pool growth without a real dial target.
type fakeBuilder struct {
	built atomic.Int64
}

func (b *fakeBuilder) Build(ctx context.Context) (Channel, error) {
	b.built.Add(1)
	return newFakeChannel("fake"), nil
}

// newTestPool builds a pool over a fakeBuilder with the given options, for
// tests that don't care about any particular target or real dial.
func newTestPool(t *testing.T, opts ...Option) (*ChannelPool, *fakeBuilder) {
	t.Helper()
	b := &fakeBuilder{}
	p, err := New(context.Background(), b, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, b
}

// setStreams forces a ChannelRef's active_streams counter to an arbitrary
// value, including negative ones — some tests pre-populate refs at
// active_streams == -1 directly, bypassing the floor-at-zero decrement path.
func setStreams(ref *ChannelRef, n int64) {
	atomic.StoreInt64(&ref.activeStreams, n)
}

// appendRef appends a ChannelRef built over a fresh fakeChannel directly onto
// the pool's channel list, without going through pick/newChannelLocked, so
// tests can pre-populate exact ids and stream counts.
func appendRef(p *ChannelPool, streams int64) *ChannelRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref := newChannelRef(p.nextID, newFakeChannel("fake"))
	p.nextID++
	setStreams(ref, streams)
	p.channels = append(p.channels, ref)
	return ref
}
