package channelpool

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ChannelPool satisfies grpc.ClientConnInterface, so a generated gRPC client
// stub can be constructed directly on top of a *ChannelPool wherever it
// would otherwise take a *grpc.ClientConn — calling through the pool picks a
// channel and drives the affinity state machine transparently.
var _ grpc.ClientConnInterface = (*ChannelPool)(nil)

// Invoke implements the Call Wrapper for unary calls: select a channel
// (affinity-aware or least-loaded), bump its stream counter for the
// lifetime of the call, run the underlying invocation unchanged, then
// perform whatever bind/unbind the method's AffinityConfig calls for.
func (p *ChannelPool) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	cfg, hasCfg := p.MethodAffinityFor(method)

	var key string
	var ref *ChannelRef
	var err error

	switch {
	case !hasCfg || cfg.Command == CommandNone:
		ref, err = p.pick(ctx, "")
	case cfg.Command == CommandBound || cfg.Command == CommandUnbind:
		if msg, ok := p.adaptMessage(args); ok {
			key, _ = KeyExtractor(msg, cfg.KeyPath)
		}
		ref, err = p.pick(ctx, key)
	case cfg.Command == CommandBind:
		// The binding is established from the response; the request itself
		// is routed by the unkeyed policy.
		ref, err = p.pick(ctx, "")
	}
	if err != nil {
		return err
	}

	ref.incrStreams()
	p.instr.recordStreamStart(ref)
	defer func() {
		ref.decrStreams()
		p.instr.recordStreamEnd(ref)
		if hasCfg && cfg.Command == CommandUnbind && key != "" {
			p.registry.Unbind(key)
		}
	}()

	ctx, span := p.instr.startSpan(ctx, method)
	defer span.end()

	invokeErr := ref.Channel().Conn().Invoke(ctx, method, args, reply, opts...)
	span.recordErr(invokeErr)

	if invokeErr == nil && hasCfg && cfg.Command == CommandBind {
		if msg, ok := p.adaptMessage(reply); ok {
			if k, ok2 := KeyExtractor(msg, cfg.KeyPath); ok2 && k != "" {
				p.registry.Bind(ref, k)
				p.instr.recordBind(ref)
			}
		}
	}

	return invokeErr
}

// NewStream implements the Call Wrapper for streaming calls. Channel
// selection cannot happen until the first request message is available
// (for BOUND/UNBIND, the affinity key lives in that first message), so
// actual stream creation is deferred to the first SendMsg — the same
// condvar-gated pattern the grpc-gcp reference interceptor uses.
func (p *ChannelPool) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	cfg, hasCfg := p.MethodAffinityFor(method)
	cs := &pooledClientStream{
		pool:   p,
		ctx:    ctx,
		desc:   desc,
		method: method,
		opts:   opts,
		cfg:    cfg,
		hasCfg: hasCfg,
	}
	cs.cond = sync.NewCond(&cs.mu)
	return cs, nil
}

// pooledClientStream defers real stream creation until the first SendMsg so
// request-based affinity routing (BOUND/UNBIND) can see the request key.
type pooledClientStream struct {
	mu   sync.Mutex
	cond *sync.Cond

	pool   *ChannelPool
	ctx    context.Context
	desc   *grpc.StreamDesc
	method string
	opts   []grpc.CallOption
	cfg    AffinityConfig
	hasCfg bool

	started bool
	initErr error
	real    grpc.ClientStream
	ref     *ChannelRef
	key     string

	terminalOnce sync.Once
}

var _ grpc.ClientStream = (*pooledClientStream)(nil)

func (cs *pooledClientStream) SendMsg(m any) error {
	cs.mu.Lock()
	if !cs.started {
		cs.initLocked(m)
	}
	real, err := cs.real, cs.initErr
	cs.mu.Unlock()
	cs.cond.Broadcast()
	if err != nil {
		return err
	}
	return real.SendMsg(m)
}

// initLocked picks a channel, opens the real stream, and wires the terminal
// bookkeeping. Called once, with cs.mu held.
func (cs *pooledClientStream) initLocked(firstReq any) {
	defer func() { cs.started = true }()

	routedByRequest := cs.hasCfg && (cs.cfg.Command == CommandBound || cs.cfg.Command == CommandUnbind)
	if routedByRequest {
		if msg, ok := cs.pool.adaptMessage(firstReq); ok {
			cs.key, _ = KeyExtractor(msg, cs.cfg.KeyPath)
		}
	}

	ref, err := cs.pool.pick(cs.ctx, cs.key)
	if err != nil {
		cs.initErr = err
		return
	}

	real, err := ref.Channel().Conn().NewStream(cs.ctx, cs.desc, cs.method, cs.opts...)
	if err != nil {
		cs.initErr = err
		return
	}

	cs.ref = ref
	cs.real = real
	ref.incrStreams()
	cs.pool.instr.recordStreamStart(ref)

	go func() {
		<-cs.ctx.Done()
		cs.terminal()
	}()
}

// terminal runs the call's terminal-event bookkeeping exactly once:
// decrement active_streams, and for UNBIND, release the binding established
// by the request key.
func (cs *pooledClientStream) terminal() {
	cs.terminalOnce.Do(func() {
		if cs.ref == nil {
			return
		}
		cs.ref.decrStreams()
		cs.pool.instr.recordStreamEnd(cs.ref)
		if cs.hasCfg && cs.cfg.Command == CommandUnbind && cs.key != "" {
			cs.pool.registry.Unbind(cs.key)
		}
	})
}

func (cs *pooledClientStream) waitReal() (grpc.ClientStream, error) {
	cs.mu.Lock()
	for !cs.started {
		cs.cond.Wait()
	}
	real, err := cs.real, cs.initErr
	cs.mu.Unlock()
	return real, err
}

func (cs *pooledClientStream) RecvMsg(m any) error {
	real, err := cs.waitReal()
	if err != nil {
		return err
	}
	recvErr := real.RecvMsg(m)
	if recvErr != nil {
		cs.terminal()
		return recvErr
	}

	// Bind on every response for a server-streaming method (each message is
	// a fresh reply); for a single-reply method (client-streaming or plain
	// unary-equivalent, e.g. the generated CloseAndRecv() pattern that calls
	// RecvMsg exactly once) this response is also the terminal event, since
	// no further message will ever arrive on this stream.
	if cs.hasCfg && cs.cfg.Command == CommandBind {
		if msg, ok := cs.pool.adaptMessage(m); ok {
			if k, ok2 := KeyExtractor(msg, cs.cfg.KeyPath); ok2 && k != "" {
				cs.pool.registry.Bind(cs.ref, k)
				cs.pool.instr.recordBind(cs.ref)
			}
		}
	}

	if !cs.desc.ServerStreams {
		cs.terminal()
	}
	return nil
}

func (cs *pooledClientStream) Header() (metadata.MD, error) {
	real, err := cs.waitReal()
	if err != nil {
		return nil, err
	}
	return real.Header()
}

func (cs *pooledClientStream) Trailer() metadata.MD {
	real, err := cs.waitReal()
	if err != nil {
		return nil
	}
	return real.Trailer()
}

func (cs *pooledClientStream) CloseSend() error {
	real, err := cs.waitReal()
	if err != nil {
		return err
	}
	return real.CloseSend()
}

func (cs *pooledClientStream) Context() context.Context {
	return cs.ctx
}
