package channelpool

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/connectivity"
)

const (
	// DefaultMaxSize is the pool capacity cap when unconfigured.
	DefaultMaxSize = 10
	// DefaultLowWatermark is the per-channel stream threshold that triggers
	// growth when unconfigured.
	DefaultLowWatermark = 100
)

// Limits are the two pool-wide knobs the config document names: the
// capacity cap and the per-channel growth threshold.
type Limits struct {
	MaxSize      int
	LowWatermark int
}

// ChannelPool owns a bounded, ordered list of ChannelRefs and implements the
// selection policy, aggregate lifecycle and aggregate connectivity state
// described in the design. It also satisfies grpc.ClientConnInterface (see
// call.go) so generated service clients can use a *ChannelPool exactly as
// they would a *grpc.ClientConn — that is this package's call-site API.
type ChannelPool struct {
	// "pool lock": guards channels, nextID and limits. Per-channel
	// active_streams counters are atomics and are updated without it.
	mu       sync.Mutex
	channels []*ChannelRef
	nextID   int
	limits   Limits

	builder  ChannelBuilder
	registry *AffinityRegistry

	// affinityTable is read on every call and swapped wholesale on config
	// reload (see config.go); atomic.Pointer avoids taking the pool lock on
	// the hot path just to read it.
	affinityTable atomic.Pointer[MethodAffinityTable]

	logger *slog.Logger
	instr  *Instrumentation

	msgAdapter MessageAdapter

	shutdownCalled atomic.Bool
}

// Option configures a ChannelPool at construction time.
type Option func(*ChannelPool)

// WithLimits overrides the default MaxSize/LowWatermark. Zero fields keep
// their default — a config entry only overrides what it actually sets.
func WithLimits(l Limits) Option {
	return func(p *ChannelPool) {
		if l.MaxSize > 0 {
			p.limits.MaxSize = l.MaxSize
		}
		if l.LowWatermark > 0 {
			p.limits.LowWatermark = l.LowWatermark
		}
	}
}

// WithMethodAffinity installs the static method -> AffinityConfig table.
func WithMethodAffinity(table MethodAffinityTable) Option {
	return func(p *ChannelPool) {
		if table == nil {
			table = MethodAffinityTable{}
		}
		p.affinityTable.Store(&table)
	}
}

// WithLogger overrides the pool's *slog.Logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(p *ChannelPool) { p.logger = l }
}

// WithInstrumentation wires OTel metrics/tracing (see instrumentation.go).
// Omitting it leaves the pool fully functional with no-op instrumentation.
func WithInstrumentation(i *Instrumentation) Option {
	return func(p *ChannelPool) { p.instr = i }
}

// MessageAdapter adapts a call's request/reply value (as handed to
// grpc.ClientConnInterface.Invoke/NewStream) into the representation-
// agnostic Message KeyExtractor understands. The default adapter only
// handles values that already implement Message directly; callers working
// with real protobuf types should pass protoadapter.Adapter.
type MessageAdapter func(v any) (Message, bool)

func defaultMessageAdapter(v any) (Message, bool) {
	m, ok := v.(Message)
	return m, ok
}

// WithMessageAdapter overrides how call.go extracts a Message from a call's
// request/reply values before running KeyExtractor against it.
func WithMessageAdapter(a MessageAdapter) Option {
	return func(p *ChannelPool) { p.msgAdapter = a }
}

func (p *ChannelPool) adaptMessage(v any) (Message, bool) {
	if v == nil {
		return nil, false
	}
	return p.msgAdapter(v)
}

// New constructs a ChannelPool, eagerly dialing exactly one channel so the
// pool never starts out empty.
func New(ctx context.Context, builder ChannelBuilder, opts ...Option) (*ChannelPool, error) {
	p := &ChannelPool{
		builder:    builder,
		registry:   newAffinityRegistry(),
		limits:     Limits{MaxSize: DefaultMaxSize, LowWatermark: DefaultLowWatermark},
		logger:     slog.Default(),
		msgAdapter: defaultMessageAdapter,
	}
	emptyTable := MethodAffinityTable{}
	p.affinityTable.Store(&emptyTable)

	for _, opt := range opts {
		opt(p)
	}
	if p.instr == nil {
		p.instr = noopInstrumentation()
	}

	ref, err := p.newChannelLocked(ctx)
	if err != nil {
		return nil, err
	}
	p.channels = append(p.channels, ref)
	return p, nil
}

// newChannelLocked dials a new channel and assigns it the next id. Callers
// hold (or are establishing, at construction time) the pool lock.
func (p *ChannelPool) newChannelLocked(ctx context.Context) (*ChannelRef, error) {
	ch, err := p.builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	id := p.nextID
	p.nextID++
	return newChannelRef(id, ch), nil
}

func (p *ChannelPool) methodAffinity() MethodAffinityTable {
	t := p.affinityTable.Load()
	if t == nil {
		return MethodAffinityTable{}
	}
	return *t
}

// MethodAffinityFor looks up the AffinityConfig for method, the first step
// in deciding how a call routes.
func (p *ChannelPool) MethodAffinityFor(method string) (AffinityConfig, bool) {
	return p.methodAffinity().Lookup(method)
}

// pick implements the selection policy:
//  1. a non-empty key with a registered binding returns that binding
//     directly, even if stale (the underlying channel surfaces its own
//     failure; the pool never second-guesses it);
//  2. otherwise, the least-loaded channel is returned if it's under the low
//     watermark;
//  3. otherwise, a new channel is grown if the pool has room;
//  4. otherwise, the least-loaded channel is returned anyway (saturation).
func (p *ChannelPool) pick(ctx context.Context, key string) (*ChannelRef, error) {
	if key != "" {
		if ref, ok := p.registry.Lookup(key); ok {
			return ref, nil
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.channels) == 0 {
		ref, err := p.newChannelLocked(ctx)
		if err != nil {
			return nil, err
		}
		p.channels = append(p.channels, ref)
		return ref, nil
	}

	sorted := append([]*ChannelRef(nil), p.channels...)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].Streams(), sorted[j].Streams()
		if si != sj {
			return si < sj
		}
		return sorted[i].ID() < sorted[j].ID()
	})
	p.channels = sorted

	least := sorted[0]
	if least.Streams() < int64(p.limits.LowWatermark) {
		return least, nil
	}

	if len(p.channels) < p.limits.MaxSize {
		ref, err := p.newChannelLocked(ctx)
		if err != nil {
			p.logger.Warn("CHANNEL_GROWTH_FAILED", slog.Any("err", err))
			return least, nil
		}
		p.channels = append(p.channels, ref)
		return ref, nil
	}

	return least, nil
}

// Pick exposes pick for callers that want to choose a channel without going
// through the full call lifecycle (e.g. tests exercising the selection
// policy directly).
func (p *ChannelPool) Pick(ctx context.Context, key string) (*ChannelRef, error) {
	return p.pick(ctx, key)
}

// Registry exposes the AffinityRegistry for direct bind/unbind access, used
// by the Call Wrapper (call.go) and tests.
func (p *ChannelPool) Registry() *AffinityRegistry { return p.registry }

// NumberOfChannels returns the current channel count.
func (p *ChannelPool) NumberOfChannels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.channels)
}

// MaxSize returns the configured capacity cap.
func (p *ChannelPool) MaxSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limits.MaxSize
}

// StreamsLowWatermark returns the configured growth threshold.
func (p *ChannelPool) StreamsLowWatermark() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limits.LowWatermark
}

// Authority delegates to the first channel; the pool exists only after at
// least one channel is created, so this is always safe.
func (p *ChannelPool) Authority() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[0].Channel().Target()
}

// snapshot returns the current channel list without holding the lock past
// the copy, so callers can call into each Channel (which may itself take
// time) without blocking pick/Invoke/NewStream.
func (p *ChannelPool) snapshot() []*ChannelRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*ChannelRef(nil), p.channels...)
}

// Shutdown invokes Shutdown on every member channel and returns immediately.
// Idempotent.
func (p *ChannelPool) Shutdown() {
	p.shutdownCalled.Store(true)
	for _, ref := range p.snapshot() {
		if err := ref.Channel().Shutdown(); err != nil {
			p.logger.Warn("CHANNEL_SHUTDOWN_FAILED", slog.Int("channel_id", ref.ID()), slog.Any("err", err))
		}
	}
}

// ShutdownNow invokes ShutdownNow on every member channel that has not yet
// terminated. Idempotent.
func (p *ChannelPool) ShutdownNow() {
	p.shutdownCalled.Store(true)
	for _, ref := range p.snapshot() {
		if ref.Channel().IsTerminated() {
			continue
		}
		if err := ref.Channel().ShutdownNow(); err != nil {
			p.logger.Warn("CHANNEL_SHUTDOWN_NOW_FAILED", slog.Int("channel_id", ref.ID()), slog.Any("err", err))
		}
	}
}

// IsShutdown reports whether every member channel reports shutdown.
func (p *ChannelPool) IsShutdown() bool {
	for _, ref := range p.snapshot() {
		if !ref.Channel().IsShutdown() {
			return false
		}
	}
	return true
}

// IsTerminated reports whether every member channel reports terminated.
func (p *ChannelPool) IsTerminated() bool {
	for _, ref := range p.snapshot() {
		if !ref.Channel().IsTerminated() {
			return false
		}
	}
	return true
}

// AwaitTermination walks member channels, waiting on each in turn with the
// remaining budget, until deadline expires or all are terminated.
func (p *ChannelPool) AwaitTermination(deadline time.Duration) bool {
	remaining := deadline
	for _, ref := range p.snapshot() {
		if ref.Channel().IsTerminated() {
			continue
		}
		if remaining <= 0 {
			break
		}
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), remaining)
		ref.Channel().WaitForStateChange(ctx, ref.Channel().State(false))
		cancel()
		remaining -= time.Since(start)
	}
	return p.IsTerminated()
}

// State tallies each member channel's connectivity into priority-ordered
// buckets and returns the first non-zero one. An empty pool returns the
// sentinel aggregateState defines for that case.
func (p *ChannelPool) State(requestConnection bool) connectivity.State {
	refs := p.snapshot()
	states := make([]connectivity.State, 0, len(refs))
	for _, ref := range refs {
		states = append(states, ref.Channel().State(requestConnection))
	}
	return aggregateState(states)
}
