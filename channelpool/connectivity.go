package channelpool

import "google.golang.org/grpc/connectivity"

// noStateSentinel is returned by ChannelPool.State when the pool is empty.
// connectivity.Shutdown is repurposed here: an empty pool can serve
// nothing, which is the same externally-observable fact as a fully
// shut-down one.
const noStateSentinel = connectivity.Shutdown

// aggregateState tallies member states into the buckets {READY, CONNECTING,
// TRANSIENT_FAILURE, IDLE, SHUTDOWN} and returns the first non-zero bucket
// in that priority order. A single READY channel means the pool can serve
// traffic; failing that, the most actionable state wins.
func aggregateState(states []connectivity.State) connectivity.State {
	if len(states) == 0 {
		return noStateSentinel
	}
	var buckets [5]int
	idx := func(s connectivity.State) int {
		switch s {
		case connectivity.Ready:
			return 0
		case connectivity.Connecting:
			return 1
		case connectivity.TransientFailure:
			return 2
		case connectivity.Idle:
			return 3
		default: // connectivity.Shutdown
			return 4
		}
	}
	for _, s := range states {
		buckets[idx(s)]++
	}
	order := []connectivity.State{
		connectivity.Ready,
		connectivity.Connecting,
		connectivity.TransientFailure,
		connectivity.Idle,
		connectivity.Shutdown,
	}
	for i, s := range order {
		if buckets[i] > 0 {
			return s
		}
	}
	return noStateSentinel
}
