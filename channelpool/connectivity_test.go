package channelpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/connectivity"
)

func TestAggregateStatePriorityOrder(t *testing.T) {
	cases := []struct {
		name   string
		states []connectivity.State
		want   connectivity.State
	}{
		{"empty", nil, noStateSentinel},
		{"one_ready_wins", []connectivity.State{connectivity.Idle, connectivity.Ready}, connectivity.Ready},
		{"connecting_over_transient", []connectivity.State{connectivity.TransientFailure, connectivity.Connecting}, connectivity.Connecting},
		{"transient_over_idle", []connectivity.State{connectivity.Idle, connectivity.TransientFailure}, connectivity.TransientFailure},
		{"idle_over_shutdown", []connectivity.State{connectivity.Shutdown, connectivity.Idle}, connectivity.Idle},
		{"all_shutdown", []connectivity.State{connectivity.Shutdown, connectivity.Shutdown}, connectivity.Shutdown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, aggregateState(c.states))
		})
	}
}
