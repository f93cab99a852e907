package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to Status
	}{
		{StatusPending, StatusAccepted},
		{StatusPending, StatusRejected},
		{StatusPending, StatusCancelled},
		{StatusAccepted, StatusPreparing},
		{StatusAccepted, StatusCancelled},
		{StatusPreparing, StatusReady},
		{StatusReady, StatusServed},
	}
	ok := map[[2]Status]bool{}
	for _, e := range allowed {
		ok[[2]Status{e.from, e.to}] = true
	}

	all := []Status{StatusPending, StatusAccepted, StatusRejected, StatusPreparing,
		StatusReady, StatusServed, StatusCompleted, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			assert.Equal(t, ok[[2]Status{from, to}], got, "%s -> %s", from, to)
		}
	}
}

func TestServedToCompletedNotReachableDirectly(t *testing.T) {
	// that edge belongs to payment settlement
	assert.False(t, StatusServed.CanTransitionTo(StatusCompleted))
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusRejected, StatusCancelled, StatusCompleted} {
		assert.True(t, s.Terminal(), "%s", s)
	}
	for _, s := range []Status{StatusPending, StatusAccepted, StatusPreparing, StatusReady, StatusServed} {
		assert.False(t, s.Terminal(), "%s", s)
	}
}
