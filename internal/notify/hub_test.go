package notify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinehq/mesa/internal/auth"
)

func newTestConn() *conn {
	return &conn{send: make(chan []byte, sendBuffer)}
}

func drain(t *testing.T, c *conn) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case body := <-c.send:
			var ev Event
			require.NoError(t, json.Unmarshal(body, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublishReachesSubscribedTopics(t *testing.T) {
	h := NewHub()
	kitchen := newTestConn()
	waiter := newTestConn()
	h.add(kitchen, RoleTopic(auth.RoleKitchen))
	h.add(waiter, RoleTopic(auth.RoleWaiter))

	h.Publish(NewEvent(EventOrderCreated, nil), RoleTopic(auth.RoleKitchen))

	got := drain(t, kitchen)
	require.Len(t, got, 1)
	assert.Equal(t, EventOrderCreated, got[0].Type)
	assert.Empty(t, drain(t, waiter))
}

func TestPublishDeliversOncePerConn(t *testing.T) {
	h := NewHub()
	c := newTestConn()
	h.add(c, RoleTopic(auth.RoleWaiter), TableTopic("T-1"))

	// the conn matches both topics; it must see the event once
	h.Publish(NewEvent(EventOrderAccepted, nil), RoleTopic(auth.RoleWaiter), TableTopic("T-1"))

	assert.Len(t, drain(t, c), 1)
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	h := NewHub()
	// must not panic or block
	h.Publish(NewEvent(EventOrderRejected, nil), OrderTopic("o-1"))
}

func TestSlowConsumerDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	c := &conn{send: make(chan []byte, 1)}
	h.add(c, OrderTopic("o-1"))

	// second publish overflows the buffer; it must return immediately
	h.Publish(NewEvent(EventOrderStatusChanged, nil), OrderTopic("o-1"))
	h.Publish(NewEvent(EventOrderStatusChanged, nil), OrderTopic("o-1"))

	assert.Len(t, drain(t, c), 1)
}

func TestRemoveFromSingleTopic(t *testing.T) {
	h := NewHub()
	c := newTestConn()
	h.add(c, OrderTopic("o-1"), TableTopic("T-1"))

	h.removeFrom(c, OrderTopic("o-1"))

	assert.Equal(t, 0, h.subscribers(OrderTopic("o-1")))
	assert.Equal(t, 1, h.subscribers(TableTopic("T-1")))

	h.Publish(NewEvent(EventOrderStatusChanged, nil), OrderTopic("o-1"))
	assert.Empty(t, drain(t, c))
}

func TestRemoveDropsAllTopicsAndClosesSend(t *testing.T) {
	h := NewHub()
	c := newTestConn()
	h.add(c, RoleTopic(auth.RoleAdmin), ActorTopic("u-1"))

	h.remove(c)

	assert.Equal(t, 0, h.subscribers(RoleTopic(auth.RoleAdmin)))
	assert.Equal(t, 0, h.subscribers(ActorTopic("u-1")))
	_, open := <-c.send
	assert.False(t, open, "send channel closed on disconnect")
}

func TestTopicConstructors(t *testing.T) {
	assert.Equal(t, Topic("role:kitchen"), RoleTopic(auth.RoleKitchen))
	assert.Equal(t, Topic("actor:session:abc"), ActorTopic("session:abc"))
	assert.Equal(t, Topic("table:T-1"), TableTopic("T-1"))
	assert.Equal(t, Topic("order:o-1"), OrderTopic("o-1"))
}
