// Package notify fans lifecycle events out to live connections. Delivery
// is at-most-once and fire-and-forget: no backlog, no acknowledgement.
// Clients reconcile true state via pull queries on reconnect.
package notify

import (
	"time"

	"github.com/dinehq/mesa/internal/auth"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderAccepted      = "order.accepted"
	EventOrderRejected      = "order.rejected"
	EventOrderStatusChanged = "order.status_changed"
)

// Topic addresses a group of connections: a role, an actor, a table or
// a single order.
type Topic string

func RoleTopic(r auth.Role) Topic { return Topic("role:" + string(r)) }
func ActorTopic(key string) Topic { return Topic("actor:" + key) }
func TableTopic(id string) Topic  { return Topic("table:" + id) }
func OrderTopic(id string) Topic  { return Topic("order:" + id) }

type Event struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

func NewEvent(typ string, payload any) Event {
	return Event{Type: typ, At: time.Now().UTC(), Payload: payload}
}

// Notifier is the only door from business logic into the transport layer.
// Publish must be called after the triggering write has committed, never
// before, and its failure never surfaces to the caller.
type Notifier interface {
	Publish(ev Event, topics ...Topic)
}

// Noop drops everything; useful where no transport is wired.
type Noop struct{}

func (Noop) Publish(Event, ...Topic) {}
