package notify

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// conn is one live connection's sending side. The hub never blocks on a
// slow consumer: a full buffer means the event is dropped for that conn.
type conn struct {
	send chan []byte
}

const sendBuffer = 32

// Hub is the connection registry: it tracks which connections belong to
// which topics and broadcasts marshalled events to them. It implements
// Notifier.
type Hub struct {
	mu     sync.RWMutex
	topics map[Topic]map[*conn]struct{}
	conns  map[*conn][]Topic
}

func NewHub() *Hub {
	return &Hub{
		topics: make(map[Topic]map[*conn]struct{}),
		conns:  make(map[*conn][]Topic),
	}
}

func (h *Hub) add(c *conn, topics ...Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		if h.topics[t] == nil {
			h.topics[t] = make(map[*conn]struct{})
		}
		h.topics[t][c] = struct{}{}
		h.conns[c] = append(h.conns[c], t)
	}
}

func (h *Hub) removeFrom(c *conn, t Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.topics[t]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.topics, t)
		}
	}
	kept := h.conns[c][:0]
	for _, st := range h.conns[c] {
		if st != t {
			kept = append(kept, st)
		}
	}
	h.conns[c] = kept
}

// remove drops a connection from every topic. Called on disconnect; it
// never cancels in-flight business operations.
func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.conns[c] {
		if set := h.topics[t]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.topics, t)
			}
		}
	}
	delete(h.conns, c)
	close(c.send)
}

// Publish sends the event to every connection subscribed to any of the
// topics, once per connection. No subscribers means the event is dropped.
func (h *Hub) Publish(ev Event, topics ...Topic) {
	body, err := json.Marshal(ev)
	if err != nil {
		logrus.WithError(err).WithField("event", ev.Type).Error("event marshal failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*conn]struct{})
	for _, t := range topics {
		for c := range h.topics[t] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			select {
			case c.send <- body:
			default:
				// slow consumer, drop
			}
		}
	}
}

// subscribers reports the current count on a topic (tests only).
func (h *Hub) subscribers(t Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[t])
}
