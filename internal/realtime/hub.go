// Package realtime pushes session updates to the lobby and play sockets of a session.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/telemetry"
)

type Audience string

const (
	AudienceLobby Audience = "lobby"
	AudiencePlay  Audience = "play"

	subscriberBuffer = 64

	shutdownText = "server is shutting down"
)

func (a Audience) Valid() bool {
	return a == AudienceLobby || a == AudiencePlay
}

type topic struct {
	pin      string
	audience Audience
}

// Hub fans messages out to the sockets of this process.
type Hub struct {
	mu     sync.RWMutex
	topics map[topic]map[*Subscriber]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{topics: make(map[topic]map[*Subscriber]struct{})}
}

// Subscriber receives the messages of one topic on C until it is closed or dropped.
type Subscriber struct {
	C <-chan []byte

	ch    chan []byte
	hub   *Hub
	topic topic
	once  sync.Once

	// closeCode and closeText tell the socket why C was closed by the hub.
	closeCode int
	closeText string
}

// Subscribe registers a subscriber of the topic. After Close it returns one whose C is
// already closed.
func (h *Hub) Subscribe(pin string, a Audience) *Subscriber {
	ch := make(chan []byte, subscriberBuffer)
	s := &Subscriber{C: ch, ch: ch, hub: h, topic: topic{pin: pin, audience: a}}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		s.once.Do(func() {
			s.closeCode, s.closeText = websocket.CloseGoingAway, shutdownText
			close(s.ch)
		})
		return s
	}

	subs, ok := h.topics[s.topic]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.topics[s.topic] = subs
	}
	subs[s] = struct{}{}

	return s
}

// Close unsubscribes s and closes C. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.hub.remove(s, websocket.CloseNormalClosure, "")
}

// Deliver sends msg to every subscriber of the topic without blocking. A subscriber whose
// buffer is full is dropped: its C is closed and its socket is expected to go away.
func (h *Hub) Deliver(pin string, a Audience, msg []byte) {
	t := topic{pin: pin, audience: a}

	var slow []*Subscriber

	h.mu.RLock()
	for s := range h.topics[t] {
		select {
		case s.ch <- msg:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		slog.Warn("realtime: dropping slow subscriber", "pin", pin, "audience", a)
		telemetry.DroppedTotal.Inc()
		h.remove(s, websocket.CloseTryAgainLater, "too slow")
	}
}

// Subscribers returns the number of subscribers of a topic.
func (h *Hub) Subscribers(pin string, a Audience) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.topics[topic{pin: pin, audience: a}])
}

// Close drops every subscriber. Their sockets are told the server is going away.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true

	var all []*Subscriber
	for _, subs := range h.topics {
		for s := range subs {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		h.remove(s, websocket.CloseGoingAway, shutdownText)
	}
}

func (h *Hub) remove(s *Subscriber, code int, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s.once.Do(func() {
		s.closeCode, s.closeText = code, text
		subs := h.topics[s.topic]
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.topics, s.topic)
		}

		close(s.ch)
	})
}
