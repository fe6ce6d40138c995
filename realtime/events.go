package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehq/pulse/internal/slogging"
)

// Event is the outbound server-initiated frame
type Event struct {
	MessageType string    `json:"message_type"`
	Data        any       `json:"data"`
	Timestamp   time.Time `json:"timestamp"`
}

// Reserved presence event tags
const (
	EventConnectionJoined = "connection_joined"
	EventConnectionLeft   = "connection_left"
)

// Topics carrying business events, one per resource kind
const (
	TopicProjects = "projects"
	TopicIssues   = "issues"
	TopicLabels   = "labels"
	TopicTeams    = "teams"
)

// NewEvent builds an event stamped with the current time
func NewEvent(messageType string, data any) Event {
	return Event{
		MessageType: messageType,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}
}

func marshalEvent(evt Event) ([]byte, error) {
	frame, err := json.Marshal(evt)
	if err != nil {
		slogging.Get().Error("Failed to marshal event type=%s: %v", evt.MessageType, err)
	}
	return frame, err
}

func presenceEvent(messageType string, conn *Conn) Event {
	return NewEvent(messageType, map[string]any{
		"connection_id": conn.ID,
		"user_id":       conn.Identity.UserID,
	})
}

// Subscribe adds the connection to the given topics. Unknown topics are
// created on first subscribe; subscribing twice is a no-op.
func (h *Hub) Subscribe(connID uuid.UUID, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	for _, topic := range topics {
		conn.topics[topic] = struct{}{}
		subs, ok := h.topics[topic]
		if !ok {
			subs = make(map[uuid.UUID]*Conn)
			h.topics[topic] = subs
		}
		subs[connID] = conn
	}
}

// Unsubscribe removes the connection from the given topics. Topics it never
// subscribed to are ignored.
func (h *Hub) Unsubscribe(connID uuid.UUID, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	for _, topic := range topics {
		delete(conn.topics, topic)
		if subs, ok := h.topics[topic]; ok {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
}

// Publish delivers an event to every current subscriber of the topic and
// returns how many received it. The subscriber set is resolved at publish
// time; delivery is at-most-once per subscriber, FIFO per publisher.
func (h *Hub) Publish(topic string, evt Event) int {
	frame, err := marshalEvent(evt)
	if err != nil {
		return 0
	}

	h.mu.Lock()
	delivered := 0
	var dead []*Conn
	for _, conn := range h.topics[topic] {
		if h.trySendLocked(conn, frame) {
			delivered++
		} else {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		h.removeLocked(conn)
	}
	h.mu.Unlock()

	metricBroadcastFanout.Observe(float64(delivered))
	for _, conn := range dead {
		h.Broadcast(presenceEvent(EventConnectionLeft, conn), nil)
	}
	return delivered
}
