package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehq/pulse/auth"
	"github.com/pulsehq/pulse/internal/slogging"
)

// ConnState is the lifecycle state of a connection
type ConnState int

const (
	StateConnecting ConnState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is a registered connection. Mutable fields are guarded by the hub
// mutex; Send is closed exactly once, by the hub.
type Conn struct {
	ID          uuid.UUID
	Identity    auth.Identity
	Send        chan []byte
	ConnectedAt time.Time

	state    ConnState
	lastSeen time.Time
	topics   map[string]struct{}
	closed   bool
}

// DeliveryStatus is the outcome of a unicast
type DeliveryStatus int

const (
	// Delivered means the frame was queued on the connection's send channel
	Delivered DeliveryStatus = iota
	// NotFound means no live connection with that id exists (including
	// connections torn down because their send channel was closed or full)
	NotFound
)

// Stats is a point-in-time snapshot of registry occupancy
type Stats struct {
	TotalConnections int `json:"total_connections"`
	UniqueIdentities int `json:"unique_identities"`
}

// Hub is the connection registry: every live connection, an index by
// identity, and the topic subscription index used by the event fan-out.
type Hub struct {
	sendBuffer int

	mu         sync.RWMutex
	conns      map[uuid.UUID]*Conn
	byIdentity map[uuid.UUID]map[uuid.UUID]*Conn
	topics     map[string]map[uuid.UUID]*Conn

	now func() time.Time
}

// NewHub creates an empty connection registry
func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		sendBuffer: sendBuffer,
		conns:      make(map[uuid.UUID]*Conn),
		byIdentity: make(map[uuid.UUID]map[uuid.UUID]*Conn),
		topics:     make(map[string]map[uuid.UUID]*Conn),
		now:        time.Now,
	}
}

// Register creates a connection entry for the identity and announces it to
// the other connections.
func (h *Hub) Register(identity auth.Identity) *Conn {
	logger := slogging.Get()
	now := h.now()
	conn := &Conn{
		ID:          uuid.New(),
		Identity:    identity,
		Send:        make(chan []byte, h.sendBuffer),
		ConnectedAt: now,
		state:       StateConnecting,
		lastSeen:    now,
		topics:      make(map[string]struct{}),
	}

	h.mu.Lock()
	conn.state = StateActive
	h.conns[conn.ID] = conn
	peers, ok := h.byIdentity[identity.UserID]
	if !ok {
		peers = make(map[uuid.UUID]*Conn)
		h.byIdentity[identity.UserID] = peers
	}
	peers[conn.ID] = conn
	h.updateGaugesLocked()
	h.mu.Unlock()

	logger.Info("Connection registered conn_id=%s user_id=%s", conn.ID, identity.UserID)
	h.Broadcast(presenceEvent(EventConnectionJoined, conn), func(c *Conn) bool {
		return c.ID != conn.ID
	})
	return conn
}

// Unregister removes the connection and announces its departure. Calling it
// for an unknown or already-removed id is a no-op.
func (h *Hub) Unregister(connID uuid.UUID) {
	logger := slogging.Get()

	h.mu.Lock()
	conn, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.removeLocked(conn)
	h.mu.Unlock()

	logger.Info("Connection unregistered conn_id=%s user_id=%s", conn.ID, conn.Identity.UserID)
	h.Broadcast(presenceEvent(EventConnectionLeft, conn), nil)
}

// removeLocked detaches the connection from every index and closes its send
// channel. Caller holds the write lock.
func (h *Hub) removeLocked(conn *Conn) {
	delete(h.conns, conn.ID)
	if peers, ok := h.byIdentity[conn.Identity.UserID]; ok {
		delete(peers, conn.ID)
		if len(peers) == 0 {
			delete(h.byIdentity, conn.Identity.UserID)
		}
	}
	for topic := range conn.topics {
		if subs, ok := h.topics[topic]; ok {
			delete(subs, conn.ID)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	conn.state = StateClosing
	if !conn.closed {
		conn.closed = true
		close(conn.Send)
	}
	conn.state = StateClosed
	h.updateGaugesLocked()
}

// Touch records activity on the connection so the idle reaper leaves it alone
func (h *Hub) Touch(connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.conns[connID]; ok {
		conn.lastSeen = h.now()
	}
}

// trySendLocked queues a frame without blocking. A closed or full channel
// reports failure; the caller decides what to do with the corpse.
func (h *Hub) trySendLocked(conn *Conn, frame []byte) bool {
	if conn.closed {
		return false
	}
	select {
	case conn.Send <- frame:
		return true
	default:
		return false
	}
}

// Send queues a raw frame on one connection. A connection whose channel is
// closed or full is treated as gone: it is unregistered and the send reports
// NotFound rather than surfacing a transport error to the caller.
func (h *Hub) Send(connID uuid.UUID, frame []byte) DeliveryStatus {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return NotFound
	}
	if h.trySendLocked(conn, frame) {
		h.mu.Unlock()
		return Delivered
	}
	h.removeLocked(conn)
	h.mu.Unlock()

	h.Broadcast(presenceEvent(EventConnectionLeft, conn), nil)
	return NotFound
}

// Unicast delivers an event to one connection
func (h *Hub) Unicast(connID uuid.UUID, evt Event) DeliveryStatus {
	frame, err := marshalEvent(evt)
	if err != nil {
		return NotFound
	}
	return h.Send(connID, frame)
}

// Broadcast delivers an event to every connection matching the predicate
// (all connections when the predicate is nil) and returns how many received
// it. Connections with closed or full channels are dropped along the way.
func (h *Hub) Broadcast(evt Event, pred func(*Conn) bool) int {
	frame, err := marshalEvent(evt)
	if err != nil {
		return 0
	}

	h.mu.Lock()
	delivered := 0
	var dead []*Conn
	for _, conn := range h.conns {
		if pred != nil && !pred(conn) {
			continue
		}
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
	// Departure of dropped connections is announced after the lock is
	// released; the recursion terminates because the registry only shrinks.
	for _, conn := range dead {
		h.Broadcast(presenceEvent(EventConnectionLeft, conn), nil)
	}
	return delivered
}

// SnapshotStats returns current registry occupancy
func (h *Hub) SnapshotStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		TotalConnections: len(h.conns),
		UniqueIdentities: len(h.byIdentity),
	}
}

// ConnInfo describes one connection for get_connection_info
type ConnInfo struct {
	ConnectionID  uuid.UUID `json:"connection_id"`
	UserID        uuid.UUID `json:"user_id"`
	State         string    `json:"state"`
	ConnectedAt   time.Time `json:"connected_at"`
	Subscriptions []string  `json:"subscriptions"`
}

// Info returns a snapshot of one connection, or false if it is gone
func (h *Hub) Info(connID uuid.UUID) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[connID]
	if !ok {
		return ConnInfo{}, false
	}
	subs := make([]string, 0, len(conn.topics))
	for topic := range conn.topics {
		subs = append(subs, topic)
	}
	return ConnInfo{
		ConnectionID:  conn.ID,
		UserID:        conn.Identity.UserID,
		State:         conn.state.String(),
		ConnectedAt:   conn.ConnectedAt,
		Subscriptions: subs,
	}, true
}

// ReapIdle unregisters connections whose last activity is older than the
// threshold and returns how many were closed. Each departure is announced
// like a normal disconnect.
func (h *Hub) ReapIdle(threshold time.Duration) int {
	logger := slogging.Get()
	cutoff := h.now().Add(-threshold)

	h.mu.Lock()
	var idle []*Conn
	for _, conn := range h.conns {
		if conn.lastSeen.Before(cutoff) {
			idle = append(idle, conn)
		}
	}
	for _, conn := range idle {
		h.removeLocked(conn)
	}
	h.mu.Unlock()

	for _, conn := range idle {
		logger.Info("Reaped idle connection conn_id=%s user_id=%s", conn.ID, conn.Identity.UserID)
		metricReapedTotal.Inc()
		h.Broadcast(presenceEvent(EventConnectionLeft, conn), nil)
	}
	return len(idle)
}

// RunReaper periodically reaps idle connections until the context is
// cancelled.
func (h *Hub) RunReaper(ctx context.Context, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.ReapIdle(threshold)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) updateGaugesLocked() {
	metricActiveConnections.Set(float64(len(h.conns)))
	metricUniqueIdentities.Set(float64(len(h.byIdentity)))
}
