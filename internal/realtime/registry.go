package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"go.uber.org/zap"
)

// RegistryConfig describes the dependencies for a Registry.
type RegistryConfig struct {
	Clock            func() time.Time
	HeartbeatTimeout time.Duration
	Logger           *zap.Logger
}

// Registry owns the set of live connections. Rooms reference connections by
// identifier; only the registry creates and forgets them.
type Registry struct {
	mu          sync.RWMutex
	connections map[ConnectionID]*Connection
	clock       func() time.Time
	timeout     time.Duration
	logger      *zap.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		connections: make(map[ConnectionID]*Connection),
		clock:       clock,
		timeout:     cfg.HeartbeatTimeout,
		logger:      logger,
	}
}

// Now returns the registry clock reading.
func (r *Registry) Now() time.Time {
	return r.clock()
}

// Register adds a connection and stamps its first heartbeat.
func (r *Registry) Register(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connections[conn.ID()]; exists {
		return errDuplicateID
	}
	conn.touch(r.clock())
	r.connections[conn.ID()] = conn
	activeConnections.Inc()
	return nil
}

// MarkJoined records the room a connection belongs to. An empty roomID
// clears membership.
func (r *Registry) MarkJoined(id ConnectionID, roomID document.DocumentID) error {
	r.mu.RLock()
	conn, ok := r.connections[id]
	r.mu.RUnlock()
	if !ok {
		return errConnectionNotFound
	}
	conn.setRoom(roomID)
	return nil
}

// Heartbeat refreshes the connection's last-seen time. It reports false for
// unknown connections.
func (r *Registry) Heartbeat(id ConnectionID) bool {
	r.mu.RLock()
	conn, ok := r.connections[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	conn.touch(r.clock())
	return true
}

// Unregister forgets the connection. Calling it again, or for an unknown
// identifier, is a no-op that reports false.
func (r *Registry) Unregister(id ConnectionID) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[id]
	if !ok {
		return nil, false
	}
	delete(r.connections, id)
	activeConnections.Dec()
	return conn, true
}

// ListByRoom returns the connections joined to roomID ordered by identifier.
func (r *Registry) ListByRoom(roomID document.DocumentID) []*Connection {
	r.mu.RLock()
	members := make([]*Connection, 0)
	for _, conn := range r.connections {
		if conn.RoomID() == roomID {
			members = append(members, conn)
		}
	}
	r.mu.RUnlock()
	sort.Slice(members, func(i, j int) bool { return members[i].ID() < members[j].ID() })
	return members
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// All returns every registered connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connections := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		connections = append(connections, conn)
	}
	return connections
}

// Stale closes and returns connections whose last heartbeat is older than
// the configured timeout. The caller runs the disconnect path for each.
func (r *Registry) Stale() []*Connection {
	if r.timeout <= 0 {
		return nil
	}
	now := r.clock()
	r.mu.RLock()
	stale := make([]*Connection, 0)
	for _, conn := range r.connections {
		if now.Sub(conn.LastSeen()) > r.timeout {
			stale = append(stale, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range stale {
		if !conn.Close(CloseHeartbeatTimeout, ReasonHeartbeatTimeout) {
			continue
		}
		heartbeatEvictions.Inc()
		r.logger.Info("connection evicted",
			zap.String("connection_id", conn.ID().String()),
			zap.String("user_id", conn.UserID().String()),
			zap.String("document_id", conn.RoomID().String()),
			zap.Time("last_seen", conn.LastSeen()))
	}
	return stale
}
