package realtime

import (
	"context"
	"time"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/access"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatTimeout = 30 * time.Second
	defaultSweepInterval    = 5 * time.Second
	defaultOutboundQueue    = 64
)

// Authorizer checks document permissions. *access.Guard satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, userID document.UserID, documentID document.DocumentID, required access.Level) (access.Level, error)
}

// Identity is the authenticated user behind a transport.
type Identity struct {
	UserID      document.UserID
	DisplayName string
}

// HubConfig describes the dependencies for a Hub.
type HubConfig struct {
	Authorizer       Authorizer
	Loader           SnapshotLoader
	Sink             RecordSink
	Clock            func() time.Time
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	OutboundQueue    int
	NewID            func() (document.EntityID, error)
	Logger           *zap.Logger
}

// Hub wires the registry, rooms, presence and dispatcher together and runs
// one session per transport.
type Hub struct {
	authorizer    Authorizer
	registry      *Registry
	dispatcher    *Dispatcher
	presence      *PresenceTracker
	manager       *Manager
	queueSize     int
	sweepInterval time.Duration
	logger        *zap.Logger
}

// NewHub constructs a Hub.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Authorizer == nil {
		return nil, errMissingGuard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeatTimeout := cfg.HeartbeatTimeout
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = defaultHeartbeatTimeout
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	queueSize := cfg.OutboundQueue
	if queueSize <= 0 {
		queueSize = defaultOutboundQueue
	}

	registry := NewRegistry(RegistryConfig{Clock: cfg.Clock, HeartbeatTimeout: heartbeatTimeout, Logger: logger})
	dispatcher := NewDispatcher(logger)
	presence := NewPresenceTracker(registry)
	manager, err := NewManager(ManagerConfig{
		Registry:   registry,
		Dispatcher: dispatcher,
		Presence:   presence,
		Loader:     cfg.Loader,
		Sink:       cfg.Sink,
		Clock:      cfg.Clock,
		NewID:      cfg.NewID,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return &Hub{
		authorizer:    cfg.Authorizer,
		registry:      registry,
		dispatcher:    dispatcher,
		presence:      presence,
		manager:       manager,
		queueSize:     queueSize,
		sweepInterval: sweepInterval,
		logger:        logger,
	}, nil
}

// Admit checks that the identity may view the document. It is called before
// a transport is established.
func (h *Hub) Admit(ctx context.Context, identity Identity, roomID document.DocumentID) error {
	if _, err := h.authorizer.Authorize(ctx, identity.UserID, roomID, access.LevelView); err != nil {
		return classifyAccessError(err)
	}
	return nil
}

// Serve registers the transport and runs its session until the connection
// closes. Cleanup has completed when Serve returns.
func (h *Hub) Serve(ctx context.Context, transport Transport, identity Identity, roomID document.DocumentID) error {
	if err := h.Admit(ctx, identity, roomID); err != nil {
		_ = transport.Close(CloseForbidden, ReasonInsufficientPermission)
		return err
	}

	conn := NewConnection(ConnectionConfig{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		QueueSize:   h.queueSize,
		OpenedAt:    h.registry.Now(),
	})
	if err := h.registry.Register(conn); err != nil {
		_ = transport.Close(CloseGoingAway, ReasonRoomUnavailable)
		return newError(KindTransient, ReasonRoomUnavailable, err)
	}
	h.logger.Debug("connection opened",
		zap.String("connection_id", conn.ID().String()),
		zap.String("user_id", identity.UserID.String()),
		zap.String("document_id", roomID.String()))

	s := &session{
		hub:       h,
		conn:      conn,
		transport: transport,
		roomID:    roomID,
		logger:    h.logger.With(zap.String("connection_id", conn.ID().String()), zap.String("document_id", roomID.String())),
	}
	s.run(ctx)
	return nil
}

// disconnect runs the shared cleanup path for explicit closes, transport
// errors, slow-consumer drops and heartbeat evictions. It is idempotent.
func (h *Hub) disconnect(conn *Connection) {
	h.manager.Leave(conn)
	if _, removed := h.registry.Unregister(conn.ID()); removed {
		code, reason := conn.CloseStatus()
		h.logger.Debug("connection closed",
			zap.String("connection_id", conn.ID().String()),
			zap.String("user_id", conn.UserID().String()),
			zap.Int("close_code", code),
			zap.String("close_reason", reason))
	}
}

// Sweep evicts connections that missed the heartbeat window and returns how
// many were evicted.
func (h *Hub) Sweep() int {
	stale := h.registry.Stale()
	for _, conn := range stale {
		h.disconnect(conn)
	}
	return len(stale)
}

// RunSweeper sweeps on every interval tick until ctx is done.
func (h *Hub) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()
	h.logger.Info("heartbeat sweeper started", zap.Duration("interval", h.sweepInterval))
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat sweeper stopped")
			return nil
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Presence lists the connections present in a room.
func (h *Hub) Presence(roomID document.DocumentID) []PresenceEntry {
	return h.presence.Snapshot(roomID)
}

// Snapshot returns the merged state of a live room.
func (h *Hub) Snapshot(roomID document.DocumentID) (document.Snapshot, bool) {
	return h.manager.Snapshot(roomID)
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	return h.registry.Len()
}

// Rooms returns the number of live rooms.
func (h *Hub) Rooms() int {
	return h.manager.Rooms()
}

// Shutdown asks every connection to close. Sessions finish their own cleanup.
func (h *Hub) Shutdown() {
	for _, conn := range h.registry.All() {
		conn.Close(CloseGoingAway, ReasonServerShutdown)
	}
}
