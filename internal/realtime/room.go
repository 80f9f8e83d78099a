package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/merge"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Submission is one inbound mutation with the client's correlation id.
type Submission struct {
	ClientMutationID string
	Mutation         merge.Mutation
}

// room is the in-memory collaboration session of one document. mu is the
// single-writer lock for state and members. audience is an immutable copy of
// members, replaced under mu, that presence updates read without the lock.
// pending is guarded by the manager lock and counts joiners that have found
// the room but not yet taken mu, so the room is not discarded under them.
type room struct {
	id       document.DocumentID
	mu       sync.Mutex
	state    *merge.State
	members  map[ConnectionID]*Connection
	audience atomic.Pointer[[]*Connection]
	closed   bool
	pending  int
}

// refreshAudienceLocked republishes the member list. Callers hold mu.
func (r *room) refreshAudienceLocked() {
	audience := make([]*Connection, 0, len(r.members))
	for _, conn := range r.members {
		audience = append(audience, conn)
	}
	r.audience.Store(&audience)
}

// recipients returns the latest published member list.
func (r *room) recipients() []*Connection {
	if audience := r.audience.Load(); audience != nil {
		return *audience
	}
	return nil
}

// ManagerConfig describes the dependencies for a Manager.
type ManagerConfig struct {
	Registry   *Registry
	Dispatcher *Dispatcher
	Presence   *PresenceTracker
	Loader     SnapshotLoader
	Sink       RecordSink
	Clock      func() time.Time
	NewID      func() (document.EntityID, error)
	Logger     *zap.Logger
}

// Manager owns the rooms. Lock order is manager, then room; the manager
// lock is never taken while a room lock is held.
type Manager struct {
	mu         sync.Mutex
	rooms      map[document.DocumentID]*room
	registry   *Registry
	dispatcher *Dispatcher
	presence   *PresenceTracker
	loader     SnapshotLoader
	sink       RecordSink
	clock      func() time.Time
	newID      func() (document.EntityID, error)
	logger     *zap.Logger
}

// NewManager constructs a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Loader == nil {
		return nil, errMissingLoader
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher(cfg.Logger)
	}
	presence := cfg.Presence
	if presence == nil {
		presence = NewPresenceTracker(cfg.Registry)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newEntityID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		rooms:      make(map[document.DocumentID]*room),
		registry:   cfg.Registry,
		dispatcher: dispatcher,
		presence:   presence,
		loader:     cfg.Loader,
		sink:       cfg.Sink,
		clock:      clock,
		newID:      newID,
		logger:     logger,
	}, nil
}

func newEntityID() (document.EntityID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return document.EntityID(id.String()), nil
}

// Join admits an already-authorized connection to the room, creating and
// seeding the room when absent. The snapshot and presence list are queued to
// the joiner under the room lock, ahead of any later delta. Joining a room
// the connection already belongs to re-sends the snapshot.
func (m *Manager) Join(ctx context.Context, roomID document.DocumentID, conn *Connection) (document.Snapshot, error) {
	if roomID == "" {
		return document.Snapshot{}, newError(KindInvalid, ReasonInvalidPayload, document.ErrInvalidDocumentID)
	}
	if current := conn.RoomID(); current != "" && current != roomID {
		return document.Snapshot{}, newError(KindInvalid, ReasonRoomMismatch, fmt.Errorf("connection already joined %s", current))
	}

	for {
		target := m.acquire(roomID)
		target.mu.Lock()
		if target.closed {
			target.mu.Unlock()
			m.release(target)
			continue
		}
		snapshot, err := m.joinLocked(ctx, target, conn)
		target.mu.Unlock()
		m.release(target)
		return snapshot, err
	}
}

func (m *Manager) acquire(roomID document.DocumentID) *room {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.rooms[roomID]
	if !ok {
		target = &room{id: roomID, members: make(map[ConnectionID]*Connection)}
		m.rooms[roomID] = target
		activeRooms.Inc()
		m.logger.Info("room created", zap.String("document_id", roomID.String()))
	}
	target.pending++
	return target
}

// release drops a joiner's hold and discards the room if nobody is left.
func (m *Manager) release(target *room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target.pending--
	if target.pending > 0 {
		return
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.members) == 0 {
		m.discardLocked(target)
	}
}

// discardLocked removes the room. Callers hold the manager and room locks.
func (m *Manager) discardLocked(target *room) {
	target.closed = true
	target.state = nil
	if m.rooms[target.id] == target {
		delete(m.rooms, target.id)
		activeRooms.Dec()
		m.logger.Info("room destroyed", zap.String("document_id", target.id.String()))
	}
}

func (m *Manager) joinLocked(ctx context.Context, target *room, conn *Connection) (document.Snapshot, error) {
	if target.state == nil {
		seed, err := m.loader.Load(ctx, target.id)
		if err != nil {
			m.logger.Warn("room seed failed", zap.String("document_id", target.id.String()), zap.Error(err))
			return document.Snapshot{}, newError(KindTransient, ReasonRoomUnavailable, err)
		}
		seed.DocumentID = target.id
		state, err := merge.Seed(seed)
		if err != nil {
			m.logger.Error("room seed rejected", zap.String("document_id", target.id.String()), zap.Error(err))
			return document.Snapshot{}, newError(KindFatal, ReasonRoomUnavailable, err)
		}
		target.state = state
	}

	_, rejoin := target.members[conn.ID()]
	if !rejoin {
		// An eviction may have run its cleanup before this join took the
		// room lock; a closed connection must not become a member.
		if conn.Closed() {
			return document.Snapshot{}, newError(KindNotFound, ReasonNotJoined, errConnectionClosed)
		}
		if err := m.registry.MarkJoined(conn.ID(), target.id); err != nil {
			return document.Snapshot{}, newError(KindNotFound, ReasonNotJoined, err)
		}
		target.members[conn.ID()] = conn
		target.refreshAudienceLocked()
	}

	snapshot := target.state.Snapshot()
	message, err := EncodeEnvelope(MessageSnapshot, target.id, snapshot.Revision, SnapshotPayload{
		Snapshot:     snapshot,
		Presence:     m.presence.Snapshot(target.id),
		ConnectionID: conn.ID(),
	})
	if err != nil {
		return document.Snapshot{}, newError(KindFatal, ReasonRoomUnavailable, err)
	}
	m.dispatcher.SendTo(conn, message)

	if !rejoin {
		m.publishPresenceLocked(target, PresenceJoin, m.presence.Entry(conn), conn.ID())
		m.logger.Debug("connection joined room",
			zap.String("document_id", target.id.String()),
			zap.String("connection_id", conn.ID().String()),
			zap.Int("members", len(target.members)))
	}
	return snapshot, nil
}

// Leave removes the connection from its room and discards the room once it
// is empty. It is safe to call repeatedly, including after the connection
// was unregistered, and waits for any in-flight apply on the room to finish.
func (m *Manager) Leave(conn *Connection) bool {
	id := conn.ID()
	roomID := conn.RoomID()
	if roomID == "" {
		m.presence.Forget(id)
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.rooms[roomID]
	if !ok {
		conn.setRoom("")
		m.presence.Forget(id)
		return false
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	if _, member := target.members[id]; !member {
		return false
	}

	entry := m.presence.Entry(conn)
	delete(target.members, id)
	target.refreshAudienceLocked()
	conn.setRoom("")
	m.presence.Forget(id)

	if len(target.members) == 0 && target.pending == 0 {
		m.discardLocked(target)
		return true
	}
	m.publishPresenceLocked(target, PresenceLeave, entry, "")
	return true
}

// Apply merges one mutation into the room, queues the merged record for
// persistence and broadcasts the authoritative result, all under the room
// lock so delivery order matches revision order. A duplicate is answered to
// the originator only.
func (m *Manager) Apply(roomID document.DocumentID, conn *Connection, submission Submission) (merge.Result, error) {
	target := m.lookup(roomID)
	if target == nil {
		return merge.Result{}, newError(KindNotFound, ReasonRoomNotFound, fmt.Errorf("room %s", roomID))
	}

	result, fatal, err := m.applyToRoom(target, conn, submission)
	if fatal {
		m.mu.Lock()
		target.mu.Lock()
		m.discardLocked(target)
		target.mu.Unlock()
		m.mu.Unlock()
	}
	return result, err
}

func (m *Manager) lookup(roomID document.DocumentID) *room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[roomID]
}

func (m *Manager) applyToRoom(target *room, conn *Connection, submission Submission) (merge.Result, bool, error) {
	target.mu.Lock()
	defer target.mu.Unlock()

	if target.closed || target.state == nil {
		return merge.Result{}, false, newError(KindNotFound, ReasonRoomNotFound, fmt.Errorf("room %s", target.id))
	}
	if _, member := target.members[conn.ID()]; !member {
		return merge.Result{}, false, newError(KindUnauthorized, ReasonNotJoined, fmt.Errorf("connection %s", conn.ID()))
	}

	mutation := submission.Mutation
	mutation.Origin = conn.ID().String()
	mutation.Author = conn.UserID()
	mutation.WallSeconds = m.clock().UTC().Unix()
	if mutation.EntityID == "" && mutation.Action == merge.ActionCreate {
		entityID, err := m.newID()
		if err != nil {
			return merge.Result{}, false, newError(KindTransient, ReasonInvalidPayload, err)
		}
		mutation.EntityID = entityID
	}
	if mutation.Timestamp == 0 {
		timestamp, err := target.state.NextTimestamp()
		if err != nil {
			m.logger.Error("room clock exhausted",
				zap.String("document_id", target.id.String()),
				zap.Error(err))
			return merge.Result{}, false, newError(KindTransient, ReasonRoomUnavailable, err)
		}
		mutation.Timestamp = timestamp
	} else if err := target.state.CheckTimestamp(mutation.Timestamp); err != nil {
		mutationsTotal.WithLabelValues(string(mutation.Entity), outcomeRejected).Inc()
		return merge.Result{}, false, classifyMergeError(err)
	}

	result, err := applySafely(target.state, mutation)
	if err != nil {
		classified := classifyMergeError(err)
		if classified.Kind == KindFatal {
			m.resetLocked(target, err)
			return merge.Result{}, true, classified
		}
		mutationsTotal.WithLabelValues(string(mutation.Entity), outcomeRejected).Inc()
		return merge.Result{}, false, classified
	}

	payload := MutationAppliedPayload{
		ClientMutationID: submission.ClientMutationID,
		Origin:           conn.ID(),
		Entity:           result.Entity,
		Annotation:       result.Annotation,
		Comment:          result.Comment,
		Fields:           result.Fields,
		Duplicate:        result.Duplicate(),
	}
	if payload.Fields == nil {
		payload.Fields = []merge.Field{}
	}
	message, err := EncodeEnvelope(MessageMutationApplied, target.id, result.Revision, payload)
	if err != nil {
		m.resetLocked(target, err)
		return merge.Result{}, true, newError(KindFatal, ReasonRoomReset, err)
	}

	if result.Duplicate() {
		mutationsTotal.WithLabelValues(string(mutation.Entity), outcomeDuplicate).Inc()
		m.dispatcher.SendTo(conn, message)
		return result, false, nil
	}

	mutationsTotal.WithLabelValues(string(mutation.Entity), outcomeApplied).Inc()
	if m.sink != nil {
		m.sink.Enqueue(Record{Annotation: result.Annotation, Comment: result.Comment})
	}
	m.dispatcher.Publish(target.recipients(), message, "")
	return result, false, nil
}

// applySafely converts a panic inside the merge into an invariant violation.
func applySafely(state *merge.State, mutation merge.Mutation) (result merge.Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: panic during merge: %v", merge.ErrInvariantViolation, recovered)
		}
	}()
	return state.Apply(mutation)
}

// resetLocked tears the room down after an invariant violation. Members are
// closed so their clients reconnect and receive a freshly seeded snapshot.
func (m *Manager) resetLocked(target *room, cause error) {
	roomResets.Inc()
	m.logger.Error("room reset",
		zap.String("document_id", target.id.String()),
		zap.Int("members", len(target.members)),
		zap.Error(cause))
	target.closed = true
	target.state = nil
	for id, member := range target.members {
		member.setRoom("")
		m.presence.Forget(id)
		member.Close(CloseRoomReset, ReasonRoomReset)
	}
	target.members = make(map[ConnectionID]*Connection)
	target.refreshAudienceLocked()
}

func (m *Manager) publishPresenceLocked(target *room, event string, entry PresenceEntry, exclude ConnectionID) {
	message, err := EncodeEnvelope(MessagePresence, target.id, target.state.Revision(), PresenceEventPayload{
		Event:   event,
		Entries: []PresenceEntry{entry},
	})
	if err != nil {
		m.logger.Warn("presence encode failed", zap.String("document_id", target.id.String()), zap.Error(err))
		return
	}
	m.dispatcher.Publish(target.recipients(), message, exclude)
}

// PublishPresence broadcasts a cursor or viewport change to the rest of the
// room. It reads the room's published member list instead of taking the
// room lock.
func (m *Manager) PublishPresence(conn *Connection) {
	roomID := conn.RoomID()
	if roomID == "" {
		return
	}
	target := m.lookup(roomID)
	if target == nil {
		return
	}
	message, err := EncodeEnvelope(MessagePresence, roomID, 0, PresenceEventPayload{
		Event:   PresenceUpdate,
		Entries: []PresenceEntry{m.presence.Entry(conn)},
	})
	if err != nil {
		m.logger.Warn("presence encode failed", zap.String("document_id", roomID.String()), zap.Error(err))
		return
	}
	m.dispatcher.Publish(target.recipients(), message, conn.ID())
}

// Snapshot returns the current merged state of a live room.
func (m *Manager) Snapshot(roomID document.DocumentID) (document.Snapshot, bool) {
	target := m.lookup(roomID)
	if target == nil {
		return document.Snapshot{}, false
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	if target.closed || target.state == nil {
		return document.Snapshot{}, false
	}
	return target.state.Snapshot(), true
}

// CommentAuthor returns the author of a comment in a live room.
func (m *Manager) CommentAuthor(roomID document.DocumentID, commentID document.EntityID) (document.UserID, bool) {
	target := m.lookup(roomID)
	if target == nil {
		return "", false
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	if target.state == nil {
		return "", false
	}
	comment, ok := target.state.Comment(commentID)
	if !ok {
		return "", false
	}
	return comment.Author, true
}

// Rooms returns the number of live rooms.
func (m *Manager) Rooms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
