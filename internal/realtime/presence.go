package realtime

import (
	"sync"
	"time"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
)

// Presence event names.
const (
	PresenceJoin   = "join"
	PresenceLeave  = "leave"
	PresenceUpdate = "update"
)

// Cursor is a pointer position on a page.
type Cursor struct {
	Page int     `json:"page" validate:"gte=0"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Viewport is the visible band of a page.
type Viewport struct {
	Page   int     `json:"page" validate:"gte=0"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom" validate:"gtefield=Top"`
}

// PresenceEntry describes one connection present in a room.
type PresenceEntry struct {
	ConnectionID ConnectionID    `json:"connectionId"`
	UserID       document.UserID `json:"userId"`
	DisplayName  string          `json:"displayName,omitempty"`
	Cursor       *Cursor         `json:"cursor,omitempty"`
	Viewport     *Viewport       `json:"viewport,omitempty"`
	LastSeen     time.Time       `json:"lastSeen"`
}

type position struct {
	cursor   *Cursor
	viewport *Viewport
}

// PresenceTracker keeps the last reported cursor and viewport per
// connection. Membership itself is read from the registry, so presence never
// lists a connection the registry has forgotten. It uses its own lock and
// never touches room state.
type PresenceTracker struct {
	registry  *Registry
	mu        sync.Mutex
	positions map[ConnectionID]position
}

// NewPresenceTracker constructs a tracker over the registry.
func NewPresenceTracker(registry *Registry) *PresenceTracker {
	return &PresenceTracker{
		registry:  registry,
		positions: make(map[ConnectionID]position),
	}
}

// Update records the latest cursor and viewport. A nil argument keeps the
// previously reported value.
func (p *PresenceTracker) Update(id ConnectionID, cursor *Cursor, viewport *Viewport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	current := p.positions[id]
	if cursor != nil {
		copied := *cursor
		current.cursor = &copied
	}
	if viewport != nil {
		copied := *viewport
		current.viewport = &copied
	}
	p.positions[id] = current
}

// Forget drops any position recorded for the connection.
func (p *PresenceTracker) Forget(id ConnectionID) {
	p.mu.Lock()
	delete(p.positions, id)
	p.mu.Unlock()
}

// Entry builds the presence entry for a connection.
func (p *PresenceTracker) Entry(conn *Connection) PresenceEntry {
	p.mu.Lock()
	current := p.positions[conn.ID()]
	p.mu.Unlock()
	entry := PresenceEntry{
		ConnectionID: conn.ID(),
		UserID:       conn.UserID(),
		DisplayName:  conn.DisplayName(),
		LastSeen:     conn.LastSeen().UTC(),
	}
	if current.cursor != nil {
		copied := *current.cursor
		entry.Cursor = &copied
	}
	if current.viewport != nil {
		copied := *current.viewport
		entry.Viewport = &copied
	}
	return entry
}

// Snapshot lists every connection joined to the room, ordered by connection
// identifier.
func (p *PresenceTracker) Snapshot(roomID document.DocumentID) []PresenceEntry {
	members := p.registry.ListByRoom(roomID)
	entries := make([]PresenceEntry, 0, len(members))
	for _, conn := range members {
		entries = append(entries, p.Entry(conn))
	}
	return entries
}
