package realtime

import (
	"sync"
	"time"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"github.com/oklog/ulid/v2"
)

// ConnectionID identifies one live transport connection.
type ConnectionID string

// NewConnectionID returns a process-unique, time-ordered identifier.
func NewConnectionID() ConnectionID {
	return ConnectionID(ulid.Make().String())
}

// String returns the underlying identifier.
func (id ConnectionID) String() string {
	return string(id)
}

// ConnectionConfig describes a connection at transport open.
type ConnectionConfig struct {
	ID          ConnectionID
	UserID      document.UserID
	DisplayName string
	QueueSize   int
	OpenedAt    time.Time
}

// Connection is the registry's record of a live transport. Its outbound
// queue is drained by the session's write task. The queue channel is never
// closed; Done signals shutdown instead.
type Connection struct {
	id          ConnectionID
	userID      document.UserID
	displayName string
	outbound    chan []byte
	done        chan struct{}
	closeOnce   sync.Once

	mu          sync.Mutex
	roomID      document.DocumentID
	lastSeen    time.Time
	saturated   bool
	closeCode   int
	closeReason string
}

// NewConnection constructs a connection. A zero ID is replaced with a fresh
// ULID.
func NewConnection(cfg ConnectionConfig) *Connection {
	id := cfg.ID
	if id == "" {
		id = NewConnectionID()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Connection{
		id:          id,
		userID:      cfg.UserID,
		displayName: cfg.DisplayName,
		outbound:    make(chan []byte, queueSize),
		done:        make(chan struct{}),
		lastSeen:    cfg.OpenedAt,
	}
}

func (c *Connection) ID() ConnectionID {
	return c.id
}

func (c *Connection) UserID() document.UserID {
	return c.userID
}

func (c *Connection) DisplayName() string {
	return c.displayName
}

// RoomID returns the joined room, or "" before join and after leave.
func (c *Connection) RoomID() document.DocumentID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// LastSeen returns the time of the last inbound message.
func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// QueueDepth returns the number of undelivered outbound messages.
func (c *Connection) QueueDepth() int {
	return len(c.outbound)
}

// Saturated reports whether an enqueue has ever failed on a full queue.
func (c *Connection) Saturated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saturated
}

// Outbound exposes the queue to the write task.
func (c *Connection) Outbound() <-chan []byte {
	return c.outbound
}

// Done is closed once the connection has been asked to close.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close marks the connection closed with the given close code and reports
// whether this call was the one that closed it. It never blocks and takes no
// room locks, so it is safe to call from broadcast paths.
func (c *Connection) Close(code int, reason string) bool {
	closed := false
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.done)
		closed = true
	})
	return closed
}

// CloseStatus returns the code and reason recorded by Close.
func (c *Connection) CloseStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// enqueue adds payload to the outbound queue without blocking. It reports
// false when the connection is closed or the queue is full.
func (c *Connection) enqueue(payload []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.outbound <- payload:
		return true
	default:
		c.mu.Lock()
		c.saturated = true
		c.mu.Unlock()
		return false
	}
}

func (c *Connection) setRoom(roomID document.DocumentID) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

func (c *Connection) touch(now time.Time) {
	c.mu.Lock()
	if now.After(c.lastSeen) {
		c.lastSeen = now
	}
	c.mu.Unlock()
}
