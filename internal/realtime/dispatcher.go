package realtime

import (
	"go.uber.org/zap"
)

// Dispatcher fans messages out to room members. Delivery to each member is a
// non-blocking enqueue; a member whose queue is full is closed and left for
// its session to clean up, so one slow consumer never stalls the room.
type Dispatcher struct {
	logger *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger}
}

// Publish delivers message to every member except exclude and returns the
// number of members that accepted it. The member list belongs to the room,
// so fan-out never touches another room's connections.
func (d *Dispatcher) Publish(members []*Connection, message []byte, exclude ConnectionID) int {
	if len(message) == 0 {
		return 0
	}
	delivered := 0
	for _, conn := range members {
		if conn.ID() == exclude {
			continue
		}
		if d.SendTo(conn, message) {
			delivered++
		}
	}
	return delivered
}

// SendTo delivers message to a single connection.
func (d *Dispatcher) SendTo(conn *Connection, message []byte) bool {
	if conn.enqueue(message) {
		return true
	}
	if !conn.Close(CloseSlowConsumer, ReasonSlowConsumer) {
		return false
	}
	slowConsumerDrops.Inc()
	d.logger.Warn("slow consumer dropped",
		zap.String("connection_id", conn.ID().String()),
		zap.String("user_id", conn.UserID().String()),
		zap.String("document_id", conn.RoomID().String()),
		zap.Int("queue_depth", conn.QueueDepth()))
	return false
}
