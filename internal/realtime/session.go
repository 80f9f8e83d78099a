package realtime

import (
	"context"
	"errors"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/access"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/merge"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// session drives one connection: a read task handling inbound messages in
// order, a write task draining the outbound queue, and a close task that
// shuts the transport once the connection is done.
type session struct {
	hub       *Hub
	conn      *Connection
	transport Transport
	roomID    document.DocumentID
	logger    *zap.Logger
}

func (s *session) run(ctx context.Context) {
	var group errgroup.Group
	group.Go(func() error { return s.readLoop(ctx) })
	group.Go(func() error { return s.writeLoop(ctx) })
	group.Go(func() error { return s.closeLoop(ctx) })
	if err := group.Wait(); err != nil {
		s.logger.Warn("session ended with error", zap.Error(err))
	}
	s.hub.disconnect(s.conn)
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		raw, err := s.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.conn.Close(CloseGoingAway, ReasonServerShutdown)
			} else {
				s.conn.Close(CloseNormal, "")
			}
			return nil
		}
		s.hub.registry.Heartbeat(s.conn.ID())
		s.handle(ctx, raw)
		if s.conn.Closed() {
			return nil
		}
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-s.conn.Done():
			return nil
		case payload := <-s.conn.Outbound():
			if err := s.transport.Send(ctx, payload); err != nil {
				s.logger.Debug("outbound write failed", zap.Error(err))
				s.conn.Close(CloseGoingAway, "")
				return nil
			}
		}
	}
}

func (s *session) closeLoop(ctx context.Context) error {
	select {
	case <-s.conn.Done():
	case <-ctx.Done():
		s.conn.Close(CloseGoingAway, ReasonServerShutdown)
	}
	code, reason := s.conn.CloseStatus()
	if err := s.transport.Close(code, reason); err != nil && !errors.Is(err, ErrTransportClosed) {
		s.logger.Debug("transport close failed", zap.Error(err))
	}
	return nil
}

func (s *session) handle(ctx context.Context, raw []byte) {
	envelope, err := DecodeEnvelope(raw)
	if err != nil {
		s.reject(err, "")
		return
	}
	if envelope.RoomID != "" && envelope.RoomID != s.roomID.String() {
		s.reject(newError(KindInvalid, ReasonRoomMismatch, nil), "")
		return
	}

	switch envelope.Type {
	case MessageJoin:
		s.handleJoin(ctx, envelope)
	case MessageMutate:
		s.handleMutate(ctx, envelope)
	case MessagePresence:
		s.handlePresence(envelope)
	default:
		s.reject(newError(KindInvalid, ReasonUnknownType, nil), "")
	}
}

func (s *session) handleJoin(ctx context.Context, envelope Envelope) {
	if _, err := DecodePayload[JoinPayload](envelope); err != nil {
		s.reject(err, "")
		return
	}
	if _, err := s.hub.authorizer.Authorize(ctx, s.conn.UserID(), s.roomID, access.LevelView); err != nil {
		s.reject(classifyAccessError(err), "")
		s.conn.Close(CloseForbidden, ReasonInsufficientPermission)
		return
	}
	if _, err := s.hub.manager.Join(ctx, s.roomID, s.conn); err != nil {
		s.reject(err, "")
	}
}

func (s *session) handleMutate(ctx context.Context, envelope Envelope) {
	payload, err := DecodePayload[MutatePayload](envelope)
	if err != nil {
		s.reject(err, "")
		return
	}
	clientMutationID := payload.ClientMutationID
	if s.conn.RoomID() != s.roomID {
		s.reject(newError(KindUnauthorized, ReasonNotJoined, nil), clientMutationID)
		return
	}
	mutation, err := payload.Mutation()
	if err != nil {
		s.reject(err, clientMutationID)
		return
	}

	required := s.requiredLevel(mutation)
	if _, err := s.hub.authorizer.Authorize(ctx, s.conn.UserID(), s.roomID, required); err != nil {
		s.reject(classifyAccessError(err), clientMutationID)
		mutationsTotal.WithLabelValues(string(mutation.Entity), outcomeRejected).Inc()
		return
	}

	_, err = s.hub.manager.Apply(s.roomID, s.conn, Submission{ClientMutationID: clientMutationID, Mutation: mutation})
	if err != nil && KindOf(err) != KindFatal {
		s.reject(err, clientMutationID)
	}
}

// requiredLevel is edit for annotations and comment for comments, raised to
// edit when changing a comment written by someone else.
func (s *session) requiredLevel(mutation merge.Mutation) access.Level {
	if mutation.Entity == merge.EntityAnnotation {
		return access.LevelEdit
	}
	if mutation.Action != merge.ActionCreate {
		if author, ok := s.hub.manager.CommentAuthor(s.roomID, mutation.EntityID); ok && author != s.conn.UserID() {
			return access.LevelEdit
		}
	}
	return access.LevelComment
}

func (s *session) handlePresence(envelope Envelope) {
	payload, err := DecodePayload[PresencePayload](envelope)
	if err != nil {
		s.reject(err, "")
		return
	}
	if payload.Cursor == nil && payload.Viewport == nil {
		return
	}
	if s.conn.RoomID() != s.roomID {
		s.reject(newError(KindUnauthorized, ReasonNotJoined, nil), "")
		return
	}
	s.hub.presence.Update(s.conn.ID(), payload.Cursor, payload.Viewport)
	s.hub.manager.PublishPresence(s.conn)
}

// reject reports a per-message failure to this connection only.
func (s *session) reject(err error, clientMutationID string) {
	var classified *Error
	if !errors.As(err, &classified) {
		classified = newError(KindInvalid, ReasonInvalidPayload, err)
	}
	s.logger.Debug("message rejected",
		zap.String("kind", string(classified.Kind)),
		zap.String("reason", classified.Reason),
		zap.String("client_mutation_id", clientMutationID),
		zap.Error(classified.Err))

	message, encodeErr := EncodeEnvelope(MessageError, s.roomID, 0, ErrorPayload{
		Reason:           classified.Reason,
		Message:          classified.Error(),
		ClientMutationID: clientMutationID,
	})
	if encodeErr != nil {
		s.logger.Warn("error encode failed", zap.Error(encodeErr))
		return
	}
	s.hub.dispatcher.SendTo(s.conn, message)
}
