package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/merge"
	"github.com/go-playground/validator/v10"
)

// MessageType tags the payload carried by an Envelope.
type MessageType string

const (
	MessageJoin            MessageType = "join"
	MessageSnapshot        MessageType = "snapshot"
	MessageMutate          MessageType = "mutate"
	MessageMutationApplied MessageType = "mutation-applied"
	MessagePresence        MessageType = "presence"
	MessageError           MessageType = "error"
)

var (
	errEmptyMutation = errors.New("mutation carries no field changes")
	errMixedEntity   = errors.New("mutation carries fields for the other entity kind")
	errMissingID     = errors.New("entityId is required for update and delete")
	errMissingKind   = errors.New("annotation kind is required on create")

	payloadValidator = validator.New(validator.WithRequiredStructEnabled())
)

// Envelope is the frame exchanged with clients in both directions.
type Envelope struct {
	Type     MessageType     `json:"type" validate:"required,oneof=join snapshot mutate mutation-applied presence error"`
	RoomID   string          `json:"roomId,omitempty" validate:"omitempty,max=190"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Revision int64           `json:"revision"`
}

// JoinPayload is sent by a client to enter a room or to request a fresh
// snapshot after it suspects divergence.
type JoinPayload struct{}

// SnapshotPayload answers a join.
type SnapshotPayload struct {
	Snapshot     document.Snapshot `json:"snapshot"`
	Presence     []PresenceEntry   `json:"presence"`
	ConnectionID ConnectionID      `json:"connectionId"`
}

// RectPayload is an inbound annotation geometry.
type RectPayload struct {
	Page   int     `json:"page" validate:"gte=0"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width" validate:"gte=0"`
	Height float64 `json:"height" validate:"gte=0"`
}

// AnnotationPayload carries annotation field writes. Absent fields are left
// untouched.
type AnnotationPayload struct {
	Kind     string       `json:"kind,omitempty" validate:"omitempty,oneof=highlight underline strikeout note shape freeform"`
	Position *RectPayload `json:"position,omitempty"`
	Color    *string      `json:"color,omitempty" validate:"omitempty,max=64"`
	Text     *string      `json:"text,omitempty" validate:"omitempty,max=65536"`
	Deleted  *bool        `json:"deleted,omitempty"`
}

// CommentPayload carries comment field writes. ParentID and AnnotationID are
// honored on create only.
type CommentPayload struct {
	ParentID     string  `json:"parentId,omitempty" validate:"omitempty,max=190"`
	AnnotationID string  `json:"annotationId,omitempty" validate:"omitempty,max=190"`
	Content      *string `json:"content,omitempty" validate:"omitempty,max=16384"`
	Resolved     *bool   `json:"resolved,omitempty"`
	Deleted      *bool   `json:"deleted,omitempty"`
}

// MutatePayload is a single inbound mutation.
type MutatePayload struct {
	ClientMutationID string             `json:"clientMutationId,omitempty" validate:"omitempty,max=128"`
	Entity           merge.EntityKind   `json:"entity" validate:"required,oneof=annotation comment"`
	Action           merge.Action       `json:"action" validate:"required,oneof=create update delete"`
	EntityID         string             `json:"entityId,omitempty" validate:"omitempty,max=190"`
	Timestamp        int64              `json:"timestamp,omitempty" validate:"gte=0"`
	Annotation       *AnnotationPayload `json:"annotation,omitempty"`
	Comment          *CommentPayload    `json:"comment,omitempty"`
}

// MutationAppliedPayload is the authoritative outcome of a mutation.
type MutationAppliedPayload struct {
	ClientMutationID string               `json:"clientMutationId,omitempty"`
	Origin           ConnectionID         `json:"origin"`
	Entity           merge.EntityKind     `json:"entity"`
	Annotation       *document.Annotation `json:"annotation,omitempty"`
	Comment          *document.Comment    `json:"comment,omitempty"`
	Fields           []merge.Field        `json:"fields"`
	Duplicate        bool                 `json:"duplicate"`
}

// PresencePayload is an inbound cursor or viewport report. It doubles as a
// heartbeat.
type PresencePayload struct {
	Cursor   *Cursor   `json:"cursor,omitempty"`
	Viewport *Viewport `json:"viewport,omitempty"`
}

// PresenceEventPayload announces presence changes.
type PresenceEventPayload struct {
	Event   string          `json:"event"`
	Entries []PresenceEntry `json:"entries"`
}

// ErrorPayload reports a rejected message to its originator.
type ErrorPayload struct {
	Reason           string `json:"reason"`
	Message          string `json:"message"`
	ClientMutationID string `json:"clientMutationId,omitempty"`
}

// DecodeEnvelope parses and validates an inbound frame.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, newError(KindInvalid, ReasonInvalidPayload, err)
	}
	if err := payloadValidator.Struct(envelope); err != nil {
		return Envelope{}, newError(KindInvalid, ReasonInvalidPayload, err)
	}
	return envelope, nil
}

// DecodePayload unmarshals and validates the envelope payload into target.
// An absent payload decodes to the zero value.
func DecodePayload[T any](envelope Envelope) (T, error) {
	var payload T
	if len(envelope.Payload) > 0 && string(envelope.Payload) != "null" {
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return payload, newError(KindInvalid, ReasonInvalidPayload, err)
		}
	}
	if err := payloadValidator.Struct(payload); err != nil {
		return payload, newError(KindInvalid, ReasonInvalidPayload, err)
	}
	return payload, nil
}

// EncodeEnvelope marshals an outbound frame.
func EncodeEnvelope(messageType MessageType, roomID document.DocumentID, revision int64, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:     messageType,
		RoomID:   roomID.String(),
		Payload:  body,
		Revision: revision,
	})
}

// Mutation converts the payload into a merge mutation. Origin, author, wall
// time, server-assigned ids and timestamps are filled in by the room.
func (p MutatePayload) Mutation() (merge.Mutation, error) {
	mutation := merge.Mutation{
		Entity:    p.Entity,
		Action:    p.Action,
		Timestamp: p.Timestamp,
	}
	if p.EntityID != "" {
		entityID, err := document.NewEntityID(p.EntityID)
		if err != nil {
			return merge.Mutation{}, newError(KindInvalid, ReasonInvalidPayload, err)
		}
		mutation.EntityID = entityID
	} else if p.Action != merge.ActionCreate {
		return merge.Mutation{}, newError(KindInvalid, ReasonInvalidPayload, errMissingID)
	}

	switch p.Entity {
	case merge.EntityAnnotation:
		if p.Comment != nil {
			return merge.Mutation{}, newError(KindInvalid, ReasonInvalidPayload, errMixedEntity)
		}
		change, err := p.annotationChange()
		if err != nil {
			return merge.Mutation{}, err
		}
		mutation.Annotation = change
	case merge.EntityComment:
		if p.Annotation != nil {
			return merge.Mutation{}, newError(KindInvalid, ReasonInvalidPayload, errMixedEntity)
		}
		change, err := p.commentChange()
		if err != nil {
			return merge.Mutation{}, err
		}
		mutation.Comment = change
	default:
		return merge.Mutation{}, newError(KindInvalid, ReasonInvalidPayload, fmt.Errorf("unknown entity %q", p.Entity))
	}
	return mutation, nil
}

func (p MutatePayload) annotationChange() (merge.AnnotationChange, error) {
	if p.Action == merge.ActionDelete {
		return merge.AnnotationChange{}, nil
	}
	payload := p.Annotation
	if payload == nil {
		if p.Action == merge.ActionCreate {
			return merge.AnnotationChange{}, newError(KindInvalid, ReasonInvalidPayload, errMissingKind)
		}
		return merge.AnnotationChange{}, newError(KindInvalid, ReasonInvalidPayload, errEmptyMutation)
	}
	change := merge.AnnotationChange{
		Color:   payload.Color,
		Text:    payload.Text,
		Deleted: payload.Deleted,
	}
	if payload.Kind != "" {
		kind, err := document.ParseAnnotationKind(payload.Kind)
		if err != nil {
			return merge.AnnotationChange{}, newError(KindInvalid, ReasonInvalidPayload, err)
		}
		change.Kind = kind
	}
	if payload.Position != nil {
		change.Position = &document.Rect{
			Page:   payload.Position.Page,
			X:      payload.Position.X,
			Y:      payload.Position.Y,
			Width:  payload.Position.Width,
			Height: payload.Position.Height,
		}
	}
	if p.Action == merge.ActionCreate && change.Kind == "" {
		return merge.AnnotationChange{}, newError(KindInvalid, ReasonInvalidPayload, errMissingKind)
	}
	if p.Action == merge.ActionUpdate && change.Position == nil && change.Color == nil && change.Text == nil && change.Deleted == nil {
		return merge.AnnotationChange{}, newError(KindInvalid, ReasonInvalidPayload, errEmptyMutation)
	}
	return change, nil
}

func (p MutatePayload) commentChange() (merge.CommentChange, error) {
	if p.Action == merge.ActionDelete {
		return merge.CommentChange{}, nil
	}
	payload := p.Comment
	if payload == nil {
		return merge.CommentChange{}, newError(KindInvalid, ReasonInvalidPayload, errEmptyMutation)
	}
	change := merge.CommentChange{
		Content:  payload.Content,
		Resolved: payload.Resolved,
		Deleted:  payload.Deleted,
	}
	if p.Action == merge.ActionCreate {
		change.ParentID = document.EntityID(payload.ParentID)
		change.AnnotationID = document.EntityID(payload.AnnotationID)
		if change.Content == nil {
			return merge.CommentChange{}, newError(KindInvalid, ReasonInvalidPayload, errEmptyMutation)
		}
	}
	if p.Action == merge.ActionUpdate && change.Content == nil && change.Resolved == nil && change.Deleted == nil {
		return merge.CommentChange{}, newError(KindInvalid, ReasonInvalidPayload, errEmptyMutation)
	}
	return change, nil
}
