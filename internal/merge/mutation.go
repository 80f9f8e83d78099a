package merge

import (
	"errors"
	"fmt"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
)

// EntityKind selects the record type a mutation targets.
type EntityKind string

const (
	// EntityAnnotation targets an annotation record.
	EntityAnnotation EntityKind = "annotation"
	// EntityComment targets a comment record.
	EntityComment EntityKind = "comment"
)

// Action enumerates mutation verbs.
type Action string

const (
	// ActionCreate introduces a new entity. Resubmitting it is a no-op; a
	// different create for the same id merges field by field.
	ActionCreate Action = "create"
	// ActionUpdate writes the supplied fields.
	ActionUpdate Action = "update"
	// ActionDelete writes deleted=true.
	ActionDelete Action = "delete"
)

// Field names a mutable field in a merge result.
type Field string

const (
	// FieldCreated marks a change of the creation fields: kind, author and,
	// for comments, thread placement and creation time.
	FieldCreated Field = "created"
	// FieldPosition is the annotation page rectangle.
	FieldPosition Field = "position"
	// FieldColor is the annotation color.
	FieldColor Field = "color"
	// FieldText is the annotation note text.
	FieldText Field = "text"
	// FieldContent is the comment body.
	FieldContent Field = "content"
	// FieldResolved is the comment resolution flag.
	FieldResolved Field = "resolved"
	// FieldDeleted is the tombstone flag shared by both entities.
	FieldDeleted Field = "deleted"
)

var (
	// ErrInvalidMutation indicates a structurally unusable mutation.
	ErrInvalidMutation = errors.New("merge: invalid mutation")
	// ErrEntityNotFound indicates an update or delete against an unknown entity.
	ErrEntityNotFound = errors.New("merge: entity not found")
	// ErrParentNotFound indicates a reply whose parent comment is not present.
	ErrParentNotFound = errors.New("merge: parent comment not found")
	// ErrAnnotationNotFound indicates a comment linked to an unknown annotation.
	ErrAnnotationNotFound = errors.New("merge: linked annotation not found")
	// ErrInvariantViolation indicates room state that can no longer be trusted.
	ErrInvariantViolation = errors.New("merge: invariant violation")
	// ErrClockExhausted indicates the room clock cannot advance further.
	ErrClockExhausted = errors.New("merge: room clock exhausted")

	// ErrTimestampAhead indicates a client stamp beyond the next room tick.
	ErrTimestampAhead = fmt.Errorf("%w: timestamp ahead of room clock", ErrInvalidMutation)
	// ErrReplyBeforeParent indicates a reply stamped no later than its parent.
	ErrReplyBeforeParent = fmt.Errorf("%w: reply stamped before its parent", ErrInvalidMutation)
)

// AnnotationChange carries annotation field writes. Nil pointers leave the
// field untouched.
type AnnotationChange struct {
	Kind     document.AnnotationKind
	Position *document.Rect
	Color    *string
	Text     *string
	Deleted  *bool
}

// complete fills the fields a create leaves out with their zero values so
// that a colliding create writes every field.
func (c AnnotationChange) complete() AnnotationChange {
	if c.Position == nil {
		c.Position = &document.Rect{}
	}
	if c.Color == nil {
		c.Color = new(string)
	}
	if c.Text == nil {
		c.Text = new(string)
	}
	c.Deleted = new(bool)
	return c
}

// CommentChange carries comment field writes. ParentID and AnnotationID are
// only read on create.
type CommentChange struct {
	ParentID     document.EntityID
	AnnotationID document.EntityID
	Content      *string
	Resolved     *bool
	Deleted      *bool
}

func (c CommentChange) complete() CommentChange {
	if c.Content == nil {
		c.Content = new(string)
	}
	if c.Resolved == nil {
		c.Resolved = new(bool)
	}
	c.Deleted = new(bool)
	return c
}

// Mutation is a single field-level change to one entity, stamped with a
// logical timestamp from the room clock and the issuing connection.
type Mutation struct {
	Entity      EntityKind
	Action      Action
	EntityID    document.EntityID
	Timestamp   int64
	Origin      string
	Author      document.UserID
	WallSeconds int64
	Annotation  AnnotationChange
	Comment     CommentChange
}

func (m Mutation) stamp() document.Stamp {
	return document.Stamp{Timestamp: m.Timestamp, Origin: m.Origin}
}

func (m Mutation) validate() error {
	if m.EntityID == "" {
		return fmt.Errorf("%w: empty entity id", ErrInvalidMutation)
	}
	if m.Timestamp <= 0 {
		return fmt.Errorf("%w: non-positive timestamp %d", ErrInvalidMutation, m.Timestamp)
	}
	if m.Origin == "" {
		return fmt.Errorf("%w: empty origin", ErrInvalidMutation)
	}
	switch m.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidMutation, m.Action)
	}
	switch m.Entity {
	case EntityAnnotation:
		if m.Action == ActionCreate && m.Annotation.Kind == "" {
			return fmt.Errorf("%w: annotation kind required on create", ErrInvalidMutation)
		}
	case EntityComment:
		if m.Comment.ParentID != "" && m.Comment.ParentID == m.EntityID {
			return fmt.Errorf("%w: comment cannot parent itself", ErrInvalidMutation)
		}
	default:
		return fmt.Errorf("%w: unknown entity %q", ErrInvalidMutation, m.Entity)
	}
	if m.Action == ActionCreate && m.Author == "" {
		return fmt.Errorf("%w: author required on create", ErrInvalidMutation)
	}
	return nil
}

// Result is the authoritative outcome of applying a mutation. Exactly one of
// Annotation or Comment is set and holds a copy of the merged record.
type Result struct {
	Entity     EntityKind
	Annotation *document.Annotation
	Comment    *document.Comment
	Fields     []Field
	Created    bool
	Revision   int64
}

// Changed reports whether the mutation altered state.
func (r Result) Changed() bool {
	return r.Created || len(r.Fields) > 0
}

// Duplicate reports whether the mutation was already reflected in state.
func (r Result) Duplicate() bool {
	return !r.Changed()
}
