package merge

import (
	"fmt"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
)

// Apply resolves a mutation against state using per-field last-write-wins
// and returns the authoritative result. It never blocks and never rejects a
// conflict: losing field writes are dropped silently. Errors are returned
// only for malformed mutations or references to missing entities.
func (s *State) Apply(m Mutation) (Result, error) {
	if err := m.validate(); err != nil {
		return Result{}, err
	}

	var (
		result Result
		err    error
	)
	switch m.Entity {
	case EntityAnnotation:
		result, err = s.applyAnnotation(m)
	case EntityComment:
		result, err = s.applyComment(m)
	}
	if err != nil {
		return Result{}, err
	}

	s.observe(m.Timestamp)
	if result.Changed() {
		s.revision++
		switch result.Entity {
		case EntityAnnotation:
			s.annotations[m.EntityID].Revision = s.revision
			copied := *s.annotations[m.EntityID]
			result.Annotation = &copied
		case EntityComment:
			s.comments[m.EntityID].Revision = s.revision
			copied := *s.comments[m.EntityID]
			result.Comment = &copied
		}
	}
	result.Revision = s.revision
	return result, nil
}

func (s *State) applyAnnotation(m Mutation) (Result, error) {
	stamp := m.stamp()
	existing, found := s.annotations[m.EntityID]

	if m.Action == ActionCreate && !found {
		created := &document.Annotation{
			ID:         m.EntityID,
			DocumentID: s.documentID,
			Author:     m.Author,
			Kind:       m.Annotation.Kind,
			Clocks: document.AnnotationClocks{
				Created:  stamp,
				Position: stamp,
				Color:    stamp,
				Text:     stamp,
				Deleted:  stamp,
			},
		}
		if m.Annotation.Position != nil {
			created.Position = *m.Annotation.Position
		}
		if m.Annotation.Color != nil {
			created.Color = *m.Annotation.Color
		}
		if m.Annotation.Text != nil {
			created.Text = *m.Annotation.Text
		}
		s.annotations[m.EntityID] = created
		return Result{Entity: EntityAnnotation, Created: true}, nil
	}

	if !found {
		return Result{}, fmt.Errorf("%w: annotation %s", ErrEntityNotFound, m.EntityID)
	}

	change := m.Annotation
	fields := make([]Field, 0, 5)
	switch m.Action {
	case ActionDelete:
		deleted := true
		change = AnnotationChange{Deleted: &deleted}
	case ActionCreate:
		// A create colliding with an existing id merges like an update that
		// writes every field. The earliest create keeps kind and author.
		change = change.complete()
		if existing.Clocks.Created.Beats(stamp) {
			existing.Kind = m.Annotation.Kind
			existing.Author = m.Author
			existing.Clocks.Created = stamp
			fields = append(fields, FieldCreated)
		}
	}

	if change.Position != nil && stamp.Beats(existing.Clocks.Position) {
		existing.Position = *change.Position
		existing.Clocks.Position = stamp
		fields = append(fields, FieldPosition)
	}
	if change.Color != nil && stamp.Beats(existing.Clocks.Color) {
		existing.Color = *change.Color
		existing.Clocks.Color = stamp
		fields = append(fields, FieldColor)
	}
	if change.Text != nil && stamp.Beats(existing.Clocks.Text) {
		existing.Text = *change.Text
		existing.Clocks.Text = stamp
		fields = append(fields, FieldText)
	}
	if change.Deleted != nil && stamp.Beats(existing.Clocks.Deleted) {
		existing.Deleted = *change.Deleted
		existing.Clocks.Deleted = stamp
		fields = append(fields, FieldDeleted)
	}

	if len(fields) == 0 {
		copied := *existing
		return Result{Entity: EntityAnnotation, Annotation: &copied}, nil
	}
	return Result{Entity: EntityAnnotation, Fields: fields}, nil
}

func (s *State) applyComment(m Mutation) (Result, error) {
	stamp := m.stamp()
	existing, found := s.comments[m.EntityID]

	if m.Action == ActionCreate {
		if err := s.checkCommentReferences(m); err != nil {
			return Result{}, err
		}
	}

	if m.Action == ActionCreate && !found {
		created := &document.Comment{
			ID:               m.EntityID,
			DocumentID:       s.documentID,
			ParentID:         m.Comment.ParentID,
			AnnotationID:     m.Comment.AnnotationID,
			Author:           m.Author,
			CreatedAtSeconds: m.WallSeconds,
			UpdatedAtSeconds: m.WallSeconds,
			Clocks: document.CommentClocks{
				Created:  stamp,
				Content:  stamp,
				Resolved: stamp,
				Deleted:  stamp,
			},
		}
		if m.Comment.Content != nil {
			created.Content = *m.Comment.Content
		}
		if m.Comment.Resolved != nil {
			created.Resolved = *m.Comment.Resolved
		}
		s.comments[m.EntityID] = created
		return Result{Entity: EntityComment, Created: true}, nil
	}

	if !found {
		return Result{}, fmt.Errorf("%w: comment %s", ErrEntityNotFound, m.EntityID)
	}

	previousMax := existing.Clocks.Max()
	change := m.Comment
	fields := make([]Field, 0, 4)
	switch m.Action {
	case ActionDelete:
		deleted := true
		change = CommentChange{Deleted: &deleted}
	case ActionCreate:
		// The earliest create owns author, thread placement and creation
		// time. References were checked above, and a reply always stamps
		// after its parent, so moving the comment cannot close a cycle.
		change = change.complete()
		if existing.Clocks.Created.Beats(stamp) {
			existing.Author = m.Author
			existing.ParentID = m.Comment.ParentID
			existing.AnnotationID = m.Comment.AnnotationID
			existing.CreatedAtSeconds = m.WallSeconds
			existing.Clocks.Created = stamp
			fields = append(fields, FieldCreated)
		}
	}

	if change.Content != nil && stamp.Beats(existing.Clocks.Content) {
		existing.Content = *change.Content
		existing.Clocks.Content = stamp
		fields = append(fields, FieldContent)
	}
	if change.Resolved != nil && stamp.Beats(existing.Clocks.Resolved) {
		existing.Resolved = *change.Resolved
		existing.Clocks.Resolved = stamp
		fields = append(fields, FieldResolved)
	}
	if change.Deleted != nil && stamp.Beats(existing.Clocks.Deleted) {
		existing.Deleted = *change.Deleted
		existing.Clocks.Deleted = stamp
		fields = append(fields, FieldDeleted)
	}

	if len(fields) == 0 {
		copied := *existing
		return Result{Entity: EntityComment, Comment: &copied}, nil
	}
	// UpdatedAt follows the write holding the newest stamp so that it does
	// not depend on arrival order.
	if stamp.Beats(previousMax) {
		existing.UpdatedAtSeconds = m.WallSeconds
	}
	return Result{Entity: EntityComment, Fields: fields}, nil
}

// checkCommentReferences validates the parent and annotation named by a
// comment create. Every create is checked, including ones colliding with an
// existing id, so acceptance does not depend on arrival order.
func (s *State) checkCommentReferences(m Mutation) error {
	if parentID := m.Comment.ParentID; parentID != "" {
		parent, ok := s.comments[parentID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
		}
		if !m.stamp().Beats(parent.Clocks.Created) {
			return fmt.Errorf("%w: %s", ErrReplyBeforeParent, parentID)
		}
	}
	if annotationID := m.Comment.AnnotationID; annotationID != "" {
		if _, ok := s.annotations[annotationID]; !ok {
			return fmt.Errorf("%w: %s", ErrAnnotationNotFound, annotationID)
		}
	}
	return nil
}
