package document

// CommentClocks holds one last-write stamp per mutable comment field.
// Created is the stamp of the earliest create, which owns author, thread
// placement and creation time.
type CommentClocks struct {
	Created  Stamp `json:"created"`
	Content  Stamp `json:"content"`
	Resolved Stamp `json:"resolved"`
	Deleted  Stamp `json:"deleted"`
}

// Max returns the winning stamp across all fields.
func (clocks CommentClocks) Max() Stamp {
	return clocks.Created.Max(clocks.Content).Max(clocks.Resolved).Max(clocks.Deleted)
}

// Comment is the merged state of a single comment. ParentID and
// AnnotationID are set by the earliest create and never by updates.
type Comment struct {
	ID               EntityID      `json:"id"`
	DocumentID       DocumentID    `json:"documentId"`
	ParentID         EntityID      `json:"parentId,omitempty"`
	AnnotationID     EntityID      `json:"annotationId,omitempty"`
	Author           UserID        `json:"author"`
	Content          string        `json:"content"`
	Resolved         bool          `json:"resolved"`
	Deleted          bool          `json:"deleted"`
	CreatedAtSeconds int64         `json:"createdAt"`
	UpdatedAtSeconds int64         `json:"updatedAt"`
	Clocks           CommentClocks `json:"clocks"`
	Revision         int64         `json:"revision"`
}
