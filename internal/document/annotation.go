package document

import (
	"errors"
	"fmt"
	"strings"
)

// AnnotationKind enumerates the supported annotation shapes.
type AnnotationKind string

const (
	// AnnotationKindHighlight marks a highlighted text range.
	AnnotationKindHighlight AnnotationKind = "highlight"
	// AnnotationKindUnderline marks an underlined text range.
	AnnotationKindUnderline AnnotationKind = "underline"
	// AnnotationKindStrikeout marks a struck-out text range.
	AnnotationKindStrikeout AnnotationKind = "strikeout"
	// AnnotationKindNote pins a sticky note to a point on the page.
	AnnotationKindNote AnnotationKind = "note"
	// AnnotationKindShape is a rectangle or ellipse markup.
	AnnotationKindShape AnnotationKind = "shape"
	// AnnotationKindFreeform is an ink stroke. Its payload is replaced as a
	// whole through the text field; stroke-level merging is not performed.
	AnnotationKindFreeform AnnotationKind = "freeform"
)

// ErrInvalidAnnotationKind indicates an unknown annotation kind.
var ErrInvalidAnnotationKind = errors.New("document: invalid annotation kind")

// ParseAnnotationKind validates raw input and returns an AnnotationKind.
func ParseAnnotationKind(rawInput string) (AnnotationKind, error) {
	switch kind := AnnotationKind(strings.ToLower(strings.TrimSpace(rawInput))); kind {
	case AnnotationKindHighlight, AnnotationKindUnderline, AnnotationKindStrikeout,
		AnnotationKindNote, AnnotationKindShape, AnnotationKindFreeform:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAnnotationKind, rawInput)
	}
}

// Rect locates an annotation on a page in page-relative units.
type Rect struct {
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// AnnotationClocks holds one last-write stamp per mutable annotation field.
// Created is the stamp of the earliest create, which owns kind and author.
type AnnotationClocks struct {
	Created  Stamp `json:"created"`
	Position Stamp `json:"position"`
	Color    Stamp `json:"color"`
	Text     Stamp `json:"text"`
	Deleted  Stamp `json:"deleted"`
}

// Max returns the winning stamp across all fields.
func (clocks AnnotationClocks) Max() Stamp {
	return clocks.Created.Max(clocks.Position).Max(clocks.Color).Max(clocks.Text).Max(clocks.Deleted)
}

// Annotation is the merged state of a single annotation record.
type Annotation struct {
	ID         EntityID         `json:"id"`
	DocumentID DocumentID       `json:"documentId"`
	Author     UserID           `json:"author"`
	Kind       AnnotationKind   `json:"kind"`
	Position   Rect             `json:"position"`
	Color      string           `json:"color"`
	Text       string           `json:"text"`
	Deleted    bool             `json:"deleted"`
	Clocks     AnnotationClocks `json:"clocks"`
	Revision   int64            `json:"revision"`
}
