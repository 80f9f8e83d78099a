package document

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("document: invalid document id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("document: invalid user id")
	// ErrInvalidEntityID indicates that an annotation or comment identifier is empty or exceeds storage bounds.
	ErrInvalidEntityID = errors.New("document: invalid entity id")
)

// DocumentID identifies a shared document. A room carries the same identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidDocumentID)
	if err != nil {
		return "", err
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidUserID)
	if err != nil {
		return "", err
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// EntityID identifies an annotation or a comment. It is stable across edits.
type EntityID string

// NewEntityID validates raw input and returns an EntityID.
func NewEntityID(rawInput string) (EntityID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidEntityID)
	if err != nil {
		return "", err
	}
	return EntityID(trimmed), nil
}

// String returns the underlying string identifier.
func (id EntityID) String() string {
	return string(id)
}

func validateIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// Stamp is the last-write marker of a single mutable field: the logical
// timestamp of the accepted write and the connection that issued it.
type Stamp struct {
	Timestamp int64  `json:"ts"`
	Origin    string `json:"origin"`
}

// Beats reports whether a write carrying stamp s replaces a field currently
// holding other. Higher timestamps win; equal timestamps fall back to the
// lexicographically greater origin. Identical stamps never win, which makes
// resubmission a no-op.
func (s Stamp) Beats(other Stamp) bool {
	if s.Timestamp != other.Timestamp {
		return s.Timestamp > other.Timestamp
	}
	return s.Origin > other.Origin
}

// Max returns whichever stamp wins between s and other.
func (s Stamp) Max(other Stamp) Stamp {
	if other.Beats(s) {
		return other
	}
	return s
}
