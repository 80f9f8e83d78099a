package merge

import (
	"fmt"
	"math"
	"sort"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
)

// State is the in-memory merged annotation and comment state of one
// document. It is not safe for concurrent use; callers serialize access.
type State struct {
	documentID  document.DocumentID
	annotations map[document.EntityID]*document.Annotation
	comments    map[document.EntityID]*document.Comment
	clock       int64
	revision    int64
}

// NewState returns empty state for the document.
func NewState(documentID document.DocumentID) *State {
	return &State{
		documentID:  documentID,
		annotations: make(map[document.EntityID]*document.Annotation),
		comments:    make(map[document.EntityID]*document.Comment),
	}
}

// Seed rebuilds state from a persisted snapshot. The room clock resumes at
// the highest stamp found and the revision at the highest record revision.
func Seed(snapshot document.Snapshot) (*State, error) {
	state := NewState(snapshot.DocumentID)
	for index := range snapshot.Annotations {
		annotation := snapshot.Annotations[index]
		if annotation.ID == "" {
			return nil, fmt.Errorf("%w: annotation without id", ErrInvariantViolation)
		}
		state.annotations[annotation.ID] = &annotation
		state.observe(annotation.Clocks.Max().Timestamp)
		state.revision = max(state.revision, annotation.Revision)
	}
	for index := range snapshot.Comments {
		comment := snapshot.Comments[index]
		if comment.ID == "" {
			return nil, fmt.Errorf("%w: comment without id", ErrInvariantViolation)
		}
		state.comments[comment.ID] = &comment
		state.observe(comment.Clocks.Max().Timestamp)
		state.revision = max(state.revision, comment.Revision)
	}
	state.clock = max(state.clock, snapshot.Clock)
	state.revision = max(state.revision, snapshot.Revision)
	if err := state.verifyThreads(); err != nil {
		return nil, err
	}
	return state, nil
}

// DocumentID returns the document the state belongs to.
func (s *State) DocumentID() document.DocumentID {
	return s.documentID
}

// Clock returns the highest logical timestamp observed.
func (s *State) Clock() int64 {
	return s.clock
}

// Revision returns the number of state-changing mutations applied, offset by
// the seeded revision.
func (s *State) Revision() int64 {
	return s.revision
}

// NextTimestamp issues a logical timestamp greater than any observed so far.
func (s *State) NextTimestamp() (int64, error) {
	if s.clock == math.MaxInt64 {
		return 0, ErrClockExhausted
	}
	s.clock++
	return s.clock, nil
}

// CheckTimestamp reports whether a client-supplied timestamp may be applied.
// A client may run at most one tick ahead of the room clock.
func (s *State) CheckTimestamp(timestamp int64) error {
	if timestamp > 0 && timestamp-1 > s.clock {
		return fmt.Errorf("%w: %d with clock at %d", ErrTimestampAhead, timestamp, s.clock)
	}
	return nil
}

func (s *State) observe(timestamp int64) {
	if timestamp > s.clock {
		s.clock = timestamp
	}
}

// Snapshot returns a deep copy of the state ordered by identifier.
func (s *State) Snapshot() document.Snapshot {
	snapshot := document.Snapshot{
		DocumentID:  s.documentID,
		Revision:    s.revision,
		Clock:       s.clock,
		Annotations: make([]document.Annotation, 0, len(s.annotations)),
		Comments:    make([]document.Comment, 0, len(s.comments)),
	}
	for _, annotation := range s.annotations {
		snapshot.Annotations = append(snapshot.Annotations, *annotation)
	}
	for _, comment := range s.comments {
		snapshot.Comments = append(snapshot.Comments, *comment)
	}
	sort.Slice(snapshot.Annotations, func(i, j int) bool {
		return snapshot.Annotations[i].ID < snapshot.Annotations[j].ID
	})
	sort.Slice(snapshot.Comments, func(i, j int) bool {
		return snapshot.Comments[i].ID < snapshot.Comments[j].ID
	})
	return snapshot
}

// Annotation returns a copy of the annotation with the given id.
func (s *State) Annotation(id document.EntityID) (document.Annotation, bool) {
	annotation, ok := s.annotations[id]
	if !ok {
		return document.Annotation{}, false
	}
	return *annotation, true
}

// Comment returns a copy of the comment with the given id.
func (s *State) Comment(id document.EntityID) (document.Comment, bool) {
	comment, ok := s.comments[id]
	if !ok {
		return document.Comment{}, false
	}
	return *comment, true
}

// verifyThreads checks that every parent reference resolves and that no
// thread loops back on itself.
func (s *State) verifyThreads() error {
	for id := range s.comments {
		visited := map[document.EntityID]struct{}{}
		current := id
		for current != "" {
			if _, seen := visited[current]; seen {
				return fmt.Errorf("%w: comment thread cycle at %s", ErrInvariantViolation, current)
			}
			visited[current] = struct{}{}
			comment, ok := s.comments[current]
			if !ok {
				return fmt.Errorf("%w: comment %s references missing parent %s", ErrInvariantViolation, id, current)
			}
			current = comment.ParentID
		}
	}
	return nil
}
