package access

import (
	"errors"
	"fmt"
	"strings"
)

// Level is an ordered permission level on a document.
type Level int

const (
	// LevelNone grants nothing.
	LevelNone Level = iota
	// LevelView allows joining a room and receiving updates.
	LevelView
	// LevelComment additionally allows comment mutations.
	LevelComment
	// LevelEdit additionally allows annotation mutations.
	LevelEdit
	// LevelAdmin allows everything, including permission management.
	LevelAdmin
)

// ErrInvalidLevel indicates an unrecognised permission level name.
var ErrInvalidLevel = errors.New("access: invalid level")

var levelNames = map[Level]string{
	LevelNone:    "none",
	LevelView:    "view",
	LevelComment: "comment",
	LevelEdit:    "edit",
	LevelAdmin:   "admin",
}

// ParseLevel converts a level name into a Level.
func ParseLevel(rawInput string) (Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	for level, name := range levelNames {
		if name == normalized {
			return level, nil
		}
	}
	return LevelNone, fmt.Errorf("%w: %q", ErrInvalidLevel, rawInput)
}

// String returns the level name.
func (level Level) String() string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(level))
}

// Satisfies reports whether level meets the required level.
func (level Level) Satisfies(required Level) bool {
	return level >= required
}
