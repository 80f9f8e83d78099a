package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"go.uber.org/zap"
)

// Reason codes reported with a denial.
const (
	ReasonInvalidRequest    = "invalid_request"
	ReasonNoAccess          = "no_access"
	ReasonInsufficientLevel = "insufficient_level"
	ReasonLookupFailed      = "lookup_failed"
)

var (
	// ErrDenied is matched by every denial returned from Authorize.
	ErrDenied = errors.New("access: denied")

	errMissingLookup = errors.New("access: permission lookup is required")
)

// PermissionLookup resolves document permissions. Implementations must
// reflect revocations promptly; the guard never caches their answers.
type PermissionLookup interface {
	AccessLevel(ctx context.Context, userID document.UserID, documentID document.DocumentID) (Level, error)
}

// DeniedError describes why an authorization check failed.
type DeniedError struct {
	Reason   string
	Required Level
	Held     Level
	Err      error
}

func (e *DeniedError) Error() string {
	message := fmt.Sprintf("%s: %s (required %s, held %s)", ErrDenied.Error(), e.Reason, e.Required, e.Held)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", message, e.Err)
	}
	return message
}

// Is lets errors.Is match ErrDenied.
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

func (e *DeniedError) Unwrap() error {
	return e.Err
}

// GuardConfig describes the dependencies for a Guard.
type GuardConfig struct {
	Lookup PermissionLookup
	Logger *zap.Logger
}

// Guard checks that an identity holds a required level on a document.
type Guard struct {
	lookup PermissionLookup
	logger *zap.Logger
}

// NewGuard constructs a Guard.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Lookup == nil {
		return nil, errMissingLookup
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{lookup: cfg.Lookup, logger: logger}, nil
}

// Authorize returns the level held by the user when it satisfies required,
// or a *DeniedError otherwise. Lookup failures deny.
func (g *Guard) Authorize(ctx context.Context, userID document.UserID, documentID document.DocumentID, required Level) (Level, error) {
	if userID == "" || documentID == "" || required <= LevelNone {
		return LevelNone, &DeniedError{Reason: ReasonInvalidRequest, Required: required}
	}

	held, err := g.lookup.AccessLevel(ctx, userID, documentID)
	if err != nil {
		g.logger.Warn("permission lookup failed",
			zap.String("user_id", userID.String()),
			zap.String("document_id", documentID.String()),
			zap.Error(err))
		return LevelNone, &DeniedError{Reason: ReasonLookupFailed, Required: required, Err: err}
	}
	if held == LevelNone {
		return LevelNone, &DeniedError{Reason: ReasonNoAccess, Required: required}
	}
	if !held.Satisfies(required) {
		return held, &DeniedError{Reason: ReasonInsufficientLevel, Required: required, Held: held}
	}
	return held, nil
}
