package realtime

import (
	"errors"
	"fmt"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/access"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/merge"
)

// Kind classifies failures surfaced by the collaboration core.
type Kind string

const (
	// KindUnauthorized marks a failed access check.
	KindUnauthorized Kind = "unauthorized"
	// KindNotFound marks a reference to a room or entity that does not exist.
	KindNotFound Kind = "not_found"
	// KindConflict is resolved by the merge engine and never reaches clients.
	KindConflict Kind = "conflict"
	// KindTransient marks persistence or network failures that may succeed later.
	KindTransient Kind = "transient"
	// KindFatal marks an invariant violation that forces a room reset.
	KindFatal Kind = "fatal"
	// KindInvalid marks a malformed inbound message.
	KindInvalid Kind = "invalid"
)

// Wire reason codes.
const (
	ReasonInvalidPayload         = "invalid_payload"
	ReasonUnknownType            = "unknown_type"
	ReasonRoomMismatch           = "room_mismatch"
	ReasonNotJoined              = "not_joined"
	ReasonRoomNotFound           = "room_not_found"
	ReasonRoomUnavailable        = "room_unavailable"
	ReasonEntityNotFound         = "entity_not_found"
	ReasonParentNotFound         = "parent_not_found"
	ReasonAnnotationNotFound     = "annotation_not_found"
	ReasonInsufficientPermission = "insufficient_permission"
	ReasonPermissionCheckFailed  = "permission_check_failed"
	ReasonRoomReset              = "room_reset"
	ReasonSlowConsumer           = "slow_consumer"
	ReasonHeartbeatTimeout       = "heartbeat_timeout"
	ReasonServerShutdown         = "server_shutdown"
)

// Close codes sent when the server ends a connection.
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseForbidden        = 4403
	CloseHeartbeatTimeout = 4408
	CloseSlowConsumer     = 4429
	CloseRoomReset        = 4500
)

var (
	errMissingGuard       = errors.New("realtime: authorizer is required")
	errMissingLoader      = errors.New("realtime: snapshot loader is required")
	errMissingStore       = errors.New("realtime: durable store is required")
	errMissingRegistry    = errors.New("realtime: registry is required")
	errDuplicateID        = errors.New("realtime: duplicate connection id")
	errConnectionNotFound = errors.New("realtime: connection not registered")
	errConnectionClosed   = errors.New("realtime: connection closed")
)

// Error is a classified failure with the reason code reported to clients.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("realtime %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("realtime %s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// KindOf returns the Kind carried by err, or KindTransient when err is not
// classified.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindTransient
}

// classifyMergeError maps merge engine failures onto the taxonomy.
func classifyMergeError(err error) *Error {
	switch {
	case errors.Is(err, merge.ErrInvariantViolation):
		return newError(KindFatal, ReasonRoomReset, err)
	case errors.Is(err, merge.ErrEntityNotFound):
		return newError(KindNotFound, ReasonEntityNotFound, err)
	case errors.Is(err, merge.ErrParentNotFound):
		return newError(KindNotFound, ReasonParentNotFound, err)
	case errors.Is(err, merge.ErrAnnotationNotFound):
		return newError(KindNotFound, ReasonAnnotationNotFound, err)
	case errors.Is(err, merge.ErrInvalidMutation):
		return newError(KindInvalid, ReasonInvalidPayload, err)
	default:
		return newError(KindFatal, ReasonRoomReset, err)
	}
}

// classifyAccessError maps an access denial onto the taxonomy.
func classifyAccessError(err error) *Error {
	var denied *access.DeniedError
	if errors.As(err, &denied) && denied.Reason == access.ReasonLookupFailed {
		return newError(KindUnauthorized, ReasonPermissionCheckFailed, err)
	}
	return newError(KindUnauthorized, ReasonInsufficientPermission, err)
}
