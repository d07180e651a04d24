package game

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the HTTP and websocket layers can map it to a
// status code or close code without parsing message text.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInvalidState        Kind = "invalid_state"
	KindPermissionDenied    Kind = "permission_denied"
	KindNameConflict        Kind = "name_conflict"
	KindCapacityExhausted   Kind = "capacity_exhausted"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindNoSongAvailable     Kind = "no_song_available"
	KindClientProtocol      Kind = "client_protocol"
	KindRoomGone            Kind = "room_gone"
	KindBackpressureDropped Kind = "backpressure_dropped"
)

// Error is the failure type returned by every Room and Registry operation.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds an Error with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying error.
func WrapError(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// KindOf extracts the Kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
