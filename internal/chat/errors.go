package chat

import (
	"errors"
	"fmt"

	"community-chat/internal/database"
)

// Code is the stable wire code of a client-facing error.
type Code string

const (
	CodeAuth        Code = "auth"
	CodeForbidden   Code = "forbidden"
	CodeNotFound    Code = "notFound"
	CodeRateLimited Code = "rateLimited"
	CodeMuted       Code = "muted"
	CodeExiled      Code = "exiled"
	CodeConflict    Code = "conflict"
	CodeStore       Code = "storeError"
)

// Error is returned to the originating connection only; it is never
// broadcast to the room.
type Error struct {
	Code    Code
	Message string
	// RetryAfter is the remaining slow-mode wait in whole seconds.
	RetryAfter int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errAuth(msg string) *Error      { return &Error{Code: CodeAuth, Message: msg} }
func errForbidden(msg string) *Error { return &Error{Code: CodeForbidden, Message: msg} }
func errNotFound(msg string) *Error  { return &Error{Code: CodeNotFound, Message: msg} }
func errMuted() *Error               { return &Error{Code: CodeMuted, Message: "you are muted in this room"} }
func errExiled() *Error              { return &Error{Code: CodeExiled, Message: "you are exiled from this room"} }

func errRateLimited(remaining int) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("slow mode active, wait %ds", remaining),
		RetryAfter: remaining,
	}
}

// asClientError normalizes an arbitrary failure for the wire. Store failures
// are logged with full detail by the caller and reduced to a generic code so
// internals never leak to clients.
func asClientError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, database.ErrNotFound) {
		return errNotFound("not found")
	}
	return &Error{Code: CodeStore, Message: "internal error"}
}
