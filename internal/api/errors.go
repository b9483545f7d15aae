package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNetwork wraps transport failures where no response was received.
var ErrNetwork = errors.New("network unavailable")

// Error is a failure declared by the backend. Message is the backend's own
// text and is safe to show to the user verbatim.
type Error struct {
	Status  int
	Message string
	Body    map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

// Unauthorized reports whether the backend rejected the credential.
func (e *Error) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// IsUnauthorized reports whether err is a backend 401.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}

func newError(status int, body map[string]any) *Error {
	msg := firstString(body, "message", "error", "detail")
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", status)
		if text := http.StatusText(status); text != "" {
			msg = fmt.Sprintf("%s (%d)", text, status)
		}
	}
	return &Error{Status: status, Message: msg, Body: body}
}

func firstString(body map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := body[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
