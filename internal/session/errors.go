package session

import (
	"context"
	"errors"

	"github.com/vtu-pay/vtu_pay/internal/api"
)

var (
	// ErrNoToken means a login-style response succeeded but carried no
	// token under any known envelope.
	ErrNoToken = errors.New("session: no token in response")
	// ErrNotAuthenticated is returned by operations that need a token.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrPinMismatch means the PIN and its confirmation differ.
	ErrPinMismatch = errors.New("session: transaction pins do not match")
	// ErrInvalidPin means the PIN is not exactly five digits.
	ErrInvalidPin = errors.New("session: transaction pin must be 5 digits")
	// ErrInvalidOTP means the verification code is not a 6-digit number.
	ErrInvalidOTP = errors.New("session: otp must be 6 digits")
	// ErrRejected means a 2xx response declared failure in its body.
	ErrRejected = errors.New("session: request rejected")
)

const (
	msgNetwork       = "Network error. Please check your connection and try again."
	msgNoToken       = "Login failed: no authentication token was returned. Please try again."
	msgUnauthorized  = "Your session has expired. Please log in again."
	msgPinMismatch   = "PINs do not match."
	msgInvalidPin    = "Transaction PIN must be exactly 5 digits."
	msgInvalidOTP    = "Enter the 6-digit code sent to your email."
	msgGenericFailed = "Something went wrong. Please try again."
)

// rejection carries the backend message of a 2xx response that declared
// failure.
type rejection struct {
	message string
}

func (r *rejection) Error() string { return r.message }
func (r *rejection) Unwrap() error { return ErrRejected }

func rejected(raw map[string]any) error {
	msg := ResponseMessage(raw)
	if msg == "" {
		msg = msgGenericFailed
	}
	return &rejection{message: msg}
}

// UserMessage renders err for display. Backend messages pass through
// verbatim; local failures map to fixed text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *api.Error
	var rej *rejection
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.As(err, &rej):
		return rej.message
	case errors.Is(err, api.ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return msgNetwork
	case errors.Is(err, ErrNoToken):
		return msgNoToken
	case errors.Is(err, ErrNotAuthenticated):
		return msgUnauthorized
	case errors.Is(err, ErrPinMismatch):
		return msgPinMismatch
	case errors.Is(err, ErrInvalidPin):
		return msgInvalidPin
	case errors.Is(err, ErrInvalidOTP):
		return msgInvalidOTP
	default:
		return msgGenericFailed
	}
}
