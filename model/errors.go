package model

import "fmt"

// Standard error codes. Configuration errors are the only fatal class; every
// other failure degrades to the anonymous/default state or an inline message.
const (
	ErrCodeConfig          = "CONFIG_ERROR"
	ErrCodeBackend         = "BACKEND_ERROR"
	ErrCodeBackendTimeout  = "BACKEND_TIMEOUT"
	ErrCodeProtocolTimeout = "PROTOCOL_TIMEOUT"
	ErrCodeUnavailable     = "BACKEND_UNAVAILABLE"
)

// BridgeError is the uniform error shape crossing component boundaries.
// Message is safe to surface inline to the end user.
type BridgeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrMissingWidgetURL is the fatal configuration error: without a widget URL
// the loader refuses to initialize.
var ErrMissingWidgetURL = &BridgeError{
	Code:    ErrCodeConfig,
	Message: "widget URL is required",
}

// NewBackendError wraps a backend failure (transport error or success:false
// envelope) with a user-presentable message.
func NewBackendError(msg string) *BridgeError {
	if msg == "" {
		msg = "Something went wrong. Please try again."
	}
	return &BridgeError{Code: ErrCodeBackend, Message: msg}
}

// NewBackendTimeoutError reports a backend call that exceeded its deadline.
func NewBackendTimeoutError() *BridgeError {
	return &BridgeError{
		Code:    ErrCodeBackendTimeout,
		Message: "The service did not respond in time. Please try again.",
	}
}

// NewProtocolTimeoutError reports a host-mediated round-trip that never
// received its result message within the bounded wait.
func NewProtocolTimeoutError(action string) *BridgeError {
	return &BridgeError{
		Code:    ErrCodeProtocolTimeout,
		Message: fmt.Sprintf("%s timed out. Please try again.", action),
	}
}

// NewUnavailableError reports a backend rejected by the circuit breaker.
func NewUnavailableError() *BridgeError {
	return &BridgeError{
		Code:    ErrCodeUnavailable,
		Message: "The service is temporarily unavailable. Please try again later.",
	}
}
