package core

import (
	"fmt"
)

// Error is the shared error shape for the voicecart client core and its
// companion services.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors along the failure taxonomy of the session
// core: transport, protocol decode, catalog data, and liveness.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrTransport      ErrorType = "transport_error"
	ErrProtocol       ErrorType = "protocol_error"
	ErrCatalog        ErrorType = "catalog_error"
	ErrLiveness       ErrorType = "liveness_error"
	ErrAPI            ErrorType = "api_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewTransportError creates a transport error. Transport errors surface as
// user-visible alerts; they abort the session attempt but never crash the app.
func NewTransportError(message string) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: message,
	}
}

// NewProtocolError creates a protocol decode error. These are diagnostic
// only: the decoder drops malformed messages rather than propagating them.
func NewProtocolError(message string) *Error {
	return &Error{
		Type:    ErrProtocol,
		Message: message,
	}
}

// NewCatalogError creates a catalog data error.
func NewCatalogError(message string) *Error {
	return &Error{
		Type:    ErrCatalog,
		Message: message,
	}
}

// NewLivenessError creates a liveness error with a reason code. The watchdog
// attaches one of these to a forced teardown.
func NewLivenessError(message, code string) *Error {
	return &Error{
		Type:    ErrLiveness,
		Message: message,
		Code:    code,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsType reports whether err is a *Error of the given type.
func IsType(err error, t ErrorType) bool {
	e, ok := err.(*Error)
	return ok && e.Type == t
}
