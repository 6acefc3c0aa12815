package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes gateway errors. Every handler normalizes upstream
// failures to one of these before responding.
type Kind int

const (
	KindValidation Kind = iota
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConfiguration
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConfiguration:
		return "configuration"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// HTTPStatus maps an error kind to its response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConfiguration, KindUpstream:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a gateway error with a stable machine-readable code.
// The wrapped cause is logged server side and never echoed to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the response status for the error.
func (e *Error) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// WithCause attaches an underlying error for server-side logging.
func (e *Error) WithCause(err error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: err}
}

// AsError extracts a gateway *Error from err's chain, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Error codes surfaced to clients.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidSession     = "INVALID_SESSION"
	CodeNotAuthenticated   = "NOT_AUTHENTICATED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeConfiguration      = "CONFIGURATION_ERROR"
	CodeUpstream           = "UPSTREAM_ERROR"
	CodeInvalidState       = "INVALID_OAUTH_STATE"
)

// NewValidation builds a 400 validation error.
func NewValidation(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message}
}

// ErrInvalidCredentials returns the generic 401 for failed logins.
// The message is identical whether or not the username exists, so the
// endpoint cannot be used as a username oracle.
func ErrInvalidCredentials() *Error {
	return &Error{Kind: KindAuthentication, Code: CodeInvalidCredentials, Message: "invalid credentials"}
}

// ErrInvalidSession marks a cookie that failed to parse. This is distinct
// from "never logged in": the client is told the session is corrupted.
func ErrInvalidSession() *Error {
	return &Error{Kind: KindAuthentication, Code: CodeInvalidSession, Message: "session cookie is invalid"}
}

// ErrNotAuthenticated marks a request that requires a session and has none.
func ErrNotAuthenticated() *Error {
	return &Error{Kind: KindAuthentication, Code: CodeNotAuthenticated, Message: "authentication required"}
}

// NewForbidden builds a 403 authorization error.
func NewForbidden(message string) *Error {
	return &Error{Kind: KindAuthorization, Code: CodeForbidden, Message: message}
}

// NewNotFound builds a 404 error.
func NewNotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: message}
}

// NewConfiguration builds a 500 for absent required server configuration.
// Never conflated with authentication failures.
func NewConfiguration(message string) *Error {
	return &Error{Kind: KindConfiguration, Code: CodeConfiguration, Message: message}
}

// NewUpstream builds a 500 for identity/data service failures.
func NewUpstream(message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Code: CodeUpstream, Message: message, Err: cause}
}

// ErrInvalidState builds the 400 returned when the OAuth state round trip
// fails validation.
func ErrInvalidState(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidState, Message: message}
}
