package bullwark

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Error kinds
// ============================================================================

// Kind classifies every error the SDK returns. Callers switch on the kind
// instead of on concrete types.
type Kind int

const (
	KindUnknown Kind = iota
	KindMalformedToken
	KindMissingKeyID
	KindKeyNotFound
	KindKeySourceUnavailable
	KindSignatureInvalid
	KindInvalidExpiry
	KindTokenExpired
	KindInvalidConfiguration
	KindConnectivity
	KindInvalidCredentials
	KindInvalidInput
	KindSessionSuperseded
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindMalformedToken:       "malformed token",
	KindMissingKeyID:         "missing key id",
	KindKeyNotFound:          "key not found",
	KindKeySourceUnavailable: "key source unavailable",
	KindSignatureInvalid:     "signature invalid",
	KindInvalidExpiry:        "invalid expiry",
	KindTokenExpired:         "token expired",
	KindInvalidConfiguration: "invalid configuration",
	KindConnectivity:         "connectivity",
	KindInvalidCredentials:   "invalid credentials",
	KindInvalidInput:         "invalid input",
	KindSessionSuperseded:    "session superseded",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Fatal reports whether an error of this kind means a token cannot be
// trusted. Fatal errors always tear the session down.
func (k Kind) Fatal() bool {
	switch k {
	case KindMalformedToken, KindMissingKeyID, KindKeyNotFound,
		KindSignatureInvalid, KindInvalidExpiry, KindTokenExpired:
		return true
	}
	return false
}

// ============================================================================
// Error
// ============================================================================

// Error is the single error type returned by the SDK.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("bullwark: %s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("bullwark: %s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("bullwark: %s: %v", e.Kind, e.Err)
	default:
		return "bullwark: " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the Err* sentinels work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrMalformedToken       = &Error{Kind: KindMalformedToken}
	ErrMissingKeyID         = &Error{Kind: KindMissingKeyID}
	ErrKeyNotFound          = &Error{Kind: KindKeyNotFound}
	ErrKeySourceUnavailable = &Error{Kind: KindKeySourceUnavailable}
	ErrSignatureInvalid     = &Error{Kind: KindSignatureInvalid}
	ErrInvalidExpiry        = &Error{Kind: KindInvalidExpiry}
	ErrTokenExpired         = &Error{Kind: KindTokenExpired}
	ErrInvalidConfiguration = &Error{Kind: KindInvalidConfiguration}
	ErrConnectivity         = &Error{Kind: KindConnectivity}
	ErrInvalidCredentials   = &Error{Kind: KindInvalidCredentials}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrSessionSuperseded    = &Error{Kind: KindSessionSuperseded}
)

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ============================================================================
// API errors
// ============================================================================

// APIError is a non-2xx response from the Bullwark API.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// parseErrorResponse turns a non-2xx response into an *APIError. Bodies that
// aren't JSON fall back to the status text.
func parseErrorResponse(status int, body []byte) *APIError {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		apiErr.StatusCode = status
		return &apiErr
	}

	// Bullwark also answers with {"message": "..."} on some routes.
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &msg); err == nil && msg.Message != "" {
		return &APIError{StatusCode: status, Code: "error", Description: msg.Message}
	}

	return &APIError{
		StatusCode:  status,
		Code:        "server_error",
		Description: http.StatusText(status),
	}
}
