package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Denial codes returned to clients. These are the only internals a
// rejected caller ever sees; full detail travels on the SecurityEvent.
const (
	CodeIPBlocked       = "IP_BLOCKED"
	CodeGeoBlocked      = "GEO_BLOCKED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeAttackDetected  = "ATTACK_DETECTED"
	CodeRequestTooLarge = "REQUEST_TOO_LARGE"
	CodeInvalidHeaders  = "INVALID_HEADERS"
)

// DenialError is the client-facing rejection payload. The body is
// deliberately information-minimal: a generic error line, a short
// message, the denial code and the request ID for support lookups.
type DenialError struct {
	Status     int    `json:"-"`
	Err        string `json:"error"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	RequestID  string `json:"requestId,omitempty"`
	underlying error
}

func (e *DenialError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *DenialError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the denial as JSON to the response.
// Base denials (no request ID) use pre-serialized JSON to avoid allocations.
func (e *DenialError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Base denials, one per pipeline gate. Every denial is served as 403;
// rejection classes are distinguished only by the code field
// (rate-limited responses additionally carry Retry-After).
var (
	ErrIPBlocked = &DenialError{
		Status:  http.StatusForbidden,
		Err:     "Access Denied",
		Message: "Your IP address has been blocked",
		Code:    CodeIPBlocked,
	}

	ErrGeoBlocked = &DenialError{
		Status:  http.StatusForbidden,
		Err:     "Access Denied",
		Message: "Access from your region is not permitted",
		Code:    CodeGeoBlocked,
	}

	ErrRateLimited = &DenialError{
		Status:  http.StatusForbidden,
		Err:     "Access Denied",
		Message: "Too many requests, please try again later",
		Code:    CodeRateLimited,
	}

	ErrAttackDetected = &DenialError{
		Status:  http.StatusForbidden,
		Err:     "Access Denied",
		Message: "Request rejected by security policy",
		Code:    CodeAttackDetected,
	}

	ErrRequestTooLarge = &DenialError{
		Status:  http.StatusForbidden,
		Err:     "Access Denied",
		Message: "Request exceeds the maximum allowed size",
		Code:    CodeRequestTooLarge,
	}

	ErrInvalidHeaders = &DenialError{
		Status:  http.StatusForbidden,
		Err:     "Access Denied",
		Message: "Request headers failed validation",
		Code:    CodeInvalidHeaders,
	}
)

// preSerialized holds JSON-encoded bytes for base denial singletons.
var preSerialized map[*DenialError][]byte

func init() {
	bases := []*DenialError{
		ErrIPBlocked, ErrGeoBlocked, ErrRateLimited,
		ErrAttackDetected, ErrRequestTooLarge, ErrInvalidHeaders,
	}
	preSerialized = make(map[*DenialError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// ByCode returns the base denial for a code, or nil for unknown codes.
func ByCode(code string) *DenialError {
	switch code {
	case CodeIPBlocked:
		return ErrIPBlocked
	case CodeGeoBlocked:
		return ErrGeoBlocked
	case CodeRateLimited:
		return ErrRateLimited
	case CodeAttackDetected:
		return ErrAttackDetected
	case CodeRequestTooLarge:
		return ErrRequestTooLarge
	case CodeInvalidHeaders:
		return ErrInvalidHeaders
	default:
		return nil
	}
}

// New creates a new DenialError.
func New(status int, code, message string) *DenialError {
	return &DenialError{
		Status:  status,
		Err:     "Access Denied",
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an error with a denial payload.
func Wrap(err error, status int, code, message string) *DenialError {
	return &DenialError{
		Status:     status,
		Err:        "Access Denied",
		Message:    message,
		Code:       code,
		underlying: err,
	}
}

// WithRequestID returns a copy carrying a request ID.
func (e *DenialError) WithRequestID(requestID string) *DenialError {
	return &DenialError{
		Status:     e.Status,
		Err:        e.Err,
		Message:    e.Message,
		Code:       e.Code,
		RequestID:  requestID,
		underlying: e.underlying,
	}
}

// WithMessage returns a copy with a different client-facing message.
func (e *DenialError) WithMessage(msg string) *DenialError {
	return &DenialError{
		Status:     e.Status,
		Err:        e.Err,
		Message:    msg,
		Code:       e.Code,
		RequestID:  e.RequestID,
		underlying: e.underlying,
	}
}

// IsDenialError checks if an error is a DenialError.
func IsDenialError(err error) (*DenialError, bool) {
	if de, ok := err.(*DenialError); ok {
		return de, true
	}
	return nil, false
}
