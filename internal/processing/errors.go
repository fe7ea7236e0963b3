package processing

import (
	"errors"
	"fmt"
	"net/http"
)

// genericFailure is used when the service fails without saying why.
const genericFailure = "error while processing the file"

// maxDiagnosticBody bounds the raw body kept on a MalformedResponseError.
const maxDiagnosticBody = 512

// TransportError means no usable response was received: the service was
// unreachable, the request timed out or the body could not be read.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cleaning service unreachable (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServiceError is a failure declared by the service with a non-2xx status.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// MalformedResponseError is a 2xx response that does not satisfy the result schema.
type MalformedResponseError struct {
	Reason string
	Body   string // truncated raw body, for diagnosis
}

func (e *MalformedResponseError) Error() string {
	return "malformed response from cleaning service: " + e.Reason
}

func newServiceError(status int, msg string) *ServiceError {
	if msg == "" {
		msg = genericFailure
		if text := http.StatusText(status); text != "" {
			msg = fmt.Sprintf("%s (%d %s)", genericFailure, status, text)
		}
	}
	return &ServiceError{StatusCode: status, Message: msg}
}

func newMalformed(raw []byte, format string, args ...interface{}) *MalformedResponseError {
	body := string(raw)
	if len(body) > maxDiagnosticBody {
		body = body[:maxDiagnosticBody] + "..."
	}
	return &MalformedResponseError{Reason: fmt.Sprintf(format, args...), Body: body}
}

// IsTransport reports whether err is a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsMalformed reports whether err is a *MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}
