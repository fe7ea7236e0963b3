// Package validate decides whether a file may be submitted for cleaning.
// It performs no I/O and never looks at file content.
package validate

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// MaxFileSize is the largest file the cleaning service accepts.
const MaxFileSize int64 = 100 * 1024 * 1024

// Reason identifies why a file was rejected.
type Reason string

const (
	ReasonUnsupportedType Reason = "UNSUPPORTED_TYPE"
	ReasonTooLarge        Reason = "TOO_LARGE"
)

var (
	ErrUnsupportedType = errors.New("unsupported file format, use CSV, JSON or XML")
	ErrTooLarge        = errors.New("file is too large, maximum size is 100MB")
)

// ValidationError is returned for a rejected file.
type ValidationError struct {
	Reason   Reason
	FileName string
	err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.FileName, e.err)
}

// Unwrap exposes ErrUnsupportedType or ErrTooLarge to errors.Is.
func (e *ValidationError) Unwrap() error {
	return e.err
}

// Message is the user-facing rejection text.
func (e *ValidationError) Message() string {
	return e.err.Error()
}

var acceptedMediaTypes = map[string]struct{}{
	"text/csv":         {},
	"application/json": {},
	"text/xml":         {},
	"application/xml":  {},
}

var acceptedExtensions = map[string]struct{}{
	"csv":  {},
	"json": {},
	"xml":  {},
}

// Validate returns nil when the file is accepted, otherwise a *ValidationError.
// The type check runs first; the size check only applies to files of a known type.
func Validate(name, declaredType string, size int64) error {
	if !supportedType(name, declaredType) {
		return &ValidationError{Reason: ReasonUnsupportedType, FileName: name, err: ErrUnsupportedType}
	}
	if size > MaxFileSize {
		return &ValidationError{Reason: ReasonTooLarge, FileName: name, err: ErrTooLarge}
	}
	return nil
}

func supportedType(name, declaredType string) bool {
	if declaredType != "" {
		if mt, _, err := mime.ParseMediaType(declaredType); err == nil {
			if _, ok := acceptedMediaTypes[strings.ToLower(mt)]; ok {
				return true
			}
		}
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	_, ok := acceptedExtensions[ext]
	return ok
}

// ReasonOf extracts the rejection reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason, true
	}
	return "", false
}
