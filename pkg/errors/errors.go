package errors

import (
	"fmt"
	"sort"
	"strings"
)

// ErrorCode classifies the failures the agent runtime can produce.
type ErrorCode int

const (
	// Core error codes.
	Unknown ErrorCode = iota
	InvalidInput
	ValidationFailed
	ResourceNotFound
	Timeout
	RateLimitExceeded
	Canceled

	// Model interaction errors.
	LLMGenerationFailed
	TokenLimitExceeded
	InvalidResponse

	// Agent subsystem errors.
	StorageFailed
	SearchFailed
	FineTuneFailed
)

// Error is a structured error carrying a code and optional context fields.
type Error struct {
	code     ErrorCode
	message  string
	original error
	fields   Fields
}

// Fields carries structured data about the error.
type Fields map[string]interface{}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.message)

	if e.original != nil {
		b.WriteString(": ")
		b.WriteString(e.original.Error())
	}

	if len(e.fields) > 0 {
		keys := make([]string, 0, len(e.fields))
		for k := range e.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" [")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s=%v ", k, e.fields[k])
		}
		b.WriteString("]")
	}

	return strings.TrimSpace(b.String())
}

func (e *Error) Unwrap() error {
	return e.original
}

func (e *Error) Code() ErrorCode {
	return e.code
}

// Fields returns a copy of the error's context fields.
func (e *Error) Fields() Fields {
	fields := make(Fields, len(e.fields))
	for k, v := range e.fields {
		fields[k] = v
	}
	return fields
}

// New creates an error with a code and message.
func New(code ErrorCode, message string) error {
	return &Error{
		code:    code,
		message: message,
	}
}

// Wrap wraps an existing error with a code and message. Returns nil for a
// nil error, so call sites can wrap unconditionally.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		code:     code,
		message:  message,
		original: err,
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{
		code:     code,
		message:  fmt.Sprintf(format, args...),
		original: err,
	}
}

// WithFields attaches structured context to an error. Fields on an existing
// *Error are merged, with the new fields winning on collision.
func WithFields(err error, fields Fields) error {
	if err == nil {
		return nil
	}

	if e, ok := err.(*Error); ok {
		merged := make(Fields, len(e.fields)+len(fields))
		for k, v := range e.fields {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
		return &Error{
			code:     e.code,
			message:  e.message,
			original: e.original,
			fields:   merged,
		}
	}

	return &Error{
		code:     Unknown,
		message:  err.Error(),
		original: err,
		fields:   fields,
	}
}

// Code extracts the ErrorCode from any error, Unknown when it is not ours.
func Code(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.code
	}
	return Unknown
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// As supports errors.As for **Error targets.
func (e *Error) As(target interface{}) bool {
	errorPtr, ok := target.(**Error)
	if !ok {
		return false
	}
	*errorPtr = e
	return true
}
