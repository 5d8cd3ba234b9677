package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// An *Error keeps its code, category, metadata and task; context errors map
// to TIMEOUT and CANCELED; anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var taskErr *Error
	if errors.As(err, &taskErr) {
		wrapped := &Error{
			code:     taskErr.code,
			category: taskErr.category,
			message:  message,
			cause:    err,
			metadata: taskErr.Metadata(),
			task:     taskErr.task,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, withCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, withCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, withCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, withCause(err))
	return New(code, message, opts...)
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var taskErr *Error
		if !errors.As(err, &taskErr) {
			return false
		}
		if taskErr.code == code {
			return true
		}
		err = taskErr.cause
	}
	return false
}

// Code extracts the outermost error code, or "" when err carries none.
func Code(err error) ErrorCode {
	var taskErr *Error
	if errors.As(err, &taskErr) {
		return taskErr.code
	}
	return ""
}

// Category extracts the outermost error category, or "" when err carries none.
func Category(err error) ErrorCategory {
	var taskErr *Error
	if errors.As(err, &taskErr) {
		return taskErr.category
	}
	return ""
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
