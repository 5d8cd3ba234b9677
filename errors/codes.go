package errors

// ErrorCategory classifies errors by their nature.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where a rerun may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures a rerun will not fix.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates resource exhaustion or quota issues.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or corrupted state.
	CategoryInternal ErrorCategory = "internal"

	// CategoryTermination marks cooperative stops (shutdown, cancel).
	CategoryTermination ErrorCategory = "termination"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on a later run.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// Permanent
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeConfig       ErrorCode = "CONFIG"

	// Resource
	ErrCodeRateLimit ErrorCode = "RATE_LIMITED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL"
	ErrCodePanic    ErrorCode = "PANIC"

	// Termination
	ErrCodeShutdown ErrorCode = "SHUTDOWN_ABORTED"
	ErrCodeCanceled ErrorCode = "CANCELED"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout:
		return CategoryTransient
	case ErrCodeInvalidInput, ErrCodeConfig:
		return CategoryPermanent
	case ErrCodeRateLimit:
		return CategoryResource
	case ErrCodeShutdown, ErrCodeCanceled:
		return CategoryTermination
	default:
		return CategoryInternal
	}
}
