// Package errors provides the structured error taxonomy used across the
// localization pipelines.
//
// # Error Categories
//
// Errors are classified by code into categories:
//
//   - Transient: temporary failures where a later run may succeed (network, timeouts)
//   - Permanent: failures a rerun will not fix (malformed files, missing config)
//   - Resource: exhaustion of a shared resource (rate limits, quotas)
//   - Internal: bugs such as panics and corrupted state
//   - Termination: SHUTDOWN_ABORTED and CANCELED, cooperative stops that
//     the task supervisor never reports as failures
//
// A task that fails tags its error with its own name, unless a deeper task
// already did. The supervisor logs the code, category, task and metadata of
// a failed root.
//
// # Usage
//
//	err := errors.InvalidInput("line count does not match key count",
//	    errors.WithMetadata("path", "ui/ru.txt"))
//
//	wrapped := errors.Wrap(err, "syncing folder ui")
//	if errors.Is(wrapped, errors.ErrCodeInvalidInput) {
//	    // ...
//	}
package errors
