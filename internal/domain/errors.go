package domain

import "errors"

// Sentinel errors shared by the engine components.
var (
	// ErrInvalidStateTransition is returned when a rebase operation is requested in a state that forbids it.
	ErrInvalidStateTransition = errors.New("invalid rebase state transition")
	// ErrOperationTimeout is returned when the process adapter exceeds its bounded wait.
	ErrOperationTimeout = errors.New("operation timed out")
	// ErrAdapterFailure is returned when the external tool exits non-zero or fails to run.
	ErrAdapterFailure = errors.New("adapter failure")
	// ErrOperationCancelled is returned for a queued operation withdrawn before dispatch.
	ErrOperationCancelled = errors.New("operation cancelled")
	// ErrUnknownRepository indicates the registry has no entry for the repository id.
	ErrUnknownRepository = errors.New("unknown repository")
	// ErrUnknownOperation indicates an unsupported operation kind or an unknown operation id.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrInvalidParams indicates operation parameters failed validation.
	ErrInvalidParams = errors.New("invalid operation parameters")
	// ErrExecutorClosed is returned when submitting to an executor that has been closed.
	ErrExecutorClosed = errors.New("executor closed")
)
