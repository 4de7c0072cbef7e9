package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Notification ingestion
	ErrInvalidSignature      = errors.New("invalid notification signature")
	ErrMalformedNotification = errors.New("malformed notification")
	ErrUnknownGateway        = errors.New("unknown payment gateway")
	ErrUnrecognizedStatus    = errors.New("unrecognized gateway status")

	// Storage
	ErrStorageConflict    = errors.New("storage conflict: optimistic retries exhausted")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrVersionConflict    = errors.New("version conflict")
	ErrInvalidExecContext = errors.New("invalid exec context")

	ErrLockNotAcquired = errors.New("lock not acquired")
)

// IsRetryable reports whether the gateway should redeliver a notification that failed with err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageConflict) || errors.Is(err, ErrStorageUnavailable)
}
