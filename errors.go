package docex

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("docex: no job store configured")
	ErrNoPool      = errors.New("docex: no worker pool configured")
	ErrStoreClosed = errors.New("docex: job store closed")

	// Not found errors.
	ErrJobNotFound      = errors.New("docex: job not found")
	ErrDeliveryNotFound = errors.New("docex: delivery record not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("docex: job already exists")

	// State errors.
	ErrInvalidStatus      = errors.New("docex: invalid status transition")
	ErrMaxRetriesExceeded = errors.New("docex: max retries exceeded")

	// Execution errors.
	ErrNoHandler       = errors.New("docex: no handler registered for operation")
	ErrSubjectNotFound = errors.New("docex: subject not found")

	// Aggregator errors.
	ErrAggregatorClosed = errors.New("docex: batch aggregator closed")
)
