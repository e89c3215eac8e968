package comm

import "errors"

var (
	// ErrNotConnected indicates that an operation requires an established connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected indicates that Connect was called on a live connection.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrWriterOverflow indicates that the writer queue is at capacity.
	ErrWriterOverflow = errors.New("writer queue overflow")

	// ErrWriterStopped indicates that the writer is shutting down or not started.
	ErrWriterStopped = errors.New("writer stopped")
)
