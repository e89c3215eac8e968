package kohzu

import "errors"

var (
	// ErrTimeout indicates that a synchronous request expired before a reply arrived.
	ErrTimeout = errors.New("response timeout")

	// ErrDisconnected indicates that the transport dropped while a request was pending.
	ErrDisconnected = errors.New("disconnected")

	// ErrNotConnected indicates that an operation was attempted while disconnected.
	ErrNotConnected = errors.New("not connected")

	// ErrStopped indicates that the operation was terminated because its owning
	// connection generation is being torn down.
	ErrStopped = errors.New("stopped")

	// ErrInvalidAxis indicates an axis number outside the valid range (>= 1).
	ErrInvalidAxis = errors.New("invalid axis number")
)
