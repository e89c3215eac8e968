package comm

import "context"

// LineHandler receives one complete, CRLF-stripped inbound line.
// Handlers are invoked from the transport's receive goroutine and must not block.
type LineHandler func(line string)

// DisconnectHandler is notified once per connected-to-disconnected edge.
// It is dispatched asynchronously, never from the failing I/O call stack.
type DisconnectHandler func()

// Transport abstracts a line-oriented, full-duplex byte stream to the controller.
//
// Implementations deliver inbound CRLF-delimited lines to the registered LineHandler and
// serialize outbound writes so that concurrent SendLine calls do not interleave bytes.
type Transport interface {
	// Connect establishes the connection to host:port.
	Connect(ctx context.Context, host string, port int) error
	// Start begins background I/O. It requires a prior successful Connect.
	Start() error
	// Stop ceases I/O and releases the socket. It is idempotent.
	Stop()
	// SendLine submits a complete, already-framed line for transmission.
	// It fails with ErrNotConnected when the transport is disconnected.
	SendLine(line string) error
	// IsConnected reports whether the transport currently holds a live connection.
	IsConnected() bool
	// SetLineHandler registers the handler for inbound lines.
	SetLineHandler(fn LineHandler)
	// SetDisconnectHandler registers the handler for the disconnect edge.
	SetDisconnectHandler(fn DisconnectHandler)
}
