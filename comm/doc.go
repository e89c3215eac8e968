// Package comm provides the line-framed TCP transport and the bounded outbound writer
// used by the Kohzu driver.
//
// The transport owns a background receive goroutine that splits the socket stream on
// CRLF and delivers complete lines to a registered handler. Writes are serialized so
// concurrent senders never interleave bytes on the wire. A disconnect handler fires
// exactly once per connected-to-disconnected edge, asynchronously with respect to the
// failing I/O call.
package comm
