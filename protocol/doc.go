// Package protocol implements the line codec for the Kohzu ARIES/LYNX ASCII protocol.
//
// The on-wire format is asymmetric: outbound commands separate the mnemonic from the
// parameter list with a TAB and join parameters with '/', while inbound replies are fully
// TAB-separated. This package is the single place that knows the asymmetry; no other
// component formats or tokenizes protocol lines.
//
// Outbound line:
//
//	<CMD>[\t<p1>/<p2>/.../<pN>]\r\n
//
// with an optional leading STX (0x02) byte.
//
// Inbound line:
//
//	<T>\t<CMD><AXIS>[\t<f1>\t<f2>...]\r\n
//
// where T is one of C (completion), W (warning) or E (error), CMD is three uppercase
// letters and AXIS is a possibly empty decimal digit run. SYS replies are a protocol-level
// exception: they never carry an axis and only the first trailing field is retained.
package protocol
