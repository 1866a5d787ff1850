// Package lineio implements the byte-oriented, framed-by-delimiter
// transport abstraction of spec.md §4.2: serial port, TCP client/server,
// UDP socket and pseudo-terminal backends behind one LineIO interface. The
// interface itself never retries; a transport failure is surfaced to the
// owning driver as an error, and the driver's own reset policy decides
// what happens next (spec.md §7).
package lineio

import "github.com/goby-acomms/acomms/internal/acommserr"

// LineIO is the transport contract every driver is built around.
// Read and Write are both non-blocking/best-effort and never block the
// caller: Read returns (nil, false, nil) when nothing is available yet,
// and Write may fragment a message on the wire but never delivers it to a
// peer partially from the LineIO's point of view (spec.md §4.2).
type LineIO interface {
	// Start opens the underlying transport.
	Start() error
	// Close releases the transport. Close is idempotent.
	Close() error
	// Write sends one complete line/datagram. The caller supplies any
	// required delimiter already appended.
	Write(data []byte) error
	// ReadLine returns the next complete delimited line or datagram, if
	// one is already buffered. ok is false (with a nil error) when
	// nothing is available yet; it never blocks waiting for more bytes.
	ReadLine() (data []byte, ok bool, err error)
}

// newTransportError wraps an underlying error as the spec.md §7
// "transport error" category.
func newTransportError(kind, msg string, err error) error {
	return &acommserr.TransportError{Kind: kind, Message: msg, Err: err}
}
