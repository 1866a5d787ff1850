package lineio

import (
	"bytes"
	"errors"
	"syscall"
)

var errNotStarted = errors.New("lineio: transport not started")

// takeLine extracts the first delim-terminated line from buf, if any, and
// advances buf past it. The returned slice does not include the
// delimiter.
func takeLine(buf *bytes.Buffer, delim byte) ([]byte, bool) {
	b := buf.Bytes()
	idx := bytes.IndexByte(b, delim)
	if idx < 0 {
		return nil, false
	}
	line := make([]byte, idx)
	copy(line, b[:idx])
	buf.Next(idx + 1)
	return line, true
}

// isWouldBlock reports whether err is the "no data right now" signal from
// a non-blocking read, as opposed to a genuine transport failure.
func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// fder is implemented by transports whose underlying descriptor we put
// into non-blocking mode ourselves (pkg/term's Term does not default to
// non-blocking reads).
type fder interface {
	Fd() uintptr
}

func setNonblocking(f fder) error {
	return syscall.SetNonblock(int(f.Fd()), true)
}

// nonBlockingRead performs one non-blocking read syscall against f's
// descriptor. When no data is ready yet it returns 0 together with an
// EAGAIN/EWOULDBLOCK error, which the caller recognises with
// isWouldBlock(err).
func nonBlockingRead(f fder, buf []byte) (int, error) {
	n, err := syscall.Read(int(f.Fd()), buf)
	if n < 0 {
		n = 0
	}
	return n, err
}
