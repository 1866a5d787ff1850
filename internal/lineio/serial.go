package lineio

import (
	"bytes"
	"sync"

	"github.com/pkg/term"
)

// Serial is the LineIO backend for a real modem-attached tty, the
// transport the Iridium mobile driver's AT command channel runs over. It
// is grounded on the teacher's serial_port_open (src/serial_port.go),
// generalized from a fixed set of direwolf bauds to any driver-requested
// speed and delimiter.
type Serial struct {
	Device    string
	Baud      int
	Delimiter byte // defaults to '\n' if zero

	mu   sync.Mutex
	port *term.Term
	buf  bytes.Buffer
	rbuf [4096]byte
}

func (s *Serial) delim() byte {
	if s.Delimiter == 0 {
		return '\n'
	}
	return s.Delimiter
}

func (s *Serial) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	port, err := term.Open(s.Device, term.RawMode)
	if err != nil {
		return newTransportError("serial_open", s.Device, err)
	}
	if s.Baud != 0 {
		if err := port.SetSpeed(s.Baud); err != nil {
			port.Close()
			return newTransportError("serial_set_speed", s.Device, err)
		}
	}
	if err := setNonblocking(port); err != nil {
		port.Close()
		return newTransportError("serial_nonblock", s.Device, err)
	}
	s.port = port
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return newTransportError("serial_write", s.Device, errNotStarted)
	}
	_, err := s.port.Write(data)
	if err != nil {
		return newTransportError("serial_write", s.Device, err)
	}
	return nil
}

func (s *Serial) ReadLine() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil, false, newTransportError("serial_read", s.Device, errNotStarted)
	}

	if line, ok := takeLine(&s.buf, s.delim()); ok {
		return line, true, nil
	}

	n, err := nonBlockingRead(s.port, s.rbuf[:])
	if n > 0 {
		s.buf.Write(s.rbuf[:n])
	}
	if err != nil && !isWouldBlock(err) {
		return nil, false, newTransportError("serial_read", s.Device, err)
	}

	if line, ok := takeLine(&s.buf, s.delim()); ok {
		return line, true, nil
	}
	return nil, false, nil
}
