package lineio

import (
	"bytes"
	"os"
	"sync"

	"github.com/creack/pty"
)

// PTY is the LineIO backend used by the ABC tutorial driver and by tests
// that need a real tty pair without a physical modem attached, grounded on
// the teacher's kisspt_open_pt (src/kiss.go), generalized from a hardcoded
// KISS pseudo-terminal to an arbitrary delimiter.
//
// Name, when set, is the slave side's device path (e.g. /dev/pts/4),
// reported after Start so a test or the ABC config can hand it to whatever
// is pretending to be the modem.
type PTY struct {
	Delimiter byte

	mu     sync.Mutex
	master *os.File
	slave  *os.File
	Name   string
	buf    bytes.Buffer
	rbuf   [4096]byte
}

func (p *PTY) delim() byte {
	if p.Delimiter == 0 {
		return '\n'
	}
	return p.Delimiter
}

func (p *PTY) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	master, slave, err := pty.Open()
	if err != nil {
		return newTransportError("pty_open", "", err)
	}
	p.master = master
	p.slave = slave
	p.Name = slave.Name()
	return setNonblocking(master)
}

func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.master == nil {
		return nil
	}
	err1 := p.master.Close()
	err2 := p.slave.Close()
	p.master, p.slave = nil, nil
	if err1 != nil {
		return err1
	}
	return err2
}

func (p *PTY) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.master == nil {
		return newTransportError("pty_write", "", errNotStarted)
	}
	if _, err := p.master.Write(data); err != nil {
		return newTransportError("pty_write", "", err)
	}
	return nil
}

func (p *PTY) ReadLine() ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.master == nil {
		return nil, false, newTransportError("pty_read", "", errNotStarted)
	}

	if line, ok := takeLine(&p.buf, p.delim()); ok {
		return line, true, nil
	}

	n, err := nonBlockingRead(p.master, p.rbuf[:])
	if n > 0 {
		p.buf.Write(p.rbuf[:n])
	}
	if err != nil && !isWouldBlock(err) {
		return nil, false, newTransportError("pty_read", "", err)
	}

	if line, ok := takeLine(&p.buf, p.delim()); ok {
		return line, true, nil
	}
	return nil, false, nil
}

// Slave exposes the slave *os.File for tests that want to drive the other
// end of the pair directly, e.g. acting as a scripted modem.
func (p *PTY) Slave() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slave
}
