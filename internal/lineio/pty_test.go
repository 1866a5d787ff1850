package lineio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPTYLoopback drives the slave side directly, standing in for a
// scripted modem without a real tty.
func TestPTYLoopback(t *testing.T) {
	p := &PTY{Delimiter: '\r'}
	require.NoError(t, p.Start())
	defer p.Close()

	_, err := p.Slave().Write([]byte("AT\r"))
	require.NoError(t, err)

	var line []byte
	require.Eventually(t, func() bool {
		l, ok, err := p.ReadLine()
		require.NoError(t, err)
		if ok {
			line = l
			return true
		}
		return false
	}, time.Second, time.Millisecond)

	require.Equal(t, "AT", string(line))
}

func TestPTYWriteReachesSlave(t *testing.T) {
	p := &PTY{Delimiter: '\n'}
	require.NoError(t, p.Start())
	defer p.Close()

	require.NoError(t, p.Write([]byte("OK\n")))

	buf := make([]byte, 8)
	require.NoError(t, p.Slave().SetReadDeadline(time.Now().Add(time.Second)))
	n, err := p.Slave().Read(buf)
	require.NoError(t, err)
	require.Equal(t, "OK\n", string(buf[:n]))
}
