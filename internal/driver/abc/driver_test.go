package abc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goby-acomms/acomms/internal/driver"
	"github.com/goby-acomms/acomms/internal/lineio"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// TestABCHandleInitiateTransmissionEmitsSendLine reproduces spec.md §6's
// literal SEND line format for a simulator-mode ABC driver talking over
// a real pseudo-terminal pair: the master side is the driver, the
// slave side is read directly as a stand-in for the ABC modem.
func TestABCHandleInitiateTransmissionEmitsSendLine(t *testing.T) {
	d := New(Config{})
	require.NoError(t, d.Startup(driver.Config{Type: "ABC", ModemID: 1}))
	defer d.Shutdown()
	require.NotEmpty(t, d.PTYName())

	d.HandleInitiateTransmission(transmission.ModemTransmission{
		Src: 1, Dest: 2, Rate: 3, Frames: [][]byte{{0xAB, 0xCD}}, AckRequested: true,
	})

	slave := d.line.(*lineio.PTY).Slave()
	require.NoError(t, slave.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 128)
	n, err := slave.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "SEND,TO:2,FROM:1,HEX:abcd,BITRATE:3,ACK:TRUE")
}

func TestABCParseFieldsSplitsKeyAndFields(t *testing.T) {
	f := parseFields("RECV,TO:1,FROM:2,HEX:ab,BITRATE:3")
	assert.Equal(t, "RECV", f[""])
	assert.Equal(t, "1", f["TO"])
	assert.Equal(t, "ab", f["HEX"])
}

func TestABCHandleRecvFiresOnReceive(t *testing.T) {
	d := New(Config{})
	require.NoError(t, d.Startup(driver.Config{Type: "ABC", ModemID: 2}))
	defer d.Shutdown()

	var received *transmission.ModemTransmission
	d.Base.Signals.OnReceive = func(m transmission.ModemTransmission) { received = &m }

	d.handleRecv(parseFields("RECV,TO:2,FROM:1,HEX:deadbeef,BITRATE:3"))
	require.NotNil(t, received)
	assert.Equal(t, transmission.ID(1), received.Src)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, received.Frames[0])
}
