package iridiumshore

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/driver"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// fakeConn is a minimal in-memory lineio.LineIO stand-in for a RUDICS
// connection, letting handleRUDICSLine be exercised without a real
// socket.
type fakeConn struct {
	written [][]byte
	closed  bool
}

func (f *fakeConn) Start() error { return nil }
func (f *fakeConn) Close() error { f.closed = true; return nil }
func (f *fakeConn) Write(data []byte) error {
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}
func (f *fakeConn) ReadLine() ([]byte, bool, error) { return nil, false, nil }

func newTestDriver() *Driver {
	d := New(clock.New(), Config{})
	d.Base = driver.NewBase(nil, driver.Config{Type: "IRIDIUM_SHORE", ModemID: 99})
	return d
}

func TestHandleRUDICSLineHandshakeDoesNotIdentifyModem(t *testing.T) {
	d := newTestDriver()
	c := &onCallBase{conn: &fakeConn{}}
	d.handleRUDICSLine(c, "goby\r")
	assert.False(t, c.modemIDKnown)
}

func TestHandleRUDICSLineByeDropsCall(t *testing.T) {
	d := newTestDriver()
	fc := &fakeConn{}
	c := &onCallBase{conn: fc}
	d.calls = []*onCallBase{c}
	d.handleRUDICSLine(c, "bye\r")
	assert.True(t, c.byeReceived)
	assert.True(t, fc.closed)
	assert.Empty(t, d.calls)
}

func TestHandleRUDICSLineIdentifiesModemFromFirstApplicationMessage(t *testing.T) {
	d := newTestDriver()
	c := &onCallBase{conn: &fakeConn{}}

	var received *transmission.ModemTransmission
	d.Base.Signals.OnReceive = func(m transmission.ModemTransmission) { received = &m }
	d.handleRUDICSLine(c, `{"Src":7,"Dest":2}`)

	require.True(t, c.modemIDKnown)
	assert.Equal(t, transmission.ID(7), c.modemID)
	require.NotNil(t, received)
	assert.Equal(t, transmission.ID(7), received.Src)
	assert.Equal(t, transmission.ID(2), received.Dest)
}

func TestParseDirectIPMORoundTrips(t *testing.T) {
	payload := []byte(`{"Src":1,"Dest":2}`)
	header := make([]byte, directIPHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], 42)
	copy(header[4:19], []byte("300234010000000"))

	var body []byte
	body = append(body, directIPHeaderIEI, byte(directIPHeaderLen>>8), byte(directIPHeaderLen))
	body = append(body, header...)
	payloadLen := make([]byte, 2)
	binary.BigEndian.PutUint16(payloadLen, uint16(len(payload)))
	body = append(body, directIPPayloadIEI)
	body = append(body, payloadLen...)
	body = append(body, payload...)

	got, imei, ok := parseDirectIPMO(body)
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.Equal(t, "300234010000000", imei)
}

func TestParseDirectIPMORejectsShortBody(t *testing.T) {
	_, _, ok := parseDirectIPMO([]byte{0x00, 0x01})
	assert.False(t, ok)
}

func TestVerifyRockBLOCKJWTRejectsBadSignature(t *testing.T) {
	assert.Error(t, verifyRockBLOCKJWT("a.b.c", "secret"))
}

func TestVerifyRockBLOCKJWTRejectsMissingToken(t *testing.T) {
	assert.Error(t, verifyRockBLOCKJWT("", "secret"))
}
