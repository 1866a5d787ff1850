package iridium

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/driver"
	"github.com/goby-acomms/acomms/internal/iridiumheader"
	"github.com/goby-acomms/acomms/internal/sbdpacket"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// fakeLine is an in-memory lineio.LineIO standing in for a real tty,
// giving tests a hand on both ends of the AT command channel.
type fakeLine struct {
	started bool
	closed  bool
	written [][]byte
	inbox   [][]byte
}

func (f *fakeLine) Start() error { f.started = true; return nil }
func (f *fakeLine) Close() error { f.closed = true; return nil }
func (f *fakeLine) Write(data []byte) error {
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}
func (f *fakeLine) ReadLine() ([]byte, bool, error) {
	if len(f.inbox) == 0 {
		return nil, false, nil
	}
	line := f.inbox[0]
	f.inbox = f.inbox[1:]
	return line, true, nil
}
func (f *fakeLine) push(s string) { f.inbox = append(f.inbox, []byte(s)) }
func (f *fakeLine) lastCommand() string {
	if len(f.written) == 0 {
		return ""
	}
	last := string(f.written[len(f.written)-1])
	for len(last) > 0 && (last[len(last)-1] == '\r' || last[len(last)-1] == '\n') {
		last = last[:len(last)-1]
	}
	return last
}

func newTestDriver(t *testing.T) (*Driver, *fakeLine, *clock.Clock) {
	t.Helper()
	line := &fakeLine{}
	clk := clock.NewManual(clock.Unix(time.Unix(1700000000, 0).UTC()))
	d := New(clk, line, Config{Device: "/dev/ttyUSB0"})
	require.NoError(t, d.Startup(driver.Config{Type: "IRIDIUM", ModemID: 9}))
	assert.True(t, line.started)
	assert.Equal(t, "AT", line.lastCommand())
	return d, line, clk
}

func bootstrapToReady(t *testing.T, d *Driver, line *fakeLine) {
	t.Helper()
	line.push("OK")
	d.DoWork()
	assert.Equal(t, "AT+CIER=1,1,1,1", line.lastCommand())
	line.push("OK")
	d.DoWork()
	assert.Equal(t, StateReady, d.state)
}

// TestIridiumBootstrapReachesReady exercises the Configure/SetClock
// bootstrap through the concrete Driver, not just the bare FSM.
func TestIridiumBootstrapReachesReady(t *testing.T) {
	d, line, _ := newTestDriver(t)
	bootstrapToReady(t, d, line)
}

// TestIridiumSBDSendAndReceive reproduces spec.md §8 scenario S4
// end-to-end through HandleInitiateTransmission and FeedSBDRBBuffer: an
// outbound message is framed and queued, and an inbound SBDRB response
// is decoded back into a ModemTransmission delivered via OnReceive.
func TestIridiumSBDSendAndReceive(t *testing.T) {
	d, line, _ := newTestDriver(t)
	bootstrapToReady(t, d, line)

	var received *transmission.ModemTransmission
	d.Base.Signals.OnReceive = func(m transmission.ModemTransmission) {
		received = &m
	}

	d.HandleInitiateTransmission(transmission.ModemTransmission{
		Src: 1, Dest: 2, Kind: transmission.KindData,
		Frames: [][]byte{[]byte("hello")},
	})
	require.Equal(t, SBDClearBuffers, d.sbd)
	assert.Equal(t, "AT+SBDD0", line.lastCommand())

	line.push("OK")
	d.DoWork()
	require.Equal(t, SBDWrite, d.sbd)
	assert.Contains(t, line.lastCommand(), "AT+SBDWB=")

	line.push("READY")
	d.DoWork()
	require.Equal(t, SBDTransmit, d.sbd)
	assert.Equal(t, "AT+SBDIX", line.lastCommand())

	line.push("+SBDIX: 0, 1, 1, 5, 11, 0")
	d.DoWork()
	require.Equal(t, SBDReceive, d.sbd)
	assert.Equal(t, "AT+SBDRB", line.lastCommand())

	hdr := iridiumheader.Header{Src: 2, Dest: 1, Kind: transmission.KindData}
	payload := append(iridiumheader.Encode(hdr), []byte("world")...)
	d.FeedSBDRBBuffer(sbdpacket.Encode(payload))

	require.NotNil(t, received)
	assert.Equal(t, transmission.ID(2), received.Src)
	assert.Equal(t, transmission.ID(1), received.Dest)
	require.Len(t, received.Frames, 1)
	assert.Equal(t, "world", string(received.Frames[0]))
	assert.Equal(t, SBDIdle, d.sbd)
	assert.Equal(t, StateReady, d.state)
}

// TestIridiumFeedSBDRBBufferRejectsBadChecksum confirms a corrupted
// SBDRB payload never reaches OnReceive (invariant 5).
func TestIridiumFeedSBDRBBufferRejectsBadChecksum(t *testing.T) {
	d, line, _ := newTestDriver(t)
	bootstrapToReady(t, d, line)

	called := false
	d.Base.Signals.OnReceive = func(transmission.ModemTransmission) { called = true }

	hdr := iridiumheader.Header{Src: 2, Dest: 1, Kind: transmission.KindData}
	raw := sbdpacket.Encode(append(iridiumheader.Encode(hdr), []byte("world")...))
	raw[len(raw)-1] ^= 0xFF

	d.FeedSBDRBBuffer(raw)
	assert.False(t, called)
}

// TestIridiumResetOnErrorReturnsToConfigure reproduces the ERROR path:
// an AT ERROR response resets the driver back to Configure (invariant 6).
func TestIridiumResetOnErrorReturnsToConfigure(t *testing.T) {
	d, line, _ := newTestDriver(t)
	bootstrapToReady(t, d, line)

	line.push("ERROR")
	d.DoWork()
	assert.Equal(t, StateConfigure, d.state)
	assert.Equal(t, "AT", line.lastCommand())
}

// TestIridiumATTimeoutRetriesThenResets drives the manual clock past the
// default 2s AT timeout repeatedly until retriesBeforeReset is exceeded
// and the driver falls back to Configure.
func TestIridiumATTimeoutRetriesThenResets(t *testing.T) {
	d, _, clk := newTestDriver(t)

	for i := 0; i < d.cfg.retriesBeforeReset(); i++ {
		clk.Advance(3 * time.Second)
		d.DoWork()
		assert.Equal(t, StateConfigure, d.state, "still retrying AT before reset")
	}
	clk.Advance(3 * time.Second)
	d.DoWork()
	assert.Equal(t, StateConfigure, d.state)
}

func TestIridiumReportSurfacesSignalQuality(t *testing.T) {
	d, line, _ := newTestDriver(t)
	bootstrapToReady(t, d, line)

	line.push("+CIEV: 2,4")
	d.DoWork()

	r := d.Report()
	require.NotNil(t, r.SignalStrengthDBm)
	assert.Equal(t, 4, *r.SignalStrengthDBm)
}
