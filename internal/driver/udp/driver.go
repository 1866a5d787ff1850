// Package udp implements the UDP unicast driver of spec.md §4.8: the
// shared "serialise the whole ModemTransmission, write it to every
// configured peer" flow, plus a synthesized application-level ACK when
// the received message requested one and this node is (one of) the
// addressee(s).
package udp

import (
	"encoding/json"

	"github.com/goby-acomms/acomms/internal/acommserr"
	"github.com/goby-acomms/acomms/internal/codec"
	"github.com/goby-acomms/acomms/internal/driver"
	"github.com/goby-acomms/acomms/internal/lineio"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// Config is the UDP driver's extra configuration beyond driver.Config.
type Config struct {
	LocalAddress string
	Peers        []string // remote host:port pairs to fan a transmission out to
	// AdditionalAckModemIDs lets this node auto-ACK traffic addressed to
	// one of several aliases (e.g. a shore relay ACKing on behalf of a
	// group), matching spec.md §4.8's "or one of the configured
	// additional-ack modem ids."
	AdditionalAckModemIDs []transmission.ID
}

// Driver is the UDP unicast modem driver.
type Driver struct {
	*driver.Base
	flow   driver.SimpleFlow
	recvIO *lineio.UDP
	cfg    Config
}

// New returns a UDP driver bound to cfg.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

func (d *Driver) Startup(base driver.Config) error {
	d.recvIO = &lineio.UDP{LocalAddress: d.cfg.LocalAddress}
	d.Base = driver.NewBase(d.recvIO, base)
	if err := d.Base.ModemStart(); err != nil {
		d.Base.SetStatus(acommserr.StatusStartupFailed)
		return err
	}
	d.flow = driver.SimpleFlow{
		Base:          d.Base,
		Codec:         codec.NewJSON(),
		MaxFrameBytes: 0,
		Emit:          d.emit,
	}
	d.Base.SetStatus(acommserr.StatusOK)
	return nil
}

func (d *Driver) Shutdown() {
	d.Base.ModemClose()
	d.Base.SetStatus(acommserr.StatusShutdown)
}

func (d *Driver) UpdateConfig(base driver.Config) {}

func (d *Driver) emit(encoded []byte) error {
	var lastErr error
	for _, peer := range d.cfg.Peers {
		p := &lineio.UDP{LocalAddress: d.cfg.LocalAddress, RemoteAddress: peer}
		if err := p.Write(append([]byte(nil), encoded...)); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (d *Driver) HandleInitiateTransmission(msg transmission.ModemTransmission) {
	d.flow.HandleInitiateTransmission(msg)
}

// DoWork drains any available datagram, decodes it back into a
// ModemTransmission and fires OnReceive; if the message requested an
// ACK and this node is an addressee, a synthetic ACK is emitted back to
// every configured peer.
func (d *Driver) DoWork() {
	raw, ok, err := d.Base.ModemRead()
	if err != nil {
		d.Base.Logger().Warn("udp read failed", "err", err)
		d.Base.SetStatus(acommserr.StatusModemNotResponding)
		return
	}
	if !ok {
		return
	}

	var msg transmission.ModemTransmission
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.Base.Logger().Warn("udp datagram decode failed", "err", err)
		return
	}

	if d.Base.Signals.OnReceive != nil {
		d.Base.Signals.OnReceive(msg)
	}

	if msg.AckRequested && d.addressedToUs(msg.Dest) {
		ack := transmission.ModemTransmission{
			Src: msg.Dest, Dest: msg.Src, Kind: transmission.KindAck,
			AckedFrame: []uint32{msg.FrameStart},
		}
		encoded, err := json.Marshal(ack)
		if err == nil {
			_ = d.emit(encoded)
		}
	}
}

func (d *Driver) addressedToUs(dest transmission.ID) bool {
	if dest == d.Base.Config().ModemID {
		return true
	}
	for _, id := range d.cfg.AdditionalAckModemIDs {
		if dest == id {
			return true
		}
	}
	return false
}

func (d *Driver) Report() driver.ModemReport { return d.Base.Report() }
