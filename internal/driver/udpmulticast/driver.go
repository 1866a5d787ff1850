// Package udpmulticast implements the UDP multicast driver of
// spec.md §4.8: the same shared single-frame flow as internal/driver/udp,
// but every transmission goes to one multicast group instead of a list
// of unicast peers, and there is no synthesized ACK (a multicast
// transmission has no single addressee to ACK back to).
package udpmulticast

import (
	"encoding/json"

	"github.com/goby-acomms/acomms/internal/acommserr"
	"github.com/goby-acomms/acomms/internal/codec"
	"github.com/goby-acomms/acomms/internal/driver"
	"github.com/goby-acomms/acomms/internal/lineio"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// Config is the UDP multicast driver's extra configuration.
type Config struct {
	LocalAddress string
	Group        string // multicast group address, e.g. "239.1.1.1:4000"
}

// Driver is the UDP multicast modem driver.
type Driver struct {
	*driver.Base
	flow driver.SimpleFlow
	io   *lineio.UDP
	cfg  Config
}

// New returns a UDP multicast driver bound to cfg.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

func (d *Driver) Startup(base driver.Config) error {
	d.io = &lineio.UDP{LocalAddress: d.cfg.LocalAddress, Multicast: d.cfg.Group}
	d.Base = driver.NewBase(d.io, base)
	if err := d.Base.ModemStart(); err != nil {
		d.Base.SetStatus(acommserr.StatusStartupFailed)
		return err
	}
	d.flow = driver.SimpleFlow{Base: d.Base, Codec: codec.NewJSON(), Emit: d.emit}
	d.Base.SetStatus(acommserr.StatusOK)
	return nil
}

func (d *Driver) Shutdown() {
	d.Base.ModemClose()
	d.Base.SetStatus(acommserr.StatusShutdown)
}

func (d *Driver) UpdateConfig(base driver.Config) {}

func (d *Driver) emit(encoded []byte) error {
	return d.Base.ModemWrite(encoded)
}

func (d *Driver) HandleInitiateTransmission(msg transmission.ModemTransmission) {
	d.flow.HandleInitiateTransmission(msg)
}

func (d *Driver) DoWork() {
	raw, ok, err := d.Base.ModemRead()
	if err != nil {
		d.Base.Logger().Warn("multicast read failed", "err", err)
		d.Base.SetStatus(acommserr.StatusModemNotResponding)
		return
	}
	if !ok {
		return
	}
	var msg transmission.ModemTransmission
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.Base.Logger().Warn("multicast datagram decode failed", "err", err)
		return
	}
	// A multicast sender hears its own transmissions echoed back by the
	// group; spec.md §6 requires dropping anything we sent ourselves.
	if msg.Src == d.Base.Config().ModemID {
		return
	}
	if d.Base.Signals.OnReceive != nil {
		d.Base.Signals.OnReceive(msg)
	}
}

func (d *Driver) Report() driver.ModemReport { return d.Base.Report() }
