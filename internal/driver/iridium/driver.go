package iridium

import (
	"strings"
	"time"

	"github.com/goby-acomms/acomms/internal/acommserr"
	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/driver"
	"github.com/goby-acomms/acomms/internal/iridiumheader"
	"github.com/goby-acomms/acomms/internal/lineio"
	"github.com/goby-acomms/acomms/internal/sbdpacket"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// Driver is the Iridium mobile-side modem driver (spec.md §4.6).
type Driver struct {
	*driver.Base

	clk     *clock.Clock
	cfg     Config
	at      *ATQueue
	state   State
	sbd     SBDState
	quality SignalQuality

	pendingOutSBD []byte // framed SBD payload, set once EvSBDBeginData fires
	line          lineio.LineIO
}

// New returns an Iridium driver reading AT commands over line.
func New(clk *clock.Clock, line lineio.LineIO, cfg Config) *Driver {
	return &Driver{
		clk:  clk,
		cfg:  cfg,
		at:   NewATQueue(10),
		line: line,
	}
}

func (d *Driver) Startup(base driver.Config) error {
	d.Base = driver.NewBase(d.line, base)
	if err := d.Base.ModemStart(); err != nil {
		d.Base.SetStatus(acommserr.StatusStartupFailed)
		return err
	}
	d.Base.SetStatus(acommserr.StatusOK)
	d.state = StateOff
	d.sbd = SBDIdle
	d.handle(Event{Kind: EvReset})
	return nil
}

func (d *Driver) Shutdown() {
	if d.state == StateOnline {
		d.handle(Event{Kind: EvSendBye})
	}
	d.Base.ModemClose()
	d.Base.SetStatus(acommserr.StatusShutdown)
}

func (d *Driver) UpdateConfig(base driver.Config) {}

// DoWork drains one buffered line (if any), classifies it into FSM
// events, applies the resulting side effects, and services the AT
// retry/timeout clock.
func (d *Driver) DoWork() {
	line, ok, err := d.Base.ModemRead()
	if err != nil {
		d.Base.Logger().Warn("modem read failed", "err", err)
		d.Base.SetStatus(acommserr.StatusModemNotResponding)
		return
	}
	if ok {
		for _, ev := range classify(string(line)) {
			d.handle(d.contextualize(ev))
		}
	}

	if d.at.Len() > 0 && d.at.Expired(d.clk.Now().Time(), atTimeout(d.frontBody())) {
		if _, ok := d.at.Retry(d.clk.Now().Time(), d.cfg.retriesBeforeReset()); !ok {
			d.handle(Event{Kind: EvReset})
			return
		}
		d.sendFront()
	}
}

func (d *Driver) frontBody() string {
	e, ok := d.at.Front()
	if !ok {
		return ""
	}
	return e.Body
}

func (d *Driver) sendFront() {
	e, ok := d.at.Front()
	if !ok {
		return
	}
	d.Base.ModemWrite([]byte(e.Body + "\r"))
}

// contextualize reinterprets a bare "OK" in light of whichever AT
// command is outstanding, since the modem's response lines don't name
// the command they answer. AT+SBDD0's "OK" is the only case that needs
// this: every other command either carries its own unambiguous
// terminator (+SBDIX's 6-tuple, READY for +SBDWB) or is happy with the
// generic EvATResponse the FSM table already accepts.
func (d *Driver) contextualize(ev Event) Event {
	if ev.Kind != EvATResponse || ev.Line != "OK" {
		return ev
	}
	if strings.HasPrefix(d.frontBody(), "AT+SBDD") {
		return Event{Kind: EvSBDSendBufferCleared, Data: d.pendingOutSBD}
	}
	return ev
}

func (d *Driver) handle(ev Event) {
	if ev.Kind == EvATResponse && len(ev.Line) >= 5 && ev.Line[:5] == "+CIEV" {
		ParseCIEV(ev.Line, &d.quality)
	}
	if ev.Kind == EvSBDTransmitComplete {
		if res, ok := ParseSBDIX(ev.SBDI); ok && res.MOStatus <= 4 {
			d.at.PopFront()
			d.handleSBDIXSuccess(res)
			return
		}
	}

	newState, fx := Transition(d.state, &d.sbd, ev)
	d.state = newState

	if ev.Kind == EvATResponse || ev.Kind == EvReset || ev.Kind == EvSBDSendBufferCleared {
		d.at.PopFront()
	}
	d.applyEffect(fx)
}

func (d *Driver) applyEffect(fx SideEffect) {
	for _, cmd := range fx.SendAT {
		d.at.Push(cmd, d.clk.Now().Time())
		d.Base.ModemWrite([]byte(cmd + "\r"))
	}
	if fx.PulseDTR {
		if d.cfg.DTRHangup {
			_ = lineio.PulseDTR(d.cfg.Device, time.Second)
		}
	}
	if fx.EnterOnCall {
		d.Base.Logger().Debug("entered on-call region")
	}
	if fx.ExitOnCall {
		d.Base.Logger().Debug("exited on-call region")
	}
}

// handleSBDIXSuccess acts on a successful +SBDIX/+SBDIXA response
// (scenario S4): MTStatus==1 means the gateway is holding a
// mobile-terminated message, so it polls for it with AT+SBDRB; any
// other MTStatus means there's nothing waiting and the SBD region
// returns directly to idle. The receive buffer itself, once requested,
// arrives over a subsequent AT+SBDRB binary read handled by
// FeedSBDRBBuffer.
func (d *Driver) handleSBDIXSuccess(res SBDIXResult) {
	if res.MTStatus != 1 {
		d.sbd = SBDIdle
		return
	}
	d.sbd = SBDReceive
	d.applyEffect(SideEffect{SendAT: []string{"AT+SBDRB"}})
}

// FeedSBDRBBuffer decodes one complete AT+SBDRB binary response
// (length-prefixed, checksummed per internal/sbdpacket) and fires
// OnReceive with the decoded ModemTransmission, matching spec.md §8
// scenario S4.
func (d *Driver) FeedSBDRBBuffer(raw []byte) {
	body, err := sbdpacket.Parse(raw)
	if err != nil {
		d.Base.Logger().Warn("sbd checksum rejected", "err", err)
		return
	}
	hdr, headerLen, err := iridiumheader.Decode(body)
	if err != nil {
		d.Base.Logger().Warn("iridium header decode failed", "err", err)
		return
	}
	payload := body[headerLen:]
	msg := transmission.ModemTransmission{
		Src: hdr.Src, Dest: hdr.Dest, Kind: hdr.Kind,
		Frames: [][]byte{payload}, Time: d.clk.Now(),
	}
	if d.Base.Signals.OnReceive != nil {
		d.Base.Signals.OnReceive(msg)
	}
	d.at.PopFront() // fulfills the outstanding AT+SBDRB
	d.sbd = SBDIdle
	d.handle(Event{Kind: EvSBDReceiveComplete})
}

func (d *Driver) HandleInitiateTransmission(msg transmission.ModemTransmission) {
	if d.Base.Signals.OnDataRequest != nil {
		req := msg
		d.Base.Signals.OnDataRequest(&req)
		msg = req
	}
	if msg.Rate == RateSBD {
		hdr := iridiumheader.Header{Src: msg.Src, Dest: msg.Dest, Kind: msg.Kind}
		if msg.AckRequested {
			ack := true
			hdr.AckRequested = &ack
		}
		encoded := iridiumheader.Encode(hdr)
		if len(msg.Frames) > 0 {
			encoded = append(encoded, msg.Frames[0]...)
		}
		d.pendingOutSBD = sbdpacket.Encode(encoded)
		d.handle(Event{Kind: EvSBDBeginData, Data: d.pendingOutSBD})
	}
}

func (d *Driver) Report() driver.ModemReport {
	r := d.Base.Report()
	if d.quality.RSSIBars > 0 {
		bars := d.quality.RSSIBars
		r.SignalStrengthDBm = &bars
	}
	return r
}
