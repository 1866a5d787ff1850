// Package abc implements the ASCII tutorial modem driver of spec.md §4.8
// and §6: comma-delimited `KEY,FIELD:VALUE,...` lines over a LineIO,
// normally a lineio.PTY in simulator mode (grounded on the teacher's
// kisspt_open_pt pseudo-terminal idiom, src/kiss.go, already adapted for
// internal/lineio.PTY) or a real serial port against hardware.
package abc

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/goby-acomms/acomms/internal/acommserr"
	"github.com/goby-acomms/acomms/internal/driver"
	"github.com/goby-acomms/acomms/internal/lineio"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// Config is the ABC driver's extra configuration.
type Config struct {
	// Device, when set, opens a real serial port (internal/lineio.Serial);
	// when empty a lineio.PTY is opened instead, the simulator-mode path
	// a test harness drives directly against the slave side.
	Device   string
	BaudRate int
}

// Driver is the ABC tutorial modem driver.
type Driver struct {
	*driver.Base
	nextFrame uint32
	cfg       Config
	line      lineio.LineIO
}

// New returns an ABC driver bound to cfg.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

// PTYName exposes the simulator-mode pseudo-terminal's slave device
// path once Startup has opened it, or "" when Device was configured.
func (d *Driver) PTYName() string {
	if p, ok := d.line.(*lineio.PTY); ok {
		return p.Name
	}
	return ""
}

func (d *Driver) Startup(base driver.Config) error {
	if d.cfg.Device != "" {
		d.line = &lineio.Serial{Device: d.cfg.Device, Baud: d.cfg.BaudRate}
	} else {
		d.line = &lineio.PTY{Delimiter: '\n'}
	}
	d.Base = driver.NewBase(d.line, base)
	if err := d.Base.ModemStart(); err != nil {
		d.Base.SetStatus(acommserr.StatusStartupFailed)
		return err
	}
	d.Base.SetStatus(acommserr.StatusOK)
	return nil
}

func (d *Driver) Shutdown() {
	d.Base.ModemClose()
	d.Base.SetStatus(acommserr.StatusShutdown)
}

func (d *Driver) UpdateConfig(base driver.Config) {}

// HandleInitiateTransmission follows the shared spec.md §4.8 flow
// (fill frame_start, fire modify/data_request, advance next_frame) but
// emits the literal ABC `SEND,TO:d,FROM:s,HEX:xx...,BITRATE:b,ACK:TRUE`
// line of spec.md §6 rather than a driver.SimpleFlow-encoded datagram,
// since ABC's wire format is not "the whole ModemTransmission" encoded
// opaquely but a fixed set of named fields.
func (d *Driver) HandleInitiateTransmission(msg transmission.ModemTransmission) {
	req := msg.Clone()
	req.FrameStart = d.nextFrame
	if d.Base.Signals.OnModifyTransmission != nil {
		d.Base.Signals.OnModifyTransmission(&req)
	}
	if d.Base.Signals.OnDataRequest != nil {
		d.Base.Signals.OnDataRequest(&req)
	}
	if len(req.Frames) == 0 {
		return
	}
	d.nextFrame += uint32(len(req.Frames))

	hexData := hex.EncodeToString(req.Frames[0])
	line := fmt.Sprintf("SEND,TO:%d,FROM:%d,HEX:%s,BITRATE:%d", req.Dest, req.Src, hexData, req.Rate)
	if req.AckRequested {
		line += ",ACK:TRUE"
	}
	if err := d.Base.ModemWrite([]byte(line + "\r\n")); err != nil {
		d.Base.Logger().Warn("abc send failed", "err", err)
	}
}

// DoWork drains one buffered ABC line and dispatches it by leading key.
func (d *Driver) DoWork() {
	line, ok, err := d.Base.ModemRead()
	if err != nil {
		d.Base.Logger().Warn("abc read failed", "err", err)
		d.Base.SetStatus(acommserr.StatusModemNotResponding)
		return
	}
	if !ok {
		return
	}
	fields := parseFields(string(line))
	if len(fields) == 0 {
		return
	}
	switch fields[""] {
	case "RECV":
		d.handleRecv(fields)
	case "ACKN":
		d.handleAck(fields)
	case "CONF":
		d.Base.Logger().Debug("abc modem reported config", "fields", fields)
	}
}

func (d *Driver) handleRecv(fields map[string]string) {
	data, err := hex.DecodeString(fields["HEX"])
	if err != nil {
		d.Base.Logger().Warn("abc RECV bad hex payload", "err", err)
		return
	}
	dest, _ := strconv.Atoi(fields["TO"])
	src, _ := strconv.Atoi(fields["FROM"])
	rate, _ := strconv.Atoi(fields["BITRATE"])
	msg := transmission.ModemTransmission{
		Src: transmission.ID(src), Dest: transmission.ID(dest),
		Rate: rate, Kind: transmission.KindData, Frames: [][]byte{data},
	}
	if d.Base.Signals.OnReceive != nil {
		d.Base.Signals.OnReceive(msg)
	}
}

func (d *Driver) handleAck(fields map[string]string) {
	dest, _ := strconv.Atoi(fields["TO"])
	src, _ := strconv.Atoi(fields["FROM"])
	ack := transmission.ModemTransmission{
		Src: transmission.ID(src), Dest: transmission.ID(dest), Kind: transmission.KindAck,
	}
	if d.Base.Signals.OnTransmitResult != nil {
		d.Base.Signals.OnTransmitResult(ack)
	}
}

func (d *Driver) Report() driver.ModemReport { return d.Base.Report() }

// parseFields splits an ABC line "KEY,FIELD:VALUE,FIELD:VALUE" into a
// map keyed by field name, with the leading bare KEY stored under "".
func parseFields(line string) map[string]string {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) == 0 || parts[0] == "" {
		return nil
	}
	out := map[string]string{"": parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, ":", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}
