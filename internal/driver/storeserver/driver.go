// Package storeserver implements the poll-based store-and-forward
// client driver of spec.md §4.8, the embedded/polling half of
// original_source's store_server_driver.cpp / store_server.cpp split
// (the standalone server half lives in internal/storeserverd +
// cmd/store-server). Every query_interval it packs its outbound queue
// into one RUDICS-framed request over a persistent TCP connection and
// expects a matching reply within reset_interval, or the connection is
// torn down and reopened.
package storeserver

import (
	"encoding/json"
	"time"

	"github.com/goby-acomms/acomms/internal/acommserr"
	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/driver"
	"github.com/goby-acomms/acomms/internal/lineio"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// DefaultPort is spec.md §6's store-server default TCP port.
const DefaultPort = 11244

// Batch is the RUDICS-framed request/reply unit exchanged with the
// server: a request carries this node's outbound queue; a reply carries
// whatever the server is holding for this node.
type Batch struct {
	ModemID  transmission.ID              `json:"modem_id"`
	Messages []transmission.ModemTransmission `json:"messages"`
}

// Config is the store-server client driver's extra configuration.
type Config struct {
	ServerAddress string
	QueryInterval time.Duration
	ResetInterval time.Duration
	MaxFrameBytes uint32
}

// Driver is the store-server client driver.
type Driver struct {
	*driver.Base
	clk       *clock.Clock
	cfg       Config
	conn      *lineio.TCPClient
	nextFrame uint32

	lastQuery     clock.TimePoint
	awaitingReply bool
	sentAt        clock.TimePoint
}

// New returns a store-server client driver bound to cfg.
func New(clk *clock.Clock, cfg Config) *Driver {
	if cfg.QueryInterval == 0 {
		cfg.QueryInterval = 30 * time.Second
	}
	if cfg.ResetInterval == 0 {
		cfg.ResetInterval = 10 * time.Second
	}
	return &Driver{clk: clk, cfg: cfg}
}

func (d *Driver) Startup(base driver.Config) error {
	d.conn = &lineio.TCPClient{Address: d.cfg.ServerAddress, Delimiter: '\r'}
	d.Base = driver.NewBase(d.conn, base)
	if err := d.Base.ModemStart(); err != nil {
		d.Base.SetStatus(acommserr.StatusStartupFailed)
		return err
	}
	d.Base.SetStatus(acommserr.StatusOK)
	d.lastQuery = d.clk.Now()
	return nil
}

func (d *Driver) Shutdown() {
	d.Base.ModemClose()
	d.Base.SetStatus(acommserr.StatusShutdown)
}

func (d *Driver) UpdateConfig(base driver.Config) {}

func (d *Driver) HandleInitiateTransmission(transmission.ModemTransmission) {
	// The store-server client has no slot-driven transmission of its
	// own: its outbound traffic is pulled via OnDataRequest at each
	// query tick instead (see DoWork/poll).
}

// DoWork reads a pending reply if one is buffered, resets the
// connection if a sent query has gone unanswered past ResetInterval,
// and otherwise polls at QueryInterval.
func (d *Driver) DoWork() {
	raw, ok, err := d.Base.ModemRead()
	if err != nil {
		d.Base.Logger().Warn("store-server read failed", "err", err)
		d.Base.SetStatus(acommserr.StatusModemNotResponding)
		return
	}
	if ok {
		d.handleReply(raw)
		return
	}

	now := d.clk.Now()
	if d.awaitingReply {
		if now.Sub(d.sentAt) > d.cfg.ResetInterval {
			d.Base.Logger().Warn("store-server reply timed out, reconnecting")
			d.reconnect()
		}
		return
	}
	if now.Sub(d.lastQuery) >= d.cfg.QueryInterval {
		d.poll()
	}
}

func (d *Driver) reconnect() {
	d.Base.ModemClose()
	d.awaitingReply = false
	if err := d.Base.ModemStart(); err != nil {
		d.Base.Logger().Warn("store-server reconnect failed", "err", err)
		d.Base.SetStatus(acommserr.StatusConnectionToModemFailed)
	}
}

func (d *Driver) poll() {
	batch := Batch{ModemID: d.Base.Config().ModemID}
	for {
		req := &transmission.ModemTransmission{
			MaxFrameBytes: d.cfg.MaxFrameBytes,
			FrameStart:    d.nextFrame,
			Dest:          transmission.Query,
		}
		if d.Base.Signals.OnDataRequest != nil {
			d.Base.Signals.OnDataRequest(req)
		}
		if len(req.Frames) == 0 {
			break
		}
		d.nextFrame += uint32(len(req.Frames))
		batch.Messages = append(batch.Messages, *req)
	}

	encoded, err := json.Marshal(batch)
	if err != nil {
		d.Base.Logger().Warn("store-server batch encode failed", "err", err)
		return
	}
	if err := d.Base.ModemWrite(append(encoded, '\r')); err != nil {
		d.Base.Logger().Warn("store-server query failed", "err", err)
		return
	}
	d.lastQuery = d.clk.Now()
	d.sentAt = d.lastQuery
	d.awaitingReply = true
}

func (d *Driver) handleReply(raw []byte) {
	d.awaitingReply = false
	var batch Batch
	if err := json.Unmarshal(raw, &batch); err != nil {
		d.Base.Logger().Warn("store-server reply decode failed", "err", err)
		return
	}
	for _, msg := range batch.Messages {
		if d.Base.Signals.OnReceive != nil {
			d.Base.Signals.OnReceive(msg)
		}
	}
}

func (d *Driver) Report() driver.ModemReport { return d.Base.Report() }
