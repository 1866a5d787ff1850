// Package driver defines the uniform contract every modem driver
// implements (spec.md §4.5) and the Base helper type that gives each
// concrete driver its LineIO plumbing, raw-line tee, and ModemReport
// bookkeeping, generalized from the teacher's lack of a shared driver
// abstraction and grounded on original_source's driver_base.h.
package driver

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"

	"github.com/goby-acomms/acomms/internal/acommserr"
	"github.com/goby-acomms/acomms/internal/lineio"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// Config is the common startup configuration every driver accepts;
// concrete drivers embed this and add their own fields (device paths,
// AT timing, RockBLOCK credentials, ...).
type Config struct {
	ModemID         transmission.ID
	Type            string // "IRIDIUM", "UDP", "UDP_MULTICAST", "ABC", "STORE_SERVER", ...
	BackoffSeconds  float64
	RawLogTimestamp string // strftime pattern; empty disables the raw tee timestamp prefix
}

// Signals is the synchronous callback set of driver_base.h's
// boost::signals2 members. Every callback fires in-thread during a
// do_work() call; none of them are queued or dispatched asynchronously,
// preserving the "signals fire synchronously in-thread" contract of
// spec.md §9.
type Signals struct {
	OnReceive            func(transmission.ModemTransmission)
	OnTransmitResult     func(transmission.ModemTransmission)
	OnDataRequest        func(*transmission.ModemTransmission)
	OnModifyTransmission func(*transmission.ModemTransmission)
	OnRawIncoming        func(line []byte)
	OnRawOutgoing        func(line []byte)
}

// ModemReport is the status and signal-quality snapshot a driver exposes
// on demand, a Go-native rendering of driver_base.h's ModemReport.
type ModemReport struct {
	Status             acommserr.Status
	DriverOrder        int
	DriverName         string
	LastTransmission   transmission.ModemTransmission
	HaveTransmission   bool
	ConnectionAttempts int
	// SignalStrengthDBm and related fields are nil when the underlying
	// modem has never reported a reading (ABC, UDP never populate them;
	// Iridium's AT+CSQ/+CIEV path does).
	SignalStrengthDBm *int
}

// Driver is the contract every concrete modem driver implements.
// spec.md §9 favors a closed set of implementations (Iridium, UDP,
// UDPMulticast, ABC, StoreServer, IridiumShore) dispatched through this
// single interface rather than open-ended virtual dispatch; the set of
// constructors in each driver subpackage is the closed set.
type Driver interface {
	Startup(cfg Config) error
	Shutdown()
	DoWork()
	UpdateConfig(cfg Config)
	HandleInitiateTransmission(msg transmission.ModemTransmission)
	Report() ModemReport
}

var orderCounter int64

// Base is embedded by every concrete driver. It owns the LineIO, the raw
// tee, and driver_order/driver_name bookkeeping so individual drivers
// only implement their state machine.
type Base struct {
	Signals Signals

	mu         sync.Mutex
	line       lineio.LineIO
	cfg        Config
	order      int
	status     acommserr.Status
	attempts   int
	lastTx     transmission.ModemTransmission
	haveLastTx bool
	tsPattern  string
	log        *log.Logger
}

// NewBase assigns this driver the next driver_order and names it
// "<Type>::<ModemID>", matching driver_base.h's driver_name() format.
func NewBase(line lineio.LineIO, cfg Config) *Base {
	order := int(atomic.AddInt64(&orderCounter, 1))
	b := &Base{
		line:   line,
		cfg:    cfg,
		order:  order,
		status: acommserr.StatusOK,
		log:    log.Default().With("component", "driver", "name", driverName(cfg)),
	}
	b.tsPattern = cfg.RawLogTimestamp
	return b
}

func driverName(cfg Config) string {
	return fmt.Sprintf("%s::%d", cfg.Type, cfg.ModemID)
}

func (b *Base) Order() int           { return b.order }
func (b *Base) Name() string         { return driverName(b.cfg) }
func (b *Base) Config() Config       { return b.cfg }
func (b *Base) Logger() *log.Logger  { return b.log }

// SetStatus records the driver's current ModemReport status.
func (b *Base) SetStatus(s acommserr.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

// RecordConnectionAttempt increments the attempt counter surfaced on a
// ModemReport, used by the S5 reset-backoff scenario to observe retries.
func (b *Base) RecordConnectionAttempt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
}

// RecordTransmission remembers the most recent ModemTransmission for
// ModemReport.LastTransmission.
func (b *Base) RecordTransmission(m transmission.ModemTransmission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTx = m
	b.haveLastTx = true
}

// Report composes a ModemReport from the accumulated Base state; a
// concrete driver overrides SignalStrengthDBm by copying this and
// setting the field itself.
func (b *Base) Report() ModemReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ModemReport{
		Status:             b.status,
		DriverOrder:        b.order,
		DriverName:         driverName(b.cfg),
		LastTransmission:   b.lastTx,
		HaveTransmission:   b.haveLastTx,
		ConnectionAttempts: b.attempts,
	}
}

// ModemStart opens the LineIO, mirroring driver_base.h's modem_start.
// A failure here is a transport error: the caller is expected to set
// StatusConnectionToModemFailed (or StatusStartupFailed on the very
// first attempt) and let the owning Supervisor apply the backoff policy
// rather than retrying internally.
func (b *Base) ModemStart() error {
	b.RecordConnectionAttempt()
	if err := b.line.Start(); err != nil {
		return err
	}
	return nil
}

// ModemClose mirrors driver_base.h's modem_close.
func (b *Base) ModemClose() error {
	if b.line == nil {
		return nil
	}
	return b.line.Close()
}

// ModemWrite writes a line to the LineIO and fires signal_raw_outgoing,
// prefixing the tee with a timestamp when RawLogTimestamp is configured.
func (b *Base) ModemWrite(out []byte) error {
	if err := b.line.Write(out); err != nil {
		return err
	}
	b.tee(out, false)
	return nil
}

// ModemRead drains at most one already-buffered line from the LineIO and
// fires signal_raw_incoming, mirroring driver_base.h's modem_read.
func (b *Base) ModemRead() ([]byte, bool, error) {
	line, ok, err := b.line.ReadLine()
	if err != nil {
		return nil, false, err
	}
	if ok {
		b.tee(line, true)
	}
	return line, ok, nil
}

func (b *Base) tee(line []byte, rx bool) {
	prefixed := line
	if b.tsPattern != "" {
		if ts, err := strftime.Format(b.tsPattern, time.Now()); err == nil {
			prefixed = append([]byte(ts+" "), line...)
		}
	}
	if rx {
		if b.Signals.OnRawIncoming != nil {
			b.Signals.OnRawIncoming(prefixed)
		}
	} else {
		if b.Signals.OnRawOutgoing != nil {
			b.Signals.OnRawOutgoing(prefixed)
		}
	}
}
