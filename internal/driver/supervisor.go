package driver

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/goby-acomms/acomms/internal/acommserr"
	"github.com/goby-acomms/acomms/internal/clock"
)

// Supervisor applies the external reset policy of spec.md §7/§9: a
// driver whose Startup fails is backed off for BackoffSeconds and
// retried, rather than the driver retrying internally. This is the
// behaviour exercised by scenario S5.
type Supervisor struct {
	Driver  Driver
	Backoff time.Duration
	clk     *clock.Clock
	log     *log.Logger

	cfg        Config
	running    bool
	backoffTil clock.TimePoint
}

// NewSupervisor wraps d with the reset policy driven by clk.
func NewSupervisor(clk *clock.Clock, d Driver, backoff time.Duration) *Supervisor {
	return &Supervisor{
		Driver:  d,
		Backoff: backoff,
		clk:     clk,
		log:     log.Default().With("component", "driver_supervisor"),
	}
}

// Start attempts Startup immediately; a failure enters backoff rather
// than propagating, matching S5's "do_work is a no-op for
// driver_backoff_sec, then startup is retried" contract.
func (s *Supervisor) Start(cfg Config) {
	s.cfg = cfg
	s.tryStartup()
}

func (s *Supervisor) tryStartup() {
	if err := s.Driver.Startup(s.cfg); err != nil {
		s.log.Warn("driver startup failed, entering backoff", "err", err)
		s.running = false
		s.backoffTil = s.clk.Now().Add(s.Backoff)
		return
	}
	s.running = true
}

// DoWork is a no-op while backed off; once the backoff window elapses it
// retries Startup before resuming normal do_work dispatch.
func (s *Supervisor) DoWork() {
	if !s.running {
		if s.clk.Now().Before(s.backoffTil) {
			return
		}
		s.tryStartup()
		if !s.running {
			return
		}
	}
	s.Driver.DoWork()
}

// Running reports whether the wrapped driver is currently started.
func (s *Supervisor) Running() bool { return s.running }

// Shutdown stops the wrapped driver and marks it not running so DoWork
// becomes a permanent no-op, matching driver_base.h's shutdown contract.
func (s *Supervisor) Shutdown() {
	if s.running {
		s.Driver.Shutdown()
	}
	s.running = false
}

// Report surfaces STATUS_STARTUP_FAILED whenever the wrapped driver is
// not running (backed off or shut down), otherwise delegates to the
// wrapped driver.
func (s *Supervisor) Report() ModemReport {
	r := s.Driver.Report()
	if !s.running {
		r.Status = acommserr.StatusStartupFailed
	}
	return r
}
