// Package portal implements the single-threaded cooperative event loop
// of spec.md §5: one DoWork tick calls do_work on every active driver,
// then the MAC, then the QueueManager, in that order, with no
// preemption point inside any of the three. It is the piece that wires
// internal/mac, internal/queue and internal/driver together into a
// running system; none of those packages call each other directly.
package portal

import (
	"time"

	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/codec"
	"github.com/goby-acomms/acomms/internal/driver"
	"github.com/goby-acomms/acomms/internal/logx"
	"github.com/goby-acomms/acomms/internal/mac"
	"github.com/goby-acomms/acomms/internal/queue"
	"github.com/goby-acomms/acomms/internal/transmission"
)

var log = logx.Named("portal")

// Link is one driver bound into a Portal, paired with the MAC that
// schedules its transmissions. A Portal may hold several Links; DoWork
// services them one after another on the calling goroutine.
type Link struct {
	Name      string
	Driver    *driver.Supervisor
	MAC       *mac.MAC
	QueueMgr  *queue.Manager
	// FrameBytes is the MaxFrameBytes advertised in this link's data
	// requests; 0 means unbounded.
	FrameBytes uint32
}

// Portal is the single-threaded event loop binding one or more Links'
// drivers, MACs and QueueManagers together, plus the periodic
// QueueManager.Expire sweep spec.md §4.4 requires independent of any
// slot or data-request activity.
type Portal struct {
	clk          *clock.Clock
	links        []*Link
	expireEvery  time.Duration
	lastExpireAt map[*Link]clock.TimePoint
}

// New returns a Portal driven by clk. expireEvery controls how often
// each Link's QueueManager.Expire sweep runs; the teacher's own
// do_work loops poll on every tick, so a small interval (e.g. 1s) is
// the idiomatic default here too.
func New(clk *clock.Clock, expireEvery time.Duration) *Portal {
	if expireEvery <= 0 {
		expireEvery = time.Second
	}
	return &Portal{clk: clk, expireEvery: expireEvery, lastExpireAt: make(map[*Link]clock.TimePoint)}
}

// AddLink registers l for DoWork. It wires no signals: the MAC's
// handlers come from BindLink and the QueueManager's handlers are
// configured by the caller (cmd/acommsd). Portal only owns scheduling
// order, not handler wiring, mirroring the
// original's separation between "who owns the binder loop" and "who
// subscribes to signals."
func (p *Portal) AddLink(l *Link) {
	p.links = append(p.links, l)
	p.lastExpireAt[l] = p.clk.Now()
}

// Links exposes the registered links, e.g. for a metrics scrape loop.
func (p *Portal) Links() []*Link { return p.links }

// DoWork runs exactly one tick: every link's driver do_work, then its
// MAC do_work, then (throttled) its QueueManager.Expire, each link
// fully sequential before the next, and within a link strictly in the
// driver→MAC→queue order spec.md §5 mandates.
func (p *Portal) DoWork() {
	for _, l := range p.links {
		if l.Driver != nil {
			l.Driver.DoWork()
		}
		if l.MAC != nil {
			l.MAC.DoWork()
		}
		if l.QueueMgr != nil {
			now := p.clk.Now()
			if now.Sub(p.lastExpireAt[l]) >= p.expireEvery {
				l.QueueMgr.Expire()
				p.lastExpireAt[l] = now
			}
		}
	}
}

// Run calls DoWork in a loop until stop is closed, sleeping tick
// between iterations. This is the entry point cmd/acommsd drives;
// tests call DoWork directly instead.
func (p *Portal) Run(tick time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			log.Info("portal stopping")
			return
		case <-ticker.C:
			p.DoWork()
		}
	}
}

// BindLink wires l's MAC.InitiateTransmission to pull a data request
// from l.QueueMgr and hand the resulting ModemTransmission to l.Driver,
// and wires l.QueueMgr's selector to the driver's own
// HandleInitiateTransmission, the concrete realization of spec.md §5's
// "MAC slot_start always fires before the initiate_transmission it
// triggers" together with §4.4's give_data/Select contract. Call this
// once per Link after both the MAC and the driver have been
// constructed but before Startup.
func BindLink(l *Link, c codec.Codec, frameCounter *uint32) mac.EventHandlers {
	return mac.EventHandlers{
		SlotStart: func(slot transmission.ModemTransmission) {
			log.Debug("slot start", "link", l.Name, "slot", slot.SlotIndex)
		},
		InitiateTransmission: func(slot transmission.ModemTransmission) {
			if l.Driver == nil {
				return
			}
			req := slot
			req.FrameStart = *frameCounter
			req.MaxFrameBytes = l.FrameBytes
			if l.QueueMgr != nil {
				preq := queue.PriorityRequest{
					MaxFrameBytes: l.FrameBytes,
					Dest:          slot.Dest,
					AckRequested:  slot.AckRequested,
				}
				if _, entry, ok := l.QueueMgr.GiveData(preq, 0, *frameCounter); ok {
					if payload, err := c.Encode(entry.Payload); err == nil {
						req.Frames = [][]byte{payload}
					} else {
						log.Warn("data request encode failed", "link", l.Name, "err", err)
					}
					req.AckRequested = entry.AckRequested
					req.Dest = entry.Dest
					req.Src = entry.Src
					*frameCounter++
				}
			}
			l.Driver.Driver.HandleInitiateTransmission(req)
		},
	}
}
