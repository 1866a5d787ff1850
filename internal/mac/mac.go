// Package mac implements the TDMA Medium Access Controller described in
// spec.md §4.3, a direct generalization of goby3's
// acomms/amac/mac_manager.{h,cpp}. A MAC owns an ordered cycle of slot
// templates and, once per tick, decides whether exactly one
// initiate_transmission should fire for the current slot.
package mac

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// Type selects the TDMA scheduling policy (spec.md §4.3 step 3).
type Type int

const (
	// Polled: a single controller transmits in every slot (the src field
	// of each slot is the poll target, not the transmitter).
	Polled Type = iota
	// FixedDecentralized: each participant transmits only in the slots
	// whose src equals its own modem id, or whose AlwaysInitiate is set.
	FixedDecentralized
)

// ReferenceType anchors the start of cycle zero.
type ReferenceType int

const (
	ReferenceStartOfDay ReferenceType = iota
	ReferenceFixed
)

// DefaultAllowedSkew is the clock-jump tolerance before a bootstrap re-run
// is triggered (spec.md §4.3 step "allowed_skew (default 2 s)").
const DefaultAllowedSkew = 2 * time.Second

// Slot is one scheduled transmission opportunity in a MAC cycle.
type Slot struct {
	Src            transmission.ID
	Dest           transmission.ID
	Rate           int
	Kind           transmission.Kind
	Seconds        float64
	AlwaysInitiate bool

	// SlotIndex is assigned by Startup/Update in cycle order and is not
	// meant to be set by callers.
	SlotIndex int
}

// Config is the MACConfig of spec.md §3.
type Config struct {
	ModemID             transmission.ID
	Type                Type
	Slots               []Slot
	Reference           ReferenceType
	FixedRefTime        clock.TimePoint
	StartCycleInMiddle  bool
	AllowedSkew         time.Duration
}

// EventHandlers are the two signals a MAC emits each tick, mirroring
// MACManager::signal_slot_start and signal_initiate_transmission. Both are
// invoked synchronously from DoWork: the caller's handler must return
// before DoWork returns (spec.md §5 ordering guarantees).
type EventHandlers struct {
	SlotStart           func(slot transmission.ModemTransmission)
	InitiateTransmission func(slot transmission.ModemTransmission)
}

var instanceCount int64

// MAC is a single instance of the TDMA scheduler. The zero value is not
// usable; construct with New.
type MAC struct {
	clk      *clock.Clock
	handlers EventHandlers
	logger   *log.Logger

	cfg          Config
	startedUp    bool
	nextSlotTime clock.TimePoint
	current      int // index into cfg.Slots
}

// New returns a MAC driven by clk and wired to handlers. Each instance gets
// a distinct logger group, mirroring mac_manager.cpp's
// "goby::acomms::amac::N" group-per-instance scheme.
func New(clk *clock.Clock, handlers EventHandlers) *MAC {
	n := atomic.AddInt64(&instanceCount, 1)
	return &MAC{
		clk:      clk,
		handlers: handlers,
		logger:   log.Default().With("component", fmt.Sprintf("amac.%d", n)),
	}
}

// Startup builds the cycle from cfg and computes the first next_slot_time
// (spec.md §4.3 steps 1-3).
func (m *MAC) Startup(cfg Config) {
	if cfg.AllowedSkew == 0 {
		cfg.AllowedSkew = DefaultAllowedSkew
	}
	for i := range cfg.Slots {
		cfg.Slots[i].SlotIndex = i
	}
	m.cfg = cfg
	m.logger.Debug("starting up", "type", cfg.Type, "slots", len(cfg.Slots))
	m.Update()
}

// Shutdown halts the cycle; DoWork becomes a no-op until Startup is called
// again.
func (m *MAC) Shutdown() {
	m.current = 0
	m.startedUp = false
	m.logger.Debug("cycle shut down")
}

// Update recomputes the cycle after any mutation of cfg.Slots. It must be
// called after changing the slot list directly.
func (m *MAC) Update() {
	m.logger.Debug("updating MAC cycle")
	if len(m.cfg.Slots) == 0 {
		m.logger.Debug("the MAC TDMA cycle is empty, stopping")
		m.startedUp = false
		return
	}

	m.current = 0
	m.nextSlotTime = m.nextCycleTime()
	m.startedUp = true
	m.logger.Debug("next cycle begins", "at", m.nextSlotTime)

	if m.cfg.StartCycleInMiddle && len(m.cfg.Slots) > 1 &&
		(m.cfg.Type == FixedDecentralized || m.cfg.Type == Polled) {
		m.logger.Debug("starting in the middle of the cycle")
		m.nextSlotTime = m.nextSlotTime.Add(-m.cycleDuration())
		now := m.clk.Now()
		for m.nextSlotTime.Before(now) {
			m.advanceSlot()
		}
	}
}

// cycleDuration sums slot.Seconds across the whole cycle.
func (m *MAC) cycleDuration() time.Duration {
	var total float64
	for _, s := range m.cfg.Slots {
		total += s.Seconds
	}
	return time.Duration(total * float64(time.Second))
}

// nextCycleTime computes t_ref + k*cycle_duration per spec.md §4.3 step 2.
func (m *MAC) nextCycleTime() clock.TimePoint {
	now := m.clk.Now()

	var ref clock.TimePoint
	switch m.cfg.Reference {
	case ReferenceStartOfDay:
		t := now.Time()
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		ref = clock.Unix(midnight)
	case ReferenceFixed:
		ref = m.cfg.FixedRefTime
	}

	cycleDur := m.cycleDuration()
	if cycleDur <= 0 {
		return ref
	}

	sinceRef := now.Sub(ref)
	k := int64(math.Floor(float64(sinceRef)/float64(cycleDur))) + 1
	return ref.Add(time.Duration(k) * cycleDur)
}

// DoWork is the per-tick entry point the Portal calls. It fires at most one
// slot_start/initiate_transmission pair per call.
func (m *MAC) DoWork() {
	if !m.startedUp {
		return
	}
	now := m.clk.Now()
	if !now.After(m.nextSlotTime) {
		return
	}
	m.beginSlot(now)
}

func (m *MAC) beginSlot(now clock.TimePoint) {
	skew := now.Sub(m.nextSlotTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > m.cfg.AllowedSkew {
		m.logger.Warn("clock skew detected, re-running bootstrap", "skew", skew)
		m.Update()
		return
	}

	slotCfg := m.cfg.Slots[m.current]
	slotMsg := transmission.ModemTransmission{
		Src:         slotCfg.Src,
		Dest:        slotCfg.Dest,
		Rate:        slotCfg.Rate,
		Kind:        slotCfg.Kind,
		Time:        m.nextSlotTime,
		SlotIndex:   slotCfg.SlotIndex,
		SlotSeconds: slotCfg.Seconds,
	}

	weAreTransmitting := false
	switch m.cfg.Type {
	case FixedDecentralized:
		weAreTransmitting = slotCfg.Src == m.cfg.ModemID || slotCfg.AlwaysInitiate
	case Polled:
		weAreTransmitting = slotCfg.Src != transmission.Broadcast
	}

	if m.handlers.SlotStart != nil {
		m.handlers.SlotStart(slotMsg)
	}
	if weAreTransmitting && m.handlers.InitiateTransmission != nil {
		m.handlers.InitiateTransmission(slotMsg)
	}

	m.advanceSlot()
	m.logger.Debug("next slot", "at", m.nextSlotTime)
}

// advanceSlot moves next_slot_time forward by the current slot's duration
// and wraps the cycle iterator (spec.md §4.3 "increment_slot").
func (m *MAC) advanceSlot() {
	cur := m.cfg.Slots[m.current]
	m.nextSlotTime = m.nextSlotTime.Add(time.Duration(cur.Seconds * float64(time.Second)))
	m.current++
	if m.current >= len(m.cfg.Slots) {
		m.current = 0
	}
}

// NextSlotTime exposes the next scheduled slot boundary, used by tests
// asserting the cycle's inter-arrival property (spec.md §8 invariant 1).
func (m *MAC) NextSlotTime() clock.TimePoint { return m.nextSlotTime }

// Running reports whether the MAC has an active, non-empty cycle.
func (m *MAC) Running() bool { return m.startedUp }
