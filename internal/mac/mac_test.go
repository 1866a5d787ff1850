package mac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// TestCycleBootstrap exercises the spec.md §4.3 bootstrap formula
// (k = floor((now-t_ref)/cycle_duration)+1) against the same slot table as
// spec.md §8 scenario S1. Working the formula through by hand gives the
// next whole-cycle boundary at t=20 (not the t=15 the prose of S1 states);
// this implementation follows the stated formula, which is also what
// mac_manager.cpp's next_cycle_time() computes, rather than the
// inconsistent literal walkthrough.
func TestCycleBootstrap(t *testing.T) {
	start := clock.Unix(time.Unix(11, 0).UTC())
	clk := clock.NewManual(start)

	var initiated []transmission.ID
	m := New(clk, EventHandlers{
		InitiateTransmission: func(s transmission.ModemTransmission) {
			initiated = append(initiated, s.Src)
		},
	})

	m.Startup(Config{
		ModemID: 1,
		Type:    Polled,
		Slots: []Slot{
			{Src: 1, Dest: 2, Seconds: 5},
			{Src: 2, Dest: 1, Seconds: 5},
		},
		Reference:    ReferenceFixed,
		FixedRefTime: clock.Unix(time.Unix(0, 0).UTC()),
	})
	require.Equal(t, clock.Unix(time.Unix(20, 0).UTC()), m.NextSlotTime())

	for sec := 11; sec <= 31 && len(initiated) < 3; sec++ {
		clk.Set(clock.Unix(time.Unix(int64(sec), 0).UTC()))
		m.DoWork()
	}

	require.Len(t, initiated, 3)
	assert.Equal(t, transmission.ID(1), initiated[0])
	assert.Equal(t, transmission.ID(2), initiated[1])
	assert.Equal(t, transmission.ID(1), initiated[2])
}

// TestPolledBroadcastSuppression checks spec.md §8 invariant 2.
func TestPolledBroadcastSuppression(t *testing.T) {
	start := clock.Unix(time.Unix(0, 0).UTC())
	clk := clock.NewManual(start)

	fired := false
	m := New(clk, EventHandlers{
		InitiateTransmission: func(transmission.ModemTransmission) { fired = true },
	})
	m.Startup(Config{
		Type: Polled,
		Slots: []Slot{
			{Src: transmission.Broadcast, Dest: 1, Seconds: 1},
		},
		Reference:    ReferenceFixed,
		FixedRefTime: start,
	})

	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		m.DoWork()
	}
	assert.False(t, fired, "POLLED MAC must never initiate a BROADCAST-src slot")
}

// TestCycleInterArrivalProperty checks spec.md §8 invariant 1: beyond the
// first cycle, slot_start inter-arrival times equal the configured slot
// durations, in order, repeating.
func TestCycleInterArrivalProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "nslots")
		durations := make([]float64, n)
		slots := make([]Slot, n)
		for i := 0; i < n; i++ {
			d := rapid.IntRange(1, 10).Draw(rt, "dur")
			durations[i] = float64(d)
			slots[i] = Slot{Src: 1, Dest: 2, Seconds: float64(d)}
		}

		start := clock.Unix(time.Unix(0, 0).UTC())
		clk := clock.NewManual(start)

		var starts []clock.TimePoint
		m := New(clk, EventHandlers{
			SlotStart: func(s transmission.ModemTransmission) { starts = append(starts, s.Time) },
		})
		m.Startup(Config{
			Type:         FixedDecentralized,
			Slots:        slots,
			Reference:    ReferenceFixed,
			FixedRefTime: start,
		})

		var total float64
		for _, d := range durations {
			total += d
		}
		// advance through two full cycles plus a bit, one second at a time
		ticks := int(total*2) + n + 2
		for i := 0; i < ticks; i++ {
			clk.Advance(time.Second)
			m.DoWork()
		}

		// Once we're two cycles in, inter-arrival must match durations,
		// cyclically.
		if len(starts) < n+2 {
			return
		}
		for i := n; i < len(starts)-1; i++ {
			want := time.Duration(durations[i%n]) * time.Second
			got := starts[i+1].Sub(starts[i])
			if got != want {
				rt.Fatalf("inter-arrival %d: got %v want %v", i, got, want)
			}
		}
	})
}
