package portal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/codec"
	"github.com/goby-acomms/acomms/internal/driver"
	"github.com/goby-acomms/acomms/internal/mac"
	"github.com/goby-acomms/acomms/internal/queue"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// recordingDriver counts DoWork calls and captures every transmission
// handed to it, standing in for a real Driver in a Portal-level test.
type recordingDriver struct {
	doWorkCalls int
	initiated   []transmission.ModemTransmission
}

func (r *recordingDriver) Startup(driver.Config) error { return nil }
func (r *recordingDriver) Shutdown()                   {}
func (r *recordingDriver) DoWork()                     { r.doWorkCalls++ }
func (r *recordingDriver) UpdateConfig(driver.Config)  {}
func (r *recordingDriver) HandleInitiateTransmission(m transmission.ModemTransmission) {
	r.initiated = append(r.initiated, m)
}
func (r *recordingDriver) Report() driver.ModemReport { return driver.ModemReport{} }

// TestPortalOrdersDriverThenMACThenQueue confirms one DoWork tick
// services driver, MAC and queue expiry in the order spec.md §5
// mandates, and that a MAC-initiated slot pulls a queued message
// through to the driver.
func TestPortalOrdersDriverThenMACThenQueue(t *testing.T) {
	clk := clock.NewManual(clock.Unix(time.Unix(1700000000, 0).UTC()))
	rd := &recordingDriver{}
	sup := driver.NewSupervisor(clk, rd, time.Second)
	sup.Start(driver.Config{Type: "ABC", ModemID: 1})

	qm := queue.NewManager(clk, codec.NewJSON(), 1, queue.Handlers{})
	qm.Register("telemetry", queue.QueueDef{Config: queue.Config{Ack: false, TTLSeconds: 60}})
	require.NoError(t, qm.Push("telemetry", map[string]int{"v": 1}, queue.PushMeta{
		Dest: ptrID(2),
	}))

	l := &Link{Driver: sup, QueueMgr: qm, Name: "test", FrameBytes: 1024}
	var frame uint32
	m := mac.New(clk, BindLink(l, codec.NewJSON(), &frame))
	l.MAC = m
	m.Startup(mac.Config{
		ModemID: 1,
		Type:    mac.FixedDecentralized,
		Slots:   []mac.Slot{{Src: 1, Dest: 2, Seconds: 1}},
	})

	p := New(clk, time.Hour)
	p.AddLink(l)

	clk.Advance(2 * time.Second)
	p.DoWork()

	assert.Equal(t, 1, rd.doWorkCalls)
	require.Len(t, rd.initiated, 1)
	assert.Equal(t, transmission.ID(2), rd.initiated[0].Dest)
	require.Len(t, rd.initiated[0].Frames, 1)
}

func ptrID(id transmission.ID) *transmission.ID { return &id }
