package driver

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goby-acomms/acomms/internal/acommserr"
	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/transmission"
)

func TestDriverNameFormat(t *testing.T) {
	assert.Equal(t, "IRIDIUM::7", driverName(Config{Type: "IRIDIUM", ModemID: 7}))
}

func TestBaseOrderIncreasesPerInstance(t *testing.T) {
	b1 := NewBase(nil, Config{Type: "ABC", ModemID: 1})
	b2 := NewBase(nil, Config{Type: "ABC", ModemID: 2})
	assert.Less(t, b1.Order(), b2.Order())
}

// failingDriver always fails Startup, used to exercise scenario S5.
type failingDriver struct {
	startupCalls int
	doWorkCalls  int
}

func (f *failingDriver) Startup(Config) error {
	f.startupCalls++
	return errors.New("connection failed")
}
func (f *failingDriver) Shutdown()                                                 {}
func (f *failingDriver) DoWork()                                                   { f.doWorkCalls++ }
func (f *failingDriver) UpdateConfig(Config)                                       {}
func (f *failingDriver) HandleInitiateTransmission(transmission.ModemTransmission) {}
func (f *failingDriver) Report() ModemReport                                       { return ModemReport{} }

// TestSupervisorBackoffAndRetry reproduces spec.md §8 scenario S5.
func TestSupervisorBackoffAndRetry(t *testing.T) {
	clk := clock.NewManual(clock.Unix(time.Unix(0, 0).UTC()))
	d := &failingDriver{}
	sup := NewSupervisor(clk, d, 10*time.Second)

	sup.Start(Config{Type: "IRIDIUM", ModemID: 1})
	require.False(t, sup.Running())
	require.Equal(t, 1, d.startupCalls)
	require.Equal(t, acommserr.StatusStartupFailed, sup.Report().Status)

	sup.DoWork()
	assert.Equal(t, 0, d.doWorkCalls)
	assert.Equal(t, 1, d.startupCalls)

	clk.Advance(5 * time.Second)
	sup.DoWork()
	assert.Equal(t, 1, d.startupCalls, "still within backoff window")

	clk.Advance(6 * time.Second)
	sup.DoWork()
	assert.Equal(t, 2, d.startupCalls, "backoff elapsed, startup retried")
}
