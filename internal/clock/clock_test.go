package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClockAdvance(t *testing.T) {
	start := Unix(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewManual(start)
	assert.Equal(t, start, c.Now())

	c.Advance(5 * time.Second)
	assert.Equal(t, start.Add(5*time.Second), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestTimePointArithmetic(t *testing.T) {
	a := Unix(time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC))
	b := Unix(time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC))
	assert.Equal(t, 5*time.Second, a.Sub(b))
	assert.True(t, a.After(b))
	assert.True(t, b.Before(a))
}

func TestWarpedClockScalesElapsedTime(t *testing.T) {
	ref := Unix(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewWarped(ref, 10)
	c.t0 = time.Now().Add(-1 * time.Second) // pretend 1s of real time has elapsed
	got := c.Now()
	want := ref.Add(10 * time.Second)
	assert.InDelta(t, 0, got.Sub(want).Seconds(), 0.05)
}
