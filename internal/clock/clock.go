// Package clock provides the virtual monotonic wall-clock used by every
// other component in the acomms core. Nothing outside this package should
// call time.Now directly: reading time only through a Clock is what lets a
// simulated run be warped to run faster than real time.
package clock

import "time"

// TimePoint is an absolute instant at microsecond resolution, matching the
// resolution the wire protocols (Iridium, DCCL headers) reason about.
type TimePoint struct {
	micros int64
}

// Unix returns the TimePoint for the given Unix time.
func Unix(t time.Time) TimePoint {
	return TimePoint{micros: t.UnixMicro()}
}

// Time converts back to a standard library time.Time (UTC).
func (t TimePoint) Time() time.Time {
	return time.UnixMicro(t.micros).UTC()
}

// UnixMicros returns microseconds since the Unix epoch.
func (t TimePoint) UnixMicros() int64 { return t.micros }

// Add returns t+d.
func (t TimePoint) Add(d time.Duration) TimePoint {
	return TimePoint{micros: t.micros + d.Microseconds()}
}

// Sub returns the duration t-u.
func (t TimePoint) Sub(u TimePoint) time.Duration {
	return time.Duration(t.micros-u.micros) * time.Microsecond
}

// Before reports whether t occurs before u.
func (t TimePoint) Before(u TimePoint) bool { return t.micros < u.micros }

// After reports whether t occurs after u.
func (t TimePoint) After(u TimePoint) bool { return t.micros > u.micros }

// IsZero reports whether t is the zero TimePoint.
func (t TimePoint) IsZero() bool { return t.micros == 0 }

func (t TimePoint) String() string { return t.Time().Format(time.RFC3339Nano) }

// Clock is the source of truth for "now" throughout the core. The default
// Clock (New with warp 1) simply wraps time.Now; a warped Clock scales the
// wall-clock difference from a reference instant, letting simulated runs
// (e.g. an `rapid`-driven property test of the MAC cycle) advance far faster
// than real time without changing any component's logic.
type Clock struct {
	t0   time.Time
	ref  TimePoint
	warp int64
	// now, when non-nil, overrides real time entirely: used by tests that
	// want a fully deterministic, manually-advanced clock.
	now func() time.Time
	// manualSet is non-nil only for clocks created with NewManual.
	manualSet func(TimePoint)
}

// New returns a real-time Clock (warp factor 1).
func New() *Clock {
	return &Clock{t0: time.Now(), warp: 1, now: time.Now}
}

// NewWarped returns a Clock whose elapsed time is scaled by warp relative to
// the given reference instant: now() = ref + (real_elapsed * warp).
// warp must be >= 1.
func NewWarped(ref TimePoint, warp int64) *Clock {
	if warp < 1 {
		warp = 1
	}
	return &Clock{t0: time.Now(), ref: ref, warp: warp, now: time.Now}
}

// NewManual returns a Clock whose Now() never advances on its own; call
// Set to move it forward. Used by deterministic unit and property tests.
func NewManual(start TimePoint) *Clock {
	c := &Clock{warp: 1}
	cur := start
	c.now = func() time.Time { return cur.Time() }
	c.manualSet = func(t TimePoint) { cur = t }
	return c
}

// Now returns the current TimePoint.
func (c *Clock) Now() TimePoint {
	if c.warp <= 1 && c.ref.IsZero() {
		return Unix(c.now())
	}
	elapsed := c.now().Sub(c.t0)
	return c.ref.Add(elapsed * time.Duration(c.warp))
}

// Advance moves a manual clock forward by d. It panics if called on a
// non-manual clock.
func (c *Clock) Advance(d time.Duration) {
	if c.manualSet == nil {
		panic("clock: Advance called on a non-manual Clock")
	}
	next := c.Now().Add(d)
	c.manualSet(next)
}

// Set moves a manual clock to an absolute TimePoint.
func (c *Clock) Set(t TimePoint) {
	if c.manualSet == nil {
		panic("clock: Set called on a non-manual Clock")
	}
	c.manualSet(t)
}
