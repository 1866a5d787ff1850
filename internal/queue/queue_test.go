package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/transmission"
)

func mkEntry(tag string, now clock.TimePoint) Entry {
	return Entry{Payload: tag, Dest: 2, Src: 1, Time: now, NonRepeatedSize: 4}
}

// TestQueueOverflowNewestDropped reproduces spec.md §8 scenario S2.
func TestQueueOverflowNewestDropped(t *testing.T) {
	now := clock.Unix(time.Unix(0, 0).UTC())
	q := New(Config{MaxQueue: 2, TTLSeconds: 60, NewestFirst: false}, now)

	require.True(t, q.Push(mkEntry("A", now)))
	require.True(t, q.Push(mkEntry("B", now)))
	require.True(t, q.Push(mkEntry("C", now)))

	require.Equal(t, 2, q.Size())

	e, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, "A", e.Payload)
}

// TestQueueLoopback reproduces spec.md §8 scenario S3 at the Manager
// level: pushing a message whose destination is our own modem id never
// touches the Queue, emits exactly one receive and one ack.
func TestQueueLoopback(t *testing.T) {
	clk := clock.NewManual(clock.Unix(time.Unix(0, 0).UTC()))
	mgr := newTestManager(t, clk, 1)

	var receives, acks int
	mgr.handlers.OnReceive = func(string, any) { receives++ }
	mgr.handlers.OnAck = func(string, Entry) { acks++ }

	dest := transmission.ID(1)
	ackTrue := true
	err := mgr.Push("data", "hello", PushMeta{Dest: &dest, AckRequested: &ackTrue})
	require.NoError(t, err)

	assert.Equal(t, 1, receives)
	assert.Equal(t, 1, acks)
	assert.Equal(t, 0, mgr.Queue("data").Size())
}

func newTestManager(t *testing.T, clk *clock.Clock, modemID transmission.ID) *Manager {
	t.Helper()
	mgr := NewManager(clk, stubCodec{}, modemID, Handlers{})
	mgr.Register("data", QueueDef{Config: Config{MaxQueue: 10, TTLSeconds: 60, ValueBase: 1}})
	return mgr
}

type stubCodec struct{}

func (stubCodec) Encode(msg any) ([]byte, error) { return []byte("x"), nil }
func (stubCodec) SizeOf(msg any) (int, error)    { return 4, nil }

// TestGetPriorityValuesPredicate checks spec.md §8 invariant 3 for a hand
// picked set of queues.
func TestGetPriorityValuesPredicate(t *testing.T) {
	now := clock.Unix(time.Unix(100, 0).UTC())

	inBlackout := New(Config{TTLSeconds: 60, ValueBase: 1, BlackoutSeconds: 1000}, now)
	inBlackout.Push(Entry{Dest: 2, NonRepeatedSize: 4, Time: now})

	tooBig := New(Config{TTLSeconds: 60, ValueBase: 1}, now)
	tooBig.Push(Entry{Dest: 2, NonRepeatedSize: 100, Time: now})

	wrongDest := New(Config{TTLSeconds: 60, ValueBase: 1}, now)
	wrongDest.Push(Entry{Dest: 3, NonRepeatedSize: 4, Time: now})

	ok := New(Config{TTLSeconds: 60, ValueBase: 1}, now)
	ok.Push(Entry{Dest: 2, NonRepeatedSize: 4, Time: now})

	req := PriorityRequest{MaxFrameBytes: 10, Dest: 2, AckRequested: true}

	_, good := inBlackout.GetPriorityValues(req, 0, now)
	assert.False(t, good)

	_, good = tooBig.GetPriorityValues(req, 0, now)
	assert.False(t, good)

	_, good = wrongDest.GetPriorityValues(req, 0, now)
	assert.False(t, good)

	_, good = ok.GetPriorityValues(req, 0, now)
	assert.True(t, good)
}

// TestAckExpireDisjoint checks spec.md §8 invariant 4 by construction: a
// pushed entry is always resolved by exactly one of ack, expire or a
// plain pop, never zero or two.
func TestAckExpireDisjoint(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		now := clock.Unix(time.Unix(1000, 0).UTC())
		ack := rapid.Bool().Draw(rt, "ack")
		broadcast := rapid.Bool().Draw(rt, "broadcast")

		q := New(Config{TTLSeconds: 10, ValueBase: 1, MaxQueue: 10}, now)
		dest := transmission.ID(2)
		if broadcast {
			dest = transmission.Broadcast
		}
		q.Push(Entry{Dest: dest, NonRepeatedSize: 4, Time: now, AckRequested: ack})

		e, got := q.GiveData(1, now)
		if !got {
			rt.Fatal("expected an entry")
		}
		effectiveAck := e.AckRequested // GiveData forces off for broadcast

		if effectiveAck {
			_, ok := q.PopAck(1)
			if !ok {
				rt.Fatal("ack-requested entry must be resolvable via PopAck")
			}
		} else {
			// a non-ack'd entry must not have been bound in the ack-wait
			// index
			_, exists := q.waitingAck[1]
			if exists {
				rt.Fatal("non-ack entry should not be in the ack-wait index")
			}
		}
	})
}
