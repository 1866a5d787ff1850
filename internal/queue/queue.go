// Package queue implements the per-message-type FIFO with priority, TTL,
// blackout and ACK tracking described in spec.md §4.4, a generalization of
// goby3's acomms/queue/queue.{h,cpp}.
package queue

import (
	"container/list"
	"time"

	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// Config is the per-Queue configuration of spec.md §4.4.
type Config struct {
	Name            string
	MaxQueue        int // 0 means unbounded
	Ack             bool
	BlackoutSeconds float64
	TTLSeconds      float64
	ValueBase       float64
	NewestFirst     bool
}

// Entry is one Queue Entry (spec.md §3): a typed application message plus
// the metadata the Queue needs to schedule and ACK it.
type Entry struct {
	Payload         any
	Dest            transmission.ID
	Src             transmission.ID
	Time            clock.TimePoint
	AckRequested    bool
	NonRepeatedSize int
	LastSentTime    clock.TimePoint
}

// PriorityRequest is the (max_frame_bytes, dest, ack_requested) triple a
// driver's data request carries, used by GetPriorityValues (spec.md §4.4).
type PriorityRequest struct {
	MaxFrameBytes uint32
	Dest          transmission.ID
	AckRequested  bool
}

// Queue holds the pending Entries for one application message type.
type Queue struct {
	cfg Config

	messages     *list.List // of *Entry, front = oldest
	waitingAck   map[uint32]*list.Element
	lastSendTime clock.TimePoint
}

// New returns an empty Queue configured per cfg. now seeds
// last_send_time, so a configured blackout applies from the Queue's
// creation and the time-since-last-send priority term starts at zero.
func New(cfg Config, now clock.TimePoint) *Queue {
	return &Queue{
		cfg:          cfg,
		messages:     list.New(),
		waitingAck:   make(map[uint32]*list.Element),
		lastSendTime: now,
	}
}

func (q *Queue) Config() Config { return q.cfg }

// Size returns the number of Entries currently held (including those
// waiting for ACK).
func (q *Queue) Size() int { return q.messages.Len() }

// Push appends e to the Queue, applying the overflow policy from spec.md
// §4.4: if max_queue is exceeded, drop the oldest or newest entry
// depending on NewestFirst, dropping any ACK-wait index pointing at the
// removed slot too. Returns false (and does not enqueue) if e has zero
// NonRepeatedSize, mirroring the original's "empty message" rejection.
func (q *Queue) Push(e Entry) bool {
	if e.NonRepeatedSize == 0 {
		return false
	}
	elem := q.messages.PushBack(&e)

	if q.cfg.MaxQueue > 0 && q.messages.Len() > q.cfg.MaxQueue {
		var toRemove *list.Element
		if q.cfg.NewestFirst {
			toRemove = q.messages.Front()
		} else {
			toRemove = q.messages.Back()
		}
		q.removeFromAckIndex(toRemove)
		q.messages.Remove(toRemove)
	}
	_ = elem
	return true
}

// nextElement returns the element GiveData/GetPriorityValues would select
// next: the end dictated by NewestFirst, skipping entries already waiting
// for an ACK (spec.md §4.4 "next()").
func (q *Queue) nextElement() *list.Element {
	var it *list.Element
	if q.cfg.NewestFirst {
		it = q.messages.Back()
	} else {
		it = q.messages.Front()
	}
	for it != nil && q.isWaitingAck(it) {
		if q.cfg.NewestFirst {
			it = it.Prev()
		} else {
			it = it.Next()
		}
	}
	return it
}

func (q *Queue) isWaitingAck(elem *list.Element) bool {
	for _, e := range q.waitingAck {
		if e == elem {
			return true
		}
	}
	return false
}

func (q *Queue) removeFromAckIndex(elem *list.Element) {
	for frame, e := range q.waitingAck {
		if e == elem {
			delete(q.waitingAck, frame)
			return
		}
	}
}

// GiveData returns the candidate Entry for the given frame index and, if
// the entry still requests an ACK, records the frame->entry binding rather
// than removing the entry from the list (spec.md §4.4 "give_data"). A
// BROADCAST destination always forces the ACK flag off, since a broadcast
// message can never be individually acknowledged.
func (q *Queue) GiveData(frame uint32, now clock.TimePoint) (Entry, bool) {
	elem := q.nextElement()
	if elem == nil {
		return Entry{}, false
	}
	e := elem.Value.(*Entry)

	ack := e.AckRequested
	if e.Dest == transmission.Broadcast && ack {
		ack = false
	}
	e.AckRequested = ack

	if ack {
		q.waitingAck[frame] = elem
	}

	q.lastSendTime = now
	e.LastSentTime = now
	return *e, true
}

// PopAck removes and returns the Entry bound to frame, if any (spec.md
// §4.4 "pop_ack").
func (q *Queue) PopAck(frame uint32) (Entry, bool) {
	elem, ok := q.waitingAck[frame]
	if !ok {
		return Entry{}, false
	}
	delete(q.waitingAck, frame)
	e := *elem.Value.(*Entry)
	q.messages.Remove(elem)
	return e, true
}

// PopFront removes and returns the first Entry (by NewestFirst order) that
// is not currently waiting for an ACK, without requiring a frame number
// (used for non-acked sends; spec.md §4.4 "pop()" analogue of give_data
// for ack=false messages).
func (q *Queue) PopFront() (Entry, bool) {
	elem := q.nextElement()
	if elem == nil {
		return Entry{}, false
	}
	e := *elem.Value.(*Entry)
	if e.AckRequested {
		return Entry{}, false
	}
	q.messages.Remove(elem)
	return e, true
}

// Expire removes, from the front of the list, every Entry whose
// Time+TTL < now, returning the evicted payloads in FIFO order (spec.md
// §4.4 "expire", §5 "Queue expire signals are emitted in FIFO order of
// push").
func (q *Queue) Expire(now clock.TimePoint) []Entry {
	var expired []Entry
	ttl := time.Duration(q.cfg.TTLSeconds * float64(time.Second))
	for {
		front := q.messages.Front()
		if front == nil {
			break
		}
		e := front.Value.(*Entry)
		if e.Time.Add(ttl).Before(now) {
			expired = append(expired, *e)
			q.removeFromAckIndex(front)
			q.messages.Remove(front)
			continue
		}
		break
	}
	return expired
}

// ClearAckQueue drops ACK-wait bindings whose frame index is >= startFrame
// (the driver has advanced past them without an ACK) and bindings older
// than minAckWait (spec.md §4.4 "clear_ack_queue").
func (q *Queue) ClearAckQueue(startFrame uint32, minAckWait time.Duration, now clock.TimePoint) {
	for frame, elem := range q.waitingAck {
		e := elem.Value.(*Entry)
		if frame >= startFrame {
			delete(q.waitingAck, frame)
			continue
		}
		if e.LastSentTime.Add(minAckWait).Before(now) {
			delete(q.waitingAck, frame)
		}
	}
}

// InBlackout reports whether the Queue is currently within its blackout
// interval.
func (q *Queue) InBlackout(now clock.TimePoint) bool {
	blackout := time.Duration(q.cfg.BlackoutSeconds * float64(time.Second))
	return q.lastSendTime.Add(blackout).After(now)
}

// GetPriorityValues implements the eligibility predicate and priority
// score of spec.md §4.4. It returns ok=false if the Queue is not a valid
// candidate for req; otherwise it returns the priority value (higher is
// more urgent).
func (q *Queue) GetPriorityValues(req PriorityRequest, usedBytes int, now clock.TimePoint) (priority float64, ok bool) {
	ttl := q.cfg.TTLSeconds
	if ttl <= 0 {
		ttl = 1
	}
	priority = now.Sub(q.lastSendTime).Seconds() / ttl * q.cfg.ValueBase

	// no messages left that aren't already waiting for ack
	eligible := q.messages.Len() - len(q.waitingAck)
	if eligible <= 0 {
		return priority, false
	}

	if q.InBlackout(now) {
		return priority, false
	}

	elem := q.nextElement()
	if elem == nil {
		return priority, false
	}
	next := elem.Value.(*Entry)

	if req.MaxFrameBytes > 0 && next.NonRepeatedSize > int(req.MaxFrameBytes)-usedBytes {
		return priority, false
	}

	if !(req.Dest == transmission.Query || next.Dest == transmission.Broadcast || req.Dest == next.Dest) {
		return priority, false
	}

	if !req.AckRequested && next.AckRequested && req.Dest != transmission.Broadcast {
		return priority, false
	}

	return priority, true
}
