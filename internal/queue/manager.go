package queue

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/codec"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// RoleMapping names the struct fields of a pushed message that supply
// dest/src/time when the caller does not supply them explicitly, mirroring
// the original's "(queue_field).is_dest" / "is_src" / "is_time" role
// annotations. A field name may use "." to reach a nested struct field.
type RoleMapping struct {
	DestinationField string
	SourceField      string
	TimestampField   string
}

// QueueDef registers one application message type with the QueueManager.
type QueueDef struct {
	Config Config
	Role   RoleMapping
	// StaticDest/StaticSrc are used when the corresponding Role field is
	// empty: a fixed destination/source for every message of this type.
	StaticDest *transmission.ID
	StaticSrc  *transmission.ID
}

// PushMeta lets a caller override role-resolved values explicitly.
type PushMeta struct {
	Dest         *transmission.ID
	Src          *transmission.ID
	Time         *clock.TimePoint
	AckRequested *bool
}

// Handlers are the subscription callbacks of spec.md §6: received
// messages, ACK events, expire events and queue-size changes.
type Handlers struct {
	OnReceive    func(queueName string, payload any)
	OnAck        func(queueName string, e Entry)
	OnExpire     func(queueName string, e Entry)
	OnSizeChange func(queueName string, size int)
}

type binding struct {
	def    QueueDef
	queue  *Queue
	seq    int // registration order, for selector tie-break
}

// Manager is the QueueManager of spec.md §4.4: it owns one Queue per
// registered application message type and implements push, the ACK/expire
// plumbing, and the priority-based Selector used by a driver's data
// request.
type Manager struct {
	ModemID               transmission.ID
	MinimumAckWaitSeconds float64

	clk      *clock.Clock
	codec    codec.Codec
	handlers Handlers
	logger   *log.Logger

	queues map[string]*binding
	nextSeq int
}

// NewManager returns an empty Manager. codec is used to compute
// non_repeated_size at push time (spec.md §4.4 "Encode once to learn
// non_repeated_size").
func NewManager(clk *clock.Clock, c codec.Codec, modemID transmission.ID, handlers Handlers) *Manager {
	return &Manager{
		ModemID:  modemID,
		clk:      clk,
		codec:    c,
		handlers: handlers,
		logger:   log.Default().With("component", "queue_manager"),
		queues:   make(map[string]*binding),
	}
}

// Register adds a new Queue for message type name.
func (m *Manager) Register(name string, def QueueDef) {
	def.Config.Name = name
	b := &binding{
		def:   def,
		queue: New(def.Config, m.clk.Now()),
		seq:   m.nextSeq,
	}
	m.nextSeq++
	m.queues[name] = b
}

// Queue returns the underlying Queue for a registered type, or nil.
func (m *Manager) Queue(name string) *Queue {
	b, ok := m.queues[name]
	if !ok {
		return nil
	}
	return b.queue
}

// ErrUnregisteredType is returned by Push for a message type with no
// matching Register call (spec.md §7 "push of an unregistered message
// type" queue logical error).
var ErrUnregisteredType = fmt.Errorf("queue: push of unregistered message type")

// Push encodes msg, resolves its dest/src/time metadata and either
// delivers it by loopback (dest == ModemID) or appends it to the named
// Queue (spec.md §4.4 "push"). A push of a message whose resolved
// destination is this node's own modem id bypasses the transport
// entirely: it raises OnReceive and, if an ACK was requested, a synthetic
// OnAck, and never touches LineIO.
func (m *Manager) Push(name string, msg any, meta PushMeta) error {
	b, ok := m.queues[name]
	if !ok {
		return ErrUnregisteredType
	}

	size, err := m.codec.SizeOf(msg)
	if err != nil {
		return fmt.Errorf("queue: encode for size failed: %w", err)
	}

	dest := resolveID(meta.Dest, b.def.Role.DestinationField, b.def.StaticDest, msg, transmission.Broadcast)
	src := resolveID(meta.Src, b.def.Role.SourceField, b.def.StaticSrc, msg, m.ModemID)

	t := m.clk.Now()
	if meta.Time != nil {
		t = *meta.Time
	} else if b.def.Role.TimestampField != "" {
		if rt, ok := resolveTime(b.def.Role.TimestampField, msg); ok {
			t = rt
		}
	}

	ack := b.def.Config.Ack
	if meta.AckRequested != nil {
		ack = *meta.AckRequested
	}

	if dest == m.ModemID {
		m.logger.Debug("loopback push", "queue", name)
		if m.handlers.OnReceive != nil {
			m.handlers.OnReceive(name, msg)
		}
		if ack && m.handlers.OnAck != nil {
			m.handlers.OnAck(name, Entry{Payload: msg, Dest: dest, Src: src, Time: t, AckRequested: true})
		}
		return nil
	}

	e := Entry{
		Payload:         msg,
		Dest:            dest,
		Src:             src,
		Time:            t,
		AckRequested:    ack,
		NonRepeatedSize: size,
	}
	if !b.queue.Push(e) {
		m.logger.Warn("empty message rejected", "queue", name)
		return fmt.Errorf("queue: empty message pushed to %q", name)
	}
	if m.handlers.OnSizeChange != nil {
		m.handlers.OnSizeChange(name, b.queue.Size())
	}
	return nil
}

// resolveID picks, in priority order: an explicit override, a role field
// pulled out of msg by reflection, a configured static value, or def.
func resolveID(override *transmission.ID, field string, static *transmission.ID, msg any, def transmission.ID) transmission.ID {
	if override != nil {
		return *override
	}
	if field != "" {
		if v, ok := reflectIntField(msg, field); ok {
			return transmission.ID(v)
		}
	}
	if static != nil {
		return *static
	}
	return def
}

func resolveTime(field string, msg any) (clock.TimePoint, bool) {
	v, ok := reflectIntField(msg, field)
	if !ok {
		return clock.TimePoint{}, false
	}
	return clock.Unix(time.UnixMicro(v)), true
}

// reflectIntField resolves a "."-separated field path against msg,
// supporting any integer-kind field, mirroring the original's
// find_queue_field (spec.md §4.4 "the role mapping").
func reflectIntField(msg any, path string) (int64, bool) {
	v := reflect.ValueOf(msg)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return 0, false
		}
		v = v.Elem()
	}
	for _, part := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return 0, false
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return 0, false
		}
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return 0, false
			}
			v = v.Elem()
		}
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint()), true
	case reflect.String:
		if n, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// candidate is an eligible Queue for a data request, ready for tie-break
// sorting.
type candidate struct {
	name     string
	priority float64
	seq      int
}

// Select runs the eligibility predicate and priority scoring of spec.md
// §4.4 across every registered Queue and returns the winning Queue's name.
// Ties are broken by earlier registration order, then lexical name.
func (m *Manager) Select(req PriorityRequest, usedBytes int) (string, bool) {
	now := m.clk.Now()
	var candidates []candidate
	for name, b := range m.queues {
		priority, ok := b.queue.GetPriorityValues(req, usedBytes, now)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{name: name, priority: priority, seq: b.seq})
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		if candidates[i].seq != candidates[j].seq {
			return candidates[i].seq < candidates[j].seq
		}
		return candidates[i].name < candidates[j].name
	})
	return candidates[0].name, true
}

// GiveData is the convenience composition of Select + Queue.GiveData used
// by a driver servicing a data request frame.
func (m *Manager) GiveData(req PriorityRequest, usedBytes int, frame uint32) (string, Entry, bool) {
	name, ok := m.Select(req, usedBytes)
	if !ok {
		return "", Entry{}, false
	}
	e, ok := m.queues[name].queue.GiveData(frame, m.clk.Now())
	return name, e, ok
}

// Ack resolves an ACK for frame against every registered Queue (a
// driver does not know which Queue a frame index belongs to) and fires
// OnAck for the first one that matches.
func (m *Manager) Ack(frame uint32) {
	for name, b := range m.queues {
		if e, ok := b.queue.PopAck(frame); ok {
			if m.handlers.OnAck != nil {
				m.handlers.OnAck(name, e)
			}
			if m.handlers.OnSizeChange != nil {
				m.handlers.OnSizeChange(name, b.queue.Size())
			}
			return
		}
	}
}

// ClearAckQueue runs Queue.ClearAckQueue across every registered Queue,
// e.g. when a driver resets its frame counter.
func (m *Manager) ClearAckQueue(startFrame uint32) {
	minWait := time.Duration(m.MinimumAckWaitSeconds * float64(time.Second))
	now := m.clk.Now()
	for _, b := range m.queues {
		b.queue.ClearAckQueue(startFrame, minWait, now)
	}
}

// Expire runs Queue.Expire across every registered Queue and fires
// OnExpire for each evicted Entry, in per-Queue FIFO order.
func (m *Manager) Expire() {
	now := m.clk.Now()
	for name, b := range m.queues {
		for _, e := range b.queue.Expire(now) {
			if m.handlers.OnExpire != nil {
				m.handlers.OnExpire(name, e)
			}
			if m.handlers.OnSizeChange != nil {
				m.handlers.OnSizeChange(name, b.queue.Size())
			}
		}
	}
}
