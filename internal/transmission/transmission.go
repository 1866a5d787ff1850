// Package transmission defines ModemTransmission, the wire-independent unit
// of traffic every MAC, Driver and Queue in this module exchanges. It is
// the Go analogue of goby3's acomms_modem_message.proto ModemTransmission.
package transmission

import "github.com/goby-acomms/acomms/internal/clock"

// Reserved node identifiers (spec.md §6).
const (
	// Broadcast is the reserved destination meaning "deliver to every
	// receiver on the channel"; it is never ACK'd.
	Broadcast ID = 0
	// Query is used in a data-request ModemTransmission to mean
	// "unspecified, let the Queue decide."
	Query ID = -1
)

// ID is a node identifier. Most are unsigned 16-bit in the original; Go
// represents the two reserved values (0 and "unspecified") with a signed
// type so Query (-1) is representable without a separate sentinel.
type ID int32

// Kind enumerates the three kinds of ModemTransmission.
type Kind int

const (
	KindData Kind = iota
	KindAck
	KindDriverSpecific
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindAck:
		return "ACK"
	case KindDriverSpecific:
		return "DRIVER_SPECIFIC"
	default:
		return "UNKNOWN"
	}
}

// ModemTransmission is the wire-independent unit of traffic passed between
// application, Queue, Driver and MAC. Once handed to a driver, only Frames,
// AckRequested, MaxFrameBytes and MaxNumFrames may be mutated afterwards
// (via ModifyTransmission + DataRequest); Src, Dest and Kind are fixed for
// the lifetime of the value (spec.md §3 invariant).
type ModemTransmission struct {
	Src  ID
	Dest ID
	// Rate is an abstract bitrate code, meaningful only within the
	// originating driver (e.g. RATE_SBD vs RATE_RUDICS for Iridium).
	Rate int
	Kind Kind

	// Frames is the ordered sequence of opaque frame payloads. FrameStart
	// is the absolute index of Frames[0] in the transmitter's monotonic
	// per-driver frame counter.
	Frames     [][]byte
	FrameStart uint32

	// MaxFrameBytes and MaxNumFrames are capacity hints, populated when
	// this value is used as a data request handed to signal_data_request.
	MaxFrameBytes uint32
	MaxNumFrames  uint32

	// AckRequested asks the receiver to ACK each accepted frame index.
	AckRequested bool
	// AckedFrame carries the accepted frame indices when Kind == KindAck.
	AckedFrame []uint32

	Time clock.TimePoint

	// SlotIndex and SlotSeconds are populated only when this value
	// originates from a MAC tick (slot_start / initiate_transmission).
	SlotIndex   int
	SlotSeconds float64
}

// Clone returns a deep copy so a driver can safely mutate Frames et al.
// without aliasing the caller's slice backing arrays.
func (m ModemTransmission) Clone() ModemTransmission {
	out := m
	if m.Frames != nil {
		out.Frames = make([][]byte, len(m.Frames))
		for i, f := range m.Frames {
			out.Frames[i] = append([]byte(nil), f...)
		}
	}
	if m.AckedFrame != nil {
		out.AckedFrame = append([]uint32(nil), m.AckedFrame...)
	}
	return out
}

// TotalFrameBytes sums the length of every frame currently attached.
func (m ModemTransmission) TotalFrameBytes() int {
	n := 0
	for _, f := range m.Frames {
		n += len(f)
	}
	return n
}
