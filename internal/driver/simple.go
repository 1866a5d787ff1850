package driver

import (
	"github.com/goby-acomms/acomms/internal/codec"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// SimpleFlow implements the shared initiate_transmission flow of
// spec.md §4.8 shared by the single-frame datagram drivers (UDP,
// UDPMulticast): fill frame_start/max_frame_bytes, fire
// OnModifyTransmission then OnDataRequest, advance the local next_frame
// counter, and — only if at least one frame was actually produced —
// serialise the whole ModemTransmission with Codec and hand the bytes
// to Emit. It is embedded by each of those drivers rather than
// reimplemented per driver, since the flow itself does not vary; only
// Emit (how the bytes reach the wire) does.
type SimpleFlow struct {
	Base          *Base
	Codec         codec.Codec
	MaxFrameBytes uint32
	NextFrame     uint32
	Emit          func(encoded []byte) error
}

// HandleInitiateTransmission runs the shared flow. Concrete drivers
// satisfying the Driver interface delegate their
// HandleInitiateTransmission method straight to this.
func (f *SimpleFlow) HandleInitiateTransmission(msg transmission.ModemTransmission) {
	req := msg.Clone()
	req.FrameStart = f.NextFrame
	req.MaxFrameBytes = f.MaxFrameBytes

	if f.Base.Signals.OnModifyTransmission != nil {
		f.Base.Signals.OnModifyTransmission(&req)
	}
	if f.Base.Signals.OnDataRequest != nil {
		f.Base.Signals.OnDataRequest(&req)
	}
	if len(req.Frames) == 0 {
		return
	}
	f.NextFrame += uint32(len(req.Frames))

	encoded, err := f.Codec.Encode(req)
	if err != nil {
		f.Base.Logger().Warn("simple flow encode failed", "err", err)
		return
	}
	if err := f.Emit(encoded); err != nil {
		f.Base.Logger().Warn("simple flow emit failed", "err", err)
	}
}
