// Package iridiumheader implements the DCCL-style bit-packed Iridium
// transmission header of spec.md §6: src(22b), dest(22b), kind(3b), and
// four optionally-present fields (rate 4b, ack 1b, frame_start 11b,
// acked_frame 11b) each preceded by a single presence bit, the same
// "does this optional field exist" convention DCCL uses for every
// optional field in a message. There are no DCCL id bits here: a
// header is always exactly one message type on the wire.
package iridiumheader

import (
	"fmt"

	"github.com/goby-acomms/acomms/internal/transmission"
)

const (
	srcBits        = 22
	destBits       = 22
	kindBits       = 3
	rateBits       = 4
	ackBits        = 1
	frameStartBits = 11
	ackedFrameBits = 11
)

// Header is the decoded form of an Iridium wire header.
type Header struct {
	Src          transmission.ID
	Dest         transmission.ID
	Kind         transmission.Kind
	Rate         *int
	AckRequested *bool
	FrameStart   *uint32
	AckedFrame   *uint32
}

// Encode bit-packs h into its wire form, most significant bit first.
func Encode(h Header) []byte {
	w := &bitWriter{}
	w.write(uint64(h.Src), srcBits)
	w.write(uint64(h.Dest), destBits)
	w.write(uint64(h.Kind), kindBits)

	w.writeOptional(h.Rate != nil, func() { w.write(uint64(deref(h.Rate)), rateBits) })
	w.writeOptional(h.AckRequested != nil, func() { w.write(boolBit(deref2(h.AckRequested)), ackBits) })
	w.writeOptional(h.FrameStart != nil, func() { w.write(uint64(deref3(h.FrameStart)), frameStartBits) })
	w.writeOptional(h.AckedFrame != nil, func() { w.write(uint64(deref3(h.AckedFrame)), ackedFrameBits) })

	return w.bytes()
}

// Decode unpacks a Header from its wire form, returning the number of
// bytes of pkt the header occupied (rounded up to a byte boundary) so
// the caller can slice off whatever payload follows it. It returns an
// error if pkt is too short to contain the fixed fields plus whichever
// optional fields its presence bits declare.
func Decode(pkt []byte) (Header, int, error) {
	r := &bitReader{data: pkt}

	src, err := r.read(srcBits)
	if err != nil {
		return Header{}, 0, err
	}
	dest, err := r.read(destBits)
	if err != nil {
		return Header{}, 0, err
	}
	kind, err := r.read(kindBits)
	if err != nil {
		return Header{}, 0, err
	}

	h := Header{
		Src:  transmission.ID(src),
		Dest: transmission.ID(dest),
		Kind: transmission.Kind(kind),
	}

	present, err := r.readBool()
	if err != nil {
		return Header{}, 0, err
	}
	if present {
		v, err := r.read(rateBits)
		if err != nil {
			return Header{}, 0, err
		}
		rate := int(v)
		h.Rate = &rate
	}

	present, err = r.readBool()
	if err != nil {
		return Header{}, 0, err
	}
	if present {
		v, err := r.read(ackBits)
		if err != nil {
			return Header{}, 0, err
		}
		ack := v != 0
		h.AckRequested = &ack
	}

	present, err = r.readBool()
	if err != nil {
		return Header{}, 0, err
	}
	if present {
		v, err := r.read(frameStartBits)
		if err != nil {
			return Header{}, 0, err
		}
		fs := uint32(v)
		h.FrameStart = &fs
	}

	present, err = r.readBool()
	if err != nil {
		return Header{}, 0, err
	}
	if present {
		v, err := r.read(ackedFrameBits)
		if err != nil {
			return Header{}, 0, err
		}
		af := uint32(v)
		h.AckedFrame = &af
	}

	return h, r.bytesConsumed(), nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
func deref2(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}
func deref3(p *uint32) uint32 {
	if p == nil {
		return 0
	}
	return *p
}
func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// bitWriter accumulates bits most-significant-first into a byte slice,
// padding the final byte with zero bits.
type bitWriter struct {
	buf    []byte
	bitPos int // bits used in the last byte, 0 means buf is byte-aligned
}

func (w *bitWriter) write(v uint64, nbits int) {
	for i := nbits - 1; i >= 0; i-- {
		bit := (v >> uint(i)) & 1
		w.writeBit(bit)
	}
}

func (w *bitWriter) writeOptional(present bool, writeField func()) {
	w.writeBit(boolBit(present))
	if present {
		writeField()
	}
}

func (w *bitWriter) writeBit(bit uint64) {
	if w.bitPos == 0 {
		w.buf = append(w.buf, 0)
	}
	if bit != 0 {
		w.buf[len(w.buf)-1] |= 1 << uint(7-w.bitPos)
	}
	w.bitPos = (w.bitPos + 1) % 8
}

func (w *bitWriter) bytes() []byte { return w.buf }

// bitReader reads bits most-significant-first out of data.
type bitReader struct {
	data   []byte
	bitPos int // overall bit offset from the start of data
}

func (r *bitReader) read(nbits int) (uint64, error) {
	var v uint64
	for i := 0; i < nbits; i++ {
		bit, err := r.readRawBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | bit
	}
	return v, nil
}

func (r *bitReader) readBool() (bool, error) {
	v, err := r.read(1)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// bytesConsumed reports how many whole bytes the bits read so far span.
func (r *bitReader) bytesConsumed() int {
	return (r.bitPos + 7) / 8
}

func (r *bitReader) readRawBit() (uint64, error) {
	byteIdx := r.bitPos / 8
	if byteIdx >= len(r.data) {
		return 0, fmt.Errorf("iridiumheader: truncated header at bit %d", r.bitPos)
	}
	bitInByte := r.bitPos % 8
	bit := (r.data[byteIdx] >> uint(7-bitInByte)) & 1
	r.bitPos++
	return uint64(bit), nil
}
