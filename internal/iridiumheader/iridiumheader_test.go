package iridiumheader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/goby-acomms/acomms/internal/transmission"
)

func TestEncodeDecodeFixedFieldsOnly(t *testing.T) {
	h := Header{Src: 1, Dest: 2, Kind: transmission.KindData}
	pkt := Encode(h)
	got, n, err := Decode(pkt)
	require.NoError(t, err)
	assert.Equal(t, len(pkt), n)
	assert.Equal(t, h.Src, got.Src)
	assert.Equal(t, h.Dest, got.Dest)
	assert.Equal(t, h.Kind, got.Kind)
	assert.Nil(t, got.Rate)
	assert.Nil(t, got.AckRequested)
	assert.Nil(t, got.FrameStart)
	assert.Nil(t, got.AckedFrame)
}

func TestEncodeDecodeAllOptionalFieldsPresent(t *testing.T) {
	rate := 3
	ack := true
	fs := uint32(1500)
	af := uint32(900)
	h := Header{
		Src: (1 << 21) - 1, Dest: 42, Kind: transmission.KindAck,
		Rate: &rate, AckRequested: &ack, FrameStart: &fs, AckedFrame: &af,
	}
	pkt := Encode(h)
	got, n, err := Decode(pkt)
	require.NoError(t, err)
	assert.Equal(t, len(pkt), n)

	require.NotNil(t, got.Rate)
	assert.Equal(t, rate, *got.Rate)
	require.NotNil(t, got.AckRequested)
	assert.Equal(t, ack, *got.AckRequested)
	require.NotNil(t, got.FrameStart)
	assert.Equal(t, fs, *got.FrameStart)
	require.NotNil(t, got.AckedFrame)
	assert.Equal(t, af, *got.AckedFrame)
}

func TestEncodeDecodeRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := Header{
			Src:  transmission.ID(rapid.IntRange(0, (1<<22)-1).Draw(rt, "src")),
			Dest: transmission.ID(rapid.IntRange(0, (1<<22)-1).Draw(rt, "dest")),
			Kind: transmission.Kind(rapid.IntRange(0, 5).Draw(rt, "kind")),
		}
		if rapid.Bool().Draw(rt, "has_rate") {
			rate := rapid.IntRange(0, 15).Draw(rt, "rate")
			h.Rate = &rate
		}
		if rapid.Bool().Draw(rt, "has_ack") {
			ack := rapid.Bool().Draw(rt, "ack")
			h.AckRequested = &ack
		}
		if rapid.Bool().Draw(rt, "has_frame_start") {
			fs := uint32(rapid.IntRange(0, (1<<11)-1).Draw(rt, "frame_start"))
			h.FrameStart = &fs
		}

		pkt := Encode(h)
		got, n, err := Decode(pkt)
		if err != nil {
			rt.Fatalf("decode failed: %v", err)
		}
		if n != len(pkt) {
			rt.Fatalf("decode consumed %d bytes, want %d", n, len(pkt))
		}
		if got.Src != h.Src || got.Dest != h.Dest || got.Kind != h.Kind {
			rt.Fatal("fixed fields did not round trip")
		}
		if (h.FrameStart == nil) != (got.FrameStart == nil) {
			rt.Fatal("frame_start presence did not round trip")
		}
		if h.FrameStart != nil && *h.FrameStart != *got.FrameStart {
			rt.Fatal("frame_start value did not round trip")
		}
	})
}

func TestDecodeTruncatedHeaderErrors(t *testing.T) {
	_, _, err := Decode([]byte{0x00})
	assert.Error(t, err)
}
