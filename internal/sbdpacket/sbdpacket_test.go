package sbdpacket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	pkt := Encode([]byte("HELLOWORLD"))
	body, err := Parse(pkt)
	require.NoError(t, err)
	assert.Equal(t, "HELLOWORLD", string(body))
}

// TestBitFlipRejected reproduces spec.md §8 invariant 5.
func TestBitFlipRejected(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		body := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(rt, "body")
		pkt := Encode(body)

		bodyStart := 2
		byteIdx := bodyStart + rapid.IntRange(0, len(body)-1).Draw(rt, "byte_idx")
		bit := rapid.IntRange(0, 7).Draw(rt, "bit")
		pkt[byteIdx] ^= 1 << uint(bit)

		_, err := Parse(pkt)
		if err == nil {
			rt.Fatal("expected checksum rejection after bit flip")
		}
	})
}

func TestParseTruncated(t *testing.T) {
	_, err := Parse([]byte{0x00})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Parse([]byte{0x00, 0x05, 'a', 'b'})
	assert.ErrorIs(t, err, ErrTruncated)
}
