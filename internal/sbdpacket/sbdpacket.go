// Package sbdpacket implements the Iridium SBD in-band framing of
// spec.md §6: a 2-byte big-endian length, the payload body, and a 2-byte
// big-endian checksum (the unsigned sum of the body's bytes, mod 2^16).
// This is a deliberate departure from the original's CRC-32 framing
// (iridium_sbd_packet.cpp); spec.md states the checksum format
// explicitly and that is what is implemented here.
package sbdpacket

import (
	"encoding/binary"
	"fmt"
)

// ErrChecksum is returned by Parse when the trailing checksum does not
// match the recomputed sum of the body.
var ErrChecksum = fmt.Errorf("sbdpacket: checksum mismatch")

// ErrTruncated is returned by Parse when pkt is shorter than its header
// claims, or shorter than the minimum framing overhead.
var ErrTruncated = fmt.Errorf("sbdpacket: truncated packet")

// checksum is the spec's 16-bit unsigned sum of body, mod 2^16.
func checksum(body []byte) uint16 {
	var sum uint32
	for _, b := range body {
		sum += uint32(b)
	}
	return uint16(sum % 65536)
}

// Encode frames body as length ‖ body ‖ checksum, the wire format an
// AT+SBDWB payload or an SBDIX-retrieved MT payload carries.
func Encode(body []byte) []byte {
	out := make([]byte, 2+len(body)+2)
	binary.BigEndian.PutUint16(out[0:2], uint16(len(body)))
	copy(out[2:2+len(body)], body)
	binary.BigEndian.PutUint16(out[2+len(body):], checksum(body))
	return out
}

// Parse extracts and verifies the body from a framed SBD packet,
// spec.md §8 invariant 5: verify(encode(x)) == x, and any bit flip in
// the body is rejected.
func Parse(pkt []byte) ([]byte, error) {
	if len(pkt) < 4 {
		return nil, ErrTruncated
	}
	n := binary.BigEndian.Uint16(pkt[0:2])
	if len(pkt) < 2+int(n)+2 {
		return nil, ErrTruncated
	}
	body := pkt[2 : 2+int(n)]
	want := binary.BigEndian.Uint16(pkt[2+int(n) : 2+int(n)+2])
	if checksum(body) != want {
		return nil, ErrChecksum
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}
