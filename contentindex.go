package vref

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"

	"github.com/gholt/vref/backend"
)

// contentHash computes the fixed-width hash used to key the content index
// from payload and children: murmur3 Sum128 over the payload, with each
// child address then mixed into both 64 bit halves. murmur3 gives a
// deterministic non-cryptographic hash stable across runs, widened to 128
// bits to keep collisions negligible for a content-addressed store.
func contentHash(payload []byte, children []backend.Addr) [16]byte {
	h1, h2 := murmur3.Sum128(payload)
	// Children are strictly disjoint from payload, so they are folded
	// into the hash input separately rather than concatenated into the
	// same byte run, avoiding any ambiguity between a payload byte
	// sequence and an address's big-endian encoding.
	for _, c := range children {
		b := c.Bytes()
		var buf [8]byte
		copy(buf[:], b[:])
		x := binary.BigEndian.Uint64(buf[:])
		h1 ^= x*0x9E3779B97F4A7C15 + h2
		h2 ^= x*0xC2B2AE3D27D4EB4F + h1>>1
	}
	var out [16]byte
	binary.BigEndian.PutUint64(out[0:8], h1)
	binary.BigEndian.PutUint64(out[8:16], h2)
	return out
}

// recordsByteEqual reports whether two value records are byte-identical in
// both payload and children, the check every dedup hit must pass before
// it is honored (a hash bucket is a superset, never proof, of equality).
func recordsByteEqual(a backend.ValueRecord, payload []byte, children []backend.Addr) bool {
	if len(a.Payload) != len(payload) || len(a.Children) != len(children) {
		return false
	}
	for i := range payload {
		if a.Payload[i] != payload[i] {
			return false
		}
	}
	for i := range children {
		if a.Children[i] != children[i] {
			return false
		}
	}
	return true
}
