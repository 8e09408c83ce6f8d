package wic

import "encoding/binary"

// applyMask XORs data in place with the repeating 4-byte key, per RFC 6455
// §5.3. It is used both to mask an outbound client frame and to unmask an
// inbound masked frame — the operation is its own inverse.
func applyMask(key [4]byte, data []byte) {
	for i := range data {
		data[i] ^= key[i%4]
	}
}

// newMaskKey draws a 32-bit value from the host's PRNG hook and splits it
// into the 4 bytes RFC 6455 frames the masking key as.
func newMaskKey(rng func() uint32) [4]byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], rng())
	return key
}
