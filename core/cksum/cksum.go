// Package cksum implements the 8-byte page checksum stored in the reserved
// tail of each database page by the checksum VFS.
//
// The checksum is two running 32-bit sums over the page read as
// little-endian words. It detects accidental corruption only; it is not a
// cryptographic hash.
package cksum

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Size is the number of trailer bytes the checksum occupies.
const Size = 8

// MinPageSize is the smallest page the checksum layer verifies.
const MinPageSize = 512

// MaxDataSize is the largest buffer Compute accepts.
const MaxDataSize = 65536

// Compute returns the checksum of data. len(data) must be a positive
// multiple of 8 no larger than 65536; anything else is a programming error.
func Compute(data []byte) [Size]byte {
	n := len(data)
	if n == 0 || n%8 != 0 || n > MaxDataSize {
		panic(fmt.Sprintf("cksum: invalid data length %d", n))
	}

	var s1, s2 uint32
	for i := 0; i < n; i += 8 {
		s1 += binary.LittleEndian.Uint32(data[i:]) + s2
		s2 += binary.LittleEndian.Uint32(data[i+4:]) + s1
	}

	var out [Size]byte
	binary.LittleEndian.PutUint32(out[0:], s1)
	binary.LittleEndian.PutUint32(out[4:], s2)
	return out
}

// Trailer returns the last Size bytes of page.
func Trailer(page []byte) []byte {
	return page[len(page)-Size:]
}

// Verify reports whether the trailer of page matches the checksum of the rest
// of the page.
func Verify(page []byte) bool {
	return VerifyWith(page, Trailer(page))
}

// VerifyWith reports whether sum matches the checksum of page[:len(page)-8].
func VerifyWith(page []byte, sum []byte) bool {
	want := Compute(page[:len(page)-Size])
	return bytes.Equal(want[:], sum)
}

// Stamp writes the checksum of page[:len(page)-8] into the page trailer.
func Stamp(page []byte) {
	sum := Compute(page[:len(page)-Size])
	copy(Trailer(page), sum[:])
}

// IsPageSize reports whether n is a length the checksum layer treats as a
// full page: at least MinPageSize and a power of two.
func IsPageSize(n int) bool {
	return n >= MinPageSize && n&(n-1) == 0
}
