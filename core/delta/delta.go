// Package delta implements the fossil delta format: a compact description of
// how to rebuild a target buffer from a source buffer using copy and insert
// instructions.
//
// A delta is a text header followed by binary-safe instructions:
//
//	<size>\n                 output size
//	<count>@<offset>,        copy count bytes from source at offset
//	<count>:<bytes>          insert the next count bytes of the delta
//	<checksum>;              checksum of the output, always last
//
// Integers are written in base 64 using the digits
// 0-9 A-Z _ a-z ~ in that order.
package delta

import (
	"github.com/FocuswithJustin/pagekit/core/errors"
	"github.com/FocuswithJustin/pagekit/internal/logging"
)

// NHASH is the window size of the rolling hash and the block size of the
// source index.
const NHASH = 16

// MaxOverhead bounds how many bytes a delta adds on top of the target.
const MaxOverhead = 70

// maxProbes caps how many source blocks are compared per target position.
const maxProbes = 250

const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz~"

// digitValue maps a byte to its base-64 digit value, or -1.
var digitValue = func() [256]int8 {
	var v [256]int8
	for i := range v {
		v[i] = -1
	}
	for i := 0; i < len(digits); i++ {
		v[digits[i]] = int8(i)
	}
	return v
}()

// appendInt appends v in base 64.
func appendInt(dst []byte, v uint32) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	var buf [6]byte
	i := len(buf)
	for ; v > 0; v >>= 6 {
		i--
		buf[i] = digits[v&0x3f]
	}
	return append(dst, buf[i:]...)
}

// readInt reads a base-64 integer from delta at pos. It returns the value
// and the position of the first non-digit byte.
func readInt(delta []byte, pos int) (uint32, int) {
	var v uint32
	for pos < len(delta) {
		d := digitValue[delta[pos]]
		if d < 0 {
			break
		}
		v = v<<6 + uint32(d)
		pos++
	}
	return v, pos
}

// digitCount returns the number of base-64 digits needed for v.
func digitCount(v int) int {
	i := 1
	for x := 64; v >= x; x <<= 6 {
		i++
	}
	return i
}

// Checksum returns the sum of data read as big-endian 32-bit words, with a
// short tail padded by zero bytes on the right.
func Checksum(data []byte) uint32 {
	var sum uint32
	n := len(data) &^ 3
	for i := 0; i < n; i += 4 {
		sum += uint32(data[i])<<24 | uint32(data[i+1])<<16 | uint32(data[i+2])<<8 | uint32(data[i+3])
	}
	tail := data[n:]
	for i, b := range tail {
		sum += uint32(b) << (24 - 8*uint(i))
	}
	return sum
}

// OutputSize returns the target size recorded at the start of delta.
func OutputSize(delta []byte) (int, error) {
	size, pos := readInt(delta, 0)
	if pos >= len(delta) || delta[pos] != '\n' {
		return 0, errors.NewDelta(pos, "size not followed by newline")
	}
	return int(size), nil
}

// Apply rebuilds the target from source and delta. The trailing checksum is
// not compared; use ApplyVerified for that. On error no partial output is
// returned.
func Apply(source, delta []byte) ([]byte, error) {
	return apply(source, delta, false)
}

// ApplyVerified is Apply that also requires the output to match the
// trailing checksum.
func ApplyVerified(source, delta []byte) ([]byte, error) {
	return apply(source, delta, true)
}

func apply(source, delta []byte, verify bool) ([]byte, error) {
	limit, pos := readInt(delta, 0)
	if pos >= len(delta) || delta[pos] != '\n' {
		return nil, errors.NewDelta(pos, "size not followed by newline")
	}
	pos++

	out := make([]byte, 0, min(uint64(limit), uint64(len(source)+len(delta))))
	total := uint64(0)
	for pos < len(delta) {
		start := pos
		var cnt uint32
		cnt, pos = readInt(delta, pos)
		if pos >= len(delta) {
			break
		}
		switch delta[pos] {
		case '@':
			var ofst uint32
			ofst, pos = readInt(delta, pos+1)
			if pos >= len(delta) || delta[pos] != ',' {
				return nil, errors.NewDelta(pos, "copy not terminated by ','")
			}
			pos++
			total += uint64(cnt)
			if total > uint64(limit) {
				return nil, errors.NewDelta(start, "copy exceeds output size")
			}
			if uint64(ofst)+uint64(cnt) > uint64(len(source)) {
				return nil, errors.NewDelta(start, "copy extends past end of source")
			}
			out = append(out, source[ofst:ofst+cnt]...)

		case ':':
			pos++
			total += uint64(cnt)
			if total > uint64(limit) {
				return nil, errors.NewDelta(start, "insert exceeds output size")
			}
			if uint64(cnt) > uint64(len(delta)-pos) {
				return nil, errors.NewDelta(start, "insert runs past end of delta")
			}
			out = append(out, delta[pos:pos+int(cnt)]...)
			pos += int(cnt)

		case ';':
			if verify && cnt != Checksum(out) {
				return nil, errors.NewDelta(start, "checksum mismatch")
			}
			if total != uint64(limit) {
				return nil, errors.NewDelta(start, "output size does not match header")
			}
			return out, nil

		default:
			return nil, errors.NewDelta(pos, "unknown delta operator")
		}
	}
	return nil, errors.NewDelta(len(delta), "unterminated delta")
}

// Create returns a delta that rebuilds target from source.
//
// Source is indexed in NHASH-byte blocks. Target is scanned with a rolling
// hash; for each window up to 250 candidate blocks are extended forward and
// backward, and the longest match whose encoding is no larger than the bytes
// it replaces becomes a copy. Ties keep the first candidate found.
func Create(source, target []byte) []byte {
	lenSrc, lenOut := len(source), len(target)
	out := make([]byte, 0, lenOut+MaxOverhead)

	out = appendInt(out, uint32(lenOut))
	out = append(out, '\n')

	if lenSrc <= NHASH {
		out = appendInt(out, uint32(lenOut))
		out = append(out, ':')
		out = append(out, target...)
		out = appendInt(out, Checksum(target))
		out = append(out, ';')
		logging.DeltaEvent("create", lenSrc, lenOut, len(out))
		return out
	}

	// landmark[h] is the most recent block with hash h; collide chains to
	// the previous block with the same hash.
	nHash := lenSrc / NHASH
	collide := make([]int, 2*nHash)
	for i := range collide {
		collide[i] = -1
	}
	landmark := collide[nHash:]
	collide = collide[:nHash]
	for i := 0; i < lenSrc-NHASH; i += NHASH {
		hv := int(hashOnce(source[i:]) % uint32(nHash))
		collide[i/NHASH] = landmark[hv]
		landmark[hv] = i / NHASH
	}

	base := 0
	for base+NHASH < lenOut {
		var h rollingHash
		h.init(target[base:])
		i := 0
		bestCnt, bestOfst, bestLitsz := 0, 0, 0
		for {
			hv := int(h.sum() % uint32(nHash))
			limit := maxProbes
			for iBlock := landmark[hv]; iBlock >= 0 && limit > 0; iBlock = collide[iBlock] {
				limit--
				iSrc := iBlock * NHASH

				// Forward from the block start.
				y := base + i
				limitX := lenSrc
				if lenSrc-iSrc > lenOut-y {
					limitX = iSrc + lenOut - y
				}
				x := iSrc
				for x < limitX && source[x] == target[y] {
					x++
					y++
				}
				j := x - iSrc - 1

				// Backward from the block start.
				k := 1
				for k < iSrc && k <= i && source[iSrc-k] == target[base+i-k] {
					k++
				}
				k--

				cnt := j + k + 1
				litsz := i - k
				sz := digitCount(litsz) + digitCount(cnt) + digitCount(iSrc-k) + 3
				if cnt >= sz && cnt > bestCnt {
					bestCnt = cnt
					bestOfst = iSrc - k
					bestLitsz = litsz
				}
			}

			if bestCnt > 0 {
				if bestLitsz > 0 {
					out = appendInt(out, uint32(bestLitsz))
					out = append(out, ':')
					out = append(out, target[base:base+bestLitsz]...)
					base += bestLitsz
				}
				base += bestCnt
				out = appendInt(out, uint32(bestCnt))
				out = append(out, '@')
				out = appendInt(out, uint32(bestOfst))
				out = append(out, ',')
				break
			}

			if base+i+NHASH >= lenOut {
				out = appendInt(out, uint32(lenOut-base))
				out = append(out, ':')
				out = append(out, target[base:]...)
				base = lenOut
				break
			}

			h.next(target[base+i+NHASH])
			i++
		}
	}
	if base < lenOut {
		out = appendInt(out, uint32(lenOut-base))
		out = append(out, ':')
		out = append(out, target[base:]...)
	}
	out = appendInt(out, Checksum(target))
	out = append(out, ';')

	logging.DeltaEvent("create", lenSrc, lenOut, len(out))
	return out
}
