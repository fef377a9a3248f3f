package delta

// rollingHash is a sum-of-bytes hash over the last NHASH bytes. Bytes enter
// the sums sign-extended, so deltas match those produced where char is
// signed.
type rollingHash struct {
	a, b uint16
	i    int
	z    [NHASH]byte
}

func signed(c byte) uint16 { return uint16(int8(c)) }

func (h *rollingHash) init(z []byte) {
	a := signed(z[0])
	b := a
	for i := 1; i < NHASH; i++ {
		a += signed(z[i])
		b += a
	}
	copy(h.z[:], z[:NHASH])
	h.a, h.b, h.i = a, b, 0
}

func (h *rollingHash) next(c byte) {
	old := signed(h.z[h.i])
	h.z[h.i] = c
	h.i = (h.i + 1) & (NHASH - 1)
	h.a = h.a - old + signed(c)
	h.b = h.b - NHASH*old + h.a
}

func (h *rollingHash) sum() uint32 {
	return uint32(h.a) | uint32(h.b)<<16
}

func hashOnce(z []byte) uint32 {
	var h rollingHash
	h.init(z)
	return h.sum()
}
