package delta

import (
	"fmt"
	"iter"
)

// OpKind identifies a delta instruction.
type OpKind int

const (
	OpSize OpKind = iota
	OpCopy
	OpInsert
	OpChecksum
	OpError
)

func (k OpKind) String() string {
	switch k {
	case OpSize:
		return "SIZE"
	case OpCopy:
		return "COPY"
	case OpInsert:
		return "INSERT"
	case OpChecksum:
		return "CHECKSUM"
	}
	return "ERROR"
}

// Op is one decoded delta instruction.
//
//	SIZE      A1 = output size
//	COPY      A1 = count, A2 = source offset
//	INSERT    A1 = count, A2 = offset of Data within the delta
//	CHECKSUM  A1 = checksum
//	ERROR     Offset = where parsing stopped
type Op struct {
	Kind   OpKind
	Offset int // Offset of the instruction within the delta
	A1     uint32
	A2     uint32
	Data   []byte // Inserted bytes, sharing the delta's storage
}

func (op Op) String() string {
	switch op.Kind {
	case OpSize, OpChecksum:
		return fmt.Sprintf("%s %d", op.Kind, op.A1)
	case OpCopy:
		return fmt.Sprintf("COPY %d@%d", op.A1, op.A2)
	case OpInsert:
		return fmt.Sprintf("INSERT %d %q", op.A1, op.Data)
	}
	return fmt.Sprintf("ERROR at %d", op.Offset)
}

// Parse returns the instructions of delta in order: SIZE, then COPY and
// INSERT instructions, then CHECKSUM. A grammar violation yields one ERROR
// and ends the sequence. Parse does not check copy ranges or totals; Apply
// does. The sequence can be iterated more than once.
func Parse(delta []byte) iter.Seq[Op] {
	return func(yield func(Op) bool) {
		size, pos := readInt(delta, 0)
		if pos >= len(delta) || delta[pos] != '\n' {
			yield(Op{Kind: OpError, Offset: pos})
			return
		}
		if !yield(Op{Kind: OpSize, Offset: 0, A1: size}) {
			return
		}
		pos++

		for {
			start := pos
			var a1 uint32
			a1, pos = readInt(delta, pos)
			if pos >= len(delta) {
				yield(Op{Kind: OpError, Offset: pos})
				return
			}
			switch delta[pos] {
			case '@':
				var a2 uint32
				a2, pos = readInt(delta, pos+1)
				if pos >= len(delta) || delta[pos] != ',' {
					yield(Op{Kind: OpError, Offset: pos})
					return
				}
				pos++
				if !yield(Op{Kind: OpCopy, Offset: start, A1: a1, A2: a2}) {
					return
				}
			case ':':
				pos++
				if uint64(a1) > uint64(len(delta)-pos) {
					yield(Op{Kind: OpError, Offset: start})
					return
				}
				data := delta[pos : pos+int(a1)]
				if !yield(Op{Kind: OpInsert, Offset: start, A1: a1, A2: uint32(pos), Data: data}) {
					return
				}
				pos += int(a1)
			case ';':
				yield(Op{Kind: OpChecksum, Offset: start, A1: a1})
				return
			default:
				yield(Op{Kind: OpError, Offset: pos})
				return
			}
		}
	}
}
