// Package freelist walks the chain of freelist trunk pages and the leaf page
// numbers each trunk lists.
//
// A trunk page holds a 4-byte next trunk page number, a 4-byte leaf count and
// that many 4-byte leaf page numbers. Leaf pages carry no structure.
package freelist

import (
	"encoding/binary"
	"iter"

	"github.com/FocuswithJustin/pagekit/core/btree"
	"github.com/FocuswithJustin/pagekit/core/errors"
)

// TrunkHeaderSize is the size of the next pointer and leaf count.
const TrunkHeaderSize = 8

// Trunk is a decoded freelist trunk page.
type Trunk struct {
	Next   uint32
	Count  uint32 // Leaf count as stored on the page
	Leaves []uint32
}

// MaxLeaves returns how many leaf numbers fit on a trunk page.
func MaxLeaves(pageSize int) int {
	return (pageSize - TrunkHeaderSize) / 4
}

// DecodeTrunk decodes a trunk page. A stored count larger than the page can
// hold is clamped; the clamped trunk is returned together with a PageError.
func DecodeTrunk(data []byte, pgno uint32) (*Trunk, error) {
	if len(data) < TrunkHeaderSize {
		return nil, errors.NewTruncated(pgno, 0, "trunk header")
	}
	t := &Trunk{
		Next:  binary.BigEndian.Uint32(data[0:]),
		Count: binary.BigEndian.Uint32(data[4:]),
	}

	n := int(min(t.Count, uint32(MaxLeaves(len(data)))))
	t.Leaves = make([]uint32, n)
	for i := range t.Leaves {
		t.Leaves[i] = binary.BigEndian.Uint32(data[TrunkHeaderSize+4*i:])
	}
	if uint32(n) != t.Count {
		return t, errors.NewPage(pgno, 4, "trunk leaf count %d exceeds capacity %d", t.Count, n)
	}
	return t, nil
}

// Role says whether a walked page is a trunk or a leaf.
type Role int

const (
	RoleTrunk Role = iota
	RoleLeaf
)

func (r Role) String() string {
	if r == RoleTrunk {
		return "trunk"
	}
	return "leaf"
}

// Entry is one page visited by Walk.
type Entry struct {
	Pgno    uint32
	Role    Role
	Parent  uint32 // Page holding the pointer: 1 for the first trunk, else the previous trunk or the listing trunk
	Index   int    // Position of the trunk in the chain (1-based), or of the leaf on its trunk (0-based)
	Decoded bool   // For trunks: the page was read and decoded
}

// Walk yields every freelist page reachable from firstTrunk: each trunk page,
// then the leaves it lists, then the next trunk. Trunk visits are capped at
// the page count of src so a cyclic chain terminates. A trunk number outside
// 1..PageCount stops the walk with a CorruptPage error. An over-full trunk
// yields its error and the walk continues with the clamped leaves; a leaf
// number outside the file is yielded with an error and the walk goes on.
//
// The sequence depends only on page contents, so it can be walked again.
func Walk(src btree.PageSource, firstTrunk uint32) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		total := src.PageCount()
		parent := uint32(1)
		trunk := firstTrunk
		for visits := uint32(1); trunk != 0; visits++ {
			entry := Entry{Pgno: trunk, Role: RoleTrunk, Parent: parent, Index: int(visits)}
			if visits > total {
				yield(entry, errors.NewPage(trunk, -1, "freelist trunk chain longer than %d pages", total))
				return
			}
			if trunk > total {
				yield(entry, errors.NewPage(trunk, -1, "freelist trunk beyond end of file (%d pages)", total))
				return
			}
			data, err := src.ReadPage(trunk)
			if err != nil {
				yield(entry, err)
				return
			}
			t, err := DecodeTrunk(data, trunk)
			if t == nil {
				yield(entry, err)
				return
			}
			entry.Decoded = true
			if !yield(entry, err) {
				return
			}
			for i, leaf := range t.Leaves {
				var lerr error
				if leaf == 0 || leaf > total {
					lerr = errors.NewPage(trunk, TrunkHeaderSize+4*i, "freelist leaf %d outside 1..%d", leaf, total)
				}
				if !yield(Entry{Pgno: leaf, Role: RoleLeaf, Parent: trunk, Index: i}, lerr) {
					return
				}
			}
			parent = trunk
			trunk = t.Next
		}
	}
}

// Summary totals a freelist walk.
type Summary struct {
	Trunks   int
	Leaves   int
	Expected uint32 // Freelist page count from the header
	Errors   []error
}

// Pages returns trunks plus leaves.
func (s *Summary) Pages() int { return s.Trunks + s.Leaves }

// Mismatch reports whether the walk disagrees with the header count.
func (s *Summary) Mismatch() bool { return uint32(s.Pages()) != s.Expected }

// Summarize walks the freelist starting at firstTrunk and compares the pages
// found with expected, the header's freelist page count.
func Summarize(src btree.PageSource, firstTrunk, expected uint32) *Summary {
	s := &Summary{Expected: expected}
	for e, err := range Walk(src, firstTrunk) {
		if err != nil {
			s.Errors = append(s.Errors, err)
		}
		switch {
		case e.Role == RoleTrunk && e.Decoded:
			s.Trunks++
		case e.Role == RoleLeaf:
			s.Leaves++
		}
	}
	return s
}
