package freelist

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/FocuswithJustin/pagekit/core/errors"
)

type memSource struct {
	pages    [][]byte
	pageSize int
}

func newMemSource(pageSize, n int) *memSource {
	s := &memSource{pageSize: pageSize}
	for i := 0; i < n; i++ {
		s.pages = append(s.pages, make([]byte, pageSize))
	}
	return s
}

func (s *memSource) ReadPage(pgno uint32) ([]byte, error) {
	if pgno == 0 || int(pgno) > len(s.pages) {
		return nil, fmt.Errorf("page %d out of range", pgno)
	}
	return s.pages[pgno-1], nil
}

func (s *memSource) PageSize() int     { return s.pageSize }
func (s *memSource) UsableSize() int   { return s.pageSize }
func (s *memSource) PageCount() uint32 { return uint32(len(s.pages)) }

func (s *memSource) setTrunk(pgno, next uint32, leaves ...uint32) {
	p := s.pages[pgno-1]
	binary.BigEndian.PutUint32(p[0:], next)
	binary.BigEndian.PutUint32(p[4:], uint32(len(leaves)))
	for i, l := range leaves {
		binary.BigEndian.PutUint32(p[8+4*i:], l)
	}
}

func TestDecodeTrunk(t *testing.T) {
	src := newMemSource(512, 3)
	src.setTrunk(2, 3, 5, 6, 7)
	tr, err := DecodeTrunk(src.pages[1], 2)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Next != 3 || tr.Count != 3 || len(tr.Leaves) != 3 || tr.Leaves[2] != 7 {
		t.Errorf("DecodeTrunk() = %+v", tr)
	}

	binary.BigEndian.PutUint32(src.pages[1][4:], 1000)
	tr, err = DecodeTrunk(src.pages[1], 2)
	if !errors.Is(err, errors.ErrCorruptPage) {
		t.Errorf("over-full trunk error = %v", err)
	}
	if tr == nil || len(tr.Leaves) != MaxLeaves(512) || MaxLeaves(512) != 126 {
		t.Errorf("clamped trunk has %d leaves, want 126", len(tr.Leaves))
	}

	if _, err := DecodeTrunk(make([]byte, 4), 2); !errors.Is(err, errors.ErrTruncatedInput) {
		t.Errorf("short trunk error = %v", err)
	}
}

func TestWalk(t *testing.T) {
	src := newMemSource(512, 8)
	src.setTrunk(2, 5, 3, 4)
	src.setTrunk(5, 0, 6)

	var got []string
	for e, err := range Walk(src, 2) {
		if err != nil {
			t.Fatalf("Walk() error = %v", err)
		}
		got = append(got, fmt.Sprintf("%s:%d/%d/%d", e.Role, e.Pgno, e.Parent, e.Index))
	}
	want := "[trunk:2/1/1 leaf:3/2/0 leaf:4/2/1 trunk:5/2/2 leaf:6/5/0]"
	if fmt.Sprint(got) != want {
		t.Errorf("Walk() = %v\nwant %s", got, want)
	}

	s := Summarize(src, 2, 5)
	if s.Trunks != 2 || s.Leaves != 3 || s.Mismatch() || len(s.Errors) != 0 {
		t.Errorf("Summarize() = %+v", s)
	}
	if s := Summarize(src, 2, 9); !s.Mismatch() {
		t.Error("Summarize() should report a count mismatch")
	}

	// Walking twice yields the same pages.
	n := 0
	for range Walk(src, 2) {
		n++
	}
	if n != 5 {
		t.Errorf("second walk yielded %d entries, want 5", n)
	}
}

func TestWalkCycleTerminates(t *testing.T) {
	src := newMemSource(512, 4)
	src.setTrunk(2, 3)
	src.setTrunk(3, 2)

	trunks := 0
	var last error
	for e, err := range Walk(src, 2) {
		if err != nil {
			last = err
			continue
		}
		if e.Role == RoleTrunk {
			trunks++
		}
	}
	if trunks != int(src.PageCount()) {
		t.Errorf("visited %d trunks, want %d", trunks, src.PageCount())
	}
	if !errors.Is(last, errors.ErrCorruptPage) {
		t.Errorf("cycle error = %v", last)
	}
}

func TestWalkOutOfRange(t *testing.T) {
	src := newMemSource(512, 4)
	src.setTrunk(2, 99, 3, 50)

	var errs []error
	leaves := 0
	for e, err := range Walk(src, 2) {
		if err != nil {
			errs = append(errs, err)
		}
		if e.Role == RoleLeaf {
			leaves++
		}
	}
	if leaves != 2 {
		t.Errorf("leaves = %d, want 2", leaves)
	}
	if len(errs) != 2 {
		t.Fatalf("errors = %v, want bad leaf and bad trunk", errs)
	}

	s := Summarize(src, 2, 3)
	if s.Trunks != 1 || s.Leaves != 2 || len(s.Errors) != 2 {
		t.Errorf("Summarize() = %+v", s)
	}
}

func TestWalkEarlyStop(t *testing.T) {
	src := newMemSource(512, 8)
	src.setTrunk(2, 5, 3, 4)
	src.setTrunk(5, 0, 6)
	n := 0
	for range Walk(src, 2) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("n = %d", n)
	}
}
