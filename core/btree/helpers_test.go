package btree

import (
	"encoding/binary"
	"fmt"
)

// buildPage lays out a b-tree page with cells packed against usable,
// the way a freshly written page looks.
func buildPage(pgno uint32, pageSize, usable int, pageType byte, rightChild uint32, cells [][]byte) []byte {
	data := make([]byte, pageSize)
	off := HeaderOffset(pgno)
	data[off] = pageType
	hdrSize := PageHeaderSizeLeaf
	if KindOf(pageType).IsInterior() {
		hdrSize = PageHeaderSizeInterior
		binary.BigEndian.PutUint32(data[off+PageHeaderOffsetRightChild:], rightChild)
	}
	ptr := off + hdrSize
	content := usable
	for i, c := range cells {
		content -= len(c)
		copy(data[content:], c)
		binary.BigEndian.PutUint16(data[ptr+2*i:], uint16(content))
	}
	binary.BigEndian.PutUint16(data[off+PageHeaderOffsetNumCells:], uint16(len(cells)))
	binary.BigEndian.PutUint16(data[off+PageHeaderOffsetCellStart:], uint16(content))
	return data
}

// memSource is an in-memory PageSource over pages[pgno-1].
type memSource struct {
	pages    [][]byte
	pageSize int
	usable   int
}

func newMemSource(pageSize, usable, n int) *memSource {
	s := &memSource{pageSize: pageSize, usable: usable}
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
func (s *memSource) UsableSize() int   { return s.usable }
func (s *memSource) PageCount() uint32 { return uint32(len(s.pages)) }
