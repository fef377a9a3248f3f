package pageusage

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/pagekit/core/btree"
	"github.com/FocuswithJustin/pagekit/core/format"
)

const testPageSize = 1024

type memSource struct {
	pages [][]byte
}

func newMemSource(n int) *memSource {
	s := &memSource{}
	for i := 0; i < n; i++ {
		s.pages = append(s.pages, make([]byte, testPageSize))
	}
	return s
}

func (s *memSource) ReadPage(pgno uint32) ([]byte, error) {
	if pgno == 0 || int(pgno) > len(s.pages) {
		return nil, fmt.Errorf("page %d out of range", pgno)
	}
	return s.pages[pgno-1], nil
}

func (s *memSource) PageSize() int     { return testPageSize }
func (s *memSource) UsableSize() int   { return testPageSize }
func (s *memSource) PageCount() uint32 { return uint32(len(s.pages)) }

// setPage lays out a b-tree page with cells packed at the end.
func (s *memSource) setPage(pgno uint32, pageType byte, rightChild uint32, cells ...[]byte) {
	data := s.pages[pgno-1]
	off := btree.HeaderOffset(pgno)
	data[off] = pageType
	hdrSize := btree.PageHeaderSizeLeaf
	if btree.KindOf(pageType).IsInterior() {
		hdrSize = btree.PageHeaderSizeInterior
		binary.BigEndian.PutUint32(data[off+btree.PageHeaderOffsetRightChild:], rightChild)
	}
	content := testPageSize
	for i, c := range cells {
		content -= len(c)
		copy(data[content:], c)
		binary.BigEndian.PutUint16(data[off+hdrSize+2*i:], uint16(content))
	}
	binary.BigEndian.PutUint16(data[off+btree.PageHeaderOffsetNumCells:], uint16(len(cells)))
	binary.BigEndian.PutUint16(data[off+btree.PageHeaderOffsetCellStart:], uint16(content))
}

// setHeader writes a database header onto page 1.
func (s *memSource) setHeader(edit func(h *format.Header)) {
	h := format.NewHeader(testPageSize, 0)
	h.DatabaseSize = s.PageCount()
	if edit != nil {
		edit(h)
	}
	copy(s.pages[0], h.Serialize())
}

func schemaCell(rowid int64, typ, name, tbl string, root int64, sql string) []byte {
	rec := btree.MakeRecord([]btree.Value{
		btree.Text(typ), btree.Text(name), btree.Text(tbl), btree.Int(root), btree.Text(sql),
	})
	return btree.EncodeTableLeafCell(rowid, rec, testPageSize, 0)
}

func smallRow(rowid int64) []byte {
	return btree.EncodeTableLeafCell(rowid, btree.MakeRecord([]btree.Value{btree.Int(rowid)}), testPageSize, 0)
}

// fixture builds an eleven page image:
//
//	1 schema leaf      2 interior of t    3 leaf of index i
//	4 leaf of t        5 leaf of t        6 overflow from page 4
//	7 freelist trunk   8 freelist leaf    9 zeroed
//	10 garbage         11 lost empty leaf
func fixture() *memSource {
	s := newMemSource(11)
	s.setPage(1, btree.PageTypeLeafTable, 0,
		schemaCell(1, "table", "t", "t", 2, "CREATE TABLE t(x)"),
		schemaCell(2, "index", "i", "t", 3, "CREATE INDEX i ON t(x)"))
	s.setHeader(func(h *format.Header) {
		h.FirstFreelist = 7
		h.FreelistCount = 2
	})

	s.setPage(2, btree.PageTypeInteriorTable, 5, btree.EncodeTableInteriorCell(4, 1))
	s.setPage(3, btree.PageTypeLeafIndex, 0,
		btree.EncodeIndexLeafCell(btree.MakeRecord([]btree.Value{btree.Int(1), btree.Int(1)}), testPageSize, 0))

	big := make([]byte, 2000)
	for i := range big {
		big[i] = byte(i)
	}
	s.setPage(4, btree.PageTypeLeafTable, 0, btree.EncodeTableLeafCell(1, big, testPageSize, 6))
	s.setPage(5, btree.PageTypeLeafTable, 0, smallRow(2), smallRow(3))
	copy(s.pages[5][4:], big[btree.LocalPayload(uint64(len(big)), btree.KindLeafTable, testPageSize):])

	binary.BigEndian.PutUint32(s.pages[6][4:], 1)
	binary.BigEndian.PutUint32(s.pages[6][8:], 8)

	s.pages[9][0] = 0xff
	s.setPage(11, btree.PageTypeLeafTable, 0)
	return s
}
