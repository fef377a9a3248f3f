package btree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/pagekit/core/errors"
)

// MapLineWidth is the number of page bytes shown per line of a page map.
const MapLineWidth = 64

// CellView is one decoded cell, or the reason it could not be decoded.
type CellView struct {
	Index  int
	Offset int
	Cell   *Cell
	Err    error
}

// Describe returns a one-line summary of the cell fields.
func (cv CellView) Describe(kind PageKind) string {
	if cv.Err != nil {
		return "ERROR: " + cv.Err.Error()
	}
	c := cv.Cell
	var parts []string
	if kind.IsInterior() {
		parts = append(parts, fmt.Sprintf("lx: %d", c.LeftChild))
	}
	if kind != KindInteriorTable {
		parts = append(parts, fmt.Sprintf("n: %d", c.PayloadSize))
	}
	if kind.IsTable() {
		parts = append(parts, fmt.Sprintf("r: %d", c.Rowid))
	}
	if c.HasOverflow() {
		parts = append(parts, fmt.Sprintf("ov: %d", c.OverflowPage))
	}
	return strings.Join(parts, " ")
}

// PageView is the structured decoding of one b-tree page.
type PageView struct {
	Pgno       uint32
	Usable     int
	Header     *PageHeader
	Pointers   []uint16
	Cells      []CellView
	Freeblocks []Freeblock
	Errors     []error // Page-level faults: pointer array, freeblock chain
}

// Kind returns the page kind from the decoded header.
func (v *PageView) Kind() PageKind {
	if v.Header == nil {
		return KindCorrupt
	}
	return v.Header.Kind
}

// Err joins every page-level and cell-level fault found on the page.
func (v *PageView) Err() error {
	all := append([]error(nil), v.Errors...)
	for _, c := range v.Cells {
		if c.Err != nil {
			all = append(all, c.Err)
		}
	}
	return errors.Join(all...)
}

// Children returns the child page numbers of an interior page: each cell's
// left child followed by the right child.
func (v *PageView) Children() []uint32 {
	if !v.Kind().IsInterior() {
		return nil
	}
	var children []uint32
	for _, c := range v.Cells {
		if c.Err == nil {
			children = append(children, c.Cell.LeftChild)
		}
	}
	return append(children, v.Header.RightChild)
}

// DecodePage decodes header, cell pointer array, cells and freeblocks of a
// b-tree page. Faults in the pointer array, in individual cells or in the
// freeblock chain are recorded on the view and decoding continues with the
// next structure. An error is returned only when the header itself cannot
// be read.
func DecodePage(data []byte, pgno uint32, usable int) (*PageView, error) {
	hdr, err := ParsePageHeader(data, pgno)
	if err != nil {
		return &PageView{Pgno: pgno, Usable: usable, Header: hdr}, err
	}
	v := &PageView{Pgno: pgno, Usable: usable, Header: hdr}

	ptrs, err := hdr.CellPointers(data, pgno, usable)
	v.Pointers = ptrs
	if err != nil {
		v.Errors = append(v.Errors, err)
	}

	for i, ptr := range ptrs {
		cell, err := DecodeCell(data, pgno, hdr, int(ptr), usable)
		if cell != nil {
			cell.Index = i
		}
		v.Cells = append(v.Cells, CellView{Index: i, Offset: int(ptr), Cell: cell, Err: err})
	}

	blocks, err := FreeblockChain(data, pgno, hdr, usable)
	v.Freeblocks = blocks
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
	return v, nil
}

// Map returns a byte-region overlay of the page, one character per byte:
// '1' file header, 'H' page header, 'P' cell pointer array, '[n***]' cell n,
// 'F' freeblock, '.' anything else.
func (v *PageView) Map(pageSize int) []byte {
	m := []byte(strings.Repeat(".", pageSize))
	if v.Header == nil {
		return m
	}
	fill(m, 0, v.Header.Offset, '1')
	fill(m, v.Header.Offset, v.Header.HeaderSize, 'H')
	fill(m, v.Header.CellPtrOffset, 2*len(v.Pointers), 'P')

	for _, fb := range v.Freeblocks {
		fill(m, fb.Offset, fb.Size, 'F')
	}
	for _, cv := range v.Cells {
		if cv.Err != nil || cv.Offset+cv.Cell.Size > pageSize {
			continue
		}
		n := cv.Cell.Size
		fill(m, cv.Offset, n, '*')
		m[cv.Offset] = '['
		m[cv.Offset+n-1] = ']'
		label := strconv.Itoa(cv.Index)
		if len(label) <= n-2 {
			copy(m[cv.Offset+1:], label)
		}
	}
	return m
}

// MapLines renders Map as lines of MapLineWidth bytes prefixed by offset.
func (v *PageView) MapLines(pageSize int) []string {
	m := v.Map(pageSize)
	var lines []string
	for i := 0; i < len(m); i += MapLineWidth {
		end := min(i+MapLineWidth, len(m))
		lines = append(lines, fmt.Sprintf(" %03x: %s", i, m[i:end]))
	}
	return lines
}

func fill(m []byte, off, n int, c byte) {
	if off < 0 || n <= 0 || off >= len(m) {
		return
	}
	end := min(off+n, len(m))
	for i := off; i < end; i++ {
		m[i] = c
	}
}
