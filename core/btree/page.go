// Package btree decodes raw SQLite b-tree pages: page headers, cell pointer
// arrays, cells, freeblock chains, overflow chains and record payloads.
//
// The decoder never writes. Every offset read from a page is checked against
// the usable size before it is followed, and problems are reported as
// errors.PageError values so a diagnostic pass can annotate the page and move
// on to the next one.
package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/pagekit/core/errors"
	"github.com/FocuswithJustin/pagekit/core/format"
)

// Page type constants (first byte of page header)
const (
	PageTypeInteriorIndex = 0x02 // Interior index b-tree page
	PageTypeInteriorTable = 0x05 // Interior table b-tree page
	PageTypeLeafIndex     = 0x0a // Leaf index b-tree page
	PageTypeLeafTable     = 0x0d // Leaf table b-tree page
)

// Page header offsets
const (
	PageHeaderOffsetType       = 0 // Page type (1 byte)
	PageHeaderOffsetFreeblock  = 1 // First freeblock offset (2 bytes)
	PageHeaderOffsetNumCells   = 3 // Number of cells (2 bytes)
	PageHeaderOffsetCellStart  = 5 // Start of cell content area (2 bytes)
	PageHeaderOffsetFragmented = 7 // Fragmented free bytes (1 byte)
	PageHeaderOffsetRightChild = 8 // Right-most child pointer (4 bytes, interior only)
)

// Header sizes
const (
	PageHeaderSizeLeaf     = 8  // Leaf pages: 8 bytes
	PageHeaderSizeInterior = 12 // Interior pages: 12 bytes (includes right child pointer)
)

// PageKind is the classification of a page derived from its type byte.
type PageKind int

const (
	KindCorrupt PageKind = iota
	KindZeroed
	KindInteriorIndex
	KindInteriorTable
	KindLeafIndex
	KindLeafTable
)

func (k PageKind) String() string {
	switch k {
	case KindZeroed:
		return "zeroed"
	case KindInteriorIndex:
		return "interior index"
	case KindInteriorTable:
		return "interior table"
	case KindLeafIndex:
		return "leaf index"
	case KindLeafTable:
		return "leaf table"
	}
	return "corrupt"
}

// IsBtree reports whether k is one of the four b-tree page kinds.
func (k PageKind) IsBtree() bool {
	return k >= KindInteriorIndex
}

// IsInterior reports whether pages of this kind carry child pointers.
func (k PageKind) IsInterior() bool {
	return k == KindInteriorIndex || k == KindInteriorTable
}

// IsTable reports whether pages of this kind belong to a rowid table.
func (k PageKind) IsTable() bool {
	return k == KindInteriorTable || k == KindLeafTable
}

// KindOf maps a page type byte to a PageKind.
func KindOf(pageType byte) PageKind {
	switch pageType {
	case PageTypeInteriorIndex:
		return KindInteriorIndex
	case PageTypeInteriorTable:
		return KindInteriorTable
	case PageTypeLeafIndex:
		return KindLeafIndex
	case PageTypeLeafTable:
		return KindLeafTable
	case 0:
		return KindZeroed
	}
	return KindCorrupt
}

// HeaderOffset returns where the b-tree page header starts: 100 on page 1,
// which begins with the database file header, and 0 everywhere else.
func HeaderOffset(pgno uint32) int {
	if pgno == 1 {
		return format.HeaderSize
	}
	return 0
}

// Classify returns the kind of page pgno based on its type byte. The kind is
// recomputed from content on every call.
func Classify(data []byte, pgno uint32) PageKind {
	off := HeaderOffset(pgno)
	if off >= len(data) {
		return KindCorrupt
	}
	return KindOf(data[off])
}

// PageHeader represents the parsed header of a B-tree page
type PageHeader struct {
	PageType         byte     // Page type (0x02, 0x05, 0x0a, 0x0d)
	Kind             PageKind // Kind derived from PageType
	FirstFreeblock   uint16   // Offset to first freeblock (0 if none)
	NumCells         uint16   // Number of cells on this page
	CellContentStart uint16   // Start of cell content area (0 means 65536)
	FragmentedBytes  byte     // Number of fragmented free bytes
	RightChild       uint32   // Right-most child page number (interior pages only)

	Offset        int // Where the header starts within the page (0 or 100)
	HeaderSize    int // Size of page header (8 or 12 bytes)
	CellPtrOffset int // Offset where cell pointer array starts
}

// ParsePageHeader parses the B-tree page header from raw page data. For an
// unknown type byte the partly filled header is returned along with the error.
func ParsePageHeader(data []byte, pgno uint32) (*PageHeader, error) {
	offset := HeaderOffset(pgno)
	if len(data) < offset+PageHeaderSizeLeaf {
		return nil, errors.NewTruncated(pgno, offset, "page header")
	}

	h := &PageHeader{
		PageType:         data[offset+PageHeaderOffsetType],
		FirstFreeblock:   binary.BigEndian.Uint16(data[offset+PageHeaderOffsetFreeblock:]),
		NumCells:         binary.BigEndian.Uint16(data[offset+PageHeaderOffsetNumCells:]),
		CellContentStart: binary.BigEndian.Uint16(data[offset+PageHeaderOffsetCellStart:]),
		FragmentedBytes:  data[offset+PageHeaderOffsetFragmented],
		Offset:           offset,
	}
	h.Kind = KindOf(h.PageType)
	if !h.Kind.IsBtree() {
		return h, errors.NewPage(pgno, offset, "invalid page type: 0x%02x", h.PageType)
	}

	if h.Kind.IsInterior() {
		if len(data) < offset+PageHeaderSizeInterior {
			return nil, errors.NewTruncated(pgno, offset, "interior page header")
		}
		h.RightChild = binary.BigEndian.Uint32(data[offset+PageHeaderOffsetRightChild:])
		h.HeaderSize = PageHeaderSizeInterior
	} else {
		h.HeaderSize = PageHeaderSizeLeaf
	}

	h.CellPtrOffset = offset + h.HeaderSize
	return h, nil
}

// ContentStart returns the cell content area start, mapping 0 to 65536.
func (h *PageHeader) ContentStart() int {
	if h.CellContentStart == 0 {
		return format.MaxPageSize
	}
	return int(h.CellContentStart)
}

// CellPtrEnd returns the first byte past the cell pointer array.
func (h *PageHeader) CellPtrEnd() int {
	return h.CellPtrOffset + 2*int(h.NumCells)
}

// CellPointers returns all cell pointers in the page. Each pointer must land
// inside [CellPtrEnd, usable); the pointer array itself must fit in the page.
func (h *PageHeader) CellPointers(data []byte, pgno uint32, usable int) ([]uint16, error) {
	end := h.CellPtrEnd()
	if end > usable || end > len(data) {
		return nil, errors.NewPage(pgno, h.Offset+PageHeaderOffsetNumCells,
			"cell count %d overflows page", h.NumCells)
	}

	pointers := make([]uint16, h.NumCells)
	for i := range pointers {
		ptr := binary.BigEndian.Uint16(data[h.CellPtrOffset+2*i:])
		if int(ptr) < end || int(ptr) >= usable {
			return pointers[:i], errors.NewPage(pgno, h.CellPtrOffset+2*i,
				"cell %d pointer %d outside [%d,%d)", i, ptr, end, usable)
		}
		pointers[i] = ptr
	}
	return pointers, nil
}

// String returns a string representation of the page header
func (h *PageHeader) String() string {
	s := fmt.Sprintf("PageHeader{type=%s, cells=%d, contentStart=%d, freeblock=%d, fragmented=%d",
		h.Kind, h.NumCells, h.ContentStart(), h.FirstFreeblock, h.FragmentedBytes)
	if h.Kind.IsInterior() {
		s += fmt.Sprintf(", rightChild=%d", h.RightChild)
	}
	return s + "}"
}
