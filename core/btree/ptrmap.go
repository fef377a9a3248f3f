package btree

import "encoding/binary"

// Pointer map entry types
const (
	PtrmapRootPage  = 1 // Root page of a b-tree, parent is 0
	PtrmapFreePage  = 2 // Unused page on the freelist, parent is 0
	PtrmapOverflow1 = 3 // First overflow page, parent is the b-tree page
	PtrmapOverflow2 = 4 // Later overflow page, parent is the previous overflow page
	PtrmapBtree     = 5 // Non-root b-tree page, parent is the parent b-tree page
)

// PtrmapEntrySize is the size of one pointer map record.
const PtrmapEntrySize = 5

// PtrmapEntry describes the page a pointer map record refers to.
type PtrmapEntry struct {
	Pgno   uint32 // Page the entry describes
	Type   byte
	Parent uint32
}

// TypeName returns the pointer map entry type name.
func (e PtrmapEntry) TypeName() string {
	switch e.Type {
	case PtrmapRootPage:
		return "ROOTPAGE"
	case PtrmapFreePage:
		return "FREEPAGE"
	case PtrmapOverflow1:
		return "OVERFLOW1"
	case PtrmapOverflow2:
		return "OVERFLOW2"
	case PtrmapBtree:
		return "BTREE"
	}
	return "UNKNOWN"
}

// PtrmapPerPage returns how many pages one pointer map page covers.
func PtrmapPerPage(usable int) int {
	return usable / PtrmapEntrySize
}

// PtrmapPages returns the pointer map page numbers in a file of total pages.
// The first pointer map page is page 2 and they repeat every perPage+1 pages.
func PtrmapPages(usable int, total uint32) []uint32 {
	per := uint64(PtrmapPerPage(usable))
	if per == 0 {
		return nil
	}
	var pages []uint32
	for pgno := uint64(2); pgno <= uint64(total); pgno += per + 1 {
		pages = append(pages, uint32(pgno))
	}
	return pages
}

// IsPtrmapPage reports whether pgno holds a pointer map in an auto-vacuum file.
func IsPtrmapPage(pgno uint32, usable int) bool {
	per := uint32(PtrmapPerPage(usable))
	if pgno < 2 || per == 0 {
		return false
	}
	return (pgno-2)%(per+1) == 0
}

// DecodePtrmap decodes the records of the pointer map page at pgno. Records
// with a zero type byte describe pages past the end of the file and are
// skipped.
func DecodePtrmap(data []byte, pgno uint32, usable int) []PtrmapEntry {
	if usable > len(data) {
		usable = len(data)
	}
	var entries []PtrmapEntry
	for i := 0; (i+1)*PtrmapEntrySize <= usable; i++ {
		rec := data[i*PtrmapEntrySize:]
		if rec[0] == 0 {
			continue
		}
		entries = append(entries, PtrmapEntry{
			Pgno:   pgno + 1 + uint32(i),
			Type:   rec[0],
			Parent: binary.BigEndian.Uint32(rec[1:]),
		})
	}
	return entries
}
