package btree

import (
	"encoding/binary"

	"github.com/FocuswithJustin/pagekit/core/errors"
)

// Freeblock is one entry of a page's freeblock chain.
type Freeblock struct {
	Offset int // Offset of the freeblock within the page
	Size   int // Size including the 4-byte freeblock header
}

// FreeblockChain follows the freeblock list starting at hdr.FirstFreeblock.
// Blocks must appear at ascending offsets past the cell pointer array and end
// at or before usable. The blocks decoded before a fault are returned with the
// error.
func FreeblockChain(data []byte, pgno uint32, hdr *PageHeader, usable int) ([]Freeblock, error) {
	if usable > len(data) {
		usable = len(data)
	}
	var blocks []Freeblock
	lower := hdr.CellPtrEnd()
	next := int(hdr.FirstFreeblock)
	// A freeblock is at least 4 bytes, which bounds the chain length.
	for steps := 0; next != 0; steps++ {
		if steps > usable/4 {
			return blocks, errors.NewPage(pgno, next, "freeblock chain does not terminate")
		}
		if next < lower || next+4 > usable {
			return blocks, errors.NewPage(pgno, next, "freeblock offset outside [%d,%d)", lower, usable)
		}
		size := int(binary.BigEndian.Uint16(data[next+2:]))
		if size < 4 || next+size > usable {
			return blocks, errors.NewPage(pgno, next, "freeblock of %d bytes runs past usable size %d", size, usable)
		}
		blocks = append(blocks, Freeblock{Offset: next, Size: size})

		following := int(binary.BigEndian.Uint16(data[next:]))
		if following != 0 && following <= next+size-1 {
			return blocks, errors.NewPage(pgno, next, "freeblock next pointer %d is not ascending", following)
		}
		lower = next + size
		next = following
	}
	return blocks, nil
}

// FreeBytes returns the total free space reported by the chain, the gap between
// the pointer array and the content area, and the fragmented byte count.
func FreeBytes(hdr *PageHeader, blocks []Freeblock) int {
	total := int(hdr.FragmentedBytes)
	if gap := hdr.ContentStart() - hdr.CellPtrEnd(); gap > 0 {
		total += gap
	}
	for _, b := range blocks {
		total += b.Size
	}
	return total
}
