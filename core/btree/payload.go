package btree

import (
	"encoding/binary"
	"iter"

	"github.com/FocuswithJustin/pagekit/core/errors"
)

// PageSource provides read access to the pages of a database image.
type PageSource interface {
	// ReadPage returns page pgno (1-based). The returned slice is read-only.
	ReadPage(pgno uint32) ([]byte, error)
	// PageSize returns the page size in bytes.
	PageSize() int
	// UsableSize returns the page size minus the reserved bytes per page.
	UsableSize() int
	// PageCount returns the number of pages in the image.
	PageCount() uint32
}

// OverflowChain yields the page numbers of an overflow chain starting at
// first. The chain stops at a zero next pointer, after maxPages pages, or at
// the first page number outside the image; the last two end with an error.
func OverflowChain(src PageSource, first uint32, maxPages int) iter.Seq2[uint32, error] {
	return func(yield func(uint32, error) bool) {
		total := src.PageCount()
		pgno := first
		for n := 0; pgno != 0; n++ {
			if n >= maxPages {
				yield(pgno, errors.NewPage(pgno, -1, "overflow chain longer than %d pages", maxPages))
				return
			}
			if pgno > total {
				yield(pgno, errors.NewPage(pgno, -1, "overflow page beyond end of file (%d pages)", total))
				return
			}
			data, err := src.ReadPage(pgno)
			if err != nil {
				yield(pgno, err)
				return
			}
			if len(data) < 4 {
				yield(pgno, errors.NewTruncated(pgno, 0, "overflow next pointer"))
				return
			}
			if !yield(pgno, nil) {
				return
			}
			pgno = binary.BigEndian.Uint32(data)
		}
	}
}

// OverflowPages returns how many overflow pages a payload of the given size
// needs once local bytes are kept on the b-tree page.
func OverflowPages(payload uint64, local int, usable int) int {
	if payload <= uint64(local) || usable <= 4 {
		return 0
	}
	rest := payload - uint64(local)
	per := uint64(usable - 4)
	n := rest / per
	if rest%per != 0 {
		n++
	}
	return int(n)
}

// MaxPayload returns the largest payload a cell with local bytes on the page
// can have when every page of src is an overflow page.
func MaxPayload(src PageSource, local int) uint64 {
	per := src.UsableSize() - 4
	if per <= 0 {
		return uint64(local)
	}
	return uint64(local) + uint64(src.PageCount())*uint64(per)
}

// ReadPayload assembles the full payload of cell, following its overflow chain
// through src. data is the page the cell was decoded from. A payload size
// larger than the file could hold is reported before anything is allocated.
func ReadPayload(src PageSource, data []byte, cell *Cell) ([]byte, error) {
	if !cell.HasOverflow() {
		return append([]byte(nil), cell.LocalPayload(data)...), nil
	}

	usable := src.UsableSize()
	if limit := MaxPayload(src, cell.LocalSize); cell.PayloadSize > limit {
		return nil, errors.NewPage(0, cell.Offset, "payload of %d bytes exceeds the %d bytes %d pages can hold",
			cell.PayloadSize, limit, src.PageCount())
	}
	maxPages := OverflowPages(cell.PayloadSize, cell.LocalSize, usable)

	out := make([]byte, 0, cell.PayloadSize)
	out = append(out, cell.LocalPayload(data)...)
	for pgno, err := range OverflowChain(src, cell.OverflowPage, maxPages) {
		if err != nil {
			return out, err
		}
		page, err := src.ReadPage(pgno)
		if err != nil {
			return out, err
		}
		need := int(cell.PayloadSize) - len(out)
		chunk := usable - 4
		if chunk > need {
			chunk = need
		}
		if 4+chunk > len(page) {
			return out, errors.NewTruncated(pgno, 4, "overflow content")
		}
		out = append(out, page[4:4+chunk]...)
		if len(out) == int(cell.PayloadSize) {
			return out, nil
		}
	}
	return out, errors.NewPage(0, cell.Offset, "overflow chain ended after %d of %d payload bytes",
		len(out), cell.PayloadSize)
}
