// Package report renders decoded pages and page usage as text and XML.
package report

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/FocuswithJustin/pagekit/core/btree"
	"github.com/FocuswithJustin/pagekit/core/format"
	"github.com/FocuswithJustin/pagekit/core/freelist"
)

// Header writes every field of the database header with its offset and size.
func Header(w io.Writer, h *format.Header) {
	fmt.Fprintf(w, "Pagesize: %d\n", h.GetPageSize())
	for _, f := range h.Fields() {
		fmt.Fprintf(w, " %3d %d  %-36s %d\n", f.Offset, f.Size, f.Name, f.Value)
	}
}

// Raw writes a hex dump of page pgno.
func Raw(w io.Writer, pgno uint32, data []byte) {
	fmt.Fprintf(w, "Page %d (%d bytes at file offset %d):\n", pgno, len(data), int64(pgno-1)*int64(len(data)))
	io.WriteString(w, hex.Dump(data))
}

// PageOptions selects the optional parts of a b-tree page dump.
type PageOptions struct {
	Content bool // Print each cell's record
	Map     bool // Print the byte map
	Detail  bool // Print cell fields one per line
	Cell    int  // Cell for Detail, or -1 for all
	Enc     uint32
}

// Page writes a decoded b-tree page. src resolves overflow pages when cell
// content is requested. Decoding faults are printed inline.
func Page(w io.Writer, src btree.PageSource, pgno uint32, data []byte, opts PageOptions) error {
	view, err := btree.DecodePage(data, pgno, src.UsableSize())
	if err != nil {
		fmt.Fprintf(w, "Page %d: ERROR: %v\n", pgno, err)
		return err
	}
	h := view.Header
	fmt.Fprintf(w, "Page %d: %s, %d cells, content at %d, %d fragmented bytes, first freeblock %d",
		pgno, h.Kind, h.NumCells, h.ContentStart(), h.FragmentedBytes, h.FirstFreeblock)
	if h.Kind.IsInterior() {
		fmt.Fprintf(w, ", right child %d", h.RightChild)
	}
	fmt.Fprintln(w)

	for _, cv := range view.Cells {
		fmt.Fprintf(w, " cell[%d] @%d", cv.Index, cv.Offset)
		if cv.Cell != nil {
			fmt.Fprintf(w, " sz=%d", cv.Cell.Size)
		}
		fmt.Fprintf(w, " %s", cv.Describe(h.Kind))
		if opts.Content && cv.Err == nil && h.Kind != btree.KindInteriorTable {
			fmt.Fprintf(w, " %s", cellContent(src, data, cv.Cell, opts.Enc))
		}
		fmt.Fprintln(w)
		if opts.Detail && cv.Err == nil && (opts.Cell < 0 || opts.Cell == cv.Index) {
			cellDetail(w, cv.Cell)
		}
	}

	for _, fb := range view.Freeblocks {
		fmt.Fprintf(w, " freeblock @%d size %d\n", fb.Offset, fb.Size)
	}
	fmt.Fprintf(w, " free bytes: %d\n", btree.FreeBytes(h, view.Freeblocks))
	for _, e := range view.Errors {
		fmt.Fprintf(w, " ERROR: %v\n", e)
	}

	if opts.Map {
		for _, line := range view.MapLines(len(data)) {
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

func cellContent(src btree.PageSource, data []byte, c *btree.Cell, enc uint32) string {
	payload, err := btree.ReadPayload(src, data, c)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	values, err := btree.ParseRecord(payload, enc)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	return btree.FormatRecord(values)
}

func cellDetail(w io.Writer, c *btree.Cell) {
	fmt.Fprintf(w, "    offset %d size %d header %d\n", c.Offset, c.Size, c.HeaderSize)
	if c.LeftChild != 0 {
		fmt.Fprintf(w, "    left child %d\n", c.LeftChild)
	}
	fmt.Fprintf(w, "    payload %d bytes, %d local at %d\n", c.PayloadSize, c.LocalSize, c.PayloadOffset)
	if c.HasOverflow() {
		fmt.Fprintf(w, "    overflow page %d\n", c.OverflowPage)
	}
}

// Trunk writes freelist trunk page pgno. With leaves set the leaf page
// numbers are listed; with recursive set the following trunks are printed
// too.
func Trunk(w io.Writer, src btree.PageSource, pgno uint32, leaves, recursive bool) error {
	for visits := uint32(0); pgno != 0; visits++ {
		if visits >= src.PageCount() {
			return fmt.Errorf("freelist trunk chain longer than %d pages", src.PageCount())
		}
		data, err := src.ReadPage(pgno)
		if err != nil {
			return err
		}
		t, err := freelist.DecodeTrunk(data, pgno)
		if t == nil {
			return err
		}
		fmt.Fprintf(w, "Decode of freelist trunk page %d:\n", pgno)
		fmt.Fprintf(w, "   0: Next freelist trunk page %d\n", t.Next)
		fmt.Fprintf(w, "   4: Number of entries on this page %d\n", t.Count)
		if err != nil {
			fmt.Fprintf(w, " ERROR: %v\n", err)
		}
		if leaves {
			for i, leaf := range t.Leaves {
				fmt.Fprintf(w, " %4d: %d\n", freelist.TrunkHeaderSize+4*i, leaf)
			}
		}
		if !recursive {
			return nil
		}
		pgno = t.Next
	}
	return nil
}

// Ptrmap writes the entries of pointer map page pgno.
func Ptrmap(w io.Writer, pgno uint32, data []byte, usable int) {
	fmt.Fprintf(w, "Pointer map page %d:\n", pgno)
	for _, e := range btree.DecodePtrmap(data, pgno, usable) {
		fmt.Fprintf(w, " page %d: %s parent %d\n", e.Pgno, e.TypeName(), e.Parent)
	}
}
