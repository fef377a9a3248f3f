package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/pagekit/core/errors"
)

// Cell contains parsed information about a B-tree cell
type Cell struct {
	Index         int    // Position in the cell pointer array (-1 if unknown)
	Offset        int    // Offset of the cell within the page
	LeftChild     uint32 // Child page number (interior pages only)
	PayloadSize   uint64 // Total bytes of payload (0 for interior table cells)
	Rowid         int64  // Integer key (table b-trees only)
	HeaderSize    int    // Bytes of child pointer and varints before the payload
	PayloadOffset int    // Offset of the local payload within the page
	LocalSize     int    // Amount of payload stored on this page
	OverflowPage  uint32 // First overflow page number (0 if none)
	Size          int    // Total size of cell on the page
}

// HasOverflow reports whether part of the payload lives on overflow pages.
func (c *Cell) HasOverflow() bool {
	return uint64(c.LocalSize) < c.PayloadSize
}

// LocalPayload returns the bytes of payload stored on the page.
func (c *Cell) LocalPayload(data []byte) []byte {
	return data[c.PayloadOffset : c.PayloadOffset+c.LocalSize]
}

// String returns a string representation of the cell
func (c *Cell) String() string {
	return fmt.Sprintf("Cell{offset=%d, size=%d, child=%d, rowid=%d, payload=%d, local=%d, overflow=%d}",
		c.Offset, c.Size, c.LeftChild, c.Rowid, c.PayloadSize, c.LocalSize, c.OverflowPage)
}

// MaxLocal returns the largest payload kept entirely on a page of this kind.
// Table leaves use usable-35; every other kind uses (usable-12)*64/255-23.
func MaxLocal(kind PageKind, usable int) int {
	if kind == KindLeafTable {
		return usable - 35
	}
	return (usable-12)*64/255 - 23
}

// MinLocal returns the least payload kept on the page once a cell overflows.
func MinLocal(usable int) int {
	return (usable-12)*32/255 - 23
}

// LocalPayload returns how many payload bytes a cell of the given kind keeps
// on its page. The integer divisions above and the modulus below must happen
// in exactly this order; any other rounding desynchronizes overflow chains
// from the file format.
func LocalPayload(payload uint64, kind PageKind, usable int) int {
	maxLocal := MaxLocal(kind, usable)
	if payload <= uint64(maxLocal) {
		return int(payload)
	}
	minLocal := MinLocal(usable)
	surplus := uint64(minLocal) + (payload-uint64(minLocal))%uint64(usable-4)
	if surplus <= uint64(maxLocal) {
		return int(surplus)
	}
	return minLocal
}

// DecodeCell parses the cell at cellOffset on a page of the given kind.
// All offsets are checked against [lower, usable), where lower is the end of
// the page header; a cell that would read outside that range yields a
// PageError rather than an out-of-bounds access.
func DecodeCell(data []byte, pgno uint32, hdr *PageHeader, cellOffset int, usable int) (*Cell, error) {
	if usable > len(data) {
		usable = len(data)
	}
	lower := hdr.CellPtrOffset
	if cellOffset < lower || cellOffset >= usable {
		return nil, errors.NewPage(pgno, cellOffset, "cell offset outside [%d,%d)", lower, usable)
	}

	kind := hdr.Kind
	c := &Cell{Index: -1, Offset: cellOffset}
	i := cellOffset

	if kind.IsInterior() {
		if i+4 > usable {
			return nil, errors.NewTruncated(pgno, i, "left child pointer")
		}
		c.LeftChild = binary.BigEndian.Uint32(data[i:])
		i += 4
	}

	if kind != KindInteriorTable {
		v, n := GetVarint(data[i:usable])
		if n == 0 {
			return nil, errors.NewTruncated(pgno, i, "payload size")
		}
		c.PayloadSize = v
		i += n
	}

	if kind.IsTable() {
		v, n := GetVarint(data[i:usable])
		if n == 0 {
			return nil, errors.NewTruncated(pgno, i, "rowid")
		}
		c.Rowid = int64(v)
		i += n
	}

	c.HeaderSize = i - cellOffset
	c.PayloadOffset = i

	if kind == KindInteriorTable {
		c.Size = c.HeaderSize
		return c, nil
	}

	c.LocalSize = LocalPayload(c.PayloadSize, kind, usable)
	if i+c.LocalSize > usable {
		return nil, errors.NewPage(pgno, i, "local payload of %d bytes runs past usable size %d", c.LocalSize, usable)
	}

	if c.HasOverflow() {
		ovfl := i + c.LocalSize
		if ovfl+4 > usable {
			return nil, errors.NewTruncated(pgno, ovfl, "overflow page number")
		}
		c.OverflowPage = binary.BigEndian.Uint32(data[ovfl:])
		c.Size = c.HeaderSize + c.LocalSize + 4
	} else {
		c.Size = c.HeaderSize + c.LocalSize
		if c.Size < 4 {
			c.Size = 4
		}
	}

	return c, nil
}

// EncodeTableLeafCell encodes a table leaf cell with the given rowid and
// payload. When overflowPage is non-zero only the local part of payload is
// written, followed by the overflow page number.
func EncodeTableLeafCell(rowid int64, payload []byte, usable int, overflowPage uint32) []byte {
	buf := AppendVarint(nil, uint64(len(payload)))
	buf = AppendVarint(buf, uint64(rowid))
	return appendLocal(buf, payload, KindLeafTable, usable, overflowPage)
}

// EncodeTableInteriorCell encodes a table interior cell with the given child page and rowid
func EncodeTableInteriorCell(childPage uint32, rowid int64) []byte {
	buf := binary.BigEndian.AppendUint32(nil, childPage)
	return AppendVarint(buf, uint64(rowid))
}

// EncodeIndexLeafCell encodes an index leaf cell with the given payload
func EncodeIndexLeafCell(payload []byte, usable int, overflowPage uint32) []byte {
	buf := AppendVarint(nil, uint64(len(payload)))
	return appendLocal(buf, payload, KindLeafIndex, usable, overflowPage)
}

// EncodeIndexInteriorCell encodes an index interior cell with the given child page and payload
func EncodeIndexInteriorCell(childPage uint32, payload []byte, usable int, overflowPage uint32) []byte {
	buf := binary.BigEndian.AppendUint32(nil, childPage)
	buf = AppendVarint(buf, uint64(len(payload)))
	return appendLocal(buf, payload, KindInteriorIndex, usable, overflowPage)
}

func appendLocal(buf, payload []byte, kind PageKind, usable int, overflowPage uint32) []byte {
	local := LocalPayload(uint64(len(payload)), kind, usable)
	buf = append(buf, payload[:local]...)
	if local < len(payload) {
		buf = binary.BigEndian.AppendUint32(buf, overflowPage)
	}
	return buf
}
