package btree

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/FocuswithJustin/pagekit/core/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		pgno uint32
		typ  byte
		want PageKind
	}{
		{"interior index", 2, PageTypeInteriorIndex, KindInteriorIndex},
		{"interior table", 2, PageTypeInteriorTable, KindInteriorTable},
		{"leaf index", 2, PageTypeLeafIndex, KindLeafIndex},
		{"leaf table", 2, PageTypeLeafTable, KindLeafTable},
		{"zeroed", 2, 0, KindZeroed},
		{"corrupt", 2, 0x07, KindCorrupt},
		{"page one", 1, PageTypeLeafTable, KindLeafTable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, 512)
			data[HeaderOffset(tt.pgno)] = tt.typ
			if got := Classify(data, tt.pgno); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := Classify(make([]byte, 50), 1); got != KindCorrupt {
		t.Errorf("Classify(short page 1) = %v, want corrupt", got)
	}
}

func TestParsePageHeader(t *testing.T) {
	data := buildPage(3, 1024, 1024, PageTypeInteriorTable, 42, [][]byte{
		EncodeTableInteriorCell(7, 100),
		EncodeTableInteriorCell(8, 200),
	})
	h, err := ParsePageHeader(data, 3)
	if err != nil {
		t.Fatalf("ParsePageHeader() error = %v", err)
	}
	if h.Kind != KindInteriorTable || h.NumCells != 2 || h.RightChild != 42 {
		t.Errorf("header = %v", h)
	}
	if h.HeaderSize != PageHeaderSizeInterior || h.CellPtrOffset != 12 || h.CellPtrEnd() != 16 {
		t.Errorf("HeaderSize=%d CellPtrOffset=%d CellPtrEnd=%d", h.HeaderSize, h.CellPtrOffset, h.CellPtrEnd())
	}

	page1 := buildPage(1, 1024, 1024, PageTypeLeafTable, 0, nil)
	h, err = ParsePageHeader(page1, 1)
	if err != nil {
		t.Fatalf("ParsePageHeader(page 1) error = %v", err)
	}
	if h.Offset != 100 || h.CellPtrOffset != 108 {
		t.Errorf("page 1 Offset=%d CellPtrOffset=%d", h.Offset, h.CellPtrOffset)
	}
	if h.ContentStart() != 1024 {
		t.Errorf("ContentStart() = %d, want 1024", h.ContentStart())
	}

	bad := make([]byte, 512)
	bad[0] = 0x42
	if _, err := ParsePageHeader(bad, 2); !errors.Is(err, errors.ErrCorruptPage) {
		t.Errorf("invalid type error = %v, want ErrCorruptPage", err)
	}
	if _, err := ParsePageHeader(make([]byte, 4), 2); !errors.Is(err, errors.ErrTruncatedInput) {
		t.Errorf("short page error = %v, want ErrTruncatedInput", err)
	}
}

func TestCellPointersOutOfRange(t *testing.T) {
	data := buildPage(2, 512, 512, PageTypeLeafTable, 0, [][]byte{
		EncodeTableLeafCell(1, []byte("a"), 512, 0),
		EncodeTableLeafCell(2, []byte("b"), 512, 0),
	})
	h, _ := ParsePageHeader(data, 2)

	binary.BigEndian.PutUint16(data[h.CellPtrOffset+2:], 4)
	ptrs, err := h.CellPointers(data, 2, 512)
	if !errors.Is(err, errors.ErrCorruptPage) {
		t.Fatalf("CellPointers() error = %v, want ErrCorruptPage", err)
	}
	if len(ptrs) != 1 {
		t.Errorf("CellPointers() returned %d pointers before the fault, want 1", len(ptrs))
	}

	binary.BigEndian.PutUint16(data[3:], 1000)
	h, _ = ParsePageHeader(data, 2)
	if _, err := h.CellPointers(data, 2, 512); err == nil {
		t.Error("CellPointers() with oversized cell count should fail")
	}
}

func TestLocalPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload uint64
		kind    PageKind
		usable  int
		want    int
	}{
		{"regression vector", 5000, KindLeafTable, 4096, 908},
		{"fits table leaf", 4061, KindLeafTable, 4096, 4061},
		{"just over table leaf", 4062, KindLeafTable, 4096, 489},
		{"fits index", 1002, KindLeafIndex, 4096, 1002},
		{"just over index", 1003, KindLeafIndex, 4096, 489},
		{"index surplus", 5000, KindInteriorIndex, 4096, 908},
		{"small page", 2000, KindLeafTable, 1024, 980},
		{"empty", 0, KindLeafTable, 4096, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LocalPayload(tt.payload, tt.kind, tt.usable); got != tt.want {
				t.Errorf("LocalPayload(%d, %v, %d) = %d, want %d", tt.payload, tt.kind, tt.usable, got, tt.want)
			}
		})
	}

	if got := MaxLocal(KindLeafIndex, 1024); got != 230 {
		t.Errorf("MaxLocal(index, 1024) = %d, want 230", got)
	}
	if got := MinLocal(4096); got != 489 {
		t.Errorf("MinLocal(4096) = %d, want 489", got)
	}
}

func TestDecodeCell(t *testing.T) {
	const usable = 4096
	big := bytes.Repeat([]byte{0xab}, 5000)

	tests := []struct {
		name     string
		typ      byte
		cell     []byte
		wantSize uint64
		wantRow  int64
		wantLeft uint32
		wantOvfl uint32
		wantLen  int
	}{
		{"table leaf", PageTypeLeafTable, EncodeTableLeafCell(7, []byte("hello world"), usable, 0), 11, 7, 0, 0, 13},
		{"table leaf overflow", PageTypeLeafTable, EncodeTableLeafCell(9, big, usable, 33), 5000, 9, 0, 33, 2 + 1 + 908 + 4},
		{"table interior", PageTypeInteriorTable, EncodeTableInteriorCell(5, 300), 0, 300, 5, 0, 6},
		{"index leaf", PageTypeLeafIndex, EncodeIndexLeafCell([]byte{3, 1, 1, 9}, usable, 0), 4, 0, 0, 0, 5},
		{"index interior", PageTypeInteriorIndex, EncodeIndexInteriorCell(11, []byte{2, 1, 5}, usable, 0), 3, 0, 11, 0, 8},
		{"tiny leaf cell", PageTypeLeafTable, EncodeTableLeafCell(1, nil, usable, 0), 0, 1, 0, 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildPage(2, usable, usable, tt.typ, 99, [][]byte{tt.cell})
			h, err := ParsePageHeader(data, 2)
			if err != nil {
				t.Fatal(err)
			}
			ptrs, err := h.CellPointers(data, 2, usable)
			if err != nil {
				t.Fatal(err)
			}
			c, err := DecodeCell(data, 2, h, int(ptrs[0]), usable)
			if err != nil {
				t.Fatalf("DecodeCell() error = %v", err)
			}
			if c.PayloadSize != tt.wantSize || c.Rowid != tt.wantRow || c.LeftChild != tt.wantLeft {
				t.Errorf("DecodeCell() = %v", c)
			}
			if c.OverflowPage != tt.wantOvfl {
				t.Errorf("OverflowPage = %d, want %d", c.OverflowPage, tt.wantOvfl)
			}
			if c.Size != tt.wantLen {
				t.Errorf("Size = %d, want %d", c.Size, tt.wantLen)
			}
		})
	}
}

func TestDecodeCellCorrupt(t *testing.T) {
	const usable = 512
	data := buildPage(2, usable, usable, PageTypeLeafTable, 0, nil)
	h, _ := ParsePageHeader(data, 2)

	if _, err := DecodeCell(data, 2, h, 4, usable); !errors.Is(err, errors.ErrCorruptPage) {
		t.Errorf("offset in header: error = %v", err)
	}
	if _, err := DecodeCell(data, 2, h, usable, usable); !errors.Is(err, errors.ErrCorruptPage) {
		t.Errorf("offset at usable: error = %v", err)
	}

	// A payload length that claims more local bytes than the page has left.
	off := usable - 3
	data[off] = 0x40
	data[off+1] = 0x01
	if _, err := DecodeCell(data, 2, h, off, usable); !errors.Is(err, errors.ErrCorruptPage) {
		t.Errorf("payload past end: error = %v", err)
	}

	// A continuation byte at the last usable byte truncates the varint.
	data[usable-1] = 0x81
	if _, err := DecodeCell(data, 2, h, usable-1, usable); !errors.Is(err, errors.ErrTruncatedInput) {
		t.Errorf("truncated varint: error = %v", err)
	}

	// Reserved bytes are not part of the cell area.
	cell := EncodeTableLeafCell(1, []byte("abc"), usable-8, 0)
	data = buildPage(2, usable, usable, PageTypeLeafTable, 0, nil)
	copy(data[usable-8-2:], cell)
	if _, err := DecodeCell(data, 2, h, usable-8-2, usable-8); err == nil {
		t.Error("cell straddling reserved region should fail")
	}
}

func TestFreeblockChain(t *testing.T) {
	const usable = 1024
	data := buildPage(2, usable, usable, PageTypeLeafTable, 0, [][]byte{
		EncodeTableLeafCell(1, []byte("x"), usable, 0),
	})
	binary.BigEndian.PutUint16(data[PageHeaderOffsetFreeblock:], 200)
	binary.BigEndian.PutUint16(data[200:], 300)
	binary.BigEndian.PutUint16(data[202:], 10)
	binary.BigEndian.PutUint16(data[300:], 0)
	binary.BigEndian.PutUint16(data[302:], 20)
	data[PageHeaderOffsetFragmented] = 3

	h, _ := ParsePageHeader(data, 2)
	blocks, err := FreeblockChain(data, 2, h, usable)
	if err != nil {
		t.Fatalf("FreeblockChain() error = %v", err)
	}
	want := []Freeblock{{200, 10}, {300, 20}}
	if len(blocks) != len(want) || blocks[0] != want[0] || blocks[1] != want[1] {
		t.Errorf("FreeblockChain() = %v, want %v", blocks, want)
	}
	if got, wantFree := FreeBytes(h, blocks), 3+(usable-3-10)+10+20; got != wantFree {
		t.Errorf("FreeBytes() = %d, want %d", got, wantFree)
	}

	// A next pointer back to the first block would loop forever.
	binary.BigEndian.PutUint16(data[300:], 200)
	blocks, err = FreeblockChain(data, 2, h, usable)
	if !errors.Is(err, errors.ErrCorruptPage) || len(blocks) != 2 {
		t.Errorf("looping chain: blocks=%v err=%v", blocks, err)
	}

	binary.BigEndian.PutUint16(data[300:], 0)
	binary.BigEndian.PutUint16(data[302:], 2000)
	if _, err := FreeblockChain(data, 2, h, usable); !errors.Is(err, errors.ErrCorruptPage) {
		t.Errorf("oversized block: err=%v", err)
	}
}

func TestDecodePageBestEffort(t *testing.T) {
	const usable = 1024
	data := buildPage(2, usable, usable, PageTypeLeafTable, 0, [][]byte{
		EncodeTableLeafCell(1, []byte("one"), usable, 0),
		EncodeTableLeafCell(2, []byte("two"), usable, 0),
		EncodeTableLeafCell(3, []byte("three"), usable, 0),
	})
	// Point cell 1 at the last byte with a payload length that cannot fit.
	binary.BigEndian.PutUint16(data[PageHeaderSizeLeaf+2:], usable-1)
	data[usable-1] = 0x7f

	v, err := DecodePage(data, 2, usable)
	if err != nil {
		t.Fatalf("DecodePage() error = %v", err)
	}
	if len(v.Cells) != 3 {
		t.Fatalf("decoded %d cells, want 3", len(v.Cells))
	}
	if v.Cells[0].Err != nil || v.Cells[2].Err != nil {
		t.Errorf("healthy cells reported errors: %v, %v", v.Cells[0].Err, v.Cells[2].Err)
	}
	if !errors.Is(v.Cells[1].Err, errors.ErrCorruptPage) {
		t.Errorf("cell 1 error = %v, want ErrCorruptPage", v.Cells[1].Err)
	}
	if v.Cells[2].Cell.Rowid != 3 {
		t.Errorf("cell 2 rowid = %d, want 3", v.Cells[2].Cell.Rowid)
	}
	if v.Err() == nil {
		t.Error("Err() should report the corrupt cell")
	}
	if got := v.Cells[0].Describe(v.Kind()); got != "n: 3 r: 1" {
		t.Errorf("Describe() = %q", got)
	}
}

func TestDecodePageHeaderFault(t *testing.T) {
	data := make([]byte, 512)
	data[0] = 0x33
	v, err := DecodePage(data, 4, 512)
	if err == nil {
		t.Fatal("DecodePage() should fail on an unknown page type")
	}
	if v == nil || v.Kind() != KindCorrupt {
		t.Errorf("view kind = %v, want corrupt", v.Kind())
	}
}

func TestInteriorChildren(t *testing.T) {
	data := buildPage(2, 512, 512, PageTypeInteriorTable, 9, [][]byte{
		EncodeTableInteriorCell(3, 10),
		EncodeTableInteriorCell(4, 20),
	})
	v, err := DecodePage(data, 2, 512)
	if err != nil {
		t.Fatal(err)
	}
	got := v.Children()
	want := []uint32{3, 4, 9}
	if len(got) != len(want) {
		t.Fatalf("Children() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Children()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPageMap(t *testing.T) {
	const usable = 512
	cell := EncodeTableLeafCell(1, []byte("abcdefgh"), usable, 0)
	data := buildPage(2, usable, usable, PageTypeLeafTable, 0, [][]byte{cell})
	v, err := DecodePage(data, 2, usable)
	if err != nil {
		t.Fatal(err)
	}
	m := v.Map(usable)
	if string(m[:8]) != "HHHHHHHH" || string(m[8:10]) != "PP" || m[10] != '.' {
		t.Errorf("map prefix = %q", m[:12])
	}
	start := usable - len(cell)
	if got := string(m[start:]); got != "[0*******]" {
		t.Errorf("cell map = %q", got)
	}

	lines := v.MapLines(usable)
	if len(lines) != usable/MapLineWidth {
		t.Errorf("MapLines() = %d lines, want %d", len(lines), usable/MapLineWidth)
	}
	if lines[1][:6] != " 040: " {
		t.Errorf("second line prefix = %q", lines[1][:6])
	}

	page1 := buildPage(1, usable, usable, PageTypeLeafTable, 0, nil)
	v, _ = DecodePage(page1, 1, usable)
	m = v.Map(usable)
	if m[0] != '1' || m[99] != '1' || m[100] != 'H' {
		t.Errorf("page 1 map = %q", m[:110])
	}
}

func TestReadPayloadOverflow(t *testing.T) {
	const usable = 4096
	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	src := newMemSource(usable, usable, 3)
	src.pages[1] = buildPage(2, usable, usable, PageTypeLeafTable, 0, [][]byte{
		EncodeTableLeafCell(1, payload, usable, 3),
	})
	copy(src.pages[2][4:], payload[908:])

	v, err := DecodePage(src.pages[1], 2, usable)
	if err != nil || v.Err() != nil {
		t.Fatalf("DecodePage() = %v, %v", err, v.Err())
	}
	cell := v.Cells[0].Cell
	if cell.LocalSize != 908 || cell.OverflowPage != 3 {
		t.Fatalf("cell = %v", cell)
	}
	if n := OverflowPages(cell.PayloadSize, cell.LocalSize, usable); n != 1 {
		t.Errorf("OverflowPages() = %d, want 1", n)
	}

	got, err := ReadPayload(src, src.pages[1], cell)
	if err != nil {
		t.Fatalf("ReadPayload() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("ReadPayload() returned different bytes")
	}
}

func TestReadPayloadOversized(t *testing.T) {
	const usable = 4096
	const size = uint64(1) << 50

	local := LocalPayload(size, KindLeafTable, usable)
	cell := AppendVarint(nil, size)
	cell = AppendVarint(cell, 1)
	cell = append(cell, make([]byte, local)...)
	cell = binary.BigEndian.AppendUint32(cell, 3)

	src := newMemSource(usable, usable, 3)
	src.pages[1] = buildPage(2, usable, usable, PageTypeLeafTable, 0, [][]byte{cell})

	v, err := DecodePage(src.pages[1], 2, usable)
	if err != nil || v.Err() != nil {
		t.Fatalf("DecodePage() = %v, %v", err, v.Err())
	}
	c := v.Cells[0].Cell
	if c.PayloadSize != size || !c.HasOverflow() {
		t.Fatalf("cell = %v", c)
	}
	if limit := MaxPayload(src, c.LocalSize); limit != uint64(local)+3*(usable-4) {
		t.Errorf("MaxPayload() = %d", limit)
	}

	got, err := ReadPayload(src, src.pages[1], c)
	if !errors.Is(err, errors.ErrCorruptPage) {
		t.Fatalf("ReadPayload() error = %v, want ErrCorruptPage", err)
	}
	if got != nil {
		t.Errorf("ReadPayload() returned %d bytes for an impossible payload", len(got))
	}
}

func TestOverflowPagesLarge(t *testing.T) {
	if n := OverflowPages(^uint64(0), 0, 65536); n != int(^uint64(0)/65532)+1 {
		t.Errorf("OverflowPages(max) = %d", n)
	}
	if n := OverflowPages(100, 10, 4); n != 0 {
		t.Errorf("OverflowPages() with no room per page = %d, want 0", n)
	}
}

func TestOverflowChainCycle(t *testing.T) {
	src := newMemSource(512, 512, 4)
	binary.BigEndian.PutUint32(src.pages[2], 4)
	binary.BigEndian.PutUint32(src.pages[3], 3)

	visited := 0
	var last error
	for _, err := range OverflowChain(src, 3, 10) {
		if err != nil {
			last = err
			break
		}
		visited++
	}
	if visited != 10 {
		t.Errorf("visited %d pages, want 10", visited)
	}
	if !errors.Is(last, errors.ErrCorruptPage) {
		t.Errorf("cycle error = %v, want ErrCorruptPage", last)
	}

	binary.BigEndian.PutUint32(src.pages[3], 77)
	for pgno, err := range OverflowChain(src, 3, 10) {
		if err != nil {
			if pgno != 77 {
				t.Errorf("error reported for page %d, want 77", pgno)
			}
			return
		}
	}
	t.Error("chain to page 77 should fail")
}

func TestPtrmap(t *testing.T) {
	const usable = 1024
	per := PtrmapPerPage(usable)
	if per != 204 {
		t.Fatalf("PtrmapPerPage() = %d, want 204", per)
	}
	pages := PtrmapPages(usable, 500)
	want := []uint32{2, 207, 412}
	if len(pages) != len(want) {
		t.Fatalf("PtrmapPages() = %v, want %v", pages, want)
	}
	for i := range want {
		if pages[i] != want[i] || !IsPtrmapPage(want[i], usable) {
			t.Errorf("ptrmap page %d = %d, want %d", i, pages[i], want[i])
		}
	}
	if IsPtrmapPage(3, usable) || IsPtrmapPage(1, usable) {
		t.Error("pages 1 and 3 are not pointer map pages")
	}

	data := make([]byte, usable)
	data[0] = PtrmapRootPage
	data[5] = PtrmapBtree
	binary.BigEndian.PutUint32(data[6:], 3)
	entries := DecodePtrmap(data, 2, usable)
	if len(entries) != 2 {
		t.Fatalf("DecodePtrmap() = %v", entries)
	}
	if entries[0].Pgno != 3 || entries[0].TypeName() != "ROOTPAGE" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Pgno != 4 || entries[1].Parent != 3 || entries[1].TypeName() != "BTREE" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}
