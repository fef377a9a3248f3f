package btree_test

import (
	"fmt"

	"github.com/FocuswithJustin/pagekit/core/btree"
)

// Example_varint demonstrates encoding and decoding variable-length integers
func Example_varint() {
	var buf [9]byte
	n := btree.PutVarint(buf[:], 12345678)
	v, m := btree.GetVarint(buf[:n])
	fmt.Printf("%d bytes, decoded %d from %d bytes\n", n, v, m)

	// Output:
	// 4 bytes, decoded 12345678 from 4 bytes
}

// ExampleLocalPayload shows how much of a 5000 byte row stays on a 4096 byte page
func ExampleLocalPayload() {
	local := btree.LocalPayload(5000, btree.KindLeafTable, 4096)
	fmt.Println("local:", local)
	fmt.Println("overflow pages:", btree.OverflowPages(5000, local, 4096))

	// Output:
	// local: 908
	// overflow pages: 1
}

// ExampleDecodePage decodes a leaf page holding one row
func ExampleDecodePage() {
	page := make([]byte, 512)
	cell := btree.EncodeTableLeafCell(42, btree.MakeRecord([]btree.Value{btree.Text("hello")}), 512, 0)
	off := 512 - len(cell)
	copy(page[off:], cell)
	page[0] = btree.PageTypeLeafTable
	page[4] = 1 // one cell
	page[5], page[6] = byte(off>>8), byte(off)
	page[8], page[9] = byte(off>>8), byte(off)

	view, err := btree.DecodePage(page, 2, 512)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	c := view.Cells[0]
	values, _ := btree.ParseRecord(c.Cell.LocalPayload(page), 1)
	fmt.Println(view.Kind(), c.Describe(view.Kind()), btree.FormatRecord(values))

	// Output:
	// leaf table n: 7 r: 42 ("hello")
}
