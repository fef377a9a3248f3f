package pageusage

import (
	"github.com/FocuswithJustin/pagekit/core/btree"
	"github.com/FocuswithJustin/pagekit/core/errors"
)

// SchemaEntry is one row of sqlite_schema.
type SchemaEntry struct {
	Rowid    int64
	Type     string // table, index, view or trigger
	Name     string
	TblName  string
	RootPage uint32
	SQL      string
}

// ScanTable calls fn for every row of the table b-tree rooted at root, in
// rowid order, with the row's full payload. Interior pages deeper than
// maxDepth and pages reached twice end the scan with a CorruptPage error.
func ScanTable(src btree.PageSource, root uint32, maxDepth int, fn func(rowid int64, payload []byte) error) error {
	seen := make(map[uint32]bool)
	var walk func(pgno uint32, depth int) error
	walk = func(pgno uint32, depth int) error {
		if depth > maxDepth {
			return errors.NewPage(pgno, -1, "b-tree deeper than %d levels", maxDepth)
		}
		if pgno == 0 || pgno > src.PageCount() {
			return errors.NewPage(pgno, -1, "page number outside 1..%d", src.PageCount())
		}
		if seen[pgno] {
			return errors.NewPage(pgno, -1, "page reached twice while scanning table %d", root)
		}
		seen[pgno] = true

		data, err := src.ReadPage(pgno)
		if err != nil {
			return err
		}
		view, err := btree.DecodePage(data, pgno, src.UsableSize())
		if err != nil {
			return err
		}
		if err := view.Err(); err != nil {
			return err
		}

		switch view.Kind() {
		case btree.KindInteriorTable:
			for _, child := range view.Children() {
				if err := walk(child, depth+1); err != nil {
					return err
				}
			}
		case btree.KindLeafTable:
			for _, cv := range view.Cells {
				payload, err := btree.ReadPayload(src, data, cv.Cell)
				if err != nil {
					return err
				}
				if err := fn(cv.Cell.Rowid, payload); err != nil {
					return err
				}
			}
		default:
			return errors.NewPage(pgno, -1, "%s page in table b-tree", view.Kind())
		}
		return nil
	}
	return walk(root, 0)
}

// ReadSchema returns the rows of sqlite_schema in rowid order. enc is the
// text encoding from the database header.
func ReadSchema(src btree.PageSource, enc uint32, maxDepth int) ([]SchemaEntry, error) {
	var entries []SchemaEntry
	err := ScanTable(src, 1, maxDepth, func(rowid int64, payload []byte) error {
		values, err := btree.ParseRecord(payload, enc)
		if err != nil {
			return errors.Wrapf(err, "schema row %d", rowid)
		}
		e := SchemaEntry{Rowid: rowid}
		for i, v := range values {
			switch i {
			case 0:
				e.Type = v.Text
			case 1:
				e.Name = v.Text
			case 2:
				e.TblName = v.Text
			case 3:
				if v.Type == btree.TypeInteger && v.Int > 0 {
					e.RootPage = uint32(v.Int)
				}
			case 4:
				e.SQL = v.Text
			}
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}
