// Package pageusage reports what every page of a database image is used for:
// b-tree node, overflow page, freelist trunk or leaf, pointer map, or nothing
// at all.
package pageusage

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/pagekit/core/btree"
	"github.com/FocuswithJustin/pagekit/core/errors"
	"github.com/FocuswithJustin/pagekit/core/format"
	"github.com/FocuswithJustin/pagekit/core/freelist"
	"github.com/FocuswithJustin/pagekit/internal/logging"
)

// DefaultMaxDepth bounds b-tree descent so that a cyclic tree terminates.
const DefaultMaxDepth = 50

// SchemaName is the name used for the schema table rooted at page 1.
const SchemaName = "sqlite_schema"

// Role classifies how a page is used.
type Role int

const (
	RoleUnused Role = iota
	RoleBtree
	RoleOverflow
	RoleFreeTrunk
	RoleFreeLeaf
	RolePtrmap
	RoleOrphan
)

func (r Role) String() string {
	switch r {
	case RoleBtree:
		return "btree"
	case RoleOverflow:
		return "overflow"
	case RoleFreeTrunk:
		return "freelist trunk"
	case RoleFreeLeaf:
		return "freelist leaf"
	case RolePtrmap:
		return "ptrmap"
	case RoleOrphan:
		return "orphan"
	}
	return "unused"
}

// Page is the usage of a single page.
type Page struct {
	Pgno     uint32
	Role     Role
	Kind     btree.PageKind // For b-tree and orphan pages
	Owner    string         // Table or index the page belongs to
	Use      string         // Human-readable description
	Previous []string       // Earlier descriptions when the page was claimed more than once
}

// Duplicate records a page claimed by two owners.
type Duplicate struct {
	Pgno     uint32
	Previous string
	Current  string
}

// Diagnostic is a fault found while building the report.
type Diagnostic struct {
	Pgno uint32
	Err  error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("ERROR: page %d: %v", d.Pgno, d.Err)
}

// Options controls a report.
type Options struct {
	MaxDepth int // B-tree depth limit; 0 means DefaultMaxDepth
}

// Usage is the result of Report.
type Usage struct {
	PageSize   int
	Usable     int
	PageCount  uint32
	Schema     []SchemaEntry
	Pages      []Page // Pages[pgno-1]
	Duplicates []Duplicate
	OutOfRange []string // Descriptions that named a page outside the file
	Freelist   *freelist.Summary
	Errors     []Diagnostic
}

// Page returns the usage of pgno, or nil when pgno is outside the file.
func (u *Usage) Page(pgno uint32) *Page {
	if pgno == 0 || pgno > u.PageCount {
		return nil
	}
	return &u.Pages[pgno-1]
}

// Count returns how many pages have the given role.
func (u *Usage) Count(role Role) int {
	n := 0
	for _, p := range u.Pages {
		if p.Role == role {
			n++
		}
	}
	return n
}

// Lines renders the report: error lines first, then one line per page.
func (u *Usage) Lines() []string {
	var lines []string
	for _, s := range u.OutOfRange {
		lines = append(lines, "ERROR: "+s)
	}
	for _, d := range u.Duplicates {
		lines = append(lines,
			fmt.Sprintf("ERROR: page %d used multiple times:", d.Pgno),
			fmt.Sprintf("ERROR:    previous: %s", d.Previous),
			fmt.Sprintf("ERROR:    current:  %s", d.Current))
	}
	for _, d := range u.Errors {
		lines = append(lines, d.String())
	}
	for _, p := range u.Pages {
		if p.Use == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%5d: %s", p.Pgno, p.Use))
	}
	return lines
}

// String returns Lines joined by newlines.
func (u *Usage) String() string {
	return strings.Join(u.Lines(), "\n") + "\n"
}

type reporter struct {
	src      btree.PageSource
	hdr      *format.Header
	maxDepth int
	u        *Usage
	visited  map[uint32]bool
}

// Report classifies every page of src. Page 1 must carry a database header.
// Corruption found along the way is recorded in the Usage; an error is
// returned only when page 1 cannot be read or its header is invalid.
func Report(src btree.PageSource, opts Options) (*Usage, error) {
	page1, err := src.ReadPage(1)
	if err != nil {
		return nil, errors.Wrap(err, "read page 1")
	}
	hdr, err := format.ParseHeader(page1)
	if err != nil {
		return nil, err
	}

	r := &reporter{
		src:      src,
		hdr:      hdr,
		maxDepth: opts.MaxDepth,
		u: &Usage{
			PageSize:  src.PageSize(),
			Usable:    src.UsableSize(),
			PageCount: src.PageCount(),
		},
	}
	if r.maxDepth <= 0 {
		r.maxDepth = DefaultMaxDepth
	}
	r.u.Pages = make([]Page, r.u.PageCount)
	for i := range r.u.Pages {
		r.u.Pages[i].Pgno = uint32(i + 1)
	}

	r.freelist()
	r.ptrmap()
	r.tree(1, SchemaName)

	schema, err := ReadSchema(src, hdr.TextEncoding, r.maxDepth)
	if err != nil {
		r.fault(1, errors.Wrap(err, "read schema"))
	}
	r.u.Schema = schema
	for _, e := range schema {
		if e.RootPage != 0 {
			r.tree(e.RootPage, e.Name)
		}
	}

	r.orphans()
	return r.u, nil
}

// claim records a use of pgno. A second claim keeps the earlier description
// in Previous and reports a Duplicate.
func (r *reporter) claim(pgno uint32, role Role, owner, use string) *Page {
	p := r.u.Page(pgno)
	if p == nil {
		r.u.OutOfRange = append(r.u.OutOfRange,
			fmt.Sprintf("page %d out of range 1..%d: %s", pgno, r.u.PageCount, use))
		return nil
	}
	if p.Use != "" {
		r.u.Duplicates = append(r.u.Duplicates, Duplicate{Pgno: pgno, Previous: p.Use, Current: use})
		p.Previous = append(p.Previous, p.Use)
		logging.Warn("page used multiple times", "pgno", pgno, "previous", p.Use, "current", use)
	}
	p.Role = role
	p.Owner = owner
	p.Use = use
	return p
}

func (r *reporter) fault(pgno uint32, err error) {
	r.u.Errors = append(r.u.Errors, Diagnostic{Pgno: pgno, Err: err})
	logging.CorruptPage(pgno, err)
}

func (r *reporter) freelist() {
	s := &freelist.Summary{Expected: r.hdr.FreelistCount}
	for e, err := range freelist.Walk(r.src, r.hdr.FirstFreelist) {
		if err != nil {
			r.fault(e.Pgno, err)
		}
		switch {
		case e.Role == freelist.RoleTrunk && e.Decoded:
			s.Trunks++
			r.claim(e.Pgno, RoleFreeTrunk, "", fmt.Sprintf("freelist trunk #%d child of %d", e.Index, e.Parent))
		case e.Role == freelist.RoleLeaf:
			s.Leaves++
			if err == nil {
				r.claim(e.Pgno, RoleFreeLeaf, "", fmt.Sprintf("freelist leaf, child %d of trunk page %d", e.Index, e.Parent))
			}
		}
	}
	if s.Mismatch() {
		r.fault(1, errors.NewPage(1, format.OffsetFreelistCount,
			"header lists %d freelist pages, walk found %d", s.Expected, s.Pages()))
	}
	r.u.Freelist = s
}

func (r *reporter) ptrmap() {
	if r.hdr.LargestRootPage == 0 {
		return
	}
	per := uint32(btree.PtrmapPerPage(r.u.Usable))
	for _, pgno := range btree.PtrmapPages(r.u.Usable, r.u.PageCount) {
		r.claim(pgno, RolePtrmap, "", fmt.Sprintf("PTRMAP page covering %d..%d", pgno+1, pgno+per))
	}
}

func nodeType(kind btree.PageKind) string {
	switch kind {
	case btree.KindInteriorIndex:
		return "interior node of index"
	case btree.KindInteriorTable:
		return "interior node of table"
	case btree.KindLeafIndex:
		return "leaf of index"
	case btree.KindLeafTable:
		return "leaf of table"
	case btree.KindZeroed:
		return "zeroed page"
	}
	return "corrupt node"
}

func rows(n int) string {
	if n == 1 {
		return "1 row"
	}
	return fmt.Sprintf("%d rows", n)
}

func allZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// tree walks the b-tree rooted at root. Each page is descended into at most
// once per tree; a page reached again is recorded as a duplicate.
func (r *reporter) tree(root uint32, name string) {
	r.visited = make(map[uint32]bool)
	r.btree(root, 0, 0, name, 0)
}

// btree describes pgno as part of the tree called name and descends into its
// children. parent is 0 for a root page; idx is the child slot in parent.
func (r *reporter) btree(pgno, parent uint32, idx int, name string, depth int) {
	if depth > r.maxDepth {
		r.fault(parent, errors.NewPage(parent, -1, "b-tree [%s] deeper than %d levels", name, r.maxDepth))
		return
	}
	if pgno == 0 || pgno > r.u.PageCount {
		if parent != 0 {
			r.fault(parent, errors.NewPage(parent, -1, "child %d points to page %d outside 1..%d", idx, pgno, r.u.PageCount))
		} else {
			r.fault(pgno, errors.NewPage(pgno, -1, "root page of [%s] outside 1..%d", name, r.u.PageCount))
		}
		return
	}
	data, err := r.src.ReadPage(pgno)
	if err != nil {
		r.fault(pgno, err)
		return
	}

	kind := btree.Classify(data, pgno)
	if kind == btree.KindZeroed && !allZero(data) {
		kind = btree.KindCorrupt
	}
	var view *btree.PageView
	nCell := 0
	if kind.IsBtree() {
		v, err := btree.DecodePage(data, pgno, r.u.Usable)
		if err != nil {
			r.fault(pgno, err)
		} else {
			view = v
			nCell = int(v.Header.NumCells)
		}
	}

	var use string
	if parent > 0 {
		use = fmt.Sprintf("%s [%s], child %d of page %d, %s", nodeType(kind), name, idx, parent, rows(nCell))
	} else {
		use = fmt.Sprintf("root %s [%s], %s", nodeType(kind), name, rows(nCell))
	}
	if p := r.claim(pgno, RoleBtree, name, use); p != nil {
		p.Kind = kind
	}
	if r.visited[pgno] {
		return
	}
	r.visited[pgno] = true
	if view == nil {
		if kind == btree.KindCorrupt {
			r.fault(pgno, errors.NewPage(pgno, btree.HeaderOffset(pgno), "invalid page type 0x%02x in [%s]", data[btree.HeaderOffset(pgno)], name))
		}
		return
	}
	for _, err := range view.Errors {
		r.fault(pgno, err)
	}

	for _, cv := range view.Cells {
		if cv.Err != nil {
			r.fault(pgno, cv.Err)
			continue
		}
		if kind.IsInterior() {
			r.btree(cv.Cell.LeftChild, pgno, cv.Index, name, depth+1)
		}
		if cv.Cell.HasOverflow() {
			r.overflow(cv.Cell, pgno, name)
		}
	}
	if kind.IsInterior() {
		r.btree(view.Header.RightChild, pgno, len(view.Pointers), name, depth+1)
	}
}

func (r *reporter) overflow(cell *btree.Cell, pgno uint32, name string) {
	cnt := 0
	for ovfl, err := range btree.OverflowChain(r.src, cell.OverflowPage, int(r.u.PageCount)) {
		if err != nil {
			r.fault(pgno, errors.Wrapf(err, "overflow chain of cell %d", cell.Index))
			return
		}
		cnt++
		r.claim(ovfl, RoleOverflow, name, fmt.Sprintf("overflow %d from cell %d of page %d", cnt, cell.Index, pgno))
	}
}

// orphans describes pages nothing else claimed. B-tree pages keep their node
// type so a lost tree can be recognized.
func (r *reporter) orphans() {
	for i := range r.u.Pages {
		p := &r.u.Pages[i]
		if p.Use != "" {
			continue
		}
		data, err := r.src.ReadPage(p.Pgno)
		if err != nil {
			r.fault(p.Pgno, err)
			continue
		}
		p.Role = RoleOrphan
		p.Kind = btree.Classify(data, p.Pgno)
		switch {
		case p.Kind.IsBtree():
			n := 0
			if hdr, err := btree.ParsePageHeader(data, p.Pgno); err == nil {
				n = int(hdr.NumCells)
			}
			p.Use = fmt.Sprintf("orphaned %s, %s", nodeType(p.Kind), rows(n))
		case allZero(data):
			p.Kind = btree.KindZeroed
			p.Use = "orphaned zeroed page"
		default:
			p.Kind = btree.KindCorrupt
			p.Use = "ORPHANED PAGE"
		}
	}
}
