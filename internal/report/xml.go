package report

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/FocuswithJustin/pagekit/core/pageusage"
	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

type xmlUsage struct {
	XMLName    xml.Name    `xml:"usage"`
	PageSize   int         `xml:"page_size,attr"`
	Usable     int         `xml:"usable,attr"`
	PageCount  uint32      `xml:"page_count,attr"`
	Objects    []xmlObject `xml:"object"`
	Freelist   *xmlFree    `xml:"freelist,omitempty"`
	Pages      []xmlPage   `xml:"page"`
	Duplicates []xmlDup    `xml:"duplicate"`
	OutOfRange []string    `xml:"out_of_range"`
	Errors     []xmlError  `xml:"error"`
}

type xmlObject struct {
	Type     string `xml:"type,attr"`
	Name     string `xml:"name,attr"`
	Table    string `xml:"table,attr"`
	RootPage uint32 `xml:"rootpage,attr"`
}

type xmlFree struct {
	Trunks   int    `xml:"trunks,attr"`
	Leaves   int    `xml:"leaves,attr"`
	Expected uint32 `xml:"expected,attr"`
}

type xmlPage struct {
	Pgno  uint32 `xml:"pgno,attr"`
	Role  string `xml:"role,attr"`
	Kind  string `xml:"kind,attr,omitempty"`
	Owner string `xml:"owner,attr,omitempty"`
	Use   string `xml:",chardata"`
}

type xmlDup struct {
	Pgno     uint32 `xml:"pgno,attr"`
	Previous string `xml:"previous"`
	Current  string `xml:"current"`
}

type xmlError struct {
	Pgno    uint32 `xml:"pgno,attr"`
	Message string `xml:",chardata"`
}

// MarshalUsage encodes a usage report as an indented XML document rooted
// at <usage>. Unused pages are omitted.
func MarshalUsage(u *pageusage.Usage) ([]byte, error) {
	doc := xmlUsage{
		PageSize:   u.PageSize,
		Usable:     u.Usable,
		PageCount:  u.PageCount,
		OutOfRange: u.OutOfRange,
	}
	for _, e := range u.Schema {
		doc.Objects = append(doc.Objects, xmlObject{Type: e.Type, Name: e.Name, Table: e.TblName, RootPage: e.RootPage})
	}
	if s := u.Freelist; s != nil {
		doc.Freelist = &xmlFree{Trunks: s.Trunks, Leaves: s.Leaves, Expected: s.Expected}
	}
	for _, p := range u.Pages {
		if p.Role == pageusage.RoleUnused {
			continue
		}
		xp := xmlPage{Pgno: p.Pgno, Role: p.Role.String(), Owner: p.Owner, Use: p.Use}
		if p.Role == pageusage.RoleBtree || p.Role == pageusage.RoleOrphan {
			xp.Kind = p.Kind.String()
		}
		doc.Pages = append(doc.Pages, xp)
	}
	for _, d := range u.Duplicates {
		doc.Duplicates = append(doc.Duplicates, xmlDup{Pgno: d.Pgno, Previous: d.Previous, Current: d.Current})
	}
	for _, d := range u.Errors {
		doc.Errors = append(doc.Errors, xmlError{Pgno: d.Pgno, Message: d.Err.Error()})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding usage: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Document is a parsed XML report that can be queried with XPath.
type Document struct {
	root *xmlquery.Node
}

// Node is an element or attribute selected from a Document.
type Node struct {
	node *xmlquery.Node
}

// Parse parses XML data and returns a Document.
func Parse(data []byte) (*Document, error) {
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing XML: %w", err)
	}
	return &Document{root: root}, nil
}

// XPath returns every node matching expr.
func (d *Document) XPath(expr string) ([]*Node, error) {
	if _, err := xpath.Compile(expr); err != nil {
		return nil, fmt.Errorf("invalid XPath expression: %w", err)
	}
	found, err := xmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil, fmt.Errorf("XPath query failed: %w", err)
	}
	nodes := make([]*Node, len(found))
	for i, n := range found {
		nodes[i] = &Node{node: n}
	}
	return nodes, nil
}

// XPathFirst returns the first node matching expr, or nil.
func (d *Document) XPathFirst(expr string) (*Node, error) {
	if _, err := xpath.Compile(expr); err != nil {
		return nil, fmt.Errorf("invalid XPath expression: %w", err)
	}
	n, err := xmlquery.Query(d.root, expr)
	if err != nil {
		return nil, fmt.Errorf("XPath query failed: %w", err)
	}
	if n == nil {
		return nil, nil
	}
	return &Node{node: n}, nil
}

// Evaluate runs an XPath expression that yields a scalar, such as
// count(//page[@role='overflow']), and returns its value. Node-set results
// are returned as the text of the first node.
func (d *Document) Evaluate(expr string) (any, error) {
	e, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid XPath expression: %w", err)
	}
	v := e.Evaluate(xmlquery.CreateXPathNavigator(d.root))
	if it, ok := v.(*xpath.NodeIterator); ok {
		if !it.MoveNext() {
			return "", nil
		}
		return it.Current().Value(), nil
	}
	return v, nil
}

// Name returns the local name of the node.
func (n *Node) Name() string {
	return n.node.Data
}

// Text returns the text content of the node.
func (n *Node) Text() string {
	return n.node.InnerText()
}

// Attr returns the value of the named attribute, or "".
func (n *Node) Attr(name string) string {
	return n.node.SelectAttr(name)
}

// OutputXML returns the node serialized as XML.
func (n *Node) OutputXML() string {
	return n.node.OutputXML(true)
}
