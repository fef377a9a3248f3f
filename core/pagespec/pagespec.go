// Package pagespec parses the page arguments accepted by the show command:
//
//	N        raw dump of page N
//	N..M     raw dump of pages N through M
//	N..end   raw dump of page N through the last page
//	Nb       decode b-tree page N; flags c (cell content), m (byte map),
//	         d (decode every cell) or dK (decode cell K)
//	Nt       decode freelist trunk page N; flags d (list leaves),
//	         r (follow the trunk chain)
//	Np       decode pointer map page N
package pagespec

import (
	"fmt"
	"math"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/FocuswithJustin/pagekit/core/errors"
)

// Mode is what to do with the selected pages.
type Mode int

const (
	ModeRaw Mode = iota
	ModeBtree
	ModeTrunk
	ModePtrmap
)

func (m Mode) String() string {
	switch m {
	case ModeBtree:
		return "btree"
	case ModeTrunk:
		return "trunk"
	case ModePtrmap:
		return "ptrmap"
	}
	return "raw"
}

// AllCells is the Cell value that selects every cell for detailed decoding.
const AllCells = -1

// Spec is a parsed page argument.
type Spec struct {
	Start uint32
	End   uint32 // Last page of a range; equal to Start for a single page
	ToEnd bool   // Range runs to the last page of the file
	Mode  Mode

	Content   bool // b-tree: print the record in each cell
	Map       bool // b-tree: print the byte map
	Detail    bool // b-tree: decode cells field by field
	Cell      int  // b-tree: cell to decode, or AllCells
	Recursive bool // trunk: follow Next
	Leaves    bool // trunk: list leaf page numbers
}

// specGrammar is the participle grammar for a page argument.
//
//nolint:govet // participle grammar tags are not standard struct tags
type specGrammar struct {
	Start  int64          `@Number`
	Range  *rangeGrammar  `( @@`
	Suffix *suffixGrammar `| @@ )?`
}

//nolint:govet // participle grammar tags are not standard struct tags
type rangeGrammar struct {
	End   *int64 `".." ( @Number`
	ToEnd bool   `     | @"end" )`
}

//nolint:govet // participle grammar tags are not standard struct tags
type suffixGrammar struct {
	Letters string `@Ident`
	Cell    *int   `@Number?`
}

var specLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Number", Pattern: `\d+`},
	{Name: "Dots", Pattern: `\.\.`},
	{Name: "Ident", Pattern: `[A-Za-z]+`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var specParser = participle.MustBuild[specGrammar](
	participle.Lexer(specLexer),
	participle.Elide("Whitespace"),
)

// Parse parses one page argument.
func Parse(arg string) (*Spec, error) {
	g, err := specParser.ParseString("", arg)
	if err != nil {
		return nil, errors.NewValidation("page", fmt.Sprintf("cannot parse %q: %v", arg, err))
	}
	if g.Start < 1 || g.Start > math.MaxUint32 {
		return nil, errors.NewValidation("page", fmt.Sprintf("page number %d out of range in %q", g.Start, arg))
	}
	s := &Spec{Start: uint32(g.Start), End: uint32(g.Start), Cell: AllCells}

	switch {
	case g.Range != nil:
		if g.Range.ToEnd {
			s.ToEnd = true
			break
		}
		end := *g.Range.End
		if end < g.Start || end > math.MaxUint32 {
			return nil, errors.NewValidation("page", fmt.Sprintf("bad range end %d in %q", end, arg))
		}
		s.End = uint32(end)
	case g.Suffix != nil:
		if err := s.applySuffix(strings.ToLower(g.Suffix.Letters), g.Suffix.Cell); err != nil {
			return nil, errors.NewValidation("page", fmt.Sprintf("%v in %q", err, arg))
		}
	}
	return s, nil
}

func (s *Spec) applySuffix(letters string, cell *int) error {
	switch letters[0] {
	case 'b':
		s.Mode = ModeBtree
	case 't':
		s.Mode = ModeTrunk
	case 'p':
		s.Mode = ModePtrmap
	default:
		return fmt.Errorf("unknown page mode %q", letters[:1])
	}

	for _, c := range letters[1:] {
		switch {
		case s.Mode == ModeBtree && c == 'c':
			s.Content = true
		case s.Mode == ModeBtree && c == 'm':
			s.Map = true
		case s.Mode == ModeBtree && c == 'd':
			s.Detail = true
		case s.Mode == ModeTrunk && c == 'd':
			s.Leaves = true
		case s.Mode == ModeTrunk && c == 'r':
			s.Recursive = true
		default:
			return fmt.Errorf("flag %q not valid for %s pages", c, s.Mode)
		}
	}

	if cell != nil {
		if s.Mode != ModeBtree || !strings.HasSuffix(letters, "d") {
			return fmt.Errorf("cell number must follow the d flag of a b-tree page")
		}
		s.Cell = *cell
	}
	return nil
}

// Pages returns the page numbers the spec selects in a file of total pages.
// Pages past the end of the file are dropped.
func (s *Spec) Pages(total uint32) []uint32 {
	end := s.End
	if s.ToEnd {
		end = total
	}
	end = min(end, total)
	var pages []uint32
	for p := s.Start; p <= end && p != 0; p++ {
		pages = append(pages, p)
		if p == end {
			break
		}
	}
	return pages
}

// String returns the canonical form of the spec.
func (s *Spec) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", s.Start)
	switch s.Mode {
	case ModeRaw:
		if s.ToEnd {
			b.WriteString("..end")
		} else if s.End != s.Start {
			fmt.Fprintf(&b, "..%d", s.End)
		}
	case ModeBtree:
		b.WriteByte('b')
		if s.Content {
			b.WriteByte('c')
		}
		if s.Map {
			b.WriteByte('m')
		}
		if s.Detail {
			b.WriteByte('d')
			if s.Cell != AllCells {
				fmt.Fprintf(&b, "%d", s.Cell)
			}
		}
	case ModeTrunk:
		b.WriteByte('t')
		if s.Leaves {
			b.WriteByte('d')
		}
		if s.Recursive {
			b.WriteByte('r')
		}
	case ModePtrmap:
		b.WriteByte('p')
	}
	return b.String()
}
