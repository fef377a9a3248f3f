package pagespec

import (
	"reflect"
	"testing"

	"github.com/FocuswithJustin/pagekit/core/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		arg  string
		want Spec
	}{
		{"7", Spec{Start: 7, End: 7, Cell: AllCells}},
		{"3..9", Spec{Start: 3, End: 9, Cell: AllCells}},
		{"3..end", Spec{Start: 3, End: 3, ToEnd: true, Cell: AllCells}},
		{"2b", Spec{Start: 2, End: 2, Mode: ModeBtree, Cell: AllCells}},
		{"2bc", Spec{Start: 2, End: 2, Mode: ModeBtree, Content: true, Cell: AllCells}},
		{"2bm", Spec{Start: 2, End: 2, Mode: ModeBtree, Map: true, Cell: AllCells}},
		{"2bcm", Spec{Start: 2, End: 2, Mode: ModeBtree, Content: true, Map: true, Cell: AllCells}},
		{"2bd", Spec{Start: 2, End: 2, Mode: ModeBtree, Detail: true, Cell: AllCells}},
		{"2bd12", Spec{Start: 2, End: 2, Mode: ModeBtree, Detail: true, Cell: 12}},
		{"2bcd0", Spec{Start: 2, End: 2, Mode: ModeBtree, Content: true, Detail: true, Cell: 0}},
		{"5t", Spec{Start: 5, End: 5, Mode: ModeTrunk, Cell: AllCells}},
		{"5td", Spec{Start: 5, End: 5, Mode: ModeTrunk, Leaves: true, Cell: AllCells}},
		{"5tdr", Spec{Start: 5, End: 5, Mode: ModeTrunk, Leaves: true, Recursive: true, Cell: AllCells}},
		{"2p", Spec{Start: 2, End: 2, Mode: ModePtrmap, Cell: AllCells}},
		{"4B", Spec{Start: 4, End: 4, Mode: ModeBtree, Cell: AllCells}},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := Parse(tt.arg)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.arg, err)
			}
			if !reflect.DeepEqual(*got, tt.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.arg, *got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, arg := range []string{
		"", "0", "b", "2x", "2bz", "2tc", "2pd", "2b3", "2bdc3", "9..3", "2..", "2..x",
		"4294967296", "1..4294967296", "2bd3x",
	} {
		t.Run(arg, func(t *testing.T) {
			_, err := Parse(arg)
			if err == nil {
				t.Fatalf("Parse(%q) should fail", arg)
			}
			if !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidInput", arg, err)
			}
		})
	}
}

func TestString(t *testing.T) {
	for _, arg := range []string{"7", "3..9", "3..end", "2bcmd", "2bd4", "5tdr", "2p"} {
		s, err := Parse(arg)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", arg, err)
		}
		if got := s.String(); got != arg {
			t.Errorf("String() = %q, want %q", got, arg)
		}
	}
}

func TestPages(t *testing.T) {
	tests := []struct {
		arg   string
		total uint32
		want  []uint32
	}{
		{"2", 10, []uint32{2}},
		{"3..5", 10, []uint32{3, 4, 5}},
		{"8..end", 10, []uint32{8, 9, 10}},
		{"8..20", 10, []uint32{8, 9, 10}},
		{"12", 10, nil},
		{"4294967295", 4294967295, []uint32{4294967295}},
	}
	for _, tt := range tests {
		s, err := Parse(tt.arg)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", tt.arg, err)
		}
		if got := s.Pages(tt.total); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Pages(%q, %d) = %v, want %v", tt.arg, tt.total, got, tt.want)
		}
	}
}
