package pagediff

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/pagekit/core/errors"
)

const testPageSize = 512

// memStore is an in-memory PageStore.
type memStore struct {
	pages [][]byte
}

func newStore(n int, seed byte) *memStore {
	s := &memStore{}
	for i := 0; i < n; i++ {
		p := bytes.Repeat([]byte{seed + byte(i)}, testPageSize)
		copy(p, fmt.Sprintf("page %d", i+1))
		s.pages = append(s.pages, p)
	}
	return s
}

func (s *memStore) clone() *memStore {
	c := &memStore{}
	for _, p := range s.pages {
		c.pages = append(c.pages, append([]byte(nil), p...))
	}
	return c
}

func (s *memStore) ReadPage(pgno uint32) ([]byte, error) {
	if pgno == 0 || int(pgno) > len(s.pages) {
		return nil, fmt.Errorf("page %d out of range", pgno)
	}
	return s.pages[pgno-1], nil
}

func (s *memStore) WritePage(pgno uint32, data []byte) error {
	for int(pgno) > len(s.pages) {
		s.pages = append(s.pages, make([]byte, testPageSize))
	}
	s.pages[pgno-1] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Truncate(n uint32) error {
	s.pages = s.pages[:n]
	return nil
}

func (s *memStore) PageSize() int     { return testPageSize }
func (s *memStore) UsableSize() int   { return testPageSize }
func (s *memStore) PageCount() uint32 { return uint32(len(s.pages)) }

func equalStores(a, b *memStore) bool {
	if len(a.pages) != len(b.pages) {
		return false
	}
	for i := range a.pages {
		if !bytes.Equal(a.pages[i], b.pages[i]) {
			return false
		}
	}
	return true
}

func TestCreateApply(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(s *memStore)
		changed int
	}{
		{"identical", func(*memStore) {}, 0},
		{"one byte", func(s *memStore) { s.pages[2][100] ^= 0xff }, 1},
		{"two pages", func(s *memStore) {
			copy(s.pages[0][200:], "updated")
			copy(s.pages[4][10:], "changed too")
		}, 2},
		{"grown", func(s *memStore) {
			s.pages = append(s.pages, bytes.Repeat([]byte("new"), testPageSize/3+1)[:testPageSize])
		}, 1},
		{"shrunk", func(s *memStore) { s.pages = s.pages[:3] }, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newStore(6, 'a')
			target := source.clone()
			tt.edit(target)

			d, err := Create(source, target)
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if len(d.Manifest.Changes) != tt.changed {
				t.Errorf("changes = %d, want %d", len(d.Manifest.Changes), tt.changed)
			}
			if d.Manifest.ID == "" || d.Manifest.TargetPages != target.PageCount() {
				t.Errorf("manifest = %+v", d.Manifest)
			}

			dst := source.clone()
			if err := Apply(dst, d, ApplyOptions{VerifyDeltas: true}); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if !equalStores(dst, target) {
				t.Error("applied store differs from target")
			}
		})
	}
}

func TestSmallEditIsSmallDelta(t *testing.T) {
	source := newStore(4, 'a')
	target := source.clone()
	target.pages[1][300] = '!'

	d, err := Create(source, target)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := d.DeltaBytes(); got >= testPageSize/4 {
		t.Errorf("delta for a one byte edit is %d bytes", got)
	}
}

func TestApplyRejectsWrongSource(t *testing.T) {
	source := newStore(4, 'a')
	target := source.clone()
	target.pages[1][0] = 'X'
	d, err := Create(source, target)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	other := newStore(4, 'k')
	err = Apply(other, d, ApplyOptions{})
	if !errors.Is(err, errors.ErrChecksumMismatch) {
		t.Errorf("Apply() to a different image error = %v, want ErrChecksumMismatch", err)
	}
	if !equalStores(other, newStore(4, 'k')) {
		t.Error("rejected Apply() modified the store")
	}
}

func TestApplyRejectsTamperedDelta(t *testing.T) {
	source := newStore(4, 'a')
	target := source.clone()
	copy(target.pages[2][40:], "some new text")
	d, err := Create(source, target)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	d.Manifest.Changes[0].TargetHash = Fingerprint(source.pages[2])

	if err := Apply(source.clone(), d, ApplyOptions{}); !errors.Is(err, errors.ErrChecksumMismatch) {
		t.Errorf("Apply() error = %v, want ErrChecksumMismatch", err)
	}
}

func TestPageSizeMismatch(t *testing.T) {
	a := newStore(1, 'a')
	b := &bigStore{memStore: newStore(1, 'a')}
	if _, err := Create(a, b); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Create() error = %v, want ErrInvalidInput", err)
	}
}

type bigStore struct{ *memStore }

func (b *bigStore) PageSize() int { return 1024 }

func TestBundleRoundTrip(t *testing.T) {
	source := newStore(8, 'a')
	target := source.clone()
	copy(target.pages[3][10:], "bundle")
	target.pages = append(target.pages, bytes.Repeat([]byte{7}, testPageSize))

	d, err := Create(source, target)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for _, ext := range []string{".tar.xz", ".tar.gz"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "main.pagediff"+ext)
			if err := d.WriteBundle(path); err != nil {
				t.Fatalf("WriteBundle() error = %v", err)
			}
			got, err := ReadBundle(path)
			if err != nil {
				t.Fatalf("ReadBundle() error = %v", err)
			}
			if got.Manifest.ID != d.Manifest.ID || len(got.Deltas) != 2 {
				t.Errorf("bundle = %+v with %d deltas", got.Manifest, len(got.Deltas))
			}

			m, err := ReadManifest(path)
			if err != nil {
				t.Fatalf("ReadManifest() error = %v", err)
			}
			if m.ID != d.Manifest.ID || m.DeltaBytes() != d.DeltaBytes() {
				t.Errorf("ReadManifest() = %+v, want delta bytes %d", m, d.DeltaBytes())
			}

			dst := source.clone()
			if err := Apply(dst, got, ApplyOptions{VerifyDeltas: true}); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if !equalStores(dst, target) {
				t.Error("applied store differs from target")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	source := newStore(2, 'a')
	target := source.clone()
	target.pages[1][5] = 0
	d, err := Create(source, target)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	d.Deltas[2] = d.Deltas[2][:len(d.Deltas[2])-1]
	if err := d.Validate(); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Validate() with short delta = %v", err)
	}
	delete(d.Deltas, 2)
	if err := d.Validate(); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Validate() with missing delta = %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("page"))
	if !isValidHash(a) {
		t.Errorf("Fingerprint() = %q is not 64 hex digits", a)
	}
	if a == Fingerprint([]byte("pagf")) {
		t.Error("different pages share a fingerprint")
	}
	if isValidHash("xyz") || isValidHash(a[:63]+"g") {
		t.Error("isValidHash accepted a bad hash")
	}
}
