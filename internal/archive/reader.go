// Package archive reads and writes the compressed tar archives used for page
// diff bundles. It supports tar.xz, tar.gz and plain tar.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"
)

// Reader streams the entries of a bundle archive.
type Reader struct {
	*tar.Reader
	file *os.File
	gz   *gzip.Reader
}

// NewReader opens the bundle at path. The compression is chosen from the
// file extension.
func NewReader(path string) (*Reader, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported bundle format: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}

	r := &Reader{file: f}
	var src io.Reader = f
	switch format {
	case FormatXZ:
		if src, err = xz.NewReader(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("bundle %s: xz: %w", path, err)
		}
	case FormatGzip:
		if r.gz, err = gzip.NewReader(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("bundle %s: gzip: %w", path, err)
		}
		src = r.gz
	}
	r.Reader = tar.NewReader(src)
	return r, nil
}

// Close releases the decompressor and the bundle file.
func (r *Reader) Close() error {
	var gzErr error
	if r.gz != nil {
		gzErr = r.gz.Close()
	}
	return errors.Join(gzErr, r.file.Close())
}

// Visitor receives one bundle entry. Returning stop ends the walk early.
type Visitor func(header *tar.Header, content io.Reader) (stop bool, err error)

// Iterate hands each remaining entry to visit, in archive order.
func (r *Reader) Iterate(visit Visitor) error {
	for {
		h, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("bundle entry: %w", err)
		}
		if stop, err := visit(h, r); err != nil || stop {
			return err
		}
	}
}

// IterateFile opens the bundle at path and walks its entries.
func IterateFile(path string, visit Visitor) error {
	r, err := NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Iterate(visit)
}

// ReadFile returns the content of the entry called name, matched either with
// or without the bundle's top directory.
func ReadFile(path, name string) ([]byte, error) {
	var content []byte
	found := false
	err := IterateFile(path, func(h *tar.Header, r io.Reader) (bool, error) {
		if h.Name != name && EntryName(h.Name) != name {
			return false, nil
		}
		found = true
		var err error
		content, err = io.ReadAll(r)
		return true, err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s: no entry %q", path, name)
	}
	return content, nil
}

// EntryName drops the top directory every bundle entry is written under.
func EntryName(name string) string {
	_, rest, ok := strings.Cut(name, "/")
	if !ok {
		return name
	}
	return rest
}
