// Package vfs provides the paged-file abstraction the page tools read and
// write through, and the checksum decorator that stamps and verifies the
// 8-byte page trailer.
package vfs

import (
	"io"
	"os"
	"sync"

	"github.com/FocuswithJustin/pagekit/core/errors"
)

// File is a random-access byte store. Implementations decorate one another.
type File interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

// Named is implemented by files that know their path.
type Named interface {
	Name() string
}

// OSFile is a File backed by an operating system file.
type OSFile struct {
	f *os.File
}

// Open opens path with the given flags. Use os.O_RDONLY for read-only access.
func Open(path string, flag int) (*OSFile, error) {
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	return &OSFile{f: f}, nil
}

// Name returns the file path.
func (o *OSFile) Name() string { return o.f.Name() }

// ReadAt implements io.ReaderAt.
func (o *OSFile) ReadAt(p []byte, off int64) (int, error) { return o.f.ReadAt(p, off) }

// WriteAt implements io.WriterAt.
func (o *OSFile) WriteAt(p []byte, off int64) (int, error) { return o.f.WriteAt(p, off) }

// Size returns the current file size.
func (o *OSFile) Size() (int64, error) {
	info, err := o.f.Stat()
	if err != nil {
		return 0, errors.NewIO("stat", o.f.Name(), err)
	}
	return info.Size(), nil
}

// Truncate changes the file size.
func (o *OSFile) Truncate(size int64) error { return o.f.Truncate(size) }

// Sync commits the file contents to stable storage.
func (o *OSFile) Sync() error { return o.f.Sync() }

// Close closes the file.
func (o *OSFile) Close() error { return o.f.Close() }

// MemFile is an in-memory File.
type MemFile struct {
	mu   sync.RWMutex
	name string
	data []byte
}

// NewMemFile returns a MemFile holding a copy of data.
func NewMemFile(name string, data []byte) *MemFile {
	return &MemFile{name: name, data: append([]byte(nil), data...)}
}

// Name returns the name given at creation.
func (m *MemFile) Name() string { return m.name }

// Bytes returns a copy of the file contents.
func (m *MemFile) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}

// ReadAt implements io.ReaderAt. Reads past the end return io.EOF.
func (m *MemFile) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off < 0 {
		return 0, errors.NewValidation("offset", "negative offset")
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt, growing the file as needed.
func (m *MemFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 {
		return 0, errors.NewValidation("offset", "negative offset")
	}
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

// Size returns the file length.
func (m *MemFile) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data)), nil
}

// Truncate changes the file length.
func (m *MemFile) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size < 0 {
		return errors.NewValidation("size", "negative size")
	}
	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.data)
	m.data = grown
	return nil
}

// Sync is a no-op.
func (m *MemFile) Sync() error { return nil }

// Close is a no-op.
func (m *MemFile) Close() error { return nil }

// nameOf returns the path of f if it has one.
func nameOf(f File) string {
	if n, ok := f.(Named); ok {
		return n.Name()
	}
	return ""
}
