// Package pager reads and writes whole pages of a database image through a
// vfs.File, keeping recently used pages in an LRU cache. It performs no
// journaling or locking; it is the page source the diagnostic passes walk.
package pager

import (
	"io"
	"os"
	"sync"

	"github.com/FocuswithJustin/pagekit/core/cache"
	"github.com/FocuswithJustin/pagekit/core/errors"
	"github.com/FocuswithJustin/pagekit/core/format"
	"github.com/FocuswithJustin/pagekit/core/vfs"
	"github.com/FocuswithJustin/pagekit/internal/logging"
)

// DefaultCacheSize is the default number of pages kept in memory.
const DefaultCacheSize = 256

// Options controls how a Pager is opened.
type Options struct {
	// ReadOnly opens the file without write access.
	ReadOnly bool

	// PageSize overrides the page size from the header (0 = use header).
	PageSize int

	// CacheSize is the number of cached pages (0 = DefaultCacheSize).
	CacheSize int

	// Checksums wraps the file in a vfs.ChecksumFile.
	Checksums bool

	// Verify leaves checksum verification on once the header enables it.
	// Ignored unless Checksums is set.
	Verify bool
}

// Pager provides page-level access to a database image.
type Pager struct {
	mu       sync.Mutex
	file     vfs.File
	ckfile   *vfs.ChecksumFile
	header   *format.Header
	pageSize int
	usable   int
	nPages   uint32
	readOnly bool
	cache    cache.Cache[uint32, []byte]
}

// Open opens the database file at path.
func Open(path string, opts Options) (*Pager, error) {
	flag := os.O_RDWR
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := vfs.Open(path, flag)
	if err != nil {
		return nil, err
	}
	p, err := New(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

// New creates a Pager over an already open file.
func New(f vfs.File, opts Options) (*Pager, error) {
	p := &Pager{file: f, readOnly: opts.ReadOnly}
	if opts.Checksums {
		p.ckfile = vfs.NewChecksumFile(f)
		p.file = p.ckfile
	}

	size, err := f.Size()
	if err != nil {
		return nil, err
	}

	if size >= format.HeaderSize {
		h, err := vfs.ReadHeader(p.file)
		if err != nil {
			return nil, err
		}
		if format.HasMagic(h.Magic[:]) {
			p.header = h
		}
	}

	switch {
	case opts.PageSize != 0:
		p.pageSize = opts.PageSize
	case p.header != nil:
		p.pageSize = p.header.GetPageSize()
	default:
		p.pageSize = format.DefaultPageSize
	}
	if !format.IsValidPageSize(p.pageSize) {
		return nil, errors.NewValidation("page_size", "must be a power of two between 512 and 65536")
	}

	p.usable = p.pageSize
	if p.header != nil {
		p.usable -= int(p.header.ReservedSpace)
	}
	p.nPages = uint32((size + int64(p.pageSize) - 1) / int64(p.pageSize))

	if p.ckfile != nil && !opts.Verify {
		p.ckfile.SetVerification(false)
	}

	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	p.cache = cache.NewLRUCache[uint32, []byte](cache.Config[uint32, []byte]{
		MaxSize: cacheSize,
		SizeOf:  func(b []byte) int64 { return int64(len(b)) },
	})

	logging.Debug("pager opened", "page_size", p.pageSize, "usable", p.usable, "pages", p.nPages,
		"checksums", p.ckfile != nil && p.ckfile.ComputeEnabled())
	return p, nil
}

// Header returns the parsed database header, or nil if the file has none.
func (p *Pager) Header() *format.Header { return p.header }

// PageSize returns the page size in bytes.
func (p *Pager) PageSize() int { return p.pageSize }

// UsableSize returns the page size minus the reserved bytes.
func (p *Pager) UsableSize() int { return p.usable }

// PageCount returns the number of pages in the file.
func (p *Pager) PageCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nPages
}

// File returns the file pages are read through.
func (p *Pager) File() vfs.File { return p.file }

// Checksums returns the checksum decorator, or nil if not in use.
func (p *Pager) Checksums() *vfs.ChecksumFile { return p.ckfile }

// CacheStats returns page cache statistics.
func (p *Pager) CacheStats() cache.Stats { return p.cache.Stats() }

// ReadPage returns page pgno. A partial last page is zero filled. The
// returned slice is shared with the cache and must not be modified.
func (p *Pager) ReadPage(pgno uint32) ([]byte, error) {
	if pgno == 0 || pgno > p.PageCount() {
		return nil, errors.NewPage(pgno, -1, "page number outside 1..%d", p.PageCount())
	}
	if data, ok := p.cache.Get(pgno); ok {
		return data, nil
	}

	data := make([]byte, p.pageSize)
	off := int64(pgno-1) * int64(p.pageSize)
	if _, err := p.file.ReadAt(data, off); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "read page %d", pgno)
	}
	p.cache.Put(pgno, data)
	return data, nil
}

// WritePage writes a full page. With checksums in use the trailer of data is
// stamped in place.
func (p *Pager) WritePage(pgno uint32, data []byte) error {
	if p.readOnly {
		return errors.NewIO("write", "", os.ErrPermission)
	}
	if pgno == 0 || len(data) != p.pageSize {
		return errors.NewValidation("page", "page number must be positive and data a full page")
	}

	off := int64(pgno-1) * int64(p.pageSize)
	if _, err := p.file.WriteAt(data, off); err != nil {
		return errors.Wrapf(err, "write page %d", pgno)
	}
	p.cache.Put(pgno, append([]byte(nil), data...))

	p.mu.Lock()
	if pgno > p.nPages {
		p.nPages = pgno
	}
	p.mu.Unlock()
	return nil
}

// Truncate shrinks or grows the file to n pages.
func (p *Pager) Truncate(n uint32) error {
	if p.readOnly {
		return errors.NewIO("truncate", "", os.ErrPermission)
	}
	if err := p.file.Truncate(int64(n) * int64(p.pageSize)); err != nil {
		return err
	}
	p.cache.Clear()
	p.mu.Lock()
	p.nPages = n
	p.mu.Unlock()
	return nil
}

// Sync flushes the file.
func (p *Pager) Sync() error { return p.file.Sync() }

// Close closes the underlying file.
func (p *Pager) Close() error {
	p.cache.Clear()
	return p.file.Close()
}
