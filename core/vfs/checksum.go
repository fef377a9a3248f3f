package vfs

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/FocuswithJustin/pagekit/core/cksum"
	"github.com/FocuswithJustin/pagekit/core/errors"
	"github.com/FocuswithJustin/pagekit/core/format"
	"github.com/FocuswithJustin/pagekit/internal/logging"
)

// PragmaChecksumVerification is the pragma name that toggles verification.
const PragmaChecksumVerification = "checksum_verification"

// SharedState holds the checksum flags a database handle shares with its WAL
// handle. Callers serialize access to a handle pair.
type SharedState struct {
	ComputeEnabled bool
	VerifyEnabled  bool
	InCheckpoint   bool
}

// ChecksumFile decorates a File, stamping the page trailer on full-page
// writes and verifying it on full-page reads once the database header shows
// 8 reserved bytes per page.
type ChecksumFile struct {
	inner File
	name  string
	state *SharedState
	wal   bool
}

// Option configures a ChecksumFile.
type Option func(*ChecksumFile)

// WithName sets the name used in checksum fault messages.
func WithName(name string) Option {
	return func(c *ChecksumFile) { c.name = name }
}

// WithState uses an existing shared state instead of a fresh one.
func WithState(state *SharedState) Option {
	return func(c *ChecksumFile) { c.state = state }
}

// NewChecksumFile wraps the main database file inner.
func NewChecksumFile(inner File, opts ...Option) *ChecksumFile {
	c := &ChecksumFile{inner: inner, name: nameOf(inner)}
	for _, opt := range opts {
		opt(c)
	}
	if c.state == nil {
		c.state = &SharedState{}
	}
	return c
}

// OpenWAL wraps the write-ahead log belonging to c. Both handles observe the
// same checksum flags and checkpoint state.
func (c *ChecksumFile) OpenWAL(inner File) *ChecksumFile {
	return &ChecksumFile{inner: inner, name: nameOf(inner), state: c.state, wal: true}
}

// State returns the flags shared with the partner handle.
func (c *ChecksumFile) State() *SharedState { return c.state }

// Name returns the file name used in fault messages.
func (c *ChecksumFile) Name() string { return c.name }

// IsWAL reports whether c was opened with OpenWAL.
func (c *ChecksumFile) IsWAL() bool { return c.wal }

// ComputeEnabled reports whether writes stamp checksums.
func (c *ChecksumFile) ComputeEnabled() bool { return c.state.ComputeEnabled }

// Verification reports whether reads verify checksums.
func (c *ChecksumFile) Verification() bool { return c.state.VerifyEnabled }

// SetVerification turns read verification on or off. Verification can only
// be on while checksums are being computed.
func (c *ChecksumFile) SetVerification(enabled bool) {
	c.state.VerifyEnabled = enabled && c.state.ComputeEnabled
}

// BeginCheckpoint suspends stamping and verification while pages move from
// the WAL into the database.
func (c *ChecksumFile) BeginCheckpoint() { c.state.InCheckpoint = true }

// EndCheckpoint resumes stamping and verification.
func (c *ChecksumFile) EndCheckpoint() { c.state.InCheckpoint = false }

// Pragma handles the checksum_verification pragma. With a non-empty arg the
// setting is changed first. It returns the current value as "0" or "1" and
// false for pragmas it does not own.
func (c *ChecksumFile) Pragma(name, arg string) (string, bool) {
	if !strings.EqualFold(name, PragmaChecksumVerification) {
		return "", false
	}
	if arg != "" {
		c.SetVerification(ParseToggle(arg))
	}
	if c.state.VerifyEnabled {
		return "1", true
	}
	return "0", true
}

// ParseToggle interprets a pragma argument: a leading non-zero digit or a
// value starting with "enable", "yes" or "on" is true.
func ParseToggle(arg string) bool {
	if arg == "" {
		return false
	}
	if arg[0] >= '1' && arg[0] <= '9' {
		return true
	}
	lower := strings.ToLower(arg)
	for _, prefix := range []string{"enable", "yes", "on"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// observeHeader enables checksums when a buffer at offset 0 carries a
// database header with exactly 8 reserved bytes. Once enabled, checksums
// stay enabled for the life of the handle pair.
func (c *ChecksumFile) observeHeader(p []byte, off int64) {
	if off != 0 || len(p) < format.HeaderSize {
		return
	}
	if !format.HasMagic(p) {
		return
	}
	if p[format.OffsetReservedSpace] == format.ChecksumReserve && !c.state.ComputeEnabled {
		c.state.ComputeEnabled = true
		c.state.VerifyEnabled = true
		logging.Debug("page checksums enabled", "file", c.name)
	}
}

// ReadAt reads from the wrapped file and verifies full pages.
func (c *ChecksumFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.inner.ReadAt(p, off)
	if err != nil {
		return n, err
	}
	c.observeHeader(p, off)
	if cksum.IsPageSize(len(p)) && c.state.VerifyEnabled && !c.state.InCheckpoint {
		if !cksum.Verify(p) {
			logging.ChecksumFault(c.name, off)
			return n, &errors.ChecksumError{Path: c.name, Offset: off}
		}
	}
	return n, nil
}

// WriteAt stamps the trailer of a full page in p before writing it. The
// caller's buffer is modified in place.
func (c *ChecksumFile) WriteAt(p []byte, off int64) (int, error) {
	c.observeHeader(p, off)
	if cksum.IsPageSize(len(p)) && c.state.ComputeEnabled && !c.state.InCheckpoint {
		cksum.Stamp(p)
	}
	return c.inner.WriteAt(p, off)
}

// Size returns the size of the wrapped file.
func (c *ChecksumFile) Size() (int64, error) { return c.inner.Size() }

// Truncate truncates the wrapped file.
func (c *ChecksumFile) Truncate(size int64) error { return c.inner.Truncate(size) }

// Sync syncs the wrapped file.
func (c *ChecksumFile) Sync() error { return c.inner.Sync() }

// Close closes the wrapped file.
func (c *ChecksumFile) Close() error { return c.inner.Close() }

// Fault describes a page whose trailer does not match its content.
type Fault struct {
	Pgno     uint32
	Offset   int64
	Stored   [cksum.Size]byte
	Computed [cksum.Size]byte
}

// ReadHeader reads and parses the database header of f.
func ReadHeader(f File) (*format.Header, error) {
	buf := make([]byte, format.HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, errors.NewIO("read header", nameOf(f), err)
	}
	return format.ParseHeader(buf)
}

// VerifyAll checks the trailer of every page in f and returns every fault.
// It reads f directly, so pass the undecorated file. pageSize 0 takes the
// page size from the header.
func VerifyAll(ctx context.Context, f File, pageSize int) ([]Fault, error) {
	if pageSize == 0 {
		h, err := ReadHeader(f)
		if err != nil {
			return nil, err
		}
		pageSize = h.GetPageSize()
	}
	if !cksum.IsPageSize(pageSize) {
		return nil, errors.NewValidation("page_size", "must be a power of two of at least 512")
	}

	size, err := f.Size()
	if err != nil {
		return nil, err
	}

	var faults []Fault
	page := make([]byte, pageSize)
	for off := int64(0); off+int64(pageSize) <= size; off += int64(pageSize) {
		if err := ctx.Err(); err != nil {
			return faults, err
		}
		if _, err := f.ReadAt(page, off); err != nil && err != io.EOF {
			return faults, errors.NewIO("read", nameOf(f), err)
		}
		computed := cksum.Compute(page[:pageSize-cksum.Size])
		stored := cksum.Trailer(page)
		if !bytes.Equal(computed[:], stored) {
			fault := Fault{Pgno: uint32(off/int64(pageSize)) + 1, Offset: off, Computed: computed}
			copy(fault.Stored[:], stored)
			faults = append(faults, fault)
			logging.ChecksumFault(nameOf(f), off, "pgno", fault.Pgno)
		}
	}
	return faults, nil
}

// EnableChecksums stamps every page of f. The header must already reserve
// exactly 8 bytes per page; pages are never resized here, so any other
// reserve is reported as ErrReserveSize. It returns the number of pages
// stamped.
func EnableChecksums(f File) (int, error) {
	h, err := ReadHeader(f)
	if err != nil {
		return 0, err
	}
	if h.ReservedSpace != format.ChecksumReserve {
		return 0, errors.Wrapf(errors.ErrReserveSize, "%s reserves %d bytes", nameOf(f), h.ReservedSpace)
	}
	pageSize := h.GetPageSize()
	size, err := f.Size()
	if err != nil {
		return 0, err
	}

	page := make([]byte, pageSize)
	count := 0
	for off := int64(0); off+int64(pageSize) <= size; off += int64(pageSize) {
		if _, err := f.ReadAt(page, off); err != nil && err != io.EOF {
			return count, errors.NewIO("read", nameOf(f), err)
		}
		cksum.Stamp(page)
		if _, err := f.WriteAt(page, off); err != nil {
			return count, errors.NewIO("write", nameOf(f), err)
		}
		count++
	}
	return count, f.Sync()
}
