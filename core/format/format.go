// Package format defines the SQLite database file header and the constants
// shared by the page decoders.
//
// Every database file begins with a 100-byte header. The header records the
// page size, the number of reserved bytes at the end of each page (8 when
// page checksums are in use), the freelist root and count, and the largest
// root page used by auto-vacuum databases (non-zero means PTRMAP pages exist).
package format

import (
	"encoding/binary"
	"fmt"
)

// File format constants
const (
	// HeaderSize is the database header size in bytes (first 100 bytes of the database file).
	HeaderSize = 100

	// MagicString is the magic header string for SQLite 3 database files.
	// Must be exactly 16 bytes including the null terminator.
	MagicString = "SQLite format 3\000"

	// ZipvfsPrefix marks a header rewritten by the ZIPVFS extension.
	ZipvfsPrefix = "ZV-"

	// DefaultPageSize is the default page size for new databases (4096 bytes).
	DefaultPageSize = 4096

	// MinPageSize is the minimum allowed page size (512 bytes).
	MinPageSize = 512

	// MaxPageSize is the maximum allowed page size (65536 bytes).
	MaxPageSize = 65536

	// ChecksumReserve is the reserve-bytes value that enables page checksums.
	ChecksumReserve = 8
)

// Header offsets - byte positions in the 100-byte database header
const (
	OffsetMagic             = 0
	OffsetPageSize          = 16 // 2 bytes big-endian, 1 (or 0) means 65536
	OffsetWriteVersion      = 18
	OffsetReadVersion       = 19
	OffsetReservedSpace     = 20
	OffsetMaxPayloadFrac    = 21
	OffsetMinPayloadFrac    = 22
	OffsetLeafPayloadFrac   = 23
	OffsetFileChangeCounter = 24
	OffsetDatabaseSize      = 28
	OffsetFirstFreelist     = 32
	OffsetFreelistCount     = 36
	OffsetSchemaCookie      = 40
	OffsetSchemaFormat      = 44
	OffsetDefaultCacheSize  = 48
	OffsetLargestRootPage   = 52
	OffsetTextEncoding      = 56
	OffsetUserVersion       = 60
	OffsetIncrVacuum        = 64
	OffsetAppID             = 68
	OffsetReserved          = 72
	OffsetVersionValidFor   = 92
	OffsetSQLiteVersion     = 96
)

// Text encodings - values for the OffsetTextEncoding field
const (
	// EncodingUTF8 indicates UTF-8 text encoding.
	EncodingUTF8 = 1

	// EncodingUTF16LE indicates UTF-16 little-endian text encoding.
	EncodingUTF16LE = 2

	// EncodingUTF16BE indicates UTF-16 big-endian text encoding.
	EncodingUTF16BE = 3
)

// Header represents the 100-byte header at the beginning of every database file.
type Header struct {
	Magic             [16]byte
	PageSize          uint16 // raw field; use GetPageSize
	WriteVersion      uint8
	ReadVersion       uint8
	ReservedSpace     uint8
	MaxPayloadFrac    uint8
	MinPayloadFrac    uint8
	LeafPayloadFrac   uint8
	FileChangeCounter uint32
	DatabaseSize      uint32
	FirstFreelist     uint32
	FreelistCount     uint32
	SchemaCookie      uint32
	SchemaFormat      uint32
	DefaultCacheSize  uint32
	LargestRootPage   uint32
	TextEncoding      uint32
	UserVersion       uint32
	IncrVacuum        uint32
	AppID             uint32
	Reserved          [20]byte
	VersionValidFor   uint32
	SQLiteVersion     uint32
}

// HasMagic reports whether data starts with a database header signature. This
// is the test the checksum layer uses to spot header reads and writes.
func HasMagic(data []byte) bool {
	if len(data) >= len(MagicString) && string(data[:len(MagicString)]) == MagicString {
		return true
	}
	return len(data) >= len(ZipvfsPrefix) && string(data[:len(ZipvfsPrefix)]) == ZipvfsPrefix
}

// Parse decodes the header from the first 100 bytes of data. Parse does not
// validate field values; call Validate for that.
func (h *Header) Parse(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("header too short: got %d bytes, want %d", len(data), HeaderSize)
	}

	copy(h.Magic[:], data[OffsetMagic:OffsetMagic+16])
	h.PageSize = binary.BigEndian.Uint16(data[OffsetPageSize:])
	h.WriteVersion = data[OffsetWriteVersion]
	h.ReadVersion = data[OffsetReadVersion]
	h.ReservedSpace = data[OffsetReservedSpace]
	h.MaxPayloadFrac = data[OffsetMaxPayloadFrac]
	h.MinPayloadFrac = data[OffsetMinPayloadFrac]
	h.LeafPayloadFrac = data[OffsetLeafPayloadFrac]

	h.FileChangeCounter = binary.BigEndian.Uint32(data[OffsetFileChangeCounter:])
	h.DatabaseSize = binary.BigEndian.Uint32(data[OffsetDatabaseSize:])
	h.FirstFreelist = binary.BigEndian.Uint32(data[OffsetFirstFreelist:])
	h.FreelistCount = binary.BigEndian.Uint32(data[OffsetFreelistCount:])
	h.SchemaCookie = binary.BigEndian.Uint32(data[OffsetSchemaCookie:])
	h.SchemaFormat = binary.BigEndian.Uint32(data[OffsetSchemaFormat:])
	h.DefaultCacheSize = binary.BigEndian.Uint32(data[OffsetDefaultCacheSize:])
	h.LargestRootPage = binary.BigEndian.Uint32(data[OffsetLargestRootPage:])
	h.TextEncoding = binary.BigEndian.Uint32(data[OffsetTextEncoding:])
	h.UserVersion = binary.BigEndian.Uint32(data[OffsetUserVersion:])
	h.IncrVacuum = binary.BigEndian.Uint32(data[OffsetIncrVacuum:])
	h.AppID = binary.BigEndian.Uint32(data[OffsetAppID:])
	copy(h.Reserved[:], data[OffsetReserved:OffsetReserved+20])
	h.VersionValidFor = binary.BigEndian.Uint32(data[OffsetVersionValidFor:])
	h.SQLiteVersion = binary.BigEndian.Uint32(data[OffsetSQLiteVersion:])

	return nil
}

// ParseHeader is a convenience wrapper around Header.Parse.
func ParseHeader(data []byte) (*Header, error) {
	h := &Header{}
	if err := h.Parse(data); err != nil {
		return nil, err
	}
	return h, nil
}

// Serialize encodes the header to 100 bytes.
func (h *Header) Serialize() []byte {
	data := make([]byte, HeaderSize)

	copy(data[OffsetMagic:], h.Magic[:])
	binary.BigEndian.PutUint16(data[OffsetPageSize:], h.PageSize)
	data[OffsetWriteVersion] = h.WriteVersion
	data[OffsetReadVersion] = h.ReadVersion
	data[OffsetReservedSpace] = h.ReservedSpace
	data[OffsetMaxPayloadFrac] = h.MaxPayloadFrac
	data[OffsetMinPayloadFrac] = h.MinPayloadFrac
	data[OffsetLeafPayloadFrac] = h.LeafPayloadFrac

	binary.BigEndian.PutUint32(data[OffsetFileChangeCounter:], h.FileChangeCounter)
	binary.BigEndian.PutUint32(data[OffsetDatabaseSize:], h.DatabaseSize)
	binary.BigEndian.PutUint32(data[OffsetFirstFreelist:], h.FirstFreelist)
	binary.BigEndian.PutUint32(data[OffsetFreelistCount:], h.FreelistCount)
	binary.BigEndian.PutUint32(data[OffsetSchemaCookie:], h.SchemaCookie)
	binary.BigEndian.PutUint32(data[OffsetSchemaFormat:], h.SchemaFormat)
	binary.BigEndian.PutUint32(data[OffsetDefaultCacheSize:], h.DefaultCacheSize)
	binary.BigEndian.PutUint32(data[OffsetLargestRootPage:], h.LargestRootPage)
	binary.BigEndian.PutUint32(data[OffsetTextEncoding:], h.TextEncoding)
	binary.BigEndian.PutUint32(data[OffsetUserVersion:], h.UserVersion)
	binary.BigEndian.PutUint32(data[OffsetIncrVacuum:], h.IncrVacuum)
	binary.BigEndian.PutUint32(data[OffsetAppID:], h.AppID)
	copy(data[OffsetReserved:], h.Reserved[:])
	binary.BigEndian.PutUint32(data[OffsetVersionValidFor:], h.VersionValidFor)
	binary.BigEndian.PutUint32(data[OffsetSQLiteVersion:], h.SQLiteVersion)

	return data
}

// NewHeader creates a header with default values for the given page size and
// reserve bytes.
func NewHeader(pageSize int, reserve uint8) *Header {
	h := &Header{
		PageSize:        EncodePageSize(pageSize),
		WriteVersion:    1,
		ReadVersion:     1,
		ReservedSpace:   reserve,
		MaxPayloadFrac:  64,
		MinPayloadFrac:  32,
		LeafPayloadFrac: 32,
		SchemaFormat:    4,
		TextEncoding:    EncodingUTF8,
		SQLiteVersion:   3051002,
	}
	copy(h.Magic[:], MagicString)
	return h
}

// GetPageSize returns the actual page size. The raw values 1 and 0 both
// decode to 65536.
func (h *Header) GetPageSize() int {
	return DecodePageSize(h.PageSize)
}

// UsableSize returns the page size minus the reserved bytes.
func (h *Header) UsableSize() int {
	return h.GetPageSize() - int(h.ReservedSpace)
}

// HasChecksums reports whether the reserve field enables page checksums.
func (h *Header) HasChecksums() bool {
	return h.ReservedSpace == ChecksumReserve
}

// DecodePageSize converts the raw 16-bit header field to a byte count.
func DecodePageSize(raw uint16) int {
	if raw <= 1 {
		return MaxPageSize
	}
	return int(raw)
}

// EncodePageSize converts a byte count to the raw header field.
func EncodePageSize(size int) uint16 {
	if size >= MaxPageSize {
		return 1
	}
	return uint16(size)
}

// Validate performs validation checks on the header.
func (h *Header) Validate() error {
	if string(h.Magic[:]) != MagicString {
		return fmt.Errorf("invalid magic header")
	}

	pageSize := h.GetPageSize()
	if !IsValidPageSize(pageSize) {
		return fmt.Errorf("invalid page size: %d", pageSize)
	}
	if h.UsableSize() < 480 {
		return fmt.Errorf("usable size %d below minimum 480", h.UsableSize())
	}

	if h.WriteVersion != 1 && h.WriteVersion != 2 {
		return fmt.Errorf("invalid write version: %d", h.WriteVersion)
	}
	if h.ReadVersion != 1 && h.ReadVersion != 2 {
		return fmt.Errorf("invalid read version: %d", h.ReadVersion)
	}

	if h.MaxPayloadFrac != 64 {
		return fmt.Errorf("invalid max payload fraction: %d", h.MaxPayloadFrac)
	}
	if h.MinPayloadFrac != 32 {
		return fmt.Errorf("invalid min payload fraction: %d", h.MinPayloadFrac)
	}
	if h.LeafPayloadFrac != 32 {
		return fmt.Errorf("invalid leaf payload fraction: %d", h.LeafPayloadFrac)
	}

	if h.TextEncoding != 0 && (h.TextEncoding < EncodingUTF8 || h.TextEncoding > EncodingUTF16BE) {
		return fmt.Errorf("invalid text encoding: %d", h.TextEncoding)
	}

	return nil
}

// IsValidPageSize checks if a page size is valid.
// Valid page sizes are powers of 2 between 512 and 65536 inclusive.
func IsValidPageSize(size int) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}

// Field is one named header field, used for header dumps.
type Field struct {
	Offset int
	Size   int
	Name   string
	Value  uint64
}

// Fields lists the header fields in file order, the way showdb's header dump
// prints them.
func (h *Header) Fields() []Field {
	return []Field{
		{OffsetPageSize, 2, "Database page size", uint64(h.GetPageSize())},
		{OffsetWriteVersion, 1, "File format write version", uint64(h.WriteVersion)},
		{OffsetReadVersion, 1, "File format read version", uint64(h.ReadVersion)},
		{OffsetReservedSpace, 1, "Reserved space at end of page", uint64(h.ReservedSpace)},
		{OffsetFileChangeCounter, 4, "File change counter", uint64(h.FileChangeCounter)},
		{OffsetDatabaseSize, 4, "Size of database in pages", uint64(h.DatabaseSize)},
		{OffsetFirstFreelist, 4, "Page number of first freelist page", uint64(h.FirstFreelist)},
		{OffsetFreelistCount, 4, "Number of freelist pages", uint64(h.FreelistCount)},
		{OffsetSchemaCookie, 4, "Schema cookie", uint64(h.SchemaCookie)},
		{OffsetSchemaFormat, 4, "Schema format version", uint64(h.SchemaFormat)},
		{OffsetDefaultCacheSize, 4, "Default page cache size", uint64(h.DefaultCacheSize)},
		{OffsetLargestRootPage, 4, "Largest auto-vac root page", uint64(h.LargestRootPage)},
		{OffsetTextEncoding, 4, "Text encoding", uint64(h.TextEncoding)},
		{OffsetUserVersion, 4, "User version", uint64(h.UserVersion)},
		{OffsetIncrVacuum, 4, "Incremental-vacuum mode", uint64(h.IncrVacuum)},
		{OffsetAppID, 4, "Application ID", uint64(h.AppID)},
		{OffsetVersionValidFor, 4, "Version-valid-for number", uint64(h.VersionValidFor)},
		{OffsetSQLiteVersion, 4, "SQLite version number", uint64(h.SQLiteVersion)},
	}
}
