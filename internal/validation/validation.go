// Package validation checks user-supplied paths, archive entry names and
// file contents before they reach the page decoders.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode"

	"github.com/FocuswithJustin/pagekit/core/format"
)

// Limits on user input.
const (
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
	// MaxEntryLength is the maximum allowed archive entry name length.
	MaxEntryLength = 255
)

// Common validation errors.
var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrPathTooLong      = errors.New("path too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrNotDatabase      = errors.New("not a database file")
)

// ValidatePath rejects empty paths, overlong paths, and paths holding NUL
// or control characters.
func ValidatePath(p string) error {
	if p == "" {
		return ErrEmptyPath
	}
	if len(p) > MaxPathLength {
		return ErrPathTooLong
	}
	for _, r := range p {
		if r == 0 {
			return fmt.Errorf("%w: null byte not allowed", ErrInvalidCharacter)
		}
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}
	return nil
}

// CleanEntryName validates a slash-separated archive entry name and returns
// it cleaned. Absolute names and names that climb out of the archive root
// are rejected.
func CleanEntryName(name string) (string, error) {
	if err := ValidatePath(name); err != nil {
		return "", err
	}
	if len(name) > MaxEntryLength {
		return "", ErrPathTooLong
	}
	if strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: backslash in %q", ErrInvalidCharacter, name)
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: absolute entry %q", ErrPathTraversal, name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	return clean, nil
}

// FileType is a content type recognised by its leading bytes.
type FileType string

const (
	FileTypeSQLite  FileType = "sqlite"
	FileTypeZipvfs  FileType = "zipvfs"
	FileTypeXZ      FileType = "xz"
	FileTypeGzip    FileType = "gzip"
	FileTypeTar     FileType = "tar"
	FileTypeUnknown FileType = "unknown"
)

var magicBytes = []struct {
	fileType FileType
	magic    []byte
	offset   int
}{
	{FileTypeSQLite, []byte(format.MagicString), 0},
	{FileTypeZipvfs, []byte(format.ZipvfsPrefix), 0},
	{FileTypeXZ, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}, 0},
	{FileTypeGzip, []byte{0x1f, 0x8b}, 0},
	{FileTypeTar, []byte("ustar"), 257},
}

// DetectFileType reads up to 512 bytes from r and identifies the content.
func DetectFileType(r io.Reader) (FileType, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return FileTypeUnknown, err
	}
	buf = buf[:n]
	for _, m := range magicBytes {
		end := m.offset + len(m.magic)
		if len(buf) >= end && bytes.Equal(buf[m.offset:end], m.magic) {
			return m.fileType, nil
		}
	}
	return FileTypeUnknown, nil
}

// RequireDatabase returns ErrNotDatabase unless r starts with a database
// header. An empty reader is accepted as a new database.
func RequireDatabase(r io.Reader) error {
	buf := make([]byte, len(format.MagicString))
	n, err := io.ReadFull(r, buf)
	if n == 0 && (err == io.EOF || err == nil) {
		return nil
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return err
	}
	switch ft, _ := DetectFileType(bytes.NewReader(buf[:n])); ft {
	case FileTypeSQLite, FileTypeZipvfs:
		return nil
	}
	return ErrNotDatabase
}
