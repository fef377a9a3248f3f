// Package errors provides the error taxonomy shared by the page, checksum and
// delta packages.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrTruncatedInput indicates a varint or fixed-width field ran past the buffer
	ErrTruncatedInput = errors.New("truncated input")
	// ErrChecksumMismatch indicates a page trailer does not match its content
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrCorruptPage indicates an offset, length or pointer outside page bounds
	ErrCorruptPage = errors.New("corrupt page")
	// ErrCorruptDelta indicates a malformed delta instruction stream
	ErrCorruptDelta = errors.New("corrupt delta")
	// ErrReserveSize indicates the file does not reserve 8 bytes per page
	ErrReserveSize = errors.New("reserve bytes per page is not 8")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
)

// PageError reports corruption found while decoding a single page.
type PageError struct {
	Pgno   uint32 // Page number (0 if unknown)
	Offset int    // Byte offset within the page, -1 if not applicable
	Reason string // Human-readable description
	Err    error  // Underlying error, if any
}

func (e *PageError) Error() string {
	switch {
	case e.Pgno != 0 && e.Offset >= 0:
		return fmt.Sprintf("corrupt page %d at offset %d: %s", e.Pgno, e.Offset, e.Reason)
	case e.Pgno != 0:
		return fmt.Sprintf("corrupt page %d: %s", e.Pgno, e.Reason)
	case e.Offset >= 0:
		return fmt.Sprintf("corrupt page at offset %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("corrupt page: %s", e.Reason)
}

func (e *PageError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrCorruptPage
}

// Is reports every PageError as ErrCorruptPage, including truncations.
func (e *PageError) Is(target error) bool {
	return target == ErrCorruptPage
}

// ChecksumError reports a page whose trailer does not verify.
type ChecksumError struct {
	Path   string // File name, if known
	Offset int64  // Byte offset of the page in the file
}

func (e *ChecksumError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("checksum fault offset %d of %q", e.Offset, e.Path)
	}
	return fmt.Sprintf("checksum fault offset %d", e.Offset)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// DeltaError reports a malformed delta with the offset where parsing stopped.
type DeltaError struct {
	Offset int
	Reason string
}

func (e *DeltaError) Error() string {
	return fmt.Sprintf("corrupt delta at offset %d: %s", e.Offset, e.Reason)
}

func (e *DeltaError) Unwrap() error {
	return ErrCorruptDelta
}

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read", "write", "open")
	Path      string // File/resource path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewPage creates a PageError. Use offset -1 when no offset applies.
func NewPage(pgno uint32, offset int, format string, args ...interface{}) *PageError {
	return &PageError{
		Pgno:   pgno,
		Offset: offset,
		Reason: fmt.Sprintf(format, args...),
	}
}

// NewTruncated creates a PageError that unwraps to ErrTruncatedInput.
func NewTruncated(pgno uint32, offset int, what string) *PageError {
	return &PageError{
		Pgno:   pgno,
		Offset: offset,
		Reason: what + " runs past end of buffer",
		Err:    ErrTruncatedInput,
	}
}

// NewDelta creates a DeltaError
func NewDelta(offset int, reason string) *DeltaError {
	return &DeltaError{Offset: offset, Reason: reason}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Join wraps errors.Join for convenience
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
