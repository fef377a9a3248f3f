package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
)

// Archive formats recognised by file name.
const (
	FormatXZ      = "tar.xz"
	FormatGzip    = "tar.gz"
	FormatTar     = "tar"
	FormatUnknown = "unknown"
)

// DetectFormat detects the archive format from the file extension.
func DetectFormat(path string) string {
	switch {
	case strings.HasSuffix(path, ".tar.xz"):
		return FormatXZ
	case strings.HasSuffix(path, ".tar.gz"):
		return FormatGzip
	case strings.HasSuffix(path, ".tar"):
		return FormatTar
	default:
		return FormatUnknown
	}
}

// IsSupportedFormat returns true if the file has a supported archive extension.
func IsSupportedFormat(path string) bool {
	return DetectFormat(path) != FormatUnknown
}

// ExtractID returns the file name with its archive extensions removed.
func ExtractID(filename string) string {
	id := filepath.Base(filename)
	for _, ext := range []string{".tar.xz", ".tar.gz", ".tar"} {
		if strings.HasSuffix(id, ext) {
			return strings.TrimSuffix(id, ext)
		}
	}
	return id
}

// Writer writes in-memory entries to a compressed tar archive. Every entry is
// placed under baseDir and stamped with the same modification time.
type Writer struct {
	file       *os.File
	compressor io.WriteCloser
	tw         *tar.Writer
	baseDir    string
	modTime    time.Time
}

// NewWriter creates the archive at path, choosing compression from its
// extension. Parent directories are created when missing.
func NewWriter(path, baseDir string) (*Writer, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported archive format: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}

	w := &Writer{file: f, baseDir: baseDir, modTime: time.Now().Truncate(time.Second)}
	var out io.Writer = f
	switch format {
	case FormatXZ:
		xw, err := xz.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("xz writer: %w", err)
		}
		w.compressor = xw
		out = xw
	case FormatGzip:
		gw := gzip.NewWriter(f)
		w.compressor = gw
		out = gw
	}
	w.tw = tar.NewWriter(out)
	return w, nil
}

// Add writes one file entry.
func (w *Writer) Add(name string, data []byte) error {
	if w.baseDir != "" {
		name = w.baseDir + "/" + name
	}
	header := &tar.Header{
		Name:     name,
		Mode:     0644,
		Size:     int64(len(data)),
		ModTime:  w.modTime,
		Typeflag: tar.TypeReg,
	}
	if err := w.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Close flushes the tar stream, the compressor and the file, in that order.
func (w *Writer) Close() error {
	err := w.tw.Close()
	if w.compressor != nil {
		if cerr := w.compressor.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	return nil
}
