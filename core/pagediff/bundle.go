package pagediff

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/pagekit/core/errors"
	"github.com/FocuswithJustin/pagekit/internal/archive"
	"github.com/FocuswithJustin/pagekit/internal/validation"
)

const (
	manifestName = "manifest.json"
	pagesDir     = "pages/"
	deltaExt     = ".delta"
)

// WriteBundle writes the diff as a tar archive holding manifest.json and one
// pages/<pgno>.delta entry per changed page. The extension of path selects
// compression: .tar.xz, .tar.gz or .tar.
func (d *Diff) WriteBundle(path string) error {
	manifest, err := json.MarshalIndent(d.Manifest, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}

	w, err := archive.NewWriter(path, d.Manifest.ID)
	if err != nil {
		return err
	}
	if err := w.Add(manifestName, manifest); err != nil {
		w.Close()
		return err
	}
	for _, c := range d.Manifest.Changes {
		if err := w.Add(deltaEntry(c.Pgno), d.Deltas[c.Pgno]); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

func deltaEntry(pgno uint32) string {
	return pagesDir + strconv.FormatUint(uint64(pgno), 10) + deltaExt
}

// ReadBundle reads a diff written by WriteBundle. Every page listed in the
// manifest must have a delta of the recorded size.
func ReadBundle(path string) (*Diff, error) {
	d := &Diff{Deltas: make(map[uint32][]byte)}
	haveManifest := false

	err := archive.IterateFile(path, func(h *tar.Header, r io.Reader) (bool, error) {
		if h.Typeflag != tar.TypeReg {
			return false, nil
		}
		name, err := validation.CleanEntryName(archive.EntryName(h.Name))
		if err != nil {
			return true, errors.NewValidation("bundle", err.Error())
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return true, err
		}
		switch {
		case name == manifestName:
			if err := json.Unmarshal(data, &d.Manifest); err != nil {
				return true, errors.Wrap(err, "decode manifest")
			}
			haveManifest = true
		case strings.HasPrefix(name, pagesDir) && strings.HasSuffix(name, deltaExt):
			n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, pagesDir), deltaExt), 10, 32)
			if err != nil || n == 0 {
				return true, errors.NewValidation("bundle", fmt.Sprintf("bad delta entry %q", h.Name))
			}
			d.Deltas[uint32(n)] = data
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if !haveManifest {
		return nil, errors.NewValidation("bundle", "missing "+manifestName)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// ReadManifest reads only the manifest of a bundle.
func ReadManifest(path string) (*Manifest, error) {
	data, err := archive.ReadFile(path, manifestName)
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	if m.Version != ManifestVersion {
		return nil, errors.NewValidation("version", fmt.Sprintf("unsupported bundle version %d", m.Version))
	}
	return m, nil
}

// DeltaBytes returns the total delta size recorded in the manifest.
func (m *Manifest) DeltaBytes() int {
	n := 0
	for _, c := range m.Changes {
		n += c.DeltaSize
	}
	return n
}

// Validate checks that the manifest is complete and matches the deltas.
func (d *Diff) Validate() error {
	m := &d.Manifest
	switch {
	case m.Version != ManifestVersion:
		return errors.NewValidation("version", fmt.Sprintf("unsupported bundle version %d", m.Version))
	case !isValidHash(m.SourceDigest) || !isValidHash(m.TargetDigest):
		return errors.NewValidation("digest", "source and target digests must be 64 hex digits")
	}
	for _, c := range m.Changes {
		dl, ok := d.Deltas[c.Pgno]
		if !ok {
			return errors.NewValidation("delta", fmt.Sprintf("no delta for page %d", c.Pgno))
		}
		if len(dl) != c.DeltaSize {
			return errors.NewValidation("delta", fmt.Sprintf("page %d delta is %d bytes, manifest says %d", c.Pgno, len(dl), c.DeltaSize))
		}
		if !isValidHash(c.TargetHash) || (c.SourceHash != "" && !isValidHash(c.SourceHash)) {
			return errors.NewValidation("hash", fmt.Sprintf("bad fingerprint for page %d", c.Pgno))
		}
	}
	return nil
}
