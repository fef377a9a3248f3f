// Package pagediff computes page-level differences between two images of the
// same database. Each changed page is stored as a fossil delta against the
// old page, keyed by BLAKE3 fingerprints of the page before and after, so a
// diff can only be applied to the image it was made from.
package pagediff

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/pagekit/core/btree"
	"github.com/FocuswithJustin/pagekit/core/delta"
	"github.com/FocuswithJustin/pagekit/core/errors"
	"github.com/FocuswithJustin/pagekit/internal/logging"
)

// ManifestVersion is the bundle format version written by this package.
const ManifestVersion = 1

// PageChange describes one changed page.
type PageChange struct {
	Pgno       uint32 `json:"pgno"`
	SourceHash string `json:"source_hash,omitempty"` // Empty for a page past the end of the source
	TargetHash string `json:"target_hash"`
	DeltaSize  int    `json:"delta_size"`
}

// Manifest is the metadata of a diff.
type Manifest struct {
	Version      int          `json:"version"`
	ID           string       `json:"id"`
	CreatedAt    string       `json:"created_at"`
	PageSize     int          `json:"page_size"`
	SourcePages  uint32       `json:"source_pages"`
	TargetPages  uint32       `json:"target_pages"`
	SourceDigest string       `json:"source_digest"`
	TargetDigest string       `json:"target_digest"`
	Changes      []PageChange `json:"changes"`
}

// Diff is a manifest plus the delta for every changed page.
type Diff struct {
	Manifest Manifest
	Deltas   map[uint32][]byte
}

// DeltaBytes returns the total size of all deltas.
func (d *Diff) DeltaBytes() int {
	n := 0
	for _, c := range d.Manifest.Changes {
		n += c.DeltaSize
	}
	return n
}

// Create compares source and target page by page. Both must have the same
// page size.
func Create(source, target btree.PageSource) (*Diff, error) {
	if source.PageSize() != target.PageSize() {
		return nil, errors.NewValidation("page_size",
			fmt.Sprintf("source has %d-byte pages, target %d-byte pages", source.PageSize(), target.PageSize()))
	}
	srcDigest, err := Digest(source)
	if err != nil {
		return nil, errors.Wrap(err, "digest source")
	}
	dstDigest, err := Digest(target)
	if err != nil {
		return nil, errors.Wrap(err, "digest target")
	}

	d := &Diff{
		Manifest: Manifest{
			Version:      ManifestVersion,
			ID:           uuid.New().String(),
			CreatedAt:    time.Now().UTC().Format(time.RFC3339),
			PageSize:     source.PageSize(),
			SourcePages:  source.PageCount(),
			TargetPages:  target.PageCount(),
			SourceDigest: srcDigest,
			TargetDigest: dstDigest,
		},
		Deltas: make(map[uint32][]byte),
	}

	for pgno := uint32(1); pgno <= target.PageCount(); pgno++ {
		newPage, err := target.ReadPage(pgno)
		if err != nil {
			return nil, errors.Wrapf(err, "read target page %d", pgno)
		}
		var oldPage []byte
		var oldHash string
		if pgno <= source.PageCount() {
			if oldPage, err = source.ReadPage(pgno); err != nil {
				return nil, errors.Wrapf(err, "read source page %d", pgno)
			}
			oldHash = Fingerprint(oldPage)
		}
		newHash := Fingerprint(newPage)
		if oldHash == newHash {
			continue
		}

		dl := delta.Create(oldPage, newPage)
		d.Deltas[pgno] = dl
		d.Manifest.Changes = append(d.Manifest.Changes, PageChange{
			Pgno:       pgno,
			SourceHash: oldHash,
			TargetHash: newHash,
			DeltaSize:  len(dl),
		})
	}

	logging.Info("page diff created", "id", d.Manifest.ID,
		"source_pages", d.Manifest.SourcePages, "target_pages", d.Manifest.TargetPages,
		"changed", len(d.Manifest.Changes), "delta_bytes", d.DeltaBytes())
	return d, nil
}

// PageStore is a writable page source.
type PageStore interface {
	btree.PageSource
	WritePage(pgno uint32, data []byte) error
	Truncate(n uint32) error
}

// ApplyOptions controls Apply.
type ApplyOptions struct {
	// VerifyDeltas checks the checksum embedded in each delta.
	VerifyDeltas bool
}

// Apply rewrites dst from the diff's source image into its target image.
// dst must match the source digest; each rewritten page must match its
// target fingerprint, and the result must match the target digest.
func Apply(dst PageStore, d *Diff, opts ApplyOptions) error {
	m := &d.Manifest
	if dst.PageSize() != m.PageSize {
		return errors.NewValidation("page_size",
			fmt.Sprintf("store has %d-byte pages, diff %d-byte pages", dst.PageSize(), m.PageSize))
	}
	digest, err := Digest(dst)
	if err != nil {
		return errors.Wrap(err, "digest store")
	}
	if digest != m.SourceDigest {
		return errors.Wrapf(errors.ErrChecksumMismatch, "store does not match diff %s source", m.ID)
	}

	for _, c := range m.Changes {
		dl, ok := d.Deltas[c.Pgno]
		if !ok {
			return errors.NewValidation("delta", fmt.Sprintf("no delta for page %d", c.Pgno))
		}
		var oldPage []byte
		if c.Pgno <= m.SourcePages {
			if oldPage, err = dst.ReadPage(c.Pgno); err != nil {
				return errors.Wrapf(err, "read page %d", c.Pgno)
			}
		}

		var newPage []byte
		if opts.VerifyDeltas {
			newPage, err = delta.ApplyVerified(oldPage, dl)
		} else {
			newPage, err = delta.Apply(oldPage, dl)
		}
		if err != nil {
			return errors.Wrapf(err, "page %d", c.Pgno)
		}
		if Fingerprint(newPage) != c.TargetHash {
			return errors.Wrapf(errors.ErrChecksumMismatch, "page %d does not match target fingerprint", c.Pgno)
		}
		if err := dst.WritePage(c.Pgno, newPage); err != nil {
			return err
		}
	}

	if m.TargetPages < dst.PageCount() {
		if err := dst.Truncate(m.TargetPages); err != nil {
			return errors.Wrap(err, "truncate")
		}
	}

	digest, err = Digest(dst)
	if err != nil {
		return errors.Wrap(err, "digest result")
	}
	if digest != m.TargetDigest {
		return errors.Wrapf(errors.ErrChecksumMismatch, "result does not match diff %s target", m.ID)
	}
	logging.Info("page diff applied", "id", m.ID, "changed", len(m.Changes), "pages", m.TargetPages)
	return nil
}
