package pagediff

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/pagekit/core/btree"
)

// Fingerprint returns the hex BLAKE3-256 hash of one page.
func Fingerprint(page []byte) string {
	h := blake3.Sum256(page)
	return hex.EncodeToString(h[:])
}

// Digest returns the hex BLAKE3-256 hash of every page of src in order.
func Digest(src btree.PageSource) (string, error) {
	h := blake3.New()
	for pgno := uint32(1); pgno <= src.PageCount(); pgno++ {
		data, err := src.ReadPage(pgno)
		if err != nil {
			return "", err
		}
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isValidHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
