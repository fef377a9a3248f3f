// Package fileutil provides file helpers shared by the commands.
package fileutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/FocuswithJustin/pagekit/core/errors"
)

// CopyFile copies src to dst, creating dst's directory if needed. The copy
// is written to a temporary file beside dst and renamed into place once it
// has been synced, so dst is never left half written.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.NewIO("open", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return errors.NewIO("stat", src, err)
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIO("create directory", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*")
	if err != nil {
		return errors.NewIO("create", dst, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return errors.NewIO("copy", src, err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return errors.NewIO("chmod", dst, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.NewIO("sync", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewIO("close", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return errors.NewIO("rename", dst, err)
	}
	return nil
}
