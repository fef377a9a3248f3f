package sqlite

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/FocuswithJustin/pagekit/core/errors"
	"github.com/FocuswithJustin/pagekit/internal/logging"
)

// FixtureOptions shapes a generated database.
type FixtureOptions struct {
	PageSize   int  // 0 keeps the SQLite default
	Rows       int  // Rows inserted into the main table
	BlobSize   int  // Size of the blob column; larger than a page forces overflow chains
	DeleteRows int  // Rows deleted afterwards, leaving pages on the freelist
	AutoVacuum bool // Full auto-vacuum, which adds pointer map pages
}

// DefaultFixture is a small database with overflow pages, an index and a
// populated freelist.
var DefaultFixture = FixtureOptions{
	PageSize:   1024,
	Rows:       200,
	BlobSize:   1500,
	DeleteRows: 120,
}

// CreateFixture writes a new database at path. An existing file is replaced.
// The database has a table "item" with an index on its name column; when
// opts.AutoVacuum is false deleted rows leave their pages on the freelist.
func CreateFixture(ctx context.Context, path string, opts FixtureOptions) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIO("remove", path, err)
	}
	db, err := Open(path)
	if err != nil {
		return errors.NewIO("open", path, err)
	}
	defer db.Close()
	// A single connection keeps the pragmas on the connection that writes.
	db.SetMaxOpenConns(1)

	var stmts []string
	if opts.PageSize > 0 {
		stmts = append(stmts, fmt.Sprintf("PRAGMA page_size=%d", opts.PageSize))
	}
	vacuum := "NONE"
	if opts.AutoVacuum {
		vacuum = "FULL"
	}
	stmts = append(stmts,
		"PRAGMA auto_vacuum="+vacuum,
		"PRAGMA journal_mode=DELETE",
		"PRAGMA secure_delete=OFF",
		"CREATE TABLE item (id INTEGER PRIMARY KEY, name TEXT NOT NULL, body BLOB)",
		"CREATE INDEX item_name ON item(name)",
	)
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return errors.Wrapf(err, "fixture %q", s)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin fixture transaction")
	}
	ins, err := tx.PrepareContext(ctx, "INSERT INTO item (id, name, body) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare insert")
	}
	for i := 1; i <= opts.Rows; i++ {
		name := fmt.Sprintf("item-%05d", i)
		body := []byte(strings.Repeat(string(rune('a'+i%26)), opts.BlobSize))
		if _, err := ins.ExecContext(ctx, i, name, body); err != nil {
			ins.Close()
			tx.Rollback()
			return errors.Wrapf(err, "insert row %d", i)
		}
	}
	ins.Close()
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit fixture rows")
	}

	if opts.DeleteRows > 0 {
		if _, err := db.ExecContext(ctx, "DELETE FROM item WHERE id <= ?", opts.DeleteRows); err != nil {
			return errors.Wrap(err, "delete fixture rows")
		}
	}

	logging.Info("fixture created", "path", path, "driver", driverType,
		"page_size", opts.PageSize, "rows", opts.Rows, "deleted", opts.DeleteRows)
	return nil
}

// Stats are page counters SQLite reports for an open database.
type Stats struct {
	PageSize      int
	PageCount     int
	FreelistCount int
}

// ReadStats asks SQLite itself for the page size, page count and freelist
// length of the database at path.
func ReadStats(ctx context.Context, path string) (*Stats, error) {
	db, err := OpenReadOnly(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	defer db.Close()

	s := &Stats{}
	for _, q := range []struct {
		pragma string
		dst    *int
	}{
		{"page_size", &s.PageSize},
		{"page_count", &s.PageCount},
		{"freelist_count", &s.FreelistCount},
	} {
		if err := db.QueryRowContext(ctx, "PRAGMA "+q.pragma).Scan(q.dst); err != nil {
			return nil, errors.Wrapf(err, "PRAGMA %s", q.pragma)
		}
	}
	return s, nil
}
