package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestDriverInfo(t *testing.T) {
	info := GetInfo()

	if info.DriverName == "" || info.DriverType == "" || info.Package == "" {
		t.Errorf("incomplete driver info: %+v", info)
	}
	if info.DriverName != DriverName() {
		t.Errorf("DriverName mismatch: info=%s, func=%s", info.DriverName, DriverName())
	}
	if info.IsCGO != IsCGO() {
		t.Errorf("IsCGO mismatch: info=%v, func=%v", info.IsCGO, IsCGO())
	}
	t.Logf("SQLite driver: %s (%s) from %s", info.DriverName, info.DriverType, info.Package)
}

func TestDriverTypeConsistency(t *testing.T) {
	switch DriverType() {
	case "purego":
		if IsCGO() || DriverName() != "sqlite" {
			t.Errorf("purego driver: IsCGO=%v name=%q", IsCGO(), DriverName())
		}
	case "cgo":
		if !IsCGO() || DriverName() != "sqlite3" {
			t.Errorf("cgo driver: IsCGO=%v name=%q", IsCGO(), DriverName())
		}
	default:
		t.Errorf("unknown driver type: %s", DriverType())
	}
}

func TestCreateFixture(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fixture.db")

	if err := CreateFixture(ctx, path, DefaultFixture); err != nil {
		t.Fatalf("CreateFixture() error = %v", err)
	}
	s, err := ReadStats(ctx, path)
	if err != nil {
		t.Fatalf("ReadStats() error = %v", err)
	}
	if s.PageSize != DefaultFixture.PageSize {
		t.Errorf("page_size = %d, want %d", s.PageSize, DefaultFixture.PageSize)
	}
	if s.FreelistCount == 0 {
		t.Error("deleting rows should leave pages on the freelist")
	}
	if s.PageCount <= DefaultFixture.Rows {
		t.Errorf("page_count = %d, expected overflow pages for every row", s.PageCount)
	}

	db, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly() error = %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT count(*) FROM item").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if want := DefaultFixture.Rows - DefaultFixture.DeleteRows; n != want {
		t.Errorf("rows = %d, want %d", n, want)
	}
}

func TestCreateFixtureReplaces(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fixture.db")

	if err := CreateFixture(ctx, path, FixtureOptions{PageSize: 4096, Rows: 10}); err != nil {
		t.Fatalf("first CreateFixture() error = %v", err)
	}
	if err := CreateFixture(ctx, path, FixtureOptions{PageSize: 512, Rows: 3}); err != nil {
		t.Fatalf("second CreateFixture() error = %v", err)
	}
	s, err := ReadStats(ctx, path)
	if err != nil {
		t.Fatalf("ReadStats() error = %v", err)
	}
	if s.PageSize != 512 || s.FreelistCount != 0 {
		t.Errorf("stats = %+v, want a fresh 512-byte database", s)
	}
}
