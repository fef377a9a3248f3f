package pageusage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/pagekit/core/pager"
	"github.com/FocuswithJustin/pagekit/core/sqlite"
)

func TestReportOnSQLiteFixture(t *testing.T) {
	tests := []struct {
		name string
		opts sqlite.FixtureOptions
	}{
		{"freelist", sqlite.DefaultFixture},
		{"autovacuum", sqlite.FixtureOptions{PageSize: 1024, Rows: 60, BlobSize: 3000, DeleteRows: 10, AutoVacuum: true}},
		{"large pages", sqlite.FixtureOptions{PageSize: 65536, Rows: 20, BlobSize: 100000, DeleteRows: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "fixture.db")
			if err := sqlite.CreateFixture(ctx, path, tt.opts); err != nil {
				t.Fatalf("CreateFixture() error = %v", err)
			}
			stats, err := sqlite.ReadStats(ctx, path)
			if err != nil {
				t.Fatalf("ReadStats() error = %v", err)
			}

			p, err := pager.Open(path, pager.Options{ReadOnly: true})
			if err != nil {
				t.Fatalf("pager.Open() error = %v", err)
			}
			defer p.Close()

			u, err := Report(p, Options{})
			if err != nil {
				t.Fatalf("Report() error = %v", err)
			}
			if int(u.PageCount) != stats.PageCount {
				t.Errorf("PageCount = %d, SQLite says %d", u.PageCount, stats.PageCount)
			}
			if len(u.Errors) != 0 || len(u.Duplicates) != 0 || len(u.OutOfRange) != 0 {
				t.Errorf("faults on a clean database: %v", u.Lines()[:min(10, len(u.Lines()))])
			}
			if n := u.Count(RoleOrphan); n != 0 {
				t.Errorf("%d orphaned pages", n)
			}
			if got := u.Count(RoleFreeTrunk) + u.Count(RoleFreeLeaf); got != stats.FreelistCount {
				t.Errorf("freelist pages = %d, SQLite says %d", got, stats.FreelistCount)
			}
			if u.Count(RoleOverflow) == 0 {
				t.Error("expected overflow pages")
			}
			if tt.opts.AutoVacuum && u.Count(RolePtrmap) == 0 {
				t.Error("auto-vacuum database should have pointer map pages")
			}

			names := map[string]bool{}
			for _, e := range u.Schema {
				names[e.Name] = true
			}
			if !names["item"] || !names["item_name"] {
				t.Errorf("schema = %+v", u.Schema)
			}
		})
	}
}
