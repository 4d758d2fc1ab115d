package database

import (
	"context"
	"embed"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"
)

//go:embed testdata/*.sql
var testSchemaFiles embed.FS

// useSchema swaps the registered schema for the duration of a test.
func useSchema(t *testing.T, fsys fs.FS) {
	t.Helper()
	orig := schemaFS
	t.Cleanup(func() { schemaFS = orig })
	RegisterSchema(fsys)
}

func testdataSchema(t *testing.T) fs.FS {
	t.Helper()
	sub, err := fs.Sub(testSchemaFiles, "testdata")
	if err != nil {
		t.Fatalf("fs.Sub() error = %v", err)
	}
	return sub
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	if err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	useSchema(t, testdataSchema(t))
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, pending, err := db.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "create_readings" || pending[0].Version != "20261001_120000" {
		t.Fatalf("pending = %+v, want 20261001_120000 create_readings", pending)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_readings") {
		t.Fatal("table test_readings not created")
	}

	applied, pending, err := db.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 0 {
		t.Fatalf("applied=%d pending=%d, want 1 and 0", len(applied), len(pending))
	}
	if applied[0].Name != "create_readings" || applied[0].AppliedAt.IsZero() {
		t.Errorf("applied[0] = %+v", applied[0])
	}

	// A second run finds nothing to do.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useSchema(t, testdataSchema(t))
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "test_readings") {
		t.Error("table test_readings should have been dropped")
	}

	applied, _, err := db.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %d after revert, want 0", len(applied))
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestMigrateDown_WithoutDownFile(t *testing.T) {
	useSchema(t, fstest.MapFS{
		"20261017_090000_set_requests.up.sql": {Data: []byte("CREATE TABLE t1 (id INTEGER)")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err == nil {
		t.Error("MigrateDown() reverted a step with no down file")
	}
	if !tableExists(t, db, "t1") {
		t.Error("table t1 dropped")
	}
}

func TestMigrate_FailedStepIsNotRecorded(t *testing.T) {
	useSchema(t, fstest.MapFS{
		"20261017_090000_set_requests.up.sql": {Data: []byte("CREATE TABLE t1 (id INTEGER)")},
		"20261018_090000_broken.up.sql":       {Data: []byte("CREATE TABLE")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() succeeded with invalid SQL")
	}
	applied, pending, err := db.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("applied = %+v, pending = %+v", applied, pending)
	}
}

func TestMigrate_NoSchema(t *testing.T) {
	tests := []struct {
		name string
		fsys fs.FS
	}{
		{"nothing registered", nil},
		{"no schema files", fstest.MapFS{"README.md": {Data: []byte("docs")}}},
		{"down file only", fstest.MapFS{"20261017_090000_x.down.sql": {Data: []byte("DROP TABLE x")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useSchema(t, tt.fsys)
			db := openTestDB(t)
			if err := db.Migrate(context.Background()); err != nil {
				t.Fatalf("Migrate() error = %v", err)
			}
			applied, pending, err := db.SchemaStatus(context.Background())
			if err != nil || len(applied) != 0 || len(pending) != 0 {
				t.Errorf("SchemaStatus() = %v, %v, %v", applied, pending, err)
			}
		})
	}
}

func TestParseStepFile(t *testing.T) {
	tests := []struct {
		filename string
		want     stepFile
		wantOk   bool
	}{
		{"20261017_090000_set_requests.up.sql", stepFile{version: "20261017_090000", name: "set_requests", up: true}, true},
		{"20261017_090000_set_requests.down.sql", stepFile{version: "20261017_090000", name: "set_requests"}, true},
		{"20261018_000000_add_source_index.up.sql", stepFile{version: "20261018_000000", name: "add_source_index", up: true}, true},
		{"20261017_090000.up.sql", stepFile{version: "20261017_090000", up: true}, true},
		{"readme.txt", stepFile{}, false},
		{"20261017_090000_set_requests.sql", stepFile{}, false},
		{"invalid.up.sql", stepFile{}, false},
		{"2026_090000_short.up.sql", stepFile{}, false},
		{"20261017_09000x_typo.up.sql", stepFile{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, ok := parseStepFile(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if got != tt.want {
				t.Errorf("parseStepFile() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
