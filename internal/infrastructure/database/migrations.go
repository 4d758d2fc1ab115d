package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// Schema files sit at the root of the registered tree and are named
// YYYYMMDD_HHMMSS_name.up.sql, with an optional .down.sql of the same stem.
var schemaFS fs.FS

// RegisterSchema sets the tree Migrate reads schema steps from. The
// migrations package calls it from init with its embedded files.
func RegisterSchema(fsys fs.FS) {
	schemaFS = fsys
}

const createSchemaTable = `
	CREATE TABLE IF NOT EXISTS bridge_schema (
		version    TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`

// SchemaStep is one versioned change to the set history schema.
type SchemaStep struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// AppliedStep is a row of bridge_schema.
type AppliedStep struct {
	Version   string
	Name      string
	AppliedAt time.Time
}

// Migrate applies the pending schema steps oldest first. Each step commits
// together with its bridge_schema row, so a rerun after a failure resumes
// at the failed step.
func (db *DB) Migrate(ctx context.Context) error {
	_, pending, err := db.SchemaStatus(ctx)
	if err != nil {
		return err
	}

	for _, step := range pending {
		err := db.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, step.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO bridge_schema (version, name, applied_at) VALUES (?, ?, ?)",
				step.Version, step.Name, time.Now().UTC().Format(time.RFC3339Nano))
			return err
		})
		if err != nil {
			return fmt.Errorf("schema step %s (%s): %w", step.Version, step.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the newest applied step. With nothing applied it does
// nothing.
func (db *DB) MigrateDown(ctx context.Context) error {
	applied, _, err := db.SchemaStatus(ctx)
	if err != nil || len(applied) == 0 {
		return err
	}
	last := applied[len(applied)-1]

	steps, err := readSchema()
	if err != nil {
		return err
	}
	var step *SchemaStep
	for i := range steps {
		if steps[i].Version == last.Version {
			step = &steps[i]
			break
		}
	}
	switch {
	case step == nil:
		return fmt.Errorf("schema step %s is applied but has no files", last.Version)
	case step.Down == "":
		return fmt.Errorf("schema step %s (%s) cannot be reverted", step.Version, step.Name)
	}

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, step.Down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM bridge_schema WHERE version = ?", step.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("reverting schema step %s (%s): %w", step.Version, step.Name, err)
	}
	return nil
}

// SchemaStatus returns the applied and the pending steps, oldest first.
func (db *DB) SchemaStatus(ctx context.Context) (applied []AppliedStep, pending []SchemaStep, err error) {
	if _, err := db.ExecContext(ctx, createSchemaTable); err != nil {
		return nil, nil, fmt.Errorf("creating bridge_schema: %w", err)
	}
	if applied, err = db.appliedSteps(ctx); err != nil {
		return nil, nil, err
	}
	steps, err := readSchema()
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool, len(applied))
	for _, a := range applied {
		seen[a.Version] = true
	}
	for _, s := range steps {
		if !seen[s.Version] {
			pending = append(pending, s)
		}
	}
	return applied, pending, nil
}

func (db *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) appliedSteps(ctx context.Context) ([]AppliedStep, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, name, applied_at FROM bridge_schema ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("reading bridge_schema: %w", err)
	}
	defer rows.Close()

	var out []AppliedStep
	for rows.Next() {
		var a AppliedStep
		var at string
		if err := rows.Scan(&a.Version, &a.Name, &at); err != nil {
			return nil, fmt.Errorf("scanning bridge_schema: %w", err)
		}
		a.AppliedAt, _ = time.Parse(time.RFC3339Nano, at) //nolint:errcheck // written by Migrate
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading bridge_schema: %w", err)
	}
	return out, nil
}

// readSchema loads the registered steps sorted by version. Files that do not
// follow the naming scheme are skipped, as is a down file without its up.
func readSchema() ([]SchemaStep, error) {
	if schemaFS == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(schemaFS, ".")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing schema files: %w", err)
	}

	byVersion := make(map[string]*SchemaStep)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, ok := parseStepFile(entry.Name())
		if !ok {
			continue
		}
		body, err := fs.ReadFile(schemaFS, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		s := byVersion[f.version]
		if s == nil {
			s = &SchemaStep{Version: f.version}
			byVersion[f.version] = s
		}
		if f.up {
			s.Name, s.Up = f.name, string(body)
		} else {
			s.Down = string(body)
		}
	}

	steps := make([]SchemaStep, 0, len(byVersion))
	for _, s := range byVersion {
		if s.Up != "" {
			steps = append(steps, *s)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return steps, nil
}

// stepFile is a parsed schema file name.
type stepFile struct {
	version string
	name    string
	up      bool
}

// parseStepFile splits "20261017_090000_set_requests.up.sql" into version
// "20261017_090000", name "set_requests" and direction up.
func parseStepFile(filename string) (stepFile, bool) {
	var f stepFile
	stem, ok := strings.CutSuffix(filename, ".up.sql")
	if ok {
		f.up = true
	} else if stem, ok = strings.CutSuffix(filename, ".down.sql"); !ok {
		return stepFile{}, false
	}

	parts := strings.SplitN(stem, "_", 3)
	if len(parts) < 2 || !allDigits(parts[0], 8) || !allDigits(parts[1], 6) {
		return stepFile{}, false
	}
	f.version = parts[0] + "_" + parts[1]
	if len(parts) == 3 {
		f.name = parts[2]
	}
	return f, true
}

func allDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
