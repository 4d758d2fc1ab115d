package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timestampLayout matches the column default in the migration.
const timestampLayout = "2006-01-02T15:04:05Z"

// SQLiteRepository implements Repository on the set_requests table. Old and
// new values are stored as JSON text.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert stores records in one transaction.
func (r *SQLiteRepository) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if rec.CommandID == "" || rec.Parameter == "" || rec.Status == "" {
			return fmt.Errorf("%w: command_id, parameter and status are required", ErrInvalidRecord)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO set_requests
			(command_id, parameter, old_value, new_value, status, error, attempts, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		oldJSON, err := encodeValue(rec.OldValue)
		if err != nil {
			return err
		}
		newJSON, err := encodeValue(rec.NewValue)
		if err != nil {
			return err
		}
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			rec.CommandID, rec.Parameter, oldJSON, newJSON, rec.Status,
			nullString(rec.Error), rec.Attempts, rec.Source,
			createdAt.UTC().Format(timestampLayout),
		); err != nil {
			return fmt.Errorf("inserting set request: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing set requests: %w", err)
	}
	return nil
}

// Recent returns matching records, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Parameter != "" {
		where = append(where, "parameter = ?")
		args = append(args, f.Parameter)
	}
	if f.CommandID != "" {
		where = append(where, "command_id = ?")
		args = append(args, f.CommandID)
	}

	query := `SELECT id, command_id, parameter, old_value, new_value, status, error, attempts, source, created_at
		FROM set_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	limit := clampLimit(f.Limit)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying set requests: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec              Record
			oldJSON, newJSON sql.NullString
			errText          sql.NullString
			createdAt        string
		)
		if err := rows.Scan(&rec.ID, &rec.CommandID, &rec.Parameter, &oldJSON, &newJSON,
			&rec.Status, &errText, &rec.Attempts, &rec.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning set request: %w", err)
		}
		if rec.OldValue, err = decodeValue(oldJSON); err != nil {
			return nil, err
		}
		if rec.NewValue, err = decodeValue(newJSON); err != nil {
			return nil, err
		}
		rec.Error = errText.String
		if rec.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating set requests: %w", err)
	}
	return records, nil
}

// Prune deletes records older than olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM set_requests WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting set requests: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func encodeValue(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("%w: encoding value: %w", ErrInvalidRecord, err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeValue(s sql.NullString) (any, error) {
	if !s.Valid {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	return v, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
