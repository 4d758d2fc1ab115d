package history

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidRecord is returned for records missing required fields.
	ErrInvalidRecord = errors.New("history: invalid record")

	// ErrInvalidRetention is returned when pruning with a non-positive age.
	ErrInvalidRetention = errors.New("history: retention must be positive")
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Record is one parameter outcome of a set request.
type Record struct {
	ID        int64     `json:"id"`
	CommandID string    `json:"command_id"`
	Parameter string    `json:"parameter"`
	OldValue  any       `json:"old_value"`
	NewValue  any       `json:"new_value"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows Recent. Zero values match everything.
type Filter struct {
	Parameter string
	CommandID string

	// Limit defaults to 50 and is capped at 500.
	Limit int
}

// Repository stores set request outcomes. Implementations must be safe for
// concurrent use and store UTC timestamps.
type Repository interface {
	// Insert stores records in one transaction.
	Insert(ctx context.Context, records []Record) error

	// Recent returns matching records, newest first.
	Recent(ctx context.Context, f Filter) ([]Record, error)

	// Prune deletes records older than olderThan and reports how many.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}
