// Package share stores and serves point-in-time snapshots of agent records.
package share

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
)

// Store defines the interface for snapshot persistence.
type Store interface {
	// Save stores a new snapshot. Snapshots are write-once.
	Save(ctx context.Context, snapshot *domain.ShareSnapshot) error
	// Get returns the snapshot, or nil if it does not exist.
	Get(ctx context.Context, shareID string) (*domain.ShareSnapshot, error)
	// DeleteExpired removes snapshots expired at now and reports how many.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// Lifecycle
	Close() error
}

// MemoryDSN selects the in-process MemoryStore instead of sqlite.
const MemoryDSN = "memory"

// Open returns a MemoryStore for MemoryDSN and a SQLiteStore otherwise.
func Open(dsn string, logger *slog.Logger) (Store, error) {
	if dsn == MemoryDSN {
		return NewMemoryStore(), nil
	}
	s, err := NewSQLiteStore(dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("open share store: %w", err)
	}
	return s, nil
}
