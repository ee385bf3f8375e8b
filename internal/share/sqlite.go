package share

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db, logger: logger.With("component", "share_store")}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS share_snapshots (
			share_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_share_snapshots_expires ON share_snapshots(expires_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save stores a new snapshot.
func (s *SQLiteStore) Save(ctx context.Context, snapshot *domain.ShareSnapshot) error {
	agent, err := json.Marshal(snapshot.Agent)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO share_snapshots (share_id, agent_id, agent, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		snapshot.ShareID, snapshot.Agent.ID, string(agent),
		snapshot.CreatedAt.UnixMilli(), unixMilliOrZero(snapshot.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

// Get retrieves a snapshot by ID.
func (s *SQLiteStore) Get(ctx context.Context, shareID string) (*domain.ShareSnapshot, error) {
	var snapshot domain.ShareSnapshot
	var agent string
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT share_id, agent, created_at, expires_at FROM share_snapshots WHERE share_id = ?`,
		shareID).Scan(&snapshot.ShareID, &agent, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(agent), &snapshot.Agent); err != nil {
		return nil, fmt.Errorf("unmarshal agent: %w", err)
	}
	snapshot.CreatedAt = time.UnixMilli(createdAt)
	if expiresAt > 0 {
		snapshot.ExpiresAt = time.UnixMilli(expiresAt)
	}
	return &snapshot, nil
}

// DeleteExpired removes every snapshot whose expiry is at or before now.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM share_snapshots WHERE expires_at > 0 AND expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug("expired shares deleted", "count", n)
	}
	return n, nil
}

// unixMilliOrZero stores a zero time as 0, meaning the share never expires.
func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
