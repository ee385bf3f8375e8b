package share

import (
	"context"
	"testing"
	"time"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", nil)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func testSnapshot(id string, expiresAt time.Time) *domain.ShareSnapshot {
	return &domain.ShareSnapshot{
		ShareID: id,
		Agent: domain.AgentRecord{
			ID:     "a1",
			Name:   "Support",
			Status: domain.AgentStatusWorking,
			Logs:   []domain.LogEntry{{Timestamp: 1000, Message: "hi"}},
			Metrics: map[string]any{
				"cost":   0.5,
				"tokens": float64(10),
			},
			LastHeartbeat: 1000,
		},
		CreatedAt: time.UnixMilli(1000),
		ExpiresAt: expiresAt,
	}
}

func TestSQLiteStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Save(ctx, testSnapshot("s1", time.UnixMilli(5000))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Agent.Name != "Support" || got.Agent.Status != domain.AgentStatusWorking {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if len(got.Agent.Logs) != 1 || got.Agent.Logs[0].Message != "hi" {
		t.Fatalf("unexpected logs: %+v", got.Agent.Logs)
	}
	if got.Agent.Metrics["cost"] != 0.5 {
		t.Fatalf("unexpected metrics: %+v", got.Agent.Metrics)
	}
	if got.ExpiresAt.UnixMilli() != 5000 || got.CreatedAt.UnixMilli() != 1000 {
		t.Fatalf("unexpected times: %v %v", got.CreatedAt, got.ExpiresAt)
	}

	if err := store.Save(ctx, testSnapshot("s1", time.UnixMilli(5000))); err == nil {
		t.Fatalf("expected duplicate share id to fail")
	}
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil snapshot, got %+v", got)
	}
}

func TestSQLiteStoreDeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_ = store.Save(ctx, testSnapshot("old", time.UnixMilli(2000)))
	_ = store.Save(ctx, testSnapshot("new", time.UnixMilli(9000)))

	n, err := store.DeleteExpired(ctx, time.UnixMilli(2000))
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	if got, _ := store.Get(ctx, "old"); got != nil {
		t.Fatalf("expected old share to be gone")
	}
	if got, _ := store.Get(ctx, "new"); got == nil {
		t.Fatalf("expected new share to remain")
	}
}
