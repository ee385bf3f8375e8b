package share

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
	"github.com/tejasdessai01/agentwatch-app/internal/registry"
)

func newTestService(t *testing.T, store Store) (*Service, *registry.Registry, *time.Time) {
	t.Helper()
	reg := registry.New()
	reg.Upsert("a1", registry.RegisterFields{Name: "Support"})

	now := time.UnixMilli(1_000_000)
	svc := NewService(store, reg, "https://watch.example.com/", time.Hour, nil)
	svc.SetClock(func() time.Time { return now })
	return svc, reg, &now
}

func TestServiceCreateAndGet(t *testing.T) {
	for name, store := range map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newTestStore(t),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc, reg, now := newTestService(t, store)

			link, err := svc.Create(ctx, "a1")
			require.NoError(t, err)
			assert.Len(t, link.ShareID, 8)
			assert.Equal(t, "https://watch.example.com/share/"+link.ShareID, link.URL)
			assert.Equal(t, now.Add(time.Hour), link.ExpiresAt)

			// Later mutations do not leak into the snapshot.
			msg := "after share"
			reg.Report("a1", registry.ReportFields{Message: &msg})

			snap, err := svc.Get(ctx, link.ShareID)
			require.NoError(t, err)
			assert.Equal(t, "Support", snap.Agent.Name)
			assert.Empty(t, snap.Agent.Logs)

			*now = now.Add(time.Hour)
			_, err = svc.Get(ctx, link.ShareID)
			assert.True(t, errors.Is(err, domain.ErrShareExpired))

			n, err := svc.Purge(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			_, err = svc.Get(ctx, link.ShareID)
			assert.True(t, errors.Is(err, domain.ErrShareNotFound))
		})
	}
}

func TestServiceCreateUnknownAgent(t *testing.T) {
	svc, _, _ := newTestService(t, NewMemoryStore())
	_, err := svc.Create(context.Background(), "ghost")
	assert.True(t, errors.Is(err, domain.ErrAgentNotFound))
}

func TestServiceGetUnknownShare(t *testing.T) {
	svc, _, _ := newTestService(t, NewMemoryStore())
	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrShareNotFound))
}

func TestOpenSelectsStore(t *testing.T) {
	s, err := Open(MemoryDSN, nil)
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)

	s, err = Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()
	_, ok = s.(*SQLiteStore)
	assert.True(t, ok)
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	svc, _, _ := newTestService(t, NewMemoryStore())
	_, err := NewSweeper(svc, "not a schedule", nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid sweep schedule"))

	sw, err := NewSweeper(svc, "@every 1h", nil)
	require.NoError(t, err)
	sw.Start()
	sw.Stop()
}

func TestSweeperPurges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc, _, now := newTestService(t, store)
	link, err := svc.Create(ctx, "a1")
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)
	sw, err := NewSweeper(svc, "@every 1h", nil)
	require.NoError(t, err)
	sw.sweep()

	got, err := store.Get(ctx, link.ShareID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
