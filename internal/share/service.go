package share

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
)

// AgentSource looks up the current record for an agent.
type AgentSource interface {
	Get(id string) (domain.AgentRecord, bool)
}

// Link is what a caller receives after creating a share.
type Link struct {
	ShareID   string    `json:"share_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service creates and resolves share snapshots.
type Service struct {
	store     Store
	agents    AgentSource
	publicURL string
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a share service. publicURL is the base used for links.
func NewService(store Store, agents AgentSource, publicURL string, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		agents:    agents,
		publicURL: strings.TrimRight(publicURL, "/"),
		ttl:       ttl,
		now:       time.Now,
		logger:    logger.With("component", "share"),
	}
}

// SetClock replaces the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create snapshots the agent's current record.
func (s *Service) Create(ctx context.Context, agentID string) (*Link, error) {
	rec, ok := s.agents.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("share %s: %w", agentID, domain.ErrAgentNotFound)
	}

	now := s.now()
	snapshot := &domain.ShareSnapshot{
		ShareID:   uuid.New().String()[:8],
		Agent:     rec,
		CreatedAt: now,
	}
	if s.ttl > 0 {
		snapshot.ExpiresAt = now.Add(s.ttl)
	}
	if err := s.store.Save(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("save share: %w", err)
	}

	s.logger.Info("share created", "share_id", snapshot.ShareID, "agent_id", agentID)
	return &Link{
		ShareID:   snapshot.ShareID,
		URL:       s.publicURL + "/share/" + snapshot.ShareID,
		ExpiresAt: snapshot.ExpiresAt,
	}, nil
}

// Get resolves a share id to its snapshot.
func (s *Service) Get(ctx context.Context, shareID string) (*domain.ShareSnapshot, error) {
	snapshot, err := s.store.Get(ctx, shareID)
	if err != nil {
		return nil, fmt.Errorf("get share: %w", err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("share %s: %w", shareID, domain.ErrShareNotFound)
	}
	if snapshot.Expired(s.now()) {
		return nil, fmt.Errorf("share %s: %w", shareID, domain.ErrShareExpired)
	}
	return snapshot, nil
}

// Purge deletes every expired snapshot.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now())
}
