package share

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper purges expired snapshots on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	service *Service
	logger  *slog.Logger
}

// NewSweeper schedules Purge. schedule accepts standard cron specs and
// descriptors such as "@every 10m".
func NewSweeper(service *Service, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:    cron.New(),
		service: service,
		logger:  logger.With("component", "share_sweeper"),
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.service.Purge(ctx)
	if err != nil {
		s.logger.Error("share sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired shares purged", "count", n)
	}
}
