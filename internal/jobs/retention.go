package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rnednur/felix-sub000/internal/config"
	"github.com/rnednur/felix-sub000/internal/repository"
	"github.com/rs/zerolog"
)

// Sweeper periodically deletes terminal jobs older than the retention
// TTL. Running and pending jobs are never touched.
type Sweeper struct {
	scheduler gocron.Scheduler
	repo      repository.JobRepository
	cfg       config.RetentionConfig
	logger    zerolog.Logger
}

func NewSweeper(repo repository.JobRepository, cfg config.RetentionConfig, logger zerolog.Logger) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		scheduler: scheduler,
		repo:      repo,
		cfg:       cfg,
		logger:    logger.With().Str("component", "retention_sweeper").Logger(),
	}, nil
}

func (s *Sweeper) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.cfg.SweepInterval),
		gocron.NewTask(s.sweep),
	)
	if err != nil {
		return err
	}
	s.scheduler.Start()
	s.logger.Info().Dur("interval", s.cfg.SweepInterval).Dur("ttl", s.cfg.JobTTL).Msg("Retention sweeper started")
	return nil
}

func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.cfg.JobTTL)
	removed, err := s.repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Retention sweep failed")
		return
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("Expired research jobs removed")
	}
}
