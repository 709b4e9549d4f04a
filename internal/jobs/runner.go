package jobs

import (
	"context"
	"errors"

	"github.com/rnednur/felix-sub000/internal/repository"
	"github.com/rnednur/felix-sub000/internal/research"
)

// RunJob drives one job from pending to a terminal state. It is the
// single writer for the job row while the job runs; the only external
// input is the cancel flag, checked at every stage boundary.
func (s *Service) RunJob(ctx context.Context, jobID string) {
	logger := s.logger.With().Str("job_id", jobID).Logger()

	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).Msg("Cannot load job, giving up")
		return
	}

	// A cancel that raced the launch wins before any work starts.
	if job.CancelRequested {
		if err := s.repo.MarkCancelled(ctx, jobID); err == nil {
			s.notifier.NotifyResearchCancelled(ctx, jobID, job.MainQuestion)
			logger.Info().Msg("Job cancelled before it started")
		}
		return
	}

	if err := s.repo.MarkRunning(ctx, jobID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			logger.Warn().Msg("Job is not pending, skipping run")
			return
		}
		logger.Error().Err(err).Msg("Cannot mark job running")
		return
	}
	s.notifier.NotifyResearchStarted(ctx, jobID, job.MainQuestion)

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	progress := func(stage research.Stage) error {
		requested, err := s.repo.CancelRequested(runCtx, jobID)
		if err == nil && requested {
			return ErrCancelled
		}
		if err := s.repo.UpdateProgress(runCtx, jobID, stage.Ordinal, stage.Label, stage.Percent); err != nil {
			logger.Warn().Err(err).Int("stage", stage.Ordinal).Msg("Progress update failed")
		}
		return nil
	}

	report, err := s.pipeline.Run(runCtx, research.Request{
		DatasetID:          job.DatasetID,
		Question:           job.MainQuestion,
		Verbose:            job.Verbose,
		MaxSubQuestions:    job.MaxSubQuestions,
		EnableCodePath:     job.EnableCodePath,
		EnableWorldContext: job.EnableWorldContext,
	}, progress)

	switch {
	case err == nil:
		if err := s.repo.MarkCompleted(ctx, jobID, report); err != nil {
			logger.Error().Err(err).Msg("Cannot mark job completed")
			return
		}
		s.notifier.NotifyResearchCompleted(ctx, jobID, job.MainQuestion,
			report.DataCoverage.QuestionsAnswered, report.DataCoverage.TotalQuestions)
		logger.Info().Msg("Job completed")

	case errors.Is(err, ErrCancelled):
		if err := s.repo.MarkCancelled(ctx, jobID); err != nil {
			logger.Error().Err(err).Msg("Cannot mark job cancelled")
			return
		}
		s.notifier.NotifyResearchCancelled(ctx, jobID, job.MainQuestion)
		logger.Info().Msg("Job cancelled")

	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		msg := "research exceeded the job time limit"
		if err := s.repo.MarkFailed(ctx, jobID, msg); err != nil {
			logger.Error().Err(err).Msg("Cannot mark job failed")
			return
		}
		s.notifier.NotifyResearchFailed(ctx, jobID, job.MainQuestion, msg)
		logger.Warn().Dur("limit", s.cfg.JobTimeout).Msg("Job timed out")

	default:
		if markErr := s.repo.MarkFailed(ctx, jobID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("Cannot mark job failed")
			return
		}
		s.notifier.NotifyResearchFailed(ctx, jobID, job.MainQuestion, err.Error())
		logger.Error().Err(err).Msg("Job failed")
	}
}
