// Package jobs owns the research job state machine: submission,
// polling, cancellation, and the worker that drives a job through the
// pipeline.
package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rnednur/felix-sub000/internal/catalog"
	"github.com/rnednur/felix-sub000/internal/config"
	"github.com/rnednur/felix-sub000/internal/models"
	"github.com/rnednur/felix-sub000/internal/notification"
	"github.com/rnednur/felix-sub000/internal/repository"
	"github.com/rnednur/felix-sub000/internal/research"
	"github.com/rs/zerolog"
)

var (
	ErrCancelled = errors.New("job cancelled")
)

// Pipeline is the research surface the job runner drives.
type Pipeline interface {
	Run(ctx context.Context, req research.Request, progress research.ProgressFunc) (*models.Report, error)
}

// SubmitParams mirrors the submit request body.
type SubmitParams struct {
	DatasetID          string
	Question           string
	Verbose            bool
	MaxSubQuestions    int
	EnableCodePath     bool
	EnableWorldContext bool
}

// Launcher hands a created job to whatever executes it: an in-process
// goroutine by default, a workflow engine when one is wired in.
type Launcher func(jobID string)

type Service struct {
	repo     repository.JobRepository
	catalog  catalog.Catalog
	pipeline Pipeline
	notifier notification.Service
	cfg      config.ResearchConfig
	logger   zerolog.Logger
	launch   Launcher
}

func NewService(repo repository.JobRepository, cat catalog.Catalog, pipeline Pipeline, notifier notification.Service, cfg config.ResearchConfig, logger zerolog.Logger) *Service {
	s := &Service{
		repo:     repo,
		catalog:  cat,
		pipeline: pipeline,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "job_service").Logger(),
	}
	s.launch = func(jobID string) {
		go s.RunJob(context.Background(), jobID)
	}
	return s
}

// SetLauncher replaces the default in-process launcher.
func (s *Service) SetLauncher(l Launcher) {
	s.launch = l
}

// Submit validates the dataset, persists a pending job, and hands it to
// the launcher. The dataset must exist and be ready before any job row
// is written.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (models.ResearchJob, error) {
	ready, err := s.catalog.IsReady(ctx, params.DatasetID)
	if err != nil {
		return models.ResearchJob{}, err
	}
	if !ready {
		return models.ResearchJob{}, catalog.ErrDatasetNotReady
	}

	job, err := s.repo.Create(ctx, models.ResearchJob{
		ID:                 uuid.NewString(),
		DatasetID:          params.DatasetID,
		MainQuestion:       params.Question,
		Verbose:            params.Verbose,
		MaxSubQuestions:    params.MaxSubQuestions,
		EnableCodePath:     params.EnableCodePath,
		EnableWorldContext: params.EnableWorldContext,
	})
	if err != nil {
		return models.ResearchJob{}, err
	}
	s.logger.Info().Str("job_id", job.ID).Str("dataset_id", job.DatasetID).Msg("Research job submitted")
	s.launch(job.ID)
	return job, nil
}

// GetStatus never blocks on the running job.
func (s *Service) GetStatus(ctx context.Context, jobID string) (models.ResearchJob, error) {
	return s.repo.Get(ctx, jobID)
}

func (s *Service) List(ctx context.Context, filter models.JobFilter) ([]models.JobSummary, error) {
	return s.repo.List(ctx, filter)
}

// Cancel sets the cancel flag. The running worker honors it at the next
// stage boundary; a still-pending job is cancelled before its first
// stage. Terminal jobs reject the request.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	return s.repo.RequestCancel(ctx, jobID)
}

func (s *Service) Delete(ctx context.Context, jobID string) error {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return repository.ErrConflict
	}
	return s.repo.Delete(ctx, jobID)
}

// RunSync executes the pipeline inline with no job record. Meant for
// small datasets and interactive use; the same job ceiling applies.
func (s *Service) RunSync(ctx context.Context, params SubmitParams) (*models.Report, error) {
	ready, err := s.catalog.IsReady(ctx, params.DatasetID)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, catalog.ErrDatasetNotReady
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	return s.pipeline.Run(runCtx, research.Request{
		DatasetID:          params.DatasetID,
		Question:           params.Question,
		Verbose:            params.Verbose,
		MaxSubQuestions:    params.MaxSubQuestions,
		EnableCodePath:     params.EnableCodePath,
		EnableWorldContext: params.EnableWorldContext,
	}, nil)
}
