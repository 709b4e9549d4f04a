package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rnednur/felix-sub000/internal/models"
)

// memoryJobRepository is a map-backed JobRepository with the same
// transition guards as the postgres one. Used by tests and available for
// single-node deployments without a database.
type memoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]models.ResearchJob
}

func NewMemoryJobRepository() JobRepository {
	return &memoryJobRepository{jobs: map[string]models.ResearchJob{}}
}

func (r *memoryJobRepository) Create(ctx context.Context, job models.ResearchJob) (models.ResearchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.Status = models.JobStatusPending
	job.CreatedAt = time.Now().UTC()
	r.jobs[job.ID] = job
	return job, nil
}

func (r *memoryJobRepository) Get(ctx context.Context, id string) (models.ResearchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.ResearchJob{}, ErrNotFound
	}
	return job, nil
}

func (r *memoryJobRepository) List(ctx context.Context, filter models.JobFilter) ([]models.JobSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []models.ResearchJob
	for _, job := range r.jobs {
		if filter.DatasetID != "" && job.DatasetID != filter.DatasetID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !matchesSearch(job, filter.Search) {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(a, b int) bool {
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var summaries []models.JobSummary
	for i, job := range matched {
		if i < filter.Offset {
			continue
		}
		if len(summaries) >= limit {
			break
		}
		s := models.JobSummary{
			ID:                 job.ID,
			DatasetID:          job.DatasetID,
			MainQuestion:       job.MainQuestion,
			Status:             job.Status,
			ProgressPercentage: job.ProgressPercentage,
			CreatedAt:          job.CreatedAt,
			CompletedAt:        job.CompletedAt,
		}
		if job.Result != nil {
			s.DirectAnswer = truncate(job.Result.DirectAnswer, 240)
			s.KeyFindingsCount = len(job.Result.KeyFindings)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func matchesSearch(job models.ResearchJob, search string) bool {
	needle := strings.ToLower(search)
	if strings.Contains(strings.ToLower(job.MainQuestion), needle) {
		return true
	}
	return job.Result != nil && strings.Contains(strings.ToLower(job.Result.DirectAnswer), needle)
}

func (r *memoryJobRepository) MarkRunning(ctx context.Context, id string) error {
	return r.update(id, func(job *models.ResearchJob) error {
		if job.Status != models.JobStatusPending {
			return ErrConflict
		}
		now := time.Now().UTC()
		job.Status = models.JobStatusRunning
		job.StartedAt = &now
		return nil
	})
}

func (r *memoryJobRepository) UpdateProgress(ctx context.Context, id string, stageOrdinal int, stageLabel string, percent int) error {
	return r.update(id, func(job *models.ResearchJob) error {
		if job.Status.Terminal() || job.ProgressPercentage > percent {
			return nil
		}
		job.StageOrdinal = stageOrdinal
		job.CurrentStage = stageLabel
		job.ProgressPercentage = percent
		return nil
	})
}

func (r *memoryJobRepository) MarkCompleted(ctx context.Context, id string, report *models.Report) error {
	return r.update(id, func(job *models.ResearchJob) error {
		if job.Status.Terminal() {
			return ErrConflict
		}
		now := time.Now().UTC()
		job.Status = models.JobStatusCompleted
		job.Result = report
		job.ProgressPercentage = 100
		job.CompletedAt = &now
		return nil
	})
}

func (r *memoryJobRepository) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	return r.update(id, func(job *models.ResearchJob) error {
		if job.Status.Terminal() {
			return ErrConflict
		}
		now := time.Now().UTC()
		job.Status = models.JobStatusFailed
		job.ErrorMessage = &errorMessage
		job.CompletedAt = &now
		return nil
	})
}

func (r *memoryJobRepository) MarkCancelled(ctx context.Context, id string) error {
	return r.update(id, func(job *models.ResearchJob) error {
		if job.Status.Terminal() {
			return ErrConflict
		}
		now := time.Now().UTC()
		job.Status = models.JobStatusCancelled
		job.CompletedAt = &now
		return nil
	})
}

func (r *memoryJobRepository) RequestCancel(ctx context.Context, id string) error {
	return r.update(id, func(job *models.ResearchJob) error {
		if job.Status.Terminal() || job.CancelRequested {
			return ErrConflict
		}
		job.CancelRequested = true
		return nil
	})
}

func (r *memoryJobRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	return job.CancelRequested, nil
}

func (r *memoryJobRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrConflict
	}
	delete(r.jobs, id)
	return nil
}

func (r *memoryJobRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, job := range r.jobs {
		if job.Status.Terminal() && job.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (r *memoryJobRepository) update(id string, fn func(*models.ResearchJob) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&job); err != nil {
		return err
	}
	r.jobs[id] = job
	return nil
}
