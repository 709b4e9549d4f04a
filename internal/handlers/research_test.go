package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rnednur/felix-sub000/internal/catalog"
	"github.com/rnednur/felix-sub000/internal/config"
	"github.com/rnednur/felix-sub000/internal/handlers"
	"github.com/rnednur/felix-sub000/internal/jobs"
	"github.com/rnednur/felix-sub000/internal/models"
	"github.com/rnednur/felix-sub000/internal/notification"
	"github.com/rnednur/felix-sub000/internal/repository"
	"github.com/rnednur/felix-sub000/internal/research"
	"github.com/rnednur/felix-sub000/internal/routes"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	ready bool
	err   error
}

func (c *fakeCatalog) GetSchema(ctx context.Context, datasetID string) (*models.Schema, error) {
	return &models.Schema{DatasetID: datasetID}, nil
}

func (c *fakeCatalog) IsReady(ctx context.Context, datasetID string) (bool, error) {
	return c.ready, c.err
}

type fakePipeline struct {
	report *models.Report
	err    error
}

func (p *fakePipeline) Run(ctx context.Context, req research.Request, progress research.ProgressFunc) (*models.Report, error) {
	return p.report, p.err
}

type noopNotifier struct{}

func (noopNotifier) Publish(ctx context.Context, evt notification.Event) (models.Notification, error) {
	return models.Notification{}, nil
}
func (noopNotifier) NotifyResearchStarted(ctx context.Context, jobID, question string) {}
func (noopNotifier) NotifyResearchCompleted(ctx context.Context, jobID, question string, answered, total int) {
}
func (noopNotifier) NotifyResearchFailed(ctx context.Context, jobID, question, reason string) {}
func (noopNotifier) NotifyResearchCancelled(ctx context.Context, jobID, question string)      {}
func (noopNotifier) ListRecent(ctx context.Context, unreadOnly bool, limit int) ([]models.Notification, error) {
	return nil, nil
}
func (noopNotifier) MarkRead(ctx context.Context, notificationID string) error { return nil }

type testEnv struct {
	router http.Handler
	repo   repository.JobRepository
}

func newTestEnv(t *testing.T, cat *fakeCatalog, pipeline *fakePipeline) *testEnv {
	t.Helper()
	repo := repository.NewMemoryJobRepository()
	svc := jobs.NewService(repo, cat, pipeline, noopNotifier{}, config.ResearchConfig{JobTimeout: time.Minute}, zerolog.Nop())
	svc.SetLauncher(func(jobID string) {})

	researchHandler := handlers.NewResearchHandler(svc, zerolog.Nop())
	notificationHandler := handlers.NewNotificationHandler(noopNotifier{}, zerolog.Nop())
	return &testEnv{
		router: routes.NewRouter(researchHandler, notificationHandler),
		repo:   repo,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func submitBody() map[string]interface{} {
	return map[string]interface{}{
		"dataset_id": "ds-1",
		"question":   "What drives revenue?",
	}
}

func TestSubmitReturnsPendingJob(t *testing.T) {
	env := newTestEnv(t, &fakeCatalog{ready: true}, &fakePipeline{})

	rec := env.do(t, http.MethodPost, "/api/research", submitBody())
	require.Equal(t, http.StatusAccepted, rec.Code)

	var job models.ResearchJob
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, "ds-1", job.DatasetID)
	assert.True(t, job.EnableCodePath)
	assert.True(t, job.EnableWorldContext)
}

func TestSubmitValidatesPayload(t *testing.T) {
	env := newTestEnv(t, &fakeCatalog{ready: true}, &fakePipeline{})

	rec := env.do(t, http.MethodPost, "/api/research", map[string]interface{}{"dataset_id": "ds-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitDatasetNotReady(t *testing.T) {
	env := newTestEnv(t, &fakeCatalog{ready: false}, &fakePipeline{})

	rec := env.do(t, http.MethodPost, "/api/research", submitBody())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitDatasetNotFound(t *testing.T) {
	env := newTestEnv(t, &fakeCatalog{err: catalog.ErrDatasetNotFound}, &fakePipeline{})

	rec := env.do(t, http.MethodPost, "/api/research", submitBody())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusUnknownJob(t *testing.T) {
	env := newTestEnv(t, &fakeCatalog{ready: true}, &fakePipeline{})

	rec := env.do(t, http.MethodGet, "/api/research/no-such-job", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusReturnsSubmittedJob(t *testing.T) {
	env := newTestEnv(t, &fakeCatalog{ready: true}, &fakePipeline{})

	rec := env.do(t, http.MethodPost, "/api/research", submitBody())
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job models.ResearchJob
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))

	rec = env.do(t, http.MethodGet, "/api/research/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched models.ResearchJob
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fetched))
	assert.Equal(t, job.ID, fetched.ID)
	assert.Equal(t, models.JobStatusPending, fetched.Status)
}

func TestCancelIsIdempotentOnlyOnce(t *testing.T) {
	env := newTestEnv(t, &fakeCatalog{ready: true}, &fakePipeline{})

	rec := env.do(t, http.MethodPost, "/api/research", submitBody())
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job models.ResearchJob
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))

	rec = env.do(t, http.MethodPost, "/api/research/"+job.ID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Second cancel finds the flag already set.
	rec = env.do(t, http.MethodPost, "/api/research/"+job.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteOnlyTerminalJobs(t *testing.T) {
	env := newTestEnv(t, &fakeCatalog{ready: true}, &fakePipeline{})

	rec := env.do(t, http.MethodPost, "/api/research", submitBody())
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job models.ResearchJob
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))

	rec = env.do(t, http.MethodDelete, "/api/research/"+job.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	ctx := context.Background()
	require.NoError(t, env.repo.MarkRunning(ctx, job.ID))
	require.NoError(t, env.repo.MarkFailed(ctx, job.ID, "boom"))

	rec = env.do(t, http.MethodDelete, "/api/research/"+job.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/research/"+job.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFiltersByDataset(t *testing.T) {
	env := newTestEnv(t, &fakeCatalog{ready: true}, &fakePipeline{})

	for _, ds := range []string{"ds-1", "ds-1", "ds-2"} {
		body := submitBody()
		body["dataset_id"] = ds
		rec := env.do(t, http.MethodPost, "/api/research", body)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/research?dataset_id=ds-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Jobs []models.JobSummary `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	assert.Len(t, payload.Jobs, 2)
}

func TestRunSyncReturnsReport(t *testing.T) {
	pipeline := &fakePipeline{report: &models.Report{
		MainQuestion: "What drives revenue?",
		DirectAnswer: "Mostly the west region.",
	}}
	env := newTestEnv(t, &fakeCatalog{ready: true}, pipeline)

	rec := env.do(t, http.MethodPost, "/api/research/sync", submitBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, "Mostly the west region.", report.DirectAnswer)
}
