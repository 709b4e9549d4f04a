package research

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rnednur/felix-sub000/internal/config"
	"github.com/rnednur/felix-sub000/internal/models"
	"github.com/rnednur/felix-sub000/internal/sandbox"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls []string
	fn    func(query string) (*models.Table, error)
}

func (f *fakeEngine) Run(ctx context.Context, datasetID, query string) (*models.Table, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	f.mu.Unlock()
	return f.fn(query)
}

type fakeExecutor struct {
	fn func(code string) (*sandbox.Output, *sandbox.ExecError)
}

func (f *fakeExecutor) Execute(ctx context.Context, datasetID, code string) (*sandbox.Output, *sandbox.ExecError) {
	return f.fn(code)
}

func newExecOrchestrator(engine *fakeEngine, executor *fakeExecutor, concurrency int) *Orchestrator {
	return NewOrchestrator(nil, nil, engine, executor,
		config.ResearchConfig{MaxSubQuestions: 10, ExecConcurrency: concurrency, SynthesisRetries: 1},
		zerolog.Nop())
}

func queryTask(id, question, query string, priority int) models.AnalysisTask {
	return models.AnalysisTask{
		ID: id,
		SubQuestion: models.SubQuestion{
			ID: id, Question: question, IntentType: models.IntentDescriptive, Priority: priority,
		},
		Method: models.MethodStructuredQuery,
		Query:  query,
	}
}

func scalarTable(col string, v float64) *models.Table {
	return &models.Table{Columns: []string{col}, Rows: []map[string]any{{col: v}}, RowCount: 1}
}

func TestExecuteAll_PreservesInputOrder(t *testing.T) {
	engine := &fakeEngine{fn: func(query string) (*models.Table, error) {
		if query == "q-slow" {
			time.Sleep(50 * time.Millisecond)
		}
		return scalarTable("n", 1), nil
	}}
	o := newExecOrchestrator(engine, nil, 4)

	tasks := []models.AnalysisTask{
		queryTask("t1", "slow question", "q-slow", 1),
		queryTask("t2", "fast question", "q-fast", 1),
	}
	records := o.executeAll(context.Background(), "ds-1", tasks)

	require.Len(t, records, 2)
	assert.Equal(t, "t1", records[0].TaskID)
	assert.Equal(t, "t2", records[1].TaskID)
	assert.True(t, records[0].Success)
	assert.True(t, records[1].Success)
}

func TestExecuteAll_BoundedConcurrency(t *testing.T) {
	var inFlight, peak int64
	engine := &fakeEngine{fn: func(query string) (*models.Table, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return scalarTable("n", 1), nil
	}}
	o := newExecOrchestrator(engine, nil, 3)

	var tasks []models.AnalysisTask
	for i := 0; i < 10; i++ {
		tasks = append(tasks, queryTask(string(rune('a'+i)), "q", "SELECT 1", 1))
	}
	o.executeAll(context.Background(), "ds-1", tasks)

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3))
}

func TestExecuteAll_PriorityDispatchOrder(t *testing.T) {
	engine := &fakeEngine{fn: func(query string) (*models.Table, error) {
		return scalarTable("n", 1), nil
	}}
	o := newExecOrchestrator(engine, nil, 1)

	tasks := []models.AnalysisTask{
		queryTask("t1", "nice to have", "q-p3", 3),
		queryTask("t2", "critical", "q-p1", 1),
		queryTask("t3", "important", "q-p2", 2),
	}
	o.executeAll(context.Background(), "ds-1", tasks)

	assert.Equal(t, []string{"q-p1", "q-p2", "q-p3"}, engine.calls)
}

func TestExecuteAll_FaultIsolation(t *testing.T) {
	engine := &fakeEngine{fn: func(query string) (*models.Table, error) {
		if query == "q-bad" {
			return nil, assert.AnError
		}
		return scalarTable("n", 2), nil
	}}
	o := newExecOrchestrator(engine, nil, 2)

	tasks := []models.AnalysisTask{
		queryTask("t1", "good question", "q-good", 1),
		queryTask("t2", "bad question", "q-bad", 1),
		queryTask("t3", "another good one", "q-good", 1),
	}
	records := o.executeAll(context.Background(), "ds-1", tasks)

	assert.True(t, records[0].Success)
	assert.False(t, records[1].Success)
	assert.NotEmpty(t, records[1].Error)
	assert.True(t, records[2].Success)
}

func TestExecuteAll_PanicBecomesFailedRecord(t *testing.T) {
	executor := &fakeExecutor{fn: func(code string) (*sandbox.Output, *sandbox.ExecError) {
		panic("unexpected nil frame")
	}}
	o := newExecOrchestrator(&fakeEngine{fn: func(string) (*models.Table, error) {
		return scalarTable("n", 1), nil
	}}, executor, 2)

	tasks := []models.AnalysisTask{
		{
			ID:          "t1",
			SubQuestion: models.SubQuestion{ID: "t1", Question: "panics", Priority: 1},
			Method:      models.MethodGeneratedCode,
			Code:        "result = 1",
		},
		queryTask("t2", "survives", "SELECT 1", 1),
	}
	records := o.executeAll(context.Background(), "ds-1", tasks)

	assert.False(t, records[0].Success)
	assert.Contains(t, records[0].Error, "internal error")
	assert.True(t, records[1].Success)
}

func TestExecuteAll_InsufficientDataNeverExecutes(t *testing.T) {
	engine := &fakeEngine{fn: func(string) (*models.Table, error) {
		return scalarTable("n", 1), nil
	}}
	o := newExecOrchestrator(engine, nil, 2)

	tasks := []models.AnalysisTask{
		{
			ID:          "t1",
			SubQuestion: models.SubQuestion{ID: "t1", Question: "unanswerable", Priority: 1},
			Method:      models.MethodInsufficientData,
			Notes:       "no matching columns",
		},
	}
	records := o.executeAll(context.Background(), "ds-1", tasks)

	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, "no matching columns", records[0].Error)
	assert.Empty(t, engine.calls)
}

func TestExecuteAll_WorldKnowledgePlaceholder(t *testing.T) {
	o := newExecOrchestrator(&fakeEngine{fn: func(string) (*models.Table, error) {
		return scalarTable("n", 1), nil
	}}, nil, 2)

	tasks := []models.AnalysisTask{
		{
			ID:          "t1",
			SubQuestion: models.SubQuestion{ID: "t1", Question: "what is a typical churn rate", Priority: 1},
			Method:      models.MethodWorldKnowledge,
		},
	}
	records := o.executeAll(context.Background(), "ds-1", tasks)

	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, worldKnowledgePlaceholder, records[0].Error)
}

func TestExecuteOne_ScalarFromSingleCellTable(t *testing.T) {
	engine := &fakeEngine{fn: func(string) (*models.Table, error) {
		return scalarTable("total", 1234.5), nil
	}}
	o := newExecOrchestrator(engine, nil, 1)

	record := o.executeOne(context.Background(), "ds-1", queryTask("t1", "total sales", "SELECT SUM(s) FROM dataset", 1))
	require.True(t, record.Success)
	require.NotNil(t, record.Scalar)
	assert.Equal(t, 1234.5, *record.Scalar)
}

func TestExecuteOne_CodeErrorKindRecorded(t *testing.T) {
	executor := &fakeExecutor{fn: func(code string) (*sandbox.Output, *sandbox.ExecError) {
		return nil, &sandbox.ExecError{Kind: sandbox.ErrKindTimeout, Message: "execution exceeded 120s", Attempts: 1}
	}}
	o := newExecOrchestrator(nil, executor, 1)

	record := o.executeOne(context.Background(), "ds-1", models.AnalysisTask{
		ID:          "t1",
		SubQuestion: models.SubQuestion{ID: "t1", Question: "forecast", Priority: 1},
		Method:      models.MethodGeneratedCode,
		Code:        "result = 1",
	})
	assert.False(t, record.Success)
	assert.Equal(t, sandbox.ErrKindTimeout, record.ErrorKind)
}
