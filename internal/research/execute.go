package research

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rnednur/felix-sub000/internal/models"
)

// worldKnowledgePlaceholder marks records that await enrichment.
const worldKnowledgePlaceholder = "requires external context"

// executeAll runs every task through a bounded worker pool. Dispatch
// order follows (priority, declaration order); result order always
// matches the input task order regardless of completion order. A panic
// or error in one task becomes a failed record for that task only.
func (o *Orchestrator) executeAll(ctx context.Context, datasetID string, tasks []models.AnalysisTask) []models.ExecutionRecord {
	records := make([]models.ExecutionRecord, len(tasks))

	type item struct {
		task    models.AnalysisTask
		origIdx int
	}
	var runnable []item
	for i, task := range tasks {
		switch task.Method {
		case models.MethodInsufficientData:
			// Never executed.
			reason := task.Notes
			if reason == "" {
				reason = "insufficient data to answer this question"
			}
			records[i] = models.ExecutionRecord{
				TaskID:   task.ID,
				Question: task.SubQuestion.Question,
				Method:   task.Method,
				Success:  false,
				Error:    reason,
			}
		case models.MethodWorldKnowledge:
			// Placeholder until the enrichment stage answers it.
			records[i] = models.ExecutionRecord{
				TaskID:   task.ID,
				Question: task.SubQuestion.Question,
				Method:   task.Method,
				Success:  false,
				Error:    worldKnowledgePlaceholder,
			}
		default:
			runnable = append(runnable, item{task: task, origIdx: i})
		}
	}

	sort.SliceStable(runnable, func(a, b int) bool {
		return runnable[a].task.SubQuestion.Priority < runnable[b].task.SubQuestion.Priority
	})

	concurrency := o.cfg.ExecConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	work := make(chan item)
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range work {
				records[it.origIdx] = o.executeOne(ctx, datasetID, it.task)
			}
		}()
	}
	for _, it := range runnable {
		work <- it
	}
	close(work)
	wg.Wait()

	return records
}

// executeOne runs a single data-backed task. It never lets a failure
// escape: panics and errors both land in the record.
func (o *Orchestrator) executeOne(ctx context.Context, datasetID string, task models.AnalysisTask) (record models.ExecutionRecord) {
	start := time.Now()
	record = models.ExecutionRecord{
		TaskID:   task.ID,
		Question: task.SubQuestion.Question,
		Method:   task.Method,
	}
	defer func() {
		record.ExecutionTimeMs = time.Since(start).Milliseconds()
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Str("task_id", task.ID).Msg("Task execution panicked")
			record.Success = false
			record.Error = fmt.Sprintf("internal error: %v", r)
		}
	}()

	switch task.Method {
	case models.MethodStructuredQuery:
		table, err := o.engine.Run(ctx, datasetID, task.Query)
		if err != nil {
			record.Error = err.Error()
			return record
		}
		record.Success = true
		record.Table = table
		if scalar, ok := singleScalar(table); ok {
			record.Scalar = &scalar
		}

	case models.MethodGeneratedCode:
		out, execErr := o.executor.Execute(ctx, datasetID, task.Code)
		if execErr != nil {
			record.Error = execErr.Message
			record.ErrorKind = execErr.Kind
			return record
		}
		record.Success = true
		record.Table = out.Table
		record.Scalar = out.Scalar
		record.Narrative = out.Narrative
		record.Visualizations = out.Visualizations
	}
	return record
}

// singleScalar extracts the value of a 1x1 numeric result table.
func singleScalar(table *models.Table) (float64, bool) {
	if table == nil || len(table.Rows) != 1 || len(table.Columns) != 1 {
		return 0, false
	}
	v, ok := table.Rows[0][table.Columns[0]]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
