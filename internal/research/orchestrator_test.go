package research

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rnednur/felix-sub000/internal/config"
	"github.com/rnednur/felix-sub000/internal/models"
	"github.com/rnednur/felix-sub000/internal/sandbox"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// routerClient answers prompts by stage, keyed on prompt text.
type routerClient struct {
	mu        sync.Mutex
	overrides map[string]string // stage key -> response
	calls     map[string]int
}

func newRouterClient(overrides map[string]string) *routerClient {
	return &routerClient{overrides: overrides, calls: map[string]int{}}
}

func stageKey(prompt string) string {
	switch {
	case strings.Contains(prompt, "Decompose the user's question"):
		return "decompose"
	case strings.Contains(prompt, "Classify each sub-question"):
		return "classify"
	case strings.Contains(prompt, "Write a single SQL SELECT"):
		return "sql"
	case strings.Contains(prompt, "Write pandas code"):
		return "code"
	case strings.Contains(prompt, "Provide context and world knowledge"):
		return "enrich"
	case strings.Contains(prompt, "Synthesize a comprehensive answer"):
		return "synthesize"
	case strings.Contains(prompt, "suggest follow-up questions"):
		return "followups"
	case strings.Contains(prompt, "long-form version"):
		return "verbose"
	}
	return "unknown"
}

func (r *routerClient) Complete(ctx context.Context, prompt string) (string, error) {
	key := stageKey(prompt)
	r.mu.Lock()
	r.calls[key]++
	r.mu.Unlock()
	if resp, ok := r.overrides[key]; ok {
		return resp, nil
	}
	return defaultResponses[key], nil
}

var defaultResponses = map[string]string{
	"decompose": `{"sub_questions": [
		{"question": "What are total sales by region?", "intent_type": "descriptive", "desired_output": "table", "priority": 1},
		{"question": "How did sales trend by quarter?", "intent_type": "trend_analysis", "desired_output": "chart", "priority": 2},
		{"question": "What is a typical profit margin in retail?", "intent_type": "descriptive", "desired_output": "explanation", "priority": 3}
	]}`,
	"classify": `{"classifications": [
		{"question_number": 1, "category": "data_backed", "candidate_columns": ["region", "sales"], "feasibility": "high", "notes": "direct aggregation"},
		{"question_number": 2, "category": "data_backed", "candidate_columns": ["quarter", "sales"], "feasibility": "high", "notes": "group by quarter"},
		{"question_number": 3, "category": "world_knowledge", "feasibility": "high", "notes": "industry benchmark"}
	]}`,
	"sql":  "SELECT \"region\", SUM(\"sales\") AS total FROM dataset GROUP BY \"region\"",
	"code": "result = df.groupby('quarter')['sales'].sum()",
	"enrich": `{"knowledge": [
		{"question": "What is a typical profit margin in retail?", "answer": "Retail net margins typically run 2-5 percent.", "benchmarks": "2-5%", "concepts": ["net margin"]}
	]}`,
	"synthesize": `{"direct_answer": "The west region leads sales and growth is steady quarter over quarter.",
		"key_findings": ["West region accounts for the largest share of sales", "Sales grew each quarter"],
		"gaps": []}`,
	"followups": `{"follow_ups": [
		{"question": "Which products drive west region sales?", "rationale": "largest segment"},
		{"question": "Is quarterly growth seasonal?", "rationale": "trend context"}
	]}`,
	"verbose": `{"executive_summary": "Sales are healthy.", "methodology": "Decomposed into three analyses.",
		"detailed_findings": "West leads.", "cross_analysis": "Growth concentrated in west.",
		"limitations": ["single table"], "recommendations": ["investigate west"], "technical_appendix": "one SQL query, one pandas run"}`,
}

func testSchemaFixture() *models.Schema {
	return &models.Schema{
		DatasetID: "ds-1",
		RowCount:  5000,
		Columns: []models.Column{
			{Name: "region", Type: "string"},
			{Name: "quarter", Type: "string"},
			{Name: "sales", Type: "double"},
		},
	}
}

type fakeCatalog struct {
	schema *models.Schema
	err    error
}

func (f *fakeCatalog) GetSchema(ctx context.Context, datasetID string) (*models.Schema, error) {
	return f.schema, f.err
}

func (f *fakeCatalog) IsReady(ctx context.Context, datasetID string) (bool, error) {
	return f.err == nil, f.err
}

func newPipelineOrchestrator(client *routerClient, engine *fakeEngine, executor *fakeExecutor) *Orchestrator {
	return NewOrchestrator(client, &fakeCatalog{schema: testSchemaFixture()}, engine, executor,
		config.ResearchConfig{MaxSubQuestions: 10, ExecConcurrency: 5, SynthesisRetries: 1},
		zerolog.Nop())
}

func happyEngine() *fakeEngine {
	return &fakeEngine{fn: func(query string) (*models.Table, error) {
		return &models.Table{
			Columns:  []string{"region", "total"},
			Rows:     []map[string]any{{"region": "west", "total": 900.0}, {"region": "east", "total": 400.0}},
			RowCount: 2,
		}, nil
	}}
}

// executorSuccess stands in for a sandbox run that produced a scalar.
func executorSuccess(code string) (*sandbox.Output, *sandbox.ExecError) {
	v := 17.0
	return &sandbox.Output{Scalar: &v}, nil
}

func TestRun_HappyPath(t *testing.T) {
	client := newRouterClient(nil)
	executor := &fakeExecutor{fn: executorSuccess}
	o := newPipelineOrchestrator(client, happyEngine(), executor)

	var stages []Stage
	progress := func(s Stage) error {
		stages = append(stages, s)
		return nil
	}

	report, err := o.Run(context.Background(), Request{
		DatasetID:          "ds-1",
		Question:           "How are sales performing across regions and quarters?",
		EnableCodePath:     true,
		EnableWorldContext: true,
	}, progress)
	require.NoError(t, err)

	assert.Equal(t, "How are sales performing across regions and quarters?", report.MainQuestion)
	assert.NotEmpty(t, report.DirectAnswer)
	assert.NotEmpty(t, report.KeyFindings)
	require.Len(t, report.SupportingDetails, 3)
	assert.Equal(t, 3, report.DataCoverage.TotalQuestions)
	assert.Equal(t, 3, report.DataCoverage.QuestionsAnswered)
	assert.False(t, report.DataCoverage.LowConfidence)
	assert.Len(t, report.FollowUpQuestions, 2)
	assert.Nil(t, report.Verbose)

	// Percents strictly increase across observed stage boundaries.
	for i := 1; i < len(stages); i++ {
		assert.Greater(t, stages[i].Percent, stages[i-1].Percent)
	}
	assert.Equal(t, 1, stages[0].Ordinal)
	assert.Equal(t, 6, stages[len(stages)-1].Ordinal)
}

func TestRun_WorldKnowledgeFlipsPlaceholder(t *testing.T) {
	client := newRouterClient(nil)
	executor := &fakeExecutor{fn: executorSuccess}
	o := newPipelineOrchestrator(client, happyEngine(), executor)

	report, err := o.Run(context.Background(), Request{
		DatasetID:          "ds-1",
		Question:           "How are sales performing?",
		EnableCodePath:     false,
		EnableWorldContext: true,
	}, nil)
	require.NoError(t, err)

	var wkRecord *models.ExecutionRecord
	for i := range report.SupportingDetails {
		if report.SupportingDetails[i].Method == models.MethodWorldKnowledge {
			wkRecord = &report.SupportingDetails[i]
		}
	}
	require.NotNil(t, wkRecord)
	assert.True(t, wkRecord.Success)
	assert.Contains(t, wkRecord.Narrative, "2-5 percent")
}

func TestRun_WorldContextDisabledLeavesPlaceholder(t *testing.T) {
	client := newRouterClient(nil)
	executor := &fakeExecutor{fn: executorSuccess}
	o := newPipelineOrchestrator(client, happyEngine(), executor)

	report, err := o.Run(context.Background(), Request{
		DatasetID: "ds-1",
		Question:  "How are sales performing?",
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, client.calls["enrich"])

	for _, r := range report.SupportingDetails {
		if r.Method == models.MethodWorldKnowledge {
			assert.False(t, r.Success)
			assert.Equal(t, worldKnowledgePlaceholder, r.Error)
		}
	}
}

func TestRun_EngineOutageStillCompletes(t *testing.T) {
	client := newRouterClient(nil)
	brokenEngine := &fakeEngine{fn: func(query string) (*models.Table, error) {
		return nil, assert.AnError
	}}
	executor := &fakeExecutor{fn: executorSuccess}
	o := newPipelineOrchestrator(client, brokenEngine, executor)

	report, err := o.Run(context.Background(), Request{
		DatasetID:          "ds-1",
		Question:           "How are sales performing?",
		EnableWorldContext: false,
	}, nil)
	require.NoError(t, err, "an engine outage degrades coverage, it does not fail the run")

	assert.True(t, report.DataCoverage.LowConfidence)
	var found bool
	for _, gap := range report.DataCoverage.Gaps {
		if strings.Contains(gap, `Could not answer "What are total sales by region?"`) {
			found = true
		}
	}
	assert.True(t, found, "failed tasks must appear verbatim in the gaps")
}

func TestRun_DecompositionFailureIsFatal(t *testing.T) {
	client := newRouterClient(map[string]string{"decompose": "I cannot help with that."})
	o := newPipelineOrchestrator(client, happyEngine(), &fakeExecutor{fn: executorSuccess})

	_, err := o.Run(context.Background(), Request{DatasetID: "ds-1", Question: "q"}, nil)
	require.Error(t, err)
	var decompErr *DecompositionError
	assert.ErrorAs(t, err, &decompErr)
}

func TestRun_EmptyDecompositionIsFatal(t *testing.T) {
	client := newRouterClient(map[string]string{"decompose": `{"sub_questions": []}`})
	o := newPipelineOrchestrator(client, happyEngine(), &fakeExecutor{fn: executorSuccess})

	_, err := o.Run(context.Background(), Request{DatasetID: "ds-1", Question: "q"}, nil)
	require.Error(t, err)
	var decompErr *DecompositionError
	assert.ErrorAs(t, err, &decompErr)
}

func TestRun_SynthesisFailureAfterRetryIsFatal(t *testing.T) {
	client := newRouterClient(map[string]string{"synthesize": "not json at all"})
	o := newPipelineOrchestrator(client, happyEngine(), &fakeExecutor{fn: executorSuccess})

	_, err := o.Run(context.Background(), Request{DatasetID: "ds-1", Question: "q"}, nil)
	require.Error(t, err)
	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.NotEmpty(t, synthErr.Records, "records travel with the failure")
	assert.Equal(t, 2, client.calls["synthesize"], "one retry after the first failure")
}

func TestRun_ProgressErrorAbortsRun(t *testing.T) {
	client := newRouterClient(nil)
	o := newPipelineOrchestrator(client, happyEngine(), &fakeExecutor{fn: executorSuccess})

	progress := func(s Stage) error {
		if s.Ordinal == 3 {
			return context.Canceled
		}
		return nil
	}
	_, err := o.Run(context.Background(), Request{DatasetID: "ds-1", Question: "q"}, progress)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, client.calls["synthesize"], "no stage runs past the abort")
}

func TestRun_VerboseAddsSections(t *testing.T) {
	client := newRouterClient(nil)
	o := newPipelineOrchestrator(client, happyEngine(), &fakeExecutor{fn: executorSuccess})

	var sawVerbose bool
	progress := func(s Stage) error {
		if s.Ordinal == 7 {
			sawVerbose = true
		}
		return nil
	}
	report, err := o.Run(context.Background(), Request{
		DatasetID: "ds-1",
		Question:  "How are sales performing?",
		Verbose:   true,
	}, progress)
	require.NoError(t, err)
	require.NotNil(t, report.Verbose)
	assert.True(t, sawVerbose)
	assert.NotEmpty(t, report.Verbose.ExecutiveSummary)
	assert.NotEmpty(t, report.Verbose.Recommendations)
}

func TestClampSubQuestions(t *testing.T) {
	tests := []struct {
		name       string
		requested  int
		configured int
		want       int
	}{
		{"requested within limits", 5, 10, 5},
		{"zero falls back to configured", 0, 10, 10},
		{"requested above configured", 15, 10, 10},
		{"configured above hard ceiling", 0, 50, 20},
		{"requested above hard ceiling", 30, 50, 20},
		{"everything zero floors at one", 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampSubQuestions(tt.requested, tt.configured))
		})
	}
}
