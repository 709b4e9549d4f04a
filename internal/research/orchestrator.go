// Package research implements the multi-stage analysis pipeline: a main
// question is decomposed into sub-questions, each sub-question is
// classified onto an execution method, tasks run concurrently against
// the dataset, and the results are synthesized into a single report.
package research

import (
	"context"
	"time"

	"github.com/rnednur/felix-sub000/internal/catalog"
	"github.com/rnednur/felix-sub000/internal/config"
	"github.com/rnednur/felix-sub000/internal/llm"
	"github.com/rnednur/felix-sub000/internal/models"
	"github.com/rnednur/felix-sub000/internal/queryengine"
	"github.com/rnednur/felix-sub000/internal/sandbox"
	"github.com/rs/zerolog"
)

// Request carries everything one research run needs.
type Request struct {
	DatasetID          string
	Question           string
	Verbose            bool
	MaxSubQuestions    int
	EnableCodePath     bool
	EnableWorldContext bool
}

// Stage identifies a pipeline stage for progress reporting. Percents are
// fixed so that observed progress is monotonic across polls.
type Stage struct {
	Ordinal int
	Label   string
	Percent int
}

var (
	StageDecompose  = Stage{1, "Stage 1/7: Decomposing question into sub-questions", 10}
	StageClassify   = Stage{2, "Stage 2/7: Classifying sub-questions and mapping to schema", 20}
	StageExecute    = Stage{3, "Stage 3/7: Executing analysis tasks", 35}
	StageEnrich     = Stage{4, "Stage 4/7: Enriching with world knowledge", 55}
	StageSynthesize = Stage{5, "Stage 5/7: Synthesizing insights", 70}
	StageFollowUps  = Stage{6, "Stage 6/7: Generating follow-up questions", 80}
	StageVerbose    = Stage{7, "Stage 7/7: Writing detailed report sections", 90}
)

// ProgressFunc is called at every stage boundary. Returning an error
// aborts the run; this is the cooperative cancellation point.
type ProgressFunc func(stage Stage) error

// CodeExecutor is the sandbox surface the pipeline needs.
type CodeExecutor interface {
	Execute(ctx context.Context, datasetID, code string) (*sandbox.Output, *sandbox.ExecError)
}

type Orchestrator struct {
	llm      llm.Client
	catalog  catalog.Catalog
	engine   queryengine.Engine
	executor CodeExecutor
	cfg      config.ResearchConfig
	logger   zerolog.Logger
}

func NewOrchestrator(client llm.Client, cat catalog.Catalog, engine queryengine.Engine, executor CodeExecutor, cfg config.ResearchConfig, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		llm:      client,
		catalog:  cat,
		engine:   engine,
		executor: executor,
		cfg:      cfg,
		logger:   logger.With().Str("component", "research_orchestrator").Logger(),
	}
}

// subQuestionCeiling is the hard upper bound on decomposition breadth,
// applied after the configured limit.
const subQuestionCeiling = 20

func clampSubQuestions(requested, configured int) int {
	n := requested
	if n <= 0 || n > configured {
		n = configured
	}
	if n > subQuestionCeiling {
		n = subQuestionCeiling
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Run executes the full pipeline. Decomposition and synthesis failures
// are fatal; everything in between degrades into gaps in the report.
func (o *Orchestrator) Run(ctx context.Context, req Request, progress ProgressFunc) (*models.Report, error) {
	start := time.Now()
	if progress == nil {
		progress = func(Stage) error { return nil }
	}
	maxSub := clampSubQuestions(req.MaxSubQuestions, o.cfg.MaxSubQuestions)

	if err := progress(StageDecompose); err != nil {
		return nil, err
	}
	schema, err := o.catalog.GetSchema(ctx, req.DatasetID)
	if err != nil {
		return nil, &DecompositionError{Cause: err}
	}
	subQuestions, err := o.decompose(ctx, req.Question, schema, maxSub)
	if err != nil {
		return nil, err
	}
	o.logger.Info().Int("sub_questions", len(subQuestions)).Str("dataset_id", req.DatasetID).Msg("Question decomposed")

	if err := progress(StageClassify); err != nil {
		return nil, err
	}
	tasks, err := o.classify(ctx, subQuestions, schema, req.EnableCodePath)
	if err != nil {
		return nil, err
	}

	if err := progress(StageExecute); err != nil {
		return nil, err
	}
	records := o.executeAll(ctx, req.DatasetID, tasks)

	if err := progress(StageEnrich); err != nil {
		return nil, err
	}
	var knowledge []worldKnowledge
	if req.EnableWorldContext {
		knowledge = o.enrich(ctx, tasks, records)
	} else {
		o.logger.Debug().Msg("World knowledge enrichment disabled for this run")
	}

	if err := progress(StageSynthesize); err != nil {
		return nil, err
	}
	report, err := o.synthesize(ctx, req.Question, records, knowledge)
	if err != nil {
		return nil, err
	}

	if err := progress(StageFollowUps); err != nil {
		return nil, err
	}
	report.FollowUpQuestions = o.suggestFollowUps(ctx, req.Question, report)

	if req.Verbose {
		if err := progress(StageVerbose); err != nil {
			return nil, err
		}
		report.Verbose = o.verboseSections(ctx, req.Question, report, records)
	}

	report.ExecutionTimeSecs = time.Since(start).Seconds()
	o.logger.Info().
		Str("dataset_id", req.DatasetID).
		Int("answered", report.DataCoverage.QuestionsAnswered).
		Int("total", report.DataCoverage.TotalQuestions).
		Float64("elapsed_secs", report.ExecutionTimeSecs).
		Msg("Research run complete")
	return report, nil
}
