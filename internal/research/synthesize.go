package research

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rnednur/felix-sub000/internal/llm"
	"github.com/rnednur/felix-sub000/internal/models"
)

var synthesisSchema = llm.MustCompileSchema("synthesis.json", `{
	"type": "object",
	"required": ["direct_answer", "key_findings"],
	"properties": {
		"direct_answer": {"type": "string", "minLength": 1},
		"key_findings": {"type": "array", "items": {"type": "string"}},
		"gaps": {"type": "array", "items": {"type": "string"}}
	}
}`)

const synthesisPrompt = `You are a senior data analyst. Synthesize a comprehensive answer to the main question.

Main Question: %s

Analysis Results:
%s

World Knowledge Context:
%s

Data Coverage:
- Tasks answered: %d of %d
- Methods used: %s

Task: Create a synthesis with:
1. direct_answer: 2-3 sentence direct answer to the main question
2. key_findings: 5-7 bullet points with specific numbers and insights
3. gaps: List of data gaps that limited the analysis

Base findings only on the analysis results and knowledge context above. Do not invent numbers.

Return as JSON:
{
  "direct_answer": "...",
  "key_findings": ["finding 1", "finding 2"],
  "gaps": ["gap 1"]
}`

// synthesize produces the final report. One retry is allowed; after
// that the run fails with the execution records attached.
func (o *Orchestrator) synthesize(ctx context.Context, question string, records []models.ExecutionRecord, knowledge []worldKnowledge) (*models.Report, error) {
	knowledgeJSON := "none"
	if len(knowledge) > 0 {
		if b, err := json.Marshal(knowledge); err == nil {
			knowledgeJSON = string(b)
		}
	}
	coverage := buildCoverage(records)
	prompt := fmt.Sprintf(synthesisPrompt,
		question,
		summarizeRecords(records),
		knowledgeJSON,
		coverage.QuestionsAnswered,
		coverage.TotalQuestions,
		strings.Join(coverage.MethodsUsed, ", "),
	)

	var parsed struct {
		DirectAnswer string   `json:"direct_answer"`
		KeyFindings  []string `json:"key_findings"`
		Gaps         []string `json:"gaps"`
	}
	var lastErr error
	for attempt := 0; attempt <= o.cfg.SynthesisRetries; attempt++ {
		lastErr = llm.CompleteJSON(ctx, o.llm, prompt, synthesisSchema, &parsed)
		if lastErr == nil {
			break
		}
		o.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("Synthesis attempt failed")
	}
	if lastErr != nil {
		return nil, &SynthesisError{Cause: lastErr, Records: records}
	}

	coverage.Gaps = append(coverage.Gaps, parsed.Gaps...)

	report := &models.Report{
		MainQuestion:      question,
		DirectAnswer:      parsed.DirectAnswer,
		KeyFindings:       parsed.KeyFindings,
		SupportingDetails: records,
		DataCoverage:      coverage,
	}
	for _, r := range records {
		report.Visualizations = append(report.Visualizations, r.Visualizations...)
	}
	return report, nil
}

// gapFor is the canonical gap line for an unanswered sub-question.
func gapFor(r models.ExecutionRecord) string {
	return fmt.Sprintf("Could not answer %q: %s", r.Question, r.Error)
}

// buildCoverage derives coverage counts and gap lines from the records.
// Low confidence means the report rests on no successful data-backed
// task at all.
func buildCoverage(records []models.ExecutionRecord) models.DataCoverage {
	coverage := models.DataCoverage{TotalQuestions: len(records)}
	methods := map[string]bool{}
	dataBacked := 0
	for _, r := range records {
		if r.Success {
			coverage.QuestionsAnswered++
			methods[string(r.Method)] = true
			if r.Method == models.MethodStructuredQuery || r.Method == models.MethodGeneratedCode {
				dataBacked++
			}
		} else {
			coverage.Gaps = append(coverage.Gaps, gapFor(r))
		}
	}
	for m := range methods {
		coverage.MethodsUsed = append(coverage.MethodsUsed, m)
	}
	sort.Strings(coverage.MethodsUsed)
	coverage.LowConfidence = dataBacked == 0
	return coverage
}

func summarizeRecords(records []models.ExecutionRecord) string {
	var b strings.Builder
	for i, r := range records {
		if r.Success {
			fmt.Fprintf(&b, "%d. [ok] %s (%s)\n", i+1, r.Question, r.Method)
			if detail := recordDetail(r); detail != "" {
				fmt.Fprintf(&b, "   Result: %s\n", detail)
			}
		} else {
			fmt.Fprintf(&b, "%d. [failed] %s - %s\n", i+1, r.Question, r.Error)
		}
	}
	return b.String()
}

const recordDetailCap = 400

func recordDetail(r models.ExecutionRecord) string {
	switch {
	case r.Scalar != nil:
		return fmt.Sprintf("%g", *r.Scalar)
	case r.Table != nil:
		b, err := json.Marshal(r.Table.Rows)
		if err != nil {
			return ""
		}
		s := fmt.Sprintf("%d rows, preview: %s", r.Table.RowCount, b)
		if len(s) > recordDetailCap {
			s = s[:recordDetailCap]
		}
		return s
	case r.Narrative != "":
		s := r.Narrative
		if len(s) > recordDetailCap {
			s = s[:recordDetailCap]
		}
		return s
	}
	return ""
}
