package research

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rnednur/felix-sub000/internal/llm"
	"github.com/rnednur/felix-sub000/internal/models"
)

var verboseSchema = llm.MustCompileSchema("verbose.json", `{
	"type": "object",
	"required": ["executive_summary", "methodology", "detailed_findings"],
	"properties": {
		"executive_summary": {"type": "string"},
		"methodology": {"type": "string"},
		"detailed_findings": {"type": "string"},
		"cross_analysis": {"type": "string"},
		"limitations": {"type": "array", "items": {"type": "string"}},
		"recommendations": {"type": "array", "items": {"type": "string"}},
		"technical_appendix": {"type": "string"}
	}
}`)

const verbosePrompt = `You are a senior analyst writing the long-form version of a research report.

Main Question: %s

Direct Answer: %s

Key Findings:
%s

Execution Summary:
%s

Write the following sections:
1. executive_summary: One paragraph for a non-technical reader
2. methodology: How the question was decomposed and analyzed
3. detailed_findings: Prose walk-through of every finding with numbers
4. cross_analysis: Relationships and contrasts across the findings
5. limitations: Bullet list of caveats and data gaps
6. recommendations: Bullet list of concrete next actions
7. technical_appendix: Queries, methods, and failures worth recording

Return as JSON with keys executive_summary, methodology, detailed_findings, cross_analysis, limitations, recommendations, technical_appendix.`

// verboseSections is best effort like follow-ups: if the model cannot
// produce the long-form sections, the standard report stands alone.
func (o *Orchestrator) verboseSections(ctx context.Context, question string, report *models.Report, records []models.ExecutionRecord) *models.VerboseSections {
	findings, _ := json.Marshal(report.KeyFindings)
	prompt := fmt.Sprintf(verbosePrompt, question, report.DirectAnswer, findings, summarizeRecords(records))

	var sections models.VerboseSections
	if err := llm.CompleteJSON(ctx, o.llm, prompt, verboseSchema, &sections); err != nil {
		o.logger.Warn().Err(err).Msg("Verbose section generation failed, returning standard report only")
		return nil
	}
	return &sections
}
